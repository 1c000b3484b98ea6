package model

import (
	"sort"

	"github.com/lastmile-ai/aiconfig-sub000/internal/aiconfig"
	"github.com/lastmile-ai/aiconfig-sub000/internal/template"
)

// DependencyGraph maps each reachable prompt to its direct upstream
// dependencies, computed by DFS from root. Only references to prompts that
// appear strictly earlier in the sequence count, so the graph is acyclic
// by construction. Prompts with no dependencies are not keys.
func DependencyGraph(reg *Registry, cfg *aiconfig.Config, root *aiconfig.Prompt) (map[string][]string, error) {
	graph := map[string][]string{}
	visited := map[string]bool{}

	var visit func(p *aiconfig.Prompt) error
	visit = func(p *aiconfig.Prompt) error {
		if visited[p.Name] {
			return nil
		}
		visited[p.Name] = true

		deps, err := directDependencies(reg, cfg, p)
		if err != nil {
			return err
		}
		if len(deps) == 0 {
			return nil
		}
		graph[p.Name] = deps
		for _, dep := range deps {
			upstream, ok := cfg.Prompt(dep)
			if !ok {
				continue
			}
			if err := visit(upstream); err != nil {
				return err
			}
		}
		return nil
	}

	if err := visit(root); err != nil {
		return nil, err
	}
	return graph, nil
}

// directDependencies extracts referenced names from the prompt's template
// and keeps those naming strictly earlier prompts, ordered by sequence
// position.
func directDependencies(reg *Registry, cfg *aiconfig.Config, p *aiconfig.Prompt) ([]string, error) {
	names, err := template.ExtractNames(promptTemplateFor(reg, cfg, p))
	if err != nil {
		return nil, err
	}
	self := cfg.PromptIndexOf(p.Name)
	var deps []string
	for name := range names {
		ref := cfg.PromptIndexOf(name)
		if ref >= 0 && ref < self {
			deps = append(deps, name)
		}
	}
	sort.Slice(deps, func(i, j int) bool {
		return cfg.PromptIndexOf(deps[i]) < cfg.PromptIndexOf(deps[j])
	})
	return deps, nil
}
