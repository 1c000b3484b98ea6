package model

import (
	"github.com/lastmile-ai/aiconfig-sub000/internal/aiconfig"
	"github.com/lastmile-ai/aiconfig-sub000/internal/template"
)

// PromptScope composes the effective parameter scope for resolving one
// prompt's template. Precedence, lowest to highest: earlier-prompt
// input/output references, configuration globals, prompt-local parameters,
// call-time parameters.
func PromptScope(reg *Registry, cfg *aiconfig.Config, prompt *aiconfig.Prompt, callParams map[string]any) (map[string]any, error) {
	target := cfg.PromptIndexOf(prompt.Name)

	refs := map[string]any{}
	for i, earlier := range cfg.Prompts {
		if target >= 0 && i >= target {
			break
		}
		scope := mergeScopes(refs, cfg.Metadata.Parameters, earlier.Parameters(), nil)
		resolved, err := template.Resolve(promptTemplateFor(reg, cfg, earlier), scope)
		if err != nil {
			return nil, err
		}
		var outputText any
		if out := aiconfig.LatestOutput(earlier); out != nil {
			text, err := outputTextFor(reg, cfg, earlier, out)
			if err != nil {
				return nil, err
			}
			outputText = text
		}
		refs[earlier.Name] = map[string]any{"input": resolved, "output": outputText}
	}

	return mergeScopes(refs, cfg.Metadata.Parameters, prompt.Parameters(), callParams), nil
}

// ResolvePrompt resolves the prompt's template against its effective
// scope.
func ResolvePrompt(reg *Registry, cfg *aiconfig.Config, prompt *aiconfig.Prompt, callParams map[string]any) (string, error) {
	scope, err := PromptScope(reg, cfg, prompt, callParams)
	if err != nil {
		return "", err
	}
	return template.Resolve(promptTemplateFor(reg, cfg, prompt), scope)
}

// ResolveText substitutes parameters into an arbitrary template string
// using the prompt's effective scope.
func ResolveText(reg *Registry, cfg *aiconfig.Config, prompt *aiconfig.Prompt, callParams map[string]any, text string) (string, error) {
	scope, err := PromptScope(reg, cfg, prompt, callParams)
	if err != nil {
		return "", err
	}
	return template.Resolve(text, scope)
}

// promptTemplateFor asks the prompt's parser for its template, falling
// back to the base rule when no parser resolves.
func promptTemplateFor(reg *Registry, cfg *aiconfig.Config, prompt *aiconfig.Prompt) string {
	if parser, err := reg.ForPrompt(prompt, cfg); err == nil {
		return parser.PromptTemplate(prompt)
	}
	return BasePromptTemplate(prompt)
}

func outputTextFor(reg *Registry, cfg *aiconfig.Config, prompt *aiconfig.Prompt, out aiconfig.Output) (string, error) {
	parser, err := reg.ForPrompt(prompt, cfg)
	if err != nil {
		return "", err
	}
	return parser.OutputText(prompt, cfg, out)
}

// mergeScopes overlays maps left to right; later maps win on conflict.
func mergeScopes(layers ...map[string]any) map[string]any {
	merged := map[string]any{}
	for _, layer := range layers {
		for k, v := range layer {
			merged[k] = v
		}
	}
	return merged
}
