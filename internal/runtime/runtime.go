// Package runtime orchestrates aiconfig execution: prompt resolution,
// provider dispatch through the parser registry, dependency-ordered runs,
// and persistence, with lifecycle events on a callback bus.
package runtime

import (
	"context"
	"fmt"
	"os"

	"github.com/lastmile-ai/aiconfig-sub000/internal/aiconfig"
	"github.com/lastmile-ai/aiconfig-sub000/internal/logger"
	"github.com/lastmile-ai/aiconfig-sub000/internal/model"
)

// RunError reports which prompt failed during a dependency-ordered run.
type RunError struct {
	PromptName string
	Err        error
}

func (e *RunError) Error() string { return fmt.Sprintf("prompt %s: %v", e.PromptName, e.Err) }
func (e *RunError) Unwrap() error { return e.Err }

// Runtime binds one configuration to a parser registry and callback bus.
type Runtime struct {
	Config    *aiconfig.Config
	Registry  *model.Registry
	Callbacks *model.CallbackManager

	// FilePath is the bound persistence path, "" when unbound.
	FilePath string
}

// New wraps an existing configuration. A nil registry means the
// process-wide default.
func New(cfg *aiconfig.Config, reg *model.Registry) *Runtime {
	if reg == nil {
		reg = model.Default()
	}
	return &Runtime{Config: cfg, Registry: reg, Callbacks: model.NewCallbackManager()}
}

// Create makes a runtime over a fresh empty configuration.
func Create(name string, reg *model.Registry) *Runtime {
	return New(aiconfig.New(name), reg)
}

// LoadFile reads a configuration from disk and validates its parser
// bindings against the registry; a binding to an unregistered parser fails
// the load.
func LoadFile(path string, reg *model.Registry) (*Runtime, error) {
	cfg, err := aiconfig.LoadFile(path)
	if err != nil {
		return nil, err
	}
	rt := New(cfg, reg)
	if err := rt.Registry.ValidateConfigBindings(cfg); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	rt.FilePath = path
	return rt, nil
}

// Resolve produces the provider call payload for a prompt without running
// it.
func (rt *Runtime) Resolve(ctx context.Context, promptName string, params map[string]any) (map[string]any, error) {
	prompt, err := rt.Config.MustPrompt(promptName)
	if err != nil {
		return nil, err
	}
	parser, err := rt.Registry.ForPrompt(prompt, rt.Config)
	if err != nil {
		return nil, err
	}

	rt.Callbacks.Run("on_deserialize_start", "runtime", map[string]any{"prompt": promptName})
	payload, err := parser.Deserialize(ctx, prompt, rt.Config, params)
	if err != nil {
		return nil, err
	}
	rt.Callbacks.Run("on_deserialize_complete", "runtime", map[string]any{"prompt": promptName})
	return payload, nil
}

// Run executes one prompt, or its whole upstream dependency graph first
// when withDependencies is set. The produced outputs are stored on the
// prompt and returned.
func (rt *Runtime) Run(ctx context.Context, promptName string, params map[string]any, opts *model.InferenceOptions, withDependencies bool) ([]aiconfig.Output, error) {
	prompt, err := rt.Config.MustPrompt(promptName)
	if err != nil {
		return nil, err
	}
	if withDependencies {
		return rt.runWithDependencies(ctx, prompt, params, opts)
	}
	return rt.runOne(ctx, prompt, params, opts)
}

func (rt *Runtime) runOne(ctx context.Context, prompt *aiconfig.Prompt, params map[string]any, opts *model.InferenceOptions) ([]aiconfig.Output, error) {
	parser, err := rt.Registry.ForPrompt(prompt, rt.Config)
	if err != nil {
		return nil, err
	}

	rt.Callbacks.Run("on_run_start", "runtime", map[string]any{"prompt": prompt.Name})
	outputs, err := parser.Run(ctx, prompt, rt.Config, opts, params)
	if err != nil {
		return nil, err
	}
	rt.Callbacks.Run("on_run_complete", "runtime", map[string]any{"prompt": prompt.Name, "outputs": len(outputs)})
	return outputs, nil
}

// runWithDependencies runs every upstream prompt exactly once in
// post-order before the root, so intermediate results are visible to
// dependents through the parameter scope.
func (rt *Runtime) runWithDependencies(ctx context.Context, root *aiconfig.Prompt, params map[string]any, opts *model.InferenceOptions) ([]aiconfig.Output, error) {
	graph, err := model.DependencyGraph(rt.Registry, rt.Config, root)
	if err != nil {
		return nil, err
	}

	ran := map[string]bool{}
	var visit func(name string) error
	visit = func(name string) error {
		if ran[name] {
			return nil
		}
		ran[name] = true
		for _, dep := range graph[name] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		p, err := rt.Config.MustPrompt(name)
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		logger.Debug("running dependency %s of %s", name, root.Name)
		// intermediate runs never stream
		if _, err := rt.runOne(ctx, p, params, nil); err != nil {
			return &RunError{PromptName: name, Err: err}
		}
		return nil
	}
	if err := visit(root.Name); err != nil {
		return nil, err
	}
	return rt.runOne(ctx, root, params, opts)
}

// Serialize converts provider call data into prompts via the parser
// registered under modelName.
func (rt *Runtime) Serialize(ctx context.Context, modelName string, data map[string]any, promptName string, params map[string]any) ([]*aiconfig.Prompt, error) {
	parser, err := rt.Registry.Get(modelName)
	if err != nil {
		return nil, err
	}
	rt.Callbacks.Run("on_serialize_start", "runtime", map[string]any{"model": modelName, "prompt": promptName})
	prompts, err := parser.Serialize(ctx, promptName, data, rt.Config, params)
	if err != nil {
		return nil, err
	}
	rt.Callbacks.Run("on_serialize_complete", "runtime", map[string]any{"model": modelName, "prompts": len(prompts)})
	return prompts, nil
}

// Save writes the configuration to path (or the bound path when empty) and
// remembers the binding.
func (rt *Runtime) Save(path string, includeOutputs bool) error {
	if path == "" {
		path = rt.FilePath
	}
	if path == "" {
		return fmt.Errorf("no path bound to this configuration")
	}
	if err := rt.Config.SaveFile(path, includeOutputs); err != nil {
		return err
	}
	rt.FilePath = path
	return nil
}

// LoadOrCreate binds a runtime to path: load when the file exists, else
// create a fresh configuration and save it there.
func LoadOrCreate(path string, name string, reg *model.Registry) (*Runtime, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path, reg)
		}
	}
	rt := Create(name, reg)
	rt.FilePath = path
	if path != "" {
		if err := rt.Save(path, true); err != nil {
			return nil, err
		}
	}
	return rt, nil
}
