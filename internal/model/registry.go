package model

import (
	"fmt"
	"sort"
	"sync"

	"github.com/lastmile-ai/aiconfig-sub000/internal/aiconfig"
)

// Registry maps model ids to parsers. The process-wide default registry is
// mutated only during boot; at run time it is effectively read-only.
type Registry struct {
	mu      sync.RWMutex
	parsers map[string]Parser
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{parsers: map[string]Parser{}}
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry { return defaultRegistry }

// Register binds the parser under each id, or under parser.ID() when no
// ids are given.
func (r *Registry) Register(p Parser, ids ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(ids) == 0 {
		ids = []string{p.ID()}
	}
	for _, id := range ids {
		r.parsers[id] = p
	}
}

// Get returns the parser bound to id.
func (r *Registry) Get(id string) (Parser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.parsers[id]; ok {
		return p, nil
	}
	return nil, &UnknownModelError{ID: id}
}

// ForPrompt resolves the prompt's effective model name and returns its
// parser. A per-configuration model_parsers binding takes priority over
// the model name itself, without mutating the registry.
func (r *Registry) ForPrompt(prompt *aiconfig.Prompt, cfg *aiconfig.Config) (Parser, error) {
	name, err := cfg.ModelNameForPrompt(prompt)
	if err != nil {
		return nil, err
	}
	if parserID, ok := cfg.Metadata.ModelParsers[name]; ok {
		return r.Get(parserID)
	}
	return r.Get(name)
}

// ValidateConfigBindings checks that every model_parsers value resolves to
// a registered parser. Called at configuration load; a miss fails the
// load.
func (r *Registry) ValidateConfigBindings(cfg *aiconfig.Config) error {
	for modelID, parserID := range cfg.Metadata.ModelParsers {
		if _, err := r.Get(parserID); err != nil {
			return fmt.Errorf("model_parsers[%s]: %w", modelID, err)
		}
	}
	return nil
}

// Remove unbinds an id.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.parsers, id)
}

// Clear unbinds everything.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers = map[string]Parser{}
}

// IDs lists the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.parsers))
	for id := range r.parsers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
