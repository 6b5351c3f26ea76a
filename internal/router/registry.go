package router

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Registry resolves a Bridge by name, so the orchestrator can depend on
// a name rather than a concrete type.
type Registry struct {
	mu      sync.RWMutex
	bridges map[string]Bridge
	log     zerolog.Logger
}

// NewRegistry constructs an empty registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		bridges: make(map[string]Bridge),
		log:     log,
	}
}

// Register adds a named bridge, rejecting duplicates.
func (r *Registry) Register(name string, bridge Bridge) error {
	if name == "" {
		return fmt.Errorf("router: bridge name cannot be empty")
	}
	if bridge == nil {
		return fmt.Errorf("router: bridge cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.bridges[name]; exists {
		return fmt.Errorf("router: bridge %q already registered", name)
	}
	r.bridges[name] = bridge
	r.log.Info().Str("bridge", name).Msg("router bridge registered")
	return nil
}

// Get resolves a bridge by name.
func (r *Registry) Get(name string) (Bridge, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bridges[name]
	return b, ok
}

// Names lists registered bridge names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.bridges))
	for name := range r.bridges {
		out = append(out, name)
	}
	return out
}
