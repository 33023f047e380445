// Package venue holds the venue connectivity boundary: a registry of
// adapters keyed by venue name and a simulator implementation used in paper
// mode and tests. Real protocol adapters register through the same interface.
package venue

import (
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/execengine/internal/domain"
)

// Registry holds the set of venue adapters known to the engine.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]domain.VenueAdapter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]domain.VenueAdapter)}
}

// Register adds an adapter under its own name. Registering the same name
// twice returns an error.
func (r *Registry) Register(a domain.VenueAdapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := a.Name()
	if _, ok := r.adapters[name]; ok {
		return fmt.Errorf("venue: register %q: %w", name, domain.ErrAlreadyExists)
	}
	r.adapters[name] = a
	return nil
}

// Get returns the adapter for name.
func (r *Registry) Get(name string) (domain.VenueAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("venue: %q: %w", name, domain.ErrNotFound)
	}
	return a, nil
}

// All returns every registered adapter, sorted by name for deterministic
// iteration.
func (r *Registry) All() []domain.VenueAdapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.VenueAdapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Names returns the sorted names of all registered venues.
func (r *Registry) Names() []string {
	all := r.All()
	names := make([]string, len(all))
	for i, a := range all {
		names[i] = a.Name()
	}
	return names
}

// TickSize returns the finest positive price increment any registered venue
// quotes for the symbol, so price nudges stay on-grid at every venue an
// order may route to. Zero when no venue reports one.
func (r *Registry) TickSize(symbol string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	finest := 0.0
	for _, a := range r.adapters {
		t := a.TickSize(symbol)
		if t > 0 && (finest == 0 || t < finest) {
			finest = t
		}
	}
	return finest
}
