package llm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nulzo/model-playground/pkg/api"
)

// Registry holds the provider instances available to the playground. It is thread-safe.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range providers {
		r.providers[p.ID()] = p
	}
	return r
}

func (r *Registry) Add(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[p.ID()]; exists {
		return fmt.Errorf("provider %s already registered", p.ID())
	}
	r.providers[p.ID()] = p
	return nil
}

func (r *Registry) Get(id string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	return p, nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

// List returns the catalogue sorted by id.
func (r *Registry) List() []api.ProviderInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]api.ProviderInfo, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, api.ProviderInfo{
			ID:        p.ID(),
			Name:      p.Name(),
			Type:      p.Type(),
			MaxTokens: p.MaxTokens(),
			Pricing:   p.Pricing(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
