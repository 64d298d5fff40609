package provider

import (
	"fmt"
	"sort"

	"github.com/mononoSaya/auto-novel/internal/apperr"
)

type Registry struct {
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.ID()] = p
	}
	return r
}

func (r *Registry) Register(p Provider) error {
	if p == nil || p.ID() == "" {
		return fmt.Errorf("provider id is required")
	}
	if _, exists := r.providers[p.ID()]; exists {
		return fmt.Errorf("provider %q registered twice", p.ID())
	}
	r.providers[p.ID()] = p
	return nil
}

// Get returns a NotFound error for unknown ids.
func (r *Registry) Get(id string) (Provider, error) {
	p, ok := r.providers[id]
	if !ok {
		return nil, apperr.Newf(apperr.ErrNotFound, "provider %q not found", id)
	}
	return p, nil
}

func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
