package ratelimiter

import (
	"fmt"
	"sync"
)

// Registry maps normalized limit names to Limit definitions (spec
// section 4.6). It is safe for concurrent use. It does not prevent
// mutation after first use: Register may be called at any time and
// overwrites an existing entry, and Clear removes every entry.
type Registry struct {
	mu     sync.RWMutex
	limits map[string]*Limit
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{limits: make(map[string]*Limit)}
}

// Register adds limit under its normalized name. Registering a name
// twice overwrites the previous definition — callers that want
// immutability after first use should guard this themselves, per the
// "Design Notes" comment on the global registry.
func (r *Registry) Register(limit *Limit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limits[normalizeName(limit.Name)] = limit
}

// Get fetches a limit by name, returning ErrUnknownLimit if it was never
// registered (spec section 4.6, "fetch-or-fail").
func (r *Registry) Get(name string) (*Limit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.limits[normalizeName(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLimit, name)
	}
	return l, nil
}

// Enumerate returns every registered limit.
func (r *Registry) Enumerate() []*Limit {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Limit, 0, len(r.limits))
	for _, l := range r.limits {
		out = append(out, l)
	}
	return out
}

// Clear removes every registered limit.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limits = make(map[string]*Limit)
}
