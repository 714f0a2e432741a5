package gateway

import (
	"sort"
	"sync"
)

// Registry maps provider names to Managers and resolves the default
// provider. Adding a provider is a registration, never a change to
// calling code: the checkout/settlement/refund services only ever see
// the Manager contract.
type Registry struct {
	mu          sync.RWMutex
	managers    map[string]*Manager
	defaultName string
}

// NewRegistry creates a registry whose Resolve("") falls back to
// defaultName.
func NewRegistry(defaultName string) *Registry {
	return &Registry{
		managers:    make(map[string]*Manager),
		defaultName: defaultName,
	}
}

// Register adds or replaces a provider Manager. Registration is an
// extension point for process start-up, not something done mid-request.
func (r *Registry) Register(m *Manager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.managers[m.Name()] = m
}

// Resolve returns the Manager for name, or the default Manager when
// name is empty.
func (r *Registry) Resolve(name string) (*Manager, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		name = r.defaultName
	}
	m, ok := r.managers[name]
	if !ok {
		return nil, Unavailable(name, "provider not registered", nil)
	}
	return m, nil
}

// Default returns the default provider's Manager.
func (r *Registry) Default() (*Manager, error) {
	return r.Resolve("")
}

// DefaultName returns the configured default provider name.
func (r *Registry) DefaultName() string {
	return r.defaultName
}

// Names lists registered provider names in stable order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.managers))
	for name := range r.managers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
