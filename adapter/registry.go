package adapter

import (
	"sort"
	"sync"
)

// Registry the servant registry
type Registry struct {
	sync.RWMutex                    // mixin read/write mutex
	servants     map[uint16]Servant // the servant id indexer
	names        map[string]uint16  // the servant name indexer
}

// NewRegistry create new servant registry
func NewRegistry() *Registry {
	return &Registry{
		servants: make(map[uint16]Servant),
		names:    make(map[string]uint16),
	}
}

// Add register servant, returns the servant it replaced
func (registry *Registry) Add(servant Servant) Servant {
	registry.Lock()
	defer registry.Unlock()

	old, ok := registry.servants[servant.ID()]

	if ok {
		delete(registry.names, old.String())
	}

	registry.servants[servant.ID()] = servant
	registry.names[servant.String()] = servant.ID()

	return old
}

// Remove unregister servant if it is still the registered instance
func (registry *Registry) Remove(servant Servant) bool {
	registry.Lock()
	defer registry.Unlock()

	if current, ok := registry.servants[servant.ID()]; ok && current == servant {
		delete(registry.servants, servant.ID())
		delete(registry.names, servant.String())
		return true
	}

	return false
}

// Servant get servant by id
func (registry *Registry) Servant(id uint16) (Servant, bool) {
	registry.RLock()
	defer registry.RUnlock()

	servant, ok := registry.servants[id]

	return servant, ok
}

// ServiceID get servant id by name
func (registry *Registry) ServiceID(name string) (uint16, bool) {
	registry.RLock()
	defer registry.RUnlock()

	id, ok := registry.names[name]

	return id, ok
}

// Names sorted servant names
func (registry *Registry) Names() []string {
	registry.RLock()
	defer registry.RUnlock()

	names := make([]string, 0, len(registry.names))

	for name := range registry.names {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
