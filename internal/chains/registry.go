// internal/chains/registry.go
package chains

import (
	"sort"
	"sync"

	"custody-service/internal/domain"
	"custody-service/internal/xerrors"
)

// Registry maps chain ids to adapters. Lookups of unknown or unregistered
// chains fail with NotImplemented.
type Registry struct {
	adapters map[domain.ChainID]domain.Adapter
	mu       sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[domain.ChainID]domain.Adapter),
	}
}

// Register adds an adapter, replacing any previous one for the same chain
func (r *Registry) Register(adapter domain.Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapter.Chain()] = adapter
}

// Get retrieves the adapter for chain
func (r *Registry) Get(chain domain.ChainID) (domain.Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, ok := r.adapters[chain]
	if !ok {
		return nil, xerrors.NotImplemented("chain not supported: %s", chain)
	}
	return adapter, nil
}

// List returns registered chain ids in stable order
func (r *Registry) List() []domain.ChainID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]domain.ChainID, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
