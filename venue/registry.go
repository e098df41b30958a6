package venue

import (
	"fmt"
	"sync"
)

// Registry 显式注册的场所适配器集合。构造期注入，无隐藏全局状态。
type Registry struct {
	mu       sync.RWMutex
	adapters map[Venue]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[Venue]Adapter)}
}

// Register 注册场所适配器，重复注册覆盖旧实例。
func (r *Registry) Register(v Venue, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[v] = a
}

// Get 返回场所适配器；未配置返回 ErrVenueNotConfigured。
func (r *Registry) Get(v Venue) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[v]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVenueNotConfigured, v)
	}
	return a, nil
}

// Venues 返回已注册的场所列表。
func (r *Registry) Venues() []Venue {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Venue, 0, len(r.adapters))
	for v := range r.adapters {
		out = append(out, v)
	}
	return out
}
