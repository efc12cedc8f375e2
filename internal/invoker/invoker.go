// Package invoker dispatches wrapped service calls to their backends.
package invoker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Invoker executes a single wrapped service call
type Invoker interface {
	Invoke(ctx context.Context, serviceType string, payload json.RawMessage) (json.RawMessage, error)
}

// Func adapts a function to the Invoker interface
type Func func(ctx context.Context, serviceType string, payload json.RawMessage) (json.RawMessage, error)

func (f Func) Invoke(ctx context.Context, serviceType string, payload json.RawMessage) (json.RawMessage, error) {
	return f(ctx, serviceType, payload)
}

// Registry routes each service type to its registered invoker
type Registry struct {
	mu       sync.RWMutex
	invokers map[string]Invoker
}

func NewRegistry() *Registry {
	return &Registry{invokers: make(map[string]Invoker)}
}

// Register binds a service type to an invoker, replacing any previous binding
func (r *Registry) Register(serviceType string, inv Invoker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invokers[serviceType] = inv
}

// Invoke dispatches to the invoker registered for the service type
func (r *Registry) Invoke(ctx context.Context, serviceType string, payload json.RawMessage) (json.RawMessage, error) {
	r.mu.RLock()
	inv, ok := r.invokers[serviceType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no backend registered for service type %q", serviceType)
	}
	return inv.Invoke(ctx, serviceType, payload)
}

// ServiceTypes returns the registered service types
func (r *Registry) ServiceTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.invokers))
	for serviceType := range r.invokers {
		types = append(types, serviceType)
	}
	return types
}
