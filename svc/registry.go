package svc

import (
	"context"
	"sort"
	"sync"

	"github.com/machinefabric/plughost-go/ipc"
)

// Handler serves one named service. data is encoded in the codec of the
// channel the call arrived on; the handler and its callers agree on the
// schema out of band.
type Handler func(ctx context.Context, data ipc.Raw) (ipc.Raw, error)

// Registry is a name-keyed table of locally dispatchable services.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	services map[string]Handler
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		services: make(map[string]Handler),
	}
}

// Open registers handler under name, replacing any previous handler
func (r *Registry) Open(name string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[name] = handler
}

// Close removes name. Closing an unknown name is a no-op.
func (r *Registry) Close(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.services, name)
}

// Has reports whether name is registered
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.services[name]
	return ok
}

// Names returns the registered service names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch calls the handler registered under name. An unknown name fails
// immediately with ServiceNotFound; otherwise the handler's result and
// error are returned unchanged.
func (r *Registry) Dispatch(ctx context.Context, name string, data ipc.Raw) (ipc.Raw, error) {
	r.mu.RLock()
	handler, ok := r.services[name]
	r.mu.RUnlock()

	if !ok {
		return nil, newServiceNotFound(name)
	}
	return handler(ctx, data)
}
