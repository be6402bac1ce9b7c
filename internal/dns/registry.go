package dns

import (
	"fmt"
	"sync"

	"github.com/go-logr/logr"
)

// Factory is a constructor function that backends register to create themselves.
type Factory func(log logr.Logger, settings map[string]string) (Manager, error)

var (
	mu        sync.Mutex
	factories = make(map[string]Factory)
)

// Register is called by backend packages in their init() to self-register.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("dns: backend %q already registered", name))
	}
	factories[name] = f
}

// NewManager looks up the named backend in the registry and creates it.
func NewManager(name string, log logr.Logger, settings map[string]string) (Manager, error) {
	mu.Lock()
	f, ok := factories[name]
	mu.Unlock()
	if !ok {
		names := make([]string, 0, len(factories))
		for n := range factories {
			names = append(names, n)
		}
		return nil, fmt.Errorf("unsupported DNS backend: %q (registered: %v)", name, names)
	}
	return f(log, settings)
}
