package backend

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nulzo/inference-gateway/internal/config"
)

type Factory func(cfg config.ServiceConfig) (Service, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a service adapter available by type. Adapters call it from init.
func Register(serviceType string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := factories[serviceType]; exists {
		panic(fmt.Sprintf("service factory %s already registered", serviceType))
	}
	factories[serviceType] = f
}

func Get(serviceType string) (Factory, error) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := factories[serviceType]
	if !ok {
		return nil, fmt.Errorf("service factory not found for type: %s", serviceType)
	}
	return f, nil
}

// Types lists the registered adapter types.
func Types() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for t := range factories {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
