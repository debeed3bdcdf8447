package backend

import (
	"errors"
	"fmt"
	"sort"
)

var ErrUnknownService = errors.New("unknown service")

// Registry maps service identifiers to live services. It is read-only after construction.
type Registry struct {
	services map[string]Service
	ids      []string
}

func NewRegistry(services ...Service) (*Registry, error) {
	r := &Registry{services: make(map[string]Service, len(services))}
	for _, svc := range services {
		if svc == nil {
			return nil, errors.New("nil service")
		}
		id := svc.Name()
		if id == "" {
			return nil, fmt.Errorf("service of type %s has an empty name", svc.Type())
		}
		if _, exists := r.services[id]; exists {
			return nil, fmt.Errorf("duplicate service identifier [%s]", id)
		}
		r.services[id] = svc
		r.ids = append(r.ids, id)
	}
	sort.Strings(r.ids)
	return r, nil
}

// Lookup returns the service registered under id, or an error wrapping ErrUnknownService.
func (r *Registry) Lookup(id string) (Service, error) {
	svc, ok := r.services[id]
	if !ok {
		return nil, fmt.Errorf("%w [%s]", ErrUnknownService, id)
	}
	return svc, nil
}

func (r *Registry) Has(id string) bool {
	_, ok := r.services[id]
	return ok
}

// IDs returns the registered identifiers in sorted order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.ids...)
}

func (r *Registry) Services() []Service {
	out := make([]Service, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.services[id])
	}
	return out
}
