package discovery

import (
	"fmt"
	"sync"

	"github.com/stackmesh/lib-resilience/log"
)

// Registry is the authoritative in-memory map of service name to
// definition. All reads return copies so concurrent callers never observe
// a half-updated definition.
type Registry struct {
	mu          sync.RWMutex
	services    map[string]ServiceDefinition
	subscribers map[string][]Subscriber
	maxServices int
	logger      log.Logger
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithMaxServices caps how many distinct service names the registry
// accepts. Values <= 0 leave it unbounded.
func WithMaxServices(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.maxServices = n
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(logger log.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = &log.NoneLogger{}
	}

	r := &Registry{
		services:    make(map[string]ServiceDefinition),
		subscribers: make(map[string][]Subscriber),
		logger:      logger,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Register inserts or wholesale-replaces the definition and notifies any
// subscribers for that name with the new instance list. Registering with
// an empty name fails with ErrInvalidServiceName and mutates nothing.
func (r *Registry) Register(def ServiceDefinition) error {
	if def.Name == "" {
		return ErrInvalidServiceName
	}

	stored := def.Clone()

	r.mu.Lock()

	if _, exists := r.services[def.Name]; !exists && r.maxServices > 0 && len(r.services) >= r.maxServices {
		r.mu.Unlock()
		return fmt.Errorf("%w: limit %d reached registering %s", ErrRegistryFull, r.maxServices, def.Name)
	}

	r.services[def.Name] = stored
	subs := append([]Subscriber(nil), r.subscribers[def.Name]...)
	r.mu.Unlock()

	r.logger.Infof("registered service %s (version=%s, instances=%d)",
		def.Name, def.Version, len(def.Instances))

	notify(subs, def.Name, cloneInstances(stored.Instances))

	return nil
}

// Deregister removes the definition and all subscriptions for it.
func (r *Registry) Deregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.services[name]; !ok {
		return fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}

	delete(r.services, name)
	delete(r.subscribers, name)

	r.logger.Infof("deregistered service %s", name)

	return nil
}

// ListAll returns a snapshot of every registered definition.
func (r *Registry) ListAll() []ServiceDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]ServiceDefinition, 0, len(r.services))
	for _, def := range r.services {
		defs = append(defs, def.Clone())
	}

	return defs
}

// Definition returns a copy of a single definition.
func (r *Registry) Definition(name string) (ServiceDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.services[name]
	if !ok {
		return ServiceDefinition{}, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}

	return def.Clone(), nil
}

// InstancesFor returns only the instances currently marked healthy.
// Unhealthy is distinct from absent: a failed probe filters an instance
// out of this list but never removes it from the definition.
func (r *Registry) InstancesFor(name string) ([]ServiceInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.services[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}

	healthy := make([]ServiceInstance, 0, len(def.Instances))

	for _, inst := range def.Instances {
		if inst.Status == StatusHealthy {
			healthy = append(healthy, inst.Clone())
		}
	}

	if len(healthy) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoHealthyInstances, name)
	}

	return healthy, nil
}

// SetInstanceStatus applies an explicit external health update to one
// instance and notifies subscribers for the service.
func (r *Registry) SetInstanceStatus(name, instanceID string, status InstanceStatus) error {
	r.mu.Lock()

	def, ok := r.services[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}

	idx := -1

	for i, inst := range def.Instances {
		if inst.ID == instanceID {
			idx = i
			break
		}
	}

	if idx < 0 {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s/%s", ErrInstanceNotFound, name, instanceID)
	}

	def.Instances[idx].Status = status
	r.services[name] = def

	subs := append([]Subscriber(nil), r.subscribers[name]...)
	instances := cloneInstances(def.Instances)
	r.mu.Unlock()

	r.logger.Debugf("instance %s/%s marked %s", name, instanceID, status)

	notify(subs, name, instances)

	return nil
}

// Subscribe registers a callback invoked with the current instance list
// whenever registration or the periodic sweep changes it.
func (r *Registry) Subscribe(name string, fn Subscriber) {
	if fn == nil {
		r.logger.Warnf("ignoring nil subscriber for service %s", name)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.subscribers[name] = append(r.subscribers[name], fn)
}

// Unsubscribe removes all subscriptions for the service.
func (r *Registry) Unsubscribe(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.subscribers, name)
}

// applyStatuses stores the sweep's probe results for one service and
// reports whether the health-status vector actually changed. When it did,
// the current subscriber list and instance snapshot are returned so the
// caller can notify outside the lock.
func (r *Registry) applyStatuses(name string, statuses map[string]InstanceStatus) (bool, []Subscriber, []ServiceInstance) {
	r.mu.Lock()
	defer r.mu.Unlock()

	def, ok := r.services[name]
	if !ok {
		// Deregistered while the sweep was probing.
		return false, nil, nil
	}

	changed := false

	for i, inst := range def.Instances {
		next, ok := statuses[inst.ID]
		if !ok || inst.Status == next {
			continue
		}

		def.Instances[i].Status = next
		changed = true
	}

	if !changed {
		return false, nil, nil
	}

	r.services[name] = def
	subs := append([]Subscriber(nil), r.subscribers[name]...)

	return true, subs, cloneInstances(def.Instances)
}

func notify(subs []Subscriber, name string, instances []ServiceInstance) {
	for _, fn := range subs {
		fn(name, instances)
	}
}
