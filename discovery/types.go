package discovery

import (
	"context"
	"fmt"
	"maps"

	"github.com/google/uuid"
)

// InstanceStatus is the health status of a single service instance.
type InstanceStatus string

const (
	StatusHealthy   InstanceStatus = "healthy"
	StatusUnhealthy InstanceStatus = "unhealthy"
	StatusUnknown   InstanceStatus = "unknown"
)

// ServiceInstance is one running replica of a named service. Identity and
// locator fields are immutable after registration; only Status is updated,
// and only by the discovery sweep or SetInstanceStatus.
type ServiceInstance struct {
	ID       string
	Host     string
	Port     int
	Endpoint string
	Status   InstanceStatus
	Metadata map[string]string
}

// NewInstance builds an instance for the given host and port with a
// generated ID and unknown health status.
func NewInstance(host string, port int) ServiceInstance {
	return ServiceInstance{
		ID:       uuid.NewString(),
		Host:     host,
		Port:     port,
		Endpoint: fmt.Sprintf("%s:%d", host, port),
		Status:   StatusUnknown,
	}
}

// Clone returns a deep copy of the instance.
func (inst ServiceInstance) Clone() ServiceInstance {
	cloned := inst
	if inst.Metadata != nil {
		cloned.Metadata = maps.Clone(inst.Metadata)
	}

	return cloned
}

// ServiceDefinition describes a named service and its instances. The
// registry owns definitions; everything handed out is a copy.
type ServiceDefinition struct {
	Name      string
	Version   string
	Instances []ServiceInstance
	Metadata  map[string]string
}

// Clone returns a deep copy of the definition.
func (def ServiceDefinition) Clone() ServiceDefinition {
	cloned := def

	if def.Metadata != nil {
		cloned.Metadata = maps.Clone(def.Metadata)
	}

	cloned.Instances = cloneInstances(def.Instances)

	return cloned
}

func cloneInstances(instances []ServiceInstance) []ServiceInstance {
	cloned := make([]ServiceInstance, len(instances))
	for i, inst := range instances {
		cloned[i] = inst.Clone()
	}

	return cloned
}

// ProbeFunc checks the health of a single instance. A nil error marks the
// instance healthy; any error marks it unhealthy. The real network probe
// lives outside this library and is injected via discovery configuration.
type ProbeFunc func(ctx context.Context, instance ServiceInstance) error

// Subscriber receives the current instance list for a service whenever the
// list changes through registration or a sweep.
type Subscriber func(service string, instances []ServiceInstance)
