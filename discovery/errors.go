package discovery

import "errors"

var (
	// ErrInvalidServiceName is returned when registering with an empty name.
	ErrInvalidServiceName = errors.New("discovery: service name must not be empty")

	// ErrServiceNotFound is returned when a service name is unknown.
	ErrServiceNotFound = errors.New("discovery: service not found")

	// ErrInstanceNotFound is returned when an instance ID is unknown for a service.
	ErrInstanceNotFound = errors.New("discovery: instance not found")

	// ErrNoHealthyInstances is returned when a service is registered but all
	// of its instances are currently filtered out as unhealthy.
	ErrNoHealthyInstances = errors.New("discovery: no healthy instances")

	// ErrInvalidConfig is returned for out-of-range configuration values.
	ErrInvalidConfig = errors.New("discovery: invalid configuration")

	// ErrProbeNotConfigured is returned by the default probe. The transport
	// layer must inject a real probe before enabling the sweep.
	ErrProbeNotConfigured = errors.New("discovery: no health probe configured")

	// ErrRegistryFull is returned when registering a new service would
	// exceed the configured cache size.
	ErrRegistryFull = errors.New("discovery: registry at capacity")
)
