package resilience

import (
	"context"

	"github.com/stackmesh/lib-resilience/balancer"
	"github.com/stackmesh/lib-resilience/circuitbreaker"
	"github.com/stackmesh/lib-resilience/discovery"
	"github.com/stackmesh/lib-resilience/health"
	"github.com/stackmesh/lib-resilience/log"
)

// Config aggregates the per-component configuration for a Client.
type Config struct {
	Discovery discovery.Config
	Breaker   circuitbreaker.Config
	Health    health.Config
	Strategy  balancer.Strategy
}

// DefaultConfig returns the documented defaults for every component.
func DefaultConfig() Config {
	return Config{
		Discovery: discovery.DefaultConfig(),
		Breaker:   circuitbreaker.DefaultConfig(),
		Health:    health.DefaultConfig(),
		Strategy:  balancer.StrategyRoundRobin,
	}
}

// Client owns one instance of each core component plus the executor that
// coordinates them, and manages the lifecycle of the two background
// tasks (discovery sweep, health monitoring).
type Client struct {
	registry *discovery.Registry
	sweep    *discovery.Discovery
	selector *balancer.Balancer
	breaker  *circuitbreaker.Manager
	monitor  *health.Monitor
	executor *Executor
	logger   log.Logger
}

// ClientOption customizes a Client.
type ClientOption func(*clientOptions)

type clientOptions struct {
	discoveryProbe discovery.ProbeFunc
	healthProbe    health.ProbeFunc
	executorOpts   []Option
}

// WithDiscoveryProbe injects the instance health probe used by the
// discovery sweep.
func WithDiscoveryProbe(probe discovery.ProbeFunc) ClientOption {
	return func(o *clientOptions) { o.discoveryProbe = probe }
}

// WithHealthProbe injects the service probe used by periodic health
// monitoring.
func WithHealthProbe(probe health.ProbeFunc) ClientOption {
	return func(o *clientOptions) { o.healthProbe = probe }
}

// WithExecutorOptions forwards options (retry, rate limit) to the
// underlying executor.
func WithExecutorOptions(opts ...Option) ClientOption {
	return func(o *clientOptions) { o.executorOpts = append(o.executorOpts, opts...) }
}

// NewClient builds all components from the config, validating each, and
// wires them into an executor. Nothing is started until Start is called.
func NewClient(config Config, logger log.Logger, opts ...ClientOption) (*Client, error) {
	if logger == nil {
		logger = &log.NoneLogger{}
	}

	var options clientOptions
	for _, opt := range opts {
		opt(&options)
	}

	registry := discovery.NewRegistry(logger, discovery.WithMaxServices(config.Discovery.MaxCacheSize))

	sweep, err := discovery.NewDiscovery(registry, config.Discovery, options.discoveryProbe, logger)
	if err != nil {
		return nil, err
	}

	selector, err := balancer.New(config.Strategy, logger)
	if err != nil {
		return nil, err
	}

	breaker, err := circuitbreaker.NewManager(config.Breaker, logger)
	if err != nil {
		return nil, err
	}

	monitor, err := health.NewMonitor(config.Health, options.healthProbe, logger)
	if err != nil {
		return nil, err
	}

	executorOpts := append([]Option{
		WithLogger(logger),
		WithHealthMonitor(monitor),
	}, options.executorOpts...)

	executor, err := NewExecutor(registry, selector, breaker, executorOpts...)
	if err != nil {
		return nil, err
	}

	return &Client{
		registry: registry,
		sweep:    sweep,
		selector: selector,
		breaker:  breaker,
		monitor:  monitor,
		executor: executor,
		logger:   logger,
	}, nil
}

// Start launches the discovery sweep and periodic health monitoring.
func (c *Client) Start() {
	c.sweep.Start()
	c.monitor.StartMonitoring(nil)
}

// Stop terminates both background tasks, waiting for in-flight ticks,
// and flushes the logger. Safe to call more than once.
func (c *Client) Stop() {
	c.sweep.Stop()
	c.monitor.Stop()

	if err := c.logger.Sync(); err != nil {
		c.logger.Debugf("logger sync: %v", err)
	}
}

// Call performs a guarded call to the named service.
func (c *Client) Call(ctx context.Context, service string, call CallFunc) error {
	return c.executor.Execute(ctx, service, call)
}

// CallWithKey performs a guarded call using an explicit hash key.
func (c *Client) CallWithKey(ctx context.Context, service, key string, call CallFunc) error {
	return c.executor.ExecuteWithKey(ctx, service, key, call)
}

// Registry exposes the service registry for registration and
// subscription.
func (c *Client) Registry() *discovery.Registry { return c.registry }

// Balancer exposes the load balancer for strategy and weight updates.
func (c *Client) Balancer() *balancer.Balancer { return c.selector }

// CircuitBreakers exposes the circuit breaker manager.
func (c *Client) CircuitBreakers() *circuitbreaker.Manager { return c.breaker }

// HealthMonitor exposes the health monitor.
func (c *Client) HealthMonitor() *health.Monitor { return c.monitor }

// Diagnostics is a point-in-time view across all components for one
// service.
type Diagnostics struct {
	Circuit circuitbreaker.Stats
	Load    balancer.Stats
	Health  health.Record
}

// DiagnosticsFor snapshots circuit, load-balancer and health state for a
// service. Each snapshot is taken under the owning component's lock; the
// combination is not atomic across components.
func (c *Client) DiagnosticsFor(service string) Diagnostics {
	diag := Diagnostics{
		Circuit: c.breaker.StatsFor(service),
		Load:    c.selector.StatsFor(service),
	}

	if rec, ok := c.monitor.Get(service); ok {
		diag.Health = rec
	}

	return diag
}
