package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/stackmesh/lib-resilience/balancer"
	"github.com/stackmesh/lib-resilience/circuitbreaker"
	"github.com/stackmesh/lib-resilience/discovery"
	"github.com/stackmesh/lib-resilience/health"
	"github.com/stackmesh/lib-resilience/log"
)

// Compile-time assertions: the concrete components satisfy the
// executor's collaborator interfaces.
var (
	_ InstanceSource = (*discovery.Registry)(nil)
	_ Selector       = (*balancer.Balancer)(nil)
	_ Breaker        = (*circuitbreaker.Manager)(nil)
	_ HealthReporter = (*health.Monitor)(nil)
)

type fixture struct {
	registry *discovery.Registry
	selector *balancer.Balancer
	breaker  *circuitbreaker.Manager
	monitor  *health.Monitor
	executor *Executor
	instance discovery.ServiceInstance
}

func newFixture(t *testing.T, breakerCfg circuitbreaker.Config, opts ...Option) *fixture {
	t.Helper()

	logger := &log.NoneLogger{}

	registry := discovery.NewRegistry(logger)

	selector, err := balancer.New(balancer.StrategyRoundRobin, logger)
	require.NoError(t, err)

	breaker, err := circuitbreaker.NewManager(breakerCfg, logger)
	require.NoError(t, err)

	monitor, err := health.NewMonitor(health.DefaultConfig(), nil, logger)
	require.NoError(t, err)

	instance := discovery.NewInstance("10.0.0.1", 8080)
	instance.Status = discovery.StatusHealthy

	require.NoError(t, registry.Register(discovery.ServiceDefinition{
		Name:      "payments",
		Version:   "1.0.0",
		Instances: []discovery.ServiceInstance{instance},
	}))

	opts = append([]Option{WithHealthMonitor(monitor)}, opts...)

	executor, err := NewExecutor(registry, selector, breaker, opts...)
	require.NoError(t, err)

	return &fixture{
		registry: registry,
		selector: selector,
		breaker:  breaker,
		monitor:  monitor,
		executor: executor,
		instance: instance,
	}
}

func TestNewExecutor_NilDependency(t *testing.T) {
	_, err := NewExecutor(nil, nil, nil)
	assert.ErrorIs(t, err, ErrNilDependency)
}

func TestExecutor_SuccessPath(t *testing.T) {
	f := newFixture(t, circuitbreaker.DefaultConfig())

	var calledInstance discovery.ServiceInstance

	err := f.executor.Execute(context.Background(), "payments", func(_ context.Context, inst discovery.ServiceInstance) error {
		calledInstance = inst
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, f.instance.ID, calledInstance.ID)

	// Outcome reported to the breaker...
	stats := f.breaker.StatsFor("payments")
	assert.Equal(t, int64(1), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.TotalSuccesses)

	// ...to the balancer's health bookkeeping...
	lbStats := f.selector.StatsFor("payments")
	assert.Equal(t, 1.0, lbStats.HealthScores[f.instance.ID])

	// ...and to the health monitor.
	rec, ok := f.monitor.Get("payments")
	require.True(t, ok)
	assert.Equal(t, health.StatusHealthy, rec.Status)
}

func TestExecutor_TransportFailureRecorded(t *testing.T) {
	f := newFixture(t, circuitbreaker.DefaultConfig())

	transportErr := errors.New("connection reset")

	err := f.executor.Execute(context.Background(), "payments", func(context.Context, discovery.ServiceInstance) error {
		return transportErr
	})
	assert.ErrorIs(t, err, transportErr)

	stats := f.breaker.StatsFor("payments")
	assert.Equal(t, int64(1), stats.TotalFailures)

	lbStats := f.selector.StatsFor("payments")
	assert.Equal(t, 0.0, lbStats.HealthScores[f.instance.ID])

	rec, ok := f.monitor.Get("payments")
	require.True(t, ok)
	assert.Equal(t, health.StatusUnhealthy, rec.Status)
	assert.Equal(t, "connection reset", rec.LastError)
}

func TestExecutor_CircuitOpenFailsFast(t *testing.T) {
	cfg := circuitbreaker.DefaultConfig()
	cfg.FailureThreshold = 1

	f := newFixture(t, cfg)

	// Open the circuit with one failing call.
	_ = f.executor.Execute(context.Background(), "payments", func(context.Context, discovery.ServiceInstance) error {
		return errors.New("boom")
	})
	require.True(t, f.breaker.IsOpen("payments"))

	calls := 0

	err := f.executor.Execute(context.Background(), "payments", func(context.Context, discovery.ServiceInstance) error {
		calls++
		return nil
	})

	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Zero(t, calls, "no network attempt may be made while the circuit is open")
}

func TestExecutor_NoHealthyInstances(t *testing.T) {
	f := newFixture(t, circuitbreaker.DefaultConfig())

	require.NoError(t, f.registry.SetInstanceStatus("payments", f.instance.ID, discovery.StatusUnhealthy))

	calls := 0

	err := f.executor.Execute(context.Background(), "payments", func(context.Context, discovery.ServiceInstance) error {
		calls++
		return nil
	})

	assert.ErrorIs(t, err, discovery.ErrNoHealthyInstances)
	assert.Zero(t, calls)
}

func TestExecutor_UnknownService(t *testing.T) {
	f := newFixture(t, circuitbreaker.DefaultConfig())

	err := f.executor.Execute(context.Background(), "ghost", func(context.Context, discovery.ServiceInstance) error {
		return nil
	})

	assert.ErrorIs(t, err, discovery.ErrServiceNotFound)
}

func TestExecutor_RetriesTransportFailures(t *testing.T) {
	f := newFixture(t, circuitbreaker.DefaultConfig(), WithRetry(3, time.Millisecond))

	attempts := 0

	err := f.executor.Execute(context.Background(), "payments", func(context.Context, discovery.ServiceInstance) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}

		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestExecutor_DoesNotRetryAvailabilityErrors(t *testing.T) {
	f := newFixture(t, circuitbreaker.DefaultConfig(), WithRetry(5, time.Millisecond))

	start := time.Now()
	err := f.executor.Execute(context.Background(), "ghost", func(context.Context, discovery.ServiceInstance) error {
		return nil
	})

	assert.ErrorIs(t, err, discovery.ErrServiceNotFound)
	assert.Less(t, time.Since(start), 100*time.Millisecond, "availability errors must fail without backoff loops")
}

func TestExecutor_ConnectionBookkeeping(t *testing.T) {
	f := newFixture(t, circuitbreaker.DefaultConfig())

	err := f.executor.Execute(context.Background(), "payments", func(context.Context, discovery.ServiceInstance) error {
		// While the call is in flight the connection is recorded.
		stats := f.selector.StatsFor("payments")
		assert.Equal(t, int64(1), stats.Connections[f.instance.ID])

		return nil
	})
	require.NoError(t, err)

	stats := f.selector.StatsFor("payments")
	assert.Equal(t, int64(0), stats.Connections[f.instance.ID], "connection released after the call")
}

func TestExecutor_RateLimit(t *testing.T) {
	// One token per hour with burst 1: the second call cannot acquire a
	// token before its context deadline.
	f := newFixture(t, circuitbreaker.DefaultConfig(), WithRateLimit(rate.Every(time.Hour), 1))

	err := f.executor.Execute(context.Background(), "payments", func(context.Context, discovery.ServiceInstance) error {
		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	calls := 0

	err = f.executor.Execute(ctx, "payments", func(context.Context, discovery.ServiceInstance) error {
		calls++
		return nil
	})

	assert.Error(t, err)
	assert.Zero(t, calls)
}

func TestExecutor_HashKeyForwarded(t *testing.T) {
	logger := &log.NoneLogger{}
	registry := discovery.NewRegistry(logger)

	selector, err := balancer.New(balancer.StrategyHash, logger)
	require.NoError(t, err)

	breaker, err := circuitbreaker.NewManager(circuitbreaker.DefaultConfig(), logger)
	require.NoError(t, err)

	instances := make([]discovery.ServiceInstance, 3)
	for i := range instances {
		instances[i] = discovery.NewInstance("10.0.0.1", 9000+i)
		instances[i].Status = discovery.StatusHealthy
	}

	require.NoError(t, registry.Register(discovery.ServiceDefinition{
		Name:      "payments",
		Instances: instances,
	}))

	executor, err := NewExecutor(registry, selector, breaker)
	require.NoError(t, err)

	var picked []string

	for i := 0; i < 5; i++ {
		err := executor.ExecuteWithKey(context.Background(), "payments", "session-42",
			func(_ context.Context, inst discovery.ServiceInstance) error {
				picked = append(picked, inst.ID)
				return nil
			})
		require.NoError(t, err)
	}

	for _, id := range picked {
		assert.Equal(t, picked[0], id, "same key must map to the same instance")
	}
}
