package resilience

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/stackmesh/lib-resilience/backoff"
	"github.com/stackmesh/lib-resilience/balancer"
	"github.com/stackmesh/lib-resilience/discovery"
	"github.com/stackmesh/lib-resilience/health"
	"github.com/stackmesh/lib-resilience/log"
)

var (
	// ErrCircuitOpen is returned when the breaker rejects the call before
	// any network attempt is made.
	ErrCircuitOpen = errors.New("resilience: circuit open")

	// ErrNilDependency is returned when the executor is constructed
	// without a required collaborator.
	ErrNilDependency = errors.New("resilience: nil dependency")
)

const tracerName = "github.com/stackmesh/lib-resilience/resilience"

// CallFunc performs the actual network call to the selected instance.
// The transport lives outside this library; only the outcome (error and
// latency) is reported back into the core components.
type CallFunc func(ctx context.Context, instance discovery.ServiceInstance) error

// InstanceSource supplies healthy instances for a service.
// *discovery.Registry implements it.
type InstanceSource interface {
	InstancesFor(service string) ([]discovery.ServiceInstance, error)
}

// Selector picks one instance per call and keeps connection/health
// bookkeeping. *balancer.Balancer implements it.
type Selector interface {
	SelectWithKey(service, key string, instances []discovery.ServiceInstance) (discovery.ServiceInstance, error)
	RecordConnection(service, instanceID string)
	ReleaseConnection(service, instanceID string)
	UpdateHealthScore(service, instanceID string, score float64)
}

// Breaker admits or rejects calls and records outcomes.
// *circuitbreaker.Manager implements it.
type Breaker interface {
	Allow(service string) bool
	RecordSuccess(service string)
	RecordFailure(service string)
}

// HealthReporter receives a health record per attempted call.
// *health.Monitor implements it.
type HealthReporter interface {
	UpdateStatus(rec health.Record)
}

// Executor is the resilience orchestrator. All collaborators are
// injected through the constructor; the executor holds no state of its
// own beyond configuration.
type Executor struct {
	instances InstanceSource
	selector  Selector
	breaker   Breaker
	reporter  HealthReporter
	logger    log.Logger
	tracer    trace.Tracer
	limiter   *rate.Limiter

	maxAttempts int
	retryBase   time.Duration
}

// Option customizes an Executor.
type Option func(*Executor)

// WithLogger sets the executor's logger.
func WithLogger(logger log.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithHealthMonitor wires a health monitor that receives one record per
// attempted call.
func WithHealthMonitor(reporter HealthReporter) Option {
	return func(e *Executor) {
		e.reporter = reporter
	}
}

// WithRetry enables transport-failure retries with exponential backoff
// and full jitter. Availability errors (circuit open, no healthy
// instances) are never retried: per the error contract they are the
// caller's to handle.
func WithRetry(maxAttempts int, base time.Duration) Option {
	return func(e *Executor) {
		if maxAttempts > 0 {
			e.maxAttempts = maxAttempts
			e.retryBase = base
		}
	}
}

// WithRateLimit enables a client-side rate limit applied before breaker
// admission. Calls wait for a token, respecting context cancellation.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(e *Executor) {
		e.limiter = rate.NewLimiter(limit, burst)
	}
}

// NewExecutor wires the orchestrator. The instance source, selector and
// breaker are required; the health monitor is optional.
func NewExecutor(instances InstanceSource, selector Selector, breaker Breaker, opts ...Option) (*Executor, error) {
	if instances == nil || selector == nil || breaker == nil {
		return nil, ErrNilDependency
	}

	e := &Executor{
		instances:   instances,
		selector:    selector,
		breaker:     breaker,
		logger:      &log.NoneLogger{},
		tracer:      otel.Tracer(tracerName),
		maxAttempts: 1,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// Execute performs a guarded call to the named service.
func (e *Executor) Execute(ctx context.Context, service string, call CallFunc) error {
	return e.ExecuteWithKey(ctx, service, "", call)
}

// ExecuteWithKey is Execute with an explicit hash key, forwarded to the
// selector for the hash strategy.
func (e *Executor) ExecuteWithKey(ctx context.Context, service, key string, call CallFunc) error {
	ctx, span := e.tracer.Start(ctx, "resilience.Execute",
		trace.WithAttributes(attribute.String("service.name", service)))
	defer span.End()

	var err error

	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoff.ExponentialWithJitter(e.retryBase, attempt-1)
			if sleepErr := backoff.SleepWithContext(ctx, delay); sleepErr != nil {
				span.SetStatus(codes.Error, sleepErr.Error())
				return sleepErr
			}

			e.logger.Debugf("retrying call to %s (attempt %d/%d)", service, attempt+1, e.maxAttempts)
		}

		err = e.attempt(ctx, service, key, call)
		if err == nil {
			span.SetAttributes(attribute.Int("resilience.attempts", attempt+1))
			return nil
		}

		if !retryable(err) {
			break
		}
	}

	span.SetStatus(codes.Error, err.Error())

	return err
}

// attempt runs one pass of the guarded call sequence.
func (e *Executor) attempt(ctx context.Context, service, key string, call CallFunc) error {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	// Admission before anything else: an open circuit fails fast with no
	// network attempt and no instance lookup.
	if !e.breaker.Allow(service) {
		e.logger.Warnf("circuit open for service %s - rejecting call", service)
		return ErrCircuitOpen
	}

	instances, err := e.instances.InstancesFor(service)
	if err != nil {
		return err
	}

	instance, err := e.selector.SelectWithKey(service, key, instances)
	if err != nil {
		return err
	}

	e.selector.RecordConnection(service, instance.ID)
	defer e.selector.ReleaseConnection(service, instance.ID)

	start := time.Now()
	callErr := call(ctx, instance)
	latency := time.Since(start)

	e.report(service, instance, latency, callErr)

	if callErr != nil {
		e.logger.Warnf("call to %s/%s failed after %v: %v", service, instance.ID, latency, callErr)
		return callErr
	}

	return nil
}

// report feeds the call outcome back into breaker, balancer and health
// monitor bookkeeping.
func (e *Executor) report(service string, instance discovery.ServiceInstance, latency time.Duration, callErr error) {
	if callErr != nil {
		e.breaker.RecordFailure(service)
		e.selector.UpdateHealthScore(service, instance.ID, 0.0)
	} else {
		e.breaker.RecordSuccess(service)
		e.selector.UpdateHealthScore(service, instance.ID, 1.0)
	}

	if e.reporter == nil {
		return
	}

	rec := health.Record{
		Service:      service,
		Status:       health.StatusHealthy,
		ResponseTime: latency,
		LastChecked:  time.Now(),
	}

	if callErr != nil {
		rec.Status = health.StatusUnhealthy
		rec.LastError = callErr.Error()
	}

	e.reporter.UpdateStatus(rec)
}

// retryable reports whether the error is a transport failure worth
// retrying. Availability and validation errors are surfaced to the
// caller immediately.
func retryable(err error) bool {
	switch {
	case errors.Is(err, ErrCircuitOpen),
		errors.Is(err, discovery.ErrServiceNotFound),
		errors.Is(err, discovery.ErrNoHealthyInstances),
		errors.Is(err, balancer.ErrEmptyCandidateSet),
		errors.Is(err, balancer.ErrMissingHashKey),
		errors.Is(err, balancer.ErrUnknownStrategy),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		return true
	}
}
