// Package circuitbreaker implements a per-service failure-tracking state
// machine that blocks calls to a service believed to be failing.
//
// There are no background timers: the open to half-open transition is
// evaluated lazily on every query and every recorded outcome, under the
// manager mutex, so two concurrent queries can never both decide to
// transition.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/stackmesh/lib-resilience/internal/ratio"
	"github.com/stackmesh/lib-resilience/log"
)

// transition is a pending listener notification collected under the lock
// and delivered after it is released.
type transition struct {
	service string
	from    State
	to      State
}

// Manager owns one circuit record per service name. Records are created
// lazily on first access with the default closed state and are never
// destroyed, so memory is bounded by the number of known services.
type Manager struct {
	mu        sync.Mutex
	config    Config
	records   map[string]*record
	listeners []StateChangeListener
	logger    log.Logger
	now       func() time.Time
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock replaces the time source, letting tests drive the open
// timeout without sleeping.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a circuit breaker manager. The configuration is
// validated up front.
func NewManager(config Config, logger log.Logger, opts ...Option) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if logger == nil {
		logger = &log.NoneLogger{}
	}

	m := &Manager{
		config:  config,
		records: make(map[string]*record),
		logger:  logger,
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

// Allow reports whether a request to the service should be attempted.
// Closed admits everything; open admits nothing; half-open admits at most
// HalfOpenRequestLimit concurrent probes. A disabled breaker admits
// everything.
func (m *Manager) Allow(service string) bool {
	if !m.config.Enabled {
		return true
	}

	m.mu.Lock()

	rec := m.recordFor(service)
	pending := m.evaluate(service, rec)

	allowed := false

	switch rec.state {
	case StateClosed:
		allowed = true
	case StateHalfOpen:
		if rec.halfOpenInFlight < m.config.HalfOpenRequestLimit {
			rec.halfOpenInFlight++
			allowed = true
		}
	case StateOpen:
	}

	m.mu.Unlock()
	m.fire(pending)

	return allowed
}

// RecordSuccess records a successful call outcome for the service.
func (m *Manager) RecordSuccess(service string) {
	m.mu.Lock()

	rec := m.recordFor(service)
	pending := m.evaluate(service, rec)

	rec.totalRequests++
	rec.totalSuccesses++
	rec.requestCount++

	if m.config.Enabled {
		switch rec.state {
		case StateClosed:
			rec.successCount++
		case StateHalfOpen:
			rec.successCount++
			if rec.halfOpenInFlight > 0 {
				rec.halfOpenInFlight--
			}

			if rec.successCount >= int64(m.config.SuccessThreshold) {
				rec.failureCount = 0
				pending = append(pending, m.moveTo(service, rec, StateClosed))
			}
		case StateOpen:
			rec.successCount++
		}
	}

	m.mu.Unlock()
	m.fire(pending)
}

// RecordFailure records a failed call outcome for the service.
func (m *Manager) RecordFailure(service string) {
	m.mu.Lock()

	rec := m.recordFor(service)
	pending := m.evaluate(service, rec)

	rec.totalRequests++
	rec.totalFailures++
	rec.requestCount++

	if m.config.Enabled {
		switch rec.state {
		case StateClosed:
			rec.failureCount++
			if rec.failureCount >= int64(m.config.FailureThreshold) {
				rec.lastFailureTime = m.now()
				pending = append(pending, m.moveTo(service, rec, StateOpen))
			}
		case StateHalfOpen:
			// Any failure while probing immediately reopens the circuit.
			rec.failureCount++
			if rec.halfOpenInFlight > 0 {
				rec.halfOpenInFlight--
			}

			rec.lastFailureTime = m.now()
			pending = append(pending, m.moveTo(service, rec, StateOpen))
		case StateOpen:
			rec.failureCount++
		}
	}

	m.mu.Unlock()
	m.fire(pending)
}

// State returns the current state for the service, after lazily applying
// any due open to half-open transition. A disabled breaker always
// reports closed.
func (m *Manager) State(service string) State {
	if !m.config.Enabled {
		return StateClosed
	}

	m.mu.Lock()

	rec := m.recordFor(service)
	pending := m.evaluate(service, rec)
	state := rec.state

	m.mu.Unlock()
	m.fire(pending)

	return state
}

// IsClosed reports whether the circuit for the service is closed.
func (m *Manager) IsClosed(service string) bool { return m.State(service) == StateClosed }

// IsOpen reports whether the circuit for the service is open.
func (m *Manager) IsOpen(service string) bool { return m.State(service) == StateOpen }

// IsHalfOpen reports whether the circuit for the service is half-open.
func (m *Manager) IsHalfOpen(service string) bool { return m.State(service) == StateHalfOpen }

// Reset forces the circuit for one service back to closed, zeroing all
// epoch counters. Lifetime statistics are preserved. Other services are
// unaffected.
func (m *Manager) Reset(service string) {
	m.mu.Lock()

	rec := m.recordFor(service)

	var pending []transition
	if rec.state != StateClosed {
		pending = append(pending, m.moveTo(service, rec, StateClosed))
	}

	rec.failureCount = 0
	rec.successCount = 0
	rec.requestCount = 0
	rec.halfOpenInFlight = 0

	m.mu.Unlock()

	m.logger.Infof("circuit for service %s reset to closed", service)
	m.fire(pending)
}

// ResetAll resets every tracked service.
func (m *Manager) ResetAll() {
	m.mu.Lock()
	services := make([]string, 0, len(m.records))

	for service := range m.records {
		services = append(services, service)
	}
	m.mu.Unlock()

	for _, service := range services {
		m.Reset(service)
	}
}

// StatsFor returns the statistics snapshot for one service.
func (m *Manager) StatsFor(service string) Stats {
	m.mu.Lock()

	rec := m.recordFor(service)
	pending := m.evaluate(service, rec)
	stats := m.snapshot(service, rec)

	m.mu.Unlock()
	m.fire(pending)

	return stats
}

// AggregateStats sums totals across all tracked services. The aggregate
// failure rate is recomputed from the summed counters, never averaged
// from per-service rates.
func (m *Manager) AggregateStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	agg := Stats{Service: "*"}

	for _, rec := range m.records {
		agg.TotalRequests += rec.totalRequests
		agg.TotalSuccesses += rec.totalSuccesses
		agg.TotalFailures += rec.totalFailures

		if rec.lastFailureTime.After(agg.LastFailureTime) {
			agg.LastFailureTime = rec.lastFailureTime
		}
	}

	agg.FailureRate = ratio.DivideOrZero(float64(agg.TotalFailures), float64(agg.TotalRequests))

	return agg
}

// RegisterStateChangeListener registers a listener for circuit state
// transitions. A nil listener is ignored.
func (m *Manager) RegisterStateChangeListener(listener StateChangeListener) {
	if listener == nil {
		m.logger.Warnf("ignoring nil state change listener")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.listeners = append(m.listeners, listener)
}

// recordFor returns (lazily creating) the record for a service. Callers
// must hold the mutex.
func (m *Manager) recordFor(service string) *record {
	rec, ok := m.records[service]
	if !ok {
		rec = newRecord()
		m.records[service] = rec
	}

	return rec
}

// evaluate applies the lazy open to half-open transition when the open
// timeout has elapsed. Callers must hold the mutex.
func (m *Manager) evaluate(service string, rec *record) []transition {
	if !m.config.Enabled || rec.state != StateOpen {
		return nil
	}

	if m.now().Sub(rec.lastFailureTime) < m.config.Timeout {
		return nil
	}

	rec.successCount = 0
	rec.halfOpenInFlight = 0

	return []transition{m.moveTo(service, rec, StateHalfOpen)}
}

// moveTo performs a state transition and returns the pending listener
// notification. Callers must hold the mutex.
func (m *Manager) moveTo(service string, rec *record, to State) transition {
	from := rec.state
	rec.state = to

	switch to {
	case StateOpen:
		m.logger.Warnf("circuit for service %s opened (%s -> %s)", service, from, to)
	case StateHalfOpen:
		m.logger.Infof("circuit for service %s half-open, probing recovery", service)
	case StateClosed:
		m.logger.Infof("circuit for service %s closed", service)
	}

	return transition{service: service, from: from, to: to}
}

// fire delivers pending notifications outside the lock. Each listener
// runs in its own goroutine with panic recovery so a misbehaving listener
// cannot stall or crash breaker operations.
func (m *Manager) fire(pending []transition) {
	if len(pending) == 0 {
		return
	}

	m.mu.Lock()
	listeners := append([]StateChangeListener(nil), m.listeners...)
	m.mu.Unlock()

	for _, tr := range pending {
		for _, listener := range listeners {
			go func(l StateChangeListener, tr transition) {
				defer func() {
					if r := recover(); r != nil {
						m.logger.Errorf("state change listener panic for service %s: %v", tr.service, r)
					}
				}()

				l.OnStateChange(tr.service, tr.from, tr.to)
			}(listener, tr)
		}
	}
}

// snapshot builds a Stats value for one record. Callers must hold the
// mutex.
func (m *Manager) snapshot(service string, rec *record) Stats {
	state := rec.state
	if !m.config.Enabled {
		state = StateClosed
	}

	return Stats{
		Service:         service,
		State:           state,
		TotalRequests:   rec.totalRequests,
		TotalSuccesses:  rec.totalSuccesses,
		TotalFailures:   rec.totalFailures,
		FailureRate:     ratio.DivideOrZero(float64(rec.totalFailures), float64(rec.totalRequests)),
		LastFailureTime: rec.lastFailureTime,
	}
}
