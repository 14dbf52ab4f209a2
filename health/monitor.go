// Package health maintains per-service health records with push-style
// subscription, independent from the circuit breaker and load balancer.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/stackmesh/lib-resilience/log"
)

// Status is the reported health of a service.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// Record is the last-known health of one service.
type Record struct {
	Service      string
	Status       Status
	ResponseTime time.Duration
	LastChecked  time.Time
	LastError    string
}

// Callback receives a health record after it is stored.
type Callback func(Record)

// ProbeFunc re-evaluates the health of one service. Injected by the
// transport layer; tests supply deterministic fakes.
type ProbeFunc func(ctx context.Context, service string) Record

// Monitor owns one health record per tracked service and fans updates
// out to subscribers synchronously, in subscription order.
type Monitor struct {
	mu          sync.Mutex
	config      Config
	records     map[string]Record
	subscribers map[string][]Callback
	probe       ProbeFunc
	logger      log.Logger

	wg       sync.WaitGroup
	started  bool
	stopChan chan struct{}
}

// NewMonitor creates a health monitor. The probe may be nil when only
// explicit UpdateStatus pushes are used; StartMonitoring requires one.
func NewMonitor(config Config, probe ProbeFunc, logger log.Logger) (*Monitor, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if logger == nil {
		logger = &log.NoneLogger{}
	}

	return &Monitor{
		config:      config,
		records:     make(map[string]Record),
		subscribers: make(map[string][]Callback),
		probe:       probe,
		logger:      logger,
		stopChan:    make(chan struct{}),
	}, nil
}

// UpdateStatus upserts the record and synchronously invokes any
// subscribed callbacks for that service, on the caller's goroutine,
// after storing.
func (m *Monitor) UpdateStatus(rec Record) {
	m.mu.Lock()

	if rec.LastChecked.IsZero() {
		rec.LastChecked = time.Now()
	}

	m.records[rec.Service] = rec

	var subs []Callback
	if m.config.NotificationsEnabled {
		subs = append([]Callback(nil), m.subscribers[rec.Service]...)
	}

	m.mu.Unlock()

	for _, fn := range subs {
		fn(rec)
	}
}

// Subscribe appends a callback for the service. Multiple subscribers per
// service are invoked in subscription order.
func (m *Monitor) Subscribe(service string, fn Callback) {
	if fn == nil {
		m.logger.Warnf("ignoring nil health subscriber for service %s", service)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.subscribers[service] = append(m.subscribers[service], fn)
}

// Unsubscribe removes all callbacks for the service.
func (m *Monitor) Unsubscribe(service string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.subscribers, service)
}

// Get returns the record for one service.
func (m *Monitor) Get(service string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[service]

	return rec, ok
}

// GetAll returns a snapshot of every current record.
func (m *Monitor) GetAll() map[string]Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := make(map[string]Record, len(m.records))
	for service, rec := range m.records {
		snapshot[service] = rec
	}

	return snapshot
}

// StartMonitoring launches the single global periodic task. On each tick
// every currently tracked service is re-probed; state is updated and the
// given top-level callback is invoked once per service per tick. No-op
// when already started or when the interval is zero. A stopped monitor
// can be started again.
func (m *Monitor) StartMonitoring(onUpdate Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return
	}

	if m.config.Interval == 0 || m.probe == nil {
		m.logger.Infof("health monitoring disabled (interval=%v, probe=%v)",
			m.config.Interval, m.probe != nil)
		return
	}

	m.started = true
	m.stopChan = make(chan struct{})
	m.wg.Add(1)

	go m.monitorLoop(m.stopChan, onUpdate)

	m.logger.Infof("health monitor started - probing services every %v", m.config.Interval)
}

// Stop terminates periodic monitoring, waiting for an in-flight tick so
// no callback fires after Stop returns. Safe to call more than once.
func (m *Monitor) Stop() {
	m.mu.Lock()

	if !m.started {
		m.mu.Unlock()
		return
	}

	m.started = false
	close(m.stopChan)
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("health monitor stopped")
}

func (m *Monitor) monitorLoop(stop <-chan struct{}, onUpdate Callback) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.tick(stop, onUpdate)
		case <-stop:
			return
		}
	}
}

func (m *Monitor) tick(stop <-chan struct{}, onUpdate Callback) {
	m.mu.Lock()
	services := make([]string, 0, len(m.records))

	for service := range m.records {
		services = append(services, service)
	}
	m.mu.Unlock()

	for _, service := range services {
		select {
		case <-stop:
			return
		default:
		}

		rec := m.probeWithRetry(service)
		m.UpdateStatus(rec)

		if onUpdate != nil {
			onUpdate(rec)
		}
	}
}

// probeWithRetry runs the injected probe, retrying up to RetryCount extra
// times while the result is unhealthy.
func (m *Monitor) probeWithRetry(service string) Record {
	var rec Record

	for attempt := 0; attempt <= m.config.RetryCount; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), m.config.ProbeTimeout)
		rec = m.probe(ctx, service)

		cancel()

		if rec.Status == StatusHealthy {
			break
		}
	}

	rec.Service = service

	if rec.LastChecked.IsZero() {
		rec.LastChecked = time.Now()
	}

	return rec
}
