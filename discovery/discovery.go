package discovery

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stackmesh/lib-resilience/log"
)

// Discovery drives the periodic health sweep over a registry. Each tick
// re-probes every instance of every registered service and pushes the
// updated instance list to subscribers if and only if the health-status
// vector actually changed.
type Discovery struct {
	registry *Registry
	config   Config
	probe    ProbeFunc
	logger   log.Logger

	wg sync.WaitGroup

	mu       sync.Mutex
	started  bool
	stopChan chan struct{}
}

// NewDiscovery creates a sweep for the given registry. The probe is
// injected by the transport layer; when nil, a stub that fails every
// probe is installed so misconfiguration shows up as unhealthy instances
// rather than silent success.
func NewDiscovery(registry *Registry, config Config, probe ProbeFunc, logger log.Logger) (*Discovery, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if logger == nil {
		logger = &log.NoneLogger{}
	}

	if probe == nil {
		probe = func(context.Context, ServiceInstance) error {
			return ErrProbeNotConfigured
		}
	}

	return &Discovery{
		registry: registry,
		config:   config,
		probe:    probe,
		logger:   logger,
		stopChan: make(chan struct{}),
	}, nil
}

// Start launches the sweep goroutine. It is a no-op when the interval is
// zero, health checking is disabled, or the sweep is already running. A
// stopped sweep can be started again.
func (d *Discovery) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return
	}

	if d.config.Interval == 0 || !d.config.HealthCheckEnabled {
		d.logger.Infof("discovery sweep disabled (interval=%v, enabled=%v)",
			d.config.Interval, d.config.HealthCheckEnabled)
		return
	}

	d.started = true
	d.stopChan = make(chan struct{})
	d.wg.Add(1)

	go d.sweepLoop(d.stopChan)

	d.logger.Infof("discovery sweep started - probing services every %v", d.config.Interval)
}

// Stop terminates the sweep. It waits for an in-flight tick to finish, so
// no state is mutated after Stop returns. Safe to call more than once.
func (d *Discovery) Stop() {
	d.mu.Lock()

	if !d.started {
		d.mu.Unlock()
		return
	}

	d.started = false
	close(d.stopChan)
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info("discovery sweep stopped")
}

func (d *Discovery) sweepLoop(stop <-chan struct{}) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.Sweep(context.Background())
		case <-stop:
			return
		}
	}
}

// Sweep runs one full probe pass synchronously. Exposed so callers can
// force an immediate re-evaluation outside the periodic schedule.
func (d *Discovery) Sweep(ctx context.Context) {
	d.mu.Lock()
	stop := d.stopChan
	d.mu.Unlock()

	for _, def := range d.registry.ListAll() {
		select {
		case <-stop:
			return
		default:
		}

		d.sweepService(ctx, def)
	}
}

func (d *Discovery) sweepService(ctx context.Context, def ServiceDefinition) {
	statuses := make([]InstanceStatus, len(def.Instances))

	grp, grpCtx := errgroup.WithContext(ctx)
	grp.SetLimit(d.config.MaxConcurrentProbes)

	for i, inst := range def.Instances {
		grp.Go(func() error {
			probeCtx, cancel := context.WithTimeout(grpCtx, d.config.ProbeTimeout)
			defer cancel()

			if err := d.probe(probeCtx, inst); err != nil {
				d.logger.Debugf("probe failed for %s/%s: %v", def.Name, inst.ID, err)
				statuses[i] = StatusUnhealthy
			} else {
				statuses[i] = StatusHealthy
			}

			return nil
		})
	}

	// Probe errors are folded into statuses; the group never fails.
	_ = grp.Wait()

	byID := make(map[string]InstanceStatus, len(def.Instances))
	for i, inst := range def.Instances {
		byID[inst.ID] = statuses[i]
	}

	changed, subs, instances := d.registry.applyStatuses(def.Name, byID)
	if !changed {
		return
	}

	d.logger.Infof("health sweep changed instance set for service %s", def.Name)
	notify(subs, def.Name, instances)
}
