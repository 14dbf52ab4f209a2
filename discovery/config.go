package discovery

import (
	"fmt"
	"time"
)

// Config controls the periodic discovery sweep.
type Config struct {
	// Interval between sweeps. Zero disables the sweep entirely.
	Interval time.Duration

	// ProbeTimeout bounds each individual health probe.
	ProbeTimeout time.Duration

	// MaxConcurrentProbes caps how many probes run in parallel per sweep.
	MaxConcurrentProbes int

	// HealthCheckEnabled gates the sweep without changing the interval.
	HealthCheckEnabled bool

	// MaxCacheSize caps how many distinct services the registry holds.
	// Zero means unbounded.
	MaxCacheSize int
}

// DefaultConfig provides the standard sweep settings: a 30 second
// interval with health checking enabled.
func DefaultConfig() Config {
	return Config{
		Interval:            30 * time.Second,
		ProbeTimeout:        5 * time.Second,
		MaxConcurrentProbes: 8,
		HealthCheckEnabled:  true,
	}
}

// Validate rejects out-of-range values. Invalid thresholds are surfaced
// at construction time, never silently clamped.
func (c Config) Validate() error {
	if c.Interval < 0 {
		return fmt.Errorf("%w: interval must be >= 0, got %v", ErrInvalidConfig, c.Interval)
	}

	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("%w: probe timeout must be positive, got %v", ErrInvalidConfig, c.ProbeTimeout)
	}

	if c.MaxConcurrentProbes <= 0 {
		return fmt.Errorf("%w: max concurrent probes must be positive, got %d", ErrInvalidConfig, c.MaxConcurrentProbes)
	}

	if c.MaxCacheSize < 0 {
		return fmt.Errorf("%w: max cache size must be >= 0, got %d", ErrInvalidConfig, c.MaxCacheSize)
	}

	return nil
}
