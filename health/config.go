package health

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is returned for out-of-range configuration values.
var ErrInvalidConfig = errors.New("health: invalid configuration")

// Config controls the periodic health monitor.
type Config struct {
	// Interval between monitoring ticks. Zero disables periodic
	// monitoring; explicit UpdateStatus pushes still work.
	Interval time.Duration

	// ProbeTimeout bounds each individual probe.
	ProbeTimeout time.Duration

	// RetryCount is how many extra probe attempts are made per tick while
	// the result stays unhealthy.
	RetryCount int

	// NotificationsEnabled gates subscriber fan-out. State is still
	// updated when disabled.
	NotificationsEnabled bool
}

// DefaultConfig provides the standard monitor settings: a 30 second
// interval with notifications enabled.
func DefaultConfig() Config {
	return Config{
		Interval:             30 * time.Second,
		ProbeTimeout:         5 * time.Second,
		RetryCount:           0,
		NotificationsEnabled: true,
	}
}

// Validate rejects out-of-range values.
func (c Config) Validate() error {
	if c.Interval < 0 {
		return fmt.Errorf("%w: interval must be >= 0, got %v", ErrInvalidConfig, c.Interval)
	}

	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("%w: probe timeout must be positive, got %v", ErrInvalidConfig, c.ProbeTimeout)
	}

	if c.RetryCount < 0 {
		return fmt.Errorf("%w: retry count must be >= 0, got %d", ErrInvalidConfig, c.RetryCount)
	}

	return nil
}
