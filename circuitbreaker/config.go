package circuitbreaker

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is returned for out-of-range configuration values.
var ErrInvalidConfig = errors.New("circuitbreaker: invalid configuration")

// Config holds circuit breaker configuration, shared by every service
// tracked by a Manager.
type Config struct {
	// FailureThreshold is the number of failures while closed that opens
	// the circuit.
	FailureThreshold int

	// Timeout is how long an open circuit waits before admitting probe
	// requests in the half-open state.
	Timeout time.Duration

	// SuccessThreshold is the number of successes while half-open that
	// closes the circuit.
	SuccessThreshold int

	// HalfOpenRequestLimit caps concurrent probe requests while half-open.
	HalfOpenRequestLimit int

	// Enabled disables the breaker entirely when false: every service
	// reports closed regardless of recorded failures, while statistics
	// are still counted for observability.
	Enabled bool
}

// DefaultConfig provides the standard breaker settings.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:     5,
		Timeout:              60 * time.Second,
		SuccessThreshold:     3,
		HalfOpenRequestLimit: 1,
		Enabled:              true,
	}
}

// Validate rejects non-positive thresholds. Invalid values are surfaced
// at construction time, never silently clamped.
func (c Config) Validate() error {
	if c.FailureThreshold <= 0 {
		return fmt.Errorf("%w: failure threshold must be positive, got %d", ErrInvalidConfig, c.FailureThreshold)
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive, got %v", ErrInvalidConfig, c.Timeout)
	}

	if c.SuccessThreshold <= 0 {
		return fmt.Errorf("%w: success threshold must be positive, got %d", ErrInvalidConfig, c.SuccessThreshold)
	}

	if c.HalfOpenRequestLimit <= 0 {
		return fmt.Errorf("%w: half-open request limit must be positive, got %d", ErrInvalidConfig, c.HalfOpenRequestLimit)
	}

	return nil
}
