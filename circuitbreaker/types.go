package circuitbreaker

import "time"

// State represents the circuit breaker state for one service.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// StateChangeListener is notified when a circuit changes state.
// Notifications are delivered asynchronously; listeners must not rely on
// ordering relative to the call that triggered the transition.
type StateChangeListener interface {
	OnStateChange(service string, from State, to State)
}

// Stats is a statistics snapshot for one service, or the aggregate across
// all services.
type Stats struct {
	Service         string
	State           State
	TotalRequests   int64
	TotalSuccesses  int64
	TotalFailures   int64
	FailureRate     float64
	LastFailureTime time.Time
}

// record is the per-service circuit state. The failure/success/request
// counters are epoch counters: monotonic within a state epoch, zeroed on
// the transitions the state machine defines. The total* counters are
// lifetime statistics and survive transitions.
type record struct {
	state State

	failureCount int64
	successCount int64
	requestCount int64

	halfOpenInFlight int

	totalRequests  int64
	totalSuccesses int64
	totalFailures  int64

	lastFailureTime time.Time
}

func newRecord() *record {
	return &record{state: StateClosed}
}
