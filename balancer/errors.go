package balancer

import "errors"

var (
	// ErrEmptyCandidateSet is returned when Select is called with no
	// candidates. Selection never fabricates a placeholder instance.
	ErrEmptyCandidateSet = errors.New("balancer: empty candidate set")

	// ErrUnknownStrategy is returned for a strategy outside the known set.
	ErrUnknownStrategy = errors.New("balancer: unknown strategy")

	// ErrMissingHashKey is returned when the hash strategy is used without
	// a caller-supplied key.
	ErrMissingHashKey = errors.New("balancer: hash strategy requires a non-empty key")
)
