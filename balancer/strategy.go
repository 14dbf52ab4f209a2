package balancer

import "fmt"

// Strategy selects the rule used to pick one instance among several.
type Strategy string

const (
	// StrategyRoundRobin cycles through candidates in order.
	StrategyRoundRobin Strategy = "round_robin"

	// StrategyWeightedRoundRobin cycles proportionally to configured weights.
	StrategyWeightedRoundRobin Strategy = "weighted_round_robin"

	// StrategyLeastConnections picks the candidate with the fewest active
	// connections recorded via RecordConnection/ReleaseConnection.
	StrategyLeastConnections Strategy = "least_connections"

	// StrategyHealthBased picks the candidate with the highest health score.
	StrategyHealthBased Strategy = "health_based"

	// StrategyRandom picks a uniformly random candidate.
	StrategyRandom Strategy = "random"

	// StrategyHash picks deterministically from a caller-supplied key, so
	// the same key maps to the same candidate while the set is stable.
	StrategyHash Strategy = "hash"
)

// Valid reports whether the strategy is one of the known constants.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyRoundRobin, StrategyWeightedRoundRobin, StrategyLeastConnections,
		StrategyHealthBased, StrategyRandom, StrategyHash:
		return true
	default:
		return false
	}
}

// ParseStrategy converts a string into a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	strategy := Strategy(s)
	if !strategy.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
	}

	return strategy, nil
}
