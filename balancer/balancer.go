// Package balancer selects one service instance from a candidate set per
// call, using a pluggable strategy. All per-service bookkeeping (cursors,
// weights, connection counts, health scores) is keyed by an explicit
// service name supplied on every call.
package balancer

import (
	"fmt"
	"hash/crc32"
	"math/rand/v2"
	"sync"

	"github.com/stackmesh/lib-resilience/discovery"
	"github.com/stackmesh/lib-resilience/internal/ratio"
	"github.com/stackmesh/lib-resilience/log"
)

// serviceState holds the mutable selection state for one service.
type serviceState struct {
	cursor       uint64
	weightCursor uint64
	weights      []int
	connections  map[string]int64
	healthScores map[string]float64
}

// Balancer dispatches selection to the configured strategy. A single
// mutex serializes all state mutation; selection is in-memory and
// performs no I/O.
type Balancer struct {
	mu       sync.Mutex
	strategy Strategy
	states   map[string]*serviceState
	logger   log.Logger
}

// New creates a balancer with the given initial strategy.
func New(strategy Strategy, logger log.Logger) (*Balancer, error) {
	if !strategy.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}

	if logger == nil {
		logger = &log.NoneLogger{}
	}

	return &Balancer{
		strategy: strategy,
		states:   make(map[string]*serviceState),
		logger:   logger,
	}, nil
}

// UpdateStrategy swaps the selection strategy. Takes effect on the next
// Select call.
func (b *Balancer) UpdateStrategy(strategy Strategy) error {
	if !strategy.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.strategy = strategy
	b.logger.Infof("load balancing strategy updated to %s", strategy)

	return nil
}

// CurrentStrategy returns the strategy in effect.
func (b *Balancer) CurrentStrategy() Strategy {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.strategy
}

// Select picks one instance from the candidates for the named service.
// An empty candidate set is a caller error and fails with
// ErrEmptyCandidateSet. Single-candidate sets always return that
// candidate regardless of strategy.
func (b *Balancer) Select(service string, instances []discovery.ServiceInstance) (discovery.ServiceInstance, error) {
	return b.SelectWithKey(service, "", instances)
}

// SelectWithKey is Select with an explicit hash key, required by the hash
// strategy. Other strategies ignore the key.
func (b *Balancer) SelectWithKey(service, key string, instances []discovery.ServiceInstance) (discovery.ServiceInstance, error) {
	if len(instances) == 0 {
		return discovery.ServiceInstance{}, fmt.Errorf("%w: service %s", ErrEmptyCandidateSet, service)
	}

	if len(instances) == 1 {
		return instances[0], nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.stateFor(service)

	var idx int

	switch b.strategy {
	case StrategyRoundRobin:
		idx = b.roundRobin(state, len(instances))
	case StrategyWeightedRoundRobin:
		idx = b.weightedRoundRobin(state, len(instances))
	case StrategyLeastConnections:
		idx = leastConnections(state, instances)
	case StrategyHealthBased:
		idx = healthBased(state, instances)
	case StrategyRandom:
		idx = rand.IntN(len(instances)) // #nosec G404 -- load spreading, not security-sensitive
	case StrategyHash:
		if key == "" {
			return discovery.ServiceInstance{}, fmt.Errorf("%w: service %s", ErrMissingHashKey, service)
		}

		idx = int(crc32.ChecksumIEEE([]byte(key)) % uint32(len(instances)))
	default:
		return discovery.ServiceInstance{}, fmt.Errorf("%w: %q", ErrUnknownStrategy, b.strategy)
	}

	return instances[idx], nil
}

// roundRobin advances the per-service cursor by one. The cursor persists
// across calls even when the candidate set shrinks or grows; the index is
// re-derived modulo the current size so it never runs out of bounds.
func (b *Balancer) roundRobin(state *serviceState, count int) int {
	idx := int(state.cursor % uint64(count))
	state.cursor++

	return idx
}

// weightedRoundRobin advances a running counter modulo the total weight
// and picks the instance whose cumulative weight bracket contains it.
// When the cached weight vector no longer matches the candidate count
// (topology changed since SetWeights), it falls back to plain round robin
// for that call only.
func (b *Balancer) weightedRoundRobin(state *serviceState, count int) int {
	if len(state.weights) != count {
		if state.weights != nil {
			b.logger.Warnf("weight vector length %d does not match %d candidates, falling back to round robin",
				len(state.weights), count)
			return b.roundRobin(state, count)
		}

		// First use: default to uniform weight 1 per instance.
		state.weights = make([]int, count)
		for i := range state.weights {
			state.weights[i] = 1
		}
	}

	total := 0
	for _, w := range state.weights {
		total += w
	}

	if total <= 0 {
		return b.roundRobin(state, count)
	}

	counter := state.weightCursor % uint64(total)
	state.weightCursor++

	cumulative := uint64(0)

	for i, w := range state.weights {
		cumulative += uint64(w)
		if counter < cumulative {
			return i
		}
	}

	return count - 1
}

// leastConnections picks the candidate with the smallest active-connection
// counter, ties broken by first-seen order in the candidate list.
func leastConnections(state *serviceState, instances []discovery.ServiceInstance) int {
	best := 0
	bestCount := state.connections[instances[0].ID]

	for i := 1; i < len(instances); i++ {
		if count := state.connections[instances[i].ID]; count < bestCount {
			best = i
			bestCount = count
		}
	}

	return best
}

// healthBased picks the candidate with the highest cached health score,
// defaulting to 1.0 for instances never scored. Ties broken by first-seen
// order.
func healthBased(state *serviceState, instances []discovery.ServiceInstance) int {
	best := 0
	bestScore := scoreFor(state, instances[0].ID)

	for i := 1; i < len(instances); i++ {
		if score := scoreFor(state, instances[i].ID); score > bestScore {
			best = i
			bestScore = score
		}
	}

	return best
}

func scoreFor(state *serviceState, instanceID string) float64 {
	if score, ok := state.healthScores[instanceID]; ok {
		return score
	}

	return 1.0
}

// SetWeights installs the weight vector for a service, parallel to the
// candidate list passed to Select.
func (b *Balancer) SetWeights(service string, weights []int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.stateFor(service)
	state.weights = append([]int(nil), weights...)
}

// RecordConnection increments the active-connection counter for an
// instance. Counters are never inferred from selection itself.
func (b *Balancer) RecordConnection(service, instanceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stateFor(service).connections[instanceID]++
}

// ReleaseConnection decrements the active-connection counter, flooring
// at zero.
func (b *Balancer) ReleaseConnection(service, instanceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.stateFor(service)
	if state.connections[instanceID] > 0 {
		state.connections[instanceID]--
	}
}

// UpdateHealthScore stores a health score for an instance, clamped to
// [0.0, 1.0] by contract.
func (b *Balancer) UpdateHealthScore(service, instanceID string, score float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stateFor(service).healthScores[instanceID] = ratio.Clamp01(score)
}

// Stats is a diagnostics snapshot of one service's selection state.
type Stats struct {
	Strategy     Strategy
	Cursor       uint64
	Weights      []int
	Connections  map[string]int64
	HealthScores map[string]float64
}

// StatsFor returns a snapshot of the selection state for a service.
func (b *Balancer) StatsFor(service string) Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.stateFor(service)

	connections := make(map[string]int64, len(state.connections))
	for id, count := range state.connections {
		connections[id] = count
	}

	scores := make(map[string]float64, len(state.healthScores))
	for id, score := range state.healthScores {
		scores[id] = score
	}

	return Stats{
		Strategy:     b.strategy,
		Cursor:       state.cursor,
		Weights:      append([]int(nil), state.weights...),
		Connections:  connections,
		HealthScores: scores,
	}
}

// stateFor returns (lazily creating) the state for a service. Callers
// must hold the mutex.
func (b *Balancer) stateFor(service string) *serviceState {
	state, ok := b.states[service]
	if !ok {
		state = &serviceState{
			connections:  make(map[string]int64),
			healthScores: make(map[string]float64),
		}
		b.states[service] = state
	}

	return state
}
