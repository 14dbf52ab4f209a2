package balancer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackmesh/lib-resilience/discovery"
	"github.com/stackmesh/lib-resilience/log"
)

func candidates(ids ...string) []discovery.ServiceInstance {
	instances := make([]discovery.ServiceInstance, len(ids))
	for i, id := range ids {
		instances[i] = discovery.ServiceInstance{
			ID:     id,
			Host:   "10.0.0.1",
			Port:   8000 + i,
			Status: discovery.StatusHealthy,
		}
	}

	return instances
}

func newBalancer(t *testing.T, strategy Strategy) *Balancer {
	t.Helper()

	b, err := New(strategy, &log.NoneLogger{})
	require.NoError(t, err)

	return b
}

func TestNew_RejectsUnknownStrategy(t *testing.T) {
	_, err := New("fastest", &log.NoneLogger{})
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("least_connections")
	require.NoError(t, err)
	assert.Equal(t, StrategyLeastConnections, s)

	_, err = ParseStrategy("quickest")
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestSelect_EmptyCandidateSet(t *testing.T) {
	b := newBalancer(t, StrategyRoundRobin)

	// Repeated calls with the same empty input always fail the same way.
	for i := 0; i < 3; i++ {
		_, err := b.Select("payments", nil)
		assert.ErrorIs(t, err, ErrEmptyCandidateSet)
	}
}

func TestSelect_SingleCandidateShortCircuits(t *testing.T) {
	for _, strategy := range []Strategy{
		StrategyRoundRobin, StrategyWeightedRoundRobin, StrategyLeastConnections,
		StrategyHealthBased, StrategyRandom, StrategyHash,
	} {
		b := newBalancer(t, strategy)

		picked, err := b.Select("payments", candidates("only"))
		require.NoError(t, err, "strategy %s", strategy)
		assert.Equal(t, "only", picked.ID, "strategy %s", strategy)
	}
}

func TestRoundRobin_Cycles(t *testing.T) {
	b := newBalancer(t, StrategyRoundRobin)
	instances := candidates("A", "B", "C")

	var picked []string

	for i := 0; i < 4; i++ {
		inst, err := b.Select("payments", instances)
		require.NoError(t, err)

		picked = append(picked, inst.ID)
	}

	assert.Equal(t, []string{"A", "B", "C", "A"}, picked)
}

func TestRoundRobin_CursorPersistsAcrossSizeChange(t *testing.T) {
	b := newBalancer(t, StrategyRoundRobin)

	_, err := b.Select("payments", candidates("A", "B", "C"))
	require.NoError(t, err)
	_, err = b.Select("payments", candidates("A", "B", "C"))
	require.NoError(t, err)

	// Cursor is 2; shrinking to two candidates re-derives the index
	// modulo the current size instead of indexing out of bounds.
	inst, err := b.Select("payments", candidates("A", "B"))
	require.NoError(t, err)
	assert.Equal(t, "A", inst.ID)
}

func TestRoundRobin_IndependentPerService(t *testing.T) {
	b := newBalancer(t, StrategyRoundRobin)
	instances := candidates("A", "B")

	first, err := b.Select("payments", instances)
	require.NoError(t, err)

	other, err := b.Select("orders", instances)
	require.NoError(t, err)

	// Each service has its own cursor, so both start at the first instance.
	assert.Equal(t, "A", first.ID)
	assert.Equal(t, "A", other.ID)
}

func TestWeightedRoundRobin_RespectsWeights(t *testing.T) {
	b := newBalancer(t, StrategyWeightedRoundRobin)
	instances := candidates("A", "B")
	b.SetWeights("payments", []int{3, 1})

	counts := map[string]int{}

	for i := 0; i < 8; i++ {
		inst, err := b.Select("payments", instances)
		require.NoError(t, err)

		counts[inst.ID]++
	}

	assert.Equal(t, 6, counts["A"])
	assert.Equal(t, 2, counts["B"])
}

func TestWeightedRoundRobin_DefaultsUniform(t *testing.T) {
	b := newBalancer(t, StrategyWeightedRoundRobin)
	instances := candidates("A", "B", "C")

	var picked []string

	for i := 0; i < 3; i++ {
		inst, err := b.Select("payments", instances)
		require.NoError(t, err)

		picked = append(picked, inst.ID)
	}

	assert.Equal(t, []string{"A", "B", "C"}, picked)
}

func TestWeightedRoundRobin_LengthMismatchFallsBack(t *testing.T) {
	b := newBalancer(t, StrategyWeightedRoundRobin)
	b.SetWeights("payments", []int{5, 1})

	// Three candidates against a two-entry weight vector: plain round
	// robin for this call only.
	instances := candidates("A", "B", "C")

	inst, err := b.Select("payments", instances)
	require.NoError(t, err)
	assert.Equal(t, "A", inst.ID)

	inst, err = b.Select("payments", instances)
	require.NoError(t, err)
	assert.Equal(t, "B", inst.ID)
}

func TestLeastConnections_PicksLeastLoaded(t *testing.T) {
	b := newBalancer(t, StrategyLeastConnections)
	instances := candidates("A", "B", "C")

	for i := 0; i < 2; i++ {
		b.RecordConnection("payments", "A")
	}

	b.RecordConnection("payments", "B")

	for i := 0; i < 3; i++ {
		inst, err := b.Select("payments", instances)
		require.NoError(t, err)
		assert.Equal(t, "C", inst.ID)
	}
}

func TestLeastConnections_TieBrokenByFirstSeen(t *testing.T) {
	b := newBalancer(t, StrategyLeastConnections)

	inst, err := b.Select("payments", candidates("A", "B", "C"))
	require.NoError(t, err)
	assert.Equal(t, "A", inst.ID)
}

func TestReleaseConnection_FloorsAtZero(t *testing.T) {
	b := newBalancer(t, StrategyLeastConnections)

	b.ReleaseConnection("payments", "A")
	b.RecordConnection("payments", "A")
	b.ReleaseConnection("payments", "A")
	b.ReleaseConnection("payments", "A")

	stats := b.StatsFor("payments")
	assert.Equal(t, int64(0), stats.Connections["A"])
}

func TestHealthBased_PicksHighestScore(t *testing.T) {
	b := newBalancer(t, StrategyHealthBased)
	instances := candidates("A", "B", "C")

	b.UpdateHealthScore("payments", "A", 0.8)
	b.UpdateHealthScore("payments", "B", 0.9)
	b.UpdateHealthScore("payments", "C", 0.7)

	for i := 0; i < 3; i++ {
		inst, err := b.Select("payments", instances)
		require.NoError(t, err)
		assert.Equal(t, "B", inst.ID)
	}
}

func TestHealthBased_UnscoredDefaultsToOne(t *testing.T) {
	b := newBalancer(t, StrategyHealthBased)
	instances := candidates("A", "B")

	b.UpdateHealthScore("payments", "A", 0.5)

	inst, err := b.Select("payments", instances)
	require.NoError(t, err)
	assert.Equal(t, "B", inst.ID)
}

func TestUpdateHealthScore_Clamped(t *testing.T) {
	b := newBalancer(t, StrategyHealthBased)

	b.UpdateHealthScore("payments", "A", 1.7)
	b.UpdateHealthScore("payments", "B", -0.4)

	stats := b.StatsFor("payments")
	assert.Equal(t, 1.0, stats.HealthScores["A"])
	assert.Equal(t, 0.0, stats.HealthScores["B"])
}

func TestRandom_StaysInBounds(t *testing.T) {
	b := newBalancer(t, StrategyRandom)
	instances := candidates("A", "B", "C")

	seen := map[string]bool{}

	for i := 0; i < 200; i++ {
		inst, err := b.Select("payments", instances)
		require.NoError(t, err)

		seen[inst.ID] = true
	}

	// With 200 draws over 3 candidates every instance should appear.
	assert.Len(t, seen, 3)
}

func TestHash_DeterministicPerKey(t *testing.T) {
	b := newBalancer(t, StrategyHash)
	instances := candidates("A", "B", "C")

	first, err := b.SelectWithKey("payments", "session-42", instances)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		inst, err := b.SelectWithKey("payments", "session-42", instances)
		require.NoError(t, err)
		assert.Equal(t, first.ID, inst.ID)
	}
}

func TestHash_MissingKeyFails(t *testing.T) {
	b := newBalancer(t, StrategyHash)

	_, err := b.Select("payments", candidates("A", "B"))
	assert.ErrorIs(t, err, ErrMissingHashKey)
}

func TestBalancer_ConcurrentSelect(t *testing.T) {
	b := newBalancer(t, StrategyRoundRobin)
	instances := candidates("A", "B", "C")

	const (
		workers   = 8
		perWorker = 200
	)

	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for i := 0; i < perWorker; i++ {
				inst, err := b.Select("payments", instances)
				assert.NoError(t, err)

				b.RecordConnection("payments", inst.ID)
				b.ReleaseConnection("payments", inst.ID)
			}
		}()
	}

	wg.Wait()

	// Every select advanced the cursor exactly once and every connection
	// was released.
	stats := b.StatsFor("payments")
	assert.Equal(t, uint64(workers*perWorker), stats.Cursor)

	for _, id := range []string{"A", "B", "C"} {
		assert.Equal(t, int64(0), stats.Connections[id])
	}
}

func TestUpdateStrategy(t *testing.T) {
	b := newBalancer(t, StrategyRoundRobin)

	require.NoError(t, b.UpdateStrategy(StrategyLeastConnections))
	assert.Equal(t, StrategyLeastConnections, b.CurrentStrategy())

	err := b.UpdateStrategy("fastest")
	assert.ErrorIs(t, err, ErrUnknownStrategy)
	assert.Equal(t, StrategyLeastConnections, b.CurrentStrategy())
}
