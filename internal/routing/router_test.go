package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryrelay/queryrelay/internal/config"
	"github.com/queryrelay/queryrelay/internal/health"
	"github.com/queryrelay/queryrelay/internal/logging"
	"github.com/queryrelay/queryrelay/internal/models"
	"github.com/queryrelay/queryrelay/internal/topology"
)

// buildRouter creates a router over a manager and two workers, with the
// given health snapshot applied
func buildRouter(t *testing.T, statuses map[string]models.NodeStatus) *Router {
	t.Helper()

	topo, err := topology.FromConfig(config.TopologyConfig{
		Manager: config.Endpoint{Host: "10.0.0.1", Port: 3306},
		Workers: []config.Endpoint{
			{Host: "10.0.0.2", Port: 3306},
			{Host: "10.0.0.3", Port: 3306},
		},
	})
	require.NoError(t, err)

	tracker := health.NewTracker(topo.Nodes())
	tracker.Publish(statuses)

	return New(topo, tracker, logging.NewDevelopment())
}

func allHealthy() map[string]models.NodeStatus {
	return map[string]models.NodeStatus{
		"manager":  {Healthy: true, LatencyMs: 1},
		"worker-1": {Healthy: true, LatencyMs: 10},
		"worker-2": {Healthy: true, LatencyMs: 5},
	}
}

func TestRoute_WriteAndUnknownAlwaysManager(t *testing.T) {
	r := buildRouter(t, allHealthy())

	for _, kind := range []models.Kind{models.KindWrite, models.KindUnknown} {
		for _, strategy := range []models.Strategy{
			models.StrategyDirect, models.StrategyRandom, models.StrategyCustom,
		} {
			d, err := r.Route(kind, strategy)
			require.NoError(t, err)
			assert.Equal(t, "manager", d.Chosen().ID,
				"kind=%s strategy=%s", kind, strategy)
			// Writes get no cross-node retry candidate
			assert.Len(t, d.Candidates, 1)
		}
	}
}

func TestRoute_DirectReadsManager(t *testing.T) {
	r := buildRouter(t, allHealthy())

	d, err := r.Route(models.KindRead, models.StrategyDirect)
	require.NoError(t, err)
	assert.Equal(t, "manager", d.Chosen().ID)
}

func TestRoute_RandomIsUniformAcrossHealthyWorkers(t *testing.T) {
	r := buildRouter(t, allHealthy())

	const trials = 20000
	counts := make(map[string]int)
	for i := 0; i < trials; i++ {
		d, err := r.Route(models.KindRead, models.StrategyRandom)
		require.NoError(t, err)
		counts[d.Chosen().ID]++
	}

	assert.Zero(t, counts["manager"], "random reads must not hit the manager while workers are healthy")
	// Uniform split within 5 percentage points of 50/50
	for _, id := range []string{"worker-1", "worker-2"} {
		share := float64(counts[id]) / trials
		assert.InDelta(t, 0.5, share, 0.05, "worker %s share", id)
	}
}

func TestRoute_RandomSkipsUnhealthyWorker(t *testing.T) {
	statuses := allHealthy()
	statuses["worker-1"] = models.NodeStatus{Healthy: false}
	r := buildRouter(t, statuses)

	for i := 0; i < 100; i++ {
		d, err := r.Route(models.KindRead, models.StrategyRandom)
		require.NoError(t, err)
		assert.Equal(t, "worker-2", d.Chosen().ID)
	}
}

func TestRoute_RandomFallsBackToManager(t *testing.T) {
	r := buildRouter(t, map[string]models.NodeStatus{
		"manager":  {Healthy: true, LatencyMs: 1},
		"worker-1": {Healthy: false},
		"worker-2": {Healthy: false},
	})

	d, err := r.Route(models.KindRead, models.StrategyRandom)
	require.NoError(t, err)
	assert.Equal(t, "manager", d.Chosen().ID)
}

func TestRoute_CustomPicksLowestLatency(t *testing.T) {
	// W1 at 10ms, W2 at 5ms: custom reads go to W2
	r := buildRouter(t, allHealthy())

	d, err := r.Route(models.KindRead, models.StrategyCustom)
	require.NoError(t, err)
	assert.Equal(t, "worker-2", d.Chosen().ID)
	assert.Equal(t, 5.0, d.LatencyMs)

	// Next-best candidate is the slower worker
	require.Len(t, d.Candidates, 2)
	assert.Equal(t, "worker-1", d.Candidates[1].ID)
}

func TestRoute_CustomScenario_ProgressiveFailure(t *testing.T) {
	statuses := allHealthy()
	r := buildRouter(t, statuses)

	// All healthy: fastest worker W2
	d, err := r.Route(models.KindRead, models.StrategyCustom)
	require.NoError(t, err)
	assert.Equal(t, "worker-2", d.Chosen().ID)

	// W2 goes down: W1 takes over
	statuses["worker-2"] = models.NodeStatus{Healthy: false}
	r.tracker.Publish(statuses)

	d, err = r.Route(models.KindRead, models.StrategyCustom)
	require.NoError(t, err)
	assert.Equal(t, "worker-1", d.Chosen().ID)

	// Both down: manager serves the read
	statuses["worker-1"] = models.NodeStatus{Healthy: false}
	r.tracker.Publish(statuses)

	d, err = r.Route(models.KindRead, models.StrategyCustom)
	require.NoError(t, err)
	assert.Equal(t, "manager", d.Chosen().ID)
}

func TestRoute_CustomTieBrokenByRegistrationOrder(t *testing.T) {
	statuses := allHealthy()
	statuses["worker-1"] = models.NodeStatus{Healthy: true, LatencyMs: 5}
	statuses["worker-2"] = models.NodeStatus{Healthy: true, LatencyMs: 5}
	r := buildRouter(t, statuses)

	// Deterministic: equal latencies resolve to the earlier-registered worker
	for i := 0; i < 20; i++ {
		d, err := r.Route(models.KindRead, models.StrategyCustom)
		require.NoError(t, err)
		assert.Equal(t, "worker-1", d.Chosen().ID)
	}
}

func TestRoute_CustomSelectionIsMinimal(t *testing.T) {
	r := buildRouter(t, allHealthy())

	d, err := r.Route(models.KindRead, models.StrategyCustom)
	require.NoError(t, err)

	chosen := d.Chosen().ID
	snapshot := r.tracker.Snapshot()
	for _, w := range r.topo.Workers() {
		if !snapshot[w.ID].Healthy {
			continue
		}
		assert.LessOrEqual(t, snapshot[chosen].LatencyMs, snapshot[w.ID].LatencyMs)
	}
}

func TestRoute_SingleHealthyWorkerFallsBackToManager(t *testing.T) {
	statuses := allHealthy()
	statuses["worker-1"] = models.NodeStatus{Healthy: false}
	r := buildRouter(t, statuses)

	d, err := r.Route(models.KindRead, models.StrategyCustom)
	require.NoError(t, err)
	require.Len(t, d.Candidates, 2)
	assert.Equal(t, "worker-2", d.Candidates[0].ID)
	assert.Equal(t, "manager", d.Candidates[1].ID)
}

func TestRoute_UnknownStrategy(t *testing.T) {
	r := buildRouter(t, allHealthy())

	_, err := r.Route(models.KindRead, models.Strategy("weighted"))
	assert.Error(t, err)
}
