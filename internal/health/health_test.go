package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryrelay/queryrelay/internal/config"
	"github.com/queryrelay/queryrelay/internal/logging"
	"github.com/queryrelay/queryrelay/internal/models"
)

func testNodes() []models.NodeDescriptor {
	return []models.NodeDescriptor{
		{ID: "manager", Host: "10.0.0.1", Port: 3306, Role: models.RoleManager},
		{ID: "worker-1", Host: "10.0.0.2", Port: 3306, Role: models.RoleWorker},
	}
}

// fakePinger returns a configured latency or error per node
type fakePinger struct {
	mu        sync.Mutex
	latencies map[string]time.Duration
	failures  map[string]error
}

func (f *fakePinger) PingNode(_ context.Context, node models.NodeDescriptor) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failures[node.ID]; ok {
		return 0, err
	}
	return f.latencies[node.ID], nil
}

// fakeSink records health transitions
type fakeSink struct {
	mu      sync.Mutex
	healthy map[string]bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{healthy: make(map[string]bool)}
}

func (f *fakeSink) MarkHealthy(nodeID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthy[nodeID] = true
}

func (f *fakeSink) MarkUnhealthy(nodeID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthy[nodeID] = false
}

func (f *fakeSink) isHealthy(nodeID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy[nodeID]
}

func TestTracker_InitialStateUnhealthy(t *testing.T) {
	tracker := NewTracker(testNodes())

	status, ok := tracker.Status("manager")
	require.True(t, ok)
	assert.False(t, status.Healthy)
}

func TestTracker_PublishAndUpdate(t *testing.T) {
	tracker := NewTracker(testNodes())

	tracker.Publish(map[string]models.NodeStatus{
		"manager":  {Healthy: true, LatencyMs: 1.5},
		"worker-1": {Healthy: true, LatencyMs: 4.2},
	})

	status, ok := tracker.Status("worker-1")
	require.True(t, ok)
	assert.True(t, status.Healthy)
	assert.Equal(t, 4.2, status.LatencyMs)

	tracker.MarkUnhealthy("worker-1")
	status, _ = tracker.Status("worker-1")
	assert.False(t, status.Healthy)

	// Other nodes untouched
	status, _ = tracker.Status("manager")
	assert.True(t, status.Healthy)
}

func TestTracker_SnapshotIsImmutableUnderUpdate(t *testing.T) {
	tracker := NewTracker(testNodes())
	before := tracker.Snapshot()

	tracker.Update("manager", models.NodeStatus{Healthy: true, LatencyMs: 2})

	// The previously loaded snapshot still holds the old view
	assert.False(t, before["manager"].Healthy)
	assert.True(t, tracker.Snapshot()["manager"].Healthy)
}

func TestProber_PublishesLatencyAndHealth(t *testing.T) {
	nodes := testNodes()
	tracker := NewTracker(nodes)
	sink := newFakeSink()
	pinger := &fakePinger{
		latencies: map[string]time.Duration{
			"manager":  2 * time.Millisecond,
			"worker-1": 7 * time.Millisecond,
		},
		failures: map[string]error{},
	}

	prober := NewProber(nodes, pinger, sink, tracker,
		config.HealthConfig{Interval: time.Hour, Timeout: time.Second},
		logging.NewDevelopment())

	// Run a single cycle directly rather than starting the loop
	prober.probeAll(context.Background())

	status, ok := tracker.Status("worker-1")
	require.True(t, ok)
	assert.True(t, status.Healthy)
	assert.InDelta(t, 7.0, status.LatencyMs, 0.1)
	assert.NotZero(t, status.CheckedAt)

	assert.True(t, sink.isHealthy("manager"))
	assert.True(t, sink.isHealthy("worker-1"))
}

func TestProber_MarksFailedNodeUnhealthy(t *testing.T) {
	nodes := testNodes()
	tracker := NewTracker(nodes)
	sink := newFakeSink()
	pinger := &fakePinger{
		latencies: map[string]time.Duration{"manager": time.Millisecond},
		failures:  map[string]error{"worker-1": errors.New("connection refused")},
	}

	prober := NewProber(nodes, pinger, sink, tracker,
		config.HealthConfig{Interval: time.Hour, Timeout: time.Second},
		logging.NewDevelopment())

	prober.probeAll(context.Background())

	status, _ := tracker.Status("worker-1")
	assert.False(t, status.Healthy)
	assert.False(t, sink.isHealthy("worker-1"))

	status, _ = tracker.Status("manager")
	assert.True(t, status.Healthy)
}

func TestProber_StartStop(t *testing.T) {
	nodes := testNodes()
	tracker := NewTracker(nodes)
	sink := newFakeSink()
	pinger := &fakePinger{
		latencies: map[string]time.Duration{
			"manager":  time.Millisecond,
			"worker-1": time.Millisecond,
		},
		failures: map[string]error{},
	}

	prober := NewProber(nodes, pinger, sink, tracker,
		config.HealthConfig{Interval: 5 * time.Millisecond, Timeout: time.Second},
		logging.NewDevelopment())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prober.Start(ctx)

	// First cycle runs immediately
	assert.Eventually(t, func() bool {
		s, ok := tracker.Status("manager")
		return ok && s.Healthy
	}, time.Second, 2*time.Millisecond)

	prober.Stop()
}
