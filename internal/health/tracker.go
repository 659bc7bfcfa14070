// Package health maintains per-node health and latency state. A single
// background prober writes; request handlers read immutable snapshots, so
// the routing hot path takes no locks on health state.
package health

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/queryrelay/queryrelay/internal/models"
)

// Tracker publishes immutable health snapshots. Writers (the prober) swap
// a fresh map in under a mutex; readers load it atomically and never
// block. Readers observe eventually-consistent values, which is fine:
// correctness is carried by the write-always-to-manager rule, not by
// strict latency ordering.
type Tracker struct {
	mu       sync.Mutex
	snapshot atomic.Value // map[string]models.NodeStatus
}

// NewTracker creates a tracker with every node unknown-unhealthy until
// the first probe cycle completes
func NewTracker(nodes []models.NodeDescriptor) *Tracker {
	t := &Tracker{}

	initial := make(map[string]models.NodeStatus, len(nodes))
	for _, n := range nodes {
		initial[n.ID] = models.NodeStatus{Healthy: false}
	}
	t.snapshot.Store(initial)

	return t
}

// Snapshot returns the latest published health view. The returned map is
// shared and must not be mutated.
func (t *Tracker) Snapshot() map[string]models.NodeStatus {
	return t.snapshot.Load().(map[string]models.NodeStatus)
}

// Status returns the latest status for one node
func (t *Tracker) Status(nodeID string) (models.NodeStatus, bool) {
	s, ok := t.Snapshot()[nodeID]
	return s, ok
}

// Publish replaces the whole snapshot in one swap
func (t *Tracker) Publish(statuses map[string]models.NodeStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snapshot.Store(statuses)
}

// Update copies the current snapshot, applies one node's status, and
// swaps the copy in
func (t *Tracker) Update(nodeID string, status models.NodeStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.snapshot.Load().(map[string]models.NodeStatus)
	next := make(map[string]models.NodeStatus, len(current))
	for k, v := range current {
		next[k] = v
	}
	next[nodeID] = status
	t.snapshot.Store(next)
}

// MarkUnhealthy records a node as unhealthy without a latency sample
func (t *Tracker) MarkUnhealthy(nodeID string) {
	t.Update(nodeID, models.NodeStatus{
		Healthy:   false,
		CheckedAt: time.Now().UnixMilli(),
	})
}
