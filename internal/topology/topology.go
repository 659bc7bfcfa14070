// Package topology holds the immutable cluster snapshot every other
// component routes against. It is built exactly once from configuration
// at process start; there is no hot reload and no ambient global state.
package topology

import (
	"fmt"

	"github.com/queryrelay/queryrelay/internal/config"
	"github.com/queryrelay/queryrelay/internal/models"
)

// Topology is the immutable view of the MySQL cluster: one manager and an
// ordered set of workers. Worker order is the registration order used as
// the deterministic tie-break for latency-based selection.
type Topology struct {
	manager models.NodeDescriptor
	workers []models.NodeDescriptor
	byID    map[string]models.NodeDescriptor
}

// FromConfig builds the topology snapshot from validated configuration.
// The config layer has already rejected malformed endpoints; this only
// assigns stable node IDs.
func FromConfig(cfg config.TopologyConfig) (*Topology, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid topology: %w", err)
	}

	t := &Topology{
		manager: models.NodeDescriptor{
			ID:   "manager",
			Host: cfg.Manager.Host,
			Port: cfg.Manager.Port,
			Role: models.RoleManager,
		},
		byID: make(map[string]models.NodeDescriptor, len(cfg.Workers)+1),
	}

	t.workers = make([]models.NodeDescriptor, 0, len(cfg.Workers))
	for i, w := range cfg.Workers {
		node := models.NodeDescriptor{
			ID:   fmt.Sprintf("worker-%d", i+1),
			Host: w.Host,
			Port: w.Port,
			Role: models.RoleWorker,
		}
		t.workers = append(t.workers, node)
		t.byID[node.ID] = node
	}
	t.byID[t.manager.ID] = t.manager

	return t, nil
}

// Manager returns the single writable primary
func (t *Topology) Manager() models.NodeDescriptor {
	return t.manager
}

// Workers returns the replicas in registration order. The returned slice
// is a copy; callers cannot mutate the snapshot.
func (t *Topology) Workers() []models.NodeDescriptor {
	out := make([]models.NodeDescriptor, len(t.workers))
	copy(out, t.workers)
	return out
}

// Nodes returns the manager followed by all workers in registration order
func (t *Topology) Nodes() []models.NodeDescriptor {
	out := make([]models.NodeDescriptor, 0, len(t.workers)+1)
	out = append(out, t.manager)
	out = append(out, t.workers...)
	return out
}

// Node looks up a node by its stable ID
func (t *Topology) Node(id string) (models.NodeDescriptor, bool) {
	n, ok := t.byID[id]
	return n, ok
}

// WorkerCount returns the number of workers
func (t *Topology) WorkerCount() int {
	return len(t.workers)
}
