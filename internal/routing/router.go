// Package routing selects the target node for each classified query.
// Strategy only ever influences reads: WRITE and UNKNOWN statements go to
// the manager under every strategy, which is the rule the whole tier's
// correctness rests on.
package routing

import (
	"errors"
	"math/rand"
	"sort"

	"github.com/queryrelay/queryrelay/internal/health"
	"github.com/queryrelay/queryrelay/internal/logging"
	"github.com/queryrelay/queryrelay/internal/models"
	"github.com/queryrelay/queryrelay/internal/topology"
)

// ErrNoCandidates is returned when not even the manager is routable
var ErrNoCandidates = errors.New("routing: no candidates available")

// Decision is an ordered candidate list for one query: the chosen node
// first, then at most one next-best fallback under the same strategy
// ordering. Connection acquisition is retried once down this list and
// never further.
type Decision struct {
	Kind       models.Kind
	Strategy   models.Strategy
	Candidates []models.NodeDescriptor
	LatencyMs  float64 // latency sample behind a CUSTOM selection
}

// Chosen returns the primary candidate
func (d Decision) Chosen() models.NodeDescriptor {
	return d.Candidates[0]
}

// Router picks nodes from the immutable topology using the health
// tracker's latest snapshot. Reads are lock-free; the snapshot is
// eventually consistent with the prober.
type Router struct {
	topo    *topology.Topology
	tracker *health.Tracker
	logger  *logging.Logger
}

// New creates a router over a topology and health tracker
func New(topo *topology.Topology, tracker *health.Tracker, logger *logging.Logger) *Router {
	return &Router{
		topo:    topo,
		tracker: tracker,
		logger:  logger,
	}
}

// Route returns the ordered candidates for a query of the given kind
// under the given strategy.
func (r *Router) Route(kind models.Kind, strategy models.Strategy) (Decision, error) {
	d := Decision{Kind: kind, Strategy: strategy}

	// Writes and unclassifiable statements always target the manager,
	// with no cross-node retry: retrying a write elsewhere risks double
	// apply.
	if kind != models.KindRead {
		d.Candidates = []models.NodeDescriptor{r.topo.Manager()}
		return d, nil
	}

	switch strategy {
	case models.StrategyDirect:
		d.Candidates = []models.NodeDescriptor{r.topo.Manager()}

	case models.StrategyRandom:
		d.Candidates = r.randomCandidates()

	case models.StrategyCustom:
		d.Candidates, d.LatencyMs = r.customCandidates()

	default:
		return Decision{}, errors.New("routing: unknown strategy")
	}

	if len(d.Candidates) == 0 {
		return Decision{}, ErrNoCandidates
	}
	return d, nil
}

// healthyWorkers returns the workers currently marked healthy, in
// registration order, with their latest latency samples
func (r *Router) healthyWorkers() ([]models.NodeDescriptor, map[string]float64) {
	snapshot := r.tracker.Snapshot()

	var workers []models.NodeDescriptor
	latencies := make(map[string]float64)

	for _, w := range r.topo.Workers() {
		status, ok := snapshot[w.ID]
		if !ok || !status.Healthy {
			continue
		}
		workers = append(workers, w)
		latencies[w.ID] = status.LatencyMs
	}

	return workers, latencies
}

// randomCandidates picks a healthy worker uniformly at random, with one
// further uniform pick among the rest as the retry candidate. With no
// healthy worker the manager serves the read.
func (r *Router) randomCandidates() []models.NodeDescriptor {
	workers, _ := r.healthyWorkers()
	if len(workers) == 0 {
		return []models.NodeDescriptor{r.topo.Manager()}
	}

	first := rand.Intn(len(workers))
	candidates := []models.NodeDescriptor{workers[first]}

	rest := make([]models.NodeDescriptor, 0, len(workers)-1)
	rest = append(rest, workers[:first]...)
	rest = append(rest, workers[first+1:]...)

	if len(rest) > 0 {
		candidates = append(candidates, rest[rand.Intn(len(rest))])
	} else {
		candidates = append(candidates, r.topo.Manager())
	}

	return candidates
}

// customCandidates orders healthy workers by latest observed latency,
// ties broken by registration order, and returns the two best. With no
// healthy worker the manager serves the read.
func (r *Router) customCandidates() ([]models.NodeDescriptor, float64) {
	workers, latencies := r.healthyWorkers()
	if len(workers) == 0 {
		return []models.NodeDescriptor{r.topo.Manager()}, 0
	}

	// workers is already in registration order; stable sort preserves it
	// as the tie-break.
	sort.SliceStable(workers, func(i, j int) bool {
		return latencies[workers[i].ID] < latencies[workers[j].ID]
	})

	candidates := []models.NodeDescriptor{workers[0]}
	if len(workers) > 1 {
		candidates = append(candidates, workers[1])
	} else {
		candidates = append(candidates, r.topo.Manager())
	}

	return candidates, latencies[workers[0].ID]
}
