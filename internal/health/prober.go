package health

import (
	"context"
	"sync"
	"time"

	"github.com/queryrelay/queryrelay/internal/config"
	"github.com/queryrelay/queryrelay/internal/logging"
	"github.com/queryrelay/queryrelay/internal/models"
)

// Pinger measures round-trip health of one node. The connection pool
// implements this with a driver-level ping.
type Pinger interface {
	PingNode(ctx context.Context, node models.NodeDescriptor) (time.Duration, error)
}

// Sink receives health transitions so the pool can include or exclude a
// node from candidate sets
type Sink interface {
	MarkHealthy(nodeID string)
	MarkUnhealthy(nodeID string)
}

// Prober probes every topology node on a fixed interval, independently of
// request handling, and publishes latency/health snapshots to the tracker.
type Prober struct {
	nodes   []models.NodeDescriptor
	pinger  Pinger
	sink    Sink
	tracker *Tracker
	cfg     config.HealthConfig
	logger  *logging.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewProber creates a prober for the given nodes
func NewProber(nodes []models.NodeDescriptor, pinger Pinger, sink Sink,
	tracker *Tracker, cfg config.HealthConfig, logger *logging.Logger,
) *Prober {
	return &Prober{
		nodes:   nodes,
		pinger:  pinger,
		sink:    sink,
		tracker: tracker,
		cfg:     cfg,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
}

// Start runs the probe loop in the background. The first cycle runs
// immediately so routing has latency samples before the first tick.
func (p *Prober) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		p.probeAll(ctx)

		ticker := time.NewTicker(p.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.probeAll(ctx)
			}
		}
	}()
}

// Stop stops the probe loop and waits for it to exit
func (p *Prober) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

// probeAll probes every node concurrently and publishes one snapshot
func (p *Prober) probeAll(ctx context.Context) {
	statuses := make(map[string]models.NodeStatus, len(p.nodes))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, node := range p.nodes {
		wg.Add(1)
		go func(node models.NodeDescriptor) {
			defer wg.Done()

			status := p.probeNode(ctx, node)

			mu.Lock()
			statuses[node.ID] = status
			mu.Unlock()
		}(node)
	}
	wg.Wait()

	p.tracker.Publish(statuses)
}

// probeNode probes one node, updates the sink, and returns its status
func (p *Prober) probeNode(ctx context.Context, node models.NodeDescriptor) models.NodeStatus {
	probeCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	latency, err := p.pinger.PingNode(probeCtx, node)
	checkedAt := time.Now().UnixMilli()

	if err != nil {
		p.logger.Warn("Node probe failed",
			"node_id", node.ID,
			"addr", node.Addr(),
			"error", err,
		)
		p.sink.MarkUnhealthy(node.ID)
		return models.NodeStatus{Healthy: false, CheckedAt: checkedAt}
	}

	p.sink.MarkHealthy(node.ID)
	latencyMs := float64(latency.Microseconds()) / 1000.0

	p.logger.Debug("Node probe succeeded",
		"node_id", node.ID,
		"latency_ms", latencyMs,
	)

	return models.NodeStatus{
		Healthy:   true,
		LatencyMs: latencyMs,
		CheckedAt: checkedAt,
	}
}
