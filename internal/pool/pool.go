// Package pool manages per-node bounded MySQL connection pools shared by
// all concurrent request handlers. Connections are created lazily on
// first acquire, reused across requests, and discarded when flagged
// broken or on shutdown.
package pool

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/queryrelay/queryrelay/internal/config"
	"github.com/queryrelay/queryrelay/internal/logging"
	"github.com/queryrelay/queryrelay/internal/models"
)

// driverName is a seam for tests; production always dials MySQL
var driverName = "mysql"

var (
	// ErrNodeUnknown is returned for a node not present in the topology
	ErrNodeUnknown = errors.New("pool: unknown node")
	// ErrNodeUnavailable is returned when the node is marked unhealthy
	ErrNodeUnavailable = errors.New("pool: node unavailable")
	// ErrPoolTimeout is returned when the pool stayed exhausted for the
	// whole acquire timeout
	ErrPoolTimeout = errors.New("pool: acquire timed out")
)

// nodeEntry is the pool state for a single node. The mutex scopes health
// toggles to this node only; acquiring for node A never contends with
// node B.
type nodeEntry struct {
	node    models.NodeDescriptor
	db      *sql.DB
	mu      sync.Mutex
	healthy bool
}

// Pool holds one bounded database handle per topology node
type Pool struct {
	entries map[string]*nodeEntry
	cfg     config.PoolConfig
	logger  *logging.Logger

	closeOnce sync.Once
}

// New creates pools for every node. No connections are dialed here;
// database/sql opens them lazily on first acquire.
func New(nodes []models.NodeDescriptor, mysqlCfg config.MySQLConfig,
	poolCfg config.PoolConfig, logger *logging.Logger,
) (*Pool, error) {
	p := &Pool{
		entries: make(map[string]*nodeEntry, len(nodes)),
		cfg:     poolCfg,
		logger:  logger,
	}

	for _, node := range nodes {
		db, err := openNode(node, mysqlCfg, poolCfg)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("open node %s: %w", node.ID, err)
		}

		// Nodes start healthy; the prober demotes the unreachable ones
		// on its first cycle.
		p.entries[node.ID] = &nodeEntry{node: node, db: db, healthy: true}
	}

	return p, nil
}

func openNode(node models.NodeDescriptor, mysqlCfg config.MySQLConfig,
	poolCfg config.PoolConfig,
) (*sql.DB, error) {
	dsnCfg := mysql.NewConfig()
	dsnCfg.User = mysqlCfg.User
	dsnCfg.Passwd = mysqlCfg.Password
	dsnCfg.Net = "tcp"
	dsnCfg.Addr = node.Addr()
	dsnCfg.DBName = mysqlCfg.Database
	dsnCfg.Timeout = mysqlCfg.DialTimeout
	dsnCfg.ParseTime = true

	db, err := sql.Open(driverName, dsnCfg.FormatDSN())
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(poolCfg.MaxConnsPerNode)
	db.SetMaxIdleConns(poolCfg.MaxIdlePerNode)
	db.SetConnMaxIdleTime(poolCfg.ConnMaxIdleTime)
	db.SetConnMaxLifetime(poolCfg.ConnMaxLifetime)

	return db, nil
}

// Acquire takes a connection for the given node, blocking up to the
// configured acquire timeout when the pool is saturated. Returns
// ErrNodeUnavailable for unhealthy nodes and ErrPoolTimeout on
// exhaustion; it never blocks indefinitely.
func (p *Pool) Acquire(ctx context.Context, node models.NodeDescriptor) (*Connection, error) {
	entry, ok := p.entries[node.ID]
	if !ok {
		return nil, ErrNodeUnknown
	}

	entry.mu.Lock()
	healthy := entry.healthy
	entry.mu.Unlock()
	if !healthy {
		return nil, ErrNodeUnavailable
	}

	acquireCtx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()

	conn, err := entry.db.Conn(acquireCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			// The parent context is still live; the bound we hit was the
			// pool's own acquire timeout.
			return nil, ErrPoolTimeout
		}
		return nil, fmt.Errorf("acquire %s: %w", node.ID, err)
	}

	return &Connection{node: node, conn: conn}, nil
}

// Release returns a connection to its node's pool, or discards it when
// flagged broken. Safe to call more than once.
func (p *Pool) Release(c *Connection) {
	if c == nil || !c.released.CompareAndSwap(false, true) {
		return
	}

	if c.broken.Load() {
		// Force database/sql to drop the underlying connection instead
		// of pooling it.
		_ = c.conn.Raw(func(interface{}) error { return driver.ErrBadConn })
		p.logger.Debug("Discarded broken connection", "node_id", c.node.ID)
		return
	}

	if err := c.conn.Close(); err != nil {
		p.logger.Warn("Failed to release connection", "node_id", c.node.ID, "error", err)
	}
}

// MarkHealthy includes the node in routing candidate sets again
func (p *Pool) MarkHealthy(nodeID string) {
	p.setHealth(nodeID, true)
}

// MarkUnhealthy excludes the node from routing candidate sets
func (p *Pool) MarkUnhealthy(nodeID string) {
	p.setHealth(nodeID, false)
}

func (p *Pool) setHealth(nodeID string, healthy bool) {
	entry, ok := p.entries[nodeID]
	if !ok {
		return
	}

	entry.mu.Lock()
	changed := entry.healthy != healthy
	entry.healthy = healthy
	entry.mu.Unlock()

	if changed {
		p.logger.Info("Node health changed", "node_id", nodeID, "healthy", healthy)
	}
}

// IsHealthy reports the pool's current view of a node
func (p *Pool) IsHealthy(nodeID string) bool {
	entry, ok := p.entries[nodeID]
	if !ok {
		return false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.healthy
}

// PingNode measures a round trip to the node, dialing if necessary.
// Used by the health prober; a ping bypasses the health flag so an
// unhealthy node can be promoted back once it responds.
func (p *Pool) PingNode(ctx context.Context, node models.NodeDescriptor) (time.Duration, error) {
	entry, ok := p.entries[node.ID]
	if !ok {
		return 0, ErrNodeUnknown
	}

	start := time.Now()
	if err := entry.db.PingContext(ctx); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// Stats returns open/in-use connection counts per node
func (p *Pool) Stats() map[string]sql.DBStats {
	out := make(map[string]sql.DBStats, len(p.entries))
	for id, entry := range p.entries {
		out[id] = entry.db.Stats()
	}
	return out
}

// Close shuts down every node pool
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		for id, entry := range p.entries {
			if entry.db == nil {
				continue
			}
			if err := entry.db.Close(); err != nil {
				p.logger.Warn("Failed to close node pool", "node_id", id, "error", err)
			}
		}
	})
}
