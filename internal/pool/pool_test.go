package pool

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryrelay/queryrelay/internal/config"
	"github.com/queryrelay/queryrelay/internal/logging"
	"github.com/queryrelay/queryrelay/internal/models"
)

// stubDriver hands out inert connections so pool-limit behavior can be
// exercised without a reachable MySQL server
type stubDriver struct{}

func (stubDriver) Open(string) (driver.Conn, error) { return &stubConn{}, nil }

type stubConn struct{}

func (*stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not implemented") }
func (*stubConn) Close() error                        { return nil }
func (*stubConn) Begin() (driver.Tx, error)           { return nil, errors.New("not implemented") }

func init() {
	sql.Register("stub", stubDriver{})
}

// stubPool builds a single-node pool backed by the stub driver
func stubPool(t *testing.T, maxConns int, acquireTimeout time.Duration) (*Pool, models.NodeDescriptor) {
	t.Helper()

	orig := driverName
	driverName = "stub"
	t.Cleanup(func() { driverName = orig })

	node := models.NodeDescriptor{ID: "manager", Host: "10.255.255.1", Port: 3306, Role: models.RoleManager}
	p, err := New([]models.NodeDescriptor{node},
		config.MySQLConfig{
			User:        "app",
			Password:    "secret",
			Database:    "sakila",
			DialTimeout: 100 * time.Millisecond,
		},
		config.PoolConfig{
			MaxConnsPerNode: maxConns,
			MaxIdlePerNode:  maxConns,
			AcquireTimeout:  acquireTimeout,
			ConnMaxIdleTime: time.Minute,
			ConnMaxLifetime: time.Hour,
		},
		logging.NewDevelopment())
	require.NoError(t, err)
	t.Cleanup(p.Close)

	return p, node
}

func testPool(t *testing.T) *Pool {
	t.Helper()

	nodes := []models.NodeDescriptor{
		{ID: "manager", Host: "10.255.255.1", Port: 3306, Role: models.RoleManager},
		{ID: "worker-1", Host: "10.255.255.2", Port: 3306, Role: models.RoleWorker},
	}

	p, err := New(nodes,
		config.MySQLConfig{
			User:        "app",
			Password:    "secret",
			Database:    "sakila",
			DialTimeout: 100 * time.Millisecond,
		},
		config.PoolConfig{
			MaxConnsPerNode: 2,
			MaxIdlePerNode:  1,
			AcquireTimeout:  100 * time.Millisecond,
			ConnMaxIdleTime: time.Minute,
			ConnMaxLifetime: time.Hour,
		},
		logging.NewDevelopment())
	require.NoError(t, err)
	t.Cleanup(p.Close)

	return p
}

func TestPool_NodesStartHealthy(t *testing.T) {
	p := testPool(t)

	assert.True(t, p.IsHealthy("manager"))
	assert.True(t, p.IsHealthy("worker-1"))
	assert.False(t, p.IsHealthy("worker-9"))
}

func TestPool_HealthToggles(t *testing.T) {
	p := testPool(t)

	p.MarkUnhealthy("worker-1")
	assert.False(t, p.IsHealthy("worker-1"))

	p.MarkHealthy("worker-1")
	assert.True(t, p.IsHealthy("worker-1"))

	// Toggling an unknown node is a no-op, not a panic
	p.MarkUnhealthy("worker-9")
}

func TestPool_AcquireUnknownNode(t *testing.T) {
	p := testPool(t)

	_, err := p.Acquire(context.Background(), models.NodeDescriptor{ID: "worker-9"})
	assert.ErrorIs(t, err, ErrNodeUnknown)
}

func TestPool_AcquireUnhealthyNodeFailsFast(t *testing.T) {
	p := testPool(t)
	p.MarkUnhealthy("worker-1")

	start := time.Now()
	_, err := p.Acquire(context.Background(),
		models.NodeDescriptor{ID: "worker-1", Host: "10.255.255.2", Port: 3306})

	assert.ErrorIs(t, err, ErrNodeUnavailable)
	// Unhealthy nodes are rejected before any dial attempt
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestPool_AcquireUnreachableNodeIsBounded(t *testing.T) {
	p := testPool(t)

	// 10.255.255.0/24 is non-routable; the dial must fail or time out
	// within the configured bounds rather than hang.
	start := time.Now()
	_, err := p.Acquire(context.Background(),
		models.NodeDescriptor{ID: "manager", Host: "10.255.255.1", Port: 3306})

	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestPool_ReleaseNilIsSafe(t *testing.T) {
	p := testPool(t)
	p.Release(nil)
}

func TestPool_PingUnknownNode(t *testing.T) {
	p := testPool(t)

	_, err := p.PingNode(context.Background(), models.NodeDescriptor{ID: "worker-9"})
	assert.ErrorIs(t, err, ErrNodeUnknown)
}

func TestPool_Stats(t *testing.T) {
	p := testPool(t)

	stats := p.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, 2, stats["manager"].MaxOpenConnections)
	assert.Equal(t, 0, stats["manager"].InUse)
}

func TestPool_SaturatedNodeTimesOut(t *testing.T) {
	p, node := stubPool(t, 1, 100*time.Millisecond)

	held, err := p.Acquire(context.Background(), node)
	require.NoError(t, err)

	// The node's single slot is taken; the next acquire must give up
	// within AcquireTimeout instead of waiting on a dead slot.
	start := time.Now()
	_, err = p.Acquire(context.Background(), node)
	assert.ErrorIs(t, err, ErrPoolTimeout)
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 90*time.Millisecond)
	assert.Less(t, elapsed, time.Second)

	p.Release(held)

	conn, err := p.Acquire(context.Background(), node)
	require.NoError(t, err)
	p.Release(conn)
}
