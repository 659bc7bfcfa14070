package pool

import (
	"context"
	"database/sql"
	"sync/atomic"

	"github.com/queryrelay/queryrelay/internal/models"
)

// Connection is one pooled connection bound to exactly one node. It is
// owned by the pool: handlers acquire, use, and release; they never close
// the underlying connection directly.
type Connection struct {
	node models.NodeDescriptor
	conn *sql.Conn

	broken   atomic.Bool
	released atomic.Bool
}

// Node returns the node this connection is bound to
func (c *Connection) Node() models.NodeDescriptor {
	return c.node
}

// QueryContext runs a result-returning statement on the bound node
func (c *Connection) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return c.conn.QueryContext(ctx, query, args...)
}

// ExecContext runs a statement without a result set on the bound node
func (c *Connection) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return c.conn.ExecContext(ctx, query, args...)
}

// MarkBroken flags the connection so Release discards it instead of
// returning it to the pool
func (c *Connection) MarkBroken() {
	c.broken.Store(true)
}
