package proxy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/queryrelay/queryrelay/internal/classifier"
	"github.com/queryrelay/queryrelay/internal/logging"
	"github.com/queryrelay/queryrelay/internal/models"
	"github.com/queryrelay/queryrelay/internal/pool"
	"github.com/queryrelay/queryrelay/internal/routing"
	"github.com/queryrelay/queryrelay/internal/utils"
)

var (
	// ErrBadQuery marks a statement the backend rejected as malformed
	ErrBadQuery = errors.New("proxy: bad query")
	// ErrUpstreamUnavailable marks exhaustion of every routing candidate
	ErrUpstreamUnavailable = errors.New("proxy: upstream unavailable")
	// ErrPoolExhausted marks pool saturation; surfaced to callers as
	// upstream unavailability but logged distinctly for operators
	ErrPoolExhausted = errors.New("proxy: pool exhausted")
)

// connAcquirer is the slice of the pool the executor touches
type connAcquirer interface {
	Acquire(ctx context.Context, node models.NodeDescriptor) (*pool.Connection, error)
	Release(conn *pool.Connection)
}

// Executor runs one statement through classify, route, acquire, forward,
// release. A write is forwarded to exactly one node exactly once.
type Executor struct {
	pool   connAcquirer
	router *routing.Router
	logger *logging.Logger
}

// NewExecutor creates an executor over the pool and router
func NewExecutor(p *pool.Pool, r *routing.Router, logger *logging.Logger) *Executor {
	return &Executor{pool: p, router: r, logger: logger}
}

// Execute classifies and routes the statement, then runs it on the
// chosen node, retrying connection acquisition once against the next
// candidate for reads. The routing decision is logged on every request.
func (e *Executor) Execute(ctx context.Context, statement string, strategy models.Strategy) (*models.QueryResult, error) {
	kind := classifier.Classify(statement)

	decision, err := e.router.Route(kind, strategy)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	conn, fallbackUsed, err := e.acquireCandidate(ctx, decision)
	if err != nil {
		return nil, err
	}
	defer e.pool.Release(conn)

	record := models.RoutingDecision{
		RequestID:    logging.RequestIDFromContext(ctx),
		Strategy:     strategy,
		Kind:         kind,
		NodeID:       conn.Node().ID,
		NodeAddr:     conn.Node().Addr(),
		Role:         conn.Node().Role,
		LatencyMs:    decision.LatencyMs,
		FallbackUsed: fallbackUsed,
	}
	e.logger.Info("Routing decision",
		"request_id", record.RequestID,
		"strategy", record.Strategy,
		"kind", record.Kind,
		"node_id", record.NodeID,
		"node_addr", record.NodeAddr,
		"fallback_used", record.FallbackUsed,
	)

	result, err := e.run(ctx, conn, kind, statement)
	if err != nil {
		return nil, err
	}

	result.Decision = &record
	return result, nil
}

// acquireCandidate walks the decision's candidate list, at most two
// entries, and returns the first connection it can get
func (e *Executor) acquireCandidate(ctx context.Context, decision routing.Decision) (*pool.Connection, bool, error) {
	var lastErr error
	sawPoolTimeout := false

	for i, node := range decision.Candidates {
		conn, err := e.pool.Acquire(ctx, node)
		if err == nil {
			return conn, i > 0, nil
		}

		lastErr = err
		if errors.Is(err, pool.ErrPoolTimeout) {
			sawPoolTimeout = true
		}
		e.logger.Warn("Connection acquisition failed",
			"node_id", node.ID,
			"candidate", i,
			"error", err,
		)
	}

	if sawPoolTimeout {
		return nil, false, fmt.Errorf("%w: %v", ErrPoolExhausted, lastErr)
	}
	return nil, false, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, lastErr)
}

// run forwards the statement verbatim and collects the result
func (e *Executor) run(ctx context.Context, conn *pool.Connection, kind models.Kind, statement string) (*models.QueryResult, error) {
	execCtx, cancel := context.WithTimeout(ctx, utils.QueryExecutionTimeout)
	defer cancel()

	// Writes go through Exec so affected-row counts come back; reads and
	// unknown statements may produce result sets.
	if kind == models.KindWrite {
		res, err := conn.ExecContext(execCtx, statement)
		if err != nil {
			return nil, e.mapExecError(conn, err)
		}

		affected, _ := res.RowsAffected()
		return &models.QueryResult{Status: "success", Affected: affected}, nil
	}

	rows, err := conn.QueryContext(execCtx, statement)
	if err != nil {
		return nil, e.mapExecError(conn, err)
	}
	defer func() { _ = rows.Close() }()

	out, err := rowsToMaps(rows)
	if err != nil {
		conn.MarkBroken()
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	return &models.QueryResult{Status: "success", Rows: out, Count: len(out)}, nil
}

// mapExecError distinguishes server-side statement rejection from
// transport failure. A MySQL error means the node is fine and the
// statement is not; anything else poisons the connection.
func (e *Executor) mapExecError(conn *pool.Connection, err error) error {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return fmt.Errorf("%w: %v", ErrBadQuery, mysqlErr)
	}

	conn.MarkBroken()
	return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
}

// rowsToMaps streams a result set into JSON-friendly rows
func rowsToMaps(rows *sql.Rows) ([]map[string]interface{}, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := make([]map[string]interface{}, 0)
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}

		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		out = append(out, row)
	}

	return out, rows.Err()
}
