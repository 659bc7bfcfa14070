package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/queryrelay/queryrelay/internal/classifier"
	"github.com/queryrelay/queryrelay/internal/logging"
	"github.com/queryrelay/queryrelay/internal/models"
	"github.com/queryrelay/queryrelay/internal/routing"
	"github.com/queryrelay/queryrelay/internal/utils"
)

// errRejected aborts the relay inspection loop without tearing the
// client connection down; the client already received an ERR packet.
var errRejected = errors.New("statement rejected")

// Relay is a transparent MySQL listener bound to one routing strategy.
// The backend node is chosen once per client connection; after that the
// relay streams packets both ways, inspecting client commands when the
// backend is a worker so writes never reach a replica.
type Relay struct {
	strategy models.Strategy
	addr     string
	router   *routing.Router
	logger   *logging.Logger

	ln     net.Listener
	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	wg     sync.WaitGroup
	closed bool
}

// NewRelay creates a relay for one strategy port
func NewRelay(strategy models.Strategy, addr string, router *routing.Router, logger *logging.Logger) *Relay {
	return &Relay{
		strategy: strategy,
		addr:     addr,
		router:   router,
		logger:   logger.With("component", "relay", "strategy", string(strategy)),
		conns:    make(map[net.Conn]struct{}),
	}
}

// Start binds the listener and accepts connections until Stop is called
func (r *Relay) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", r.addr)
	if err != nil {
		return fmt.Errorf("relay listen on %s: %w", r.addr, err)
	}
	r.ln = ln

	r.logger.Info("Relay listening", "address", r.addr)

	r.wg.Add(1)
	go r.acceptLoop(ctx)
	return nil
}

// Stop closes the listener and every live connection, then waits for
// the per-connection goroutines to drain
func (r *Relay) Stop() {
	r.mu.Lock()
	r.closed = true
	if r.ln != nil {
		_ = r.ln.Close()
	}
	for conn := range r.conns {
		_ = conn.Close()
	}
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Info("Relay stopped", "address", r.addr)
}

func (r *Relay) acceptLoop(ctx context.Context) {
	defer r.wg.Done()

	for {
		clientConn, err := r.ln.Accept()
		if err != nil {
			r.mu.Lock()
			closed := r.closed
			r.mu.Unlock()
			if closed || ctx.Err() != nil {
				return
			}
			r.logger.Warn("Accept failed", "error", err)
			continue
		}

		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.handleConn(ctx, clientConn)
		}()
	}
}

// handleConn routes the session, dials the backend, and pumps packets
func (r *Relay) handleConn(ctx context.Context, clientConn net.Conn) {
	r.track(clientConn)
	defer r.untrack(clientConn)
	defer func() { _ = clientConn.Close() }()

	decision, err := r.router.Route(models.KindRead, r.strategy)
	if err != nil {
		r.logger.Error("No routable backend", "client", clientConn.RemoteAddr(), "error", err)
		_ = writeErrPacket(clientConn, 0, 1105, "HY000", "no backend node available")
		return
	}

	backendConn, node, err := r.dialCandidates(decision)
	if err != nil {
		r.logger.Error("Backend dial failed", "client", clientConn.RemoteAddr(), "error", err)
		_ = writeErrPacket(clientConn, 0, 1105, "HY000", "backend node unreachable")
		return
	}
	defer func() { _ = backendConn.Close() }()

	r.logger.Info("Session routed",
		"client", clientConn.RemoteAddr(),
		"node_id", node.ID,
		"node_addr", node.Addr(),
		"latency_ms", decision.LatencyMs,
	)

	r.track(backendConn)
	defer r.untrack(backendConn)

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.pumpBackend(backendConn, clientConn)
		// Backend gone; unblock the client read below.
		_ = clientConn.Close()
	}()

	r.pumpClient(clientConn, backendConn, node)
	_ = backendConn.Close()
	<-done
}

// dialCandidates tries each candidate in order with a bounded dial
func (r *Relay) dialCandidates(decision routing.Decision) (net.Conn, models.NodeDescriptor, error) {
	var lastErr error
	for _, node := range decision.Candidates {
		conn, err := net.DialTimeout("tcp", node.Addr(), utils.RelayDialTimeout)
		if err == nil {
			return conn, node, nil
		}
		lastErr = err
		r.logger.Warn("Candidate dial failed", "node_id", node.ID, "error", err)
	}
	return nil, models.NodeDescriptor{}, lastErr
}

// pumpBackend copies backend packets to the client verbatim
func (r *Relay) pumpBackend(backendConn, clientConn net.Conn) {
	for {
		p, err := readPacket(backendConn)
		if err != nil {
			return
		}
		if err := writePacket(clientConn, p); err != nil {
			return
		}
	}
}

// pumpClient copies client packets to the backend, rejecting write and
// unclassifiable statements when the backend is a worker
func (r *Relay) pumpClient(clientConn, backendConn net.Conn, node models.NodeDescriptor) {
	for {
		p, err := readPacket(clientConn)
		if err != nil {
			return
		}

		if err := r.forward(p, clientConn, backendConn, node); err != nil {
			if errors.Is(err, errRejected) {
				continue
			}
			return
		}
	}
}

func (r *Relay) forward(p packet, clientConn, backendConn net.Conn, node models.NodeDescriptor) error {
	if !node.IsManager() {
		if stmt, ok := commandStatement(p); ok {
			kind := classifier.Classify(stmt)
			if classifier.IsWriteLike(kind) {
				r.logger.Warn("Statement rejected on worker session",
					"node_id", node.ID,
					"kind", string(kind),
				)
				if err := writeErrPacket(clientConn, p.seq+1, 1290, "HY000",
					"statement classified as "+string(kind)+" is not allowed on a read replica"); err != nil {
					return err
				}
				return errRejected
			}
		}
	}

	return writePacket(backendConn, p)
}

func (r *Relay) track(conn net.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		_ = conn.Close()
		return
	}
	r.conns[conn] = struct{}{}
}

func (r *Relay) untrack(conn net.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, conn)
}
