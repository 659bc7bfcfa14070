package proxy

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryrelay/queryrelay/internal/logging"
	"github.com/queryrelay/queryrelay/internal/models"
)

func testRelay() *Relay {
	return &Relay{
		strategy: models.StrategyRandom,
		logger:   logging.NewDevelopment(),
		conns:    make(map[net.Conn]struct{}),
	}
}

func queryPacket(stmt string) packet {
	return packet{seq: 0, payload: append([]byte{comQuery}, stmt...)}
}

func TestForwardWriteToWorkerRejected(t *testing.T) {
	relay := testRelay()
	worker := models.NodeDescriptor{ID: "worker-1", Host: "127.0.0.1", Port: 3316, Role: models.RoleWorker}

	clientNear, clientFar := net.Pipe()
	backendNear, backendFar := net.Pipe()
	defer func() {
		clientNear.Close()
		clientFar.Close()
		backendNear.Close()
		backendFar.Close()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- relay.forward(queryPacket("DELETE FROM users"), clientNear, backendNear, worker)
	}()

	// The client side must see an ERR packet, nothing reaches the backend
	p, err := readPacket(clientFar)
	require.NoError(t, err)
	assert.Equal(t, byte(1), p.seq)
	assert.Equal(t, byte(0xff), p.payload[0])

	assert.ErrorIs(t, <-errCh, errRejected)
}

func TestForwardReadToWorkerPassesThrough(t *testing.T) {
	relay := testRelay()
	worker := models.NodeDescriptor{ID: "worker-1", Host: "127.0.0.1", Port: 3316, Role: models.RoleWorker}

	clientNear, clientFar := net.Pipe()
	backendNear, backendFar := net.Pipe()
	defer func() {
		clientNear.Close()
		clientFar.Close()
		backendNear.Close()
		backendFar.Close()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- relay.forward(queryPacket("SELECT * FROM users"), clientNear, backendNear, worker)
	}()

	p, err := readPacket(backendFar)
	require.NoError(t, err)
	stmt, ok := commandStatement(p)
	require.True(t, ok)
	assert.Equal(t, "SELECT * FROM users", stmt)

	assert.NoError(t, <-errCh)
}

func TestForwardWriteToManagerPassesThrough(t *testing.T) {
	relay := testRelay()
	manager := models.NodeDescriptor{ID: "manager", Host: "127.0.0.1", Port: 3306, Role: models.RoleManager}

	clientNear, clientFar := net.Pipe()
	backendNear, backendFar := net.Pipe()
	defer func() {
		clientNear.Close()
		clientFar.Close()
		backendNear.Close()
		backendFar.Close()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- relay.forward(queryPacket("INSERT INTO users VALUES (1)"), clientNear, backendNear, manager)
	}()

	p, err := readPacket(backendFar)
	require.NoError(t, err)
	stmt, ok := commandStatement(p)
	require.True(t, ok)
	assert.Equal(t, "INSERT INTO users VALUES (1)", stmt)

	assert.NoError(t, <-errCh)
}

func TestForwardHandshakeNotInspected(t *testing.T) {
	relay := testRelay()
	worker := models.NodeDescriptor{ID: "worker-1", Host: "127.0.0.1", Port: 3316, Role: models.RoleWorker}

	// A handshake response carries a non-zero sequence and must be
	// forwarded untouched even on a worker session.
	handshake := packet{seq: 1, payload: []byte{0x03, 0xa2, 0x00, 0x00}}

	clientNear, clientFar := net.Pipe()
	backendNear, backendFar := net.Pipe()
	defer func() {
		clientNear.Close()
		clientFar.Close()
		backendNear.Close()
		backendFar.Close()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- relay.forward(handshake, clientNear, backendNear, worker)
	}()

	p, err := readPacket(backendFar)
	require.NoError(t, err)
	assert.Equal(t, handshake.payload, p.payload)
	assert.NoError(t, <-errCh)
}
