package utils

import "time"

// HTTP handler timeouts
const (
	// DefaultRequestTimeout is the default timeout for HTTP requests
	DefaultRequestTimeout = 30 * time.Second

	// QueryExecutionTimeout bounds a single statement on a backend node
	QueryExecutionTimeout = 30 * time.Second

	// HealthProbeTimeout bounds a downstream-tier health probe
	HealthProbeTimeout = 5 * time.Second
)

// Wire relay constants
const (
	// RelayDialTimeout bounds the backend dial when a client connects to
	// a strategy port
	RelayDialTimeout = 10 * time.Second

	// MaxWirePacketSize caps a single MySQL protocol packet payload
	MaxWirePacketSize = 16*1024*1024 - 1
)
