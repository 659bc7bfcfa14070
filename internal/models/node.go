package models

import "fmt"

// Role identifies what a database node is allowed to serve
type Role string

const (
	// RoleManager is the single writable primary
	RoleManager Role = "manager"
	// RoleWorker is a read-only replica
	RoleWorker Role = "worker"
)

// NodeDescriptor describes one MySQL node in the cluster.
// Identity fields (ID, Host, Port, Role) are immutable after topology load;
// health and latency live in the health tracker, not here.
type NodeDescriptor struct {
	ID   string `json:"id"`
	Host string `json:"host"`
	Port int    `json:"port"`
	Role Role   `json:"role"`
}

// Addr returns the host:port address of the node
func (n NodeDescriptor) Addr() string {
	return fmt.Sprintf("%s:%d", n.Host, n.Port)
}

// IsManager reports whether the node is the writable primary
func (n NodeDescriptor) IsManager() bool {
	return n.Role == RoleManager
}

// NodeStatus is the health prober's view of a node at one probe cycle
type NodeStatus struct {
	Healthy   bool    `json:"healthy"`
	LatencyMs float64 `json:"latency_ms"`
	CheckedAt int64   `json:"checked_at"` // unix millis of the probe
}
