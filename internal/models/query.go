package models

import "time"

// Kind classifies a SQL statement for routing purposes
type Kind string

const (
	KindRead    Kind = "READ"
	KindWrite   Kind = "WRITE"
	KindUnknown Kind = "UNKNOWN"
)

// Strategy is the read-routing policy bound to a Proxy listener
type Strategy string

const (
	// StrategyDirect sends every statement to the manager
	StrategyDirect Strategy = "direct"
	// StrategyRandom picks a healthy worker uniformly at random for reads
	StrategyRandom Strategy = "random"
	// StrategyCustom picks the healthy worker with the lowest observed latency
	StrategyCustom Strategy = "custom"
)

// ParseStrategy validates a strategy name, defaulting empty to direct
func ParseStrategy(s string) (Strategy, bool) {
	switch Strategy(s) {
	case "", StrategyDirect:
		return StrategyDirect, true
	case StrategyRandom:
		return StrategyRandom, true
	case StrategyCustom:
		return StrategyCustom, true
	}
	return "", false
}

// Query is a single client statement moving through the chain
type Query struct {
	Statement  string    `json:"statement"`
	Kind       Kind      `json:"kind"`
	ReceivedAt time.Time `json:"received_at"`
}

// RoutingDecision records which node a query was sent to and why.
// Emitted to the log on every proxied request.
type RoutingDecision struct {
	RequestID    string   `json:"request_id"`
	Strategy     Strategy `json:"strategy"`
	Kind         Kind     `json:"kind"`
	NodeID       string   `json:"node_id"`
	NodeAddr     string   `json:"node_addr"`
	Role         Role     `json:"role"`
	LatencyMs    float64  `json:"latency_ms,omitempty"` // latency sample used for CUSTOM selection
	FallbackUsed bool     `json:"fallback_used"`
}

// SecurityVerdict is the outcome of a Gatekeeper or Trusted Host check.
// The reason is for internal logs and the next tier, never for end clients.
type SecurityVerdict struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}
