package models

// Error codes shared across the chain
const (
	CodeConfigInvalid       = "CONFIG_INVALID"
	CodeBadQuery            = "BAD_QUERY"
	CodeRejected            = "REJECTED"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodePoolExhausted       = "POOL_EXHAUSTED"
	CodeRateLimited         = "RATE_LIMITED"
)

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version,omitempty"`
	Upstream  string `json:"upstream,omitempty"` // health of the next tier, if probed
}

// QueryResult is the Proxy administrative port response. It carries the
// routing decision so the internal tiers can log it; the Gatekeeper strips
// it before anything reaches a client.
type QueryResult struct {
	Status   string                   `json:"status"`
	Rows     []map[string]interface{} `json:"rows,omitempty"`
	Count    int                      `json:"count"`
	Affected int64                    `json:"affected,omitempty"`
	Decision *RoutingDecision         `json:"decision,omitempty"`
}

// ClientResult is the sanitized response shape returned by the Gatekeeper.
// No node addresses, no routing detail, no internal error causes.
type ClientResult struct {
	Status string                   `json:"status"`
	Rows   []map[string]interface{} `json:"rows,omitempty"`
	Count  int                      `json:"count"`
}

// RejectResponse is returned by the Trusted Host when validation fails
type RejectResponse struct {
	Error   ErrorDetail     `json:"error"`
	Verdict SecurityVerdict `json:"verdict"`
}

// ErrorResponse represents error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Path    string                 `json:"path,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}
