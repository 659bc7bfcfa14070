package models

// QueryRequest is the JSON envelope accepted by the Gatekeeper, the Trusted
// Host and the Proxy administrative port. Strategy is optional and defaults
// to direct; the Gatekeeper forwards it unchanged down the chain.
type QueryRequest struct {
	Query    string `json:"query"`
	Strategy string `json:"strategy,omitempty"`
}
