// Package upstream is the HTTP client used for inter-tier forwarding:
// Gatekeeper to Trusted Host, and Trusted Host to the Proxy
// administrative port. Every call is bounded by a configured timeout.
package upstream

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Client forwards JSON requests to one upstream base URL
type Client struct {
	baseURL string
	timeout time.Duration
}

// NewClient creates a client for the given base URL
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{baseURL: baseURL, timeout: timeout}
}

// PostJSON sends a JSON payload and returns the status code and raw
// response body. A transport-level failure or timeout returns an error;
// HTTP error statuses do not.
func (c *Client) PostJSON(path string, payload interface{}) (int, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal request: %w", err)
	}

	agent := fiber.AcquireAgent()
	defer fiber.ReleaseAgent(agent)

	req := agent.Request()
	req.Header.SetMethod(fiber.MethodPost)
	req.Header.SetContentType(fiber.MIMEApplicationJSON)
	req.SetRequestURI(c.baseURL + path)
	req.SetBody(body)

	if err := agent.Parse(); err != nil {
		return 0, nil, fmt.Errorf("parse upstream request: %w", err)
	}

	agent.Timeout(c.timeout)

	code, respBody, errs := agent.Bytes()
	if len(errs) > 0 {
		return 0, nil, fmt.Errorf("upstream request failed: %w", errs[0])
	}

	return code, respBody, nil
}

// Get sends a GET request, used for downstream health probes
func (c *Client) Get(path string) (int, []byte, error) {
	agent := fiber.AcquireAgent()
	defer fiber.ReleaseAgent(agent)

	req := agent.Request()
	req.Header.SetMethod(fiber.MethodGet)
	req.SetRequestURI(c.baseURL + path)

	if err := agent.Parse(); err != nil {
		return 0, nil, fmt.Errorf("parse upstream request: %w", err)
	}

	agent.Timeout(c.timeout)

	code, respBody, errs := agent.Bytes()
	if len(errs) > 0 {
		return 0, nil, fmt.Errorf("upstream request failed: %w", errs[0])
	}

	return code, respBody, nil
}
