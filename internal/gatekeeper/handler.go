// Package gatekeeper implements the client-facing entry tier. It is the
// only service a client ever talks to: it enforces body and rate limits,
// forwards envelopes to the Trusted Host, and strips every internal
// detail from whatever comes back.
package gatekeeper

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/queryrelay/queryrelay/internal/breaker"
	"github.com/queryrelay/queryrelay/internal/logging"
	"github.com/queryrelay/queryrelay/internal/models"
	"github.com/queryrelay/queryrelay/internal/ratelimit"
)

// forwarder is what the handlers need from the upstream client
type forwarder interface {
	PostJSON(path string, payload interface{}) (int, []byte, error)
	Get(path string) (int, []byte, error)
}

// Generic client-facing messages per error code. Internal causes, node
// addresses, and validation details never leave this tier.
var clientMessages = map[string]string{
	models.CodeBadQuery:            "Query could not be processed",
	models.CodeConfigInvalid:       "Invalid request parameters",
	models.CodeRejected:            "Query rejected",
	models.CodeUpstreamUnavailable: "Service temporarily unavailable",
	models.CodeRateLimited:         "Too many requests",
}

// Handler contains the Gatekeeper HTTP handlers
type Handler struct {
	logger  *logging.Logger
	trusted forwarder
	limiter ratelimit.Limiter
	breaker *breaker.Breaker
}

// NewHandler creates a new handler instance
func NewHandler(logger *logging.Logger, trusted forwarder, limiter ratelimit.Limiter, brk *breaker.Breaker) *Handler {
	return &Handler{logger: logger, trusted: trusted, limiter: limiter, breaker: brk}
}

// Health reports this tier's health and probes the Trusted Host
func (h *Handler) Health(c *fiber.Ctx) error {
	upstream := "healthy"
	if code, _, err := h.trusted.Get("/health"); err != nil || code != fiber.StatusOK {
		upstream = "unreachable"
	}

	return c.JSON(models.HealthResponse{
		Status:    "healthy",
		Service:   "gatekeeper",
		Timestamp: time.Now().Format(time.RFC3339),
		Upstream:  upstream,
	})
}

// Query accepts a client envelope, applies admission control, and
// forwards it down the chain
func (h *Handler) Query(c *fiber.Ctx) error {
	allowed, err := h.limiter.Allow(c.UserContext(), c.IP())
	if err != nil {
		// A broken limiter backend must not take the service down;
		// admit and complain.
		h.logger.Warn("Rate limiter unavailable, admitting request", "error", err)
	} else if !allowed {
		return clientError(c, fiber.StatusTooManyRequests, models.CodeRateLimited)
	}

	var req models.QueryRequest
	if err := c.BodyParser(&req); err != nil {
		return clientError(c, fiber.StatusBadRequest, models.CodeBadQuery)
	}

	if strings.TrimSpace(req.Query) == "" {
		return clientError(c, fiber.StatusBadRequest, models.CodeBadQuery)
	}

	if _, ok := models.ParseStrategy(req.Strategy); !ok {
		return clientError(c, fiber.StatusBadRequest, models.CodeConfigInvalid)
	}

	if !h.breaker.Allow() {
		return clientError(c, fiber.StatusServiceUnavailable, models.CodeUpstreamUnavailable)
	}

	code, body, err := h.trusted.PostJSON("/query", req)
	if err != nil {
		h.breaker.RecordFailure()
		h.logger.Error("Trusted Host forward failed", "error", err)
		return clientError(c, fiber.StatusServiceUnavailable, models.CodeUpstreamUnavailable)
	}

	if code >= fiber.StatusInternalServerError {
		h.breaker.RecordFailure()
	} else {
		h.breaker.RecordSuccess()
	}

	return h.sanitize(c, code, body)
}

// NotFound handles 404 errors
func (h *Handler) NotFound(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(models.ErrorResponse{
		Error: models.ErrorDetail{
			Code:    "NOT_FOUND",
			Message: "Route not found",
			Path:    c.Path(),
		},
	})
}

// sanitize reshapes an internal response into the client-safe form
func (h *Handler) sanitize(c *fiber.Ctx, code int, body []byte) error {
	if code == fiber.StatusOK {
		var result models.QueryResult
		if err := json.Unmarshal(body, &result); err != nil {
			h.logger.Error("Unparseable upstream response", "error", err)
			return clientError(c, fiber.StatusServiceUnavailable, models.CodeUpstreamUnavailable)
		}

		return c.JSON(models.ClientResult{
			Status: result.Status,
			Rows:   result.Rows,
			Count:  result.Count,
		})
	}

	var upstream models.ErrorResponse
	if err := json.Unmarshal(body, &upstream); err != nil || upstream.Error.Code == "" {
		return clientError(c, fiber.StatusServiceUnavailable, models.CodeUpstreamUnavailable)
	}

	h.logger.Warn("Upstream error",
		"code", upstream.Error.Code,
		"message", upstream.Error.Message,
		"status", code,
	)

	// Pool pressure is an operator concern; the log above keeps the
	// distinct code, clients only ever see an unavailable service.
	errCode := upstream.Error.Code
	if errCode == models.CodePoolExhausted {
		errCode = models.CodeUpstreamUnavailable
	}
	return clientError(c, code, errCode)
}

func clientError(c *fiber.Ctx, status int, code string) error {
	message, ok := clientMessages[code]
	if !ok {
		message = "Request failed"
	}

	return c.Status(status).JSON(models.ErrorResponse{
		Error: models.ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}
