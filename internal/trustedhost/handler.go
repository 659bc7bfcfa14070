package trustedhost

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/queryrelay/queryrelay/internal/breaker"
	"github.com/queryrelay/queryrelay/internal/logging"
	"github.com/queryrelay/queryrelay/internal/models"
)

// forwarder is what the handlers need from the upstream client
type forwarder interface {
	PostJSON(path string, payload interface{}) (int, []byte, error)
	Get(path string) (int, []byte, error)
}

// Handler contains the Trusted Host HTTP handlers
type Handler struct {
	logger    *logging.Logger
	validator *Validator
	proxy     forwarder
	breaker   *breaker.Breaker
}

// NewHandler creates a new handler instance
func NewHandler(logger *logging.Logger, validator *Validator, proxy forwarder, brk *breaker.Breaker) *Handler {
	return &Handler{logger: logger, validator: validator, proxy: proxy, breaker: brk}
}

// Health reports this tier's health and probes the Proxy beneath it
func (h *Handler) Health(c *fiber.Ctx) error {
	upstream := "healthy"
	if code, _, err := h.proxy.Get("/health"); err != nil || code != fiber.StatusOK {
		upstream = "unreachable"
	}

	return c.JSON(models.HealthResponse{
		Status:    "healthy",
		Service:   "trusted-host",
		Timestamp: time.Now().Format(time.RFC3339),
		Upstream:  upstream,
	})
}

// Query vets one statement and forwards the approved ones to the Proxy
func (h *Handler) Query(c *fiber.Ctx) error {
	var req models.QueryRequest
	if err := c.BodyParser(&req); err != nil {
		return h.rejected(c, models.SecurityVerdict{Allowed: false, Reason: "invalid request body"})
	}

	if verdict := h.validator.Vet(req.Query); !verdict.Allowed {
		h.logger.Warn("Statement rejected",
			"reason", verdict.Reason,
			"source", c.IP(),
		)
		return h.rejected(c, verdict)
	}

	if _, ok := models.ParseStrategy(req.Strategy); !ok {
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
			Error: models.ErrorDetail{
				Code:    models.CodeConfigInvalid,
				Message: "Unknown strategy: " + req.Strategy,
			},
		})
	}

	if !h.breaker.Allow() {
		return upstreamUnavailable(c, "Proxy circuit open")
	}

	code, body, err := h.proxy.PostJSON("/query", req)
	if err != nil {
		h.breaker.RecordFailure()
		h.logger.Error("Proxy forward failed", "error", err)
		return upstreamUnavailable(c, "Proxy unreachable")
	}

	if code >= fiber.StatusInternalServerError {
		h.breaker.RecordFailure()
	} else {
		h.breaker.RecordSuccess()
	}

	// The Proxy response passes through untouched; the Gatekeeper is
	// the tier that sanitizes it for clients.
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Status(code).Send(body)
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

func (h *Handler) rejected(c *fiber.Ctx, verdict models.SecurityVerdict) error {
	return c.Status(fiber.StatusForbidden).JSON(models.RejectResponse{
		Error: models.ErrorDetail{
			Code:    models.CodeRejected,
			Message: "Statement rejected by security validation",
		},
		Verdict: verdict,
	})
}

func upstreamUnavailable(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(models.ErrorResponse{
		Error: models.ErrorDetail{
			Code:    models.CodeUpstreamUnavailable,
			Message: message,
		},
	})
}

// SourceFilter accepts requests only from the configured Gatekeeper
// address; everything else is turned away before any parsing happens
func SourceFilter(logger *logging.Logger, gatekeeperHost string) fiber.Handler {
	allowed := strings.TrimSpace(gatekeeperHost)

	return func(c *fiber.Ctx) error {
		if c.IP() != allowed {
			logger.Warn("Request from unauthorized source", "source", c.IP())
			return c.Status(fiber.StatusForbidden).JSON(models.ErrorResponse{
				Error: models.ErrorDetail{
					Code:    models.CodeRejected,
					Message: "Source address not allowed",
				},
			})
		}
		return c.Next()
	}
}
