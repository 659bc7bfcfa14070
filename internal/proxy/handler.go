package proxy

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/queryrelay/queryrelay/internal/logging"
	"github.com/queryrelay/queryrelay/internal/models"
)

// queryExecutor is what the handlers need from the executor
type queryExecutor interface {
	Execute(ctx context.Context, statement string, strategy models.Strategy) (*models.QueryResult, error)
}

// Handler contains the administrative port HTTP handlers
type Handler struct {
	logger   *logging.Logger
	executor queryExecutor
}

// NewHandler creates a new handler instance
func NewHandler(logger *logging.Logger, executor queryExecutor) *Handler {
	return &Handler{logger: logger, executor: executor}
}

// Health handles health check requests
func (h *Handler) Health(c *fiber.Ctx) error {
	return c.JSON(models.HealthResponse{
		Status:    "healthy",
		Service:   "proxy",
		Timestamp: time.Now().Format(time.RFC3339),
		Version:   "1.0.0",
	})
}

// Query executes one statement through the routing pipeline
func (h *Handler) Query(c *fiber.Ctx) error {
	var req models.QueryRequest
	if err := c.BodyParser(&req); err != nil {
		return badQuery(c, "Invalid request body")
	}

	if strings.TrimSpace(req.Query) == "" {
		return badQuery(c, "Query must not be empty")
	}

	strategy, ok := models.ParseStrategy(req.Strategy)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
			Error: models.ErrorDetail{
				Code:    models.CodeConfigInvalid,
				Message: "Unknown strategy: " + req.Strategy,
			},
		})
	}

	// c.UserContext is canceled when the caller disconnects, which
	// aborts only this in-flight statement.
	result, err := h.executor.Execute(c.UserContext(), req.Query, strategy)
	if err != nil {
		return h.executeError(c, err)
	}

	return c.JSON(result)
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

func (h *Handler) executeError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ErrBadQuery):
		return badQuery(c, err.Error())
	case errors.Is(err, ErrPoolExhausted):
		return c.Status(fiber.StatusServiceUnavailable).JSON(models.ErrorResponse{
			Error: models.ErrorDetail{
				Code:    models.CodePoolExhausted,
				Message: "Connection pool exhausted, retry later",
			},
		})
	default:
		return c.Status(fiber.StatusServiceUnavailable).JSON(models.ErrorResponse{
			Error: models.ErrorDetail{
				Code:    models.CodeUpstreamUnavailable,
				Message: "No database node could serve the request",
			},
		})
	}
}

func badQuery(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
		Error: models.ErrorDetail{
			Code:    models.CodeBadQuery,
			Message: message,
		},
	})
}
