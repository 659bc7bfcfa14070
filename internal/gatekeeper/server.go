package gatekeeper

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/queryrelay/queryrelay/internal/breaker"
	"github.com/queryrelay/queryrelay/internal/config"
	"github.com/queryrelay/queryrelay/internal/logging"
	"github.com/queryrelay/queryrelay/internal/ratelimit"
	"github.com/queryrelay/queryrelay/internal/upstream"
)

// NewAPI configures the client-facing fiber app
func NewAPI(cfg config.GatekeeperConfig, brkCfg config.BreakerConfig, logger *logging.Logger) (*fiber.App, ratelimit.Limiter, error) {
	limiter, err := ratelimit.NewLimiter(cfg.RateLimit)
	if err != nil {
		return nil, nil, err
	}

	trusted := upstream.NewClient(cfg.TrustedHostURL, cfg.ForwardTimeout)
	brk := breaker.New(brkCfg, logger)

	return newApp(cfg, logger, trusted, limiter, brk), limiter, nil
}

func newApp(cfg config.GatekeeperConfig, logger *logging.Logger, trusted forwarder, limiter ratelimit.Limiter, brk *breaker.Breaker) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		BodyLimit:             cfg.MaxBodySize,
	})

	h := NewHandler(logger, trusted, limiter, brk)

	app.Use(recover.New())
	app.Use(logging.FiberMiddleware(logger))

	app.Get("/health", h.Health)
	app.Post("/query", h.Query)
	app.Use(h.NotFound)

	return app
}
