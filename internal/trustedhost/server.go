package trustedhost

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/queryrelay/queryrelay/internal/breaker"
	"github.com/queryrelay/queryrelay/internal/config"
	"github.com/queryrelay/queryrelay/internal/logging"
	"github.com/queryrelay/queryrelay/internal/upstream"
)

// NewAPI configures the Trusted Host fiber app
func NewAPI(cfg config.TrustedHostConfig, brkCfg config.BreakerConfig, logger *logging.Logger) *fiber.App {
	proxy := upstream.NewClient(cfg.ProxyAPIURL, cfg.ForwardTimeout)
	validator := NewValidator(cfg.MaxQueryLength)
	brk := breaker.New(brkCfg, logger)

	return newApp(cfg, logger, validator, proxy, brk)
}

func newApp(cfg config.TrustedHostConfig, logger *logging.Logger, validator *Validator, proxy forwarder, brk *breaker.Breaker) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	h := NewHandler(logger, validator, proxy, brk)

	app.Use(recover.New())
	app.Use(logging.FiberMiddleware(logger))
	app.Use(SourceFilter(logger, cfg.GatekeeperHost))

	app.Get("/health", h.Health)
	app.Post("/query", h.Query)
	app.Use(h.NotFound)

	return app
}
