package proxy

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/queryrelay/queryrelay/internal/config"
	"github.com/queryrelay/queryrelay/internal/logging"
	"github.com/queryrelay/queryrelay/internal/models"
	"github.com/queryrelay/queryrelay/internal/routing"
)

// NewAPI configures the administrative fiber app: one statement per
// request, classified and routed server-side
func NewAPI(logger *logging.Logger, executor *Executor) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	h := NewHandler(logger, executor)

	app.Use(recover.New())
	app.Use(logging.FiberMiddleware(logger))

	app.Get("/health", h.Health)
	app.Post("/query", h.Query)
	app.Use(h.NotFound)

	return app
}

// Relays builds one wire relay per strategy port
func Relays(cfg config.ProxyConfig, router *routing.Router, logger *logging.Logger) []*Relay {
	return []*Relay{
		NewRelay(models.StrategyDirect, cfg.StrategyAddress(cfg.Ports.Direct), router, logger),
		NewRelay(models.StrategyRandom, cfg.StrategyAddress(cfg.Ports.Random), router, logger),
		NewRelay(models.StrategyCustom, cfg.StrategyAddress(cfg.Ports.Custom), router, logger),
	}
}

// StartRelays starts every relay, stopping the ones already started if
// a later listener fails to bind
func StartRelays(ctx context.Context, relays []*Relay) error {
	for i, relay := range relays {
		if err := relay.Start(ctx); err != nil {
			for _, started := range relays[:i] {
				started.Stop()
			}
			return err
		}
	}
	return nil
}
