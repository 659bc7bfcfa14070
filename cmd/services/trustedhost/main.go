package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/queryrelay/queryrelay/internal/config"
	"github.com/queryrelay/queryrelay/internal/logging"
	"github.com/queryrelay/queryrelay/internal/registry"
	"github.com/queryrelay/queryrelay/internal/trustedhost"
)

var (
	Version   = "dev"     // Injected via ldflags during build
	GitCommit = "unknown" // Injected via ldflags during build
	BuildTime = "unknown" // Injected via ldflags during build
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger, err := logging.NewFromConfig(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)
	logger.Info("Trusted Host service starting...",
		"version", Version, "commit", GitCommit, "build time", BuildTime)
	logger.Info("Accepting traffic only from Gatekeeper",
		"gatekeeper_host", cfg.TrustedHost.GatekeeperHost)

	app := trustedhost.NewAPI(cfg.TrustedHost, cfg.Breaker, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Optional service registration
	if cfg.Registry.Enabled {
		reg, err := registry.NewServiceRegistration(cfg.Registry, "trusted-host", cfg.TrustedHostAddress(), logger)
		if err != nil {
			logger.Fatal("Failed to connect to etcd", "error", err)
		}
		if err := reg.Register(ctx); err != nil {
			logger.Fatal("Failed to register service", "error", err)
		}
		defer func() { _ = reg.Deregister(context.Background()) }()
	}

	// Start server in goroutine
	go func() {
		addr := cfg.TrustedHostAddress()
		logger.Info("Server listening", "address", addr)
		if err := app.Listen(addr); err != nil {
			logger.Fatal("Failed to start server", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	logger.Info("Server exited")
}
