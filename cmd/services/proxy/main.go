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
	"github.com/queryrelay/queryrelay/internal/health"
	"github.com/queryrelay/queryrelay/internal/logging"
	"github.com/queryrelay/queryrelay/internal/pool"
	"github.com/queryrelay/queryrelay/internal/proxy"
	"github.com/queryrelay/queryrelay/internal/registry"
	"github.com/queryrelay/queryrelay/internal/routing"
	"github.com/queryrelay/queryrelay/internal/topology"
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
	logger.Info("Proxy service starting...",
		"version", Version, "commit", GitCommit, "build time", BuildTime)

	// Topology is read once at startup and never reloaded
	topo, err := topology.FromConfig(cfg.Topology)
	if err != nil {
		logger.Fatal("Failed to build topology", "error", err)
	}
	logger.Info("Topology loaded",
		"manager", topo.Manager().Addr(), "workers", topo.WorkerCount())

	// Per-node connection pools
	connPool, err := pool.New(topo.Nodes(), cfg.MySQL, cfg.Pool, logger)
	if err != nil {
		logger.Fatal("Failed to create connection pool", "error", err)
	}
	defer connPool.Close()

	// Background health prober feeds both the pool and the router
	tracker := health.NewTracker(topo.Nodes())
	prober := health.NewProber(topo.Nodes(), connPool, connPool, tracker, cfg.Health, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	prober.Start(ctx)
	defer prober.Stop()

	router := routing.New(topo, tracker, logger)
	executor := proxy.NewExecutor(connPool, router, logger)

	// Wire relays, one listener per strategy port
	relays := proxy.Relays(cfg.Proxy, router, logger)
	if err := proxy.StartRelays(ctx, relays); err != nil {
		logger.Fatal("Failed to start wire relays", "error", err)
	}

	// Administrative API serving the Trusted Host
	app := proxy.NewAPI(logger, executor)

	// Optional service registration
	if cfg.Registry.Enabled {
		reg, err := registry.NewServiceRegistration(cfg.Registry, "proxy", cfg.ProxyAPIAddress(), logger)
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
		addr := cfg.ProxyAPIAddress()
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

	for _, relay := range relays {
		relay.Stop()
	}

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	logger.Info("Server exited")
}
