package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Load loads configuration from file
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default config locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")               // Current directory
		v.AddConfigPath("./configs")       // Project configs directory
		v.AddConfigPath("/etc/queryrelay") // System-wide config
	}

	// Set defaults
	setDefaults(v)

	// Enable environment variable overrides
	v.SetEnvPrefix("QUERYRELAY")
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; use defaults
			return parseConfig(v)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return parseConfig(v)
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Topology defaults: a single local manager and worker, for development
	v.SetDefault("topology.manager.host", "127.0.0.1")
	v.SetDefault("topology.manager.port", 3306)
	v.SetDefault("topology.workers", []map[string]interface{}{
		{"host": "127.0.0.1", "port": 3316},
	})

	// MySQL defaults
	v.SetDefault("mysql.user", "root")
	v.SetDefault("mysql.database", "sakila")
	v.SetDefault("mysql.dial_timeout", "10s")

	// Pool defaults
	v.SetDefault("pool.max_conns_per_node", 16)
	v.SetDefault("pool.max_idle_per_node", 4)
	v.SetDefault("pool.acquire_timeout", "5s")
	v.SetDefault("pool.conn_max_idle_time", "5m")
	v.SetDefault("pool.conn_max_lifetime", "30m")

	// Health prober defaults
	v.SetDefault("health.interval", "10s")
	v.SetDefault("health.timeout", "3s")

	// Proxy defaults
	v.SetDefault("proxy.host", "0.0.0.0")
	v.SetDefault("proxy.ports.direct", 3406)
	v.SetDefault("proxy.ports.random", 3407)
	v.SetDefault("proxy.ports.custom", 3408)
	v.SetDefault("proxy.ports.api", 5000)

	// Trusted host defaults
	v.SetDefault("trusted_host.host", "0.0.0.0")
	v.SetDefault("trusted_host.port", 5001)
	v.SetDefault("trusted_host.proxy_api_url", "http://127.0.0.1:5000")
	v.SetDefault("trusted_host.gatekeeper_host", "127.0.0.1")
	v.SetDefault("trusted_host.max_query_length", 5000)
	v.SetDefault("trusted_host.forward_timeout", "30s")

	// Gatekeeper defaults
	v.SetDefault("gatekeeper.host", "0.0.0.0")
	v.SetDefault("gatekeeper.port", 5002)
	v.SetDefault("gatekeeper.trusted_host_url", "http://127.0.0.1:5001")
	v.SetDefault("gatekeeper.max_body_size", 1024*1024)
	v.SetDefault("gatekeeper.forward_timeout", "30s")
	v.SetDefault("gatekeeper.rate_limit.type", "memory")
	v.SetDefault("gatekeeper.rate_limit.limit", 1000)
	v.SetDefault("gatekeeper.rate_limit.window", "1m")

	// Breaker defaults
	v.SetDefault("breaker.threshold", 5)
	v.SetDefault("breaker.cooldown", "1m")

	// Registry defaults
	v.SetDefault("registry.enabled", false)
	v.SetDefault("registry.ttl", "15s")
	v.SetDefault("registry.etcd.endpoints", []string{"http://localhost:2379"})
	v.SetDefault("registry.etcd.dial_timeout", "5s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output_path", "stdout")
}

// parseConfig parses viper config into Config struct
func parseConfig(v *viper.Viper) (*Config, error) {
	var cfg Config

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Topology: TopologyConfig{
			Manager: Endpoint{Host: "127.0.0.1", Port: 3306},
			Workers: []Endpoint{{Host: "127.0.0.1", Port: 3316}},
		},
		MySQL: MySQLConfig{
			User:        "root",
			Database:    "sakila",
			DialTimeout: 10 * time.Second,
		},
		Pool: PoolConfig{
			MaxConnsPerNode: 16,
			MaxIdlePerNode:  4,
			AcquireTimeout:  5 * time.Second,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Health: HealthConfig{
			Interval: 10 * time.Second,
			Timeout:  3 * time.Second,
		},
		Proxy: ProxyConfig{
			Host:  "0.0.0.0",
			Ports: ProxyPorts{Direct: 3406, Random: 3407, Custom: 3408, API: 5000},
		},
		TrustedHost: TrustedHostConfig{
			Host:           "0.0.0.0",
			Port:           5001,
			ProxyAPIURL:    "http://127.0.0.1:5000",
			GatekeeperHost: "127.0.0.1",
			MaxQueryLength: 5000,
			ForwardTimeout: 30 * time.Second,
		},
		Gatekeeper: GatekeeperConfig{
			Host:           "0.0.0.0",
			Port:           5002,
			TrustedHostURL: "http://127.0.0.1:5001",
			MaxBodySize:    1024 * 1024,
			ForwardTimeout: 30 * time.Second,
			RateLimit: RateLimitConfig{
				Type:   "memory",
				Limit:  1000,
				Window: time.Minute,
			},
		},
		Breaker: BreakerConfig{
			Threshold: 5,
			Cooldown:  time.Minute,
		},
		Registry: RegistryConfig{
			Enabled: false,
			TTL:     15 * time.Second,
			Etcd: EtcdConfig{
				Endpoints:   []string{"http://localhost:2379"},
				DialTimeout: 5 * time.Second,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			OutputPath: "stdout",
		},
	}
}
