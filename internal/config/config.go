package config

import (
	"fmt"
	"time"
)

// Config represents the complete application configuration.
// One file describes the whole deployment; each binary reads the sections
// it needs. The topology section is consumed exactly once at startup and
// never reloaded.
type Config struct {
	Topology    TopologyConfig    `mapstructure:"topology"`
	MySQL       MySQLConfig       `mapstructure:"mysql"`
	Pool        PoolConfig        `mapstructure:"pool"`
	Health      HealthConfig      `mapstructure:"health"`
	Proxy       ProxyConfig       `mapstructure:"proxy"`
	TrustedHost TrustedHostConfig `mapstructure:"trusted_host"`
	Gatekeeper  GatekeeperConfig  `mapstructure:"gatekeeper"`
	Breaker     BreakerConfig     `mapstructure:"breaker"`
	Registry    RegistryConfig    `mapstructure:"registry"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// Endpoint is one host:port pair in the topology
type Endpoint struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// TopologyConfig describes the MySQL cluster: exactly one manager and an
// ordered, non-empty list of workers. Worker order is significant: it is
// the deterministic tie-break order for latency-based routing.
type TopologyConfig struct {
	Manager Endpoint   `mapstructure:"manager"`
	Workers []Endpoint `mapstructure:"workers"`
}

// MySQLConfig represents credentials shared by all cluster nodes
type MySQLConfig struct {
	User        string        `mapstructure:"user"`
	Password    string        `mapstructure:"password"`
	Database    string        `mapstructure:"database"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// PoolConfig represents per-node connection pool configuration
type PoolConfig struct {
	MaxConnsPerNode int           `mapstructure:"max_conns_per_node"`
	MaxIdlePerNode  int           `mapstructure:"max_idle_per_node"`
	AcquireTimeout  time.Duration `mapstructure:"acquire_timeout"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// HealthConfig represents the background health prober configuration
type HealthConfig struct {
	Interval time.Duration `mapstructure:"interval"` // probe cycle interval
	Timeout  time.Duration `mapstructure:"timeout"`  // per-node probe timeout
}

// ProxyPorts maps each routing strategy to its client-facing listener port,
// plus the administrative port serving the Trusted Host.
type ProxyPorts struct {
	Direct int `mapstructure:"direct"`
	Random int `mapstructure:"random"`
	Custom int `mapstructure:"custom"`
	API    int `mapstructure:"api"`
}

// ProxyConfig represents the Proxy service configuration
type ProxyConfig struct {
	Host  string     `mapstructure:"host"`
	Ports ProxyPorts `mapstructure:"ports"`
}

// TrustedHostConfig represents the Trusted Host service configuration
type TrustedHostConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ProxyAPIURL    string        `mapstructure:"proxy_api_url"`
	GatekeeperHost string        `mapstructure:"gatekeeper_host"` // only accepted source address
	MaxQueryLength int           `mapstructure:"max_query_length"`
	ForwardTimeout time.Duration `mapstructure:"forward_timeout"`
}

// GatekeeperConfig represents the Gatekeeper service configuration
type GatekeeperConfig struct {
	Host           string          `mapstructure:"host"`
	Port           int             `mapstructure:"port"`
	TrustedHostURL string          `mapstructure:"trusted_host_url"`
	MaxBodySize    int             `mapstructure:"max_body_size"` // request size limit in bytes
	ForwardTimeout time.Duration   `mapstructure:"forward_timeout"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig represents the per-client sliding window rate limit.
// Type selects the backend: memory (default, single instance) or redis
// (shared window across Gatekeeper replicas).
type RateLimitConfig struct {
	Type          string        `mapstructure:"type"`
	Limit         int           `mapstructure:"limit"`  // max requests per window
	Window        time.Duration `mapstructure:"window"` // sliding window size
	RedisURL      string        `mapstructure:"redis_url"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
}

// BreakerConfig represents the circuit breaker guarding inter-tier forwarding
type BreakerConfig struct {
	Threshold int           `mapstructure:"threshold"` // consecutive failures before opening
	Cooldown  time.Duration `mapstructure:"cooldown"`  // open duration before half-open
}

// EtcdConfig represents etcd client configuration for service registration
type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
}

// RegistryConfig represents optional service registration. Disabled by
// default; routing never reads the registry, it exists for operators.
type RegistryConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
	Etcd    EtcdConfig    `mapstructure:"etcd"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, file path
	TimeFormat string `mapstructure:"time_format"` // RFC3339, Unix, Kitchen
}

// Validate validates the configuration. Any failure here is fatal at
// startup: a process with a malformed topology must not come up.
func (c *Config) Validate() error {
	if err := c.Topology.Validate(); err != nil {
		return fmt.Errorf("topology config: %w", err)
	}

	if err := c.MySQL.Validate(); err != nil {
		return fmt.Errorf("mysql config: %w", err)
	}

	if err := c.Pool.Validate(); err != nil {
		return fmt.Errorf("pool config: %w", err)
	}

	if err := c.Health.Validate(); err != nil {
		return fmt.Errorf("health config: %w", err)
	}

	if err := c.Proxy.Validate(); err != nil {
		return fmt.Errorf("proxy config: %w", err)
	}

	if err := c.TrustedHost.Validate(); err != nil {
		return fmt.Errorf("trusted_host config: %w", err)
	}

	if err := c.Gatekeeper.Validate(); err != nil {
		return fmt.Errorf("gatekeeper config: %w", err)
	}

	if err := c.Registry.Validate(); err != nil {
		return fmt.Errorf("registry config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates one topology endpoint
func (e *Endpoint) Validate() error {
	if e.Host == "" {
		return fmt.Errorf("host is required")
	}

	if e.Port < 1 || e.Port > 65535 {
		return fmt.Errorf("invalid port: %d", e.Port)
	}

	return nil
}

// Validate validates topology configuration
func (c *TopologyConfig) Validate() error {
	if err := c.Manager.Validate(); err != nil {
		return fmt.Errorf("manager: %w", err)
	}

	if len(c.Workers) == 0 {
		return fmt.Errorf("at least one worker is required")
	}

	for i, w := range c.Workers {
		if err := w.Validate(); err != nil {
			return fmt.Errorf("worker %d: %w", i, err)
		}
	}

	return nil
}

// Validate validates mysql configuration
func (c *MySQLConfig) Validate() error {
	if c.User == "" {
		return fmt.Errorf("user is required")
	}

	if c.Database == "" {
		return fmt.Errorf("database is required")
	}

	if c.DialTimeout <= 0 {
		return fmt.Errorf("dial_timeout must be positive")
	}

	return nil
}

// Validate validates pool configuration
func (c *PoolConfig) Validate() error {
	if c.MaxConnsPerNode < 1 {
		return fmt.Errorf("max_conns_per_node must be at least 1")
	}

	if c.MaxIdlePerNode < 0 || c.MaxIdlePerNode > c.MaxConnsPerNode {
		return fmt.Errorf("max_idle_per_node must be between 0 and max_conns_per_node")
	}

	if c.AcquireTimeout <= 0 {
		return fmt.Errorf("acquire_timeout must be positive")
	}

	return nil
}

// Validate validates health prober configuration
func (c *HealthConfig) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}

	if c.Timeout >= c.Interval {
		return fmt.Errorf("timeout must be shorter than interval")
	}

	return nil
}

// Validate validates proxy configuration
func (c *ProxyConfig) Validate() error {
	ports := []struct {
		name string
		port int
	}{
		{"direct", c.Ports.Direct},
		{"random", c.Ports.Random},
		{"custom", c.Ports.Custom},
		{"api", c.Ports.API},
	}

	seen := make(map[int]string, len(ports))
	for _, p := range ports {
		if p.port < 1 || p.port > 65535 {
			return fmt.Errorf("invalid %s port: %d", p.name, p.port)
		}
		if other, dup := seen[p.port]; dup {
			return fmt.Errorf("%s port and %s port cannot be the same", p.name, other)
		}
		seen[p.port] = p.name
	}

	return nil
}

// Validate validates trusted host configuration
func (c *TrustedHostConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	if c.ProxyAPIURL == "" {
		return fmt.Errorf("proxy_api_url is required")
	}

	if c.GatekeeperHost == "" {
		return fmt.Errorf("gatekeeper_host is required")
	}

	if c.MaxQueryLength < 1 {
		return fmt.Errorf("max_query_length must be positive")
	}

	return nil
}

// Validate validates gatekeeper configuration
func (c *GatekeeperConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	if c.TrustedHostURL == "" {
		return fmt.Errorf("trusted_host_url is required")
	}

	if c.MaxBodySize < 1 {
		return fmt.Errorf("max_body_size must be positive")
	}

	return c.RateLimit.Validate()
}

// Validate validates rate limit configuration
func (c *RateLimitConfig) Validate() error {
	if c.Type != "" && c.Type != "memory" && c.Type != "redis" {
		return fmt.Errorf("rate_limit.type must be 'memory' or 'redis'")
	}

	if c.Limit < 1 {
		return fmt.Errorf("rate_limit.limit must be at least 1")
	}

	if c.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive")
	}

	if c.Type == "redis" && c.RedisURL == "" {
		return fmt.Errorf("rate_limit.redis_url is required for redis backend")
	}

	return nil
}

// Validate validates registry configuration
func (c *RegistryConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if len(c.Etcd.Endpoints) == 0 {
		return fmt.Errorf("registry.etcd.endpoints is required when enabled")
	}

	if c.Etcd.DialTimeout <= 0 {
		return fmt.Errorf("registry.etcd.dial_timeout must be positive")
	}

	if c.TTL <= 0 {
		return fmt.Errorf("registry.ttl must be positive")
	}

	return nil
}

// Validate validates logging configuration
func (c *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"json":    true,
		"console": true,
	}

	if !validFormats[c.Format] {
		return fmt.Errorf("logging.format must be 'json' or 'console'")
	}

	return nil
}
