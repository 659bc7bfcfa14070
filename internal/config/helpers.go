package config

import "fmt"

// GatekeeperAddress returns the Gatekeeper listen address
func (c *Config) GatekeeperAddress() string {
	return fmt.Sprintf("%s:%d", c.Gatekeeper.Host, c.Gatekeeper.Port)
}

// TrustedHostAddress returns the Trusted Host listen address
func (c *Config) TrustedHostAddress() string {
	return fmt.Sprintf("%s:%d", c.TrustedHost.Host, c.TrustedHost.Port)
}

// ProxyAPIAddress returns the Proxy administrative listen address
func (c *Config) ProxyAPIAddress() string {
	return fmt.Sprintf("%s:%d", c.Proxy.Host, c.Proxy.Ports.API)
}

// StrategyAddress returns the Proxy wire listen address for one strategy port
func (c *ProxyConfig) StrategyAddress(port int) string {
	return fmt.Sprintf("%s:%d", c.Host, port)
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Logging.Level == "debug" && c.Logging.Format == "console"
}
