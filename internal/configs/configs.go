/*
Package configs is responsible for loading and validating the application's
configuration from environment variables.
*/
package configs

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig contains all configuration parameters required by the server.
// All values are loaded from environment variables.
type AppConfig struct {
	// Environment selects logging format and CORS strictness
	// ("development" or "production").
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	// Port is the TCP port the HTTP server listens on.
	Port int `envconfig:"PORT" default:"8080"`

	// AllowedOrigins lists the origins permitted to open WebSocket
	// connections and make HTTP requests in production.
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"`

	// ConnectRate is the sustained per-IP WebSocket connection rate
	// (connections per second).
	ConnectRate float64 `envconfig:"CONNECT_RATE" default:"0.2"`

	// ConnectBurst is the per-IP burst allowance for WebSocket connections.
	ConnectBurst int `envconfig:"CONNECT_BURST" default:"5"`
}

// LoadConfig reads the application configuration from environment variables
// and validates it. It returns a pointer to the AppConfig and any error
// encountered.
func LoadConfig() (*AppConfig, error) {
	cfg := &AppConfig{}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment configuration: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate applies constraints that envconfig tags cannot express.
func (cfg *AppConfig) validate() error {
	if cfg.Port < 1024 || cfg.Port > 65535 {
		return fmt.Errorf("port number %d is outside the recommended range (%d-%d) to avoid privileged ports", cfg.Port, 1024, 65535)
	}

	if cfg.ConnectRate <= 0 {
		return fmt.Errorf("CONNECT_RATE must be positive, got %v", cfg.ConnectRate)
	}

	if cfg.ConnectBurst < 1 {
		return fmt.Errorf("CONNECT_BURST must be at least 1, got %d", cfg.ConnectBurst)
	}

	if cfg.Environment != "development" && len(cfg.AllowedOrigins) == 0 {
		return fmt.Errorf("ALLOWED_ORIGINS is required in %s environment", cfg.Environment)
	}

	return nil
}
