// Package config loads runtime configuration from the environment and runs
// the startup checks that catch unconfigured production deployments.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"vaultdesk.io/internal/token"
)

// Config holds runtime configuration for the API process. All variables are
// prefixed VAULTDESK_.
type Config struct {
	AppEnv       string        `envconfig:"APP_ENV" default:"development"`
	Addr         string        `envconfig:"ADDR" default:":8080"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout  time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`

	PGDSN string `envconfig:"PG_DSN"`

	// RedisAddr switches the revocation registry from process-local memory
	// to a shared Redis so revocations are visible across instances.
	RedisAddr string `envconfig:"REDIS_ADDR"`

	AuthSecret  string        `envconfig:"AUTH_SECRET" default:"change-me-in-production"`
	TokenIssuer string        `envconfig:"TOKEN_ISSUER" default:"vaultdesk"`
	AccessTTL   time.Duration `envconfig:"ACCESS_TTL" default:"15m"`
	RefreshTTL  time.Duration `envconfig:"REFRESH_TTL" default:"168h"`

	AuthRateLimit int `envconfig:"AUTH_RATE_LIMIT" default:"10"`
	AuthRateBurst int `envconfig:"AUTH_RATE_BURST" default:"20"`

	MaxBodyBytes int64 `envconfig:"MAX_BODY_BYTES" default:"1048576"`
}

// Load reads configuration from VAULTDESK_-prefixed environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("vaultdesk", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IsProduction reports whether the process runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

// Validate runs the startup checks. A weak or placeholder token secret is an
// error in production and a returned warning elsewhere, so local development
// still boots with defaults.
func (c *Config) Validate() (warnings []string, err error) {
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return nil, fmt.Errorf("config: token TTLs must be positive")
	}
	if c.RefreshTTL <= c.AccessTTL {
		return nil, fmt.Errorf("config: refresh TTL must exceed access TTL")
	}
	if c.AuthRateLimit <= 0 || c.AuthRateBurst <= 0 {
		return nil, fmt.Errorf("config: auth rate limit and burst must be positive")
	}
	if secretErr := token.CheckSecret(c.AuthSecret, c.AccessTTL); secretErr != nil {
		if c.IsProduction() {
			return nil, secretErr
		}
		warnings = append(warnings, secretErr.Error())
	}
	return warnings, nil
}
