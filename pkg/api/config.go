package api

import (
	"fmt"
	"time"
)

// MinJWTSecretLength is the shortest HS256 secret accepted.
const MinJWTSecretLength = 32

// APIConfig configures the control API HTTP server.
//
// When Enabled is false, no API server is started.
type APIConfig struct {
	// Enabled controls whether the API server is started.
	// Default: false
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Address is the interface to bind. The API can reset caches, so it
	// listens on loopback unless told otherwise.
	// Default: 127.0.0.1
	Address string `mapstructure:"address" yaml:"address"`

	// Port is the HTTP port for the API endpoints.
	// Default: 8390
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// JWTSecret signs and verifies bearer tokens (HS256).
	// Override: DITTOPAM_API_JWT_SECRET
	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret,omitempty"`

	// TokenTTL is the lifetime of tokens issued by 'dpam token'.
	// Default: 1h
	TokenTTL time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 10s
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the response.
	// Default: 10s
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the keep-alive idle limit.
	// Default: 60s
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// ApplyDefaults fills in zero values.
func (c *APIConfig) ApplyDefaults() {
	if c.Address == "" {
		c.Address = "127.0.0.1"
	}
	if c.Port <= 0 {
		c.Port = 8390
	}
	if c.TokenTTL == 0 {
		c.TokenTTL = time.Hour
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
}

// HasJWTSecret reports whether a usable signing secret is configured.
func (c *APIConfig) HasJWTSecret() bool {
	return len(c.JWTSecret) >= MinJWTSecretLength
}

// Validate rejects an enabled API without a signing secret.
func (c *APIConfig) Validate() error {
	if c.Enabled && !c.HasJWTSecret() {
		return fmt.Errorf("api: jwt_secret must be at least %d characters", MinJWTSecretLength)
	}
	return nil
}

// ListenAddr returns host:port.
func (c *APIConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}
