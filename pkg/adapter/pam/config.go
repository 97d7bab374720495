package pam

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	wire "github.com/marmos91/dittopam/internal/protocol/pam"
)

// Defaults applied by New to zero fields.
const (
	DefaultSocketPath      = "/var/run/dittopam/pam"
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

// Config holds configuration parameters for the PAM socket server.
//
// Default values (applied by New if zero):
//   - SocketPath: /var/run/dittopam/pam
//   - IdleTimeout: 60s
//   - ShutdownTimeout: 10s
//   - MaxPacketSize: 64KiB
//   - MaxConnections: 0 (unlimited)
type Config struct {
	// SocketPath is the socket PAM modules connect to.
	SocketPath string `mapstructure:"socket_path" yaml:"socket_path"`

	// PrivilegedSocketPath is a root-only socket. Clients on it are trusted
	// for every domain. Empty disables it.
	PrivilegedSocketPath string `mapstructure:"privileged_socket_path" yaml:"privileged_socket_path"`

	// MaxConnections limits concurrent client connections. 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" yaml:"max_connections" validate:"min=0"`

	// IdleTimeout closes a connection that sends nothing for this long
	// while no request is in flight.
	IdleTimeout time.Duration `mapstructure:"client_idle_timeout" yaml:"client_idle_timeout" validate:"min=0"`

	// WriteTimeout bounds writing one reply. 0 means no timeout.
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" validate:"min=0"`

	// ShutdownTimeout is how long Stop waits for active connections.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"min=0"`

	// MaxPacketSize bounds one inbound packet.
	MaxPacketSize int `mapstructure:"max_packet_size" yaml:"max_packet_size" validate:"min=0"`

	// MetricsLogInterval logs the connection count periodically. 0 disables.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" yaml:"metrics_log_interval" validate:"min=0"`
}

func (c *Config) applyDefaults() {
	if c.SocketPath == "" {
		c.SocketPath = DefaultSocketPath
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.MaxPacketSize == 0 {
		c.MaxPacketSize = wire.DefaultMaxPacketSize
	}
}

var validate = validator.New()

func (c *Config) validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid PAM server config: %w", err)
	}
	if c.PrivilegedSocketPath != "" && c.PrivilegedSocketPath == c.SocketPath {
		return fmt.Errorf("invalid PAM server config: privileged socket must differ from %s", c.SocketPath)
	}
	if c.MaxPacketSize < wire.HeaderSize {
		return fmt.Errorf("invalid PAM server config: max_packet_size %d below header size", c.MaxPacketSize)
	}
	return nil
}
