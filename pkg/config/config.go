package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	pamadapter "github.com/marmos91/dittopam/pkg/adapter/pam"
	"github.com/marmos91/dittopam/pkg/api"
	"github.com/marmos91/dittopam/pkg/certhelper"
	"github.com/marmos91/dittopam/pkg/provider/directory"
	"github.com/marmos91/dittopam/pkg/provider/krb5"
	"github.com/marmos91/dittopam/pkg/refresh"
)

// Config represents the dittopam configuration.
//
// This structure captures every static aspect of the daemon:
//   - Logging, tracing, profiling and metrics
//   - The PAM sockets and the responder policy
//   - Identity domains and the providers backing them
//   - The identity cache store
//   - Background refresh and the control API
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (DITTOPAM_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Metrics contains Prometheus metrics server configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Server configures the PAM sockets
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// PAM is the responder policy
	PAM PAMConfig `mapstructure:"pam" yaml:"pam"`

	// Domains lists the identity domains in lookup order
	Domains []DomainConfig `mapstructure:"domains" validate:"dive" yaml:"domains"`

	// Store selects where identity records are cached
	Store StoreConfig `mapstructure:"store" yaml:"store"`

	// Providers configures the remote identity backends
	Providers ProvidersConfig `mapstructure:"providers" yaml:"providers"`

	// Refresh controls background refresh of expiring records
	Refresh refresh.Config `mapstructure:"refresh" yaml:"refresh"`

	// API configures the control API server
	API api.APIConfig `mapstructure:"api" yaml:"api"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
// When enabled, trace data is exported to an OTLP-compatible collector
// (e.g., Jaeger, Tempo, or any OTLP receiver).
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false (opt-in for telemetry)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317" (standard OTLP gRPC port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use insecure (non-TLS) connection
	// Default: true (for local development)
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	// Default: 1.0 (sample all)
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled
	// Default: false (opt-in for profiling)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server endpoint (URL)
	// Default: "http://localhost:4040" (standard Pyroscope port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect
	// Valid values: cpu, alloc_objects, alloc_space, inuse_objects, inuse_space,
	//               goroutines, mutex_count, mutex_duration, block_count, block_duration
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false, no metrics are collected (zero overhead).
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP server are enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint
	// Default: 9090
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// ServerConfig configures the PAM sockets.
type ServerConfig struct {
	pamadapter.Config `mapstructure:",squash" yaml:",inline"`

	// ProviderTimeout bounds a single provider call. Calls still running
	// when it expires are answered with a timeout error.
	// Default: 30s
	ProviderTimeout time.Duration `mapstructure:"provider_timeout" validate:"min=0" yaml:"provider_timeout"`
}

// PAMConfig is the responder policy.
type PAMConfig struct {
	// Verbosity controls which informational messages reach the client:
	// 0 none, 1 important, 2 info, 3 debug.
	// Default: 1
	// Reloaded when the configuration file changes.
	Verbosity int `mapstructure:"verbosity" validate:"min=0,max=3" yaml:"verbosity"`

	// AccountExpiredMessage is appended to the account-expired notice
	// shown to ssh users.
	AccountExpiredMessage string `mapstructure:"account_expired_message" yaml:"account_expired_message,omitempty"`

	// TrustedUsers may query every domain. Entries are user names or
	// numeric uids. Empty trusts everyone.
	TrustedUsers []string `mapstructure:"trusted_users" yaml:"trusted_users,omitempty"`

	// PublicDomains may be queried by untrusted users.
	PublicDomains []string `mapstructure:"public_domains" yaml:"public_domains,omitempty"`

	// CertAuth enables smartcard authentication.
	CertAuth bool `mapstructure:"cert_auth" yaml:"cert_auth"`

	// CertHelper is the external program that reads certificates.
	CertHelper certhelper.Config `mapstructure:"cert_helper" yaml:"cert_helper,omitempty"`

	// NegTimeout is how long an unknown user stays in the negative cache.
	// Default: 15s
	NegTimeout time.Duration `mapstructure:"neg_timeout" validate:"min=0" yaml:"neg_timeout"`

	// IDTimeout is how long a provider refresh is trusted.
	// Default: 5s
	IDTimeout time.Duration `mapstructure:"id_timeout" validate:"min=0" yaml:"id_timeout"`

	// OfflineCredentialsExpiration is the number of days cached credentials
	// stay usable after the last online login. 0 never expires them.
	OfflineCredentialsExpiration int `mapstructure:"offline_credentials_expiration" validate:"min=0" yaml:"offline_credentials_expiration"`

	// OfflineFailedLoginAttempts locks offline logins after this many
	// failures. 0 disables the limit.
	OfflineFailedLoginAttempts uint32 `mapstructure:"offline_failed_login_attempts" yaml:"offline_failed_login_attempts"`

	// OfflineFailedLoginDelay is how long offline logins stay locked.
	// Default: 5m
	OfflineFailedLoginDelay time.Duration `mapstructure:"offline_failed_login_delay" validate:"min=0" yaml:"offline_failed_login_delay"`

	// FilterUsers are never served. Entries are "name" (every domain) or
	// "name@domain".
	FilterUsers []string `mapstructure:"filter_users" yaml:"filter_users,omitempty"`

	// DefaultDomainSuffix is assumed for names without a domain.
	DefaultDomainSuffix string `mapstructure:"default_domain_suffix" yaml:"default_domain_suffix,omitempty"`
}

// DomainConfig describes one identity domain.
type DomainConfig struct {
	// Name is the domain name, matched case-insensitively.
	Name string `mapstructure:"name" validate:"required" yaml:"name"`

	// Provider names the backend: "krb5", "directory" or empty for a
	// local-only domain.
	Provider string `mapstructure:"provider" validate:"omitempty,oneof=krb5 directory" yaml:"provider,omitempty"`

	// FullyQualifiedNames requires users to log in as user@domain.
	FullyQualifiedNames bool `mapstructure:"use_fully_qualified_names" yaml:"use_fully_qualified_names"`

	// CaseSensitive keeps user names as typed.
	CaseSensitive bool `mapstructure:"case_sensitive" yaml:"case_sensitive"`

	// CacheCredentials keeps password hashes for offline logins.
	CacheCredentials bool `mapstructure:"cache_credentials" yaml:"cache_credentials"`

	// CachedAuthTimeout answers logins from the cached hash for this long
	// after an online login. 0 always asks the provider.
	CachedAuthTimeout time.Duration `mapstructure:"cached_auth_timeout" validate:"min=0" yaml:"cached_auth_timeout,omitempty"`

	// EntryCacheTimeout is how long a refreshed record stays valid.
	// Default: 90m
	EntryCacheTimeout time.Duration `mapstructure:"entry_cache_timeout" validate:"min=0" yaml:"entry_cache_timeout,omitempty"`
}

// StoreConfig selects the identity cache backend. The subsection matching
// Type is decoded by CreateStore.
type StoreConfig struct {
	// Type is memory, badger or postgres.
	// Default: badger
	Type string `mapstructure:"type" validate:"required,oneof=memory badger postgres" yaml:"type"`

	// Badger holds badger store options (path, in_memory, cache sizes).
	Badger map[string]any `mapstructure:"badger" yaml:"badger,omitempty"`

	// Postgres holds postgres store options (host, port, database, ...).
	Postgres map[string]any `mapstructure:"postgres" yaml:"postgres,omitempty"`
}

// ProvidersConfig configures the remote identity backends. A nil section
// disables the backend.
type ProvidersConfig struct {
	Krb5      *krb5.Config      `mapstructure:"krb5" yaml:"krb5,omitempty"`
	Directory *directory.Config `mapstructure:"directory" yaml:"directory,omitempty"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DITTOPAM_*)
//  2. Configuration file
//  3. Default values
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		return GetDefaultConfig(), nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages.
// It checks if the config file exists and provides user-friendly instructions if not.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  dpam config init\n\n"+
				"Or specify a custom config file:\n"+
				"  dpam <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  dpam config init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path.
// The configuration is saved in YAML format using proper yaml tags.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600: the file may hold database passwords and the JWT secret.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: DITTOPAM_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DITTOPAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Zero is a meaningful verbosity, so the default cannot be applied
	// after decoding.
	v.SetDefault("pam.verbosity", 1)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// durationDecodeHook returns a mapstructure decode hook that converts strings
// to time.Duration. This enables config files to use human-readable durations
// like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Assume nanoseconds for raw integers
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// decodeSection decodes a free-form subsection (such as store.badger) into
// out with the same hooks used for the whole file.
func decodeSection(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       configDecodeHooks(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittopam")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittopam")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
