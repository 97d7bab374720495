package config

import (
	"path/filepath"
	"strings"
	"time"

	wire "github.com/marmos91/dittopam/internal/protocol/pam"
	pamadapter "github.com/marmos91/dittopam/pkg/adapter/pam"
	"github.com/marmos91/dittopam/pkg/certhelper"
	"github.com/marmos91/dittopam/pkg/provider/directory"
	"github.com/marmos91/dittopam/pkg/provider/krb5"
	responder "github.com/marmos91/dittopam/pkg/responder/pam"
)

// Defaults for the PAM section.
const (
	DefaultProviderTimeout         = 30 * time.Second
	DefaultNegTimeout              = 15 * time.Second
	DefaultOfflineFailedLoginDelay = 5 * time.Minute
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyShutdownTimeoutDefaults(cfg)
	applyMetricsDefaults(&cfg.Metrics)
	applyServerDefaults(&cfg.Server)
	applyPAMDefaults(&cfg.PAM)
	applyDomainDefaults(cfg.Domains)
	applyStoreDefaults(&cfg.Store)
	applyProviderDefaults(&cfg.Providers)
	cfg.Refresh.ApplyDefaults()
	cfg.API.ApplyDefaults()
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	applyProfilingDefaults(&cfg.Profiling)
}

// applyProfilingDefaults sets Pyroscope profiling defaults.
func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

// applyShutdownTimeoutDefaults sets shutdown timeout defaults.
func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// applyServerDefaults mirrors the adapter's own defaults so that
// 'dpam config show' prints the effective values.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.SocketPath == "" {
		cfg.SocketPath = pamadapter.DefaultSocketPath
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = pamadapter.DefaultIdleTimeout
	}
	if cfg.Config.ShutdownTimeout == 0 {
		cfg.Config.ShutdownTimeout = pamadapter.DefaultShutdownTimeout
	}
	if cfg.MaxPacketSize == 0 {
		cfg.MaxPacketSize = wire.DefaultMaxPacketSize
	}
	if cfg.ProviderTimeout == 0 {
		cfg.ProviderTimeout = DefaultProviderTimeout
	}
}

// applyPAMDefaults sets responder policy defaults.
func applyPAMDefaults(cfg *PAMConfig) {
	if cfg.NegTimeout == 0 {
		cfg.NegTimeout = DefaultNegTimeout
	}
	if cfg.IDTimeout == 0 {
		cfg.IDTimeout = responder.DefaultIDTimeout
	}
	if cfg.OfflineFailedLoginDelay == 0 {
		cfg.OfflineFailedLoginDelay = DefaultOfflineFailedLoginDelay
	}
	if cfg.CertHelper.Timeout == 0 {
		cfg.CertHelper.Timeout = certhelper.DefaultTimeout
	}
}

// applyDomainDefaults sets per-domain defaults.
func applyDomainDefaults(domains []DomainConfig) {
	for i := range domains {
		if domains[i].EntryCacheTimeout == 0 {
			domains[i].EntryCacheTimeout = directory.DefaultEntryCacheTimeout
		}
	}
}

// applyStoreDefaults defaults to a badger store next to the config file.
func applyStoreDefaults(cfg *StoreConfig) {
	if cfg.Type == "" {
		cfg.Type = "badger"
	}
	if cfg.Type == "badger" {
		if cfg.Badger == nil {
			cfg.Badger = map[string]any{}
		}
		if _, ok := cfg.Badger["path"]; !ok {
			if inMem, _ := cfg.Badger["in_memory"].(bool); !inMem {
				cfg.Badger["path"] = filepath.Join(getConfigDir(), "cache")
			}
		}
	}
}

// applyProviderDefaults sets provider defaults for configured providers.
func applyProviderDefaults(cfg *ProvidersConfig) {
	if cfg.Krb5 != nil && cfg.Krb5.Krb5Conf == "" && len(cfg.Krb5.KDCs) == 0 {
		cfg.Krb5.Krb5Conf = krb5.DefaultKrb5Conf
	}
	if cfg.Directory != nil {
		cfg.Directory.ApplyDefaults()
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// The default is a single local domain served by the SQL directory, which
// works without any network service.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		PAM: PAMConfig{
			Verbosity: int(wire.VerbosityImportant),
		},
		Domains: []DomainConfig{
			{
				Name:             "local",
				Provider:         "directory",
				CacheCredentials: true,
			},
		},
		Store: StoreConfig{
			Type: "badger",
		},
		Providers: ProvidersConfig{
			Directory: &directory.Config{
				Type: directory.DatabaseTypeSQLite,
			},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
