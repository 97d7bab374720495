package config

import (
	"testing"
	"time"

	pamadapter "github.com/marmos91/dittopam/pkg/adapter/pam"
	"github.com/marmos91/dittopam/pkg/provider/directory"
	"github.com/marmos91/dittopam/pkg/provider/krb5"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default log format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default log output 'stdout', got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_ShutdownTimeout(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown timeout 30s, got %v", cfg.ShutdownTimeout)
	}
}

func TestApplyDefaults_Server(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Server.SocketPath != pamadapter.DefaultSocketPath {
		t.Errorf("Expected default socket path, got %q", cfg.Server.SocketPath)
	}
	if cfg.Server.IdleTimeout != pamadapter.DefaultIdleTimeout {
		t.Errorf("Expected default idle timeout, got %v", cfg.Server.IdleTimeout)
	}
	if cfg.Server.ProviderTimeout != DefaultProviderTimeout {
		t.Errorf("Expected default provider timeout, got %v", cfg.Server.ProviderTimeout)
	}
}

func TestApplyDefaults_PAM(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.PAM.NegTimeout != DefaultNegTimeout {
		t.Errorf("Expected default neg timeout, got %v", cfg.PAM.NegTimeout)
	}
	if cfg.PAM.IDTimeout != 5*time.Second {
		t.Errorf("Expected default id timeout 5s, got %v", cfg.PAM.IDTimeout)
	}
	if cfg.PAM.OfflineFailedLoginDelay != DefaultOfflineFailedLoginDelay {
		t.Errorf("Expected default offline delay, got %v", cfg.PAM.OfflineFailedLoginDelay)
	}
}

func TestApplyDefaults_Store(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Store.Type != "badger" {
		t.Errorf("Expected default store type 'badger', got %q", cfg.Store.Type)
	}
	if cfg.Store.Badger["path"] != "/tmp/xdg/dittopam/cache" {
		t.Errorf("Expected default badger path, got %v", cfg.Store.Badger["path"])
	}

	inMem := &Config{Store: StoreConfig{Type: "badger", Badger: map[string]any{"in_memory": true}}}
	ApplyDefaults(inMem)
	if _, ok := inMem.Store.Badger["path"]; ok {
		t.Error("Expected no path for an in-memory badger store")
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		ShutdownTimeout: 5 * time.Second,
		PAM:             PAMConfig{NegTimeout: time.Minute},
		Domains:         []DomainConfig{{Name: "a", EntryCacheTimeout: time.Hour}, {Name: "b"}},
	}
	ApplyDefaults(cfg)

	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("Expected shutdown timeout preserved, got %v", cfg.ShutdownTimeout)
	}
	if cfg.PAM.NegTimeout != time.Minute {
		t.Errorf("Expected neg timeout preserved, got %v", cfg.PAM.NegTimeout)
	}
	if cfg.Domains[0].EntryCacheTimeout != time.Hour {
		t.Errorf("Expected entry cache timeout preserved, got %v", cfg.Domains[0].EntryCacheTimeout)
	}
	if cfg.Domains[1].EntryCacheTimeout != 90*time.Minute {
		t.Errorf("Expected default entry cache timeout, got %v", cfg.Domains[1].EntryCacheTimeout)
	}
}

func TestApplyDefaults_Providers(t *testing.T) {
	cfg := &Config{Providers: ProvidersConfig{
		Krb5:      &krb5.Config{Realm: "EXAMPLE.ORG"},
		Directory: &directory.Config{},
	}}
	ApplyDefaults(cfg)

	if cfg.Providers.Krb5.Krb5Conf != krb5.DefaultKrb5Conf {
		t.Errorf("Expected default krb5.conf, got %q", cfg.Providers.Krb5.Krb5Conf)
	}
	if cfg.Providers.Directory.Type != directory.DatabaseTypeSQLite {
		t.Errorf("Expected sqlite directory, got %q", cfg.Providers.Directory.Type)
	}

	withKDCs := &Config{Providers: ProvidersConfig{Krb5: &krb5.Config{Realm: "X", KDCs: []string{"kdc:88"}}}}
	ApplyDefaults(withKDCs)
	if withKDCs.Providers.Krb5.Krb5Conf != "" {
		t.Errorf("Expected no krb5.conf when KDCs are listed, got %q", withKDCs.Providers.Krb5.Krb5Conf)
	}
}

func TestApplyDefaults_Metrics(t *testing.T) {
	cfg := &Config{Metrics: MetricsConfig{Enabled: true}}
	ApplyDefaults(cfg)
	if cfg.Metrics.Port != 9090 {
		t.Errorf("Expected default metrics port 9090, got %d", cfg.Metrics.Port)
	}

	disabled := &Config{}
	ApplyDefaults(disabled)
	if disabled.Metrics.Port != 0 {
		t.Errorf("Expected no port for disabled metrics, got %d", disabled.Metrics.Port)
	}
}

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.PAM.Verbosity != 1 {
		t.Errorf("Expected default verbosity 1, got %d", cfg.PAM.Verbosity)
	}
	if len(cfg.Domains) != 1 || cfg.Domains[0].Provider != "directory" {
		t.Errorf("Expected one directory domain, got %+v", cfg.Domains)
	}
	if cfg.Providers.Directory == nil {
		t.Fatal("Expected directory provider configured")
	}
	if cfg.API.Port != 8390 {
		t.Errorf("Expected default API port 8390, got %d", cfg.API.Port)
	}
}
