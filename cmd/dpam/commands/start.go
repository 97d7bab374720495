package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittopam/internal/logger"
	wire "github.com/marmos91/dittopam/internal/protocol/pam"
	"github.com/marmos91/dittopam/internal/telemetry"
	pamadapter "github.com/marmos91/dittopam/pkg/adapter/pam"
	"github.com/marmos91/dittopam/pkg/api"
	"github.com/marmos91/dittopam/pkg/certhelper"
	"github.com/marmos91/dittopam/pkg/config"
	"github.com/marmos91/dittopam/pkg/lifecycle"
	"github.com/marmos91/dittopam/pkg/metrics"
	"github.com/marmos91/dittopam/pkg/negcache"
	"github.com/marmos91/dittopam/pkg/provider"
	"github.com/marmos91/dittopam/pkg/refresh"
	responder "github.com/marmos91/dittopam/pkg/responder/pam"

	// Import prometheus metrics to register init() functions
	_ "github.com/marmos91/dittopam/pkg/metrics/prometheus"
)

var pidFile string

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the dittopam daemon",
	Long: `Start the dittopam daemon in the foreground.

The daemon listens on the configured PAM sockets until it receives SIGINT
or SIGTERM. It is meant to run under a process supervisor such as systemd.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/dittopam/config.yaml.

Editing the configuration file while the daemon runs reloads the log level
and pam.verbosity. Other settings need a restart.

Examples:
  # Start with the default config
  dpam start

  # Start with a custom config file
  dpam start --config /etc/dittopam/config.yaml

  # Start with environment variable overrides
  DITTOPAM_LOGGING_LEVEL=DEBUG dpam start`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "dittopam",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", logger.Err(err))
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "dittopam",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.Err(err))
		}
	}()

	logger.Info("dittopam starting", "version", Version, "commit", Commit)
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint)
	}

	svc := lifecycle.New(cfg.ShutdownTimeout)

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		svc.AddServer("metrics", metrics.NewServer(metrics.ServerConfig{Port: cfg.Metrics.Port}))
		logger.Info("Metrics enabled", "port", cfg.Metrics.Port)
	} else {
		logger.Info("Metrics collection disabled")
	}
	pamMetrics := metrics.NewPAMMetrics()

	store, err := config.CreateStore(ctx, cfg.Store, metrics.NewStoreMetrics())
	if err != nil {
		return fmt.Errorf("failed to open identity store: %w", err)
	}
	svc.AddCloser("identity store", store)

	domains, err := config.InitializeDomains(cfg)
	if err != nil {
		_ = store.Close()
		return err
	}

	neg := negcache.New(cfg.PAM.NegTimeout)
	config.SeedFilterUsers(cfg, domains, neg)

	dispatcher := provider.NewDispatcher(cfg.Server.ProviderTimeout, pamMetrics)
	providers, err := config.InitializeProviders(cfg, store, dispatcher)
	if err != nil {
		_ = store.Close()
		return err
	}
	svc.AddCloser("providers", providers)
	svc.OnDrain(dispatcher.Wait)

	respCfg, err := cfg.ResponderConfig()
	if err != nil {
		_ = providers.Close()
		_ = store.Close()
		return err
	}
	deps := responder.Deps{
		Domains:    domains,
		Store:      store,
		NegCache:   neg,
		Dispatcher: dispatcher,
		Metrics:    pamMetrics,
	}
	if cfg.PAM.CertAuth {
		deps.Certs = certhelper.New(cfg.PAM.CertHelper)
		logger.Info("Certificate authentication enabled", "helper", cfg.PAM.CertHelper.Path)
	}
	resp, err := responder.New(respCfg, deps)
	if err != nil {
		_ = providers.Close()
		_ = store.Close()
		return fmt.Errorf("failed to create responder: %w", err)
	}

	adapter, err := pamadapter.New(cfg.Server.Config, resp, pamMetrics)
	if err != nil {
		_ = providers.Close()
		_ = store.Close()
		return fmt.Errorf("failed to create PAM adapter: %w", err)
	}
	svc.SetAdapter(adapter)

	if cfg.Refresh.Enabled {
		refresher, err := refresh.New(cfg.Refresh, store, domains, dispatcher)
		if err != nil {
			_ = providers.Close()
			_ = store.Close()
			return fmt.Errorf("failed to create refresher: %w", err)
		}
		svc.AddBackground(refresher)
		logger.Info("Background refresh enabled", "schedule", cfg.Refresh.Schedule)
	}

	if cfg.API.Enabled {
		apiServer, err := api.NewServer(cfg.API, api.Backend{Store: store, Domains: domains, Caches: resp})
		if err != nil {
			_ = providers.Close()
			_ = store.Close()
			return fmt.Errorf("failed to create API server: %w", err)
		}
		svc.AddServer("api", apiServer)
		logger.Info("API server configured", "address", cfg.API.ListenAddr())
	}

	if path := configPath(GetConfigFile()); path != "" {
		if err := config.Watch(ctx, path, func(next *config.Config) {
			applyReload(next, resp)
		}); err != nil {
			logger.Warn("Configuration reload disabled", logger.Err(err))
		}
	}

	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- svc.Serve(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("Server is running", "socket", cfg.Server.SocketPath)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown", "signal", sig.String())
		cancel()
		<-serverDone
		logger.Info("Server stopped gracefully")
		return nil

	case err := <-serverDone:
		if err != nil {
			logger.Error("Server error", logger.Err(err))
			return err
		}
		logger.Info("Server stopped")
		return nil
	}
}

// applyReload applies the settings that can change without a restart.
func applyReload(next *config.Config, resp *responder.Responder) {
	logger.SetLevel(next.Logging.Level)
	if err := resp.SetVerbosity(wire.Verbosity(next.PAM.Verbosity)); err != nil {
		logger.Warn("Ignoring pam.verbosity", "verbosity", next.PAM.Verbosity, logger.Err(err))
	}
}
