package telemetry

import (
	"fmt"
	"os"
	"runtime"
	"sort"
	"sync/atomic"

	"github.com/grafana/pyroscope-go"
)

// ProfilingConfig selects the Pyroscope server and the profiles pushed to it.
type ProfilingConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string

	// Endpoint is the Pyroscope server URL.
	Endpoint string

	// ProfileTypes names the profiles to collect. Empty selects
	// defaultProfileTypes.
	ProfileTypes []string
}

// profileTypes maps configuration names to Pyroscope profiles.
var profileTypes = map[string]pyroscope.ProfileType{
	"cpu":            pyroscope.ProfileCPU,
	"alloc_objects":  pyroscope.ProfileAllocObjects,
	"alloc_space":    pyroscope.ProfileAllocSpace,
	"inuse_objects":  pyroscope.ProfileInuseObjects,
	"inuse_space":    pyroscope.ProfileInuseSpace,
	"goroutines":     pyroscope.ProfileGoroutines,
	"mutex_count":    pyroscope.ProfileMutexCount,
	"mutex_duration": pyroscope.ProfileMutexDuration,
	"block_count":    pyroscope.ProfileBlockCount,
	"block_duration": pyroscope.ProfileBlockDuration,
}

// defaultProfileTypes covers CPU time and the heap. Provider calls park
// goroutines on the network, so goroutines is included.
var defaultProfileTypes = []string{"cpu", "inuse_space", "alloc_space", "goroutines"}

var profilingEnabled atomic.Bool

// InitProfiling starts pushing profiles to Pyroscope. The returned function
// stops the profiler.
func InitProfiling(cfg ProfilingConfig) (shutdown func() error, err error) {
	if !cfg.Enabled {
		profilingEnabled.Store(false)
		return func() error { return nil }, nil
	}

	names := cfg.ProfileTypes
	if len(names) == 0 {
		names = defaultProfileTypes
	}
	types, err := parseProfileTypes(names)
	if err != nil {
		return nil, err
	}
	enableRuntimeProfiles(types)

	tags := map[string]string{"version": cfg.ServiceVersion}
	if host, err := os.Hostname(); err == nil {
		tags["host"] = host
	}

	p, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.ServiceName,
		ServerAddress:   cfg.Endpoint,
		Tags:            tags,
		ProfileTypes:    types,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start Pyroscope profiler: %w", err)
	}
	profilingEnabled.Store(true)

	return func() error {
		profilingEnabled.Store(false)
		return p.Stop()
	}, nil
}

// IsProfilingEnabled reports whether the profiler runs.
func IsProfilingEnabled() bool {
	return profilingEnabled.Load()
}

func parseProfileTypes(names []string) ([]pyroscope.ProfileType, error) {
	out := make([]pyroscope.ProfileType, 0, len(names))
	for _, n := range names {
		pt, ok := profileTypes[n]
		if !ok {
			return nil, fmt.Errorf("invalid profile type %q (valid: %v)", n, validProfileTypes())
		}
		out = append(out, pt)
	}
	return out, nil
}

func validProfileTypes() []string {
	names := make([]string, 0, len(profileTypes))
	for n := range profileTypes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// enableRuntimeProfiles turns on the sampling the mutex and block profiles
// depend on. Both are off in the Go runtime by default.
func enableRuntimeProfiles(types []pyroscope.ProfileType) {
	for _, t := range types {
		switch t {
		case pyroscope.ProfileMutexCount, pyroscope.ProfileMutexDuration:
			runtime.SetMutexProfileFraction(5)
		case pyroscope.ProfileBlockCount, pyroscope.ProfileBlockDuration:
			runtime.SetBlockProfileRate(5)
		}
	}
}
