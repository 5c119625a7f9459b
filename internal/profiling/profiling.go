package profiling

import (
	"log/slog"

	"github.com/grafana/pyroscope-go"
)

// Config selects the Pyroscope server. Profiling is off unless Enabled.
type Config struct {
	Enabled           bool
	ServerAddress     string
	ApplicationName   string
	BasicAuthUser     string
	BasicAuthPassword string
}

// InitProfiling starts continuous profiling when cfg.Enabled is set. The
// returned function stops the profiler.
func InitProfiling(cfg Config, version string) func() {
	if !cfg.Enabled {
		slog.Debug("pyroscope profiling is disabled")
		return func() {}
	}

	pcfg := pyroscopeConfig(cfg, version)
	profiler, err := pyroscope.Start(pcfg)
	if err != nil {
		slog.Warn("failed to start pyroscope profiler", slog.Any("error", err))
		return func() {}
	}
	slog.Debug("pyroscope profiling started", slog.String("server", pcfg.ServerAddress), slog.String("application", pcfg.ApplicationName))

	return func() {
		if err := profiler.Stop(); err != nil {
			slog.Error("error stopping pyroscope profiler", slog.Any("error", err))
		}
	}
}

func pyroscopeConfig(cfg Config, version string) pyroscope.Config {
	pcfg := pyroscope.Config{
		ApplicationName: cfg.ApplicationName,
		ServerAddress:   cfg.ServerAddress,
		Logger:          pyroscope.StandardLogger,
		Tags: map[string]string{
			"service": "transit-planner",
			"version": version,
		},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	}
	if pcfg.ServerAddress == "" {
		pcfg.ServerAddress = "http://localhost:4040"
	}
	if pcfg.ApplicationName == "" {
		pcfg.ApplicationName = "transit-planner"
	}
	// Both or neither.
	if cfg.BasicAuthUser != "" && cfg.BasicAuthPassword != "" {
		pcfg.BasicAuthUser = cfg.BasicAuthUser
		pcfg.BasicAuthPassword = cfg.BasicAuthPassword
	}
	return pcfg
}
