package app

import (
	"taskrt/internal/config"
	"taskrt/internal/observability/debug"
	"taskrt/internal/rt"
	"taskrt/internal/storage"
	logx "taskrt/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapRuntimeConfig(cfg *config.Config) (rt.Config, error) {
	rc := cfg.Runtime
	flavor, err := rt.ParseFlavor(rc.Flavor)
	if err != nil {
		return rt.Config{}, err
	}
	return rt.Config{
		Name:            rc.Name,
		Flavor:          flavor,
		Workers:         rc.Workers,
		QueueWarn:       rc.QueueWarn,
		ShutdownTimeout: rc.ShutdownTimeoutOrDefault(),
	}, nil
}

// mapStorageConfig reports enabled=false when the section is omitted or the
// driver is "none".
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	sc := cfg.Storage
	if sc == nil || sc.Driver == "" || sc.Driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, config.DefaultBusyTimeout)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{Driver: sc.Driver, Path: sc.Path, BusyTimeout: busy}, true, nil
}

func mapDebugConfig(cfg *config.Config) (debug.Config, error) {
	d := cfg.Debug
	read, err := config.ParseDurationField("debug.read_timeout", d.ReadTimeout)
	if err != nil {
		return debug.Config{}, err
	}
	write, err := config.ParseDurationField("debug.write_timeout", d.WriteTimeout)
	if err != nil {
		return debug.Config{}, err
	}
	idle, err := config.ParseDurationField("debug.idle_timeout", d.IdleTimeout)
	if err != nil {
		return debug.Config{}, err
	}
	return debug.Config{
		Enabled:              d.Enabled,
		Addr:                 d.Addr,
		Prefix:               d.Prefix,
		Token:                d.Token,
		AllowInsecure:        d.AllowInsecure,
		ReadTimeout:          read,
		WriteTimeout:         write,
		IdleTimeout:          idle,
		MutexProfileFraction: d.MutexProfileFraction,
		BlockProfileRate:     d.BlockProfileRate,
	}, nil
}
