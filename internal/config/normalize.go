package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

var ErrInvalid = errors.New("invalid config")

const (
	DefaultRuntimeName     = "main"
	DefaultFlavor          = "threadpool"
	DefaultQueueWarn       = 1024
	DefaultShutdownTimeout = 10 * time.Second
	DefaultBusyTimeout     = 5 * time.Second
)

// Normalize fills defaults in place and validates the result. Durations and
// job names are checked here so a bad reload is rejected before commit.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalid)
	}
	rc := &cfg.Runtime
	rc.Name = strings.TrimSpace(rc.Name)
	if rc.Name == "" {
		rc.Name = DefaultRuntimeName
	}
	rc.Flavor = strings.ToLower(strings.TrimSpace(rc.Flavor))
	if rc.Flavor == "" {
		rc.Flavor = DefaultFlavor
	}
	if rc.Workers < 0 {
		return fmt.Errorf("%w: runtime.workers must be >= 0", ErrInvalid)
	}
	if rc.Workers == 0 {
		rc.Workers = runtime.GOMAXPROCS(0)
	}
	if rc.QueueWarn <= 0 {
		rc.QueueWarn = DefaultQueueWarn
	}
	if _, err := ParseDurationField("runtime.shutdown_timeout", rc.ShutdownTimeout); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "info"
	}

	if s := cfg.Storage; s != nil {
		s.Driver = strings.ToLower(strings.TrimSpace(s.Driver))
		switch s.Driver {
		case "", "none":
		case "file", "sqlite":
			if strings.TrimSpace(s.Path) == "" {
				return fmt.Errorf("%w: storage.path is required for driver %q", ErrInvalid, s.Driver)
			}
		default:
			return fmt.Errorf("%w: unknown storage.driver %q", ErrInvalid, s.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}

	d := cfg.Debug
	for path, raw := range map[string]string{
		"debug.read_timeout":  d.ReadTimeout,
		"debug.write_timeout": d.WriteTimeout,
		"debug.idle_timeout":  d.IdleTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}

	seen := make(map[string]struct{}, len(cfg.Jobs))
	for i := range cfg.Jobs {
		j := &cfg.Jobs[i]
		j.Name = strings.TrimSpace(j.Name)
		path := fmt.Sprintf("jobs[%d]", i)
		if j.Name == "" {
			return fmt.Errorf("%w: %s.name is required", ErrInvalid, path)
		}
		if _, dup := seen[j.Name]; dup {
			return fmt.Errorf("%w: duplicate job name %q", ErrInvalid, j.Name)
		}
		seen[j.Name] = struct{}{}
		if strings.TrimSpace(j.Schedule) == "" {
			return fmt.Errorf("%w: %s.schedule is required", ErrInvalid, path)
		}
		if strings.TrimSpace(j.Command) == "" {
			return fmt.Errorf("%w: %s.command is required", ErrInvalid, path)
		}
		if _, err := ParseDurationField(path+".timeout", j.Timeout); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		if j.Retries < 0 {
			return fmt.Errorf("%w: %s.retries must be >= 0", ErrInvalid, path)
		}
		if _, err := ParseDurationField(path+".retry_backoff", j.RetryBackoff); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	return nil
}

// ShutdownTimeoutOrDefault returns the parsed runtime.shutdown_timeout or its default.
func (rc RuntimeConfig) ShutdownTimeoutOrDefault() time.Duration {
	d, err := ParseDurationOrDefault("runtime.shutdown_timeout", rc.ShutdownTimeout, DefaultShutdownTimeout)
	if err != nil {
		return DefaultShutdownTimeout
	}
	return d
}
