package config

// Config is the on-disk configuration of taskrt. JSON or YAML, decoded
// strictly: unknown fields are rejected.
type Config struct {
	Runtime RuntimeConfig  `json:"runtime"`
	Logging LoggingConfig  `json:"logging"`
	Storage *StorageConfig `json:"storage,omitempty"`
	Debug   DebugConfig    `json:"debug,omitempty"`
	Jobs    []JobConfig    `json:"jobs,omitempty"`
}

// RuntimeConfig selects and sizes the runtime.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - name: "main"
//   - flavor: "threadpool"
//   - workers: GOMAXPROCS
//   - queue_warn: 1024
//   - shutdown_timeout: "10s"
type RuntimeConfig struct {
	Name            string `json:"name,omitempty"`
	Flavor          string `json:"flavor,omitempty"`
	Workers         int    `json:"workers,omitempty"`
	QueueWarn       int    `json:"queue_warn,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
}

// DebugConfig controls the optional diagnostics listener (status JSON and pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}

type LoggingConfig struct {
	Level   string            `json:"level"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls persistence of job runs.
//
// Driver is one of: "file" (JSONL), "sqlite", "none". Nil or "none" disables storage.
type StorageConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path"`

	// BusyTimeout is a Go duration string used by the sqlite driver.
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// JobConfig is one scheduled shell job.
//
// Schedule accepts 5 or 6 cron fields (seconds optional) or a descriptor
// such as "@hourly" or "@every 30s". Enabled is a pointer so an omitted
// field means enabled.
//
// A failed run is retried up to Retries times; the delay starts at
// RetryBackoff (default 500ms), doubles per attempt and is capped at 15s.
type JobConfig struct {
	Name         string            `json:"name"`
	Schedule     string            `json:"schedule"`
	Command      string            `json:"command"`
	Dir          string            `json:"dir,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
	Timeout      string            `json:"timeout,omitempty"`
	Retries      int               `json:"retries,omitempty"`
	RetryBackoff string            `json:"retry_backoff,omitempty"`
	Enabled      *bool             `json:"enabled,omitempty"`
}

func (j JobConfig) IsEnabled() bool { return j.Enabled == nil || *j.Enabled }
