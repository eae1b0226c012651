package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled      = errors.New("storage disabled")
	ErrClosed        = errors.New("storage closed")
	ErrUnknownDriver = errors.New("unknown storage driver")
)

// DefaultKeepPerJob bounds how many runs per job survive compaction/pruning.
const DefaultKeepPerJob = 200

// Config configures storage.
//
// Driver values:
//   - "file": JSONL file at Path (the extension is replaced by .runs.jsonl)
//   - "sqlite": SQLite database file at Path
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	KeepPerJob  int           // 0 means DefaultKeepPerJob
}

// RunRecord is one finished job run.
// Keep it compact and schema-stable.
type RunRecord struct {
	Job       string        `json:"job"`
	TaskID    uint64        `json:"task_id"`
	Runtime   string        `json:"runtime,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	ExitCode  int           `json:"exit_code"`
	Error     string        `json:"error,omitempty"`
	Output    string        `json:"output,omitempty"`
}

func (r RunRecord) OK() bool { return r.ExitCode == 0 && r.Error == "" }

func (c Config) keep() int {
	if c.KeepPerJob <= 0 {
		return DefaultKeepPerJob
	}
	return c.KeepPerJob
}
