package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "taskrt/pkg/logx"
)

func openDriver(t *testing.T, driver string, keep int) (Store, Config) {
	t.Helper()
	cfg := Config{Driver: driver, Path: filepath.Join(t.TempDir(), "taskrt.db"), KeepPerJob: keep}
	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s): %v", driver, err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st, cfg
}

func rec(job string, id uint64, at time.Time) RunRecord {
	return RunRecord{Job: job, TaskID: id, StartedAt: at, Duration: 5 * time.Millisecond}
}

func TestRecentRunsNewestFirst(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			st, _ := openDriver(t, driver, 0)
			ctx := context.Background()
			base := time.Unix(1_700_000_000, 0)
			for i := 0; i < 4; i++ {
				job := "a"
				if i%2 == 1 {
					job = "b"
				}
				if err := st.AppendRun(ctx, rec(job, uint64(i+1), base.Add(time.Duration(i)*time.Second))); err != nil {
					t.Fatalf("AppendRun: %v", err)
				}
			}

			runs, err := st.RecentRuns(ctx, "a", 10)
			if err != nil {
				t.Fatalf("RecentRuns: %v", err)
			}
			if len(runs) != 2 || runs[0].TaskID != 3 || runs[1].TaskID != 1 {
				t.Fatalf("runs for a = %+v", runs)
			}

			all, err := st.RecentRuns(ctx, "", 3)
			if err != nil {
				t.Fatalf("RecentRuns(all): %v", err)
			}
			if len(all) != 3 || all[0].TaskID != 4 || all[2].TaskID != 2 {
				t.Fatalf("all runs = %+v", all)
			}
		})
	}
}

func TestFileStoreReplaysAfterReopen(t *testing.T) {
	t.Parallel()
	st, cfg := openDriver(t, "file", 2)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)
	for i := 1; i <= 3; i++ {
		if err := st.AppendRun(ctx, rec("backup", uint64(i), base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatal(err)
		}
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	// A torn trailing line must not break replay.
	jf := filepath.Join(filepath.Dir(cfg.Path), "taskrt.runs.jsonl")
	f, err := os.OpenFile(jf, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.WriteString(`{"job":"backup","task_`)
	_ = f.Close()

	again, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	runs, err := again.RecentRuns(ctx, "backup", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].TaskID != 3 || runs[1].TaskID != 2 {
		t.Fatalf("replayed = %+v, want task 3 then 2", runs)
	}

	if err := again.AppendRun(ctx, rec("backup", 4, base.Add(time.Hour))); err != nil {
		t.Fatal(err)
	}
	_ = again.Close()
	third, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer third.Close()
	runs, _ = third.RecentRuns(ctx, "backup", 1)
	if len(runs) != 1 || runs[0].TaskID != 4 {
		t.Fatalf("append after torn line lost: %+v", runs)
	}
}

func TestFileStoreCompacts(t *testing.T) {
	t.Parallel()
	st, cfg := openDriver(t, "file", 3)
	ctx := context.Background()
	for i := 1; i <= compactEvery; i++ {
		if err := st.AppendRun(ctx, rec(fmt.Sprintf("j%d", i%2), uint64(i), time.Unix(int64(i), 0))); err != nil {
			t.Fatal(err)
		}
	}
	b, err := os.ReadFile(filepath.Join(filepath.Dir(cfg.Path), "taskrt.runs.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	lines := 0
	for _, c := range b {
		if c == '\n' {
			lines++
		}
	}
	if lines != 6 {
		t.Fatalf("journal has %d lines after compaction, want 6", lines)
	}
}

func TestClosedStoreErrors(t *testing.T) {
	t.Parallel()
	st, _ := openDriver(t, "file", 0)
	_ = st.Close()
	if err := st.AppendRun(context.Background(), rec("x", 1, time.Now())); !errors.Is(err, ErrClosed) {
		t.Fatalf("AppendRun after close = %v, want ErrClosed", err)
	}
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		if st != nil || err != nil {
			t.Fatalf("Open(%q) = (%v, %v), want (nil, nil)", d, st, err)
		}
	}
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); !errors.Is(err, ErrUnknownDriver) {
		t.Fatalf("Open(postgres) err = %v, want ErrUnknownDriver", err)
	}
}
