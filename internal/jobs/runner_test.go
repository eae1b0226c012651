package jobs

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"taskrt/internal/config"
	"taskrt/internal/eventbus"
	"taskrt/internal/rt"
	"taskrt/internal/rt/spawner"
	"taskrt/internal/storage"
	logx "taskrt/pkg/logx"
)

type fixture struct {
	rt    *rt.Runtime
	bus   eventbus.Bus
	store storage.Store
	run   *Runner
}

// executingFlavor picks a non-shell flavor compiled into this build.
func executingFlavor(t *testing.T) rt.Flavor {
	t.Helper()
	for _, f := range []rt.Flavor{rt.FlavorThreadPool, rt.FlavorBasic} {
		if f.Built() {
			return f
		}
	}
	t.Skip("jobs need a basic or threadpool runtime")
	return ""
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	bus := eventbus.New()
	r, err := rt.New(rt.Config{Name: "jobs-test", Flavor: executingFlavor(t), Workers: 2}, logx.Nop(), bus)
	if err != nil {
		t.Fatal(err)
	}
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "runs")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	run, err := New(Options{Handle: r.Handle(), Store: st, Bus: bus, Log: logx.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = run.Stop(context.Background())
		_ = r.Shutdown(context.Background())
		_ = st.Close()
	})
	return &fixture{rt: r, bus: bus, store: st, run: run}
}

func job(name, schedule, command string) config.JobConfig {
	return config.JobConfig{Name: name, Schedule: schedule, Command: command}
}

func TestNewRejectsShellRuntime(t *testing.T) {
	t.Parallel()
	r, err := rt.New(rt.Config{Flavor: rt.FlavorShell}, logx.Nop(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(Options{Handle: r.Handle()}); !errors.Is(err, spawner.ErrSpawnNotEnabled) {
		t.Fatalf("New(shell) = %v, want ErrSpawnNotEnabled", err)
	}
	if _, err := New(Options{}); !errors.Is(err, rt.ErrNoRuntime) {
		t.Fatalf("New(zero handle) = %v, want ErrNoRuntime", err)
	}
}

func TestTriggerRecordsAndPublishes(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	events, unsub := f.bus.Subscribe(64)
	defer unsub()

	if err := f.run.Apply([]config.JobConfig{
		job("ok", "@daily", "echo done"),
		job("bad", "@daily", "exit 2"),
	}); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	res, err := f.run.Trigger(ctx, "ok")
	if err != nil || res.Output != "done\n" || res.TaskID == 0 {
		t.Fatalf("Trigger(ok) = (%+v, %v)", res, err)
	}
	res, err = f.run.Trigger(ctx, "bad")
	var ee *ExitError
	if !errors.As(err, &ee) || res.ExitCode != 2 {
		t.Fatalf("Trigger(bad) = (%+v, %v)", res, err)
	}
	if _, err := f.run.Trigger(ctx, "missing"); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("Trigger(missing) = %v", err)
	}

	runs, err := f.store.RecentRuns(ctx, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].Job != "bad" || runs[0].ExitCode != 2 || runs[1].Runtime != "jobs-test" {
		t.Fatalf("stored runs = %+v", runs)
	}

	seen := map[string]bool{}
	deadline := time.After(2 * time.Second)
	for !(seen[eventbus.JobFinished] && seen[eventbus.JobFailed]) {
		select {
		case ev := <-events:
			seen[ev.Type] = true
		case <-deadline:
			t.Fatalf("job events not observed: %v", seen)
		}
	}
}

func TestOverlappingRunIsSkipped(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	gate := filepath.Join(t.TempDir(), "gate")
	jc := job("slow", "@daily", `until [ -e "$GATE" ]; do :; done`)
	jc.Env = map[string]string{"GATE": gate}
	if err := f.run.Apply([]config.JobConfig{jc}); err != nil {
		t.Fatal(err)
	}

	first := make(chan error, 1)
	go func() {
		_, err := f.run.Trigger(context.Background(), "slow")
		first <- err
	}()
	deadline := time.Now().Add(2 * time.Second)
	for !f.run.Snapshot()[0].Running {
		if time.Now().After(deadline) {
			t.Fatal("first run never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := f.run.Trigger(context.Background(), "slow"); !errors.Is(err, ErrRunning) {
		t.Fatalf("second Trigger = %v, want ErrRunning", err)
	}
	if err := os.WriteFile(gate, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := <-first; err != nil {
		t.Fatalf("first run: %v", err)
	}
	st := f.run.Snapshot()[0]
	if st.Skips != 1 || st.Runs != 1 || st.Running {
		t.Fatalf("status = %+v", st)
	}
}

func TestJobTimeout(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	jc := job("spin", "@daily", "while true; do :; done")
	jc.Timeout = "50ms"
	if err := f.run.Apply([]config.JobConfig{jc}); err != nil {
		t.Fatal(err)
	}
	res, err := f.run.Trigger(context.Background(), "spin")
	if !errors.Is(err, context.DeadlineExceeded) || res.ExitCode != -1 {
		t.Fatalf("Trigger = (%+v, %v), want deadline exceeded", res, err)
	}
	if f.run.Snapshot()[0].LastErr == "" {
		t.Fatal("last error not recorded")
	}
}

func TestFailedRunIsRetried(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	mark := filepath.Join(t.TempDir(), "mark")
	jc := job("flaky", "@daily", `if [ -e "$MARK" ]; then echo ok; else : > "$MARK"; exit 1; fi`)
	jc.Env = map[string]string{"MARK": mark}
	jc.Retries = 2
	jc.RetryBackoff = "10ms"
	if err := f.run.Apply([]config.JobConfig{jc}); err != nil {
		t.Fatal(err)
	}
	res, err := f.run.Trigger(context.Background(), "flaky")
	if err != nil || res.Attempts != 2 || res.Output != "ok\n" {
		t.Fatalf("Trigger = (%+v, %v), want success on attempt 2", res, err)
	}
	if st := f.run.Snapshot()[0]; st.Runs != 1 || st.Failures != 0 {
		t.Fatalf("status = %+v, want one recorded run", st)
	}

	jc = job("never", "@daily", "exit 4")
	jc.Retries = 1
	jc.RetryBackoff = "1ms"
	if err := f.run.Apply([]config.JobConfig{jc}); err != nil {
		t.Fatal(err)
	}
	res, err = f.run.Trigger(context.Background(), "never")
	var ee *ExitError
	if !errors.As(err, &ee) || res.Attempts != 2 || res.ExitCode != 4 {
		t.Fatalf("Trigger = (%+v, %v), want exit 4 after 2 attempts", res, err)
	}
}

func TestRetryDelay(t *testing.T) {
	t.Parallel()
	tests := []struct {
		base  time.Duration
		retry int
		want  time.Duration
	}{
		{base: 100 * time.Millisecond, retry: 1, want: 100 * time.Millisecond},
		{base: 100 * time.Millisecond, retry: 3, want: 400 * time.Millisecond},
		{base: 10 * time.Second, retry: 2, want: MaxRetryBackoff},
		{base: time.Second, retry: 64, want: MaxRetryBackoff},
	}
	for _, tt := range tests {
		if got := retryDelay(tt.base, tt.retry); got != tt.want {
			t.Errorf("retryDelay(%v, %d) = %v, want %v", tt.base, tt.retry, got, tt.want)
		}
	}
}

func TestApplyIsAtomicAndSkipsDisabled(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	off := false
	disabled := job("off", "@daily", "true")
	disabled.Enabled = &off
	if err := f.run.Apply([]config.JobConfig{job("a", "@daily", "true"), disabled}); err != nil {
		t.Fatal(err)
	}
	if err := f.run.Apply([]config.JobConfig{job("b", "@daily", "true"), job("c", "nonsense", "true")}); err == nil {
		t.Fatal("invalid schedule should fail Apply")
	}
	snap := f.run.Snapshot()
	if len(snap) != 1 || snap[0].Name != "a" {
		t.Fatalf("jobs after failed Apply = %+v", snap)
	}
}

func TestScheduledJobFires(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	events, unsub := f.bus.Subscribe(64)
	defer unsub()
	if err := f.run.Apply([]config.JobConfig{job("tick", "@every 1s", "echo tick")}); err != nil {
		t.Fatal(err)
	}
	f.run.Start(context.Background())
	if snap := f.run.Snapshot(); snap[0].Next.IsZero() {
		t.Fatal("next fire time not reported")
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == eventbus.JobFinished && ev.Data.(JobEvent).Job == "tick" {
				return
			}
		case <-deadline:
			t.Fatal("scheduled job did not fire")
		}
	}
}

func TestFailedRunLogsOutputAtDebug(t *testing.T) {
	t.Parallel()
	r, err := rt.New(rt.Config{Flavor: executingFlavor(t), Workers: 1}, logx.Nop(), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = r.Shutdown(context.Background()) })

	for _, tt := range []struct {
		level string
		want  bool
	}{{level: "debug", want: true}, {level: "info", want: false}} {
		var buf bytes.Buffer
		run, err := New(Options{Handle: r.Handle(), Log: logx.NewWriter(&buf, tt.level)})
		if err != nil {
			t.Fatal(err)
		}
		if err := run.Apply([]config.JobConfig{job("noisy", "@daily", "echo oops; exit 1")}); err != nil {
			t.Fatal(err)
		}
		if _, err := run.Trigger(context.Background(), "noisy"); err == nil {
			t.Fatal("expected failure")
		}
		if got := strings.Contains(buf.String(), `"output":"oops\n"`); got != tt.want {
			t.Fatalf("level %s: output logged = %v, log:\n%s", tt.level, got, buf.String())
		}
	}
}
