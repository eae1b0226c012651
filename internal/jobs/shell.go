package jobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// ExitError reports a command that ran and exited non-zero.
type ExitError struct {
	Job  string
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("job %s: exit status %d", e.Job, e.Code)
}

// Command is a parsed shell program plus the environment it runs in.
type Command struct {
	name string
	file *syntax.File
	dir  string
	env  []string
}

// ParseCommand parses src as a POSIX/bash script. Extra env entries are
// layered over the process environment.
func ParseCommand(name, src, dir string, env map[string]string) (*Command, error) {
	f, err := syntax.NewParser().Parse(strings.NewReader(src), name)
	if err != nil {
		return nil, fmt.Errorf("job %s: parse command: %w", name, err)
	}
	pairs := os.Environ()
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		pairs = append(pairs, k+"="+env[k])
	}
	return &Command{name: name, file: f, dir: dir, env: pairs}, nil
}

// Run executes the command and returns its combined output, truncated to
// limit bytes. A non-zero exit is an *ExitError; ctx cancellation stops the
// interpreter and any child process.
func (c *Command) Run(ctx context.Context, limit int) (string, error) {
	out := &capped{limit: limit}
	opts := []interp.RunnerOption{
		interp.StdIO(nil, out, out),
		interp.Env(expand.ListEnviron(c.env...)),
	}
	if c.dir != "" {
		opts = append(opts, interp.Dir(c.dir))
	}
	r, err := interp.New(opts...)
	if err != nil {
		return "", fmt.Errorf("job %s: interpreter: %w", c.name, err)
	}
	err = r.Run(ctx, c.file)
	if ctx.Err() != nil {
		return out.String(), ctx.Err()
	}
	var status interp.ExitStatus
	if errors.As(err, &status) {
		if status == 0 {
			return out.String(), nil
		}
		return out.String(), &ExitError{Job: c.name, Code: int(status)}
	}
	return out.String(), err
}

// capped keeps the first limit bytes written, cut back to a rune boundary,
// and counts the rest.
type capped struct {
	mu      sync.Mutex
	limit   int
	buf     bytes.Buffer
	dropped int
	full    bool
}

func (c *capped) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		c.dropped += len(p)
		return len(p), nil
	}
	room := c.limit - c.buf.Len()
	if c.limit <= 0 || room >= len(p) {
		c.buf.Write(p)
		return len(p), nil
	}
	cut := max(room, 0)
	for cut > 0 && !utf8.RuneStart(p[cut]) {
		cut--
	}
	c.buf.Write(p[:cut])
	c.dropped += len(p) - cut
	c.full = true
	return len(p), nil
}

func (c *capped) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dropped == 0 {
		return c.buf.String()
	}
	return fmt.Sprintf("%s\n... [%d bytes truncated]", c.buf.String(), c.dropped)
}
