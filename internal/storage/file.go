package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "taskrt/pkg/logx"
)

// compactEvery is the number of appends between rewrites of the journal.
const compactEvery = 1000

// fileStore keeps run history in <prefix>.runs.jsonl and an in-memory tail
// of the newest records per job. The journal is periodically rewritten to
// hold only that tail.
type fileStore struct {
	log  logx.Logger
	keep int

	mu     sync.Mutex
	path   string
	f      *os.File
	byJob  map[string][]RunRecord // oldest first, len <= keep
	order  []string               // job names in first-seen order
	writes int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:   log,
		keep:  cfg.keep(),
		path:  filepath.Join(dir, base) + ".runs.jsonl",
		byJob: map[string][]RunRecord{},
	}
	if err := s.replay(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := terminateLine(f); err != nil {
		_ = f.Close()
		return nil, err
	}
	s.f = f
	return s, nil
}

// terminateLine appends a newline if the journal ends mid-record, so the
// next append starts on its own line.
func terminateLine(f *os.File) error {
	fi, err := f.Stat()
	if err != nil || fi.Size() == 0 {
		return err
	}
	var last [1]byte
	if _, err := f.ReadAt(last[:], fi.Size()-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}
	_, err = f.Write([]byte{'\n'})
	return err
}

// replay loads the journal. Malformed lines (a torn final write) are skipped.
func (s *fileStore) replay() error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	skipped := 0
	for sc.Scan() {
		var r RunRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.Job == "" {
			skipped++
			continue
		}
		s.remember(r)
	}
	if skipped > 0 {
		s.log.Warn("skipped malformed run records", logx.Int("count", skipped), logx.String("path", s.path))
	}
	return sc.Err()
}

func (s *fileStore) remember(r RunRecord) {
	runs, seen := s.byJob[r.Job]
	if !seen {
		s.order = append(s.order, r.Job)
	}
	runs = append(runs, r)
	if len(runs) > s.keep {
		runs = append(runs[:0], runs[len(runs)-s.keep:]...)
	}
	s.byJob[r.Job] = runs
}

func (s *fileStore) AppendRun(ctx context.Context, r RunRecord) error {
	_ = ctx
	if strings.TrimSpace(r.Job) == "" {
		return errors.New("run record requires a job name")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.f).Encode(r); err != nil {
		return err
	}
	s.remember(r)
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("run journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) RecentRuns(ctx context.Context, job string, limit int) ([]RunRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil, ErrClosed
	}
	var all []RunRecord
	if job != "" {
		all = append(all, s.byJob[job]...)
	} else {
		for _, name := range s.order {
			all = append(all, s.byJob[name]...)
		}
		sortByStart(all)
	}
	// newest first
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// compactLocked rewrites the journal with the retained tail and swaps it in.
func (s *fileStore) compactLocked() error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, name := range s.order {
		for _, r := range s.byJob[name] {
			if err := enc.Encode(r); err != nil {
				_ = f.Close()
				return err
			}
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}
	nf, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	_ = s.f.Close()
	s.f = nf
	_, err = s.f.Seek(0, io.SeekEnd)
	return err
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
