package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-version"

	"singleschedule/internal/fslock"
	"singleschedule/internal/task"
	logx "singleschedule/pkg/logx"
)

// FormatVersion is written into every tasks.json document.
const FormatVersion = "1.0.0"

// formatConstraint lists the document versions this build can read.
var formatConstraint = version.MustConstraints(version.NewConstraint(">= 1.0, < 2.0"))

// fileStore keeps the task set in a single JSON document.
//
// Files:
//   - <path>              (the document, replaced atomically on write)
//   - <path>.lock         (flock target serializing writers across processes)
//   - <prefix>.audit.jsonl (append-only JSON Lines)
//
// Readers never take the lock: a write goes to a temp file that is fsynced
// and renamed over the document, so a partial file is never observed.
type fileStore struct {
	log logx.Logger

	path      string
	lockPath  string
	auditPath string

	lockTimeout time.Duration
	validate    func(task.Task) error

	// mu orders writers inside this process before they contend on the flock.
	mu sync.Mutex

	auditMu   sync.Mutex
	auditFile *os.File
}

type document struct {
	Version string      `json:"version"`
	Tasks   []task.Task `json:"tasks"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	prefix := filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base)))

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, task.IOError(dir, err)
	}

	auditPath := prefix + ".audit.jsonl"
	af, err := os.OpenFile(auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, task.IOError(auditPath, err)
	}

	return &fileStore{
		log:         log,
		path:        path,
		lockPath:    path + ".lock",
		auditPath:   auditPath,
		lockTimeout: cfg.LockTimeout,
		validate:    cfg.Validate,
		auditFile:   af,
	}, nil
}

func (s *fileStore) Close() error {
	s.auditMu.Lock()
	defer s.auditMu.Unlock()
	if s.auditFile == nil {
		return nil
	}
	err := s.auditFile.Close()
	s.auditFile = nil
	return err
}

func (s *fileStore) Load(ctx context.Context) ([]task.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, task.IOError(s.path, err)
	}
	return s.read()
}

func (s *fileStore) read() ([]task.Task, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []task.Task{}, nil
		}
		return nil, task.IOError(s.path, err)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, task.CorruptError(s.path, errors.New("empty document"))
	}

	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, task.CorruptError(s.path, err)
	}
	if err := checkFormatVersion(doc.Version); err != nil {
		return nil, task.CorruptError(s.path, err)
	}
	if doc.Tasks == nil {
		doc.Tasks = []task.Task{}
	}
	if err := checkLoaded(s.path, doc.Tasks, s.validate); err != nil {
		return nil, err
	}
	return doc.Tasks, nil
}

func checkFormatVersion(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("missing format version")
	}
	v, err := version.NewVersion(raw)
	if err != nil {
		return fmt.Errorf("format version %q: %w", raw, err)
	}
	if !formatConstraint.Check(v) {
		return fmt.Errorf("unsupported format version %s (want %s)", v, formatConstraint)
	}
	return nil
}

func (s *fileStore) Save(ctx context.Context, tasks []task.Task) error {
	if err := validateSet(tasks, s.validate); err != nil {
		return err
	}
	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	return s.write(tasks)
}

func (s *fileStore) Update(ctx context.Context, fn func([]task.Task) ([]task.Task, error)) error {
	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	cur, err := s.read()
	if err != nil {
		return err
	}
	next, err := fn(cloneAll(cur))
	if err != nil {
		return err
	}
	if sameTasks(cur, next) {
		return nil
	}
	if err := validateSet(next, s.validate); err != nil {
		return err
	}
	return s.write(next)
}

func (s *fileStore) lock(ctx context.Context) (func(), error) {
	s.mu.Lock()
	lctx, cancel := withLockTimeout(ctx, s.lockTimeout)
	defer cancel()
	l, err := fslock.Acquire(lctx, s.lockPath, 0)
	if err != nil {
		s.mu.Unlock()
		return nil, task.IOError(s.lockPath, err)
	}
	return func() {
		if err := l.Unlock(); err != nil {
			s.log.Warn("store unlock failed", logx.String("path", s.lockPath), logx.Err(err))
		}
		s.mu.Unlock()
	}, nil
}

// write replaces the document atomically. Callers hold the lock.
func (s *fileStore) write(tasks []task.Task) error {
	if tasks == nil {
		tasks = []task.Task{}
	}
	b, err := json.MarshalIndent(document{Version: FormatVersion, Tasks: tasks}, "", "  ")
	if err != nil {
		return task.IOError(s.path, err)
	}
	b = append(b, '\n')

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return task.IOError(s.path, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return task.IOError(tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return task.IOError(tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return task.IOError(tmpName, err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return task.IOError(tmpName, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return task.IOError(s.path, err)
	}
	committed = true

	// Persist the rename itself.
	if d, err := os.Open(dir); err == nil {
		if err := d.Sync(); err != nil {
			s.log.Debug("store dir sync failed", logx.String("dir", dir), logx.Err(err))
		}
		_ = d.Close()
	}
	return nil
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return task.IOError(s.auditPath, err)
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	s.auditMu.Lock()
	defer s.auditMu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	// One write per record keeps lines intact under O_APPEND.
	if _, err := s.auditFile.Write(b); err != nil {
		return task.IOError(s.auditPath, err)
	}
	return nil
}
