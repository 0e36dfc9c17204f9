package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"singleschedule/internal/task"
	logx "singleschedule/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const defaultBusyTimeout = 5 * time.Second

type sqliteStore struct {
	db   *sql.DB
	log  logx.Logger
	path string

	lockTimeout time.Duration
	validate    func(task.Task) error
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, task.IOError(path, err)
	}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	// BEGIN IMMEDIATE takes the database write lock up front, which makes
	// every transaction a cross-process critical section.
	dsn := fmt.Sprintf("%s?_txlock=immediate&_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)",
		path, busy.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, task.IOError(path, err)
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, path: path, lockTimeout: cfg.LockTimeout, validate: cfg.Validate}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, string(b)); err != nil {
		return task.IOError(s.path, fmt.Errorf("migrate: %w", err))
	}
	var v string
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'format_version'`).Scan(&v); err != nil {
		return task.IOError(s.path, err)
	}
	if err := checkFormatVersion(v); err != nil {
		return task.CorruptError(s.path, err)
	}
	return nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Load(ctx context.Context) ([]task.Task, error) {
	tasks, err := s.query(ctx, s.db)
	if err != nil {
		return nil, err
	}
	if err := checkLoaded(s.path, tasks, s.validate); err != nil {
		return nil, err
	}
	return tasks, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *sqliteStore) query(ctx context.Context, q querier) ([]task.Task, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT slug, cron, program, args, active, pid, created_at, last_run FROM tasks ORDER BY seq`)
	if err != nil {
		return nil, task.IOError(s.path, err)
	}
	defer rows.Close()

	out := []task.Task{}
	for rows.Next() {
		var (
			t       task.Task
			args    string
			active  int
			pid     sql.NullInt64
			created string
			lastRun sql.NullString
		)
		if err := rows.Scan(&t.Slug, &t.Cron, &t.Command.Program, &args, &active, &pid, &created, &lastRun); err != nil {
			return nil, task.CorruptError(s.path, err)
		}
		if err := json.Unmarshal([]byte(args), &t.Command.Args); err != nil {
			return nil, task.CorruptError(s.path, fmt.Errorf("task %q args: %w", t.Slug, err))
		}
		if len(t.Command.Args) == 0 {
			t.Command.Args = nil
		}
		t.Active = active != 0
		if pid.Valid {
			v := int(pid.Int64)
			t.PID = &v
		}
		if t.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, task.CorruptError(s.path, fmt.Errorf("task %q created_at: %w", t.Slug, err))
		}
		if lastRun.Valid {
			ts, err := time.Parse(time.RFC3339Nano, lastRun.String)
			if err != nil {
				return nil, task.CorruptError(s.path, fmt.Errorf("task %q last_run: %w", t.Slug, err))
			}
			t.LastRun = &ts
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, task.IOError(s.path, err)
	}
	return out, nil
}

func (s *sqliteStore) Save(ctx context.Context, tasks []task.Task) error {
	if err := validateSet(tasks, s.validate); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return s.replace(ctx, tx, tasks)
	})
}

func (s *sqliteStore) Update(ctx context.Context, fn func([]task.Task) ([]task.Task, error)) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		cur, err := s.query(ctx, tx)
		if err != nil {
			return err
		}
		if err := checkLoaded(s.path, cur, s.validate); err != nil {
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
		return s.replace(ctx, tx, next)
	})
}

// inTx runs fn inside an immediate transaction, committing when fn succeeds.
func (s *sqliteStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	lctx, cancel := withLockTimeout(ctx, s.lockTimeout)
	defer cancel()
	tx, err := s.db.BeginTx(lctx, nil)
	if err != nil {
		return task.IOError(s.path, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return task.IOError(s.path, err)
	}
	return nil
}

// replace rewrites the table so seq follows the slice order.
func (s *sqliteStore) replace(ctx context.Context, tx *sql.Tx, tasks []task.Task) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks`); err != nil {
		return task.IOError(s.path, err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO tasks(slug, cron, program, args, active, pid, created_at, last_run) VALUES(?,?,?,?,?,?,?,?)`)
	if err != nil {
		return task.IOError(s.path, err)
	}
	defer stmt.Close()

	for _, t := range tasks {
		args := t.Command.Args
		if args == nil {
			args = []string{}
		}
		ab, err := json.Marshal(args)
		if err != nil {
			return task.IOError(s.path, err)
		}
		var pid any
		if t.PID != nil {
			pid = *t.PID
		}
		var lastRun any
		if t.LastRun != nil {
			lastRun = t.LastRun.Format(time.RFC3339Nano)
		}
		active := 0
		if t.Active {
			active = 1
		}
		if _, err := stmt.ExecContext(ctx, t.Slug, t.Cron, t.Command.Program, string(ab), active, pid,
			t.CreatedAt.Format(time.RFC3339Nano), lastRun); err != nil {
			return task.IOError(s.path, err)
		}
	}
	return nil
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return errors.New("storage closed")
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	var exit any
	if e.ExitCode != nil {
		exit = *e.ExitCode
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, run_id, slug, action, pid, exit_code, err) VALUES(?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), nullStr(e.RunID), e.Slug, e.Action, nullInt(e.PID), exit, nullStr(e.Error),
	)
	if err != nil {
		return task.IOError(s.path, err)
	}
	return nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}
