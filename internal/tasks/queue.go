// Package tasks provides a SQLite-backed task queue and the polling worker
// that drains it. The queue backs the deferred synchronization mode: API
// handlers enqueue work and return immediately, and a worker (in-process or
// a separate ragstack worker process sharing the database file) performs the
// embedding and vector writes.
package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Kind identifies the type of work a task carries.
type Kind string

const (
	// KindSyncDocument embeds and upserts the document named by the payload.
	KindSyncDocument Kind = "sync_document"
	// KindDeleteVector deletes the vector named by the payload.
	KindDeleteVector Kind = "delete_vector"
)

// DefaultMaxAttempts is how many times a task is tried before it is marked
// failed permanently.
const DefaultMaxAttempts = 3

// ErrEmpty is returned by ClaimNext when no pending task exists.
var ErrEmpty = errors.New("tasks: queue is empty")

// Task is one unit of queued work.
type Task struct {
	// ID is the queue-assigned task identifier.
	ID int64
	// Kind selects the handler for this task.
	Kind Kind
	// Payload is the task argument (a document ID or vector ID).
	Payload string
	// Attempts counts how many times the task has been claimed.
	Attempts int
	// CreatedAt is when the task was enqueued.
	CreatedAt time.Time
}

// Queue is a SQLite-backed FIFO task queue. Claims are atomic, so multiple
// workers can share one queue database.
type Queue struct {
	db          *sql.DB
	maxAttempts int
}

// DefaultDBPath returns the default task queue location, ~/.ragstack/tasks.db,
// creating the directory if needed. The server and a standalone worker must
// point at the same file to share the queue.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("tasks: resolve home directory: %w", err)
	}
	dir := filepath.Join(home, ".ragstack")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("tasks: create %s: %w", dir, err)
	}
	return filepath.Join(dir, "tasks.db"), nil
}

// Open opens (or creates) a Queue at the given path and runs the schema
// migration. Use ":memory:" for an in-memory queue in tests.
func Open(path string) (*Queue, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("tasks: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	q := &Queue{db: db, maxAttempts: DefaultMaxAttempts}
	if err := q.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return q, nil
}

// migrate creates the schema if it does not already exist.
func (q *Queue) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS tasks (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    kind         TEXT    NOT NULL,
    payload      TEXT    NOT NULL,
    status       TEXT    NOT NULL DEFAULT 'pending'
                 CHECK(status IN ('pending','running','done','failed')),
    attempts     INTEGER NOT NULL DEFAULT 0,
    last_error   TEXT    NOT NULL DEFAULT '',
    created_at   INTEGER NOT NULL,  -- Unix timestamp (seconds)
    updated_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_status_id ON tasks (status, id);
`
	if _, err := q.db.Exec(ddl); err != nil {
		return fmt.Errorf("tasks: migrate: %w", err)
	}
	return nil
}

// Enqueue appends a task and returns its ID.
func (q *Queue) Enqueue(ctx context.Context, kind Kind, payload string) (int64, error) {
	now := time.Now().Unix()
	const ins = `INSERT INTO tasks (kind, payload, created_at, updated_at) VALUES (?, ?, ?, ?)`
	res, err := q.db.ExecContext(ctx, ins, string(kind), payload, now, now)
	if err != nil {
		return 0, fmt.Errorf("tasks: enqueue: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("tasks: enqueue id: %w", err)
	}
	return id, nil
}

// ClaimNext atomically claims the oldest pending task and marks it running.
// Returns ErrEmpty when nothing is pending.
func (q *Queue) ClaimNext(ctx context.Context) (*Task, error) {
	// UPDATE ... RETURNING makes the claim a single atomic statement.
	const claim = `
UPDATE tasks SET status = 'running', attempts = attempts + 1, updated_at = ?
WHERE id = (SELECT id FROM tasks WHERE status = 'pending' ORDER BY id LIMIT 1)
RETURNING id, kind, payload, attempts, created_at`

	var t Task
	var kind string
	var created int64
	err := q.db.QueryRowContext(ctx, claim, time.Now().Unix()).
		Scan(&t.ID, &kind, &t.Payload, &t.Attempts, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("tasks: claim: %w", err)
	}
	t.Kind = Kind(kind)
	t.CreatedAt = time.Unix(created, 0)
	return &t, nil
}

// Complete marks a running task done.
func (q *Queue) Complete(ctx context.Context, id int64) error {
	const done = `UPDATE tasks SET status = 'done', updated_at = ? WHERE id = ?`
	if _, err := q.db.ExecContext(ctx, done, time.Now().Unix(), id); err != nil {
		return fmt.Errorf("tasks: complete: %w", err)
	}
	return nil
}

// Fail records a task failure. The task returns to pending for retry until
// its attempts reach the maximum, then it is marked failed permanently.
func (q *Queue) Fail(ctx context.Context, id int64, taskErr error) error {
	const fail = `
UPDATE tasks SET
    status     = CASE WHEN attempts >= ? THEN 'failed' ELSE 'pending' END,
    last_error = ?,
    updated_at = ?
WHERE id = ?`
	msg := ""
	if taskErr != nil {
		msg = taskErr.Error()
	}
	if _, err := q.db.ExecContext(ctx, fail, q.maxAttempts, msg, time.Now().Unix(), id); err != nil {
		return fmt.Errorf("tasks: fail: %w", err)
	}
	return nil
}

// Pending returns the number of tasks waiting to be claimed.
func (q *Queue) Pending(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE status = 'pending'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("tasks: pending count: %w", err)
	}
	return n, nil
}

// Close releases the database connection pool.
func (q *Queue) Close() error {
	if err := q.db.Close(); err != nil {
		return fmt.Errorf("tasks: close: %w", err)
	}
	return nil
}
