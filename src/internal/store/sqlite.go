package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"prometeo/src/internal/tasks"
)

var ErrTaskNotFound = errors.New("task not found")

// Store is one tenant's task database.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer; serialize through one connection.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS tasks (
	id                TEXT PRIMARY KEY,
	tenant_id         TEXT NOT NULL,
	agent_id          TEXT NOT NULL DEFAULT '',
	prompt            TEXT NOT NULL,
	task_type         TEXT NOT NULL,
	schedule          TEXT NOT NULL DEFAULT '',
	condition         TEXT NOT NULL DEFAULT '',
	check_interval    TEXT NOT NULL DEFAULT '',
	priority          TEXT NOT NULL DEFAULT 'info',
	next_run          TIMESTAMP NOT NULL,
	last_run          TIMESTAMP,
	last_result       TEXT NOT NULL DEFAULT '',
	last_error        TEXT NOT NULL DEFAULT '',
	last_checked      TIMESTAMP,
	is_active         INTEGER NOT NULL DEFAULT 1,
	notification_type TEXT NOT NULL,
	recipients        TEXT NOT NULL,
	created           TIMESTAMP NOT NULL,
	updated           TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks (is_active, next_run);

CREATE TABLE IF NOT EXISTS notifications (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id   TEXT NOT NULL,
	recipient TEXT NOT NULL,
	priority  TEXT NOT NULL DEFAULT 'info',
	message   TEXT NOT NULL,
	created   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications (recipient, created);
`)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

const taskColumns = `id, tenant_id, agent_id, prompt, task_type, schedule, condition, check_interval, priority,
	next_run, last_run, last_result, last_error, last_checked, is_active, notification_type, recipients, created, updated`

func (s *Store) SaveTask(ctx context.Context, t *tasks.Task) error {
	nt, err := json.Marshal(t.NotificationType)
	if err != nil {
		return err
	}
	rec, err := json.Marshal(t.Recipients)
	if err != nil {
		return err
	}

	query := `
INSERT INTO tasks (` + taskColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	agent_id = excluded.agent_id,
	prompt = excluded.prompt,
	schedule = excluded.schedule,
	condition = excluded.condition,
	check_interval = excluded.check_interval,
	priority = excluded.priority,
	next_run = excluded.next_run,
	last_run = excluded.last_run,
	last_result = excluded.last_result,
	last_error = excluded.last_error,
	last_checked = excluded.last_checked,
	is_active = excluded.is_active,
	notification_type = excluded.notification_type,
	recipients = excluded.recipients,
	updated = excluded.updated;
`
	_, err = s.db.ExecContext(ctx, query,
		t.ID, t.TenantID, t.AgentID, t.Prompt, string(t.Type),
		t.Schedule, t.Condition, t.CheckInterval, string(t.Priority),
		t.NextRun.UTC(), nullTime(t.LastRun), t.LastResult, t.LastError, nullTime(t.LastChecked),
		boolToInt(t.Active), string(nt), string(rec), t.Created.UTC(), t.Updated.UTC(),
	)
	return err
}

func (s *Store) GetTask(ctx context.Context, id string) (*tasks.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
		}
		return nil, err
	}
	return t, nil
}

func (s *Store) ListTasks(ctx context.Context) ([]*tasks.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY next_run ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

// DueTasks returns active tasks whose next_run has passed.
func (s *Store) DueTasks(ctx context.Context, now time.Time) ([]*tasks.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE is_active = 1 AND next_run <= ? ORDER BY next_run ASC`,
		now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return nil
}

// ClaimTask atomically advances next_run from the observed value to the
// provisional one. A false return means another firing already claimed the
// task for this due instant (or the task went inactive); the caller must not
// execute it.
func (s *Store) ClaimTask(ctx context.Context, id string, observed, provisional time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET next_run = ? WHERE id = ? AND next_run = ? AND is_active = 1`,
		provisional.UTC(), id, observed.UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RecordRun folds an execution attempt into the task's bookkeeping fields.
func (s *Store) RecordRun(ctx context.Context, id string, ranAt time.Time, result, errMsg string, nextRun time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET last_run = ?, last_result = ?, last_error = ?, next_run = ?, updated = ? WHERE id = ?`,
		ranAt.UTC(), result, errMsg, nextRun.UTC(), time.Now().UTC(), id)
	return err
}

// RecordCheck stamps a conditional poll that did not fire. next_run advances
// so the next poll happens on cadence; last_run/last_result stay untouched.
func (s *Store) RecordCheck(ctx context.Context, id string, checkedAt, nextRun time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET last_checked = ?, next_run = ?, updated = ? WHERE id = ?`,
		checkedAt.UTC(), nextRun.UTC(), time.Now().UTC(), id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*tasks.Task, error) {
	var t tasks.Task
	var typeStr, priorityStr, ntJSON, recJSON string
	var lastRun, lastChecked sql.NullTime
	var active int

	err := row.Scan(
		&t.ID, &t.TenantID, &t.AgentID, &t.Prompt, &typeStr,
		&t.Schedule, &t.Condition, &t.CheckInterval, &priorityStr,
		&t.NextRun, &lastRun, &t.LastResult, &t.LastError, &lastChecked,
		&active, &ntJSON, &recJSON, &t.Created, &t.Updated,
	)
	if err != nil {
		return nil, err
	}

	t.Type = tasks.Type(typeStr)
	t.Priority = tasks.Priority(priorityStr)
	t.Active = active == 1
	if lastRun.Valid {
		lr := lastRun.Time
		t.LastRun = &lr
	}
	if lastChecked.Valid {
		lc := lastChecked.Time
		t.LastChecked = &lc
	}
	if err := json.Unmarshal([]byte(ntJSON), &t.NotificationType); err != nil {
		return nil, fmt.Errorf("decode notification_type for task %s: %w", t.ID, err)
	}
	if err := json.Unmarshal([]byte(recJSON), &t.Recipients); err != nil {
		return nil, fmt.Errorf("decode recipients for task %s: %w", t.ID, err)
	}
	return &t, nil
}

func collectTasks(rows *sql.Rows) ([]*tasks.Task, error) {
	var res []*tasks.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
