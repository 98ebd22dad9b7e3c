package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const timeFmt = "2006-01-02T15:04:05.000Z"

type Execution struct {
	PID        string
	Bot        string
	Status     string
	Total      int
	Successes  int
	Errors     int
	Remaining  int
	StartedAt  time.Time
	FinishedAt *time.Time
	UpdatedAt  time.Time
}

// UpsertExecution inserts the execution or updates everything but its
// start time.
func (s *Store) UpsertExecution(e *Execution) error {
	if e.PID == "" {
		return errors.New("upsert execution: empty pid")
	}
	now := time.Now().UTC()
	if e.StartedAt.IsZero() {
		e.StartedAt = now
	}
	if e.Status == "" {
		e.Status = "Inicializando"
	}
	e.UpdatedAt = now
	var finished *string
	if e.FinishedAt != nil {
		f := e.FinishedAt.UTC().Format(timeFmt)
		finished = &f
	}
	_, err := s.db.Exec(`INSERT INTO executions (pid, bot, status, total, successes, errors, remaining, started_at, finished_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pid) DO UPDATE SET
			bot = CASE WHEN excluded.bot = '' THEN executions.bot ELSE excluded.bot END,
			status = excluded.status,
			total = excluded.total,
			successes = excluded.successes,
			errors = excluded.errors,
			remaining = excluded.remaining,
			finished_at = COALESCE(excluded.finished_at, executions.finished_at),
			updated_at = excluded.updated_at`,
		e.PID, e.Bot, e.Status, e.Total, e.Successes, e.Errors, e.Remaining,
		e.StartedAt.UTC().Format(timeFmt), finished, now.Format(timeFmt))
	if err != nil {
		return fmt.Errorf("upsert execution: %w", err)
	}
	return nil
}

// GetExecution returns nil when the pid is unknown.
func (s *Store) GetExecution(pid string) (*Execution, error) {
	row := s.db.QueryRow(`SELECT pid, bot, status, total, successes, errors, remaining, started_at, finished_at, updated_at
		FROM executions WHERE pid = ?`, pid)
	e, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return e, nil
}

// ListExecutions returns the most recently started executions first.
func (s *Store) ListExecutions(limit int) ([]*Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT pid, bot, status, total, successes, errors, remaining, started_at, finished_at, updated_at
		FROM executions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()
	var out []*Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(sc scanner) (*Execution, error) {
	e := &Execution{}
	var started, updated string
	var finished *string
	if err := sc.Scan(&e.PID, &e.Bot, &e.Status, &e.Total, &e.Successes, &e.Errors, &e.Remaining, &started, &finished, &updated); err != nil {
		return nil, err
	}
	e.StartedAt, _ = time.Parse(timeFmt, started)
	e.UpdatedAt, _ = time.Parse(timeFmt, updated)
	if finished != nil {
		t, _ := time.Parse(timeFmt, *finished)
		e.FinishedAt = &t
	}
	return e, nil
}

// Prune keeps the keep most recently started executions and deletes the
// rest along with their messages. It returns how many were deleted.
func (s *Store) Prune(keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.Exec(`DELETE FROM executions WHERE pid NOT IN (
		SELECT pid FROM executions ORDER BY started_at DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune executions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
