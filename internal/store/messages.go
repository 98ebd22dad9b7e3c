package store

import (
	"errors"
	"fmt"
	"time"
)

type Message struct {
	ID          int64
	PID         string
	TimeMessage string
	Type        string
	Text        string
	Status      string
	Row         int
	Link        *string
	ReceivedAt  time.Time
}

// AppendMessage records a log line. A line already stored for the pid is
// ignored and reported as not inserted. The execution row is created when
// missing.
func (s *Store) AppendMessage(m *Message) (bool, error) {
	if m.PID == "" {
		return false, errors.New("append message: empty pid")
	}
	if m.ReceivedAt.IsZero() {
		m.ReceivedAt = time.Now().UTC()
	}
	if m.Type == "" {
		m.Type = "info"
	}
	now := time.Now().UTC().Format(timeFmt)
	if _, err := s.db.Exec(`INSERT OR IGNORE INTO executions (pid, started_at, updated_at) VALUES (?, ?, ?)`,
		m.PID, now, now); err != nil {
		return false, fmt.Errorf("append message: %w", err)
	}
	res, err := s.db.Exec(`INSERT OR IGNORE INTO messages (pid, time_message, message_type, message, status, row_num, link, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.PID, m.TimeMessage, m.Type, m.Text, m.Status, m.Row, m.Link, m.ReceivedAt.UTC().Format(timeFmt))
	if err != nil {
		return false, fmt.Errorf("append message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("append message: %w", err)
	}
	if n > 0 {
		m.ID, _ = res.LastInsertId()
	}
	return n > 0, nil
}

// ListMessages returns the messages of an execution in arrival order.
func (s *Store) ListMessages(pid string) ([]*Message, error) {
	rows, err := s.db.Query(`SELECT id, pid, time_message, message_type, message, status, row_num, link, received_at
		FROM messages WHERE pid = ? ORDER BY id`, pid)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	var out []*Message
	for rows.Next() {
		m := &Message{}
		var received string
		if err := rows.Scan(&m.ID, &m.PID, &m.TimeMessage, &m.Type, &m.Text, &m.Status, &m.Row, &m.Link, &received); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.ReceivedAt, _ = time.Parse(timeFmt, received)
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteExecution removes an execution and its messages.
func (s *Store) DeleteExecution(pid string) error {
	if _, err := s.db.Exec("DELETE FROM executions WHERE pid = ?", pid); err != nil {
		return fmt.Errorf("delete execution: %w", err)
	}
	return nil
}
