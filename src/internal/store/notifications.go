package store

import (
	"context"
	"time"
)

// Notification is one in-app delivery row, read back by the tenant's UI feed.
type Notification struct {
	ID        int64     `json:"id"`
	TaskID    string    `json:"task_id"`
	Recipient string    `json:"recipient"`
	Priority  string    `json:"priority"`
	Message   string    `json:"message"`
	Created   time.Time `json:"created"`
}

func (s *Store) InsertNotification(ctx context.Context, n *Notification) error {
	if n.Created.IsZero() {
		n.Created = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (task_id, recipient, priority, message, created) VALUES (?, ?, ?, ?, ?)`,
		n.TaskID, n.Recipient, n.Priority, n.Message, n.Created.UTC())
	if err != nil {
		return err
	}
	n.ID, _ = res.LastInsertId()
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, recipient string, limit int) ([]*Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, recipient, priority, message, created FROM notifications
		 WHERE recipient = ? ORDER BY created DESC, id DESC LIMIT ?`,
		recipient, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.TaskID, &n.Recipient, &n.Priority, &n.Message, &n.Created); err != nil {
			return nil, err
		}
		res = append(res, &n)
	}
	return res, rows.Err()
}
