package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Notification is a single outbound delivery attempt recorded by notify().
type Notification struct {
	ID           int64
	SourceButler string
	Channel      string
	Message      string
	Intent       string
	RequestID    sql.NullString
	Status       string
	Error        sql.NullString
}

// RecordNotification appends a notifications row.
func RecordNotification(ctx context.Context, q queryer, n Notification) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO switchboard.notifications (source_butler, channel, message, intent, request_id, status, error)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id`,
		n.SourceButler, n.Channel, n.Message, n.Intent, nullableString(n.RequestID.String), n.Status, nullableString(n.Error.String),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("record notification: %w", err)
	}
	return id, nil
}
