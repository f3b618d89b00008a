package repository

import (
	"context"
	"encoding/json"

	"gavel/internal/common/db"
	"gavel/internal/judge/model"
)

// MySQLEventLogRepository appends published events to the event_log table.
type MySQLEventLogRepository struct {
	db db.Database
}

// NewEventLogRepository creates a MySQL-backed event log.
func NewEventLogRepository(database db.Database) *MySQLEventLogRepository {
	return &MySQLEventLogRepository{db: database}
}

// Append records one event. Duplicate event ids are ignored so at-least-once
// publishing does not grow the log.
func (r *MySQLEventLogRepository) Append(ctx context.Context, event model.Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO event_log (event_id, event_type, correlation_id, occurred_at, payload)
		VALUES (?, ?, ?, ?, ?)
	`,
		event.EventID,
		string(event.Type),
		event.CorrelationID,
		event.OccurredAt,
		payload,
	)
	if _, dup := db.UniqueViolation(err); dup {
		return nil
	}
	return err
}
