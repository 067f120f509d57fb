package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/relaycore/sms-conversation-service/internal/domain"
)

// StatusEventRepository persists the append-only delivery audit trail. Rows
// are never updated or deleted.
type StatusEventRepository struct {
	db *sqlx.DB
}

func NewStatusEventRepository(db *sqlx.DB) *StatusEventRepository {
	return &StatusEventRepository{db: db}
}

func (r *StatusEventRepository) Append(ctx context.Context, event *domain.StatusEvent) error {
	query := `
		INSERT INTO message_status_events (message_id, status, error_code, raw_payload)
		VALUES (?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query, event.MessageID, event.Status, event.ErrorCode, event.RawPayload)
	if err != nil {
		return fmt.Errorf("failed to append status event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get inserted event id: %w", err)
	}
	event.ID = id

	return nil
}

func (r *StatusEventRepository) ListByMessage(ctx context.Context, messageID int64) ([]domain.StatusEvent, error) {
	query := `
		SELECT id, message_id, status, error_code, raw_payload, created_at
		FROM message_status_events
		WHERE message_id = ?
		ORDER BY created_at ASC, id ASC
	`

	var events []domain.StatusEvent
	if err := r.db.SelectContext(ctx, &events, query, messageID); err != nil {
		return nil, fmt.Errorf("failed to list status events: %w", err)
	}

	return events, nil
}
