package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/relaycore/sms-conversation-service/internal/domain"
)

// MessageRepository handles database operations for messages. The unique key
// on provider_sid is the idempotency authority for inbound intake: a losing
// concurrent insert surfaces as ErrDuplicateMessage, never as a second row.
type MessageRepository struct {
	db *sqlx.DB
}

func NewMessageRepository(db *sqlx.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

const messageColumns = `id, conversation_id, tracking_id, provider_sid, direction, from_number,
	to_number, body, delivery_status, error_code, raw_payload, created_at, updated_at`

const mysqlDuplicateEntry = 1062

func isDuplicateEntry(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}

// InsertInbound persists one received message. Returns ErrDuplicateMessage
// when the provider SID is already stored.
func (r *MessageRepository) InsertInbound(ctx context.Context, msg *domain.Message) error {
	query := `
		INSERT INTO messages (conversation_id, tracking_id, provider_sid, direction,
			from_number, to_number, body, delivery_status, raw_payload)
		VALUES (?, ?, ?, 'inbound', ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		msg.ConversationID, msg.TrackingID, msg.ProviderSID,
		msg.FromNumber, msg.ToNumber, msg.Body, msg.DeliveryStatus, msg.RawPayload,
	)
	if err != nil {
		if isDuplicateEntry(err) {
			return domain.ErrDuplicateMessage
		}
		return fmt.Errorf("failed to insert inbound message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get inserted message id: %w", err)
	}
	msg.ID = id

	return nil
}

// InsertOutboundPending creates the auditable pending row before the gateway
// is contacted. The provider SID is back-filled after the gateway accepts.
func (r *MessageRepository) InsertOutboundPending(ctx context.Context, msg *domain.Message) error {
	query := `
		INSERT INTO messages (conversation_id, tracking_id, direction,
			from_number, to_number, body, delivery_status)
		VALUES (?, ?, 'outbound', ?, ?, ?, 'pending')
	`

	result, err := r.db.ExecContext(ctx, query,
		msg.ConversationID, msg.TrackingID, msg.FromNumber, msg.ToNumber, msg.Body,
	)
	if err != nil {
		return fmt.Errorf("failed to insert outbound message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get inserted message id: %w", err)
	}
	msg.ID = id
	msg.DeliveryStatus = domain.StatusPending

	return nil
}

func (r *MessageRepository) GetByProviderSID(ctx context.Context, sid string) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE provider_sid = ?`

	var msg domain.Message
	if err := r.db.GetContext(ctx, &msg, query, sid); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to get message by provider sid: %w", err)
	}

	return &msg, nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = ?`

	var msg domain.Message
	if err := r.db.GetContext(ctx, &msg, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return &msg, nil
}

// SetProviderSID back-fills the gateway-assigned SID and moves the message to
// the given status. The SID and the delivery status are the only fields ever
// written after insert.
func (r *MessageRepository) SetProviderSID(ctx context.Context, id int64, sid string, status domain.DeliveryStatus) error {
	query := `UPDATE messages SET provider_sid = ?, delivery_status = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, sid, status, id)
	if err != nil {
		if isDuplicateEntry(err) {
			return domain.ErrDuplicateMessage
		}
		return fmt.Errorf("failed to set provider sid: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return domain.ErrMessageNotFound
	}

	return nil
}

func (r *MessageRepository) UpdateStatus(ctx context.Context, id int64, status domain.DeliveryStatus, errorCode *string) error {
	query := `UPDATE messages SET delivery_status = ?, error_code = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, status, errorCode, id)
	if err != nil {
		return fmt.Errorf("failed to update message status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return domain.ErrMessageNotFound
	}

	return nil
}

// ListByConversation returns messages newest first with the total count for
// pagination.
func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID int64, limit, offset int) ([]domain.Message, int64, error) {
	var totalCount int64
	countQuery := `SELECT COUNT(*) FROM messages WHERE conversation_id = ?`
	if err := r.db.GetContext(ctx, &totalCount, countQuery, conversationID); err != nil {
		return nil, 0, fmt.Errorf("failed to count conversation messages: %w", err)
	}

	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`

	var messages []domain.Message
	if err := r.db.SelectContext(ctx, &messages, query, conversationID, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("failed to list conversation messages: %w", err)
	}

	return messages, totalCount, nil
}

// GetStats returns counts of messages by lifecycle bucket.
func (r *MessageRepository) GetStats(ctx context.Context) (pending, delivered, failed, received int64, err error) {
	query := `
		SELECT
			COALESCE(SUM(CASE WHEN delivery_status IN ('pending', 'queued', 'sending', 'sent') THEN 1 ELSE 0 END), 0) AS pending,
			COALESCE(SUM(CASE WHEN delivery_status = 'delivered' THEN 1 ELSE 0 END), 0) AS delivered,
			COALESCE(SUM(CASE WHEN delivery_status IN ('failed', 'undelivered') THEN 1 ELSE 0 END), 0) AS failed,
			COALESCE(SUM(CASE WHEN delivery_status = 'received' THEN 1 ELSE 0 END), 0) AS received
		FROM messages
	`

	var stats struct {
		Pending   int64 `db:"pending"`
		Delivered int64 `db:"delivered"`
		Failed    int64 `db:"failed"`
		Received  int64 `db:"received"`
	}

	if err := r.db.GetContext(ctx, &stats, query); err != nil {
		return 0, 0, 0, 0, fmt.Errorf("failed to get stats: %w", err)
	}

	return stats.Pending, stats.Delivered, stats.Failed, stats.Received, nil
}

// CountStuckPending counts outbound messages sitting in pending longer than
// the given age. Surfaced by monitoring; a terminal status from a retry or a
// late callback is the only way out of pending.
func (r *MessageRepository) CountStuckPending(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM messages
		WHERE direction = 'outbound' AND delivery_status = 'pending' AND created_at < ?
	`

	var count int64
	cutoff := time.Now().Add(-olderThan)
	if err := r.db.GetContext(ctx, &count, query, cutoff); err != nil {
		return 0, fmt.Errorf("failed to count stuck pending messages: %w", err)
	}

	return count, nil
}
