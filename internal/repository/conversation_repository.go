package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/relaycore/sms-conversation-service/internal/domain"
)

// ConversationRepository handles database operations for conversations.
// All writes funnel through here so the one-row-per-canonical-phone invariant
// is enforced in a single place.
type ConversationRepository struct {
	db *sqlx.DB
}

func NewConversationRepository(db *sqlx.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

const conversationColumns = `id, phone_canonical, phone_original, tenant_id, workflow_tag,
	language, language_confidence, last_message_at, created_at, updated_at`

// UpsertByPhone atomically inserts or fetches the conversation for a
// canonical phone number. The LAST_INSERT_ID(id) trick makes MySQL hand back
// the existing row's id on duplicate, so two racing first messages converge
// on one row without a read-then-write window.
func (r *ConversationRepository) UpsertByPhone(ctx context.Context, canonical, original string) (*domain.Conversation, error) {
	query := `
		INSERT INTO conversations (phone_canonical, phone_original)
		VALUES (?, ?)
		ON DUPLICATE KEY UPDATE id = LAST_INSERT_ID(id)
	`

	result, err := r.db.ExecContext(ctx, query, canonical, nullable(original))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert conversation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get upserted conversation id: %w", err)
	}

	return r.GetByID(ctx, id)
}

func (r *ConversationRepository) GetByPhone(ctx context.Context, canonical string) (*domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE phone_canonical = ?`

	var conv domain.Conversation
	if err := r.db.GetContext(ctx, &conv, query, canonical); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to get conversation by phone: %w", err)
	}

	return &conv, nil
}

func (r *ConversationRepository) GetByID(ctx context.Context, id int64) (*domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = ?`

	var conv domain.Conversation
	if err := r.db.GetContext(ctx, &conv, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	return &conv, nil
}

func (r *ConversationRepository) TouchLastMessageAt(ctx context.Context, id int64) error {
	query := `UPDATE conversations SET last_message_at = NOW() WHERE id = ?`

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to touch last_message_at: %w", err)
	}

	return nil
}

// UpdateLanguageIfStronger applies a detection result only when it beats the
// stored confidence (or nothing is on file yet). The condition lives in the
// UPDATE itself so concurrent detections cannot interleave a weaker signal
// over a stronger one. Returns whether the row changed.
func (r *ConversationRepository) UpdateLanguageIfStronger(ctx context.Context, id int64, lang string, confidence float64) (bool, error) {
	query := `
		UPDATE conversations
		SET language = ?, language_confidence = ?
		WHERE id = ? AND (language = 'unknown' OR language_confidence < ?)
	`

	result, err := r.db.ExecContext(ctx, query, lang, confidence, id, confidence)
	if err != nil {
		return false, fmt.Errorf("failed to update language: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rows > 0, nil
}

// SetTenant reconciles a conversation with its directory identity in place.
func (r *ConversationRepository) SetTenant(ctx context.Context, id int64, tenantID string) error {
	query := `UPDATE conversations SET tenant_id = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to set tenant: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		// Row exists with same tenant, or id is gone; only the latter matters.
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
	}

	return nil
}

func (r *ConversationRepository) SetWorkflowTag(ctx context.Context, id int64, tag string) error {
	query := `UPDATE conversations SET workflow_tag = ? WHERE id = ?`

	if _, err := r.db.ExecContext(ctx, query, tag, id); err != nil {
		return fmt.Errorf("failed to set workflow tag: %w", err)
	}

	return nil
}

// ListUnidentified returns conversations without a tenant, most recent
// activity first, for reconciliation sweeps.
func (r *ConversationRepository) ListUnidentified(ctx context.Context, limit int) ([]domain.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE tenant_id IS NULL
		ORDER BY last_message_at IS NULL, last_message_at DESC, created_at DESC
		LIMIT ?
	`

	var convs []domain.Conversation
	if err := r.db.SelectContext(ctx, &convs, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list unidentified conversations: %w", err)
	}

	return convs, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
