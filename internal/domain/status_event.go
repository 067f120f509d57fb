package domain

import "time"

// StatusEvent is one delivery-status callback snapshot for a message.
// Append-only: rows are never mutated or deleted, so the full callback history
// survives even when the message's current status moves backward.
type StatusEvent struct {
	ID         int64          `db:"id" json:"id"`
	MessageID  int64          `db:"message_id" json:"messageId"`
	Status     DeliveryStatus `db:"status" json:"status"`
	ErrorCode  *string        `db:"error_code" json:"errorCode,omitempty"`
	RawPayload []byte         `db:"raw_payload" json:"-"`
	CreatedAt  time.Time      `db:"created_at" json:"createdAt"`
}
