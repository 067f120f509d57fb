package domain

import (
	"strings"
	"time"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type DeliveryStatus string

// Outbound messages move pending -> queued -> sent -> delivered, or drop to
// failed / undelivered. Inbound messages move receiving -> received.
const (
	StatusPending     DeliveryStatus = "pending"
	StatusQueued      DeliveryStatus = "queued"
	StatusSending     DeliveryStatus = "sending"
	StatusSent        DeliveryStatus = "sent"
	StatusDelivered   DeliveryStatus = "delivered"
	StatusUndelivered DeliveryStatus = "undelivered"
	StatusFailed      DeliveryStatus = "failed"
	StatusReceiving   DeliveryStatus = "receiving"
	StatusReceived    DeliveryStatus = "received"
	StatusUnknown     DeliveryStatus = "unknown"
)

var terminalStatuses = map[DeliveryStatus]bool{
	StatusDelivered:   true,
	StatusUndelivered: true,
	StatusFailed:      true,
	StatusReceived:    true,
}

// Terminal reports whether the status ends a message's delivery lifecycle.
func (s DeliveryStatus) Terminal() bool {
	return terminalStatuses[s]
}

// ParseDeliveryStatus maps a provider status string onto the enumeration.
// Unrecognized values map to StatusUnknown.
func ParseDeliveryStatus(raw string) DeliveryStatus {
	switch DeliveryStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusPending:
		return StatusPending
	case StatusQueued:
		return StatusQueued
	case StatusSending:
		return StatusSending
	case StatusSent:
		return StatusSent
	case StatusDelivered:
		return StatusDelivered
	case StatusUndelivered:
		return StatusUndelivered
	case StatusFailed:
		return StatusFailed
	case StatusReceiving:
		return StatusReceiving
	case StatusReceived:
		return StatusReceived
	default:
		return StatusUnknown
	}
}

// Message is one logical SMS event belonging to exactly one conversation.
// Body and direction are immutable after insert; only delivery status, error
// code and (for outbound) the provider SID are ever back-filled.
type Message struct {
	ID             int64          `db:"id" json:"id"`
	ConversationID int64          `db:"conversation_id" json:"conversationId"`
	TrackingID     string         `db:"tracking_id" json:"trackingId"`
	ProviderSID    *string        `db:"provider_sid" json:"providerSid,omitempty"`
	Direction      Direction      `db:"direction" json:"direction"`
	FromNumber     *string        `db:"from_number" json:"fromNumber,omitempty"`
	ToNumber       *string        `db:"to_number" json:"toNumber,omitempty"`
	Body           *string        `db:"body" json:"body,omitempty"`
	DeliveryStatus DeliveryStatus `db:"delivery_status" json:"deliveryStatus"`
	ErrorCode      *string        `db:"error_code" json:"errorCode,omitempty"`
	RawPayload     []byte         `db:"raw_payload" json:"-"`
	CreatedAt      time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updatedAt"`
}
