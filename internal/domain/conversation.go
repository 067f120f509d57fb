package domain

import "time"

// Language codes stored on a conversation.
const (
	LanguageEnglish    = "en"
	LanguageSpanish    = "es"
	LanguagePortuguese = "pt"
	LanguageUnknown    = "unknown"
)

// Conversation is the durable thread of all messages exchanged with one
// canonical phone number. Created on first contact, never deleted, never
// expired.
type Conversation struct {
	ID                 int64      `db:"id" json:"id"`
	PhoneCanonical     string     `db:"phone_canonical" json:"phoneCanonical"`
	PhoneOriginal      *string    `db:"phone_original" json:"phoneOriginal,omitempty"`
	TenantID           *string    `db:"tenant_id" json:"tenantId,omitempty"`
	WorkflowTag        *string    `db:"workflow_tag" json:"workflowTag,omitempty"`
	Language           string     `db:"language" json:"language"`
	LanguageConfidence float64    `db:"language_confidence" json:"languageConfidence"`
	LastMessageAt      *time.Time `db:"last_message_at" json:"lastMessageAt,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updatedAt"`
}

// Identified reports whether the conversation has been reconciled against the
// tenant directory.
func (c *Conversation) Identified() bool {
	return c.TenantID != nil && *c.TenantID != ""
}
