package service

import (
	"context"
	"fmt"

	"github.com/relaycore/sms-conversation-service/internal/phone"
	"github.com/relaycore/sms-conversation-service/pkg/directory"
	"github.com/relaycore/sms-conversation-service/pkg/logger"
)

// TenantLookupClient resolves phone numbers against the tenant directory.
type TenantLookupClient interface {
	Lookup(ctx context.Context, variants []string) (directory.Resolution, error)
	UpdateLanguage(ctx context.Context, tenantID, language string) error
}

// ConversationIdentityStore is the slice of conversation persistence the
// resolver needs.
type ConversationIdentityStore interface {
	SetTenant(ctx context.Context, conversationID int64, tenantID string) error
}

// IdentityResolver links conversations to tenants. A lookup sweeps every
// phone variant in order; "not found" is only concluded after a full sweep,
// while exhausted retries leave the conversation unidentified for later
// reconciliation.
type IdentityResolver struct {
	directoryClient TenantLookupClient
	conversations   ConversationIdentityStore
	defaultRegion   string
}

func NewIdentityResolver(directoryClient TenantLookupClient, conversations ConversationIdentityStore, defaultRegion string) *IdentityResolver {
	return &IdentityResolver{
		directoryClient: directoryClient,
		conversations:   conversations,
		defaultRegion:   defaultRegion,
	}
}

// Resolve looks up the phone number and, on a match, stamps the tenant onto
// the conversation. The returned resolution reports which of the three
// outcomes occurred.
func (r *IdentityResolver) Resolve(ctx context.Context, conversationID int64, rawPhone string) (directory.Resolution, error) {
	variants := phone.Variants(rawPhone, r.defaultRegion)

	resolution, err := r.directoryClient.Lookup(ctx, variants)
	if err != nil {
		return directory.Resolution{Outcome: directory.OutcomeDeferred}, fmt.Errorf("directory lookup failed: %w", err)
	}

	switch resolution.Outcome {
	case directory.OutcomeMatched:
		if err := r.conversations.SetTenant(ctx, conversationID, resolution.TenantID); err != nil {
			return resolution, fmt.Errorf("failed to link tenant to conversation: %w", err)
		}
		logger.Infof("Conversation %d linked to tenant %s", conversationID, resolution.TenantID)
	case directory.OutcomeDeferred:
		logger.Warnf("Tenant lookup deferred for conversation %d, will retry during reconciliation", conversationID)
	}

	return resolution, nil
}

// PushLanguage propagates a detected conversation language to the tenant
// profile. Unknown languages are never pushed.
func (r *IdentityResolver) PushLanguage(ctx context.Context, tenantID, language string) error {
	return r.directoryClient.UpdateLanguage(ctx, tenantID, language)
}
