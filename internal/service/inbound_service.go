package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/relaycore/sms-conversation-service/internal/domain"
	"github.com/relaycore/sms-conversation-service/internal/language"
	"github.com/relaycore/sms-conversation-service/internal/phone"
	"github.com/relaycore/sms-conversation-service/pkg/directory"
	"github.com/relaycore/sms-conversation-service/pkg/logger"
)

// InboundConversationStore is the conversation persistence the inbound path
// needs.
type InboundConversationStore interface {
	UpsertByPhone(ctx context.Context, canonical, original string) (*domain.Conversation, error)
	TouchLastMessageAt(ctx context.Context, id int64) error
	UpdateLanguageIfStronger(ctx context.Context, id int64, lang string, confidence float64) (bool, error)
	GetByID(ctx context.Context, id int64) (*domain.Conversation, error)
}

// InboundMessageStore persists received messages.
type InboundMessageStore interface {
	InsertInbound(ctx context.Context, msg *domain.Message) error
}

// InboundCache is the optional dedupe and snapshot cache. A nil value
// disables it; the unique key on provider_sid still guarantees idempotency.
type InboundCache interface {
	InboundSeen(ctx context.Context, providerSID string) (bool, error)
	MarkInboundSeen(ctx context.Context, providerSID string) (bool, error)
	InvalidateConversation(ctx context.Context, phoneCanonical string) error
}

// IdentityLinker runs tenant resolution and language propagation for a
// conversation.
type IdentityLinker interface {
	Resolve(ctx context.Context, conversationID int64, rawPhone string) (directory.Resolution, error)
	PushLanguage(ctx context.Context, tenantID, lang string) error
}

// InboundSMS is one provider webhook delivery.
type InboundSMS struct {
	ProviderSID string
	From        string
	To          string
	Body        string
	RawPayload  []byte
}

// InboundResult reports what intake did with a webhook. Dropped deliveries
// carry no provider SID and are acknowledged without persistence; duplicates
// are replays of an already stored SID.
type InboundResult struct {
	Duplicate      bool
	Dropped        bool
	ConversationID int64
	MessageID      int64
}

// InboundService is the webhook intake pipeline: dedupe, thread into a
// conversation, persist, then kick off identity and language follow-ups off
// the request path.
type InboundService struct {
	conversations InboundConversationStore
	messages      InboundMessageStore
	cache         InboundCache
	resolver      IdentityLinker
	locks         *phoneLocks
	defaultRegion string
	followUpWait  *errgroup.Group
}

func NewInboundService(conversations InboundConversationStore, messages InboundMessageStore, cache InboundCache, resolver IdentityLinker, defaultRegion string) *InboundService {
	return &InboundService{
		conversations: conversations,
		messages:      messages,
		cache:         cache,
		resolver:      resolver,
		locks:         newPhoneLocks(),
		defaultRegion: defaultRegion,
		followUpWait:  &errgroup.Group{},
	}
}

// HandleInbound processes one webhook delivery. Replays of a stored provider
// SID return Duplicate without touching any row; deliveries without a SID are
// dropped. Both cases are success from the caller's point of view so the
// provider gets its 200 and stops retrying.
func (s *InboundService) HandleInbound(ctx context.Context, sms InboundSMS) (InboundResult, error) {
	if sms.ProviderSID == "" {
		logger.Warnf("Dropping inbound webhook without provider SID from %s", sms.From)
		return InboundResult{Dropped: true}, nil
	}

	if s.cache != nil {
		seen, err := s.cache.InboundSeen(ctx, sms.ProviderSID)
		if err != nil {
			logger.Warnf("Inbound dedupe cache check failed for %s: %v", sms.ProviderSID, err)
		} else if seen {
			return InboundResult{Duplicate: true}, nil
		}
	}

	canonical := phone.BestEffort(sms.From, s.defaultRegion)

	release := s.locks.Acquire(canonical)
	defer release()

	conv, err := s.conversations.UpsertByPhone(ctx, canonical, sms.From)
	if err != nil {
		return InboundResult{}, err
	}

	msg := &domain.Message{
		ConversationID: conv.ID,
		TrackingID:     uuid.NewString(),
		ProviderSID:    &sms.ProviderSID,
		Direction:      domain.DirectionInbound,
		FromNumber:     strPtrOrNil(sms.From),
		ToNumber:       strPtrOrNil(sms.To),
		Body:           strPtrOrNil(sms.Body),
		DeliveryStatus: domain.StatusReceived,
		RawPayload:     sms.RawPayload,
	}

	if err := s.messages.InsertInbound(ctx, msg); err != nil {
		if errors.Is(err, domain.ErrDuplicateMessage) {
			return InboundResult{Duplicate: true, ConversationID: conv.ID}, nil
		}
		return InboundResult{}, err
	}

	if err := s.conversations.TouchLastMessageAt(ctx, conv.ID); err != nil {
		logger.Warnf("Failed to touch conversation %d after inbound message: %v", conv.ID, err)
	}

	if s.cache != nil {
		if _, err := s.cache.MarkInboundSeen(ctx, sms.ProviderSID); err != nil {
			logger.Warnf("Failed to mark inbound SID %s seen: %v", sms.ProviderSID, err)
		}
		if err := s.cache.InvalidateConversation(ctx, canonical); err != nil {
			logger.Warnf("Failed to invalidate cached conversation %s: %v", canonical, err)
		}
	}

	// Follow-ups survive webhook cancellation: the message is already durable
	// and the provider ack should not wait on directory round-trips.
	followCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	s.followUpWait.Go(func() error {
		defer cancel()
		s.runFollowUps(followCtx, conv, sms.From, sms.Body)
		return nil
	})

	return InboundResult{ConversationID: conv.ID, MessageID: msg.ID}, nil
}

// runFollowUps performs the non-blocking half of intake: language detection
// and tenant resolution, then language propagation once both a tenant and a
// known language exist.
func (s *InboundService) runFollowUps(ctx context.Context, conv *domain.Conversation, rawFrom, body string) {
	lang, confidence := language.Detect(body)
	if lang != domain.LanguageUnknown {
		updated, err := s.conversations.UpdateLanguageIfStronger(ctx, conv.ID, lang, confidence)
		if err != nil {
			logger.Warnf("Failed to update language for conversation %d: %v", conv.ID, err)
		} else if updated {
			logger.Infof("Conversation %d language set to %s (confidence %.2f)", conv.ID, lang, confidence)
		}
	}

	tenantID := ""
	if conv.Identified() {
		tenantID = *conv.TenantID
	} else {
		resolution, err := s.resolver.Resolve(ctx, conv.ID, rawFrom)
		if err != nil {
			logger.Warnf("Tenant resolution failed for conversation %d: %v", conv.ID, err)
		} else if resolution.Outcome == directory.OutcomeMatched {
			tenantID = resolution.TenantID
		}
	}

	if tenantID == "" {
		return
	}

	current, err := s.conversations.GetByID(ctx, conv.ID)
	if err != nil {
		logger.Warnf("Failed to reload conversation %d for language push: %v", conv.ID, err)
		return
	}
	if current.Language == domain.LanguageUnknown {
		return
	}

	if err := s.resolver.PushLanguage(ctx, tenantID, current.Language); err != nil {
		logger.Warnf("Failed to push language %s to tenant %s: %v", current.Language, tenantID, err)
	}
}

// Wait blocks until in-flight follow-ups finish. Used during shutdown and by
// tests.
func (s *InboundService) Wait() {
	_ = s.followUpWait.Wait()
}

func strPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
