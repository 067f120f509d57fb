package service

import (
	"context"

	"github.com/relaycore/sms-conversation-service/internal/domain"
	"github.com/relaycore/sms-conversation-service/internal/phone"
	"github.com/relaycore/sms-conversation-service/pkg/logger"
)

// ConversationReadStore is the read side of conversation persistence.
type ConversationReadStore interface {
	GetByPhone(ctx context.Context, canonical string) (*domain.Conversation, error)
}

// MessageReadStore is the read side of message persistence.
type MessageReadStore interface {
	GetByID(ctx context.Context, id int64) (*domain.Message, error)
	ListByConversation(ctx context.Context, conversationID int64, limit, offset int) ([]domain.Message, int64, error)
	GetStats(ctx context.Context) (pending, delivered, failed, received int64, err error)
}

// StatusEventReadStore lists the delivery audit trail of a message.
type StatusEventReadStore interface {
	ListByMessage(ctx context.Context, messageID int64) ([]domain.StatusEvent, error)
}

// ConversationCache holds hot conversation snapshots. Nil disables caching.
type ConversationCache interface {
	GetCachedConversation(ctx context.Context, phoneCanonical string) (*domain.Conversation, error)
	CacheConversation(ctx context.Context, conv *domain.Conversation) error
}

// ConversationHistory is a conversation with one page of its messages.
type ConversationHistory struct {
	Conversation *domain.Conversation
	Messages     []domain.Message
	TotalCount   int64
}

// MessageStats is the aggregate message counters surface.
type MessageStats struct {
	Pending   int64 `json:"pending"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Received  int64 `json:"received"`
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ConversationService serves conversation history, message delivery audits
// and message statistics.
type ConversationService struct {
	conversations ConversationReadStore
	messages      MessageReadStore
	events        StatusEventReadStore
	cache         ConversationCache
	defaultRegion string
}

func NewConversationService(conversations ConversationReadStore, messages MessageReadStore, events StatusEventReadStore, cache ConversationCache, defaultRegion string) *ConversationService {
	return &ConversationService{
		conversations: conversations,
		messages:      messages,
		events:        events,
		cache:         cache,
		defaultRegion: defaultRegion,
	}
}

// GetByPhone returns the conversation for a phone number with a page of its
// messages, newest first. Lookup input is normalized the same way intake
// normalizes it, so any written form of the number finds the same thread.
func (s *ConversationService) GetByPhone(ctx context.Context, rawPhone string, page, pageSize int) (*ConversationHistory, error) {
	canonical := phone.BestEffort(rawPhone, s.defaultRegion)

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	offset := (page - 1) * pageSize

	conv, err := s.lookupConversation(ctx, canonical)
	if err != nil {
		return nil, err
	}

	messages, total, err := s.messages.ListByConversation(ctx, conv.ID, pageSize, offset)
	if err != nil {
		return nil, err
	}

	return &ConversationHistory{
		Conversation: conv,
		Messages:     messages,
		TotalCount:   total,
	}, nil
}

func (s *ConversationService) lookupConversation(ctx context.Context, canonical string) (*domain.Conversation, error) {
	if s.cache != nil {
		cached, err := s.cache.GetCachedConversation(ctx, canonical)
		if err != nil {
			logger.Warnf("Conversation cache read failed for %s: %v", canonical, err)
		} else if cached != nil {
			return cached, nil
		}
	}

	conv, err := s.conversations.GetByPhone(ctx, canonical)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.CacheConversation(ctx, conv); err != nil {
			logger.Warnf("Failed to cache conversation %s: %v", canonical, err)
		}
	}

	return conv, nil
}

// MessageHistory is one message with its delivery status trail, oldest event
// first.
type MessageHistory struct {
	Message *domain.Message
	Events  []domain.StatusEvent
}

// GetMessageHistory returns a message with every status event recorded for
// it, in the order the provider reported them.
func (s *ConversationService) GetMessageHistory(ctx context.Context, messageID int64) (*MessageHistory, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}

	events, err := s.events.ListByMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}

	return &MessageHistory{Message: msg, Events: events}, nil
}

// GetStats returns message counts by lifecycle bucket.
func (s *ConversationService) GetStats(ctx context.Context) (MessageStats, error) {
	pending, delivered, failed, received, err := s.messages.GetStats(ctx)
	if err != nil {
		return MessageStats{}, err
	}

	return MessageStats{
		Pending:   pending,
		Delivered: delivered,
		Failed:    failed,
		Received:  received,
	}, nil
}
