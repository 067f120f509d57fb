package service

import (
	"context"
	"errors"

	"github.com/relaycore/sms-conversation-service/internal/domain"
	"github.com/relaycore/sms-conversation-service/pkg/logger"
)

// StatusMessageStore is the message persistence the status tracker needs.
type StatusMessageStore interface {
	GetByProviderSID(ctx context.Context, sid string) (*domain.Message, error)
	UpdateStatus(ctx context.Context, id int64, status domain.DeliveryStatus, errorCode *string) error
}

// StatusEventStore records the append-only delivery audit trail.
type StatusEventStore interface {
	Append(ctx context.Context, event *domain.StatusEvent) error
}

// StatusConversationStore lets delivery confirmation refresh conversation
// activity.
type StatusConversationStore interface {
	TouchLastMessageAt(ctx context.Context, id int64) error
}

// StatusUpdate is one provider status callback.
type StatusUpdate struct {
	ProviderSID string
	Status      string
	ErrorCode   string
	RawPayload  []byte
}

// StatusResult reports how a callback was handled.
type StatusResult struct {
	Applied    bool
	Duplicate  bool
	Dropped    bool
	Regression bool
	MessageID  int64
	Status     domain.DeliveryStatus
}

// StatusService applies provider delivery callbacks to stored messages.
// Callbacks are applied in arrival order even when they regress a terminal
// status: the provider's clock wins over ours, and the event trail keeps the
// full history either way.
type StatusService struct {
	messages      StatusMessageStore
	events        StatusEventStore
	conversations StatusConversationStore
}

func NewStatusService(messages StatusMessageStore, events StatusEventStore, conversations StatusConversationStore) *StatusService {
	return &StatusService{
		messages:      messages,
		events:        events,
		conversations: conversations,
	}
}

// ProcessStatus handles one callback. Unknown statuses and callbacks for SIDs
// we never stored are acknowledged without effect; a callback repeating the
// current status is a duplicate and records no event.
func (s *StatusService) ProcessStatus(ctx context.Context, update StatusUpdate) (StatusResult, error) {
	if update.ProviderSID == "" {
		logger.Warnf("Dropping status callback without provider SID")
		return StatusResult{Dropped: true}, nil
	}

	status := domain.ParseDeliveryStatus(update.Status)
	if status == domain.StatusUnknown {
		logger.Warnf("Dropping callback with unrecognized status %q for %s", update.Status, update.ProviderSID)
		return StatusResult{Dropped: true}, nil
	}

	msg, err := s.messages.GetByProviderSID(ctx, update.ProviderSID)
	if err != nil {
		if errors.Is(err, domain.ErrMessageNotFound) {
			logger.Warnf("Status callback for unknown provider SID %s (status %s)", update.ProviderSID, status)
			return StatusResult{Dropped: true}, nil
		}
		return StatusResult{}, err
	}

	if msg.DeliveryStatus == status {
		return StatusResult{Duplicate: true, MessageID: msg.ID, Status: status}, nil
	}

	regression := msg.DeliveryStatus.Terminal()
	if regression {
		logger.Warnf("Status regression on message %d: %s -> %s", msg.ID, msg.DeliveryStatus, status)
	}

	event := &domain.StatusEvent{
		MessageID:  msg.ID,
		Status:     status,
		ErrorCode:  strPtrOrNil(update.ErrorCode),
		RawPayload: update.RawPayload,
	}
	if err := s.events.Append(ctx, event); err != nil {
		return StatusResult{}, err
	}

	if err := s.messages.UpdateStatus(ctx, msg.ID, status, strPtrOrNil(update.ErrorCode)); err != nil {
		return StatusResult{}, err
	}

	if status == domain.StatusDelivered {
		if err := s.conversations.TouchLastMessageAt(ctx, msg.ConversationID); err != nil {
			logger.Warnf("Failed to touch conversation %d after delivery: %v", msg.ConversationID, err)
		}
	}

	return StatusResult{Applied: true, Regression: regression, MessageID: msg.ID, Status: status}, nil
}
