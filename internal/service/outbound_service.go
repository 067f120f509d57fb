package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/relaycore/sms-conversation-service/internal/domain"
	"github.com/relaycore/sms-conversation-service/internal/phone"
	"github.com/relaycore/sms-conversation-service/pkg/logger"
)

// SMSGateway sends messages through the upstream provider.
type SMSGateway interface {
	SendSMS(ctx context.Context, to, body string) (string, error)
	From() string
}

// OutboundMessageStore persists the outbound message lifecycle.
type OutboundMessageStore interface {
	InsertOutboundPending(ctx context.Context, msg *domain.Message) error
	SetProviderSID(ctx context.Context, id int64, sid string, status domain.DeliveryStatus) error
	UpdateStatus(ctx context.Context, id int64, status domain.DeliveryStatus, errorCode *string) error
}

// OutboundConversationStore is the conversation persistence the send path
// needs.
type OutboundConversationStore interface {
	UpsertByPhone(ctx context.Context, canonical, original string) (*domain.Conversation, error)
	SetWorkflowTag(ctx context.Context, conversationID int64, tag string) error
}

// SendRequest is one API-originated outbound message. WorkflowTag is an
// opaque caller label stamped onto the conversation, never interpreted here.
type SendRequest struct {
	To          string
	Body        string
	WorkflowTag string
}

// SendResult identifies the accepted message. The provider SID is present
// only when the gateway accepted synchronously.
type SendResult struct {
	MessageID      int64
	ConversationID int64
	TrackingID     string
	ProviderSID    string
	Status         domain.DeliveryStatus
}

// OutboundService drives the send pipeline: validate, persist a pending row,
// hand off to the gateway, then record the gateway verdict. A gateway failure
// leaves an auditable failed row rather than no row.
type OutboundService struct {
	conversations OutboundConversationStore
	messages      OutboundMessageStore
	gateway       SMSGateway
	cache         InboundCache
	defaultRegion string
}

func NewOutboundService(conversations OutboundConversationStore, messages OutboundMessageStore, gateway SMSGateway, cache InboundCache, defaultRegion string) *OutboundService {
	return &OutboundService{
		conversations: conversations,
		messages:      messages,
		gateway:       gateway,
		cache:         cache,
		defaultRegion: defaultRegion,
	}
}

const errCodeGatewayRejected = "gateway_rejected"

// Send validates and dispatches one outbound message. Validation failures
// happen before any write; gateway failures after the pending insert mark the
// row failed and surface the gateway error to the caller.
func (s *OutboundService) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	if req.Body == "" {
		return SendResult{}, &domain.ValidationError{Field: "body", Reason: "must not be empty"}
	}

	canonical, err := phone.Normalize(req.To, s.defaultRegion)
	if err != nil {
		return SendResult{}, &domain.ValidationError{Field: "to", Reason: "not a valid phone number"}
	}

	conv, err := s.conversations.UpsertByPhone(ctx, canonical, req.To)
	if err != nil {
		return SendResult{}, err
	}

	if req.WorkflowTag != "" {
		if err := s.conversations.SetWorkflowTag(ctx, conv.ID, req.WorkflowTag); err != nil {
			logger.Warnf("Failed to tag conversation %d with workflow %q: %v", conv.ID, req.WorkflowTag, err)
		}
	}

	msg := &domain.Message{
		ConversationID: conv.ID,
		TrackingID:     uuid.NewString(),
		Direction:      domain.DirectionOutbound,
		FromNumber:     strPtrOrNil(s.gateway.From()),
		ToNumber:       &canonical,
		Body:           &req.Body,
		DeliveryStatus: domain.StatusPending,
	}

	if err := s.messages.InsertOutboundPending(ctx, msg); err != nil {
		return SendResult{}, err
	}

	sid, err := s.gateway.SendSMS(ctx, canonical, req.Body)
	if err != nil {
		errCode := errCodeGatewayRejected
		var extErr *domain.ExternalError
		if errors.As(err, &extErr) && extErr.Code != "" {
			errCode = extErr.Code
		}

		if markErr := s.messages.UpdateStatus(ctx, msg.ID, domain.StatusFailed, &errCode); markErr != nil {
			logger.Errorf("Failed to mark message %d failed after gateway error: %v", msg.ID, markErr)
		}
		logger.Warnf("Gateway rejected message %s to %s: %v", msg.TrackingID, canonical, err)

		return SendResult{}, err
	}

	if err := s.messages.SetProviderSID(ctx, msg.ID, sid, domain.StatusQueued); err != nil {
		// The gateway accepted: report success and let status callbacks
		// find the row by tracking id fallback in logs.
		logger.Errorf("Failed to record provider SID %s on message %d: %v", sid, msg.ID, err)
	}

	if s.cache != nil {
		if err := s.cache.InvalidateConversation(ctx, canonical); err != nil {
			logger.Warnf("Failed to invalidate cached conversation %s: %v", canonical, err)
		}
	}

	logger.Infof("Message %s queued to %s (provider SID %s)", msg.TrackingID, canonical, sid)

	return SendResult{
		MessageID:      msg.ID,
		ConversationID: conv.ID,
		TrackingID:     msg.TrackingID,
		ProviderSID:    sid,
		Status:         domain.StatusQueued,
	}, nil
}
