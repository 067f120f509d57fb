package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/relaycore/sms-conversation-service/internal/domain"
	"github.com/relaycore/sms-conversation-service/internal/service"
	"github.com/relaycore/sms-conversation-service/pkg/directory"
)

// stubStore backs the inbound and status services for handler tests with one
// in-memory conversation and message table.
type stubStore struct {
	conversations map[string]*domain.Conversation
	messages      map[string]*domain.Message
	events        int
	nextID        int64
}

func newStubStore() *stubStore {
	return &stubStore{
		conversations: make(map[string]*domain.Conversation),
		messages:      make(map[string]*domain.Message),
		nextID:        1,
	}
}

func (s *stubStore) UpsertByPhone(_ context.Context, canonical, original string) (*domain.Conversation, error) {
	if conv, ok := s.conversations[canonical]; ok {
		return conv, nil
	}
	conv := &domain.Conversation{
		ID:             s.nextID,
		PhoneCanonical: canonical,
		PhoneOriginal:  &original,
		Language:       domain.LanguageUnknown,
		CreatedAt:      time.Now(),
	}
	s.nextID++
	s.conversations[canonical] = conv
	return conv, nil
}

func (s *stubStore) GetByID(_ context.Context, id int64) (*domain.Conversation, error) {
	for _, conv := range s.conversations {
		if conv.ID == id {
			return conv, nil
		}
	}
	return nil, domain.ErrConversationNotFound
}

func (s *stubStore) TouchLastMessageAt(context.Context, int64) error { return nil }

func (s *stubStore) UpdateLanguageIfStronger(context.Context, int64, string, float64) (bool, error) {
	return false, nil
}

func (s *stubStore) InsertInbound(_ context.Context, msg *domain.Message) error {
	if msg.ProviderSID == nil {
		return nil
	}
	if _, ok := s.messages[*msg.ProviderSID]; ok {
		return domain.ErrDuplicateMessage
	}
	msg.ID = s.nextID
	s.nextID++
	s.messages[*msg.ProviderSID] = msg
	return nil
}

func (s *stubStore) GetByProviderSID(_ context.Context, sid string) (*domain.Message, error) {
	msg, ok := s.messages[sid]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	return msg, nil
}

func (s *stubStore) UpdateStatus(_ context.Context, id int64, status domain.DeliveryStatus, errorCode *string) error {
	for _, msg := range s.messages {
		if msg.ID == id {
			msg.DeliveryStatus = status
			msg.ErrorCode = errorCode
			return nil
		}
	}
	return domain.ErrMessageNotFound
}

func (s *stubStore) Append(_ context.Context, _ *domain.StatusEvent) error {
	s.events++
	return nil
}

type stubResolver struct{}

func (stubResolver) Resolve(context.Context, int64, string) (directory.Resolution, error) {
	return directory.Resolution{Outcome: directory.OutcomeNotFound}, nil
}

func (stubResolver) PushLanguage(context.Context, string, string) error { return nil }

func newWebhookFixture() (*WebhookHandler, *stubStore, *service.InboundService) {
	store := newStubStore()
	inbound := service.NewInboundService(store, store, nil, stubResolver{}, "US")
	status := service.NewStatusService(store, store, store)
	return NewWebhookHandler(inbound, status), store, inbound
}

func postForm(handler echo.HandlerFunc, path string, form url.Values) (*httptest.ResponseRecorder, error) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return rec, handler(c)
}

func TestReceiveSMS_PersistsAndAcks(t *testing.T) {
	handler, store, inbound := newWebhookFixture()

	form := url.Values{}
	form.Set("MessageSid", "SM100")
	form.Set("From", "(555) 123-4567")
	form.Set("To", "+15550000000")
	form.Set("Body", "hello")

	rec, err := postForm(handler.ReceiveSMS, "/webhooks/twilio/sms", form)
	inbound.Wait()

	if err != nil {
		t.Fatalf("ReceiveSMS returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if body["duplicate"] != false {
		t.Errorf("expected duplicate=false, got %v", body["duplicate"])
	}
	if _, ok := store.messages["SM100"]; !ok {
		t.Error("expected message persisted under its SID")
	}
	if _, ok := store.conversations["+15551234567"]; !ok {
		t.Error("expected conversation keyed by canonical phone")
	}
}

func TestReceiveSMS_ReplayAcksAsDuplicate(t *testing.T) {
	handler, store, inbound := newWebhookFixture()

	form := url.Values{}
	form.Set("MessageSid", "SM100")
	form.Set("From", "+15551234567")
	form.Set("Body", "hello")

	if _, err := postForm(handler.ReceiveSMS, "/webhooks/twilio/sms", form); err != nil {
		t.Fatalf("first delivery returned error: %v", err)
	}
	rec, err := postForm(handler.ReceiveSMS, "/webhooks/twilio/sms", form)
	inbound.Wait()

	if err != nil {
		t.Fatalf("replay returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 on replay, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if body["duplicate"] != true {
		t.Errorf("expected duplicate=true, got %v", body["duplicate"])
	}
	if len(store.messages) != 1 {
		t.Errorf("expected 1 stored message, got %d", len(store.messages))
	}
}

func TestReceiveSMS_MissingSIDDroppedWith200(t *testing.T) {
	handler, store, inbound := newWebhookFixture()

	form := url.Values{}
	form.Set("From", "+15551234567")
	form.Set("Body", "hello")

	rec, err := postForm(handler.ReceiveSMS, "/webhooks/twilio/sms", form)
	inbound.Wait()

	if err != nil {
		t.Fatalf("ReceiveSMS returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if body["dropped"] != true {
		t.Errorf("expected dropped=true, got %v", body["dropped"])
	}
	if len(store.messages) != 0 {
		t.Errorf("expected no stored messages, got %d", len(store.messages))
	}
}

func TestReceiveStatus_AppliesTransition(t *testing.T) {
	handler, store, _ := newWebhookFixture()

	sid := "SM200"
	store.messages[sid] = &domain.Message{
		ID:             99,
		ConversationID: 1,
		ProviderSID:    &sid,
		Direction:      domain.DirectionOutbound,
		DeliveryStatus: domain.StatusQueued,
	}

	form := url.Values{}
	form.Set("MessageSid", sid)
	form.Set("MessageStatus", "delivered")

	rec, err := postForm(handler.ReceiveStatus, "/webhooks/twilio/status", form)
	if err != nil {
		t.Fatalf("ReceiveStatus returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	if store.messages[sid].DeliveryStatus != domain.StatusDelivered {
		t.Errorf("expected status delivered, got %s", store.messages[sid].DeliveryStatus)
	}
	if store.events != 1 {
		t.Errorf("expected 1 status event, got %d", store.events)
	}
}

func TestReceiveStatus_UnknownSIDAcked(t *testing.T) {
	handler, store, _ := newWebhookFixture()

	form := url.Values{}
	form.Set("MessageSid", "SMnope")
	form.Set("MessageStatus", "delivered")

	rec, err := postForm(handler.ReceiveStatus, "/webhooks/twilio/status", form)
	if err != nil {
		t.Fatalf("ReceiveStatus returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if body["dropped"] != true {
		t.Errorf("expected dropped=true, got %v", body["dropped"])
	}
	if store.events != 0 {
		t.Errorf("expected no events, got %d", store.events)
	}
}
