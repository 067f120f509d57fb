package service

import (
	"context"
	"sync"
	"time"

	"github.com/relaycore/sms-conversation-service/internal/domain"
	"github.com/relaycore/sms-conversation-service/pkg/directory"
)

// fakeConversationStore is an in-memory conversation table keyed by canonical
// phone.
type fakeConversationStore struct {
	mu            sync.Mutex
	nextID        int64
	byPhone       map[string]*domain.Conversation
	upsertErr     error
	touchedIDs    []int64
	setTenantErr  error
	tenantUpdates map[int64]string
}

func newFakeConversationStore() *fakeConversationStore {
	return &fakeConversationStore{
		nextID:        1,
		byPhone:       make(map[string]*domain.Conversation),
		tenantUpdates: make(map[int64]string),
	}
}

func (f *fakeConversationStore) UpsertByPhone(_ context.Context, canonical, original string) (*domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.upsertErr != nil {
		return nil, f.upsertErr
	}

	if conv, ok := f.byPhone[canonical]; ok {
		copied := *conv
		return &copied, nil
	}

	conv := &domain.Conversation{
		ID:             f.nextID,
		PhoneCanonical: canonical,
		PhoneOriginal:  &original,
		Language:       domain.LanguageUnknown,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	f.nextID++
	f.byPhone[canonical] = conv

	copied := *conv
	return &copied, nil
}

func (f *fakeConversationStore) GetByPhone(_ context.Context, canonical string) (*domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	conv, ok := f.byPhone[canonical]
	if !ok {
		return nil, domain.ErrConversationNotFound
	}
	copied := *conv
	return &copied, nil
}

func (f *fakeConversationStore) GetByID(_ context.Context, id int64) (*domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, conv := range f.byPhone {
		if conv.ID == id {
			copied := *conv
			return &copied, nil
		}
	}
	return nil, domain.ErrConversationNotFound
}

func (f *fakeConversationStore) TouchLastMessageAt(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.touchedIDs = append(f.touchedIDs, id)
	return nil
}

func (f *fakeConversationStore) UpdateLanguageIfStronger(_ context.Context, id int64, lang string, confidence float64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, conv := range f.byPhone {
		if conv.ID != id {
			continue
		}
		if conv.Language != domain.LanguageUnknown && conv.LanguageConfidence >= confidence {
			return false, nil
		}
		conv.Language = lang
		conv.LanguageConfidence = confidence
		return true, nil
	}
	return false, domain.ErrConversationNotFound
}

func (f *fakeConversationStore) SetWorkflowTag(_ context.Context, id int64, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, conv := range f.byPhone {
		if conv.ID == id {
			t := tag
			conv.WorkflowTag = &t
		}
	}
	return nil
}

func (f *fakeConversationStore) SetTenant(_ context.Context, id int64, tenantID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.setTenantErr != nil {
		return f.setTenantErr
	}
	f.tenantUpdates[id] = tenantID
	for _, conv := range f.byPhone {
		if conv.ID == id {
			tid := tenantID
			conv.TenantID = &tid
		}
	}
	return nil
}

// fakeMessageStore is an in-memory message table.
type fakeMessageStore struct {
	mu            sync.Mutex
	nextID        int64
	messages      []*domain.Message
	insertErr     error
	statusUpdates []statusUpdateCall
	statsPending  int64
	statsFailed   int64
}

type statusUpdateCall struct {
	id        int64
	status    domain.DeliveryStatus
	errorCode *string
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{nextID: 1}
}

func (f *fakeMessageStore) InsertInbound(_ context.Context, msg *domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.insertErr != nil {
		return f.insertErr
	}
	for _, existing := range f.messages {
		if existing.ProviderSID != nil && msg.ProviderSID != nil && *existing.ProviderSID == *msg.ProviderSID {
			return domain.ErrDuplicateMessage
		}
	}
	msg.ID = f.nextID
	f.nextID++
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeMessageStore) InsertOutboundPending(_ context.Context, msg *domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.insertErr != nil {
		return f.insertErr
	}
	msg.ID = f.nextID
	msg.DeliveryStatus = domain.StatusPending
	f.nextID++
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeMessageStore) GetByID(_ context.Context, id int64) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, msg := range f.messages {
		if msg.ID == id {
			copied := *msg
			return &copied, nil
		}
	}
	return nil, domain.ErrMessageNotFound
}

func (f *fakeMessageStore) GetByProviderSID(_ context.Context, sid string) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, msg := range f.messages {
		if msg.ProviderSID != nil && *msg.ProviderSID == sid {
			copied := *msg
			return &copied, nil
		}
	}
	return nil, domain.ErrMessageNotFound
}

func (f *fakeMessageStore) SetProviderSID(_ context.Context, id int64, sid string, status domain.DeliveryStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, msg := range f.messages {
		if msg.ID == id {
			msg.ProviderSID = &sid
			msg.DeliveryStatus = status
			return nil
		}
	}
	return domain.ErrMessageNotFound
}

func (f *fakeMessageStore) UpdateStatus(_ context.Context, id int64, status domain.DeliveryStatus, errorCode *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.statusUpdates = append(f.statusUpdates, statusUpdateCall{id: id, status: status, errorCode: errorCode})
	for _, msg := range f.messages {
		if msg.ID == id {
			msg.DeliveryStatus = status
			msg.ErrorCode = errorCode
			return nil
		}
	}
	return domain.ErrMessageNotFound
}

func (f *fakeMessageStore) ListByConversation(_ context.Context, conversationID int64, limit, offset int) ([]domain.Message, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var all []domain.Message
	for _, msg := range f.messages {
		if msg.ConversationID == conversationID {
			all = append(all, *msg)
		}
	}

	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (f *fakeMessageStore) GetStats(_ context.Context) (int64, int64, int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statsPending, 0, f.statsFailed, 0, nil
}

// fakeCache records dedupe and invalidation calls.
type fakeCache struct {
	mu           sync.Mutex
	seen         map[string]bool
	cached       map[string]*domain.Conversation
	invalidated  []string
	seenCheckErr error
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		seen:   make(map[string]bool),
		cached: make(map[string]*domain.Conversation),
	}
}

func (f *fakeCache) InboundSeen(_ context.Context, sid string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.seenCheckErr != nil {
		return false, f.seenCheckErr
	}
	return f.seen[sid], nil
}

func (f *fakeCache) MarkInboundSeen(_ context.Context, sid string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.seen[sid] {
		return false, nil
	}
	f.seen[sid] = true
	return true, nil
}

func (f *fakeCache) InvalidateConversation(_ context.Context, canonical string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.invalidated = append(f.invalidated, canonical)
	delete(f.cached, canonical)
	return nil
}

func (f *fakeCache) GetCachedConversation(_ context.Context, canonical string) (*domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	conv, ok := f.cached[canonical]
	if !ok {
		return nil, nil
	}
	copied := *conv
	return &copied, nil
}

func (f *fakeCache) CacheConversation(_ context.Context, conv *domain.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	copied := *conv
	f.cached[conv.PhoneCanonical] = &copied
	return nil
}

// fakeResolver scripts identity resolution outcomes.
type fakeResolver struct {
	mu            sync.Mutex
	resolution    directory.Resolution
	resolveErr    error
	resolveCalls  []int64
	pushedLangs   map[string]string
	pushErr       error
	pushLangCalls int
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		resolution:  directory.Resolution{Outcome: directory.OutcomeNotFound},
		pushedLangs: make(map[string]string),
	}
}

func (f *fakeResolver) Resolve(_ context.Context, conversationID int64, _ string) (directory.Resolution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.resolveCalls = append(f.resolveCalls, conversationID)
	if f.resolveErr != nil {
		return directory.Resolution{Outcome: directory.OutcomeDeferred}, f.resolveErr
	}
	return f.resolution, nil
}

func (f *fakeResolver) PushLanguage(_ context.Context, tenantID, lang string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pushLangCalls++
	if f.pushErr != nil {
		return f.pushErr
	}
	f.pushedLangs[tenantID] = lang
	return nil
}

// fakeGateway scripts provider send behavior.
type fakeGateway struct {
	mu      sync.Mutex
	sid     string
	sendErr error
	sent    []sentSMS
}

type sentSMS struct {
	to   string
	body string
}

func (f *fakeGateway) SendSMS(_ context.Context, to, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sent = append(f.sent, sentSMS{to: to, body: body})
	if f.sendErr != nil {
		return "", f.sendErr
	}
	return f.sid, nil
}

func (f *fakeGateway) From() string {
	return "+15550000000"
}

// fakeEventStore records appended status events.
type fakeEventStore struct {
	mu        sync.Mutex
	events    []*domain.StatusEvent
	appendErr error
}

func (f *fakeEventStore) Append(_ context.Context, event *domain.StatusEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.appendErr != nil {
		return f.appendErr
	}
	event.ID = int64(len(f.events) + 1)
	f.events = append(f.events, event)
	return nil
}

func (f *fakeEventStore) ListByMessage(_ context.Context, messageID int64) ([]domain.StatusEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []domain.StatusEvent
	for _, event := range f.events {
		if event.MessageID == messageID {
			out = append(out, *event)
		}
	}
	return out, nil
}
