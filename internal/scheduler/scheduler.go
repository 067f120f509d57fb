package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/relaycore/sms-conversation-service/environments"
	"github.com/relaycore/sms-conversation-service/internal/domain"
	"github.com/relaycore/sms-conversation-service/pkg/directory"
	"github.com/relaycore/sms-conversation-service/pkg/logger"
)

// conversationLister is a minimal internal interface for the scheduler.
// It matches ConversationRepository and lets us unit test the scheduler
// with a small fake implementation.
type conversationLister interface {
	ListUnidentified(ctx context.Context, limit int) ([]domain.Conversation, error)
}

type stuckCounter interface {
	CountStuckPending(ctx context.Context, olderThan time.Duration) (int64, error)
}

type identityResolver interface {
	Resolve(ctx context.Context, conversationID int64, rawPhone string) (directory.Resolution, error)
}

// alertCooldown is the minimum gap between two alert webhook deliveries, so
// a long-lived backlog does not page every interval.
const alertCooldown = time.Hour

// Scheduler periodically retries tenant resolution for conversations whose
// directory lookups were deferred, and watches for outbound messages stuck in
// pending. The alert webhook fires once stuck messages have been seen for
// alertThreshold consecutive runs, at most once per cooldown window.
type Scheduler struct {
	conversations   conversationLister
	messages        stuckCounter
	resolver        identityResolver
	interval        time.Duration
	batchSize       int
	stuckPendingAge time.Duration
	alertWebhook    string
	alertThreshold  int
	lastAlertSentAt time.Time

	// Internal state
	running  bool
	stopChan chan struct{}
	doneChan chan struct{}
	mu       sync.RWMutex

	// Statistics
	lastRunAt        time.Time
	tenantsLinked    int64
	runsCount        int64
	lastStuckCount   int64
	consecutiveStuck int
}

func NewScheduler(conversations conversationLister, messages stuckCounter, resolver identityResolver, cfg environments.ReconcileConfig) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	return &Scheduler{
		conversations:   conversations,
		messages:        messages,
		resolver:        resolver,
		interval:        interval,
		batchSize:       batchSize,
		stuckPendingAge: cfg.StuckPendingAge,
		alertWebhook:    cfg.AlertWebhookURL,
		alertThreshold:  cfg.AlertThreshold,
		running:         false,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()

	if s.running {
		s.mu.Unlock()
		logger.Warnf("Scheduler is already running")
		return nil
	}

	s.running = true
	s.stopChan = make(chan struct{})
	s.doneChan = make(chan struct{})
	s.mu.Unlock()

	logger.Infof("Starting reconciliation scheduler with interval: %v", s.interval)

	go s.run(ctx)

	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneChan)

	s.reconcile(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger.Infof("Scheduler running. Next execution in %v", s.interval)

	for {
		select {
		case <-ticker.C:
			s.reconcile(ctx)
			logger.Debugf("Next execution in %v", s.interval)

		case <-s.stopChan:
			logger.Warnf("Scheduler received stop signal")
			return

		case <-ctx.Done():
			logger.Warnf("Scheduler context cancelled")
			return
		}
	}
}

func (s *Scheduler) reconcile(ctx context.Context) {
	s.mu.Lock()
	s.lastRunAt = time.Now()
	s.runsCount++
	runNumber := s.runsCount
	batchSize := s.batchSize
	stuckPendingAge := s.stuckPendingAge
	alertWebhook := s.alertWebhook
	alertThreshold := s.alertThreshold
	s.mu.Unlock()

	logger.Infof("[Run #%d] Starting reconciliation at %s", runNumber, s.lastRunAt.Format(time.RFC3339))

	conversations, err := s.conversations.ListUnidentified(ctx, batchSize)
	if err != nil {
		logger.Errorf("[Run #%d] Error listing unidentified conversations: %v", runNumber, err)
		return
	}

	matched := 0
	deferred := 0
	for _, conv := range conversations {
		rawPhone := conv.PhoneCanonical
		if conv.PhoneOriginal != nil && *conv.PhoneOriginal != "" {
			rawPhone = *conv.PhoneOriginal
		}

		resolution, err := s.resolver.Resolve(ctx, conv.ID, rawPhone)
		if err != nil {
			logger.Warnf("[Run #%d] Resolution failed for conversation %d: %v", runNumber, conv.ID, err)
			continue
		}

		switch resolution.Outcome {
		case directory.OutcomeMatched:
			matched++
		case directory.OutcomeDeferred:
			deferred++
		}
	}

	s.mu.Lock()
	s.tenantsLinked += int64(matched)
	s.mu.Unlock()

	logger.Infof("[Run #%d] Reconciled %d conversations: %d linked, %d still deferred",
		runNumber, len(conversations), matched, deferred)

	if stuckPendingAge <= 0 {
		return
	}

	stuck, err := s.messages.CountStuckPending(ctx, stuckPendingAge)
	if err != nil {
		logger.Errorf("[Run #%d] Error counting stuck pending messages: %v", runNumber, err)
		return
	}

	s.mu.Lock()
	s.lastStuckCount = stuck
	if stuck > 0 {
		s.consecutiveStuck++
	} else if s.consecutiveStuck > 0 {
		logger.Infof("[Run #%d] Stuck pending backlog cleared (was stuck for %d consecutive runs)", runNumber, s.consecutiveStuck)
		s.consecutiveStuck = 0
	}
	consecutive := s.consecutiveStuck
	lastAlertAt := s.lastAlertSentAt
	s.mu.Unlock()

	if stuck > 0 {
		logger.Warnf("[Run #%d] %d outbound messages stuck in pending for over %v (consecutive runs: %d/%d)",
			runNumber, stuck, stuckPendingAge, consecutive, alertThreshold)
	}

	if alertThreshold > 0 && alertWebhook != "" && consecutive >= alertThreshold &&
		time.Since(lastAlertAt) >= alertCooldown {
		go s.sendAlert(alertWebhook, runNumber, stuck, consecutive, stuckPendingAge)
	}
}

func (s *Scheduler) Stop() error {
	s.mu.Lock()

	if !s.running {
		s.mu.Unlock()
		logger.Warnf("Scheduler is not running")
		return nil
	}

	s.running = false
	stopChan := s.stopChan
	doneChan := s.doneChan
	s.mu.Unlock()

	// Send stop signal
	close(stopChan)

	// Wait for goroutine to finish
	<-doneChan

	logger.Infof("Scheduler stopped")
	return nil
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) GetStatus() SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := SchedulerStatus{
		Running:              s.running,
		LastRunAt:            s.lastRunAt,
		TenantsLinked:        s.tenantsLinked,
		RunsCount:            s.runsCount,
		Interval:             s.interval,
		StuckPending:         s.lastStuckCount,
		ConsecutiveStuckRuns: s.consecutiveStuck,
		LastAlertSentAt:      s.lastAlertSentAt,
	}

	if s.running && !s.lastRunAt.IsZero() {
		status.NextRunAt = s.lastRunAt.Add(s.interval)
	}

	return status
}

func (s *Scheduler) sendAlert(webhookURL string, runNumber, stuckCount int64, consecutiveRuns int, age time.Duration) {
	alertPayload := map[string]any{
		"alert":           "stuck_pending_messages",
		"runNumber":       runNumber,
		"stuckCount":      stuckCount,
		"consecutiveRuns": consecutiveRuns,
		"olderThan":       age.String(),
		"timestamp":       time.Now().Format(time.RFC3339),
		"message":         fmt.Sprintf("%d outbound messages pending for over %v across %d consecutive runs", stuckCount, age, consecutiveRuns),
	}

	jsonData, err := json.Marshal(alertPayload)
	if err != nil {
		logger.Errorf("Failed to marshal alert payload: %v", err)
		return
	}

	resp, err := http.Post(webhookURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		logger.Errorf("Failed to send alert to webhook: %v", err)
		return
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Warnf("Failed to close alert webhook response body: %v", err)
		}
	}()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent {
		s.mu.Lock()
		s.lastAlertSentAt = time.Now()
		s.mu.Unlock()
		logger.Infof("Alert sent successfully to %s (stuck pending: %d)", webhookURL, stuckCount)
	} else {
		logger.Warnf("Alert webhook returned status %d", resp.StatusCode)
	}
}

type SchedulerStatus struct {
	Running              bool          `json:"running"`
	LastRunAt            time.Time     `json:"lastRunAt,omitempty"`
	NextRunAt            time.Time     `json:"nextRunAt,omitempty"`
	TenantsLinked        int64         `json:"tenantsLinked"`
	RunsCount            int64         `json:"runsCount"`
	Interval             time.Duration `json:"interval"`
	StuckPending         int64         `json:"stuckPending"`
	ConsecutiveStuckRuns int           `json:"consecutiveStuckRuns"`
	LastAlertSentAt      time.Time     `json:"lastAlertSentAt,omitempty"`
}
