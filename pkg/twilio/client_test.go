package twilio

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/relaycore/sms-conversation-service/environments"
	"github.com/relaycore/sms-conversation-service/internal/domain"
)

func newTestConfig(baseURL string) environments.GatewayConfig {
	return environments.GatewayConfig{
		AccountSID:  "ACtest",
		AuthToken:   "token",
		FromNumber:  "+15550000000",
		BaseURL:     baseURL,
		Timeout:     2 * time.Second,
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		BackoffCap:  5 * time.Millisecond,
	}
}

func TestSendSMS_ReturnsSID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2010-04-01/Accounts/ACtest/Messages.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if _, _, ok := r.BasicAuth(); !ok {
			t.Error("expected basic auth on gateway request")
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("failed to parse form: %v", err)
		}
		if r.PostForm.Get("To") != "+15551234567" {
			t.Errorf("unexpected To %q", r.PostForm.Get("To"))
		}
		if r.PostForm.Get("From") != "+15550000000" {
			t.Errorf("unexpected From %q", r.PostForm.Get("From"))
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM900","status":"queued"}`))
	}))
	defer server.Close()

	client := NewClient(newTestConfig(server.URL))

	sid, err := client.SendSMS(context.Background(), "+15551234567", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sid != "SM900" {
		t.Errorf("expected SID SM900, got %s", sid)
	}
}

func TestSendSMS_RetriesServerErrorsThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM901","status":"queued"}`))
	}))
	defer server.Close()

	client := NewClient(newTestConfig(server.URL))

	sid, err := client.SendSMS(context.Background(), "+15551234567", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sid != "SM901" {
		t.Errorf("expected SID SM901, got %s", sid)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestSendSMS_ExhaustedRetriesTransientError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(newTestConfig(server.URL))

	_, err := client.SendSMS(context.Background(), "+15551234567", "hello")

	var extErr *domain.ExternalError
	if !errors.As(err, &extErr) {
		t.Fatalf("expected ExternalError, got %v", err)
	}
	if !extErr.Transient || extErr.Code != "send_failed" {
		t.Errorf("expected transient send_failed, got %+v", extErr)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts (MaxAttempts), got %d", calls.Load())
	}
}

func TestSendSMS_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error_message":"invalid To number"}`))
	}))
	defer server.Close()

	client := NewClient(newTestConfig(server.URL))

	_, err := client.SendSMS(context.Background(), "bogus", "hello")

	var extErr *domain.ExternalError
	if !errors.As(err, &extErr) {
		t.Fatalf("expected ExternalError, got %v", err)
	}
	if extErr.Transient || extErr.Code != "send_rejected" {
		t.Errorf("expected permanent send_rejected, got %+v", extErr)
	}
	if calls.Load() != 1 {
		t.Errorf("4xx must not be retried, got %d attempts", calls.Load())
	}
}

func TestSendSMS_MissingCredentials(t *testing.T) {
	cfg := newTestConfig("http://localhost:0")
	cfg.AuthToken = ""
	client := NewClient(cfg)

	_, err := client.SendSMS(context.Background(), "+15551234567", "hello")

	var extErr *domain.ExternalError
	if !errors.As(err, &extErr) {
		t.Fatalf("expected ExternalError, got %v", err)
	}
	if extErr.Code != "not_configured" {
		t.Errorf("expected not_configured, got %s", extErr.Code)
	}
}
