package directory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/relaycore/sms-conversation-service/environments"
)

func testConfig(url string) environments.DirectoryConfig {
	return environments.DirectoryConfig{
		BaseURL:     url,
		Timeout:     time.Second,
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		BackoffCap:  5 * time.Millisecond,
	}
}

func TestLookup_MatchOnLaterVariant(t *testing.T) {
	var queried []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		phone := r.URL.Query().Get("phone")
		queried = append(queried, phone)

		if phone == "+15551234567" {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{"tenantId": "tenant-42"})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))

	res, err := client.Lookup(context.Background(), []string{"(555) 123-4567", "+15551234567", "5551234567"})
	if err != nil {
		t.Fatalf("Lookup returned error: %v", err)
	}

	if res.Outcome != OutcomeMatched {
		t.Fatalf("expected matched, got %s", res.Outcome)
	}
	if res.TenantID != "tenant-42" {
		t.Fatalf("expected tenant-42, got %q", res.TenantID)
	}
	if len(queried) != 2 {
		t.Fatalf("expected lookup to stop at the matching variant, queried %v", queried)
	}
}

func TestLookup_NotFoundOnlyAfterFullSweep(t *testing.T) {
	var queried []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queried = append(queried, r.URL.Query().Get("phone"))
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))

	variants := []string{"raw", "+15551234567", "5551234567"}
	res, err := client.Lookup(context.Background(), variants)
	if err != nil {
		t.Fatalf("Lookup returned error: %v", err)
	}

	if res.Outcome != OutcomeNotFound {
		t.Fatalf("expected not_found, got %s", res.Outcome)
	}
	if len(queried) != len(variants) {
		t.Fatalf("expected all %d variants tried, got %d: %v", len(variants), len(queried), queried)
	}
}

func TestLookup_DeferredAfterBoundedAttempts(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))

	res, err := client.Lookup(context.Background(), []string{"+15551234567"})
	if err != nil {
		t.Fatalf("Lookup returned error: %v", err)
	}

	if res.Outcome != OutcomeDeferred {
		t.Fatalf("expected deferred, got %s", res.Outcome)
	}
	// One variant, three attempts, each aborted on the first 500.
	if got := atomic.LoadInt64(&calls); got != 3 {
		t.Fatalf("expected exactly 3 directory calls, got %d", got)
	}
}

func TestLookup_TransientFailureRetriesWholeSweep(t *testing.T) {
	var attempt int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// First sweep dies on the second variant; second sweep matches on it.
		phone := r.URL.Query().Get("phone")
		if phone != "+15551234567" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if atomic.AddInt64(&attempt, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"tenantId": "tenant-7"})
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))

	res, err := client.Lookup(context.Background(), []string{"raw", "+15551234567"})
	if err != nil {
		t.Fatalf("Lookup returned error: %v", err)
	}

	if res.Outcome != OutcomeMatched || res.TenantID != "tenant-7" {
		t.Fatalf("expected matched tenant-7 after retry, got %+v", res)
	}
}

func TestLookup_UnconfiguredIsDeferred(t *testing.T) {
	client := NewClient(environments.DirectoryConfig{})

	res, err := client.Lookup(context.Background(), []string{"+15551234567"})
	if err != nil {
		t.Fatalf("Lookup returned error: %v", err)
	}
	if res.Outcome != OutcomeDeferred {
		t.Fatalf("expected deferred for unconfigured client, got %s", res.Outcome)
	}
}

func TestUpdateLanguage_NotFoundIsNoop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))

	if err := client.UpdateLanguage(context.Background(), "tenant-42", "es"); err != nil {
		t.Fatalf("expected 404 to be a no-op, got %v", err)
	}
}

func TestUpdateLanguage_SkipsUnknownLanguage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request for unknown language")
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))

	if err := client.UpdateLanguage(context.Background(), "tenant-42", "unknown"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}
