// Package directory is the client for the tenant identity directory.
// Lookups resolve phone-number variants to tenant IDs with a three-valued
// outcome: matched, not-found, or deferred when the directory could not give
// a definitive answer within the attempt budget.
package directory

import (
	"context"
	"math/rand"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/relaycore/sms-conversation-service/environments"
	"github.com/relaycore/sms-conversation-service/internal/domain"
	"github.com/relaycore/sms-conversation-service/pkg/logger"
)

type Outcome string

const (
	// OutcomeMatched means one variant resolved to a tenant.
	OutcomeMatched Outcome = "matched"
	// OutcomeNotFound is a definitive negative: every variant was tried and
	// the directory answered "no match" for each.
	OutcomeNotFound Outcome = "not_found"
	// OutcomeDeferred means transient failures exhausted the attempt budget.
	// The caller must treat the number as still-unresolved, not unmatched.
	OutcomeDeferred Outcome = "deferred"
)

type Resolution struct {
	Outcome  Outcome
	TenantID string
}

type Client struct {
	httpClient *resty.Client
	cfg        environments.DirectoryConfig
}

func NewClient(cfg environments.DirectoryConfig) *Client {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")

	return &Client{
		httpClient: client,
		cfg:        cfg,
	}
}

type lookupResponse struct {
	TenantID string `json:"tenantId"`
}

// Lookup sweeps the given variants in order and returns the first match.
// One attempt is a full sweep; a transient directory failure aborts the sweep
// and the whole sweep is retried with exponential backoff and full jitter, so
// a "not found" is only ever concluded from a complete pass over all variants.
func (c *Client) Lookup(ctx context.Context, variants []string) (Resolution, error) {
	if c.cfg.BaseURL == "" || len(variants) == 0 {
		return Resolution{Outcome: OutcomeDeferred}, nil
	}

	maxAttempts := c.cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; ; attempt++ {
		res, err := c.sweep(ctx, variants)
		if err == nil {
			return res, nil
		}

		if attempt >= maxAttempts {
			logger.Warnf("Directory lookup deferred after %d attempts: %v", attempt, err)
			return Resolution{Outcome: OutcomeDeferred}, nil
		}

		wait := c.backoff(attempt)
		logger.Debugf("Directory lookup attempt %d failed, retrying in %v: %v", attempt, wait, err)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return Resolution{Outcome: OutcomeDeferred}, nil
		}
	}
}

func (c *Client) sweep(ctx context.Context, variants []string) (Resolution, error) {
	for _, variant := range variants {
		if variant == "" {
			continue
		}

		var out lookupResponse
		resp, err := c.httpClient.R().
			SetContext(ctx).
			SetQueryParam("phone", variant).
			SetResult(&out).
			Get("/tenants/lookup")
		if err != nil {
			return Resolution{}, &domain.ExternalError{
				Service:   "directory",
				Code:      "network_error",
				Transient: true,
				Err:       err,
			}
		}

		switch {
		case resp.StatusCode() == http.StatusOK && out.TenantID != "":
			return Resolution{Outcome: OutcomeMatched, TenantID: out.TenantID}, nil
		case resp.StatusCode() == http.StatusOK,
			resp.StatusCode() == http.StatusNoContent,
			resp.StatusCode() == http.StatusNotFound:
			// Definitive miss for this variant; keep sweeping.
		default:
			return Resolution{}, &domain.ExternalError{
				Service:    "directory",
				Code:       "lookup_failed",
				StatusCode: resp.StatusCode(),
				Transient:  true,
			}
		}
	}

	return Resolution{Outcome: OutcomeNotFound}, nil
}

// UpdateLanguage propagates a detected conversation language to the tenant
// profile. 404 is a no-op (tenant profile may lag behind the directory);
// transient failures are retried on the same budget as lookups.
func (c *Client) UpdateLanguage(ctx context.Context, tenantID, lang string) error {
	if c.cfg.BaseURL == "" || tenantID == "" || lang == "" || lang == domain.LanguageUnknown {
		return nil
	}

	maxAttempts := c.cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := c.httpClient.R().
			SetContext(ctx).
			SetBody(map[string]string{"language": lang}).
			Put("/tenants/" + tenantID + "/language")

		if err == nil {
			switch {
			case resp.StatusCode() == http.StatusOK || resp.StatusCode() == http.StatusNoContent:
				return nil
			case resp.StatusCode() == http.StatusNotFound:
				logger.Debugf("Tenant %s has no profile yet, language update skipped", tenantID)
				return nil
			default:
				lastErr = &domain.ExternalError{
					Service:    "directory",
					Code:       "language_update_failed",
					StatusCode: resp.StatusCode(),
					Transient:  true,
				}
			}
		} else {
			lastErr = &domain.ExternalError{
				Service:   "directory",
				Code:      "network_error",
				Transient: true,
				Err:       err,
			}
		}

		if attempt >= maxAttempts {
			break
		}

		select {
		case <-time.After(c.backoff(attempt)):
		case <-ctx.Done():
			return lastErr
		}
	}

	return lastErr
}

// backoff returns a full-jitter exponential delay for the given attempt.
func (c *Client) backoff(attempt int) time.Duration {
	base := c.cfg.BackoffBase
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	cap := c.cfg.BackoffCap
	if cap <= 0 {
		cap = 2 * time.Second
	}

	delay := base << (attempt - 1)
	if delay > cap || delay <= 0 {
		delay = cap
	}

	return time.Duration(rand.Int63n(int64(delay))) + time.Millisecond
}
