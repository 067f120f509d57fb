// Package twilio is a minimal Twilio Messages API send client. It is
// intentionally lightweight so tests can point it at an httptest server
// instead of pulling in the full SDK.
package twilio

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/relaycore/sms-conversation-service/environments"
	"github.com/relaycore/sms-conversation-service/internal/domain"
	"github.com/relaycore/sms-conversation-service/pkg/logger"
)

type Client struct {
	httpClient *resty.Client
	cfg        environments.GatewayConfig
}

func NewClient(cfg environments.GatewayConfig) *Client {
	retries := cfg.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetBasicAuth(cfg.AccountSID, cfg.AuthToken).
		SetRetryCount(retries).
		SetRetryWaitTime(cfg.BackoffBase).
		SetRetryMaxWaitTime(cfg.BackoffCap).
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		})

	return &Client{
		httpClient: client,
		cfg:        cfg,
	}
}

type sendResponse struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	ErrorCode    *int   `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// SendSMS submits one message and returns the provider-assigned message SID.
// Transient failures (network, 429, 5xx) are retried up to the configured
// attempt cap before surfacing as a transient ExternalError; other 4xx are
// permanent.
func (c *Client) SendSMS(ctx context.Context, to, body string) (string, error) {
	if c.cfg.AccountSID == "" || c.cfg.AuthToken == "" || c.cfg.FromNumber == "" {
		return "", &domain.ExternalError{
			Service:   "twilio",
			Code:      "not_configured",
			Transient: false,
		}
	}

	var out sendResponse

	startTime := time.Now()

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"To":   to,
			"From": c.cfg.FromNumber,
			"Body": body,
		}).
		SetResult(&out).
		Post(fmt.Sprintf("/2010-04-01/Accounts/%s/Messages.json", c.cfg.AccountSID))

	duration := time.Since(startTime)

	if err != nil {
		return "", &domain.ExternalError{
			Service:   "twilio",
			Code:      "network_error",
			Transient: true,
			Err:       err,
		}
	}

	logger.Infof("Gateway send to %s completed in %v (status: %d)", to, duration, resp.StatusCode())

	switch {
	case resp.StatusCode() == http.StatusOK || resp.StatusCode() == http.StatusCreated:
		if out.SID == "" {
			return "", &domain.ExternalError{
				Service:    "twilio",
				Code:       "missing_sid",
				StatusCode: resp.StatusCode(),
				Transient:  true,
			}
		}
		return out.SID, nil

	case resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500:
		// Retries already exhausted by the resty retry policy.
		return "", &domain.ExternalError{
			Service:    "twilio",
			Code:       "send_failed",
			StatusCode: resp.StatusCode(),
			Transient:  true,
		}

	default:
		return "", &domain.ExternalError{
			Service:    "twilio",
			Code:       "send_rejected",
			StatusCode: resp.StatusCode(),
			Transient:  false,
		}
	}
}

func (c *Client) From() string {
	return c.cfg.FromNumber
}
