package middlewares

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/relaycore/sms-conversation-service/pkg/logger"
	"github.com/relaycore/sms-conversation-service/pkg/response"
)

const (
	SignatureHeader = "X-Twilio-Signature"
)

// TwilioSignature validates the provider's webhook signature: HMAC-SHA1 over
// the full request URL followed by every POST parameter name and value in
// lexicographic key order, base64 encoded.
func TwilioSignature(authToken string) echo.MiddlewareFunc {
	// If the auth token is not configured, treat this as a server-side misconfiguration.
	if authToken == "" {
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error {
				return response.InternalServerError(
					c,
					fmt.Errorf("webhook auth token is not configured"),
				)
			}
		}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			signature := c.Request().Header.Get(SignatureHeader)
			if signature == "" {
				return response.Forbidden(c, "missing webhook signature")
			}

			params, err := c.FormParams()
			if err != nil {
				return response.BadRequestWithCode(c, "invalid_form", "failed to parse form body")
			}

			expected := computeSignature(authToken, requestURL(c), params)
			if !secureCompare(signature, expected) {
				logger.Warnf("Rejected webhook with invalid signature from %s", c.RealIP())
				return response.Forbidden(c, "invalid webhook signature")
			}

			return next(c)
		}
	}
}

func requestURL(c echo.Context) string {
	req := c.Request()

	scheme := "https"
	if proto := req.Header.Get(echo.HeaderXForwardedProto); proto != "" {
		scheme = proto
	} else if req.TLS == nil {
		scheme = "http"
	}

	return scheme + "://" + req.Host + req.RequestURI
}

func computeSignature(authToken, url string, params map[string][]string) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var builder strings.Builder
	builder.WriteString(url)
	for _, key := range keys {
		for _, value := range params[key] {
			builder.WriteString(key)
			builder.WriteString(value)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(builder.String()))

	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
