package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/relaycore/sms-conversation-service/internal/service"
	"github.com/relaycore/sms-conversation-service/pkg/logger"
	"github.com/relaycore/sms-conversation-service/pkg/response"
)

// WebhookHandler receives provider callbacks. Both endpoints always answer
// 200 for well-formed requests: a webhook retry storm against a failing
// endpoint only duplicates work that the SID dedupe already absorbs.
type WebhookHandler struct {
	inbound *service.InboundService
	status  *service.StatusService
}

func NewWebhookHandler(inbound *service.InboundService, status *service.StatusService) *WebhookHandler {
	return &WebhookHandler{inbound: inbound, status: status}
}

// ReceiveSMS godoc
// @Summary Receive an inbound SMS webhook
// @Description Accepts a provider inbound-message callback and threads it into a conversation
// @Tags webhooks
// @Accept x-www-form-urlencoded
// @Produce json
// @Param X-Twilio-Signature header string true "Webhook signature"
// @Param MessageSid formData string true "Provider message SID"
// @Param From formData string true "Sender phone number"
// @Param To formData string false "Receiving phone number"
// @Param Body formData string false "Message text"
// @Success 200 {object} response.SuccessResponse
// @Failure 403 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /webhooks/twilio/sms [post]
func (h *WebhookHandler) ReceiveSMS(c echo.Context) error {
	params, err := c.FormParams()
	if err != nil {
		return response.BadRequestWithCode(c, "invalid_form", "failed to parse form body")
	}

	rawPayload, err := json.Marshal(flattenForm(params))
	if err != nil {
		rawPayload = nil
	}

	result, err := h.inbound.HandleInbound(c.Request().Context(), service.InboundSMS{
		ProviderSID: c.FormValue("MessageSid"),
		From:        c.FormValue("From"),
		To:          c.FormValue("To"),
		Body:        c.FormValue("Body"),
		RawPayload:  rawPayload,
	})
	if err != nil {
		logger.Errorf("Inbound webhook processing failed: %v", err)
		return response.InternalServerError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success":        true,
		"duplicate":      result.Duplicate,
		"dropped":        result.Dropped,
		"conversationId": result.ConversationID,
	})
}

// ReceiveStatus godoc
// @Summary Receive a delivery status webhook
// @Description Accepts a provider delivery-status callback for a previously sent message
// @Tags webhooks
// @Accept x-www-form-urlencoded
// @Produce json
// @Param X-Twilio-Signature header string true "Webhook signature"
// @Param MessageSid formData string true "Provider message SID"
// @Param MessageStatus formData string true "Delivery status"
// @Param ErrorCode formData string false "Provider error code"
// @Success 200 {object} response.SuccessResponse
// @Failure 403 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /webhooks/twilio/status [post]
func (h *WebhookHandler) ReceiveStatus(c echo.Context) error {
	params, err := c.FormParams()
	if err != nil {
		return response.BadRequestWithCode(c, "invalid_form", "failed to parse form body")
	}

	rawPayload, err := json.Marshal(flattenForm(params))
	if err != nil {
		rawPayload = nil
	}

	result, err := h.status.ProcessStatus(c.Request().Context(), service.StatusUpdate{
		ProviderSID: c.FormValue("MessageSid"),
		Status:      c.FormValue("MessageStatus"),
		ErrorCode:   c.FormValue("ErrorCode"),
		RawPayload:  rawPayload,
	})
	if err != nil {
		logger.Errorf("Status webhook processing failed: %v", err)
		return response.InternalServerError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success":   true,
		"applied":   result.Applied,
		"duplicate": result.Duplicate,
		"dropped":   result.Dropped,
	})
}

// flattenForm keeps the first value per key, which is all the provider sends.
func flattenForm(params map[string][]string) map[string]string {
	flat := make(map[string]string, len(params))
	for key, values := range params {
		if len(values) > 0 {
			flat[key] = values[0]
		}
	}
	return flat
}
