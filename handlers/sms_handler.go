package handlers

import (
	"errors"

	"github.com/labstack/echo/v4"

	"github.com/relaycore/sms-conversation-service/internal/domain"
	"github.com/relaycore/sms-conversation-service/internal/service"
	"github.com/relaycore/sms-conversation-service/pkg/response"
	"github.com/relaycore/sms-conversation-service/pkg/validator"
)

type SMSHandler struct {
	outbound *service.OutboundService
}

func NewSMSHandler(outbound *service.OutboundService) *SMSHandler {
	return &SMSHandler{outbound: outbound}
}

type SendSMSRequest struct {
	To          string `json:"to" validate:"required,phone"`
	Body        string `json:"body" validate:"required,max=1600"`
	WorkflowTag string `json:"workflowTag,omitempty" validate:"omitempty,max=64"`
}

// SendSMS godoc
// @Summary Send an outbound SMS
// @Description Queues an SMS through the provider gateway and threads it into the destination's conversation
// @Tags sms
// @Accept json
// @Produce json
// @Param x-api-key header string true "API key"
// @Param request body SendSMSRequest true "Message to send"
// @Success 202 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 422 {object} response.ErrorResponse
// @Failure 502 {object} response.ErrorResponse
// @Router /api/v1/sms/send [post]
func (h *SMSHandler) SendSMS(c echo.Context) error {
	var req SendSMSRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	result, err := h.outbound.Send(c.Request().Context(), service.SendRequest{
		To:          req.To,
		Body:        req.Body,
		WorkflowTag: req.WorkflowTag,
	})
	if err != nil {
		var vErr *domain.ValidationError
		if errors.As(err, &vErr) {
			return response.UnprocessableEntity(c, vErr)
		}

		var extErr *domain.ExternalError
		if errors.As(err, &extErr) {
			return response.BadGateway(c, extErr.Code, "message could not be handed to the SMS gateway")
		}

		return response.InternalServerError(c, err)
	}

	return response.Accepted(c, "Message queued for delivery", map[string]any{
		"messageId":      result.MessageID,
		"conversationId": result.ConversationID,
		"trackingId":     result.TrackingID,
		"providerSid":    result.ProviderSID,
		"status":         result.Status,
	})
}
