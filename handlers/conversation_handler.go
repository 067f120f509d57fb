package handlers

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/relaycore/sms-conversation-service/internal/domain"
	"github.com/relaycore/sms-conversation-service/internal/service"
	"github.com/relaycore/sms-conversation-service/pkg/response"
)

type ConversationHandler struct {
	service *service.ConversationService
}

func NewConversationHandler(service *service.ConversationService) *ConversationHandler {
	return &ConversationHandler{service: service}
}

// GetConversation godoc
// @Summary Get a conversation by phone number
// @Description Returns the conversation for a phone number (any written form) with a page of its messages, newest first
// @Tags conversations
// @Accept json
// @Produce json
// @Param x-api-key header string true "API key"
// @Param phone path string true "Phone number"
// @Param page query int false "Page number (default: 1)"
// @Param pageSize query int false "Page size (default: 20, max: 100)"
// @Success 200 {object} response.PaginatedResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/conversations/{phone} [get]
func (h *ConversationHandler) GetConversation(c echo.Context) error {
	phone := c.Param("phone")
	if phone == "" {
		return response.BadRequest(c, fmt.Errorf("phone number is required"))
	}

	page, pageSize, err := parsePaginationParams(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	history, err := h.service.GetByPhone(c.Request().Context(), phone, page, pageSize)
	if err != nil {
		if errors.Is(err, domain.ErrConversationNotFound) {
			return response.NotFound(c, "no conversation for this phone number")
		}
		return response.InternalServerError(c, err)
	}

	return response.Paginated(c, map[string]any{
		"conversation": history.Conversation,
		"messages":     history.Messages,
	}, page, pageSize, history.TotalCount)
}

// GetMessageEvents godoc
// @Summary Get the delivery status trail of a message
// @Description Returns a message with every provider status event recorded for it, oldest first
// @Tags conversations
// @Accept json
// @Produce json
// @Param x-api-key header string true "API key"
// @Param id path int true "Message ID"
// @Success 200 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/messages/{id}/events [get]
func (h *ConversationHandler) GetMessageEvents(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return response.BadRequest(c, fmt.Errorf("message id must be a positive integer"))
	}

	history, err := h.service.GetMessageHistory(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrMessageNotFound) {
			return response.NotFound(c, "no message with this id")
		}
		return response.InternalServerError(c, err)
	}

	return response.Ok(c, map[string]any{
		"message": history.Message,
		"events":  history.Events,
	})
}

// GetStats godoc
// @Summary Get message statistics
// @Description Returns count of messages by delivery lifecycle bucket
// @Tags conversations
// @Accept json
// @Produce json
// @Param x-api-key header string true "API key"
// @Success 200 {object} response.SuccessResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/messages/stats [get]
func (h *ConversationHandler) GetStats(c echo.Context) error {
	stats, err := h.service.GetStats(c.Request().Context())
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Ok(c, map[string]any{
		"pending":   stats.Pending,
		"delivered": stats.Delivered,
		"failed":    stats.Failed,
		"received":  stats.Received,
		"total":     stats.Pending + stats.Delivered + stats.Failed + stats.Received,
	})
}

func parsePaginationParams(c echo.Context) (int, int, error) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)

	pageStr := c.QueryParam("page")
	pageSizeStr := c.QueryParam("pageSize")

	// Page
	page := defaultPage
	if pageStr != "" {
		p, err := strconv.Atoi(pageStr)
		if err != nil || p <= 0 {
			return 0, 0, fmt.Errorf("page must be a positive integer")
		}
		page = p
	}

	// Page size
	pageSize := defaultPageSize
	if pageSizeStr != "" {
		ps, err := strconv.Atoi(pageSizeStr)
		if err != nil || ps <= 0 || ps > maxPageSize {
			return 0, 0, fmt.Errorf("pageSize must be between 1 and %d", maxPageSize)
		}

		pageSize = ps
	}

	return page, pageSize, nil
}
