package routes

import (
	"github.com/labstack/echo/v4"
	echoSwagger "github.com/swaggo/echo-swagger"

	"github.com/relaycore/sms-conversation-service/environments"
	"github.com/relaycore/sms-conversation-service/handlers"
	"github.com/relaycore/sms-conversation-service/internal/middlewares"
)

// RegisterRoutes registers all API routes with middleware
func RegisterRoutes(
	e *echo.Echo,
	healthHandler *handlers.HealthHandler,
	webhookHandler *handlers.WebhookHandler,
	smsHandler *handlers.SMSHandler,
	conversationHandler *handlers.ConversationHandler,
	schedulerHandler *handlers.SchedulerHandler,
	cfg *environments.Config,
) {
	e.GET("/health", healthHandler.Health)
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	// Provider webhooks are authenticated by signature, not API key
	webhooks := e.Group("/webhooks/twilio", middlewares.TwilioSignature(cfg.Gateway.AuthToken))

	webhooks.POST("/sms", webhookHandler.ReceiveSMS)
	webhooks.POST("/status", webhookHandler.ReceiveStatus)

	// API v1 base group
	v1 := e.Group("/api/v1", middlewares.APIKeyAuth(cfg.Auth.APIKey))

	v1.POST("/sms/send", smsHandler.SendSMS)

	v1.GET("/conversations/:phone", conversationHandler.GetConversation)
	v1.GET("/messages/stats", conversationHandler.GetStats)
	v1.GET("/messages/:id/events", conversationHandler.GetMessageEvents)

	v1.POST("/scheduler/start", schedulerHandler.StartScheduler)
	v1.POST("/scheduler/stop", schedulerHandler.StopScheduler)
	v1.GET("/scheduler/status", schedulerHandler.GetSchedulerStatus)
}
