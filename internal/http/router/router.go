package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ignatzorin/escrow-backend/internal/config"
	"github.com/ignatzorin/escrow-backend/internal/http/handlers"
	"github.com/ignatzorin/escrow-backend/internal/http/middleware"
	"github.com/ignatzorin/escrow-backend/internal/service"
)

func SetupRouter(
	cfg *config.Config,
	transactionHandler *handlers.TransactionHandler,
	disputeHandler *handlers.DisputeHandler,
	notificationHandler *handlers.NotificationHandler,
	feeHandler *handlers.FeeHandler,
	wsHandler *handlers.WSHandler,
	healthHandler *handlers.HealthHandler,
	tokenManager *service.TokenManager,
) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", healthHandler.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.Use(middleware.RateLimitMiddleware(cfg.RateLimitLimit, cfg.RateLimitPeriod))

	// Публичные маршруты
	api.GET("/ws", wsHandler.Handle)
	api.GET("/transactions/invite/:code", transactionHandler.LookupInvitation)

	// Защищённые маршруты
	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(tokenManager))
	{
		protected.POST("/transactions", transactionHandler.CreateTransaction)
		protected.GET("/transactions", transactionHandler.ListTransactions)
		protected.POST("/transactions/join", transactionHandler.JoinTransaction)
		protected.GET("/transactions/:id", middleware.UUIDValidator("id"), transactionHandler.GetTransaction)
		protected.PUT("/transactions/:id/delivery-details", middleware.UUIDValidator("id"), transactionHandler.SubmitDeliveryDetails)
		protected.PUT("/transactions/:id/confirm-payment", middleware.UUIDValidator("id"), transactionHandler.ConfirmPayment)
		protected.PUT("/transactions/:id/shipping-details", middleware.UUIDValidator("id"), transactionHandler.SubmitShippingDetails)
		protected.PUT("/transactions/:id/confirm-receipt", middleware.UUIDValidator("id"), transactionHandler.ConfirmReceipt)
		protected.PUT("/transactions/:id/cancel", middleware.UUIDValidator("id"), transactionHandler.CancelTransaction)

		protected.POST("/fees/calculate", feeHandler.CalculateFee)

		protected.POST("/disputes", disputeHandler.CreateDispute)
		protected.GET("/disputes", disputeHandler.ListMyDisputes)
		protected.GET("/disputes/:id", middleware.UUIDValidator("id"), disputeHandler.GetDispute)
		protected.POST("/disputes/:id/evidence", middleware.UUIDValidator("id"), disputeHandler.AddEvidence)
		protected.GET("/disputes/:id/evidence", middleware.UUIDValidator("id"), disputeHandler.ListEvidence)
		protected.POST("/disputes/:id/messages", middleware.UUIDValidator("id"), disputeHandler.AddMessage)
		protected.GET("/disputes/:id/messages", middleware.UUIDValidator("id"), disputeHandler.ListMessages)
		protected.PUT("/disputes/:id/messages/read", middleware.UUIDValidator("id"), disputeHandler.MarkMessagesRead)
		protected.POST("/disputes/:id/resolutions", middleware.UUIDValidator("id"), disputeHandler.ProposeResolution)
		protected.GET("/disputes/:id/resolutions", middleware.UUIDValidator("id"), disputeHandler.ListResolutions)
		protected.PUT("/disputes/:id/review", middleware.UUIDValidator("id"), disputeHandler.MarkInReview)
		protected.PUT("/disputes/:id/close", middleware.UUIDValidator("id"), disputeHandler.CloseDispute)
		protected.POST("/disputes/resolutions/:id/accept", middleware.UUIDValidator("id"), disputeHandler.AcceptResolution)
		protected.POST("/disputes/resolutions/:id/reject", middleware.UUIDValidator("id"), disputeHandler.RejectResolution)

		protected.GET("/notifications", notificationHandler.ListNotifications)
		protected.GET("/notifications/unread-count", notificationHandler.UnreadCount)
		protected.PUT("/notifications/read-all", notificationHandler.MarkAllAsRead)
		protected.PUT("/notifications/:id/read", middleware.UUIDValidator("id"), notificationHandler.MarkAsRead)

		protected.GET("/activity", notificationHandler.ListActivity)
	}

	return r
}
