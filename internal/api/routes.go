package api

import (
	"time"

	"subscription-hub/internal/config"
	"subscription-hub/internal/database"
	"subscription-hub/internal/middleware"
	"subscription-hub/internal/services"

	"github.com/gin-gonic/gin"
)

var (
	keyCache              *services.KeyCache
	jwsVerifier           *services.JWSVerifier
	payloadExtractor      *services.PayloadExtractor
	notificationProcessor *services.NotificationProcessor
)

// InitServices wires the notification pipeline. The key cache and replay
// protection are shared process-wide; everything else is stateless
func InitServices() {
	cfg := config.AppConfig

	keyCache = services.NewKeyCache(
		cfg.AppleKeysURL,
		cfg.KeyFetchMaxRetries,
		time.Duration(cfg.KeyFetchTimeoutSecs)*time.Second,
	)
	jwsVerifier = services.NewJWSVerifier(keyCache, cfg.TrustUnverifiedPayload)
	payloadExtractor = services.NewPayloadExtractor()

	replayProtection := services.NewReplayProtection(database.GetRedis())
	webhookNotifier := services.NewWebhookNotifier(cfg.WebhookCallbackURL, cfg.WebhookSecret)
	emailNotifier := services.NewEmailNotifier(cfg.BrevoAPIKey, cfg.BrevoFromEmail, cfg.BrevoFromName, cfg.AlertEmail)

	notificationProcessor = services.NewNotificationProcessor(jwsVerifier, replayProtection, webhookNotifier, emailNotifier)
}

// SetupRoutes sets up all routes
func SetupRoutes(r *gin.Engine) {
	InitServices()

	// API route group
	api := r.Group("/api")
	{
		// App Store notification routes (no authentication, Apple calls these)
		appstore := api.Group("/appstore")
		{
			appstore.POST("/notifications/production", AppStoreProductionNotificationHandler)
			appstore.POST("/notifications/sandbox", AppStoreSandboxNotificationHandler)
		}

		// Subscription query routes for the app backend
		subscription := api.Group("/subscription")
		subscription.Use(middleware.APIKeyAuthMiddleware())
		{
			subscription.GET("/status", GetSubscriptionStatus)
			subscription.GET("/by-transaction", GetSubscriptionByTransaction)
			subscription.GET("/history", GetSubscriptionHistory)
		}
	}

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "subscription-hub",
		})
	})
}
