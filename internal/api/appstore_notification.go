package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"subscription-hub/internal/models"
	"subscription-hub/internal/response"
	"subscription-hub/internal/services"
	"subscription-hub/pkg/logging"

	"github.com/gin-gonic/gin"
)

// processAppStoreNotification processes one App Store server notification.
//
// Apple 的投递契约：非 200 响应会触发发送端重试。无法验证的载荷重投多少次
// 也不会成功，所以这里无论内部处理结果如何都返回 200，失败只记日志和审计
func processAppStoreNotification(environment string, c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		logging.Errorf("Failed to read request body: %v", err)
		c.JSON(http.StatusOK, response.AcknowledgeFailure("Failed to read request body"))
		return
	}

	token := extractSignedToken(body)
	if token == "" {
		logging.Errorf("No signed payload in request - environment: %s, body length: %d", environment, len(body))
		c.JSON(http.StatusOK, response.AcknowledgeFailure("signedPayload is missing"))
		return
	}

	payload, err := jwsVerifier.Verify(token)
	if err != nil {
		logging.Errorf("JWS verification failed - environment: %s, error: %v", environment, err)
		// 尽量留一条审计记录：载荷段还能解出来就记下来
		if partial, decodeErr := services.DecodeTokenPayload(token); decodeErr == nil {
			record := payloadExtractor.Extract(partial)
			notificationProcessor.RecordUnverified(token, record, err)
		}
		c.JSON(http.StatusOK, response.AcknowledgeFailure("Signature verification failed"))
		return
	}

	record := payloadExtractor.Extract(payload)

	// Handle heartbeat
	if record.NotificationType == "" && record.SignedTransactionInfo == nil && record.SignedRenewalInfo == nil {
		logging.Infof("AppStore heartbeat - environment: %s", environment)
		c.JSON(http.StatusOK, response.AcknowledgeHeartbeat())
		return
	}

	if record.Environment == "" {
		record.Environment = environment
	}

	logging.Infof("Parsed notification - type: %s, subtype: %s, environment: %s, uuid: %s",
		record.NotificationType, record.Subtype, record.Environment, record.NotificationUUID)

	result := notificationProcessor.Process(token, record)

	c.JSON(http.StatusOK, response.Acknowledge(gin.H{
		"subscription_id": result.SubscriptionID,
		"created":         result.Created,
		"processed":       result.Processed,
	}))
}

// extractSignedToken pulls the signed token out of the request body.
// Apple wraps it as {"signedPayload": "..."}; some deliveries carry the
// bare token as the entire body
func extractSignedToken(body []byte) string {
	if len(body) == 0 {
		return ""
	}

	var wrapper models.NotificationWrapper
	if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.SignedPayload != "" {
		return wrapper.SignedPayload
	}

	return strings.TrimSpace(string(body))
}

// AppStoreProductionNotificationHandler handles production environment notifications
// POST /api/appstore/notifications/production
func AppStoreProductionNotificationHandler(c *gin.Context) {
	processAppStoreNotification("Production", c)
}

// AppStoreSandboxNotificationHandler handles sandbox environment notifications
// POST /api/appstore/notifications/sandbox
func AppStoreSandboxNotificationHandler(c *gin.Context) {
	processAppStoreNotification("Sandbox", c)
}
