package api

import (
	"errors"
	"net/http"
	"time"

	"subscription-hub/internal/database"
	"subscription-hub/internal/models"
	"subscription-hub/internal/response"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// NotificationHistoryInfo 对外返回的通知审计视图
type NotificationHistoryInfo struct {
	NotificationType string `json:"notification_type"`
	Subtype          string `json:"subtype,omitempty"`
	NotificationUUID string `json:"notification_uuid,omitempty"`
	Processed        bool   `json:"processed"`
	ProcessingError  string `json:"processing_error,omitempty"`
	ReceivedAt       string `json:"received_at"` // ISO 8601
}

// GetSubscriptionHistory lists the notification audit trail of one subscription
// GET /api/subscription/history?original_transaction_id=xxx
func GetSubscriptionHistory(c *gin.Context) {
	originalTransactionID := c.Query("original_transaction_id")
	if originalTransactionID == "" {
		response.ErrorJSON(c, http.StatusBadRequest, "original_transaction_id is required")
		return
	}

	subscription, err := database.GetSubscriptionByOriginalTransactionID(originalTransactionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.ErrorJSON(c, http.StatusNotFound, "Subscription not found")
			return
		}
		response.ErrorJSON(c, http.StatusInternalServerError, "Failed to query subscription")
		return
	}

	history, err := database.GetNotificationHistory(subscription.ID)
	if err != nil {
		response.ErrorJSON(c, http.StatusInternalServerError, "Failed to query notification history")
		return
	}

	infos := make([]NotificationHistoryInfo, 0, len(history))
	for _, h := range history {
		infos = append(infos, toNotificationHistoryInfo(&h))
	}

	response.SuccessJSON(c, gin.H{
		"original_transaction_id": originalTransactionID,
		"history":                 infos,
	})
}

func toNotificationHistoryInfo(h *models.NotificationHistory) NotificationHistoryInfo {
	return NotificationHistoryInfo{
		NotificationType: h.NotificationType,
		Subtype:          h.Subtype,
		NotificationUUID: h.NotificationUUID,
		Processed:        h.Processed,
		ProcessingError:  h.ProcessingError,
		ReceivedAt:       h.CreatedAt.Format(time.RFC3339),
	}
}
