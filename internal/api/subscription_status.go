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

// SubscriptionInfo 对外返回的订阅视图
type SubscriptionInfo struct {
	OriginalTransactionID string `json:"original_transaction_id"`
	ProductID             string `json:"product_id"`
	Status                string `json:"status"`
	PurchaseDate          string `json:"purchase_date"`
	ExpiresDate           string `json:"expires_date,omitempty"`
	AutoRenewStatus       bool   `json:"auto_renew_status"`
	Environment           string `json:"environment"`
}

// GetSubscriptionStatusResponse represents subscription status response
type GetSubscriptionStatusResponse struct {
	Success       bool               `json:"success"`
	Message       string             `json:"message,omitempty"`
	HasActive     bool               `json:"has_active_subscription"`
	Subscriptions []SubscriptionInfo `json:"subscriptions,omitempty"`
}

// GetSubscriptionStatus gets subscription status for a user
// GET /api/subscription/status?user_id=xxx
func GetSubscriptionStatus(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, GetSubscriptionStatusResponse{
			Success: false,
			Message: "user_id is required",
		})
		return
	}

	subscriptions, err := database.GetUserSubscriptions(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, GetSubscriptionStatusResponse{
			Success: false,
			Message: "Failed to query subscriptions",
		})
		return
	}

	now := time.Now()
	resp := GetSubscriptionStatusResponse{Success: true}
	for _, s := range subscriptions {
		resp.Subscriptions = append(resp.Subscriptions, toSubscriptionInfo(&s))
		// 宽限期内仍保留权益
		if (s.Status == models.StatusActive || s.Status == models.StatusInGracePeriod) && s.ExpiresDate.After(now) {
			resp.HasActive = true
		}
	}

	c.JSON(http.StatusOK, resp)
}

// GetSubscriptionByTransaction gets one subscription by original transaction ID
// GET /api/subscription/by-transaction?original_transaction_id=xxx
func GetSubscriptionByTransaction(c *gin.Context) {
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

	response.SuccessJSON(c, toSubscriptionInfo(subscription))
}

func toSubscriptionInfo(s *models.Subscription) SubscriptionInfo {
	info := SubscriptionInfo{
		OriginalTransactionID: s.OriginalTransactionID,
		ProductID:             s.ProductID,
		Status:                s.Status,
		PurchaseDate:          s.PurchaseDate.Format(time.RFC3339),
		AutoRenewStatus:       s.AutoRenewStatus,
		Environment:           s.Environment,
	}
	if !s.ExpiresDate.IsZero() {
		info.ExpiresDate = s.ExpiresDate.Format(time.RFC3339)
	}
	return info
}
