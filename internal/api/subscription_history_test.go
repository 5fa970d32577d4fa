package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"subscription-hub/internal/database"
	"subscription-hub/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSubscriptionHistory(t *testing.T) {
	r := setupTestRouter(t)

	subscription := &models.Subscription{
		UserID:                "user-1",
		OriginalTransactionID: "otx-h-1",
		Status:                models.StatusActive,
		PurchaseDate:          time.Now(),
		ExpiresDate:           time.Now().Add(24 * time.Hour),
	}
	seedSubscription(t, subscription)

	require.NoError(t, database.AppendNotificationHistory(&models.NotificationHistory{
		SubscriptionID:   &subscription.ID,
		NotificationType: models.NotificationSubscribed,
		NotificationUUID: "uuid-h-1",
		Processed:        true,
	}))
	require.NoError(t, database.AppendNotificationHistory(&models.NotificationHistory{
		SubscriptionID:   &subscription.ID,
		NotificationType: models.NotificationDidRenew,
		NotificationUUID: "uuid-h-2",
		Processed:        false,
		ProcessingError:  "stale notification",
	}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/api/subscription/history?original_transaction_id=otx-h-1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			OriginalTransactionID string                    `json:"original_transaction_id"`
			History               []NotificationHistoryInfo `json:"history"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "otx-h-1", resp.Data.OriginalTransactionID)
	require.Len(t, resp.Data.History, 2)

	types := []string{resp.Data.History[0].NotificationType, resp.Data.History[1].NotificationType}
	assert.Contains(t, types, models.NotificationSubscribed)
	assert.Contains(t, types, models.NotificationDidRenew)
}

func TestGetSubscriptionHistoryNotFound(t *testing.T) {
	r := setupTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/api/subscription/history?original_transaction_id=otx-nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/subscription/history", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
