package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"subscription-hub/internal/database"
	"subscription-hub/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedSubscription(t *testing.T, subscription *models.Subscription) {
	t.Helper()
	require.NoError(t, database.CreateSubscription(subscription))
}

func TestGetSubscriptionStatus(t *testing.T) {
	r := setupTestRouter(t)

	seedSubscription(t, &models.Subscription{
		UserID:                "user-1",
		OriginalTransactionID: "otx-s-1",
		ProductID:             "com.example.premium.monthly",
		Status:                models.StatusActive,
		PurchaseDate:          time.Now().Add(-24 * time.Hour),
		ExpiresDate:           time.Now().Add(24 * time.Hour),
		AutoRenewStatus:       true,
		Environment:           "Production",
	})
	seedSubscription(t, &models.Subscription{
		UserID:                "user-2",
		OriginalTransactionID: "otx-s-2",
		Status:                models.StatusExpired,
		PurchaseDate:          time.Now().Add(-48 * time.Hour),
		ExpiresDate:           time.Now().Add(-24 * time.Hour),
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/subscription/status?user_id=user-1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp GetSubscriptionStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.True(t, resp.HasActive)
	require.Len(t, resp.Subscriptions, 1)
	assert.Equal(t, "otx-s-1", resp.Subscriptions[0].OriginalTransactionID)

	// an expired subscription does not grant access
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/subscription/status?user_id=user-2", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.False(t, resp.HasActive)
}

func TestGetSubscriptionStatusGracePeriodGrantsAccess(t *testing.T) {
	r := setupTestRouter(t)

	seedSubscription(t, &models.Subscription{
		UserID:                "user-grace",
		OriginalTransactionID: "otx-s-3",
		Status:                models.StatusInGracePeriod,
		PurchaseDate:          time.Now().Add(-48 * time.Hour),
		ExpiresDate:           time.Now().Add(12 * time.Hour),
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/subscription/status?user_id=user-grace", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp GetSubscriptionStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.HasActive)
}

func TestGetSubscriptionStatusRequiresUserID(t *testing.T) {
	r := setupTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/subscription/status", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetSubscriptionByTransaction(t *testing.T) {
	r := setupTestRouter(t)

	seedSubscription(t, &models.Subscription{
		UserID:                "user-1",
		OriginalTransactionID: "otx-s-4",
		ProductID:             "com.example.premium.yearly",
		Status:                models.StatusActive,
		PurchaseDate:          time.Now(),
		ExpiresDate:           time.Now().Add(365 * 24 * time.Hour),
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/api/subscription/by-transaction?original_transaction_id=otx-s-4", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool             `json:"success"`
		Data    SubscriptionInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "com.example.premium.yearly", resp.Data.ProductID)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/api/subscription/by-transaction?original_transaction_id=otx-nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthEndpoint(t *testing.T) {
	r := setupTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp gin.H
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}
