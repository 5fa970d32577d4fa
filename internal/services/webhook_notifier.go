package services

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"subscription-hub/internal/models"
	"subscription-hub/pkg/logging"

	"github.com/google/uuid"
)

// WebhookNotifier pushes subscription changes to the app backend
type WebhookNotifier struct {
	callbackURL string
	secret      string
	httpClient  *http.Client
}

// NewWebhookNotifier creates a new webhook notifier.
// Returns nil when no callback URL is configured
func NewWebhookNotifier(callbackURL, secret string) *WebhookNotifier {
	if callbackURL == "" {
		return nil
	}
	return &WebhookNotifier{
		callbackURL: callbackURL,
		secret:      secret,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// WebhookPayload represents the payload sent to the app backend
type WebhookPayload struct {
	DeliveryID            string `json:"delivery_id"` // 每次投递唯一，接收端可据此去重
	Event                 string `json:"event"`       // e.g. "subscription.updated"
	NotificationType      string `json:"notification_type"`
	OriginalTransactionID string `json:"original_transaction_id"`
	TransactionID         string `json:"transaction_id"`
	UserID                string `json:"user_id"`
	Status                string `json:"status"`
	ProductID             string `json:"product_id"`
	ExpiresDate           string `json:"expires_date"` // ISO 8601
	AutoRenewStatus       bool   `json:"auto_renew_status"`
	Environment           string `json:"environment"`
	Timestamp             string `json:"timestamp"` // ISO 8601
}

// NotifySubscriptionUpdated sends the update to the app backend.
// Called from a goroutine so notification processing is never blocked
func (wn *WebhookNotifier) NotifySubscriptionUpdated(subscription *models.Subscription, notificationType string) {
	payload := WebhookPayload{
		DeliveryID:            uuid.NewString(),
		Event:                 "subscription.updated",
		NotificationType:      notificationType,
		OriginalTransactionID: subscription.OriginalTransactionID,
		TransactionID:         subscription.TransactionID,
		UserID:                subscription.UserID,
		Status:                subscription.Status,
		ProductID:             subscription.ProductID,
		ExpiresDate:           subscription.ExpiresDate.Format(time.RFC3339),
		AutoRenewStatus:       subscription.AutoRenewStatus,
		Environment:           subscription.Environment,
		Timestamp:             time.Now().Format(time.RFC3339),
	}

	wn.sendWithRetry(payload)
}

// sendWithRetry sends webhook with retry mechanism
// Retry schedule: 1s, 5s, 30s (3 attempts total)
func (wn *WebhookNotifier) sendWithRetry(payload WebhookPayload) {
	retryDelays := []time.Duration{1 * time.Second, 5 * time.Second, 30 * time.Second}
	maxRetries := len(retryDelays)

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := wn.sendWebhook(payload)
		if err == nil {
			logging.Infof("Webhook notification sent - url: %s, original_transaction: %s, attempt: %d",
				wn.callbackURL, payload.OriginalTransactionID, attempt+1)
			return
		}

		logging.Errorf("Webhook notification failed - url: %s, original_transaction: %s, attempt: %d, error: %v",
			wn.callbackURL, payload.OriginalTransactionID, attempt+1, err)

		// If not the last attempt, wait before retry
		if attempt < maxRetries-1 {
			time.Sleep(retryDelays[attempt])
		}
	}

	logging.Errorf("Webhook notification failed after %d attempts - url: %s, original_transaction: %s",
		maxRetries, wn.callbackURL, payload.OriginalTransactionID)
}

// sendWebhook sends a single webhook request
func (wn *WebhookNotifier) sendWebhook(payload WebhookPayload) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequest("POST", wn.callbackURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "SubscriptionHub-Webhook/1.0")

	// Add signature if secret is provided
	if wn.secret != "" {
		signature := wn.generateSignature(jsonData)
		req.Header.Set("X-Hub-Signature", signature)
	}

	resp, err := wn.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil
}

// generateSignature generates HMAC-SHA256 signature for webhook payload
func (wn *WebhookNotifier) generateSignature(payload []byte) string {
	h := hmac.New(sha256.New, []byte(wn.secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
