package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"subscription-hub/internal/database"
	"subscription-hub/internal/models"
	"subscription-hub/pkg/logging"

	"gorm.io/gorm"
)

// ProcessingResult reports what a notification did to subscription state
type ProcessingResult struct {
	SubscriptionID uint
	Created        bool
	Processed      bool
}

// errSubscriptionNotFound aborts the locked update when a lifecycle
// notification arrives for a subscription this service never saw
var errSubscriptionNotFound = errors.New("subscription not found")

// NotificationProcessor applies lifecycle notifications to subscription
// records. Process never returns an error to its caller: every failure path
// ends in a logged, recorded outcome so the webhook boundary can always
// acknowledge delivery
type NotificationProcessor struct {
	verifier *JWSVerifier
	replay   *ReplayProtection
	webhook  *WebhookNotifier
	emailer  *EmailNotifier
}

// NewNotificationProcessor creates a new notification processor.
// webhook and emailer are optional
func NewNotificationProcessor(verifier *JWSVerifier, replay *ReplayProtection, webhook *WebhookNotifier, emailer *EmailNotifier) *NotificationProcessor {
	return &NotificationProcessor{
		verifier: verifier,
		replay:   replay,
		webhook:  webhook,
		emailer:  emailer,
	}
}

// Process applies one normalized notification to durable state
func (p *NotificationProcessor) Process(signedPayload string, record *models.NotificationRecord) *ProcessingResult {
	result := &ProcessingResult{}

	info := p.resolveTransactionInfo(record)

	// 没有 originalTransactionId 就无法关联订阅：记录后停止，不算错误
	if info.OriginalTransactionID == "" {
		logging.Warnf("%v - type: %s, uuid: %s", ErrUnresolvedTransaction, record.NotificationType, record.NotificationUUID)
		p.appendHistory(record, signedPayload, nil, false, ErrUnresolvedTransaction.Error())
		return result
	}

	// 重复投递：审计照记，状态不再变更
	if p.replay != nil && p.replay.IsReplay(record.NotificationUUID, record.SignedDateMS) {
		subscriptionID := p.lookupSubscriptionID(info.OriginalTransactionID)
		p.appendHistory(record, signedPayload, subscriptionID, false, "duplicate notification, state unchanged")
		if subscriptionID != nil {
			result.SubscriptionID = *subscriptionID
		}
		return result
	}

	// 仅记录、不改状态的通知类型
	if isRecordOnly(record.NotificationType) {
		subscriptionID := p.lookupSubscriptionID(info.OriginalTransactionID)
		p.appendHistory(record, signedPayload, subscriptionID, true, "")
		if subscriptionID != nil {
			result.SubscriptionID = *subscriptionID
		}
		result.Processed = true
		logging.Infof("Recorded %s notification without state change - original_transaction: %s",
			record.NotificationType, info.OriginalTransactionID)
		return result
	}

	var previousStatus string
	subscription, created, err := database.UpdateSubscriptionLocked(info.OriginalTransactionID,
		func(existing *models.Subscription) (*models.Subscription, error) {
			if existing == nil {
				if !isInitialPurchase(record.NotificationType) {
					return nil, errSubscriptionNotFound
				}
				return p.buildSubscription(record, info), nil
			}

			previousStatus = existing.Status

			// 单调性保护：比当前记录状态更老的通知直接丢弃
			ts := notificationTimestamp(record, info)
			if ts > 0 && existing.LastNotifiedAtMS > ts {
				return nil, fmt.Errorf("%w: notification signed at %d, state already at %d",
					ErrStaleNotification, ts, existing.LastNotifiedAtMS)
			}

			applyTransition(existing, record, info)
			return existing, nil
		})

	if err != nil {
		switch {
		case errors.Is(err, ErrStaleNotification):
			logging.Warnf("Discarding out-of-order notification - type: %s, original_transaction: %s, error: %v",
				record.NotificationType, info.OriginalTransactionID, err)
		case errors.Is(err, errSubscriptionNotFound):
			logging.Warnf("No subscription for %s notification - original_transaction: %s",
				record.NotificationType, info.OriginalTransactionID)
		default:
			logging.Errorf("Failed to apply notification - type: %s, original_transaction: %s, error: %v",
				record.NotificationType, info.OriginalTransactionID, err)
		}
		subscriptionID := p.lookupSubscriptionID(info.OriginalTransactionID)
		p.appendHistory(record, signedPayload, subscriptionID, false, err.Error())
		return result
	}

	p.appendHistory(record, signedPayload, &subscription.ID, true, "")

	result.SubscriptionID = subscription.ID
	result.Created = created
	result.Processed = true

	logging.Infof("Processed %s notification - original_transaction: %s, status: %s, created: %v",
		record.NotificationType, info.OriginalTransactionID, subscription.Status, created)

	if subscription.Status != previousStatus {
		p.notifyStatusChange(subscription, record.NotificationType)
	}
	return result
}

// resolveTransactionInfo decodes the signed sub-tokens of a notification.
// Renewal and transaction info are merged, transaction fields winning;
// when neither is present the outer payload itself is used
func (p *NotificationProcessor) resolveTransactionInfo(record *models.NotificationRecord) *models.TransactionInfo {
	claims := map[string]interface{}{}

	if renewal := p.decodeSignedInfo(record.SignedRenewalInfo, "signedRenewalInfo"); renewal != nil {
		for k, v := range renewal {
			claims[k] = v
		}
	}
	if transaction := p.decodeSignedInfo(record.SignedTransactionInfo, "signedTransactionInfo"); transaction != nil {
		for k, v := range transaction {
			claims[k] = v
		}
	}
	if len(claims) == 0 {
		claims = record.Raw
	}

	info := &models.TransactionInfo{
		TransactionID:         stringClaim(claims, "transactionId"),
		OriginalTransactionID: stringClaim(claims, "originalTransactionId"),
		ProductID:             stringClaim(claims, "productId"),
		PurchaseDateMS:        int64Claim(claims, "purchaseDate"),
		ExpiresDateMS:         int64Claim(claims, "expiresDate"),
		SignedDateMS:          int64Claim(claims, "signedDate"),
		Environment:           stringClaim(claims, "environment"),
	}

	// appAccountToken 是客户端购买时设置的用户标识（applicationUserName）
	info.AppAccountToken = stringClaim(claims, "appAccountToken")

	// autoRenewStatus arrives as a JSON number (0/1) or occasionally a bool
	if raw, ok := claims["autoRenewStatus"]; ok {
		switch v := raw.(type) {
		case bool:
			info.AutoRenewStatus = &v
		case float64:
			autoRenew := v == 1
			info.AutoRenewStatus = &autoRenew
		case int64:
			autoRenew := v == 1
			info.AutoRenewStatus = &autoRenew
		case int:
			autoRenew := v == 1
			info.AutoRenewStatus = &autoRenew
		}
	}

	return info
}

// decodeSignedInfo resolves a sub-token that is either a JWS string or an
// already-decoded structure. A JWS string goes through the verifier; if
// that fails the payload segment is extracted directly, matching how the
// outer notification is handled
func (p *NotificationProcessor) decodeSignedInfo(value interface{}, fieldName string) map[string]interface{} {
	switch v := value.(type) {
	case nil:
		return nil
	case map[string]interface{}:
		return v
	case string:
		if v == "" {
			return nil
		}
		claims, err := p.verifier.Verify(v)
		if err == nil {
			return claims
		}
		logging.Warnf("Failed to verify %s, extracting payload directly: %v", fieldName, err)

		decoded, err := decodeSubTokenPayload(v)
		if err != nil {
			logging.Warnf("Failed to extract %s directly: %v", fieldName, err)
			return nil
		}
		return decoded
	default:
		logging.Warnf("Unexpected %s type %T, ignoring", fieldName, value)
		return nil
	}
}

// RecordUnverified appends an audit row for a notification whose signature
// could not be verified but whose payload was still decodable
func (p *NotificationProcessor) RecordUnverified(signedPayload string, record *models.NotificationRecord, cause error) {
	p.appendHistory(record, signedPayload, nil, false, cause.Error())
}

// DecodeTokenPayload decodes the payload of a token without verification,
// for best-effort auditing of rejected tokens. A structurally malformed
// token (wrong segment count) is still scanned back-to-front for a
// decodable JSON object, so partial payloads end up in history too
func DecodeTokenPayload(token string) (map[string]interface{}, error) {
	if parts := splitToken(token); parts != nil {
		return decodeSegmentObject(parts[1])
	}

	parts := strings.Split(token, ".")
	for i := len(parts) - 1; i >= 0; i-- {
		if claims, err := decodeSegmentObject(parts[i]); err == nil {
			return claims, nil
		}
	}
	return nil, fmt.Errorf("no decodable payload segment")
}

// decodeSubTokenPayload decodes the middle segment of a three-part token
// without verification
func decodeSubTokenPayload(token string) (map[string]interface{}, error) {
	parts := splitToken(token)
	if parts == nil {
		return nil, fmt.Errorf("not a three-segment token")
	}
	return decodeSegmentObject(parts[1])
}

// decodeSegmentObject decodes one base64url segment into a JSON object
func decodeSegmentObject(segment string) (map[string]interface{}, error) {
	decoded, err := decodeJWSSegment(segment)
	if err != nil {
		return nil, err
	}
	var claims map[string]interface{}
	if err := json.Unmarshal(decoded, &claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// buildSubscription creates a new subscription row from an initial purchase
func (p *NotificationProcessor) buildSubscription(record *models.NotificationRecord, info *models.TransactionInfo) *models.Subscription {
	subscription := &models.Subscription{
		UserID:                info.AppAccountToken,
		OriginalTransactionID: info.OriginalTransactionID,
		TransactionID:         info.TransactionID,
		ProductID:             info.ProductID,
		Status:                models.StatusActive,
		Environment:           environmentOf(record, info),
		LastNotifiedAtMS:      notificationTimestamp(record, info),
	}
	if info.PurchaseDateMS > 0 {
		subscription.PurchaseDate = time.UnixMilli(info.PurchaseDateMS)
	} else {
		subscription.PurchaseDate = time.Now()
	}
	if info.ExpiresDateMS > 0 {
		subscription.ExpiresDate = time.UnixMilli(info.ExpiresDateMS)
	}
	if info.AutoRenewStatus != nil {
		subscription.AutoRenewStatus = *info.AutoRenewStatus
	}
	return subscription
}

// applyTransition mutates an existing subscription according to the
// notification type
func applyTransition(subscription *models.Subscription, record *models.NotificationRecord, info *models.TransactionInfo) {
	ts := notificationTimestamp(record, info)

	switch record.NotificationType {
	case models.NotificationSubscribed, models.NotificationDidRenew, models.NotificationOfferRedeemed:
		subscription.Status = models.StatusActive
		if info.ExpiresDateMS > 0 {
			subscription.ExpiresDate = time.UnixMilli(info.ExpiresDateMS)
		}
		if info.TransactionID != "" {
			subscription.TransactionID = info.TransactionID
		}
		if info.ProductID != "" {
			subscription.ProductID = info.ProductID
		}
		if info.AutoRenewStatus != nil {
			subscription.AutoRenewStatus = *info.AutoRenewStatus
		}

	case models.NotificationDidChangeRenewalStatus:
		// 只更新自动续费开关
		if info.AutoRenewStatus != nil {
			subscription.AutoRenewStatus = *info.AutoRenewStatus
		}

	case models.NotificationDidFailToRenew:
		if record.Subtype == models.SubtypeGracePeriod {
			subscription.Status = models.StatusInGracePeriod
		} else {
			subscription.Status = models.StatusInBillingRetry
		}
		if info.AutoRenewStatus != nil {
			subscription.AutoRenewStatus = *info.AutoRenewStatus
		}

	case models.NotificationGracePeriodExpired, models.NotificationExpired:
		subscription.Status = models.StatusExpired
		if info.AutoRenewStatus != nil {
			subscription.AutoRenewStatus = *info.AutoRenewStatus
		}

	case models.NotificationRefund:
		subscription.Status = models.StatusRefunded
		if ts > 0 {
			subscription.ExpiresDate = time.UnixMilli(ts)
		}

	case models.NotificationRevoke:
		subscription.Status = models.StatusRevoked
		if ts > 0 {
			subscription.ExpiresDate = time.UnixMilli(ts)
		}
	}

	// 绑定用户标识：已有值时保留，避免并发冲突覆盖
	if subscription.UserID == "" && info.AppAccountToken != "" {
		logging.Infof("Binding appAccountToken to subscription - original_transaction: %s, app_account_token: %s",
			subscription.OriginalTransactionID, info.AppAccountToken)
		subscription.UserID = info.AppAccountToken
	}

	if ts > subscription.LastNotifiedAtMS {
		subscription.LastNotifiedAtMS = ts
	}
}

// notificationTimestamp picks the signed timestamp used by the
// monotonicity guard: the outer payload's signedDate when present,
// otherwise the transaction info's
func notificationTimestamp(record *models.NotificationRecord, info *models.TransactionInfo) int64 {
	if record.SignedDateMS > 0 {
		return record.SignedDateMS
	}
	return info.SignedDateMS
}

func environmentOf(record *models.NotificationRecord, info *models.TransactionInfo) string {
	if record.Environment != "" {
		return record.Environment
	}
	return info.Environment
}

// isInitialPurchase reports whether a notification type may create a
// subscription that does not exist yet
func isInitialPurchase(notificationType string) bool {
	switch notificationType {
	case models.NotificationSubscribed, models.NotificationOfferRedeemed:
		return true
	}
	return false
}

// isRecordOnly reports whether a notification type is audited without
// touching subscription state
func isRecordOnly(notificationType string) bool {
	switch notificationType {
	case models.NotificationSubscribed, models.NotificationDidRenew, models.NotificationOfferRedeemed,
		models.NotificationDidChangeRenewalStatus, models.NotificationDidFailToRenew,
		models.NotificationGracePeriodExpired, models.NotificationExpired,
		models.NotificationRefund, models.NotificationRevoke:
		return false
	}
	// PRICE_INCREASE, CONSUMPTION_REQUEST, RENEWAL_EXTENDED, TEST,
	// DID_CHANGE_RENEWAL_PREF and anything unknown
	return true
}

// lookupSubscriptionID finds the subscription a history row should link to
func (p *NotificationProcessor) lookupSubscriptionID(originalTransactionID string) *uint {
	subscription, err := database.GetSubscriptionByOriginalTransactionID(originalTransactionID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			logging.Errorf("Failed to look up subscription %s: %v", originalTransactionID, err)
		}
		return nil
	}
	return &subscription.ID
}

// appendHistory writes the audit record; a notification is recorded exactly
// once regardless of processing outcome
func (p *NotificationProcessor) appendHistory(record *models.NotificationRecord, signedPayload string, subscriptionID *uint, processed bool, processingError string) {
	rawData, err := json.Marshal(record.Raw)
	if err != nil {
		logging.Errorf("Failed to marshal notification payload for audit: %v", err)
		rawData = nil
	}

	history := &models.NotificationHistory{
		SubscriptionID:   subscriptionID,
		NotificationType: record.NotificationType,
		Subtype:          record.Subtype,
		NotificationUUID: record.NotificationUUID,
		SignedPayload:    signedPayload,
		RawData:          string(rawData),
		Processed:        processed,
		ProcessingError:  processingError,
	}

	if err := database.AppendNotificationHistory(history); err != nil {
		logging.Errorf("Failed to append notification history - type: %s, uuid: %s, error: %v",
			record.NotificationType, record.NotificationUUID, err)
	}
}

// notifyStatusChange fans the update out to the app backend webhook and
// the alert mailbox, asynchronously
func (p *NotificationProcessor) notifyStatusChange(subscription *models.Subscription, notificationType string) {
	if p.webhook != nil {
		go p.webhook.NotifySubscriptionUpdated(subscription, notificationType)
	}
	if p.emailer != nil {
		go p.emailer.SendStatusAlert(subscription, notificationType)
	}
}
