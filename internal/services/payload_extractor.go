package services

import (
	"encoding/json"

	"subscription-hub/internal/models"
	"subscription-hub/pkg/logging"
)

// PayloadExtractor normalizes verified payloads into one canonical shape.
//
// 历史上 v1/v2 通知的字段位置不一致：signedTransactionInfo、signedRenewalInfo
// 和 summary 有时在顶层，有时嵌在 data 里；data 本身偶尔还是个 JSON 字符串。
// Extract 统一成「顶层 notificationType + data 对象」的形状，从不失败，
// 最坏情况返回空子字段的记录
type PayloadExtractor struct{}

// NewPayloadExtractor creates a new payload extractor
func NewPayloadExtractor() *PayloadExtractor {
	return &PayloadExtractor{}
}

// fields that historically floated between the top level and data
var reconciledFields = []string{"signedRenewalInfo", "signedTransactionInfo", "summary"}

// Normalize reshapes a decoded payload into canonical form. Idempotent:
// Normalize(Normalize(x)) equals Normalize(x)
func (e *PayloadExtractor) Normalize(payload map[string]interface{}) map[string]interface{} {
	if payload == nil {
		return map[string]interface{}{}
	}

	canonical := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		canonical[k] = v
	}

	var data map[string]interface{}
	switch d := canonical["data"].(type) {
	case map[string]interface{}:
		data = make(map[string]interface{}, len(d))
		for k, v := range d {
			data[k] = v
		}
	case string:
		// data delivered as a JSON string
		if err := json.Unmarshal([]byte(d), &data); err != nil {
			logging.Warnf("Notification data field is a non-JSON string, treating as empty: %v", err)
			data = map[string]interface{}{}
		}
	default:
		data = map[string]interface{}{}
	}

	// reconcile fields that arrived at the top level into data
	for _, field := range reconciledFields {
		if _, inData := data[field]; inData {
			continue
		}
		if v, atTop := canonical[field]; atTop {
			data[field] = v
		}
	}

	canonical["data"] = data
	return canonical
}

// Extract normalizes a payload and projects it into a NotificationRecord
func (e *PayloadExtractor) Extract(payload map[string]interface{}) *models.NotificationRecord {
	canonical := e.Normalize(payload)
	data, _ := canonical["data"].(map[string]interface{})

	record := &models.NotificationRecord{
		NotificationType:      stringClaim(canonical, "notificationType"),
		Subtype:               stringClaim(canonical, "subtype"),
		NotificationUUID:      stringClaim(canonical, "notificationUUID"),
		SignedDateMS:          int64Claim(canonical, "signedDate"),
		Environment:           stringClaim(data, "environment"),
		BundleID:              stringClaim(data, "bundleId"),
		SignedTransactionInfo: data["signedTransactionInfo"],
		SignedRenewalInfo:     data["signedRenewalInfo"],
		Raw:                   canonical,
	}

	if summary, ok := data["summary"].(map[string]interface{}); ok {
		record.Summary = summary
	}
	return record
}

// stringClaim reads a string field from a claims map
func stringClaim(claims map[string]interface{}, key string) string {
	if claims == nil {
		return ""
	}
	if s, ok := claims[key].(string); ok {
		return s
	}
	return ""
}

// int64Claim reads a numeric field from a claims map
// (JSON numbers decode as float64, re-signed tokens may carry int64)
func int64Claim(claims map[string]interface{}, key string) int64 {
	if claims == nil {
		return 0
	}
	switch v := claims[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
	}
	return 0
}
