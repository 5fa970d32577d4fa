package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeIsIdempotent(t *testing.T) {
	extractor := NewPayloadExtractor()

	payload := map[string]interface{}{
		"notificationType":      "DID_RENEW",
		"signedTransactionInfo": "token-a",
		"data": map[string]interface{}{
			"environment": "Production",
		},
	}

	once := extractor.Normalize(payload)
	twice := extractor.Normalize(once)
	assert.Equal(t, once, twice)
}

func TestNormalizeParsesStringData(t *testing.T) {
	extractor := NewPayloadExtractor()

	payload := map[string]interface{}{
		"notificationType": "SUBSCRIBED",
		"data":             `{"environment":"Sandbox","bundleId":"com.example.app"}`,
	}

	canonical := extractor.Normalize(payload)
	data, ok := canonical["data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Sandbox", data["environment"])
	assert.Equal(t, "com.example.app", data["bundleId"])
}

func TestNormalizeTreatsBadStringDataAsEmpty(t *testing.T) {
	extractor := NewPayloadExtractor()

	canonical := extractor.Normalize(map[string]interface{}{
		"notificationType": "SUBSCRIBED",
		"data":             "definitely not json",
	})

	data, ok := canonical["data"].(map[string]interface{})
	require.True(t, ok)
	assert.Empty(t, data)
}

func TestNormalizeReconcilesTopLevelFields(t *testing.T) {
	extractor := NewPayloadExtractor()

	payload := map[string]interface{}{
		"notificationType":      "DID_RENEW",
		"signedTransactionInfo": "top-level-txn",
		"signedRenewalInfo":     "top-level-renewal",
		"data": map[string]interface{}{
			"signedRenewalInfo": "nested-renewal",
		},
	}

	canonical := extractor.Normalize(payload)
	data := canonical["data"].(map[string]interface{})

	// top-level fields move into data; an existing nested value wins
	assert.Equal(t, "top-level-txn", data["signedTransactionInfo"])
	assert.Equal(t, "nested-renewal", data["signedRenewalInfo"])

	// the input payload is not mutated
	assert.Equal(t, map[string]interface{}{
		"signedRenewalInfo": "nested-renewal",
	}, payload["data"])
}

func TestNormalizeNilPayload(t *testing.T) {
	extractor := NewPayloadExtractor()
	assert.NotNil(t, extractor.Normalize(nil))
}

func TestExtractProjectsRecord(t *testing.T) {
	extractor := NewPayloadExtractor()

	payload := map[string]interface{}{
		"notificationType": "DID_FAIL_TO_RENEW",
		"subtype":          "GRACE_PERIOD",
		"notificationUUID": "uuid-789",
		"signedDate":       float64(1700000000000),
		"data": map[string]interface{}{
			"environment":           "Production",
			"bundleId":              "com.example.app",
			"signedTransactionInfo": "txn-token",
			"summary": map[string]interface{}{
				"requestIdentifier": "req-1",
			},
		},
	}

	record := extractor.Extract(payload)
	assert.Equal(t, "DID_FAIL_TO_RENEW", record.NotificationType)
	assert.Equal(t, "GRACE_PERIOD", record.Subtype)
	assert.Equal(t, "uuid-789", record.NotificationUUID)
	assert.Equal(t, int64(1700000000000), record.SignedDateMS)
	assert.Equal(t, "Production", record.Environment)
	assert.Equal(t, "com.example.app", record.BundleID)
	assert.Equal(t, "txn-token", record.SignedTransactionInfo)
	require.NotNil(t, record.Summary)
	assert.Equal(t, "req-1", record.Summary["requestIdentifier"])
}

func TestExtractEmptyPayloadYieldsEmptyRecord(t *testing.T) {
	extractor := NewPayloadExtractor()

	record := extractor.Extract(map[string]interface{}{})
	assert.Empty(t, record.NotificationType)
	assert.Nil(t, record.SignedTransactionInfo)
	assert.Nil(t, record.SignedRenewalInfo)
	assert.NotNil(t, record.Raw)
}
