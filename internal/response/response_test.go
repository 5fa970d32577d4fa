package response

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseEnvelope(t *testing.T) {
	ok := Success(map[string]string{"k": "v"})
	assert.True(t, ok.Success)
	assert.NotNil(t, ok.Data)

	bad := Error("boom")
	assert.False(t, bad.Success)
	assert.Equal(t, "boom", bad.Message)
	assert.Nil(t, bad.Data)
}

func TestAckAlwaysMarksReceived(t *testing.T) {
	for _, ack := range []Ack{
		Acknowledge(map[string]bool{"processed": true}),
		AcknowledgeHeartbeat(),
		AcknowledgeFailure("Signature verification failed"),
	} {
		assert.True(t, ack.Received)
	}

	heartbeat := AcknowledgeHeartbeat()
	assert.True(t, heartbeat.Success)
	assert.Equal(t, "heartbeat_ok", heartbeat.Status)

	failure := AcknowledgeFailure("Signature verification failed")
	assert.False(t, failure.Success)

	// empty fields stay out of the wire format
	b, err := json.Marshal(failure)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"received":true,"message":"Signature verification failed"}`, string(b))
}
