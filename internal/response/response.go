package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response is the standard envelope of the backend query endpoints
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// Success returns a success response
func Success(data interface{}) Response {
	return Response{
		Success: true,
		Data:    data,
	}
}

// Error returns an error response
func Error(message string) Response {
	return Response{
		Success: false,
		Message: message,
	}
}

// SuccessJSON sends a success JSON response
func SuccessJSON(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Success(data))
}

// ErrorJSON sends an error JSON response
func ErrorJSON(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, Error(message))
}

// Ack 是给 Apple 通知端点的应答，永远伴随 HTTP 200：
// 非 200 会触发 Apple 重投，而无法处理的载荷重投多少次也不会成功
type Ack struct {
	Success  bool        `json:"success"`
	Received bool        `json:"received"`
	Message  string      `json:"message,omitempty"`
	Status   string      `json:"status,omitempty"`
	Data     interface{} `json:"data,omitempty"`
}

// Acknowledge acknowledges a processed notification
func Acknowledge(data interface{}) Ack {
	return Ack{
		Success:  true,
		Received: true,
		Data:     data,
	}
}

// AcknowledgeHeartbeat acknowledges an empty heartbeat delivery
func AcknowledgeHeartbeat() Ack {
	return Ack{
		Success:  true,
		Received: true,
		Status:   "heartbeat_ok",
	}
}

// AcknowledgeFailure acknowledges receipt of a notification that could
// not be processed
func AcknowledgeFailure(message string) Ack {
	return Ack{
		Success:  false,
		Received: true,
		Message:  message,
	}
}
