package middleware

import (
	"crypto/subtle"
	"net/http"
	"time"

	"subscription-hub/internal/config"
	"subscription-hub/internal/response"

	"github.com/gin-gonic/gin"
)

// APIKeyAuthMiddleware protects the backend query endpoints with a static
// API key. Token issuance and user management live in the app backend,
// not here
func APIKeyAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		expected := config.AppConfig.APIKey
		if expected == "" {
			// 未配置 API key 时（开发环境）不做校验
			c.Next()
			return
		}

		apiKey := c.GetHeader("X-API-Key")
		if apiKey == "" {
			apiKey = c.Query("api_key")
		}

		if apiKey == "" || subtle.ConstantTimeCompare([]byte(apiKey), []byte(expected)) != 1 {
			response.ErrorJSON(c, http.StatusUnauthorized, "Invalid or missing api_key")
			c.Abort()
			return
		}

		c.Set("request_time", time.Now())
		c.Next()
	}
}
