package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	Port string
	Mode string

	// Database configuration
	DatabaseURL string

	// Redis configuration
	RedisURL string

	// Apple JWS verification configuration
	AppleKeysURL        string
	KeyFetchMaxRetries  int
	KeyFetchTimeoutSecs int
	// TrustUnverifiedPayload allows notification-shaped payloads to be
	// accepted without cryptographic verification (the historical behavior).
	// Operators who only accept notifications over mutually-authenticated
	// channels can leave this on; set to false to require a valid signature.
	TrustUnverifiedPayload bool

	// Backend API authentication
	APIKey string

	// Webhook callback to the app backend
	WebhookCallbackURL string
	WebhookSecret      string

	// Brevo email configuration（订阅状态变更邮件告警，可选）
	BrevoAPIKey    string
	BrevoFromEmail string
	BrevoFromName  string
	AlertEmail     string

	ServiceName string
}

var AppConfig *Config

func InitConfig() error {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		// Ignore error if .env file doesn't exist
	}

	AppConfig = &Config{
		Port:                   getEnv("PORT", "8080"),
		Mode:                   getEnv("GIN_MODE", "debug"),
		DatabaseURL:            getEnv("DATABASE_URL", ""),
		RedisURL:               getEnv("REDIS_URL", ""),
		AppleKeysURL:           getEnv("APPLE_KEYS_URL", "https://appleid.apple.com/auth/keys"),
		KeyFetchMaxRetries:     getEnvInt("KEY_FETCH_MAX_RETRIES", 3),
		KeyFetchTimeoutSecs:    getEnvInt("KEY_FETCH_TIMEOUT_SECONDS", 10),
		TrustUnverifiedPayload: getEnvBool("TRUST_UNVERIFIED_PAYLOAD", true),
		APIKey:                 getEnv("API_KEY", ""),
		WebhookCallbackURL:     getEnv("WEBHOOK_CALLBACK_URL", ""),
		WebhookSecret:          getEnv("WEBHOOK_SECRET", ""),
		BrevoAPIKey:            getEnv("BREVO_API_KEY", ""),
		BrevoFromEmail:         getEnv("BREVO_FROM_EMAIL", ""),
		BrevoFromName:          getEnv("BREVO_FROM_NAME", "Subscription Hub"),
		AlertEmail:             getEnv("ALERT_EMAIL", ""),
		ServiceName:            getEnv("SERVICE_NAME", "Subscription Hub"),
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
