package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	Port           string
	Env            string
	LogLevel       string
	DatabaseURL    string
	UseMemoryQueue bool
	WorkerCount    int

	// Redis backs the dedup window and the per-phone in-flight markers.
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Anthropic reply generation.
	AnthropicAPIKey  string
	AnthropicModel   string
	AnthropicBaseURL string
	ReplyTimeout     time.Duration

	// Twilio outbound SMS.
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	// Operator approval notifications.
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	OperatorEmail     string

	// AWS (S3 media, SQS reply queue; LocalStack in development).
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	MediaBucket         string
	ReplyQueueURL       string

	// Browser origins allowed to call the inbox API.
	CORSAllowedOrigins []string

	// Ingestion dedup window for redelivered transport payloads.
	DedupWindow time.Duration
	// How long a per-phone reply generation may hold its in-flight marker.
	InflightTTL time.Duration
	// How many history messages feed the reply prompt.
	HistoryLimit int
	// Photos older than this are eligible for purge.
	PhotoRetention time.Duration
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		UseMemoryQueue: getEnvAsBool("USE_MEMORY_QUEUE", true),
		WorkerCount:    getEnvAsInt("WORKER_COUNT", 2),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:   getEnv("ANTHROPIC_MODEL", ""),
		AnthropicBaseURL: getEnv("ANTHROPIC_BASE_URL", ""),
		ReplyTimeout:     getEnvAsDuration("REPLY_TIMEOUT", 45*time.Second),

		TwilioAccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber: getEnv("TWILIO_FROM_NUMBER", ""),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Textdesk"),
		OperatorEmail:     getEnv("OPERATOR_EMAIL", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		MediaBucket:         getEnv("MEDIA_BUCKET", ""),
		ReplyQueueURL:       getEnv("REPLY_QUEUE_URL", ""),

		CORSAllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS"),

		DedupWindow:    getEnvAsDuration("INGEST_DEDUP_WINDOW", 10*time.Minute),
		InflightTTL:    getEnvAsDuration("REPLY_INFLIGHT_TTL", 2*time.Minute),
		HistoryLimit:   getEnvAsInt("REPLY_HISTORY_LIMIT", 20),
		PhotoRetention: getEnvAsDuration("PHOTO_RETENTION", 30*24*time.Hour),
	}
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(strings.TrimSpace(valueStr)); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
