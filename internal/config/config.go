package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	DatabaseURL   string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// TenantMapJSON maps "channel:accountRef" keys onto provisioned tenants,
	// e.g. {"sms:+15550000001":{"id":"org-1","locale":"en-US","booking_backend":"fonet"}}.
	TenantMapJSON string

	AdmissionWindow          time.Duration
	AdmissionMaxRequests     int
	AdmissionMaxPayloadBytes int
	AdmissionDenyThreshold   int

	BreakerFailureThreshold int
	BreakerOpenCooldown     time.Duration

	ReasoningMaxIterations int
	AITimeout              time.Duration
	ToolTimeout            time.Duration
	MaxReplyTokens         int
	Temperature            float64

	AWSRegion      string
	BedrockModelID string
	GeminiAPIKey   string
	GeminiModelID  string

	FonetBaseURL  string
	FonetAPIKey   string
	FonetClinicID string
	FonetTimeout  time.Duration

	TigaBaseURL   string
	TigaUsername  string
	TigaPassword  string
	TigaBranchKey string
	TigaTimeout   time.Duration

	BookingIdempotencyTTL time.Duration

	AdminJWTSecret string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		TenantMapJSON: getEnv("TENANT_MAP_JSON", ""),

		AdmissionWindow:          getEnvAsDuration("ADMISSION_WINDOW", time.Minute),
		AdmissionMaxRequests:     getEnvAsInt("ADMISSION_MAX_REQUESTS", 20),
		AdmissionMaxPayloadBytes: getEnvAsInt("ADMISSION_MAX_PAYLOAD_BYTES", 8*1024),
		AdmissionDenyThreshold:   getEnvAsInt("ADMISSION_DENY_THRESHOLD", 10),

		BreakerFailureThreshold: getEnvAsInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerOpenCooldown:     getEnvAsDuration("BREAKER_OPEN_COOLDOWN", 30*time.Second),

		ReasoningMaxIterations: getEnvAsInt("REASONING_MAX_ITERATIONS", 4),
		AITimeout:              getEnvAsDuration("AI_TIMEOUT", 30*time.Second),
		ToolTimeout:            getEnvAsDuration("TOOL_TIMEOUT", 10*time.Second),
		MaxReplyTokens:         getEnvAsInt("MAX_REPLY_TOKENS", 1024),
		Temperature:            getEnvAsFloat("AI_TEMPERATURE", 0.3),

		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		BedrockModelID: getEnv("BEDROCK_MODEL_ID", "anthropic.claude-3-5-sonnet-20241022-v2:0"),
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:  getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),

		FonetBaseURL:  getEnv("FONET_BASE_URL", ""),
		FonetAPIKey:   getEnv("FONET_API_KEY", ""),
		FonetClinicID: getEnv("FONET_CLINIC_ID", ""),
		FonetTimeout:  getEnvAsDuration("FONET_TIMEOUT", 10*time.Second),

		TigaBaseURL:   getEnv("TIGA_BASE_URL", ""),
		TigaUsername:  getEnv("TIGA_USERNAME", ""),
		TigaPassword:  getEnv("TIGA_PASSWORD", ""),
		TigaBranchKey: getEnv("TIGA_BRANCH_KEY", ""),
		TigaTimeout:   getEnvAsDuration("TIGA_TIMEOUT", 10*time.Second),

		BookingIdempotencyTTL: getEnvAsDuration("BOOKING_IDEMPOTENCY_TTL", 24*time.Hour),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
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
