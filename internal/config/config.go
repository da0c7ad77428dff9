package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string
	RedisURL    string
	JWTSecret   string
	ServerPort  string

	// Token minting
	AuthClientSecret string
	AdminToken       string

	// Completion provider
	AnthropicAPIKey string
	AnthropicURL    string
	Model           string
	MaxTokens       int

	// Transcription proxy
	TranscribeURL    string
	TranscribeAPIKey string
	TranscribeModel  string

	// Admission control
	MaxInputChars      int
	DailySpendLimit    float64
	MonthlySpendLimit  float64
	CostPerMessage     float64
	DailyTurnLimit     int
	AnonDailyTurnLimit int
	RateLimitWindow    time.Duration
	RateLimitMax       int
	SweepInterval      time.Duration
	ChatDisabled       bool

	// Conversation
	ContextTurns   int
	InsightCadence int
}

func Load() (*Config, error) {
	godotenv.Load()

	return &Config{
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379"),
		JWTSecret:   getEnv("JWT_SECRET", "secret"),
		ServerPort:  getEnv("SERVER_PORT", "8080"),

		AuthClientSecret: getEnv("AUTH_CLIENT_SECRET", ""),
		AdminToken:       getEnv("ADMIN_TOKEN", ""),

		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicURL:    getEnv("ANTHROPIC_URL", "https://api.anthropic.com"),
		Model:           getEnv("MODEL_ID", "claude-3-5-sonnet-20241022"),
		MaxTokens:       getEnvInt("MAX_TOKENS", 1000),

		TranscribeURL:    getEnv("TRANSCRIBE_URL", "https://api.groq.com/openai/v1/audio/transcriptions"),
		TranscribeAPIKey: getEnv("TRANSCRIBE_API_KEY", ""),
		TranscribeModel:  getEnv("TRANSCRIBE_MODEL", "whisper-large-v3-turbo"),

		MaxInputChars:      getEnvInt("MAX_INPUT_CHARS", 2000),
		DailySpendLimit:    getEnvFloat("DAILY_SPEND_LIMIT", 2),
		MonthlySpendLimit:  getEnvFloat("MONTHLY_SPEND_LIMIT", 50),
		CostPerMessage:     getEnvFloat("COST_PER_MESSAGE", 0.003),
		DailyTurnLimit:     getEnvInt("DAILY_TURN_LIMIT", 500),
		AnonDailyTurnLimit: getEnvInt("ANON_DAILY_TURN_LIMIT", 100),
		RateLimitWindow:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		RateLimitMax:       getEnvInt("RATE_LIMIT_MAX", 20),
		SweepInterval:      getEnvDuration("RATE_LIMIT_SWEEP_INTERVAL", time.Minute),
		ChatDisabled:       getEnvBool("CHAT_DISABLED", false),

		ContextTurns:   getEnvInt("CONTEXT_TURNS", 20),
		InsightCadence: getEnvInt("INSIGHT_CADENCE", 5),
	}, nil
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}
