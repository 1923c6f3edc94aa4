package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Port           string
	AllowedOrigins []string
	LogLevel       string

	// Vonage application credentials
	AppID          string
	PrivateKeyFile string
	APIBaseURL     string

	// Call routing numbers (E.164 without leading '+')
	ServiceNumber string
	AgentNumber   string

	// Host:port of the AI processor the media-stream leg connects to
	ProcessorServer string

	// Externally reachable base URL of this server, used to build
	// answer_url/event_url values handed to the provider
	BaseURL string

	RecordCalls     bool
	MaxCallDuration time.Duration
	EscalationDelay time.Duration
	IdleTimeout     time.Duration

	HoldMusicURL    string
	SignatureSecret string
	PostCallDataDir string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	config := &Config{
		Port:            getEnv("PORT", "8080"),
		AllowedOrigins:  strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		AppID:           os.Getenv("APP_ID"),
		PrivateKeyFile:  getEnv("PRIVATE_KEY_FILE", ".private.key"),
		APIBaseURL:      getEnv("API_BASE_URL", "https://api.nexmo.com"),
		ServiceNumber:   os.Getenv("SERVICE_PHONE_NUMBER"),
		AgentNumber:     os.Getenv("LIVE_AGENT_PHONE_NUMBER"),
		ProcessorServer: os.Getenv("PROCESSOR_SERVER"),
		BaseURL:         os.Getenv("BASE_URL"),
		RecordCalls:     getEnv("RECORD_CALLS", "false") == "true",
		HoldMusicURL:    getEnv("HOLD_MUSIC_URL", "http://client-sdk-cdn-files.s3.us-east-2.amazonaws.com/us.mp3"),
		SignatureSecret: os.Getenv("SIGNATURE_SECRET"),
		PostCallDataDir: getEnv("POST_CALL_DATA_DIR", "post-call-data"),
	}

	// Required values: the process must not start serving without them
	required := []struct {
		key   string
		value string
	}{
		{"APP_ID", config.AppID},
		{"SERVICE_PHONE_NUMBER", config.ServiceNumber},
		{"LIVE_AGENT_PHONE_NUMBER", config.AgentNumber},
		{"PROCESSOR_SERVER", config.ProcessorServer},
		{"BASE_URL", config.BaseURL},
	}
	for _, r := range required {
		if r.value == "" {
			return nil, fmt.Errorf("missing required environment variable %s", r.key)
		}
	}

	maxDuration, err := strconv.Atoi(getEnv("MAX_CALL_DURATION", "600"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_CALL_DURATION: %w", err)
	}
	config.MaxCallDuration = time.Duration(maxDuration) * time.Second

	escalationDelay, err := strconv.Atoi(getEnv("ESCALATION_DELAY", "15"))
	if err != nil {
		return nil, fmt.Errorf("invalid ESCALATION_DELAY: %w", err)
	}
	config.EscalationDelay = time.Duration(escalationDelay) * time.Second

	idleTimeout, err := strconv.Atoi(getEnv("SESSION_IDLE_TIMEOUT", "3600"))
	if err != nil {
		return nil, fmt.Errorf("invalid SESSION_IDLE_TIMEOUT: %w", err)
	}
	config.IdleTimeout = time.Duration(idleTimeout) * time.Second

	config.BaseURL = strings.TrimSuffix(config.BaseURL, "/")

	// Trim spaces from allowed origins
	for i, origin := range config.AllowedOrigins {
		config.AllowedOrigins[i] = strings.TrimSpace(origin)
	}

	return config, nil
}

// getEnv gets an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
