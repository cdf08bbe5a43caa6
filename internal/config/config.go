package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	TelegramToken string
	AdminIDs      []int64

	// Bot mode configuration
	WebhookMode bool   // If true, use webhook mode; if false, use polling mode
	WebhookURL  string // URL for webhook (required if WebhookMode is true)
	Port        string

	// Chat backend configuration
	ChatAPIURL      string
	ChatAPITimeout  time.Duration
	DefaultPersona  string
	Personas        []string // Allowed persona names, empty means any
	ChatTemperature float64
	ChatMaxTokens   int

	// SQLite store
	DatabasePath  string
	DatabaseDebug bool
	UseMockDB     bool

	// ClickHouse analytics (optional, enabled when ClickHouseHost is set)
	ClickHouseHost     string
	ClickHousePort     int
	ClickHouseDatabase string
	ClickHouseUser     string
	ClickHousePassword string
	ClickHouseUseTLS   bool

	// Redis persona store (optional)
	RedisURL   string
	PersonaTTL time.Duration

	BroadcastInterval time.Duration
	BotStopTimeout    time.Duration

	LogLevel         string
	Environment      string
	MetricsNamespace string
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	config := &Config{}
	var err error

	// Telegram Bot Token (required)
	config.TelegramToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	if config.TelegramToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	// Admin IDs (required)
	adminIDsStr := os.Getenv("ADMIN_IDS")
	if adminIDsStr == "" {
		return nil, fmt.Errorf("ADMIN_IDS is required (comma-separated list of Telegram user IDs)")
	}
	config.AdminIDs, err = ParseIDs(adminIDsStr)
	if err != nil {
		return nil, fmt.Errorf("invalid ADMIN_IDS: %w", err)
	}

	// Bot mode configuration
	config.WebhookMode = os.Getenv("WEBHOOK_MODE") == "true"
	if config.WebhookMode {
		config.WebhookURL = strings.TrimRight(os.Getenv("WEBHOOK_URL"), "/")
		if config.WebhookURL == "" {
			return nil, fmt.Errorf("WEBHOOK_URL is required when WEBHOOK_MODE is true")
		}
	}
	config.Port = getEnv("PORT", "8080")

	// Chat backend
	config.ChatAPIURL = getEnv("CHAT_API_URL", "http://localhost:5000/api")
	if config.ChatAPITimeout, err = getDuration("CHAT_API_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if config.ChatAPITimeout <= 0 {
		return nil, fmt.Errorf("invalid CHAT_API_TIMEOUT: must be positive")
	}
	config.DefaultPersona = getEnv("DEFAULT_PERSONA", "assistant")
	if personas := os.Getenv("PERSONAS"); personas != "" {
		for _, p := range strings.Split(personas, ",") {
			if p = strings.TrimSpace(p); p != "" {
				config.Personas = append(config.Personas, p)
			}
		}
	}
	if config.ChatTemperature, err = getFloat("CHAT_TEMPERATURE", 0.7); err != nil {
		return nil, err
	}
	if config.ChatMaxTokens, err = getInt("CHAT_MAX_TOKENS", 2000); err != nil {
		return nil, err
	}

	// Use Mock DB (default: false)
	config.UseMockDB = os.Getenv("USE_MOCK_DB") == "true"
	config.DatabasePath = getEnv("DATABASE_PATH", "relaybot.db")
	config.DatabaseDebug = os.Getenv("DATABASE_DEBUG") == "true"

	// ClickHouse configuration (optional)
	config.ClickHouseHost = os.Getenv("CLICKHOUSE_HOST")
	if config.ClickHouseHost != "" {
		if config.ClickHousePort, err = getInt("CLICKHOUSE_PORT", 9000); err != nil {
			return nil, err
		}
		config.ClickHouseDatabase = getEnv("CLICKHOUSE_DATABASE", "default")
		config.ClickHouseUser = getEnv("CLICKHOUSE_USER", "default")
		config.ClickHousePassword = os.Getenv("CLICKHOUSE_PASSWORD")
		// Password is optional, can be empty
		config.ClickHouseUseTLS = os.Getenv("CLICKHOUSE_USE_TLS") == "true"
	}

	// Redis configuration (optional)
	config.RedisURL = os.Getenv("REDIS_URL")
	if config.PersonaTTL, err = getDuration("PERSONA_TTL", 30*24*time.Hour); err != nil {
		return nil, err
	}

	if config.BroadcastInterval, err = getDuration("BROADCAST_INTERVAL", 50*time.Millisecond); err != nil {
		return nil, err
	}
	if config.BroadcastInterval < 0 {
		return nil, fmt.Errorf("invalid BROADCAST_INTERVAL: must not be negative")
	}
	if config.BotStopTimeout, err = getDuration("BOT_STOP_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if config.BotStopTimeout <= 0 {
		return nil, fmt.Errorf("invalid BOT_STOP_TIMEOUT: must be positive")
	}

	config.LogLevel = getEnv("LOG_LEVEL", "info")
	config.Environment = getEnv("ENVIRONMENT", "production")
	config.MetricsNamespace = getEnv("METRICS_NAMESPACE", "relaybot")

	return config, nil
}

// ParseIDs parses a comma-separated list of Telegram user ids
func ParseIDs(s string) ([]int64, error) {
	var ids []int64
	for _, idStr := range strings.Split(s, ",") {
		idStr = strings.TrimSpace(idStr)
		if idStr == "" {
			continue
		}
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user ID: %s", idStr)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no user IDs given")
	}
	return ids, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
