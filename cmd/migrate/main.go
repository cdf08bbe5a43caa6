package main

import (
	"context"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"relaybot/internal/logging"
	"relaybot/internal/storage/ch"
)

func main() {
	logger, err := logging.New(getEnv("LOG_LEVEL", "info"), getEnv("ENVIRONMENT", "development"))
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		logger.Warn(".env file not found, using existing environment variables")
	}

	port, err := strconv.Atoi(getEnv("CLICKHOUSE_PORT", "9000"))
	if err != nil {
		logger.Fatal("Invalid CLICKHOUSE_PORT", zap.Error(err))
	}
	dsn := ch.DSN(
		getEnv("CLICKHOUSE_HOST", "localhost"),
		port,
		getEnv("CLICKHOUSE_DATABASE", "default"),
		getEnv("CLICKHOUSE_USER", "default"),
		getEnv("CLICKHOUSE_PASSWORD", ""),
		getEnv("CLICKHOUSE_USE_TLS", "false") == "true",
	)

	// Get command from arguments (default to "up")
	command := "up"
	var args []string
	if len(os.Args) > 1 {
		command = os.Args[1]
		args = os.Args[2:]
	}
	if command == "create" && len(args) == 0 {
		logger.Fatal("Usage: migrate create <migration_name>")
	}

	logger.Info("Running migrations", zap.String("command", command))
	version, err := ch.Migrate(context.Background(), dsn, getEnv("MIGRATIONS_DIR", "./migrations"), command, args...)
	if err != nil {
		logger.Fatal("Migration failed", zap.Error(err))
	}
	if command == "version" {
		logger.Info("Current migration version", zap.Int64("version", version))
		return
	}
	logger.Info("Migration command completed", zap.String("command", command))
}

// getEnv retrieves environment variable or returns default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
