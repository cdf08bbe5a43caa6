package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"relaybot/internal/bot"
	"relaybot/internal/broadcast"
	"relaybot/internal/chatapi"
	"relaybot/internal/config"
	"relaybot/internal/gateway"
	"relaybot/internal/lifecycle"
	"relaybot/internal/logging"
	"relaybot/internal/metrics"
	"relaybot/internal/persona"
	"relaybot/internal/registry"
	"relaybot/internal/storage"
	"relaybot/internal/storage/ch"
	"relaybot/internal/storage/sqlite"
	"relaybot/internal/storage/stubs"
)

// App represents the application
type App struct {
	config    *config.Config
	logger    *zap.Logger
	db        storage.Storage
	analytics storage.Analytics
	personas  persona.Store
	telegram  *gateway.Telegram
	lifecycle *lifecycle.Service
	bot       *bot.Bot
	server    *http.Server
}

// New creates and initializes a new application instance
func New() (*App, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	// Load configuration from environment variables
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return NewWithConfig(cfg, logger)
}

// NewWithConfig wires the application from an already loaded configuration
func NewWithConfig(cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{config: cfg, logger: logger}

	logger.Info("Starting relaybot...")
	metrics.InitMetrics(cfg.MetricsNamespace)

	if err := app.initDatabase(); err != nil {
		return nil, err
	}
	if err := app.initAnalytics(); err != nil {
		return nil, err
	}
	app.initPersonas()

	if err := app.initBot(); err != nil {
		return nil, err
	}

	app.initHTTPServer()
	return app, nil
}

// initDatabase initializes the relational store
func (a *App) initDatabase() error {
	var db storage.Storage
	if a.config.UseMockDB {
		a.logger.Info("Using mock database")
		db = stubs.NewMockDB()
	} else {
		a.logger.Info("Opening SQLite database", zap.String("path", a.config.DatabasePath))
		store, err := sqlite.New(a.config.DatabasePath, sqlite.WithDebug(a.config.DatabaseDebug))
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		db = store
	}

	// Initialize database schema
	ctx := context.Background()
	if err := db.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.logger.Info("Database initialized successfully")

	a.db = db
	return nil
}

// initAnalytics connects ClickHouse when configured, otherwise keeps events in memory
func (a *App) initAnalytics() error {
	if a.config.ClickHouseHost == "" {
		a.logger.Info("ClickHouse not configured, using in-memory analytics")
		a.analytics = stubs.NewMockAnalytics()
		return nil
	}

	a.logger.Info("Connecting to ClickHouse",
		zap.String("host", a.config.ClickHouseHost),
		zap.Int("port", a.config.ClickHousePort),
		zap.String("database", a.config.ClickHouseDatabase),
		zap.String("user", a.config.ClickHouseUser),
		zap.Bool("tls", a.config.ClickHouseUseTLS),
	)
	clickhouseDB, err := ch.NewClickHouseDB(
		a.config.ClickHouseHost,
		a.config.ClickHousePort,
		a.config.ClickHouseDatabase,
		a.config.ClickHouseUser,
		a.config.ClickHousePassword,
		a.config.ClickHouseUseTLS,
	)
	if err != nil {
		return fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	a.analytics = clickhouseDB
	return nil
}

// initPersonas picks Redis when configured. A Redis outage falls back to memory.
func (a *App) initPersonas() {
	if a.config.RedisURL != "" {
		store, err := persona.NewRedisStore(a.config.RedisURL, a.config.PersonaTTL)
		if err == nil {
			a.logger.Info("Using Redis persona store")
			a.personas = store
			return
		}
		a.logger.Warn("Redis unavailable, keeping personas in memory", zap.Error(err))
	}
	a.personas = persona.NewMemoryStore()
}

// initBot wires the gateway, the tenant registry and the primary bot
func (a *App) initBot() error {
	a.telegram = gateway.NewTelegram("", nil, a.logger.Named("gateway"))

	chat := chatapi.NewClient(a.config.ChatAPIURL, a.config.ChatAPITimeout, chatapi.Options{
		Persona:     a.config.DefaultPersona,
		Temperature: a.config.ChatTemperature,
		MaxTokens:   a.config.ChatMaxTokens,
	}, a.logger)

	tenants := bot.NewTenantHandlers(a.db, a.analytics, chat, a.config.DefaultPersona, a.logger)
	reg := registry.New(a.telegram.NewClient, tenants, a.config.BotStopTimeout, a.logger)
	a.lifecycle = lifecycle.NewService(a.db, reg, a.telegram, a.logger)

	broadcasts := broadcast.NewService(a.db, a.analytics, a.telegram, a.config.TelegramToken, a.config.BroadcastInterval, a.logger)

	client, err := a.telegram.NewClient(a.config.TelegramToken)
	if err != nil {
		return fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	a.bot = bot.NewBot(client, bot.Services{
		Store:      a.db,
		Analytics:  a.analytics,
		Lifecycle:  a.lifecycle,
		Broadcasts: broadcasts,
		Chat:       chat,
		Personas:   a.personas,
	}, bot.Settings{
		AdminIDs:       a.config.AdminIDs,
		DefaultPersona: a.config.DefaultPersona,
		Personas:       a.config.Personas,
	}, a.logger)
	return nil
}

// routes builds the HTTP handler for health checks, the webhook and metrics
func (a *App) routes() http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	})

	// Root endpoint
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
		mode := "polling"
		if a.config.WebhookMode {
			mode = "webhook"
		}
		fmt.Fprintf(w, "relaybot is running (mode: %s)", mode)
	})

	// Webhook endpoint (only used in webhook mode)
	mux.HandleFunc("/telegram-webhook", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var update tgbotapi.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			a.logger.Warn("Error decoding webhook update", zap.Error(err))
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		// Process update in background to respond quickly to Telegram
		go a.bot.HandleUpdate(context.Background(), update)

		w.WriteHeader(http.StatusOK)
	})

	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// initHTTPServer initializes the HTTP server for health checks, webhook and metrics
func (a *App) initHTTPServer() {
	a.server = &http.Server{
		Addr:         ":" + a.config.Port,
		Handler:      a.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Start HTTP server in background
	go func() {
		a.logger.Info("Starting HTTP server", zap.String("port", a.config.Port))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
}

// Run starts the application and blocks until shutdown
func (a *App) Run() error {
	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Bring back tenant bots that were running before the restart
	started, err := a.lifecycle.StartActive(ctx)
	if err != nil {
		a.logger.Error("Failed to start tenant bots", zap.Error(err))
	} else {
		a.logger.Info("Tenant bots started", zap.Int("count", started))
	}

	// Start bot in appropriate mode
	if a.config.WebhookMode {
		a.logger.Info("Starting bot in WEBHOOK mode", zap.String("webhook_url", a.config.WebhookURL))
		if err := a.bot.StartWebhook(a.config.WebhookURL); err != nil {
			return fmt.Errorf("failed to setup webhook: %w", err)
		}
		a.logger.Info("Webhook configured. Bot will receive updates via HTTP endpoint /telegram-webhook")
	} else {
		go func() {
			a.logger.Info("Starting bot in POLLING mode...")
			if err := a.bot.Start(ctx); err != nil {
				a.logger.Error("Failed to start bot", zap.Error(err))
				stop()
			}
		}()
	}

	// Wait for interrupt signal
	<-ctx.Done()

	a.logger.Info("Shutting down...")
	return a.Shutdown()
}

// Shutdown gracefully shuts down the application
func (a *App) Shutdown() error {
	// Shutdown HTTP server gracefully
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("HTTP server shutdown error", zap.Error(err))
	}

	a.lifecycle.StopAll()
	a.bot.Close()

	if err := a.personas.Close(); err != nil {
		a.logger.Warn("Error closing persona store", zap.Error(err))
	}
	if err := a.analytics.Close(); err != nil {
		a.logger.Warn("Error closing analytics", zap.Error(err))
	}

	// Close database
	if err := a.db.Close(); err != nil {
		a.logger.Error("Error closing database", zap.Error(err))
		return err
	}

	a.logger.Info("Shutdown complete")
	_ = a.logger.Sync()
	return nil
}
