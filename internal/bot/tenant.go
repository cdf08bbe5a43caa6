package bot

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"relaybot/internal/apperr"
	"relaybot/internal/chatapi"
	"relaybot/internal/gateway"
	"relaybot/internal/metrics"
	"relaybot/internal/models"
	"relaybot/internal/storage"
)

const tenantHelp = `🤖 Bot Help

Available commands:
/start - Start the bot
/help - Show this help

Send any message to chat with the bot!`

// TenantHandlers serves the updates of running tenant bots.
// Every tenant bot relays free text to the chat backend.
type TenantHandlers struct {
	db             storage.Storage
	analytics      storage.Analytics
	chat           Chatter
	defaultPersona string
	logger         *zap.Logger
}

// NewTenantHandlers creates the handler set installed on every tenant bot
func NewTenantHandlers(db storage.Storage, analytics storage.Analytics, chat Chatter, defaultPersona string, logger *zap.Logger) *TenantHandlers {
	return &TenantHandlers{
		db:             db,
		analytics:      analytics,
		chat:           chat,
		defaultPersona: defaultPersona,
		logger:         logger.Named("tenant"),
	}
}

// HandlerFor returns the update handler for one tenant bot
func (h *TenantHandlers) HandlerFor(botID int64, client gateway.Client) gateway.UpdateHandler {
	logger := h.logger.With(zap.Int64("bot_id", botID))

	return func(ctx context.Context, update tgbotapi.Update) {
		message := update.Message
		if message == nil || message.From == nil {
			return
		}
		chatID := message.Chat.ID
		profile := profileOf(message.From)

		// Counters are updated before any reply goes out
		if _, err := h.db.TouchClientBotUser(ctx, botID, profile, time.Now()); err != nil {
			logger.Error("Failed to record tenant bot user", zap.Int64("user_id", profile.UserID), zap.Error(err))
			h.send(logger, client, chatID, apperr.Message(err))
			return
		}

		switch {
		case message.IsCommand() && message.Command() == "start":
			text := fmt.Sprintf("🤖 Welcome to this bot!\n\n👤 User: %s\n🆔 Your ID: %d\n\nSend any message to interact!",
				handleOf(profile.Handle), profile.UserID)
			h.send(logger, client, chatID, text)
			logger.Info("User started tenant bot", zap.Int64("user_id", profile.UserID))

		case message.IsCommand() && message.Command() == "help":
			h.send(logger, client, chatID, tenantHelp)

		case message.IsCommand():
			h.send(logger, client, chatID, "Unknown command. Use /help to see available commands.")

		case strings.TrimSpace(message.Text) != "":
			if err := gateway.SendTyping(client, chatID); err != nil {
				logger.Debug("Failed to send typing action", zap.Error(err))
			}
			answer := h.chat.Reply(ctx, message.Text, chatapi.Options{Persona: h.defaultPersona})
			h.send(logger, client, chatID, answer)

			metrics.RecordMessage("tenant")
			event := models.Interaction{
				At:     time.Now(),
				BotID:  botID,
				UserID: profile.UserID,
				Kind:   "message",
				Chars:  utf8.RuneCountInString(message.Text),
			}
			if err := h.analytics.RecordInteraction(ctx, event); err != nil {
				logger.Debug("Failed to record interaction", zap.Error(err))
			}
		}
	}
}

func (h *TenantHandlers) send(logger *zap.Logger, client gateway.Client, chatID int64, text string) {
	if err := gateway.SendText(client, chatID, text); err != nil {
		logger.Warn("Failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}
