package bot

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"relaybot/internal/apperr"
	"relaybot/internal/chatapi"
	"relaybot/internal/gateway"
	"relaybot/internal/metrics"
	"relaybot/internal/models"
	"relaybot/internal/persona"
)

const bannedReply = "⛔ You are banned from using this bot."

// handleRelay forwards free text to the chat backend and sends the answer back.
// The user row is updated before anything is sent.
func (b *Bot) handleRelay(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	profile := profileOf(message.From)

	if b.isBanned(ctx, profile.UserID) {
		b.reply(chatID, bannedReply)
		return
	}

	if _, err := b.db.TouchUser(ctx, profile, true, time.Now()); err != nil {
		b.logger.Error("Failed to update user", zap.Int64("user_id", profile.UserID), zap.Error(err))
		b.replyError(chatID, err)
		return
	}

	if err := gateway.SendTyping(b.client, chatID); err != nil {
		b.logger.Debug("Failed to send typing action", zap.Int64("chat_id", chatID), zap.Error(err))
	}

	opts := chatapi.Options{Persona: persona.Resolve(ctx, b.personas, profile.UserID, b.defaultPersona)}
	answer := b.chat.Reply(ctx, message.Text, opts)
	b.reply(chatID, answer)

	metrics.RecordMessage("primary")
	b.recordInteraction(ctx, 0, profile.UserID, "message", message.Text)
}

// isBanned reports whether the user is banned. Unknown users are not banned.
func (b *Bot) isBanned(ctx context.Context, userID int64) bool {
	user, err := b.db.GetUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			b.logger.Warn("Failed to load user", zap.Int64("user_id", userID), zap.Error(err))
		}
		return false
	}
	return user.IsBanned
}

func (b *Bot) recordInteraction(ctx context.Context, botID, userID int64, kind, text string) {
	event := models.Interaction{
		At:     time.Now(),
		BotID:  botID,
		UserID: userID,
		Kind:   kind,
		Chars:  utf8.RuneCountInString(text),
	}
	if err := b.analytics.RecordInteraction(ctx, event); err != nil {
		b.logger.Debug("Failed to record interaction", zap.Int64("user_id", userID), zap.Error(err))
	}
}
