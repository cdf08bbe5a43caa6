package bot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"relaybot/internal/apperr"
	"relaybot/internal/gateway"
	"relaybot/internal/models"
)

// reply sends text to a chat, splitting long texts
func (b *Bot) reply(chatID int64, text string) {
	if err := gateway.SendText(b.client, chatID, text); err != nil {
		b.logger.Warn("Failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// replyWithMarkup sends a single message carrying an inline keyboard
func (b *Bot) replyWithMarkup(chatID int64, text string, markup tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = markup
	if err := b.client.Send(msg); err != nil {
		b.logger.Warn("Failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// replyError reports err to the chat without leaking internals
func (b *Bot) replyError(chatID int64, err error) {
	b.reply(chatID, apperr.Message(err))
}

// edit replaces the text of a message sent earlier
func (b *Bot) edit(chatID int64, messageID int, text string) {
	if err := b.client.Send(tgbotapi.NewEditMessageText(chatID, messageID, text)); err != nil {
		b.logger.Warn("Failed to edit message",
			zap.Int64("chat_id", chatID),
			zap.Int("message_id", messageID),
			zap.Error(err),
		)
	}
}

func profileOf(user *tgbotapi.User) models.Profile {
	return models.Profile{
		UserID:    user.ID,
		Handle:    user.UserName,
		FirstName: user.FirstName,
		LastName:  user.LastName,
	}
}

// parseID parses a positive numeric id argument
func parseID(arg, what string) (int64, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return 0, fmt.Errorf("%s is required: %w", what, apperr.ErrValidation)
	}
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s must be a number, got %q: %w", what, arg, apperr.ErrValidation)
	}
	return id, nil
}

// splitFirst splits "12 some text" into "12" and "some text"
func splitFirst(args string) (string, string) {
	args = strings.TrimSpace(args)
	head, rest, _ := strings.Cut(args, " ")
	return head, strings.TrimSpace(rest)
}

func handleOf(handle string) string {
	if handle == "" {
		return "unknown"
	}
	return "@" + handle
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format("2006-01-02 15:04")
}

func describeBot(bot models.TenantBot, running bool) string {
	state := "🔴 Stopped"
	if running {
		state = "🟢 Running"
	}
	approved := "⏳ No"
	if bot.IsApproved {
		approved = "✅ Yes"
	}

	var text strings.Builder
	fmt.Fprintf(&text, "🆔 Bot ID: %d\n", bot.ID)
	fmt.Fprintf(&text, "🤖 Username: %s\n", handleOf(bot.Handle))
	fmt.Fprintf(&text, "📛 Name: %s\n\n", bot.DisplayName)
	fmt.Fprintf(&text, "Status: %s\n", state)
	fmt.Fprintf(&text, "Approved: %s\n", approved)
	fmt.Fprintf(&text, "Active: %s\n", yesNo(bot.IsActive))
	if bot.NeedsVerification {
		text.WriteString("⚠️ Token not verified yet\n")
	}
	fmt.Fprintf(&text, "\n👤 Owner: %s (%d)\n", bot.OwnerDisplayName, bot.OwnerID)
	fmt.Fprintf(&text, "📅 Registered: %s\n", formatDate(bot.RegisteredAt))
	if bot.LastActiveAt != nil {
		fmt.Fprintf(&text, "🕒 Last started: %s\n", formatDate(*bot.LastActiveAt))
	}
	fmt.Fprintf(&text, "📊 Users: %d\n", bot.TotalUsers)
	fmt.Fprintf(&text, "💬 Messages: %d", bot.TotalMessages)
	return text.String()
}

func describeBotLine(bot models.TenantBot) string {
	flags := "⏳ pending"
	switch {
	case bot.IsActive:
		flags = "🟢 active"
	case bot.IsApproved:
		flags = "✅ approved"
	}
	return fmt.Sprintf("%d. %s %s (%s)", bot.ID, bot.DisplayName, handleOf(bot.Handle), flags)
}

func describeBroadcast(record *models.BroadcastRecord) string {
	return fmt.Sprintf("✅ Broadcast completed!\n\n👥 Total Users: %d\n✅ Successful: %d\n❌ Failed: %d\n📊 Success Rate: %.1f%%",
		record.RecipientCount, record.SuccessCount, record.FailureCount, record.SuccessRate())
}
