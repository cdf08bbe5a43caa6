package bot

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"relaybot/internal/models"
)

const userHelp = `Available commands:
/start - Start the bot
/help - Show this help
/persona [name] - Show or change the assistant persona
/reset - Reset your persona
/registerbot <token> - Register your own bot
/mybots - List the bots you registered

Send any message and the assistant will answer.`

const adminHelp = `

Admin commands:
/approvebot <id> - Approve a registered bot
/enablebot <id> - Start a bot
/disablebot <id> - Stop a bot
/deletebot <id> - Stop and remove a bot
/listbots - List all bots
/pendingbots - List bots awaiting approval
/botstatus [id] - Bot status or overview
/broadcast - Send a message to all users
/botbroadcast <id> <text> - Broadcast through one bot
/masterbroadcast <text> - Broadcast through every active bot
/ban <user_id> - Ban a user
/unban <user_id> - Unban a user
/broadcasthistory - Recent broadcasts
/recentmembers - Recently joined users
/stats - Statistics
/activity - Most active users this week`

// handleStart shows welcome message and logs the first contact
func (b *Bot) handleStart(ctx context.Context, message *tgbotapi.Message) {
	profile := profileOf(message.From)
	now := time.Now()

	if b.isBanned(ctx, profile.UserID) {
		b.reply(message.Chat.ID, bannedReply)
		return
	}

	if _, err := b.db.TouchUser(ctx, profile, false, now); err != nil {
		b.logger.Error("Failed to update user", zap.Int64("user_id", profile.UserID), zap.Error(err))
	}

	name := profile.FirstName
	if name == "" {
		name = "there"
	}
	b.reply(message.Chat.ID, fmt.Sprintf("🤖 Welcome %s!\n\n%s", name, userHelp))

	isNew, err := b.db.LogMemberJoin(ctx, profile, now)
	if err != nil {
		b.logger.Error("Failed to log member join", zap.Int64("user_id", profile.UserID), zap.Error(err))
		return
	}
	if isNew {
		b.notifyNewMember(ctx, profile)
	}
}

// notifyNewMember tells every admin about a new user
func (b *Bot) notifyNewMember(ctx context.Context, profile models.Profile) {
	text := fmt.Sprintf("🆕 New member joined!\n\n👤 Name: %s\n🔗 Username: %s\n🆔 ID: %d",
		profile.FullName(), handleOf(profile.Handle), profile.UserID)

	delivered := b.notifyAdmins(text)
	if delivered == 0 {
		return
	}
	if err := b.db.MarkMemberNotified(ctx, profile.UserID); err != nil {
		b.logger.Warn("Failed to mark member notified", zap.Int64("user_id", profile.UserID), zap.Error(err))
	}
}

// notifyAdmins sends text to every admin and returns how many received it
func (b *Bot) notifyAdmins(text string) int {
	ids := make([]int64, 0, len(b.admins))
	for id := range b.admins {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	delivered := 0
	for _, id := range ids {
		if err := b.client.Send(tgbotapi.NewMessage(id, text)); err != nil {
			b.logger.Warn("Failed to notify admin", zap.Int64("admin_id", id), zap.Error(err))
			continue
		}
		delivered++
	}
	return delivered
}

// handleHelp lists the commands available to the caller
func (b *Bot) handleHelp(message *tgbotapi.Message) {
	text := userHelp
	if b.isAdmin(message.From.ID) {
		text += adminHelp
	}
	b.reply(message.Chat.ID, text)
}

// handlePersona shows the current persona or sets a new one
func (b *Bot) handlePersona(ctx context.Context, message *tgbotapi.Message) {
	userID := message.From.ID
	name := strings.TrimSpace(message.CommandArguments())

	if name == "" {
		current, err := b.personas.Get(ctx, userID)
		if err != nil || current == "" {
			current = b.defaultPersona
		}
		text := fmt.Sprintf("Current persona: %s\n\nUse: /persona <name>", current)
		if len(b.allowedPersona) > 0 {
			text += "\nAvailable: " + strings.Join(b.personaNames(), ", ")
		}
		b.reply(message.Chat.ID, text)
		return
	}

	if len(b.allowedPersona) > 0 && !b.allowedPersona[name] {
		b.reply(message.Chat.ID, fmt.Sprintf("❌ Unknown persona %q. Available: %s", name, strings.Join(b.personaNames(), ", ")))
		return
	}

	if err := b.personas.Set(ctx, userID, name); err != nil {
		b.logger.Error("Failed to save persona", zap.Int64("user_id", userID), zap.Error(err))
		b.reply(message.Chat.ID, "❌ Could not save persona, please try again later")
		return
	}
	b.reply(message.Chat.ID, fmt.Sprintf("✅ Persona set to: %s", name))
}

func (b *Bot) personaNames() []string {
	names := make([]string, 0, len(b.allowedPersona))
	for name := range b.allowedPersona {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// handleReset drops the user's persona choice and any open conversation
func (b *Bot) handleReset(ctx context.Context, message *tgbotapi.Message) {
	userID := message.From.ID
	b.clearState(userID)
	if err := b.personas.Clear(ctx, userID); err != nil {
		b.logger.Warn("Failed to clear persona", zap.Int64("user_id", userID), zap.Error(err))
	}
	b.reply(message.Chat.ID, "🔄 Conversation reset!")
}

// handleRegisterBot registers a tenant bot for the caller
func (b *Bot) handleRegisterBot(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	token := strings.TrimSpace(message.CommandArguments())
	if token == "" {
		b.reply(chatID, "❌ Usage: /registerbot <bot_token>\n\nGet a token from @BotFather.")
		return
	}

	// The token should not stay in the chat history
	if err := b.client.Request(tgbotapi.NewDeleteMessage(chatID, message.MessageID)); err != nil {
		b.logger.Debug("Failed to delete token message", zap.Error(err))
	}

	owner := profileOf(message.From)
	bot, err := b.lifecycle.Register(ctx, token, owner)
	if err != nil {
		b.logger.Warn("Bot registration failed", zap.Int64("user_id", owner.UserID), zap.Error(err))
		b.replyError(chatID, err)
		return
	}

	text := fmt.Sprintf("✅ Bot registered!\n\n🆔 Bot ID: %d\n🤖 Username: %s\n\n⏳ Waiting for admin approval.",
		bot.ID, handleOf(bot.Handle))
	if bot.NeedsVerification {
		text += "\n⚠️ The token could not be verified right now, an admin will check it."
	}
	b.reply(chatID, text)

	b.notifyAdmins(fmt.Sprintf("🆕 New bot registration\n\n🆔 Bot ID: %d\n🤖 Username: %s\n👤 Owner: %s (%d)\n\nUse /approvebot %d",
		bot.ID, handleOf(bot.Handle), owner.FullName(), owner.UserID, bot.ID))
}

// handleMyBots lists the caller's bots
func (b *Bot) handleMyBots(ctx context.Context, message *tgbotapi.Message) {
	bots, err := b.lifecycle.List(ctx, models.ClientBotFilter{OwnerID: message.From.ID})
	if err != nil {
		b.replyError(message.Chat.ID, err)
		return
	}
	if len(bots) == 0 {
		b.reply(message.Chat.ID, "You have not registered any bots yet. Use /registerbot <token>.")
		return
	}

	var text strings.Builder
	text.WriteString("🤖 Your bots:\n\n")
	for _, bot := range bots {
		text.WriteString(describeBotLine(bot))
		text.WriteString("\n")
	}
	b.reply(message.Chat.ID, text.String())
}
