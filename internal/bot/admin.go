package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"relaybot/internal/models"
)

const (
	historyLimit  = 5
	membersLimit  = 10
	activityLimit = 10
	activityRange = 7 * 24 * time.Hour
)

// botIDArg parses the bot id argument or replies with usage
func (b *Bot) botIDArg(message *tgbotapi.Message) (int64, bool) {
	id, err := parseID(message.CommandArguments(), "bot id")
	if err != nil {
		b.reply(message.Chat.ID, fmt.Sprintf("%s\n\nUsage: /%s <bot_id>", err.Error(), message.Command()))
		return 0, false
	}
	return id, true
}

func (b *Bot) handleApproveBot(ctx context.Context, message *tgbotapi.Message) {
	id, ok := b.botIDArg(message)
	if !ok {
		return
	}
	if err := b.lifecycle.Approve(ctx, id); err != nil {
		b.replyError(message.Chat.ID, err)
		return
	}
	b.logger.Info("Bot approved by admin", zap.Int64("bot_id", id), zap.Int64("admin_id", message.From.ID))
	b.reply(message.Chat.ID, fmt.Sprintf("✅ Bot %d approved.\n\nUse /enablebot %d to start it.", id, id))
}

func (b *Bot) handleEnableBot(ctx context.Context, message *tgbotapi.Message) {
	id, ok := b.botIDArg(message)
	if !ok {
		return
	}
	if err := b.lifecycle.Enable(ctx, id); err != nil {
		b.logger.Warn("Failed to enable bot", zap.Int64("bot_id", id), zap.Int64("admin_id", message.From.ID), zap.Error(err))
		b.replyError(message.Chat.ID, err)
		return
	}

	status, err := b.lifecycle.Status(ctx, id)
	if err != nil {
		b.reply(message.Chat.ID, fmt.Sprintf("✅ Bot %d started.", id))
		return
	}
	b.logger.Info("Bot started by admin", zap.Int64("bot_id", id), zap.Int64("admin_id", message.From.ID))
	b.reply(message.Chat.ID, fmt.Sprintf("✅ Bot started successfully!\n\n🆔 Bot ID: %d\n🤖 Username: %s\n\n✨ Bot is now live.",
		id, handleOf(status.Bot.Handle)))
}

func (b *Bot) handleDisableBot(ctx context.Context, message *tgbotapi.Message) {
	id, ok := b.botIDArg(message)
	if !ok {
		return
	}
	if err := b.lifecycle.Disable(ctx, id); err != nil {
		b.replyError(message.Chat.ID, err)
		return
	}
	b.logger.Info("Bot stopped by admin", zap.Int64("bot_id", id), zap.Int64("admin_id", message.From.ID))
	b.reply(message.Chat.ID, fmt.Sprintf("✅ Bot %d stopped.\n\n🛑 Bot is now offline.", id))
}

func (b *Bot) handleDeleteBot(ctx context.Context, message *tgbotapi.Message) {
	id, ok := b.botIDArg(message)
	if !ok {
		return
	}
	if err := b.lifecycle.Delete(ctx, id); err != nil {
		b.replyError(message.Chat.ID, err)
		return
	}
	b.logger.Info("Bot deleted by admin", zap.Int64("bot_id", id), zap.Int64("admin_id", message.From.ID))
	b.reply(message.Chat.ID, fmt.Sprintf("🗑 Bot %d deleted.", id))
}

func (b *Bot) handleListBots(ctx context.Context, message *tgbotapi.Message, pendingOnly bool) {
	bots, err := b.lifecycle.List(ctx, models.ClientBotFilter{PendingOnly: pendingOnly})
	if err != nil {
		b.replyError(message.Chat.ID, err)
		return
	}
	if len(bots) == 0 {
		if pendingOnly {
			b.reply(message.Chat.ID, "No bots awaiting approval.")
		} else {
			b.reply(message.Chat.ID, "No bots registered yet.")
		}
		return
	}

	var text strings.Builder
	if pendingOnly {
		text.WriteString("⏳ Pending bots:\n\n")
	} else {
		text.WriteString("🤖 Registered bots:\n\n")
	}
	for _, bot := range bots {
		text.WriteString(describeBotLine(bot))
		fmt.Fprintf(&text, "\n   👤 %s (%d)\n", bot.OwnerDisplayName, bot.OwnerID)
	}
	b.reply(message.Chat.ID, text.String())
}

func (b *Bot) handleBotStatus(ctx context.Context, message *tgbotapi.Message) {
	if strings.TrimSpace(message.CommandArguments()) != "" {
		id, ok := b.botIDArg(message)
		if !ok {
			return
		}
		status, err := b.lifecycle.Status(ctx, id)
		if err != nil {
			b.replyError(message.Chat.ID, err)
			return
		}
		b.reply(message.Chat.ID, "📊 Bot Status\n\n"+describeBot(status.Bot, status.Running))
		return
	}

	overview, err := b.lifecycle.Overview(ctx)
	if err != nil {
		b.replyError(message.Chat.ID, err)
		return
	}
	running := "None"
	if len(overview.Running) > 0 {
		ids := make([]string, len(overview.Running))
		for i, id := range overview.Running {
			ids[i] = fmt.Sprint(id)
		}
		running = strings.Join(ids, ", ")
	}
	b.reply(message.Chat.ID, fmt.Sprintf("📊 Client Bots Overview\n\n🤖 Total Bots: %d\n🟢 Active: %d\n▶️ Running Now: %d\n⏳ Pending: %d\n\n👥 Total Users: %d\n💬 Total Messages: %d\n\nRunning Bot IDs: %s",
		overview.Stats.TotalBots, overview.Stats.ActiveBots, len(overview.Running), overview.Stats.PendingApprovals,
		overview.Stats.TotalUsers, overview.Stats.TotalMessages, running))
}

func (b *Bot) handleBan(ctx context.Context, message *tgbotapi.Message, banned bool) {
	id, err := parseID(message.CommandArguments(), "user id")
	if err != nil {
		b.reply(message.Chat.ID, fmt.Sprintf("%s\n\nUsage: /%s <user_id>", err.Error(), message.Command()))
		return
	}
	if err := b.db.SetUserBanned(ctx, id, banned); err != nil {
		b.replyError(message.Chat.ID, err)
		return
	}

	b.logger.Info("User ban flag changed",
		zap.Int64("user_id", id),
		zap.Bool("banned", banned),
		zap.Int64("admin_id", message.From.ID),
	)
	if banned {
		b.reply(message.Chat.ID, fmt.Sprintf("🚫 User %d banned.", id))
	} else {
		b.reply(message.Chat.ID, fmt.Sprintf("✅ User %d unbanned.", id))
	}
}

// handleBotBroadcast sends text to the users of one tenant bot
func (b *Bot) handleBotBroadcast(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	idArg, text := splitFirst(message.CommandArguments())
	id, err := parseID(idArg, "bot id")
	if err != nil || text == "" {
		b.reply(chatID, "❌ Usage: /botbroadcast <bot_id> <message>")
		return
	}
	if _, err := b.lifecycle.Status(ctx, id); err != nil {
		b.replyError(chatID, err)
		return
	}

	initiator := message.From.ID
	b.reply(chatID, fmt.Sprintf("⏳ Broadcasting through bot %d...", id))
	b.runJob("botbroadcast", func(jobCtx context.Context) {
		record, err := b.broadcasts.Tenant(jobCtx, initiator, id, text)
		b.reportBroadcast(chatID, record, err)
	})
}

// handleMasterBroadcast sends text to the users of every active tenant bot
func (b *Bot) handleMasterBroadcast(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	text := strings.TrimSpace(message.CommandArguments())
	if text == "" {
		b.reply(chatID, "❌ Usage: /masterbroadcast <message>")
		return
	}

	initiator := message.From.ID
	b.reply(chatID, "⏳ Broadcasting through all active bots...")
	b.runJob("masterbroadcast", func(jobCtx context.Context) {
		record, err := b.broadcasts.AllTenants(jobCtx, initiator, text)
		b.reportBroadcast(chatID, record, err)
	})
}

// reportBroadcast sends the outcome of a finished broadcast to the admin
func (b *Bot) reportBroadcast(chatID int64, record *models.BroadcastRecord, err error) {
	switch {
	case record == nil:
		b.replyError(chatID, err)
	case err != nil:
		b.logger.Warn("Broadcast finished with error", zap.Error(err))
		b.reply(chatID, describeBroadcast(record)+"\n\n⚠️ The broadcast did not finish cleanly, see logs.")
	default:
		b.reply(chatID, describeBroadcast(record))
	}
}

func (b *Bot) handleBroadcastHistory(ctx context.Context, message *tgbotapi.Message) {
	history, err := b.broadcasts.History(ctx, message.From.ID, historyLimit)
	if err != nil {
		b.replyError(message.Chat.ID, err)
		return
	}
	if len(history) == 0 {
		b.reply(message.Chat.ID, "📊 No broadcast history yet.")
		return
	}
	stats, err := b.broadcasts.Stats(ctx)
	if err != nil {
		b.replyError(message.Chat.ID, err)
		return
	}

	var text strings.Builder
	text.WriteString("📊 Broadcast History\n\n")
	fmt.Fprintf(&text, "📢 Total Broadcasts: %d\n", stats.TotalBroadcasts)
	fmt.Fprintf(&text, "✅ Messages Sent: %d\n", stats.TotalSent)
	fmt.Fprintf(&text, "❌ Failed: %d\n", stats.TotalFailed)
	fmt.Fprintf(&text, "📈 Success Rate: %.1f%%\n\n", stats.SuccessRate())
	text.WriteString("Recent Broadcasts:\n\n")
	for i, h := range history {
		fmt.Fprintf(&text, "%d. %s\n", i+1, h.MessageText)
		fmt.Fprintf(&text, "   • Scope: %s | Users: %d | Success: %d | Failed: %d\n",
			h.Scope, h.RecipientCount, h.SuccessCount, h.FailureCount)
		fmt.Fprintf(&text, "   • Date: %s\n\n", formatDate(h.Timestamp))
	}
	b.reply(message.Chat.ID, text.String())
}

func (b *Bot) handleRecentMembers(ctx context.Context, message *tgbotapi.Message) {
	members, err := b.db.RecentMembers(ctx, membersLimit)
	if err != nil {
		b.replyError(message.Chat.ID, err)
		return
	}
	if len(members) == 0 {
		b.reply(message.Chat.ID, "👥 No members yet.")
		return
	}
	stats, err := b.db.GetUserStats(ctx)
	if err != nil {
		b.replyError(message.Chat.ID, err)
		return
	}

	var text strings.Builder
	text.WriteString("👥 Recent Members\n\n")
	fmt.Fprintf(&text, "📊 Total Members: %d\n\n", stats.TotalUsers)
	for i, m := range members {
		name := models.Profile{FirstName: m.FirstName, LastName: m.LastName}.FullName()
		fmt.Fprintf(&text, "%d. %s\n", i+1, name)
		fmt.Fprintf(&text, "   • %s | ID: %d\n", handleOf(m.Handle), m.UserID)
		fmt.Fprintf(&text, "   • Joined: %s\n\n", formatDate(m.JoinedAt))
	}
	b.reply(message.Chat.ID, text.String())
}

func (b *Bot) handleStats(ctx context.Context, message *tgbotapi.Message) {
	users, err := b.db.GetUserStats(ctx)
	if err != nil {
		b.replyError(message.Chat.ID, err)
		return
	}
	overview, err := b.lifecycle.Overview(ctx)
	if err != nil {
		b.replyError(message.Chat.ID, err)
		return
	}
	broadcasts, err := b.broadcasts.Stats(ctx)
	if err != nil {
		b.replyError(message.Chat.ID, err)
		return
	}

	var text strings.Builder
	text.WriteString("📊 Statistics\n\n")
	fmt.Fprintf(&text, "👥 Users: %d (banned: %d)\n\n", users.TotalUsers, users.BannedUsers)
	fmt.Fprintf(&text, "🤖 Client bots: %d\n", overview.Stats.TotalBots)
	fmt.Fprintf(&text, "🟢 Active: %d | ▶️ Running: %d | ⏳ Pending: %d\n", overview.Stats.ActiveBots, len(overview.Running), overview.Stats.PendingApprovals)
	fmt.Fprintf(&text, "👥 Client bot users: %d | 💬 Messages: %d\n\n", overview.Stats.TotalUsers, overview.Stats.TotalMessages)
	fmt.Fprintf(&text, "📢 Broadcasts: %d\n", broadcasts.TotalBroadcasts)
	fmt.Fprintf(&text, "✅ Sent: %d | ❌ Failed: %d | 📈 %.1f%%", broadcasts.TotalSent, broadcasts.TotalFailed, broadcasts.SuccessRate())
	b.reply(message.Chat.ID, text.String())
}

func (b *Bot) handleActivity(ctx context.Context, message *tgbotapi.Message) {
	top, err := b.analytics.TopUsers(ctx, activityLimit, time.Now().Add(-activityRange))
	if err != nil {
		b.logger.Warn("Failed to load activity", zap.Error(err))
		b.reply(message.Chat.ID, "❌ Activity data is unavailable right now.")
		return
	}
	if len(top) == 0 {
		b.reply(message.Chat.ID, "No activity recorded this week.")
		return
	}

	var text strings.Builder
	text.WriteString("🔥 Most active users (7 days)\n\n")
	for i, u := range top {
		fmt.Fprintf(&text, "%d. %d: %d messages\n", i+1, u.UserID, u.Interactions)
	}
	b.reply(message.Chat.ID, text.String())
}
