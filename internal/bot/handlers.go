package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"relaybot/internal/apperr"
)

// adminCommands require the caller to be on the admin allowlist
var adminCommands = map[string]bool{
	"approvebot":       true,
	"enablebot":        true,
	"disablebot":       true,
	"deletebot":        true,
	"listbots":         true,
	"pendingbots":      true,
	"botstatus":        true,
	"broadcast":        true,
	"botbroadcast":     true,
	"masterbroadcast":  true,
	"ban":              true,
	"unban":            true,
	"broadcasthistory": true,
	"recentmembers":    true,
	"stats":            true,
	"activity":         true,
}

// handleMessage processes a single message
func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	// Recover from panics to prevent bot crashes
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from panic in handleMessage",
				zap.Any("panic", r),
				zap.Int64("user_id", message.From.ID),
			)
			b.reply(message.Chat.ID, "An error occurred while processing your request. Please try again.")
		}
	}()

	userID := message.From.ID

	// Check if user is in a conversation
	if state, ok := b.state(userID); ok {
		if message.IsCommand() {
			// Allow any command to interrupt/cancel an ongoing conversation
			b.clearState(userID)
			if message.Command() == "cancel" {
				b.reply(message.Chat.ID, "❌ Cancelled.")
				return
			}
		} else {
			b.handleConversation(ctx, message, state)
			return
		}
	}

	if !message.IsCommand() {
		if strings.TrimSpace(message.Text) == "" {
			return
		}
		b.handleRelay(ctx, message)
		return
	}

	command := message.Command()
	if adminCommands[command] && !b.isAdmin(userID) {
		b.logger.Warn("Unauthorized access attempt",
			zap.Int64("user_id", userID),
			zap.String("username", message.From.UserName),
			zap.String("command", command),
		)
		b.replyError(message.Chat.ID, apperr.ErrUnauthorized)
		return
	}

	switch command {
	case "start":
		b.handleStart(ctx, message)
	case "help":
		b.handleHelp(message)
	case "persona":
		b.handlePersona(ctx, message)
	case "reset":
		b.handleReset(ctx, message)
	case "cancel":
		b.reply(message.Chat.ID, "Nothing to cancel.")
	case "registerbot":
		b.handleRegisterBot(ctx, message)
	case "mybots":
		b.handleMyBots(ctx, message)
	case "approvebot":
		b.handleApproveBot(ctx, message)
	case "enablebot":
		b.handleEnableBot(ctx, message)
	case "disablebot":
		b.handleDisableBot(ctx, message)
	case "deletebot":
		b.handleDeleteBot(ctx, message)
	case "listbots":
		b.handleListBots(ctx, message, false)
	case "pendingbots":
		b.handleListBots(ctx, message, true)
	case "botstatus":
		b.handleBotStatus(ctx, message)
	case "broadcast":
		b.handleBroadcastStart(ctx, message)
	case "botbroadcast":
		b.handleBotBroadcast(ctx, message)
	case "masterbroadcast":
		b.handleMasterBroadcast(ctx, message)
	case "ban":
		b.handleBan(ctx, message, true)
	case "unban":
		b.handleBan(ctx, message, false)
	case "broadcasthistory":
		b.handleBroadcastHistory(ctx, message)
	case "recentmembers":
		b.handleRecentMembers(ctx, message)
	case "stats":
		b.handleStats(ctx, message)
	case "activity":
		b.handleActivity(ctx, message)
	default:
		b.reply(message.Chat.ID, "Unknown command. Use /help to see available commands.")
	}
}

// handleCallbackQuery processes inline keyboard button clicks
func (b *Bot) handleCallbackQuery(ctx context.Context, query *tgbotapi.CallbackQuery) {
	// Recover from panics
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from panic in handleCallbackQuery", zap.Any("panic", r))
		}
	}()

	userID := query.From.ID

	// Answer the callback query to remove loading state
	if err := b.client.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
		b.logger.Debug("Failed to answer callback query", zap.Error(err))
	}

	if !b.isAdmin(userID) {
		b.logger.Warn("Unauthorized callback query attempt",
			zap.Int64("user_id", userID),
			zap.String("username", query.From.UserName),
			zap.String("callback_data", query.Data),
		)
		return
	}

	if query.Message == nil {
		return
	}

	// Handle callback based on prefix
	if strings.HasPrefix(query.Data, "broadcast:") {
		b.handleBroadcastCallback(ctx, query)
	}
}

func (b *Bot) isAdmin(userID int64) bool {
	return b.admins[userID]
}

// state returns a copy of the user's conversation state
func (b *Bot) state(userID int64) (ConversationState, bool) {
	b.statesMu.RLock()
	defer b.statesMu.RUnlock()
	state, ok := b.states[userID]
	return state.clone(), ok
}

func (b *Bot) setState(userID int64, state ConversationState) {
	b.statesMu.Lock()
	defer b.statesMu.Unlock()
	b.states[userID] = state.clone()
}

// advanceState stores next only while the user is still at prev's command and step.
// It returns false when another update changed the conversation in between.
func (b *Bot) advanceState(userID int64, prev, next ConversationState) bool {
	b.statesMu.Lock()
	defer b.statesMu.Unlock()

	current, ok := b.states[userID]
	if !ok || current.Command != prev.Command || current.Step != prev.Step {
		return false
	}
	if next.Step == -1 {
		delete(b.states, userID)
		return true
	}
	b.states[userID] = next.clone()
	return true
}

// takeState removes and returns the state if the user is at command and step
func (b *Bot) takeState(userID int64, command string, step int) (ConversationState, bool) {
	b.statesMu.Lock()
	defer b.statesMu.Unlock()

	state, ok := b.states[userID]
	if !ok || state.Command != command || state.Step != step {
		return ConversationState{}, false
	}
	delete(b.states, userID)
	return state, true
}

func (b *Bot) clearState(userID int64) {
	b.statesMu.Lock()
	defer b.statesMu.Unlock()
	delete(b.states, userID)
}
