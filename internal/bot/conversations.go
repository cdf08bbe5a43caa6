package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	callbackBroadcastConfirm = "broadcast:confirm"
	callbackBroadcastCancel  = "broadcast:cancel"
)

// handleBroadcastStart initiates the broadcast conversation
func (b *Bot) handleBroadcastStart(ctx context.Context, message *tgbotapi.Message) {
	recipients, err := b.db.ListRecipientIDs(ctx)
	if err != nil {
		b.replyError(message.Chat.ID, err)
		return
	}

	b.setState(message.From.ID, ConversationState{
		Command: "broadcast",
		Step:    1,
		Data:    make(map[string]interface{}),
	})

	b.reply(message.Chat.ID, fmt.Sprintf("📢 Broadcast Message\n\n👥 Total Users: %d\n\n📝 Send the message you want to broadcast:\n\n(Send /cancel to cancel)",
		len(recipients)))
}

// handleConversation processes multi-step conversations
func (b *Bot) handleConversation(ctx context.Context, message *tgbotapi.Message, state ConversationState) {
	switch state.Command {
	case "broadcast":
		b.handleBroadcastConversation(ctx, message, state)
	}
}

// handleBroadcastConversation handles the broadcast compose and preview steps
func (b *Bot) handleBroadcastConversation(ctx context.Context, message *tgbotapi.Message, state ConversationState) {
	userID := message.From.ID

	switch state.Step {
	case 1: // Waiting for broadcast text
		text := strings.TrimSpace(message.Text)
		if text == "" {
			b.reply(message.Chat.ID, "Please send a text message, or /cancel.")
			return
		}

		recipients, err := b.db.ListRecipientIDs(ctx)
		if err != nil {
			b.advanceState(userID, state, ConversationState{Step: -1})
			b.replyError(message.Chat.ID, err)
			return
		}

		next := state.clone()
		if next.Data == nil {
			next.Data = make(map[string]interface{})
		}
		next.Data["text"] = text
		next.Step = 2
		if !b.advanceState(userID, state, next) {
			// The conversation was cancelled or finished meanwhile
			return
		}

		keyboard := tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("✅ Confirm & Send", callbackBroadcastConfirm),
				tgbotapi.NewInlineKeyboardButtonData("❌ Cancel", callbackBroadcastCancel),
			),
		)
		preview := fmt.Sprintf("📢 Broadcast Preview\n\nMessage:\n%s\n\n👥 Will be sent to: %d users\n\nConfirm to send?",
			text, len(recipients))
		b.replyWithMarkup(message.Chat.ID, preview, keyboard)

	case 2: // Waiting for the Confirm/Cancel button
		b.reply(message.Chat.ID, "Please use the buttons above to confirm or cancel the broadcast.")
	}
}
