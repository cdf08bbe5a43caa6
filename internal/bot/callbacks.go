package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"relaybot/internal/apperr"
)

// handleBroadcastCallback processes the Confirm/Cancel buttons of a broadcast preview
func (b *Bot) handleBroadcastCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	userID := query.From.ID
	chatID := query.Message.Chat.ID
	messageID := query.Message.MessageID

	// Taking the state makes a double-tapped Confirm send at most once
	state, ok := b.takeState(userID, "broadcast", 2)
	if !ok {
		b.edit(chatID, messageID, "❌ No pending broadcast found!")
		return
	}
	text, _ := state.Data["text"].(string)

	switch query.Data {
	case callbackBroadcastCancel:
		b.edit(chatID, messageID, "❌ Broadcast cancelled.")

	case callbackBroadcastConfirm:
		b.edit(chatID, messageID, "⏳ Broadcasting message... Please wait.")
		b.logger.Info("Broadcast confirmed", zap.Int64("admin_id", userID))

		b.runJob("broadcast", func(jobCtx context.Context) {
			record, err := b.broadcasts.Primary(jobCtx, userID, text)
			switch {
			case record == nil:
				b.edit(chatID, messageID, "❌ Broadcast failed!\n\n"+apperr.Message(err))
			case err != nil:
				b.logger.Warn("Broadcast finished with error", zap.Error(err))
				b.edit(chatID, messageID, describeBroadcast(record)+"\n\n⚠️ The broadcast did not finish cleanly, see logs.")
			default:
				b.edit(chatID, messageID, describeBroadcast(record))
			}
		})
	}
}
