package gateway

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"relaybot/internal/apperr"
)

// MaxMessageLength is the longest text Telegram accepts in one message
const MaxMessageLength = 4096

// Identity describes the bot account behind a credential
type Identity struct {
	ID     int64
	Name   string
	Handle string
}

// UpdateHandler processes one inbound update
type UpdateHandler func(ctx context.Context, update tgbotapi.Update)

// Sender delivers outbound messages
type Sender interface {
	Send(c tgbotapi.Chattable) error
}

// Client is one connected bot account
type Client interface {
	Sender
	// Self returns the identity resolved when the client was created
	Self() Identity
	// Online clears any stale webhook and drops pending updates
	Online(ctx context.Context) error
	// Listen polls for updates and calls handler for each, one at a time.
	// Blocks until ctx is done.
	Listen(ctx context.Context, handler UpdateHandler)
	// Request performs a call whose result is not a message (chat actions, callbacks, webhooks)
	Request(c tgbotapi.Chattable) error
	// SetWebhook registers url as the update endpoint
	SetWebhook(url string) error
	// Close stops receiving updates. Safe to call more than once.
	Close()
}

// SplitText cuts text into ordered chunks of at most MaxMessageLength characters
func SplitText(text string) []string {
	runes := []rune(text)
	if len(runes) <= MaxMessageLength {
		return []string{text}
	}

	chunks := make([]string, 0, len(runes)/MaxMessageLength+1)
	for start := 0; start < len(runes); start += MaxMessageLength {
		end := start + MaxMessageLength
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

// SendText sends text to a chat, splitting it into several messages when needed.
// Stops at the first chunk that fails.
func SendText(s Sender, chatID int64, text string) error {
	if text == "" {
		return fmt.Errorf("empty message: %w", apperr.ErrValidation)
	}
	for i, chunk := range SplitText(text) {
		if err := s.Send(tgbotapi.NewMessage(chatID, chunk)); err != nil {
			return fmt.Errorf("failed to send chunk %d: %w", i+1, err)
		}
	}
	return nil
}

// SendTyping shows the typing indicator in a chat
func SendTyping(c Client, chatID int64) error {
	return c.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
}
