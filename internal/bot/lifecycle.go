package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Start runs the bot in polling mode until ctx is done
func (b *Bot) Start(ctx context.Context) error {
	b.logger.Info("Starting bot in polling mode")

	// Remove webhook (if any was set previously)
	if err := b.client.Online(ctx); err != nil {
		return fmt.Errorf("failed to bring bot online: %w", err)
	}

	b.logger.Info("Bot started successfully. Waiting for updates...")

	// Handle updates (blocks here)
	b.client.Listen(ctx, b.HandleUpdate)
	return nil
}

// StartWebhook registers webhookURL + "/telegram-webhook" as the update endpoint
func (b *Bot) StartWebhook(webhookURL string) error {
	endpoint := webhookURL + "/telegram-webhook"
	b.logger.Info("Setting up webhook", zap.String("webhook_url", endpoint))

	if err := b.client.SetWebhook(endpoint); err != nil {
		b.logger.Error("Failed to set webhook", zap.Error(err), zap.String("webhook_url", endpoint))
		return err
	}

	b.logger.Info("Bot configured for webhook mode")
	return nil
}

// HandleUpdate processes a single update from polling or the webhook
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	// Handle regular messages
	if update.Message != nil && update.Message.From != nil {
		b.handleMessage(ctx, update.Message)
	}

	// Handle callback queries (inline keyboard button clicks)
	if update.CallbackQuery != nil && update.CallbackQuery.From != nil {
		b.handleCallbackQuery(ctx, update.CallbackQuery)
	}
}

// runJob runs fn outside the update loop. Jobs are cancelled by Close.
func (b *Bot) runJob(name string, fn func(ctx context.Context)) {
	b.jobs.Add(1)
	go func() {
		defer b.jobs.Done()
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("Recovered from panic in background job",
					zap.String("job", name),
					zap.Any("panic", r),
				)
			}
		}()
		fn(b.jobsCtx)
	}()
}

// Wait blocks until every background job has finished
func (b *Bot) Wait() {
	b.jobs.Wait()
}

// Close cancels running jobs, waits for them and closes the client
func (b *Bot) Close() {
	b.cancelJobs()
	b.jobs.Wait()
	b.client.Close()
}
