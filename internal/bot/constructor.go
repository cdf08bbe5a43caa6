package bot

import (
	"context"

	"go.uber.org/zap"

	"relaybot/internal/gateway"
)

// NewBot creates the primary bot on top of a connected client
func NewBot(client gateway.Client, svc Services, settings Settings, logger *zap.Logger) *Bot {
	admins := make(map[int64]bool)
	for _, id := range settings.AdminIDs {
		admins[id] = true
	}

	allowed := make(map[string]bool)
	for _, name := range settings.Personas {
		allowed[name] = true
	}

	jobsCtx, cancel := context.WithCancel(context.Background())

	logger.Info("Bot created",
		zap.String("bot_username", client.Self().Handle),
		zap.Int("admins", len(admins)),
	)

	return &Bot{
		client:         client,
		db:             svc.Store,
		analytics:      svc.Analytics,
		lifecycle:      svc.Lifecycle,
		broadcasts:     svc.Broadcasts,
		chat:           svc.Chat,
		personas:       svc.Personas,
		admins:         admins,
		defaultPersona: settings.DefaultPersona,
		allowedPersona: allowed,
		states:         make(map[int64]ConversationState),
		jobsCtx:        jobsCtx,
		cancelJobs:     cancel,
		logger:         logger.Named("bot"),
	}
}

// Client returns the underlying gateway client
func (b *Bot) Client() gateway.Client {
	return b.client
}
