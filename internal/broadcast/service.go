package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"relaybot/internal/apperr"
	"relaybot/internal/metrics"
	"relaybot/internal/models"
	"relaybot/internal/storage"
)

// Sender delivers one text message through the bot owning credential
type Sender interface {
	SendText(ctx context.Context, credential string, chatID int64, text string) error
}

// Service fans a message out to a recipient set, one send at a time
type Service struct {
	store             storage.Storage
	analytics         storage.Analytics
	sender            Sender
	primaryCredential string
	limiter           *rate.Limiter
	logger            *zap.Logger
	now               func() time.Time
}

// NewService creates a broadcast service. Sends are spaced at least interval apart.
func NewService(store storage.Storage, analytics storage.Analytics, sender Sender, primaryCredential string, interval time.Duration, logger *zap.Logger) *Service {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Service{
		store:             store,
		analytics:         analytics,
		sender:            sender,
		primaryCredential: primaryCredential,
		limiter:           rate.NewLimiter(limit, 1),
		logger:            logger.Named("broadcast"),
		now:               time.Now,
	}
}

// Primary sends text to every user of the primary bot who is not banned
func (s *Service) Primary(ctx context.Context, initiatorID int64, text string) (*models.BroadcastRecord, error) {
	if err := validate(text); err != nil {
		return nil, err
	}

	recipients, err := s.store.ListRecipientIDs(ctx)
	if err != nil {
		return nil, err
	}

	record := &models.BroadcastRecord{
		Scope:          models.ScopePrimary,
		InitiatorID:    initiatorID,
		MessageText:    text,
		RecipientCount: len(recipients),
	}
	runErr := s.deliver(ctx, s.primaryCredential, recipients, text, record)
	return s.finish(ctx, record, runErr)
}

// Tenant sends text to every user of one tenant bot, through that bot
func (s *Service) Tenant(ctx context.Context, initiatorID, botID int64, text string) (*models.BroadcastRecord, error) {
	if err := validate(text); err != nil {
		return nil, err
	}

	bot, err := s.store.GetClientBot(ctx, botID)
	if err != nil {
		return nil, err
	}
	recipients, err := s.store.ListClientBotUserIDs(ctx, botID)
	if err != nil {
		return nil, err
	}

	record := &models.BroadcastRecord{
		Scope:          models.ScopeTenant,
		BotID:          botID,
		InitiatorID:    initiatorID,
		MessageText:    text,
		RecipientCount: len(recipients),
	}
	runErr := s.deliver(ctx, bot.Credential, recipients, text, record)
	return s.finish(ctx, record, runErr)
}

// AllTenants sends text to the users of every approved and active tenant bot,
// each through its own bot. One record covers the whole run.
func (s *Service) AllTenants(ctx context.Context, initiatorID int64, text string) (*models.BroadcastRecord, error) {
	if err := validate(text); err != nil {
		return nil, err
	}

	bots, err := s.store.ListClientBots(ctx, models.ClientBotFilter{ActiveOnly: true})
	if err != nil {
		return nil, err
	}

	type batch struct {
		credential string
		recipients []int64
	}
	batches := make([]batch, 0, len(bots))
	record := &models.BroadcastRecord{
		Scope:       models.ScopeAllTenants,
		InitiatorID: initiatorID,
		MessageText: text,
	}
	for _, bot := range bots {
		recipients, err := s.store.ListClientBotUserIDs(ctx, bot.ID)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch{credential: bot.Credential, recipients: recipients})
		record.RecipientCount += len(recipients)
	}

	var runErr error
	for _, b := range batches {
		if runErr = s.deliver(ctx, b.credential, b.recipients, text, record); runErr != nil {
			break
		}
	}
	return s.finish(ctx, record, runErr)
}

// History returns the latest broadcasts, optionally for one initiator
func (s *Service) History(ctx context.Context, initiatorID int64, limit int) ([]models.BroadcastRecord, error) {
	return s.store.ListBroadcasts(ctx, initiatorID, limit)
}

// Stats aggregates the broadcast history
func (s *Service) Stats(ctx context.Context) (models.BroadcastStats, error) {
	return s.store.GetBroadcastStats(ctx)
}

func validate(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("broadcast text is empty: %w", apperr.ErrValidation)
	}
	return nil
}

// deliver sends to each recipient in order. A failed send is counted and skipped.
// Returns a non-nil error only when ctx ends before every recipient was tried.
func (s *Service) deliver(ctx context.Context, credential string, recipients []int64, text string, record *models.BroadcastRecord) error {
	for _, chatID := range recipients {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("broadcast interrupted: %w", err)
		}

		if err := s.sender.SendText(ctx, credential, chatID, text); err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("broadcast interrupted: %w", ctx.Err())
			}
			record.FailureCount++
			metrics.RecordDelivery(false)
			s.logger.Warn("Broadcast delivery failed",
				zap.Int64("chat_id", chatID),
				zap.Int64("bot_id", record.BotID),
				zap.Error(err),
			)
			continue
		}
		record.SuccessCount++
		metrics.RecordDelivery(true)
	}
	return nil
}

// finish persists the record, also after an interrupted run
func (s *Service) finish(ctx context.Context, record *models.BroadcastRecord, runErr error) (*models.BroadcastRecord, error) {
	record.Timestamp = s.now()
	persistCtx := context.WithoutCancel(ctx)

	id, err := s.store.InsertBroadcast(persistCtx, *record)
	if err != nil {
		if !errors.Is(err, apperr.ErrPersistence) {
			err = fmt.Errorf("%w: %v", apperr.ErrPersistence, err)
		}
		s.logger.Error("Failed to save broadcast record",
			zap.Int("recipients", record.RecipientCount),
			zap.Int("delivered", record.SuccessCount),
			zap.Error(err),
		)
		return record, errors.Join(runErr, fmt.Errorf("failed to save broadcast record: %w", err))
	}
	record.ID = id

	if err := s.analytics.RecordBroadcast(persistCtx, *record); err != nil {
		s.logger.Warn("Failed to record broadcast analytics", zap.Int64("broadcast_id", id), zap.Error(err))
	}

	s.logger.Info("Broadcast completed",
		zap.Int64("broadcast_id", id),
		zap.String("scope", string(record.Scope)),
		zap.Int("recipients", record.RecipientCount),
		zap.Int("delivered", record.SuccessCount),
		zap.Int("failed", record.FailureCount),
	)
	return record, runErr
}
