package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"relaybot/internal/apperr"
	"relaybot/internal/gateway"
	"relaybot/internal/metrics"
	"relaybot/internal/models"
	"relaybot/internal/storage"
)

// bootConcurrency bounds how many tenant bots connect at once during StartActive
const bootConcurrency = 4

// Runner owns the running tenant bot handles
type Runner interface {
	Start(ctx context.Context, botID int64, credential string) error
	Stop(botID int64) error
	IsRunning(botID int64) bool
	List() []int64
	StopAll()
}

// Gateway resolves bot credentials against the messaging platform
type Gateway interface {
	ResolveIdentity(ctx context.Context, credential string) (gateway.Identity, error)
	Forget(credential string)
}

// BotStatus combines the stored record with the live registry state
type BotStatus struct {
	Bot     models.TenantBot
	Running bool
}

// Overview summarizes all tenant bots
type Overview struct {
	Stats   models.ClientBotStats
	Running []int64
}

// Service implements the tenant bot lifecycle: register, approve, enable, disable, delete
type Service struct {
	store   storage.Storage
	runner  Runner
	gateway Gateway
	logger  *zap.Logger
	now     func() time.Time
}

// NewService creates a lifecycle service
func NewService(store storage.Storage, runner Runner, gw Gateway, logger *zap.Logger) *Service {
	return &Service{
		store:   store,
		runner:  runner,
		gateway: gw,
		logger:  logger.Named("lifecycle"),
		now:     time.Now,
	}
}

// Register validates the credential and stores a new bot awaiting approval.
// A rate-limited identity check still registers the bot, flagged for manual verification.
func (s *Service) Register(ctx context.Context, credential string, owner models.Profile) (bot *models.TenantBot, err error) {
	defer func() { metrics.RecordLifecycle("register", err) }()

	credential = strings.TrimSpace(credential)
	if err := gateway.ValidateCredential(credential); err != nil {
		return nil, err
	}

	if _, err := s.store.GetClientBotByCredential(ctx, credential); err == nil {
		return nil, fmt.Errorf("bot token: %w", apperr.ErrDuplicate)
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	record := models.TenantBot{
		Credential:       credential,
		OwnerID:          owner.UserID,
		OwnerDisplayName: owner.FullName(),
		RegisteredAt:     s.now(),
	}

	identity, err := s.gateway.ResolveIdentity(ctx, credential)
	switch {
	case err == nil:
		record.DisplayName = identity.Name
		record.Handle = identity.Handle
	case errors.Is(err, gateway.ErrRateLimited):
		s.logger.Warn("Identity check rate limited, registering for manual verification",
			zap.Int64("owner_id", owner.UserID),
		)
		record.NeedsVerification = true
	default:
		return nil, err
	}

	id, err := s.store.CreateClientBot(ctx, record)
	if err != nil {
		return nil, err
	}
	record.ID = id

	s.logger.Info("Tenant bot registered",
		zap.Int64("bot_id", id),
		zap.Int64("owner_id", owner.UserID),
		zap.String("bot_username", record.Handle),
		zap.Bool("needs_verification", record.NeedsVerification),
	)
	return &record, nil
}

// Approve marks the bot approved. Approving twice is not an error. Nothing is started.
func (s *Service) Approve(ctx context.Context, botID int64) (err error) {
	defer func() { metrics.RecordLifecycle("approve", err) }()

	if err := s.store.SetClientBotApproved(ctx, botID); err != nil {
		return err
	}
	s.logger.Info("Tenant bot approved", zap.Int64("bot_id", botID))
	return nil
}

// Enable marks the bot active and starts it.
// If the start fails the stored flag is rolled back and the start error returned.
func (s *Service) Enable(ctx context.Context, botID int64) (err error) {
	defer func() { metrics.RecordLifecycle("enable", err) }()

	bot, err := s.store.GetClientBot(ctx, botID)
	if err != nil {
		return err
	}
	if !bot.IsApproved {
		return fmt.Errorf("bot %d: %w", botID, apperr.ErrNotApproved)
	}
	if s.runner.IsRunning(botID) {
		return fmt.Errorf("bot %d: %w", botID, apperr.ErrAlreadyRunning)
	}

	if err := s.store.SetClientBotActive(ctx, botID, true, s.now()); err != nil {
		return err
	}

	startErr := s.runner.Start(ctx, botID, bot.Credential)
	if startErr == nil {
		s.logger.Info("Tenant bot enabled", zap.Int64("bot_id", botID))
		return nil
	}
	if errors.Is(startErr, apperr.ErrAlreadyRunning) || errors.Is(startErr, apperr.ErrBusy) {
		// Another start or stop owns the bot and settles the active flag itself
		return startErr
	}

	s.logger.Warn("Tenant bot failed to start, rolling back",
		zap.Int64("bot_id", botID),
		zap.Error(startErr),
	)
	if rbErr := s.store.SetClientBotActive(ctx, botID, false, s.now()); rbErr != nil {
		s.logger.Error("Failed to roll back active flag", zap.Int64("bot_id", botID), zap.Error(rbErr))
		return errors.Join(startErr, rbErr)
	}
	return startErr
}

// Disable stops the bot if it runs and marks it inactive
func (s *Service) Disable(ctx context.Context, botID int64) (err error) {
	defer func() { metrics.RecordLifecycle("disable", err) }()

	if _, err := s.store.GetClientBot(ctx, botID); err != nil {
		return err
	}

	s.stopQuietly(botID)

	if err := s.store.SetClientBotActive(ctx, botID, false, s.now()); err != nil {
		return err
	}
	s.logger.Info("Tenant bot disabled", zap.Int64("bot_id", botID))
	return nil
}

// Delete stops the bot if it runs and removes its record
func (s *Service) Delete(ctx context.Context, botID int64) (err error) {
	defer func() { metrics.RecordLifecycle("delete", err) }()

	bot, err := s.store.GetClientBot(ctx, botID)
	if err != nil {
		return err
	}

	s.stopQuietly(botID)

	if err := s.store.DeleteClientBot(ctx, botID); err != nil {
		return err
	}
	s.gateway.Forget(bot.Credential)

	s.logger.Info("Tenant bot deleted", zap.Int64("bot_id", botID))
	return nil
}

func (s *Service) stopQuietly(botID int64) {
	if err := s.runner.Stop(botID); err != nil && !errors.Is(err, apperr.ErrNotRunning) {
		s.logger.Warn("Failed to stop tenant bot", zap.Int64("bot_id", botID), zap.Error(err))
	}
}

// List returns stored bots matching the filter
func (s *Service) List(ctx context.Context, filter models.ClientBotFilter) ([]models.TenantBot, error) {
	return s.store.ListClientBots(ctx, filter)
}

// Status returns one bot together with its live state
func (s *Service) Status(ctx context.Context, botID int64) (*BotStatus, error) {
	bot, err := s.store.GetClientBot(ctx, botID)
	if err != nil {
		return nil, err
	}
	return &BotStatus{Bot: *bot, Running: s.runner.IsRunning(botID)}, nil
}

// Overview returns aggregate stats and the running set
func (s *Service) Overview(ctx context.Context) (*Overview, error) {
	stats, err := s.store.GetClientBotStats(ctx)
	if err != nil {
		return nil, err
	}
	return &Overview{Stats: stats, Running: s.runner.List()}, nil
}

// IsRunning reports whether the bot currently receives traffic
func (s *Service) IsRunning(botID int64) bool {
	return s.runner.IsRunning(botID)
}

// StartActive starts every approved and active bot.
// Bots that fail to start are flipped back to inactive. Returns how many started.
func (s *Service) StartActive(ctx context.Context) (int, error) {
	bots, err := s.store.ListClientBots(ctx, models.ClientBotFilter{ActiveOnly: true})
	if err != nil {
		return 0, err
	}

	started := make([]bool, len(bots))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bootConcurrency)

	for i, bot := range bots {
		g.Go(func() error {
			err := s.runner.Start(gctx, bot.ID, bot.Credential)
			metrics.RecordLifecycle("boot", err)
			if err == nil {
				started[i] = true
				return nil
			}

			s.logger.Warn("Tenant bot failed to start at boot",
				zap.Int64("bot_id", bot.ID),
				zap.Error(err),
			)
			if err := s.store.SetClientBotActive(gctx, bot.ID, false, s.now()); err != nil {
				s.logger.Error("Failed to mark tenant bot inactive", zap.Int64("bot_id", bot.ID), zap.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	count := 0
	for _, ok := range started {
		if ok {
			count++
		}
	}
	s.logger.Info("Tenant bots started", zap.Int("started", count), zap.Int("active", len(bots)))
	return count, nil
}

// StopAll stops every running tenant bot
func (s *Service) StopAll() {
	s.runner.StopAll()
}
