package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"relaybot/internal/apperr"
	"relaybot/internal/gateway"
	"relaybot/internal/metrics"
)

// ClientFactory connects a messaging client for a bot credential
type ClientFactory func(credential string) (gateway.Client, error)

// MessageHandlerSet provides the update handler a running tenant bot is wired to
type MessageHandlerSet interface {
	HandlerFor(botID int64, client gateway.Client) gateway.UpdateHandler
}

type handle struct {
	client gateway.Client
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry tracks the tenant bots currently receiving traffic in this process.
// Start and Stop for the same id never run concurrently.
type Registry struct {
	mu      sync.Mutex
	handles map[int64]*handle
	busy    map[int64]struct{}

	newClient   ClientFactory
	handlers    MessageHandlerSet
	stopTimeout time.Duration
	logger      *zap.Logger
}

// New creates an empty registry
func New(newClient ClientFactory, handlers MessageHandlerSet, stopTimeout time.Duration, logger *zap.Logger) *Registry {
	return &Registry{
		handles:     make(map[int64]*handle),
		busy:        make(map[int64]struct{}),
		newClient:   newClient,
		handlers:    handlers,
		stopTimeout: stopTimeout,
		logger:      logger.Named("registry"),
	}
}

// IsRunning reports whether the bot has a live handle
func (r *Registry) IsRunning(botID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handles[botID]
	return ok
}

// List returns the ids of running bots in ascending order
func (r *Registry) List() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]int64, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// acquire reserves botID for a start or stop. It fails with ErrBusy if the id is
// already reserved, and otherwise when the running state does not match wantRunning.
func (r *Registry) acquire(botID int64, wantRunning bool) (*handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.busy[botID]; ok {
		return nil, fmt.Errorf("bot %d: %w", botID, apperr.ErrBusy)
	}

	h, running := r.handles[botID]
	if wantRunning && !running {
		return nil, fmt.Errorf("bot %d: %w", botID, apperr.ErrNotRunning)
	}
	if !wantRunning && running {
		return nil, fmt.Errorf("bot %d: %w", botID, apperr.ErrAlreadyRunning)
	}

	if wantRunning {
		delete(r.handles, botID)
		metrics.SetTenantBotsRunning(len(r.handles))
	}
	r.busy[botID] = struct{}{}
	return h, nil
}

func (r *Registry) release(botID int64, h *handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.busy, botID)
	if h != nil {
		r.handles[botID] = h
		metrics.SetTenantBotsRunning(len(r.handles))
	}
}

// Start connects the bot and begins receiving its updates.
// Any failure before the receive loop starts leaves the registry unchanged.
func (r *Registry) Start(ctx context.Context, botID int64, credential string) error {
	if _, err := r.acquire(botID, false); err != nil {
		return err
	}

	var started *handle
	defer func() {
		r.release(botID, started)
	}()

	client, err := r.connect(credential)
	if err != nil {
		return fmt.Errorf("failed to connect bot %d: %w", botID, err)
	}

	handler := r.handlers.HandlerFor(botID, client)
	if err := client.Online(ctx); err != nil {
		client.Close()
		return fmt.Errorf("failed to bring bot %d online: %w", botID, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	h := &handle{client: client, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		client.Listen(loopCtx, handler)
	}()

	started = h
	r.logger.Info("Tenant bot started",
		zap.Int64("bot_id", botID),
		zap.String("bot_username", client.Self().Handle),
	)
	return nil
}

func (r *Registry) connect(credential string) (client gateway.Client, err error) {
	defer func() {
		if p := recover(); p != nil {
			client = nil
			err = fmt.Errorf("client construction panicked: %v", p)
		}
	}()
	return r.newClient(credential)
}

// Stop halts the bot's receive loop and removes it.
// The entry is removed even when shutdown does not finish within the stop timeout.
func (r *Registry) Stop(botID int64) error {
	h, err := r.acquire(botID, true)
	if err != nil {
		return err
	}
	defer r.release(botID, nil)

	h.cancel()
	h.client.Close()

	select {
	case <-h.done:
		r.logger.Info("Tenant bot stopped", zap.Int64("bot_id", botID))
	case <-time.After(r.stopTimeout):
		r.logger.Warn("Tenant bot did not stop in time, removed anyway",
			zap.Int64("bot_id", botID),
			zap.Duration("timeout", r.stopTimeout),
		)
	}
	return nil
}

// StopAll stops every running bot
func (r *Registry) StopAll() {
	for _, id := range r.List() {
		if err := r.Stop(id); err != nil {
			r.logger.Warn("Failed to stop tenant bot", zap.Int64("bot_id", id), zap.Error(err))
		}
	}
}
