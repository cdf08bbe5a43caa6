package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"relaybot/internal/apperr"
	"relaybot/internal/gateway"
	gwstubs "relaybot/internal/gateway/stubs"
	"relaybot/internal/models"
	"relaybot/internal/registry"
	"relaybot/internal/storage/stubs"
)

const (
	tokenT1 = "100001:AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	tokenT2 = "100002:BBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB"
)

type fakeGateway struct {
	mu        sync.Mutex
	errs      map[string]error
	forgotten []string
}

func (g *fakeGateway) ResolveIdentity(ctx context.Context, credential string) (gateway.Identity, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.errs[credential]; err != nil {
		return gateway.Identity{}, err
	}
	return gateway.Identity{ID: 1, Name: "Echo", Handle: "echo_bot"}, nil
}

func (g *fakeGateway) Forget(credential string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.forgotten = append(g.forgotten, credential)
}

type nopHandlers struct{}

func (nopHandlers) HandlerFor(botID int64, client gateway.Client) gateway.UpdateHandler {
	return func(ctx context.Context, update tgbotapi.Update) {}
}

type testEnv struct {
	svc     *Service
	db      *stubs.MockDB
	reg     *registry.Registry
	factory *gwstubs.Factory
	gateway *fakeGateway
}

func setup(t *testing.T) *testEnv {
	t.Helper()

	db := stubs.NewMockDB()
	factory := gwstubs.NewFactory()
	reg := registry.New(factory.NewClient, nopHandlers{}, time.Second, zap.NewNop())
	gw := &fakeGateway{errs: make(map[string]error)}
	svc := NewService(db, reg, gw, zap.NewNop())
	t.Cleanup(reg.StopAll)

	return &testEnv{svc: svc, db: db, reg: reg, factory: factory, gateway: gw}
}

var owner = models.Profile{UserID: 42, FirstName: "Olga", LastName: "Owner"}

func (e *testEnv) registerApproved(t *testing.T, token string) int64 {
	t.Helper()
	bot, err := e.svc.Register(context.Background(), token, owner)
	require.NoError(t, err)
	require.NoError(t, e.svc.Approve(context.Background(), bot.ID))
	return bot.ID
}

func TestRegister(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	bot, err := env.svc.Register(ctx, "  "+tokenT1+"\n", owner)
	require.NoError(t, err)
	assert.Equal(t, tokenT1, bot.Credential)
	assert.Equal(t, "Echo", bot.DisplayName)
	assert.Equal(t, "echo_bot", bot.Handle)
	assert.Equal(t, "Olga Owner", bot.OwnerDisplayName)

	stored, err := env.db.GetClientBot(ctx, bot.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsApproved)
	assert.False(t, stored.IsActive)
	assert.False(t, stored.NeedsVerification)
}

func TestRegisterDuplicateCredential(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	_, err := env.svc.Register(ctx, tokenT1, owner)
	require.NoError(t, err)

	_, err = env.svc.Register(ctx, tokenT1, models.Profile{UserID: 43})
	assert.ErrorIs(t, err, apperr.ErrDuplicate)

	bots, err := env.db.ListClientBots(ctx, models.ClientBotFilter{})
	require.NoError(t, err)
	assert.Len(t, bots, 1)
}

func TestRegisterValidation(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	_, err := env.svc.Register(ctx, "garbage", owner)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	env.gateway.errs[tokenT1] = fmt.Errorf("%w: Unauthorized", apperr.ErrInvalidCredential)
	_, err = env.svc.Register(ctx, tokenT1, owner)
	assert.ErrorIs(t, err, apperr.ErrInvalidCredential)

	env.gateway.errs[tokenT2] = fmt.Errorf("%w: connection refused", apperr.ErrAdapterUnavailable)
	_, err = env.svc.Register(ctx, tokenT2, owner)
	assert.ErrorIs(t, err, apperr.ErrAdapterUnavailable)

	bots, _ := env.db.ListClientBots(ctx, models.ClientBotFilter{})
	assert.Empty(t, bots)
}

func TestRegisterRateLimitedNeedsVerification(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	env.gateway.errs[tokenT1] = fmt.Errorf("%w: retry after 5s", gateway.ErrRateLimited)
	bot, err := env.svc.Register(ctx, tokenT1, owner)
	require.NoError(t, err)
	assert.True(t, bot.NeedsVerification)
	assert.Empty(t, bot.Handle)
}

func TestApproveIsIdempotentAndStartsNothing(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	id := env.registerApproved(t, tokenT1)
	require.NoError(t, env.svc.Approve(ctx, id))

	assert.False(t, env.reg.IsRunning(id))
	assert.Equal(t, 0, env.factory.Created())

	assert.ErrorIs(t, env.svc.Approve(ctx, 999), apperr.ErrNotFound)
}

func TestEnableUnapproved(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	bot, err := env.svc.Register(ctx, tokenT1, owner)
	require.NoError(t, err)

	err = env.svc.Enable(ctx, bot.ID)
	assert.ErrorIs(t, err, apperr.ErrNotApproved)

	stored, _ := env.db.GetClientBot(ctx, bot.ID)
	assert.False(t, stored.IsActive)
	assert.False(t, env.reg.IsRunning(bot.ID))

	assert.ErrorIs(t, env.svc.Enable(ctx, 999), apperr.ErrNotFound)
}

func TestEnableTwice(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	id := env.registerApproved(t, tokenT1)
	require.NoError(t, env.svc.Enable(ctx, id))
	assert.ErrorIs(t, env.svc.Enable(ctx, id), apperr.ErrAlreadyRunning)
	assert.Len(t, env.reg.List(), 1)
}

func TestEnableStartFailureRollsBack(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	id := env.registerApproved(t, tokenT1)
	env.factory.Fail[tokenT1] = fmt.Errorf("%w: Unauthorized", apperr.ErrInvalidCredential)

	err := env.svc.Enable(ctx, id)
	assert.ErrorIs(t, err, apperr.ErrInvalidCredential)

	stored, _ := env.db.GetClientBot(ctx, id)
	assert.False(t, stored.IsActive)
	assert.False(t, env.reg.IsRunning(id))
}

func TestEnableSurfacesPersistenceFailure(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	id := env.registerApproved(t, tokenT1)
	env.db.FailSetActive = true

	err := env.svc.Enable(ctx, id)
	assert.ErrorIs(t, err, apperr.ErrPersistence)
	assert.False(t, env.reg.IsRunning(id))
}

func TestDisableAndDelete(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	id := env.registerApproved(t, tokenT1)
	require.NoError(t, env.svc.Enable(ctx, id))

	require.NoError(t, env.svc.Disable(ctx, id))
	assert.False(t, env.reg.IsRunning(id))
	stored, _ := env.db.GetClientBot(ctx, id)
	assert.False(t, stored.IsActive)

	// Disabling a stopped bot is fine
	require.NoError(t, env.svc.Disable(ctx, id))

	require.NoError(t, env.svc.Enable(ctx, id))
	require.NoError(t, env.svc.Delete(ctx, id))
	assert.False(t, env.reg.IsRunning(id))
	_, err := env.db.GetClientBot(ctx, id)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, []string{tokenT1}, env.gateway.forgotten)

	assert.ErrorIs(t, env.svc.Disable(ctx, id), apperr.ErrNotFound)
	assert.ErrorIs(t, env.svc.Delete(ctx, id), apperr.ErrNotFound)
}

func TestLifecycleScenario(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	bot, err := env.svc.Register(ctx, tokenT1, owner)
	require.NoError(t, err)
	assert.False(t, bot.IsApproved)
	assert.False(t, bot.IsActive)

	require.NoError(t, env.svc.Approve(ctx, bot.ID))
	stored, _ := env.db.GetClientBot(ctx, bot.ID)
	assert.True(t, stored.IsApproved)
	assert.False(t, env.svc.IsRunning(bot.ID))

	require.NoError(t, env.svc.Enable(ctx, bot.ID))
	stored, _ = env.db.GetClientBot(ctx, bot.ID)
	assert.True(t, stored.IsActive)
	assert.True(t, env.svc.IsRunning(bot.ID))

	status, err := env.svc.Status(ctx, bot.ID)
	require.NoError(t, err)
	assert.True(t, status.Running)

	require.NoError(t, env.svc.Disable(ctx, bot.ID))
	stored, _ = env.db.GetClientBot(ctx, bot.ID)
	assert.False(t, stored.IsActive)
	assert.False(t, env.svc.IsRunning(bot.ID))

	require.NoError(t, env.svc.Delete(ctx, bot.ID))
	_, err = env.db.GetClientBot(ctx, bot.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestStartActive(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	good := env.registerApproved(t, tokenT1)
	bad := env.registerApproved(t, tokenT2)
	pending, err := env.svc.Register(ctx, "100003:CCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC", owner)
	require.NoError(t, err)

	for _, id := range []int64{good, bad, pending.ID} {
		require.NoError(t, env.db.SetClientBotActive(ctx, id, true, time.Now()))
	}
	env.factory.Fail[tokenT2] = fmt.Errorf("%w: Unauthorized", apperr.ErrInvalidCredential)

	started, err := env.svc.StartActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, started)
	assert.Equal(t, []int64{good}, env.reg.List())

	stored, _ := env.db.GetClientBot(ctx, bad)
	assert.False(t, stored.IsActive)

	overview, err := env.svc.Overview(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{good}, overview.Running)
	assert.Equal(t, 3, overview.Stats.TotalBots)

	env.svc.StopAll()
	assert.Empty(t, env.reg.List())
}

func TestEnableWhileDisablingIsBusy(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	client := gwstubs.NewClient(gateway.Identity{Handle: "slow_bot"})
	client.IgnoreCancel = true
	env.factory.Prepare(tokenT1, client)

	id := env.registerApproved(t, tokenT1)
	require.NoError(t, env.svc.Enable(ctx, id))
	<-client.Listening()

	disabled := make(chan error, 1)
	go func() { disabled <- env.svc.Disable(ctx, id) }()
	require.Eventually(t, func() bool { return !env.reg.IsRunning(id) }, time.Second, 5*time.Millisecond)

	err := env.svc.Enable(ctx, id)
	assert.ErrorIs(t, err, apperr.ErrBusy)
	assert.Equal(t, "⏳ Bot is starting or stopping, try again in a moment", apperr.Message(err))

	client.Release()
	require.NoError(t, <-disabled)

	stored, err := env.db.GetClientBot(ctx, id)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	assert.False(t, env.reg.IsRunning(id))
}
