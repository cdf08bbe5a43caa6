package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"relaybot/internal/apperr"
	"relaybot/internal/models"
	"relaybot/internal/storage/stubs"
)

const primaryToken = "900000:PRIMARYPRIMARYPRIMARYPRIMARYPRIMARY"

type delivery struct {
	credential string
	chatID     int64
	text       string
}

type fakeSender struct {
	mu      sync.Mutex
	sent    []delivery
	failFor map[int64]bool
	// cancelAfter cancels the context once that many sends happened
	cancelAfter int
	cancel      context.CancelFunc
}

func (f *fakeSender) SendText(ctx context.Context, credential string, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failFor[chatID] {
		return errors.New("Forbidden: bot was blocked by the user")
	}
	f.sent = append(f.sent, delivery{credential: credential, chatID: chatID, text: text})
	if f.cancel != nil && len(f.sent) == f.cancelAfter {
		f.cancel()
	}
	return nil
}

func (f *fakeSender) recipients() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]int64, len(f.sent))
	for i, d := range f.sent {
		ids[i] = d.chatID
	}
	return ids
}

func setup(t *testing.T) (*Service, *stubs.MockDB, *stubs.MockAnalytics, *fakeSender) {
	t.Helper()
	db := stubs.NewMockDB()
	analytics := stubs.NewMockAnalytics()
	sender := &fakeSender{failFor: make(map[int64]bool)}
	svc := NewService(db, analytics, sender, primaryToken, 0, zap.NewNop())
	return svc, db, analytics, sender
}

func addUsers(t *testing.T, db *stubs.MockDB, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		_, err := db.TouchUser(context.Background(), models.Profile{UserID: id}, true, time.Now())
		require.NoError(t, err)
	}
}

func TestPrimaryAllDelivered(t *testing.T) {
	svc, db, analytics, sender := setup(t)
	ctx := context.Background()
	addUsers(t, db, 1, 2, 3, 4, 5)

	record, err := svc.Primary(ctx, 100, "hello everyone")
	require.NoError(t, err)
	assert.Equal(t, 5, record.RecipientCount)
	assert.Equal(t, 5, record.SuccessCount)
	assert.Equal(t, 0, record.FailureCount)
	assert.NotZero(t, record.ID)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, sender.recipients())

	history, err := svc.History(ctx, 100, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.ScopePrimary, history[0].Scope)
	assert.Len(t, analytics.Broadcasts(), 1)
}

func TestPrimaryExcludesBannedUsers(t *testing.T) {
	svc, db, _, sender := setup(t)
	ctx := context.Background()
	addUsers(t, db, 3, 5, 7, 9)
	require.NoError(t, db.SetUserBanned(ctx, 7, true))

	record, err := svc.Primary(ctx, 100, "news")
	require.NoError(t, err)
	assert.Equal(t, 3, record.RecipientCount)
	assert.Equal(t, 3, record.SuccessCount)
	assert.NotContains(t, sender.recipients(), int64(7))
}

func TestPrimaryIsolatesFailures(t *testing.T) {
	svc, db, _, sender := setup(t)
	ctx := context.Background()
	addUsers(t, db, 1, 2, 3, 4)
	sender.failFor[2] = true
	sender.failFor[3] = true

	record, err := svc.Primary(ctx, 100, "news")
	require.NoError(t, err)
	assert.Equal(t, 4, record.RecipientCount)
	assert.Equal(t, 2, record.SuccessCount)
	assert.Equal(t, 2, record.FailureCount)
	assert.Equal(t, []int64{1, 4}, sender.recipients())
	assert.InDelta(t, 50.0, record.SuccessRate(), 0.001)
}

func TestPrimaryPersistenceFailure(t *testing.T) {
	svc, db, analytics, _ := setup(t)
	ctx := context.Background()
	addUsers(t, db, 1, 2)
	db.FailInsertBroadcast = true

	record, err := svc.Primary(ctx, 100, "news")
	assert.ErrorIs(t, err, apperr.ErrPersistence)
	require.NotNil(t, record)
	// Deliveries happened even though the audit row was lost
	assert.Equal(t, 2, record.SuccessCount)
	assert.Empty(t, analytics.Broadcasts())
}

func TestPrimaryCancelledKeepsPartialCounts(t *testing.T) {
	svc, db, _, sender := setup(t)
	addUsers(t, db, 1, 2, 3, 4, 5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sender.cancel = cancel
	sender.cancelAfter = 2

	record, err := svc.Primary(ctx, 100, "news")
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, record)
	assert.Equal(t, 5, record.RecipientCount)
	assert.Equal(t, 2, record.SuccessCount)
	assert.LessOrEqual(t, record.SuccessCount+record.FailureCount, record.RecipientCount)

	history, err := db.ListBroadcasts(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestPrimaryRejectsEmptyText(t *testing.T) {
	svc, db, _, sender := setup(t)
	addUsers(t, db, 1)

	_, err := svc.Primary(context.Background(), 100, "   ")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Empty(t, sender.recipients())
}

func TestTenantBroadcast(t *testing.T) {
	svc, db, _, sender := setup(t)
	ctx := context.Background()

	botID, err := db.CreateClientBot(ctx, models.TenantBot{Credential: "T1"})
	require.NoError(t, err)
	for _, uid := range []int64{11, 12} {
		_, err := db.TouchClientBotUser(ctx, botID, models.Profile{UserID: uid}, time.Now())
		require.NoError(t, err)
	}
	// Primary users are not tenant recipients
	addUsers(t, db, 99)

	record, err := svc.Tenant(ctx, 100, botID, "tenant news")
	require.NoError(t, err)
	assert.Equal(t, models.ScopeTenant, record.Scope)
	assert.Equal(t, botID, record.BotID)
	assert.Equal(t, 2, record.SuccessCount)
	for _, d := range sender.sent {
		assert.Equal(t, "T1", d.credential)
	}

	_, err = svc.Tenant(ctx, 100, 999, "tenant news")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAllTenantsBroadcast(t *testing.T) {
	svc, db, _, sender := setup(t)
	ctx := context.Background()

	active, err := db.CreateClientBot(ctx, models.TenantBot{Credential: "T1"})
	require.NoError(t, err)
	require.NoError(t, db.SetClientBotApproved(ctx, active))
	require.NoError(t, db.SetClientBotActive(ctx, active, true, time.Now()))

	inactive, err := db.CreateClientBot(ctx, models.TenantBot{Credential: "T2"})
	require.NoError(t, err)

	for _, uid := range []int64{1, 2, 3} {
		_, err := db.TouchClientBotUser(ctx, active, models.Profile{UserID: uid}, time.Now())
		require.NoError(t, err)
	}
	_, err = db.TouchClientBotUser(ctx, inactive, models.Profile{UserID: 4}, time.Now())
	require.NoError(t, err)

	record, err := svc.AllTenants(ctx, 100, "to all")
	require.NoError(t, err)
	assert.Equal(t, models.ScopeAllTenants, record.Scope)
	assert.Equal(t, 3, record.RecipientCount)
	assert.Equal(t, 3, record.SuccessCount)
	assert.Equal(t, []int64{1, 2, 3}, sender.recipients())

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalBroadcasts)
	assert.Equal(t, int64(3), stats.TotalSent)
}

func TestPacing(t *testing.T) {
	db := stubs.NewMockDB()
	sender := &fakeSender{failFor: make(map[int64]bool)}
	svc := NewService(db, stubs.NewMockAnalytics(), sender, primaryToken, 20*time.Millisecond, zap.NewNop())
	addUsers(t, db, 1, 2, 3, 4)

	start := time.Now()
	_, err := svc.Primary(context.Background(), 100, "slow")
	require.NoError(t, err)
	// The first send is immediate, the remaining three wait one interval each
	assert.GreaterOrEqual(t, time.Since(start), 55*time.Millisecond)
}
