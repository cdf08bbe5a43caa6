package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaybot/internal/apperr"
	"relaybot/internal/models"
	"relaybot/internal/storage"
	"relaybot/internal/storage/stubs"
)

func seededDB(t *testing.T) *stubs.MockDB {
	t.Helper()
	ctx := context.Background()
	db := stubs.NewMockDB()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	_, err := db.CreateClientBot(ctx, models.TenantBot{
		Credential: "111:secret", DisplayName: "Helper", Handle: "helper_bot",
		OwnerID: 42, OwnerDisplayName: "Ann", RegisteredAt: now,
	})
	require.NoError(t, err)
	_, err = db.CreateClientBot(ctx, models.TenantBot{
		Credential: "222:secret", DisplayName: "Quiz", Handle: "quiz_bot",
		OwnerID: 7, RegisteredAt: now.Add(time.Hour), IsApproved: true, IsActive: true,
	})
	require.NoError(t, err)

	_, err = db.TouchUser(ctx, models.Profile{UserID: 5, Handle: "bob"}, true, now)
	require.NoError(t, err)

	_, err = db.InsertBroadcast(ctx, models.BroadcastRecord{
		Scope: models.ScopePrimary, InitiatorID: 1, MessageText: "hello everyone",
		RecipientCount: 4, SuccessCount: 3, FailureCount: 1, Timestamp: now,
	})
	require.NoError(t, err)
	return db
}

func run(t *testing.T, db storage.Storage, args ...string) (string, error) {
	t.Helper()
	open := func(ctx context.Context, path string) (storage.Storage, error) { return db, nil }

	var out bytes.Buffer
	root := NewRootCommand(open)
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestBotsList(t *testing.T) {
	db := seededDB(t)

	out, err := run(t, db, "bots", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "@helper_bot")
	assert.Contains(t, out, "@quiz_bot")
	assert.NotContains(t, out, "secret")

	out, err = run(t, db, "bots", "list", "--pending")
	require.NoError(t, err)
	assert.Contains(t, out, "@helper_bot")
	assert.NotContains(t, out, "@quiz_bot")

	out, err = run(t, db, "bots", "list", "--owner", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "@quiz_bot")
	assert.NotContains(t, out, "@helper_bot")

	out, err = run(t, db, "bots", "list", "--owner", "99")
	require.NoError(t, err)
	assert.Contains(t, out, "No bots found.")
}

func TestBotsListJSON(t *testing.T) {
	db := seededDB(t)

	out, err := run(t, db, "bots", "list", "-o", "json")
	require.NoError(t, err)

	var views []botView
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	require.Len(t, views, 2)
	assert.Equal(t, "quiz_bot", views[0].Handle)
	assert.NotContains(t, out, "secret")

	_, err = run(t, db, "bots", "list", "-o", "yaml")
	assert.Error(t, err)
}

func TestBotsShowAndApprove(t *testing.T) {
	db := seededDB(t)

	out, err := run(t, db, "bots", "show", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "@helper_bot")
	assert.Contains(t, out, "Ann (42)")

	out, err = run(t, db, "bots", "approve", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Bot 1 approved")

	bot, err := db.GetClientBot(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, bot.IsApproved)
	assert.False(t, bot.IsActive)

	_, err = run(t, db, "bots", "show", "99")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	_, err = run(t, db, "bots", "approve", "abc")
	assert.Error(t, err)
}

func TestUsersBanUnban(t *testing.T) {
	db := seededDB(t)
	ctx := context.Background()

	out, err := run(t, db, "users", "ban", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "User 5 banned")

	user, err := db.GetUser(ctx, 5)
	require.NoError(t, err)
	assert.True(t, user.IsBanned)

	_, err = run(t, db, "users", "unban", "5")
	require.NoError(t, err)
	user, err = db.GetUser(ctx, 5)
	require.NoError(t, err)
	assert.False(t, user.IsBanned)

	_, err = run(t, db, "users", "ban", "404")
	assert.Error(t, err)
}

func TestBroadcastsHistory(t *testing.T) {
	db := seededDB(t)

	out, err := run(t, db, "broadcasts", "history")
	require.NoError(t, err)
	assert.Contains(t, out, "hello everyone")
	assert.Contains(t, out, "primary")

	out, err = run(t, db, "broadcasts", "history", "--initiator", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "No broadcasts yet.")

	_, err = run(t, db, "broadcasts", "history", "--limit", "0")
	assert.Error(t, err)
}

func TestStats(t *testing.T) {
	db := seededDB(t)

	out, err := run(t, db, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Users: 1 (banned: 0)")
	assert.Contains(t, out, "Client bots: 2 (active: 1, pending: 1)")
	assert.Contains(t, out, "success rate: 75.0%")
}

func TestDatabasePathFromEnv(t *testing.T) {
	t.Setenv("RELAYBOT_DB", "/tmp/from-env.db")

	var got string
	open := func(ctx context.Context, path string) (storage.Storage, error) {
		got = path
		return stubs.NewMockDB(), nil
	}
	root := NewRootCommand(open)
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"stats"})
	require.NoError(t, root.Execute())
	assert.Equal(t, "/tmp/from-env.db", got)
}

func TestOpenSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "botctl.db")

	out, err := func() (string, error) {
		var buf bytes.Buffer
		root := NewRootCommand(OpenSQLite)
		root.SetOut(&buf)
		root.SetArgs([]string{"--db", path, "stats"})
		err := root.Execute()
		return buf.String(), err
	}()
	require.NoError(t, err)
	assert.Contains(t, out, "Users: 0 (banned: 0)")
}
