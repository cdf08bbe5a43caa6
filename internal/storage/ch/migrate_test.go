package ch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaybot/internal/models"
)

func TestDSN(t *testing.T) {
	assert.Equal(t,
		"clickhouse://default:pw@localhost:9000/analytics?dial_timeout=10s&max_execution_time=60",
		DSN("localhost", 9000, "analytics", "default", "pw", false))
	assert.Equal(t,
		"clickhouse://u:@ch:9440/default?dial_timeout=10s&max_execution_time=60&secure=true",
		DSN("ch", 9440, "default", "u", "", true))
}

func TestMigrateAppliesSchema(t *testing.T) {
	host, port, terminate := startClickHouse(t)
	defer terminate()
	ctx := context.Background()

	dsn := DSN(host, port, "default", "default", "", false)
	_, err := Migrate(ctx, dsn, "../../../migrations", "up")
	require.NoError(t, err)

	version, err := Migrate(ctx, dsn, "../../../migrations", "version")
	require.NoError(t, err)
	assert.Equal(t, int64(20240601000100), version)

	_, err = Migrate(ctx, dsn, "../../../migrations", "bogus")
	assert.Error(t, err)

	db, err := NewClickHouseDB(host, port, "default", "default", "", false)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.RecordInteraction(ctx, models.Interaction{At: time.Now().UTC(), UserID: 1, Kind: "message", Chars: 3}))
}
