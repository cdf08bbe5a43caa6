package ch

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"relaybot/internal/models"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// ClickHouseDB is the analytics sink for interactions and broadcasts
type ClickHouseDB struct {
	conn clickhouse.Conn
}

// NewClickHouseDB creates a new ClickHouse database connection
func NewClickHouseDB(host string, port int, database, user, password string, useTLS bool) (*ClickHouseDB, error) {
	addr := fmt.Sprintf("%s:%d", host, port)

	options := &clickhouse.Options{
		Addr:     []string{addr},
		Protocol: clickhouse.Native,
		Auth: clickhouse.Auth{
			Database: database,
			Username: user,
			Password: password,
		},
		DialTimeout: 5 * time.Second,
	}

	if useTLS {
		options.TLS = &tls.Config{
			InsecureSkipVerify: false,
		}
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &ClickHouseDB{conn: conn}, nil
}

// RecordInteraction inserts one interaction event
func (db *ClickHouseDB) RecordInteraction(ctx context.Context, event models.Interaction) error {
	err := db.conn.Exec(ctx, `INSERT INTO interactions (at, bot_id, user_id, kind, chars) VALUES (?, ?, ?, ?, ?)`,
		event.At, event.BotID, event.UserID, event.Kind, uint32(event.Chars))
	if err != nil {
		return fmt.Errorf("failed to record interaction: %w", err)
	}
	return nil
}

// RecordBroadcast inserts one broadcast outcome
func (db *ClickHouseDB) RecordBroadcast(ctx context.Context, record models.BroadcastRecord) error {
	err := db.conn.Exec(ctx, `INSERT INTO broadcasts (at, scope, bot_id, initiator_id, recipients, delivered, failed) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.Timestamp, string(record.Scope), record.BotID, record.InitiatorID,
		uint32(record.RecipientCount), uint32(record.SuccessCount), uint32(record.FailureCount))
	if err != nil {
		return fmt.Errorf("failed to record broadcast: %w", err)
	}
	return nil
}

// TopUsers returns the most active users since the given time
func (db *ClickHouseDB) TopUsers(ctx context.Context, limit int, since time.Time) ([]models.UserActivity, error) {
	rows, err := db.conn.Query(ctx, `
		SELECT user_id, count() AS interactions
		FROM interactions
		WHERE at >= ?
		GROUP BY user_id
		ORDER BY interactions DESC, user_id ASC
		LIMIT ?`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top users: %w", err)
	}
	defer rows.Close()

	var activity []models.UserActivity
	for rows.Next() {
		var (
			userID int64
			count  uint64
		)
		if err := rows.Scan(&userID, &count); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		activity = append(activity, models.UserActivity{UserID: userID, Interactions: int(count)})
	}
	return activity, rows.Err()
}

// Close closes the database connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
