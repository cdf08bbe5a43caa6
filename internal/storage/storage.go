package storage

import (
	"context"
	"time"

	"relaybot/internal/models"
)

// Storage defines the interface for data storage operations.
// Every mutating method runs as a single transaction.
type Storage interface {
	// User operations

	// TouchUser inserts the user if absent, then refreshes handle and names,
	// bumps last_active_at and, when countMessage is set, increments message_count.
	// Returns true when the row was created.
	TouchUser(ctx context.Context, profile models.Profile, countMessage bool, at time.Time) (bool, error)
	GetUser(ctx context.Context, userID int64) (*models.PlatformUser, error)
	SetUserBanned(ctx context.Context, userID int64, banned bool) error
	// ListRecipientIDs returns ids of all users that are not banned
	ListRecipientIDs(ctx context.Context) ([]int64, error)
	GetUserStats(ctx context.Context) (models.UserStats, error)

	// Client bot operations

	// CreateClientBot stores a new bot and returns its id.
	// Returns apperr.ErrDuplicate when the credential is already stored.
	CreateClientBot(ctx context.Context, bot models.TenantBot) (int64, error)
	GetClientBot(ctx context.Context, botID int64) (*models.TenantBot, error)
	GetClientBotByCredential(ctx context.Context, credential string) (*models.TenantBot, error)
	ListClientBots(ctx context.Context, filter models.ClientBotFilter) ([]models.TenantBot, error)
	SetClientBotApproved(ctx context.Context, botID int64) error
	// SetClientBotActive flips is_active; last_active_at is stamped only when activating
	SetClientBotActive(ctx context.Context, botID int64, active bool, at time.Time) error
	DeleteClientBot(ctx context.Context, botID int64) error
	GetClientBotStats(ctx context.Context) (models.ClientBotStats, error)

	// TouchClientBotUser records an interaction of a user with a client bot.
	// First contact increments total_users, every call increments total_messages.
	TouchClientBotUser(ctx context.Context, botID int64, profile models.Profile, at time.Time) (bool, error)
	ListClientBotUserIDs(ctx context.Context, botID int64) ([]int64, error)

	// Broadcast operations
	InsertBroadcast(ctx context.Context, record models.BroadcastRecord) (int64, error)
	// ListBroadcasts returns the latest broadcasts, optionally for one initiator (zero means all)
	ListBroadcasts(ctx context.Context, initiatorID int64, limit int) ([]models.BroadcastRecord, error)
	GetBroadcastStats(ctx context.Context) (models.BroadcastStats, error)

	// Member notification operations

	// LogMemberJoin records the first contact of a user; returns false if already logged
	LogMemberJoin(ctx context.Context, profile models.Profile, at time.Time) (bool, error)
	MarkMemberNotified(ctx context.Context, userID int64) error
	RecentMembers(ctx context.Context, limit int) ([]models.MemberNotification, error)

	// Lifecycle
	Initialize(ctx context.Context) error
	Close() error
}

// Analytics receives interaction and broadcast events for reporting
type Analytics interface {
	RecordInteraction(ctx context.Context, event models.Interaction) error
	RecordBroadcast(ctx context.Context, record models.BroadcastRecord) error
	// TopUsers returns the most active users since the given time
	TopUsers(ctx context.Context, limit int, since time.Time) ([]models.UserActivity, error)
	Close() error
}
