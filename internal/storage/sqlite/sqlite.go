package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"

	"relaybot/internal/apperr"
	"relaybot/internal/models"
)

// Store is the relational store backed by SQLite through bun
type Store struct {
	db *bun.DB
}

// Option configures the store
type Option func(*Store)

// WithDebug enables query logging
func WithDebug(enabled bool) Option {
	return func(s *Store) {
		if enabled {
			s.db.AddQueryHook(bundebug.NewQueryHook(
				bundebug.WithVerbose(true),
			))
		}
	}
}

// New opens the SQLite database at path. Call Initialize before use.
func New(path string, opts ...Option) (*Store, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer; one connection also keeps :memory: databases alive
	sqldb.SetMaxOpenConns(1)

	s := &Store{db: bun.NewDB(sqldb, sqlitedialect.New())}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Initialize creates tables and indexes if they don't exist
func (s *Store) Initialize(ctx context.Context) error {
	tables := []interface{}{
		(*userRow)(nil),
		(*clientBotRow)(nil),
		(*clientBotUserRow)(nil),
		(*broadcastRow)(nil),
		(*memberRow)(nil),
	}

	for _, model := range tables {
		if _, err := s.db.NewCreateTable().
			Model(model).
			IfNotExists().
			Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_client_bots_owner_id ON client_bots(owner_id)",
		"CREATE INDEX IF NOT EXISTS idx_client_bots_is_approved ON client_bots(is_approved)",
		"CREATE INDEX IF NOT EXISTS idx_broadcast_history_initiator_id ON broadcast_history(initiator_id)",
		"CREATE INDEX IF NOT EXISTS idx_member_notifications_joined_at ON member_notifications(joined_at)",
	}
	for _, idx := range indexes {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func persistence(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, apperr.ErrPersistence, err)
}

func rowsAffected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}

// TouchUser inserts or refreshes a user in one transaction
func (s *Store) TouchUser(ctx context.Context, profile models.Profile, countMessage bool, at time.Time) (bool, error) {
	created := false
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().
			Model((*userRow)(nil)).
			Where("id = ?", profile.UserID).
			Exists(ctx)
		if err != nil {
			return err
		}

		if !exists {
			row := &userRow{
				ID:           profile.UserID,
				Handle:       profile.Handle,
				FirstName:    profile.FirstName,
				LastName:     profile.LastName,
				JoinedAt:     at,
				LastActiveAt: at,
			}
			if countMessage {
				row.MessageCount = 1
			}
			if _, err := tx.NewInsert().Model(row).Exec(ctx); err != nil {
				return err
			}
			created = true
			return nil
		}

		q := tx.NewUpdate().
			Model((*userRow)(nil)).
			Set("handle = ?", profile.Handle).
			Set("first_name = ?", profile.FirstName).
			Set("last_name = ?", profile.LastName).
			Set("last_active_at = ?", at).
			Where("id = ?", profile.UserID)
		if countMessage {
			q = q.Set("message_count = message_count + 1")
		}
		_, err = q.Exec(ctx)
		return err
	})
	if err != nil {
		return false, persistence("failed to touch user", err)
	}
	return created, nil
}

// GetUser returns a user by id
func (s *Store) GetUser(ctx context.Context, userID int64) (*models.PlatformUser, error) {
	row := new(userRow)
	err := s.db.NewSelect().
		Model(row).
		Where("id = ?", userID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", userID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, persistence("failed to get user", err)
	}
	return row.toModel(), nil
}

// SetUserBanned flips the ban flag
func (s *Store) SetUserBanned(ctx context.Context, userID int64, banned bool) error {
	res, err := s.db.NewUpdate().
		Model((*userRow)(nil)).
		Set("is_banned = ?", banned).
		Where("id = ?", userID).
		Exec(ctx)
	if err != nil {
		return persistence("failed to update user", err)
	}
	if rowsAffected(res) == 0 {
		return fmt.Errorf("user %d: %w", userID, apperr.ErrNotFound)
	}
	return nil
}

// ListRecipientIDs returns ids of all users that are not banned
func (s *Store) ListRecipientIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := s.db.NewSelect().
		Model((*userRow)(nil)).
		Column("id").
		Where("is_banned = ?", false).
		Order("id ASC").
		Scan(ctx, &ids)
	if err != nil {
		return nil, persistence("failed to list recipients", err)
	}
	return ids, nil
}

// GetUserStats counts users
func (s *Store) GetUserStats(ctx context.Context) (models.UserStats, error) {
	var stats models.UserStats

	total, err := s.db.NewSelect().Model((*userRow)(nil)).Count(ctx)
	if err != nil {
		return stats, persistence("failed to count users", err)
	}
	banned, err := s.db.NewSelect().Model((*userRow)(nil)).Where("is_banned = ?", true).Count(ctx)
	if err != nil {
		return stats, persistence("failed to count banned users", err)
	}

	stats.TotalUsers = total
	stats.BannedUsers = banned
	return stats, nil
}

// CreateClientBot stores a new client bot and returns its id
func (s *Store) CreateClientBot(ctx context.Context, bot models.TenantBot) (int64, error) {
	row := clientBotFromModel(bot)
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("client bot: %w", apperr.ErrDuplicate)
		}
		return 0, persistence("failed to create client bot", err)
	}
	return row.ID, nil
}

// GetClientBot returns a client bot by id
func (s *Store) GetClientBot(ctx context.Context, botID int64) (*models.TenantBot, error) {
	row := new(clientBotRow)
	err := s.db.NewSelect().
		Model(row).
		Where("id = ?", botID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("client bot %d: %w", botID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, persistence("failed to get client bot", err)
	}
	bot := row.toModel()
	return &bot, nil
}

// GetClientBotByCredential returns a client bot by its token
func (s *Store) GetClientBotByCredential(ctx context.Context, credential string) (*models.TenantBot, error) {
	row := new(clientBotRow)
	err := s.db.NewSelect().
		Model(row).
		Where("credential = ?", credential).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("client bot: %w", apperr.ErrNotFound)
	}
	if err != nil {
		return nil, persistence("failed to get client bot", err)
	}
	bot := row.toModel()
	return &bot, nil
}

// ListClientBots returns client bots, newest first
func (s *Store) ListClientBots(ctx context.Context, filter models.ClientBotFilter) ([]models.TenantBot, error) {
	var rows []*clientBotRow
	q := s.db.NewSelect().Model(&rows)
	if filter.OwnerID != 0 {
		q = q.Where("owner_id = ?", filter.OwnerID)
	}
	if filter.PendingOnly {
		q = q.Where("is_approved = ?", false)
	}
	if filter.ActiveOnly {
		q = q.Where("is_active = ?", true).Where("is_approved = ?", true)
	}

	if err := q.Order("registered_at DESC", "id DESC").Scan(ctx); err != nil {
		return nil, persistence("failed to list client bots", err)
	}

	bots := make([]models.TenantBot, len(rows))
	for i, row := range rows {
		bots[i] = row.toModel()
	}
	return bots, nil
}

// SetClientBotApproved marks a bot approved
func (s *Store) SetClientBotApproved(ctx context.Context, botID int64) error {
	res, err := s.db.NewUpdate().
		Model((*clientBotRow)(nil)).
		Set("is_approved = ?", true).
		Where("id = ?", botID).
		Exec(ctx)
	if err != nil {
		return persistence("failed to approve client bot", err)
	}
	if rowsAffected(res) == 0 {
		return fmt.Errorf("client bot %d: %w", botID, apperr.ErrNotFound)
	}
	return nil
}

// SetClientBotActive flips is_active; last_active_at is stamped only when activating
func (s *Store) SetClientBotActive(ctx context.Context, botID int64, active bool, at time.Time) error {
	q := s.db.NewUpdate().
		Model((*clientBotRow)(nil)).
		Set("is_active = ?", active).
		Where("id = ?", botID)
	if active {
		q = q.Set("last_active_at = ?", at)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return persistence("failed to update client bot", err)
	}
	if rowsAffected(res) == 0 {
		return fmt.Errorf("client bot %d: %w", botID, apperr.ErrNotFound)
	}
	return nil
}

// DeleteClientBot removes a bot and its user rows in one transaction
func (s *Store) DeleteClientBot(ctx context.Context, botID int64) error {
	var deleted int64
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().
			Model((*clientBotUserRow)(nil)).
			Where("bot_id = ?", botID).
			Exec(ctx); err != nil {
			return err
		}
		res, err := tx.NewDelete().
			Model((*clientBotRow)(nil)).
			Where("id = ?", botID).
			Exec(ctx)
		if err != nil {
			return err
		}
		deleted = rowsAffected(res)
		return nil
	})
	if err != nil {
		return persistence("failed to delete client bot", err)
	}
	if deleted == 0 {
		return fmt.Errorf("client bot %d: %w", botID, apperr.ErrNotFound)
	}
	return nil
}

// GetClientBotStats aggregates client bots
func (s *Store) GetClientBotStats(ctx context.Context) (models.ClientBotStats, error) {
	var stats models.ClientBotStats
	err := s.db.NewSelect().
		Model((*clientBotRow)(nil)).
		ColumnExpr("COUNT(*)").
		ColumnExpr("COALESCE(SUM(CASE WHEN is_active THEN 1 ELSE 0 END), 0)").
		ColumnExpr("COALESCE(SUM(CASE WHEN is_approved THEN 0 ELSE 1 END), 0)").
		ColumnExpr("COALESCE(SUM(CASE WHEN is_active THEN total_users ELSE 0 END), 0)").
		ColumnExpr("COALESCE(SUM(CASE WHEN is_active THEN total_messages ELSE 0 END), 0)").
		Scan(ctx, &stats.TotalBots, &stats.ActiveBots, &stats.PendingApprovals, &stats.TotalUsers, &stats.TotalMessages)
	if err != nil {
		return stats, persistence("failed to aggregate client bots", err)
	}
	return stats, nil
}

// TouchClientBotUser records a tenant bot interaction in one transaction
func (s *Store) TouchClientBotUser(ctx context.Context, botID int64, profile models.Profile, at time.Time) (bool, error) {
	created := false
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().
			Model((*clientBotRow)(nil)).
			Where("id = ?", botID).
			Exists(ctx)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("client bot %d: %w", botID, apperr.ErrNotFound)
		}

		known, err := tx.NewSelect().
			Model((*clientBotUserRow)(nil)).
			Where("bot_id = ? AND user_id = ?", botID, profile.UserID).
			Exists(ctx)
		if err != nil {
			return err
		}

		if known {
			_, err = tx.NewUpdate().
				Model((*clientBotUserRow)(nil)).
				Set("handle = ?", profile.Handle).
				Set("first_name = ?", profile.FirstName).
				Set("last_active_at = ?", at).
				Where("bot_id = ? AND user_id = ?", botID, profile.UserID).
				Exec(ctx)
		} else {
			_, err = tx.NewInsert().Model(&clientBotUserRow{
				BotID:        botID,
				UserID:       profile.UserID,
				Handle:       profile.Handle,
				FirstName:    profile.FirstName,
				JoinedAt:     at,
				LastActiveAt: at,
			}).Exec(ctx)
		}
		if err != nil {
			return err
		}

		q := tx.NewUpdate().
			Model((*clientBotRow)(nil)).
			Set("total_messages = total_messages + 1").
			Where("id = ?", botID)
		if !known {
			q = q.Set("total_users = total_users + 1")
		}
		if _, err := q.Exec(ctx); err != nil {
			return err
		}

		created = !known
		return nil
	})
	if errors.Is(err, apperr.ErrNotFound) {
		return false, err
	}
	if err != nil {
		return false, persistence("failed to touch client bot user", err)
	}
	return created, nil
}

// ListClientBotUserIDs returns users of one client bot, sorted by id
func (s *Store) ListClientBotUserIDs(ctx context.Context, botID int64) ([]int64, error) {
	var ids []int64
	err := s.db.NewSelect().
		Model((*clientBotUserRow)(nil)).
		Column("user_id").
		Where("bot_id = ?", botID).
		Order("user_id ASC").
		Scan(ctx, &ids)
	if err != nil {
		return nil, persistence("failed to list client bot users", err)
	}
	return ids, nil
}

// InsertBroadcast appends a broadcast record
func (s *Store) InsertBroadcast(ctx context.Context, record models.BroadcastRecord) (int64, error) {
	row := &broadcastRow{
		Scope:          string(record.Scope),
		BotID:          record.BotID,
		InitiatorID:    record.InitiatorID,
		MessageText:    record.MessageText,
		RecipientCount: record.RecipientCount,
		SuccessCount:   record.SuccessCount,
		FailureCount:   record.FailureCount,
		Timestamp:      record.Timestamp,
	}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return 0, persistence("failed to insert broadcast", err)
	}
	return row.ID, nil
}

// ListBroadcasts returns the latest broadcasts, optionally for one initiator
func (s *Store) ListBroadcasts(ctx context.Context, initiatorID int64, limit int) ([]models.BroadcastRecord, error) {
	var rows []*broadcastRow
	q := s.db.NewSelect().Model(&rows)
	if initiatorID != 0 {
		q = q.Where("initiator_id = ?", initiatorID)
	}
	q = q.Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, persistence("failed to list broadcasts", err)
	}

	records := make([]models.BroadcastRecord, len(rows))
	for i, row := range rows {
		records[i] = row.toModel()
	}
	return records, nil
}

// GetBroadcastStats aggregates broadcast history
func (s *Store) GetBroadcastStats(ctx context.Context) (models.BroadcastStats, error) {
	var stats models.BroadcastStats
	err := s.db.NewSelect().
		Model((*broadcastRow)(nil)).
		ColumnExpr("COUNT(*)").
		ColumnExpr("COALESCE(SUM(success_count), 0)").
		ColumnExpr("COALESCE(SUM(failure_count), 0)").
		Scan(ctx, &stats.TotalBroadcasts, &stats.TotalSent, &stats.TotalFailed)
	if err != nil {
		return stats, persistence("failed to aggregate broadcasts", err)
	}
	return stats, nil
}

// LogMemberJoin records the first contact of a user
func (s *Store) LogMemberJoin(ctx context.Context, profile models.Profile, at time.Time) (bool, error) {
	res, err := s.db.NewInsert().
		Model(&memberRow{
			UserID:    profile.UserID,
			Handle:    profile.Handle,
			FirstName: profile.FirstName,
			LastName:  profile.LastName,
			JoinedAt:  at,
		}).
		On("CONFLICT (user_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, persistence("failed to log member join", err)
	}
	return rowsAffected(res) > 0, nil
}

// MarkMemberNotified flags a member notification as delivered
func (s *Store) MarkMemberNotified(ctx context.Context, userID int64) error {
	res, err := s.db.NewUpdate().
		Model((*memberRow)(nil)).
		Set("notified = ?", true).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return persistence("failed to mark member notified", err)
	}
	if rowsAffected(res) == 0 {
		return fmt.Errorf("member %d: %w", userID, apperr.ErrNotFound)
	}
	return nil
}

// RecentMembers returns the latest member joins
func (s *Store) RecentMembers(ctx context.Context, limit int) ([]models.MemberNotification, error) {
	var rows []*memberRow
	q := s.db.NewSelect().Model(&rows).Order("joined_at DESC", "id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, persistence("failed to list members", err)
	}

	members := make([]models.MemberNotification, len(rows))
	for i, row := range rows {
		members[i] = row.toModel()
	}
	return members, nil
}
