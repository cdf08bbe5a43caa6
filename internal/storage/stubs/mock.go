package stubs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"relaybot/internal/apperr"
	"relaybot/internal/models"
)

type botUserKey struct {
	botID  int64
	userID int64
}

// MockDB is an in-memory implementation of the Storage interface for testing
type MockDB struct {
	mu          sync.RWMutex
	users       map[int64]models.PlatformUser
	bots        map[int64]models.TenantBot
	botUsers    map[botUserKey]time.Time
	broadcasts  []models.BroadcastRecord
	members     []models.MemberNotification
	nextBotID   int64
	nextEventID int64

	// FailInsertBroadcast makes InsertBroadcast return a persistence error
	FailInsertBroadcast bool
	// FailSetActive makes SetClientBotActive return a persistence error
	FailSetActive bool
}

// NewMockDB creates a new mock database
func NewMockDB() *MockDB {
	return &MockDB{
		users:    make(map[int64]models.PlatformUser),
		bots:     make(map[int64]models.TenantBot),
		botUsers: make(map[botUserKey]time.Time),
	}
}

// Initialize does nothing for mock DB
func (m *MockDB) Initialize(ctx context.Context) error {
	return nil
}

// TouchUser inserts or refreshes a user
func (m *MockDB) TouchUser(ctx context.Context, profile models.Profile, countMessage bool, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, exists := m.users[profile.UserID]
	if !exists {
		user = models.PlatformUser{ID: profile.UserID, JoinedAt: at}
	}
	user.Handle = profile.Handle
	user.FirstName = profile.FirstName
	user.LastName = profile.LastName
	user.LastActiveAt = at
	if countMessage {
		user.MessageCount++
	}
	m.users[profile.UserID] = user
	return !exists, nil
}

// GetUser returns a user by id
func (m *MockDB) GetUser(ctx context.Context, userID int64) (*models.PlatformUser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[userID]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", userID, apperr.ErrNotFound)
	}
	return &user, nil
}

// SetUserBanned flips the ban flag
func (m *MockDB) SetUserBanned(ctx context.Context, userID int64, banned bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return fmt.Errorf("user %d: %w", userID, apperr.ErrNotFound)
	}
	user.IsBanned = banned
	m.users[userID] = user
	return nil
}

// ListRecipientIDs returns all users that are not banned, sorted by id
func (m *MockDB) ListRecipientIDs(ctx context.Context) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []int64
	for id, user := range m.users {
		if !user.IsBanned {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// GetUserStats counts users
func (m *MockDB) GetUserStats(ctx context.Context) (models.UserStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := models.UserStats{TotalUsers: len(m.users)}
	for _, user := range m.users {
		if user.IsBanned {
			stats.BannedUsers++
		}
	}
	return stats, nil
}

// CreateClientBot stores a new client bot
func (m *MockDB) CreateClientBot(ctx context.Context, bot models.TenantBot) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.bots {
		if existing.Credential == bot.Credential {
			return 0, fmt.Errorf("client bot %d: %w", existing.ID, apperr.ErrDuplicate)
		}
	}

	m.nextBotID++
	bot.ID = m.nextBotID
	m.bots[bot.ID] = bot
	return bot.ID, nil
}

// GetClientBot returns a client bot by id
func (m *MockDB) GetClientBot(ctx context.Context, botID int64) (*models.TenantBot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bot, ok := m.bots[botID]
	if !ok {
		return nil, fmt.Errorf("client bot %d: %w", botID, apperr.ErrNotFound)
	}
	return &bot, nil
}

// GetClientBotByCredential returns a client bot by its token
func (m *MockDB) GetClientBotByCredential(ctx context.Context, credential string) (*models.TenantBot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, bot := range m.bots {
		if bot.Credential == credential {
			return &bot, nil
		}
	}
	return nil, fmt.Errorf("client bot: %w", apperr.ErrNotFound)
}

// ListClientBots returns client bots, newest first
func (m *MockDB) ListClientBots(ctx context.Context, filter models.ClientBotFilter) ([]models.TenantBot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var bots []models.TenantBot
	for _, bot := range m.bots {
		if filter.OwnerID != 0 && bot.OwnerID != filter.OwnerID {
			continue
		}
		if filter.PendingOnly && bot.IsApproved {
			continue
		}
		if filter.ActiveOnly && !(bot.IsActive && bot.IsApproved) {
			continue
		}
		bots = append(bots, bot)
	}

	// Sort by registration time descending, then by id
	sort.Slice(bots, func(i, j int) bool {
		if !bots[i].RegisteredAt.Equal(bots[j].RegisteredAt) {
			return bots[i].RegisteredAt.After(bots[j].RegisteredAt)
		}
		return bots[i].ID > bots[j].ID
	})
	return bots, nil
}

// SetClientBotApproved marks a bot approved
func (m *MockDB) SetClientBotApproved(ctx context.Context, botID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bot, ok := m.bots[botID]
	if !ok {
		return fmt.Errorf("client bot %d: %w", botID, apperr.ErrNotFound)
	}
	bot.IsApproved = true
	m.bots[botID] = bot
	return nil
}

// SetClientBotActive flips the active flag
func (m *MockDB) SetClientBotActive(ctx context.Context, botID int64, active bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailSetActive {
		return fmt.Errorf("failed to update client bot: %w", apperr.ErrPersistence)
	}

	bot, ok := m.bots[botID]
	if !ok {
		return fmt.Errorf("client bot %d: %w", botID, apperr.ErrNotFound)
	}
	bot.IsActive = active
	if active {
		stamp := at
		bot.LastActiveAt = &stamp
	}
	m.bots[botID] = bot
	return nil
}

// DeleteClientBot removes a bot and its user rows
func (m *MockDB) DeleteClientBot(ctx context.Context, botID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.bots[botID]; !ok {
		return fmt.Errorf("client bot %d: %w", botID, apperr.ErrNotFound)
	}
	delete(m.bots, botID)
	for key := range m.botUsers {
		if key.botID == botID {
			delete(m.botUsers, key)
		}
	}
	return nil
}

// GetClientBotStats aggregates client bots
func (m *MockDB) GetClientBotStats(ctx context.Context) (models.ClientBotStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats models.ClientBotStats
	for _, bot := range m.bots {
		stats.TotalBots++
		if !bot.IsApproved {
			stats.PendingApprovals++
		}
		if bot.IsActive {
			stats.ActiveBots++
			stats.TotalUsers += bot.TotalUsers
			stats.TotalMessages += bot.TotalMessages
		}
	}
	return stats, nil
}

// TouchClientBotUser records a tenant bot interaction
func (m *MockDB) TouchClientBotUser(ctx context.Context, botID int64, profile models.Profile, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bot, ok := m.bots[botID]
	if !ok {
		return false, fmt.Errorf("client bot %d: %w", botID, apperr.ErrNotFound)
	}

	key := botUserKey{botID: botID, userID: profile.UserID}
	_, exists := m.botUsers[key]
	m.botUsers[key] = at
	if !exists {
		bot.TotalUsers++
	}
	bot.TotalMessages++
	m.bots[botID] = bot
	return !exists, nil
}

// ListClientBotUserIDs returns users of one client bot, sorted by id
func (m *MockDB) ListClientBotUserIDs(ctx context.Context, botID int64) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []int64
	for key := range m.botUsers {
		if key.botID == botID {
			ids = append(ids, key.userID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// InsertBroadcast appends a broadcast record
func (m *MockDB) InsertBroadcast(ctx context.Context, record models.BroadcastRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailInsertBroadcast {
		return 0, fmt.Errorf("failed to insert broadcast: %w", apperr.ErrPersistence)
	}

	m.nextEventID++
	record.ID = m.nextEventID
	m.broadcasts = append(m.broadcasts, record)
	return record.ID, nil
}

// ListBroadcasts returns the latest broadcasts
func (m *MockDB) ListBroadcasts(ctx context.Context, initiatorID int64, limit int) ([]models.BroadcastRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var records []models.BroadcastRecord
	for i := len(m.broadcasts) - 1; i >= 0; i-- {
		record := m.broadcasts[i]
		if initiatorID != 0 && record.InitiatorID != initiatorID {
			continue
		}
		records = append(records, record)
		if limit > 0 && len(records) == limit {
			break
		}
	}
	return records, nil
}

// GetBroadcastStats aggregates broadcast history
func (m *MockDB) GetBroadcastStats(ctx context.Context) (models.BroadcastStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := models.BroadcastStats{TotalBroadcasts: len(m.broadcasts)}
	for _, record := range m.broadcasts {
		stats.TotalSent += int64(record.SuccessCount)
		stats.TotalFailed += int64(record.FailureCount)
	}
	return stats, nil
}

// LogMemberJoin records a first contact
func (m *MockDB) LogMemberJoin(ctx context.Context, profile models.Profile, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, member := range m.members {
		if member.UserID == profile.UserID {
			return false, nil
		}
	}
	m.members = append(m.members, models.MemberNotification{
		ID:        int64(len(m.members) + 1),
		UserID:    profile.UserID,
		Handle:    profile.Handle,
		FirstName: profile.FirstName,
		LastName:  profile.LastName,
		JoinedAt:  at,
	})
	return true, nil
}

// MarkMemberNotified flags a member notification as delivered
func (m *MockDB) MarkMemberNotified(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.members {
		if m.members[i].UserID == userID {
			m.members[i].Notified = true
			return nil
		}
	}
	return fmt.Errorf("member %d: %w", userID, apperr.ErrNotFound)
}

// RecentMembers returns the latest member joins
func (m *MockDB) RecentMembers(ctx context.Context, limit int) ([]models.MemberNotification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var members []models.MemberNotification
	for i := len(m.members) - 1; i >= 0; i-- {
		members = append(members, m.members[i])
		if limit > 0 && len(members) == limit {
			break
		}
	}
	return members, nil
}

// Close does nothing for mock DB
func (m *MockDB) Close() error {
	return nil
}
