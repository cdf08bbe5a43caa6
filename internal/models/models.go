package models

import "time"

// TenantBot represents a client bot registered by a user and managed by admins
type TenantBot struct {
	ID                int64
	Credential        string
	DisplayName       string
	Handle            string
	OwnerID           int64
	OwnerDisplayName  string
	RegisteredAt      time.Time
	IsActive          bool
	IsApproved        bool
	NeedsVerification bool // Identity could not be resolved at registration (rate limited)
	LastActiveAt      *time.Time
	TotalUsers        int64
	TotalMessages     int64
}

// PlatformUser represents an end user of the primary bot
type PlatformUser struct {
	ID           int64
	Handle       string
	FirstName    string
	LastName     string
	JoinedAt     time.Time
	MessageCount int64
	LastActiveAt time.Time
	IsBanned     bool
}

// Profile is the mutable identity data carried by every inbound update
type Profile struct {
	UserID    int64
	Handle    string
	FirstName string
	LastName  string
}

// FullName joins first and last name
func (p Profile) FullName() string {
	if p.LastName == "" {
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

// BroadcastScope selects the recipient set of a broadcast
type BroadcastScope string

const (
	ScopePrimary    BroadcastScope = "primary"
	ScopeTenant     BroadcastScope = "tenant"
	ScopeAllTenants BroadcastScope = "all_tenants"
)

// BroadcastRecord is the audit row of one completed broadcast
type BroadcastRecord struct {
	ID             int64
	Scope          BroadcastScope
	BotID          int64 // Zero unless Scope is ScopeTenant
	InitiatorID    int64
	MessageText    string
	RecipientCount int
	SuccessCount   int
	FailureCount   int
	Timestamp      time.Time
}

// SuccessRate returns the delivered share of recipients in percent
func (r BroadcastRecord) SuccessRate() float64 {
	if r.RecipientCount == 0 {
		return 0
	}
	return float64(r.SuccessCount) * 100 / float64(r.RecipientCount)
}

// MemberNotification tracks the first contact of a user with the primary bot
type MemberNotification struct {
	ID        int64
	UserID    int64
	Handle    string
	FirstName string
	LastName  string
	JoinedAt  time.Time
	Notified  bool
}

// ClientBotFilter narrows ListClientBots results
type ClientBotFilter struct {
	OwnerID     int64 // Zero means any owner
	PendingOnly bool
	ActiveOnly  bool
}

// ClientBotStats aggregates the client_bots table
type ClientBotStats struct {
	TotalBots        int
	ActiveBots       int
	PendingApprovals int
	TotalUsers       int64
	TotalMessages    int64
}

// BroadcastStats aggregates the broadcast history
type BroadcastStats struct {
	TotalBroadcasts int
	TotalSent       int64
	TotalFailed     int64
}

// SuccessRate returns delivered messages in percent of all attempts
func (s BroadcastStats) SuccessRate() float64 {
	attempts := s.TotalSent + s.TotalFailed
	if attempts == 0 {
		return 0
	}
	return float64(s.TotalSent) * 100 / float64(attempts)
}

// UserStats aggregates the users table
type UserStats struct {
	TotalUsers  int
	BannedUsers int
}

// Interaction is one analytics event emitted per handled update
type Interaction struct {
	At     time.Time
	BotID  int64 // Zero for the primary bot
	UserID int64
	Kind   string
	Chars  int
}

// UserActivity represents interaction counts per user
type UserActivity struct {
	UserID       int64
	Interactions int
}
