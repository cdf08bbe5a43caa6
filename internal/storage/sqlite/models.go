package sqlite

import (
	"time"

	"github.com/uptrace/bun"

	"relaybot/internal/models"
)

type userRow struct {
	bun.BaseModel `bun:"table:users"`

	ID           int64     `bun:"id,pk"`
	Handle       string    `bun:"handle"`
	FirstName    string    `bun:"first_name"`
	LastName     string    `bun:"last_name"`
	JoinedAt     time.Time `bun:"joined_at,notnull"`
	MessageCount int64     `bun:"message_count,notnull,default:0"`
	LastActiveAt time.Time `bun:"last_active_at,notnull"`
	IsBanned     bool      `bun:"is_banned,notnull,default:false"`
}

func (u *userRow) toModel() *models.PlatformUser {
	return &models.PlatformUser{
		ID:           u.ID,
		Handle:       u.Handle,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		JoinedAt:     u.JoinedAt,
		MessageCount: u.MessageCount,
		LastActiveAt: u.LastActiveAt,
		IsBanned:     u.IsBanned,
	}
}

type clientBotRow struct {
	bun.BaseModel `bun:"table:client_bots"`

	ID                int64      `bun:"id,pk,autoincrement"`
	Credential        string     `bun:"credential,unique,notnull"`
	DisplayName       string     `bun:"display_name"`
	Handle            string     `bun:"handle"`
	OwnerID           int64      `bun:"owner_id,notnull"`
	OwnerDisplayName  string     `bun:"owner_display_name"`
	RegisteredAt      time.Time  `bun:"registered_at,notnull"`
	IsActive          bool       `bun:"is_active,notnull,default:false"`
	IsApproved        bool       `bun:"is_approved,notnull,default:false"`
	NeedsVerification bool       `bun:"needs_verification,notnull,default:false"`
	LastActiveAt      *time.Time `bun:"last_active_at"`
	TotalUsers        int64      `bun:"total_users,notnull,default:0"`
	TotalMessages     int64      `bun:"total_messages,notnull,default:0"`
}

func (b *clientBotRow) toModel() models.TenantBot {
	return models.TenantBot{
		ID:                b.ID,
		Credential:        b.Credential,
		DisplayName:       b.DisplayName,
		Handle:            b.Handle,
		OwnerID:           b.OwnerID,
		OwnerDisplayName:  b.OwnerDisplayName,
		RegisteredAt:      b.RegisteredAt,
		IsActive:          b.IsActive,
		IsApproved:        b.IsApproved,
		NeedsVerification: b.NeedsVerification,
		LastActiveAt:      b.LastActiveAt,
		TotalUsers:        b.TotalUsers,
		TotalMessages:     b.TotalMessages,
	}
}

func clientBotFromModel(m models.TenantBot) *clientBotRow {
	return &clientBotRow{
		Credential:        m.Credential,
		DisplayName:       m.DisplayName,
		Handle:            m.Handle,
		OwnerID:           m.OwnerID,
		OwnerDisplayName:  m.OwnerDisplayName,
		RegisteredAt:      m.RegisteredAt,
		IsActive:          m.IsActive,
		IsApproved:        m.IsApproved,
		NeedsVerification: m.NeedsVerification,
		LastActiveAt:      m.LastActiveAt,
		TotalUsers:        m.TotalUsers,
		TotalMessages:     m.TotalMessages,
	}
}

type clientBotUserRow struct {
	bun.BaseModel `bun:"table:client_bot_users"`

	BotID        int64     `bun:"bot_id,pk"`
	UserID       int64     `bun:"user_id,pk"`
	Handle       string    `bun:"handle"`
	FirstName    string    `bun:"first_name"`
	JoinedAt     time.Time `bun:"joined_at,notnull"`
	LastActiveAt time.Time `bun:"last_active_at,notnull"`
}

type broadcastRow struct {
	bun.BaseModel `bun:"table:broadcast_history"`

	ID             int64     `bun:"id,pk,autoincrement"`
	Scope          string    `bun:"scope,notnull"`
	BotID          int64     `bun:"bot_id,notnull,default:0"`
	InitiatorID    int64     `bun:"initiator_id,notnull"`
	MessageText    string    `bun:"message_text"`
	RecipientCount int       `bun:"recipient_count,notnull"`
	SuccessCount   int       `bun:"success_count,notnull"`
	FailureCount   int       `bun:"failure_count,notnull"`
	Timestamp      time.Time `bun:"timestamp,notnull"`
}

func (r *broadcastRow) toModel() models.BroadcastRecord {
	return models.BroadcastRecord{
		ID:             r.ID,
		Scope:          models.BroadcastScope(r.Scope),
		BotID:          r.BotID,
		InitiatorID:    r.InitiatorID,
		MessageText:    r.MessageText,
		RecipientCount: r.RecipientCount,
		SuccessCount:   r.SuccessCount,
		FailureCount:   r.FailureCount,
		Timestamp:      r.Timestamp,
	}
}

type memberRow struct {
	bun.BaseModel `bun:"table:member_notifications"`

	ID        int64     `bun:"id,pk,autoincrement"`
	UserID    int64     `bun:"user_id,unique,notnull"`
	Handle    string    `bun:"handle"`
	FirstName string    `bun:"first_name"`
	LastName  string    `bun:"last_name"`
	JoinedAt  time.Time `bun:"joined_at,notnull"`
	Notified  bool      `bun:"notified,notnull,default:false"`
}

func (m *memberRow) toModel() models.MemberNotification {
	return models.MemberNotification{
		ID:        m.ID,
		UserID:    m.UserID,
		Handle:    m.Handle,
		FirstName: m.FirstName,
		LastName:  m.LastName,
		JoinedAt:  m.JoinedAt,
		Notified:  m.Notified,
	}
}
