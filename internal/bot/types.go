package bot

import (
	"context"
	"maps"
	"sync"

	"go.uber.org/zap"

	"relaybot/internal/broadcast"
	"relaybot/internal/chatapi"
	"relaybot/internal/gateway"
	"relaybot/internal/lifecycle"
	"relaybot/internal/persona"
	"relaybot/internal/storage"
)

// Chatter produces the reply text for a user prompt
type Chatter interface {
	Reply(ctx context.Context, prompt string, opts chatapi.Options) string
}

// Bot represents the primary Telegram bot: chat relay, owner self-service and admin commands
type Bot struct {
	client     gateway.Client
	db         storage.Storage
	analytics  storage.Analytics
	lifecycle  *lifecycle.Service
	broadcasts *broadcast.Service
	chat       Chatter
	personas   persona.Store

	admins         map[int64]bool
	defaultPersona string
	allowedPersona map[string]bool // Empty means any persona name is accepted

	states   map[int64]ConversationState
	statesMu sync.RWMutex

	// Long running jobs (broadcasts) run outside the update loop
	jobs       sync.WaitGroup
	jobsCtx    context.Context
	cancelJobs context.CancelFunc

	logger *zap.Logger
}

// ConversationState tracks the state of multi-step commands.
// Handlers work on copies and store changes back through the Bot.
type ConversationState struct {
	Command string
	Step    int
	Data    map[string]interface{}
}

func (s ConversationState) clone() ConversationState {
	s.Data = maps.Clone(s.Data)
	return s
}

// Services groups the collaborators the bot dispatches to
type Services struct {
	Store      storage.Storage
	Analytics  storage.Analytics
	Lifecycle  *lifecycle.Service
	Broadcasts *broadcast.Service
	Chat       Chatter
	Personas   persona.Store
}

// Settings holds the static bot configuration
type Settings struct {
	AdminIDs       []int64
	DefaultPersona string
	Personas       []string
}
