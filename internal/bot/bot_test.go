package bot

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"relaybot/internal/apperr"
	"relaybot/internal/broadcast"
	"relaybot/internal/chatapi"
	"relaybot/internal/gateway"
	gwstubs "relaybot/internal/gateway/stubs"
	"relaybot/internal/lifecycle"
	"relaybot/internal/models"
	"relaybot/internal/persona"
	"relaybot/internal/registry"
	"relaybot/internal/storage/stubs"
)

const (
	adminID     = int64(1)
	userID      = int64(50)
	tenantToken = "100001:AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
)

type fakeChat struct {
	mu      sync.Mutex
	prompts []string
	opts    []chatapi.Options
	answer  string
}

func (f *fakeChat) Reply(ctx context.Context, prompt string, opts chatapi.Options) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	f.opts = append(f.opts, opts)
	if f.answer != "" {
		return f.answer
	}
	return "echo: " + prompt
}

func (f *fakeChat) lastOptions() chatapi.Options {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.opts) == 0 {
		return chatapi.Options{}
	}
	return f.opts[len(f.opts)-1]
}

type fakeGateway struct{}

func (fakeGateway) ResolveIdentity(ctx context.Context, credential string) (gateway.Identity, error) {
	return gateway.Identity{ID: 7, Name: "Tenant", Handle: "tenant_bot"}, nil
}

func (fakeGateway) Forget(credential string) {}

type fakeSender struct {
	mu   sync.Mutex
	sent []int64
}

func (f *fakeSender) SendText(ctx context.Context, credential string, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, chatID)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type testEnv struct {
	bot       *Bot
	db        *stubs.MockDB
	analytics *stubs.MockAnalytics
	client    *gwstubs.Client
	reg       *registry.Registry
	chat      *fakeChat
	sender    *fakeSender
}

func newTestBot(t *testing.T) *testEnv {
	t.Helper()

	db := stubs.NewMockDB()
	if err := db.Initialize(context.Background()); err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}
	analytics := stubs.NewMockAnalytics()
	chat := &fakeChat{}
	sender := &fakeSender{}
	logger := zap.NewNop()

	reg := registry.New(gwstubs.NewFactory().NewClient, NewTenantHandlers(db, analytics, chat, "assistant", logger), time.Second, logger)
	t.Cleanup(reg.StopAll)

	client := gwstubs.NewClient(gateway.Identity{ID: 1000, Name: "Relay", Handle: "relay_bot"})
	b := NewBot(client, Services{
		Store:      db,
		Analytics:  analytics,
		Lifecycle:  lifecycle.NewService(db, reg, fakeGateway{}, logger),
		Broadcasts: broadcast.NewService(db, analytics, sender, "primary", 0, logger),
		Chat:       chat,
		Personas:   persona.NewMemoryStore(),
	}, Settings{
		AdminIDs:       []int64{adminID},
		DefaultPersona: "assistant",
	}, logger)
	t.Cleanup(b.Close)

	return &testEnv{bot: b, db: db, analytics: analytics, client: client, reg: reg, chat: chat, sender: sender}
}

// command builds a message the way Telegram delivers a bot command
func command(from int64, text string) *tgbotapi.Message {
	name, _, _ := strings.Cut(text, " ")
	msg := textMessage(from, text)
	msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}}
	return msg
}

func textMessage(from int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 10,
		From:      &tgbotapi.User{ID: from, FirstName: "Test", UserName: "tester"},
		Chat:      &tgbotapi.Chat{ID: from},
		Text:      text,
	}
}

func (e *testEnv) send(msg *tgbotapi.Message) {
	e.bot.HandleUpdate(context.Background(), tgbotapi.Update{Message: msg})
}

func (e *testEnv) lastReply(t *testing.T, chatID int64) string {
	t.Helper()
	texts := e.client.SentTo(chatID)
	if len(texts) == 0 {
		t.Fatalf("Expected a reply to chat %d", chatID)
	}
	return texts[len(texts)-1]
}

func TestBot_RelayUpdatesUserAndReplies(t *testing.T) {
	env := newTestBot(t)

	env.send(textMessage(userID, "hello"))

	user, err := env.db.GetUser(context.Background(), userID)
	if err != nil {
		t.Fatalf("Expected user to be stored: %v", err)
	}
	if user.MessageCount != 1 {
		t.Errorf("Expected message count 1, got %d", user.MessageCount)
	}

	if got := env.lastReply(t, userID); got != "echo: hello" {
		t.Errorf("Expected relayed answer, got %q", got)
	}
	if got := env.chat.lastOptions().Persona; got != "assistant" {
		t.Errorf("Expected default persona, got %q", got)
	}

	typing := false
	for _, req := range env.client.Requests() {
		if action, ok := req.(tgbotapi.ChatActionConfig); ok && action.Action == tgbotapi.ChatTyping {
			typing = true
		}
	}
	if !typing {
		t.Error("Expected typing indicator before the reply")
	}

	if len(env.analytics.Interactions()) != 1 {
		t.Errorf("Expected one interaction event, got %d", len(env.analytics.Interactions()))
	}
}

func TestBot_RelaySplitsLongAnswers(t *testing.T) {
	env := newTestBot(t)
	env.chat.answer = strings.Repeat("a", gateway.MaxMessageLength+10)

	env.send(textMessage(userID, "tell me everything"))

	texts := env.client.SentTo(userID)
	if len(texts) != 2 {
		t.Fatalf("Expected 2 chunks, got %d", len(texts))
	}
	if len([]rune(texts[0])) != gateway.MaxMessageLength || len([]rune(texts[1])) != 10 {
		t.Errorf("Unexpected chunk sizes %d and %d", len(texts[0]), len(texts[1]))
	}
}

func TestBot_BannedUserIsNotRelayed(t *testing.T) {
	env := newTestBot(t)
	ctx := context.Background()

	env.send(textMessage(userID, "first"))
	if err := env.db.SetUserBanned(ctx, userID, true); err != nil {
		t.Fatalf("Failed to ban user: %v", err)
	}

	env.send(textMessage(userID, "second"))

	if got := env.lastReply(t, userID); got != bannedReply {
		t.Errorf("Expected banned reply, got %q", got)
	}
	if len(env.chat.prompts) != 1 {
		t.Errorf("Expected only the first prompt to reach the backend, got %d", len(env.chat.prompts))
	}
}

func TestBot_StartNotifiesAdminsOnce(t *testing.T) {
	env := newTestBot(t)
	ctx := context.Background()

	env.send(command(userID, "/start"))
	env.send(command(userID, "/start"))

	if !strings.Contains(env.lastReply(t, userID), "Welcome Test") {
		t.Errorf("Expected welcome message, got %q", env.lastReply(t, userID))
	}

	notes := env.client.SentTo(adminID)
	if len(notes) != 1 {
		t.Fatalf("Expected one admin notification, got %d", len(notes))
	}
	if !strings.Contains(notes[0], "New member joined") {
		t.Errorf("Unexpected notification %q", notes[0])
	}

	members, err := env.db.RecentMembers(ctx, 10)
	if err != nil {
		t.Fatalf("Failed to list members: %v", err)
	}
	if len(members) != 1 || !members[0].Notified {
		t.Errorf("Expected one notified member, got %+v", members)
	}
}

func TestBot_AdminCommandsRequireAllowlist(t *testing.T) {
	env := newTestBot(t)

	for _, cmd := range []string{"/approvebot 1", "/broadcast", "/ban 3", "/stats"} {
		env.client.Reset()
		env.send(command(userID, cmd))
		if got := env.lastReply(t, userID); got != apperr.Message(apperr.ErrUnauthorized) {
			t.Errorf("%s: expected unauthorized reply, got %q", cmd, got)
		}
	}
	if _, ok := env.bot.state(userID); ok {
		t.Error("Expected no conversation for an unauthorized /broadcast")
	}
}

func TestBot_InvalidIDArgument(t *testing.T) {
	env := newTestBot(t)

	env.send(command(adminID, "/enablebot abc"))

	got := env.lastReply(t, adminID)
	if !strings.Contains(got, "must be a number") || !strings.Contains(got, "/enablebot <bot_id>") {
		t.Errorf("Expected validation message with usage, got %q", got)
	}
}

func TestBot_PersonaCommands(t *testing.T) {
	env := newTestBot(t)

	env.send(command(userID, "/persona pirate"))
	if got := env.lastReply(t, userID); got != "✅ Persona set to: pirate" {
		t.Errorf("Unexpected reply %q", got)
	}

	env.send(textMessage(userID, "ahoy"))
	if got := env.chat.lastOptions().Persona; got != "pirate" {
		t.Errorf("Expected persona pirate, got %q", got)
	}

	env.send(command(userID, "/reset"))
	env.send(textMessage(userID, "hello again"))
	if got := env.chat.lastOptions().Persona; got != "assistant" {
		t.Errorf("Expected default persona after reset, got %q", got)
	}
}

func TestBot_PersonaAllowlist(t *testing.T) {
	env := newTestBot(t)
	env.bot.allowedPersona = map[string]bool{"assistant": true, "tutor": true}

	env.send(command(userID, "/persona pirate"))
	if got := env.lastReply(t, userID); !strings.Contains(got, "Unknown persona") {
		t.Errorf("Expected unknown persona reply, got %q", got)
	}
}

func TestBot_TenantBotLifecycle(t *testing.T) {
	env := newTestBot(t)
	ctx := context.Background()

	env.send(command(userID, "/registerbot "+tenantToken))
	if got := env.lastReply(t, userID); !strings.Contains(got, "Bot registered") {
		t.Fatalf("Expected registration reply, got %q", got)
	}
	if notes := env.client.SentTo(adminID); len(notes) != 1 || !strings.Contains(notes[0], "/approvebot 1") {
		t.Errorf("Expected admin registration notice, got %v", notes)
	}

	env.send(command(userID, "/mybots"))
	if got := env.lastReply(t, userID); !strings.Contains(got, "@tenant_bot") {
		t.Errorf("Expected bot in /mybots, got %q", got)
	}

	env.send(command(adminID, "/enablebot 1"))
	if got := env.lastReply(t, adminID); got != apperr.Message(apperr.ErrNotApproved) {
		t.Errorf("Expected not approved reply, got %q", got)
	}

	env.send(command(adminID, "/approvebot 1"))
	env.send(command(adminID, "/enablebot 1"))
	if !env.reg.IsRunning(1) {
		t.Fatal("Expected bot 1 to be running")
	}

	env.send(command(adminID, "/botstatus 1"))
	if got := env.lastReply(t, adminID); !strings.Contains(got, "Running") {
		t.Errorf("Expected running status, got %q", got)
	}

	env.send(command(adminID, "/disablebot 1"))
	if env.reg.IsRunning(1) {
		t.Error("Expected bot 1 to be stopped")
	}
	stored, err := env.db.GetClientBot(ctx, 1)
	if err != nil {
		t.Fatalf("Failed to load bot: %v", err)
	}
	if stored.IsActive {
		t.Error("Expected bot 1 to be inactive")
	}

	env.send(command(adminID, "/deletebot 1"))
	if _, err := env.db.GetClientBot(ctx, 1); err == nil {
		t.Error("Expected bot 1 to be deleted")
	}
}

func TestBot_BroadcastConversation(t *testing.T) {
	env := newTestBot(t)
	ctx := context.Background()

	for _, id := range []int64{11, 12, 13} {
		if _, err := env.db.TouchUser(ctx, models.Profile{UserID: id}, false, time.Now()); err != nil {
			t.Fatalf("Failed to add user: %v", err)
		}
	}

	env.send(command(adminID, "/broadcast"))
	state, ok := env.bot.state(adminID)
	if !ok || state.Command != "broadcast" || state.Step != 1 {
		t.Fatalf("Expected broadcast conversation at step 1, got %+v", state)
	}

	env.send(textMessage(adminID, "Maintenance tonight"))
	state, _ = env.bot.state(adminID)
	if state.Step != 2 {
		t.Fatalf("Expected step 2, got %d", state.Step)
	}
	sent := env.client.Sent()
	preview := sent[len(sent)-1]
	if !strings.Contains(preview.Text, "Will be sent to: 3 users") {
		t.Errorf("Unexpected preview %q", preview.Text)
	}
	if _, ok := preview.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup); !ok {
		t.Error("Expected Confirm/Cancel keyboard on the preview")
	}

	env.bot.HandleUpdate(ctx, tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb1",
		From:    &tgbotapi.User{ID: adminID},
		Message: &tgbotapi.Message{MessageID: 99, Chat: &tgbotapi.Chat{ID: adminID}},
		Data:    callbackBroadcastConfirm,
	}})
	env.bot.Wait()

	if env.sender.count() != 3 {
		t.Errorf("Expected 3 deliveries, got %d", env.sender.count())
	}
	if got := env.lastReply(t, adminID); !strings.Contains(got, "Successful: 3") {
		t.Errorf("Expected broadcast summary, got %q", got)
	}
	if _, ok := env.bot.state(adminID); ok {
		t.Error("Expected conversation to be cleared")
	}

	history, err := env.db.ListBroadcasts(ctx, adminID, 10)
	if err != nil || len(history) != 1 {
		t.Fatalf("Expected one broadcast record, got %d (%v)", len(history), err)
	}
}

func TestBot_BroadcastCancel(t *testing.T) {
	env := newTestBot(t)
	ctx := context.Background()

	env.send(command(adminID, "/broadcast"))
	env.send(textMessage(adminID, "never mind"))

	env.bot.HandleUpdate(ctx, tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb2",
		From:    &tgbotapi.User{ID: adminID},
		Message: &tgbotapi.Message{MessageID: 99, Chat: &tgbotapi.Chat{ID: adminID}},
		Data:    callbackBroadcastCancel,
	}})
	env.bot.Wait()

	if got := env.lastReply(t, adminID); got != "❌ Broadcast cancelled." {
		t.Errorf("Unexpected reply %q", got)
	}
	if env.sender.count() != 0 {
		t.Errorf("Expected no deliveries, got %d", env.sender.count())
	}
}

func TestBot_CancelCommandEndsConversation(t *testing.T) {
	env := newTestBot(t)

	env.send(command(adminID, "/broadcast"))
	env.send(command(adminID, "/cancel"))

	if _, ok := env.bot.state(adminID); ok {
		t.Error("Expected conversation to be cleared")
	}
	if got := env.lastReply(t, adminID); got != "❌ Cancelled." {
		t.Errorf("Unexpected reply %q", got)
	}
}

func TestBot_BanCommand(t *testing.T) {
	env := newTestBot(t)
	ctx := context.Background()

	env.send(textMessage(userID, "hi"))
	env.send(command(adminID, "/ban 50"))

	user, err := env.db.GetUser(ctx, userID)
	if err != nil {
		t.Fatalf("Failed to load user: %v", err)
	}
	if !user.IsBanned {
		t.Error("Expected user to be banned")
	}

	env.send(command(adminID, "/unban 50"))
	user, _ = env.db.GetUser(ctx, userID)
	if user.IsBanned {
		t.Error("Expected user to be unbanned")
	}

	env.send(command(adminID, "/ban 999"))
	if got := env.lastReply(t, adminID); !strings.Contains(got, "not found") {
		t.Errorf("Expected not found reply, got %q", got)
	}
}

func TestTenantHandlers_CountUsersAndRelay(t *testing.T) {
	db := stubs.NewMockDB()
	analytics := stubs.NewMockAnalytics()
	chat := &fakeChat{}
	ctx := context.Background()

	botID, err := db.CreateClientBot(ctx, models.TenantBot{Credential: tenantToken})
	if err != nil {
		t.Fatalf("Failed to create bot: %v", err)
	}

	client := gwstubs.NewClient(gateway.Identity{Handle: "tenant_bot"})
	handler := NewTenantHandlers(db, analytics, chat, "assistant", zap.NewNop()).HandlerFor(botID, client)

	handler(ctx, tgbotapi.Update{Message: command(userID, "/start")})
	handler(ctx, tgbotapi.Update{Message: textMessage(userID, "question")})
	handler(ctx, tgbotapi.Update{Message: textMessage(userID+1, "another")})

	bot, err := db.GetClientBot(ctx, botID)
	if err != nil {
		t.Fatalf("Failed to load bot: %v", err)
	}
	if bot.TotalUsers != 2 {
		t.Errorf("Expected 2 users, got %d", bot.TotalUsers)
	}
	if bot.TotalMessages != 3 {
		t.Errorf("Expected 3 messages, got %d", bot.TotalMessages)
	}

	texts := client.SentTo(userID)
	if len(texts) != 2 || !strings.Contains(texts[0], "Welcome") || texts[1] != "echo: question" {
		t.Errorf("Unexpected replies %v", texts)
	}

	events := analytics.Interactions()
	if len(events) != 2 || events[0].BotID != botID {
		t.Errorf("Expected 2 interactions for bot %d, got %+v", botID, events)
	}
}

func TestBot_BroadcastConfirmRacesWithText(t *testing.T) {
	env := newTestBot(t)
	ctx := context.Background()

	if _, err := env.db.TouchUser(ctx, models.Profile{UserID: 11}, false, time.Now()); err != nil {
		t.Fatalf("Failed to add user: %v", err)
	}

	confirm := tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb3",
		From:    &tgbotapi.User{ID: adminID},
		Message: &tgbotapi.Message{MessageID: 99, Chat: &tgbotapi.Chat{ID: adminID}},
		Data:    callbackBroadcastConfirm,
	}}

	// Webhook mode dispatches every update on its own goroutine
	for i := 0; i < 20; i++ {
		env.send(command(adminID, "/broadcast"))
		env.send(textMessage(adminID, "first draft"))

		var wg sync.WaitGroup
		wg.Add(3)
		go func() {
			defer wg.Done()
			env.send(textMessage(adminID, "second draft"))
		}()
		go func() {
			defer wg.Done()
			env.bot.HandleUpdate(ctx, confirm)
		}()
		go func() {
			defer wg.Done()
			env.bot.HandleUpdate(ctx, confirm)
		}()
		wg.Wait()
		env.bot.Wait()

		if _, ok := env.bot.state(adminID); ok {
			t.Fatalf("Round %d: expected the confirmed broadcast to end the conversation", i)
		}
	}

	history, err := env.db.ListBroadcasts(ctx, adminID, 100)
	if err != nil {
		t.Fatalf("Failed to list broadcasts: %v", err)
	}
	if len(history) != 20 {
		t.Errorf("Expected one broadcast per confirmed preview, got %d", len(history))
	}
	for _, record := range history {
		if record.MessageText != "first draft" {
			t.Errorf("Expected the previewed text to be sent, got %q", record.MessageText)
		}
	}
}

func TestTenantHandlers_StoreFailureSkipsRelay(t *testing.T) {
	db := stubs.NewMockDB()
	analytics := stubs.NewMockAnalytics()
	chat := &fakeChat{}
	ctx := context.Background()

	client := gwstubs.NewClient(gateway.Identity{Handle: "tenant_bot"})
	// Bot 999 has no stored row, so recording the user fails
	handler := NewTenantHandlers(db, analytics, chat, "assistant", zap.NewNop()).HandlerFor(999, client)

	handler(ctx, tgbotapi.Update{Message: textMessage(userID, "question")})

	chat.mu.Lock()
	prompts := len(chat.prompts)
	chat.mu.Unlock()
	if prompts != 0 {
		t.Errorf("Expected no chat backend call, got %d", prompts)
	}

	texts := client.SentTo(userID)
	if len(texts) != 1 || !strings.Contains(texts[0], "not found") {
		t.Errorf("Expected a single error reply, got %v", texts)
	}
	if events := analytics.Interactions(); len(events) != 0 {
		t.Errorf("Expected no interaction events, got %+v", events)
	}
}
