package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"relaybot/internal/apperr"
)

// ErrRateLimited is returned when Telegram asks the caller to slow down
var ErrRateLimited = errors.New("rate limited by telegram")

var credentialPattern = regexp.MustCompile(`^\d+:[A-Za-z0-9_-]{30,}$`)

// ValidateCredential checks the shape of a bot token without calling Telegram
func ValidateCredential(credential string) error {
	if !credentialPattern.MatchString(credential) {
		return fmt.Errorf("malformed bot token: %w", apperr.ErrValidation)
	}
	return nil
}

// Classify maps a Telegram API or transport error onto the application taxonomy
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusNotFound:
			return fmt.Errorf("%w: %s", apperr.ErrInvalidCredential, apiErr.Message)
		case apiErr.Code == http.StatusTooManyRequests:
			return fmt.Errorf("%w: retry after %ds", ErrRateLimited, apiErr.RetryAfter)
		case apiErr.Code >= http.StatusInternalServerError:
			return fmt.Errorf("%w: %s", apperr.ErrAdapterUnavailable, apiErr.Message)
		}
		return fmt.Errorf("telegram error %d: %s", apiErr.Code, apiErr.Message)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", apperr.ErrAdapterTimeout, err)
	}
	return fmt.Errorf("%w: %v", apperr.ErrAdapterUnavailable, err)
}

// Telegram talks to the Bot API on behalf of any number of bot credentials
type Telegram struct {
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger

	mu      sync.Mutex
	senders map[string]*tgbotapi.BotAPI
}

// NewTelegram creates a Bot API adapter. An empty endpoint means the public API.
func NewTelegram(endpoint string, httpClient *http.Client, logger *zap.Logger) *Telegram {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 75 * time.Second}
	}
	return &Telegram{
		endpoint:   endpoint,
		httpClient: httpClient,
		logger:     logger,
		senders:    make(map[string]*tgbotapi.BotAPI),
	}
}

func (t *Telegram) connect(credential string) (*tgbotapi.BotAPI, error) {
	if err := ValidateCredential(credential); err != nil {
		return nil, err
	}
	api, err := tgbotapi.NewBotAPIWithClient(credential, t.endpoint, t.httpClient)
	if err != nil {
		return nil, Classify(err)
	}
	return api, nil
}

// ResolveIdentity calls getMe for the credential
func (t *Telegram) ResolveIdentity(ctx context.Context, credential string) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	api, err := t.connect(credential)
	if err != nil {
		return Identity{}, err
	}
	return identityOf(api), nil
}

// SendText sends text through the bot owning credential.
// API handles are cached per credential; Forget drops one.
func (t *Telegram) SendText(ctx context.Context, credential string, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	api, ok := t.senders[credential]
	t.mu.Unlock()

	if !ok {
		var err error
		api, err = t.connect(credential)
		if err != nil {
			return err
		}
		t.mu.Lock()
		t.senders[credential] = api
		t.mu.Unlock()
	}

	return SendText(&tgClient{api: api}, chatID, text)
}

// Forget drops the cached API handle for credential
func (t *Telegram) Forget(credential string) {
	t.mu.Lock()
	delete(t.senders, credential)
	t.mu.Unlock()
}

// NewClient connects a fresh client for credential
func (t *Telegram) NewClient(credential string) (Client, error) {
	api, err := t.connect(credential)
	if err != nil {
		return nil, err
	}
	return &tgClient{api: api, logger: t.logger.With(zap.String("bot_username", api.Self.UserName))}, nil
}

func identityOf(api *tgbotapi.BotAPI) Identity {
	return Identity{
		ID:     api.Self.ID,
		Name:   api.Self.FirstName,
		Handle: api.Self.UserName,
	}
}

type tgClient struct {
	api      *tgbotapi.BotAPI
	logger   *zap.Logger
	stopOnce sync.Once
}

func (c *tgClient) Self() Identity {
	return identityOf(c.api)
}

func (c *tgClient) Online(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.api.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: true}); err != nil {
		return fmt.Errorf("failed to delete webhook: %w", Classify(err))
	}
	return nil
}

func (c *tgClient) Listen(ctx context.Context, handler UpdateHandler) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := c.api.GetUpdatesChan(u)
	for {
		select {
		case <-ctx.Done():
			c.Close()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			c.dispatch(ctx, handler, update)
		}
	}
}

func (c *tgClient) dispatch(ctx context.Context, handler UpdateHandler, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Panic in update handler",
				zap.Any("panic", r),
				zap.Int("update_id", update.UpdateID),
			)
		}
	}()
	handler(ctx, update)
}

func (c *tgClient) Send(msg tgbotapi.Chattable) error {
	if _, err := c.api.Send(msg); err != nil {
		return Classify(err)
	}
	return nil
}

func (c *tgClient) Request(msg tgbotapi.Chattable) error {
	if _, err := c.api.Request(msg); err != nil {
		return Classify(err)
	}
	return nil
}

func (c *tgClient) SetWebhook(url string) error {
	webhookConfig, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", apperr.ErrValidation)
	}
	webhookConfig.MaxConnections = 40

	if _, err := c.api.Request(webhookConfig); err != nil {
		return Classify(err)
	}
	return nil
}

func (c *tgClient) Close() {
	c.stopOnce.Do(c.api.StopReceivingUpdates)
}
