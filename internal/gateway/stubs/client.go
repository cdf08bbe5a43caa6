package stubs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"relaybot/internal/gateway"
)

// SentMessage is a text message captured by Client
type SentMessage struct {
	ChatID      int64
	Text        string
	ReplyMarkup interface{}
}

// Client is an in-memory gateway.Client for tests
type Client struct {
	mu        sync.Mutex
	identity  gateway.Identity
	sent      []SentMessage
	requests  []tgbotapi.Chattable
	handler   gateway.UpdateHandler
	closed    bool
	handedOut bool

	// OnlineErr is returned by Online
	OnlineErr error
	// FailChats makes Send fail for the listed chat ids
	FailChats map[int64]bool
	// IgnoreCancel makes Listen ignore context cancellation until Release is called
	IgnoreCancel bool

	listening chan struct{}
	release   chan struct{}
}

// NewClient creates a fake client for the given identity
func NewClient(identity gateway.Identity) *Client {
	return &Client{
		identity:  identity,
		FailChats: make(map[int64]bool),
		listening: make(chan struct{}),
		release:   make(chan struct{}),
	}
}

// Self returns the configured identity
func (c *Client) Self() gateway.Identity {
	return c.identity
}

// Online returns OnlineErr
func (c *Client) Online(ctx context.Context) error {
	return c.OnlineErr
}

// Listen stores the handler and blocks until ctx is done
func (c *Client) Listen(ctx context.Context, handler gateway.UpdateHandler) {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
	close(c.listening)

	if c.IgnoreCancel {
		<-c.release
		return
	}
	<-ctx.Done()
}

// Listening is closed once Listen has been called
func (c *Client) Listening() <-chan struct{} {
	return c.listening
}

// Release unblocks a Listen that ignores cancellation
func (c *Client) Release() {
	close(c.release)
}

// Deliver passes an update to the handler installed by Listen
func (c *Client) Deliver(ctx context.Context, update tgbotapi.Update) error {
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	if handler == nil {
		return errors.New("client is not listening")
	}
	handler(ctx, update)
	return nil
}

// Send records text messages; other chattables are recorded as requests
func (c *Client) Send(msg tgbotapi.Chattable) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch m := msg.(type) {
	case tgbotapi.MessageConfig:
		if c.FailChats[m.ChatID] {
			return fmt.Errorf("chat %d: forbidden", m.ChatID)
		}
		c.sent = append(c.sent, SentMessage{ChatID: m.ChatID, Text: m.Text, ReplyMarkup: m.ReplyMarkup})
	case tgbotapi.EditMessageTextConfig:
		c.sent = append(c.sent, SentMessage{ChatID: m.ChatID, Text: m.Text})
	default:
		c.requests = append(c.requests, msg)
	}
	return nil
}

// Request records the call
func (c *Client) Request(msg tgbotapi.Chattable) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, msg)
	return nil
}

// SetWebhook does nothing
func (c *Client) SetWebhook(url string) error {
	return nil
}

// Close marks the client closed
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// Closed reports whether Close was called
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Sent returns a copy of the recorded messages
func (c *Client) Sent() []SentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SentMessage(nil), c.sent...)
}

// SentTo returns the texts sent to one chat
func (c *Client) SentTo(chatID int64) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var texts []string
	for _, m := range c.sent {
		if m.ChatID == chatID {
			texts = append(texts, m.Text)
		}
	}
	return texts
}

// Requests returns a copy of the recorded non-message calls
func (c *Client) Requests() []tgbotapi.Chattable {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]tgbotapi.Chattable(nil), c.requests...)
}

// Reset forgets recorded messages and requests
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = nil
	c.requests = nil
}

// Factory hands out fake clients per credential
type Factory struct {
	mu      sync.Mutex
	clients map[string]*Client
	created []string

	// Fail maps a credential to the error NewClient returns for it
	Fail map[string]error
	// Panic makes NewClient panic for the listed credentials
	Panic map[string]bool
}

// NewFactory creates an empty factory
func NewFactory() *Factory {
	return &Factory{
		clients: make(map[string]*Client),
		Fail:    make(map[string]error),
		Panic:   make(map[string]bool),
	}
}

// NewClient returns a fresh fake client for credential
func (f *Factory) NewClient(credential string) (gateway.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Panic[credential] {
		panic("broken credential " + credential)
	}
	if err := f.Fail[credential]; err != nil {
		return nil, err
	}

	client := NewClient(gateway.Identity{Name: "Tenant", Handle: "tenant_bot"})
	if prepared, ok := f.clients[credential]; ok && !prepared.used() {
		client = prepared
	}
	client.markUsed()
	f.clients[credential] = client
	f.created = append(f.created, credential)
	return client, nil
}

// Prepare registers the client NewClient returns next for credential
func (f *Factory) Prepare(credential string, client *Client) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clients[credential] = client
}

// Client returns the latest client created for credential
func (f *Factory) Client(credential string) *Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[credential]
}

// Created returns how many clients were constructed
func (f *Factory) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func (c *Client) used() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handedOut
}

func (c *Client) markUsed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handedOut = true
}
