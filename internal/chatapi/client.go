package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"relaybot/internal/apperr"
	"relaybot/internal/metrics"
)

// Replies shown to users when the backend cannot answer
const (
	TimeoutReply     = "⏱️ The assistant took too long to answer. Please try again in a moment."
	UnavailableReply = "❌ The assistant is unavailable right now. Please try again later."
	BadStatusReply   = "❌ The assistant could not process your message. Please try again later."
	EmptyReply       = "No response received"
)

// ErrBadStatus is returned when the backend answers with a non-200 status
var ErrBadStatus = errors.New("chat backend returned an error status")

// Options tune a single completion request
type Options struct {
	Persona     string
	Temperature float64
	MaxTokens   int
}

// Request is the JSON body sent to the chat endpoint
type Request struct {
	Message     string   `json:"message"`
	Persona     string   `json:"persona,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

// Response is the JSON body returned by the chat endpoint.
// Older backends answer with "answer" instead of "response".
type Response struct {
	Response string `json:"response"`
	Answer   string `json:"answer"`
}

// Text returns whichever reply field is set
func (r Response) Text() string {
	if r.Response != "" {
		return r.Response
	}
	return r.Answer
}

// Client calls the chat completion backend
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Defaults   Options
	logger     *zap.Logger
}

// DefaultTimeout bounds requests when NewClient is given a non-positive timeout
const DefaultTimeout = 30 * time.Second

// NewClient creates a backend client. Every request is bounded by timeout.
func NewClient(baseURL string, timeout time.Duration, defaults Options, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
		Defaults:   defaults,
		logger:     logger.Named("chatapi"),
	}
}

// Complete sends prompt to the backend and returns the completion text.
// Errors wrap apperr.ErrAdapterTimeout, apperr.ErrAdapterUnavailable or ErrBadStatus.
func (c *Client) Complete(ctx context.Context, prompt string, opts Options) (text string, err error) {
	done := metrics.TrackChatBackend()
	defer func() { done(outcome(err)) }()

	body := Request{Message: prompt, Persona: c.Defaults.Persona}
	if opts.Persona != "" {
		body.Persona = opts.Persona
	}
	if t := pick(opts.Temperature, c.Defaults.Temperature); t != 0 {
		body.Temperature = &t
	}
	if n := int(pick(float64(opts.MaxTokens), float64(c.Defaults.MaxTokens))); n != 0 {
		body.MaxTokens = &n
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return "", fmt.Errorf("%w: %v", apperr.ErrAdapterTimeout, err)
		}
		return "", fmt.Errorf("%w: %v", apperr.ErrAdapterUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return "", fmt.Errorf("%w: %v", apperr.ErrAdapterTimeout, err)
		}
		return "", fmt.Errorf("%w: %v", apperr.ErrAdapterUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %d %s", ErrBadStatus, resp.StatusCode, truncate(string(raw), 200))
	}

	var decoded Response
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("%w: invalid JSON: %v", ErrBadStatus, err)
	}
	return decoded.Text(), nil
}

// Reply is Complete for chat users: failures become fixed fallback texts and never an error
func (c *Client) Reply(ctx context.Context, prompt string, opts Options) string {
	text, err := c.Complete(ctx, prompt, opts)
	switch {
	case err == nil && text == "":
		return EmptyReply
	case err == nil:
		return text
	case errors.Is(err, apperr.ErrAdapterTimeout):
		c.logger.Warn("Chat backend timed out", zap.Error(err))
		return TimeoutReply
	case errors.Is(err, ErrBadStatus):
		c.logger.Error("Chat backend returned an error", zap.Error(err))
		return BadStatusReply
	default:
		c.logger.Error("Chat backend unavailable", zap.Error(err))
		return UnavailableReply
	}
}

func pick(value, fallback float64) float64 {
	if value != 0 {
		return value
	}
	return fallback
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, apperr.ErrAdapterTimeout):
		return "timeout"
	case errors.Is(err, ErrBadStatus):
		return "bad_status"
	default:
		return "unavailable"
	}
}

// truncate shortens s to at most n bytes without splitting a rune
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
