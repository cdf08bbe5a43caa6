// Package apperr defines the error taxonomy shared by the store, the bot
// registry, the lifecycle commands and the chat handlers.
package apperr

import (
	"errors"
)

var (
	// ErrValidation reports malformed input such as a non-numeric id.
	ErrValidation = errors.New("invalid input")
	// ErrNotFound reports an unknown user or client bot id.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate reports a credential that is already registered.
	ErrDuplicate = errors.New("already registered")
	// ErrUnauthorized reports a non-admin invoking an admin operation.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidCredential reports a bot token rejected by the gateway.
	ErrInvalidCredential = errors.New("invalid bot token")
	// ErrNotApproved reports an enable attempt on a bot awaiting approval.
	ErrNotApproved = errors.New("bot not approved")
	// ErrAlreadyRunning reports a start for an id that already has a live handle.
	ErrAlreadyRunning = errors.New("bot already running")
	// ErrNotRunning reports a stop for an id without a live handle.
	ErrNotRunning = errors.New("bot not running")
	// ErrBusy reports a start or stop for an id that another start or stop holds.
	ErrBusy = errors.New("bot is starting or stopping")
	// ErrPersistence reports a failed store read or write.
	ErrPersistence = errors.New("storage failure")
	// ErrAdapterTimeout reports an external call that exceeded its deadline.
	ErrAdapterTimeout = errors.New("upstream timeout")
	// ErrAdapterUnavailable reports an unreachable or misbehaving external service.
	ErrAdapterUnavailable = errors.New("upstream unavailable")
)

var messages = []struct {
	err  error
	text string
}{
	{ErrUnauthorized, "⛔ Unauthorized access!"},
	{ErrValidation, "❌ Invalid input"},
	{ErrNotFound, "❌ Not found"},
	{ErrDuplicate, "❌ Bot token already registered"},
	{ErrInvalidCredential, "❌ Invalid bot token"},
	{ErrNotApproved, "❌ Bot not approved yet"},
	{ErrAlreadyRunning, "⚠️ Bot is already running"},
	{ErrNotRunning, "⚠️ Bot is not running"},
	{ErrBusy, "⏳ Bot is starting or stopping, try again in a moment"},
	{ErrPersistence, "❌ Database error, please try again later"},
	{ErrAdapterTimeout, "⏱️ Upstream service timed out, please try again"},
	{ErrAdapterUnavailable, "❌ Upstream service unavailable, please try again"},
}

// Message maps err to a short sentence suitable for a chat reply.
// Validation and not-found errors keep their detail so the caller knows what to fix.
func Message(err error) string {
	if err == nil {
		return ""
	}
	for _, m := range messages {
		if errors.Is(err, m.err) {
			if errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) {
				return "❌ " + err.Error()
			}
			return m.text
		}
	}
	return "❌ Something went wrong, please try again later"
}
