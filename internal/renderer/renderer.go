package renderer

import (
	"context"
	"errors"
	"time"
)

// Handle is an opaque reference to an element inside the current document.
// A nil Handle used as a scope means the whole document.
type Handle any

// ErrNotFound is returned when a selector matches nothing.
var ErrNotFound = errors.New("element not found")

// Renderer is a stateful handle to one navigable back-office session.
// Implementations are not safe for concurrent use; a single worker drives it.
type Renderer interface {
	// Navigate loads target, which may be absolute or relative to the site base.
	Navigate(ctx context.Context, target string) error

	// IsSessionValid reports whether the current session is authenticated.
	IsSessionValid(ctx context.Context) bool

	// QueryAll returns every element under scope matching selector, in
	// document order.
	QueryAll(ctx context.Context, scope Handle, selector string) ([]Handle, error)

	// Query returns the first element under scope matching selector.
	// It returns ErrNotFound when nothing matches.
	Query(ctx context.Context, scope Handle, selector string) (Handle, error)

	ReadText(ctx context.Context, h Handle) (string, error)

	// ReadAttribute returns the attribute value and whether it is present.
	ReadAttribute(ctx context.Context, h Handle, name string) (string, bool, error)

	Click(ctx context.Context, h Handle) error
	FillText(ctx context.Context, h Handle, value string) error

	// WaitReady polls pred until it returns true or timeout elapses.
	// It returns false on timeout or cancellation.
	WaitReady(ctx context.Context, pred func(context.Context) bool, timeout time.Duration) bool

	// OpenDetail opens the detail overlay for row and returns a handle to it.
	OpenDetail(ctx context.Context, row Handle) (Handle, error)

	// CloseDetail closes whatever detail overlay is open.
	CloseDetail(ctx context.Context) error
}

// Authenticator performs the login flow when the session is invalid.
type Authenticator interface {
	Login(ctx context.Context) error
}

// Poll evaluates pred every interval until it returns true, the timeout
// elapses or ctx is cancelled. Implementations of WaitReady can delegate here.
func Poll(ctx context.Context, pred func(context.Context) bool, timeout, interval time.Duration) bool {
	if pred(ctx) {
		return true
	}
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return pred(ctx)
		case <-tick.C:
			if pred(ctx) {
				return true
			}
		}
	}
}

// Sleep waits for d or until ctx is cancelled, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// TextOf reads the trimmed text of the first match of selector under scope.
// A missing element yields an empty string and ErrNotFound.
func TextOf(ctx context.Context, r Renderer, scope Handle, selector string) (string, error) {
	h, err := r.Query(ctx, scope, selector)
	if err != nil {
		return "", err
	}
	return r.ReadText(ctx, h)
}
