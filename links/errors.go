package links

import "errors"

var (
	// ErrInvalidRequest covers bad validity/quota choices and empty uploads.
	// Nothing has been written when it is returned.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNotFound, ErrExpired and ErrExhausted are terminal: the link can
	// never become live again. Callers should present all three identically.
	ErrNotFound  = errors.New("link not found")
	ErrExpired   = errors.New("link expired")
	ErrExhausted = errors.New("download limit reached")

	// ErrUpstream marks a retryable backing-store failure.
	ErrUpstream = errors.New("upstream store unavailable")
)

// IsTerminal reports whether err means the link is permanently unusable.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrExpired) || errors.Is(err, ErrExhausted)
}
