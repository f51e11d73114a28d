package authretry

import "time"

// Notifier is an optional user-notification capability. The coordinator
// works without one; the default swallows every notice.
type Notifier interface {
	// RateLimited reports a rate-limit failure with a suggested wait.
	// It returns whether a notice was actually shown.
	RateLimited(err error, wait time.Duration) bool
}

// NoopNotifier is the default Notifier; it never shows anything.
type NoopNotifier struct{}

func (NoopNotifier) RateLimited(err error, wait time.Duration) bool {
	return false
}
