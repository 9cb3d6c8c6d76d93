package session

import "time"

// Config tunes session timing. The zero value is not usable; start from
// DefaultConfig.
type Config struct {
	// ConnectTimeout bounds how long a session may sit in the calling state
	// with no peer link ever attempted before it gives up as stalled.
	ConnectTimeout time.Duration

	// LivenessInterval is how often the session checks media and link
	// health while a call is up.
	LivenessInterval time.Duration

	// FailureConfirmDelay is how long a failed direct link must stay failed
	// before the session treats the call as lost. Transient ICE failures
	// that recover within the window do not end the call.
	FailureConfirmDelay time.Duration

	// InboxSize bounds the session event queue.
	InboxSize int
}

// DefaultConfig returns the production timing configuration.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:      60 * time.Second,
		LivenessInterval:    5 * time.Second,
		FailureConfirmDelay: 2 * time.Second,
		InboxSize:           128,
	}
}

// TimeProvider abstracts time operations for deterministic testing.
type TimeProvider interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// DefaultTimeProvider uses the standard library time functions.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// Since returns the elapsed time since t.
func (DefaultTimeProvider) Since(t time.Time) time.Duration { return time.Since(t) }
