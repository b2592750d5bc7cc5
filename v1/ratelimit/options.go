package ratelimit

import (
	"log/slog"
)

const defaultKeyPrefix = "ratelimit:"

// Policy selects how the window TTL is maintained.
type Policy int

const (
	// PolicyFixedWindow sets the TTL only when a window's counter is
	// created.
	PolicyFixedWindow Policy = iota
	// PolicyRollingWindow re-applies the TTL on every admitted request.
	PolicyRollingWindow
)

func (p Policy) String() string {
	switch p {
	case PolicyFixedWindow:
		return "fixed"
	case PolicyRollingWindow:
		return "rolling"
	default:
		return "unknown"
	}
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLogger sets the logger. slog.Default() is used otherwise.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithPolicy selects the window policy. PolicyFixedWindow is the default.
func WithPolicy(p Policy) Option {
	return func(l *Limiter) {
		switch p {
		case PolicyRollingWindow:
			l.policy, l.script = p, rollingWindowScript
		default:
			l.policy, l.script = PolicyFixedWindow, fixedWindowScript
		}
	}
}

// WithKeyPrefix sets the prefix prepended to identities to form store
// keys.
func WithKeyPrefix(prefix string) Option {
	return func(l *Limiter) {
		l.prefix = prefix
	}
}

// WithDenyCache remembers denied identities locally until their window
// ends, answering further requests without a store round trip. maxEntries
// bounds how many identities are remembered; values <= 0 use 10000.
func WithDenyCache(maxEntries int64) Option {
	return func(l *Limiter) {
		l.denied = newDenyCache(maxEntries)
	}
}
