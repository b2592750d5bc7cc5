package lock

import (
	"log/slog"
	"time"

	"github.com/mirkobrombin/go-lease/v1/store"
	"github.com/mirkobrombin/go-lease/v1/syncbus"
)

const (
	defaultRetryInterval = 100 * time.Millisecond
	defaultRenewRatio    = 0.8
)

// Option configures a Locker.
type Option func(*Locker)

// WithLogger sets the logger used for acquisition, renewal and release
// events. slog.Default() is used otherwise.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Locker) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithBus announces releases on bus and lets waiting acquirers retry as
// soon as a release is announced instead of sleeping out their retry
// interval.
func WithBus(bus syncbus.Bus) Option {
	return func(l *Locker) {
		l.bus = bus
	}
}

// WithRenewExecutor sets the executor used by renewals and releases. It
// defaults to the executor given to New. A held lease must keep being
// renewed even while acquisition traffic has tripped a breaker in front of
// the store, so this is normally the executor underneath that breaker.
func WithRenewExecutor(exec store.Executor) Option {
	return func(l *Locker) {
		if exec != nil {
			l.renewExec = exec
		}
	}
}

// WithDefaultRetryInterval sets the fixed delay between acquisition
// attempts used when Acquire is not given WithRetryInterval.
func WithDefaultRetryInterval(d time.Duration) Option {
	return func(l *Locker) {
		if d > 0 {
			l.retryInterval = d
		}
	}
}

// WithRenewRatio sets the renewal interval as a fraction of the lease.
// Values outside (0, 1) are ignored.
func WithRenewRatio(ratio float64) Option {
	return func(l *Locker) {
		if ratio > 0 && ratio < 1 {
			l.renewRatio = ratio
		}
	}
}

type acquireOptions struct {
	retryInterval time.Duration
	maxRetries    int
	renewInterval time.Duration
}

// AcquireOption configures a single Acquire call.
type AcquireOption func(*acquireOptions)

// WithRetryInterval sets the fixed delay between attempts.
func WithRetryInterval(d time.Duration) AcquireOption {
	return func(o *acquireOptions) {
		o.retryInterval = d
	}
}

// WithMaxRetries bounds the number of retries after the first attempt.
// Zero, the default, retries until the context is done.
func WithMaxRetries(n int) AcquireOption {
	return func(o *acquireOptions) {
		o.maxRetries = n
	}
}

// WithRenewInterval overrides the renewal interval derived from the lease.
// It must be positive and shorter than the lease.
func WithRenewInterval(d time.Duration) AcquireOption {
	return func(o *acquireOptions) {
		o.renewInterval = d
	}
}
