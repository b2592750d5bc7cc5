package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/mirkobrombin/go-lease/v1/metrics"
	"github.com/mirkobrombin/go-lease/v1/store"
)

var (
	ErrEmptyIdentity        = errors.New("ratelimit: identity must not be empty")
	ErrInvalidLimit         = errors.New("ratelimit: limit must be positive")
	ErrInvalidWindow        = errors.New("ratelimit: window must be at least one millisecond")
	ErrInvalidRetryInterval = errors.New("ratelimit: retry interval must be positive")
	// ErrUnexpectedReply is returned when the store answers a decision
	// script with something other than {admitted, count, pttl}.
	ErrUnexpectedReply = errors.New("ratelimit: unexpected store reply")
)

// Decision is the outcome of a rate limit check.
type Decision struct {
	Admitted bool
	// Count is the number of requests admitted in the current window,
	// including this one when admitted.
	Count     int64
	Remaining int64
	// RetryAfter is how long until the current window ends. It is only
	// set on denials.
	RetryAfter time.Duration
	// Attempts is the number of checks made to reach this decision.
	Attempts int
}

// Limiter admits at most limit requests per window for every identity. All
// state lives in the store; a Limiter can be shared by any number of
// goroutines.
type Limiter struct {
	exec   store.Executor
	logger *slog.Logger
	policy Policy
	script *store.Script
	prefix string
	denied *denyCache
}

// New returns a Limiter using exec.
func New(exec store.Executor, opts ...Option) *Limiter {
	l := &Limiter{
		exec:   exec,
		logger: slog.Default(),
		policy: PolicyFixedWindow,
		script: fixedWindowScript,
		prefix: defaultKeyPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Policy returns the window policy in use.
func (l *Limiter) Policy() Policy { return l.policy }

// TryAcquire makes one atomic check-and-consume for identity. A denial is
// reported through Decision.Admitted and never as an error; errors only
// come from invalid arguments or the store.
func (l *Limiter) TryAcquire(ctx context.Context, identity string, limit int64, window time.Duration) (Decision, error) {
	if err := validate(identity, limit, window); err != nil {
		return Decision{}, err
	}
	key := l.prefix + identity
	cacheKey := key + "#" + strconv.FormatInt(limit, 10)

	if l.denied != nil {
		if dec, ok := l.denied.lookup(cacheKey); ok {
			metrics.RateDenyCacheHitCounter.Inc()
			metrics.RateDeniedCounter.Inc()
			dec.Attempts = 1
			return dec, nil
		}
	}

	res, err := l.exec.Run(ctx, l.script, []string{key}, limit, window.Milliseconds())
	if err != nil {
		l.logger.Error("ratelimit: check failed", "identity", identity, "error", err)
		return Decision{}, fmt.Errorf("ratelimit: check %s: %w", identity, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("%w: %v", ErrUnexpectedReply, res)
	}

	dec := Decision{
		Admitted:  res[0] == 1,
		Count:     res[1],
		Remaining: max(limit-res[1], 0),
		Attempts:  1,
	}
	if dec.Admitted {
		metrics.RateAdmittedCounter.Inc()
		l.logger.Debug("ratelimit: admitted", "identity", identity, "count", dec.Count, "limit", limit)
		return dec, nil
	}

	metrics.RateDeniedCounter.Inc()
	if res[2] > 0 {
		dec.RetryAfter = time.Duration(res[2]) * time.Millisecond
	} else {
		l.logger.Warn("ratelimit: window counter has no expiry", "identity", identity, "key", key)
	}
	if l.denied != nil {
		l.denied.remember(cacheKey, dec)
	}
	l.logger.Debug("ratelimit: denied", "identity", identity, "count", dec.Count, "limit", limit, "retry_after", dec.RetryAfter)
	return dec, nil
}

// AcquireWithRetry calls TryAcquire and, while denied, retries up to
// maxRetries more times after a fixed retryInterval. It returns the last
// decision; Attempts reports how many checks were made. A store error or
// a done ctx ends the retries early.
func (l *Limiter) AcquireWithRetry(ctx context.Context, identity string, limit int64, window, retryInterval time.Duration, maxRetries int) (Decision, error) {
	if retryInterval <= 0 {
		return Decision{}, ErrInvalidRetryInterval
	}
	for attempt := 1; ; attempt++ {
		dec, err := l.TryAcquire(ctx, identity, limit, window)
		dec.Attempts = attempt
		if err != nil {
			return dec, err
		}
		if dec.Admitted || attempt > maxRetries {
			return dec, nil
		}

		timer := time.NewTimer(retryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return dec, ctx.Err()
		case <-timer.C:
		}
	}
}

// Close releases the local deny cache, if any.
func (l *Limiter) Close() {
	if l.denied != nil {
		l.denied.close()
	}
}

func validate(identity string, limit int64, window time.Duration) error {
	if identity == "" {
		return ErrEmptyIdentity
	}
	if limit <= 0 {
		return ErrInvalidLimit
	}
	if window < time.Millisecond {
		return ErrInvalidWindow
	}
	return nil
}
