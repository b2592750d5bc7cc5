package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	leaseerrors "github.com/mirkobrombin/go-lease/v1/errors"
	"github.com/mirkobrombin/go-lease/v1/metrics"
	"github.com/mirkobrombin/go-lease/v1/store"
	"github.com/mirkobrombin/go-lease/v1/syncbus"
)

var (
	ErrEmptyKey             = errors.New("lock: key must not be empty")
	ErrInvalidLease         = errors.New("lock: lease must be at least one millisecond")
	ErrInvalidRenewInterval = errors.New("lock: renew interval must be positive and shorter than the lease")
	ErrInvalidRetryInterval = errors.New("lock: retry interval must be positive")
	// ErrNotAcquired is returned by Acquire when its retry budget is spent.
	ErrNotAcquired = fmt.Errorf("lock: not acquired: %w", leaseerrors.ErrTimeout)
)

// Holder identifies one acquisition of a lock. It is stored as the lock
// value and compared on renewal and release.
type Holder string

func newHolder() Holder {
	return Holder(uuid.NewString())
}

// Lease describes a held lock.
type Lease struct {
	Key        string
	Holder     Holder
	Duration   time.Duration
	Retries    int
	AcquiredAt time.Time

	locker  *Locker
	renewer *renewer
}

// Release releases the lease. It is equivalent to calling Locker.Release
// with the lease key and holder.
func (ls *Lease) Release(ctx context.Context) error {
	return ls.locker.Release(ctx, ls.Key, ls.Holder)
}

// Renewals returns how many times the lease has been extended so far.
func (ls *Lease) Renewals() int64 {
	return ls.renewer.renewals.Load()
}

type holding struct {
	key    string
	holder Holder
}

// Locker acquires and releases leases through a store Executor. It keeps
// no lock state of its own besides the renewers of the leases it holds;
// the store is the only source of truth.
type Locker struct {
	exec          store.Executor
	renewExec     store.Executor
	bus           syncbus.Bus
	logger        *slog.Logger
	retryInterval time.Duration
	renewRatio    float64

	mu       sync.Mutex
	renewers map[holding]*renewer
}

// New returns a Locker using exec.
func New(exec store.Executor, opts ...Option) *Locker {
	l := &Locker{
		exec:          exec,
		logger:        slog.Default(),
		retryInterval: defaultRetryInterval,
		renewRatio:    defaultRenewRatio,
		renewers:      make(map[holding]*renewer),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.renewExec == nil {
		l.renewExec = exec
	}
	return l
}

// TryAcquire makes a single attempt to take key for lease. It returns
// false without error when the lock is held by someone else.
func (l *Locker) TryAcquire(ctx context.Context, key string, lease time.Duration) (*Lease, bool, error) {
	renewInterval := l.renewInterval(lease)
	if err := validate(key, lease, renewInterval); err != nil {
		return nil, false, err
	}
	return l.tryAcquire(ctx, key, lease, renewInterval)
}

// Acquire takes key for lease, retrying after a fixed delay while the lock
// is held elsewhere. Without WithMaxRetries it only gives up when ctx is
// done. Store errors count as failed attempts.
//
// Which of several waiting callers wins is decided by the order their
// attempts reach the store; there is no queueing.
func (l *Locker) Acquire(ctx context.Context, key string, lease time.Duration, opts ...AcquireOption) (*Lease, error) {
	o := acquireOptions{
		retryInterval: l.retryInterval,
		renewInterval: l.renewInterval(lease),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if err := validate(key, lease, o.renewInterval); err != nil {
		return nil, err
	}
	if o.retryInterval <= 0 {
		return nil, ErrInvalidRetryInterval
	}

	subCtx, cancelSub := context.WithCancel(ctx)
	defer cancelSub()
	var wake chan struct{}
	subscribed := false
	defer func() {
		if wake != nil {
			_ = l.bus.Unsubscribe(context.Background(), syncbus.UnlockTopic(key), wake)
		}
	}()

	var lastErr error
	for retries := 0; ; retries++ {
		ls, ok, err := l.tryAcquire(ctx, key, lease, o.renewInterval)
		if ok {
			ls.Retries = retries
			return ls, nil
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			lastErr = err
			l.logger.Warn("lock: acquire attempt failed", "key", key, "attempt", retries+1, "error", err)
		}
		if o.maxRetries > 0 && retries >= o.maxRetries {
			metrics.LockTimeoutCounter.Inc()
			l.logger.Debug("lock: retries exhausted", "key", key, "retries", retries)
			if lastErr != nil {
				return nil, errors.Join(ErrNotAcquired, lastErr)
			}
			return nil, ErrNotAcquired
		}
		metrics.LockRetryCounter.Inc()

		if l.bus != nil && !subscribed {
			subscribed = true
			ch, err := l.bus.Subscribe(subCtx, syncbus.UnlockTopic(key))
			if err != nil {
				l.logger.Warn("lock: release notifications unavailable", "key", key, "error", err)
			} else {
				wake = ch
			}
		}

		timer := time.NewTimer(o.retryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		case _, open := <-wake:
			timer.Stop()
			if !open {
				wake = nil
			}
		}
	}
}

func (l *Locker) tryAcquire(ctx context.Context, key string, lease, renewInterval time.Duration) (*Lease, bool, error) {
	holder := newHolder()
	ok, err := l.exec.SetNX(ctx, key, string(holder), lease)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	r := startRenewer(l.renewExec, l.logger, key, holder, lease, renewInterval)
	l.mu.Lock()
	l.renewers[holding{key: key, holder: holder}] = r
	l.mu.Unlock()
	metrics.LockAcquiredCounter.Inc()
	metrics.LocksHeldGauge.Inc()
	l.logger.Debug("lock: acquired", "key", key, "holder", holder, "lease", lease)

	return &Lease{
		Key:        key,
		Holder:     holder,
		Duration:   lease,
		AcquiredAt: time.Now(),
		locker:     l,
		renewer:    r,
	}, true, nil
}

// Release stops the renewal of the (key, holder) lease, waits until no
// renewal can be in flight and then deletes the lock if it still carries
// holder. A lock that expired or now belongs to someone else is left
// untouched and no error is returned, so releasing twice is harmless.
//
// A store error is returned to the caller; the lease TTL eventually frees
// the lock in that case.
func (l *Locker) Release(ctx context.Context, key string, holder Holder) error {
	h := holding{key: key, holder: holder}
	l.mu.Lock()
	r, ok := l.renewers[h]
	delete(l.renewers, h)
	l.mu.Unlock()
	if ok {
		r.Stop()
		metrics.LocksHeldGauge.Dec()
	}

	res, err := l.renewExec.Run(ctx, releaseScript, []string{key}, string(holder))
	if err != nil {
		l.logger.Error("lock: release failed", "key", key, "holder", holder, "error", err)
		return fmt.Errorf("lock: release %s: %w", key, err)
	}
	if len(res) == 0 || res[0] == 0 {
		metrics.LockStaleReleaseCounter.Inc()
		l.logger.Debug("lock: release skipped, lock not owned", "key", key, "holder", holder)
		return nil
	}
	metrics.LockReleaseCounter.Inc()
	l.logger.Debug("lock: released", "key", key, "holder", holder)

	if l.bus != nil {
		if err := l.bus.Publish(ctx, syncbus.UnlockTopic(key)); err != nil {
			l.logger.Warn("lock: release notification failed", "key", key, "error", err)
		}
	}
	return nil
}

// ReleaseAll releases every lease held through this Locker. It is meant
// for shutdown paths and returns the joined release errors.
func (l *Locker) ReleaseAll(ctx context.Context) error {
	l.mu.Lock()
	held := make([]holding, 0, len(l.renewers))
	for h := range l.renewers {
		held = append(held, h)
	}
	l.mu.Unlock()

	var errs []error
	for _, h := range held {
		if err := l.Release(ctx, h.key, h.holder); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Held returns the number of leases currently held through this Locker.
func (l *Locker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.renewers)
}

func (l *Locker) renewInterval(lease time.Duration) time.Duration {
	return time.Duration(float64(lease) * l.renewRatio)
}

func validate(key string, lease, renewInterval time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	if lease < time.Millisecond {
		return ErrInvalidLease
	}
	if renewInterval <= 0 || renewInterval >= lease {
		return ErrInvalidRenewInterval
	}
	return nil
}
