package lock

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mirkobrombin/go-lease/v1/metrics"
	"github.com/mirkobrombin/go-lease/v1/store"
)

// renewer extends one held lease every interval until Stop is called. It
// never stops on its own: a failed or refused renewal is logged and the
// next tick tries again, the lease TTL and the holder check keep a lost
// lock safe in the meantime.
type renewer struct {
	exec     store.Executor
	logger   *slog.Logger
	key      string
	holder   Holder
	lease    time.Duration
	interval time.Duration

	renewals atomic.Int64
	failures atomic.Int64

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func startRenewer(exec store.Executor, logger *slog.Logger, key string, holder Holder, lease, interval time.Duration) *renewer {
	r := &renewer{
		exec:     exec,
		logger:   logger,
		key:      key,
		holder:   holder,
		lease:    lease,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *renewer) run() {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
		}
		// a tick and a stop may be ready together
		select {
		case <-r.stop:
			return
		default:
		}
		r.renew()
	}
}

// renew runs under its own deadline rather than a context tied to stop, so
// Stop waits for an in-flight renewal instead of abandoning a command that
// may still reach the store after the release.
func (r *renewer) renew() {
	ctx, cancel := context.WithTimeout(context.Background(), r.interval)
	defer cancel()
	res, err := r.exec.Run(ctx, renewScript, []string{r.key}, string(r.holder), r.lease.Milliseconds())
	if err != nil {
		r.failures.Add(1)
		metrics.LockRenewFailureCounter.Inc()
		r.logger.Warn("lock: renewal failed", "key", r.key, "holder", r.holder, "error", err)
		return
	}
	if len(res) == 0 || res[0] == 0 {
		r.failures.Add(1)
		metrics.LockRenewFailureCounter.Inc()
		r.logger.Warn("lock: renewal refused, lease no longer owned", "key", r.key, "holder", r.holder)
		return
	}
	r.renewals.Add(1)
	metrics.LockRenewCounter.Inc()
	r.logger.Debug("lock: renewed", "key", r.key, "holder", r.holder, "lease", r.lease)
}

// Stop requests the renewer to exit and blocks until it has. Once Stop
// returns no renewal is running or will be issued. It is safe to call more
// than once.
func (r *renewer) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}
