package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// LockAcquiredCounter tracks successful lock acquisitions.
	LockAcquiredCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lease_lock_acquired_total",
		Help: "Total number of acquired locks",
	})
	// LockRetryCounter tracks acquisition attempts that found the lock held.
	LockRetryCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lease_lock_retries_total",
		Help: "Total number of lock acquisition retries",
	})
	// LockTimeoutCounter tracks acquisitions that ran out of retries.
	LockTimeoutCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lease_lock_timeouts_total",
		Help: "Total number of lock acquisitions that exhausted their retries",
	})
	// LockRenewCounter tracks successful lease renewals.
	LockRenewCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lease_lock_renewals_total",
		Help: "Total number of successful lease renewals",
	})
	// LockRenewFailureCounter tracks renewals that errored or found the
	// lease owned by someone else.
	LockRenewFailureCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lease_lock_renewal_failures_total",
		Help: "Total number of failed lease renewals",
	})
	// LockReleaseCounter tracks releases that deleted the lock.
	LockReleaseCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lease_lock_releases_total",
		Help: "Total number of released locks",
	})
	// LockStaleReleaseCounter tracks releases that found the lock gone or
	// held by another holder.
	LockStaleReleaseCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lease_lock_stale_releases_total",
		Help: "Total number of releases that did not own the lock anymore",
	})
	// LocksHeldGauge reports the number of locks held by this process.
	LocksHeldGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lease_locks_held",
		Help: "Current number of locks held by this process",
	})
	// RateAdmittedCounter tracks admitted rate limited requests.
	RateAdmittedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lease_ratelimit_admitted_total",
		Help: "Total number of admitted requests",
	})
	// RateDeniedCounter tracks denied rate limited requests.
	RateDeniedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lease_ratelimit_denied_total",
		Help: "Total number of denied requests",
	})
	// RateDenyCacheHitCounter tracks denials answered from the local cache.
	RateDenyCacheHitCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lease_ratelimit_deny_cache_hits_total",
		Help: "Total number of denials served without a store round trip",
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterCoreMetrics registers the lock and rate limiter metrics on the
// provided registry.
func RegisterCoreMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		LockAcquiredCounter,
		LockRetryCounter,
		LockTimeoutCounter,
		LockRenewCounter,
		LockRenewFailureCounter,
		LockReleaseCounter,
		LockStaleReleaseCounter,
		LocksHeldGauge,
		RateAdmittedCounter,
		RateDeniedCounter,
		RateDenyCacheHitCounter,
	)
}
