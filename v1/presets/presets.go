package presets

import (
	"context"
	"errors"
	"log/slog"

	nats "github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"

	"github.com/mirkobrombin/go-lease/v1/lock"
	"github.com/mirkobrombin/go-lease/v1/ratelimit"
	"github.com/mirkobrombin/go-lease/v1/store"
	"github.com/mirkobrombin/go-lease/v1/syncbus"
)

// RedisOptions configures the connection to Redis and the instrumentation
// of the resulting stack.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int

	// Logger is handed to the locker and the limiter. slog.Default() is
	// used when nil.
	Logger *slog.Logger
	// Registry, when set, receives the store latency histogram.
	Registry prometheus.Registerer
	// Tracing enables OpenTelemetry spans around store calls.
	Tracing bool
	// LimiterOptions are appended to the limiter options.
	LimiterOptions []ratelimit.Option
}

// Stack bundles a Redis backed store with the lock and rate limiter
// built on it.
type Stack struct {
	Client  *redis.Client
	Store   *store.CircuitBreaker
	Bus     syncbus.Bus
	Locker  *lock.Locker
	Limiter *ratelimit.Limiter

	closers []func() error
}

// Close releases every lease still held, then closes the bus and the
// connections.
func (s *Stack) Close() error {
	var errs []error
	errs = append(errs, s.Locker.ReleaseAll(context.Background()))
	s.Limiter.Close()
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

// NewRedisStandalone creates a stack without release notifications:
// waiting acquirers poll at their retry interval.
func NewRedisStandalone(opts RedisOptions) *Stack {
	return build(opts, nil)
}

// NewRedisPubSub creates a stack that announces releases over Redis
// Pub/Sub on the same connection settings.
func NewRedisPubSub(opts RedisOptions) *Stack {
	return build(opts, func(client *redis.Client) (syncbus.Bus, func() error) {
		bus := syncbus.NewRedisBus(client)
		return bus, bus.Close
	})
}

// NewRedisNATS creates a stack that stores locks and counters in Redis and
// announces releases on the NATS server at natsURL.
func NewRedisNATS(opts RedisOptions, natsURL string) (*Stack, error) {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return nil, err
	}
	return build(opts, func(*redis.Client) (syncbus.Bus, func() error) {
		return syncbus.NewNATSBus(nc, ""), func() error { nc.Close(); return nil }
	}), nil
}

type busFactory func(*redis.Client) (syncbus.Bus, func() error)

func build(opts RedisOptions, newBus busFactory) *Stack {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	s := &Stack{Client: client, closers: []func() error{client.Close}}

	var storeOpts []store.RedisOption
	if opts.Tracing {
		storeOpts = append(storeOpts, store.WithTracing())
	}
	if opts.Registry != nil {
		storeOpts = append(storeOpts, store.WithMetrics(opts.Registry))
	}
	raw := store.NewRedis(client, storeOpts...)
	s.Store = store.NewCircuitBreaker(raw, 0, 0)

	// renewals and releases of held leases skip the breaker
	lockOpts := []lock.Option{lock.WithLogger(logger), lock.WithRenewExecutor(raw)}
	if newBus != nil {
		bus, closeBus := newBus(client)
		s.Bus = bus
		s.closers = append(s.closers, closeBus)
		lockOpts = append(lockOpts, lock.WithBus(bus))
	}
	s.Locker = lock.New(s.Store, lockOpts...)
	s.Limiter = ratelimit.New(s.Store, append([]ratelimit.Option{ratelimit.WithLogger(logger)}, opts.LimiterOptions...)...)
	return s
}
