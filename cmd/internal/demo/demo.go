// Package demo holds the setup shared by the demo commands: flag wiring,
// optional in-process Redis and NATS servers, tracing and the metrics
// endpoint.
package demo

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/alicebob/miniredis/v2"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/mirkobrombin/go-lease/v1/metrics"
	"github.com/mirkobrombin/go-lease/v1/presets"
	"github.com/mirkobrombin/go-lease/v1/ratelimit"
)

// Config collects the flags every demo accepts.
type Config struct {
	RedisAddr   string
	Embedded    bool
	Bus         string
	NATSURL     string
	Trace       bool
	MetricsAddr string
	Verbose     bool

	LimiterOptions []ratelimit.Option
}

// RegisterFlags binds the common flags on fs.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.RedisAddr, "redis", "localhost:6379", "Redis address")
	fs.BoolVar(&c.Embedded, "embedded", false, "Run against an in-process Redis instead of -redis")
	fs.StringVar(&c.Bus, "bus", "none", "Release notifications: none, redis or nats")
	fs.StringVar(&c.NATSURL, "nats", "", "NATS URL for -bus nats; an in-process server is started when empty")
	fs.BoolVar(&c.Trace, "trace", false, "Print store spans to stdout")
	fs.StringVar(&c.MetricsAddr, "metrics", "", "Serve Prometheus metrics on this address, e.g. :2112")
	fs.BoolVar(&c.Verbose, "verbose", false, "Log lock and limiter events")
}

// Env is a ready to use stack plus the resources backing it.
type Env struct {
	Stack    *presets.Stack
	Registry *prometheus.Registry
	Logger   *slog.Logger

	closers []func()
}

// Close shuts the stack and every in-process server down.
func (e *Env) Close() {
	if e.Stack != nil {
		if err := e.Stack.Close(); err != nil {
			e.Logger.Warn("demo: close stack", "error", err)
		}
	}
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// Setup builds the environment described by cfg.
func Setup(ctx context.Context, cfg Config) (*Env, error) {
	level := slog.LevelWarn
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	env := &Env{
		Logger:   slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})),
		Registry: metrics.NewRegistry(),
	}
	metrics.RegisterCoreMetrics(env.Registry)

	opts := presets.RedisOptions{
		Addr:           cfg.RedisAddr,
		Logger:         env.Logger,
		Registry:       env.Registry,
		Tracing:        cfg.Trace,
		LimiterOptions: cfg.LimiterOptions,
	}

	if cfg.Embedded {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, fmt.Errorf("demo: embedded redis: %w", err)
		}
		env.closers = append(env.closers, mr.Close, followWallClock(mr))
		opts.Addr = mr.Addr()
	}

	if cfg.Trace {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			env.Close()
			return nil, err
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		otel.SetTracerProvider(tp)
		env.closers = append(env.closers, func() { _ = tp.Shutdown(context.Background()) })
	}

	switch cfg.Bus {
	case "", "none":
		env.Stack = presets.NewRedisStandalone(opts)
	case "redis":
		env.Stack = presets.NewRedisPubSub(opts)
	case "nats":
		url := cfg.NATSURL
		if url == "" {
			ns, err := runNATS()
			if err != nil {
				env.Close()
				return nil, err
			}
			env.closers = append(env.closers, ns.Shutdown)
			url = ns.ClientURL()
		}
		stack, err := presets.NewRedisNATS(opts, url)
		if err != nil {
			env.Close()
			return nil, fmt.Errorf("demo: nats: %w", err)
		}
		env.Stack = stack
	default:
		env.Close()
		return nil, fmt.Errorf("demo: unknown bus %q", cfg.Bus)
	}

	if err := env.Stack.Client.Ping(ctx).Err(); err != nil {
		env.Close()
		return nil, fmt.Errorf("demo: redis %s: %w", opts.Addr, err)
	}

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(env.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("metrics server: %v", err)
			}
		}()
		env.closers = append(env.closers, func() { _ = srv.Close() })
	}
	return env, nil
}

// followWallClock advances the TTLs of mr with real time, which miniredis
// does not do by itself. The returned func stops it.
func followWallClock(mr *miniredis.Miniredis) func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		last := time.Now()
		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				mr.FastForward(now.Sub(last))
				last = now
			}
		}
	}()
	return func() {
		close(stop)
		<-done
	}
}

func runNATS() (*natsserver.Server, error) {
	ns, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   natsserver.RANDOM_PORT,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		return nil, err
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, errors.New("demo: embedded nats not ready")
	}
	return ns, nil
}
