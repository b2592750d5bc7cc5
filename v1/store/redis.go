package store

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-lease/v1/store")

// Redis implements Executor on top of a go-redis client.
type Redis struct {
	client redis.UniversalClient

	traceEnabled bool
	latencyHist  *prometheus.HistogramVec
}

// RedisOption configures a Redis executor.
type RedisOption func(*Redis)

// WithTracing enables OpenTelemetry spans for every store call.
func WithTracing() RedisOption {
	return func(r *Redis) {
		r.traceEnabled = true
	}
}

// WithMetrics records per-operation latency on the provided registerer.
func WithMetrics(reg prometheus.Registerer) RedisOption {
	return func(r *Redis) {
		r.latencyHist = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lease_store_latency_seconds",
			Help:    "Latency of store operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"})
		reg.MustRegister(r.latencyHist)
	}
}

// NewRedis returns an executor using client. client can be a *redis.Client,
// *redis.ClusterClient or *redis.Ring.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{client: client}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Client returns the underlying client.
func (r *Redis) Client() redis.UniversalClient { return r.client }

// SetNX implements Executor.SetNX.
func (r *Redis) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ctx, done := r.observe(ctx, "setnx", key)
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	done(err)
	if err != nil {
		return false, fmt.Errorf("store: setnx %s: %w", key, err)
	}
	return ok, nil
}

// Run implements Executor.Run.
func (r *Redis) Run(ctx context.Context, script *Script, keys []string, args ...any) ([]int64, error) {
	var key string
	if len(keys) > 0 {
		key = keys[0]
	}
	ctx, done := r.observe(ctx, script.name, key)
	res, err := script.lua.Run(ctx, r.client, keys, args...).Result()
	done(err)
	if err != nil {
		return nil, fmt.Errorf("store: script %s: %w", script.name, err)
	}
	out, err := toInt64s(res)
	if err != nil {
		return nil, fmt.Errorf("store: script %s: %w", script.name, err)
	}
	return out, nil
}

func (r *Redis) observe(ctx context.Context, op, key string) (context.Context, func(error)) {
	if !r.traceEnabled && r.latencyHist == nil {
		return ctx, func(error) {}
	}
	var span trace.Span
	if r.traceEnabled {
		ctx, span = tracer.Start(ctx, "Store."+op, trace.WithAttributes(
			attribute.String("lease.store.op", op),
			attribute.String("lease.store.key", key),
		))
	}
	start := time.Now()
	return ctx, func(err error) {
		latency := time.Since(start)
		if r.latencyHist != nil {
			r.latencyHist.WithLabelValues(op).Observe(latency.Seconds())
		}
		if span != nil {
			span.SetAttributes(attribute.Int64("lease.store.latency_ms", latency.Milliseconds()))
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			span.End()
		}
	}
}

func toInt64s(res any) ([]int64, error) {
	switch v := res.(type) {
	case int64:
		return []int64{v}, nil
	case []any:
		out := make([]int64, len(v))
		for i, e := range v {
			n, ok := e.(int64)
			if !ok {
				return nil, fmt.Errorf("unexpected reply element %T", e)
			}
			out[i] = n
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected reply %T", res)
	}
}
