package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRedisExecutor(t *testing.T, opts ...RedisOption) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return NewRedis(client, opts...), mr
}

func TestRedisSetNX(t *testing.T) {
	r, mr := newRedisExecutor(t)
	ctx := context.Background()

	ok, err := r.SetNX(ctx, "k", "a", time.Second)
	if err != nil || !ok {
		t.Fatalf("first setnx: ok %v err %v", ok, err)
	}
	ok, err = r.SetNX(ctx, "k", "b", time.Second)
	if err != nil || ok {
		t.Fatalf("second setnx should fail: ok %v err %v", ok, err)
	}
	if v, _ := mr.Get("k"); v != "a" {
		t.Fatalf("expected value a, got %q", v)
	}
	if ttl := mr.TTL("k"); ttl != time.Second {
		t.Fatalf("expected ttl 1s, got %v", ttl)
	}

	mr.FastForward(time.Second)
	if ok, err := r.SetNX(ctx, "k", "b", time.Second); err != nil || !ok {
		t.Fatalf("setnx after expiry: ok %v err %v", ok, err)
	}
}

func TestRedisRunNormalizesReplies(t *testing.T) {
	r, _ := newRedisExecutor(t)
	ctx := context.Background()

	single := NewScript("single", `return redis.call("INCR", KEYS[1])`)
	res, err := r.Run(ctx, single, []string{"n"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res) != 1 || res[0] != 1 {
		t.Fatalf("unexpected reply %v", res)
	}

	multi := NewScript("multi", `return {tonumber(ARGV[1]), tonumber(ARGV[2]), 3}`)
	res, err = r.Run(ctx, multi, []string{"n"}, 1, 2)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res) != 3 || res[0] != 1 || res[1] != 2 || res[2] != 3 {
		t.Fatalf("unexpected reply %v", res)
	}

	bad := NewScript("bad", `return "nope"`)
	if _, err := r.Run(ctx, bad, []string{"n"}); err == nil {
		t.Fatal("expected error for non-integer reply")
	}
}

func TestRedisRunLoadsScriptOnce(t *testing.T) {
	r, mr := newRedisExecutor(t)
	ctx := context.Background()
	s := NewScript("once", `return 7`)

	if _, err := r.Run(ctx, s, []string{"k"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	exists, err := r.Client().ScriptExists(ctx, s.Hash()).Result()
	if err != nil {
		t.Fatalf("script exists: %v", err)
	}
	if len(exists) != 1 || !exists[0] {
		t.Fatal("expected script cached after first run")
	}
	mr.FlushAll()
	if _, err := r.Run(ctx, s, []string{"k"}); err != nil {
		t.Fatalf("second run: %v", err)
	}
}

func TestRedisMetricsAndTracing(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	reg := prometheus.NewRegistry()
	r, _ := newRedisExecutor(t, WithTracing(), WithMetrics(reg))
	ctx := context.Background()

	if _, err := r.SetNX(ctx, "k", "v", time.Second); err != nil {
		t.Fatalf("setnx: %v", err)
	}
	if _, err := r.Run(ctx, NewScript("noop", `return 0`), []string{"k"}); err != nil {
		t.Fatalf("run: %v", err)
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) != 1 || len(mfs[0].GetMetric()) != 2 {
		t.Fatalf("expected one histogram with two op series, got %v", mfs)
	}

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Name() != "Store.setnx" || spans[1].Name() != "Store.noop" {
		t.Fatalf("unexpected span names %q %q", spans[0].Name(), spans[1].Name())
	}
}
