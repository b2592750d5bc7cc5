package presets

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mirkobrombin/go-lease/v1/lock"
	"github.com/mirkobrombin/go-lease/v1/ratelimit"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func exerciseStack(t *testing.T, s *Stack) {
	t.Helper()
	ctx := context.Background()

	ls, err := s.Locker.Acquire(ctx, "job", time.Second, lock.WithMaxRetries(1))
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, ok, err := s.Locker.TryAcquire(ctx, "job", time.Second); err != nil || ok {
		t.Fatalf("expected lock held, ok %v err %v", ok, err)
	}
	if err := ls.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}

	dec, err := s.Limiter.TryAcquire(ctx, "u001", 1, time.Second)
	if err != nil || !dec.Admitted {
		t.Fatalf("expected admission, got %+v err %v", dec, err)
	}
	if dec, _ := s.Limiter.TryAcquire(ctx, "u001", 1, time.Second); dec.Admitted {
		t.Fatal("expected denial")
	}
	if !s.Store.IsHealthy() {
		t.Fatal("store circuit should be closed")
	}
}

func TestNewRedisStandalone(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisStandalone(RedisOptions{Addr: mr.Addr(), Logger: quiet})
	if s.Bus != nil {
		t.Fatal("standalone stack must not have a bus")
	}
	exerciseStack(t, s)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestNewRedisPubSub(t *testing.T) {
	mr := miniredis.RunT(t)
	reg := prometheus.NewRegistry()
	s := NewRedisPubSub(RedisOptions{
		Addr:           mr.Addr(),
		Logger:         quiet,
		Registry:       reg,
		LimiterOptions: []ratelimit.Option{ratelimit.WithKeyPrefix("api:")},
	})
	if s.Bus == nil {
		t.Fatal("expected a bus")
	}
	exerciseStack(t, s)
	if !mr.Exists("api:u001") {
		t.Fatal("limiter options not applied")
	}
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) != 1 {
		t.Fatalf("expected the store latency histogram, got %d families", len(mfs))
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestNewRedisNATS(t *testing.T) {
	mr := miniredis.RunT(t)
	ns := natsserver.RunRandClientPortServer()
	defer ns.Shutdown()

	s, err := NewRedisNATS(RedisOptions{Addr: mr.Addr(), Logger: quiet}, ns.ClientURL())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	exerciseStack(t, s)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestNewRedisNATSUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	if _, err := NewRedisNATS(RedisOptions{Addr: mr.Addr()}, "nats://127.0.0.1:1"); err == nil {
		t.Fatal("expected connection error")
	}
}

func TestHeldLeaseSurvivesOpenBreaker(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisStandalone(RedisOptions{Addr: mr.Addr(), Logger: quiet})
	defer s.Close()
	ctx := context.Background()

	ls, err := s.Locker.Acquire(ctx, "job", time.Second, lock.WithRenewInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	mr.SetError("ERR store unavailable")
	for i := 0; i < 5; i++ {
		_, _, _ = s.Locker.TryAcquire(ctx, "other", time.Second)
	}
	mr.SetError("")
	if s.Store.IsHealthy() {
		t.Fatal("expected the breaker to be open after the outage")
	}

	before := ls.Renewals()
	mr.FastForward(900 * time.Millisecond)
	deadline := time.Now().Add(2 * time.Second)
	for ls.Renewals() < before+3 {
		if time.Now().After(deadline) {
			t.Fatalf("renewals stalled behind the breaker: %d", ls.Renewals()-before)
		}
		time.Sleep(5 * time.Millisecond)
	}
	mr.FastForward(500 * time.Millisecond)
	if !mr.Exists("job") {
		t.Fatal("lease expired while held")
	}
	if err := ls.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if mr.Exists("job") {
		t.Fatal("release did not reach the store")
	}
}
