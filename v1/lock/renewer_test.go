package lock

import (
	"context"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestRenewalKeepsLeaseAlive(t *testing.T) {
	l, mr := newLocker(t)
	ctx := context.Background()

	ls, err := l.Acquire(ctx, "k", time.Second, WithRenewInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// hold for three lease lengths of store time
	for i := 0; i < 3; i++ {
		mr.FastForward(900 * time.Millisecond)
		if !mr.Exists("k") {
			t.Fatalf("lease lapsed on round %d", i)
		}
		waitFor(t, 2*time.Second, func() bool { return mr.TTL("k") == time.Second })
	}

	if _, ok, err := l.TryAcquire(ctx, "k", time.Second); err != nil || ok {
		t.Fatalf("renewed lock must stay exclusive, ok %v err %v", ok, err)
	}
	if v, _ := mr.Get("k"); v != string(ls.Holder) {
		t.Fatalf("holder changed during renewal: %q", v)
	}
	if ls.Renewals() < 3 {
		t.Fatalf("expected at least 3 renewals, got %d", ls.Renewals())
	}
	if err := ls.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
}

func TestRenewalRefusedForForeignLock(t *testing.T) {
	l, mr := newLocker(t)
	ctx := context.Background()

	ls, err := l.Acquire(ctx, "k", time.Second, WithRenewInterval(5*time.Millisecond))
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	mr.FastForward(2 * time.Second)
	if err := mr.Set("k", "someone-else"); err != nil {
		t.Fatalf("set: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return ls.renewer.failures.Load() > 0 })
	if v, _ := mr.Get("k"); v != "someone-else" {
		t.Fatalf("renewal touched a foreign lock: %q", v)
	}
	if mr.TTL("k") != 0 {
		t.Fatalf("renewal set a ttl on a foreign lock: %v", mr.TTL("k"))
	}
	if err := ls.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if v, _ := mr.Get("k"); v != "someone-else" {
		t.Fatalf("release removed a foreign lock: %q", v)
	}
}

func TestRenewerSurvivesFailures(t *testing.T) {
	exec, _ := newStore(t)
	rec := &recordingExecutor{Executor: exec, renewErrs: 3}
	l := New(rec, WithLogger(quiet))
	ctx := context.Background()

	ls, err := l.Acquire(ctx, "k", time.Second, WithRenewInterval(2*time.Millisecond))
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return ls.Renewals() > 0 })
	if f := ls.renewer.failures.Load(); f != 3 {
		t.Fatalf("expected 3 failed renewals, got %d", f)
	}
	if err := ls.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
}

func TestReleaseStopsRenewerFirst(t *testing.T) {
	exec, _ := newStore(t)
	rec := &recordingExecutor{Executor: exec}
	l := New(rec, WithLogger(quiet))
	ctx := context.Background()

	ls, err := l.Acquire(ctx, "k", time.Second, WithRenewInterval(time.Millisecond))
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return ls.Renewals() >= 5 })
	if err := ls.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	calls := rec.calls()
	if last := calls[len(calls)-1]; last != releaseScript.Name() {
		t.Fatalf("expected release to be the last store call, got %q in %v", last, calls)
	}
	for _, c := range calls[:len(calls)-1] {
		if c == releaseScript.Name() {
			t.Fatalf("release issued more than once: %v", calls)
		}
	}
}

func TestRenewerStopIsIdempotent(t *testing.T) {
	exec, _ := newStore(t)
	r := startRenewer(exec, quiet, "k", newHolder(), time.Second, time.Hour)
	r.Stop()
	r.Stop()
	select {
	case <-r.done:
	default:
		t.Fatal("renewer still running after Stop")
	}
}
