package demo

import (
	"context"
	"flag"
	"testing"
	"time"
)

func TestRegisterFlags(t *testing.T) {
	var cfg Config
	fs := flag.NewFlagSet("demo", flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	if err := fs.Parse([]string{"-embedded", "-bus", "redis", "-verbose"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !cfg.Embedded || cfg.Bus != "redis" || !cfg.Verbose || cfg.RedisAddr != "localhost:6379" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

// The demos register on flag.CommandLine, which already carries the flags
// of imported packages such as glog's -v.
func TestRegisterFlagsOnCommandLine(t *testing.T) {
	var cfg Config
	cfg.RegisterFlags(flag.CommandLine)
	for _, name := range []string{"redis", "embedded", "bus", "nats", "trace", "metrics", "verbose"} {
		if flag.CommandLine.Lookup(name) == nil {
			t.Fatalf("flag -%s not registered", name)
		}
	}
	if err := flag.CommandLine.Set("verbose", "true"); err != nil || !cfg.Verbose {
		t.Fatalf("set -verbose: %v", err)
	}
}

func TestSetupEmbedded(t *testing.T) {
	for _, bus := range []string{"none", "redis", "nats"} {
		t.Run(bus, func(t *testing.T) {
			ctx := context.Background()
			env, err := Setup(ctx, Config{Embedded: true, Bus: bus})
			if err != nil {
				t.Fatalf("setup: %v", err)
			}
			defer env.Close()

			if (bus == "none") != (env.Stack.Bus == nil) {
				t.Fatalf("bus %q: unexpected bus %v", bus, env.Stack.Bus)
			}
			ls, err := env.Stack.Locker.Acquire(ctx, "k", time.Second)
			if err != nil {
				t.Fatalf("acquire: %v", err)
			}
			if err := ls.Release(ctx); err != nil {
				t.Fatalf("release: %v", err)
			}
			mfs, err := env.Registry.Gather()
			if err != nil {
				t.Fatalf("gather: %v", err)
			}
			if len(mfs) == 0 {
				t.Fatal("expected registered metrics")
			}
		})
	}
}

func TestSetupUnknownBus(t *testing.T) {
	if _, err := Setup(context.Background(), Config{Embedded: true, Bus: "kafka"}); err == nil {
		t.Fatal("expected error for unknown bus")
	}
}

func TestSetupUnreachableRedis(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := Setup(ctx, Config{RedisAddr: "127.0.0.1:1"}); err == nil {
		t.Fatal("expected ping error")
	}
}

func TestEmbeddedRedisExpiresKeys(t *testing.T) {
	ctx := context.Background()
	env, err := Setup(ctx, Config{Embedded: true})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer env.Close()

	lim := env.Stack.Limiter
	if dec, _ := lim.TryAcquire(ctx, "u", 1, 50*time.Millisecond); !dec.Admitted {
		t.Fatal("expected admission")
	}
	if dec, _ := lim.TryAcquire(ctx, "u", 1, 50*time.Millisecond); dec.Admitted {
		t.Fatal("expected denial")
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		dec, err := lim.TryAcquire(ctx, "u", 1, 50*time.Millisecond)
		if err != nil {
			t.Fatalf("try acquire: %v", err)
		}
		if dec.Admitted {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("window never ended on the embedded store")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
