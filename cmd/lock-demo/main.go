package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mirkobrombin/go-lease/cmd/internal/demo"
	"github.com/mirkobrombin/go-lease/v1/lock"
)

type result struct {
	retries  int
	renewals int64
	held     time.Duration
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet("lock-demo", flag.ContinueOnError)
	workers := fs.Int("workers", 10, "Number of concurrent workers")
	delay := fs.Duration("delay", 100*time.Millisecond, "Fixed delay between acquisition attempts")
	lease := fs.Duration("lease", time.Second, "Lease duration of the lock")
	work := fs.Int("work", 10000, "Increments each worker performs while holding the lock")
	key := fs.String("key", "countLock", "Lock key")
	var cfg demo.Config
	cfg.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	env, err := demo.Setup(ctx, cfg)
	if err != nil {
		log.Print(err)
		return 1
	}
	defer env.Close()

	locker := env.Stack.Locker
	// read-modify-write without atomicity: only the lock keeps it correct
	var count atomic.Int64
	results := make([]result, *workers)

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < *workers; i++ {
		g.Go(func() error {
			ls, err := locker.Acquire(gctx, *key, *lease, lock.WithRetryInterval(*delay))
			if err != nil {
				return fmt.Errorf("worker %d: %w", i, err)
			}
			begin := time.Now()
			for j := 0; j < *work; j++ {
				count.Store(count.Load() + 1)
				// stretch the critical section past the lease now and then
				if *work >= 10 && j%(*work/10) == 0 {
					time.Sleep(*lease / 5)
				}
			}
			results[i] = result{retries: ls.Retries, renewals: ls.Renewals(), held: time.Since(begin)}
			return ls.Release(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		log.Print(err)
		return 1
	}
	elapsed := time.Since(start)

	for i, r := range results {
		fmt.Fprintf(stdout, "worker %d: retries=%d renewals=%d held=%v\n", i, r.retries, r.renewals, r.held.Round(time.Millisecond))
	}
	expected := int64(*workers) * int64(*work)
	fmt.Fprintf(stdout, "count=%d expected=%d workers=%d delay=%v elapsed=%v\n", count.Load(), expected, *workers, *delay, elapsed.Round(time.Millisecond))
	if count.Load() != expected {
		log.Print("lost updates: mutual exclusion violated")
		return 1
	}
	return 0
}
