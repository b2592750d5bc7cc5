package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mirkobrombin/go-lease/cmd/internal/demo"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet("lease-bench", flag.ContinueOnError)
	concurrency := fs.Int("c", 50, "Number of concurrent clients")
	requests := fs.Int("n", 100000, "Total number of requests")
	mode := fs.String("mode", "limit", "What to measure: lock or limit")
	keys := fs.Int("keys", 1000, "Distinct lock keys or limiter identities")
	limit := fs.Int64("limit", 100, "Requests admitted per window in limit mode")
	window := fs.Duration("window", time.Second, "Window length in limit mode")
	var cfg demo.Config
	cfg.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *concurrency <= 0 || *keys <= 0 || *requests < *concurrency {
		log.Print("need -c > 0, -keys > 0 and -n >= -c")
		return 2
	}
	if *mode != "lock" && *mode != "limit" {
		log.Printf("unknown mode %q", *mode)
		return 2
	}

	ctx := context.Background()
	env, err := demo.Setup(ctx, cfg)
	if err != nil {
		log.Print(err)
		return 1
	}
	defer env.Close()

	var op func(i int) (bool, error)
	switch *mode {
	case "lock":
		locker := env.Stack.Locker
		op = func(i int) (bool, error) {
			ls, ok, err := locker.TryAcquire(ctx, fmt.Sprintf("bench:%d", i%*keys), time.Second)
			if err != nil || !ok {
				return false, err
			}
			return true, ls.Release(ctx)
		}
	case "limit":
		limiter := env.Stack.Limiter
		op = func(i int) (bool, error) {
			dec, err := limiter.TryAcquire(ctx, fmt.Sprintf("bench:%d", i%*keys), *limit, *window)
			return dec.Admitted, err
		}
	}

	log.Printf("Starting benchmark: mode=%s %d requests, %d concurrency, %d keys", *mode, *requests, *concurrency, *keys)

	var wg sync.WaitGroup
	var ops, granted, errorsCount atomic.Int64

	start := time.Now()
	reqsPerWorker := *requests / *concurrency

	for w := 0; w < *concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < reqsPerWorker; j++ {
				ok, err := op(w*reqsPerWorker + j)
				if err != nil {
					errorsCount.Add(1)
				} else if ok {
					granted.Add(1)
				}
				ops.Add(1)
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	total := ops.Load()
	fmt.Fprintf(stdout, "Finished in %v\n", elapsed)
	fmt.Fprintf(stdout, "Throughput: %.2f req/s\n", float64(total)/elapsed.Seconds())
	fmt.Fprintf(stdout, "Avg Latency: %.2f µs\n", elapsed.Seconds()/float64(total)*1e6)
	fmt.Fprintf(stdout, "Granted: %d of %d\n", granted.Load(), total)
	if n := errorsCount.Load(); n > 0 {
		fmt.Fprintf(stdout, "Errors: %d\n", n)
		return 1
	}
	return 0
}
