package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mirkobrombin/go-lease/cmd/internal/demo"
	"github.com/mirkobrombin/go-lease/v1/ratelimit"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet("limit-demo", flag.ContinueOnError)
	workers := fs.Int("workers", 5, "Number of concurrent requests")
	limit := fs.Int64("limit", 3, "Requests admitted per window")
	window := fs.Duration("window", time.Second, "Window length")
	retry := fs.Duration("retry", 400*time.Millisecond, "Fixed delay between retries of a denied request")
	retries := fs.Int("retries", 2, "Retries of a denied request after its first check")
	identity := fs.String("identity", "u001", "Identity all requests are counted against")
	policy := fs.String("policy", "fixed", "Window policy: fixed or rolling")
	denyCache := fs.Bool("deny-cache", false, "Answer repeated denials from a local cache")
	var cfg demo.Config
	cfg.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	switch *policy {
	case "fixed":
		cfg.LimiterOptions = append(cfg.LimiterOptions, ratelimit.WithPolicy(ratelimit.PolicyFixedWindow))
	case "rolling":
		cfg.LimiterOptions = append(cfg.LimiterOptions, ratelimit.WithPolicy(ratelimit.PolicyRollingWindow))
	default:
		log.Printf("unknown policy %q", *policy)
		return 2
	}
	if *denyCache {
		cfg.LimiterOptions = append(cfg.LimiterOptions, ratelimit.WithDenyCache(0))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	env, err := demo.Setup(ctx, cfg)
	if err != nil {
		log.Print(err)
		return 1
	}
	defer env.Close()

	limiter := env.Stack.Limiter
	decisions := make([]ratelimit.Decision, *workers)

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < *workers; i++ {
		g.Go(func() error {
			dec, err := limiter.AcquireWithRetry(gctx, *identity, *limit, *window, *retry, *retries)
			if err != nil {
				return fmt.Errorf("worker %d: %w", i, err)
			}
			decisions[i] = dec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Print(err)
		return 1
	}

	admitted := 0
	for i, d := range decisions {
		if d.Admitted {
			admitted++
			fmt.Fprintf(stdout, "worker %d: admitted attempts=%d count=%d\n", i, d.Attempts, d.Count)
			continue
		}
		fmt.Fprintf(stdout, "worker %d: denied attempts=%d retry_after=%v\n", i, d.Attempts, d.RetryAfter.Round(time.Millisecond))
	}
	fmt.Fprintf(stdout, "admitted=%d denied=%d limit=%d window=%v policy=%s elapsed=%v\n",
		admitted, *workers-admitted, *limit, *window, limiter.Policy(), time.Since(start).Round(time.Millisecond))
	return 0
}
