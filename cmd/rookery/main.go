package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"rookery/internal/automation"
	"rookery/internal/batch"
	"rookery/internal/config"
	"rookery/internal/database"
	"rookery/internal/jobs/runtime"
	"rookery/internal/metrics"
	"rookery/internal/pool"
	"rookery/internal/profile"
	"rookery/internal/support"
)

func main() {
	count := flag.Uint("count", 0, "number of accounts to create")
	signature := flag.String("signature", "", "explicit batch signature (default: derived from count and signup url)")
	resume := flag.Bool("resume", false, "resume the batch with the given signature")
	export := flag.Bool("export", false, "export a finished batch instead of running")
	status := flag.String("status", "", "status filter for export (pending, in_progress, succeeded, abandoned)")
	format := flag.String("format", batch.ExportJSON, "export format: json, csv or txt")
	out := flag.String("out", "", "export destination file (default: stdout)")
	dryRun := flag.Bool("dry-run", false, "run without a browser, every attempt succeeds")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("Could not load .env file.", "error", err)
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration.", "error", err)
	}

	if _, err := database.SetupDB(); err != nil {
		log.Fatal("Could not set up database.", "error", err)
	}

	if *export {
		if err := exportBatch(*signature, *status, *format, *out); err != nil {
			log.Fatal("Export failed.", "error", err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sig, itemCount, err := resolveBatch(*signature, *count, *resume, cfg)
	if err != nil {
		log.Fatal("Could not resolve batch.", "error", err)
	}

	if addr := support.GetEnv("ROOKERY_METRICS_ADDR", ""); addr != "" {
		go serveMetrics(addr)
	}

	if redisAddr := support.GetEnv("ROOKERY_REDIS_ADDR", ""); redisAddr != "" {
		release, err := acquireLease(ctx, redisAddr, sig)
		if err != nil {
			log.Fatal("Could not acquire batch lease.", "error", err)
		}
		defer release()
	}

	batchRec, resumed, err := database.GetOrCreateBatch(sig, itemCount)
	if err != nil {
		log.Fatal("Could not load batch.", "error", err)
	}
	if resumed {
		log.Info("Resuming existing batch.", "signature", sig)
	}

	orc, err := buildOrchestrator(ctx, cfg, *dryRun)
	if err != nil {
		log.Fatal("Could not build orchestrator.", "error", err)
	}

	summary, err := orc.Run(ctx, batchRec)
	if err != nil {
		if summary.Canceled {
			log.Warn("Batch run interrupted.",
				"signature", sig,
				"succeeded", summary.Succeeded,
				"pending", summary.Pending,
				"error", err,
			)
			os.Exit(1)
		}
		log.Fatal("Batch run failed.", "error", err)
	}

	log.Info("Batch finished.",
		"signature", sig,
		"succeeded", summary.Succeeded,
		"abandoned", summary.Abandoned,
	)
}

// resolveBatch works out the batch identity: an explicit signature wins,
// otherwise one is derived from the request so re-running the same command
// resumes instead of starting over.
func resolveBatch(signature string, count uint, resume bool, cfg config.Config) (string, uint, error) {
	if resume {
		if signature == "" {
			return "", 0, errors.New("resume needs -signature")
		}
		existing, err := database.GetBatchBySignature(signature)
		if err != nil {
			return "", 0, err
		}
		return signature, existing.RequestedCount, nil
	}

	if count == 0 {
		return "", 0, errors.New("-count must be at least 1")
	}
	if signature == "" {
		signature = support.HashString(fmt.Sprintf("count=%d|url=%s", count, cfg.SignupURL))
	}
	return signature, count, nil
}

func buildOrchestrator(ctx context.Context, cfg config.Config, dryRun bool) (*batch.Orchestrator, error) {
	orcCfg := batch.Config{
		BatchSize: uint(cfg.BatchSize),
		Retry: batch.RetryPolicy{
			MaxRetries: uint(cfg.MaxRetries),
			Delay:      cfg.RetryDelay,
		},
		Pacing: batch.PacingPolicy{
			Min: cfg.DelayBetweenAccounts.Min,
			Max: cfg.DelayBetweenAccounts.Max,
		},
		AttemptTimeout:   cfg.AttemptTimeout,
		ExhaustedBackoff: cfg.RetryDelay,
	}

	var opts []batch.Option
	if cfg.Proxy.Enabled {
		selector, reporter, err := buildProxyPool(ctx, cfg.Proxy)
		if err != nil {
			return nil, err
		}
		if selector != nil {
			opts = append(opts, batch.WithProxyPool(selector, reporter))
		}
	}

	var runner batch.Runner
	if dryRun {
		runner = automation.DryRunRunner{}
	} else {
		rodOpts := []automation.RodOption{automation.WithHeadless(cfg.Headless)}
		if cfg.Stealth {
			rodOpts = append(rodOpts, automation.WithPageFactory(automation.StealthPageFactory{}))
		}
		runner = automation.NewRodRunner(cfg.SignupURL, rodOpts...)
	}

	return batch.New(runner, profile.NewGenerator(), database.BatchStore{}, orcCfg, opts...)
}

// buildProxyPool assembles the store from persisted records plus whatever the
// configuration adds, and starts the background health checker. A configured
// but empty pool just means direct connections.
func buildProxyPool(ctx context.Context, cfg config.ProxyConfig) (*pool.Selector, *pool.Store, error) {
	storeOpts := []pool.StoreOption{pool.WithPersister(database.HealthPersister{})}
	if cfg.GeoIPDatabase != "" {
		resolver, err := pool.NewMaxMindResolver(cfg.GeoIPDatabase)
		if err != nil {
			return nil, nil, err
		}
		storeOpts = append(storeOpts, pool.WithGeoResolver(resolver))
	}
	store := pool.NewStore(uint(cfg.MaxFailures), storeOpts...)

	persisted, err := database.LoadProxyRecords()
	if err != nil {
		return nil, nil, err
	}
	store.AddAll(persisted)

	if cfg.File != "" {
		fromFile, err := pool.LoadFromFile(cfg.File)
		if err != nil {
			return nil, nil, err
		}
		store.AddAll(fromFile)
	}
	if len(cfg.List) > 0 {
		fromList, err := pool.ParseList(cfg.List)
		if err != nil {
			return nil, nil, err
		}
		store.AddAll(fromList)
	}

	if store.Len() == 0 {
		log.Warn("Proxy support enabled but the pool is empty, running direct.")
		return nil, nil, nil
	}
	log.Info("Proxy pool assembled.", "proxies", store.Len())

	selector, err := pool.NewSelector(store, cfg.RotationMethod,
		pool.WithPreferredCountries(cfg.PreferredCountries),
	)
	if err != nil {
		return nil, nil, err
	}

	checker := pool.NewChecker(store, cfg.HealthCheckInterval, cfg.Timeout, cfg.ProbeURL)
	pool.LaunchChecker(ctx, checker)

	return selector, store, nil
}

func exportBatch(signature, status, format, out string) error {
	if signature == "" {
		return errors.New("export needs -signature")
	}

	items, err := database.ExportBatchItems(signature, status)
	if err != nil {
		return err
	}

	var dest io.Writer = os.Stdout
	if out != "" {
		file, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("create export file: %w", err)
		}
		defer file.Close()
		dest = file
	}

	if err := batch.WriteExport(dest, items, format); err != nil {
		return err
	}
	log.Info("Export written.", "signature", signature, "items", len(items), "format", format)
	return nil
}

func acquireLease(ctx context.Context, redisAddr, signature string) (func(), error) {
	client := redis.NewClient(&redis.Options{Addr: redisAddr})

	ttl := time.Duration(support.GetEnvInt("ROOKERY_LEASE_TTL", 60)) * time.Second
	lease, err := runtime.AcquireBatchLease(ctx, client, signature, ttl)
	if err != nil {
		return nil, err
	}
	stopRefresh := lease.StartRefresh(ctx)

	return func() {
		stopRefresh()
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lease.Release(releaseCtx); err != nil {
			log.Warn("Could not release batch lease.", "error", err)
		}
		_ = client.Close()
	}, nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	log.Info("Metrics listener started.", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("Metrics listener stopped.", "error", err)
	}
}
