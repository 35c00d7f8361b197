package pool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"rookery/internal/domain"
	"rookery/internal/support"
)

// checkerConcurrency bounds how many probes run at once during a sweep.
const checkerConcurrency = 16

// ProbeFunc measures one proxy. It returns the observed latency on success.
type ProbeFunc func(ctx context.Context, record domain.ProxyRecord) (time.Duration, error)

// Checker sweeps the pool on an interval, probing every record (disabled ones
// included, so a recovered proxy can re-enable itself) and folding results
// back into the store.
type Checker struct {
	store    *Store
	interval time.Duration
	timeout  time.Duration
	probe    ProbeFunc
}

type CheckerOption func(*Checker)

// WithProbe replaces the HTTP probe, for tests and exotic transports.
func WithProbe(probe ProbeFunc) CheckerOption {
	return func(c *Checker) {
		c.probe = probe
	}
}

func NewChecker(store *Store, interval, timeout time.Duration, probeURL string, opts ...CheckerOption) *Checker {
	c := &Checker{
		store:    store,
		interval: interval,
		timeout:  timeout,
		probe:    defaultProbe(probeURL),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start runs sweeps until the context is cancelled. The first sweep happens
// immediately so a fresh pool gets latency data before the first selection.
func (c *Checker) Start(ctx context.Context) {
	c.CheckAll(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Health checker stopped.")
			return
		case <-ticker.C:
			c.CheckAll(ctx)
		}
	}
}

// CheckAll probes every record once. Each probe gets its own deadline so one
// stuck proxy cannot stall the sweep past its slot.
func (c *Checker) CheckAll(ctx context.Context) {
	records := c.store.List(Filter{})
	if len(records) == 0 {
		return
	}

	start := time.Now()
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(checkerConcurrency)

	for _, record := range records {
		group.Go(func() error {
			probeCtx, cancel := context.WithTimeout(groupCtx, c.timeout)
			defer cancel()

			latency, err := c.probe(probeCtx, record)
			if groupCtx.Err() != nil {
				// Shutdown race, don't count it against the proxy.
				return nil
			}
			c.store.RecordProbe(record.ID, latency, err)
			return nil
		})
	}
	_ = group.Wait()

	enabled := len(c.store.List(Filter{OnlyEnabled: true}))
	log.Info("Health sweep finished.",
		"proxies", len(records),
		"enabled", enabled,
		"duration", time.Since(start).Round(time.Millisecond),
	)
}

// defaultProbe issues a GET through the proxy and treats any 2xx-4xx answer
// as alive; the probe checks reachability, not endpoint semantics.
func defaultProbe(probeURL string) ProbeFunc {
	return func(ctx context.Context, record domain.ProxyRecord) (time.Duration, error) {
		transport, err := support.CreateTransport(record, 0)
		if err != nil {
			return 0, err
		}
		defer transport.CloseIdleConnections()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
		if err != nil {
			return 0, fmt.Errorf("pool: build probe request: %w", err)
		}

		client := &http.Client{Transport: transport}
		start := time.Now()
		resp, err := client.Do(req)
		if err != nil {
			return 0, fmt.Errorf("pool: probe %s: %w", record.Key(), err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

		if resp.StatusCode >= http.StatusInternalServerError {
			return 0, fmt.Errorf("pool: probe %s: status %d", record.Key(), resp.StatusCode)
		}
		return time.Since(start), nil
	}
}

// LaunchChecker starts the checker in the background and returns the cancel
// that stops it.
func LaunchChecker(parent context.Context, checker *Checker) context.CancelFunc {
	ctx, cancel := context.WithCancel(parent)

	log.Info("Starting proxy health checker.", "interval", checker.interval)
	go checker.Start(ctx)

	return cancel
}
