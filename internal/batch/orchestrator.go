package batch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/semaphore"

	"rookery/internal/domain"
	"rookery/internal/metrics"
	"rookery/internal/pool"
)

var (
	ErrRunnerMissing = errors.New("orchestrator needs a runner")
	ErrStoreMissing  = errors.New("orchestrator needs a state store")

	// ErrPersistence wraps state-store failures that halted a run.
	ErrPersistence = errors.New("batch state persistence failed")
)

// StateStore is the persistence boundary for batch progress. Every call must
// be durable before it returns; a failure here halts the whole run rather
// than risk double work after a resume.
type StateStore interface {
	SaveItem(item *domain.BatchItem) error
	CompleteBatch(batchID uint64) error
}

// ProxySelector hands out the proxy for the next attempt.
type ProxySelector interface {
	Next() (domain.ProxyRecord, error)
}

// ProxyReporter feeds attempt results back into proxy health accounting.
type ProxyReporter interface {
	MarkSuccess(id uint64)
	MarkFailure(id uint64, cause error)
}

// Config tunes one orchestrator. BatchSize is the number of concurrent lanes.
type Config struct {
	BatchSize        uint
	Retry            RetryPolicy
	Pacing           PacingPolicy
	AttemptTimeout   time.Duration
	ExhaustedBackoff time.Duration
}

// Summary reports how a run ended. Pending is non-zero only after a
// cancellation or halt.
type Summary struct {
	Succeeded uint
	Abandoned uint
	Pending   uint
	Canceled  bool
}

// Orchestrator runs a batch: it pulls pending items in index order, runs up
// to BatchSize of them concurrently, and persists every item transition
// before the lane moves on.
type Orchestrator struct {
	runner   Runner
	profiles ProfileSource
	store    StateStore
	cfg      Config

	selector ProxySelector
	reporter ProxyReporter
	sleeper  Sleeper

	rngMu sync.Mutex
	rng   *rand.Rand

	haltOnce sync.Once
	haltErr  error
}

type Option func(*Orchestrator)

// WithProxyPool wires proxy selection and health reporting in. Without it the
// orchestrator runs attempts over the direct connection.
func WithProxyPool(selector ProxySelector, reporter ProxyReporter) Option {
	return func(o *Orchestrator) {
		o.selector = selector
		o.reporter = reporter
	}
}

// WithSleeper replaces the pacing clock, for tests.
func WithSleeper(sleeper Sleeper) Option {
	return func(o *Orchestrator) {
		o.sleeper = sleeper
	}
}

// WithRand injects the randomness source behind pacing jitter.
func WithRand(rng *rand.Rand) Option {
	return func(o *Orchestrator) {
		o.rng = rng
	}
}

func New(runner Runner, profiles ProfileSource, store StateStore, cfg Config, opts ...Option) (*Orchestrator, error) {
	if runner == nil {
		return nil, ErrRunnerMissing
	}
	if store == nil {
		return nil, ErrStoreMissing
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 1
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry.MaxRetries = 1
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 5 * time.Minute
	}
	if cfg.ExhaustedBackoff <= 0 {
		cfg.ExhaustedBackoff = 30 * time.Second
	}
	if profiles == nil {
		profiles = ProfileSourceFunc(func(context.Context) ([]byte, error) {
			return nil, nil
		})
	}

	o := &Orchestrator{
		runner:   runner,
		profiles: profiles,
		store:    store,
		cfg:      cfg,
		sleeper:  realSleeper{},
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run works the batch until every item is terminal, the context is cancelled,
// or persistence fails. Interrupted items are reset to pending in memory and
// in the store before Run returns, so the batch can be resumed.
func (o *Orchestrator) Run(ctx context.Context, batch *domain.Batch) (Summary, error) {
	if batch.IsComplete() {
		return summarize(batch, false), nil
	}

	queue := pendingIndexes(batch)
	if len(queue) == 0 {
		// Every item is terminal but the batch was never stamped; finish the
		// bookkeeping from the interrupted run.
		if err := o.store.CompleteBatch(batch.ID); err != nil {
			return summarize(batch, false), fmt.Errorf("batch: complete: %w", err)
		}
		return summarize(batch, false), nil
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	o.haltErr = nil
	o.haltOnce = sync.Once{}

	log.Info("Starting batch run.",
		"batch", batch.Signature,
		"pending", len(queue),
		"lanes", o.cfg.BatchSize,
	)

	lanes := semaphore.NewWeighted(int64(o.cfg.BatchSize))
	var wg sync.WaitGroup

	for _, idx := range queue {
		if err := lanes.Acquire(runCtx, 1); err != nil {
			break
		}

		item := &batch.Items[idx]
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer lanes.Release(1)

			o.runItem(runCtx, item, cancelRun)

			// Pacing between item starts on this lane. A cancellation here
			// just ends the wait early.
			if item.IsTerminal() {
				_ = o.sleeper.Sleep(runCtx, o.pacingDelay())
			}
		}()
	}
	wg.Wait()

	// Anything still marked in-progress was interrupted mid-attempt; hand it
	// back as pending so a resume picks it up.
	for i := range batch.Items {
		item := &batch.Items[i]
		if item.Status != domain.ItemStatusInProgress {
			continue
		}
		item.Status = domain.ItemStatusPending
		if err := o.store.SaveItem(item); err != nil {
			o.halt(err)
		}
	}

	if o.haltErr != nil {
		return summarize(batch, true), fmt.Errorf("batch: run halted: %w", o.haltErr)
	}
	if ctx.Err() != nil {
		return summarize(batch, true), ctx.Err()
	}

	if err := o.store.CompleteBatch(batch.ID); err != nil {
		return summarize(batch, false), fmt.Errorf("batch: complete: %w", err)
	}
	summary := summarize(batch, false)
	log.Info("Batch run finished.",
		"batch", batch.Signature,
		"succeeded", summary.Succeeded,
		"abandoned", summary.Abandoned,
	)
	return summary, nil
}

// runItem drives one item to a terminal status, or back to pending on
// cancellation. Every transition is persisted before the function moves on.
func (o *Orchestrator) runItem(ctx context.Context, item *domain.BatchItem, cancelRun context.CancelFunc) {
	profile, err := o.profiles.Next(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		item.Status = domain.ItemStatusAbandoned
		item.LastError = fmt.Sprintf("profile: %v", err)
		o.persist(item, cancelRun)
		metrics.ItemsCompleted.WithLabelValues(item.Status).Inc()
		return
	}

	for {
		proxy, ok := o.selectProxy(ctx)
		if !ok {
			return
		}

		item.Status = domain.ItemStatusInProgress
		if proxy.ID != 0 {
			item.LastProxy = proxy.Address()
		}
		if !o.persist(item, cancelRun) {
			return
		}

		outcome := o.attempt(ctx, proxy, profile)

		if ctx.Err() != nil {
			// Cancelled mid-attempt: the result is unusable and the attempt
			// doesn't count. Run's cleanup pass resets the item to pending
			// and persists that.
			return
		}

		item.Attempts++
		metrics.AttemptsTotal.WithLabelValues(string(outcome.Status)).Inc()
		o.reportProxy(proxy, outcome)

		switch outcome.Status {
		case OutcomeSuccess:
			item.Status = domain.ItemStatusSucceeded
			item.LastError = ""
			item.ResultPayload = outcome.Payload

		case OutcomeFatal:
			item.Status = domain.ItemStatusAbandoned
			item.LastError = outcome.Err.Error()

		default: // retryable
			item.LastError = outcome.Err.Error()
			if item.Attempts >= o.cfg.Retry.MaxRetries {
				item.Status = domain.ItemStatusAbandoned
			} else {
				item.Status = domain.ItemStatusPending
				if !o.persist(item, cancelRun) {
					return
				}
				if err := o.sleeper.Sleep(ctx, o.cfg.Retry.Delay); err != nil {
					return
				}
				continue
			}
		}

		if !o.persist(item, cancelRun) {
			return
		}
		metrics.ItemsCompleted.WithLabelValues(item.Status).Inc()
		return
	}
}

func (o *Orchestrator) attempt(ctx context.Context, proxy domain.ProxyRecord, profile []byte) Outcome {
	attemptCtx, cancel := context.WithTimeout(ctx, o.cfg.AttemptTimeout)
	defer cancel()

	outcome := o.runner.Attempt(attemptCtx, proxy, profile)
	if outcome.Status == OutcomeSuccess || outcome.Err != nil {
		return outcome
	}
	// Guard against runners that fail without an error value.
	outcome.Err = errors.New("attempt failed")
	return outcome
}

// selectProxy blocks until a proxy is available, backing off while the pool
// is exhausted. The second return value is false when the run was cancelled.
func (o *Orchestrator) selectProxy(ctx context.Context) (domain.ProxyRecord, bool) {
	if o.selector == nil {
		return domain.ProxyRecord{}, ctx.Err() == nil
	}

	for {
		record, err := o.selector.Next()
		if err == nil {
			return record, true
		}
		if !errors.Is(err, pool.ErrPoolExhausted) {
			log.Error("Proxy selection failed.", "error", err)
		} else {
			log.Warn("Proxy pool exhausted, waiting for a recovery.",
				"backoff", o.cfg.ExhaustedBackoff,
			)
		}
		if sleepErr := o.sleeper.Sleep(ctx, o.cfg.ExhaustedBackoff); sleepErr != nil {
			return domain.ProxyRecord{}, false
		}
	}
}

func (o *Orchestrator) reportProxy(proxy domain.ProxyRecord, outcome Outcome) {
	if o.reporter == nil || proxy.ID == 0 {
		return
	}
	if outcome.Status == OutcomeSuccess {
		o.reporter.MarkSuccess(proxy.ID)
		return
	}
	o.reporter.MarkFailure(proxy.ID, outcome.Err)
}

// persist writes the item synchronously. A store failure is unrecoverable
// mid-run: it cancels every lane so no further work happens on state that can
// no longer be trusted.
func (o *Orchestrator) persist(item *domain.BatchItem, cancelRun context.CancelFunc) bool {
	if err := o.store.SaveItem(item); err != nil {
		log.Error("Could not persist batch item, halting run.",
			"item", item.ItemIndex,
			"error", err,
		)
		o.halt(err)
		cancelRun()
		return false
	}
	return true
}

func (o *Orchestrator) halt(err error) {
	o.haltOnce.Do(func() {
		o.haltErr = fmt.Errorf("%w: %w", ErrPersistence, err)
	})
}

func (o *Orchestrator) pacingDelay() time.Duration {
	o.rngMu.Lock()
	defer o.rngMu.Unlock()
	return o.cfg.Pacing.Delay(o.rng)
}

func pendingIndexes(batch *domain.Batch) []int {
	indexes := make([]int, 0, len(batch.Items))
	for i := range batch.Items {
		if batch.Items[i].Status == domain.ItemStatusPending {
			indexes = append(indexes, i)
		}
	}
	sort.Slice(indexes, func(a, b int) bool {
		return batch.Items[indexes[a]].ItemIndex < batch.Items[indexes[b]].ItemIndex
	})
	return indexes
}

func summarize(batch *domain.Batch, canceled bool) Summary {
	summary := Summary{Canceled: canceled}
	for _, item := range batch.Items {
		switch item.Status {
		case domain.ItemStatusSucceeded:
			summary.Succeeded++
		case domain.ItemStatusAbandoned:
			summary.Abandoned++
		default:
			summary.Pending++
		}
	}
	return summary
}
