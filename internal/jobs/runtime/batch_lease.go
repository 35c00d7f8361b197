// Package runtime owns cross-process coordination: leases that keep two
// workers from running the same batch at once.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"rookery/internal/support"
)

const BatchLeaseKeyPrefix = "rookery:batch:"

var ErrLeaseHeld = errors.New("batch lease is held by another instance")

// Scripts compare the stored token so one instance can never release or
// refresh a lease another instance has since taken over.
var (
	releaseScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		end
		return 0
	`)

	refreshScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("PEXPIRE", KEYS[1], ARGV[2])
		end
		return 0
	`)
)

// Lease is exclusive ownership of one batch signature, valid while it keeps
// being refreshed.
type Lease struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

// AcquireBatchLease claims the signature for this instance. It returns
// ErrLeaseHeld (with the holder's identity) when another instance owns it.
func AcquireBatchLease(ctx context.Context, client *redis.Client, signature string, ttl time.Duration) (*Lease, error) {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}

	key := BatchLeaseKeyPrefix + signature
	token := support.GetInstanceID()

	acquired, err := client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("runtime: acquire lease %s: %w", key, err)
	}
	if !acquired {
		holder, err := client.Get(ctx, key).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("runtime: inspect lease %s: %w", key, err)
		}
		if holder == token {
			// Our own stale lease from an unclean stop; take it back.
			if err := client.PExpire(ctx, key, ttl).Err(); err != nil {
				return nil, fmt.Errorf("runtime: reclaim lease %s: %w", key, err)
			}
			return &Lease{client: client, key: key, token: token, ttl: ttl}, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrLeaseHeld, holder)
	}

	return &Lease{client: client, key: key, token: token, ttl: ttl}, nil
}

// StartRefresh keeps the lease alive in the background until the returned
// cancel is called. Losing the lease mid-run is only logged; the batch state
// store stays the correctness boundary.
func (l *Lease) StartRefresh(parent context.Context) context.CancelFunc {
	ctx, cancel := context.WithCancel(parent)

	interval := l.ttl / 3
	if interval <= 0 {
		interval = time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := l.Refresh(ctx); err != nil {
					log.Warn("Batch lease refresh failed.", "key", l.key, "error", err)
				}
			}
		}
	}()

	return cancel
}

// Refresh extends the lease once. It fails when the lease was lost.
func (l *Lease) Refresh(ctx context.Context) error {
	kept, err := refreshScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("runtime: refresh lease %s: %w", l.key, err)
	}
	if kept == 0 {
		return fmt.Errorf("runtime: refresh lease %s: %w", l.key, ErrLeaseHeld)
	}
	return nil
}

// Release gives the lease up. Releasing a lease that expired or moved on is
// not an error.
func (l *Lease) Release(ctx context.Context) error {
	if _, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int(); err != nil {
		return fmt.Errorf("runtime: release lease %s: %w", l.key, err)
	}
	return nil
}
