package pool

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"rookery/internal/config"
	"rookery/internal/domain"
)

var ErrPoolExhausted = errors.New("no enabled proxies available")

// Selector picks the next proxy for a worker according to the configured
// rotation policy. It is safe for concurrent use.
type Selector struct {
	store     *Store
	policy    string
	preferred []string

	mu     sync.Mutex
	cursor uint64
	rng    *rand.Rand
}

type SelectorOption func(*Selector)

// WithPreferredCountries restricts selection to the given ISO country codes
// while at least one enabled proxy matches; otherwise the whole pool is used.
func WithPreferredCountries(countries []string) SelectorOption {
	return func(sel *Selector) {
		sel.preferred = normalizeCountries(countries)
	}
}

// WithRand injects the randomness source, for deterministic tests.
func WithRand(rng *rand.Rand) SelectorOption {
	return func(sel *Selector) {
		sel.rng = rng
	}
}

// NewSelector validates the rotation policy and wires the selector to a store.
func NewSelector(store *Store, policy string, opts ...SelectorOption) (*Selector, error) {
	switch policy {
	case config.RotationRandom, config.RotationSequential, config.RotationBest:
	default:
		return nil, fmt.Errorf("pool: unknown rotation policy %q", policy)
	}

	sel := &Selector{
		store:  store,
		policy: policy,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(sel)
	}
	return sel, nil
}

// Next returns the next proxy under the rotation policy. It returns
// ErrPoolExhausted when every proxy is disabled; country preferences never
// cause exhaustion on their own.
func (sel *Selector) Next() (domain.ProxyRecord, error) {
	enabled := sel.store.List(Filter{OnlyEnabled: true})
	if len(enabled) == 0 {
		return domain.ProxyRecord{}, ErrPoolExhausted
	}

	candidates := sel.filterByCountry(enabled)

	sel.mu.Lock()
	defer sel.mu.Unlock()

	switch sel.policy {
	case config.RotationSequential:
		pick := candidates[sel.cursor%uint64(len(candidates))]
		sel.cursor++
		return pick, nil

	case config.RotationBest:
		sortByQuality(candidates)
		return candidates[0], nil

	default: // random
		return candidates[sel.rng.Intn(len(candidates))], nil
	}
}

// filterByCountry keeps only preferred-country proxies, falling back to the
// full candidate list when no enabled proxy matches any preference.
func (sel *Selector) filterByCountry(candidates []domain.ProxyRecord) []domain.ProxyRecord {
	if len(sel.preferred) == 0 {
		return candidates
	}

	matched := make([]domain.ProxyRecord, 0, len(candidates))
	for _, rec := range candidates {
		for _, country := range sel.preferred {
			if rec.Country == country {
				matched = append(matched, rec)
				break
			}
		}
	}
	if len(matched) == 0 {
		return candidates
	}
	return matched
}

func normalizeCountries(countries []string) []string {
	out := make([]string, 0, len(countries))
	for _, c := range countries {
		if c = strings.ToUpper(strings.TrimSpace(c)); c != "" {
			out = append(out, c)
		}
	}
	return out
}
