// Package pool manages the set of outbound proxies: their health state, the
// background checker that maintains it, and the selector that hands proxies to
// workers.
package pool

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"rookery/internal/domain"
	"rookery/internal/metrics"
)

var (
	ErrProxyNotFound  = errors.New("proxy not found in pool")
	ErrDuplicateProxy = errors.New("proxy already in pool")
)

// Persister receives health snapshots after every state change. Persistence is
// advisory: the store logs failures and keeps serving from memory.
type Persister interface {
	SaveHealth(record domain.ProxyRecord) error
}

// entry wraps one record with its own lock so health updates on different
// proxies never contend.
type entry struct {
	mu  sync.Mutex
	rec domain.ProxyRecord
}

// Store is the in-memory source of truth for proxy health. The database only
// sees snapshots; all reads during a run go through here.
type Store struct {
	mu          sync.RWMutex
	byKey       map[string]*entry
	records     []*entry // insertion order, drives sequential rotation
	maxFailures uint
	persister   Persister
	geo         GeoResolver
	nextID      uint64
}

type StoreOption func(*Store)

func WithPersister(p Persister) StoreOption {
	return func(s *Store) {
		s.persister = p
	}
}

func WithGeoResolver(g GeoResolver) StoreOption {
	return func(s *Store) {
		s.geo = g
	}
}

// NewStore creates a store that disables a proxy once it accumulates
// maxFailures consecutive failures. A maxFailures of 0 falls back to 3.
func NewStore(maxFailures uint, opts ...StoreOption) *Store {
	if maxFailures == 0 {
		maxFailures = 3
	}
	s := &Store{
		byKey:       make(map[string]*entry),
		maxFailures: maxFailures,
		geo:         NoopGeoResolver{},
		nextID:      1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers a proxy. Records already present (same host, port, protocol)
// are skipped, the existing health state wins. Records without a country get
// one from the geo resolver when it knows the host.
func (s *Store) Add(record domain.ProxyRecord) (domain.ProxyRecord, error) {
	key := record.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byKey[key]; ok {
		existing.mu.Lock()
		rec := existing.rec
		existing.mu.Unlock()
		return rec, fmt.Errorf("pool: add %s: %w", key, ErrDuplicateProxy)
	}

	if record.ID == 0 {
		record.ID = s.nextID
	}
	if record.ID >= s.nextID {
		s.nextID = record.ID + 1
	}
	if record.Country == "" {
		record.Country = s.geo.Country(record.Host)
	}

	e := &entry{rec: record}
	s.byKey[key] = e
	s.records = append(s.records, e)
	s.refreshGaugesLocked()
	return record, nil
}

// AddAll registers every record, ignoring duplicates, and returns how many
// were actually added.
func (s *Store) AddAll(records []domain.ProxyRecord) int {
	added := 0
	for _, record := range records {
		if _, err := s.Add(record); err == nil {
			added++
		}
	}
	return added
}

// Filter narrows List results.
type Filter struct {
	OnlyEnabled bool
	Country     string
}

// List returns snapshots of matching records in insertion order.
func (s *Store) List(filter Filter) []domain.ProxyRecord {
	s.mu.RLock()
	entries := make([]*entry, len(s.records))
	copy(entries, s.records)
	s.mu.RUnlock()

	out := make([]domain.ProxyRecord, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		rec := e.rec
		e.mu.Unlock()

		if filter.OnlyEnabled && rec.Disabled {
			continue
		}
		if filter.Country != "" && rec.Country != filter.Country {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Get returns a snapshot of one record by pool ID.
func (s *Store) Get(id uint64) (domain.ProxyRecord, error) {
	e, err := s.find(id)
	if err != nil {
		return domain.ProxyRecord{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec, nil
}

// Len reports the total number of records, disabled included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// MarkSuccess records a successful use: the failure streak resets and a
// previously disabled proxy becomes eligible again.
func (s *Store) MarkSuccess(id uint64) {
	s.updateHealth(id, func(rec *domain.ProxyRecord) {
		rec.ConsecutiveFailures = 0
		rec.Disabled = false
		rec.LastError = ""
	})
}

// MarkFailure records a failed use. Reaching the failure ceiling disables the
// proxy until a later success (or Enable) clears it.
func (s *Store) MarkFailure(id uint64, cause error) {
	s.updateHealth(id, func(rec *domain.ProxyRecord) {
		rec.ConsecutiveFailures++
		if rec.ConsecutiveFailures >= s.maxFailures {
			rec.Disabled = true
		}
		if cause != nil {
			rec.LastError = cause.Error()
		}
	})
}

// RecordProbe folds a health-check result into the record. Probe results use
// the same streak accounting as real traffic, plus latency and check time.
func (s *Store) RecordProbe(id uint64, latency time.Duration, cause error) {
	now := time.Now().UTC()
	s.updateHealth(id, func(rec *domain.ProxyRecord) {
		rec.LastCheckedAt = &now
		if cause != nil {
			rec.ConsecutiveFailures++
			if rec.ConsecutiveFailures >= s.maxFailures {
				rec.Disabled = true
			}
			rec.LastError = cause.Error()
			return
		}

		ms := latency.Milliseconds()
		rec.LastLatencyMs = &ms
		rec.ConsecutiveFailures = 0
		rec.Disabled = false
		rec.LastError = ""
		metrics.ProbeLatency.Observe(latency.Seconds())
	})
}

// Disable takes a proxy out of rotation manually.
func (s *Store) Disable(id uint64) error {
	e, err := s.find(id)
	if err != nil {
		return err
	}
	s.apply(e, func(rec *domain.ProxyRecord) {
		rec.Disabled = true
	})
	return nil
}

// Enable puts a proxy back in rotation and forgives its failure streak.
func (s *Store) Enable(id uint64) error {
	e, err := s.find(id)
	if err != nil {
		return err
	}
	s.apply(e, func(rec *domain.ProxyRecord) {
		rec.Disabled = false
		rec.ConsecutiveFailures = 0
		rec.LastError = ""
	})
	return nil
}

func (s *Store) find(id uint64) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.records {
		if e.rec.ID == id {
			return e, nil
		}
	}
	return nil, fmt.Errorf("pool: id %d: %w", id, ErrProxyNotFound)
}

func (s *Store) updateHealth(id uint64, mutate func(*domain.ProxyRecord)) {
	e, err := s.find(id)
	if err != nil {
		log.Warn("Health update for unknown proxy ignored.", "id", id)
		return
	}
	s.apply(e, mutate)
}

func (s *Store) apply(e *entry, mutate func(*domain.ProxyRecord)) {
	e.mu.Lock()
	mutate(&e.rec)
	snapshot := e.rec
	e.mu.Unlock()

	s.mu.RLock()
	s.refreshGaugesLocked()
	s.mu.RUnlock()

	if s.persister == nil {
		return
	}
	if err := s.persister.SaveHealth(snapshot); err != nil {
		log.Warn("Could not persist proxy health, continuing from memory.",
			"proxy", snapshot.Key(),
			"error", err,
		)
	}
}

// refreshGaugesLocked expects at least a read lock on s.mu.
func (s *Store) refreshGaugesLocked() {
	enabled := 0
	disabled := 0
	for _, e := range s.records {
		e.mu.Lock()
		if e.rec.Disabled {
			disabled++
		} else {
			enabled++
		}
		e.mu.Unlock()
	}
	metrics.ProxiesEnabled.Set(float64(enabled))
	metrics.ProxiesDisabled.Set(float64(disabled))
}

// sortByQuality orders records for the "best" rotation policy: lowest probe
// latency first, proxies never probed last, ties broken by failure streak and
// then insertion order.
func sortByQuality(records []domain.ProxyRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		li, iOK := records[i].LastLatency()
		lj, jOK := records[j].LastLatency()

		if iOK != jOK {
			return iOK
		}
		if iOK && li != lj {
			return li < lj
		}
		if records[i].ConsecutiveFailures != records[j].ConsecutiveFailures {
			return records[i].ConsecutiveFailures < records[j].ConsecutiveFailures
		}
		return records[i].ID < records[j].ID
	})
}
