package pool

import (
	"errors"
	"sync"
	"testing"
	"time"

	"rookery/internal/domain"
)

func testRecord(host string, port uint16) domain.ProxyRecord {
	return domain.ProxyRecord{Host: host, Port: port, Protocol: "http"}
}

func TestStoreDisablesAtFailureCeiling(t *testing.T) {
	store := NewStore(3)
	rec, err := store.Add(testRecord("10.0.0.1", 8080))
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	cause := errors.New("connection refused")
	for i := 1; i <= 2; i++ {
		store.MarkFailure(rec.ID, cause)
		got, _ := store.Get(rec.ID)
		if got.Disabled {
			t.Fatalf("disabled after %d failures, ceiling is 3", i)
		}
	}

	store.MarkFailure(rec.ID, cause)
	got, _ := store.Get(rec.ID)
	if !got.Disabled {
		t.Fatal("not disabled after reaching the failure ceiling")
	}
	if got.ConsecutiveFailures != 3 {
		t.Fatalf("failures = %d, want 3", got.ConsecutiveFailures)
	}
	if got.LastError != "connection refused" {
		t.Fatalf("last error = %q", got.LastError)
	}
}

func TestStoreSuccessResetsStreakAndReenables(t *testing.T) {
	store := NewStore(2)
	rec, _ := store.Add(testRecord("10.0.0.2", 8080))

	store.MarkFailure(rec.ID, errors.New("timeout"))
	store.MarkFailure(rec.ID, errors.New("timeout"))
	got, _ := store.Get(rec.ID)
	if !got.Disabled {
		t.Fatal("precondition: proxy should be disabled")
	}

	store.MarkSuccess(rec.ID)
	got, _ = store.Get(rec.ID)
	if got.Disabled {
		t.Fatal("success should re-enable the proxy")
	}
	if got.ConsecutiveFailures != 0 {
		t.Fatalf("failures = %d after success, want 0", got.ConsecutiveFailures)
	}
	if got.LastError != "" {
		t.Fatalf("last error = %q after success, want empty", got.LastError)
	}
}

func TestStoreProbeResultsUpdateLatencyAndStreak(t *testing.T) {
	store := NewStore(3)
	rec, _ := store.Add(testRecord("10.0.0.3", 8080))

	store.RecordProbe(rec.ID, 250*time.Millisecond, nil)
	got, _ := store.Get(rec.ID)
	if got.LastCheckedAt == nil {
		t.Fatal("probe should stamp last_checked_at")
	}
	latency, ok := got.LastLatency()
	if !ok || latency != 250*time.Millisecond {
		t.Fatalf("latency = %v ok=%v, want 250ms", latency, ok)
	}

	store.RecordProbe(rec.ID, 0, errors.New("probe failed"))
	got, _ = store.Get(rec.ID)
	if got.ConsecutiveFailures != 1 {
		t.Fatalf("failures = %d after failed probe, want 1", got.ConsecutiveFailures)
	}
	// A failed probe must not erase the last known latency.
	if _, ok := got.LastLatency(); !ok {
		t.Fatal("failed probe erased latency")
	}
}

func TestStoreRejectsDuplicates(t *testing.T) {
	store := NewStore(3)
	if _, err := store.Add(testRecord("10.0.0.4", 8080)); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if _, err := store.Add(testRecord("10.0.0.4", 8080)); !errors.Is(err, ErrDuplicateProxy) {
		t.Fatalf("err = %v, want ErrDuplicateProxy", err)
	}
	if store.Len() != 1 {
		t.Fatalf("len = %d, want 1", store.Len())
	}

	// Same host and port with another protocol is a distinct proxy.
	other := testRecord("10.0.0.4", 8080)
	other.Protocol = "socks5"
	if _, err := store.Add(other); err != nil {
		t.Fatalf("distinct protocol rejected: %v", err)
	}
}

type recordingPersister struct {
	mu    sync.Mutex
	saved []domain.ProxyRecord
	err   error
}

func (p *recordingPersister) SaveHealth(record domain.ProxyRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saved = append(p.saved, record)
	return p.err
}

func TestStorePersistsHealthSnapshots(t *testing.T) {
	persister := &recordingPersister{}
	store := NewStore(3, WithPersister(persister))
	rec, _ := store.Add(testRecord("10.0.0.5", 8080))

	store.MarkFailure(rec.ID, errors.New("boom"))
	store.MarkSuccess(rec.ID)

	persister.mu.Lock()
	defer persister.mu.Unlock()
	if len(persister.saved) != 2 {
		t.Fatalf("persisted %d snapshots, want 2", len(persister.saved))
	}
	if persister.saved[0].ConsecutiveFailures != 1 {
		t.Fatalf("first snapshot failures = %d, want 1", persister.saved[0].ConsecutiveFailures)
	}
	if persister.saved[1].ConsecutiveFailures != 0 {
		t.Fatalf("second snapshot failures = %d, want 0", persister.saved[1].ConsecutiveFailures)
	}
}

func TestStoreSurvivesPersistenceFailure(t *testing.T) {
	persister := &recordingPersister{err: errors.New("disk on fire")}
	store := NewStore(3, WithPersister(persister))
	rec, _ := store.Add(testRecord("10.0.0.6", 8080))

	store.MarkFailure(rec.ID, errors.New("boom"))

	got, _ := store.Get(rec.ID)
	if got.ConsecutiveFailures != 1 {
		t.Fatal("in-memory state lost on persistence failure")
	}
}

type stubGeo struct {
	countries map[string]string
}

func (g stubGeo) Country(host string) string {
	return g.countries[host]
}

func TestStoreResolvesMissingCountry(t *testing.T) {
	store := NewStore(3, WithGeoResolver(stubGeo{countries: map[string]string{"10.0.0.7": "DE"}}))

	rec, _ := store.Add(testRecord("10.0.0.7", 8080))
	if rec.Country != "DE" {
		t.Fatalf("country = %q, want DE", rec.Country)
	}

	tagged := testRecord("10.0.0.8", 8080)
	tagged.Country = "US"
	rec, _ = store.Add(tagged)
	if rec.Country != "US" {
		t.Fatalf("explicit country overwritten: %q", rec.Country)
	}
}
