package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"rookery/internal/domain"
)

func TestCheckerFoldsProbeResultsIntoStore(t *testing.T) {
	store := poolWith(t,
		testRecord("good.example", 8080),
		testRecord("bad.example", 8080),
	)

	probe := func(_ context.Context, record domain.ProxyRecord) (time.Duration, error) {
		if record.Host == "bad.example" {
			return 0, errors.New("no route to host")
		}
		return 120 * time.Millisecond, nil
	}

	checker := NewChecker(store, time.Minute, time.Second, "https://api.ipify.org", WithProbe(probe))
	checker.CheckAll(context.Background())

	for _, rec := range store.List(Filter{}) {
		switch rec.Host {
		case "good.example":
			if latency, ok := rec.LastLatency(); !ok || latency != 120*time.Millisecond {
				t.Fatalf("good proxy latency = %v ok=%v", latency, ok)
			}
			if rec.ConsecutiveFailures != 0 {
				t.Fatalf("good proxy failures = %d", rec.ConsecutiveFailures)
			}
		case "bad.example":
			if rec.ConsecutiveFailures != 1 {
				t.Fatalf("bad proxy failures = %d, want 1", rec.ConsecutiveFailures)
			}
		}
		if rec.LastCheckedAt == nil {
			t.Fatalf("%s missing last_checked_at", rec.Host)
		}
	}
}

func TestCheckerSweepsDisableAfterRepeatedFailures(t *testing.T) {
	store := poolWith(t, testRecord("dead.example", 8080))
	probe := func(context.Context, domain.ProxyRecord) (time.Duration, error) {
		return 0, errors.New("timeout")
	}
	checker := NewChecker(store, time.Minute, time.Second, "https://api.ipify.org", WithProbe(probe))

	for i := 0; i < 3; i++ {
		checker.CheckAll(context.Background())
	}

	rec := store.List(Filter{})[0]
	if !rec.Disabled {
		t.Fatal("proxy not disabled after three failed sweeps")
	}
}

func TestCheckerProbesDisabledProxiesForRecovery(t *testing.T) {
	store := NewStore(1)
	rec, _ := store.Add(testRecord("flap.example", 8080))
	store.MarkFailure(rec.ID, errors.New("down"))

	got, _ := store.Get(rec.ID)
	if !got.Disabled {
		t.Fatal("precondition: proxy should be disabled")
	}

	probe := func(context.Context, domain.ProxyRecord) (time.Duration, error) {
		return 80 * time.Millisecond, nil
	}
	checker := NewChecker(store, time.Minute, time.Second, "https://api.ipify.org", WithProbe(probe))
	checker.CheckAll(context.Background())

	got, _ = store.Get(rec.ID)
	if got.Disabled {
		t.Fatal("successful probe should re-enable the proxy")
	}
}

func TestCheckerTimeBoxesSlowProbes(t *testing.T) {
	store := poolWith(t, testRecord("stuck.example", 8080))

	probe := func(ctx context.Context, _ domain.ProxyRecord) (time.Duration, error) {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(5 * time.Second):
			return time.Second, nil
		}
	}
	checker := NewChecker(store, time.Minute, 20*time.Millisecond, "https://api.ipify.org", WithProbe(probe))

	done := make(chan struct{})
	go func() {
		checker.CheckAll(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep did not respect the per-probe deadline")
	}

	rec := store.List(Filter{})[0]
	if rec.ConsecutiveFailures != 1 {
		t.Fatalf("failures = %d, want 1 from the timed-out probe", rec.ConsecutiveFailures)
	}
}

func TestCheckerStopsOnCancel(t *testing.T) {
	store := poolWith(t, testRecord("10.0.0.1", 8080))

	var mu sync.Mutex
	sweeps := 0
	probe := func(context.Context, domain.ProxyRecord) (time.Duration, error) {
		mu.Lock()
		sweeps++
		mu.Unlock()
		return time.Millisecond, nil
	}
	checker := NewChecker(store, 5*time.Millisecond, time.Second, "https://api.ipify.org", WithProbe(probe))

	cancel := LaunchChecker(context.Background(), checker)
	time.Sleep(30 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	after := sweeps
	mu.Unlock()
	if after == 0 {
		t.Fatal("checker never swept")
	}

	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	final := sweeps
	mu.Unlock()
	if final != after {
		t.Fatalf("checker kept sweeping after cancel: %d -> %d", after, final)
	}
}
