package database

import (
	"testing"
	"time"

	"rookery/internal/domain"
	"rookery/internal/security"
)

func setupProxyTestDB(t *testing.T) {
	t.Helper()
	t.Setenv("ROOKERY_SECRET_KEY", "test-secret-key")
	security.ResetProxyCipherForTests()
	t.Cleanup(security.ResetProxyCipherForTests)
	setupBatchTestDB(t)
}

func TestUpsertProxyHealthCreatesAndUpdates(t *testing.T) {
	setupProxyTestDB(t)

	record := domain.ProxyRecord{
		Host:     "10.0.0.1",
		Port:     8080,
		Protocol: "http",
	}
	if err := UpsertProxyHealth(record); err != nil {
		t.Fatalf("initial upsert: %v", err)
	}

	now := time.Now().UTC()
	latency := int64(120)
	record.ConsecutiveFailures = 2
	record.LastCheckedAt = &now
	record.LastLatencyMs = &latency
	record.LastError = "connection reset"
	if err := UpsertProxyHealth(record); err != nil {
		t.Fatalf("update upsert: %v", err)
	}

	records, err := LoadProxyRecords()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("loaded %d records, want 1 (upsert must not duplicate)", len(records))
	}
	got := records[0]
	if got.ConsecutiveFailures != 2 || got.LastError != "connection reset" {
		t.Fatalf("health not updated: failures=%d error=%q", got.ConsecutiveFailures, got.LastError)
	}
	if got.LastLatencyMs == nil || *got.LastLatencyMs != 120 {
		t.Fatalf("latency not persisted: %v", got.LastLatencyMs)
	}
}

func TestProxyCredentialsRoundTripEncrypted(t *testing.T) {
	setupProxyTestDB(t)

	record := domain.ProxyRecord{
		Host:     "10.0.0.2",
		Port:     1080,
		Protocol: "socks5",
		Username: "alice",
		Password: "s3cret",
	}
	if err := UpsertProxyHealth(record); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// The stored column must not hold the plaintext.
	var stored string
	if err := DB.Raw("SELECT password FROM proxy_records WHERE host = ?", "10.0.0.2").Scan(&stored).Error; err != nil {
		t.Fatalf("read raw column: %v", err)
	}
	if stored == "" || stored == "s3cret" {
		t.Fatalf("password column = %q, want ciphertext", stored)
	}

	records, err := LoadProxyRecords()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if records[0].Password != "s3cret" {
		t.Fatalf("decrypted password = %q", records[0].Password)
	}
}

func TestLoadProxyRecordsKeepsInsertionOrder(t *testing.T) {
	setupProxyTestDB(t)

	hosts := []string{"10.0.0.3", "10.0.0.1", "10.0.0.2"}
	for _, host := range hosts {
		if err := UpsertProxyHealth(domain.ProxyRecord{Host: host, Port: 8080, Protocol: "http"}); err != nil {
			t.Fatalf("upsert %s: %v", host, err)
		}
	}

	records, err := LoadProxyRecords()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for i, host := range hosts {
		if records[i].Host != host {
			t.Fatalf("record %d = %s, want %s", i, records[i].Host, host)
		}
	}
}
