package pool

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestParseEntryForms(t *testing.T) {
	tests := []struct {
		entry    string
		host     string
		port     uint16
		protocol string
		username string
		password string
	}{
		{"10.0.0.1:8080", "10.0.0.1", 8080, "http", "", ""},
		{"10.0.0.1:8080:alice", "10.0.0.1", 8080, "http", "alice", ""},
		{"10.0.0.1:8080:alice:s3cret", "10.0.0.1", 8080, "http", "alice", "s3cret"},
		{"socks5://10.0.0.2:1080", "10.0.0.2", 1080, "socks5", "", ""},
		{"SOCKS4://10.0.0.3:1080", "10.0.0.3", 1080, "socks4", "", ""},
		{"https://proxy.example:443:bob:pw", "proxy.example", 443, "https", "bob", "pw"},
	}

	for _, tc := range tests {
		rec, err := ParseEntry(tc.entry)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.entry, err)
		}
		if rec.Host != tc.host || rec.Port != tc.port || rec.Protocol != tc.protocol {
			t.Fatalf("parse %q = %s:%d/%s", tc.entry, rec.Host, rec.Port, rec.Protocol)
		}
		if rec.Username != tc.username || rec.Password != tc.password {
			t.Fatalf("parse %q credentials = %q/%q", tc.entry, rec.Username, rec.Password)
		}
	}
}

func TestParseEntryRejectsGarbage(t *testing.T) {
	for _, entry := range []string{
		"",
		"justahost",
		"host:notaport",
		"host:0",
		"host:99999",
		"a:b:c:d:e",
		"gopher://host:70",
	} {
		if _, err := ParseEntry(entry); !errors.Is(err, ErrProxyEntryInvalid) {
			t.Fatalf("parse %q: err = %v, want ErrProxyEntryInvalid", entry, err)
		}
	}
}

func TestParseListSkipsBlanksAndComments(t *testing.T) {
	records, err := ParseList([]string{
		"10.0.0.1:8080",
		"",
		"# staging proxies below",
		"socks5://10.0.0.2:1080",
		"   ",
	})
	if err != nil {
		t.Fatalf("parse list: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("parsed %d records, want 2", len(records))
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxies.json")
	content := `[
		{"host": "10.0.0.1", "port": 8080},
		{"host": "10.0.0.2", "port": 1080, "protocol": "SOCKS5", "username": "alice", "password": "pw", "country": "de"}
	]`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	records, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("loaded %d records, want 2", len(records))
	}
	if records[0].Protocol != "http" {
		t.Fatalf("default protocol = %q, want http", records[0].Protocol)
	}
	if records[1].Protocol != "socks5" || records[1].Country != "DE" {
		t.Fatalf("record = %+v, want normalised socks5/DE", records[1])
	}
}

func TestLoadFromFileRejectsIncompleteEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxies.json")
	if err := os.WriteFile(path, []byte(`[{"host": "10.0.0.1"}]`), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := LoadFromFile(path); !errors.Is(err, ErrProxyEntryInvalid) {
		t.Fatalf("err = %v, want ErrProxyEntryInvalid", err)
	}
}
