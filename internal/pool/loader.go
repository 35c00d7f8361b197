package pool

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"rookery/internal/domain"
	"rookery/internal/support"
)

var ErrProxyEntryInvalid = errors.New("invalid proxy entry")

// Descriptor is one proxy in a JSON pool file.
type Descriptor struct {
	Host     string `json:"host"`
	Port     uint16 `json:"port"`
	Protocol string `json:"protocol,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Country  string `json:"country,omitempty"`
}

// LoadFromFile reads a JSON array of descriptors.
func LoadFromFile(path string) ([]domain.ProxyRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pool: read %s: %w", path, err)
	}

	var descriptors []Descriptor
	if err := json.Unmarshal(data, &descriptors); err != nil {
		return nil, fmt.Errorf("pool: parse %s: %w", path, err)
	}

	records := make([]domain.ProxyRecord, 0, len(descriptors))
	for idx, d := range descriptors {
		if d.Host == "" || d.Port == 0 {
			return nil, fmt.Errorf("pool: %s entry %d: %w: host and port are required", path, idx, ErrProxyEntryInvalid)
		}
		records = append(records, domain.ProxyRecord{
			Host:     strings.TrimSpace(d.Host),
			Port:     d.Port,
			Protocol: support.NormalizeProxyProtocol(d.Protocol),
			Username: d.Username,
			Password: d.Password,
			Country:  strings.ToUpper(strings.TrimSpace(d.Country)),
		})
	}
	return records, nil
}

// ParseList parses plain-text entries, skipping blank lines and comments.
func ParseList(entries []string) ([]domain.ProxyRecord, error) {
	records := make([]domain.ProxyRecord, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" || strings.HasPrefix(entry, "#") {
			continue
		}
		record, err := ParseEntry(entry)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// ParseEntry parses one proxy in host:port[:user[:pass]] form, with an
// optional scheme prefix (socks5://host:port). Missing schemes default to
// http.
func ParseEntry(entry string) (domain.ProxyRecord, error) {
	protocol := ""
	rest := entry
	if scheme, tail, found := strings.Cut(entry, "://"); found {
		if !support.IsValidProxyProtocol(scheme) {
			return domain.ProxyRecord{}, fmt.Errorf("pool: %q: %w: unknown scheme %q", entry, ErrProxyEntryInvalid, scheme)
		}
		protocol = scheme
		rest = tail
	}

	parts := strings.Split(rest, ":")
	if len(parts) < 2 || len(parts) > 4 {
		return domain.ProxyRecord{}, fmt.Errorf("pool: %q: %w: want host:port[:user[:pass]]", entry, ErrProxyEntryInvalid)
	}

	host := strings.TrimSpace(parts[0])
	if host == "" {
		return domain.ProxyRecord{}, fmt.Errorf("pool: %q: %w: empty host", entry, ErrProxyEntryInvalid)
	}

	port, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 16)
	if err != nil || port == 0 {
		return domain.ProxyRecord{}, fmt.Errorf("pool: %q: %w: bad port", entry, ErrProxyEntryInvalid)
	}

	record := domain.ProxyRecord{
		Host:     host,
		Port:     uint16(port),
		Protocol: support.NormalizeProxyProtocol(protocol),
	}
	if len(parts) >= 3 {
		record.Username = parts[2]
	}
	if len(parts) == 4 {
		record.Password = parts[3]
	}
	return record, nil
}
