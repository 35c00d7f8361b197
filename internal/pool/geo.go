package pool

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// GeoResolver maps a proxy host to an ISO country code. Resolvers return ""
// when they don't know; country stays best-effort metadata.
type GeoResolver interface {
	Country(host string) string
}

// NoopGeoResolver never knows.
type NoopGeoResolver struct{}

func (NoopGeoResolver) Country(string) string {
	return ""
}

// MaxMindResolver looks hosts up in a local GeoLite2/GeoIP2 country database.
type MaxMindResolver struct {
	reader *geoip2.Reader
}

func NewMaxMindResolver(path string) (*MaxMindResolver, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pool: open geoip database: %w", err)
	}
	return &MaxMindResolver{reader: reader}, nil
}

func (r *MaxMindResolver) Country(host string) string {
	ip := net.ParseIP(host)
	if ip == nil {
		// Hostname proxies would need a DNS round trip; not worth it for
		// advisory metadata.
		return ""
	}

	record, err := r.reader.Country(ip)
	if err != nil {
		return ""
	}
	return record.Country.IsoCode
}

func (r *MaxMindResolver) Close() error {
	return r.reader.Close()
}
