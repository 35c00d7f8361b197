package support

import "strings"

const (
	ProtocolHTTP   = "http"
	ProtocolHTTPS  = "https"
	ProtocolSOCKS4 = "socks4"
	ProtocolSOCKS5 = "socks5"
)

var proxyProtocolSet = map[string]struct{}{
	ProtocolHTTP:   {},
	ProtocolHTTPS:  {},
	ProtocolSOCKS4: {},
	ProtocolSOCKS5: {},
}

func NormalizeProxyProtocol(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if _, ok := proxyProtocolSet[value]; ok {
		return value
	}
	return ProtocolHTTP
}

func IsValidProxyProtocol(value string) bool {
	_, ok := proxyProtocolSet[strings.ToLower(strings.TrimSpace(value))]
	return ok
}

func IsSocksProtocol(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case ProtocolSOCKS4, ProtocolSOCKS5:
		return true
	default:
		return false
	}
}
