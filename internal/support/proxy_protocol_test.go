package support

import "testing"

func TestNormalizeProxyProtocol(t *testing.T) {
	tests := map[string]string{
		"http":    ProtocolHTTP,
		" HTTPS ": ProtocolHTTPS,
		"SOCKS5":  ProtocolSOCKS5,
		"socks4":  ProtocolSOCKS4,
		"":        ProtocolHTTP,
		"gopher":  ProtocolHTTP,
	}
	for input, want := range tests {
		if got := NormalizeProxyProtocol(input); got != want {
			t.Fatalf("normalize %q = %q, want %q", input, got, want)
		}
	}
}

func TestIsValidProxyProtocol(t *testing.T) {
	for _, valid := range []string{"http", "https", "socks4", "SOCKS5"} {
		if !IsValidProxyProtocol(valid) {
			t.Fatalf("%q should be valid", valid)
		}
	}
	for _, invalid := range []string{"", "ftp", "socks"} {
		if IsValidProxyProtocol(invalid) {
			t.Fatalf("%q should be invalid", invalid)
		}
	}
}

func TestIsSocksProtocol(t *testing.T) {
	if !IsSocksProtocol("socks4") || !IsSocksProtocol("SOCKS5") {
		t.Fatal("socks protocols not detected")
	}
	if IsSocksProtocol("http") || IsSocksProtocol("https") {
		t.Fatal("http protocols misdetected as socks")
	}
}
