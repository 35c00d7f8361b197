package support

import (
	"bytes"
	"net/http"
	"testing"
	"time"

	"rookery/internal/domain"
)

func TestSOCKS4ConnectFrameForIPTarget(t *testing.T) {
	record := domain.ProxyRecord{
		Host:     "proxy.example",
		Port:     1080,
		Protocol: ProtocolSOCKS4,
		Username: "alice",
		Password: "pw",
	}

	frame, err := socks4ConnectFrame(record, "93.184.216.34:443")
	if err != nil {
		t.Fatalf("build frame: %v", err)
	}

	want := []byte{
		0x04, 0x01, // version, CONNECT
		0x01, 0xBB, // port 443
		93, 184, 216, 34,
		'a', 'l', 'i', 'c', 'e', ':', 'p', 'w', 0x00,
	}
	if !bytes.Equal(frame, want) {
		t.Fatalf("frame = %v, want %v", frame, want)
	}
}

func TestSOCKS4ConnectFrameUsesSOCKS4aForHostnames(t *testing.T) {
	record := domain.ProxyRecord{Host: "proxy.example", Port: 1080, Protocol: ProtocolSOCKS4}

	frame, err := socks4ConnectFrame(record, "api.ipify.org:80")
	if err != nil {
		t.Fatalf("build frame: %v", err)
	}

	// Sentinel 0.0.0.1 address, empty user field, hostname trailing.
	want := append([]byte{0x04, 0x01, 0x00, 0x50, 0x00, 0x00, 0x00, 0x01, 0x00}, "api.ipify.org\x00"...)
	if !bytes.Equal(frame, want) {
		t.Fatalf("frame = %v, want %v", frame, want)
	}
}

func TestSOCKS4ConnectFrameRejectsBadTargets(t *testing.T) {
	record := domain.ProxyRecord{Host: "proxy.example", Port: 1080, Protocol: ProtocolSOCKS4}

	for _, target := range []string{"nohost", "host:notaport", "host:99999"} {
		if _, err := socks4ConnectFrame(record, target); err == nil {
			t.Fatalf("target %q should not build a frame", target)
		}
	}
}

func TestSOCKS4RefusedErrorMessages(t *testing.T) {
	err := &SOCKS4RefusedError{Code: socks4ReplyRejected}
	if err.Error() != "socks4 connect rejected" {
		t.Fatalf("message = %q", err.Error())
	}
	unknown := &SOCKS4RefusedError{Code: 0x01}
	if unknown.Error() != "socks4 connect failed with code 0x01" {
		t.Fatalf("message = %q", unknown.Error())
	}
}

func TestCreateTransportPerProtocol(t *testing.T) {
	httpRecord := domain.ProxyRecord{Host: "10.0.0.1", Port: 8080, Protocol: ProtocolHTTP, Username: "u", Password: "p"}
	transport, err := CreateTransport(httpRecord, 5*time.Second)
	if err != nil {
		t.Fatalf("http transport: %v", err)
	}
	if transport.Proxy == nil {
		t.Fatal("http transport missing proxy func")
	}
	if !transport.DisableKeepAlives {
		t.Fatal("keep-alives must be disabled")
	}
	proxyURL, err := transport.Proxy(&http.Request{})
	if err != nil {
		t.Fatalf("resolve proxy url: %v", err)
	}
	if proxyURL.Host != "10.0.0.1:8080" || proxyURL.User == nil {
		t.Fatalf("proxy url = %v", proxyURL)
	}

	for _, protocol := range []string{ProtocolSOCKS4, ProtocolSOCKS5} {
		record := domain.ProxyRecord{Host: "10.0.0.2", Port: 1080, Protocol: protocol}
		transport, err := CreateTransport(record, 5*time.Second)
		if err != nil {
			t.Fatalf("%s transport: %v", protocol, err)
		}
		if transport.Proxy != nil {
			t.Fatalf("%s transport should dial directly through the proxy, not set Proxy", protocol)
		}
		if transport.DialContext == nil {
			t.Fatalf("%s transport missing dialer", protocol)
		}
	}
}
