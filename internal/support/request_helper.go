package support

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/net/proxy"

	"rookery/internal/domain"
)

// CreateTransport builds an http.Transport that routes every request through
// the given proxy record. Keep-alives are disabled: each unit of work and each
// health probe gets a fresh connection so one stuck socket cannot poison later
// attempts.
func CreateTransport(record domain.ProxyRecord, timeout time.Duration) (*http.Transport, error) {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 0,
		}).DialContext,
		DisableKeepAlives:     true,
		MaxIdleConns:          0,
		MaxIdleConnsPerHost:   0,
		IdleConnTimeout:       0,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	switch NormalizeProxyProtocol(record.Protocol) {
	case ProtocolHTTP, ProtocolHTTPS:
		proxyURL := &url.URL{
			Scheme: "http",
			Host:   record.Address(),
		}
		if record.HasAuth() {
			proxyURL.User = url.UserPassword(record.Username, record.Password)
		}
		transport.Proxy = http.ProxyURL(proxyURL)

	case ProtocolSOCKS5:
		var auth *proxy.Auth
		if record.HasAuth() {
			auth = &proxy.Auth{User: record.Username, Password: record.Password}
		}
		socksDialer, err := proxy.SOCKS5("tcp", record.Address(), auth, &net.Dialer{
			Timeout: timeout,
		})
		if err != nil {
			return nil, err
		}
		contextDialer, ok := socksDialer.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("socks5 dialer for %s lacks context support", record.Address())
		}
		transport.DialContext = contextDialer.DialContext

	case ProtocolSOCKS4:
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialSOCKS4(ctx, record, addr, timeout)
		}

	default:
		return nil, fmt.Errorf("unsupported proxy protocol %q", record.Protocol)
	}

	return transport, nil
}

// SOCKS4 reply codes, per the original protocol note.
const (
	socks4Version        = 0x04
	socks4CmdConnect     = 0x01
	socks4ReplyGranted   = 0x5A
	socks4ReplyRejected  = 0x5B
	socks4ReplyNoIdentd  = 0x5C
	socks4ReplyBadIdentd = 0x5D
)

// SOCKS4RefusedError reports a proxy that answered the handshake but refused
// the connect.
type SOCKS4RefusedError struct {
	Code byte
}

func (e *SOCKS4RefusedError) Error() string {
	switch e.Code {
	case socks4ReplyRejected:
		return "socks4 connect rejected"
	case socks4ReplyNoIdentd:
		return "socks4 proxy could not reach identd"
	case socks4ReplyBadIdentd:
		return "socks4 identd user mismatch"
	default:
		return fmt.Sprintf("socks4 connect failed with code %#02x", e.Code)
	}
}

// socks4ConnectFrame renders the CONNECT request for the target. Hostname
// targets use the SOCKS4a extension: the sentinel address 0.0.0.1 with the
// hostname trailing after the user field.
func socks4ConnectFrame(record domain.ProxyRecord, target string) ([]byte, error) {
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		return nil, fmt.Errorf("socks4 target %q: %w", target, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("socks4 target port %q: %w", portStr, err)
	}

	frame := make([]byte, 0, 16+len(host))
	frame = append(frame, socks4Version, socks4CmdConnect)
	frame = binary.BigEndian.AppendUint16(frame, uint16(port))

	hostname := ""
	if ip4 := net.ParseIP(host).To4(); ip4 != nil {
		frame = append(frame, ip4...)
	} else {
		frame = append(frame, 0x00, 0x00, 0x00, 0x01)
		hostname = host
	}

	if record.Username != "" {
		frame = append(frame, record.Username...)
		if record.Password != "" {
			frame = append(frame, ':')
			frame = append(frame, record.Password...)
		}
	}
	frame = append(frame, 0x00)

	if hostname != "" {
		frame = append(frame, hostname...)
		frame = append(frame, 0x00)
	}
	return frame, nil
}

func dialSOCKS4(ctx context.Context, record domain.ProxyRecord, target string, timeout time.Duration) (net.Conn, error) {
	frame, err := socks4ConnectFrame(record, target)
	if err != nil {
		return nil, err
	}

	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", record.Address())
	if err != nil {
		return nil, err
	}

	fail := func(err error) (net.Conn, error) {
		_ = conn.Close()
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}

	if _, err := conn.Write(frame); err != nil {
		return fail(err)
	}

	// Fixed 8-byte reply: version null, code, then an ignored port and address.
	var reply [8]byte
	if _, err := io.ReadFull(conn, reply[:]); err != nil {
		return fail(err)
	}
	if reply[1] != socks4ReplyGranted {
		return fail(&SOCKS4RefusedError{Code: reply[1]})
	}

	_ = conn.SetDeadline(time.Time{})
	return conn, nil
}
