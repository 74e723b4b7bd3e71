package fetch

import (
	"context"
	"errors"
	"io"
	"net"
	"net/url"
	"time"
)

// Proxy preflight errors.
var (
	// ErrProxyWrongType is returned when the proxy accepts connections but
	// does not speak the protocol its URL scheme announces.
	ErrProxyWrongType = errors.New("proxy does not speak the configured protocol")

	// ErrProxyCannotConnect is returned when no TCP connection to the proxy
	// could be established.
	ErrProxyCannotConnect = errors.New("cannot connect to proxy")

	// ErrProxyTimeout is returned when the proxy did not answer in time.
	ErrProxyTimeout = errors.New("timeout connecting to proxy")

	// ErrInvalidProxyURL is returned for URLs without a host or with an
	// unsupported scheme.
	ErrInvalidProxyURL = errors.New("invalid proxy url: expected http, https, socks5 or socks5h scheme with host:port")
)

// ProxyStatus is the result of a proxy preflight check.
type ProxyStatus int

const (
	// ProxyStatusOK means the proxy answered as expected.
	ProxyStatusOK ProxyStatus = iota
	// ProxyStatusWrongType means something answered, but not a proxy of the configured type.
	ProxyStatusWrongType
	// ProxyStatusCannotConnect means the TCP connection failed.
	ProxyStatusCannotConnect
	// ProxyStatusTimeout means the check ran out of time.
	ProxyStatusTimeout
	// ProxyStatusInvalid means the proxy URL itself is unusable.
	ProxyStatusInvalid
)

// String returns a human-readable description of the status.
func (s ProxyStatus) String() string {
	switch s {
	case ProxyStatusOK:
		return "OK"
	case ProxyStatusWrongType:
		return "wrong type"
	case ProxyStatusCannotConnect:
		return "cannot connect"
	case ProxyStatusTimeout:
		return "timeout"
	case ProxyStatusInvalid:
		return "invalid url"
	default:
		return "unknown"
	}
}

// Err returns the sentinel error for the status, or nil if OK.
func (s ProxyStatus) Err() error {
	switch s {
	case ProxyStatusOK:
		return nil
	case ProxyStatusWrongType:
		return ErrProxyWrongType
	case ProxyStatusCannotConnect:
		return ErrProxyCannotConnect
	case ProxyStatusTimeout:
		return ErrProxyTimeout
	case ProxyStatusInvalid:
		return ErrInvalidProxyURL
	default:
		return errors.New("unknown proxy status")
	}
}

const (
	socks5Version      = 0x05
	socks5AuthNone     = 0x00
	socks5AuthPassword = 0x02
	socks5AuthNoAccept = 0xFF
)

// DefaultProxyCheckTimeout bounds CheckProxy when no timeout is given.
const DefaultProxyCheckTimeout = 10 * time.Second

// CheckProxy verifies that proxyURL is reachable before a crawl starts.
// HTTP(S) proxies only need to accept a TCP connection. SOCKS5 proxies must
// also complete the method negotiation, offering username/password auth
// when the URL carries credentials.
func CheckProxy(ctx context.Context, proxyURL string, timeout time.Duration) ProxyStatus {
	u, err := url.Parse(proxyURL)
	if err != nil || u.Host == "" || u.Port() == "" {
		return ProxyStatusInvalid
	}
	socks := false
	switch u.Scheme {
	case "socks5", "socks5h":
		socks = true
	case "http", "https":
	default:
		return ProxyStatusInvalid
	}

	if timeout <= 0 {
		timeout = DefaultProxyCheckTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", u.Host)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ProxyStatusTimeout
		}
		return ProxyStatusCannotConnect
	}
	defer conn.Close()

	if !socks {
		return ProxyStatusOK
	}
	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		return ProxyStatusCannotConnect
	}
	return socks5Greeting(conn, u.User != nil)
}

// socks5Greeting runs the method negotiation of RFC 1928 on conn.
func socks5Greeting(conn net.Conn, withPassword bool) ProxyStatus {
	hello := []byte{socks5Version, 0x01, socks5AuthNone}
	if withPassword {
		hello = []byte{socks5Version, 0x02, socks5AuthNone, socks5AuthPassword}
	}
	if _, err := conn.Write(hello); err != nil {
		return ProxyStatusCannotConnect
	}

	resp := make([]byte, 2)
	if _, err := io.ReadFull(conn, resp); err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return ProxyStatusTimeout
		}
		return ProxyStatusWrongType
	}
	if resp[0] != socks5Version || resp[1] == socks5AuthNoAccept {
		return ProxyStatusWrongType
	}
	if resp[1] == socks5AuthPassword && !withPassword {
		return ProxyStatusWrongType
	}
	return ProxyStatusOK
}
