package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

// Kind classifies a fetch failure.
type Kind int

const (
	// KindTimeout means the fetch did not finish within the load timeout.
	KindTimeout Kind = iota + 1

	// KindNetwork means the connection failed (DNS, refused, reset, proxy).
	KindNetwork

	// KindHTTP means the server answered with an error status.
	KindHTTP

	// KindRender means the page could not be rendered or parsed.
	KindRender
)

// String returns a short name for the kind.
func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindNetwork:
		return "network_error"
	case KindHTTP:
		return "http_error"
	case KindRender:
		return "render_error"
	default:
		return "unknown"
	}
}

// Error is the typed failure returned by Fetcher implementations.
type Error struct {
	// Kind is the failure class.
	Kind Kind

	// StatusCode is set when Kind is KindHTTP.
	StatusCode int

	// URL is the URL that was being fetched.
	URL string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Kind == KindHTTP:
		return fmt.Sprintf("fetch %s: http status %d", e.URL, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	default:
		return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the failure kind and HTTP status from err.
// Errors that are not a *Error are reported as KindRender.
func KindOf(err error) (Kind, int) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, fe.StatusCode
	}
	return KindRender, 0
}

// classify wraps a raw renderer error into a *Error.
func classify(rawURL string, err error) *Error {
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return &Error{Kind: kindFromError(err), URL: rawURL, Err: err}
}

// kindFromError maps transport and browser errors to a Kind.
func kindFromError(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	msg := err.Error()
	// Chrome reports navigation failures as net::ERR_* strings.
	if strings.Contains(msg, "net::ERR_TIMED_OUT") || strings.Contains(msg, "net::ERR_CONNECTION_TIMED_OUT") {
		return KindTimeout
	}
	if strings.Contains(msg, "net::ERR_") {
		return KindNetwork
	}

	var (
		opErr  *net.OpError
		dnsErr *net.DNSError
	)
	switch {
	case errors.Is(err, context.Canceled),
		errors.As(err, &opErr),
		errors.As(err, &dnsErr),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF):
		return KindNetwork
	}

	return KindRender
}
