package fetch

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/net/html/charset"
	"golang.org/x/net/proxy"
	"golang.org/x/text/transform"
)

// DefaultMaxBodyBytes caps how much of a response body is read.
const DefaultMaxBodyBytes int64 = 10 * 1024 * 1024

// maxRedirects bounds redirect chains.
const maxRedirects = 10

// HTTPRenderer loads pages with a plain HTTP client. It does not execute JavaScript.
type HTTPRenderer struct {
	client       *http.Client
	maxBodyBytes int64
	stealth      bool
}

// HTTPOption configures an HTTPRenderer.
type HTTPOption func(*httpSettings)

type httpSettings struct {
	cookie       string
	headers      map[string]string
	proxyURL     string
	stealth      bool
	maxBodyBytes int64
	transport    http.RoundTripper
}

// WithCookie sends the raw cookie string with every request.
func WithCookie(cookie string) HTTPOption {
	return func(s *httpSettings) { s.cookie = cookie }
}

// WithHeaders sends extra headers with every request.
func WithHeaders(headers map[string]string) HTTPOption {
	return func(s *httpSettings) { s.headers = headers }
}

// WithProxy routes requests through an HTTP(S) or socks5:// proxy.
func WithProxy(proxyURL string) HTTPOption {
	return func(s *httpSettings) { s.proxyURL = proxyURL }
}

// WithStealthHeaders adds the headers a desktop browser would send.
func WithStealthHeaders(enabled bool) HTTPOption {
	return func(s *httpSettings) { s.stealth = enabled }
}

// WithMaxBodyBytes caps the body size.
func WithMaxBodyBytes(n int64) HTTPOption {
	return func(s *httpSettings) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

// WithTransport replaces the base transport. Used by tests.
func WithTransport(rt http.RoundTripper) HTTPOption {
	return func(s *httpSettings) { s.transport = rt }
}

// NewHTTPRenderer creates an HTTPRenderer.
func NewHTTPRenderer(opts ...HTTPOption) (*HTTPRenderer, error) {
	s := &httpSettings{maxBodyBytes: DefaultMaxBodyBytes}
	for _, opt := range opts {
		opt(s)
	}

	base := s.transport
	if base == nil {
		transport := &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     30 * time.Second,
			DisableCompression:  true,
		}
		if err := configureProxy(transport, s.proxyURL); err != nil {
			return nil, err
		}
		base = transport
	}

	jar, _ := cookiejar.New(nil) //nolint:errcheck // cookiejar.New only fails with invalid options

	client := &http.Client{
		Transport: &headerInjectingTransport{
			base:    base,
			cookie:  s.cookie,
			headers: s.headers,
		},
		Jar: jar,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}

	return &HTTPRenderer{
		client:       client,
		maxBodyBytes: s.maxBodyBytes,
		stealth:      s.stealth,
	}, nil
}

// configureProxy points transport at proxyURL. socks5 proxies go through
// golang.org/x/net/proxy, everything else through http.ProxyURL.
func configureProxy(transport *http.Transport, proxyURL string) error {
	if proxyURL == "" {
		return nil
	}
	u, err := url.Parse(proxyURL)
	if err != nil {
		return fmt.Errorf("parse proxy url: %w", err)
	}

	switch u.Scheme {
	case "socks5", "socks5h":
		dialer, err := proxy.FromURL(u, proxy.Direct)
		if err != nil {
			return fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		transport.Proxy = nil
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	case "http", "https":
		transport.Proxy = http.ProxyURL(u)
	default:
		return fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
	return nil
}

// Render performs a GET request and returns the decoded body.
func (r *HTTPRenderer) Render(ctx context.Context, rawURL, userAgent string) (*RenderedPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &Error{Kind: KindRender, URL: rawURL, Err: fmt.Errorf("build request: %w", err)}
	}

	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	if r.stealth {
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")
		req.Header.Set("Upgrade-Insecure-Requests", "1")
		req.Header.Set("Sec-Fetch-Dest", "document")
		req.Header.Set("Sec-Fetch-Mode", "navigate")
		req.Header.Set("Sec-Fetch-Site", "none")
		req.Header.Set("Sec-Fetch-User", "?1")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	contentType := resp.Header.Get("Content-Type")

	page := &RenderedPage{
		FinalURL:    finalURL,
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return page, nil
	}

	body, err := r.readBody(resp)
	if err != nil {
		return nil, err
	}
	if isHTML(contentType, body) {
		body = decodeCharset(body, contentType)
	}
	page.Body = body
	return page, nil
}

// readBody decompresses and reads at most maxBodyBytes of the body.
// Oversized bodies are truncated.
func (r *HTTPRenderer) readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		defer gz.Close()
		reader = gz
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		defer fl.Close()
		reader = fl
	}

	body, err := io.ReadAll(io.LimitReader(reader, r.maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// decodeCharset converts body to UTF-8 using the declared or sniffed charset.
// The original bytes are returned when decoding fails.
func decodeCharset(body []byte, contentType string) []byte {
	enc, name, _ := charset.DetermineEncoding(body, contentType)
	if name == "utf-8" {
		return body
	}
	decoded, err := io.ReadAll(transform.NewReader(bytes.NewReader(body), enc.NewDecoder()))
	if err != nil {
		return body
	}
	return decoded
}

// headerInjectingTransport wraps an http.RoundTripper to inject
// custom headers and cookies into every request.
type headerInjectingTransport struct {
	base    http.RoundTripper
	cookie  string
	headers map[string]string
}

// RoundTrip implements http.RoundTripper.
func (t *headerInjectingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid modifying the original
	clone := req.Clone(req.Context())

	if t.cookie != "" {
		if existing := clone.Header.Get("Cookie"); existing != "" {
			clone.Header.Set("Cookie", existing+"; "+t.cookie)
		} else {
			clone.Header.Set("Cookie", t.cookie)
		}
	}

	for key, value := range t.headers {
		clone.Header.Set(key, value)
	}

	return t.base.RoundTrip(clone)
}
