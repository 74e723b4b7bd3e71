package fetch

import (
	"bytes"
	"context"
	"errors"
	"mime"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout is the page load timeout used when none is configured.
const DefaultTimeout = 30 * time.Second

// Fetcher loads one URL and returns its outgoing links.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Result, error)
}

// Result is a successfully loaded page.
type Result struct {
	// URL is the URL that was requested.
	URL string

	// FinalURL is the URL after redirects.
	FinalURL string

	// StatusCode is the HTTP status of the document.
	StatusCode int

	// ContentType is the document media type.
	ContentType string

	// Title is the page title, if the document is HTML.
	Title string

	// Content is the decoded body.
	Content []byte

	// Links are absolute outgoing links in document order without duplicates.
	Links []string

	// Elapsed is the wall time spent loading the page.
	Elapsed time.Duration
}

// RenderedPage is what a Renderer produces for one navigation.
type RenderedPage struct {
	FinalURL    string
	StatusCode  int
	ContentType string
	Body        []byte
}

// Renderer loads a URL with the given user agent.
// Implementations should honor ctx; the Adapter enforces the timeout regardless.
type Renderer interface {
	Render(ctx context.Context, rawURL, userAgent string) (*RenderedPage, error)
}

// Adapter turns a Renderer into a Fetcher with typed errors and link extraction.
type Adapter struct {
	renderer  Renderer
	timeout   time.Duration
	userAgent func() string
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithTimeout sets the per-fetch timeout.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithUserAgent sets the function that picks a user agent for each fetch.
func WithUserAgent(fn func() string) Option {
	return func(a *Adapter) {
		if fn != nil {
			a.userAgent = fn
		}
	}
}

// NewAdapter returns an Adapter around r.
func NewAdapter(r Renderer, opts ...Option) *Adapter {
	a := &Adapter{
		renderer:  r,
		timeout:   DefaultTimeout,
		userAgent: func() string { return "" },
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type renderOutcome struct {
	page *RenderedPage
	err  error
}

// Fetch loads rawURL through the renderer.
// It returns a *Error on failure and never blocks longer than the timeout.
func (a *Adapter) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan renderOutcome, 1)
	ua := a.userAgent()
	go func() {
		page, err := a.renderer.Render(ctx, rawURL, ua)
		done <- renderOutcome{page: page, err: err}
	}()

	var out renderOutcome
	select {
	case out = <-done:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &Error{Kind: KindTimeout, URL: rawURL, Err: ctx.Err()}
		}
		return nil, &Error{Kind: KindNetwork, URL: rawURL, Err: ctx.Err()}
	}

	if out.err != nil {
		return nil, classify(rawURL, out.err)
	}
	if out.page == nil {
		return nil, &Error{Kind: KindRender, URL: rawURL, Err: errors.New("renderer returned no page")}
	}

	page := out.page
	if page.StatusCode >= http.StatusBadRequest {
		return nil, &Error{Kind: KindHTTP, StatusCode: page.StatusCode, URL: rawURL}
	}

	finalURL := page.FinalURL
	if finalURL == "" {
		finalURL = rawURL
	}
	result := &Result{
		URL:         rawURL,
		FinalURL:    finalURL,
		StatusCode:  page.StatusCode,
		ContentType: page.ContentType,
		Content:     page.Body,
		Links:       []string{},
	}

	if isHTML(page.ContentType, page.Body) {
		parser, err := NewParser(finalURL)
		if err != nil {
			return nil, &Error{Kind: KindRender, URL: rawURL, Err: err}
		}
		parsed, err := parser.Parse(bytes.NewReader(page.Body))
		if err != nil {
			return nil, &Error{Kind: KindRender, URL: rawURL, Err: err}
		}
		result.Title = parsed.Title
		result.Links = parsed.Links
	}
	result.Elapsed = time.Since(start)
	return result, nil
}

// isHTML reports whether the document should be parsed for links.
// An empty content type falls back to sniffing the body.
func isHTML(contentType string, body []byte) bool {
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}
