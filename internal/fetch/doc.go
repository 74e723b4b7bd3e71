// Package fetch loads a single page and extracts its outgoing links.
//
// # Components
//
//   - Adapter: the Fetcher used by the crawler. It enforces the load timeout,
//     maps failures to a Kind and parses HTML bodies for links.
//   - HTTPRenderer: plain net/http client with optional cookie, headers,
//     proxy (HTTP or SOCKS5), compressed bodies and charset transcoding.
//   - ChromeRenderer: headless Chrome via chromedp for sites that build
//     their navigation in JavaScript.
//   - Parser: link extraction over golang.org/x/net/html and goquery.
//
// # Errors
//
// Every failure returned by Adapter.Fetch is a *Error. KindOf reports the
// Kind and HTTP status of any error, treating untyped errors as KindRender.
//
// # Usage
//
//	r, err := fetch.NewHTTPRenderer(fetch.WithStealthHeaders(true))
//	f := fetch.NewAdapter(r, fetch.WithTimeout(30*time.Second))
//	res, err := f.Fetch(ctx, "https://example.com/")
package fetch
