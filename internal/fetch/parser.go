package fetch

import (
	"io"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Parser extracts outgoing links from an HTML document.
//
// The document is parsed once with golang.org/x/net/html and queried with
// goquery. Links are gathered from several places because many sites hide
// navigation outside of plain anchors:
//  1. any element with an href attribute (a, area, some link rels)
//  2. data-* attributes holding absolute http(s) URLs
//  3. onclick handlers that assign window.location
//  4. meta refresh redirects
type Parser struct {
	// baseURL is the URL of the page being parsed, used for resolving relative URLs.
	baseURL *url.URL
}

// ParseResult contains what the crawler needs from a page.
type ParseResult struct {
	// Title is the page title from <title> tag.
	Title string

	// Links contains absolute URLs in document order, without duplicates.
	Links []string
}

// linkRels are the <link rel> values that point at navigable pages.
var linkRels = map[string]bool{
	"next":      true,
	"prev":      true,
	"canonical": true,
	"alternate": true,
}

var (
	// onclickRegex matches window.location.href = '...' and location = "..." forms.
	onclickRegex = regexp.MustCompile(`(?:window\.)?location(?:\.href)?\s*=\s*['"]([^'"]+)['"]`)

	// refreshRegex matches the url= part of a meta refresh content value.
	refreshRegex = regexp.MustCompile(`(?i)url\s*=\s*['"]?([^'";]+)`)
)

// NewParser creates a new HTML parser with the given base URL.
// The base URL is used to resolve relative links.
func NewParser(baseURL string) (*Parser, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	return &Parser{baseURL: u}, nil
}

// Parse parses HTML content and extracts the title and links.
func (p *Parser) Parse(content io.Reader) (*ParseResult, error) {
	root, err := html.Parse(content)
	if err != nil {
		return nil, err
	}
	doc := goquery.NewDocumentFromNode(root)

	// <base href> overrides the document URL for relative links.
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if ref, err := url.Parse(strings.TrimSpace(href)); err == nil {
			p.baseURL = p.baseURL.ResolveReference(ref)
		}
	}

	result := &ParseResult{
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
		Links: make([]string, 0),
	}
	seen := make(map[string]bool)
	add := func(raw string) {
		resolved := p.resolveURL(raw)
		if resolved == "" || seen[resolved] {
			return
		}
		seen[resolved] = true
		result.Links = append(result.Links, resolved)
	}

	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		n := s.Get(0)
		switch n.Data {
		case "base":
			return
		case "link":
			if !linkRels[strings.ToLower(getAttr(n, "rel"))] {
				return
			}
		case "meta":
			if strings.EqualFold(getAttr(n, "http-equiv"), "refresh") {
				if m := refreshRegex.FindStringSubmatch(getAttr(n, "content")); m != nil {
					add(m[1])
				}
			}
			return
		}

		if href := getAttr(n, "href"); href != "" {
			add(href)
		}
		for _, attr := range n.Attr {
			if strings.HasPrefix(attr.Key, "data-") && isAbsoluteHTTP(attr.Val) {
				add(attr.Val)
			}
		}
		if onclick := getAttr(n, "onclick"); onclick != "" {
			for _, m := range onclickRegex.FindAllStringSubmatch(onclick, -1) {
				add(m[1])
			}
		}
	})

	return result, nil
}

// resolveURL resolves a relative URL against the base URL.
// Non-navigable schemes and bare fragments resolve to "".
func (p *Parser) resolveURL(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}

	lower := strings.ToLower(href)
	if strings.HasPrefix(lower, "javascript:") ||
		strings.HasPrefix(lower, "mailto:") ||
		strings.HasPrefix(lower, "tel:") ||
		strings.HasPrefix(lower, "data:") ||
		strings.HasPrefix(href, "#") {
		return ""
	}

	u, err := url.Parse(href)
	if err != nil {
		return ""
	}

	resolved := p.baseURL.ResolveReference(u)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	resolved.Fragment = ""
	resolved.RawFragment = ""
	return resolved.String()
}

// isAbsoluteHTTP reports whether v looks like an absolute http(s) URL.
func isAbsoluteHTTP(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://")
}

// getAttr retrieves an attribute value from an HTML node.
func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}
