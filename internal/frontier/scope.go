package frontier

import (
	"net/url"
	"path"
	"path/filepath"
	"slices"
	"strings"
)

// DefaultSkipExtensions are file types that are never queued.
var DefaultSkipExtensions = []string{".pdf", ".jpg", ".jpeg", ".png", ".gif", ".zip", ".mp3", ".mp4"}

// Scope decides whether a URL belongs to the crawl target.
type Scope struct {
	host       string
	pathPrefix string

	skipExtensions []string
	ignorePatterns []string
	followPatterns []string
}

// ScopeOption configures a Scope.
type ScopeOption func(*Scope)

// WithSkipExtensions replaces the skipped extension list.
func WithSkipExtensions(exts []string) ScopeOption {
	return func(s *Scope) {
		s.skipExtensions = make([]string, 0, len(exts))
		for _, ext := range exts {
			ext = strings.ToLower(strings.TrimSpace(ext))
			if ext == "" {
				continue
			}
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			s.skipExtensions = append(s.skipExtensions, ext)
		}
	}
}

// WithIgnorePatterns sets URL path patterns to skip.
// Patterns use glob syntax (e.g., "/admin/*", "*.pdf", "/logout*").
func WithIgnorePatterns(patterns []string) ScopeOption {
	return func(s *Scope) { s.ignorePatterns = patterns }
}

// WithFollowPatterns restricts the scope to matching URL paths.
// Empty means all paths are allowed (subject to ignore patterns).
func WithFollowPatterns(patterns []string) ScopeOption {
	return func(s *Scope) { s.followPatterns = patterns }
}

// NewScope builds a scope from a site path such as "example.com" or
// "https://example.com/blog". The scheme is optional.
func NewScope(sitePath string, opts ...ScopeOption) (*Scope, error) {
	sitePath = strings.TrimSpace(sitePath)
	if sitePath == "" {
		return nil, ErrEmptySite
	}
	if !strings.Contains(sitePath, "://") {
		sitePath = "https://" + sitePath
	}
	u, err := url.Parse(sitePath)
	if err != nil || u.Host == "" {
		return nil, ErrInvalidURL
	}

	s := &Scope{
		host:           strings.TrimPrefix(strings.ToLower(u.Hostname()), "www."),
		pathPrefix:     strings.TrimRight(u.Path, "/"),
		skipExtensions: DefaultSkipExtensions,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Host returns the site host without a www. prefix.
func (s *Scope) Host() string {
	return s.host
}

// Contains reports whether rawURL is inside the scope.
func (s *Scope) Contains(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if !s.sameSite(u.Hostname()) {
		return false
	}

	p := u.Path
	if p == "" {
		p = "/"
	}
	if !s.underPrefix(p) {
		return false
	}
	if slices.Contains(s.skipExtensions, strings.ToLower(path.Ext(p))) {
		return false
	}
	return s.shouldCrawl(p)
}

// sameSite accepts the site host and its www. variant in either direction.
func (s *Scope) sameSite(host string) bool {
	host = strings.ToLower(host)
	return host == s.host || host == "www."+s.host
}

// underPrefix is segment-aware: "/blog" covers "/blog" and "/blog/x" but not "/blogger".
func (s *Scope) underPrefix(p string) bool {
	if s.pathPrefix == "" {
		return true
	}
	return p == s.pathPrefix || strings.HasPrefix(p, s.pathPrefix+"/")
}

// shouldCrawl checks the ignore and follow patterns.
//
// Logic:
//  1. If the path matches any ignore pattern, skip it
//  2. If follow patterns are set and the path matches none, skip it
//  3. Otherwise, crawl it
func (s *Scope) shouldCrawl(p string) bool {
	for _, pattern := range s.ignorePatterns {
		if matchPattern(pattern, p) {
			return false
		}
	}

	if len(s.followPatterns) == 0 {
		return true
	}
	for _, pattern := range s.followPatterns {
		if matchPattern(pattern, p) {
			return true
		}
	}
	return false
}

// matchPattern checks if a path matches a glob pattern.
// Patterns can use:
//   - * to match any sequence of non-separator characters
//   - ? to match any single character
//   - a trailing /* to match everything below a directory
//
// Examples:
//   - "/admin/*" matches "/admin/dashboard", "/admin/users/1"
//   - "*.pdf" matches "/docs/file.pdf"
//   - "/api/v?" matches "/api/v1", "/api/v2"
func matchPattern(pattern, p string) bool {
	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		if strings.HasPrefix(p, prefix+"/") || p == prefix {
			return true
		}
	}

	if strings.HasPrefix(pattern, "*.") && strings.HasSuffix(p, strings.TrimPrefix(pattern, "*")) {
		return true
	}

	if matched, err := filepath.Match(pattern, p); err == nil && matched {
		return true
	}

	// Bare patterns like "logout*" match against the last segment.
	if strings.Contains(pattern, "*") && !strings.Contains(pattern, "/") {
		if matched, err := filepath.Match(pattern, path.Base(p)); err == nil && matched {
			return true
		}
	}

	return false
}
