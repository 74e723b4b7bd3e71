package frontier

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/PuerkitoBio/purell"
)

const normalizeFlags = purell.FlagLowercaseScheme |
	purell.FlagLowercaseHost |
	purell.FlagUppercaseEscapes |
	purell.FlagDecodeUnnecessaryEscapes |
	purell.FlagEncodeNecessaryEscapes |
	purell.FlagRemoveDefaultPort |
	purell.FlagRemoveEmptyQuerySeparator |
	purell.FlagRemoveDotSegments |
	purell.FlagRemoveDuplicateSlashes |
	purell.FlagRemoveEmptyPortSeparator |
	purell.FlagRemoveUnnecessaryHostDots |
	purell.FlagRemoveFragment |
	purell.FlagSortQuery

// Normalizer maps equivalent URL spellings to one canonical string.
type Normalizer struct {
	// KeepQueryParams, when non-empty, drops every query parameter not listed.
	KeepQueryParams []string
}

// Normalize returns the canonical form of rawURL.
//
// The scheme and host are lowercased, escapes and dot segments are cleaned,
// the default port and fragment are removed and the query is sorted. A
// trailing slash is removed except on the root path, which is always "/".
func (n Normalizer) Normalize(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidURL, rawURL, err)
	}
	if u.Host == "" && u.Scheme == "" && u.Path != "" && !strings.HasPrefix(u.Path, "/") {
		// "example.com/path" without a scheme
		u, err = url.Parse("https://" + strings.TrimSpace(rawURL))
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrInvalidURL, rawURL, err)
		}
	}
	scheme := strings.ToLower(u.Scheme)
	if (scheme != "http" && scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %s", ErrInvalidURL, rawURL)
	}

	if len(n.KeepQueryParams) > 0 && u.RawQuery != "" {
		u.RawQuery = n.filterQuery(u.Query()).Encode()
	}

	out, err := url.Parse(purell.NormalizeURL(u, normalizeFlags))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidURL, rawURL, err)
	}
	if len(out.Path) > 1 {
		out.Path = strings.TrimRight(out.Path, "/")
		if out.Path == "" {
			out.Path = "/"
		}
		out.RawPath = ""
	}
	if out.Path == "" {
		out.Path = "/"
	}
	out.User = nil
	return out.String(), nil
}

func (n Normalizer) filterQuery(q url.Values) url.Values {
	kept := url.Values{}
	for key, values := range q {
		if slices.Contains(n.KeepQueryParams, key) {
			kept[key] = values
		}
	}
	return kept
}
