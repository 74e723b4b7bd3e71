package fetch

import (
	"slices"
	"strings"
	"testing"
)

func TestParser(t *testing.T) {
	t.Parallel()

	parse := func(t *testing.T, base, doc string) *ParseResult {
		t.Helper()
		parser, err := NewParser(base)
		if err != nil {
			t.Fatalf("failed to create parser: %v", err)
		}
		result, err := parser.Parse(strings.NewReader(doc))
		if err != nil {
			t.Fatalf("failed to parse: %v", err)
		}
		return result
	}

	t.Run("extracts title", func(t *testing.T) {
		t.Parallel()

		result := parse(t, "https://example.com/", `<html><head><title> Test Page </title></head><body></body></html>`)
		if result.Title != "Test Page" {
			t.Errorf("expected title 'Test Page', got %q", result.Title)
		}
	})

	t.Run("resolves relative links in document order", func(t *testing.T) {
		t.Parallel()

		doc := `<html><body>
			<a href="/a">A</a>
			<a href="b">B</a>
			<a href="https://other.example.org/c">C</a>
			<a href="/a">A again</a>
		</body></html>`
		result := parse(t, "https://example.com/dir/page", doc)

		want := []string{
			"https://example.com/a",
			"https://example.com/dir/b",
			"https://other.example.org/c",
		}
		if !slices.Equal(result.Links, want) {
			t.Errorf("Links = %v, want %v", result.Links, want)
		}
	})

	t.Run("honors base href", func(t *testing.T) {
		t.Parallel()

		doc := `<html><head><base href="https://example.com/docs/"></head>
			<body><a href="intro">Intro</a></body></html>`
		result := parse(t, "https://example.com/other/page", doc)

		if !slices.Equal(result.Links, []string{"https://example.com/docs/intro"}) {
			t.Errorf("Links = %v", result.Links)
		}
	})

	t.Run("skips non-navigable links", func(t *testing.T) {
		t.Parallel()

		doc := `<html><body>
			<a href="javascript:void(0)">js</a>
			<a href="mailto:someone@example.com">mail</a>
			<a href="tel:+1234">tel</a>
			<a href="data:text/plain,hi">data</a>
			<a href="#top">top</a>
			<a href="ftp://example.com/file">ftp</a>
			<a href="/ok">ok</a>
		</body></html>`
		result := parse(t, "https://example.com/", doc)

		if !slices.Equal(result.Links, []string{"https://example.com/ok"}) {
			t.Errorf("Links = %v, want only /ok", result.Links)
		}
	})

	t.Run("strips fragments", func(t *testing.T) {
		t.Parallel()

		result := parse(t, "https://example.com/", `<a href="/page#section">x</a><a href="/page">y</a>`)
		if !slices.Equal(result.Links, []string{"https://example.com/page"}) {
			t.Errorf("Links = %v", result.Links)
		}
	})

	t.Run("finds links outside anchors", func(t *testing.T) {
		t.Parallel()

		doc := `<html><head>
			<link rel="stylesheet" href="/style.css">
			<link rel="next" href="/page/2">
			<meta http-equiv="refresh" content="5; url=/moved">
		</head><body>
			<div data-url="https://example.com/from-data" data-count="3"></div>
			<button onclick="window.location.href='/from-onclick'">go</button>
			<map><area href="/from-area"></map>
		</body></html>`
		result := parse(t, "https://example.com/", doc)

		for _, want := range []string{
			"https://example.com/page/2",
			"https://example.com/moved",
			"https://example.com/from-data",
			"https://example.com/from-onclick",
			"https://example.com/from-area",
		} {
			if !slices.Contains(result.Links, want) {
				t.Errorf("expected %s in %v", want, result.Links)
			}
		}
		if slices.Contains(result.Links, "https://example.com/style.css") {
			t.Error("stylesheet links must not be followed")
		}
	})

	t.Run("returns empty slice for page without links", func(t *testing.T) {
		t.Parallel()

		result := parse(t, "https://example.com/", `<p>nothing here</p>`)
		if result.Links == nil || len(result.Links) != 0 {
			t.Errorf("expected empty non-nil slice, got %#v", result.Links)
		}
	})
}

func TestNewParser_InvalidURL(t *testing.T) {
	t.Parallel()

	if _, err := NewParser("://bad"); err == nil {
		t.Error("expected error for invalid base URL")
	}
}
