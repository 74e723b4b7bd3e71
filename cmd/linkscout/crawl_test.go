package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/nao1215/linkscout/internal/config"
	"github.com/nao1215/linkscout/internal/fetch"
	"github.com/nao1215/linkscout/internal/model"
	"github.com/nao1215/linkscout/internal/pipeline"
	"github.com/nao1215/linkscout/internal/report"
)

// parseCrawl parses args as "linkscout crawl <args>" and returns the bound
// viper instance and the positional arguments.
func parseCrawl(t *testing.T, args ...string) (*viper.Viper, []string) {
	t.Helper()

	root := NewRootCmd()
	cmd, rest, err := root.Find(append([]string{"crawl"}, args...))
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if err := cmd.ParseFlags(rest); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}
	v, err := newViper(cmd)
	if err != nil {
		t.Fatal(err)
	}
	return v, cmd.Flags().Args()
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".linkscout")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const precedenceConfig = `crawl:
  timeout: 10s
  maxPages: 15
sites:
  example.com:
    maxPages: 20
    cookie: "a=b"
`

func TestBuildConfig(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, precedenceConfig)

	t.Run("defaults without file entry", func(t *testing.T) {
		t.Parallel()

		v, args := parseCrawl(t, "-c", path, "https://other.org/")
		cfg, err := buildConfig(v, args)
		if err != nil {
			t.Fatalf("buildConfig() error = %v", err)
		}
		if cfg.StartURL != "https://other.org/" {
			t.Errorf("StartURL = %q", cfg.StartURL)
		}
		if cfg.MaxPages != 15 {
			t.Errorf("MaxPages = %d, want crawl block 15", cfg.MaxPages)
		}
		if cfg.Cookie != "" {
			t.Errorf("Cookie = %q, want empty for other site", cfg.Cookie)
		}
	})

	t.Run("site entry over crawl block", func(t *testing.T) {
		t.Parallel()

		v, args := parseCrawl(t, "-c", path, "https://example.com/")
		cfg, err := buildConfig(v, args)
		if err != nil {
			t.Fatalf("buildConfig() error = %v", err)
		}
		if cfg.MaxPages != 20 || cfg.Cookie != "a=b" {
			t.Errorf("MaxPages = %d, Cookie = %q", cfg.MaxPages, cfg.Cookie)
		}
		if cfg.Timeout != 10*time.Second {
			t.Errorf("Timeout = %v, want 10s", cfg.Timeout)
		}
		if cfg.DelayMin != config.DefaultDelayMin {
			t.Errorf("DelayMin = %v, want default", cfg.DelayMin)
		}
	})

	t.Run("flag over file", func(t *testing.T) {
		t.Parallel()

		v, args := parseCrawl(t, "-c", path, "--max-pages", "40", "--timeout", "3s", "https://example.com/")
		cfg, err := buildConfig(v, args)
		if err != nil {
			t.Fatalf("buildConfig() error = %v", err)
		}
		if cfg.MaxPages != 40 || cfg.Timeout != 3*time.Second {
			t.Errorf("MaxPages = %d, Timeout = %v", cfg.MaxPages, cfg.Timeout)
		}
	})

	t.Run("retries alias", func(t *testing.T) {
		t.Parallel()

		v, args := parseCrawl(t, "--retries", "6", "https://example.com/")
		cfg, err := buildConfig(v, args)
		if err != nil {
			t.Fatal(err)
		}
		if cfg.MaxRetries != 6 {
			t.Errorf("MaxRetries = %d, want 6", cfg.MaxRetries)
		}

		v, args = parseCrawl(t, "--retries", "6", "--max-retries", "2", "https://example.com/")
		cfg, err = buildConfig(v, args)
		if err != nil {
			t.Fatal(err)
		}
		if cfg.MaxRetries != 2 {
			t.Errorf("MaxRetries = %d, want canonical 2", cfg.MaxRetries)
		}
	})

	t.Run("list and map flags", func(t *testing.T) {
		t.Parallel()

		v, args := parseCrawl(t,
			"--ignore", "/admin/*,/logout",
			"--keep-query-params", "id",
			"--header", "X-One=1",
			"https://example.com/",
		)
		cfg, err := buildConfig(v, args)
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(cfg.IgnorePatterns, []string{"/admin/*", "/logout"}) {
			t.Errorf("IgnorePatterns = %v", cfg.IgnorePatterns)
		}
		if !slices.Equal(cfg.KeepQueryParams, []string{"id"}) {
			t.Errorf("KeepQueryParams = %v", cfg.KeepQueryParams)
		}
		if cfg.Headers["X-One"] != "1" {
			t.Errorf("Headers = %v", cfg.Headers)
		}
	})

	t.Run("missing explicit config file", func(t *testing.T) {
		t.Parallel()

		v, args := parseCrawl(t, "-c", filepath.Join(t.TempDir(), "nope.yaml"), "https://example.com/")
		if _, err := buildConfig(v, args); !errors.Is(err, config.ErrConfigNotFound) {
			t.Errorf("err = %v, want ErrConfigNotFound", err)
		}
	})
}

func TestBuildConfig_Env(t *testing.T) {
	path := writeConfig(t, precedenceConfig)
	t.Setenv("LINKSCOUT_MAX_PAGES", "30")
	t.Setenv("LINKSCOUT_RETRY_STRATEGY", "fixed")

	v, args := parseCrawl(t, "-c", path, "https://example.com/")
	cfg, err := buildConfig(v, args)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxPages != 30 {
		t.Errorf("MaxPages = %d, want env 30 over file 20", cfg.MaxPages)
	}
	if cfg.RetryStrategy != "fixed" {
		t.Errorf("RetryStrategy = %q", cfg.RetryStrategy)
	}

	v, args = parseCrawl(t, "-c", path, "--max-pages", "50", "https://example.com/")
	cfg, err = buildConfig(v, args)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxPages != 50 {
		t.Errorf("MaxPages = %d, want flag 50 over env", cfg.MaxPages)
	}
}

// newSite serves a small site:
//
//	/ -> /a, /b, external
//	/a -> /c, /missing
//	/b, /c, /x -> no links
func newSite(t *testing.T) *httptest.Server {
	t.Helper()

	page := func(links ...string) http.HandlerFunc {
		return func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			var b strings.Builder
			b.WriteString("<html><body>")
			for _, l := range links {
				fmt.Fprintf(&b, `<a href="%s">link</a>`, l)
			}
			b.WriteString("</body></html>")
			_, _ = w.Write([]byte(b.String()))
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/{$}", page("/a", "/b", "https://elsewhere.example/"))
	mux.HandleFunc("/a", page("/c", "/missing"))
	mux.HandleFunc("/b", page())
	mux.HandleFunc("/c", page())
	mux.HandleFunc("/x", page())
	mux.HandleFunc("/missing", http.NotFound)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// fastFlags disables pacing so tests run quickly.
func fastFlags(stateDir, outDir string) []string {
	return []string{
		"--delay-min", "0s",
		"--delay-max", "0s",
		"--delay-between-requests", "0s",
		"--timeout", "5s",
		"--store-dsn", stateDir,
		"--output-dir", outDir,
		"-c", filepath.Join(stateDir, "none.yaml"),
	}
}

func TestCrawlCmd_EndToEnd(t *testing.T) {
	t.Parallel()

	server := newSite(t)
	stateDir, outDir := t.TempDir(), t.TempDir()
	// an explicit -c must exist
	if err := os.WriteFile(filepath.Join(stateDir, "none.yaml"), []byte("sites: {}\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	args := append([]string{"crawl"}, fastFlags(stateDir, outDir)...)
	out, err := runCLI(t, append(args, server.URL+"/")...)
	if err != nil {
		t.Fatalf("crawl error = %v", err)
	}

	doc, err := report.LoadURLs(filepath.Join(outDir, config.DefaultOutputFile))
	if err != nil {
		t.Fatalf("LoadURLs() error = %v", err)
	}
	want := []string{server.URL + "/", server.URL + "/a", server.URL + "/b", server.URL + "/c"}
	if !slices.Equal(doc.URLs, want) {
		t.Errorf("URLs = %v, want %v", doc.URLs, want)
	}
	if doc.Count != 4 || doc.Site != "127.0.0.1" {
		t.Errorf("doc = %+v", doc)
	}

	for _, s := range []string{"Termination: drained", "visited:                4", "permanently failed:     1", "Saved 4 URLs"} {
		if !strings.Contains(out, s) {
			t.Errorf("summary missing %q:\n%s", s, out)
		}
	}

	t.Run("history lists the session", func(t *testing.T) {
		out, err := runCLI(t, "history", "--store-dsn", stateDir, server.URL)
		if err != nil {
			t.Fatalf("history error = %v", err)
		}
		if !strings.Contains(out, "drained") || !strings.Contains(out, "4 visited") {
			t.Errorf("history output = %s", out)
		}
	})

	t.Run("history as markdown", func(t *testing.T) {
		out, err := runCLI(t, "history", "--markdown", "--store-dsn", stateDir, "127.0.0.1")
		if err != nil {
			t.Fatalf("history error = %v", err)
		}
		if !strings.Contains(out, "# Crawl history: 127.0.0.1") || !strings.Contains(out, "drained") {
			t.Errorf("history output = %s", out)
		}
	})
}

func TestCrawlCmd_BudgetAndJSON(t *testing.T) {
	t.Parallel()

	server := newSite(t)
	stateDir, outDir := t.TempDir(), t.TempDir()
	if err := os.WriteFile(filepath.Join(stateDir, "none.yaml"), []byte("sites: {}\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	args := append([]string{"crawl", "--json", "--max-pages", "2", "--concurrency", "1"}, fastFlags(stateDir, outDir)...)
	out, err := runCLI(t, append(args, server.URL+"/")...)
	if err != nil {
		t.Fatalf("crawl error = %v", err)
	}
	if !strings.Contains(out, `"termination": "budget_exhausted"`) || !strings.Contains(out, `"visited": 2`) {
		t.Errorf("json summary = %s", out)
	}

	doc, err := report.LoadURLs(filepath.Join(outDir, config.DefaultOutputFile))
	if err != nil {
		t.Fatal(err)
	}
	if doc.Count != 2 {
		t.Errorf("Count = %d, want 2", doc.Count)
	}
}

func TestCrawlCmd_ResumeFromArtifact(t *testing.T) {
	t.Parallel()

	server := newSite(t)
	stateDir, outDir := t.TempDir(), t.TempDir()
	if err := os.WriteFile(filepath.Join(stateDir, "none.yaml"), []byte("sites: {}\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	// /x is not linked from anywhere; only the previous artifact knows it.
	artifact := filepath.Join(outDir, config.DefaultOutputFile)
	prev := report.URLDocument{Site: "127.0.0.1", URLs: []string{server.URL + "/x"}}
	if err := report.WriteURLs(artifact, prev); err != nil {
		t.Fatal(err)
	}

	args := append([]string{"crawl", "--resume"}, fastFlags(stateDir, outDir)...)
	if _, err := runCLI(t, append(args, server.URL+"/")...); err != nil {
		t.Fatalf("crawl error = %v", err)
	}

	doc, err := report.LoadURLs(artifact)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Contains(doc.URLs, server.URL+"/x") {
		t.Errorf("resumed URL missing: %v", doc.URLs)
	}
	if !slices.Contains(doc.URLs, server.URL+"/c") {
		t.Errorf("crawl did not continue past resumed URLs: %v", doc.URLs)
	}
}

func TestCrawlCmd_AllSites(t *testing.T) {
	t.Parallel()

	server := newSite(t)
	stateDir, outDir := t.TempDir(), t.TempDir()
	cfgPath := filepath.Join(stateDir, "sites.yaml")
	content := fmt.Sprintf(`sites:
  127.0.0.1:
    startUrl: %s/
    maxPages: 2
  blog:
    startUrl: %s/a
    sitePath: 127.0.0.1/a
`, server.URL, server.URL)
	if err := os.WriteFile(cfgPath, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	args := []string{
		"crawl", "--all-sites", "--batch", "2",
		"--delay-min", "0s", "--delay-max", "0s", "--delay-between-requests", "0s",
		"--store-dsn", stateDir, "--output-dir", outDir, "-c", cfgPath,
	}
	if _, err := runCLI(t, args...); err != nil {
		t.Fatalf("crawl error = %v", err)
	}

	mainDoc, err := report.LoadURLs(filepath.Join(outDir, "127.0.0.1", config.DefaultOutputFile))
	if err != nil {
		t.Fatalf("main artifact: %v", err)
	}
	if mainDoc.Count != 2 {
		t.Errorf("main Count = %d, want site budget 2", mainDoc.Count)
	}

	blog, err := report.LoadURLs(filepath.Join(outDir, "127.0.0.1_a", config.DefaultOutputFile))
	if err != nil {
		t.Fatalf("blog artifact: %v", err)
	}
	if !slices.Equal(blog.URLs, []string{server.URL + "/a"}) {
		t.Errorf("blog URLs = %v, want only /a in scope", blog.URLs)
	}
}

func TestCrawlCmd_AllSitesInvalidEntry(t *testing.T) {
	t.Parallel()

	server := newSite(t)
	stateDir, outDir := t.TempDir(), t.TempDir()
	cfgPath := filepath.Join(stateDir, "sites.yaml")
	content := fmt.Sprintf(`sites:
  127.0.0.1:
    startUrl: %s/
  broken:
    startUrl: %s/a
    sitePath: 127.0.0.1/a
    maxPages: -1
`, server.URL, server.URL)
	if err := os.WriteFile(cfgPath, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	args := []string{
		"crawl", "--all-sites",
		"--delay-min", "0s", "--delay-max", "0s", "--delay-between-requests", "0s",
		"--store-dsn", stateDir, "--output-dir", outDir, "-c", cfgPath,
	}
	_, err := runCLI(t, args...)
	if !errors.Is(err, config.ErrInvalidMaxPages) {
		t.Fatalf("err = %v, want ErrInvalidMaxPages", err)
	}

	if _, err := report.LoadURLs(filepath.Join(outDir, "127.0.0.1", config.DefaultOutputFile)); err != nil {
		t.Errorf("valid site was not crawled: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outDir, "127.0.0.1_a", config.DefaultOutputFile)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("invalid site produced an artifact: %v", err)
	}
}

func TestRunner_Progress(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	r := &runner{errOut: &buf}
	onComplete := r.progress(2)
	onComplete(&pipeline.Run{
		Target:  pipeline.Target{Site: "example.com"},
		Summary: &model.CrawlSummary{Termination: model.TerminationDrained},
	}, 1)
	onComplete(&pipeline.Run{
		Target: pipeline.Target{Site: "example.org"},
		Errors: []error{errors.New("boom")},
	}, 0)

	want := "[1/2] example.com: drained\n[2/2] example.org: no summary (boom)\n"
	if got := buf.String(); got != want {
		t.Errorf("progress output = %q, want %q", got, want)
	}
}

func TestRunner_FloorFor(t *testing.T) {
	t.Parallel()

	r := &runner{}
	a := r.floorFor("example.com", time.Second)
	if a == nil {
		t.Fatal("floorFor() = nil for a positive floor")
	}
	if b := r.floorFor("example.com", time.Second); b != a {
		t.Error("sessions on the same host got different limiters")
	}
	if c := r.floorFor("example.org", time.Second); c == a {
		t.Error("different hosts share a limiter")
	}
	if r.floorFor("example.com", 0) != nil {
		t.Error("zero floor should disable the shared limiter")
	}
}

func TestCrawlCmd_InvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := runCLI(t, "crawl", "--renderer", "lynx", "https://example.com/")
	if !errors.Is(err, config.ErrUnknownRenderer) {
		t.Errorf("err = %v, want ErrUnknownRenderer", err)
	}

	_, err = runCLI(t, "crawl", "--delay-min", "5s", "--delay-max", "1s", "https://example.com/")
	if !errors.Is(err, config.ErrInvalidDelayRange) {
		t.Errorf("err = %v, want ErrInvalidDelayRange", err)
	}
}

func TestCrawlCmd_UnreachableProxy(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	stateDir, outDir := t.TempDir(), t.TempDir()
	if err := os.WriteFile(filepath.Join(stateDir, "none.yaml"), []byte("sites: {}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	args := append([]string{"crawl"}, fastFlags(stateDir, outDir)...)
	args = append(args, "--proxy", "socks5://user:secret@"+addr, "https://example.com/")
	_, err = runCLI(t, args...)
	if !errors.Is(err, fetch.ErrProxyCannotConnect) {
		t.Fatalf("err = %v, want ErrProxyCannotConnect", err)
	}
	if strings.Contains(err.Error(), "secret") {
		t.Errorf("error leaks proxy password: %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(outDir, config.DefaultOutputFile)); !errors.Is(statErr, os.ErrNotExist) {
		t.Errorf("artifact written despite failed proxy check: %v", statErr)
	}
}

func TestRunner_Result(t *testing.T) {
	t.Parallel()

	r := &runner{}
	site := pipeline.Target{Site: "example.com"}

	t.Run("fatal session aborts", func(t *testing.T) {
		t.Parallel()

		runs := []*pipeline.Run{{
			Target:  site,
			Summary: &model.CrawlSummary{Termination: model.TerminationFatal},
			Errors:  []error{errors.New("checkpoint: disk full")},
		}}
		if err := r.result(runs, nil); !errors.Is(err, errCrawlAborted) {
			t.Errorf("err = %v, want errCrawlAborted", err)
		}
	})

	t.Run("interrupt is not an error", func(t *testing.T) {
		t.Parallel()

		runs := []*pipeline.Run{{
			Target:  site,
			Summary: &model.CrawlSummary{Termination: model.TerminationCancelled},
		}}
		if err := r.result(runs, context.Canceled); err != nil {
			t.Errorf("err = %v, want nil", err)
		}
	})

	t.Run("finalizer failure is reported", func(t *testing.T) {
		t.Parallel()

		errWrite := errors.New("write artifact: read-only file system")
		runs := []*pipeline.Run{
			nil,
			{Target: site, Summary: &model.CrawlSummary{Termination: model.TerminationDrained}, Errors: []error{errWrite}},
		}
		err := r.result(runs, nil)
		if !errors.Is(err, errWrite) || errors.Is(err, errCrawlAborted) {
			t.Errorf("err = %v", err)
		}
	})
}

func TestHistorySite(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"example.com", "example.com"},
		{"https://Example.com/", "example.com"},
		{"http://127.0.0.1:8080", "127.0.0.1"},
		{"example.com/blog/", "example.com/blog"},
	}
	for _, tt := range tests {
		if got := historySite(tt.in); got != tt.want {
			t.Errorf("historySite(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
