package config

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func TestNewConfig(t *testing.T) {
	t.Parallel()

	cfg := NewConfig()
	if cfg.MaxPages != DefaultMaxPages {
		t.Errorf("MaxPages = %d, want %d", cfg.MaxPages, DefaultMaxPages)
	}
	if !cfg.Stealth || !cfg.Headless {
		t.Error("stealth and headless should default to true")
	}
	if cfg.Renderer != RendererHTTP {
		t.Errorf("Renderer = %q", cfg.Renderer)
	}
	if len(cfg.KeepQueryParams) != 0 {
		t.Errorf("KeepQueryParams = %v, want empty (keep all)", cfg.KeepQueryParams)
	}
	if err := cfg.Validate(); !errors.Is(err, ErrNoStartURL) {
		t.Errorf("Validate() = %v, want ErrNoStartURL", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		modify func(*Config)
		want   error
	}{
		{"valid", func(*Config) {}, nil},
		{"all sites without start url", func(c *Config) { c.StartURL = ""; c.AllSites = true }, nil},
		{"negative max pages", func(c *Config) { c.MaxPages = -1 }, ErrInvalidMaxPages},
		{"zero max pages means unlimited", func(c *Config) { c.MaxPages = 0 }, nil},
		{"negative time budget", func(c *Config) { c.TimeBudget = -time.Second }, ErrInvalidTimeBudget},
		{"inverted delay", func(c *Config) { c.DelayMin = 5 * time.Second; c.DelayMax = time.Second }, ErrInvalidDelayRange},
		{"negative floor", func(c *Config) { c.DelayBetweenRequests = -1 }, ErrInvalidFloor},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }, ErrInvalidTimeout},
		{"zero retries", func(c *Config) { c.MaxRetries = 0 }, ErrInvalidMaxRetries},
		{"inverted retry delay", func(c *Config) { c.RetryMaxDelay = time.Second; c.RetryDelay = time.Minute }, ErrInvalidRetryDelay},
		{"unknown strategy", func(c *Config) { c.RetryStrategy = "linear" }, ErrUnknownRetryStrategy},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }, ErrInvalidConcurrency},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }, ErrInvalidBatchSize},
		{"unknown renderer", func(c *Config) { c.Renderer = "webkit" }, ErrUnknownRenderer},
		{"negative checkpoint", func(c *Config) { c.CheckpointEvery = -1 }, ErrInvalidCheckpointEvery},
		{"unknown store", func(c *Config) { c.StoreBackend = "mongo" }, ErrUnknownStore},
		{"postgres without dsn", func(c *Config) { c.StoreBackend = "postgres" }, ErrStoreDSNRequired},
		{"redis with dsn", func(c *Config) { c.StoreBackend = "redis"; c.StoreDSN = "redis://localhost:6379/0" }, nil},
		{"kafka without topic", func(c *Config) { c.KafkaBroker = "localhost:9092" }, ErrKafkaTopicRequired},
		{"two report formats", func(c *Config) { c.JSONReport = true; c.MarkdownReport = true }, ErrConflictingReportFormats},
		{"empty output file", func(c *Config) { c.OutputFile = "" }, ErrEmptyOutputFile},
		{"negative body size", func(c *Config) { c.MaxBodySize = -1 }, ErrInvalidMaxBodySize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := NewConfig()
			cfg.StartURL = "https://example.com/"
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.want == nil {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestConfig_SiteKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		site     string
		startURL string
		want     string
	}{
		{"host of start url", "", "https://Example.COM/blog/post", "example.com"},
		{"explicit site with path", "example.com/blog/", "https://example.com/", "example.com/blog"},
		{"start url without scheme", "", "example.com/docs", "example.com"},
		{"empty", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := &Config{Site: tt.site, StartURL: tt.startURL}
			if got := cfg.SiteKey(); got != tt.want {
				t.Errorf("SiteKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConfig_StoreLocation(t *testing.T) {
	t.Parallel()

	cfg := NewConfig()
	if got := cfg.StoreLocation(); got != XDGDataDir() {
		t.Errorf("StoreLocation() = %q, want %q", got, XDGDataDir())
	}
	cfg.StoreDSN = "/tmp/state"
	if got := cfg.StoreLocation(); got != "/tmp/state" {
		t.Errorf("StoreLocation() = %q", got)
	}
}

const yamlFixture = `crawl:
  maxPages: 50
  timeBudget: 10m
  delayMin: 1s
  delayMax: 3s
  retries: 7
  stealth: false
  renderer: chrome
defaults:
  cookie: "global=1"
  headers:
    X-Global: "g"
  ignorePatterns:
    - "/admin/*"
sites:
  example.com:
    startUrl: https://example.com/
    maxPages: 20
    headers:
      X-Site: "s"
    keepQueryParams: [id, page]
  docs.example.com:
    startUrl: https://docs.example.com/guide/
    sitePath: docs.example.com/guide
  nostart.example.com:
    cookie: "x=y"
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigFile(t *testing.T) {
	t.Parallel()

	t.Run("yaml", func(t *testing.T) {
		t.Parallel()

		cf, err := LoadConfigFile(writeFile(t, ".linkscout", yamlFixture))
		if err != nil {
			t.Fatalf("LoadConfigFile() error = %v", err)
		}
		if cf.Crawl.MaxPages != 50 || cf.Crawl.TimeBudget.Duration != 10*time.Minute {
			t.Errorf("crawl block = %+v", cf.Crawl)
		}
		if cf.Crawl.Stealth == nil || *cf.Crawl.Stealth {
			t.Error("stealth should be explicitly false")
		}
		if len(cf.Sites) != 3 {
			t.Errorf("len(Sites) = %d, want 3", len(cf.Sites))
		}
	})

	t.Run("toml", func(t *testing.T) {
		t.Parallel()

		const doc = `[crawl]
maxPages = 15
delayMin = "500ms"
delayMax = "2s"

[defaults]
cookie = "a=b"

[sites."example.com"]
startUrl = "https://example.com/"
ignorePatterns = ["/private/*"]
`
		cf, err := LoadConfigFile(writeFile(t, "linkscout.toml", doc))
		if err != nil {
			t.Fatalf("LoadConfigFile() error = %v", err)
		}
		if cf.Crawl.MaxPages != 15 || cf.Crawl.DelayMin.Duration != 500*time.Millisecond {
			t.Errorf("crawl block = %+v", cf.Crawl)
		}
		sc := cf.GetSiteConfig("example.com")
		if sc.Cookie != "a=b" || !slices.Equal(sc.IgnorePatterns, []string{"/private/*"}) {
			t.Errorf("site config = %+v", sc)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()

		_, err := LoadConfigFile(filepath.Join(t.TempDir(), "nope"))
		if !errors.Is(err, ErrConfigNotFound) {
			t.Errorf("err = %v, want ErrConfigNotFound", err)
		}
	})

	t.Run("bad duration", func(t *testing.T) {
		t.Parallel()

		_, err := LoadConfigFile(writeFile(t, ".linkscout", "crawl:\n  timeout: soon\n"))
		if err == nil {
			t.Error("expected error for invalid duration")
		}
	})

	t.Run("empty file", func(t *testing.T) {
		t.Parallel()

		cf, err := LoadConfigFile(writeFile(t, ".linkscout", ""))
		if err != nil {
			t.Fatalf("LoadConfigFile() error = %v", err)
		}
		if cf.Sites == nil {
			t.Error("Sites should be initialized")
		}
	})
}

func TestFile_GetSiteConfig(t *testing.T) {
	t.Parallel()

	cf, err := LoadConfigFile(writeFile(t, ".linkscout", yamlFixture))
	if err != nil {
		t.Fatal(err)
	}

	sc := cf.GetSiteConfig("example.com")
	if sc.Cookie != "global=1" {
		t.Errorf("Cookie = %q, want default", sc.Cookie)
	}
	if sc.Headers["X-Global"] != "g" || sc.Headers["X-Site"] != "s" {
		t.Errorf("Headers = %v, want merged", sc.Headers)
	}
	if sc.MaxPages != 20 {
		t.Errorf("MaxPages = %d", sc.MaxPages)
	}

	// merging must not leak into the defaults
	if _, ok := cf.Defaults.Headers["X-Site"]; ok {
		t.Error("site headers leaked into defaults")
	}

	unknown := cf.GetSiteConfig("other.com")
	if unknown.Cookie != "global=1" || len(unknown.IgnorePatterns) != 1 {
		t.Errorf("unknown site config = %+v", unknown)
	}
}

func TestFile_Targets(t *testing.T) {
	t.Parallel()

	cf, err := LoadConfigFile(writeFile(t, ".linkscout", yamlFixture))
	if err != nil {
		t.Fatal(err)
	}
	got := cf.Targets()
	want := []SiteTarget{
		{Key: "docs.example.com", Site: "docs.example.com/guide", StartURL: "https://docs.example.com/guide/"},
		{Key: "example.com", Site: "example.com", StartURL: "https://example.com/"},
	}
	if !slices.Equal(got, want) {
		t.Errorf("Targets() = %v, want %v", got, want)
	}
}

func TestConfig_ApplyFile(t *testing.T) {
	t.Parallel()

	cf, err := LoadConfigFile(writeFile(t, ".linkscout", yamlFixture))
	if err != nil {
		t.Fatal(err)
	}

	t.Run("layers crawl block then site entry", func(t *testing.T) {
		t.Parallel()

		cfg := NewConfig()
		cfg.ApplyFile(cf, "example.com")

		if cfg.StartURL != "https://example.com/" {
			t.Errorf("StartURL = %q", cfg.StartURL)
		}
		if cfg.MaxPages != 20 {
			t.Errorf("MaxPages = %d, want site value 20", cfg.MaxPages)
		}
		if cfg.TimeBudget != 10*time.Minute || cfg.DelayMin != time.Second {
			t.Errorf("durations not applied: %v %v", cfg.TimeBudget, cfg.DelayMin)
		}
		if cfg.MaxRetries != 7 {
			t.Errorf("MaxRetries = %d, want 7 from retries alias", cfg.MaxRetries)
		}
		if cfg.Stealth {
			t.Error("Stealth should be false")
		}
		if !cfg.Headless {
			t.Error("Headless should keep its default")
		}
		if cfg.Renderer != RendererChrome {
			t.Errorf("Renderer = %q", cfg.Renderer)
		}
		if !slices.Equal(cfg.KeepQueryParams, []string{"id", "page"}) {
			t.Errorf("KeepQueryParams = %v", cfg.KeepQueryParams)
		}
		if cfg.Timeout != DefaultTimeout {
			t.Errorf("Timeout = %v, want default", cfg.Timeout)
		}
		if cfg.SiteConfigs != cf {
			t.Error("SiteConfigs not recorded")
		}
	})

	t.Run("explicit start url is kept", func(t *testing.T) {
		t.Parallel()

		cfg := NewConfig()
		cfg.StartURL = "https://example.com/other"
		cfg.ApplyFile(cf, "example.com")
		if cfg.StartURL != "https://example.com/other" {
			t.Errorf("StartURL = %q", cfg.StartURL)
		}
	})

	t.Run("max retries wins over alias", func(t *testing.T) {
		t.Parallel()

		f := &File{Crawl: CrawlSettings{MaxRetries: 2, Retries: 9}}
		cfg := NewConfig()
		cfg.ApplyFile(f, "example.com")
		if cfg.MaxRetries != 2 {
			t.Errorf("MaxRetries = %d, want 2", cfg.MaxRetries)
		}
	})

	t.Run("nil file is a no-op", func(t *testing.T) {
		t.Parallel()

		cfg := NewConfig()
		cfg.ApplyFile(nil, "example.com")
		if cfg.SiteConfigs != nil || cfg.MaxPages != DefaultMaxPages {
			t.Error("nil file changed the config")
		}
	})
}

func TestFindConfigFile(t *testing.T) {
	t.Parallel()

	path := writeFile(t, ".linkscout", "sites: {}\n")
	if got := FindConfigFile(path); got != path {
		t.Errorf("FindConfigFile(%q) = %q", path, got)
	}
	if got := FindConfigFile(filepath.Join(t.TempDir(), "missing")); got != "" {
		t.Errorf("FindConfigFile(missing) = %q, want empty", got)
	}
}

func TestDuration_MarshalText(t *testing.T) {
	t.Parallel()

	d := Duration{Duration: 90 * time.Second}
	b, err := d.MarshalText()
	if err != nil || string(b) != "1m30s" {
		t.Errorf("MarshalText() = %q, %v", b, err)
	}
}
