package config

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration written as "5s" or "1m30s" in config files.
type Duration struct {
	time.Duration
}

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", b, err)
	}
	d.Duration = v
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalYAML parses a scalar duration.
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	return d.UnmarshalText([]byte(n.Value))
}

// SiteConfig holds site-specific options.
type SiteConfig struct {
	// StartURL seeds the crawl of this site.
	StartURL string `yaml:"startUrl,omitempty" toml:"startUrl"`

	// SitePath narrows the scope to a path prefix, e.g. "example.com/blog".
	SitePath string `yaml:"sitePath,omitempty" toml:"sitePath"`

	// MaxPages overrides the page budget.
	MaxPages int `yaml:"maxPages,omitempty" toml:"maxPages"`

	// Cookie is sent with every request. Format: "name=value; name2=value2".
	Cookie string `yaml:"cookie,omitempty" toml:"cookie"`

	// Headers are added to every request.
	Headers map[string]string `yaml:"headers,omitempty" toml:"headers"`

	// IgnorePatterns are glob patterns of paths never crawled.
	IgnorePatterns []string `yaml:"ignorePatterns,omitempty" toml:"ignorePatterns"`

	// FollowPatterns, when set, restrict crawling to matching paths.
	FollowPatterns []string `yaml:"followPatterns,omitempty" toml:"followPatterns"`

	// KeepQueryParams, when set, drops every other query parameter.
	KeepQueryParams []string `yaml:"keepQueryParams,omitempty" toml:"keepQueryParams"`

	// SkipExtensions replaces the built-in list of skipped file extensions.
	SkipExtensions []string `yaml:"skipExtensions,omitempty" toml:"skipExtensions"`
}

// CrawlSettings are global knobs set in the file's crawl block.
type CrawlSettings struct {
	MaxPages             int      `yaml:"maxPages,omitempty" toml:"maxPages"`
	TimeBudget           Duration `yaml:"timeBudget,omitempty" toml:"timeBudget"`
	DelayMin             Duration `yaml:"delayMin,omitempty" toml:"delayMin"`
	DelayMax             Duration `yaml:"delayMax,omitempty" toml:"delayMax"`
	DelayBetweenRequests Duration `yaml:"delayBetweenRequests,omitempty" toml:"delayBetweenRequests"`
	Timeout              Duration `yaml:"timeout,omitempty" toml:"timeout"`
	MaxRetries           int      `yaml:"maxRetries,omitempty" toml:"maxRetries"`

	// Retries is a deprecated alias of MaxRetries, used only when MaxRetries
	// is unset.
	Retries int `yaml:"retries,omitempty" toml:"retries"`

	RetryDelay      Duration `yaml:"retryDelay,omitempty" toml:"retryDelay"`
	RetryMaxDelay   Duration `yaml:"retryMaxDelay,omitempty" toml:"retryMaxDelay"`
	RetryStrategy   string   `yaml:"retryStrategy,omitempty" toml:"retryStrategy"`
	Stealth         *bool    `yaml:"stealth,omitempty" toml:"stealth"`
	Headless        *bool    `yaml:"headless,omitempty" toml:"headless"`
	Renderer        string   `yaml:"renderer,omitempty" toml:"renderer"`
	Concurrency     int      `yaml:"concurrency,omitempty" toml:"concurrency"`
	OutputDir       string   `yaml:"outputDir,omitempty" toml:"outputDir"`
	OutputFile      string   `yaml:"outputFile,omitempty" toml:"outputFile"`
	Proxy           string   `yaml:"proxy,omitempty" toml:"proxy"`
	UserAgent       string   `yaml:"userAgent,omitempty" toml:"userAgent"`
	CheckpointEvery int      `yaml:"checkpointEvery,omitempty" toml:"checkpointEvery"`
}

// File is the structure of the .linkscout file.
type File struct {
	// Crawl holds global options.
	Crawl CrawlSettings `yaml:"crawl,omitempty" toml:"crawl"`

	// Defaults apply to every site unless the site overrides them.
	Defaults SiteConfig `yaml:"defaults,omitempty" toml:"defaults"`

	// Sites maps a site key (host, optionally with a path) to its options.
	Sites map[string]SiteConfig `yaml:"sites,omitempty" toml:"sites"`
}

// GetSiteConfig merges the defaults with the entry for site.
func (cf *File) GetSiteConfig(site string) SiteConfig {
	result := cf.Defaults
	result.Headers = maps.Clone(cf.Defaults.Headers)

	siteConfig, ok := cf.Sites[site]
	if !ok {
		return result
	}
	if siteConfig.StartURL != "" {
		result.StartURL = siteConfig.StartURL
	}
	if siteConfig.SitePath != "" {
		result.SitePath = siteConfig.SitePath
	}
	if siteConfig.MaxPages != 0 {
		result.MaxPages = siteConfig.MaxPages
	}
	if siteConfig.Cookie != "" {
		result.Cookie = siteConfig.Cookie
	}
	if len(siteConfig.Headers) > 0 {
		if result.Headers == nil {
			result.Headers = make(map[string]string)
		}
		maps.Copy(result.Headers, siteConfig.Headers)
	}
	if len(siteConfig.IgnorePatterns) > 0 {
		result.IgnorePatterns = siteConfig.IgnorePatterns
	}
	if len(siteConfig.FollowPatterns) > 0 {
		result.FollowPatterns = siteConfig.FollowPatterns
	}
	if len(siteConfig.KeepQueryParams) > 0 {
		result.KeepQueryParams = siteConfig.KeepQueryParams
	}
	if len(siteConfig.SkipExtensions) > 0 {
		result.SkipExtensions = siteConfig.SkipExtensions
	}
	return result
}

// SiteTarget is a site listed in the file with a start URL.
type SiteTarget struct {
	// Key is the entry name under sites.
	Key string

	// Site is the scope: sitePath, or the key.
	Site     string
	StartURL string
}

// Targets returns every site entry with a startUrl, sorted by site key.
func (cf *File) Targets() []SiteTarget {
	var out []SiteTarget
	for _, site := range slices.Sorted(maps.Keys(cf.Sites)) {
		sc := cf.GetSiteConfig(site)
		if sc.StartURL == "" {
			continue
		}
		key := site
		if sc.SitePath != "" {
			key = sc.SitePath
		}
		out = append(out, SiteTarget{Key: site, Site: key, StartURL: sc.StartURL})
	}
	return out
}

// ApplyFile layers the crawl block and the merged entry for site over c.
// Fields the file leaves empty keep their current value. Call it before
// applying flags so flags win.
func (c *Config) ApplyFile(cf *File, site string) {
	if cf == nil {
		return
	}
	c.SiteConfigs = cf
	c.applyCrawl(cf.Crawl)

	sc := cf.GetSiteConfig(site)
	if sc.StartURL != "" && c.StartURL == "" {
		c.StartURL = sc.StartURL
	}
	if sc.SitePath != "" {
		c.Site = sc.SitePath
	}
	if sc.MaxPages != 0 {
		c.MaxPages = sc.MaxPages
	}
	if sc.Cookie != "" {
		c.Cookie = sc.Cookie
	}
	if len(sc.Headers) > 0 {
		c.Headers = sc.Headers
	}
	if len(sc.IgnorePatterns) > 0 {
		c.IgnorePatterns = sc.IgnorePatterns
	}
	if len(sc.FollowPatterns) > 0 {
		c.FollowPatterns = sc.FollowPatterns
	}
	if len(sc.KeepQueryParams) > 0 {
		c.KeepQueryParams = sc.KeepQueryParams
	}
	if len(sc.SkipExtensions) > 0 {
		c.SkipExtensions = sc.SkipExtensions
	}
}

func (c *Config) applyCrawl(cs CrawlSettings) {
	setInt := func(dst *int, v int) {
		if v != 0 {
			*dst = v
		}
	}
	setDur := func(dst *time.Duration, v Duration) {
		if v.Duration != 0 {
			*dst = v.Duration
		}
	}
	setStr := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}

	setInt(&c.MaxPages, cs.MaxPages)
	setDur(&c.TimeBudget, cs.TimeBudget)
	setDur(&c.DelayMin, cs.DelayMin)
	setDur(&c.DelayMax, cs.DelayMax)
	setDur(&c.DelayBetweenRequests, cs.DelayBetweenRequests)
	setDur(&c.Timeout, cs.Timeout)
	if cs.MaxRetries != 0 {
		c.MaxRetries = cs.MaxRetries
	} else {
		setInt(&c.MaxRetries, cs.Retries)
	}
	setDur(&c.RetryDelay, cs.RetryDelay)
	setDur(&c.RetryMaxDelay, cs.RetryMaxDelay)
	setStr(&c.RetryStrategy, cs.RetryStrategy)
	if cs.Stealth != nil {
		c.Stealth = *cs.Stealth
	}
	if cs.Headless != nil {
		c.Headless = *cs.Headless
	}
	setStr(&c.Renderer, cs.Renderer)
	setInt(&c.Concurrency, cs.Concurrency)
	setStr(&c.OutputDir, cs.OutputDir)
	setStr(&c.OutputFile, cs.OutputFile)
	setStr(&c.Proxy, cs.Proxy)
	setStr(&c.UserAgent, cs.UserAgent)
	setInt(&c.CheckpointEvery, cs.CheckpointEvery)
}
