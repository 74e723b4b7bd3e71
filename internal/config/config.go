package config

import (
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
const (
	// AppName is used for XDG directory paths.
	AppName = "linkscout"

	DefaultMaxPages             = 100
	DefaultDelayMin             = 2 * time.Second
	DefaultDelayMax             = 5 * time.Second
	DefaultDelayBetweenRequests = 2 * time.Second
	DefaultStealthJitter        = 0.25
	DefaultTimeout              = 30 * time.Second
	DefaultMaxRetries           = 3
	DefaultRetryDelay           = 5 * time.Second
	DefaultRetryMaxDelay        = time.Minute
	DefaultRetryStrategy        = "exponential"
	DefaultRenderer             = RendererHTTP
	DefaultConcurrency          = 2
	DefaultBatchSize            = 2
	DefaultOutputDir            = "output_url"
	DefaultOutputFile           = "urls.json"
	DefaultCheckpointEvery      = 5
	DefaultStore                = "sqlite"

	// DefaultMaxBodySize limits how much of a response is read.
	DefaultMaxBodySize int64 = 10 * 1024 * 1024
)

// Renderer backends.
const (
	RendererHTTP   = "http"
	RendererChrome = "chrome"
)

// Config holds every option of a crawl. It is built by NewConfig, layered
// with the config file by ApplyFile and with flags by the CLI, then checked
// once by Validate.
type Config struct {
	// StartURL seeds the frontier.
	StartURL string

	// Site is the scope filter: a host, optionally followed by a path prefix.
	// Empty means the host of StartURL.
	Site string

	// MaxPages caps visited pages per session. Zero means no cap.
	MaxPages int

	// TimeBudget ends the session after this long. Zero means no limit.
	TimeBudget time.Duration

	// DelayMin and DelayMax bound the random pause before each fetch.
	DelayMin time.Duration
	DelayMax time.Duration

	// DelayBetweenRequests is the minimum spacing between any two fetches.
	DelayBetweenRequests time.Duration

	// Stealth rotates user agents, jitters delays and sends browser headers.
	Stealth       bool
	StealthJitter float64

	// Timeout bounds a single fetch.
	Timeout time.Duration

	// MaxRetries is the number of failed attempts after which a URL is
	// failed permanently.
	MaxRetries    int
	RetryDelay    time.Duration
	RetryMaxDelay time.Duration
	RetryStrategy string

	// Renderer is http or chrome.
	Renderer   string
	Headless   bool
	ChromePath string

	// Concurrency is the number of workers per session.
	Concurrency int

	OutputDir  string
	OutputFile string

	// Proxy is an http, https or socks5 proxy URL.
	Proxy string

	// UserAgent pins the user agent. Empty uses the built-in list.
	UserAgent string

	Cookie          string
	Headers         map[string]string
	IgnorePatterns  []string
	FollowPatterns  []string
	KeepQueryParams []string
	SkipExtensions  []string
	MaxBodySize     int64

	// Resume restores the stored checkpoint, or the previous artifact when
	// there is none.
	Resume          bool
	CheckpointEvery int

	// StoreDSN is the SQLite directory, Postgres DSN or Redis URL. Empty
	// selects the XDG data directory for SQLite.
	StoreBackend string
	StoreDSN     string
	StoreTTL     time.Duration

	KafkaBroker string
	KafkaTopic  string

	JSONReport     bool
	MarkdownReport bool

	// SummaryFile receives the summary instead of stdout.
	SummaryFile string

	// ConfigFilePath overrides the .linkscout search.
	ConfigFilePath string

	Verbose bool
	LogJSON bool

	// AllSites crawls every site of the config file that has a startUrl.
	AllSites bool

	// BatchSize is the number of sites crawled at once with AllSites.
	BatchSize int

	// SiteConfigs is the loaded config file, if any.
	SiteConfigs *File
}

// NewConfig returns a Config with the default values.
func NewConfig() *Config {
	return &Config{
		MaxPages:             DefaultMaxPages,
		DelayMin:             DefaultDelayMin,
		DelayMax:             DefaultDelayMax,
		DelayBetweenRequests: DefaultDelayBetweenRequests,
		Stealth:              true,
		StealthJitter:        DefaultStealthJitter,
		Timeout:              DefaultTimeout,
		MaxRetries:           DefaultMaxRetries,
		RetryDelay:           DefaultRetryDelay,
		RetryMaxDelay:        DefaultRetryMaxDelay,
		RetryStrategy:        DefaultRetryStrategy,
		Renderer:             DefaultRenderer,
		Headless:             true,
		Concurrency:          DefaultConcurrency,
		BatchSize:            DefaultBatchSize,
		OutputDir:            DefaultOutputDir,
		OutputFile:           DefaultOutputFile,
		MaxBodySize:          DefaultMaxBodySize,
		CheckpointEvery:      DefaultCheckpointEvery,
		StoreBackend:         DefaultStore,
	}
}

// XDGDataDir returns the data directory, e.g. ~/.local/share/linkscout.
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the config directory, e.g. ~/.config/linkscout.
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// StoreLocation returns StoreDSN, defaulting to the XDG data directory for
// the SQLite backend.
func (c *Config) StoreLocation() string {
	if c.StoreDSN == "" && c.StoreBackend == DefaultStore {
		return XDGDataDir()
	}
	return c.StoreDSN
}

// SiteKey returns the scope of the crawl: Site, or the host of StartURL.
func (c *Config) SiteKey() string {
	if c.Site != "" {
		return strings.TrimSuffix(c.Site, "/")
	}
	return HostOf(c.StartURL)
}

// HostOf returns the lowercased host of rawURL. A URL without a scheme is
// read as https.
func HostOf(rawURL string) string {
	s := strings.TrimSpace(rawURL)
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// Validate returns the first problem found.
func (c *Config) Validate() error {
	if c.StartURL == "" && !c.AllSites {
		return ErrNoStartURL
	}
	if c.MaxPages < 0 {
		return ErrInvalidMaxPages
	}
	if c.TimeBudget < 0 {
		return ErrInvalidTimeBudget
	}
	if c.DelayMin < 0 || c.DelayMax < c.DelayMin {
		return ErrInvalidDelayRange
	}
	if c.DelayBetweenRequests < 0 {
		return ErrInvalidFloor
	}
	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.MaxRetries < 1 {
		return ErrInvalidMaxRetries
	}
	if c.RetryDelay < 0 || c.RetryMaxDelay < c.RetryDelay {
		return ErrInvalidRetryDelay
	}
	if c.RetryStrategy != "fixed" && c.RetryStrategy != "exponential" {
		return ErrUnknownRetryStrategy
	}
	if c.Concurrency <= 0 {
		return ErrInvalidConcurrency
	}
	if c.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}
	if c.Renderer != RendererHTTP && c.Renderer != RendererChrome {
		return ErrUnknownRenderer
	}
	if c.CheckpointEvery < 0 {
		return ErrInvalidCheckpointEvery
	}
	switch c.StoreBackend {
	case "sqlite":
	case "postgres", "redis":
		if c.StoreDSN == "" {
			return ErrStoreDSNRequired
		}
	default:
		return ErrUnknownStore
	}
	if c.KafkaBroker != "" && c.KafkaTopic == "" {
		return ErrKafkaTopicRequired
	}
	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}
	if c.OutputFile == "" {
		return ErrEmptyOutputFile
	}
	if c.MaxBodySize < 0 {
		return ErrInvalidMaxBodySize
	}
	return nil
}
