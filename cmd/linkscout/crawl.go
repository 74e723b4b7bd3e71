package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nao1215/linkscout/internal/config"
	"github.com/nao1215/linkscout/internal/log"
)

// envPrefix prefixes every environment variable, e.g. LINKSCOUT_MAX_PAGES.
const envPrefix = "LINKSCOUT"

// NewCrawlCmd creates the crawl command.
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl [start-url]",
		Short: "Crawl a site and record its URLs",
		Long: `Crawl visits pages of one site, starting at the start URL, and writes every
visited URL to a JSON artifact.

The crawl stops when no URL is left, when --max-pages pages were visited,
when --time-budget elapses or on Ctrl-C. In every case the URLs found so far
are written and the frontier is checkpointed for --resume.

Every flag can also be set with a LINKSCOUT_ environment variable, for
example LINKSCOUT_MAX_PAGES=500.

Examples:
  # Crawl up to 100 pages of example.com
  linkscout crawl https://example.com/

  # Stay under /blog, render with Chrome, write elsewhere
  linkscout crawl --site example.com/blog --renderer chrome -o out https://example.com/blog/

  # Continue an interrupted crawl
  linkscout crawl --resume https://example.com/

  # Crawl every site of the config file that has a startUrl, two at a time
  linkscout crawl --all-sites --batch 2 -c sites.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: runCrawlCmd,
	}

	f := cmd.Flags()

	// Target
	f.String("start-url", "", "URL the crawl starts from")
	f.String("site", "", "Scope: host, optionally with a path prefix (default: host of the start URL)")

	// Budget
	f.IntP("max-pages", "p", config.DefaultMaxPages, "Maximum number of visited pages (0 for no limit)")
	f.Duration("time-budget", 0, "Stop the crawl after this long (0 for no limit)")

	// Pacing
	f.Duration("delay-min", config.DefaultDelayMin, "Minimum random delay before each request")
	f.Duration("delay-max", config.DefaultDelayMax, "Maximum random delay before each request")
	f.Duration("delay-between-requests", config.DefaultDelayBetweenRequests, "Minimum spacing between any two requests")
	f.Bool("stealth", true, "Rotate user agents, jitter delays and send browser headers")
	f.String("user-agent", "", "Fixed user agent (default: rotate built-in agents)")

	// Fetching
	f.DurationP("timeout", "t", config.DefaultTimeout, "Timeout for a single page")
	f.String("renderer", config.DefaultRenderer, "Page renderer: http or chrome")
	f.Bool("headless", true, "Run Chrome headless")
	f.String("chrome-path", "", "Chrome binary (default: search PATH)")
	f.String("proxy", "", "HTTP, HTTPS or SOCKS5 proxy URL")
	f.String("cookie", "", "Cookie sent with every request")
	f.StringToString("header", nil, "Extra request header, repeatable (Name=value)")
	f.Int64("max-body-size", config.DefaultMaxBodySize, "Maximum bytes read from a response")
	f.Int("concurrency", config.DefaultConcurrency, "Number of concurrent workers")

	// Retries
	f.Int("max-retries", config.DefaultMaxRetries, "Failed attempts after which a URL is given up")
	f.Int("retries", 0, "Alias of --max-retries")
	_ = f.MarkDeprecated("retries", "use --max-retries instead") //nolint:errcheck // flag is defined above
	f.Duration("retry-delay", config.DefaultRetryDelay, "First retry backoff")
	f.Duration("retry-max-delay", config.DefaultRetryMaxDelay, "Longest retry backoff")
	f.String("retry-strategy", config.DefaultRetryStrategy, "Backoff strategy: fixed or exponential")

	// Scope
	f.StringSlice("ignore", nil, "Path patterns never crawled (glob)")
	f.StringSlice("follow", nil, "Only crawl paths matching these patterns (glob)")
	f.StringSlice("keep-query-params", nil, "Query parameters kept during normalization (default: all)")
	f.StringSlice("skip-extensions", nil, "File extensions never fetched (replaces the built-in list)")

	// Output
	f.StringP("output-dir", "o", config.DefaultOutputDir, "Artifact directory")
	f.String("output-file", config.DefaultOutputFile, "Artifact file name")
	f.BoolP("json", "j", false, "Print the summary as JSON (mutually exclusive with --markdown)")
	f.BoolP("markdown", "m", false, "Print the summary as Markdown (mutually exclusive with --json)")
	f.String("summary-file", "", "Write the summary to this file instead of stdout")

	// State
	f.Bool("resume", false, "Resume from the stored checkpoint or the previous artifact")
	f.Int("checkpoint-every", config.DefaultCheckpointEvery, "Visited pages between checkpoints (0 disables)")
	f.String("store", config.DefaultStore, "Checkpoint store: sqlite, postgres or redis")
	f.String("store-dsn", "", "SQLite directory, Postgres DSN or Redis URL (default: XDG data directory)")
	f.Duration("store-ttl", 0, "Expiry of Redis keys (0 keeps them)")

	// Publishing
	f.String("kafka-broker", "", "Kafka broker address; publishes the URL list when set")
	f.String("kafka-topic", "", "Kafka topic")

	// Multi-site
	f.Bool("all-sites", false, "Crawl every site of the config file that has a startUrl")
	f.IntP("batch", "b", config.DefaultBatchSize, "Number of sites crawled at once with --all-sites")

	return cmd
}

func runCrawlCmd(cmd *cobra.Command, args []string) error {
	v, err := newViper(cmd)
	if err != nil {
		return err
	}

	cfg, err := buildConfig(v, args)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Warn("received shutdown signal, finishing in-flight requests...")
			cancel()
		case <-ctx.Done():
		}
	}()

	r := &runner{
		cfg:    cfg,
		v:      v,
		logger: logger,
		out:    cmd.OutOrStdout(),
		errOut: cmd.ErrOrStderr(),
	}
	return r.run(ctx)
}

// newViper binds the command's flags and LINKSCOUT_* environment variables.
func newViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}
	return v, nil
}

// buildConfig resolves the base configuration: built-in defaults, the config
// file entry of the target site, then environment and flags.
func buildConfig(v *viper.Viper, args []string) (*config.Config, error) {
	startURL := v.GetString("start-url")
	if len(args) > 0 {
		startURL = args[0]
	}

	file, err := loadConfigFile(v.GetString("config"))
	if err != nil {
		return nil, err
	}

	site := v.GetString("site")
	if site == "" {
		site = config.HostOf(startURL)
	}
	cfg := resolveSiteConfig(v, file, site, startURL)
	cfg.ConfigFilePath = v.GetString("config")
	return cfg, nil
}

// loadConfigFile loads path, or the first .linkscout found when path is
// empty. An explicit path that does not exist is an error.
func loadConfigFile(path string) (*config.File, error) {
	found := config.FindConfigFile(path)
	if found == "" {
		if path != "" {
			return nil, fmt.Errorf("%w: %s", config.ErrConfigNotFound, path)
		}
		return &config.File{Sites: make(map[string]config.SiteConfig)}, nil
	}
	file, err := config.LoadConfigFile(found)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %w", found, err)
	}
	return file, nil
}

// resolveSiteConfig builds the configuration of one site. Flags and
// environment win over the file; startURL, when set, wins over both.
func resolveSiteConfig(v *viper.Viper, file *config.File, site, startURL string) *config.Config {
	cfg := config.NewConfig()
	cfg.ApplyFile(file, site)
	applyOverrides(v, cfg)
	if startURL != "" {
		cfg.StartURL = startURL
	}
	return cfg
}

// applyOverrides copies every flag or environment variable that was set.
func applyOverrides(v *viper.Viper, cfg *config.Config) {
	setString(v, "start-url", &cfg.StartURL)
	setString(v, "site", &cfg.Site)
	setInt(v, "max-pages", &cfg.MaxPages)
	setDuration(v, "time-budget", &cfg.TimeBudget)
	setDuration(v, "delay-min", &cfg.DelayMin)
	setDuration(v, "delay-max", &cfg.DelayMax)
	setDuration(v, "delay-between-requests", &cfg.DelayBetweenRequests)
	setBool(v, "stealth", &cfg.Stealth)
	setString(v, "user-agent", &cfg.UserAgent)
	setDuration(v, "timeout", &cfg.Timeout)
	setString(v, "renderer", &cfg.Renderer)
	setBool(v, "headless", &cfg.Headless)
	setString(v, "chrome-path", &cfg.ChromePath)
	setString(v, "proxy", &cfg.Proxy)
	setString(v, "cookie", &cfg.Cookie)
	if v.IsSet("header") {
		cfg.Headers = v.GetStringMapString("header")
	}
	setInt64(v, "max-body-size", &cfg.MaxBodySize)
	setInt(v, "concurrency", &cfg.Concurrency)

	// max-retries is canonical; retries only counts when it is unset.
	switch {
	case v.IsSet("max-retries"):
		cfg.MaxRetries = v.GetInt("max-retries")
	case v.IsSet("retries"):
		cfg.MaxRetries = v.GetInt("retries")
	}
	setDuration(v, "retry-delay", &cfg.RetryDelay)
	setDuration(v, "retry-max-delay", &cfg.RetryMaxDelay)
	setString(v, "retry-strategy", &cfg.RetryStrategy)

	setStrings(v, "ignore", &cfg.IgnorePatterns)
	setStrings(v, "follow", &cfg.FollowPatterns)
	setStrings(v, "keep-query-params", &cfg.KeepQueryParams)
	setStrings(v, "skip-extensions", &cfg.SkipExtensions)

	setString(v, "output-dir", &cfg.OutputDir)
	setString(v, "output-file", &cfg.OutputFile)
	setBool(v, "json", &cfg.JSONReport)
	setBool(v, "markdown", &cfg.MarkdownReport)
	setString(v, "summary-file", &cfg.SummaryFile)

	setBool(v, "resume", &cfg.Resume)
	setInt(v, "checkpoint-every", &cfg.CheckpointEvery)
	setString(v, "store", &cfg.StoreBackend)
	setString(v, "store-dsn", &cfg.StoreDSN)
	setDuration(v, "store-ttl", &cfg.StoreTTL)

	setString(v, "kafka-broker", &cfg.KafkaBroker)
	setString(v, "kafka-topic", &cfg.KafkaTopic)

	setBool(v, "all-sites", &cfg.AllSites)
	setInt(v, "batch", &cfg.BatchSize)

	setBool(v, "verbose", &cfg.Verbose)
	setBool(v, "log-json", &cfg.LogJSON)
}

func setString(v *viper.Viper, key string, dst *string) {
	if v.IsSet(key) {
		*dst = v.GetString(key)
	}
}

func setInt(v *viper.Viper, key string, dst *int) {
	if v.IsSet(key) {
		*dst = v.GetInt(key)
	}
}

func setInt64(v *viper.Viper, key string, dst *int64) {
	if v.IsSet(key) {
		*dst = v.GetInt64(key)
	}
}

func setBool(v *viper.Viper, key string, dst *bool) {
	if v.IsSet(key) {
		*dst = v.GetBool(key)
	}
}

func setDuration(v *viper.Viper, key string, dst *time.Duration) {
	if v.IsSet(key) {
		*dst = v.GetDuration(key)
	}
}

func setStrings(v *viper.Viper, key string, dst *[]string) {
	if v.IsSet(key) {
		*dst = v.GetStringSlice(key)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	if cfg.LogJSON {
		return log.NewJSONLogger(os.Stderr, cfg.Verbose)
	}
	return log.NewLogger(os.Stderr, cfg.Verbose)
}
