// Package config loads service configuration via Viper and holds the crawl
// configuration snapshot used by runs.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Converter ConverterConfig `mapstructure:"converter"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Progress  ProgressConfig  `mapstructure:"progress"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
	// RecentLimit bounds the recent-content ring kept per run.
	RecentLimit int `mapstructure:"recent_limit"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CrawlerConfig seeds the initial crawl snapshot.
type CrawlerConfig struct {
	UserAgent         string   `mapstructure:"user_agent"`
	MaxDepth          int      `mapstructure:"max_depth"`
	MaxPages          int      `mapstructure:"max_pages"`
	StayOnDomain      bool     `mapstructure:"stay_on_domain"`
	FollowSubdomains  bool     `mapstructure:"follow_subdomains"`
	ParallelDownloads int      `mapstructure:"parallel_downloads"`
	AllowedFileTypes  []string `mapstructure:"allowed_file_types"`
	ChangeStrategy    string   `mapstructure:"change_strategy"`
	ForceRefresh      bool     `mapstructure:"force_refresh"`
	RetryDelayMs      int      `mapstructure:"retry_delay_ms"`
	// DownloadRate is the document download rate per second; 0 disables limiting.
	DownloadRate  float64 `mapstructure:"download_rate"`
	DownloadBurst int     `mapstructure:"download_burst"`
}

// FetchConfig configures the page and document fetchers.
type FetchConfig struct {
	TimeoutSeconds int            `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int64          `mapstructure:"max_body_bytes"`
	RespectRobots  bool           `mapstructure:"respect_robots"`
	Readability    bool           `mapstructure:"readability"`
	Headless       HeadlessConfig `mapstructure:"headless"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled            bool `mapstructure:"enabled"`
	MaxParallel        int  `mapstructure:"max_parallel"`
	NavTimeoutSeconds  int  `mapstructure:"nav_timeout_seconds"`
	PromotionThreshold int  `mapstructure:"promotion_threshold"`
	SettleMs           int  `mapstructure:"settle_ms"`
	// LoadMedia lets the browser fetch images, fonts and media.
	LoadMedia bool `mapstructure:"load_media"`
}

// StorageConfig selects the default storage target.
type StorageConfig struct {
	Type      string `mapstructure:"type"`
	LocalPath string `mapstructure:"local_path"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSRegion string `mapstructure:"gcs_region"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// Database drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DatabaseConfig selects and tunes the history store.
type DatabaseConfig struct {
	Driver     string `mapstructure:"driver"`
	SQLitePath string `mapstructure:"sqlite_path"`
	DSN        string `mapstructure:"dsn"`
	MaxConns   int32  `mapstructure:"max_conns"`
	MinConns   int32  `mapstructure:"min_conns"`
}

// ConverterConfig overrides external conversion commands per document kind.
type ConverterConfig struct {
	Commands map[string][]string `mapstructure:"commands"`
	TempDir  string              `mapstructure:"temp_dir"`
}

// PubSubConfig holds run-completion notification settings.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ProgressConfig sizes the progress hub and live subscriptions.
type ProgressConfig struct {
	BufferSize       int `mapstructure:"buffer_size"`
	MaxBatchEvents   int `mapstructure:"max_batch_events"`
	MaxBatchWaitMs   int `mapstructure:"max_batch_wait_ms"`
	SubscriberBuffer int `mapstructure:"subscriber_buffer"`
}

// Load builds a Config from an optional file plus CRAWLER_* environment variables.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Crawler.AllowedFileTypes = splitList(cfg.Crawler.AllowedFileTypes)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("server.recent_limit", 50)
	v.SetDefault("logging.development", false)
	v.SetDefault("crawler.user_agent", "markdown-crawler/1.0")
	v.SetDefault("crawler.max_depth", 0)
	v.SetDefault("crawler.max_pages", 100)
	v.SetDefault("crawler.stay_on_domain", true)
	v.SetDefault("crawler.follow_subdomains", false)
	v.SetDefault("crawler.parallel_downloads", 5)
	v.SetDefault("crawler.allowed_file_types", []string{"pdf", "doc", "docx", "xls", "xlsx", "csv"})
	v.SetDefault("crawler.change_strategy", "content_hash")
	v.SetDefault("crawler.force_refresh", false)
	v.SetDefault("crawler.retry_delay_ms", 500)
	v.SetDefault("crawler.download_rate", 0)
	v.SetDefault("crawler.download_burst", 1)
	v.SetDefault("fetch.timeout_seconds", 30)
	v.SetDefault("fetch.max_body_bytes", 50<<20)
	v.SetDefault("fetch.respect_robots", true)
	v.SetDefault("fetch.readability", true)
	v.SetDefault("fetch.headless.enabled", false)
	v.SetDefault("fetch.headless.max_parallel", 2)
	v.SetDefault("fetch.headless.nav_timeout_seconds", 30)
	v.SetDefault("fetch.headless.promotion_threshold", 2048)
	v.SetDefault("fetch.headless.settle_ms", 500)
	v.SetDefault("fetch.headless.load_media", false)
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_path", "./crawl_output")
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.sqlite_path", "./crawl_output/crawl.db")
	v.SetDefault("database.max_conns", 8)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 100)
	v.SetDefault("progress.max_batch_wait_ms", 500)
	v.SetDefault("progress.subscriber_buffer", 64)
}

// splitList accepts both YAML lists and comma separated env values.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Fetch.Headless.Enabled && c.Fetch.Headless.MaxParallel <= 0 {
		return fmt.Errorf("fetch.headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.Database.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("database.sqlite_path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set when pubsub is enabled")
	}
	if _, err := c.Crawl(); err != nil {
		return err
	}
	return nil
}

// FetchTimeout returns the per-request fetch budget.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// ShutdownTimeout returns the graceful shutdown budget.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// ProgressBatchWait returns the hub's maximum batch delay.
func (c Config) ProgressBatchWait() time.Duration {
	return time.Duration(c.Progress.MaxBatchWaitMs) * time.Millisecond
}
