package config

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/markdown-crawler/internal/change"
	"github.com/JakeFAU/markdown-crawler/internal/storage"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
crawler:
  user_agent: test-agent
  max_depth: 2
  max_pages: 25
  stay_on_domain: false
  follow_subdomains: true
  parallel_downloads: 3
  allowed_file_types: [".PDF", "csv", "pdf"]
  change_strategy: structural
  force_refresh: true
  retry_delay_ms: 50
storage:
  type: gcs
  gcs_bucket: artifacts
database:
  driver: postgres
  dsn: postgres://localhost/crawl
converter:
  commands:
    pdf: ["mutool", "draw", "-F", "txt", "{input}"]
logging:
  development: true
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.True(t, cfg.Logging.Development)
	require.Equal(t, []string{"mutool", "draw", "-F", "txt", "{input}"}, cfg.Converter.Commands["pdf"])
	require.Equal(t, 30*time.Second, cfg.FetchTimeout())

	snap, err := cfg.Crawl()
	require.NoError(t, err)
	require.Equal(t, 2, snap.MaxDepth)
	require.Equal(t, 25, snap.MaxPages)
	require.False(t, snap.StayOnDomain)
	require.True(t, snap.FollowSubdomains)
	require.Equal(t, 3, snap.ParallelDownloads)
	require.Equal(t, []string{"pdf", "csv"}, snap.AllowedFileTypes)
	require.Equal(t, change.StrategyStructural, snap.ChangeStrategy)
	require.True(t, snap.ForceRefresh)
	require.Equal(t, 50*time.Millisecond, snap.RetryDelay)
	require.Equal(t, storage.Target{Type: storage.TypeGCS, Bucket: "artifacts"}, snap.Storage)
	require.Equal(t, DriverPostgres, snap.Database)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, DriverSQLite, cfg.Database.Driver)

	snap, err := cfg.Crawl()
	require.NoError(t, err)
	require.Equal(t, 0, snap.MaxDepth)
	require.True(t, snap.StayOnDomain)
	require.Equal(t, 5, snap.ParallelDownloads)
	require.Equal(t, []string{"pdf", "doc", "docx", "xls", "xlsx", "csv"}, snap.AllowedFileTypes)
	require.Equal(t, change.StrategyContentHash, snap.ChangeStrategy)
	require.Equal(t, storage.TypeLocal, snap.Storage.Type)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CRAWLER_SERVER_PORT", "7070")
	t.Setenv("CRAWLER_CRAWLER_PARALLEL_DOWNLOADS", "9")
	t.Setenv("CRAWLER_DATABASE_DRIVER", "memory")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, 9, cfg.Crawler.ParallelDownloads)
	require.Equal(t, DriverMemory, cfg.Database.Driver)
}

func TestValidateRejectsBadSettings(t *testing.T) {
	t.Parallel()

	base := func() Config {
		return Config{
			Server:   ServerConfig{Port: 8080},
			Fetch:    FetchConfig{TimeoutSeconds: 10},
			Database: DatabaseConfig{Driver: DriverMemory},
			Storage:  StorageConfig{Type: "local", LocalPath: "/tmp/out"},
			Crawler: CrawlerConfig{
				MaxPages:          10,
				ParallelDownloads: 2,
				AllowedFileTypes:  []string{"pdf"},
			},
		}
	}
	require.NoError(t, base().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"timeout", func(c *Config) { c.Fetch.TimeoutSeconds = 0 }, "fetch.timeout_seconds"},
		{"headless", func(c *Config) { c.Fetch.Headless.Enabled = true }, "max_parallel"},
		{"driver", func(c *Config) { c.Database.Driver = "mongo" }, "database.driver"},
		{"sqlite path", func(c *Config) { c.Database.Driver = DriverSQLite }, "sqlite_path"},
		{"postgres dsn", func(c *Config) { c.Database.Driver = DriverPostgres }, "database.dsn"},
		{"pubsub", func(c *Config) { c.PubSub.Enabled = true }, "pubsub"},
		{"strategy", func(c *Config) { c.Crawler.ChangeStrategy = "magic" }, "change_strategy"},
		{"storage", func(c *Config) { c.Storage.LocalPath = "" }, "storage"},
		{"file types", func(c *Config) { c.Crawler.AllowedFileTypes = []string{"zip"} }, "allowed_file_types"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tt.mutate(&cfg)
			require.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestHolderUpdate(t *testing.T) {
	t.Parallel()

	h, err := NewHolder(CrawlConfig{
		Storage:           storage.Target{Type: storage.TypeMemory},
		MaxPages:          10,
		ParallelDownloads: 2,
		AllowedFileTypes:  []string{"pdf", "csv"},
	})
	require.NoError(t, err)
	before := h.Current()

	depth, parallel := 3, 8
	stay := false
	snap, err := h.Update(Update{
		MaxDepth:          &depth,
		ParallelDownloads: &parallel,
		StayOnDomain:      &stay,
		AllowedFileTypes:  []string{".XLSX"},
	})
	require.NoError(t, err)
	require.Equal(t, 3, snap.MaxDepth)
	require.Equal(t, 8, snap.ParallelDownloads)
	require.Equal(t, []string{"xlsx"}, snap.AllowedFileTypes)
	require.Equal(t, snap, h.Current())

	// Snapshots captured earlier are unaffected.
	require.Equal(t, 0, before.MaxDepth)
	require.Equal(t, []string{"pdf", "csv"}, before.AllowedFileTypes)
}

func TestHolderRejectsInvalidUpdate(t *testing.T) {
	t.Parallel()

	h, err := NewHolder(CrawlConfig{
		Storage:           storage.Target{Type: storage.TypeMemory},
		MaxPages:          10,
		ParallelDownloads: 2,
		AllowedFileTypes:  []string{"pdf"},
	})
	require.NoError(t, err)
	before := h.Current()

	tooMany := ParallelDownloadsLimit + 1
	_, err = h.Update(Update{ParallelDownloads: &tooMany})
	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))
	require.Equal(t, "parallel_downloads", vErr.Field)

	negative := -1
	_, err = h.Update(Update{MaxDepth: &negative})
	require.ErrorAs(t, err, &vErr)

	_, err = h.Update(Update{AllowedFileTypes: []string{}})
	require.ErrorAs(t, err, &vErr)
	require.Equal(t, "allowed_file_types", vErr.Field)

	require.Equal(t, before, h.Current())
}

func TestHolderConcurrentReaders(t *testing.T) {
	t.Parallel()

	h, err := NewHolder(CrawlConfig{
		Storage:           storage.Target{Type: storage.TypeMemory},
		MaxPages:          10,
		ParallelDownloads: 1,
		AllowedFileTypes:  []string{"pdf"},
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			n := i%ParallelDownloadsLimit + 1
			_, _ = h.Update(Update{ParallelDownloads: &n})
		}()
		go func() {
			defer wg.Done()
			snap := h.Current()
			if snap.ParallelDownloads < 1 {
				t.Errorf("observed invalid snapshot %+v", snap)
			}
		}()
	}
	wg.Wait()
}

func TestCrawlConfigAllows(t *testing.T) {
	t.Parallel()

	snap := CrawlConfig{AllowedFileTypes: []string{"pdf", "csv"}}
	require.True(t, snap.Allows("PDF"))
	require.True(t, snap.Allows(".csv"))
	require.False(t, snap.Allows("zip"))
	require.Equal(t, "memory", snap.WithStorage(storage.Target{Type: "memory"}).RunConfig().StorageType)
}
