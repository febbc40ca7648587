package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/markdown-crawler/internal/config"
	histmem "github.com/JakeFAU/markdown-crawler/internal/history/memory"
	memorypublisher "github.com/JakeFAU/markdown-crawler/internal/publisher/memory"
)

func testConfig() config.Config {
	return config.Config{
		Server:   config.ServerConfig{Port: 0, ShutdownTimeoutSeconds: 2, RecentLimit: 10},
		Logging:  config.LoggingConfig{Development: true, Level: "debug"},
		Crawler: config.CrawlerConfig{
			UserAgent:         "test-agent",
			MaxPages:          5,
			StayOnDomain:      true,
			ParallelDownloads: 2,
			AllowedFileTypes:  []string{"pdf", "csv"},
			ChangeStrategy:    "content_hash",
		},
		Fetch:    config.FetchConfig{TimeoutSeconds: 5, MaxBodyBytes: 1 << 20},
		Storage:  config.StorageConfig{Type: "memory"},
		Database: config.DatabaseConfig{Driver: config.DriverMemory},
		Progress: config.ProgressConfig{BufferSize: 16, MaxBatchEvents: 4, MaxBatchWaitMs: 10, SubscriberBuffer: 8},
	}
}

func TestBuildServesStatus(t *testing.T) {
	t.Parallel()

	app, err := Build(context.Background(), testConfig(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	srv := httptest.NewServer(app.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/crawl/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	require.Equal(t, "idle", status["state"])

	cfg := app.Crawls().Config()
	require.Equal(t, 5, cfg.MaxPages)
	require.Equal(t, []string{"pdf", "csv"}, cfg.AllowedFileTypes)
}

func TestBuildWithInjectedDependencies(t *testing.T) {
	t.Parallel()

	store := histmem.NewStore()
	pub := memorypublisher.New()
	app, err := Build(context.Background(), testConfig(), nil, WithHistoryStore(store), WithPublisher(pub))
	require.NoError(t, err)
	require.Same(t, store, app.History())
	require.NotNil(t, app.Broadcaster())
	require.NoError(t, app.Close(context.Background()))
}

func TestBuildRejectsInvalidCrawlConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Crawler.ChangeStrategy = "vibes"
	app, err := Build(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	require.ErrorContains(t, err, "crawl config")
	require.Nil(t, app)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	app, err := Build(context.Background(), testConfig(), zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
