package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 20, cfg.Scraper.MaxPages)
	require.Equal(t, 1, cfg.Scraper.CaptureRetries)
	require.Equal(t, "memory", cfg.Storage.Backend)
	require.Equal(t, "memory", cfg.DB.Backend)
	require.True(t, cfg.Discovery.RespectRobots)
	require.True(t, cfg.Logging.Development)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  scraper_port: 9091
auth:
  enabled: true
  api_key: secret
scraper:
  service_url: https://scraper.internal
  concurrency: 3
  queue_depth: 8
  max_pages: 5
headless:
  max_parallel: 4
  domain_qps: 0.5
storage:
  backend: gcs
  gcs_bucket: reports-bucket
db:
  backend: postgres
  dsn: postgres://localhost/tagops
llm:
  model: gemini-2.5-pro
  temperature: 0.7
stages:
  analytic_core_timeout_seconds: 540
pubsub:
  project_id: proj
  topic_name: job-status
logging:
  development: false
  level: warn
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, "https://scraper.internal", cfg.Scraper.ServiceURL)
	require.Equal(t, 5, cfg.Scraper.MaxPages)
	require.InDelta(t, 0.5, cfg.Headless.DomainQPS, 1e-9)
	require.Equal(t, "reports-bucket", cfg.Storage.GCSBucket)
	require.Equal(t, "postgres", cfg.DB.Backend)
	require.Equal(t, "gemini-2.5-pro", cfg.LLM.Model)
	require.Equal(t, 540*time.Second, Seconds(cfg.Stages.AnalyticCoreTimeoutSeconds))
	require.Equal(t, 120, cfg.Stages.TagOpsHubTimeoutSeconds, "unset keys keep defaults")
	require.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("TAGOPS_SCRAPER_MAX_PAGES", "7")
	t.Setenv("TAGOPS_LLM_API_KEY", "sk-test")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 7, cfg.Scraper.MaxPages)
	require.Equal(t, "sk-test", cfg.LLM.APIKey)
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:   ServerConfig{Port: 8080, ScraperPort: 8081},
		Scraper:  ScraperConfig{Concurrency: 1, QueueDepth: 1, MaxPages: 20},
		Headless: HeadlessConfig{MaxParallel: 1},
		Storage:  StorageConfig{Backend: "memory"},
		DB:       DBConfig{Backend: "memory"},
		LLM:      LLMConfig{TimeoutSeconds: 10},
		Stages:   StagesConfig{AnalyticCoreTimeoutSeconds: 1, TagOpsHubTimeoutSeconds: 1},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "invalid concurrency", mutate: func(c *Config) { c.Scraper.Concurrency = 0 }, want: "scraper.concurrency"},
		{name: "relative scraper url", mutate: func(c *Config) { c.Scraper.ServiceURL = "/scrape" }, want: "scraper.service_url"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Storage.Backend = "gcs" }, want: "storage.gcs_bucket"},
		{name: "unknown storage", mutate: func(c *Config) { c.Storage.Backend = "s3" }, want: "storage.backend"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.DB.Backend = "postgres" }, want: "db.dsn"},
		{name: "topic without project", mutate: func(c *Config) { c.PubSub.TopicName = "t" }, want: "pubsub.project_id"},
		{name: "auth missing api key", mutate: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateSplitNeedsSharedStores(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.ErrorContains(t, cfg.ValidateSplit(), "db.backend=memory")

	cfg.DB.Backend = "postgres"
	require.ErrorContains(t, cfg.ValidateSplit(), "storage.backend=memory")

	cfg.Storage.Backend = "gcs"
	require.NoError(t, cfg.ValidateSplit())
}
