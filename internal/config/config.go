// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/tagops-pipeline/internal/logging"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Stages    StagesConfig    `mapstructure:"stages"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	MCP       MCPConfig       `mapstructure:"mcp"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Logging   logging.Config  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ScraperPort            int `mapstructure:"scraper_port"`
	RequestTimeoutSeconds  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig guards the service-to-service scrape endpoint.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ScraperConfig governs the Insight Forge service and the launcher's forward to it.
type ScraperConfig struct {
	ServiceURL             string `mapstructure:"service_url"`
	DispatchTimeoutSeconds int    `mapstructure:"dispatch_timeout_seconds"`
	Concurrency            int    `mapstructure:"concurrency"`
	QueueDepth             int    `mapstructure:"queue_depth"`
	MaxPages               int    `mapstructure:"max_pages"`
	JobTimeoutSeconds      int    `mapstructure:"job_timeout_seconds"`
	CaptureRetries         int    `mapstructure:"capture_retries"`
}

// DiscoveryConfig configures same-site link discovery.
type DiscoveryConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	RespectRobots  bool   `mapstructure:"respect_robots"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// HeadlessConfig configures the Chrome instances used for capture and PDF rendering.
type HeadlessConfig struct {
	MaxParallel       int     `mapstructure:"max_parallel"`
	NavTimeoutSeconds int     `mapstructure:"nav_timeout_seconds"`
	SettleMillis      int     `mapstructure:"settle_millis"`
	DomainQPS         float64 `mapstructure:"domain_qps"`
	DomainBurst       int     `mapstructure:"domain_burst"`
	UserAgent         string  `mapstructure:"user_agent"`
	ExecPath          string  `mapstructure:"exec_path"`
}

// StorageConfig selects and configures the blob backend.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
}

// DBConfig selects and configures the job document store.
type DBConfig struct {
	Backend  string `mapstructure:"backend"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// LLMConfig points at an OpenAI-compatible chat completions endpoint.
type LLMConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	APIKey            string  `mapstructure:"api_key"`
	Model             string  `mapstructure:"model"`
	Temperature       float64 `mapstructure:"temperature"`
	MaxTokens         int     `mapstructure:"max_tokens"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	SEOPromptFile     string  `mapstructure:"seo_prompt_file"`
	TaggingPromptFile string  `mapstructure:"tagging_prompt_file"`
}

// StagesConfig bounds the synchronous stages.
type StagesConfig struct {
	AnalyticCoreTimeoutSeconds int `mapstructure:"analytic_core_timeout_seconds"`
	TagOpsHubTimeoutSeconds    int `mapstructure:"tagops_hub_timeout_seconds"`
}

// PubSubConfig holds metadata for status-change notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MCPConfig points at the agent tool server.
type MCPConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// TelemetryConfig enables Cloud Trace export.
type TelemetryConfig struct {
	ProjectID   string  `mapstructure:"project_id"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TAGOPS")
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

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.scraper_port", 8081)
	v.SetDefault("server.request_timeout_seconds", 300)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("scraper.service_url", "http://localhost:8081")
	v.SetDefault("scraper.dispatch_timeout_seconds", 30)
	v.SetDefault("scraper.concurrency", 2)
	v.SetDefault("scraper.queue_depth", 32)
	v.SetDefault("scraper.max_pages", 20)
	v.SetDefault("scraper.job_timeout_seconds", 600)
	v.SetDefault("scraper.capture_retries", 1)
	v.SetDefault("discovery.user_agent", "tagops-bot/0.1")
	v.SetDefault("discovery.respect_robots", true)
	v.SetDefault("discovery.timeout_seconds", 20)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.settle_millis", 1500)
	v.SetDefault("headless.domain_qps", 1.0)
	v.SetDefault("headless.domain_burst", 1)
	v.SetDefault("headless.user_agent", "")
	v.SetDefault("headless.exec_path", "")
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.local_dir", "./data/blobs")
	v.SetDefault("db.backend", "memory")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 8192)
	v.SetDefault("llm.timeout_seconds", 240)
	v.SetDefault("llm.seo_prompt_file", "")
	v.SetDefault("llm.tagging_prompt_file", "")
	v.SetDefault("stages.analytic_core_timeout_seconds", 300)
	v.SetDefault("stages.tagops_hub_timeout_seconds", 120)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("mcp.endpoint", "")
	v.SetDefault("mcp.timeout_seconds", 60)
	v.SetDefault("telemetry.project_id", "")
	v.SetDefault("telemetry.service_name", "tagops-pipeline")
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.ScraperPort <= 0 {
		return fmt.Errorf("server.scraper_port must be > 0")
	}
	if c.Scraper.Concurrency <= 0 {
		return fmt.Errorf("scraper.concurrency must be > 0")
	}
	if c.Scraper.QueueDepth <= 0 {
		return fmt.Errorf("scraper.queue_depth must be > 0")
	}
	if c.Scraper.MaxPages <= 0 {
		return fmt.Errorf("scraper.max_pages must be > 0")
	}
	if c.Scraper.ServiceURL != "" {
		u, err := url.Parse(c.Scraper.ServiceURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("scraper.service_url must be an absolute http(s) URL")
		}
	}
	if c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0")
	}
	if c.Headless.DomainQPS < 0 {
		return fmt.Errorf("headless.domain_qps must be >= 0")
	}
	switch c.Storage.Backend {
	case "memory":
	case "local":
		if strings.TrimSpace(c.Storage.LocalDir) == "" {
			return fmt.Errorf("storage.local_dir is required for the local backend")
		}
	case "gcs":
		if strings.TrimSpace(c.Storage.GCSBucket) == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of memory, local, gcs")
	}
	switch c.DB.Backend {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.DB.DSN) == "" {
			return fmt.Errorf("db.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("db.backend must be one of memory, postgres")
	}
	if c.LLM.TimeoutSeconds <= 0 {
		return fmt.Errorf("llm.timeout_seconds must be > 0")
	}
	if c.Stages.AnalyticCoreTimeoutSeconds <= 0 || c.Stages.TagOpsHubTimeoutSeconds <= 0 {
		return fmt.Errorf("stages timeouts must be > 0")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// ValidateSplit rejects backends that only work when the API and the scraper
// share one process. A split scraper would never see jobs or screenshots kept
// in the other process's memory.
func (c Config) ValidateSplit() error {
	if c.DB.Backend == "memory" {
		return fmt.Errorf("db.backend=memory requires `tagops all`; use postgres when running api and scraper separately")
	}
	if c.Storage.Backend == "memory" {
		return fmt.Errorf("storage.backend=memory requires `tagops all`; use gcs or local when running api and scraper separately")
	}
	return nil
}

// Seconds converts a seconds knob into a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
