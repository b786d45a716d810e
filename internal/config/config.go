package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrConfigInvalid marks configuration rejected at load or reconfigure time.
var ErrConfigInvalid = errors.New("configuration invalid")

// Config is the root configuration structure for trendhawk.
type Config struct {
	General   GeneralConfig   `yaml:"general"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Sources   SourcesConfig   `yaml:"sources"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Store     StoreConfig     `yaml:"store"`
	HTTP      HTTPConfig      `yaml:"http"`
}

type GeneralConfig struct {
	InstanceID  string `yaml:"instance_id"`
	Environment string `yaml:"environment"` // production|staging|development
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // json|text
}

// MonitorConfig holds the tunable monitoring surface. Threshold and cadence
// values may be changed at runtime through Orchestrator.Reconfigure.
type MonitorConfig struct {
	AlertThreshold       int      `yaml:"alert_threshold"`         // distinct accounts for quorum
	MentionScanIntervalS int      `yaml:"mention_scan_interval_s"` // mention scan cadence
	CADiscoveryIntervalS int      `yaml:"ca_discovery_interval_s"` // CA poll cadence
	FreshnessWindowS     int      `yaml:"freshness_window_s"`      // max asset age for a live match
	MentionWindowMinutes int      `yaml:"mention_window_minutes"`  // rolling quorum window
	ActivationTTLHours   int      `yaml:"activation_ttl_hours"`    // active -> expired cutoff
	AccountScanRPS       float64  `yaml:"account_scan_rps"`        // inter-account pacing
	EnabledSources       []string `yaml:"enabled_sources"`         // timeline|rss|scrape|synthetic
	Accounts             []string `yaml:"accounts"`                // static watch-list
	TargetAccount        string   `yaml:"target_account"`          // following-list seed account
	KnownTokenSeed       []string `yaml:"known_token_seed"`        // extra established tokens
}

type SourcesConfig struct {
	Timeline TimelineSourceConfig `yaml:"timeline"`
	RSS      RSSSourceConfig      `yaml:"rss"`
	Scrape   ScrapeSourceConfig   `yaml:"scrape"`
}

type TimelineSourceConfig struct {
	BaseURL   string `yaml:"base_url"`
	TimeoutS  int    `yaml:"timeout_s"`
	MaxPosts  int    `yaml:"max_posts"`
	UserAgent string `yaml:"user_agent"`
}

type RSSSourceConfig struct {
	Endpoints []string `yaml:"endpoints"` // tried in order, %s = account handle
	TimeoutS  int      `yaml:"timeout_s"`
	MaxItems  int      `yaml:"max_items"`
}

type ScrapeSourceConfig struct {
	BaseURL  string `yaml:"base_url"`
	TimeoutS int    `yaml:"timeout_s"`
}

type DiscoveryConfig struct {
	RecentAssetEndpoints []string `yaml:"recent_asset_endpoints"` // tried in order
	PushFeedURL          string   `yaml:"push_feed_url"`
	PollTimeoutS         int      `yaml:"poll_timeout_s"`
	ReconnectDelayMs     int      `yaml:"reconnect_delay_ms"`
	PingIntervalS        int      `yaml:"ping_interval_s"`
	ChartURLTemplate     string   `yaml:"chart_url_template"` // %s = contract address
}

type StoreConfig struct {
	MongoURI string `yaml:"mongo_uri"`
	Database string `yaml:"database"`
	TimeoutS int    `yaml:"timeout_s"`
}

type HTTPConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	return cfg, nil
}

// Default returns a configuration with all defaults applied and no file read.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = "trendhawk-1"
	}
	if cfg.General.Environment == "" {
		cfg.General.Environment = "development"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}
	if cfg.Monitor.AlertThreshold == 0 {
		cfg.Monitor.AlertThreshold = 2
	}
	if cfg.Monitor.MentionScanIntervalS == 0 {
		cfg.Monitor.MentionScanIntervalS = 30
	}
	if cfg.Monitor.CADiscoveryIntervalS == 0 {
		cfg.Monitor.CADiscoveryIntervalS = 2
	}
	if cfg.Monitor.FreshnessWindowS == 0 {
		cfg.Monitor.FreshnessWindowS = 60
	}
	if cfg.Monitor.MentionWindowMinutes == 0 {
		cfg.Monitor.MentionWindowMinutes = 60
	}
	if cfg.Monitor.ActivationTTLHours == 0 {
		cfg.Monitor.ActivationTTLHours = 24
	}
	if cfg.Monitor.AccountScanRPS == 0 {
		cfg.Monitor.AccountScanRPS = 0.5 // one account every 2s
	}
	if len(cfg.Monitor.EnabledSources) == 0 {
		cfg.Monitor.EnabledSources = []string{"timeline", "rss", "scrape"}
	}
	if cfg.Sources.Timeline.BaseURL == "" {
		cfg.Sources.Timeline.BaseURL = "https://syndication.twitter.com"
	}
	if cfg.Sources.Timeline.TimeoutS == 0 {
		cfg.Sources.Timeline.TimeoutS = 10
	}
	if cfg.Sources.Timeline.MaxPosts == 0 {
		cfg.Sources.Timeline.MaxPosts = 10
	}
	if len(cfg.Sources.RSS.Endpoints) == 0 {
		cfg.Sources.RSS.Endpoints = []string{
			"https://nitter.net/%s/rss",
			"https://nitter.it/%s/rss",
		}
	}
	if cfg.Sources.RSS.TimeoutS == 0 {
		cfg.Sources.RSS.TimeoutS = 10
	}
	if cfg.Sources.RSS.MaxItems == 0 {
		cfg.Sources.RSS.MaxItems = 10
	}
	if cfg.Sources.Scrape.BaseURL == "" {
		cfg.Sources.Scrape.BaseURL = "https://x.com"
	}
	if cfg.Sources.Scrape.TimeoutS == 0 {
		cfg.Sources.Scrape.TimeoutS = 15
	}
	if len(cfg.Discovery.RecentAssetEndpoints) == 0 {
		cfg.Discovery.RecentAssetEndpoints = []string{
			"https://client-api-v1.pump.fun/coins?limit=50&sort=created&includeNsfw=true",
			"https://api.pump.fun/coins/recently-created",
		}
	}
	if cfg.Discovery.PushFeedURL == "" {
		cfg.Discovery.PushFeedURL = "wss://pumpportal.fun/api/data"
	}
	if cfg.Discovery.PollTimeoutS == 0 {
		cfg.Discovery.PollTimeoutS = 5
	}
	if cfg.Discovery.ReconnectDelayMs == 0 {
		cfg.Discovery.ReconnectDelayMs = 5000
	}
	if cfg.Discovery.PingIntervalS == 0 {
		cfg.Discovery.PingIntervalS = 20
	}
	if cfg.Discovery.ChartURLTemplate == "" {
		cfg.Discovery.ChartURLTemplate = "https://photon-sol.tinyastro.io/en/lp/%s?timeframe=1s"
	}
	if cfg.Store.MongoURI == "" {
		cfg.Store.MongoURI = "mongodb://localhost:27017"
	}
	if cfg.Store.Database == "" {
		cfg.Store.Database = "trendhawk"
	}
	if cfg.Store.TimeoutS == 0 {
		cfg.Store.TimeoutS = 5
	}
	if cfg.HTTP.ListenAddr == "" {
		cfg.HTTP.ListenAddr = ":8090"
	}
}

// Validate rejects values outside the accepted ranges. A config that fails
// validation is never applied; the previous configuration remains in effect.
func (c *Config) Validate() error {
	if err := c.Monitor.Validate(); err != nil {
		return err
	}
	for _, src := range c.Monitor.EnabledSources {
		switch src {
		case "timeline", "rss", "scrape", "synthetic":
		default:
			return fmt.Errorf("%w: unknown source %q", ErrConfigInvalid, src)
		}
	}
	return nil
}

// Validate checks the runtime-tunable monitoring values.
func (m *MonitorConfig) Validate() error {
	if m.AlertThreshold < 1 {
		return fmt.Errorf("%w: alert_threshold must be >= 1, got %d", ErrConfigInvalid, m.AlertThreshold)
	}
	if m.MentionScanIntervalS < 1 {
		return fmt.Errorf("%w: mention_scan_interval_s must be >= 1, got %d", ErrConfigInvalid, m.MentionScanIntervalS)
	}
	if m.CADiscoveryIntervalS < 1 {
		return fmt.Errorf("%w: ca_discovery_interval_s must be >= 1, got %d", ErrConfigInvalid, m.CADiscoveryIntervalS)
	}
	if m.FreshnessWindowS < 1 {
		return fmt.Errorf("%w: freshness_window_s must be >= 1, got %d", ErrConfigInvalid, m.FreshnessWindowS)
	}
	if m.MentionWindowMinutes < 1 {
		return fmt.Errorf("%w: mention_window_minutes must be >= 1, got %d", ErrConfigInvalid, m.MentionWindowMinutes)
	}
	if m.ActivationTTLHours < 1 {
		return fmt.Errorf("%w: activation_ttl_hours must be >= 1, got %d", ErrConfigInvalid, m.ActivationTTLHours)
	}
	return nil
}
