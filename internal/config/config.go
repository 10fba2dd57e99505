// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	DB         DBConfig         `mapstructure:"db"`
	Network    NetworkConfig    `mapstructure:"network"`
	Proxy      ProxyConfig      `mapstructure:"proxy"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxConns     int32  `mapstructure:"max_conns"`
	MinConns     int32  `mapstructure:"min_conns"`
	ConnLifetime int    `mapstructure:"conn_lifetime_seconds"`
}

// NetworkConfig describes the professional-network surface being searched.
type NetworkConfig struct {
	Host          string `mapstructure:"host"`
	BaseURL       string `mapstructure:"base_url"`
	SearchAPIPath string `mapstructure:"search_api_path"`
	SearchPath    string `mapstructure:"search_path"`
	InstantJSON   bool   `mapstructure:"instant_json"`
	UserAgent     string `mapstructure:"user_agent"`
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
}

// ProxyConfig configures the proxied render fetch layer.
type ProxyConfig struct {
	TunnelURL      string `mapstructure:"tunnel_url"`
	ManagedBaseURL string `mapstructure:"managed_base_url"`
	ManagedAPIKey  string `mapstructure:"managed_api_key"`
	Geography      string `mapstructure:"geography"`
	ProxyClass     string `mapstructure:"proxy_class"`
}

// FetchConfig governs fetch timeouts and pagination pacing.
type FetchConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	PageDelayMs    int `mapstructure:"page_delay_ms"`
	PollInitialMs  int `mapstructure:"poll_initial_ms"`
	PollCapMs      int `mapstructure:"poll_cap_ms"`
	PollMax        int `mapstructure:"poll_max_attempts"`
}

// EnrichmentConfig controls the background job queue poller and the
// downstream enrichment service client.
type EnrichmentConfig struct {
	IntervalSeconds int    `mapstructure:"interval_seconds"`
	BatchSize       int    `mapstructure:"batch_size"`
	MaxAttempts     int    `mapstructure:"max_attempts"`
	RetryBaseSec    int    `mapstructure:"retry_base_seconds"`
	RetryCapSec     int    `mapstructure:"retry_cap_seconds"`
	CleanupDays     int    `mapstructure:"cleanup_days"`
	ServiceURL      string `mapstructure:"service_url"`
	ServiceAPIKey   string `mapstructure:"service_api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LEADHARVEST")
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
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.conn_lifetime_seconds", 1800)
	v.SetDefault("network.host", "www.linkedin.com")
	v.SetDefault("network.base_url", "https://www.linkedin.com")
	v.SetDefault("network.search_api_path", "/voyager/api/search/cluster")
	v.SetDefault("network.search_path", "/search/results/people")
	v.SetDefault("network.instant_json", false)
	v.SetDefault("network.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")
	v.SetDefault("network.nav_timeout_seconds", 45)
	v.SetDefault("proxy.geography", "us")
	v.SetDefault("proxy.proxy_class", "residential")
	v.SetDefault("fetch.timeout_seconds", 30)
	v.SetDefault("fetch.page_delay_ms", 2000)
	v.SetDefault("fetch.poll_initial_ms", 2000)
	v.SetDefault("fetch.poll_cap_ms", 10000)
	v.SetDefault("fetch.poll_max_attempts", 30)
	v.SetDefault("enrichment.interval_seconds", 60)
	v.SetDefault("enrichment.batch_size", 5)
	v.SetDefault("enrichment.max_attempts", 3)
	v.SetDefault("enrichment.retry_base_seconds", 60)
	v.SetDefault("enrichment.retry_cap_seconds", 1800)
	v.SetDefault("enrichment.cleanup_days", 30)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Network.BaseURL == "" || c.Network.Host == "" {
		return fmt.Errorf("network.base_url and network.host are required")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Enrichment.BatchSize <= 0 {
		return fmt.Errorf("enrichment.batch_size must be > 0")
	}
	if c.Enrichment.IntervalSeconds <= 0 {
		return fmt.Errorf("enrichment.interval_seconds must be > 0")
	}
	if c.Enrichment.MaxAttempts <= 0 {
		return fmt.Errorf("enrichment.max_attempts must be > 0")
	}
	return nil
}

// FetchTimeout converts the configured timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// PageDelay returns the fixed inter-page pacing delay.
func (c Config) PageDelay() time.Duration {
	return time.Duration(c.Fetch.PageDelayMs) * time.Millisecond
}
