// Package config holds harvester configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every knob the harvesting engine recognizes.
type Config struct {
	BaseURL               string
	MaxConcurrentRequests int
	MinRequestInterval    time.Duration
	MaxRequestInterval    time.Duration
	CacheTTL              time.Duration
	CacheMaxEntries       int
	RetryLimit            int
	RetryBackoff          time.Duration
	RetryBackoffMax       time.Duration
	Timeout               time.Duration
	MaxListingPages       int
	BrandAllowlist        []string
	StorePath             string
	ReportDir             string
	UserAgent             string
	MetricsAddr           string
	Verbose               bool
}

// fileConfig is the YAML shape of a config file. Durations travel as
// millisecond/second integers; absent fields keep their defaults.
type fileConfig struct {
	BaseURL               *string  `yaml:"base_url"`
	MaxConcurrentRequests *int     `yaml:"max_concurrent_requests"`
	MinRequestIntervalMS  *int     `yaml:"min_request_interval_ms"`
	MaxRequestIntervalMS  *int     `yaml:"max_request_interval_ms"`
	CacheTTLSeconds       *int     `yaml:"cache_ttl_seconds"`
	CacheMaxEntries       *int     `yaml:"cache_max_entries"`
	RetryLimit            *int     `yaml:"retry_limit"`
	RetryBackoffMS        *int     `yaml:"retry_backoff_ms"`
	RetryBackoffMaxMS     *int     `yaml:"retry_backoff_max_ms"`
	TimeoutSeconds        *int     `yaml:"timeout_seconds"`
	MaxListingPages       *int     `yaml:"max_listing_pages"`
	BrandAllowlist        []string `yaml:"brand_allowlist"`
	StorePath             *string  `yaml:"store_path"`
	ReportDir             *string  `yaml:"report_dir"`
	UserAgent             *string  `yaml:"user_agent"`
	MetricsAddr           *string  `yaml:"metrics_addr"`
	Verbose               *bool    `yaml:"verbose"`
}

// DefaultConfig returns conservative defaults tuned for a polite crawl of
// the catalog source.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:               "https://www.gsmarena.com/",
		MaxConcurrentRequests: 4,
		MinRequestInterval:    2 * time.Second,
		MaxRequestInterval:    5 * time.Minute,
		CacheTTL:              6 * time.Hour,
		CacheMaxEntries:       8192,
		RetryLimit:            3,
		RetryBackoff:          500 * time.Millisecond,
		RetryBackoffMax:       30 * time.Second,
		Timeout:               10 * time.Second,
		MaxListingPages:       50,
		StorePath:             "data",
		ReportDir:             "output",
		UserAgent:             "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		MetricsAddr:           "",
		Verbose:               false,
	}
}

// Load reads a YAML config file and applies it on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := DefaultConfig()
	applyString(&cfg.BaseURL, fc.BaseURL)
	applyInt(&cfg.MaxConcurrentRequests, fc.MaxConcurrentRequests)
	applyDuration(&cfg.MinRequestInterval, fc.MinRequestIntervalMS, time.Millisecond)
	applyDuration(&cfg.MaxRequestInterval, fc.MaxRequestIntervalMS, time.Millisecond)
	applyDuration(&cfg.CacheTTL, fc.CacheTTLSeconds, time.Second)
	applyInt(&cfg.CacheMaxEntries, fc.CacheMaxEntries)
	applyInt(&cfg.RetryLimit, fc.RetryLimit)
	applyDuration(&cfg.RetryBackoff, fc.RetryBackoffMS, time.Millisecond)
	applyDuration(&cfg.RetryBackoffMax, fc.RetryBackoffMaxMS, time.Millisecond)
	applyDuration(&cfg.Timeout, fc.TimeoutSeconds, time.Second)
	applyInt(&cfg.MaxListingPages, fc.MaxListingPages)
	if fc.BrandAllowlist != nil {
		cfg.BrandAllowlist = fc.BrandAllowlist
	}
	applyString(&cfg.StorePath, fc.StorePath)
	applyString(&cfg.ReportDir, fc.ReportDir)
	applyString(&cfg.UserAgent, fc.UserAgent)
	applyString(&cfg.MetricsAddr, fc.MetricsAddr)
	if fc.Verbose != nil {
		cfg.Verbose = *fc.Verbose
	}
	return cfg, nil
}

func applyString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func applyInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func applyDuration(dst *time.Duration, src *int, unit time.Duration) {
	if src != nil {
		*dst = time.Duration(*src) * unit
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if c.MaxConcurrentRequests <= 0 {
		return fmt.Errorf("max concurrent requests must be positive")
	}
	if c.MinRequestInterval < 0 {
		return fmt.Errorf("min request interval cannot be negative")
	}
	if c.MaxRequestInterval > 0 && c.MaxRequestInterval < c.MinRequestInterval {
		return fmt.Errorf("max request interval (%s) cannot be below min request interval (%s)", c.MaxRequestInterval, c.MinRequestInterval)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache ttl must be positive")
	}
	if c.CacheMaxEntries <= 0 {
		return fmt.Errorf("cache max entries must be positive")
	}
	if c.RetryLimit < 0 {
		return fmt.Errorf("retry limit cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxListingPages <= 0 {
		return fmt.Errorf("max listing pages must be positive")
	}
	if c.StorePath == "" {
		return fmt.Errorf("store path cannot be empty")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	return nil
}

// AllowsBrand reports whether the brand passes the allowlist. An empty
// allowlist admits every brand.
func (c *Config) AllowsBrand(canonicalID string) bool {
	if len(c.BrandAllowlist) == 0 {
		return true
	}
	for _, allowed := range c.BrandAllowlist {
		if allowed == canonicalID {
			return true
		}
	}
	return false
}

// EnvInt reads an integer environment override.
func EnvInt(key string) (int, bool, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("parse %s: %w", key, err)
	}
	return value, true, nil
}

// EnvString reads a string environment override.
func EnvString(key string) (string, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return "", false
	}
	return raw, true
}
