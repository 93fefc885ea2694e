package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the downloader engine
type Config struct {
	// Target URLs or identifiers to process
	URLs []string `yaml:"urls" json:"urls"`

	// Douyin request settings
	Douyin DouyinConfig `yaml:"douyin" json:"douyin"`

	// Rate limiting configuration
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Output settings
	Output OutputConfig `yaml:"output" json:"output"`

	// Download settings
	Download DownloadConfig `yaml:"download" json:"download"`

	// Profile enumeration fallback settings
	Fallback FallbackConfig `yaml:"fallback" json:"fallback"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// DouyinConfig holds platform-specific request configuration
type DouyinConfig struct {
	Cookie    string `yaml:"cookie" json:"cookie"`
	UserAgent string `yaml:"user_agent" json:"user_agent"`
	Account   string `yaml:"account" json:"account"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second" json:"requests_per_second"`
	MaxRetries        int `yaml:"max_retries" json:"max_retries"`
}

// OutputConfig holds output directory configuration
type OutputConfig struct {
	BaseDirectory string `yaml:"base_directory" json:"base_directory"`
	HistoryPath   string `yaml:"history_path" json:"history_path"`
	ManifestPath  string `yaml:"manifest_path" json:"manifest_path"`
}

// DownloadConfig holds download-specific configuration
type DownloadConfig struct {
	Concurrency     int           `yaml:"concurrency" json:"concurrency"`
	DownloadTimeout time.Duration `yaml:"download_timeout" json:"download_timeout"`
	ForceRefetch    bool          `yaml:"force_refetch" json:"force_refetch"`
	Cover           bool          `yaml:"cover" json:"cover"`
	Music           bool          `yaml:"music" json:"music"`
}

// FallbackConfig tunes when the heavy enumeration path kicks in
type FallbackConfig struct {
	Enabled          bool          `yaml:"enabled" json:"enabled"`
	MinExpectedRatio float64       `yaml:"min_expected_ratio" json:"min_expected_ratio"`
	Timeout          time.Duration `yaml:"timeout" json:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Douyin: DouyinConfig{
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 2,
			MaxRetries:        3,
		},
		Output: OutputConfig{
			BaseDirectory: "./downloads",
			HistoryPath:   "", // resolved against BaseDirectory when empty
			ManifestPath:  "",
		},
		Download: DownloadConfig{
			Concurrency:     4,
			DownloadTimeout: 30 * time.Second,
			ForceRefetch:    false,
			Cover:           false,
			Music:           false,
		},
		Fallback: FallbackConfig{
			Enabled:          true,
			MinExpectedRatio: 0.8,
			Timeout:          5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// HistoryPath returns the dedup store path, defaulting under the output directory
func (c *Config) HistoryPath() string {
	if c.Output.HistoryPath != "" {
		return c.Output.HistoryPath
	}
	return filepath.Join(c.Output.BaseDirectory, "history.db")
}

// ManifestPath returns the manifest log path, defaulting under the output directory
func (c *Config) ManifestPath() string {
	if c.Output.ManifestPath != "" {
		return c.Output.ManifestPath
	}
	return filepath.Join(c.Output.BaseDirectory, "manifest.jsonl")
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	if cookie := os.Getenv("DOUGET_COOKIE"); cookie != "" {
		c.Douyin.Cookie = cookie
	}
	if userAgent := os.Getenv("DOUGET_USER_AGENT"); userAgent != "" {
		c.Douyin.UserAgent = userAgent
	}
	if outputDir := os.Getenv("DOUGET_OUTPUT_DIR"); outputDir != "" {
		c.Output.BaseDirectory = outputDir
	}
	if concurrent := os.Getenv("DOUGET_CONCURRENCY"); concurrent != "" {
		var val int
		fmt.Sscanf(concurrent, "%d", &val)
		if val > 0 {
			c.Download.Concurrency = val
		}
	}
	if rps := os.Getenv("DOUGET_REQUESTS_PER_SECOND"); rps != "" {
		var val int
		fmt.Sscanf(rps, "%d", &val)
		if val > 0 {
			c.RateLimit.RequestsPerSecond = val
		}
	}
	if logLevel := os.Getenv("DOUGET_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}

	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	// Check in order of precedence
	locations := []string{
		".douget.yaml",
		".douget.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "douget", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".config", "douget", "config.yml"),
		filepath.Join(os.Getenv("HOME"), ".douget.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.RateLimit.RequestsPerSecond <= 0 {
		errs = append(errs, errors.New("requests per second must be positive"))
	}
	if c.RateLimit.MaxRetries < 0 {
		errs = append(errs, errors.New("max retries cannot be negative"))
	}

	if c.Download.Concurrency <= 0 {
		errs = append(errs, errors.New("concurrency must be positive"))
	}
	if c.Download.Concurrency > 16 {
		errs = append(errs, errors.New("concurrency should not exceed 16"))
	}
	if c.Download.DownloadTimeout <= 0 {
		errs = append(errs, errors.New("download timeout must be positive"))
	}

	if c.Output.BaseDirectory == "" {
		errs = append(errs, errors.New("output directory is required"))
	}

	if c.Fallback.MinExpectedRatio < 0 || c.Fallback.MinExpectedRatio > 1 {
		errs = append(errs, errors.New("fallback min expected ratio must be between 0 and 1"))
	}
	if c.Fallback.Timeout <= 0 {
		errs = append(errs, errors.New("fallback timeout must be positive"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if urls, ok := flags["urls"].([]string); ok && len(urls) > 0 {
		c.URLs = append(c.URLs, urls...)
	}
	if cookie, ok := flags["cookie"].(string); ok && cookie != "" {
		c.Douyin.Cookie = cookie
	}
	if account, ok := flags["account"].(string); ok && account != "" {
		c.Douyin.Account = account
	}
	if outputDir, ok := flags["output"].(string); ok && outputDir != "" {
		c.Output.BaseDirectory = outputDir
	}
	if concurrent, ok := flags["concurrency"].(int); ok && concurrent > 0 {
		c.Download.Concurrency = concurrent
	}
	if force, ok := flags["force"].(bool); ok && force {
		c.Download.ForceRefetch = true
	}
	if cover, ok := flags["cover"].(bool); ok && cover {
		c.Download.Cover = true
	}
	if music, ok := flags["music"].(bool); ok && music {
		c.Download.Music = true
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".douget.env"))

	// Start with defaults
	config := DefaultConfig()

	// Load from config file
	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	// Override with environment variables (includes values from .env)
	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Override with command line flags
	config.MergeCommandLineFlags(flags)

	// Validate final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
