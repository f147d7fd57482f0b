package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Queue     QueueConfig     `yaml:"queue"`
	Builds    BuildsConfig    `yaml:"builds"`
	Recovery  RecoveryConfig  `yaml:"recovery"`
	Cleanup   CleanupConfig   `yaml:"cleanup"`
	Storage   StorageConfig   `yaml:"storage"`
	Providers ProvidersConfig `yaml:"providers"`
	Events    EventsConfig    `yaml:"events"`
}

// ServerConfig configures the HTTP listener and ingestion limits.
type ServerConfig struct {
	Listen        string `yaml:"listen"`
	MaxBodyBytes  int64  `yaml:"max_body_bytes"`
	IngestTimeout string `yaml:"ingest_timeout"`
}

// QueueConfig configures the bounded in-memory event queue.
type QueueConfig struct {
	Capacity int `yaml:"capacity"`
}

// BuildsConfig configures the build dispatcher. Command is the shell command
// run per build; empty means builds are recorded without executing anything.
type BuildsConfig struct {
	MaxConcurrent int    `yaml:"max_concurrent"`
	Command       string `yaml:"command"`
}

// RecoveryConfig configures the startup recovery sweep.
type RecoveryConfig struct {
	BatchSize int `yaml:"batch_size"`
}

// CleanupConfig configures the periodic expiry sweep.
type CleanupConfig struct {
	Interval       string `yaml:"interval"`
	ReplayGuardTTL string `yaml:"replay_guard_ttl"`
	OAuthStateTTL  string `yaml:"oauth_state_ttl"`
}

// StorageConfig configures the durable ledger location.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// ProvidersConfig holds per-provider webhook credentials.
type ProvidersConfig struct {
	GitHub GitHubConfig `yaml:"github"`
	GitLab GitLabConfig `yaml:"gitlab"`
}

// GitHubConfig holds the shared webhook secret used for HMAC verification.
type GitHubConfig struct {
	WebhookSecret string `yaml:"webhook_secret"`
}

// GitLabConfig holds the token pepper and stored token hash. The plaintext
// token is never stored; the reference is HMAC-SHA256(pepper, token) in hex.
type GitLabConfig struct {
	TokenPepper string `yaml:"token_pepper"`
	TokenHash   string `yaml:"token_hash"`
}

// EventsConfig configures the optional NATS lifecycle publisher.
// An empty URL disables publishing.
type EventsConfig struct {
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Load loads configuration from the specified file.
func Load(configPath string) (*Config, error) {
	// Load .env file if it exists
	if err := loadEnvFile(); err != nil {
		// Don't fail if .env doesn't exist, just log it
		fmt.Fprintf(os.Stderr, "Note: .env file not found or couldn't be loaded: %v\n", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// IngestTimeoutDuration returns the parsed ingestion timeout.
func (c *ServerConfig) IngestTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.IngestTimeout)
	if err != nil || d <= 0 {
		return defaultIngestTimeout
	}
	return d
}

// IntervalDuration returns the parsed cleanup interval.
func (c *CleanupConfig) IntervalDuration() time.Duration {
	d, err := time.ParseDuration(c.Interval)
	if err != nil || d <= 0 {
		return defaultCleanupInterval
	}
	return d
}

// ReplayGuardTTLDuration returns the parsed replay guard TTL.
func (c *CleanupConfig) ReplayGuardTTLDuration() time.Duration {
	d, err := time.ParseDuration(c.ReplayGuardTTL)
	if err != nil || d <= 0 {
		return defaultReplayGuardTTL
	}
	return d
}

// OAuthStateTTLDuration returns the parsed OAuth state TTL.
func (c *CleanupConfig) OAuthStateTTLDuration() time.Duration {
	d, err := time.ParseDuration(c.OAuthStateTTL)
	if err != nil || d <= 0 {
		return defaultOAuthStateTTL
	}
	return d
}
