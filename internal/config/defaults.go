package config

import "time"

const (
	defaultListen          = ":8080"
	defaultMaxBodyBytes    = 1 << 20 // 1 MiB
	defaultIngestTimeout   = 8 * time.Second
	defaultQueueCapacity   = 1000
	defaultMaxConcurrent   = 2
	defaultRecoveryBatch   = 100
	defaultCleanupInterval = 5 * time.Minute
	defaultReplayGuardTTL  = 24 * time.Hour
	defaultOAuthStateTTL   = 10 * time.Minute
	defaultDataDir         = "./data"
	defaultSubjectPrefix   = "flutterci"
)

// applyDefaults fills zero values with production defaults.
func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = defaultListen
	}
	if c.Server.MaxBodyBytes <= 0 {
		c.Server.MaxBodyBytes = defaultMaxBodyBytes
	}
	if c.Server.IngestTimeout == "" {
		c.Server.IngestTimeout = defaultIngestTimeout.String()
	}
	if c.Queue.Capacity <= 0 {
		c.Queue.Capacity = defaultQueueCapacity
	}
	if c.Builds.MaxConcurrent <= 0 {
		c.Builds.MaxConcurrent = defaultMaxConcurrent
	}
	if c.Recovery.BatchSize <= 0 {
		c.Recovery.BatchSize = defaultRecoveryBatch
	}
	if c.Cleanup.Interval == "" {
		c.Cleanup.Interval = defaultCleanupInterval.String()
	}
	if c.Cleanup.ReplayGuardTTL == "" {
		c.Cleanup.ReplayGuardTTL = defaultReplayGuardTTL.String()
	}
	if c.Cleanup.OAuthStateTTL == "" {
		c.Cleanup.OAuthStateTTL = defaultOAuthStateTTL.String()
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = defaultDataDir
	}
	if c.Events.SubjectPrefix == "" {
		c.Events.SubjectPrefix = defaultSubjectPrefix
	}
}
