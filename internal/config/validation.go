package config

import (
	"encoding/hex"
	"fmt"
	"time"
)

// Validate checks the configuration for values that would prevent startup.
// Missing provider credentials are allowed (the corresponding endpoint
// rejects all deliveries), but malformed values are not.
func (c *Config) Validate() error {
	for name, raw := range map[string]string{
		"server.ingest_timeout":    c.Server.IngestTimeout,
		"cleanup.interval":         c.Cleanup.Interval,
		"cleanup.replay_guard_ttl": c.Cleanup.ReplayGuardTTL,
		"cleanup.oauth_state_ttl":  c.Cleanup.OAuthStateTTL,
	} {
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("invalid duration for %s: %q", name, raw)
		}
	}

	if c.Queue.Capacity < 1 {
		return fmt.Errorf("queue.capacity must be at least 1, got %d", c.Queue.Capacity)
	}
	if c.Builds.MaxConcurrent < 1 {
		return fmt.Errorf("builds.max_concurrent must be at least 1, got %d", c.Builds.MaxConcurrent)
	}
	if c.Recovery.BatchSize < 1 {
		return fmt.Errorf("recovery.batch_size must be at least 1, got %d", c.Recovery.BatchSize)
	}

	if h := c.Providers.GitLab.TokenHash; h != "" {
		if _, err := hex.DecodeString(h); err != nil {
			return fmt.Errorf("providers.gitlab.token_hash is not valid hex")
		}
		if c.Providers.GitLab.TokenPepper == "" {
			return fmt.Errorf("providers.gitlab.token_pepper is required when token_hash is set")
		}
	}

	return nil
}
