package config

import (
	"fmt"
	"os"
)

const configTemplate = `# flutterci configuration
server:
  listen: ":8080"
  max_body_bytes: 1048576
  ingest_timeout: "8s"

queue:
  capacity: 1000

builds:
  max_concurrent: 2
  # command: "./scripts/build.sh"

recovery:
  batch_size: 100

cleanup:
  interval: "5m"
  replay_guard_ttl: "24h"
  oauth_state_ttl: "10m"

storage:
  data_dir: "./data"

providers:
  github:
    webhook_secret: "${FLUTTERCI_GITHUB_WEBHOOK_SECRET}"
  gitlab:
    token_pepper: "${FLUTTERCI_GITLAB_TOKEN_PEPPER}"
    token_hash: ""

events:
  nats_url: ""
  subject_prefix: "flutterci"
`

// Init writes a starter configuration file.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}
	if err := os.WriteFile(configPath, []byte(configTemplate), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
