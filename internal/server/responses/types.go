// Package responses defines API response types used by the HTTP handlers.
package responses

import "time"

// WebhookAckResponse acknowledges an accepted or deduplicated delivery.
type WebhookAckResponse struct {
	Status     string    `json:"status"`
	EventID    int64     `json:"event_id,omitempty"`
	DeliveryID string    `json:"delivery_id"`
	Duplicate  bool      `json:"duplicate,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// HealthResponse represents the health check API response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Uptime    float64   `json:"uptime"`
}

// StatusResponse represents the daemon's operational status.
type StatusResponse struct {
	Status        string         `json:"status"`
	StartTime     time.Time      `json:"start_time"`
	Uptime        float64        `json:"uptime"`
	QueueDepth    int            `json:"queue_depth"`
	QueueCapacity int            `json:"queue_capacity"`
	BuildsRunning int            `json:"builds_running"`
	BuildCounts   map[string]int `json:"build_counts"`
	Timestamp     time.Time      `json:"timestamp"`
}

// BuildResponse represents one build.
type BuildResponse struct {
	ID           string     `json:"id"`
	Repository   string     `json:"repository"`
	Branch       string     `json:"branch"`
	CommitSHA    string     `json:"commit_sha"`
	TriggerType  string     `json:"trigger_type"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// BuildListResponse represents the build listing.
type BuildListResponse struct {
	Builds    []BuildResponse `json:"builds"`
	Timestamp time.Time       `json:"timestamp"`
}

// DeliveryResponse represents one stored webhook delivery (payload omitted).
type DeliveryResponse struct {
	ID           int64     `json:"id"`
	Provider     string    `json:"provider"`
	DeliveryID   string    `json:"delivery_id"`
	EventType    string    `json:"event_type"`
	Processed    bool      `json:"processed"`
	ErrorMessage string    `json:"error_message,omitempty"`
	ReceivedAt   time.Time `json:"received_at"`
}

// DeliveryListResponse represents the delivery listing.
type DeliveryListResponse struct {
	Deliveries []DeliveryResponse `json:"deliveries"`
	Timestamp  time.Time          `json:"timestamp"`
}

// TriggerBuildRequest is the manual build trigger request body.
type TriggerBuildRequest struct {
	Provider  string `json:"provider"`
	Owner     string `json:"owner"`
	Name      string `json:"name"`
	Branch    string `json:"branch"`
	CommitSHA string `json:"commit_sha,omitempty"`
}

// TriggerBuildResponse represents the manual trigger response.
type TriggerBuildResponse struct {
	Status    string    `json:"status"`
	BuildID   string    `json:"build_id"`
	Timestamp time.Time `json:"timestamp"`
}
