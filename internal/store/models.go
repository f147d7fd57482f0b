package store

import "time"

// Provider identifies a source-code hosting provider.
type Provider string

const (
	ProviderGitHub Provider = "github"
	ProviderGitLab Provider = "gitlab"
)

// TriggerType classifies what caused a build.
type TriggerType string

const (
	TriggerPush         TriggerType = "push"
	TriggerPullRequest  TriggerType = "pull_request"
	TriggerMergeRequest TriggerType = "merge_request"
	TriggerManual       TriggerType = "manual"
)

// BuildStatus represents the status of a build.
type BuildStatus string

const (
	BuildStatusPending   BuildStatus = "pending"
	BuildStatusRunning   BuildStatus = "running"
	BuildStatusSuccess   BuildStatus = "success"
	BuildStatusFailure   BuildStatus = "failure"
	BuildStatusCancelled BuildStatus = "cancelled"
)

// Terminal reports whether a status is final.
func (s BuildStatus) Terminal() bool {
	switch s {
	case BuildStatusSuccess, BuildStatusFailure, BuildStatusCancelled:
		return true
	}
	return false
}

// WebhookDelivery is one accepted inbound webhook request. Rows are never
// deleted; they form the audit trail that recovery replays from.
type WebhookDelivery struct {
	ID           int64
	Provider     Provider
	DeliveryID   string
	RepositoryID *int64
	EventType    string
	Payload      []byte
	Processed    bool
	ErrorMessage *string
	ReceivedAt   time.Time
}

// Repository is a tracked source repository.
type Repository struct {
	ID             int64
	Provider       Provider
	ProviderRepoID string
	Owner          string
	Name           string
	CreatedAt      time.Time
}

// FullName returns owner/name.
func (r *Repository) FullName() string {
	return r.Owner + "/" + r.Name
}

// Build is one triggered build intent.
type Build struct {
	ID             string
	RepositoryID   int64
	WebhookEventID *int64
	CommitSHA      string
	Branch         string
	TriggerType    TriggerType
	Status         BuildStatus
	ErrorMessage   *string
	StartedAt      *time.Time
	FinishedAt     *time.Time
	CreatedAt      time.Time
}

// OAuthState is a short-lived, single-use token guarding OAuth redirect flows.
type OAuthState struct {
	State      string
	Provider   Provider
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time
}
