// Package provider implements webhook verification and payload parsing for
// the supported forge providers. Each provider knows how to authenticate an
// incoming delivery, extract its delivery identifier, and derive a canonical
// build trigger from the raw payload.
package provider

import (
	"net/http"

	"git.home.luguber.info/inful/flutterci/internal/config"
	ferrors "git.home.luguber.info/inful/flutterci/internal/foundation/errors"
	"git.home.luguber.info/inful/flutterci/internal/store"
)

// Trigger is the canonical build trigger derived from a webhook payload,
// independent of the provider that delivered it.
type Trigger struct {
	ProviderRepoID int64
	Owner          string
	Name           string
	CloneURL       string
	Branch         string
	CommitSHA      string
	Type           store.TriggerType
}

// Provider authenticates and parses webhook deliveries for one forge.
type Provider interface {
	// Name returns the provider identifier.
	Name() store.Provider

	// Verify authenticates the delivery against the configured credential.
	// The raw body must be exactly the bytes the sender signed.
	Verify(headers http.Header, body []byte) error

	// DeliveryID extracts the provider-assigned delivery identifier, or
	// returns "" when the provider does not supply one.
	DeliveryID(headers http.Header) string

	// EventType extracts the provider's event type header value.
	EventType(headers http.Header) string

	// ParseTrigger derives a build trigger from the payload. It returns
	// (nil, nil) for event types that are valid but do not trigger builds.
	ParseTrigger(eventType string, payload []byte) (*Trigger, error)
}

// Registry holds the configured providers keyed by name. Credentials can be
// swapped at runtime when the configuration file changes.
type Registry struct {
	github *GitHub
	gitlab *GitLab
}

// NewRegistry builds a registry from the provider configuration.
func NewRegistry(cfg config.ProvidersConfig) *Registry {
	r := &Registry{
		github: NewGitHub(cfg.GitHub.WebhookSecret),
		gitlab: NewGitLab(cfg.GitLab.TokenPepper, cfg.GitLab.TokenHash),
	}
	return r
}

// Get returns the provider registered under name.
func (r *Registry) Get(name store.Provider) (Provider, error) {
	switch name {
	case store.ProviderGitHub:
		return r.github, nil
	case store.ProviderGitLab:
		return r.gitlab, nil
	default:
		return nil, ferrors.ValidationError("unknown provider: " + string(name)).Build()
	}
}

// Reload swaps provider credentials in place. In-flight verifications keep
// the credential they started with.
func (r *Registry) Reload(cfg config.ProvidersConfig) {
	r.github.SetSecret(cfg.GitHub.WebhookSecret)
	r.gitlab.SetCredentials(cfg.GitLab.TokenPepper, cfg.GitLab.TokenHash)
}
