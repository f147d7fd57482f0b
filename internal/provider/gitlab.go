package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"

	ferrors "git.home.luguber.info/inful/flutterci/internal/foundation/errors"
	"git.home.luguber.info/inful/flutterci/internal/store"
)

const (
	gitlabTokenHeader = "X-Gitlab-Token"
	gitlabEventHeader = "X-Gitlab-Event"
)

// gitlabCredentials pairs the pepper with the stored token hash so a reload
// swaps both atomically.
type gitlabCredentials struct {
	pepper    string
	tokenHash string
}

// GitLab verifies and parses GitLab webhook deliveries. The plaintext token
// is never stored; verification computes HMAC-SHA256(pepper, presented token)
// and compares it to the stored hex digest in constant time.
type GitLab struct {
	creds atomic.Pointer[gitlabCredentials]
}

// NewGitLab creates a GitLab provider with the given pepper and token hash.
func NewGitLab(pepper, tokenHash string) *GitLab {
	g := &GitLab{}
	g.creds.Store(&gitlabCredentials{pepper: pepper, tokenHash: tokenHash})
	return g
}

// Name returns the provider identifier.
func (g *GitLab) Name() store.Provider { return store.ProviderGitLab }

// SetCredentials replaces the pepper and token hash.
func (g *GitLab) SetCredentials(pepper, tokenHash string) {
	g.creds.Store(&gitlabCredentials{pepper: pepper, tokenHash: tokenHash})
}

// Verify checks the presented token against the stored hash.
func (g *GitLab) Verify(headers http.Header, _ []byte) error {
	creds := g.creds.Load()
	if creds.pepper == "" || creds.tokenHash == "" {
		// No reference hash means no token can be verified. The sender sees
		// an auth failure, not a complaint about its request.
		return ferrors.AuthError("gitlab token verification not configured").Build()
	}

	token := headers.Get(gitlabTokenHeader)
	if token == "" {
		return ferrors.AuthError("missing webhook token").Build()
	}

	stored, err := hex.DecodeString(creds.tokenHash)
	if err != nil {
		return ferrors.AuthError("gitlab token hash is not valid hex").WithCause(err).Build()
	}

	mac := hmac.New(sha256.New, []byte(creds.pepper))
	mac.Write([]byte(token))

	if !hmac.Equal(mac.Sum(nil), stored) {
		return ferrors.AuthError("webhook token mismatch").Build()
	}
	return nil
}

// DeliveryID returns "". GitLab does not send a delivery identifier, so the
// ingestion layer derives one from the payload content.
func (g *GitLab) DeliveryID(_ http.Header) string { return "" }

// EventType returns the GitLab event name.
func (g *GitLab) EventType(headers http.Header) string {
	return headers.Get(gitlabEventHeader)
}

// gitlabProject is the project object embedded in webhook payloads.
type gitlabProject struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	PathWithNamespace string `json:"path_with_namespace"`
	GitHTTPURL        string `json:"git_http_url"`
	Namespace         string `json:"namespace"`
}

func (p *gitlabProject) owner() string {
	if idx := strings.LastIndex(p.PathWithNamespace, "/"); idx > 0 {
		return p.PathWithNamespace[:idx]
	}
	return p.Namespace
}

func (p *gitlabProject) name() string {
	if idx := strings.LastIndex(p.PathWithNamespace, "/"); idx >= 0 {
		return p.PathWithNamespace[idx+1:]
	}
	return p.Name
}

// gitlabPushEvent is the subset of the Push Hook payload we act on.
type gitlabPushEvent struct {
	Ref     string        `json:"ref"`
	After   string        `json:"after"`
	Project gitlabProject `json:"project"`
}

// gitlabMergeRequestEvent is the subset of the Merge Request Hook payload we
// act on.
type gitlabMergeRequestEvent struct {
	Project          gitlabProject `json:"project"`
	ObjectAttributes struct {
		Action       string `json:"action"`
		SourceBranch string `json:"source_branch"`
		LastCommit   struct {
			ID string `json:"id"`
		} `json:"last_commit"`
	} `json:"object_attributes"`
}

// ParseTrigger derives a build trigger from a Push Hook or Merge Request Hook
// payload. Other event types and non-build merge request actions return
// (nil, nil).
func (g *GitLab) ParseTrigger(eventType string, payload []byte) (*Trigger, error) {
	switch eventType {
	case "Push Hook":
		return g.parsePush(payload)
	case "Merge Request Hook":
		return g.parseMergeRequest(payload)
	default:
		return nil, nil
	}
}

func (g *GitLab) parsePush(payload []byte) (*Trigger, error) {
	var event gitlabPushEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, ferrors.PayloadError("failed to parse push event").WithCause(err).Build()
	}

	if event.After == "" || strings.Trim(event.After, "0") == "" {
		// Branch deletion.
		return nil, nil
	}
	if !strings.HasPrefix(event.Ref, "refs/heads/") {
		return nil, nil
	}
	if event.Project.ID == 0 {
		return nil, ferrors.PayloadError("push event missing project").Build()
	}

	return &Trigger{
		ProviderRepoID: event.Project.ID,
		Owner:          event.Project.owner(),
		Name:           event.Project.name(),
		CloneURL:       event.Project.GitHTTPURL,
		Branch:         strings.TrimPrefix(event.Ref, "refs/heads/"),
		CommitSHA:      event.After,
		Type:           store.TriggerPush,
	}, nil
}

func (g *GitLab) parseMergeRequest(payload []byte) (*Trigger, error) {
	var event gitlabMergeRequestEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, ferrors.PayloadError("failed to parse merge request event").WithCause(err).Build()
	}

	switch event.ObjectAttributes.Action {
	case "open", "update", "reopen":
	default:
		return nil, nil
	}
	if event.Project.ID == 0 || event.ObjectAttributes.LastCommit.ID == "" {
		return nil, ferrors.PayloadError("merge request event missing project or commit").Build()
	}

	return &Trigger{
		ProviderRepoID: event.Project.ID,
		Owner:          event.Project.owner(),
		Name:           event.Project.name(),
		CloneURL:       event.Project.GitHTTPURL,
		Branch:         event.ObjectAttributes.SourceBranch,
		CommitSHA:      event.ObjectAttributes.LastCommit.ID,
		Type:           store.TriggerMergeRequest,
	}, nil
}
