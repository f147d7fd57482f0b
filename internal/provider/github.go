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
	githubSignatureHeader = "X-Hub-Signature-256"
	githubEventHeader     = "X-GitHub-Event"
	githubDeliveryHeader  = "X-GitHub-Delivery"
)

// GitHub verifies and parses GitHub webhook deliveries.
type GitHub struct {
	secret atomic.Value // string
}

// NewGitHub creates a GitHub provider with the given webhook secret.
func NewGitHub(secret string) *GitHub {
	g := &GitHub{}
	g.secret.Store(secret)
	return g
}

// Name returns the provider identifier.
func (g *GitHub) Name() store.Provider { return store.ProviderGitHub }

// SetSecret replaces the webhook secret.
func (g *GitHub) SetSecret(secret string) {
	g.secret.Store(secret)
}

// Verify checks the HMAC-SHA256 signature against the shared secret. The
// comparison is constant-time.
func (g *GitHub) Verify(headers http.Header, body []byte) error {
	secret, _ := g.secret.Load().(string)
	if secret == "" {
		// No secret means no delivery can be verified. The sender sees an
		// auth failure, not a complaint about its request.
		return ferrors.AuthError("github webhook secret not configured").Build()
	}

	signature := headers.Get(githubSignatureHeader)
	if signature == "" {
		return ferrors.AuthError("missing webhook signature").Build()
	}
	if !strings.HasPrefix(signature, "sha256=") {
		return ferrors.AuthError("unsupported webhook signature scheme").Build()
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte("sha256="+expected)) {
		return ferrors.AuthError("webhook signature mismatch").Build()
	}
	return nil
}

// DeliveryID returns the GitHub delivery GUID.
func (g *GitHub) DeliveryID(headers http.Header) string {
	return headers.Get(githubDeliveryHeader)
}

// EventType returns the GitHub event name.
func (g *GitHub) EventType(headers http.Header) string {
	return headers.Get(githubEventHeader)
}

// githubRepository is the repository object embedded in webhook payloads.
type githubRepository struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	CloneURL string `json:"clone_url"`
	Owner    struct {
		Login string `json:"login"`
	} `json:"owner"`
}

// githubPushEvent is the subset of the push payload we act on.
type githubPushEvent struct {
	Ref        string           `json:"ref"`
	After      string           `json:"after"`
	Deleted    bool             `json:"deleted"`
	Repository githubRepository `json:"repository"`
	HeadCommit *struct {
		ID string `json:"id"`
	} `json:"head_commit"`
}

// githubPullRequestEvent is the subset of the pull_request payload we act on.
type githubPullRequestEvent struct {
	Action      string           `json:"action"`
	Repository  githubRepository `json:"repository"`
	PullRequest struct {
		Head struct {
			Ref string `json:"ref"`
			SHA string `json:"sha"`
		} `json:"head"`
	} `json:"pull_request"`
}

// ParseTrigger derives a build trigger from a push or pull_request payload.
// Other event types, branch deletions, and non-build pull request actions
// return (nil, nil).
func (g *GitHub) ParseTrigger(eventType string, payload []byte) (*Trigger, error) {
	switch eventType {
	case "push":
		return g.parsePush(payload)
	case "pull_request":
		return g.parsePullRequest(payload)
	case "ping":
		return nil, nil
	default:
		return nil, nil
	}
}

func (g *GitHub) parsePush(payload []byte) (*Trigger, error) {
	var event githubPushEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, ferrors.PayloadError("failed to parse push event").WithCause(err).Build()
	}

	// Branch deletions push a zero SHA and carry no buildable commit.
	if event.Deleted || event.After == "" || strings.Trim(event.After, "0") == "" {
		return nil, nil
	}
	if !strings.HasPrefix(event.Ref, "refs/heads/") {
		// Tag pushes are not built.
		return nil, nil
	}
	if event.Repository.ID == 0 {
		return nil, ferrors.PayloadError("push event missing repository").Build()
	}

	commit := event.After
	if event.HeadCommit != nil && event.HeadCommit.ID != "" {
		commit = event.HeadCommit.ID
	}

	return &Trigger{
		ProviderRepoID: event.Repository.ID,
		Owner:          event.Repository.Owner.Login,
		Name:           event.Repository.Name,
		CloneURL:       event.Repository.CloneURL,
		Branch:         strings.TrimPrefix(event.Ref, "refs/heads/"),
		CommitSHA:      commit,
		Type:           store.TriggerPush,
	}, nil
}

func (g *GitHub) parsePullRequest(payload []byte) (*Trigger, error) {
	var event githubPullRequestEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, ferrors.PayloadError("failed to parse pull_request event").WithCause(err).Build()
	}

	switch event.Action {
	case "opened", "synchronize", "reopened":
	default:
		return nil, nil
	}
	if event.Repository.ID == 0 || event.PullRequest.Head.SHA == "" {
		return nil, ferrors.PayloadError("pull_request event missing repository or head commit").Build()
	}

	return &Trigger{
		ProviderRepoID: event.Repository.ID,
		Owner:          event.Repository.Owner.Login,
		Name:           event.Repository.Name,
		CloneURL:       event.Repository.CloneURL,
		Branch:         event.PullRequest.Head.Ref,
		CommitSHA:      event.PullRequest.Head.SHA,
		Type:           store.TriggerPullRequest,
	}, nil
}
