package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"testing"

	ferrors "git.home.luguber.info/inful/flutterci/internal/foundation/errors"
	"git.home.luguber.info/inful/flutterci/internal/store"
)

func gitlabHash(pepper, token string) string {
	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestGitLabVerify(t *testing.T) {
	g := NewGitLab("pepper", gitlabHash("pepper", "hooktoken"))

	headers := http.Header{}
	headers.Set("X-Gitlab-Token", "hooktoken")
	if err := g.Verify(headers, nil); err != nil {
		t.Fatalf("valid token rejected: %v", err)
	}
}

func TestGitLabVerifyWrongToken(t *testing.T) {
	g := NewGitLab("pepper", gitlabHash("pepper", "hooktoken"))

	headers := http.Header{}
	headers.Set("X-Gitlab-Token", "wrong")
	err := g.Verify(headers, nil)
	if !ferrors.HasCategory(err, ferrors.CategoryAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestGitLabVerifyMissingToken(t *testing.T) {
	g := NewGitLab("pepper", gitlabHash("pepper", "hooktoken"))
	err := g.Verify(http.Header{}, nil)
	if !ferrors.HasCategory(err, ferrors.CategoryAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestGitLabVerifyUnconfigured(t *testing.T) {
	g := NewGitLab("", "")
	headers := http.Header{}
	headers.Set("X-Gitlab-Token", "hooktoken")
	err := g.Verify(headers, nil)
	// An unconfigured endpoint rejects the sender as unauthorized, never as
	// a bad request.
	if !ferrors.HasCategory(err, ferrors.CategoryAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestGitLabCredentialRotation(t *testing.T) {
	g := NewGitLab("pepper", gitlabHash("pepper", "old"))

	headers := http.Header{}
	headers.Set("X-Gitlab-Token", "new")
	if err := g.Verify(headers, nil); err == nil {
		t.Fatal("new token accepted before rotation")
	}

	g.SetCredentials("pepper", gitlabHash("pepper", "new"))
	if err := g.Verify(headers, nil); err != nil {
		t.Fatalf("rotated token rejected: %v", err)
	}
}

func TestGitLabParsePush(t *testing.T) {
	payload := []byte(`{
		"ref": "refs/heads/main",
		"after": "b6568db1bc1dcd7f8b4d5a946b0b91f9dacd7327",
		"project": {
			"id": 7,
			"name": "app",
			"path_with_namespace": "group/subgroup/app",
			"git_http_url": "https://gitlab.example.com/group/subgroup/app.git"
		}
	}`)

	g := NewGitLab("p", "ff")
	trigger, err := g.ParseTrigger("Push Hook", payload)
	if err != nil {
		t.Fatalf("ParseTrigger: %v", err)
	}
	if trigger == nil {
		t.Fatal("expected a trigger")
	}
	if trigger.Owner != "group/subgroup" || trigger.Name != "app" {
		t.Errorf("owner/name = %s/%s, want group/subgroup/app", trigger.Owner, trigger.Name)
	}
	if trigger.Branch != "main" {
		t.Errorf("branch = %q, want main", trigger.Branch)
	}
	if trigger.Type != store.TriggerPush {
		t.Errorf("type = %s, want push", trigger.Type)
	}
}

func TestGitLabParsePushSkipsDeletion(t *testing.T) {
	payload := []byte(`{
		"ref": "refs/heads/gone",
		"after": "0000000000000000000000000000000000000000",
		"project": {"id": 7, "path_with_namespace": "acme/app"}
	}`)

	g := NewGitLab("p", "ff")
	trigger, err := g.ParseTrigger("Push Hook", payload)
	if err != nil {
		t.Fatalf("ParseTrigger: %v", err)
	}
	if trigger != nil {
		t.Fatal("expected no trigger for branch deletion")
	}
}

func TestGitLabParseMergeRequest(t *testing.T) {
	payload := []byte(`{
		"project": {
			"id": 7,
			"path_with_namespace": "acme/app",
			"git_http_url": "https://gitlab.example.com/acme/app.git"
		},
		"object_attributes": {
			"action": "update",
			"source_branch": "fix/login",
			"last_commit": {"id": "cafebabecafebabecafebabecafebabecafebabe"}
		}
	}`)

	g := NewGitLab("p", "ff")
	trigger, err := g.ParseTrigger("Merge Request Hook", payload)
	if err != nil {
		t.Fatalf("ParseTrigger: %v", err)
	}
	if trigger == nil {
		t.Fatal("expected a trigger")
	}
	if trigger.Type != store.TriggerMergeRequest {
		t.Errorf("type = %s, want merge_request", trigger.Type)
	}
	if trigger.Branch != "fix/login" {
		t.Errorf("branch = %q, want fix/login", trigger.Branch)
	}
}

func TestGitLabParseMergeRequestIgnoresClose(t *testing.T) {
	payload := []byte(`{
		"project": {"id": 7, "path_with_namespace": "acme/app"},
		"object_attributes": {"action": "close", "source_branch": "x", "last_commit": {"id": "aa"}}
	}`)

	g := NewGitLab("p", "ff")
	trigger, err := g.ParseTrigger("Merge Request Hook", payload)
	if err != nil {
		t.Fatalf("ParseTrigger: %v", err)
	}
	if trigger != nil {
		t.Fatal("expected no trigger for close action")
	}
}

func TestGitLabParseIgnoresUnknownEvents(t *testing.T) {
	g := NewGitLab("p", "ff")
	trigger, err := g.ParseTrigger("Pipeline Hook", []byte("{}"))
	if err != nil {
		t.Fatalf("ParseTrigger: %v", err)
	}
	if trigger != nil {
		t.Fatal("expected no trigger for unknown event type")
	}
}

func TestRegistry(t *testing.T) {
	r := &Registry{github: NewGitHub("s"), gitlab: NewGitLab("p", "ff")}

	if _, err := r.Get(store.ProviderGitHub); err != nil {
		t.Fatalf("Get(github): %v", err)
	}
	if _, err := r.Get(store.ProviderGitLab); err != nil {
		t.Fatalf("Get(gitlab): %v", err)
	}
	if _, err := r.Get(store.Provider("bitbucket")); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
