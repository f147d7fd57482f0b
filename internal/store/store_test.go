package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := RunMigrations(db.Writer); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}
	return db
}

func insertDelivery(t *testing.T, repo *DeliveryRepo, deliveryID string) int64 {
	t.Helper()
	id, err := repo.Insert(context.Background(), &WebhookDelivery{
		Provider:   ProviderGitHub,
		DeliveryID: deliveryID,
		EventType:  "push",
		Payload:    []byte(`{"ref":"refs/heads/main"}`),
		ReceivedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Insert delivery %s: %v", deliveryID, err)
	}
	return id
}

func insertRepository(t *testing.T, db *DB) *Repository {
	t.Helper()
	repo, err := NewRepositoryRepo(db).ResolveOrCreate(context.Background(), ProviderGitHub, "42", "acme", "app")
	if err != nil {
		t.Fatalf("ResolveOrCreate: %v", err)
	}
	return repo
}

func TestDeliveryInsertIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	repo := NewDeliveryRepo(db)

	first := insertDelivery(t, repo, "delivery-1")
	if first == 0 {
		t.Fatal("expected non-zero event id")
	}

	_, err := repo.Insert(context.Background(), &WebhookDelivery{
		Provider:   ProviderGitHub,
		DeliveryID: "delivery-1",
		EventType:  "push",
		Payload:    []byte("{}"),
		ReceivedAt: time.Now().UTC(),
	})
	if err != ErrConflict {
		t.Fatalf("duplicate insert: got %v, want ErrConflict", err)
	}

	// Same delivery id under another provider is a distinct delivery.
	_, err = repo.Insert(context.Background(), &WebhookDelivery{
		Provider:   ProviderGitLab,
		DeliveryID: "delivery-1",
		EventType:  "Push Hook",
		Payload:    []byte("{}"),
		ReceivedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("cross-provider insert: %v", err)
	}
}

func TestDeliveryProcessedLifecycle(t *testing.T) {
	db := newTestDB(t)
	repo := NewDeliveryRepo(db)
	ctx := context.Background()

	id := insertDelivery(t, repo, "delivery-1")

	if err := repo.SetError(ctx, id, "parse failed"); err != nil {
		t.Fatalf("SetError: %v", err)
	}
	d, err := repo.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if d.Processed {
		t.Fatal("SetError must keep the delivery unprocessed for recovery")
	}
	if d.ErrorMessage == nil || *d.ErrorMessage != "parse failed" {
		t.Fatalf("error message = %v", d.ErrorMessage)
	}

	if err := repo.MarkProcessed(ctx, id); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	d, err = repo.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !d.Processed {
		t.Fatal("delivery not marked processed")
	}
	if d.ErrorMessage != nil {
		t.Fatal("MarkProcessed must clear the error message")
	}
}

func TestDeliveryListUnprocessedPagination(t *testing.T) {
	db := newTestDB(t)
	repo := NewDeliveryRepo(db)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 5; i++ {
		ids = append(ids, insertDelivery(t, repo, "d-"+string(rune('a'+i))))
	}
	if err := repo.MarkProcessed(ctx, ids[2]); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}

	first, err := repo.ListUnprocessed(ctx, 0, 2)
	if err != nil {
		t.Fatalf("ListUnprocessed: %v", err)
	}
	if len(first) != 2 || first[0].ID != ids[0] || first[1].ID != ids[1] {
		t.Fatalf("first batch = %+v", first)
	}

	second, err := repo.ListUnprocessed(ctx, first[1].ID, 10)
	if err != nil {
		t.Fatalf("ListUnprocessed page 2: %v", err)
	}
	if len(second) != 2 || second[0].ID != ids[3] || second[1].ID != ids[4] {
		t.Fatalf("second batch skips processed row, got %+v", second)
	}
}

func TestBuildStatusTransitions(t *testing.T) {
	db := newTestDB(t)
	builds := NewBuildRepo(db)
	ctx := context.Background()
	repo := insertRepository(t, db)

	build := &Build{
		ID:           "b-1",
		RepositoryID: repo.ID,
		CommitSHA:    "abc",
		Branch:       "main",
		TriggerType:  TriggerPush,
	}
	if err := builds.Create(ctx, build); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Finishing a pending build skips running and must be rejected.
	err := builds.Finish(ctx, "b-1", BuildStatusSuccess, "", time.Now())
	if err != ErrInvalidTransition {
		t.Fatalf("Finish pending: got %v, want ErrInvalidTransition", err)
	}

	if err := builds.MarkRunning(ctx, "b-1", time.Now()); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	// Running twice must be rejected.
	if err := builds.MarkRunning(ctx, "b-1", time.Now()); err != ErrInvalidTransition {
		t.Fatalf("MarkRunning twice: got %v, want ErrInvalidTransition", err)
	}

	if err := builds.Finish(ctx, "b-1", BuildStatusSuccess, "", time.Now()); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	// Terminal states are immutable.
	if err := builds.Finish(ctx, "b-1", BuildStatusFailure, "late", time.Now()); err != ErrInvalidTransition {
		t.Fatalf("Finish after terminal: got %v, want ErrInvalidTransition", err)
	}

	got, err := builds.Get(ctx, "b-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != BuildStatusSuccess {
		t.Fatalf("status = %s, want success", got.Status)
	}
	if got.StartedAt == nil || got.FinishedAt == nil {
		t.Fatal("timestamps not recorded")
	}
}

func TestBuildFinishRequiresTerminalStatus(t *testing.T) {
	db := newTestDB(t)
	builds := NewBuildRepo(db)
	ctx := context.Background()
	repo := insertRepository(t, db)

	build := &Build{ID: "b-1", RepositoryID: repo.ID, CommitSHA: "abc", Branch: "main", TriggerType: TriggerPush}
	if err := builds.Create(ctx, build); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := builds.MarkRunning(ctx, "b-1", time.Now()); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	if err := builds.Finish(ctx, "b-1", BuildStatusRunning, "", time.Now()); err == nil {
		t.Fatal("Finish must reject non-terminal status")
	}
}

func TestBuildUniquePerWebhookEvent(t *testing.T) {
	db := newTestDB(t)
	builds := NewBuildRepo(db)
	deliveries := NewDeliveryRepo(db)
	ctx := context.Background()
	repo := insertRepository(t, db)

	eventID := insertDelivery(t, deliveries, "delivery-1")

	first := &Build{ID: "b-1", RepositoryID: repo.ID, WebhookEventID: &eventID, CommitSHA: "abc", Branch: "main", TriggerType: TriggerPush}
	if err := builds.Create(ctx, first); err != nil {
		t.Fatalf("Create: %v", err)
	}

	second := &Build{ID: "b-2", RepositoryID: repo.ID, WebhookEventID: &eventID, CommitSHA: "abc", Branch: "main", TriggerType: TriggerPush}
	if err := builds.Create(ctx, second); err != ErrConflict {
		t.Fatalf("second build for same event: got %v, want ErrConflict", err)
	}
}

func TestFailInterrupted(t *testing.T) {
	db := newTestDB(t)
	builds := NewBuildRepo(db)
	ctx := context.Background()
	repo := insertRepository(t, db)

	for _, id := range []string{"b-1", "b-2", "b-3"} {
		if err := builds.Create(ctx, &Build{ID: id, RepositoryID: repo.ID, CommitSHA: "abc", Branch: "main", TriggerType: TriggerPush}); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}
	if err := builds.MarkRunning(ctx, "b-1", time.Now()); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	if err := builds.MarkRunning(ctx, "b-2", time.Now()); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}

	n, err := builds.FailInterrupted(ctx, "interrupted by restart", time.Now())
	if err != nil {
		t.Fatalf("FailInterrupted: %v", err)
	}
	if n != 2 {
		t.Fatalf("interrupted count = %d, want 2", n)
	}

	b1, _ := builds.Get(ctx, "b-1")
	if b1.Status != BuildStatusFailure || b1.ErrorMessage == nil || *b1.ErrorMessage != "interrupted by restart" {
		t.Fatalf("b-1 = %+v", b1)
	}
	b3, _ := builds.Get(ctx, "b-3")
	if b3.Status != BuildStatusPending {
		t.Fatalf("pending build must survive FailInterrupted, got %s", b3.Status)
	}
}

func TestCancelPending(t *testing.T) {
	db := newTestDB(t)
	builds := NewBuildRepo(db)
	ctx := context.Background()
	repo := insertRepository(t, db)

	if err := builds.Create(ctx, &Build{ID: "b-1", RepositoryID: repo.ID, CommitSHA: "abc", Branch: "main", TriggerType: TriggerManual}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := builds.CancelPending(ctx, "b-1", time.Now()); err != nil {
		t.Fatalf("CancelPending: %v", err)
	}
	if err := builds.CancelPending(ctx, "b-1", time.Now()); err != ErrInvalidTransition {
		t.Fatalf("CancelPending twice: got %v, want ErrInvalidTransition", err)
	}
}

func TestRepositoryResolveOrCreate(t *testing.T) {
	db := newTestDB(t)
	repos := NewRepositoryRepo(db)
	ctx := context.Background()

	first, err := repos.ResolveOrCreate(ctx, ProviderGitHub, "42", "acme", "app")
	if err != nil {
		t.Fatalf("ResolveOrCreate: %v", err)
	}
	second, err := repos.ResolveOrCreate(ctx, ProviderGitHub, "42", "acme", "app")
	if err != nil {
		t.Fatalf("ResolveOrCreate again: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("resolve not idempotent: %d vs %d", first.ID, second.ID)
	}

	byName, err := repos.GetByName(ctx, ProviderGitHub, "acme", "app")
	if err != nil {
		t.Fatalf("GetByName: %v", err)
	}
	if byName == nil || byName.ID != first.ID {
		t.Fatalf("GetByName = %+v", byName)
	}

	missing, err := repos.GetByName(ctx, ProviderGitHub, "acme", "ghost")
	if err != nil {
		t.Fatalf("GetByName missing: %v", err)
	}
	if missing != nil {
		t.Fatal("expected nil for unknown repository")
	}
}

func TestReplayGuardExpiry(t *testing.T) {
	db := newTestDB(t)
	guards := NewReplayGuardRepo(db)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := guards.Put(ctx, ProviderGitHub, "d-1", now.Add(time.Hour)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := guards.Put(ctx, ProviderGitHub, "d-2", now.Add(-time.Minute)); err != nil {
		t.Fatalf("Put expired: %v", err)
	}

	ok, err := guards.Exists(ctx, ProviderGitHub, "d-1", now)
	if err != nil || !ok {
		t.Fatalf("Exists(d-1) = %v, %v", ok, err)
	}
	ok, err = guards.Exists(ctx, ProviderGitHub, "d-2", now)
	if err != nil || ok {
		t.Fatalf("expired guard must not match, got %v, %v", ok, err)
	}

	removed, err := guards.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
}

func TestOAuthStateSingleUse(t *testing.T) {
	db := newTestDB(t)
	states := NewOAuthStateRepo(db)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := states.Create(ctx, &OAuthState{
		State:     "s-1",
		Provider:  ProviderGitHub,
		CreatedAt: now,
		ExpiresAt: now.Add(10 * time.Minute),
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	ok, err := states.Consume(ctx, "s-1", now)
	if err != nil || !ok {
		t.Fatalf("first Consume = %v, %v", ok, err)
	}
	ok, err = states.Consume(ctx, "s-1", now)
	if err != nil || ok {
		t.Fatalf("second Consume must fail, got %v, %v", ok, err)
	}

	// Expired states are not consumable.
	if err := states.Create(ctx, &OAuthState{
		State:     "s-2",
		Provider:  ProviderGitLab,
		CreatedAt: now.Add(-time.Hour),
		ExpiresAt: now.Add(-30 * time.Minute),
	}); err != nil {
		t.Fatalf("Create expired: %v", err)
	}
	ok, err = states.Consume(ctx, "s-2", now)
	if err != nil || ok {
		t.Fatalf("expired Consume must fail, got %v, %v", ok, err)
	}
}
