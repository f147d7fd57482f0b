package worker

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"git.home.luguber.info/inful/flutterci/internal/config"
	"git.home.luguber.info/inful/flutterci/internal/ingest"
	"git.home.luguber.info/inful/flutterci/internal/metrics"
	"git.home.luguber.info/inful/flutterci/internal/provider"
	"git.home.luguber.info/inful/flutterci/internal/store"
)

type recordingAdmitter struct {
	mu     sync.Mutex
	builds []*store.Build
}

func (a *recordingAdmitter) Admit(_ context.Context, build *store.Build) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.builds = append(a.builds, build)
	return nil
}

func (a *recordingAdmitter) admitted() []*store.Build {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*store.Build(nil), a.builds...)
}

type workerFixture struct {
	worker     *Worker
	db         *store.DB
	deliveries *store.DeliveryRepo
	builds     *store.BuildRepo
	admitter   *recordingAdmitter
}

func newFixture(t *testing.T) *workerFixture {
	t.Helper()

	db, err := store.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := store.RunMigrations(db.Writer); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}

	registry := provider.NewRegistry(config.ProvidersConfig{
		GitHub: config.GitHubConfig{WebhookSecret: "s"},
	})
	queue := ingest.NewQueue(10, metrics.NoopRecorder{})
	deliveries := store.NewDeliveryRepo(db)
	builds := store.NewBuildRepo(db)
	admitter := &recordingAdmitter{}

	w := New(queue, registry, deliveries, store.NewRepositoryRepo(db), builds, admitter, slog.Default())
	return &workerFixture{worker: w, db: db, deliveries: deliveries, builds: builds, admitter: admitter}
}

func (f *workerFixture) storeDelivery(t *testing.T, deliveryID, eventType string, payload []byte) ingest.Job {
	t.Helper()
	id, err := f.deliveries.Insert(context.Background(), &store.WebhookDelivery{
		Provider:   store.ProviderGitHub,
		DeliveryID: deliveryID,
		EventType:  eventType,
		Payload:    payload,
		ReceivedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	return ingest.Job{EventID: id, Provider: store.ProviderGitHub, DeliveryID: deliveryID, EventType: eventType}
}

const pushPayload = `{
	"ref": "refs/heads/main",
	"after": "a1b2c3d4e5f6a7b8c9d0a1b2c3d4e5f6a7b8c9d0",
	"repository": {"id": 42, "name": "app", "clone_url": "x", "owner": {"login": "acme"}}
}`

func TestProcessCreatesAndAdmitsBuild(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job := f.storeDelivery(t, "d-1", "push", []byte(pushPayload))
	if err := f.worker.Process(ctx, job); err != nil {
		t.Fatalf("Process: %v", err)
	}

	admitted := f.admitter.admitted()
	if len(admitted) != 1 {
		t.Fatalf("admitted %d builds, want 1", len(admitted))
	}
	build := admitted[0]
	if build.Branch != "main" || build.TriggerType != store.TriggerPush {
		t.Fatalf("build = %+v", build)
	}
	if build.WebhookEventID == nil || *build.WebhookEventID != job.EventID {
		t.Fatal("build not linked to its webhook event")
	}

	d, err := f.deliveries.GetByID(ctx, job.EventID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !d.Processed {
		t.Fatal("delivery not marked processed")
	}
}

func TestProcessNonBuildEventMarksProcessed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job := f.storeDelivery(t, "d-1", "ping", []byte(`{"zen":"ok"}`))
	if err := f.worker.Process(ctx, job); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if len(f.admitter.admitted()) != 0 {
		t.Fatal("ping event must not create a build")
	}
	d, _ := f.deliveries.GetByID(ctx, job.EventID)
	if !d.Processed {
		t.Fatal("non-build event must still be marked processed")
	}
}

func TestProcessMalformedPayloadRecordsError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job := f.storeDelivery(t, "d-1", "push", []byte("{not json"))
	if err := f.worker.Process(ctx, job); err == nil {
		t.Fatal("expected processing error")
	}

	d, _ := f.deliveries.GetByID(ctx, job.EventID)
	if d.Processed {
		t.Fatal("failed delivery must stay unprocessed for recovery")
	}
	if d.ErrorMessage == nil {
		t.Fatal("error not recorded on delivery")
	}
	if len(f.admitter.admitted()) != 0 {
		t.Fatal("failed event must not create a build")
	}
}

func TestProcessReplayedEventDoesNotDuplicateBuild(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job := f.storeDelivery(t, "d-1", "push", []byte(pushPayload))
	if err := f.worker.Process(ctx, job); err != nil {
		t.Fatalf("first Process: %v", err)
	}
	// A recovery replay of the same event lands after the build exists.
	if err := f.worker.Process(ctx, job); err != nil {
		t.Fatalf("replayed Process: %v", err)
	}

	if got := len(f.admitter.admitted()); got != 1 {
		t.Fatalf("admitted %d builds, want exactly 1", got)
	}
	builds, err := f.builds.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(builds) != 1 {
		t.Fatalf("stored %d builds, want exactly 1", len(builds))
	}
}

func TestRunDrainsQueue(t *testing.T) {
	f := newFixture(t)

	queue := ingest.NewQueue(10, metrics.NoopRecorder{})
	f.worker.queue = queue

	job := f.storeDelivery(t, "d-1", "push", []byte(pushPayload))
	if err := queue.Enqueue(job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.worker.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for len(f.admitter.admitted()) == 0 {
		select {
		case <-deadline:
			t.Fatal("worker did not process the queued job")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on cancellation")
	}
}
