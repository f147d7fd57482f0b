package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"git.home.luguber.info/inful/flutterci/internal/config"
	"git.home.luguber.info/inful/flutterci/internal/store"
)

func testConfig(dataDir string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Listen:       "127.0.0.1:0",
			MaxBodyBytes: 1 << 20,
		},
		Queue:    config.QueueConfig{Capacity: 1},
		Builds:   config.BuildsConfig{MaxConcurrent: 1},
		Recovery: config.RecoveryConfig{BatchSize: 100},
		Storage:  config.StorageConfig{DataDir: dataDir},
	}
}

func seedUnprocessedPushes(t *testing.T, dataDir string, n int) {
	t.Helper()
	db, err := store.NewDB(filepath.Join(dataDir, "ledger.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	defer db.Close()
	if err := store.RunMigrations(db.Writer); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}

	deliveries := store.NewDeliveryRepo(db)
	for i := 0; i < n; i++ {
		payload := fmt.Sprintf(`{
			"ref": "refs/heads/main",
			"after": "%040d",
			"repository": {
				"id": 7,
				"name": "app",
				"owner": {"login": "acme"},
				"clone_url": "https://example.test/acme/app.git"
			}
		}`, i+1)
		d := &store.WebhookDelivery{
			Provider:   store.ProviderGitHub,
			DeliveryID: fmt.Sprintf("seed-%d", i),
			EventType:  "push",
			Payload:    []byte(payload),
		}
		if _, err := deliveries.Insert(context.Background(), d); err != nil {
			t.Fatalf("Insert seed %d: %v", i, err)
		}
	}
}

// Start replays unprocessed deliveries synchronously. With a backlog larger
// than the queue, startup completes only because the worker is already
// consuming while the sweep blocks on a full queue.
func TestStartDrainsBacklogLargerThanQueue(t *testing.T) {
	dataDir := t.TempDir()
	seedUnprocessedPushes(t, dataDir, 3)

	d, err := New(testConfig(dataDir), "", slog.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	started := make(chan error, 1)
	go func() { started <- d.Start(context.Background()) }()

	select {
	case err := <-started:
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return with backlog larger than queue capacity")
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.Stop(stopCtx); err != nil {
			t.Fatalf("Stop: %v", err)
		}
	}()

	// The listener is up once Start returns; liveness answers immediately.
	resp, err := http.Get("http://" + d.httpServer.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}

	// Every seeded delivery ends up as a build.
	builds := store.NewBuildRepo(d.db)
	deadline := time.Now().Add(5 * time.Second)
	for {
		recent, err := builds.ListRecent(context.Background(), 10)
		if err != nil {
			t.Fatalf("ListRecent: %v", err)
		}
		if len(recent) == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("replayed builds = %d, want 3", len(recent))
		}
		time.Sleep(20 * time.Millisecond)
	}
}
