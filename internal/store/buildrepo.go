package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is returned when a guarded status update matched no
// row: either the build does not exist or it is not in the expected state.
// Status transitions are monotonic; a build never re-enters pending.
var ErrInvalidTransition = errors.New("store: invalid build status transition")

// BuildRepo persists build records.
type BuildRepo struct {
	db *DB
}

// NewBuildRepo creates a new BuildRepo backed by the given DB.
func NewBuildRepo(db *DB) *BuildRepo {
	return &BuildRepo{db: db}
}

// Create inserts a new build in pending state. Returns ErrConflict when a
// build already exists for the same webhook event, which makes build creation
// safe to attempt twice for the same delivery.
func (r *BuildRepo) Create(ctx context.Context, b *Build) error {
	const query = `
		INSERT INTO builds (id, repository_id, webhook_event_id, commit_sha, branch, trigger_type, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	if b.Status == "" {
		b.Status = BuildStatusPending
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.Writer.ExecContext(ctx, query,
		b.ID, b.RepositoryID, b.WebhookEventID, b.CommitSHA, b.Branch,
		string(b.TriggerType), string(b.Status), b.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("create build %s: %w", b.ID, err)
	}
	return nil
}

// Get retrieves a build by id. Returns nil, nil when absent.
func (r *BuildRepo) Get(ctx context.Context, id string) (*Build, error) {
	const query = `
		SELECT id, repository_id, webhook_event_id, commit_sha, branch, trigger_type, status, error_message, started_at, finished_at, created_at
		FROM builds
		WHERE id = ?
	`

	b, err := scanBuild(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get build %s: %w", id, err)
	}
	return b, nil
}

// MarkRunning transitions a build from pending to running. The WHERE clause
// enforces the state machine: only a pending build can start.
func (r *BuildRepo) MarkRunning(ctx context.Context, id string, startedAt time.Time) error {
	const query = `UPDATE builds SET status = ?, started_at = ? WHERE id = ? AND status = ?`

	res, err := r.db.Writer.ExecContext(ctx, query,
		string(BuildStatusRunning), startedAt.UTC(), id, string(BuildStatusPending))
	if err != nil {
		return fmt.Errorf("mark build %s running: %w", id, err)
	}
	return requireOneRow(res, id)
}

// Finish transitions a running build to a terminal state.
func (r *BuildRepo) Finish(ctx context.Context, id string, status BuildStatus, errorMessage string, finishedAt time.Time) error {
	if !status.Terminal() {
		return fmt.Errorf("finish build %s: %q is not a terminal status", id, status)
	}

	const query = `UPDATE builds SET status = ?, error_message = ?, finished_at = ? WHERE id = ? AND status = ?`

	var msg *string
	if errorMessage != "" {
		msg = &errorMessage
	}
	res, err := r.db.Writer.ExecContext(ctx, query,
		string(status), msg, finishedAt.UTC(), id, string(BuildStatusRunning))
	if err != nil {
		return fmt.Errorf("finish build %s: %w", id, err)
	}
	return requireOneRow(res, id)
}

// CancelPending cancels a build that has not yet been granted a slot.
func (r *BuildRepo) CancelPending(ctx context.Context, id string, finishedAt time.Time) error {
	const query = `UPDATE builds SET status = ?, finished_at = ? WHERE id = ? AND status = ?`

	res, err := r.db.Writer.ExecContext(ctx, query,
		string(BuildStatusCancelled), finishedAt.UTC(), id, string(BuildStatusPending))
	if err != nil {
		return fmt.Errorf("cancel build %s: %w", id, err)
	}
	return requireOneRow(res, id)
}

// FailInterrupted marks every running build as failed. Called once at startup:
// no build can still be executing if the process just started.
func (r *BuildRepo) FailInterrupted(ctx context.Context, message string, finishedAt time.Time) (int64, error) {
	const query = `UPDATE builds SET status = ?, error_message = ?, finished_at = ? WHERE status = ?`

	res, err := r.db.Writer.ExecContext(ctx, query,
		string(BuildStatusFailure), message, finishedAt.UTC(), string(BuildStatusRunning))
	if err != nil {
		return 0, fmt.Errorf("fail interrupted builds: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("fail interrupted builds rows: %w", err)
	}
	return n, nil
}

// ListByStatus returns builds with the given status, oldest first. Pending
// builds come back in FIFO creation order, which is the dispatch order.
func (r *BuildRepo) ListByStatus(ctx context.Context, status BuildStatus) ([]*Build, error) {
	const query = `
		SELECT id, repository_id, webhook_event_id, commit_sha, branch, trigger_type, status, error_message, started_at, finished_at, created_at
		FROM builds
		WHERE status = ?
		ORDER BY created_at, id
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("list builds by status %s: %w", status, err)
	}
	defer rows.Close()

	return scanBuilds(rows)
}

// ListRecent returns the most recently created builds.
func (r *BuildRepo) ListRecent(ctx context.Context, limit int) ([]*Build, error) {
	const query = `
		SELECT id, repository_id, webhook_event_id, commit_sha, branch, trigger_type, status, error_message, started_at, finished_at, created_at
		FROM builds
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent builds: %w", err)
	}
	defer rows.Close()

	return scanBuilds(rows)
}

// CountByStatus returns the number of builds per status.
func (r *BuildRepo) CountByStatus(ctx context.Context) (map[BuildStatus]int, error) {
	const query = `SELECT status, COUNT(*) FROM builds GROUP BY status`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count builds: %w", err)
	}
	defer rows.Close()

	counts := make(map[BuildStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan build count: %w", err)
		}
		counts[BuildStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate build counts: %w", err)
	}
	return counts, nil
}

func requireOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for build %s: %w", id, err)
	}
	if n == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func scanBuild(row rowScanner) (*Build, error) {
	var b Build
	var trigger, status string
	err := row.Scan(&b.ID, &b.RepositoryID, &b.WebhookEventID, &b.CommitSHA, &b.Branch,
		&trigger, &status, &b.ErrorMessage, &b.StartedAt, &b.FinishedAt, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	b.TriggerType = TriggerType(trigger)
	b.Status = BuildStatus(status)
	return &b, nil
}

func scanBuilds(rows *sql.Rows) ([]*Build, error) {
	var builds []*Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, fmt.Errorf("scan build: %w", err)
		}
		builds = append(builds, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate builds: %w", err)
	}
	return builds, nil
}
