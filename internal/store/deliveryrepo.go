package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrConflict is returned when an insert violates a uniqueness constraint.
// For webhook deliveries this is the idempotency guard: a conflicting insert
// means the delivery was already accepted.
var ErrConflict = errors.New("store: conflict")

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// DeliveryRepo persists webhook deliveries.
type DeliveryRepo struct {
	db *DB
}

// NewDeliveryRepo creates a new DeliveryRepo backed by the given DB.
func NewDeliveryRepo(db *DB) *DeliveryRepo {
	return &DeliveryRepo{db: db}
}

// Insert stores a new delivery and returns its row id. Returns ErrConflict
// when (provider, delivery_id) already exists.
func (r *DeliveryRepo) Insert(ctx context.Context, d *WebhookDelivery) (int64, error) {
	const query = `
		INSERT INTO webhook_deliveries (provider, delivery_id, repository_id, event_type, payload, processed, error_message, received_at)
		VALUES (?, ?, ?, ?, ?, 0, NULL, ?)
	`

	res, err := r.db.Writer.ExecContext(ctx, query,
		string(d.Provider), d.DeliveryID, d.RepositoryID, d.EventType, d.Payload, d.ReceivedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrConflict
		}
		return 0, fmt.Errorf("insert delivery %s/%s: %w", d.Provider, d.DeliveryID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("delivery insert id: %w", err)
	}
	d.ID = id
	return id, nil
}

// Get retrieves a delivery by its composite key. Returns nil, nil when absent.
func (r *DeliveryRepo) Get(ctx context.Context, provider Provider, deliveryID string) (*WebhookDelivery, error) {
	const query = `
		SELECT id, provider, delivery_id, repository_id, event_type, payload, processed, error_message, received_at
		FROM webhook_deliveries
		WHERE provider = ? AND delivery_id = ?
	`

	d, err := scanDelivery(r.db.Reader.QueryRowContext(ctx, query, string(provider), deliveryID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get delivery %s/%s: %w", provider, deliveryID, err)
	}
	return d, nil
}

// GetByID retrieves a delivery by row id. Returns nil, nil when absent.
func (r *DeliveryRepo) GetByID(ctx context.Context, id int64) (*WebhookDelivery, error) {
	const query = `
		SELECT id, provider, delivery_id, repository_id, event_type, payload, processed, error_message, received_at
		FROM webhook_deliveries
		WHERE id = ?
	`

	d, err := scanDelivery(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get delivery %d: %w", id, err)
	}
	return d, nil
}

// MarkProcessed flags a delivery as fully processed and clears any prior error.
func (r *DeliveryRepo) MarkProcessed(ctx context.Context, id int64) error {
	const query = `UPDATE webhook_deliveries SET processed = 1, error_message = NULL WHERE id = ?`
	if _, err := r.db.Writer.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("mark delivery %d processed: %w", id, err)
	}
	return nil
}

// SetError records a processing failure. The delivery stays unprocessed so the
// next recovery sweep retries it.
func (r *DeliveryRepo) SetError(ctx context.Context, id int64, message string) error {
	const query = `UPDATE webhook_deliveries SET error_message = ? WHERE id = ?`
	if _, err := r.db.Writer.ExecContext(ctx, query, message, id); err != nil {
		return fmt.Errorf("set delivery %d error: %w", id, err)
	}
	return nil
}

// ClearError removes a recorded failure once the delivery is back on a
// normal path.
func (r *DeliveryRepo) ClearError(ctx context.Context, id int64) error {
	const query = `UPDATE webhook_deliveries SET error_message = NULL WHERE id = ?`
	if _, err := r.db.Writer.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("clear delivery %d error: %w", id, err)
	}
	return nil
}

// ListUnprocessed returns up to limit unprocessed deliveries with row id
// greater than afterID, in insertion order. Callers page through the backlog
// by passing the last seen id.
func (r *DeliveryRepo) ListUnprocessed(ctx context.Context, afterID int64, limit int) ([]*WebhookDelivery, error) {
	const query = `
		SELECT id, provider, delivery_id, repository_id, event_type, payload, processed, error_message, received_at
		FROM webhook_deliveries
		WHERE processed = 0 AND id > ?
		ORDER BY id
		LIMIT ?
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed deliveries: %w", err)
	}
	defer rows.Close()

	return scanDeliveries(rows)
}

// ListRecent returns the most recent deliveries for diagnostic APIs.
func (r *DeliveryRepo) ListRecent(ctx context.Context, limit int) ([]*WebhookDelivery, error) {
	const query = `
		SELECT id, provider, delivery_id, repository_id, event_type, payload, processed, error_message, received_at
		FROM webhook_deliveries
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent deliveries: %w", err)
	}
	defer rows.Close()

	return scanDeliveries(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDelivery(row rowScanner) (*WebhookDelivery, error) {
	var d WebhookDelivery
	var provider string
	var processed int
	err := row.Scan(&d.ID, &provider, &d.DeliveryID, &d.RepositoryID, &d.EventType, &d.Payload, &processed, &d.ErrorMessage, &d.ReceivedAt)
	if err != nil {
		return nil, err
	}
	d.Provider = Provider(provider)
	d.Processed = processed != 0
	return &d, nil
}

func scanDeliveries(rows *sql.Rows) ([]*WebhookDelivery, error) {
	var deliveries []*WebhookDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		deliveries = append(deliveries, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deliveries: %w", err)
	}
	return deliveries, nil
}
