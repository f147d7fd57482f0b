package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ReplayGuardRepo manages the short-lived replay-block markers. Unlike the
// delivery rows themselves these expire and are purged by the cleanup task.
type ReplayGuardRepo struct {
	db *DB
}

// NewReplayGuardRepo creates a new ReplayGuardRepo backed by the given DB.
func NewReplayGuardRepo(db *DB) *ReplayGuardRepo {
	return &ReplayGuardRepo{db: db}
}

// Put records (or refreshes) a replay guard for a delivery.
func (r *ReplayGuardRepo) Put(ctx context.Context, provider Provider, deliveryID string, expiresAt time.Time) error {
	const query = `
		INSERT INTO replay_guards (provider, delivery_id, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT (provider, delivery_id) DO UPDATE SET expires_at = excluded.expires_at
	`
	if _, err := r.db.Writer.ExecContext(ctx, query, string(provider), deliveryID, expiresAt.UTC()); err != nil {
		return fmt.Errorf("put replay guard %s/%s: %w", provider, deliveryID, err)
	}
	return nil
}

// Exists reports whether an unexpired guard is present.
func (r *ReplayGuardRepo) Exists(ctx context.Context, provider Provider, deliveryID string, now time.Time) (bool, error) {
	const query = `SELECT 1 FROM replay_guards WHERE provider = ? AND delivery_id = ? AND expires_at > ?`

	var one int
	err := r.db.Reader.QueryRowContext(ctx, query, string(provider), deliveryID, now.UTC()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check replay guard %s/%s: %w", provider, deliveryID, err)
	}
	return true, nil
}

// DeleteExpired removes guards past their TTL and returns the count removed.
func (r *ReplayGuardRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const query = `DELETE FROM replay_guards WHERE expires_at <= ?`

	res, err := r.db.Writer.ExecContext(ctx, query, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired replay guards: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired replay guard rows: %w", err)
	}
	return n, nil
}

// OAuthStateRepo manages single-use OAuth redirect state tokens.
type OAuthStateRepo struct {
	db *DB
}

// NewOAuthStateRepo creates a new OAuthStateRepo backed by the given DB.
func NewOAuthStateRepo(db *DB) *OAuthStateRepo {
	return &OAuthStateRepo{db: db}
}

// Create stores a new state token.
func (r *OAuthStateRepo) Create(ctx context.Context, s *OAuthState) error {
	const query = `
		INSERT INTO oauth_states (state, provider, created_at, expires_at)
		VALUES (?, ?, ?, ?)
	`
	_, err := r.db.Writer.ExecContext(ctx, query,
		s.State, string(s.Provider), s.CreatedAt.UTC(), s.ExpiresAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("create oauth state: %w", err)
	}
	return nil
}

// Consume marks a state token as used. It succeeds at most once per token:
// a second consume, an expired token, or an unknown token all return false.
func (r *OAuthStateRepo) Consume(ctx context.Context, state string, now time.Time) (bool, error) {
	const query = `
		UPDATE oauth_states SET consumed_at = ?
		WHERE state = ? AND consumed_at IS NULL AND expires_at > ?
	`

	res, err := r.db.Writer.ExecContext(ctx, query, now.UTC(), state, now.UTC())
	if err != nil {
		return false, fmt.Errorf("consume oauth state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consume oauth state rows: %w", err)
	}
	return n == 1, nil
}

// DeleteExpired removes state tokens past their TTL and returns the count removed.
func (r *OAuthStateRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const query = `DELETE FROM oauth_states WHERE expires_at <= ?`

	res, err := r.db.Writer.ExecContext(ctx, query, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired oauth states: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired oauth state rows: %w", err)
	}
	return n, nil
}
