package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RepositoryRepo persists tracked repositories.
type RepositoryRepo struct {
	db *DB
}

// NewRepositoryRepo creates a new RepositoryRepo backed by the given DB.
func NewRepositoryRepo(db *DB) *RepositoryRepo {
	return &RepositoryRepo{db: db}
}

// ResolveOrCreate returns the repository for (provider, provider_repo_id),
// creating it if unknown. First-time webhook deliveries (install events)
// arrive before the repository is registered, so creation is the common path
// for new projects.
func (r *RepositoryRepo) ResolveOrCreate(ctx context.Context, provider Provider, providerRepoID, owner, name string) (*Repository, error) {
	if providerRepoID == "" {
		return nil, fmt.Errorf("resolve repository: provider repo id is required")
	}

	const insert = `
		INSERT INTO repositories (provider, provider_repo_id, owner, name, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (provider, provider_repo_id) DO NOTHING
	`
	if _, err := r.db.Writer.ExecContext(ctx, insert,
		string(provider), providerRepoID, owner, name, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("create repository %s/%s: %w", owner, name, err)
	}

	const query = `
		SELECT id, provider, provider_repo_id, owner, name, created_at
		FROM repositories
		WHERE provider = ? AND provider_repo_id = ?
	`
	repo, err := scanRepository(r.db.Reader.QueryRowContext(ctx, query, string(provider), providerRepoID))
	if err != nil {
		return nil, fmt.Errorf("resolve repository %s/%s: %w", provider, providerRepoID, err)
	}
	return repo, nil
}

// Get retrieves a repository by id. Returns nil, nil when absent.
func (r *RepositoryRepo) Get(ctx context.Context, id int64) (*Repository, error) {
	const query = `
		SELECT id, provider, provider_repo_id, owner, name, created_at
		FROM repositories
		WHERE id = ?
	`

	repo, err := scanRepository(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get repository %d: %w", id, err)
	}
	return repo, nil
}

// GetByName retrieves a repository by provider and owner/name. Returns
// nil, nil when absent.
func (r *RepositoryRepo) GetByName(ctx context.Context, provider Provider, owner, name string) (*Repository, error) {
	const query = `
		SELECT id, provider, provider_repo_id, owner, name, created_at
		FROM repositories
		WHERE provider = ? AND owner = ? AND name = ?
	`

	repo, err := scanRepository(r.db.Reader.QueryRowContext(ctx, query, string(provider), owner, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get repository %s/%s/%s: %w", provider, owner, name, err)
	}
	return repo, nil
}

func scanRepository(row rowScanner) (*Repository, error) {
	var repo Repository
	var provider string
	err := row.Scan(&repo.ID, &provider, &repo.ProviderRepoID, &repo.Owner, &repo.Name, &repo.CreatedAt)
	if err != nil {
		return nil, err
	}
	repo.Provider = Provider(provider)
	return &repo, nil
}
