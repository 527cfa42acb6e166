// Package postgres implements the hub store on PostgreSQL with raw
// pgx SQL. Migrate bootstraps the schema; every statement targets the
// shared pgxpool so hub tables live alongside the job queue.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"musehub.io/musehub/internal/domain"
	"musehub.io/musehub/internal/musehub/store"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so the same
// statement methods serve pooled and transactional calls.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the PostgreSQL-backed hub store.
type Store struct {
	pool *pgxpool.Pool
	db   querier
}

// New wraps a connection pool. Call Migrate before first use.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

var _ store.Store = (*Store)(nil)

// Migrate creates the hub tables when they do not exist. Idempotent;
// runs at startup before the server accepts traffic.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS musehub_repos (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			slug TEXT NOT NULL UNIQUE,
			owner_id TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			visibility TEXT NOT NULL,
			default_branch TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS musehub_branches (
			repo_id TEXT NOT NULL REFERENCES musehub_repos(id),
			name TEXT NOT NULL,
			head_commit_id TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (repo_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS musehub_commits (
			repo_id TEXT NOT NULL REFERENCES musehub_repos(id),
			id TEXT NOT NULL,
			parent_ids TEXT[] NOT NULL DEFAULT '{}',
			snapshot_id TEXT NOT NULL,
			message TEXT NOT NULL,
			author_name TEXT NOT NULL DEFAULT '',
			author_email TEXT NOT NULL DEFAULT '',
			author_user_id TEXT NOT NULL DEFAULT '',
			committed_at TIMESTAMPTZ NOT NULL,
			metadata JSONB,
			PRIMARY KEY (repo_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS musehub_objects (
			repo_id TEXT NOT NULL REFERENCES musehub_repos(id),
			id TEXT NOT NULL,
			size_bytes BIGINT NOT NULL,
			content_type TEXT NOT NULL,
			content BYTEA NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (repo_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS musehub_tags (
			repo_id TEXT NOT NULL REFERENCES musehub_repos(id),
			name TEXT NOT NULL,
			commit_id TEXT NOT NULL,
			message TEXT NOT NULL DEFAULT '',
			tagger_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (repo_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS musehub_pulls (
			id TEXT NOT NULL,
			repo_id TEXT NOT NULL REFERENCES musehub_repos(id),
			number INTEGER NOT NULL,
			title TEXT NOT NULL,
			body TEXT NOT NULL DEFAULT '',
			from_branch TEXT NOT NULL,
			to_branch TEXT NOT NULL,
			status TEXT NOT NULL,
			author_id TEXT NOT NULL DEFAULT '',
			merge_commit_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (repo_id, number)
		)`,
		`CREATE TABLE IF NOT EXISTS musehub_users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			roles TEXT[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS musehub_users_username_idx
			ON musehub_users (LOWER(username))`,
		`CREATE TABLE IF NOT EXISTS musehub_activity (
			id TEXT PRIMARY KEY,
			repo_id TEXT NOT NULL REFERENCES musehub_repos(id),
			kind TEXT NOT NULL,
			actor_id TEXT NOT NULL DEFAULT '',
			ref TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS musehub_activity_repo_idx
			ON musehub_activity (repo_id, created_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate hub schema: %w", err)
		}
	}
	return nil
}

// WithTx runs fn inside a database transaction. Nested calls reuse the
// open transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Store) error) error {
	if _, inTx := s.db.(pgx.Tx); inTx {
		return fn(s)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&Store{pool: s.pool, db: tx})
	})
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// mapErr converts driver errors into the store sentinels. what names
// the record for the wrapped message.
func mapErr(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%s: %w", what, store.ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// --- Repos ---

func (s *Store) CreateRepo(ctx context.Context, repo *domain.Repo) error {
	now := time.Now().UTC()
	if repo.CreatedAt.IsZero() {
		repo.CreatedAt = now
	}
	repo.UpdatedAt = now
	_, err := s.db.Exec(ctx,
		`INSERT INTO musehub_repos
			(id, name, slug, owner_id, description, visibility, default_branch, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		repo.ID, repo.Name, repo.Slug, repo.OwnerID, repo.Description,
		string(repo.Visibility), repo.DefaultBranch, repo.CreatedAt, repo.UpdatedAt)
	if err != nil {
		return mapErr(err, "create repo "+repo.Slug)
	}
	return nil
}

const repoColumns = `id, name, slug, owner_id, description, visibility, default_branch, created_at, updated_at`

func scanRepo(row pgx.Row) (*domain.Repo, error) {
	var r domain.Repo
	var visibility string
	err := row.Scan(&r.ID, &r.Name, &r.Slug, &r.OwnerID, &r.Description,
		&visibility, &r.DefaultBranch, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Visibility = domain.RepoVisibility(visibility)
	return &r, nil
}

func (s *Store) GetRepo(ctx context.Context, id string) (*domain.Repo, error) {
	r, err := scanRepo(s.db.QueryRow(ctx,
		`SELECT `+repoColumns+` FROM musehub_repos WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr(err, "repo "+id)
	}
	return r, nil
}

func (s *Store) GetRepoBySlug(ctx context.Context, slug string) (*domain.Repo, error) {
	r, err := scanRepo(s.db.QueryRow(ctx,
		`SELECT `+repoColumns+` FROM musehub_repos WHERE slug = $1`, slug))
	if err != nil {
		return nil, mapErr(err, "repo slug "+slug)
	}
	return r, nil
}

func (s *Store) ListRepos(ctx context.Context, filter store.RepoFilter) ([]*domain.Repo, error) {
	query := `SELECT ` + repoColumns + ` FROM musehub_repos WHERE 1=1`
	args := []any{}
	if filter.OwnerID != "" {
		args = append(args, filter.OwnerID)
		query += fmt.Sprintf(" AND owner_id = $%d", len(args))
	}
	if filter.Visibility != "" {
		args = append(args, string(filter.Visibility))
		query += fmt.Sprintf(" AND visibility = $%d", len(args))
	}
	query += " ORDER BY slug"
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list repos: %w", err)
	}
	defer rows.Close()
	var out []*domain.Repo
	for rows.Next() {
		r, err := scanRepo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan repo: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) UpdateRepo(ctx context.Context, repo *domain.Repo) error {
	repo.UpdatedAt = time.Now().UTC()
	tag, err := s.db.Exec(ctx,
		`UPDATE musehub_repos
		 SET name=$2, slug=$3, description=$4, visibility=$5, default_branch=$6, updated_at=$7
		 WHERE id=$1`,
		repo.ID, repo.Name, repo.Slug, repo.Description,
		string(repo.Visibility), repo.DefaultBranch, repo.UpdatedAt)
	if err != nil {
		return mapErr(err, "update repo "+repo.ID)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("repo %s: %w", repo.ID, store.ErrNotFound)
	}
	return nil
}

// --- Branches ---

func (s *Store) GetBranch(ctx context.Context, repoID, name string) (*domain.Branch, error) {
	var b domain.Branch
	err := s.db.QueryRow(ctx,
		`SELECT repo_id, name, head_commit_id, updated_at
		 FROM musehub_branches WHERE repo_id = $1 AND name = $2`,
		repoID, name).Scan(&b.RepoID, &b.Name, &b.HeadCommitID, &b.UpdatedAt)
	if err != nil {
		return nil, mapErr(err, "branch "+name)
	}
	return &b, nil
}

func (s *Store) ListBranches(ctx context.Context, repoID string) ([]*domain.Branch, error) {
	rows, err := s.db.Query(ctx,
		`SELECT repo_id, name, head_commit_id, updated_at
		 FROM musehub_branches WHERE repo_id = $1 ORDER BY name`, repoID)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	defer rows.Close()
	var out []*domain.Branch
	for rows.Next() {
		var b domain.Branch
		if err := rows.Scan(&b.RepoID, &b.Name, &b.HeadCommitID, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan branch: %w", err)
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

func (s *Store) UpsertBranch(ctx context.Context, branch *domain.Branch) error {
	branch.UpdatedAt = time.Now().UTC()
	_, err := s.db.Exec(ctx,
		`INSERT INTO musehub_branches (repo_id, name, head_commit_id, updated_at)
		 VALUES ($1,$2,$3,$4)
		 ON CONFLICT (repo_id, name)
		 DO UPDATE SET head_commit_id = EXCLUDED.head_commit_id, updated_at = EXCLUDED.updated_at`,
		branch.RepoID, branch.Name, branch.HeadCommitID, branch.UpdatedAt)
	if err != nil {
		return mapErr(err, "upsert branch "+branch.Name)
	}
	return nil
}

func (s *Store) DeleteBranch(ctx context.Context, repoID, name string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM musehub_branches WHERE repo_id = $1 AND name = $2`, repoID, name)
	if err != nil {
		return mapErr(err, "delete branch "+name)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("branch %s: %w", name, store.ErrNotFound)
	}
	return nil
}
