package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"musehub.io/musehub/internal/domain"
	"musehub.io/musehub/internal/musehub/store"
)

// --- Commits ---

func (s *Store) PutCommit(ctx context.Context, commit *domain.Commit) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO musehub_commits
			(repo_id, id, parent_ids, snapshot_id, message,
			 author_name, author_email, author_user_id, committed_at, metadata)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		 ON CONFLICT (repo_id, id) DO NOTHING`,
		commit.RepoID, commit.ID, commit.ParentIDs, commit.SnapshotID, commit.Message,
		commit.Author.Name, commit.Author.Email, commit.Author.UserID,
		commit.Timestamp, commit.Metadata)
	if err != nil {
		return mapErr(err, "put commit "+domain.ShortID(commit.ID))
	}
	return nil
}

const commitColumns = `repo_id, id, parent_ids, snapshot_id, message,
	author_name, author_email, author_user_id, committed_at, metadata`

func scanCommit(row pgx.Row) (*domain.Commit, error) {
	var c domain.Commit
	err := row.Scan(&c.RepoID, &c.ID, &c.ParentIDs, &c.SnapshotID, &c.Message,
		&c.Author.Name, &c.Author.Email, &c.Author.UserID, &c.Timestamp, &c.Metadata)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) GetCommit(ctx context.Context, repoID, id string) (*domain.Commit, error) {
	c, err := scanCommit(s.db.QueryRow(ctx,
		`SELECT `+commitColumns+` FROM musehub_commits WHERE repo_id = $1 AND id = $2`,
		repoID, id))
	if err != nil {
		return nil, mapErr(err, "commit "+domain.ShortID(id))
	}
	return c, nil
}

func (s *Store) CommitExists(ctx context.Context, repoID, id string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM musehub_commits WHERE repo_id = $1 AND id = $2)`,
		repoID, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("commit exists: %w", err)
	}
	return exists, nil
}

// --- Objects ---

func (s *Store) PutObject(ctx context.Context, obj *domain.Object) error {
	if obj.CreatedAt.IsZero() {
		obj.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO musehub_objects (repo_id, id, size_bytes, content_type, content, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (repo_id, id) DO NOTHING`,
		obj.RepoID, obj.ID, obj.SizeBytes, obj.ContentType, obj.Content, obj.CreatedAt)
	if err != nil {
		return mapErr(err, "put object "+domain.ShortID(obj.ID))
	}
	return nil
}

func (s *Store) GetObject(ctx context.Context, repoID, id string) (*domain.Object, error) {
	var o domain.Object
	err := s.db.QueryRow(ctx,
		`SELECT repo_id, id, size_bytes, content_type, content, created_at
		 FROM musehub_objects WHERE repo_id = $1 AND id = $2`,
		repoID, id).Scan(&o.RepoID, &o.ID, &o.SizeBytes, &o.ContentType, &o.Content, &o.CreatedAt)
	if err != nil {
		return nil, mapErr(err, "object "+domain.ShortID(id))
	}
	return &o, nil
}

func (s *Store) GetObjectMeta(ctx context.Context, repoID, id string) (*domain.Object, error) {
	var o domain.Object
	err := s.db.QueryRow(ctx,
		`SELECT repo_id, id, size_bytes, content_type, created_at
		 FROM musehub_objects WHERE repo_id = $1 AND id = $2`,
		repoID, id).Scan(&o.RepoID, &o.ID, &o.SizeBytes, &o.ContentType, &o.CreatedAt)
	if err != nil {
		return nil, mapErr(err, "object "+domain.ShortID(id))
	}
	return &o, nil
}

func (s *Store) ObjectExists(ctx context.Context, repoID, id string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM musehub_objects WHERE repo_id = $1 AND id = $2)`,
		repoID, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("object exists: %w", err)
	}
	return exists, nil
}

// --- Tags ---

func (s *Store) UpsertTag(ctx context.Context, tag *domain.Tag) error {
	if tag.CreatedAt.IsZero() {
		tag.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO musehub_tags (repo_id, name, commit_id, message, tagger_id, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (repo_id, name)
		 DO UPDATE SET commit_id = EXCLUDED.commit_id, message = EXCLUDED.message,
			tagger_id = EXCLUDED.tagger_id`,
		tag.RepoID, tag.Name, tag.CommitID, tag.Message, tag.TaggerID, tag.CreatedAt)
	if err != nil {
		return mapErr(err, "upsert tag "+tag.Name)
	}
	return nil
}

func (s *Store) GetTag(ctx context.Context, repoID, name string) (*domain.Tag, error) {
	var t domain.Tag
	err := s.db.QueryRow(ctx,
		`SELECT repo_id, name, commit_id, message, tagger_id, created_at
		 FROM musehub_tags WHERE repo_id = $1 AND name = $2`,
		repoID, name).Scan(&t.RepoID, &t.Name, &t.CommitID, &t.Message, &t.TaggerID, &t.CreatedAt)
	if err != nil {
		return nil, mapErr(err, "tag "+name)
	}
	return &t, nil
}

func (s *Store) ListTags(ctx context.Context, repoID string) ([]*domain.Tag, error) {
	rows, err := s.db.Query(ctx,
		`SELECT repo_id, name, commit_id, message, tagger_id, created_at
		 FROM musehub_tags WHERE repo_id = $1 ORDER BY name`, repoID)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()
	var out []*domain.Tag
	for rows.Next() {
		var t domain.Tag
		if err := rows.Scan(&t.RepoID, &t.Name, &t.CommitID, &t.Message, &t.TaggerID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *Store) DeleteTag(ctx context.Context, repoID, name string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM musehub_tags WHERE repo_id = $1 AND name = $2`, repoID, name)
	if err != nil {
		return mapErr(err, "delete tag "+name)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("tag %s: %w", name, store.ErrNotFound)
	}
	return nil
}

// --- Pull requests ---

func (s *Store) CreatePullRequest(ctx context.Context, pr *domain.PullRequest) error {
	now := time.Now().UTC()
	if pr.CreatedAt.IsZero() {
		pr.CreatedAt = now
	}
	pr.UpdatedAt = now
	// Number assignment and insert happen in one statement so
	// concurrent opens collide on the primary key instead of silently
	// sharing a number.
	err := s.db.QueryRow(ctx,
		`INSERT INTO musehub_pulls
			(id, repo_id, number, title, body, from_branch, to_branch,
			 status, author_id, merge_commit_id, created_at, updated_at)
		 VALUES ($1,$2,
			(SELECT COALESCE(MAX(number), 0) + 1 FROM musehub_pulls WHERE repo_id = $2),
			$3,$4,$5,$6,$7,$8,$9,$10,$11)
		 RETURNING number`,
		pr.ID, pr.RepoID, pr.Title, pr.Body, pr.FromBranch, pr.ToBranch,
		string(pr.Status), pr.AuthorID, pr.MergeCommitID, pr.CreatedAt, pr.UpdatedAt).
		Scan(&pr.Number)
	if err != nil {
		return mapErr(err, "create pull request")
	}
	return nil
}

const pullColumns = `id, repo_id, number, title, body, from_branch, to_branch,
	status, author_id, merge_commit_id, created_at, updated_at`

func scanPull(row pgx.Row) (*domain.PullRequest, error) {
	var pr domain.PullRequest
	var status string
	err := row.Scan(&pr.ID, &pr.RepoID, &pr.Number, &pr.Title, &pr.Body,
		&pr.FromBranch, &pr.ToBranch, &status, &pr.AuthorID,
		&pr.MergeCommitID, &pr.CreatedAt, &pr.UpdatedAt)
	if err != nil {
		return nil, err
	}
	pr.Status = domain.PullStatus(status)
	return &pr, nil
}

func (s *Store) GetPullRequest(ctx context.Context, repoID string, number int) (*domain.PullRequest, error) {
	pr, err := scanPull(s.db.QueryRow(ctx,
		`SELECT `+pullColumns+` FROM musehub_pulls WHERE repo_id = $1 AND number = $2`,
		repoID, number))
	if err != nil {
		return nil, mapErr(err, fmt.Sprintf("pull request #%d", number))
	}
	return pr, nil
}

func (s *Store) ListPullRequests(ctx context.Context, repoID string, status domain.PullStatus) ([]*domain.PullRequest, error) {
	query := `SELECT ` + pullColumns + ` FROM musehub_pulls WHERE repo_id = $1`
	args := []any{repoID}
	if status != "" {
		args = append(args, string(status))
		query += " AND status = $2"
	}
	query += " ORDER BY number DESC"
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pull requests: %w", err)
	}
	defer rows.Close()
	var out []*domain.PullRequest
	for rows.Next() {
		pr, err := scanPull(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pull request: %w", err)
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}

func (s *Store) UpdatePullRequest(ctx context.Context, pr *domain.PullRequest) error {
	pr.UpdatedAt = time.Now().UTC()
	tag, err := s.db.Exec(ctx,
		`UPDATE musehub_pulls
		 SET title=$3, body=$4, status=$5, merge_commit_id=$6, updated_at=$7
		 WHERE repo_id=$1 AND number=$2`,
		pr.RepoID, pr.Number, pr.Title, pr.Body, string(pr.Status),
		pr.MergeCommitID, pr.UpdatedAt)
	if err != nil {
		return mapErr(err, fmt.Sprintf("update pull request #%d", pr.Number))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pull request #%d: %w", pr.Number, store.ErrNotFound)
	}
	return nil
}

// --- Users ---

func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO musehub_users (id, username, email, password_hash, display_name, roles, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		user.ID, user.Username, user.Email, user.PasswordHash, user.DisplayName, user.Roles, user.CreatedAt)
	if err != nil {
		return mapErr(err, "create user "+user.Username)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	err := s.db.QueryRow(ctx,
		`SELECT id, username, email, password_hash, display_name, roles, created_at
		 FROM musehub_users WHERE id = $1`, id).
		Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.DisplayName, &u.Roles, &u.CreatedAt)
	if err != nil {
		return nil, mapErr(err, "user "+id)
	}
	return &u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	var u domain.User
	err := s.db.QueryRow(ctx,
		`SELECT id, username, email, password_hash, display_name, roles, created_at
		 FROM musehub_users WHERE LOWER(username) = LOWER($1)`, username).
		Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.DisplayName, &u.Roles, &u.CreatedAt)
	if err != nil {
		return nil, mapErr(err, "user "+username)
	}
	return &u, nil
}

// --- Activity ---

func (s *Store) AddActivity(ctx context.Context, event *domain.ActivityEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO musehub_activity (id, repo_id, kind, actor_id, ref, detail, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		event.ID, event.RepoID, string(event.Kind), event.ActorID,
		event.Ref, event.Detail, event.CreatedAt)
	if err != nil {
		return mapErr(err, "add activity")
	}
	return nil
}

func (s *Store) ListActivity(ctx context.Context, repoID string, limit int) ([]*domain.ActivityEvent, error) {
	query := `SELECT id, repo_id, kind, actor_id, ref, detail, created_at
		 FROM musehub_activity WHERE repo_id = $1 ORDER BY created_at DESC`
	args := []any{repoID}
	if limit > 0 {
		args = append(args, limit)
		query += " LIMIT $2"
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()
	var out []*domain.ActivityEvent
	for rows.Next() {
		var ev domain.ActivityEvent
		var kind string
		if err := rows.Scan(&ev.ID, &ev.RepoID, &kind, &ev.ActorID, &ev.Ref, &ev.Detail, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		ev.Kind = domain.ActivityKind(kind)
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func (s *Store) DeleteActivityBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM musehub_activity WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete activity: %w", err)
	}
	return tag.RowsAffected(), nil
}
