// Package store defines the persistence interface for Muse Hub
// repositories. Two backends implement it: store/postgres for
// production and store/memory for tests and single-node dev mode.
package store

import (
	"context"
	"errors"
	"time"

	"musehub.io/musehub/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// Callers wrap it with the entity they asked for.
var ErrNotFound = errors.New("musehub: not found")

// ErrDuplicate is returned when a unique constraint would be violated
// (repo slug, tag name, username, branch create on existing name).
var ErrDuplicate = errors.New("musehub: duplicate")

// RepoFilter narrows ListRepos. Zero value lists everything.
type RepoFilter struct {
	OwnerID    string
	Visibility domain.RepoVisibility
}

// Store is the hub's persistence surface. Content-addressed writes
// (PutCommit, PutObject) are idempotent: writing an id that already
// exists is a no-op, never an error.
//
// Implementations must be safe for concurrent use. WithTx runs fn
// against a transactional view; an error from fn rolls every write
// back. Ref updates that depend on a prior read (push, merge) must run
// inside WithTx.
type Store interface {
	// Repos
	CreateRepo(ctx context.Context, repo *domain.Repo) error
	GetRepo(ctx context.Context, id string) (*domain.Repo, error)
	GetRepoBySlug(ctx context.Context, slug string) (*domain.Repo, error)
	ListRepos(ctx context.Context, filter RepoFilter) ([]*domain.Repo, error)
	UpdateRepo(ctx context.Context, repo *domain.Repo) error

	// Branches
	GetBranch(ctx context.Context, repoID, name string) (*domain.Branch, error)
	ListBranches(ctx context.Context, repoID string) ([]*domain.Branch, error)
	UpsertBranch(ctx context.Context, branch *domain.Branch) error
	DeleteBranch(ctx context.Context, repoID, name string) error

	// Commits (content-addressed, append-only)
	PutCommit(ctx context.Context, commit *domain.Commit) error
	GetCommit(ctx context.Context, repoID, id string) (*domain.Commit, error)
	CommitExists(ctx context.Context, repoID, id string) (bool, error)

	// Objects (content-addressed, append-only)
	PutObject(ctx context.Context, obj *domain.Object) error
	GetObject(ctx context.Context, repoID, id string) (*domain.Object, error)
	// GetObjectMeta returns the object without its content payload.
	GetObjectMeta(ctx context.Context, repoID, id string) (*domain.Object, error)
	ObjectExists(ctx context.Context, repoID, id string) (bool, error)

	// Tags
	UpsertTag(ctx context.Context, tag *domain.Tag) error
	GetTag(ctx context.Context, repoID, name string) (*domain.Tag, error)
	ListTags(ctx context.Context, repoID string) ([]*domain.Tag, error)
	DeleteTag(ctx context.Context, repoID, name string) error

	// Pull requests. CreatePullRequest assigns the next repo-scoped
	// Number before inserting.
	CreatePullRequest(ctx context.Context, pr *domain.PullRequest) error
	GetPullRequest(ctx context.Context, repoID string, number int) (*domain.PullRequest, error)
	ListPullRequests(ctx context.Context, repoID string, status domain.PullStatus) ([]*domain.PullRequest, error)
	UpdatePullRequest(ctx context.Context, pr *domain.PullRequest) error

	// Users
	CreateUser(ctx context.Context, user *domain.User) error
	GetUser(ctx context.Context, id string) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)

	// Activity feed
	AddActivity(ctx context.Context, event *domain.ActivityEvent) error
	ListActivity(ctx context.Context, repoID string, limit int) ([]*domain.ActivityEvent, error)
	// DeleteActivityBefore removes feed entries older than cutoff and
	// returns how many were deleted. Retention cleanup calls it.
	DeleteActivityBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// WithTx runs fn against a transactional store view.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	// Ping verifies the backend is reachable. Readiness checks call it.
	Ping(ctx context.Context) error
}

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsDuplicate reports whether err is (or wraps) ErrDuplicate.
func IsDuplicate(err error) bool { return errors.Is(err, ErrDuplicate) }
