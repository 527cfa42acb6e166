// Package musehub implements the hosted music VCS: repositories,
// branches, content-addressed commits and objects, tags, pull
// requests, and the push/pull/fetch/clone sync protocol the muse CLI
// speaks. The service layer owns every rule; handlers only translate
// HTTP.
package musehub

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"musehub.io/musehub/internal/domain"
	"musehub.io/musehub/internal/musehub/store"
	apperrors "musehub.io/musehub/internal/pkg/errors"
	"musehub.io/musehub/internal/pkg/logger"
)

const passwordHashCost = 12

// defaultBranchName is used when a repo is created without one.
const defaultBranchName = "main"

// Service is the hub's application layer over a Store.
type Service struct {
	store store.Store
}

// NewService creates a new hub service.
func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// newID generates a UUIDv7 for time-ordered ids, falling back to v4.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// getRepo loads a repo by id, falling back to slug lookup so both
// forms work in URLs.
func getRepo(ctx context.Context, st store.Store, ref string) (*domain.Repo, error) {
	repo, err := st.GetRepo(ctx, ref)
	if err == nil {
		return repo, nil
	}
	if !store.IsNotFound(err) {
		return nil, fmt.Errorf("get repo: %w", err)
	}
	repo, err = st.GetRepoBySlug(ctx, ref)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperrors.NotFound(apperrors.CodeRepoNotFound, "repository not found").
				WithParams(map[string]interface{}{"repo": ref})
		}
		return nil, fmt.Errorf("get repo by slug: %w", err)
	}
	return repo, nil
}

// recordActivity appends to the repo feed. Feed writes never fail the
// operation that produced them.
func recordActivity(ctx context.Context, st store.Store, ev domain.ActivityEvent) {
	ev.ID = newID()
	ev.CreatedAt = time.Now().UTC()
	if err := st.AddActivity(ctx, &ev); err != nil {
		logger.Warn("activity write failed",
			zap.Error(err),
			zap.String("repo_id", ev.RepoID),
			zap.String("kind", string(ev.Kind)),
		)
	}
}

// CreateRepoInput is the body of POST /musehub/repos.
type CreateRepoInput struct {
	Name          string                `json:"name"`
	Description   string                `json:"description,omitempty"`
	Visibility    domain.RepoVisibility `json:"visibility,omitempty"`
	DefaultBranch string                `json:"default_branch,omitempty"`
}

// CreateRepo registers an empty repository. The default branch stays
// unborn until the first push lands a commit on it.
func (s *Service) CreateRepo(ctx context.Context, ownerID string, input CreateRepoInput) (*domain.Repo, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperrors.BadRequest(apperrors.CodeNameInvalid, "repository name must not be empty")
	}
	slug := domain.Slugify(name)
	if slug == "" {
		return nil, apperrors.BadRequest(apperrors.CodeNameInvalid, "repository name has no usable characters")
	}
	visibility := input.Visibility
	if visibility == "" {
		visibility = domain.RepoPrivate
	}
	if !domain.ValidVisibility(visibility) {
		return nil, apperrors.BadRequest(apperrors.CodeValidationFailed, "visibility must be public or private")
	}
	branch := strings.TrimSpace(input.DefaultBranch)
	if branch == "" {
		branch = defaultBranchName
	}
	if err := validateRefName(branch); err != nil {
		return nil, err
	}

	repo := &domain.Repo{
		ID:            newID(),
		Name:          name,
		Slug:          slug,
		OwnerID:       ownerID,
		Description:   strings.TrimSpace(input.Description),
		Visibility:    visibility,
		DefaultBranch: branch,
	}
	if err := s.store.CreateRepo(ctx, repo); err != nil {
		if store.IsDuplicate(err) {
			return nil, apperrors.Conflict(apperrors.CodeRepoExists, "a repository with this name already exists").
				WithParams(map[string]interface{}{"slug": slug})
		}
		return nil, fmt.Errorf("create repo: %w", err)
	}
	recordActivity(ctx, s.store, domain.ActivityEvent{
		RepoID:  repo.ID,
		Kind:    domain.ActivityRepoCreated,
		ActorID: ownerID,
		Ref:     repo.Slug,
		Detail:  "repository created",
	})
	logger.Info("Repository created",
		zap.String("repo_id", repo.ID),
		zap.String("slug", repo.Slug),
		zap.String("owner_id", ownerID),
	)
	return repo, nil
}

// GetRepo resolves a repo by id or slug.
func (s *Service) GetRepo(ctx context.Context, ref string) (*domain.Repo, error) {
	return getRepo(ctx, s.store, ref)
}

// ListRepos lists repositories, optionally filtered.
func (s *Service) ListRepos(ctx context.Context, filter store.RepoFilter) ([]*domain.Repo, error) {
	repos, err := s.store.ListRepos(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list repos: %w", err)
	}
	return repos, nil
}

// UpdateRepoInput carries PATCH /musehub/repos/:repoId fields. Nil
// pointers leave the field untouched.
type UpdateRepoInput struct {
	Name          *string                `json:"name,omitempty"`
	Description   *string                `json:"description,omitempty"`
	Visibility    *domain.RepoVisibility `json:"visibility,omitempty"`
	DefaultBranch *string                `json:"default_branch,omitempty"`
}

// UpdateRepo patches repo settings. Renames re-slug the repo; moving
// the default branch requires the target branch to exist.
func (s *Service) UpdateRepo(ctx context.Context, ref string, input UpdateRepoInput) (*domain.Repo, error) {
	repo, err := getRepo(ctx, s.store, ref)
	if err != nil {
		return nil, err
	}
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		slug := domain.Slugify(name)
		if name == "" || slug == "" {
			return nil, apperrors.BadRequest(apperrors.CodeNameInvalid, "repository name must not be empty")
		}
		repo.Name = name
		repo.Slug = slug
	}
	if input.Description != nil {
		repo.Description = strings.TrimSpace(*input.Description)
	}
	if input.Visibility != nil {
		if !domain.ValidVisibility(*input.Visibility) {
			return nil, apperrors.BadRequest(apperrors.CodeValidationFailed, "visibility must be public or private")
		}
		repo.Visibility = *input.Visibility
	}
	if input.DefaultBranch != nil {
		name := strings.TrimSpace(*input.DefaultBranch)
		if err := validateRefName(name); err != nil {
			return nil, err
		}
		if _, err := s.store.GetBranch(ctx, repo.ID, name); err != nil {
			if store.IsNotFound(err) {
				return nil, apperrors.Unprocessable(apperrors.CodeBranchNotFound,
					"default branch must point at an existing branch").
					WithParams(map[string]interface{}{"branch": name})
			}
			return nil, fmt.Errorf("get branch: %w", err)
		}
		repo.DefaultBranch = name
	}
	if err := s.store.UpdateRepo(ctx, repo); err != nil {
		if store.IsDuplicate(err) {
			return nil, apperrors.Conflict(apperrors.CodeRepoExists, "a repository with this name already exists").
				WithParams(map[string]interface{}{"slug": repo.Slug})
		}
		return nil, fmt.Errorf("update repo: %w", err)
	}
	return repo, nil
}

// Activity returns the repo's newest feed entries.
func (s *Service) Activity(ctx context.Context, ref string, limit int) ([]*domain.ActivityEvent, error) {
	repo, err := getRepo(ctx, s.store, ref)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	events, err := s.store.ListActivity(ctx, repo.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	return events, nil
}

// --- Users ---

// CreateUserInput registers a hub account. Seed and admin tooling use
// it; there is no public signup endpoint.
type CreateUserInput struct {
	Username    string
	Email       string
	Password    string
	DisplayName string
	Roles       []string
}

// CreateUser hashes the password and stores the account.
func (s *Service) CreateUser(ctx context.Context, input CreateUserInput) (*domain.User, error) {
	username := strings.TrimSpace(input.Username)
	if username == "" {
		return nil, apperrors.BadRequest(apperrors.CodeNameInvalid, "username must not be empty")
	}
	if len(input.Password) < 8 {
		return nil, apperrors.BadRequest(apperrors.CodeValidationFailed, "password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), passwordHashCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	roles := input.Roles
	if len(roles) == 0 {
		roles = []string{"user"}
	}
	user := &domain.User{
		ID:           newID(),
		Username:     username,
		Email:        strings.TrimSpace(input.Email),
		PasswordHash: string(hash),
		DisplayName:  strings.TrimSpace(input.DisplayName),
		Roles:        roles,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if store.IsDuplicate(err) {
			return nil, apperrors.Conflict(apperrors.CodeValidationFailed, "username is taken").
				WithParams(map[string]interface{}{"username": username})
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	logger.Info("User created", zap.String("user_id", user.ID), zap.String("username", user.Username))
	return user, nil
}

// Authenticate verifies credentials. Unknown users and wrong passwords
// return the same error so accounts cannot be enumerated.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*domain.User, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if store.IsNotFound(err) {
			logger.Warn("login failed: invalid credentials")
			return nil, apperrors.Unauthorized(apperrors.CodeAuthFailed, "invalid credentials")
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		logger.Warn("login failed: invalid credentials")
		return nil, apperrors.Unauthorized(apperrors.CodeAuthFailed, "invalid credentials")
	}
	return user, nil
}

// GetUser loads an account by id.
func (s *Service) GetUser(ctx context.Context, id string) (*domain.User, error) {
	user, err := s.store.GetUser(ctx, id)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperrors.NotFound(apperrors.CodeAuthFailed, "user not found")
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// authorFor builds the commit author identity for a hub account,
// falling back to the bare actor id for service principals.
func (s *Service) authorFor(ctx context.Context, actorID string) domain.CommitAuthor {
	user, err := s.store.GetUser(ctx, actorID)
	if err != nil {
		return domain.CommitAuthor{Name: actorID, UserID: actorID}
	}
	name := user.DisplayName
	if name == "" {
		name = user.Username
	}
	return domain.CommitAuthor{Name: name, Email: user.Email, UserID: user.ID}
}

// Ping reports store health for readiness probes.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// validateRefName enforces the shared rules for branch and tag names.
func validateRefName(name string) error {
	switch {
	case name == "":
		return apperrors.BadRequest(apperrors.CodeNameInvalid, "ref name must not be empty")
	case strings.ContainsAny(name, " \t\n"):
		return apperrors.BadRequest(apperrors.CodeNameInvalid, "ref name must not contain whitespace")
	case strings.Contains(name, ".."):
		return apperrors.BadRequest(apperrors.CodeNameInvalid, "ref name must not contain '..'")
	case strings.HasPrefix(name, "-") || strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/"):
		return apperrors.BadRequest(apperrors.CodeNameInvalid, "ref name must not start with '-' or begin or end with '/'")
	}
	return nil
}
