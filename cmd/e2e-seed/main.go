// Package main seeds deterministic fixtures for live end-to-end tests.
//
// Unlike cmd/seed, every id and timestamp here is fixed so e2e suites
// can assert on commit addresses across runs. This command is
// test-environment only and is intentionally idempotent.
package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"musehub.io/musehub/internal/config"
	"musehub.io/musehub/internal/domain"
	"musehub.io/musehub/internal/infrastructure"
	"musehub.io/musehub/internal/musehub"
	"musehub.io/musehub/internal/musehub/store"
	apperrors "musehub.io/musehub/internal/pkg/errors"
	"musehub.io/musehub/internal/pkg/logger"
)

const (
	defaultOwnerUsername = "e2e-owner"
	defaultOwnerPassword = "e2e-owner-123"
	defaultAdminUsername = "e2e-admin"
	defaultAdminPassword = "e2e-admin-123"

	defaultRepoID   = "repo-e2e"
	defaultRepoName = "E2E Mix"

	ownerUserID = "user-e2e-owner"
	adminUserID = "user-e2e-admin"
)

// fixtureBase anchors every commit timestamp. Fixed time means fixed
// content addresses.
var fixtureBase = time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)

type fixtureConfig struct {
	OwnerUsername string
	OwnerPassword string
	AdminUsername string
	AdminPassword string

	RepoID   string
	RepoName string
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "e2e-seed error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	if cfg.Database.Backend != "postgres" {
		return fmt.Errorf("e2e seeding requires database.backend=postgres, got %q", cfg.Database.Backend)
	}

	ctx := context.Background()
	db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer db.Close()

	fx := loadFixtureConfig()
	hub := musehub.NewService(db.Store)

	if err := ensureUser(ctx, db.Store, ownerUserID, fx.OwnerUsername, fx.OwnerPassword, "E2E Owner", []string{"user"}); err != nil {
		return fmt.Errorf("ensure owner user: %w", err)
	}
	if err := ensureUser(ctx, db.Store, adminUserID, fx.AdminUsername, fx.AdminPassword, "E2E Administrator", []string{"admin"}); err != nil {
		return fmt.Errorf("ensure admin user: %w", err)
	}

	repo, err := ensureRepo(ctx, db.Store, fx)
	if err != nil {
		return fmt.Errorf("ensure repo: %w", err)
	}

	head, err := ensureHistory(ctx, hub, repo)
	if err != nil {
		return fmt.Errorf("ensure history: %w", err)
	}

	fmt.Printf("e2e fixtures ready (repo=%s head=%s owner=%s admin=%s)\n",
		repo.Slug, domain.ShortID(head), fx.OwnerUsername, fx.AdminUsername,
	)
	return nil
}

func loadFixtureConfig() fixtureConfig {
	return fixtureConfig{
		OwnerUsername: envOrDefault("E2E_OWNER_USERNAME", defaultOwnerUsername),
		OwnerPassword: envOrDefault("E2E_OWNER_PASSWORD", defaultOwnerPassword),
		AdminUsername: envOrDefault("E2E_ADMIN_USERNAME", defaultAdminUsername),
		AdminPassword: envOrDefault("E2E_ADMIN_PASSWORD", defaultAdminPassword),
		RepoID:        envOrDefault("E2E_REPO_ID", defaultRepoID),
		RepoName:      envOrDefault("E2E_REPO_NAME", defaultRepoName),
	}
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// ensureUser creates a fixture account with a fixed id. Existing
// accounts are left alone; other fixture rows may reference their ids.
func ensureUser(ctx context.Context, st store.Store, id, username, password, displayName string, roles []string) error {
	_, err := st.GetUserByUsername(ctx, username)
	if err == nil {
		return nil
	}
	if !store.IsNotFound(err) {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return st.CreateUser(ctx, &domain.User{
		ID:           id,
		Username:     username,
		Email:        username + "@localhost",
		PasswordHash: string(hash),
		DisplayName:  displayName,
		Roles:        roles,
		CreatedAt:    fixtureBase,
	})
}

func ensureRepo(ctx context.Context, st store.Store, fx fixtureConfig) (*domain.Repo, error) {
	existing, err := st.GetRepo(ctx, fx.RepoID)
	if err == nil {
		return existing, nil
	}
	if !store.IsNotFound(err) {
		return nil, err
	}

	owner, err := st.GetUserByUsername(ctx, fx.OwnerUsername)
	if err != nil {
		return nil, fmt.Errorf("owner lookup: %w", err)
	}

	repo := &domain.Repo{
		ID:            fx.RepoID,
		Name:          fx.RepoName,
		Slug:          domain.Slugify(fx.RepoName),
		OwnerID:       owner.ID,
		Description:   "Deterministic fixture repository for live end-to-end tests.",
		Visibility:    domain.RepoPublic,
		DefaultBranch: "main",
		CreatedAt:     fixtureBase,
		UpdatedAt:     fixtureBase,
	}
	if err := st.CreateRepo(ctx, repo); err != nil {
		return nil, err
	}
	return repo, nil
}

// ensureHistory pushes the fixed commit chain: two commits on main, a
// divergent take branch, an open pull request, and a release tag.
// Re-runs push the same heads, which the service treats as a no-op.
func ensureHistory(ctx context.Context, hub *musehub.Service, repo *domain.Repo) (string, error) {
	owner, err := hub.GetUser(ctx, repo.OwnerID)
	if err != nil {
		return "", fmt.Errorf("owner: %w", err)
	}

	first, err := fixtureCommit(repo.ID, nil, "Initial four-bar loop", owner, fixtureBase, map[string]string{
		"drums/loop.mid": "e2e:drums:v1",
		"keys/pad.mid":   "e2e:keys:v1",
	})
	if err != nil {
		return "", err
	}
	second, err := fixtureCommit(repo.ID, []string{first.commit.ID}, "Double the pad an octave up", owner, fixtureBase.Add(time.Hour), map[string]string{
		"drums/loop.mid": "e2e:drums:v1",
		"keys/pad.mid":   "e2e:keys:v2",
	})
	if err != nil {
		return "", err
	}
	if _, err := hub.Push(ctx, repo.ID, owner.ID, musehub.PushInput{
		Branch:       repo.DefaultBranch,
		HeadCommitID: second.commit.ID,
		Commits:      []*domain.Commit{first.commit, second.commit},
		Objects:      append(first.objects, second.objects...),
	}); err != nil {
		return "", fmt.Errorf("push main: %w", err)
	}

	take, err := fixtureCommit(repo.ID, []string{second.commit.ID}, "Alternate darker pad take", owner, fixtureBase.Add(2*time.Hour), map[string]string{
		"drums/loop.mid": "e2e:drums:v1",
		"keys/pad.mid":   "e2e:keys:v2-dark",
	})
	if err != nil {
		return "", err
	}
	if _, err := hub.Push(ctx, repo.ID, owner.ID, musehub.PushInput{
		Branch:       "take/dark-pad",
		HeadCommitID: take.commit.ID,
		Commits:      []*domain.Commit{take.commit},
		Objects:      take.objects,
	}); err != nil {
		return "", fmt.Errorf("push take branch: %w", err)
	}

	if prs, err := hub.ListPullRequests(ctx, repo.ID, domain.PullOpen); err != nil {
		return "", fmt.Errorf("list pull requests: %w", err)
	} else if len(prs) == 0 {
		if _, err := hub.OpenPullRequest(ctx, repo.ID, owner.ID, musehub.OpenPullInput{
			Title:      "Darker pad for the outro",
			Body:       "Fixture pull request; e2e suites merge or close it.",
			FromBranch: "take/dark-pad",
			ToBranch:   repo.DefaultBranch,
		}); err != nil {
			return "", fmt.Errorf("open pull request: %w", err)
		}
	}

	if _, err := hub.GetBranch(ctx, repo.ID, repo.DefaultBranch); err != nil {
		return "", fmt.Errorf("verify default branch: %w", err)
	}

	if _, err := hub.CreateTag(ctx, repo.ID, owner.ID, musehub.CreateTagInput{
		Name:     "v1.0.0",
		CommitID: second.commit.ID,
		Message:  "Fixture release",
	}); err != nil {
		appErr, ok := apperrors.IsAppError(err)
		if !ok || appErr.Code != apperrors.CodeTagExists {
			return "", fmt.Errorf("create tag: %w", err)
		}
	}

	return second.commit.ID, nil
}

type fixtureFiles struct {
	commit  *domain.Commit
	objects []*domain.Object
}

func fixtureCommit(repoID string, parents []string, message string, author *domain.User, ts time.Time, files map[string]string) (*fixtureFiles, error) {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	// Manifest encoding sorts entries; sorting here keeps object order
	// stable too.
	sort.Strings(paths)

	var manifest domain.SnapshotManifest
	var objects []*domain.Object
	for _, path := range paths {
		content := []byte(files[path])
		obj := &domain.Object{
			ID:          domain.ComputeObjectID(content),
			RepoID:      repoID,
			SizeBytes:   int64(len(content)),
			ContentType: "audio/midi",
			Content:     content,
		}
		objects = append(objects, obj)
		manifest.Entries = append(manifest.Entries, domain.SnapshotEntry{Path: path, ObjectID: obj.ID})
	}

	snap, err := domain.NewSnapshotObject(repoID, manifest)
	if err != nil {
		return nil, err
	}
	objects = append(objects, snap)

	commit := &domain.Commit{
		RepoID:     repoID,
		ParentIDs:  parents,
		SnapshotID: snap.ID,
		Message:    message,
		Author: domain.CommitAuthor{
			Name:   author.DisplayName,
			Email:  author.Email,
			UserID: author.ID,
		},
		Timestamp: ts,
	}
	commit.ID = commit.ComputeID()

	return &fixtureFiles{commit: commit, objects: objects}, nil
}
