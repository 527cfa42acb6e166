// Package main provides data seeding for Muse Hub.
//
// The server auto-generates secrets on first boot but never invents
// accounts. Run this once after migrations to get a usable instance:
// an admin, a demo songwriter, and a public demo repository with
// history, a side branch, an open pull request, and a release tag.
package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"

	"musehub.io/musehub/internal/config"
	"musehub.io/musehub/internal/domain"
	"musehub.io/musehub/internal/infrastructure"
	"musehub.io/musehub/internal/musehub"
	"musehub.io/musehub/internal/musehub/store"
	"musehub.io/musehub/internal/pkg/logger"
)

// Default credentials are for first login only; rotate them immediately.
const (
	adminPassword = "musehub-admin"
	demoPassword  = "ada-lovelace"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "seed error: %v\n", err)
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

	// The memory backend forgets everything at exit, so standalone
	// seeding only makes sense against postgres.
	if cfg.Database.Backend != "postgres" {
		return fmt.Errorf("seeding requires database.backend=postgres, got %q", cfg.Database.Backend)
	}

	ctx := context.Background()

	db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer db.Close()

	hub := musehub.NewService(db.Store)

	logger.Info("Starting data seeding...")

	// Database and River migrations are expected to be executed before
	// seeding. This command only performs idempotent data bootstrap.

	admin, err := ensureUser(ctx, db.Store, hub, musehub.CreateUserInput{
		Username:    "admin",
		Password:    adminPassword,
		Email:       "admin@localhost",
		DisplayName: "Hub Administrator",
		Roles:       []string{"admin"},
	})
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	logger.Warn("Admin account ready; change the default password",
		zap.String("username", admin.Username),
	)

	demo, err := ensureUser(ctx, db.Store, hub, musehub.CreateUserInput{
		Username:    "ada",
		Password:    demoPassword,
		Email:       "ada@example.com",
		DisplayName: "Ada Lovelace",
		Roles:       []string{"user"},
	})
	if err != nil {
		return fmt.Errorf("seed demo user: %w", err)
	}

	if err := seedDemoRepo(ctx, hub, demo); err != nil {
		return fmt.Errorf("seed demo repo: %w", err)
	}

	logger.Info("Data seeding completed successfully")
	return nil
}

// ensureUser returns the existing account or creates it.
func ensureUser(ctx context.Context, st store.Store, hub *musehub.Service, input musehub.CreateUserInput) (*domain.User, error) {
	existing, err := st.GetUserByUsername(ctx, input.Username)
	if err == nil {
		logger.Info("User already exists, skipping", zap.String("username", input.Username))
		return existing, nil
	}
	if !store.IsNotFound(err) {
		return nil, fmt.Errorf("look up %s: %w", input.Username, err)
	}
	return hub.CreateUser(ctx, input)
}

// seedDemoRepo builds "Night Drive": two commits on main, a bridge
// sketch on a side branch, an open pull request for it, and a v0.1.0
// tag on the first take.
func seedDemoRepo(ctx context.Context, hub *musehub.Service, owner *domain.User) error {
	if _, err := hub.GetRepo(ctx, "night-drive"); err == nil {
		logger.Info("Demo repo already exists, skipping")
		return nil
	}

	repo, err := hub.CreateRepo(ctx, owner.ID, musehub.CreateRepoInput{
		Name:        "Night Drive",
		Description: "Demo project: a synthwave sketch to branch, remix, and merge.",
		Visibility:  domain.RepoPublic,
	})
	if err != nil {
		return fmt.Errorf("create repo: %w", err)
	}

	base := time.Now().UTC().Add(-48 * time.Hour)

	first, err := buildSeedCommit(repo.ID, nil, "Lay down drums and a bass line", owner, base, map[string]string{
		"drums/groove.mid": "seed:drums:four-on-the-floor",
		"bass/night.mid":   "seed:bass:root-fifth-octave",
	})
	if err != nil {
		return err
	}
	second, err := buildSeedCommit(repo.ID, []string{first.commit.ID}, "Add a lead over the chorus", owner, base.Add(2*time.Hour), map[string]string{
		"drums/groove.mid": "seed:drums:four-on-the-floor",
		"bass/night.mid":   "seed:bass:root-fifth-octave",
		"lead/chorus.mid":  "seed:lead:arpeggiated-minor",
	})
	if err != nil {
		return err
	}

	if _, err := hub.Push(ctx, repo.ID, owner.ID, musehub.PushInput{
		Branch:       repo.DefaultBranch,
		HeadCommitID: second.commit.ID,
		Commits:      []*domain.Commit{first.commit, second.commit},
		Objects:      append(first.objects, second.objects...),
	}); err != nil {
		return fmt.Errorf("push main: %w", err)
	}

	bridge, err := buildSeedCommit(repo.ID, []string{second.commit.ID}, "Sketch a half-time bridge", owner, base.Add(5*time.Hour), map[string]string{
		"drums/groove.mid": "seed:drums:half-time",
		"bass/night.mid":   "seed:bass:root-fifth-octave",
		"lead/chorus.mid":  "seed:lead:arpeggiated-minor",
		"lead/bridge.mid":  "seed:lead:suspended-pad",
	})
	if err != nil {
		return err
	}
	if _, err := hub.Push(ctx, repo.ID, owner.ID, musehub.PushInput{
		Branch:       "idea/bridge",
		HeadCommitID: bridge.commit.ID,
		Commits:      []*domain.Commit{bridge.commit},
		Objects:      bridge.objects,
	}); err != nil {
		return fmt.Errorf("push bridge branch: %w", err)
	}

	if _, err := hub.OpenPullRequest(ctx, repo.ID, owner.ID, musehub.OpenPullInput{
		Title:      "Half-time bridge before the last chorus",
		Body:       "Slows the groove for eight bars. Listen with the lead muted first.",
		FromBranch: "idea/bridge",
		ToBranch:   repo.DefaultBranch,
	}); err != nil {
		return fmt.Errorf("open pull request: %w", err)
	}

	if _, err := hub.CreateTag(ctx, repo.ID, owner.ID, musehub.CreateTagInput{
		Name:     "v0.1.0",
		CommitID: first.commit.ID,
		Message:  "First playable take",
	}); err != nil {
		return fmt.Errorf("create tag: %w", err)
	}

	logger.Info("Seeded demo repository",
		zap.String("repo", repo.Slug),
		zap.String("owner", owner.Username),
	)
	return nil
}

type seedCommit struct {
	commit  *domain.Commit
	objects []*domain.Object
}

// buildSeedCommit assembles content objects, the snapshot manifest, and
// a commit addressed over both.
func buildSeedCommit(repoID string, parents []string, message string, author *domain.User, ts time.Time, files map[string]string) (*seedCommit, error) {
	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
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
		return nil, fmt.Errorf("snapshot for %q: %w", message, err)
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

	return &seedCommit{commit: commit, objects: objects}, nil
}
