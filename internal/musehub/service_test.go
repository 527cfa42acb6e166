package musehub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"musehub.io/musehub/internal/domain"
	"musehub.io/musehub/internal/musehub/store"
	"musehub.io/musehub/internal/musehub/store/memory"
	apperrors "musehub.io/musehub/internal/pkg/errors"
	"musehub.io/musehub/internal/pkg/logger"
)

func init() {
	// Initialize logger for tests
	_ = logger.Init("error", "json")
}

var testCtx = context.Background()

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(memory.New())
}

// treeBuilder assembles content-addressed commits and the objects that
// back them, standing in for a real working tree.
type treeBuilder struct {
	t      *testing.T
	repoID string
	clock  time.Time
}

func newTreeBuilder(t *testing.T, repoID string) *treeBuilder {
	t.Helper()
	return &treeBuilder{
		t:      t,
		repoID: repoID,
		clock:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

// commit builds one commit snapshotting the given files and returns it
// with the content and manifest objects it references.
func (b *treeBuilder) commit(parents []string, msg string, files map[string]string) (*domain.Commit, []*domain.Object) {
	b.t.Helper()
	b.clock = b.clock.Add(time.Minute)

	var objs []*domain.Object
	var manifest domain.SnapshotManifest
	for path, content := range files {
		obj := &domain.Object{
			ID:          domain.ComputeObjectID([]byte(content)),
			RepoID:      b.repoID,
			SizeBytes:   int64(len(content)),
			ContentType: "audio/midi",
			Content:     []byte(content),
		}
		objs = append(objs, obj)
		manifest.Entries = append(manifest.Entries, domain.SnapshotEntry{Path: path, ObjectID: obj.ID})
	}
	snap, err := domain.NewSnapshotObject(b.repoID, manifest)
	require.NoError(b.t, err)
	objs = append(objs, snap)

	c := &domain.Commit{
		RepoID:     b.repoID,
		ParentIDs:  parents,
		SnapshotID: snap.ID,
		Message:    msg,
		Author:     domain.CommitAuthor{Name: "Ada Lovelace", Email: "ada@example.com"},
		Timestamp:  b.clock,
	}
	c.ID = c.ComputeID()
	return c, objs
}

func mustPush(t *testing.T, svc *Service, ref, branch string, head *domain.Commit, commits []*domain.Commit, objects []*domain.Object) *PushResult {
	t.Helper()
	res, err := svc.Push(testCtx, ref, "user-1", PushInput{
		Branch:       branch,
		HeadCommitID: head.ID,
		Commits:      commits,
		Objects:      objects,
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func requireCode(t *testing.T, err error, code string) *apperrors.AppError {
	t.Helper()
	require.Error(t, err)
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok, "expected AppError, got %v", err)
	assert.Equal(t, code, appErr.Code)
	return appErr
}

func TestCreateRepo_Defaults(t *testing.T) {
	svc := newTestService(t)

	repo, err := svc.CreateRepo(testCtx, "user-1", CreateRepoInput{Name: "My First Song"})
	require.NoError(t, err)
	assert.Equal(t, "my-first-song", repo.Slug)
	assert.Equal(t, domain.RepoPrivate, repo.Visibility)
	assert.Equal(t, "main", repo.DefaultBranch)
	assert.Equal(t, "user-1", repo.OwnerID)

	// The default branch is unborn until the first push.
	_, err = svc.GetBranch(testCtx, repo.Slug, "main")
	requireCode(t, err, apperrors.CodeBranchNotFound)

	events, err := svc.Activity(testCtx, repo.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.ActivityRepoCreated, events[0].Kind)
}

func TestCreateRepo_Validation(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.CreateRepo(testCtx, "user-1", CreateRepoInput{Name: "   "})
	requireCode(t, err, apperrors.CodeNameInvalid)

	_, err = svc.CreateRepo(testCtx, "user-1", CreateRepoInput{Name: "ok", Visibility: "secret"})
	requireCode(t, err, apperrors.CodeValidationFailed)

	_, err = svc.CreateRepo(testCtx, "user-1", CreateRepoInput{Name: "ok", DefaultBranch: "bad branch"})
	requireCode(t, err, apperrors.CodeNameInvalid)

	_, err = svc.CreateRepo(testCtx, "user-1", CreateRepoInput{Name: "Demo Track"})
	require.NoError(t, err)
	_, err = svc.CreateRepo(testCtx, "user-2", CreateRepoInput{Name: "Demo  Track!"})
	requireCode(t, err, apperrors.CodeRepoExists)
}

func TestGetRepo_ByIDAndSlug(t *testing.T) {
	svc := newTestService(t)
	repo, err := svc.CreateRepo(testCtx, "user-1", CreateRepoInput{Name: "Night Drive"})
	require.NoError(t, err)

	byID, err := svc.GetRepo(testCtx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, repo.Slug, byID.Slug)

	bySlug, err := svc.GetRepo(testCtx, "night-drive")
	require.NoError(t, err)
	assert.Equal(t, repo.ID, bySlug.ID)

	_, err = svc.GetRepo(testCtx, "missing")
	requireCode(t, err, apperrors.CodeRepoNotFound)
}

func TestUpdateRepo(t *testing.T) {
	svc := newTestService(t)
	repo, err := svc.CreateRepo(testCtx, "user-1", CreateRepoInput{Name: "Old Name"})
	require.NoError(t, err)

	newName := "New Name"
	updated, err := svc.UpdateRepo(testCtx, repo.ID, UpdateRepoInput{Name: &newName})
	require.NoError(t, err)
	assert.Equal(t, "new-name", updated.Slug)

	// Default branch must exist before it can become the default.
	target := "release"
	_, err = svc.UpdateRepo(testCtx, repo.ID, UpdateRepoInput{DefaultBranch: &target})
	appErr := requireCode(t, err, apperrors.CodeBranchNotFound)
	assert.Equal(t, 422, appErr.HTTPStatus)

	b := newTreeBuilder(t, repo.ID)
	c1, objs := b.commit(nil, "first take", map[string]string{"drums/beat.mid": "beat"})
	mustPush(t, svc, repo.ID, "release", c1, []*domain.Commit{c1}, objs)

	updated, err = svc.UpdateRepo(testCtx, repo.ID, UpdateRepoInput{DefaultBranch: &target})
	require.NoError(t, err)
	assert.Equal(t, "release", updated.DefaultBranch)
}

func TestListRepos_Filter(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.CreateRepo(testCtx, "user-1", CreateRepoInput{Name: "Alpha", Visibility: domain.RepoPublic})
	require.NoError(t, err)
	_, err = svc.CreateRepo(testCtx, "user-1", CreateRepoInput{Name: "Beta"})
	require.NoError(t, err)
	_, err = svc.CreateRepo(testCtx, "user-2", CreateRepoInput{Name: "Gamma", Visibility: domain.RepoPublic})
	require.NoError(t, err)

	all, err := svc.ListRepos(testCtx, store.RepoFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	mine, err := svc.ListRepos(testCtx, store.RepoFilter{OwnerID: "user-1"})
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	public, err := svc.ListRepos(testCtx, store.RepoFilter{Visibility: domain.RepoPublic})
	require.NoError(t, err)
	assert.Len(t, public, 2)
}

func TestUsers_CreateAndAuthenticate(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.CreateUser(testCtx, CreateUserInput{Username: "ada", Password: "short"})
	requireCode(t, err, apperrors.CodeValidationFailed)

	user, err := svc.CreateUser(testCtx, CreateUserInput{
		Username:    "ada",
		Email:       "ada@example.com",
		Password:    "correct horse",
		DisplayName: "Ada Lovelace",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.NotEqual(t, "correct horse", user.PasswordHash)

	// Usernames are case-insensitive unique.
	_, err = svc.CreateUser(testCtx, CreateUserInput{Username: "Ada", Password: "something else"})
	requireCode(t, err, apperrors.CodeValidationFailed)

	got, err := svc.Authenticate(testCtx, "ada", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	// Wrong password and unknown account fail identically.
	_, err = svc.Authenticate(testCtx, "ada", "wrong")
	requireCode(t, err, apperrors.CodeAuthFailed)
	_, err = svc.Authenticate(testCtx, "nobody", "wrong")
	requireCode(t, err, apperrors.CodeAuthFailed)
}

func TestActivity_NewestFirstWithLimit(t *testing.T) {
	svc := newTestService(t)
	repo, err := svc.CreateRepo(testCtx, "user-1", CreateRepoInput{Name: "Feed"})
	require.NoError(t, err)

	b := newTreeBuilder(t, repo.ID)
	c1, objs1 := b.commit(nil, "one", map[string]string{"a.mid": "a"})
	mustPush(t, svc, repo.ID, "main", c1, []*domain.Commit{c1}, objs1)
	c2, objs2 := b.commit([]string{c1.ID}, "two", map[string]string{"a.mid": "a2"})
	mustPush(t, svc, repo.ID, "main", c2, []*domain.Commit{c2}, objs2)

	events, err := svc.Activity(testCtx, repo.ID, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.ActivityPush, events[0].Kind)
	assert.Equal(t, domain.ActivityPush, events[1].Kind)

	all, err := svc.Activity(testCtx, repo.ID, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, domain.ActivityRepoCreated, all[2].Kind)
}

func TestValidateRefName(t *testing.T) {
	for _, name := range []string{"main", "feat/chorus", "v1.2", "take-2"} {
		assert.NoError(t, validateRefName(name), name)
	}
	for _, name := range []string{"", "two words", "a..b", "-lead", "/abs", "trail/"} {
		assert.Error(t, validateRefName(name), name)
	}
}
