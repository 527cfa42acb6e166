package musehub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"musehub.io/musehub/internal/domain"
	apperrors "musehub.io/musehub/internal/pkg/errors"
)

func objectIDs(objs []*domain.Object) []string {
	ids := make([]string, 0, len(objs))
	for _, o := range objs {
		ids = append(ids, o.ID)
	}
	return ids
}

func TestPush_CreatesUnbornBranch(t *testing.T) {
	svc := newTestService(t)
	repo, err := svc.CreateRepo(testCtx, "user-1", CreateRepoInput{Name: "First Push"})
	require.NoError(t, err)

	b := newTreeBuilder(t, repo.ID)
	c1, objs := b.commit(nil, "first take", map[string]string{"drums/kick.mid": "kick"})

	res := mustPush(t, svc, repo.Slug, "main", c1, []*domain.Commit{c1}, objs)
	assert.Equal(t, c1.ID, res.NewHeadCommitID)
	assert.Equal(t, 1, res.CommitsAccepted)
	assert.Equal(t, 2, res.ObjectsAccepted, "content plus manifest")
	assert.True(t, res.FastForward)

	branch, err := svc.GetBranch(testCtx, repo.ID, "main")
	require.NoError(t, err)
	assert.Equal(t, c1.ID, branch.HeadCommitID)
}

func TestPush_FastForwardThenReject(t *testing.T) {
	svc := newTestService(t)
	repo, err := svc.CreateRepo(testCtx, "user-1", CreateRepoInput{Name: "FF"})
	require.NoError(t, err)

	b := newTreeBuilder(t, repo.ID)
	c1, objs1 := b.commit(nil, "base", map[string]string{"a.mid": "a"})
	mustPush(t, svc, repo.ID, "main", c1, []*domain.Commit{c1}, objs1)

	c2, objs2 := b.commit([]string{c1.ID}, "louder", map[string]string{"a.mid": "a2"})
	res := mustPush(t, svc, repo.ID, "main", c2, []*domain.Commit{c2}, objs2)
	assert.True(t, res.FastForward)

	// A sibling of c2 is not a descendant of the current head.
	c3, objs3 := b.commit([]string{c1.ID}, "rework", map[string]string{"a.mid": "a3"})
	_, err = svc.Push(testCtx, repo.ID, "user-1", PushInput{
		Branch:       "main",
		HeadCommitID: c3.ID,
		Commits:      []*domain.Commit{c3},
		Objects:      objs3,
	})
	appErr := requireCode(t, err, apperrors.CodeNonFastForward)
	assert.Equal(t, 409, appErr.HTTPStatus)

	// The rejected push must not have persisted anything ref-visible.
	branch, err := svc.GetBranch(testCtx, repo.ID, "main")
	require.NoError(t, err)
	assert.Equal(t, c2.ID, branch.HeadCommitID)
}

func TestPush_ForceAndLease(t *testing.T) {
	svc := newTestService(t)
	repo, err := svc.CreateRepo(testCtx, "user-1", CreateRepoInput{Name: "Lease"})
	require.NoError(t, err)

	b := newTreeBuilder(t, repo.ID)
	c1, objs1 := b.commit(nil, "base", map[string]string{"a.mid": "a"})
	mustPush(t, svc, repo.ID, "main", c1, []*domain.Commit{c1}, objs1)
	c2, objs2 := b.commit([]string{c1.ID}, "second", map[string]string{"a.mid": "a2"})
	mustPush(t, svc, repo.ID, "main", c2, []*domain.Commit{c2}, objs2)

	c3, objs3 := b.commit([]string{c1.ID}, "rewrite", map[string]string{"a.mid": "a3"})

	// Stale lease: the remote moved to c2 while the client expected c1.
	_, err = svc.Push(testCtx, repo.ID, "user-1", PushInput{
		Branch:             "main",
		HeadCommitID:       c3.ID,
		Commits:            []*domain.Commit{c3},
		Objects:            objs3,
		ForceWithLease:     true,
		ExpectedRemoteHead: c1.ID,
	})
	appErr := requireCode(t, err, apperrors.CodeLeaseFailed)
	assert.Equal(t, c2.ID, appErr.Params["remote_head"])

	// Matching lease rewrites the branch.
	res, err := svc.Push(testCtx, repo.ID, "user-1", PushInput{
		Branch:             "main",
		HeadCommitID:       c3.ID,
		Commits:            []*domain.Commit{c3},
		Objects:            objs3,
		ForceWithLease:     true,
		ExpectedRemoteHead: c2.ID,
	})
	require.NoError(t, err)
	assert.False(t, res.FastForward)

	// Plain force wins regardless of the remote head.
	res, err = svc.Push(testCtx, repo.ID, "user-1", PushInput{
		Branch:       "main",
		HeadCommitID: c2.ID,
		Force:        true,
	})
	require.NoError(t, err)
	assert.False(t, res.FastForward)

	branch, err := svc.GetBranch(testCtx, repo.ID, "main")
	require.NoError(t, err)
	assert.Equal(t, c2.ID, branch.HeadCommitID)
}

func TestPush_IntegrityMismatch(t *testing.T) {
	svc := newTestService(t)
	repo, err := svc.CreateRepo(testCtx, "user-1", CreateRepoInput{Name: "Integrity"})
	require.NoError(t, err)

	b := newTreeBuilder(t, repo.ID)
	c1, objs := b.commit(nil, "take", map[string]string{"a.mid": "a"})

	tampered := *c1
	tampered.Message = "edited after hashing"
	_, err = svc.Push(testCtx, repo.ID, "user-1", PushInput{
		Branch:       "main",
		HeadCommitID: tampered.ID,
		Commits:      []*domain.Commit{&tampered},
		Objects:      objs,
	})
	requireCode(t, err, apperrors.CodeIntegrityMismatch)

	badObj := &domain.Object{ID: objs[0].ID, Content: []byte("not what was hashed")}
	_, err = svc.Push(testCtx, repo.ID, "user-1", PushInput{
		Branch:       "main",
		HeadCommitID: c1.ID,
		Commits:      []*domain.Commit{c1},
		Objects:      []*domain.Object{badObj},
	})
	requireCode(t, err, apperrors.CodeIntegrityMismatch)

	// Nothing was persisted by the rejected pushes.
	_, err = svc.GetBranch(testCtx, repo.ID, "main")
	requireCode(t, err, apperrors.CodeBranchNotFound)
}

func TestPush_HeadMustComeFromSomewhere(t *testing.T) {
	svc := newTestService(t)
	repo, err := svc.CreateRepo(testCtx, "user-1", CreateRepoInput{Name: "No Head"})
	require.NoError(t, err)

	_, err = svc.Push(testCtx, repo.ID, "user-1", PushInput{
		Branch:       "main",
		HeadCommitID: "0000000000000000000000000000000000000000000000000000000000000000",
	})
	appErr := requireCode(t, err, apperrors.CodeValidationFailed)
	assert.Equal(t, 422, appErr.HTTPStatus)
}

func TestPush_IdempotentReplay(t *testing.T) {
	svc := newTestService(t)
	repo, err := svc.CreateRepo(testCtx, "user-1", CreateRepoInput{Name: "Replay"})
	require.NoError(t, err)

	b := newTreeBuilder(t, repo.ID)
	c1, objs := b.commit(nil, "take", map[string]string{"a.mid": "a"})
	mustPush(t, svc, repo.ID, "main", c1, []*domain.Commit{c1}, objs)

	res := mustPush(t, svc, repo.ID, "main", c1, []*domain.Commit{c1}, objs)
	assert.Zero(t, res.CommitsAccepted)
	assert.Zero(t, res.ObjectsAccepted)
	assert.Equal(t, c1.ID, res.NewHeadCommitID)
}

func TestPush_TagsRideAlong(t *testing.T) {
	svc := newTestService(t)
	repo, err := svc.CreateRepo(testCtx, "user-1", CreateRepoInput{Name: "Tagged"})
	require.NoError(t, err)

	b := newTreeBuilder(t, repo.ID)
	c1, objs := b.commit(nil, "take", map[string]string{"a.mid": "a"})
	_, err = svc.Push(testCtx, repo.ID, "user-1", PushInput{
		Branch:       "main",
		HeadCommitID: c1.ID,
		Commits:      []*domain.Commit{c1},
		Objects:      objs,
		Tags:         []*domain.Tag{{Name: "v1", CommitID: c1.ID}},
	})
	require.NoError(t, err)

	tags, err := svc.ListTags(testCtx, repo.ID)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "v1", tags[0].Name)
	assert.Equal(t, "user-1", tags[0].TaggerID)
}

func TestPull_DeltaAndDivergence(t *testing.T) {
	svc := newTestService(t)
	repo, err := svc.CreateRepo(testCtx, "user-1", CreateRepoInput{Name: "Pull"})
	require.NoError(t, err)

	b := newTreeBuilder(t, repo.ID)
	c1, objs1 := b.commit(nil, "base", map[string]string{"a.mid": "a"})
	mustPush(t, svc, repo.ID, "main", c1, []*domain.Commit{c1}, objs1)
	c2, objs2 := b.commit([]string{c1.ID}, "more", map[string]string{"a.mid": "a", "b.mid": "b"})
	mustPush(t, svc, repo.ID, "main", c2, []*domain.Commit{c2}, objs2)

	// A fresh client gets the full history and every object.
	full, err := svc.Pull(testCtx, repo.ID, PullInput{Branch: "main"})
	require.NoError(t, err)
	assert.Equal(t, c2.ID, full.RemoteHead)
	assert.ElementsMatch(t, []string{c2.ID, c1.ID}, commitIDs(full.Commits))
	assert.False(t, full.Diverged)

	// A client at c1 gets only the delta, minus objects it holds.
	delta, err := svc.Pull(testCtx, repo.ID, PullInput{
		Branch:      "main",
		HaveCommits: []string{c1.ID},
		HaveObjects: objectIDs(objs1),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{c2.ID}, commitIDs(delta.Commits))
	assert.False(t, delta.Diverged)
	for _, id := range objectIDs(objs1) {
		assert.NotContains(t, objectIDs(delta.Objects), id, "client-held objects must not ship again")
	}

	// A client holding a commit the server lacks has diverged.
	diverged, err := svc.Pull(testCtx, repo.ID, PullInput{
		Branch:      "main",
		HaveCommits: []string{c1.ID, "1111111111111111111111111111111111111111111111111111111111111111"},
	})
	require.NoError(t, err)
	assert.True(t, diverged.Diverged)

	_, err = svc.Pull(testCtx, repo.ID, PullInput{Branch: "nope"})
	requireCode(t, err, apperrors.CodeBranchNotFound)
}

func TestFetch_AdvertisesAndPrunes(t *testing.T) {
	svc := newTestService(t)
	repo, err := svc.CreateRepo(testCtx, "user-1", CreateRepoInput{Name: "Fetch"})
	require.NoError(t, err)

	b := newTreeBuilder(t, repo.ID)
	c1, objs1 := b.commit(nil, "base", map[string]string{"a.mid": "a"})
	mustPush(t, svc, repo.ID, "main", c1, []*domain.Commit{c1}, objs1)
	c2, objs2 := b.commit([]string{c1.ID}, "idea", map[string]string{"a.mid": "a2"})
	mustPush(t, svc, repo.ID, "feature", c2, []*domain.Commit{c2}, objs2)

	res, err := svc.Fetch(testCtx, repo.ID, FetchInput{
		Known: []string{"main", "retired"},
		Prune: true,
	})
	require.NoError(t, err)
	require.Len(t, res.Branches, 2)
	byName := map[string]FetchBranch{}
	for _, fb := range res.Branches {
		byName[fb.Branch] = fb
	}
	assert.False(t, byName["main"].IsNew)
	assert.True(t, byName["feature"].IsNew)
	assert.Equal(t, c2.ID, byName["feature"].HeadCommitID)
	assert.Equal(t, []string{"retired"}, res.Pruned)

	only, err := svc.Fetch(testCtx, repo.ID, FetchInput{Branches: []string{"feature"}})
	require.NoError(t, err)
	require.Len(t, only.Branches, 1)
	assert.Equal(t, "feature", only.Branches[0].Branch)
	assert.Empty(t, only.Pruned)
}

func TestClone_FullAndShallow(t *testing.T) {
	svc := newTestService(t)
	repo, err := svc.CreateRepo(testCtx, "user-1", CreateRepoInput{Name: "Clone"})
	require.NoError(t, err)

	b := newTreeBuilder(t, repo.ID)
	c1, objs1 := b.commit(nil, "one", map[string]string{"a.mid": "a"})
	mustPush(t, svc, repo.ID, "main", c1, []*domain.Commit{c1}, objs1)
	c2, objs2 := b.commit([]string{c1.ID}, "two", map[string]string{"a.mid": "a", "b.mid": "b"})
	mustPush(t, svc, repo.ID, "main", c2, []*domain.Commit{c2}, objs2)
	c3, objs3 := b.commit([]string{c2.ID}, "three", map[string]string{"a.mid": "a", "b.mid": "b", "c.mid": "c"})
	mustPush(t, svc, repo.ID, "main", c3, []*domain.Commit{c3}, objs3)

	full, err := svc.Clone(testCtx, repo.Slug, CloneInput{})
	require.NoError(t, err)
	assert.Equal(t, repo.ID, full.RepoID)
	assert.Equal(t, c3.ID, full.RemoteHead)
	assert.Len(t, full.Commits, 3)
	assert.Equal(t, c3.ID, full.Commits[0].ID, "head first")
	assert.Equal(t, c3.SnapshotID, full.CheckoutManifestID)
	assert.Contains(t, objectIDs(full.Objects), c1.SnapshotID)

	shallow, err := svc.Clone(testCtx, repo.ID, CloneInput{Depth: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{c3.ID}, commitIDs(shallow.Commits))
	ids := objectIDs(shallow.Objects)
	assert.Contains(t, ids, c3.SnapshotID)
	assert.NotContains(t, ids, c1.SnapshotID, "older manifests stay behind")
	// The head tree still materializes fully even when history is cut.
	assert.Contains(t, ids, domain.ComputeObjectID([]byte("a")))
	assert.Contains(t, ids, domain.ComputeObjectID([]byte("c")))
}

func TestClone_SingleTrack(t *testing.T) {
	svc := newTestService(t)
	repo, err := svc.CreateRepo(testCtx, "user-1", CreateRepoInput{Name: "One Track"})
	require.NoError(t, err)

	b := newTreeBuilder(t, repo.ID)
	c1, objs := b.commit(nil, "session", map[string]string{
		"drums/kick.mid":  "kick",
		"drums/snare.mid": "snare",
		"bass/line.mid":   "bassline",
	})
	mustPush(t, svc, repo.ID, "main", c1, []*domain.Commit{c1}, objs)

	res, err := svc.Clone(testCtx, repo.ID, CloneInput{SingleTrack: "drums"})
	require.NoError(t, err)
	require.Len(t, res.Commits, 1)

	ids := objectIDs(res.Objects)
	assert.Contains(t, ids, domain.ComputeObjectID([]byte("kick")))
	assert.NotContains(t, ids, domain.ComputeObjectID([]byte("bassline")), "other tracks stay on the server")
	assert.Contains(t, ids, c1.SnapshotID, "the original manifest still ships")

	// The checkout manifest is a server-rewritten filtered tree.
	require.NotEqual(t, c1.SnapshotID, res.CheckoutManifestID)
	var filtered *domain.Object
	for _, o := range res.Objects {
		if o.ID == res.CheckoutManifestID {
			filtered = o
		}
	}
	require.NotNil(t, filtered, "filtered manifest must be part of the object set")
	manifest, err := domain.DecodeSnapshot(filtered.Content)
	require.NoError(t, err)
	require.Len(t, manifest.Entries, 2)
	for _, e := range manifest.Entries {
		assert.Equal(t, "drums", domain.TrackSegment(e.Path))
	}
}

func TestClone_UnbornBranch(t *testing.T) {
	svc := newTestService(t)
	repo, err := svc.CreateRepo(testCtx, "user-1", CreateRepoInput{Name: "Empty"})
	require.NoError(t, err)

	res, err := svc.Clone(testCtx, repo.ID, CloneInput{})
	require.NoError(t, err)
	assert.Equal(t, "main", res.Branch)
	assert.Empty(t, res.RemoteHead)
	assert.Empty(t, res.Commits)
	assert.Empty(t, res.Objects)
}
