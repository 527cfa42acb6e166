package main

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"musehub.io/musehub/internal/domain"
	"musehub.io/musehub/internal/hubclient"
	"musehub.io/musehub/internal/localdb"
	"musehub.io/musehub/internal/workspace"
)

func testMirror(t *testing.T) *localdb.DB {
	t.Helper()
	db, err := localdb.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// mirrorCommit stores a commit plus a one-file snapshot in the mirror
// and returns the commit.
func mirrorCommit(t *testing.T, db *localdb.DB, message string, parents ...string) *domain.Commit {
	t.Helper()
	content := []byte("content of " + message)
	obj := &domain.Object{
		ID:          domain.ComputeObjectID(content),
		ContentType: "audio/midi",
		Content:     content,
	}
	require.NoError(t, db.PutObject(obj))

	manifestObj, err := domain.NewSnapshotObject("", domain.SnapshotManifest{
		Entries: []domain.SnapshotEntry{{Path: "lead/" + message + ".mid", ObjectID: obj.ID}},
	})
	require.NoError(t, err)
	require.NoError(t, db.PutObject(manifestObj))

	c := &domain.Commit{
		ParentIDs:  parents,
		SnapshotID: manifestObj.ID,
		Message:    message,
		Author:     domain.CommitAuthor{Name: "Ada", Email: "ada@example.com"},
		Timestamp:  time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC).Add(time.Duration(len(message)) * time.Second),
	}
	c.ID = c.ComputeID()
	require.NoError(t, db.PutCommit(c))
	return c
}

func TestCollectPushDeltaFirstPush(t *testing.T) {
	db := testMirror(t)
	root := mirrorCommit(t, db, "a-root")
	tip := mirrorCommit(t, db, "b-tip", root.ID)

	commits, objects, err := collectPushDelta(db, tip.ID, "")
	require.NoError(t, err)
	require.Len(t, commits, 2)
	assert.Equal(t, root.ID, commits[0].ID, "parents sort before children")
	assert.Equal(t, tip.ID, commits[1].ID)
	// Two manifests plus two content objects.
	assert.Len(t, objects, 4)
}

func TestCollectPushDeltaIncremental(t *testing.T) {
	db := testMirror(t)
	root := mirrorCommit(t, db, "a-root")
	mid := mirrorCommit(t, db, "b-mid", root.ID)
	tip := mirrorCommit(t, db, "c-tip", mid.ID)

	commits, objects, err := collectPushDelta(db, tip.ID, mid.ID)
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Equal(t, tip.ID, commits[0].ID)
	assert.Len(t, objects, 2, "only the new commit's manifest and content ship")
}

func TestCollectPushDeltaUpToDate(t *testing.T) {
	db := testMirror(t)
	root := mirrorCommit(t, db, "a-root")

	commits, objects, err := collectPushDelta(db, root.ID, root.ID)
	require.NoError(t, err)
	assert.Empty(t, commits)
	assert.Empty(t, objects)
}

func TestStoreSyncPayloadAndCheckout(t *testing.T) {
	db := testMirror(t)

	content := []byte("chorus-midi")
	obj := &domain.Object{ID: domain.ComputeObjectID(content), Content: content}
	manifestObj, err := domain.NewSnapshotObject("", domain.SnapshotManifest{
		Entries: []domain.SnapshotEntry{{Path: "vocals/chorus.mid", ObjectID: obj.ID}},
	})
	require.NoError(t, err)

	c := &domain.Commit{
		SnapshotID: manifestObj.ID,
		Message:    "add chorus",
		Author:     domain.CommitAuthor{Name: "Ada"},
		Timestamp:  time.Now().UTC(),
	}
	c.ID = c.ComputeID()
	require.NoError(t, storeSyncPayload(db, []*domain.Commit{c}, []*domain.Object{obj, manifestObj}))

	ws, err := workspace.Init(t.TempDir(), "main")
	require.NoError(t, err)
	require.NoError(t, checkoutManifest(ws, db, manifestObj.ID))

	restored, err := os.ReadFile(filepath.Join(ws.Root, "vocals", "chorus.mid"))
	require.NoError(t, err)
	assert.Equal(t, content, restored)
}

func TestAheadBehind(t *testing.T) {
	db := testMirror(t)
	root := mirrorCommit(t, db, "a-root")
	local := mirrorCommit(t, db, "b-local", root.ID)
	remote := mirrorCommit(t, db, "c-remote", root.ID)

	s := &session{mirror: db}
	ahead, behind, err := aheadBehind(s, local.ID, remote.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, ahead)
	assert.Equal(t, 1, behind)
}

func TestExitCodeMapping(t *testing.T) {
	assert.Equal(t, exitNotRepo, exitCodeFor(workspace.ErrNotRepository))
	assert.Equal(t, exitInternal, exitCodeFor(&hubclient.TransportError{Err: errors.New("refused")}))
	assert.Equal(t, exitInternal, exitCodeFor(&hubclient.APIError{Status: http.StatusBadGateway}))
	assert.Equal(t, exitUserErr, exitCodeFor(&hubclient.APIError{Status: http.StatusConflict, Code: "NON_FAST_FORWARD"}))
	assert.Equal(t, exitUserErr, exitCodeFor(errors.New("bad flag")))
}

func TestLocalTags(t *testing.T) {
	ws, err := workspace.Init(t.TempDir(), "main")
	require.NoError(t, err)
	require.NoError(t, ws.SetTagRef("v2.0", "bbb"))
	require.NoError(t, ws.SetTagRef("v1.0", "aaa"))

	tags, err := localTags(ws)
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, "v1.0", tags[0].Name)
	assert.Equal(t, "aaa", tags[0].CommitID)
	assert.Equal(t, "v2.0", tags[1].Name)
}

func TestCommitAuthorRequiresIdentity(t *testing.T) {
	_, err := commitAuthor(&workspace.Config{})
	assert.Error(t, err)

	author, err := commitAuthor(&workspace.Config{User: workspace.UserConfig{Name: "Ada", Email: "ada@example.com"}})
	require.NoError(t, err)
	assert.Equal(t, "Ada", author.Name)
}
