package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"musehub.io/musehub/internal/domain"
	"musehub.io/musehub/internal/musehub"
)

func TestPush_RequiresWriteAccess(t *testing.T) {
	f := newAPIFixture(t)
	_, ownerToken := f.seedUser(t, "ada")
	_, strangerToken := f.seedUser(t, "mallory")
	repo, head := f.seedRepoWithCommit(t, ownerToken, "Open Album", "public")
	repoID, _ := repo["id"].(string)

	next, objs := buildCommit(t, repoID, []string{head.ID}, "vandalism", map[string]string{
		"tracks/noise.mid": "noise",
	})
	payload := musehub.PushInput{
		Branch:       "main",
		HeadCommitID: next.ID,
		Commits:      []*domain.Commit{next},
		Objects:      objs,
	}

	w := f.do(t, http.MethodPost, "/musehub/repos/"+repoID+"/push", payload, strangerToken)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodPost, "/musehub/repos/"+repoID+"/push", payload, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPush_NonFastForwardRejected(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.seedUser(t, "ada")
	repo, head := f.seedRepoWithCommit(t, token, "Night Drive", "public")
	repoID, _ := repo["id"].(string)

	// A commit that does not descend from the current head.
	rogue, objs := buildCommit(t, repoID, nil, "rewritten history", map[string]string{
		"tracks/alt.mid": "alternate take",
	})
	w := f.do(t, http.MethodPost, "/musehub/repos/"+repoID+"/push", musehub.PushInput{
		Branch:       "main",
		HeadCommitID: rogue.ID,
		Commits:      []*domain.Commit{rogue},
		Objects:      objs,
	}, token)
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())

	body := decodeBody(t, w)
	assert.Equal(t, "NON_FAST_FORWARD", body["code"])
	params, ok := body["params"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, head.ID, params["remote_head"])
}

func TestPush_ForceWithLease(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.seedUser(t, "ada")
	repo, head := f.seedRepoWithCommit(t, token, "Night Drive", "public")
	repoID, _ := repo["id"].(string)

	rogue, objs := buildCommit(t, repoID, nil, "rebased", map[string]string{
		"tracks/alt.mid": "alternate take",
	})

	// A stale lease is refused.
	w := f.do(t, http.MethodPost, "/musehub/repos/"+repoID+"/push", musehub.PushInput{
		Branch:             "main",
		HeadCommitID:       rogue.ID,
		Commits:            []*domain.Commit{rogue},
		Objects:            objs,
		ForceWithLease:     true,
		ExpectedRemoteHead: "not-the-head",
	}, token)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "LEASE_FAILED", decodeBody(t, w)["code"])

	// The correct lease lets the force through.
	w = f.do(t, http.MethodPost, "/musehub/repos/"+repoID+"/push", musehub.PushInput{
		Branch:             "main",
		HeadCommitID:       rogue.ID,
		Commits:            []*domain.Commit{rogue},
		Objects:            objs,
		ForceWithLease:     true,
		ExpectedRemoteHead: head.ID,
	}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, rogue.ID, body["new_head_commit_id"])
	assert.Equal(t, false, body["fast_forward"])
}

func TestPull_ReturnsMissingHistory(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.seedUser(t, "ada")
	repo, head := f.seedRepoWithCommit(t, token, "Open Album", "public")
	repoID, _ := repo["id"].(string)

	// An empty-handed anonymous client pulls everything.
	w := f.do(t, http.MethodPost, "/musehub/repos/"+repoID+"/pull", musehub.PullInput{
		Branch: "main",
	}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeBody(t, w)
	assert.Equal(t, head.ID, body["remote_head"])
	commits, ok := body["commits"].([]interface{})
	require.True(t, ok)
	require.Len(t, commits, 1)
	objects, ok := body["objects"].([]interface{})
	require.True(t, ok)
	assert.Len(t, objects, 2) // content object + snapshot manifest

	// A client that already has the head gets an empty delta.
	w = f.do(t, http.MethodPost, "/musehub/repos/"+repoID+"/pull", musehub.PullInput{
		Branch:      "main",
		HaveCommits: []string{head.ID},
	}, "")
	require.Equal(t, http.StatusOK, w.Code)
	body = decodeBody(t, w)
	commits, _ = body["commits"].([]interface{})
	assert.Empty(t, commits)
}

func TestFetch_AdvertisesHeads(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.seedUser(t, "ada")
	repo, head := f.seedRepoWithCommit(t, token, "Open Album", "public")
	repoID, _ := repo["id"].(string)

	// No body at all: advertise every branch.
	w := f.do(t, http.MethodPost, "/musehub/repos/"+repoID+"/fetch", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeBody(t, w)
	branches, ok := body["branches"].([]interface{})
	require.True(t, ok)
	require.Len(t, branches, 1)
	first, ok := branches[0].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "main", first["branch"])
	assert.Equal(t, head.ID, first["head_commit_id"])
}

func TestClone_SeedsWorkspace(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.seedUser(t, "ada")
	repo, head := f.seedRepoWithCommit(t, token, "Open Album", "public")
	repoID, _ := repo["id"].(string)

	w := f.do(t, http.MethodPost, "/musehub/repos/"+repoID+"/clone", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeBody(t, w)
	assert.Equal(t, repoID, body["repo_id"])
	assert.Equal(t, "main", body["default_branch"])
	assert.Equal(t, head.ID, body["remote_head"])
	commits, ok := body["commits"].([]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, commits)
}

func TestSyncEndpoints_PrivateRepoHidden(t *testing.T) {
	f := newAPIFixture(t)
	_, ownerToken := f.seedUser(t, "ada")
	repo, _ := f.seedRepoWithCommit(t, ownerToken, "Secret Album", "private")
	repoID, _ := repo["id"].(string)

	for _, path := range []string{"/pull", "/fetch", "/clone"} {
		w := f.do(t, http.MethodPost, "/musehub/repos/"+repoID+path, map[string]string{"branch": "main"}, "")
		require.Equal(t, http.StatusNotFound, w.Code, "path %s: %s", path, w.Body.String())
	}
}
