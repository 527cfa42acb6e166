package handlers

import (
	"net/http"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"musehub.io/musehub/internal/domain"
	"musehub.io/musehub/internal/musehub"
)

// seedPullRequest pushes a feature branch diverging from main and
// opens a PR for it. Returns the repo id and the PR number.
func seedPullRequest(f *apiFixture, t *testing.T, ownerToken, authorToken string) (string, int) {
	t.Helper()

	repo, head := f.seedRepoWithCommit(t, ownerToken, "Open Album", "public")
	repoID, _ := repo["id"].(string)

	feature, objs := buildCommit(t, repoID, []string{head.ID}, "add bridge", map[string]string{
		"tracks/bridge.mid": "bridge take",
	})
	w := f.do(t, http.MethodPost, "/musehub/repos/"+repoID+"/push", musehub.PushInput{
		Branch:       "feature/bridge",
		HeadCommitID: feature.ID,
		Commits:      []*domain.Commit{feature},
		Objects:      objs,
	}, ownerToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodPost, "/musehub/repos/"+repoID+"/pulls", musehub.OpenPullInput{
		Title:      "Add the bridge",
		Body:       "eight new bars",
		FromBranch: "feature/bridge",
		ToBranch:   "main",
	}, authorToken)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	body := decodeBody(t, w)
	number := int(body["number"].(float64))
	require.Greater(t, number, 0)
	return repoID, number
}

func TestOpenPullRequest_RequiresToken(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.seedUser(t, "ada")
	repo, _ := f.seedRepoWithCommit(t, token, "Open Album", "public")
	repoID, _ := repo["id"].(string)

	w := f.do(t, http.MethodPost, "/musehub/repos/"+repoID+"/pulls", musehub.OpenPullInput{
		Title: "anonymous", FromBranch: "main", ToBranch: "main",
	}, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPullRequestLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	_, ownerToken := f.seedUser(t, "ada")
	author, authorToken := f.seedUser(t, "grace")
	repoID, number := seedPullRequest(f, t, ownerToken, authorToken)
	prPath := "/musehub/repos/" + repoID + "/pulls/" + strconv.Itoa(number)

	// Listing open PRs finds it.
	w := f.do(t, http.MethodGet, "/musehub/repos/"+repoID+"/pulls", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	prs := decodeList(t, w)
	require.Len(t, prs, 1)
	assert.Equal(t, "open", prs[0]["status"])
	assert.Equal(t, author.ID, prs[0]["author_id"])

	// The author may edit their own PR.
	w = f.do(t, http.MethodPatch, prPath, map[string]string{
		"title": "Add the bridge (take two)",
	}, authorToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Add the bridge (take two)", decodeBody(t, w)["title"])

	// A third account may not.
	_, strangerToken := f.seedUser(t, "mallory")
	w = f.do(t, http.MethodPatch, prPath, map[string]string{
		"title": "defaced",
	}, strangerToken)
	require.Equal(t, http.StatusForbidden, w.Code)

	// Only the owner merges.
	w = f.do(t, http.MethodPost, prPath+"/merge", nil, authorToken)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodPost, prPath+"/merge", nil, ownerToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	merged := decodeBody(t, w)
	assert.Equal(t, "merged", merged["status"])
	mergeCommitID, _ := merged["merge_commit_id"].(string)
	require.NotEmpty(t, mergeCommitID)

	// The merge commit is now the main head with two parents.
	cw := f.do(t, http.MethodGet, "/musehub/repos/"+repoID+"/commits/"+mergeCommitID, nil, "")
	require.Equal(t, http.StatusOK, cw.Code)
	parents, ok := decodeBody(t, cw)["parent_ids"].([]interface{})
	require.True(t, ok)
	assert.Len(t, parents, 2)

	// Merged PRs refuse further edits.
	w = f.do(t, http.MethodPatch, prPath, map[string]string{
		"status": "closed",
	}, authorToken)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "PULL_REQUEST_NOT_OPEN", decodeBody(t, w)["code"])
}

func TestGetPullRequest_BadNumber(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.seedUser(t, "ada")
	repo, _ := f.seedRepoWithCommit(t, token, "Open Album", "public")
	repoID, _ := repo["id"].(string)

	w := f.do(t, http.MethodGet, "/musehub/repos/"+repoID+"/pulls/zero", nil, "")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/musehub/repos/"+repoID+"/pulls/99", nil, "")
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "PULL_REQUEST_NOT_FOUND", decodeBody(t, w)["code"])
}

func TestMergePullRequest_UnknownStrategy(t *testing.T) {
	f := newAPIFixture(t)
	_, ownerToken := f.seedUser(t, "ada")
	repoID, number := seedPullRequest(f, t, ownerToken, ownerToken)

	w := f.do(t, http.MethodPost, "/musehub/repos/"+repoID+"/pulls/"+strconv.Itoa(number)+"/merge", map[string]string{
		"strategy": "squash",
	}, ownerToken)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	assert.Equal(t, "UNSUPPORTED_MERGE_STRATEGY", decodeBody(t, w)["code"])
}

func TestListPullRequests_StatusFilter(t *testing.T) {
	f := newAPIFixture(t)
	_, ownerToken := f.seedUser(t, "ada")
	repoID, _ := seedPullRequest(f, t, ownerToken, ownerToken)

	w := f.do(t, http.MethodGet, "/musehub/repos/"+repoID+"/pulls?status=merged", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeList(t, w))

	w = f.do(t, http.MethodGet, "/musehub/repos/"+repoID+"/pulls?status=open", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeList(t, w), 1)
}
