package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncProject_RequiresToken(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/project/sync", map[string]interface{}{
		"project": map[string]interface{}{"projectId": "proj-1"},
	}, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSyncProject_ReturnsCounts(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.seedUser(t, "ada")

	body := f.syncDemo(t, token)
	assert.Equal(t, "proj-1", body["projectId"])
	assert.NotEmpty(t, body["conversationId"])
	assert.NotEmpty(t, body["stateId"])
	assert.Equal(t, float64(2), body["trackCount"])
	assert.Equal(t, float64(2), body["regionCount"])
}

func TestGetProjectState_SummarizesTree(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.seedUser(t, "ada")
	synced := f.syncDemo(t, token)

	w := f.do(t, http.MethodGet, "/api/v1/project/proj-1/state", nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeBody(t, w)
	assert.Equal(t, "proj-1", body["projectId"])
	assert.Equal(t, synced["conversationId"], body["conversationId"])
	assert.Equal(t, synced["stateId"], body["stateId"])
	assert.Equal(t, float64(110), body["tempo"])
	assert.Equal(t, "F minor", body["key"])

	tracks, ok := body["tracks"].([]interface{})
	require.True(t, ok)
	require.Len(t, tracks, 2)

	// Tracks sort by id: trk-bass before trk-drums.
	first, ok := tracks[0].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "trk-bass", first["id"])

	second, ok := tracks[1].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "trk-drums", second["id"])
	regions, ok := second["regions"].([]interface{})
	require.True(t, ok)
	require.Len(t, regions, 1)
	region, ok := regions[0].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "reg-verse", region["id"])
	assert.Equal(t, "Verse Beat", region["name"])
	assert.Equal(t, float64(1), region["noteCount"])
}

func TestGetProjectState_UnknownProject(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.seedUser(t, "ada")

	w := f.do(t, http.MethodGet, "/api/v1/project/ghost/state", nil, token)
	require.Equal(t, http.StatusNotFound, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "PROJECT_NOT_FOUND", body["code"])
	assert.NotEmpty(t, body["trace_id"])
}

func TestSyncProject_Resync_BumpsVersion(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.seedUser(t, "ada")

	first := f.syncDemo(t, token)
	second := f.syncDemo(t, token)

	assert.Equal(t, first["conversationId"], second["conversationId"])
	assert.NotEqual(t, first["stateId"], second["stateId"])
}
