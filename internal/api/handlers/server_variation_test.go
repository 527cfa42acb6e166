package handlers

import (
	"net/http"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"musehub.io/musehub/internal/domain"
)

func TestProposeVariation_RequiresToken(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/variation/propose", map[string]string{
		"projectId": "proj-1", "intent": "make it swing",
	}, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestProposeVariation_FullFlow(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.seedUser(t, "ada")
	f.syncDemo(t, token)

	w := f.do(t, http.MethodPost, "/api/v1/variation/propose", map[string]interface{}{
		"projectId": "proj-1",
		"intent":    "make the drums busier",
		"tracks":    []string{"Drums"},
	}, token)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	body := decodeBody(t, w)
	id, _ := body["variationId"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "/api/v1/variation/"+id+"/stream", body["streamUrl"])
	assert.NotEmpty(t, body["baseStateId"])

	ready := f.waitVariationStatus(t, token, id, domain.VariationReady)
	phrases, ok := ready["phrases"].([]interface{})
	require.True(t, ok)
	require.NotEmpty(t, phrases)
	last, _ := ready["lastSequence"].(float64)
	// meta, at least one phrase, done.
	assert.GreaterOrEqual(t, last, float64(3))
}

func TestProposeVariation_UnknownProject(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.seedUser(t, "ada")

	w := f.do(t, http.MethodPost, "/api/v1/variation/propose", map[string]string{
		"projectId": "ghost",
		"intent":    "anything",
	}, token)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "PROJECT_NOT_FOUND", decodeBody(t, w)["code"])
}

func TestProposeVariation_WhileDraining(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.seedUser(t, "ada")
	f.syncDemo(t, token)
	f.draining.Store(true)

	w := f.do(t, http.MethodPost, "/api/v1/variation/propose", map[string]string{
		"projectId": "proj-1",
		"intent":    "one more",
	}, token)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "SERVICE_SHUTTING_DOWN", decodeBody(t, w)["code"])
}

func TestProposeVariation_BudgetExhausted(t *testing.T) {
	f := newAPIFixtureAllowance(t, 1)
	_, token := f.seedUser(t, "ada")
	f.syncDemo(t, token)

	w := f.do(t, http.MethodPost, "/api/v1/variation/propose", map[string]string{
		"projectId": "proj-1", "intent": "first",
	}, token)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	id, _ := decodeBody(t, w)["variationId"].(string)
	f.waitVariationStatus(t, token, id, domain.VariationReady)

	w = f.do(t, http.MethodPost, "/api/v1/variation/propose", map[string]string{
		"projectId": "proj-1", "intent": "second",
	}, token)
	require.Equal(t, http.StatusPaymentRequired, w.Code, w.Body.String())
	assert.Equal(t, "BUDGET_EXHAUSTED", decodeBody(t, w)["code"])
}

func TestGetVariation_NotFound(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.seedUser(t, "ada")

	w := f.do(t, http.MethodGet, "/api/v1/variation/var-ghost", nil, token)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "VARIATION_NOT_FOUND", decodeBody(t, w)["code"])
}

func TestStreamVariation_ReplaysTerminatedRun(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.seedUser(t, "ada")
	f.syncDemo(t, token)

	w := f.do(t, http.MethodPost, "/api/v1/variation/propose", map[string]string{
		"projectId": "proj-1", "intent": "stream me",
	}, token)
	require.Equal(t, http.StatusAccepted, w.Code)
	id, _ := decodeBody(t, w)["variationId"].(string)
	f.waitVariationStatus(t, token, id, domain.VariationReady)

	// READY means the done envelope is in history, so the stream
	// replays to the terminal frame and the request completes.
	sw := f.do(t, http.MethodGet, "/api/v1/variation/"+id+"/stream", nil, token)
	require.Equal(t, http.StatusOK, sw.Code)
	assert.Contains(t, sw.Header().Get("Content-Type"), "text/event-stream")

	stream := sw.Body.String()
	assert.Contains(t, stream, "event: meta")
	assert.Contains(t, stream, "event: phrase")
	assert.Contains(t, stream, "event: done")
}

func TestStreamVariation_ResumeSkipsReplayed(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.seedUser(t, "ada")
	f.syncDemo(t, token)

	w := f.do(t, http.MethodPost, "/api/v1/variation/propose", map[string]string{
		"projectId": "proj-1", "intent": "resume me",
	}, token)
	require.Equal(t, http.StatusAccepted, w.Code)
	id, _ := decodeBody(t, w)["variationId"].(string)
	ready := f.waitVariationStatus(t, token, id, domain.VariationReady)
	last := int(ready["lastSequence"].(float64))

	// A client that saw everything up to the envelope before done gets
	// only the done back, never a frame it already has.
	sw := f.do(t, http.MethodGet, "/api/v1/variation/"+id+"/stream?fromSequence="+strconv.Itoa(last-1), nil, token)
	require.Equal(t, http.StatusOK, sw.Code)

	stream := sw.Body.String()
	assert.NotContains(t, stream, "event: meta")
	assert.NotContains(t, stream, "event: phrase")
	assert.Contains(t, stream, "event: done")
}

func TestStreamVariation_FromSequenceZeroReplaysAll(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.seedUser(t, "ada")
	f.syncDemo(t, token)

	w := f.do(t, http.MethodPost, "/api/v1/variation/propose", map[string]string{
		"projectId": "proj-1", "intent": "replay me",
	}, token)
	require.Equal(t, http.StatusAccepted, w.Code)
	id, _ := decodeBody(t, w)["variationId"].(string)
	f.waitVariationStatus(t, token, id, domain.VariationReady)

	sw := f.do(t, http.MethodGet, "/api/v1/variation/"+id+"/stream?fromSequence=0", nil, token)
	require.Equal(t, http.StatusOK, sw.Code)

	stream := sw.Body.String()
	assert.Contains(t, stream, "event: meta")
	assert.Contains(t, stream, "event: done")
}

func TestStreamVariation_BadFromSequence(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.seedUser(t, "ada")
	f.syncDemo(t, token)

	w := f.do(t, http.MethodPost, "/api/v1/variation/propose", map[string]string{
		"projectId": "proj-1", "intent": "bad resume",
	}, token)
	require.Equal(t, http.StatusAccepted, w.Code)
	id, _ := decodeBody(t, w)["variationId"].(string)

	sw := f.do(t, http.MethodGet, "/api/v1/variation/"+id+"/stream?fromSequence=zero", nil, token)
	require.Equal(t, http.StatusBadRequest, sw.Code)
	assert.Equal(t, "VALIDATION_FAILED", decodeBody(t, sw)["code"])

	sw = f.do(t, http.MethodGet, "/api/v1/variation/"+id+"/stream?fromSequence=-1", nil, token)
	require.Equal(t, http.StatusBadRequest, sw.Code)
}

func TestStreamVariation_UnknownVariation(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.seedUser(t, "ada")

	w := f.do(t, http.MethodGet, "/api/v1/variation/var-ghost/stream", nil, token)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestCommitVariation_AppliesChanges(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.seedUser(t, "ada")
	synced := f.syncDemo(t, token)

	w := f.do(t, http.MethodPost, "/api/v1/variation/propose", map[string]string{
		"projectId": "proj-1", "intent": "commit me",
	}, token)
	require.Equal(t, http.StatusAccepted, w.Code)
	id, _ := decodeBody(t, w)["variationId"].(string)
	f.waitVariationStatus(t, token, id, domain.VariationReady)

	cw := f.do(t, http.MethodPost, "/api/v1/variation/"+id+"/commit", nil, token)
	require.Equal(t, http.StatusOK, cw.Code, cw.Body.String())

	body := decodeBody(t, cw)
	assert.Equal(t, string(domain.VariationCommitted), body["status"])
	assert.NotEmpty(t, body["newStateId"])
	assert.NotEqual(t, synced["stateId"], body["newStateId"])
	applied, ok := body["appliedPhraseIds"].([]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, applied)

	// Project state moved to the new id.
	st := f.do(t, http.MethodGet, "/api/v1/project/proj-1/state", nil, token)
	require.Equal(t, http.StatusOK, st.Code)
	assert.Equal(t, body["newStateId"], decodeBody(t, st)["stateId"])
}

func TestCommitVariation_StaleBaseline(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.seedUser(t, "ada")
	f.syncDemo(t, token)

	w := f.do(t, http.MethodPost, "/api/v1/variation/propose", map[string]string{
		"projectId": "proj-1", "intent": "stale me",
	}, token)
	require.Equal(t, http.StatusAccepted, w.Code)
	id, _ := decodeBody(t, w)["variationId"].(string)
	f.waitVariationStatus(t, token, id, domain.VariationReady)

	// A re-sync moves the state id out from under the variation.
	f.syncDemo(t, token)

	cw := f.do(t, http.MethodPost, "/api/v1/variation/"+id+"/commit", nil, token)
	require.Equal(t, http.StatusConflict, cw.Code, cw.Body.String())
	assert.Equal(t, "BASELINE_MISMATCH", decodeBody(t, cw)["code"])
}

func TestDiscardVariation_TerminalState(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.seedUser(t, "ada")
	f.syncDemo(t, token)

	w := f.do(t, http.MethodPost, "/api/v1/variation/propose", map[string]string{
		"projectId": "proj-1", "intent": "discard me",
	}, token)
	require.Equal(t, http.StatusAccepted, w.Code)
	id, _ := decodeBody(t, w)["variationId"].(string)
	f.waitVariationStatus(t, token, id, domain.VariationReady)

	dw := f.do(t, http.MethodPost, "/api/v1/variation/"+id+"/discard", nil, token)
	require.Equal(t, http.StatusOK, dw.Code, dw.Body.String())

	body := decodeBody(t, dw)
	assert.Equal(t, string(domain.VariationDiscarded), body["status"])
	// The run streamed phrases, so the charge stays consumed.
	assert.Equal(t, false, body["refunded"])

	// Discard is terminal; committing now conflicts.
	cw := f.do(t, http.MethodPost, "/api/v1/variation/"+id+"/commit", nil, token)
	require.Equal(t, http.StatusConflict, cw.Code)
	assert.Equal(t, "VARIATION_NOT_COMMITTABLE", decodeBody(t, cw)["code"])
}
