package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from VariationStatus
		to   VariationStatus
		want bool
	}{
		{"created to streaming", VariationCreated, VariationStreaming, true},
		{"streaming to ready", VariationStreaming, VariationReady, true},
		{"ready to committed", VariationReady, VariationCommitted, true},
		{"ready to discarded", VariationReady, VariationDiscarded, true},
		{"ready to failed on apply error", VariationReady, VariationFailed, true},
		{"streaming to expired", VariationStreaming, VariationExpired, true},
		{"created to ready skips streaming", VariationCreated, VariationReady, false},
		{"created to committed", VariationCreated, VariationCommitted, false},
		{"streaming to committed", VariationStreaming, VariationCommitted, false},
		{"committed is terminal", VariationCommitted, VariationDiscarded, false},
		{"expired is terminal", VariationExpired, VariationStreaming, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestVariationStatus_Predicates(t *testing.T) {
	for _, s := range []VariationStatus{VariationCommitted, VariationDiscarded, VariationFailed, VariationExpired} {
		assert.True(t, s.IsTerminal(), "%s should be terminal", s)
		assert.False(t, s.CanDiscard(), "%s should not be discardable", s)
	}
	for _, s := range []VariationStatus{VariationCreated, VariationStreaming, VariationReady} {
		assert.False(t, s.IsTerminal(), "%s should not be terminal", s)
		assert.True(t, s.CanDiscard(), "%s should be discardable", s)
	}

	assert.True(t, VariationReady.CanCommit())
	for _, s := range []VariationStatus{VariationCreated, VariationStreaming, VariationCommitted, VariationExpired} {
		assert.False(t, s.CanCommit(), "%s should not be committable", s)
	}
}

func TestEventEnvelope_SSE(t *testing.T) {
	env, err := NewPhraseEnvelope("var-1", 2, Phrase{
		ID:       "phrase-1",
		Sequence: 1,
		Label:    "Drums: busier hats",
		NoteChanges: []NoteChange{
			{Type: ChangeAdded, Note: Note{ID: "n1", Pitch: 42, Velocity: 96, StartBeat: 0.5, DurationBeats: 0.25}},
		},
	})
	require.NoError(t, err)

	frame, err := env.SSE()
	require.NoError(t, err)

	text := string(frame)
	require.True(t, strings.HasPrefix(text, "event: phrase\ndata: "), "frame prefix: %q", text)
	require.True(t, strings.HasSuffix(text, "\n\n"))

	// The data line must be the complete envelope JSON.
	payload := strings.TrimSuffix(strings.TrimPrefix(text, "event: phrase\ndata: "), "\n\n")
	var decoded EventEnvelope
	require.NoError(t, json.Unmarshal([]byte(payload), &decoded))
	assert.Equal(t, EnvelopePhrase, decoded.Type)
	assert.Equal(t, "var-1", decoded.VariationID)
	assert.Equal(t, 2, decoded.Sequence)

	var phrase Phrase
	require.NoError(t, json.Unmarshal(decoded.Payload, &phrase))
	assert.Equal(t, "Drums: busier hats", phrase.Label)
	require.Len(t, phrase.NoteChanges, 1)
	assert.Equal(t, ChangeAdded, phrase.NoteChanges[0].Type)
}

func TestEventEnvelope_Terminal(t *testing.T) {
	done, err := NewDoneEnvelope("var-1", 5, DoneSummary{Status: VariationReady, PhraseCount: 3})
	require.NoError(t, err)
	assert.True(t, done.Terminal())

	// An error envelope does not end the stream; the done that follows
	// it does.
	errEnv, err := NewErrorEnvelope("var-1", 5, VariationError{Code: "GENERATION_FAILED", Message: "planner unavailable"})
	require.NoError(t, err)
	assert.False(t, errEnv.Terminal())

	hb := NewHeartbeatEnvelope("var-1")
	assert.False(t, hb.Terminal())
	assert.Equal(t, 0, hb.Sequence)
}

func TestSequenceCounter(t *testing.T) {
	c := NewSequenceCounter()
	assert.Equal(t, 0, c.Current())
	assert.Equal(t, 1, c.Next())
	assert.Equal(t, 2, c.Next())
	assert.Equal(t, 3, c.Next())
	assert.Equal(t, 3, c.Current())
}

func TestCanParent(t *testing.T) {
	tests := []struct {
		child  EntityKind
		parent EntityKind
		want   bool
	}{
		{EntityRegion, EntityTrack, true},
		{EntityTrack, EntityProject, true},
		{EntityBus, EntityProject, true},
		{EntityRegion, EntityProject, false},
		{EntityRegion, EntityBus, false},
		{EntityTrack, EntityTrack, false},
		{EntityProject, EntityProject, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanParent(tt.child, tt.parent),
			"CanParent(%s, %s)", tt.child, tt.parent)
	}
}

func TestPushPayload_ToJSON(t *testing.T) {
	payload := PushPayload{
		RepoID:      "repo-1",
		Branch:      "main",
		NewHead:     "abc123",
		CommitCount: 2,
		ObjectCount: 5,
		Actor:       "user-1",
	}

	data, err := payload.ToJSON()
	require.NoError(t, err)

	var decoded PushPayload
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, payload, decoded)
}

func TestClampVelocity(t *testing.T) {
	assert.Equal(t, 1, ClampVelocity(0))
	assert.Equal(t, 1, ClampVelocity(-10))
	assert.Equal(t, 127, ClampVelocity(200))
	assert.Equal(t, 64, ClampVelocity(64))
}
