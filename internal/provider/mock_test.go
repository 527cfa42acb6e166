package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func planRequestFixture() PlanRequest {
	return PlanRequest{
		ProjectID: "proj-1",
		Intent:    "make the verse brighter",
		Tempo:     120,
		Key:       "C major",
		Tracks: []TrackContext{
			{ID: "trk-1", Name: "Keys", Regions: []RegionContext{
				{ID: "reg-a", Name: "Verse", StartBeat: 0, DurationBeats: 16},
				{ID: "reg-b", Name: "Chorus", StartBeat: 16, DurationBeats: 16},
			}},
		},
	}
}

func TestMockPlanner_SynthesizesValidPlan(t *testing.T) {
	p := NewMockPlanner()
	adapter, err := NewStandardAdapter()
	require.NoError(t, err)

	req := planRequestFixture()
	req.FocusRegionIDs = []string{"reg-b"}
	plan, err := p.BuildPlan(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, plan.ToolCalls, 1)

	call := plan.ToolCalls[0]
	assert.Equal(t, "muse_add_notes", call.Name)
	assert.Equal(t, "Keys", call.Instrument)
	assert.NoError(t, adapter.ValidateCall(call), "synthesized calls must pass validation")
	assert.Contains(t, string(call.Args), "reg-b", "focused region wins")

	require.Len(t, p.Calls(), 1)
	assert.Equal(t, "make the verse brighter", p.Calls()[0].Intent)
}

func TestMockPlanner_SeededPlansAndErrors(t *testing.T) {
	p := NewMockPlanner()
	seeded := ExecutionPlan{Explanation: "seeded"}
	p.Seed(seeded)

	plan, err := p.BuildPlan(context.Background(), planRequestFixture())
	require.NoError(t, err)
	assert.Equal(t, "seeded", plan.Explanation)

	p.FailWith(errors.New("model unavailable"))
	_, err = p.BuildPlan(context.Background(), planRequestFixture())
	require.Error(t, err)

	p.Reset()
	assert.Empty(t, p.Calls())
	plan, err = p.BuildPlan(context.Background(), planRequestFixture())
	require.NoError(t, err)
	assert.NotEmpty(t, plan.ToolCalls)
}

func TestExecutionPlan_Instruments(t *testing.T) {
	plan := ExecutionPlan{ToolCalls: []ToolCall{
		{Name: "muse_set_tempo"},
		{Name: "muse_add_notes", Instrument: "Drums"},
		{Name: "muse_add_notes", Instrument: "drums"},
		{Name: "muse_add_notes", Instrument: "Bass"},
	}}
	assert.Equal(t, []string{"Drums", "Bass"}, plan.Instruments())
}
