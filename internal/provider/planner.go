// Package provider defines the collaborator ports the variation
// pipeline depends on: the planner that turns an intent into an
// execution plan, the DAW adapter that owns the tool vocabulary, and
// the budget service that meters generation.
//
// Anti-Corruption Layer: the core consumes validated plans and never
// sees prompts, model output, or vendor tool schemas. Concrete
// bindings happen at the composition root.
package provider

import (
	"context"
	"encoding/json"
)

// ToolCall is one planned operation against the project state.
// Args stays raw until the executor narrows it to the tool's typed
// parameter struct.
type ToolCall struct {
	Name       string          `json:"name"`
	Instrument string          `json:"instrument,omitempty"`
	Args       json.RawMessage `json:"args"`
	Rationale  string          `json:"rationale,omitempty"`
}

// ExecutionPlan is the planner's full answer to an intent: an ordered
// list of tool calls plus a human-readable explanation.
type ExecutionPlan struct {
	ToolCalls   []ToolCall `json:"toolCalls"`
	Explanation string     `json:"explanation,omitempty"`
}

// Instruments returns the distinct instrument keys in plan order,
// matched case-insensitively.
func (p ExecutionPlan) Instruments() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, tc := range p.ToolCalls {
		if tc.Instrument == "" {
			continue
		}
		key := lowerKey(tc.Instrument)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, tc.Instrument)
	}
	return out
}

// PlanRequest carries the intent and enough project context for the
// planner to ground its tool calls in real entity ids.
type PlanRequest struct {
	ProjectID      string            `json:"projectId"`
	ConversationID string            `json:"conversationId"`
	Intent         string            `json:"intent"`
	Tempo          float64           `json:"tempo"`
	Key            string            `json:"key"`
	Tracks         []TrackContext    `json:"tracks"`
	FocusTrackIDs  []string          `json:"focusTrackIds,omitempty"`
	FocusRegionIDs []string          `json:"focusRegionIds,omitempty"`
	Options        map[string]string `json:"options,omitempty"`
}

// TrackContext summarizes one track for the planner.
type TrackContext struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Volume  float64         `json:"volume"`
	Pan     float64         `json:"pan"`
	Regions []RegionContext `json:"regions,omitempty"`
}

// RegionContext summarizes one region for the planner.
type RegionContext struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	StartBeat     float64 `json:"startBeat"`
	DurationBeats float64 `json:"durationBeats"`
	NoteCount     int     `json:"noteCount"`
}

// Planner produces an execution plan for a musical intent.
type Planner interface {
	Name() string
	BuildPlan(ctx context.Context, req PlanRequest) (ExecutionPlan, error)
}
