package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"musehub.io/musehub/internal/domain"
)

// MockPlanner implements Planner for tests and the dev bootstrap,
// where no model backend is wired.
type MockPlanner struct {
	mu    sync.Mutex
	plans []ExecutionPlan
	err   error
	calls []PlanRequest
}

// NewMockPlanner creates an empty MockPlanner. Without seeded plans it
// synthesizes a small deterministic plan from the request.
func NewMockPlanner() *MockPlanner {
	return &MockPlanner{}
}

// Seed queues plans returned in order by subsequent BuildPlan calls.
func (p *MockPlanner) Seed(plans ...ExecutionPlan) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plans = append(p.plans, plans...)
}

// FailWith makes every BuildPlan call return err until Reset.
func (p *MockPlanner) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Reset clears queued plans, the injected error, and recorded calls.
func (p *MockPlanner) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plans = nil
	p.err = nil
	p.calls = nil
}

// Calls returns the requests BuildPlan has seen.
func (p *MockPlanner) Calls() []PlanRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PlanRequest, len(p.calls))
	copy(out, p.calls)
	return out
}

func (p *MockPlanner) Name() string { return "mock" }

func (p *MockPlanner) BuildPlan(_ context.Context, req PlanRequest) (ExecutionPlan, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)
	if p.err != nil {
		return ExecutionPlan{}, p.err
	}
	if len(p.plans) > 0 {
		plan := p.plans[0]
		p.plans = p.plans[1:]
		return plan, nil
	}
	return synthesizePlan(req), nil
}

// synthesizePlan builds a four-note arpeggio on the first focused (or
// first available) region. Deterministic so dev runs are reproducible.
func synthesizePlan(req PlanRequest) ExecutionPlan {
	track, region := pickTarget(req)
	if region == nil {
		return ExecutionPlan{Explanation: "no regions available to vary"}
	}

	notes := make([]domain.Note, 0, 4)
	for i, pitch := range []int{60, 64, 67, 72} {
		notes = append(notes, domain.Note{
			Pitch:         pitch,
			Velocity:      96,
			StartBeat:     region.StartBeat + float64(i),
			DurationBeats: 0.9,
		})
	}
	return ExecutionPlan{
		ToolCalls: []ToolCall{{
			Name:       "muse_add_notes",
			Instrument: track.Name,
			Args:       mustArgs(map[string]interface{}{"region": region.ID, "notes": notes}),
			Rationale:  fmt.Sprintf("add a rising arpeggio to %s", region.Name),
		}},
		Explanation: fmt.Sprintf("Added a four-note arpeggio to %q on %q for: %s",
			region.Name, track.Name, req.Intent),
	}
}

func pickTarget(req PlanRequest) (*TrackContext, *RegionContext) {
	focus := make(map[string]struct{}, len(req.FocusRegionIDs))
	for _, id := range req.FocusRegionIDs {
		focus[id] = struct{}{}
	}
	for i := range req.Tracks {
		for j := range req.Tracks[i].Regions {
			r := &req.Tracks[i].Regions[j]
			if _, ok := focus[r.ID]; ok {
				return &req.Tracks[i], r
			}
		}
	}
	for i := range req.Tracks {
		if len(req.Tracks[i].Regions) > 0 {
			return &req.Tracks[i], &req.Tracks[i].Regions[0]
		}
	}
	return nil, nil
}

func mustArgs(v map[string]interface{}) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}
