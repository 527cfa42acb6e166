// Package generation executes planner tool calls against a working
// copy of the project and turns the result into streamed phrases. The
// live state store is never touched here; commit applies accepted
// phrases later through its own transaction.
package generation

import (
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"musehub.io/musehub/internal/domain"
	apperrors "musehub.io/musehub/internal/pkg/errors"
	"musehub.io/musehub/internal/provider"
	"musehub.io/musehub/internal/state"
)

type workRegion struct {
	id            string
	trackID       string
	name          string
	startBeat     float64
	durationBeats float64
	notes         []domain.Note
	ctrls         []domain.ControllerEvent
	created       bool
}

type workTrack struct {
	id      string
	name    string
	levels  domain.TrackLevels
	changed bool
}

// CallFailure records one tool call that could not be applied.
type CallFailure struct {
	Tool       string `json:"tool"`
	Instrument string `json:"instrument,omitempty"`
	Reason     string `json:"reason"`
}

// VariationContext is the mutable working copy one generation run
// operates on, seeded from an immutable base snapshot. Instrument
// groups run in parallel, so every mutation goes through the mutex.
type VariationContext struct {
	mu       sync.Mutex
	base     state.SnapshotBundle
	registry *state.EntityRegistry

	tempo    float64
	key      string
	regions  map[string]*workRegion
	tracks   map[string]*workTrack
	failures []CallFailure
	applied  int
}

// NewVariationContext seeds a working copy from the base snapshot.
func NewVariationContext(base state.SnapshotBundle, registry *state.EntityRegistry) *VariationContext {
	vc := &VariationContext{
		base:     base,
		registry: registry,
		tempo:    base.Tempo,
		key:      base.Key,
		regions:  make(map[string]*workRegion, len(base.Regions)),
		tracks:   make(map[string]*workTrack, len(base.Tracks)),
	}
	for id, r := range base.Regions {
		vc.regions[id] = &workRegion{
			id:            id,
			trackID:       r.TrackID,
			name:          r.Geometry.Name,
			startBeat:     r.Geometry.StartBeat,
			durationBeats: r.Geometry.DurationBeats,
			notes:         append([]domain.Note(nil), r.Notes...),
			ctrls:         append([]domain.ControllerEvent(nil), r.Controllers...),
		}
	}
	for id, tr := range base.Tracks {
		vc.tracks[id] = &workTrack{id: id, name: tr.Name, levels: tr.Levels}
	}
	return vc
}

// Base returns the snapshot the context was seeded from.
func (vc *VariationContext) Base() state.SnapshotBundle { return vc.base }

// Applied reports how many tool calls changed the working copy.
func (vc *VariationContext) Applied() int {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	return vc.applied
}

// Failures returns recorded tool failures in occurrence order.
func (vc *VariationContext) Failures() []CallFailure {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	out := make([]CallFailure, len(vc.failures))
	copy(out, vc.failures)
	return out
}

func (vc *VariationContext) recordFailureLocked(call provider.ToolCall, err error) {
	vc.failures = append(vc.failures, CallFailure{
		Tool:       call.Name,
		Instrument: call.Instrument,
		Reason:     err.Error(),
	})
}

// RecordFailure notes a call rejected before execution, such as one
// that failed adapter validation.
func (vc *VariationContext) RecordFailure(call provider.ToolCall, err error) {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	vc.recordFailureLocked(call, err)
}

// resolveRegionLocked maps a region reference (id or name) to a working
// region. Regions created earlier in the same run resolve too, even
// though the registry has never seen them.
func (vc *VariationContext) resolveRegionLocked(ref string) (*workRegion, error) {
	if r, ok := vc.regions[ref]; ok {
		return r, nil
	}
	if e, err := vc.registry.Resolve(domain.EntityRegion, ref); err == nil {
		if r, ok := vc.regions[e.ID]; ok {
			return r, nil
		}
	}
	// Created-this-run regions: exact name match, case-insensitive.
	want := strings.ToLower(strings.TrimSpace(ref))
	var hits []*workRegion
	for _, r := range vc.regions {
		if r.created && strings.ToLower(r.name) == want {
			hits = append(hits, r)
		}
	}
	switch len(hits) {
	case 1:
		return hits[0], nil
	case 0:
		return nil, apperrors.NotFound(apperrors.CodeEntityNotFound, "region not found: "+ref)
	default:
		return nil, apperrors.BadRequest(apperrors.CodeAmbiguousName, "region reference is ambiguous: "+ref)
	}
}

func (vc *VariationContext) resolveTrackLocked(ref string) (*workTrack, error) {
	if t, ok := vc.tracks[ref]; ok {
		return t, nil
	}
	e, err := vc.registry.Resolve(domain.EntityTrack, ref)
	if err != nil {
		return nil, err
	}
	t, ok := vc.tracks[e.ID]
	if !ok {
		return nil, apperrors.NotFound(apperrors.CodeEntityNotFound, "track not in snapshot: "+ref)
	}
	return t, nil
}

func (vc *VariationContext) sortedRegionIDs() []string {
	ids := make([]string, 0, len(vc.regions))
	for id := range vc.regions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := vc.regions[ids[i]], vc.regions[ids[j]]
		if a.trackID != b.trackID {
			return a.trackID < b.trackID
		}
		if a.startBeat != b.startBeat {
			return a.startBeat < b.startBeat
		}
		return a.id < b.id
	})
	return ids
}

func newNoteID() string {
	uid, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return uid.String()
}
