package state

import (
	"sort"
	"strconv"
	"time"

	"musehub.io/musehub/internal/domain"
)

// RegionSnapshot is a deep copy of one region's state.
type RegionSnapshot struct {
	ID          string                   `json:"id"`
	TrackID     string                   `json:"trackId"`
	Geometry    domain.RegionGeometry    `json:"geometry"`
	Notes       []domain.Note            `json:"notes"`
	Controllers []domain.ControllerEvent `json:"controllers,omitempty"`
}

// TrackSnapshot is a deep copy of one track's mixer state.
type TrackSnapshot struct {
	ID     string             `json:"id"`
	Name   string             `json:"name"`
	Levels domain.TrackLevels `json:"levels"`
}

// SnapshotBundle is an immutable copy of a conversation's project
// state. Generation works exclusively against bundles; the live store
// is never handed out.
type SnapshotBundle struct {
	ConversationID string                    `json:"conversationId"`
	ProjectID      string                    `json:"projectId"`
	StateID        string                    `json:"stateId"`
	Version        int                       `json:"version"`
	Tempo          float64                   `json:"tempo"`
	Key            string                    `json:"key"`
	Regions        map[string]RegionSnapshot `json:"regions"`
	Tracks         map[string]TrackSnapshot  `json:"tracks"`
	TakenAt        time.Time                 `json:"takenAt"`
}

// Snapshot produces a deep-copied bundle of the current state.
func (s *StateStore) Snapshot() SnapshotBundle {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := SnapshotBundle{
		ConversationID: s.conversationID,
		ProjectID:      s.projectID,
		StateID:        intToStateID(s.version),
		Version:        s.version,
		Tempo:          s.tempo,
		Key:            s.key,
		Regions:        make(map[string]RegionSnapshot, len(s.regions)),
		Tracks:         make(map[string]TrackSnapshot, len(s.tracks)),
		TakenAt:        time.Now().UTC(),
	}
	for id, r := range s.regions {
		b.Regions[id] = RegionSnapshot{
			ID:          r.id,
			TrackID:     r.trackID,
			Geometry:    r.geometry,
			Notes:       append([]domain.Note(nil), r.notes...),
			Controllers: append([]domain.ControllerEvent(nil), r.ctrls...),
		}
	}
	for id, t := range s.tracks {
		b.Tracks[id] = TrackSnapshot{ID: t.id, Name: t.name, Levels: t.levels}
	}
	return b
}

// RegionState returns a deep copy of a single region's state.
func (s *StateStore) RegionState(regionID string) (RegionSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.regions[regionID]
	if !ok {
		return RegionSnapshot{}, false
	}
	return RegionSnapshot{
		ID:          r.id,
		TrackID:     r.trackID,
		Geometry:    r.geometry,
		Notes:       append([]domain.Note(nil), r.notes...),
		Controllers: append([]domain.ControllerEvent(nil), r.ctrls...),
	}, true
}

// TrackState returns a copy of a single track's mixer state.
func (s *StateStore) TrackState(trackID string) (TrackSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tracks[trackID]
	if !ok {
		return TrackSnapshot{}, false
	}
	return TrackSnapshot{ID: t.id, Name: t.name, Levels: t.levels}, true
}

// SortedRegionIDs returns region ids in a stable order keyed by track
// then region start beat. Deterministic iteration keeps phrase
// sequencing reproducible.
func (b SnapshotBundle) SortedRegionIDs() []string {
	ids := make([]string, 0, len(b.Regions))
	for id := range b.Regions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ri, rj := b.Regions[ids[i]], b.Regions[ids[j]]
		if ri.TrackID != rj.TrackID {
			return ri.TrackID < rj.TrackID
		}
		if ri.Geometry.StartBeat != rj.Geometry.StartBeat {
			return ri.Geometry.StartBeat < rj.Geometry.StartBeat
		}
		return ids[i] < ids[j]
	})
	return ids
}

func intToStateID(v int) string {
	// State ids are the stringified version; opaque to clients.
	return strconv.Itoa(v)
}
