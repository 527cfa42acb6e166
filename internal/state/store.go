package state

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"musehub.io/musehub/internal/domain"
	apperrors "musehub.io/musehub/internal/pkg/errors"
)

// MutationKind labels one staged store mutation.
type MutationKind string

const (
	MutationAddNotes       MutationKind = "notes_added"
	MutationRemoveNotes    MutationKind = "notes_removed"
	MutationUpdateNotes    MutationKind = "notes_updated"
	MutationSetTempo       MutationKind = "tempo_set"
	MutationSetKey         MutationKind = "key_set"
	MutationSetTrackVolume MutationKind = "track_volume_set"
	MutationSetTrackPan    MutationKind = "track_pan_set"
	MutationAddControllers MutationKind = "controllers_added"
	MutationUpsertRegion   MutationKind = "region_upserted"
	MutationUpsertTrack    MutationKind = "track_upserted"
	MutationProjectReset   MutationKind = "project_reset"
)

// StateEvent is one entry in the append-only mutation log.
// Every mutation in a committed transaction produces one event, all
// stamped with the post-commit version.
type StateEvent struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversationId"`
	Version        int          `json:"version"`
	Kind           MutationKind `json:"kind"`
	EntityID       string       `json:"entityId,omitempty"`
	Count          int          `json:"count,omitempty"`
	At             time.Time    `json:"at"`
}

type regionState struct {
	id       string
	trackID  string
	geometry domain.RegionGeometry
	notes    []domain.Note
	ctrls    []domain.ControllerEvent
}

type trackState struct {
	id     string
	name   string
	levels domain.TrackLevels
}

// CommitListener observes committed event batches.
type CommitListener func(events []StateEvent)

// StateStore is the authoritative, transactional project state for one
// conversation. The version increases by exactly one per committed
// transaction; readers get deep copies, never live maps.
type StateStore struct {
	mu             sync.Mutex
	conversationID string
	projectID      string
	version        int
	tempo          float64
	key            string
	regions        map[string]*regionState
	tracks         map[string]*trackState
	events         []StateEvent
	open           *Tx
	listeners      []CommitListener
}

// NewStateStore creates an empty store at version 0.
func NewStateStore(conversationID, projectID string) *StateStore {
	return &StateStore{
		conversationID: conversationID,
		projectID:      projectID,
		tempo:          120,
		key:            "C major",
		regions:        make(map[string]*regionState),
		tracks:         make(map[string]*trackState),
	}
}

// GetStateID returns the opaque state id for the current version.
func (s *StateStore) GetStateID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strconv.Itoa(s.version)
}

// Version returns the current numeric version.
func (s *StateStore) Version() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// CheckStateID verifies a client-supplied base state id against the
// current version. An empty base always passes.
func (s *StateStore) CheckStateID(base string) error {
	if base == "" {
		return nil
	}
	s.mu.Lock()
	current := strconv.Itoa(s.version)
	s.mu.Unlock()
	if base != current {
		return apperrors.ErrBaselineMismatchf(base, current)
	}
	return nil
}

// OnCommit registers a listener invoked after each committed
// transaction with that transaction's event batch.
func (s *StateStore) OnCommit(fn CommitListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// EventsSince returns log entries with version strictly greater than v.
func (s *StateStore) EventsSince(v int) []StateEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []StateEvent
	for _, e := range s.events {
		if e.Version > v {
			out = append(out, e)
		}
	}
	return out
}

// EventsForEntity returns log entries touching the given entity.
func (s *StateStore) EventsForEntity(entityID string) []StateEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []StateEvent
	for _, e := range s.events {
		if e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out
}

// Begin opens the store's single transaction. A second Begin before
// Commit or Rollback fails with TRANSACTION_OPEN.
func (s *StateStore) Begin() (*Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open != nil {
		return nil, apperrors.Conflict(apperrors.CodeTransactionOpen,
			"another transaction is already open on this conversation")
	}
	tx := &Tx{store: s}
	s.open = tx
	return tx, nil
}

// Tx stages mutations until Commit applies them atomically.
// Tx methods are not safe for concurrent use; one goroutine drives a
// transaction from Begin to Commit or Rollback.
type Tx struct {
	store  *StateStore
	ops    []stagedOp
	closed bool
}

type stagedOp struct {
	kind     MutationKind
	entityID string
	count    int
	apply    func(s *StateStore) error
}

func (tx *Tx) stage(kind MutationKind, entityID string, count int, apply func(s *StateStore) error) {
	tx.ops = append(tx.ops, stagedOp{kind: kind, entityID: entityID, count: count, apply: apply})
}

// AddNotes stages note insertion into a region. Notes without ids get
// server-issued ones at staging time so callers can reference them.
func (tx *Tx) AddNotes(regionID string, notes []domain.Note) []domain.Note {
	staged := make([]domain.Note, len(notes))
	copy(staged, notes)
	for i := range staged {
		if staged[i].ID == "" {
			staged[i].ID = newID()
		}
		staged[i].Velocity = domain.ClampVelocity(staged[i].Velocity)
	}
	tx.stage(MutationAddNotes, regionID, len(staged), func(s *StateStore) error {
		r, ok := s.regions[regionID]
		if !ok {
			return apperrors.NotFound(apperrors.CodeEntityNotFound, "region not found: "+regionID)
		}
		r.notes = append(r.notes, staged...)
		return nil
	})
	return staged
}

// RemoveNotes stages removal of notes by id. Unknown ids are ignored;
// the event count records how many were actually staged for removal.
func (tx *Tx) RemoveNotes(regionID string, noteIDs []string) {
	ids := make(map[string]struct{}, len(noteIDs))
	for _, id := range noteIDs {
		ids[id] = struct{}{}
	}
	tx.stage(MutationRemoveNotes, regionID, len(noteIDs), func(s *StateStore) error {
		r, ok := s.regions[regionID]
		if !ok {
			return apperrors.NotFound(apperrors.CodeEntityNotFound, "region not found: "+regionID)
		}
		kept := r.notes[:0]
		for _, n := range r.notes {
			if _, gone := ids[n.ID]; !gone {
				kept = append(kept, n)
			}
		}
		r.notes = kept
		return nil
	})
}

// UpdateNotes stages in-place note replacement matched by note id.
// Last writer wins when the same note is updated twice in one tx.
func (tx *Tx) UpdateNotes(regionID string, notes []domain.Note) {
	updated := make([]domain.Note, len(notes))
	copy(updated, notes)
	for i := range updated {
		updated[i].Velocity = domain.ClampVelocity(updated[i].Velocity)
	}
	tx.stage(MutationUpdateNotes, regionID, len(updated), func(s *StateStore) error {
		r, ok := s.regions[regionID]
		if !ok {
			return apperrors.NotFound(apperrors.CodeEntityNotFound, "region not found: "+regionID)
		}
		byID := make(map[string]int, len(r.notes))
		for i, n := range r.notes {
			byID[n.ID] = i
		}
		for _, n := range updated {
			if i, ok := byID[n.ID]; ok {
				r.notes[i] = n
			}
		}
		return nil
	})
}

// AddControllerEvents stages CC events on a region.
func (tx *Tx) AddControllerEvents(regionID string, events []domain.ControllerEvent) {
	staged := make([]domain.ControllerEvent, len(events))
	copy(staged, events)
	tx.stage(MutationAddControllers, regionID, len(staged), func(s *StateStore) error {
		r, ok := s.regions[regionID]
		if !ok {
			return apperrors.NotFound(apperrors.CodeEntityNotFound, "region not found: "+regionID)
		}
		r.ctrls = append(r.ctrls, staged...)
		return nil
	})
}

// SetTempo stages a project tempo change.
func (tx *Tx) SetTempo(bpm float64) {
	tx.stage(MutationSetTempo, "", 1, func(s *StateStore) error {
		if bpm < 20 || bpm > 400 {
			return apperrors.BadRequest(apperrors.CodeValidationFailed, "tempo out of range")
		}
		s.tempo = bpm
		return nil
	})
}

// SetKey stages a project key change.
func (tx *Tx) SetKey(key string) {
	tx.stage(MutationSetKey, "", 1, func(s *StateStore) error {
		if key == "" {
			return apperrors.BadRequest(apperrors.CodeValidationFailed, "key must not be empty")
		}
		s.key = key
		return nil
	})
}

// SetTrackVolume stages a mixer volume change.
func (tx *Tx) SetTrackVolume(trackID string, volume float64) {
	tx.stage(MutationSetTrackVolume, trackID, 1, func(s *StateStore) error {
		t, ok := s.tracks[trackID]
		if !ok {
			return apperrors.NotFound(apperrors.CodeEntityNotFound, "track not found: "+trackID)
		}
		if volume < 0 {
			volume = 0
		}
		if volume > 1 {
			volume = 1
		}
		t.levels.Volume = volume
		return nil
	})
}

// SetTrackPan stages a mixer pan change.
func (tx *Tx) SetTrackPan(trackID string, pan float64) {
	tx.stage(MutationSetTrackPan, trackID, 1, func(s *StateStore) error {
		t, ok := s.tracks[trackID]
		if !ok {
			return apperrors.NotFound(apperrors.CodeEntityNotFound, "track not found: "+trackID)
		}
		if pan < -1 {
			pan = -1
		}
		if pan > 1 {
			pan = 1
		}
		t.levels.Pan = pan
		return nil
	})
}

// UpsertRegion stages creation or geometry update of a region.
func (tx *Tx) UpsertRegion(regionID, trackID string, geo domain.RegionGeometry) {
	tx.stage(MutationUpsertRegion, regionID, 1, func(s *StateStore) error {
		if r, ok := s.regions[regionID]; ok {
			r.geometry = geo
			if trackID != "" {
				r.trackID = trackID
			}
			return nil
		}
		s.regions[regionID] = &regionState{id: regionID, trackID: trackID, geometry: geo}
		return nil
	})
}

// ResetProject stages removal of every region and track. Sync from a
// client starts with this so stale entities do not survive a re-sync.
func (tx *Tx) ResetProject() {
	tx.stage(MutationProjectReset, "", 1, func(s *StateStore) error {
		s.regions = make(map[string]*regionState)
		s.tracks = make(map[string]*trackState)
		return nil
	})
}

// UpsertTrack stages creation or update of a track's mixer state.
func (tx *Tx) UpsertTrack(trackID, name string, levels domain.TrackLevels) {
	tx.stage(MutationUpsertTrack, trackID, 1, func(s *StateStore) error {
		if t, ok := s.tracks[trackID]; ok {
			t.name = name
			t.levels = levels
			return nil
		}
		s.tracks[trackID] = &trackState{id: trackID, name: name, levels: levels}
		return nil
	})
}

// Commit applies all staged mutations atomically. On success the
// version increments exactly once and one StateEvent per mutation is
// appended to the log. On failure nothing is applied.
func (tx *Tx) Commit() error {
	s := tx.store
	s.mu.Lock()

	if tx.closed || s.open != tx {
		s.mu.Unlock()
		return apperrors.Conflict(apperrors.CodeTransactionOpen, "transaction already closed")
	}

	// Apply against a scratch copy so a mid-apply failure cannot leave
	// partial state behind.
	scratch := s.cloneLocked()
	for _, op := range tx.ops {
		if err := op.apply(scratch); err != nil {
			tx.closed = true
			s.open = nil
			s.mu.Unlock()
			return err
		}
	}

	s.adopt(scratch)
	s.version++
	now := time.Now().UTC()
	batch := make([]StateEvent, 0, len(tx.ops))
	for _, op := range tx.ops {
		batch = append(batch, StateEvent{
			ID:             newID(),
			ConversationID: s.conversationID,
			Version:        s.version,
			Kind:           op.kind,
			EntityID:       op.entityID,
			Count:          op.count,
			At:             now,
		})
	}
	s.events = append(s.events, batch...)
	listeners := make([]CommitListener, len(s.listeners))
	copy(listeners, s.listeners)
	tx.closed = true
	s.open = nil
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(batch)
	}
	return nil
}

// Rollback discards all staged mutations.
func (tx *Tx) Rollback() {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if !tx.closed && s.open == tx {
		tx.closed = true
		s.open = nil
	}
}

// cloneLocked deep-copies mutable state. Caller holds s.mu.
func (s *StateStore) cloneLocked() *StateStore {
	cp := &StateStore{
		conversationID: s.conversationID,
		projectID:      s.projectID,
		version:        s.version,
		tempo:          s.tempo,
		key:            s.key,
		regions:        make(map[string]*regionState, len(s.regions)),
		tracks:         make(map[string]*trackState, len(s.tracks)),
	}
	for id, r := range s.regions {
		nr := &regionState{id: r.id, trackID: r.trackID, geometry: r.geometry}
		nr.notes = append([]domain.Note(nil), r.notes...)
		nr.ctrls = append([]domain.ControllerEvent(nil), r.ctrls...)
		cp.regions[id] = nr
	}
	for id, t := range s.tracks {
		nt := *t
		cp.tracks[id] = &nt
	}
	return cp
}

// adopt takes the scratch copy's mutable state. Caller holds s.mu.
func (s *StateStore) adopt(scratch *StateStore) {
	s.tempo = scratch.tempo
	s.key = scratch.key
	s.regions = scratch.regions
	s.tracks = scratch.tracks
}

func newID() string {
	uid, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return uid.String()
}
