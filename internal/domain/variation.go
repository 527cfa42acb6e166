package domain

import "time"

// VariationStatus is the lifecycle state of a proposed variation.
type VariationStatus string

const (
	VariationCreated   VariationStatus = "CREATED"
	VariationStreaming VariationStatus = "STREAMING"
	VariationReady     VariationStatus = "READY"
	VariationCommitted VariationStatus = "COMMITTED"
	VariationDiscarded VariationStatus = "DISCARDED"
	VariationFailed    VariationStatus = "FAILED"
	VariationExpired   VariationStatus = "EXPIRED"
)

// variationTransitions is the allowed status transition table.
var variationTransitions = map[VariationStatus][]VariationStatus{
	VariationCreated:   {VariationStreaming, VariationFailed, VariationDiscarded, VariationExpired},
	VariationStreaming: {VariationReady, VariationFailed, VariationDiscarded, VariationExpired},
	VariationReady:     {VariationCommitted, VariationFailed, VariationDiscarded, VariationExpired},
	VariationCommitted: {},
	VariationDiscarded: {},
	VariationFailed:    {},
	VariationExpired:   {},
}

// CanTransition reports whether from → to is a legal status change.
func CanTransition(from, to VariationStatus) bool {
	for _, next := range variationTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s admits no further transitions.
func (s VariationStatus) IsTerminal() bool {
	switch s {
	case VariationCommitted, VariationDiscarded, VariationFailed, VariationExpired:
		return true
	}
	return false
}

// CanCommit reports whether a variation in status s may be committed.
// Only fully streamed variations are committable.
func (s VariationStatus) CanCommit() bool {
	return s == VariationReady
}

// CanDiscard reports whether a variation in status s may be discarded.
func (s VariationStatus) CanDiscard() bool {
	return !s.IsTerminal()
}

// ChangeType classifies a note-level edit inside a phrase.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeRemoved  ChangeType = "removed"
	ChangeModified ChangeType = "modified"
)

// NoteChange is one note-level edit proposed by a variation.
// Prev carries the pre-edit note for modified and removed changes.
type NoteChange struct {
	Type ChangeType `json:"type"`
	Note Note       `json:"note"`
	Prev *Note      `json:"prev,omitempty"`
}

// ControllerChange is one CC-level edit proposed by a variation.
type ControllerChange struct {
	Type  ChangeType      `json:"type"`
	Event ControllerEvent `json:"event"`
}

// TempoChange proposes a project tempo move.
type TempoChange struct {
	FromBPM float64 `json:"fromBpm"`
	ToBPM   float64 `json:"toBpm"`
}

// KeyChange proposes a project key move.
type KeyChange struct {
	FromKey string `json:"fromKey"`
	ToKey   string `json:"toKey"`
}

// LevelsChange proposes a mixer move on the phrase's track.
type LevelsChange struct {
	From TrackLevels `json:"from"`
	To   TrackLevels `json:"to"`
}

// Phrase is a bounded group of proposed changes on one region.
// Phrases stream in ascending Sequence order and are the unit of
// partial acceptance at commit time.
type Phrase struct {
	ID            string             `json:"id"`
	VariationID   string             `json:"variationId"`
	Sequence      int                `json:"sequence"`
	TrackID       string             `json:"trackId,omitempty"`
	TrackName     string             `json:"trackName,omitempty"`
	RegionID      string             `json:"regionId,omitempty"`
	RegionName    string             `json:"regionName,omitempty"`
	StartBeat     float64            `json:"startBeat"`
	DurationBeats float64            `json:"durationBeats"`
	Label         string             `json:"label"`
	Explanation   string             `json:"explanation,omitempty"`
	NoteChanges   []NoteChange       `json:"noteChanges,omitempty"`
	CtrlChanges   []ControllerChange `json:"controllerChanges,omitempty"`
	TempoChange   *TempoChange       `json:"tempoChange,omitempty"`
	KeyChange     *KeyChange         `json:"keyChange,omitempty"`
	LevelsChange  *LevelsChange      `json:"levelsChange,omitempty"`
}

// ChangeCount totals the note and controller edits in the phrase.
func (p Phrase) ChangeCount() int {
	return len(p.NoteChanges) + len(p.CtrlChanges)
}

// VariationMeta is the seq-1 stream payload describing the run.
type VariationMeta struct {
	BaseStateID string   `json:"baseStateId"`
	Intent      string   `json:"intent"`
	PlanSummary string   `json:"planSummary,omitempty"`
	Instruments []string `json:"instruments,omitempty"`
}

// VariationError describes a failed or degraded generation.
type VariationError struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// Variation is the orchestration record for one proposed edit run.
type Variation struct {
	ID             string          `json:"variationId"`
	ConversationID string          `json:"conversationId"`
	ProjectID      string          `json:"projectId"`
	UserID         string          `json:"-"`
	Intent         string          `json:"intent"`
	BaseStateID    string          `json:"baseStateId"`
	Status         VariationStatus `json:"status"`
	Meta           *VariationMeta  `json:"meta,omitempty"`
	Phrases        []Phrase        `json:"phrases"`
	Error          *VariationError `json:"error,omitempty"`
	AppliedPhrases []string        `json:"appliedPhraseIds,omitempty"`
	NewStateID     string          `json:"newStateId,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	ExpiresAt      time.Time       `json:"expiresAt"`
}

// PhraseByID returns the phrase with the given id, if present.
func (v *Variation) PhraseByID(id string) (Phrase, bool) {
	for _, p := range v.Phrases {
		if p.ID == id {
			return p, true
		}
	}
	return Phrase{}, false
}
