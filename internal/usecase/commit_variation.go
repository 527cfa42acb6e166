package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"musehub.io/musehub/internal/domain"
	apperrors "musehub.io/musehub/internal/pkg/errors"
	"musehub.io/musehub/internal/pkg/logger"
	"musehub.io/musehub/internal/state"
	"musehub.io/musehub/internal/variation"
)

// CommitVariationInput represents the input for committing a variation.
// An empty PhraseIDs list accepts every streamed phrase.
type CommitVariationInput struct {
	VariationID string   `json:"-"`
	BaseStateID string   `json:"baseStateId,omitempty"`
	PhraseIDs   []string `json:"phraseIds,omitempty"`
	UserID      string   `json:"-"`
}

// CommittedRegion is one region's post-commit contents, returned so the
// DAW client can redraw without a full re-sync.
type CommittedRegion struct {
	RegionID      string                   `json:"regionId"`
	RegionName    string                   `json:"regionName,omitempty"`
	TrackID       string                   `json:"trackId,omitempty"`
	StartBeat     float64                  `json:"startBeat"`
	DurationBeats float64                  `json:"durationBeats"`
	Notes         []domain.Note            `json:"notes"`
	Controllers   []domain.ControllerEvent `json:"ccEvents,omitempty"`
}

// CommitVariationOutput represents the output of a committed variation.
// UndoLabel names the applied edit for the DAW's undo stack.
type CommitVariationOutput struct {
	VariationID      string            `json:"variationId"`
	Status           string            `json:"status"`
	NewStateID       string            `json:"newStateId"`
	AppliedPhraseIDs []string          `json:"appliedPhraseIds"`
	UndoLabel        string            `json:"undoLabel"`
	NotesAdded       int               `json:"notesAdded"`
	NotesRemoved     int               `json:"notesRemoved"`
	NotesModified    int               `json:"notesModified"`
	UpdatedRegions   []CommittedRegion `json:"updatedRegions"`
}

// CommitVariationUseCase applies accepted phrases to the authoritative
// state store in one transaction. Guards run first; a failed apply
// rolls back, records the error on the variation, and moves it to
// FAILED.
type CommitVariationUseCase struct {
	manager    *state.Manager
	variations *variation.Store
	dispatcher *domain.EventDispatcher
}

// NewCommitVariationUseCase creates a new CommitVariationUseCase.
func NewCommitVariationUseCase(manager *state.Manager, variations *variation.Store) *CommitVariationUseCase {
	return &CommitVariationUseCase{manager: manager, variations: variations}
}

// WithDispatcher sets the domain event dispatcher (optional dependency).
func (uc *CommitVariationUseCase) WithDispatcher(d *domain.EventDispatcher) *CommitVariationUseCase {
	uc.dispatcher = d
	return uc
}

// Execute runs the commit use case.
// Guard order: variation exists, status is committable, baseline is
// current, every requested phrase id is known. Phrases always apply in
// stream sequence order, whatever order the request listed them in.
func (uc *CommitVariationUseCase) Execute(ctx context.Context, input CommitVariationInput) (*CommitVariationOutput, error) {
	// Step 1: Fetch the variation.
	rec, ok := uc.variations.Get(input.VariationID)
	if !ok {
		return nil, apperrors.ErrVariationNotFoundf(input.VariationID)
	}

	// Step 2: Status guard. Only READY variations commit.
	if !rec.Status.CanCommit() {
		return nil, apperrors.Conflict(apperrors.CodeVariationNotCommittable,
			"variation is not in a committable state").
			WithParams(map[string]interface{}{
				"variation_id": rec.ID,
				"status":       rec.Status,
			})
	}

	conv, ok := uc.manager.Get(rec.ConversationID)
	if !ok {
		return nil, apperrors.NotFound(apperrors.CodeProjectNotFound,
			"conversation no longer exists").
			WithParams(map[string]interface{}{"conversation_id": rec.ConversationID})
	}

	// Step 3: An explicit base from the client must match the recorded
	// one.
	if input.BaseStateID != "" && input.BaseStateID != rec.BaseStateID {
		return nil, apperrors.ErrBaselineMismatchf(input.BaseStateID, conv.Store.GetStateID())
	}

	// Step 4: Select phrases, preserving stream order.
	accepted, err := selectPhrases(rec, input.PhraseIDs)
	if err != nil {
		return nil, err
	}

	// Step 5: Apply in one transaction. The baseline check runs with
	// the transaction already open: the store admits one transaction at
	// a time, so no concurrent commit can move the version between the
	// check and the apply.
	tx, err := conv.Store.Begin()
	if err != nil {
		return nil, err
	}
	if err := conv.Store.CheckStateID(rec.BaseStateID); err != nil {
		tx.Rollback()
		return nil, err
	}
	adoptions := stageCommit(tx, conv.Store, accepted)
	if err := tx.Commit(); err != nil {
		uc.markFailed(rec.ID, err)
		return nil, fmt.Errorf("apply variation %s: %w", rec.ID, err)
	}
	newStateID := conv.Store.GetStateID()

	// Step 6: Regions minted during generation become registry entities
	// now that their state exists.
	for _, a := range adoptions {
		if _, err := conv.Registry.Adopt(a.regionID, domain.EntityRegion, a.name, a.trackID); err != nil {
			logger.Warn("adopt committed region",
				zap.String("variation_id", rec.ID),
				zap.String("region_id", a.regionID),
				zap.Error(err),
			)
		}
	}

	// Step 7: Record the result and close out the state machine.
	appliedIDs := make([]string, 0, len(accepted))
	for _, p := range accepted {
		appliedIDs = append(appliedIDs, p.ID)
	}
	if err := uc.variations.SetCommitResult(rec.ID, appliedIDs, newStateID); err != nil {
		logger.Warn("record commit result", zap.String("variation_id", rec.ID), zap.Error(err))
	}
	if err := uc.variations.UpdateStatus(rec.ID, domain.VariationCommitted); err != nil {
		logger.Warn("mark variation committed", zap.String("variation_id", rec.ID), zap.Error(err))
	}

	uc.dispatchCommitted(ctx, rec, newStateID, len(appliedIDs), input.UserID)

	added, removed, modified := countNoteChanges(accepted)
	out := &CommitVariationOutput{
		VariationID:      rec.ID,
		Status:           string(domain.VariationCommitted),
		NewStateID:       newStateID,
		AppliedPhraseIDs: appliedIDs,
		UndoLabel:        "Maestro: " + rec.Intent,
		NotesAdded:       added,
		NotesRemoved:     removed,
		NotesModified:    modified,
		UpdatedRegions:   collectUpdatedRegions(conv.Store, accepted),
	}

	logger.Info("variation committed",
		zap.String("variation_id", rec.ID),
		zap.String("project_id", rec.ProjectID),
		zap.String("new_state_id", newStateID),
		zap.Int("phrases", len(appliedIDs)),
		zap.Int("notes_added", added),
		zap.Int("notes_removed", removed),
		zap.Int("notes_modified", modified),
	)
	return out, nil
}

// selectPhrases returns the accepted phrases in stream sequence order.
// Unknown ids reject the whole commit.
func selectPhrases(rec *domain.Variation, phraseIDs []string) ([]domain.Phrase, error) {
	if len(phraseIDs) == 0 {
		return rec.Phrases, nil
	}
	want := make(map[string]bool, len(phraseIDs))
	for _, id := range phraseIDs {
		want[id] = false
	}
	var accepted []domain.Phrase
	for _, p := range rec.Phrases {
		if _, requested := want[p.ID]; requested {
			want[p.ID] = true
			accepted = append(accepted, p)
		}
	}
	for id, found := range want {
		if !found {
			return nil, apperrors.BadRequest(apperrors.CodeUnknownPhrase,
				"phrase does not belong to this variation").
				WithParams(map[string]interface{}{
					"variation_id": rec.ID,
					"phrase_id":    id,
				})
		}
	}
	return accepted, nil
}

// markFailed records an apply error on the variation and closes out
// the state machine. The transaction already rolled back, so project
// state is untouched; only the variation record changes.
func (uc *CommitVariationUseCase) markFailed(variationID string, applyErr error) {
	verr := &domain.VariationError{
		Code:    apperrors.CodeCommitFailed,
		Message: applyErr.Error(),
	}
	if appErr, ok := apperrors.IsAppError(applyErr); ok {
		verr.Code = appErr.Code
	}
	if err := uc.variations.SetError(variationID, verr); err != nil {
		logger.Warn("record apply error", zap.String("variation_id", variationID), zap.Error(err))
		return
	}
	if err := uc.variations.UpdateStatus(variationID, domain.VariationFailed); err != nil {
		logger.Warn("mark variation failed", zap.String("variation_id", variationID), zap.Error(err))
	}
}

type regionAdoption struct {
	regionID string
	trackID  string
	name     string
}

// stageCommit stages every accepted phrase onto the open transaction
// and returns the regions that will need registry adoption once the
// transaction lands. Within a phrase: region geometry, then notes, then
// controllers.
func stageCommit(tx *state.Tx, store *state.StateStore, accepted []domain.Phrase) []regionAdoption {
	var adoptions []regionAdoption
	staged := make(map[string]bool)

	for _, p := range accepted {
		if p.TempoChange != nil {
			tx.SetTempo(p.TempoChange.ToBPM)
		}
		if p.KeyChange != nil {
			tx.SetKey(p.KeyChange.ToKey)
		}
		if p.LevelsChange != nil && p.TrackID != "" {
			tx.SetTrackVolume(p.TrackID, p.LevelsChange.To.Volume)
			tx.SetTrackPan(p.TrackID, p.LevelsChange.To.Pan)
		}
		if p.RegionID == "" {
			continue
		}

		if _, exists := store.RegionState(p.RegionID); !exists && !staged[p.RegionID] {
			tx.UpsertRegion(p.RegionID, p.TrackID, domain.RegionGeometry{
				Name:          p.RegionName,
				StartBeat:     p.StartBeat,
				DurationBeats: p.DurationBeats,
			})
			staged[p.RegionID] = true
			adoptions = append(adoptions, regionAdoption{
				regionID: p.RegionID,
				trackID:  p.TrackID,
				name:     p.RegionName,
			})
		}

		var added, modified []domain.Note
		var removed []string
		for _, nc := range p.NoteChanges {
			switch nc.Type {
			case domain.ChangeAdded:
				added = append(added, nc.Note)
			case domain.ChangeRemoved:
				removed = append(removed, nc.Note.ID)
			case domain.ChangeModified:
				modified = append(modified, nc.Note)
			}
		}
		if len(added) > 0 {
			tx.AddNotes(p.RegionID, added)
		}
		if len(removed) > 0 {
			tx.RemoveNotes(p.RegionID, removed)
		}
		if len(modified) > 0 {
			tx.UpdateNotes(p.RegionID, modified)
		}

		var ctrls []domain.ControllerEvent
		for _, cc := range p.CtrlChanges {
			if cc.Type == domain.ChangeAdded {
				ctrls = append(ctrls, cc.Event)
			}
		}
		if len(ctrls) > 0 {
			tx.AddControllerEvents(p.RegionID, ctrls)
		}
	}
	return adoptions
}

func countNoteChanges(accepted []domain.Phrase) (added, removed, modified int) {
	for _, p := range accepted {
		for _, nc := range p.NoteChanges {
			switch nc.Type {
			case domain.ChangeAdded:
				added++
			case domain.ChangeRemoved:
				removed++
			case domain.ChangeModified:
				modified++
			}
		}
	}
	return added, removed, modified
}

// collectUpdatedRegions reads back post-commit contents of every region
// the accepted phrases touched, in first-touch order.
func collectUpdatedRegions(store *state.StateStore, accepted []domain.Phrase) []CommittedRegion {
	seen := make(map[string]bool)
	var out []CommittedRegion
	for _, p := range accepted {
		if p.RegionID == "" || seen[p.RegionID] {
			continue
		}
		seen[p.RegionID] = true
		rs, ok := store.RegionState(p.RegionID)
		if !ok {
			continue
		}
		out = append(out, CommittedRegion{
			RegionID:      rs.ID,
			RegionName:    rs.Geometry.Name,
			TrackID:       rs.TrackID,
			StartBeat:     rs.Geometry.StartBeat,
			DurationBeats: rs.Geometry.DurationBeats,
			Notes:         rs.Notes,
			Controllers:   rs.Controllers,
		})
	}
	return out
}

func (uc *CommitVariationUseCase) dispatchCommitted(ctx context.Context, rec *domain.Variation, newStateID string, phraseCount int, actor string) {
	if uc.dispatcher == nil {
		return
	}
	payload, err := domain.VariationEventPayload{
		VariationID:    rec.ID,
		ProjectID:      rec.ProjectID,
		ConversationID: rec.ConversationID,
		NewStateID:     newStateID,
		PhraseCount:    phraseCount,
		Actor:          actor,
	}.ToJSON()
	if err != nil {
		logger.Warn("marshal commit event payload", zap.String("variation_id", rec.ID), zap.Error(err))
		return
	}
	_ = uc.dispatcher.Dispatch(ctx, &domain.DomainEvent{
		EventID:       newEventID(),
		EventType:     domain.EventVariationCommitted,
		AggregateType: "variation",
		AggregateID:   rec.ID,
		Payload:       payload,
		Status:        domain.EventStatusCompleted,
		CreatedBy:     actor,
		CreatedAt:     time.Now().UTC(),
	})
}

// newEventID generates a unique UUID v7 (time-ordered, K-sortable).
func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
