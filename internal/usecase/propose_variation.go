// Package usecase orchestrates Maestro's variation lifecycle: propose
// starts a generation, commit folds accepted phrases into project
// state, discard cancels and closes out. Use cases validate, guard,
// then delegate; streaming itself belongs to the generation runner.
package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"musehub.io/musehub/internal/domain"
	"musehub.io/musehub/internal/generation"
	apperrors "musehub.io/musehub/internal/pkg/errors"
	"musehub.io/musehub/internal/pkg/logger"
	"musehub.io/musehub/internal/pkg/worker"
	"musehub.io/musehub/internal/provider"
	"musehub.io/musehub/internal/state"
	"musehub.io/musehub/internal/variation"
)

// proposeChargeUnits is the budget cost of one generation run.
const proposeChargeUnits = 1

// ProposeVariationInput represents the input for proposing a variation.
type ProposeVariationInput struct {
	ProjectID      string            `json:"projectId"`
	ConversationID string            `json:"conversationId,omitempty"`
	Intent         string            `json:"intent"`
	TrackRefs      []string          `json:"tracks,omitempty"`
	RegionRefs     []string          `json:"regions,omitempty"`
	BaseStateID    string            `json:"baseStateId,omitempty"`
	Options        map[string]string `json:"options,omitempty"`
	UserID         string            `json:"-"`
}

// ProposeVariationOutput is the 202 Accepted body: where to stream and
// which state the proposal was cut against.
type ProposeVariationOutput struct {
	VariationID string `json:"variationId"`
	StreamURL   string `json:"streamUrl"`
	BaseStateID string `json:"baseStateId"`
	Status      string `json:"status"`
}

// ProposeVariationUseCase validates a proposal, charges the budget,
// snapshots project state, and hands the run to the generation pool.
// The HTTP reply returns before any phrase exists; everything after
// the snapshot happens on the worker.
type ProposeVariationUseCase struct {
	manager    *state.Manager
	variations *variation.Store
	runner     *generation.Runner
	tasks      *generation.Tasks
	budget     provider.BudgetService
	pools      *worker.Pools
	streamBase string
}

// NewProposeVariationUseCase creates a new ProposeVariationUseCase.
// streamBase is the URL prefix SSE clients connect to, for example
// "/api/v1/variation".
func NewProposeVariationUseCase(
	manager *state.Manager,
	variations *variation.Store,
	runner *generation.Runner,
	tasks *generation.Tasks,
	budget provider.BudgetService,
	pools *worker.Pools,
	streamBase string,
) *ProposeVariationUseCase {
	return &ProposeVariationUseCase{
		manager:    manager,
		variations: variations,
		runner:     runner,
		tasks:      tasks,
		budget:     budget,
		pools:      pools,
		streamBase: strings.TrimRight(streamBase, "/"),
	}
}

// Execute runs the propose use case.
// Guards run in order: conversation exists, focus refs resolve,
// baseline is current, budget allows the charge. Only then is the
// record created and the generation submitted.
func (uc *ProposeVariationUseCase) Execute(ctx context.Context, input ProposeVariationInput) (*ProposeVariationOutput, error) {
	// Step 1: Validate the request shape.
	intent := strings.TrimSpace(input.Intent)
	if intent == "" {
		return nil, apperrors.BadRequest(apperrors.CodeValidationFailed, "intent must not be empty")
	}
	if strings.TrimSpace(input.ProjectID) == "" {
		return nil, apperrors.BadRequest(apperrors.CodeValidationFailed, "projectId is required")
	}

	// Step 2: Locate the conversation. Propose never creates one; the
	// client must have synced the project first.
	conv, err := uc.lookupConversation(input.ProjectID, input.ConversationID)
	if err != nil {
		return nil, err
	}

	// Step 3: Resolve focus references before charging anything.
	// Ambiguity and misses surface here with candidates intact.
	focusTracks, err := resolveRefs(conv.Registry, domain.EntityTrack, input.TrackRefs)
	if err != nil {
		return nil, err
	}
	focusRegions, err := resolveRefs(conv.Registry, domain.EntityRegion, input.RegionRefs)
	if err != nil {
		return nil, err
	}

	// Step 4: Baseline guard. A stale explicit base fails before any
	// budget is spent or record created.
	if err := conv.Store.CheckStateID(input.BaseStateID); err != nil {
		return nil, err
	}

	// Step 5: Charge the budget. 402 propagates untouched.
	if err := uc.budget.Charge(ctx, input.UserID, proposeChargeUnits); err != nil {
		return nil, err
	}

	// Step 6: Snapshot the state the generation will work against.
	// The snapshot's state id is the authoritative baseline from here on.
	snapshot := conv.Store.Snapshot()

	variationID, err := newVariationID()
	if err != nil {
		uc.budget.Refund(ctx, input.UserID, proposeChargeUnits)
		return nil, err
	}

	record := &domain.Variation{
		ID:             variationID,
		ConversationID: conv.ID,
		ProjectID:      conv.ProjectID,
		UserID:         input.UserID,
		Intent:         intent,
		BaseStateID:    snapshot.StateID,
		Status:         domain.VariationCreated,
	}
	if err := uc.variations.Create(record); err != nil {
		uc.budget.Refund(ctx, input.UserID, proposeChargeUnits)
		return nil, fmt.Errorf("create variation record: %w", err)
	}

	runInput := generation.RunInput{
		VariationID:  variationID,
		UserID:       input.UserID,
		ChargedUnits: proposeChargeUnits,
		Snapshot:     snapshot,
		Registry:     conv.Registry,
		PlanRequest:  buildPlanRequest(snapshot, intent, focusTracks, focusRegions, input.Options),
	}

	// Step 7: Submit detached from the request context. The run outlives
	// this HTTP exchange; discard and shutdown cancel it via the task
	// registry.
	submitErr := uc.pools.SubmitDetached("general", func(serviceCtx context.Context) {
		runCtx, _ := uc.tasks.Register(variationID, serviceCtx)
		defer uc.tasks.Remove(variationID)
		uc.runner.Run(runCtx, runInput)
	})
	if submitErr != nil {
		uc.variations.Delete(variationID)
		uc.budget.Refund(ctx, input.UserID, proposeChargeUnits)
		return nil, apperrors.ServiceUnavailable(apperrors.CodeShuttingDown,
			"generation workers are not accepting new variations")
	}

	logger.Info("variation proposed",
		zap.String("variation_id", variationID),
		zap.String("project_id", conv.ProjectID),
		zap.String("conversation_id", conv.ID),
		zap.String("base_state_id", snapshot.StateID),
		zap.Int("focus_tracks", len(focusTracks)),
		zap.Int("focus_regions", len(focusRegions)),
	)

	return &ProposeVariationOutput{
		VariationID: variationID,
		StreamURL:   fmt.Sprintf("%s/%s/stream", uc.streamBase, variationID),
		BaseStateID: snapshot.StateID,
		Status:      string(domain.VariationCreated),
	}, nil
}

func (uc *ProposeVariationUseCase) lookupConversation(projectID, conversationID string) (*state.Conversation, error) {
	if conversationID != "" {
		conv, ok := uc.manager.Get(conversationID)
		if !ok {
			return nil, apperrors.NotFound(apperrors.CodeProjectNotFound,
				"conversation not found, sync the project first").
				WithParams(map[string]interface{}{"conversation_id": conversationID})
		}
		if conv.ProjectID != projectID {
			return nil, apperrors.Conflict(apperrors.CodeValidationFailed,
				"conversation is bound to a different project").
				WithParams(map[string]interface{}{
					"conversation_id": conversationID,
					"bound_project":   conv.ProjectID,
				})
		}
		return conv, nil
	}
	conv, ok := uc.manager.ForProject(projectID)
	if !ok {
		return nil, apperrors.NotFound(apperrors.CodeProjectNotFound,
			"project has no synced state, sync it first").
			WithParams(map[string]interface{}{"project_id": projectID})
	}
	return conv, nil
}

// resolveRefs maps user-supplied refs to entity ids, deduplicating
// while preserving first-mention order.
func resolveRefs(registry *state.EntityRegistry, kind domain.EntityKind, refs []string) ([]string, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	seen := make(map[string]struct{}, len(refs))
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		e, err := registry.Resolve(kind, ref)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[e.ID]; dup {
			continue
		}
		seen[e.ID] = struct{}{}
		ids = append(ids, e.ID)
	}
	return ids, nil
}

// buildPlanRequest flattens the snapshot into the planner's view of the
// project: tracks with region geometry and note counts, never raw notes.
func buildPlanRequest(
	snapshot state.SnapshotBundle,
	intent string,
	focusTracks, focusRegions []string,
	options map[string]string,
) provider.PlanRequest {
	regionsByTrack := make(map[string][]provider.RegionContext)
	for _, regionID := range snapshot.SortedRegionIDs() {
		r := snapshot.Regions[regionID]
		regionsByTrack[r.TrackID] = append(regionsByTrack[r.TrackID], provider.RegionContext{
			ID:            r.ID,
			Name:          r.Geometry.Name,
			StartBeat:     r.Geometry.StartBeat,
			DurationBeats: r.Geometry.DurationBeats,
			NoteCount:     len(r.Notes),
		})
	}

	trackIDs := make([]string, 0, len(snapshot.Tracks))
	for id := range snapshot.Tracks {
		trackIDs = append(trackIDs, id)
	}
	sort.Strings(trackIDs)

	tracks := make([]provider.TrackContext, 0, len(trackIDs))
	for _, id := range trackIDs {
		t := snapshot.Tracks[id]
		tracks = append(tracks, provider.TrackContext{
			ID:      t.ID,
			Name:    t.Name,
			Volume:  t.Levels.Volume,
			Pan:     t.Levels.Pan,
			Regions: regionsByTrack[id],
		})
	}

	return provider.PlanRequest{
		ProjectID:      snapshot.ProjectID,
		ConversationID: snapshot.ConversationID,
		Intent:         intent,
		Tempo:          snapshot.Tempo,
		Key:            snapshot.Key,
		Tracks:         tracks,
		FocusTrackIDs:  focusTracks,
		FocusRegionIDs: focusRegions,
		Options:        options,
	}
}

func newVariationID() (string, error) {
	uid, err := uuid.NewV7()
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeInternal, "generate variation id", 500)
	}
	return uid.String(), nil
}
