package usecase

import (
	"context"

	"go.uber.org/zap"

	"musehub.io/musehub/internal/domain"
	"musehub.io/musehub/internal/generation"
	apperrors "musehub.io/musehub/internal/pkg/errors"
	"musehub.io/musehub/internal/pkg/logger"
	"musehub.io/musehub/internal/provider"
	"musehub.io/musehub/internal/variation"
)

// DiscardVariationInput represents the input for discarding a variation.
type DiscardVariationInput struct {
	VariationID string `json:"-"`
	UserID      string `json:"-"`
}

// DiscardVariationOutput represents the output of a discarded variation.
type DiscardVariationOutput struct {
	VariationID string `json:"variationId"`
	Status      string `json:"status"`
	Refunded    bool   `json:"refunded"`
}

// DiscardVariationUseCase cancels an in-flight generation (if any),
// marks the variation DISCARDED, and closes its stream with a final
// done envelope. Discarding an already discarded variation is a no-op
// success; any other terminal state conflicts.
type DiscardVariationUseCase struct {
	variations  *variation.Store
	broadcaster *variation.Broadcaster
	tasks       *generation.Tasks
	budget      provider.BudgetService
}

// NewDiscardVariationUseCase creates a new DiscardVariationUseCase.
func NewDiscardVariationUseCase(
	variations *variation.Store,
	broadcaster *variation.Broadcaster,
	tasks *generation.Tasks,
	budget provider.BudgetService,
) *DiscardVariationUseCase {
	return &DiscardVariationUseCase{
		variations:  variations,
		broadcaster: broadcaster,
		tasks:       tasks,
		budget:      budget,
	}
}

// Execute runs the discard use case.
func (uc *DiscardVariationUseCase) Execute(ctx context.Context, input DiscardVariationInput) (*DiscardVariationOutput, error) {
	// Step 1: Fetch the variation.
	rec, ok := uc.variations.Get(input.VariationID)
	if !ok {
		return nil, apperrors.ErrVariationNotFoundf(input.VariationID)
	}

	// Step 2: Idempotency and terminal guards.
	if rec.Status == domain.VariationDiscarded {
		return &DiscardVariationOutput{
			VariationID: rec.ID,
			Status:      string(domain.VariationDiscarded),
		}, nil
	}
	if rec.Status.IsTerminal() {
		return nil, apperrors.Conflict(apperrors.CodeInvalidTransition,
			"variation already reached a terminal state").
			WithParams(map[string]interface{}{
				"variation_id": rec.ID,
				"status":       rec.Status,
			})
	}

	// Step 3: Stop the generation before touching the record so no new
	// phrases land after the status flips.
	cancelled := uc.tasks.Cancel(rec.ID)

	if err := uc.variations.UpdateStatus(rec.ID, domain.VariationDiscarded); err != nil {
		return nil, err
	}

	// Step 4: Close the stream with a final done envelope so attached
	// subscribers learn the outcome instead of seeing a bare EOF.
	noteTotal := 0
	for _, p := range rec.Phrases {
		noteTotal += len(p.NoteChanges)
	}
	summary := domain.DoneSummary{
		Status:          domain.VariationDiscarded,
		PhraseCount:     len(rec.Phrases),
		NoteChangeTotal: noteTotal,
	}
	seq := uc.broadcaster.LastSequence(rec.ID) + 1
	if env, err := domain.NewDoneEnvelope(rec.ID, seq, summary); err == nil {
		uc.broadcaster.Publish(env)
	}
	uc.broadcaster.CloseStream(rec.ID)

	// Step 5: A discard that produced nothing returns the charge.
	refunded := false
	if len(rec.Phrases) == 0 {
		uc.budget.Refund(ctx, rec.UserID, proposeChargeUnits)
		refunded = true
	}

	logger.Info("variation discarded",
		zap.String("variation_id", rec.ID),
		zap.String("project_id", rec.ProjectID),
		zap.Bool("generation_cancelled", cancelled),
		zap.Int("phrases_streamed", len(rec.Phrases)),
		zap.Bool("refunded", refunded),
	)

	return &DiscardVariationOutput{
		VariationID: rec.ID,
		Status:      string(domain.VariationDiscarded),
		Refunded:    refunded,
	}, nil
}
