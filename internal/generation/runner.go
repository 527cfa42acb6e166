package generation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"musehub.io/musehub/internal/domain"
	apperrors "musehub.io/musehub/internal/pkg/errors"
	"musehub.io/musehub/internal/pkg/logger"
	"musehub.io/musehub/internal/pkg/worker"
	"musehub.io/musehub/internal/provider"
	"musehub.io/musehub/internal/state"
	"musehub.io/musehub/internal/variation"
)

// Runner drives one variation generation from plan to READY: it calls
// the planner, executes the plan in three phases against a working
// copy, diffs the result into phrases, and streams envelopes through
// the broadcaster.
type Runner struct {
	Variations  *variation.Store
	Broadcaster *variation.Broadcaster
	Planner     provider.Planner
	Adapter     provider.DAWAdapter
	Budget      provider.BudgetService
	Pools       *worker.Pools
	ToolTimeout time.Duration
}

// RunInput is everything one generation needs. Snapshot and Registry
// are captured at propose time; the live store is never touched here.
type RunInput struct {
	VariationID  string
	UserID       string
	ChargedUnits int
	Snapshot     state.SnapshotBundle
	Registry     *state.EntityRegistry
	PlanRequest  provider.PlanRequest
}

type instrumentGroup struct {
	key   string
	calls []provider.ToolCall
}

type phasedPlan struct {
	setup  []provider.ToolCall
	groups []instrumentGroup
	mixing []provider.ToolCall
}

// Run executes one generation. It is launched on the general worker
// pool; ctx comes from the task registry so discard and shutdown can
// cancel it. Cancellation exits quietly: the discard path owns the
// terminal envelope in that case.
func (r *Runner) Run(ctx context.Context, in RunInput) {
	seq := domain.NewSequenceCounter()

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("generation panic",
				zap.String("variation_id", in.VariationID),
				zap.Any("panic", rec),
			)
			r.fail(in.VariationID, seq, apperrors.CodeGenerationFailed, "internal generation failure")
		}
	}()

	if err := r.Variations.UpdateStatus(in.VariationID, domain.VariationStreaming); err != nil {
		// Discarded or expired before the worker picked it up.
		logger.Info("generation skipped",
			zap.String("variation_id", in.VariationID),
			zap.Error(err),
		)
		return
	}

	plan, err := r.Planner.BuildPlan(ctx, in.PlanRequest)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		// Nothing streamed yet, so the charge is returned.
		r.Budget.Refund(context.Background(), in.UserID, in.ChargedUnits)
		r.publishMeta(in, seq, domain.VariationMeta{
			BaseStateID: in.Snapshot.StateID,
			Intent:      in.PlanRequest.Intent,
		})
		r.fail(in.VariationID, seq, apperrors.CodeGenerationFailed, "planner failed: "+err.Error())
		return
	}

	meta := domain.VariationMeta{
		BaseStateID: in.Snapshot.StateID,
		Intent:      in.PlanRequest.Intent,
		PlanSummary: plan.Explanation,
		Instruments: plan.Instruments(),
	}
	if err := r.Variations.SetMeta(in.VariationID, meta); err != nil {
		return
	}
	r.publishMeta(in, seq, meta)

	vctx := NewVariationContext(in.Snapshot, in.Registry)
	phased := r.partition(plan, vctx)

	if err := r.runPhases(ctx, vctx, phased); err != nil {
		if ctx.Err() != nil {
			return
		}
		r.fail(in.VariationID, seq, apperrors.CodeGenerationFailed, err.Error())
		return
	}

	failures := vctx.Failures()
	if vctx.Applied() == 0 && len(failures) > 0 {
		r.fail(in.VariationID, seq, apperrors.CodeGenerationFailed,
			fmt.Sprintf("all %d tool calls failed, first: %s", len(failures), failures[0].Reason))
		return
	}
	for _, f := range failures {
		logger.Warn("tool call skipped",
			zap.String("variation_id", in.VariationID),
			zap.String("tool", f.Tool),
			zap.String("reason", f.Reason),
		)
	}

	noteTotal := 0
	phrases := vctx.ComputeVariation()
	for i := range phrases {
		p := &phrases[i]
		p.ID = newNoteID()
		p.VariationID = in.VariationID
		p.Sequence = seq.Next()
		noteTotal += len(p.NoteChanges)

		if err := r.Variations.AppendPhrase(in.VariationID, *p); err != nil {
			// Discarded mid-stream.
			return
		}
		env, err := domain.NewPhraseEnvelope(in.VariationID, p.Sequence, *p)
		if err != nil {
			r.fail(in.VariationID, seq, apperrors.CodeGenerationFailed, "encode phrase: "+err.Error())
			return
		}
		r.Broadcaster.Publish(env)
	}

	if err := r.Variations.UpdateStatus(in.VariationID, domain.VariationReady); err != nil {
		return
	}
	summary := domain.DoneSummary{
		Status:          domain.VariationReady,
		PhraseCount:     len(phrases),
		NoteChangeTotal: noteTotal,
	}
	if env, err := domain.NewDoneEnvelope(in.VariationID, seq.Next(), summary); err == nil {
		r.Broadcaster.Publish(env)
	}
	r.Broadcaster.CloseStream(in.VariationID)

	logger.Info("variation ready",
		zap.String("variation_id", in.VariationID),
		zap.Int("phrases", len(phrases)),
		zap.Int("note_changes", noteTotal),
		zap.Int("failed_calls", len(failures)),
	)
}

// partition validates each call and splits the plan into phases.
// Calls that fail validation are recorded and skipped; the rest of the
// plan still runs.
func (r *Runner) partition(plan provider.ExecutionPlan, vctx *VariationContext) phasedPlan {
	var out phasedPlan
	groupIndex := make(map[string]int)

	for _, call := range plan.ToolCalls {
		if err := r.Adapter.ValidateCall(call); err != nil {
			vctx.RecordFailure(call, err)
			continue
		}
		phase, ok := r.Adapter.PhaseFor(call.Name)
		if !ok {
			vctx.RecordFailure(call, apperrors.Unprocessable(
				apperrors.CodeValidationFailed, "tool has no phase: "+call.Name))
			continue
		}
		switch phase {
		case provider.PhaseSetup:
			out.setup = append(out.setup, call)
		case provider.PhaseInstrument:
			key := strings.ToLower(strings.TrimSpace(call.Instrument))
			i, seen := groupIndex[key]
			if !seen {
				i = len(out.groups)
				groupIndex[key] = i
				out.groups = append(out.groups, instrumentGroup{key: key})
			}
			out.groups[i].calls = append(out.groups[i].calls, call)
		case provider.PhaseMixing:
			out.mixing = append(out.mixing, call)
		}
	}
	return out
}

// runPhases executes setup sequentially, instrument groups in parallel
// on the generation pool, then mixing sequentially. Only context
// errors propagate; individual tool failures are recorded and skipped.
func (r *Runner) runPhases(ctx context.Context, vctx *VariationContext, plan phasedPlan) error {
	for _, call := range plan.setup {
		if err := r.executeCall(ctx, vctx, call); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if len(plan.groups) > 0 {
		var wg sync.WaitGroup
		for i := range plan.groups {
			group := plan.groups[i]
			wg.Add(1)
			task := func(gctx context.Context) {
				defer wg.Done()
				for _, call := range group.calls {
					if err := r.executeCall(gctx, vctx, call); err != nil {
						return
					}
				}
			}
			if err := r.Pools.Generation.Submit(ctx, task); err != nil {
				// Pool rejected the group; run it inline.
				task(ctx)
			}
		}
		wg.Wait()
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	for _, call := range plan.mixing {
		if err := r.executeCall(ctx, vctx, call); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// executeCall runs one tool call under the per-call timeout. Tool
// errors are recorded in the context and do not stop the run; only
// cancellation of the run context propagates.
func (r *Runner) executeCall(ctx context.Context, vctx *VariationContext, call provider.ToolCall) error {
	timeout := r.ToolTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := vctx.ExecuteCall(callCtx, call); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Debug("tool call failed",
			zap.String("tool", call.Name),
			zap.String("instrument", call.Instrument),
			zap.Error(err),
		)
	}
	return nil
}

func (r *Runner) publishMeta(in RunInput, seq *domain.SequenceCounter, meta domain.VariationMeta) {
	env, err := domain.NewMetaEnvelope(in.VariationID, seq.Next(), meta)
	if err != nil {
		logger.Error("encode meta envelope",
			zap.String("variation_id", in.VariationID),
			zap.Error(err),
		)
		return
	}
	r.Broadcaster.Publish(env)
}

func (r *Runner) fail(variationID string, seq *domain.SequenceCounter, code, message string) {
	verr := domain.VariationError{Code: code, Message: message, Recoverable: false}
	if err := r.Variations.SetError(variationID, &verr); err != nil {
		return
	}
	_ = r.Variations.UpdateStatus(variationID, domain.VariationFailed)
	if env, err := domain.NewErrorEnvelope(variationID, seq.Next(), verr); err == nil {
		r.Broadcaster.Publish(env)
	}

	// The stream still ends with a done; on failure it follows the
	// error and its summary carries the failed status.
	summary := domain.DoneSummary{Status: domain.VariationFailed}
	if rec, ok := r.Variations.Get(variationID); ok {
		summary.PhraseCount = len(rec.Phrases)
		for _, p := range rec.Phrases {
			summary.NoteChangeTotal += len(p.NoteChanges)
		}
	}
	if env, err := domain.NewDoneEnvelope(variationID, seq.Next(), summary); err == nil {
		r.Broadcaster.Publish(env)
	}
	r.Broadcaster.CloseStream(variationID)
}
