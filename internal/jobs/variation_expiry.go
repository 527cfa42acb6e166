package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"musehub.io/musehub/internal/domain"
	"musehub.io/musehub/internal/pkg/logger"
	"musehub.io/musehub/internal/variation"
)

// DefaultVariationSweepInterval is the baseline period for the expiry
// sweep when config leaves it unset.
const DefaultVariationSweepInterval = time.Minute

// VariationExpiryArgs is a periodic maintenance job that expires
// variations past their deadline.
type VariationExpiryArgs struct{}

// Kind returns the job kind identifier for the periodic expiry sweep.
func (VariationExpiryArgs) Kind() string { return "variation_expiry" }

// InsertOpts ensures at most one sweep is enqueued per period.
func (VariationExpiryArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       river.QueueDefault,
		MaxAttempts: 1,
		UniqueOpts: river.UniqueOpts{
			ByPeriod: DefaultVariationSweepInterval,
			ByQueue:  true,
			ByArgs:   true,
		},
	}
}

// VariationExpiryWorker expires non-terminal variations whose TTL has
// passed and terminates their streams.
type VariationExpiryWorker struct {
	river.WorkerDefaults[VariationExpiryArgs]
	variations  *variation.Store
	broadcaster *variation.Broadcaster
}

// NewVariationExpiryWorker creates the sweep worker.
func NewVariationExpiryWorker(store *variation.Store, broadcaster *variation.Broadcaster) *VariationExpiryWorker {
	return &VariationExpiryWorker{
		variations:  store,
		broadcaster: broadcaster,
	}
}

// Work runs one sweep.
func (w *VariationExpiryWorker) Work(ctx context.Context, _ *river.Job[VariationExpiryArgs]) error {
	if w == nil || w.variations == nil {
		return fmt.Errorf("variation expiry worker is not initialized")
	}
	expired := w.Sweep(time.Now())
	if len(expired) > 0 {
		logger.Info("variation expiry sweep completed",
			zap.Int("expired", len(expired)),
		)
	}
	return nil
}

// Sweep expires records past their deadline as of now and ends their
// streams with an error envelope followed by the terminal done. Streams
// that already ended drop the publish; the record status is what
// polling clients see. Records the cleanup dropped release their stream
// history too, so broadcaster memory stays bounded by the record TTL.
func (w *VariationExpiryWorker) Sweep(now time.Time) []string {
	expired, dropped := w.variations.CleanupExpired(now)
	if w.broadcaster == nil {
		return expired
	}
	for _, id := range dropped {
		w.broadcaster.DropHistory(id)
	}
	for _, id := range expired {
		seq := w.broadcaster.LastSequence(id) + 1
		env, err := domain.NewErrorEnvelope(id, seq, domain.VariationError{
			Code:    "VARIATION_EXPIRED",
			Message: "variation expired before it was committed",
		})
		if err != nil {
			logger.Warn("build expiry envelope failed",
				zap.String("variation_id", id),
				zap.Error(err),
			)
		} else {
			w.broadcaster.Publish(env)
		}

		summary := domain.DoneSummary{Status: domain.VariationExpired}
		if rec, ok := w.variations.Get(id); ok {
			summary.PhraseCount = len(rec.Phrases)
			for _, p := range rec.Phrases {
				summary.NoteChangeTotal += len(p.NoteChanges)
			}
		}
		if env, err := domain.NewDoneEnvelope(id, seq+1, summary); err == nil {
			w.broadcaster.Publish(env)
		}
		w.broadcaster.CloseStream(id)
	}
	return expired
}

// RunSweepLoop runs the sweep on a plain ticker for deployments without
// river (memory backend). Blocks until ctx is done.
func (w *VariationExpiryWorker) RunSweepLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultVariationSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if expired := w.Sweep(now); len(expired) > 0 {
				logger.Info("variation expiry sweep completed",
					zap.Int("expired", len(expired)),
				)
			}
		}
	}
}
