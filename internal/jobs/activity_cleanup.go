package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"musehub.io/musehub/internal/musehub/store"
	"musehub.io/musehub/internal/pkg/logger"
)

// DefaultActivityRetention is the baseline for repo activity feed rows.
const DefaultActivityRetention = 90 * 24 * time.Hour

// ActivityCleanupArgs is a periodic maintenance job that removes old
// activity feed entries from the hub store.
type ActivityCleanupArgs struct{}

// Kind returns the job kind identifier for periodic activity cleanup.
func (ActivityCleanupArgs) Kind() string { return "activity_cleanup" }

// InsertOpts ensures at most one cleanup job is enqueued within the
// same day.
func (ActivityCleanupArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       river.QueueDefault,
		MaxAttempts: 1,
		UniqueOpts: river.UniqueOpts{
			ByPeriod: 24 * time.Hour,
			ByQueue:  true,
			ByArgs:   true,
		},
	}
}

// ActivityCleanupWorker deletes activity entries older than the
// configured retention duration.
type ActivityCleanupWorker struct {
	river.WorkerDefaults[ActivityCleanupArgs]
	store     store.Store
	retention time.Duration
}

// NewActivityCleanupWorker creates a cleanup worker. Non-positive
// retention falls back to the 90-day default.
func NewActivityCleanupWorker(st store.Store, retention time.Duration) *ActivityCleanupWorker {
	if retention <= 0 {
		retention = DefaultActivityRetention
	}
	return &ActivityCleanupWorker{
		store:     st,
		retention: retention,
	}
}

// Work removes expired activity rows.
func (w *ActivityCleanupWorker) Work(ctx context.Context, _ *river.Job[ActivityCleanupArgs]) error {
	if w == nil || w.store == nil {
		return fmt.Errorf("activity cleanup worker is not initialized")
	}

	cutoff := time.Now().UTC().Add(-w.retention)
	deleted, err := w.store.DeleteActivityBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("delete activity before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	logger.Info("activity cleanup completed",
		zap.Int64("deleted_rows", deleted),
		zap.String("cutoff", cutoff.Format(time.RFC3339)),
		zap.Duration("retention", w.retention),
	)
	return nil
}
