package jobs

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/riverqueue/river"

	"musehub.io/musehub/internal/domain"
	"musehub.io/musehub/internal/musehub/store/memory"
)

func TestActivityCleanupArgsKind(t *testing.T) {
	t.Parallel()

	if got := (ActivityCleanupArgs{}).Kind(); got != "activity_cleanup" {
		t.Fatalf("Kind() = %q, want %q", got, "activity_cleanup")
	}
}

func TestActivityCleanupArgsInsertOpts(t *testing.T) {
	t.Parallel()

	opts := (ActivityCleanupArgs{}).InsertOpts()
	if opts.Queue != river.QueueDefault {
		t.Fatalf("Queue = %q, want %q", opts.Queue, river.QueueDefault)
	}
	if opts.MaxAttempts != 1 {
		t.Fatalf("MaxAttempts = %d, want 1", opts.MaxAttempts)
	}
	if opts.UniqueOpts.ByPeriod != 24*time.Hour {
		t.Fatalf("UniqueOpts.ByPeriod = %s, want %s", opts.UniqueOpts.ByPeriod, 24*time.Hour)
	}
	if !opts.UniqueOpts.ByQueue {
		t.Fatal("UniqueOpts.ByQueue = false, want true")
	}
	if !opts.UniqueOpts.ByArgs {
		t.Fatal("UniqueOpts.ByArgs = false, want true")
	}
}

func TestNewActivityCleanupWorkerRetention(t *testing.T) {
	t.Parallel()

	t.Run("defaults to ninety days when non-positive", func(t *testing.T) {
		w := NewActivityCleanupWorker(nil, 0)
		if w.retention != DefaultActivityRetention {
			t.Fatalf("retention = %s, want %s", w.retention, DefaultActivityRetention)
		}
	})

	t.Run("uses explicit retention when provided", func(t *testing.T) {
		want := 7 * 24 * time.Hour
		w := NewActivityCleanupWorker(nil, want)
		if w.retention != want {
			t.Fatalf("retention = %s, want %s", w.retention, want)
		}
	})
}

func TestActivityCleanupWorkerWork_Uninitialized(t *testing.T) {
	t.Parallel()

	t.Run("nil receiver", func(t *testing.T) {
		var w *ActivityCleanupWorker
		err := w.Work(context.Background(), nil)
		if err == nil || !strings.Contains(err.Error(), "not initialized") {
			t.Fatalf("Work() error = %v, want contains %q", err, "not initialized")
		}
	})

	t.Run("nil store", func(t *testing.T) {
		w := NewActivityCleanupWorker(nil, time.Hour)
		err := w.Work(context.Background(), nil)
		if err == nil || !strings.Contains(err.Error(), "not initialized") {
			t.Fatalf("Work() error = %v, want contains %q", err, "not initialized")
		}
	})
}

func TestActivityCleanupWorkerWork_DeletesOldRows(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := memory.New()
	now := time.Now().UTC()

	add := func(id string, age time.Duration) {
		if err := mem.AddActivity(ctx, &domain.ActivityEvent{
			ID:        id,
			RepoID:    "r1",
			Kind:      domain.ActivityPush,
			CreatedAt: now.Add(-age),
		}); err != nil {
			t.Fatalf("AddActivity(%s) = %v", id, err)
		}
	}
	add("stale", 10*24*time.Hour)
	add("fresh", time.Hour)

	w := NewActivityCleanupWorker(mem, 7*24*time.Hour)
	if err := w.Work(ctx, nil); err != nil {
		t.Fatalf("Work() = %v", err)
	}

	feed, err := mem.ListActivity(ctx, "r1", 0)
	if err != nil {
		t.Fatalf("ListActivity() = %v", err)
	}
	if len(feed) != 1 || feed[0].ID != "fresh" {
		t.Fatalf("feed after cleanup = %+v, want only the fresh row", feed)
	}
}
