package jobs

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"musehub.io/musehub/internal/domain"
	"musehub.io/musehub/internal/pkg/logger"
	"musehub.io/musehub/internal/variation"
)

func init() {
	// Initialize logger for tests
	_ = logger.Init("error", "json")
}

func TestVariationExpiryArgsKind(t *testing.T) {
	t.Parallel()

	if got := (VariationExpiryArgs{}).Kind(); got != "variation_expiry" {
		t.Fatalf("Kind() = %q, want %q", got, "variation_expiry")
	}
}

func TestVariationExpiryWorkerWork_Uninitialized(t *testing.T) {
	t.Parallel()

	var w *VariationExpiryWorker
	err := w.Work(context.Background(), nil)
	if err == nil || !strings.Contains(err.Error(), "not initialized") {
		t.Fatalf("Work() error = %v, want contains %q", err, "not initialized")
	}
}

func TestVariationExpiryWorkerSweep(t *testing.T) {
	t.Parallel()

	store := variation.NewStore(time.Hour)
	broadcaster := variation.NewBroadcaster(8)

	rec := &domain.Variation{
		ID:             "var-1",
		ConversationID: "conv-1",
		ProjectID:      "proj-1",
		Intent:         "slower outro",
		BaseStateID:    "3",
	}
	if err := store.Create(rec); err != nil {
		t.Fatalf("Create() = %v", err)
	}
	if err := store.UpdateStatus("var-1", domain.VariationStreaming); err != nil {
		t.Fatalf("UpdateStatus() = %v", err)
	}

	meta, err := domain.NewMetaEnvelope("var-1", 1, domain.VariationMeta{BaseStateID: "3", Intent: "slower outro"})
	if err != nil {
		t.Fatalf("NewMetaEnvelope() = %v", err)
	}
	broadcaster.Publish(meta)

	ch, cancel := broadcaster.Subscribe("var-1", 2)
	defer cancel()

	w := NewVariationExpiryWorker(store, broadcaster)
	expired := w.Sweep(time.Now().Add(2 * time.Hour))
	if len(expired) != 1 || expired[0] != "var-1" {
		t.Fatalf("Sweep() = %v, want [var-1]", expired)
	}

	got, ok := store.Get("var-1")
	if !ok || got.Status != domain.VariationExpired {
		t.Fatalf("record after sweep = %+v, want EXPIRED", got)
	}

	// The live subscriber sees the error, the terminal done carrying the
	// expired status, and then the close.
	select {
	case env := <-ch:
		if env.Type != domain.EnvelopeError || env.Sequence != 2 {
			t.Fatalf("envelope = %+v, want error at sequence 2", env)
		}
	case <-time.After(time.Second):
		t.Fatal("no error envelope received")
	}
	select {
	case env := <-ch:
		if env.Type != domain.EnvelopeDone || env.Sequence != 3 {
			t.Fatalf("envelope = %+v, want done at sequence 3", env)
		}
		var summary domain.DoneSummary
		if err := json.Unmarshal(env.Payload, &summary); err != nil {
			t.Fatalf("decode done summary: %v", err)
		}
		if summary.Status != domain.VariationExpired {
			t.Fatalf("done status = %s, want EXPIRED", summary.Status)
		}
	case <-time.After(time.Second):
		t.Fatal("no terminal done envelope received")
	}
	select {
	case _, open := <-ch:
		if open {
			t.Fatal("stream still open after expiry")
		}
	case <-time.After(time.Second):
		t.Fatal("stream not closed after expiry")
	}

	// Sweeping again finds nothing new; the now-terminal record is past
	// its deadline, so it is dropped along with its stream history.
	if again := w.Sweep(time.Now().Add(3 * time.Hour)); len(again) != 0 {
		t.Fatalf("second Sweep() = %v, want empty", again)
	}
	if _, ok := store.Get("var-1"); ok {
		t.Fatal("record survived the drop sweep")
	}
	if last := broadcaster.LastSequence("var-1"); last != 0 {
		t.Fatalf("stream history survived the drop sweep, last sequence %d", last)
	}
}

func TestVariationExpiryWorkerSweep_NoBroadcaster(t *testing.T) {
	t.Parallel()

	store := variation.NewStore(time.Hour)
	if err := store.Create(&domain.Variation{
		ID: "var-1", ConversationID: "c", ProjectID: "p", Intent: "i", BaseStateID: "1",
	}); err != nil {
		t.Fatalf("Create() = %v", err)
	}

	w := NewVariationExpiryWorker(store, nil)
	if expired := w.Sweep(time.Now().Add(2 * time.Hour)); len(expired) != 1 {
		t.Fatalf("Sweep() = %v, want one id", expired)
	}
}
