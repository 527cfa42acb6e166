package generation

import (
	"context"
	"sync"
)

// Tasks tracks the cancellable context of every in-flight generation,
// keyed by variation id. Discard and shutdown cancel through here.
type Tasks struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewTasks creates an empty task registry.
func NewTasks() *Tasks {
	return &Tasks{cancels: make(map[string]context.CancelFunc)}
}

// Register derives a cancellable context for a variation's generation.
func (t *Tasks) Register(variationID string, parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	t.mu.Lock()
	t.cancels[variationID] = cancel
	t.mu.Unlock()
	return ctx, cancel
}

// Cancel stops a variation's generation if it is still registered.
func (t *Tasks) Cancel(variationID string) bool {
	t.mu.Lock()
	cancel, ok := t.cancels[variationID]
	if ok {
		delete(t.cancels, variationID)
	}
	t.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Remove forgets a finished task without cancelling it.
func (t *Tasks) Remove(variationID string) {
	t.mu.Lock()
	cancel, ok := t.cancels[variationID]
	if ok {
		delete(t.cancels, variationID)
	}
	t.mu.Unlock()
	if ok {
		// Release the context's resources; the task already finished.
		cancel()
	}
}

// CancelAll stops every in-flight generation. Used at shutdown.
func (t *Tasks) CancelAll() {
	t.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(t.cancels))
	for id, cancel := range t.cancels {
		cancels = append(cancels, cancel)
		delete(t.cancels, id)
	}
	t.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// Len reports how many generations are in flight.
func (t *Tasks) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.cancels)
}
