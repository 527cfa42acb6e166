package provider

import (
	"context"
	"sync"

	apperrors "musehub.io/musehub/internal/pkg/errors"
)

// BudgetService meters generation work per user. Charge is called
// before any planning happens; Refund returns units when a proposal
// fails before streaming anything.
type BudgetService interface {
	Charge(ctx context.Context, userID string, units int) error
	Refund(ctx context.Context, userID string, units int)
}

// UnlimitedBudget never rejects a charge. Default when no billing
// backend is wired.
type UnlimitedBudget struct{}

func (UnlimitedBudget) Charge(context.Context, string, int) error { return nil }
func (UnlimitedBudget) Refund(context.Context, string, int)       {}

// MeteredBudget tracks a fixed per-user allowance in memory. Used by
// tests and the dev bootstrap to exercise the exhaustion path.
type MeteredBudget struct {
	mu        sync.Mutex
	allowance int
	remaining map[string]int
}

// NewMeteredBudget grants each user the given allowance on first charge.
func NewMeteredBudget(allowance int) *MeteredBudget {
	return &MeteredBudget{allowance: allowance, remaining: make(map[string]int)}
}

func (b *MeteredBudget) Charge(_ context.Context, userID string, units int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	rem, ok := b.remaining[userID]
	if !ok {
		rem = b.allowance
	}
	if rem < units {
		return apperrors.PaymentRequired(apperrors.CodeBudgetExhausted,
			"generation budget exhausted").
			WithParams(map[string]interface{}{"remaining": rem, "requested": units})
	}
	b.remaining[userID] = rem - units
	return nil
}

func (b *MeteredBudget) Refund(_ context.Context, userID string, units int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rem, ok := b.remaining[userID]
	if !ok {
		return
	}
	rem += units
	if rem > b.allowance {
		rem = b.allowance
	}
	b.remaining[userID] = rem
}

// Remaining reports a user's unspent units.
func (b *MeteredBudget) Remaining(userID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rem, ok := b.remaining[userID]; ok {
		return rem
	}
	return b.allowance
}
