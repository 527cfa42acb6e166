package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "musehub.io/musehub/internal/pkg/errors"
)

func TestMeteredBudget_ChargeAndRefund(t *testing.T) {
	ctx := context.Background()
	b := NewMeteredBudget(3)

	require.NoError(t, b.Charge(ctx, "alice", 1))
	require.NoError(t, b.Charge(ctx, "alice", 2))
	assert.Equal(t, 0, b.Remaining("alice"))

	err := b.Charge(ctx, "alice", 1)
	require.Error(t, err)
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeBudgetExhausted, appErr.Code)
	assert.Equal(t, 402, appErr.HTTPStatus)

	// Other users have their own allowance.
	require.NoError(t, b.Charge(ctx, "bob", 3))

	b.Refund(ctx, "alice", 1)
	assert.Equal(t, 1, b.Remaining("alice"))
	require.NoError(t, b.Charge(ctx, "alice", 1))

	// Refund never exceeds the allowance.
	b.Refund(ctx, "alice", 100)
	assert.Equal(t, 3, b.Remaining("alice"))
}

func TestUnlimitedBudget(t *testing.T) {
	ctx := context.Background()
	var b BudgetService = UnlimitedBudget{}
	assert.NoError(t, b.Charge(ctx, "anyone", 1<<20))
	b.Refund(ctx, "anyone", 1)
}
