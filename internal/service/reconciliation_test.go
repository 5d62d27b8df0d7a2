package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmastock/backend/internal/domain"
	"pharmastock/backend/internal/store"
)

func TestApplyCountSummarisesVariance(t *testing.T) {
	f := newTestService(t)
	ctx := context.Background()

	summary, err := f.svc.ApplyCount(ctx, staff, ikeja, domain.StockCountRequest{
		Counts: map[string]int{
			"prod-paracetamol": 118,
			"prod-vitc":        63,
			"prod-ors":         100,
			"prod-bandage":     35,
		},
		Reason: "quarter end",
	})
	require.NoError(t, err)

	assert.Equal(t, 120+60+200+35, summary.TotalItems)
	assert.Equal(t, 3, summary.ExcessCount)
	assert.Equal(t, "8400", summary.ExcessValue.String())
	assert.Equal(t, 102, summary.ShortageCount)
	assert.Equal(t, "36800", summary.ShortageValue.String())
	require.Len(t, summary.PendingApprovalIDs, 1)
	require.Len(t, summary.Lines, 4)

	assert.Equal(t, "prod-bandage", summary.Lines[0].ProductID)
	assert.Zero(t, summary.Lines[0].Delta)
	assert.Equal(t, "prod-ors", summary.Lines[1].ProductID)
	assert.Equal(t, domain.OutcomePendingApproval, summary.Lines[1].Outcome)
	assert.Equal(t, summary.PendingApprovalIDs[0], summary.Lines[1].ApprovalID)
	assert.Equal(t, "-35000", summary.Lines[1].ValueImpact.String())

	assert.Equal(t, 118, quantity(t, f, ikeja, "prod-paracetamol"))
	assert.Equal(t, 63, quantity(t, f, ikeja, "prod-vitc"))
	assert.Equal(t, 200, quantity(t, f, ikeja, "prod-ors"))

	moves, err := f.svc.ListMovements(ctx, domain.MovementFilter{BranchID: ikeja})
	require.NoError(t, err)
	require.Len(t, moves, 2)
	for _, mv := range moves {
		assert.Equal(t, domain.ReasonStockTaking, mv.ReasonCode)
		assert.Equal(t, "quarter end", mv.Note)
	}

	_, err = f.svc.Approve(ctx, manager, summary.PendingApprovalIDs[0], "")
	require.NoError(t, err)
	assert.Equal(t, 100, quantity(t, f, ikeja, "prod-ors"))
}

func TestApplyCountValidation(t *testing.T) {
	f := newTestService(t)
	ctx := context.Background()

	_, err := f.svc.ApplyCount(ctx, staff, ikeja, domain.StockCountRequest{})
	assert.ErrorIs(t, err, store.ErrInvalidRequest)

	_, err = f.svc.ApplyCount(ctx, staff, ikeja, domain.StockCountRequest{Counts: map[string]int{"prod-ors": -1}})
	assert.ErrorIs(t, err, store.ErrInvalidRequest)

	_, err = f.svc.ApplyCount(ctx, staff, online, domain.StockCountRequest{Counts: map[string]int{"prod-ors": 1}})
	assert.ErrorIs(t, err, store.ErrInvalidRequest)

	_, err = f.svc.ApplyCount(ctx, staff, ikeja, domain.StockCountRequest{Counts: map[string]int{"prod-ghost": 1}})
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.svc.ApplyCount(ctx, customer, ikeja, domain.StockCountRequest{Counts: map[string]int{"prod-ors": 1}})
	assert.ErrorIs(t, err, store.ErrForbidden)
}
