package memory

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"pharmastock/backend/internal/domain"
	"pharmastock/backend/internal/store"
)

var _ store.Repository = (*Store)(nil)

func movement(branchID, productID string, change int) domain.InventoryMovement {
	return domain.InventoryMovement{
		BranchID:       branchID,
		ProductID:      productID,
		QuantityChange: change,
		ReasonCode:     domain.ReasonOrderReserve,
		ActorID:        "tester",
	}
}

func TestChangeQuantityRejectsNegativeResult(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	qty, err := s.ChangeQuantity(ctx, movement(SeedLekkiBranchID, "prod-insulin", -4))
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	assert.Equal(t, 3, qty)

	current, err := s.GetQuantity(ctx, SeedLekkiBranchID, "prod-insulin")
	require.NoError(t, err)
	assert.Equal(t, 3, current)

	moves, err := s.ListMovements(ctx, domain.MovementFilter{BranchID: SeedLekkiBranchID})
	require.NoError(t, err)
	assert.Empty(t, moves)
}

func TestChangeQuantityAppendsMovement(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	qty, err := s.ChangeQuantity(ctx, movement(SeedIkejaBranchID, "prod-insulin", -5))
	require.NoError(t, err)
	assert.Equal(t, 3, qty)

	moves, err := s.ListMovements(ctx, domain.MovementFilter{BranchID: SeedIkejaBranchID, ProductID: "prod-insulin"})
	require.NoError(t, err)
	require.Len(t, moves, 1)
	assert.Equal(t, -5, moves[0].QuantityChange)
	assert.NotEmpty(t, moves[0].ID)
	assert.False(t, moves[0].CreatedAt.IsZero())
}

func TestChangeQuantityUnknownBranchOrProduct(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	_, err := s.ChangeQuantity(ctx, movement("branch-missing", "prod-ors", 1))
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.ChangeQuantity(ctx, movement(SeedIkejaBranchID, "prod-missing", 1))
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSetQuantityExpectedMismatch(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	mv := movement(SeedIkejaBranchID, "prod-vitc", 0)
	mv.ReasonCode = domain.ReasonManualAdjustment

	_, err := s.SetQuantity(ctx, mv, 50, 59)
	require.ErrorIs(t, err, store.ErrStockConflict)

	applied, err := s.SetQuantity(ctx, mv, 50, 60)
	require.NoError(t, err)
	require.NotNil(t, applied)
	assert.Equal(t, -10, applied.QuantityChange)

	noop, err := s.SetQuantity(ctx, mv, 50, store.AnyQuantity)
	require.NoError(t, err)
	assert.Nil(t, noop)

	moves, err := s.ListMovements(ctx, domain.MovementFilter{ProductID: "prod-vitc"})
	require.NoError(t, err)
	assert.Len(t, moves, 1)
}

func TestConcurrentChangeQuantityNeverOversells(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ChangeQuantity(ctx, movement(SeedLekkiBranchID, "prod-insulin", -1)); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, success)
	qty, err := s.GetQuantity(ctx, SeedLekkiBranchID, "prod-insulin")
	require.NoError(t, err)
	assert.Zero(t, qty)
}

func TestCreateBranchSingleOnline(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	_, err := s.CreateBranch(ctx, domain.Branch{ID: "branch-web2", Name: "Second web", IsOnline: true})
	require.ErrorIs(t, err, store.ErrOnlineBranchExists)

	require.NoError(t, s.SoftDeleteBranch(ctx, SeedOnlineBranchID, time.Now().UTC()))
	_, err = s.GetOnlineBranch(ctx)
	require.ErrorIs(t, err, store.ErrNotFound)

	created, err := s.CreateBranch(ctx, domain.Branch{ID: "branch-web2", Name: "Second web", IsOnline: true})
	require.NoError(t, err)
	assert.True(t, created.IsOnline)

	live, err := s.ListBranches(ctx, false)
	require.NoError(t, err)
	assert.Len(t, live, 3)
	all, err := s.ListBranches(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestClaimOrderOnlyOnce(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	_, err := s.CreateOrder(ctx, domain.Order{
		ID:       "ord-1",
		Channel:  domain.ChannelOnline,
		BranchID: SeedOnlineBranchID,
		Status:   domain.OrderProcessing,
		Lines:    []domain.OrderLine{{ProductID: "prod-ors", Quantity: 2, UnitPriceSnapshot: decimal.NewFromInt(600)}},
	})
	require.NoError(t, err)

	now := time.Now().UTC()
	claimed, err := s.ClaimOrder(ctx, "ord-1", SeedOnlineBranchID, SeedIkejaBranchID, "staff", now)
	require.NoError(t, err)
	assert.Equal(t, SeedIkejaBranchID, claimed.BranchID)
	assert.False(t, claimed.Unclaimed())

	_, err = s.ClaimOrder(ctx, "ord-1", SeedOnlineBranchID, SeedLekkiBranchID, "staff", now)
	require.ErrorIs(t, err, store.ErrAlreadyClaimed)

	unclaimed, err := s.ListOrders(ctx, domain.OrderFilter{UnclaimedOnly: true})
	require.NoError(t, err)
	assert.Empty(t, unclaimed)
}

func TestUpdateOrderStatusComparesFrom(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	_, err := s.CreateOrder(ctx, domain.Order{
		ID:       "ord-2",
		Channel:  domain.ChannelBranch,
		BranchID: SeedIkejaBranchID,
		Status:   domain.OrderProcessing,
		Lines:    []domain.OrderLine{{ProductID: "prod-ors", Quantity: 1}},
	})
	require.NoError(t, err)

	now := time.Now().UTC()
	_, err = s.UpdateOrderStatus(ctx, "ord-2", domain.OrderShipped, domain.OrderDelivered, "", now)
	require.ErrorIs(t, err, store.ErrInvalidTransition)

	updated, err := s.UpdateOrderStatus(ctx, "ord-2", domain.OrderProcessing, domain.OrderShipped, "", now)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderShipped, updated.Status)
}

func TestResolveApprovalReturnsStoredOnSecondCall(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	_, err := s.CreateApproval(ctx, domain.ApprovalRequest{
		ID:          "apr-1",
		Type:        domain.ApprovalReturn,
		BranchID:    SeedIkejaBranchID,
		RequestedBy: "staff",
		Status:      domain.ApprovalPending,
		Payload:     domain.ApprovalPayload{Return: &domain.ReturnPayload{OrderID: "ord-9", Reason: "damaged"}},
	})
	require.NoError(t, err)

	now := time.Now().UTC()
	first, err := s.ResolveApproval(ctx, "apr-1", domain.ApprovalApproved, "manager", "ok", now)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalApproved, first.Status)

	second, err := s.ResolveApproval(ctx, "apr-1", domain.ApprovalRejected, "manager2", "no", now)
	require.ErrorIs(t, err, store.ErrInvalidTransition)
	require.NotNil(t, second)
	assert.Equal(t, domain.ApprovalApproved, second.Status)
	assert.Equal(t, "manager", second.ResolvedBy)

	byOrder, err := s.ListApprovals(ctx, domain.ApprovalFilter{OrderID: "ord-9"})
	require.NoError(t, err)
	assert.Len(t, byOrder, 1)
}

func TestRecordPaymentRejectsOverPayment(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	total := decimal.NewFromInt(10000)
	_, err := s.CreateInvoice(ctx, domain.SupplierInvoice{
		ID:         "inv-1",
		SupplierID: "sup-emzor",
		Lines:      []domain.InvoiceLine{{ProductID: "prod-ors", Quantity: 20, UnitCost: decimal.NewFromInt(500)}},
		Total:      total,
		Balance:    total,
		Status:     domain.InvoiceUnpaid,
	})
	require.NoError(t, err)

	_, err = s.RecordPayment(ctx, domain.Payment{ID: "pay-1", InvoiceID: "inv-1", Amount: decimal.NewFromInt(10001)})
	require.ErrorIs(t, err, store.ErrOverPayment)

	partial, err := s.RecordPayment(ctx, domain.Payment{ID: "pay-2", InvoiceID: "inv-1", Amount: decimal.NewFromInt(4000)})
	require.NoError(t, err)
	assert.Equal(t, domain.InvoicePartiallyPaid, partial.Status)
	assert.True(t, partial.Balance.Equal(decimal.NewFromInt(6000)))

	paid, err := s.RecordPayment(ctx, domain.Payment{ID: "pay-3", InvoiceID: "inv-1", Amount: decimal.NewFromInt(6000)})
	require.NoError(t, err)
	assert.Equal(t, domain.InvoicePaid, paid.Status)
	assert.True(t, paid.Balance.IsZero())

	payments, err := s.ListPayments(ctx, "inv-1")
	require.NoError(t, err)
	assert.Len(t, payments, 2)
}

func TestSeedUsersAreHashed(t *testing.T) {
	s := NewSeeded()
	users, err := s.ListUsers(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, users)
	for _, u := range users {
		assert.NotEqual(t, "admin123", u.Password)
		assert.True(t, u.Role.IsValid(), "user %s", u.Username)
	}
}

func TestSeededWarnsAboutDefaultCredentials(t *testing.T) {
	t.Setenv("SEED_ADMIN_PASSWORD", "")
	t.Setenv("SEED_MANAGER_PASSWORD", "")
	t.Setenv("SEED_STAFF_PASSWORD", "")
	core, logs := observer.New(zap.WarnLevel)

	s := NewSeeded(WithLogger(zap.New(core)))

	users, err := s.ListUsers(context.Background())
	require.NoError(t, err)
	assert.Len(t, users, 4)
	assert.Equal(t, 1, logs.FilterMessageSnippet("default dev credentials").Len())
}

func TestSeededSkipsAccountWithUnhashablePassword(t *testing.T) {
	t.Setenv("SEED_ADMIN_PASSWORD", "admin-secret-1")
	t.Setenv("SEED_MANAGER_PASSWORD", "manager-secret-1")
	t.Setenv("SEED_STAFF_PASSWORD", strings.Repeat("x", 80))
	core, logs := observer.New(zap.WarnLevel)

	s := NewSeeded(WithLogger(zap.New(core)))

	users, err := s.ListUsers(context.Background())
	require.NoError(t, err)
	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.Username)
	}
	assert.ElementsMatch(t, []string{"admin", "manager", "manager2"}, names)

	failures := logs.FilterMessage("hash seed password failed").All()
	require.Len(t, failures, 1)
	assert.Equal(t, "staff", failures[0].ContextMap()["username"])
	assert.Zero(t, logs.FilterMessageSnippet("default dev credentials").Len())
}
