package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmastock/backend/internal/domain"
	"pharmastock/backend/internal/events"
	"pharmastock/backend/internal/lock"
	"pharmastock/backend/internal/store"
)

func placeOrder(t *testing.T, f *fixture, actor domain.Actor, branchID string, lines ...domain.OrderLineRequest) *domain.Order {
	t.Helper()
	order, err := f.svc.CreateOrder(context.Background(), actor, domain.OrderCreateRequest{
		BranchID:        branchID,
		Lines:           lines,
		ShippingAddress: "12 Admiralty Way",
		PaymentMethod:   "card",
	})
	require.NoError(t, err)
	return order
}

func line(productID string, qty int) domain.OrderLineRequest {
	return domain.OrderLineRequest{ProductID: productID, Quantity: qty}
}

func setStatus(t *testing.T, f *fixture, orderID string, status domain.OrderStatus) *domain.Order {
	t.Helper()
	res, err := f.svc.SetStatus(context.Background(), staff, orderID, domain.OrderStatusRequest{Status: status})
	require.NoError(t, err)
	return &res.Order
}

func TestCreateBranchOrderReservesStock(t *testing.T) {
	f := newTestService(t)

	order := placeOrder(t, f, staff, ikeja, line("prod-ors", 10), line("prod-vitc", 2))
	assert.Equal(t, domain.ChannelBranch, order.Channel)
	assert.Equal(t, domain.OrderProcessing, order.Status)
	assert.Equal(t, "15000.00", order.TotalPrice.StringFixed(2))
	assert.Equal(t, staff.ID, order.CustomerID)
	assert.Equal(t, 190, quantity(t, f, ikeja, "prod-ors"))
	assert.Equal(t, 58, quantity(t, f, ikeja, "prod-vitc"))
	assert.Contains(t, f.events.types(), events.OrderCreated)
}

func TestCreateOrderMergesRepeatedProducts(t *testing.T) {
	f := newTestService(t)

	order := placeOrder(t, f, staff, ikeja, line("prod-ors", 3), line("prod-ors", 4))
	require.Len(t, order.Lines, 1)
	assert.Equal(t, 7, order.Lines[0].Quantity)
	assert.Equal(t, 193, quantity(t, f, ikeja, "prod-ors"))
}

func TestCreateOrderIsAllOrNothing(t *testing.T) {
	f := newTestService(t)
	ctx := context.Background()

	_, err := f.svc.CreateOrder(ctx, staff, domain.OrderCreateRequest{
		BranchID: lekki,
		Lines:    []domain.OrderLineRequest{line("prod-paracetamol", 5), line("prod-amoxicillin", 1)},
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	assert.Equal(t, 80, quantity(t, f, lekki, "prod-paracetamol"))

	moves, err := f.svc.ListMovements(ctx, domain.MovementFilter{BranchID: lekki, ProductID: "prod-paracetamol"})
	require.NoError(t, err)
	require.Len(t, moves, 2)
	assert.Equal(t, -5, moves[0].QuantityChange)
	assert.Equal(t, 5, moves[1].QuantityChange)

	orders, err := f.svc.ListOrders(ctx, domain.OrderFilter{BranchID: lekki})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestCreateOrderValidation(t *testing.T) {
	f := newTestService(t)
	ctx := context.Background()

	_, err := f.svc.CreateOrder(ctx, staff, domain.OrderCreateRequest{BranchID: ikeja})
	assert.ErrorIs(t, err, store.ErrInvalidRequest)

	_, err = f.svc.CreateOrder(ctx, staff, domain.OrderCreateRequest{BranchID: ikeja, Lines: []domain.OrderLineRequest{line("prod-ors", 0)}})
	assert.ErrorIs(t, err, store.ErrInvalidRequest)

	_, err = f.svc.CreateOrder(ctx, staff, domain.OrderCreateRequest{BranchID: ikeja, Lines: []domain.OrderLineRequest{line("prod-nope", 1)}})
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.svc.CreateOrder(ctx, staff, domain.OrderCreateRequest{BranchID: "branch-missing", Lines: []domain.OrderLineRequest{line("prod-ors", 1)}})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestOnlineOrderDoesNotTouchBranchStock(t *testing.T) {
	f := newTestService(t)

	order := placeOrder(t, f, customer, "", line("prod-bandage", 2))
	assert.Equal(t, domain.ChannelOnline, order.Channel)
	assert.Equal(t, online, order.BranchID)
	assert.Equal(t, customer.ID, order.CustomerID)
	assert.True(t, order.Unclaimed())
	assert.Equal(t, 35, quantity(t, f, ikeja, "prod-bandage"))
}

func TestCustomerCannotOrderFromPhysicalBranch(t *testing.T) {
	f := newTestService(t)

	_, err := f.svc.CreateOrder(context.Background(), customer, domain.OrderCreateRequest{
		BranchID: ikeja,
		Lines:    []domain.OrderLineRequest{line("prod-insulin", 8)},
	})
	require.ErrorIs(t, err, store.ErrForbidden)
	assert.Equal(t, 8, quantity(t, f, ikeja, "prod-insulin"))

	order := placeOrder(t, f, customer, online, line("prod-insulin", 8))
	assert.Equal(t, domain.ChannelOnline, order.Channel)
	assert.Equal(t, 8, quantity(t, f, ikeja, "prod-insulin"))
}

// cancellingLocker cancels the caller's context when it is asked for key,
// as if the client went away while waiting on that lock.
type cancellingLocker struct {
	inner  lock.Locker
	key    string
	cancel context.CancelFunc
}

func (l *cancellingLocker) Acquire(ctx context.Context, key string) (func(), error) {
	if key == l.key {
		l.cancel()
		return nil, ctx.Err()
	}
	return l.inner.Acquire(ctx, key)
}

func TestCancelledOrderReleasesEarlierLines(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixtureWithLocker(t, defaultThresholds(), &cancellingLocker{
		inner:  lock.NewLocal(time.Second),
		key:    lock.BranchProductKey(ikeja, "prod-vitc"),
		cancel: cancel,
	})

	_, err := f.svc.CreateOrder(ctx, staff, domain.OrderCreateRequest{
		BranchID: ikeja,
		Lines:    []domain.OrderLineRequest{line("prod-ors", 10), line("prod-vitc", 2)},
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 200, quantity(t, f, ikeja, "prod-ors"))
	assert.Equal(t, 60, quantity(t, f, ikeja, "prod-vitc"))

	orders, err := f.svc.ListOrders(context.Background(), domain.OrderFilter{BranchID: ikeja})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestHeldStockLockTimesOutWithoutPartialReservation(t *testing.T) {
	locker := lock.NewLocal(50 * time.Millisecond)
	f := newFixtureWithLocker(t, defaultThresholds(), locker)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, lock.BranchProductKey(ikeja, "prod-vitc"))
	require.NoError(t, err)
	defer release()

	err = f.svc.Reserve(ctx, staff, ikeja, "prod-vitc", 1, "ord-held")
	require.ErrorIs(t, err, store.ErrLockTimeout)

	_, err = f.svc.CreateOrder(ctx, staff, domain.OrderCreateRequest{
		BranchID: ikeja,
		Lines:    []domain.OrderLineRequest{line("prod-ors", 10), line("prod-vitc", 2)},
	})
	require.ErrorIs(t, err, store.ErrLockTimeout)
	assert.Equal(t, 200, quantity(t, f, ikeja, "prod-ors"))

	release()
	assert.Equal(t, 60, quantity(t, f, ikeja, "prod-vitc"))
}

func TestClaimFailsWithoutStockAndLeavesOrderUnclaimed(t *testing.T) {
	f := newTestService(t)
	ctx := context.Background()
	order := placeOrder(t, f, customer, "", line("prod-bandage", 2))

	_, err := f.svc.ClaimOnlineOrder(ctx, manager2, order.ID, lekki)
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	stored, err := f.svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, stored.Unclaimed())
	assert.Equal(t, online, stored.BranchID)

	claimed, err := f.svc.ClaimOnlineOrder(ctx, staff, order.ID, ikeja)
	require.NoError(t, err)
	assert.Equal(t, ikeja, claimed.ClaimedBranchID)
	assert.Equal(t, staff.ID, claimed.ClaimedBy)
	assert.NotNil(t, claimed.ClaimedAt)
	assert.Equal(t, 33, quantity(t, f, ikeja, "prod-bandage"))

	_, err = f.svc.ClaimOnlineOrder(ctx, manager2, order.ID, lekki)
	assert.ErrorIs(t, err, store.ErrAlreadyClaimed)
}

func TestConcurrentClaimsHaveOneWinner(t *testing.T) {
	f := newTestService(t)
	ctx := context.Background()
	order := placeOrder(t, f, customer, "", line("prod-ors", 5))

	type attempt struct {
		branch string
		actor  domain.Actor
		err    error
	}
	attempts := []*attempt{{branch: ikeja, actor: staff}, {branch: lekki, actor: manager2}}

	var wg sync.WaitGroup
	for _, a := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, a.err = f.svc.ClaimOnlineOrder(ctx, a.actor, order.ID, a.branch)
		}()
	}
	wg.Wait()

	var winner string
	for _, a := range attempts {
		if a.err == nil {
			require.Empty(t, winner, "two claims succeeded")
			winner = a.branch
			continue
		}
		assert.ErrorIs(t, a.err, store.ErrAlreadyClaimed)
	}
	require.NotEmpty(t, winner)

	total := quantity(t, f, ikeja, "prod-ors") + quantity(t, f, lekki, "prod-ors")
	assert.Equal(t, 200+150-5, total)
}

func TestClaimRejectsBranchOrdersAndOnlineBranch(t *testing.T) {
	f := newTestService(t)
	ctx := context.Background()

	branchOrder := placeOrder(t, f, staff, ikeja, line("prod-ors", 1))
	_, err := f.svc.ClaimOnlineOrder(ctx, staff, branchOrder.ID, ikeja)
	assert.ErrorIs(t, err, store.ErrInvalidRequest)

	webOrder := placeOrder(t, f, customer, "", line("prod-ors", 1))
	_, err = f.svc.ClaimOnlineOrder(ctx, staff, webOrder.ID, online)
	assert.ErrorIs(t, err, store.ErrInvalidRequest)

	_, err = f.svc.ClaimOnlineOrder(ctx, customer, webOrder.ID, ikeja)
	assert.ErrorIs(t, err, store.ErrForbidden)
}

func TestCancelReleasesReservedStock(t *testing.T) {
	f := newTestService(t)
	order := placeOrder(t, f, staff, ikeja, line("prod-ors", 10))

	cancelled := setStatus(t, f, order.ID, domain.OrderCancelled)
	assert.Equal(t, domain.OrderCancelled, cancelled.Status)
	assert.Equal(t, 200, quantity(t, f, ikeja, "prod-ors"))

	_, err := f.svc.SetStatus(context.Background(), staff, order.ID, domain.OrderStatusRequest{Status: domain.OrderShipped})
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
}

func TestCancelUnclaimedOnlineOrderSkipsRelease(t *testing.T) {
	f := newTestService(t)
	ctx := context.Background()
	order := placeOrder(t, f, customer, "", line("prod-ors", 4))

	setStatus(t, f, order.ID, domain.OrderCancelled)

	moves, err := f.svc.ListMovements(ctx, domain.MovementFilter{BranchID: online})
	require.NoError(t, err)
	require.Len(t, moves, 1)
	assert.Equal(t, domain.ReasonOrderReserve, moves[0].ReasonCode)
}

func TestCancelClaimedOnlineOrderReleasesAtClaimingBranch(t *testing.T) {
	f := newTestService(t)
	ctx := context.Background()
	order := placeOrder(t, f, customer, "", line("prod-vitc", 5))
	_, err := f.svc.ClaimOnlineOrder(ctx, staff, order.ID, ikeja)
	require.NoError(t, err)
	assert.Equal(t, 55, quantity(t, f, ikeja, "prod-vitc"))

	setStatus(t, f, order.ID, domain.OrderCancelled)
	assert.Equal(t, 60, quantity(t, f, ikeja, "prod-vitc"))
}

func TestStatusMustFollowLifecycle(t *testing.T) {
	f := newTestService(t)
	ctx := context.Background()
	order := placeOrder(t, f, staff, ikeja, line("prod-ors", 1))

	_, err := f.svc.SetStatus(ctx, staff, order.ID, domain.OrderStatusRequest{Status: domain.OrderDelivered})
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	_, err = f.svc.SetStatus(ctx, staff, order.ID, domain.OrderStatusRequest{Status: "Lost"})
	assert.ErrorIs(t, err, store.ErrInvalidRequest)

	setStatus(t, f, order.ID, domain.OrderShipped)
	delivered := setStatus(t, f, order.ID, domain.OrderDelivered)
	assert.Equal(t, domain.OrderDelivered, delivered.Status)
	assert.Equal(t, 199, quantity(t, f, ikeja, "prod-ors"))
}

func TestReturnNeedsApproval(t *testing.T) {
	f := newTestService(t)
	ctx := context.Background()
	order := placeOrder(t, f, staff, ikeja, line("prod-ors", 10))
	setStatus(t, f, order.ID, domain.OrderShipped)
	setStatus(t, f, order.ID, domain.OrderDelivered)

	res, err := f.svc.SetStatus(ctx, staff, order.ID, domain.OrderStatusRequest{Status: domain.OrderReturned, Reason: "damaged"})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomePendingApproval, res.Outcome)
	assert.Equal(t, domain.OrderDelivered, res.Order.Status)
	assert.Equal(t, 190, quantity(t, f, ikeja, "prod-ors"))

	again, err := f.svc.RequestReturn(ctx, staff, order.ID, "still damaged")
	require.NoError(t, err)
	assert.Equal(t, res.ApprovalID, again.ApprovalID)

	approval, err := f.svc.GetApproval(ctx, res.ApprovalID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalReturn, approval.Type)
	assert.True(t, order.TotalPrice.Equal(approval.Value))

	_, err = f.svc.Approve(ctx, manager, res.ApprovalID, "")
	require.NoError(t, err)

	returned, err := f.svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderReturned, returned.Status)
	assert.Equal(t, "damaged", returned.ReturnReason)
	assert.Equal(t, 200, quantity(t, f, ikeja, "prod-ors"))
	assert.Contains(t, f.events.types(), events.OrderReturnRequested)
}

func TestRejectedReturnKeepsOrderDelivered(t *testing.T) {
	f := newTestService(t)
	ctx := context.Background()
	order := placeOrder(t, f, staff, ikeja, line("prod-ors", 10))
	setStatus(t, f, order.ID, domain.OrderShipped)
	setStatus(t, f, order.ID, domain.OrderDelivered)

	res, err := f.svc.RequestReturn(ctx, staff, order.ID, "changed mind")
	require.NoError(t, err)
	_, err = f.svc.Reject(ctx, manager, res.ApprovalID, "outside return window")
	require.NoError(t, err)

	stored, err := f.svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderDelivered, stored.Status)
	assert.Equal(t, 190, quantity(t, f, ikeja, "prod-ors"))

	next, err := f.svc.RequestReturn(ctx, staff, order.ID, "damaged after all")
	require.NoError(t, err)
	assert.NotEqual(t, res.ApprovalID, next.ApprovalID)
}

func TestReturnRequiresReason(t *testing.T) {
	f := newTestService(t)
	order := placeOrder(t, f, staff, ikeja, line("prod-ors", 1))

	_, err := f.svc.RequestReturn(context.Background(), staff, order.ID, "  ")
	assert.ErrorIs(t, err, store.ErrInvalidRequest)
}

func TestApprovedReturnFailsWhenOrderMovedOn(t *testing.T) {
	f := newTestService(t)
	ctx := context.Background()
	order := placeOrder(t, f, staff, ikeja, line("prod-ors", 10))

	res, err := f.svc.RequestReturn(ctx, staff, order.ID, "wrong item")
	require.NoError(t, err)
	setStatus(t, f, order.ID, domain.OrderCancelled)

	_, err = f.svc.Approve(ctx, manager, res.ApprovalID, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrInvalidTransition))

	approval, err := f.svc.GetApproval(ctx, res.ApprovalID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalPending, approval.Status)
	assert.Equal(t, 200, quantity(t, f, ikeja, "prod-ors"))

	_, err = f.svc.Reject(ctx, manager, res.ApprovalID, "order was cancelled")
	require.NoError(t, err)
}
