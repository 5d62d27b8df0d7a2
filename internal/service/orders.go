package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pharmastock/backend/internal/domain"
	"pharmastock/backend/internal/events"
	"pharmastock/backend/internal/lock"
	"pharmastock/backend/internal/store"
	"pharmastock/backend/internal/xid"
)

// CreateOrder places an order against a branch. Without a branch the order
// goes to the online branch, which never reserves stock. Physical branches
// reserve every line or none.
func (s *Service) CreateOrder(ctx context.Context, actor domain.Actor, req domain.OrderCreateRequest) (*domain.Order, error) {
	if err := requirePermission(actor, domain.PermOrderCreate); err != nil {
		return nil, err
	}

	lines, err := mergeOrderLines(req.Lines)
	if err != nil {
		return nil, err
	}

	var branch *domain.Branch
	if strings.TrimSpace(req.BranchID) == "" {
		branch, err = s.repo.GetOnlineBranch(ctx)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: no online branch is configured", store.ErrInvalidRequest)
		}
	} else {
		branch, err = s.liveBranch(ctx, req.BranchID)
	}
	if err != nil {
		return nil, err
	}
	// Customers shop online only; branch stock is reserved by staff.
	if actor.Role == domain.RoleCustomer && !branch.IsOnline {
		return nil, fmt.Errorf("%w: customers can only order from the online branch", store.ErrForbidden)
	}

	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	total := decimal.Zero
	for i := range lines {
		p, ok := products[lines[i].ProductID]
		if !ok || !p.Active {
			return nil, fmt.Errorf("product %s: %w", lines[i].ProductID, store.ErrNotFound)
		}
		lines[i].UnitPriceSnapshot = p.Price
		total = total.Add(lines[i].Subtotal())
	}

	customerID := strings.TrimSpace(req.CustomerID)
	if actor.Role == domain.RoleCustomer || customerID == "" {
		customerID = actor.ID
	}
	channel := domain.ChannelBranch
	if branch.IsOnline {
		channel = domain.ChannelOnline
	}

	order := domain.Order{
		ID:              xid.New("ord"),
		Channel:         channel,
		BranchID:        branch.ID,
		CustomerID:      customerID,
		Lines:           lines,
		ShippingAddress: strings.TrimSpace(req.ShippingAddress),
		PaymentMethod:   strings.TrimSpace(req.PaymentMethod),
		Status:          domain.OrderProcessing,
		TotalPrice:      total,
		CreatedBy:       actor.ID,
		CreatedAt:       s.now(),
	}

	if err := s.reserveLines(ctx, actor, branch, order.Lines, order.ID); err != nil {
		s.metrics.IncOrderEvent("create_failed")
		return nil, err
	}

	created, err := s.repo.CreateOrder(ctx, order)
	if err != nil {
		s.compensate(ctx, actor, branch, order.Lines, order.ID)
		return nil, err
	}

	s.metrics.IncOrderEvent("created")
	s.logAudit(ctx, actor, branch.ID, "order_create", "order", created.ID,
		fmt.Sprintf("channel=%s,lines=%d,total=%s", created.Channel, len(created.Lines), created.TotalPrice.StringFixed(2)))
	s.publish(events.OrderCreated, created.ID, created.BranchID, actor, map[string]string{
		"channel": created.Channel,
		"total":   created.TotalPrice.StringFixed(2),
	})
	return created, nil
}

func mergeOrderLines(reqLines []domain.OrderLineRequest) ([]domain.OrderLine, error) {
	if len(reqLines) == 0 {
		return nil, fmt.Errorf("%w: order needs at least one line", store.ErrInvalidRequest)
	}

	index := make(map[string]int, len(reqLines))
	lines := make([]domain.OrderLine, 0, len(reqLines))
	for _, l := range reqLines {
		productID := strings.TrimSpace(l.ProductID)
		if productID == "" || l.Quantity < 1 {
			return nil, fmt.Errorf("%w: each line needs a product and a positive quantity", store.ErrInvalidRequest)
		}
		if i, ok := index[productID]; ok {
			lines[i].Quantity += l.Quantity
			continue
		}
		index[productID] = len(lines)
		lines = append(lines, domain.OrderLine{ProductID: productID, Quantity: l.Quantity})
	}
	return lines, nil
}

// reserveLines reserves every line at branch. On the first failure the lines
// already taken are released before the error is returned.
func (s *Service) reserveLines(ctx context.Context, actor domain.Actor, branch *domain.Branch, lines []domain.OrderLine, reference string) error {
	reserved := make([]domain.OrderLine, 0, len(lines))
	for _, line := range lines {
		if err := s.reserve(ctx, actor, branch, line.ProductID, line.Quantity, reference); err != nil {
			s.compensate(ctx, actor, branch, reserved, reference)
			return err
		}
		reserved = append(reserved, line)
	}
	return nil
}

// releaseLines returns every line to branch. On the first failure the lines
// already returned are reserved again.
func (s *Service) releaseLines(ctx context.Context, actor domain.Actor, branch *domain.Branch, lines []domain.OrderLine, reference string) error {
	released := make([]domain.OrderLine, 0, len(lines))
	for _, line := range lines {
		if err := s.release(ctx, actor, branch, line.ProductID, line.Quantity, reference); err != nil {
			s.rereserve(ctx, actor, branch, released, reference)
			return err
		}
		released = append(released, line)
	}
	return nil
}

// compensate releases reserved lines on a context detached from the caller so
// a cancelled request cannot leave stock orphaned.
func (s *Service) compensate(parent context.Context, actor domain.Actor, branch *domain.Branch, lines []domain.OrderLine, reference string) {
	if branch.IsOnline || len(lines) == 0 {
		return
	}
	ctx, cancel := detached(parent)
	defer cancel()

	for _, line := range lines {
		if err := s.release(ctx, actor, branch, line.ProductID, line.Quantity, reference); err != nil {
			s.log.Error("compensating release failed",
				zap.String("reference", reference),
				zap.String("branch_id", branch.ID),
				zap.String("product_id", line.ProductID),
				zap.Int("quantity", line.Quantity),
				zap.Error(err),
			)
		}
	}
}

func (s *Service) rereserve(parent context.Context, actor domain.Actor, branch *domain.Branch, lines []domain.OrderLine, reference string) {
	if branch.IsOnline || len(lines) == 0 {
		return
	}
	ctx, cancel := detached(parent)
	defer cancel()

	for _, line := range lines {
		if err := s.reserve(ctx, actor, branch, line.ProductID, line.Quantity, reference); err != nil {
			s.log.Error("compensating reserve failed",
				zap.String("reference", reference),
				zap.String("branch_id", branch.ID),
				zap.String("product_id", line.ProductID),
				zap.Int("quantity", line.Quantity),
				zap.Error(err),
			)
		}
	}
}

// ClaimOnlineOrder moves an unclaimed online order to a physical branch,
// reserving its lines from that branch's stock. When stock is short the order
// stays unclaimed and another branch may claim it.
func (s *Service) ClaimOnlineOrder(ctx context.Context, actor domain.Actor, orderID string, branchID string) (*domain.Order, error) {
	if err := requirePermission(actor, domain.PermOrderClaim); err != nil {
		return nil, err
	}
	branch, err := s.physicalBranch(ctx, branchID)
	if err != nil {
		return nil, err
	}

	var claimed *domain.Order
	err = s.withLock(ctx, "order", lock.OrderKey(orderID), func() error {
		order, err := s.repo.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != domain.OrderProcessing {
			return fmt.Errorf("%w: order %s is %s", store.ErrInvalidTransition, order.ID, order.Status)
		}
		if order.Channel != domain.ChannelOnline {
			return fmt.Errorf("%w: order %s is not an online order", store.ErrInvalidRequest, order.ID)
		}
		if !order.Unclaimed() {
			return fmt.Errorf("order %s: %w", order.ID, store.ErrAlreadyClaimed)
		}

		if err := s.reserveLines(ctx, actor, branch, order.Lines, order.ID); err != nil {
			return err
		}

		claimed, err = s.repo.ClaimOrder(ctx, order.ID, order.BranchID, branch.ID, actor.ID, s.now())
		if err != nil {
			s.compensate(ctx, actor, branch, order.Lines, order.ID)
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrInsufficientStock) {
			s.metrics.IncOrderEvent("claim_failed")
		}
		return nil, err
	}

	s.metrics.IncOrderEvent("claimed")
	s.logAudit(ctx, actor, branch.ID, "order_claim", "order", claimed.ID, "branch="+branch.ID)
	s.publish(events.OrderClaimed, claimed.ID, branch.ID, actor, map[string]string{
		"claimed_by": actor.ID,
	})
	return claimed, nil
}

// SetStatus moves an order along its lifecycle. Cancelling returns reserved
// stock; Returned is never applied directly and is routed to RequestReturn.
func (s *Service) SetStatus(ctx context.Context, actor domain.Actor, orderID string, req domain.OrderStatusRequest) (*domain.OrderStatusResult, error) {
	if err := requirePermission(actor, domain.PermOrderStatus); err != nil {
		return nil, err
	}
	if !req.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown order status %q", store.ErrInvalidRequest, req.Status)
	}
	if req.Status == domain.OrderReturned {
		return s.RequestReturn(ctx, actor, orderID, req.Reason)
	}

	var updated *domain.Order
	err := s.withLock(ctx, "order", lock.OrderKey(orderID), func() error {
		order, err := s.repo.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		updated, err = s.transition(ctx, actor, order, req.Status, "")
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncOrderEvent(strings.ToLower(string(updated.Status)))
	return &domain.OrderStatusResult{Outcome: domain.OutcomeApplied, Order: *updated}, nil
}

// transition applies a status change to an order whose lock is held. Stock is
// released before the status is written so a failed release leaves the order
// untouched.
func (s *Service) transition(ctx context.Context, actor domain.Actor, order *domain.Order, to domain.OrderStatus, reason string) (*domain.Order, error) {
	from := order.Status
	if !from.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: order %s cannot go from %s to %s", store.ErrInvalidTransition, order.ID, from, to)
	}

	var branch *domain.Branch
	if to.ReleasesStock() && holdsStock(order) {
		b, err := s.repo.GetBranch(ctx, order.BranchID)
		if err != nil {
			return nil, err
		}
		branch = b
		if err := s.releaseLines(ctx, actor, branch, order.Lines, order.ID); err != nil {
			return nil, err
		}
	}

	updated, err := s.repo.UpdateOrderStatus(ctx, order.ID, from, to, reason, s.now())
	if err != nil {
		if branch != nil {
			s.rereserve(ctx, actor, branch, order.Lines, order.ID)
		}
		return nil, err
	}

	s.logAudit(ctx, actor, updated.BranchID, "order_status", "order", updated.ID, fmt.Sprintf("from=%s,to=%s", from, to))
	s.publish(events.OrderStatusChanged, updated.ID, updated.BranchID, actor, map[string]string{
		"from": string(from),
		"to":   string(to),
	})
	return updated, nil
}

// holdsStock reports whether the order reserved real stock, which is true for
// branch orders and for online orders once claimed.
func holdsStock(order *domain.Order) bool {
	return order.Channel == domain.ChannelBranch || order.ClaimedBranchID != ""
}

// RequestReturn asks for an order to be returned. Returns always need an
// approver; asking again while a request is pending yields the same request.
func (s *Service) RequestReturn(ctx context.Context, actor domain.Actor, orderID string, reason string) (*domain.OrderStatusResult, error) {
	if err := requirePermission(actor, domain.PermOrderStatus); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: a return reason is required", store.ErrInvalidRequest)
	}

	var result *domain.OrderStatusResult
	err := s.withLock(ctx, "order", lock.OrderKey(orderID), func() error {
		order, err := s.repo.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !order.Status.CanTransitionTo(domain.OrderReturned) {
			return fmt.Errorf("%w: order %s is %s", store.ErrInvalidTransition, order.ID, order.Status)
		}

		pending, err := s.repo.ListApprovals(ctx, domain.ApprovalFilter{Status: domain.ApprovalPending, OrderID: order.ID, Limit: 1})
		if err != nil {
			return err
		}
		if len(pending) > 0 {
			result = &domain.OrderStatusResult{Outcome: domain.OutcomePendingApproval, ApprovalID: pending[0].ID, Order: *order}
			return nil
		}

		approval, err := s.createApproval(ctx, actor, domain.ApprovalRequest{
			Type:     domain.ApprovalReturn,
			BranchID: order.BranchID,
			Payload: domain.ApprovalPayload{Return: &domain.ReturnPayload{
				OrderID:        order.ID,
				PreviousStatus: order.Status,
				Reason:         reason,
			}},
			Value:  order.TotalPrice,
			Reason: reason,
		})
		if err != nil {
			return err
		}
		s.publish(events.OrderReturnRequested, order.ID, order.BranchID, actor, map[string]string{
			"approval_id": approval.ID,
		})
		result = &domain.OrderStatusResult{Outcome: domain.OutcomePendingApproval, ApprovalID: approval.ID, Order: *order}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// applyReturn runs once a return is approved. An order that is already
// Returned counts as applied so a retried approval does not release twice.
func (s *Service) applyReturn(ctx context.Context, actor domain.Actor, req *domain.ApprovalRequest) error {
	payload := req.Payload.Return
	if payload == nil {
		return fmt.Errorf("%w: approval %s has no return payload", store.ErrInvalidRequest, req.ID)
	}

	return s.withLock(ctx, "order", lock.OrderKey(payload.OrderID), func() error {
		order, err := s.repo.GetOrder(ctx, payload.OrderID)
		if err != nil {
			return err
		}
		if order.Status == domain.OrderReturned {
			return nil
		}
		if _, err := s.transition(ctx, actor, order, domain.OrderReturned, payload.Reason); err != nil {
			return err
		}
		s.metrics.IncOrderEvent("returned")
		return nil
	})
}

func (s *Service) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return s.repo.GetOrder(ctx, id)
}

func (s *Service) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown order status %q", store.ErrInvalidRequest, filter.Status)
	}
	return s.repo.ListOrders(ctx, filter)
}
