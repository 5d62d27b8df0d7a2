package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"pharmastock/backend/internal/domain"
	"pharmastock/backend/internal/events"
	"pharmastock/backend/internal/lock"
	"pharmastock/backend/internal/policy"
	"pharmastock/backend/internal/store"
)

// GetQuantity reports the branch quantity of a product. The online branch
// reports domain.UnlimitedQuantity.
func (s *Service) GetQuantity(ctx context.Context, branchID string, productID string) (int, error) {
	branch, err := s.liveBranch(ctx, branchID)
	if err != nil {
		return 0, err
	}
	if branch.IsOnline {
		return domain.UnlimitedQuantity, nil
	}
	return s.repo.GetQuantity(ctx, branch.ID, productID)
}

// Reserve takes qty units out of a branch for reference (usually an order
// id). Callers are expected to have checked permissions.
func (s *Service) Reserve(ctx context.Context, actor domain.Actor, branchID string, productID string, qty int, reference string) error {
	branch, err := s.liveBranch(ctx, branchID)
	if err != nil {
		return err
	}
	return s.reserve(ctx, actor, branch, productID, qty, reference)
}

// Release puts qty units back into a branch, reversing a reservation.
func (s *Service) Release(ctx context.Context, actor domain.Actor, branchID string, productID string, qty int, reference string) error {
	branch, err := s.liveBranch(ctx, branchID)
	if err != nil {
		return err
	}
	return s.release(ctx, actor, branch, productID, qty, reference)
}

func (s *Service) reserve(ctx context.Context, actor domain.Actor, branch *domain.Branch, productID string, qty int, reference string) error {
	if qty < 1 || productID == "" {
		return fmt.Errorf("%w: reserve quantity must be positive", store.ErrInvalidRequest)
	}

	mv := domain.InventoryMovement{
		BranchID:       branch.ID,
		ProductID:      productID,
		QuantityChange: -qty,
		ReasonCode:     domain.ReasonOrderReserve,
		Reference:      reference,
		ActorID:        actor.ID,
		CreatedAt:      s.now(),
	}
	if branch.IsOnline {
		mv.QuantityChange = 0
		mv.Note = "unlimited: " + strconv.Itoa(qty) + " units"
		return s.repo.AppendMovement(ctx, mv)
	}

	err := s.withLock(ctx, "stock", lock.BranchProductKey(branch.ID, productID), func() error {
		_, err := s.repo.ChangeQuantity(ctx, mv)
		return err
	})
	s.metrics.ObserveReservation(err)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientStock) {
			return fmt.Errorf("product %s at branch %s: %w", productID, branch.ID, err)
		}
		return err
	}
	return nil
}

func (s *Service) release(ctx context.Context, actor domain.Actor, branch *domain.Branch, productID string, qty int, reference string) error {
	if qty < 1 || productID == "" {
		return fmt.Errorf("%w: release quantity must be positive", store.ErrInvalidRequest)
	}

	mv := domain.InventoryMovement{
		BranchID:       branch.ID,
		ProductID:      productID,
		QuantityChange: qty,
		ReasonCode:     domain.ReasonOrderRelease,
		Reference:      reference,
		ActorID:        actor.ID,
		CreatedAt:      s.now(),
	}
	if branch.IsOnline {
		mv.QuantityChange = 0
		mv.Note = "unlimited: " + strconv.Itoa(qty) + " units"
		return s.repo.AppendMovement(ctx, mv)
	}

	return s.withLock(ctx, "stock", lock.BranchProductKey(branch.ID, productID), func() error {
		_, err := s.repo.ChangeQuantity(ctx, mv)
		return err
	})
}

// Adjust sets a product's quantity at a physical branch. Changes beyond the
// approval policy are not applied; they become a pending approval request and
// the result carries its id.
func (s *Service) Adjust(ctx context.Context, actor domain.Actor, req domain.AdjustRequest) (*domain.AdjustResult, error) {
	if err := requirePermission(actor, domain.PermInventoryAdjust); err != nil {
		return nil, err
	}

	if req.ReasonCode == "" {
		req.ReasonCode = domain.ReasonManualAdjustment
	}
	req.Note = strings.TrimSpace(req.Note)
	if !domain.IsAdjustmentReason(req.ReasonCode) {
		return nil, fmt.Errorf("%w: unknown adjustment reason %q", store.ErrInvalidRequest, req.ReasonCode)
	}
	if req.TargetQuantity < 0 {
		return nil, fmt.Errorf("%w: target quantity cannot be negative", store.ErrInvalidRequest)
	}

	branch, err := s.physicalBranch(ctx, req.BranchID)
	if err != nil {
		return nil, err
	}
	product, err := s.product(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}

	var result *domain.AdjustResult
	err = s.withLock(ctx, "stock", lock.BranchProductKey(branch.ID, product.ID), func() error {
		for attempt := 1; ; attempt++ {
			current, err := s.repo.GetQuantity(ctx, branch.ID, product.ID)
			if err != nil {
				return err
			}

			res := &domain.AdjustResult{
				Outcome:          domain.OutcomeApplied,
				ProductID:        product.ID,
				PreviousQuantity: current,
				TargetQuantity:   req.TargetQuantity,
				Delta:            req.TargetQuantity - current,
			}
			if res.Delta == 0 {
				result = res
				return nil
			}

			if s.policy.RequiresApproval(res.Delta, product.UnitCost) {
				approval, err := s.createApproval(ctx, actor, domain.ApprovalRequest{
					Type:     domain.ApprovalInventoryAdjustment,
					BranchID: branch.ID,
					Payload: domain.ApprovalPayload{Adjustment: &domain.AdjustmentPayload{
						ProductID:        product.ID,
						TargetQuantity:   req.TargetQuantity,
						PreviousQuantity: current,
						Delta:            res.Delta,
						ReasonCode:       req.ReasonCode,
						Note:             req.Note,
					}},
					Value:  policy.AdjustmentValue(res.Delta, product.UnitCost),
					Reason: req.Note,
				})
				if err != nil {
					return err
				}
				res.Outcome = domain.OutcomePendingApproval
				res.ApprovalID = approval.ID
				result = res
				return nil
			}

			mv, err := s.repo.SetQuantity(ctx, s.adjustMovement(actor, branch.ID, product.ID, req.ReasonCode, req.Note, ""), req.TargetQuantity, current)
			if errors.Is(err, store.ErrStockConflict) && attempt < maxAdjustAttempts {
				s.log.Debug("adjust lost a concurrent update, retrying",
					zap.String("branch_id", branch.ID),
					zap.String("product_id", product.ID),
					zap.Int("attempt", attempt),
				)
				continue
			}
			if err != nil {
				return err
			}
			if mv != nil {
				res.Delta = mv.QuantityChange
			}
			res.Movement = mv
			result = res
			return nil
		}
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncAdjustment(string(result.Outcome))
	if result.Outcome == domain.OutcomeApplied && result.Movement != nil {
		s.logAudit(ctx, actor, branch.ID, "inventory_adjust", "inventory", branch.ID+"/"+product.ID,
			fmt.Sprintf("from=%d,to=%d,reason=%s,note=%s", result.PreviousQuantity, result.TargetQuantity, req.ReasonCode, req.Note))
		s.publish(events.InventoryAdjusted, product.ID, branch.ID, actor, map[string]string{
			"delta":  strconv.Itoa(result.Delta),
			"reason": req.ReasonCode,
		})
	}
	return result, nil
}

// applyAdjustment is the privileged path used once an adjustment has been
// approved; it skips the threshold check and sets the approved target.
func (s *Service) applyAdjustment(ctx context.Context, actor domain.Actor, req *domain.ApprovalRequest) error {
	payload := req.Payload.Adjustment
	if payload == nil {
		return fmt.Errorf("%w: approval %s has no adjustment payload", store.ErrInvalidRequest, req.ID)
	}

	var applied *domain.InventoryMovement
	err := s.withLock(ctx, "stock", lock.BranchProductKey(req.BranchID, payload.ProductID), func() error {
		mv, err := s.repo.SetQuantity(ctx, s.adjustMovement(actor, req.BranchID, payload.ProductID, payload.ReasonCode, payload.Note, req.ID), payload.TargetQuantity, store.AnyQuantity)
		applied = mv
		return err
	})
	if err != nil {
		return err
	}

	if applied != nil {
		s.logAudit(ctx, actor, req.BranchID, "inventory_adjust_approved", "inventory", req.BranchID+"/"+payload.ProductID,
			fmt.Sprintf("approval=%s,delta=%d,to=%d", req.ID, applied.QuantityChange, payload.TargetQuantity))
		s.publish(events.InventoryAdjusted, payload.ProductID, req.BranchID, actor, map[string]string{
			"delta":       strconv.Itoa(applied.QuantityChange),
			"reason":      payload.ReasonCode,
			"approval_id": req.ID,
		})
	}
	return nil
}

func (s *Service) adjustMovement(actor domain.Actor, branchID string, productID string, reasonCode string, note string, reference string) domain.InventoryMovement {
	return domain.InventoryMovement{
		BranchID:   branchID,
		ProductID:  productID,
		ReasonCode: reasonCode,
		Reference:  reference,
		Note:       note,
		ActorID:    actor.ID,
		CreatedAt:  s.now(),
	}
}

// SetBranchInventory applies a batch of target quantities. Every item is
// adjusted independently, so one request can mix applied and pending items.
func (s *Service) SetBranchInventory(ctx context.Context, actor domain.Actor, branchID string, req domain.InventoryUpdateRequest) (*domain.InventoryUpdateResponse, error) {
	if err := requirePermission(actor, domain.PermInventoryAdjust); err != nil {
		return nil, err
	}
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: items are required", store.ErrInvalidRequest)
	}
	seen := make(map[string]struct{}, len(req.Items))
	for _, item := range req.Items {
		if strings.TrimSpace(item.ProductID) == "" || item.Quantity < 0 {
			return nil, fmt.Errorf("%w: each item needs a product and a non-negative quantity", store.ErrInvalidRequest)
		}
		if _, dup := seen[item.ProductID]; dup {
			return nil, fmt.Errorf("%w: product %s listed twice", store.ErrInvalidRequest, item.ProductID)
		}
		seen[item.ProductID] = struct{}{}
	}
	if _, err := s.physicalBranch(ctx, branchID); err != nil {
		return nil, err
	}

	resp := &domain.InventoryUpdateResponse{
		BranchID:    branchID,
		Results:     make([]domain.AdjustResult, 0, len(req.Items)),
		ApprovalIDs: []string{},
	}
	for _, item := range req.Items {
		res, err := s.Adjust(ctx, actor, domain.AdjustRequest{
			BranchID:       branchID,
			ProductID:      item.ProductID,
			TargetQuantity: item.Quantity,
			ReasonCode:     domain.ReasonManualAdjustment,
			Note:           req.Reason,
		})
		if err != nil {
			return nil, fmt.Errorf("adjust %s: %w", item.ProductID, err)
		}
		resp.Results = append(resp.Results, *res)
		if res.ApprovalID != "" {
			resp.ApprovalIDs = append(resp.ApprovalIDs, res.ApprovalID)
		}
	}
	return resp, nil
}

// ListBranchInventory lists stock per product. The online branch reports every
// active product as unlimited.
func (s *Service) ListBranchInventory(ctx context.Context, branchID string) ([]domain.InventoryRecord, error) {
	branch, err := s.liveBranch(ctx, branchID)
	if err != nil {
		return nil, err
	}
	if !branch.IsOnline {
		return s.repo.ListInventory(ctx, branch.ID)
	}

	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	records := make([]domain.InventoryRecord, 0, len(products))
	for _, p := range products {
		records = append(records, domain.InventoryRecord{
			BranchID:  branch.ID,
			ProductID: p.ID,
			Quantity:  domain.UnlimitedQuantity,
			Unlimited: true,
		})
	}
	return records, nil
}

func (s *Service) ListMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.InventoryMovement, error) {
	return s.repo.ListMovements(ctx, filter)
}

func (s *Service) product(ctx context.Context, productID string) (domain.Product, error) {
	if strings.TrimSpace(productID) == "" {
		return domain.Product{}, fmt.Errorf("%w: product id is required", store.ErrInvalidRequest)
	}
	products, err := s.repo.GetProductsByIDs(ctx, []string{productID})
	if err != nil {
		return domain.Product{}, err
	}
	p, ok := products[productID]
	if !ok {
		return domain.Product{}, fmt.Errorf("product %s: %w", productID, store.ErrNotFound)
	}
	return p, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}
