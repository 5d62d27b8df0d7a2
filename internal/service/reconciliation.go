package service

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"pharmastock/backend/internal/domain"
	"pharmastock/backend/internal/policy"
	"pharmastock/backend/internal/store"
)

// ApplyCount reconciles a physical stock count against system quantities.
// Every counted product goes through Adjust on its own, so a single count can
// yield a mix of applied and pending lines.
func (s *Service) ApplyCount(ctx context.Context, actor domain.Actor, branchID string, req domain.StockCountRequest) (*domain.StockCountSummary, error) {
	if err := requirePermission(actor, domain.PermInventoryAdjust); err != nil {
		return nil, err
	}
	if len(req.Counts) == 0 {
		return nil, fmt.Errorf("%w: counts are required", store.ErrInvalidRequest)
	}
	productIDs := make([]string, 0, len(req.Counts))
	for productID, counted := range req.Counts {
		if strings.TrimSpace(productID) == "" || counted < 0 {
			return nil, fmt.Errorf("%w: counts need a product and a non-negative quantity", store.ErrInvalidRequest)
		}
		productIDs = append(productIDs, productID)
	}
	slices.Sort(productIDs)

	branch, err := s.physicalBranch(ctx, branchID)
	if err != nil {
		return nil, err
	}
	products, err := s.repo.GetProductsByIDs(ctx, productIDs)
	if err != nil {
		return nil, err
	}
	for _, id := range productIDs {
		if _, ok := products[id]; !ok {
			return nil, fmt.Errorf("product %s: %w", id, store.ErrNotFound)
		}
	}

	summary := &domain.StockCountSummary{
		BranchID:           branch.ID,
		ExcessValue:        decimal.Zero,
		ShortageValue:      decimal.Zero,
		PendingApprovalIDs: []string{},
		Lines:              make([]domain.StockCountLine, 0, len(productIDs)),
		CountedAt:          s.now(),
	}
	for _, productID := range productIDs {
		product := products[productID]
		res, err := s.Adjust(ctx, actor, domain.AdjustRequest{
			BranchID:       branch.ID,
			ProductID:      productID,
			TargetQuantity: req.Counts[productID],
			ReasonCode:     domain.ReasonStockTaking,
			Note:           req.Reason,
		})
		if err != nil {
			return nil, fmt.Errorf("reconcile %s: %w", productID, err)
		}

		line := domain.StockCountLine{
			ProductID:   productID,
			SystemQty:   res.PreviousQuantity,
			CountedQty:  req.Counts[productID],
			Delta:       res.Delta,
			UnitCost:    product.UnitCost,
			ValueImpact: product.UnitCost.Mul(decimal.NewFromInt(int64(res.Delta))),
			Outcome:     res.Outcome,
			ApprovalID:  res.ApprovalID,
		}
		summary.Lines = append(summary.Lines, line)

		summary.TotalItems += line.SystemQty
		switch {
		case line.Delta > 0:
			summary.ExcessCount += line.Delta
			summary.ExcessValue = summary.ExcessValue.Add(policy.AdjustmentValue(line.Delta, product.UnitCost))
		case line.Delta < 0:
			summary.ShortageCount += -line.Delta
			summary.ShortageValue = summary.ShortageValue.Add(policy.AdjustmentValue(line.Delta, product.UnitCost))
		}
		if res.ApprovalID != "" {
			summary.PendingApprovalIDs = append(summary.PendingApprovalIDs, res.ApprovalID)
		}
	}

	s.logAudit(ctx, actor, branch.ID, "stock_taking", "branch", branch.ID,
		fmt.Sprintf("items=%d,excess=%d,shortage=%d,pending=%d", len(summary.Lines), summary.ExcessCount, summary.ShortageCount, len(summary.PendingApprovalIDs)))
	return summary, nil
}
