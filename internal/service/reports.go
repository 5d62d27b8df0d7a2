package service

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pharmastock/backend/internal/domain"
	"pharmastock/backend/internal/store"
)

const (
	GroupByDay   = "day"
	GroupByMonth = "month"
)

func (s *Service) reportRange(actor domain.Actor, from time.Time, to time.Time) (time.Time, time.Time, error) {
	if err := requirePermission(actor, domain.PermReportView); err != nil {
		return from, to, err
	}
	if to.IsZero() {
		to = s.now().Add(time.Second)
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -30)
	}
	if !from.Before(to) {
		return from, to, fmt.Errorf("%w: from must be before to", store.ErrInvalidRequest)
	}
	return from, to, nil
}

// MovementReport lists inventory movements in [from, to), oldest first.
func (s *Service) MovementReport(ctx context.Context, actor domain.Actor, branchID string, from time.Time, to time.Time) ([]domain.MovementReportRow, error) {
	from, to, err := s.reportRange(actor, from, to)
	if err != nil {
		return nil, err
	}

	moves, err := s.repo.ListMovements(ctx, domain.MovementFilter{BranchID: branchID, From: from, To: to})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(moves))
	for _, mv := range moves {
		ids = append(ids, mv.ProductID)
	}
	slices.Sort(ids)
	products, err := s.repo.GetProductsByIDs(ctx, slices.Compact(ids))
	if err != nil {
		return nil, err
	}

	rows := make([]domain.MovementReportRow, 0, len(moves))
	for _, mv := range moves {
		rows = append(rows, domain.MovementReportRow{
			CreatedAt:      mv.CreatedAt,
			BranchID:       mv.BranchID,
			ProductID:      mv.ProductID,
			ProductName:    products[mv.ProductID].Name,
			Type:           mv.ReasonCode,
			QuantityChange: mv.QuantityChange,
			Reason:         mv.Note,
			ActorID:        mv.ActorID,
		})
	}
	return rows, nil
}

func (s *Service) ReturnsReport(ctx context.Context, actor domain.Actor, branchID string) ([]domain.ReturnReportRow, error) {
	if err := requirePermission(actor, domain.PermReportView); err != nil {
		return nil, err
	}

	orders, err := s.repo.ListOrders(ctx, domain.OrderFilter{BranchID: branchID, Status: domain.OrderReturned})
	if err != nil {
		return nil, err
	}
	rows := make([]domain.ReturnReportRow, 0, len(orders))
	for _, o := range orders {
		rows = append(rows, domain.ReturnReportRow{
			OrderID:      o.ID,
			BranchID:     o.BranchID,
			OrderStatus:  o.Status,
			TotalPrice:   o.TotalPrice,
			ReturnReason: o.ReturnReason,
			UpdatedAt:    o.UpdatedAt,
		})
	}
	return rows, nil
}

// SupplierBalances sums the outstanding balance per supplier.
func (s *Service) SupplierBalances(ctx context.Context, actor domain.Actor) ([]domain.SupplierBalanceRow, error) {
	if err := requirePermission(actor, domain.PermReportView); err != nil {
		return nil, err
	}

	suppliers, err := s.repo.ListSuppliers(ctx)
	if err != nil {
		return nil, err
	}
	invoices, err := s.repo.ListInvoices(ctx, domain.InvoiceFilter{})
	if err != nil {
		return nil, err
	}

	bySupplier := make(map[string]*domain.SupplierBalanceRow, len(suppliers))
	rows := make([]domain.SupplierBalanceRow, len(suppliers))
	for i, sup := range suppliers {
		rows[i] = domain.SupplierBalanceRow{SupplierID: sup.ID, Name: sup.Name, Balance: decimal.Zero}
		bySupplier[sup.ID] = &rows[i]
	}
	for _, inv := range invoices {
		row, ok := bySupplier[inv.SupplierID]
		if !ok {
			continue
		}
		row.InvoiceCount++
		row.Balance = row.Balance.Add(inv.Balance)
	}
	return rows, nil
}

// SalesSummary groups order totals by day or month. Cancelled and returned
// orders do not count as sales.
func (s *Service) SalesSummary(ctx context.Context, actor domain.Actor, branchID string, from time.Time, to time.Time, group string) ([]domain.SalesSummaryRow, error) {
	from, to, err := s.reportRange(actor, from, to)
	if err != nil {
		return nil, err
	}

	layout := "2006-01-02"
	switch strings.ToLower(strings.TrimSpace(group)) {
	case "", GroupByDay:
	case GroupByMonth:
		layout = "2006-01"
	default:
		return nil, fmt.Errorf("%w: group must be day or month", store.ErrInvalidRequest)
	}

	orders, err := s.repo.ListOrders(ctx, domain.OrderFilter{BranchID: branchID, From: from, To: to})
	if err != nil {
		return nil, err
	}

	byPeriod := make(map[string]*domain.SalesSummaryRow)
	for _, o := range orders {
		if o.Status == domain.OrderCancelled || o.Status == domain.OrderReturned {
			continue
		}
		period := o.CreatedAt.UTC().Format(layout)
		row, ok := byPeriod[period]
		if !ok {
			row = &domain.SalesSummaryRow{Period: period, TotalSales: decimal.Zero}
			byPeriod[period] = row
		}
		row.TotalOrders++
		row.TotalSales = row.TotalSales.Add(o.TotalPrice)
	}

	rows := make([]domain.SalesSummaryRow, 0, len(byPeriod))
	for _, row := range byPeriod {
		rows = append(rows, *row)
	}
	slices.SortFunc(rows, func(a, b domain.SalesSummaryRow) int {
		return strings.Compare(a.Period, b.Period)
	})
	return rows, nil
}
