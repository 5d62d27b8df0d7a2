package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pharmastock/backend/internal/domain"
	"pharmastock/backend/internal/events"
	"pharmastock/backend/internal/lock"
	"pharmastock/backend/internal/store"
	"pharmastock/backend/internal/xid"
)

const invoiceDateLayout = "2006-01-02"

func (s *Service) CreateSupplier(ctx context.Context, actor domain.Actor, req domain.SupplierCreateRequest) (*domain.Supplier, error) {
	if err := requirePermission(actor, domain.PermSupplierManage); err != nil {
		return nil, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, fmt.Errorf("%w: supplier name is required", store.ErrInvalidRequest)
	}

	created, err := s.repo.CreateSupplier(ctx, domain.Supplier{
		ID:        xid.New("sup"),
		Name:      req.Name,
		Phone:     strings.TrimSpace(req.Phone),
		Email:     strings.TrimSpace(req.Email),
		Address:   strings.TrimSpace(req.Address),
		CreatedAt: s.now(),
	})
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, actor, "", "supplier_create", "supplier", created.ID, "name="+created.Name)
	return created, nil
}

func (s *Service) GetSupplier(ctx context.Context, id string) (*domain.Supplier, error) {
	return s.repo.GetSupplier(ctx, id)
}

func (s *Service) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	return s.repo.ListSuppliers(ctx)
}

// CreateInvoice records what a supplier delivered. The supplier ledger only
// tracks money owed; stock is received through inventory adjustments.
func (s *Service) CreateInvoice(ctx context.Context, actor domain.Actor, req domain.InvoiceCreateRequest) (*domain.SupplierInvoice, error) {
	if err := requirePermission(actor, domain.PermSupplierManage); err != nil {
		return nil, err
	}
	if len(req.Lines) == 0 {
		return nil, fmt.Errorf("%w: invoice needs at least one line", store.ErrInvalidRequest)
	}
	if req.Tax.IsNegative() {
		return nil, fmt.Errorf("%w: tax cannot be negative", store.ErrInvalidRequest)
	}

	total := req.Tax
	for _, line := range req.Lines {
		if strings.TrimSpace(line.ProductID) == "" || line.Quantity < 1 || line.UnitCost.IsNegative() {
			return nil, fmt.Errorf("%w: each line needs a product, a positive quantity and a non-negative cost", store.ErrInvalidRequest)
		}
		total = total.Add(line.Cost())
	}
	if !total.IsPositive() {
		return nil, fmt.Errorf("%w: invoice total must be positive", store.ErrInvalidRequest)
	}

	dateSupplied, err := parseInvoiceDate(req.DateSupplied)
	if err != nil {
		return nil, err
	}
	dueDate, err := parseInvoiceDate(req.DueDate)
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.GetSupplier(ctx, req.SupplierID); err != nil {
		return nil, fmt.Errorf("supplier %s: %w", req.SupplierID, err)
	}
	if req.BranchID != "" {
		if _, err := s.liveBranch(ctx, req.BranchID); err != nil {
			return nil, err
		}
	}

	id := xid.New("inv")
	number := strings.TrimSpace(req.InvoiceNumber)
	if number == "" {
		number = strings.ToUpper(id[:12])
	}
	now := s.now()
	created, err := s.repo.CreateInvoice(ctx, domain.SupplierInvoice{
		ID:            id,
		InvoiceNumber: number,
		SupplierID:    req.SupplierID,
		BranchID:      req.BranchID,
		Reference:     strings.TrimSpace(req.Reference),
		DateSupplied:  dateSupplied,
		DueDate:       dueDate,
		Lines:         req.Lines,
		Tax:           req.Tax,
		Total:         total,
		AmountPaid:    decimal.Zero,
		Balance:       total,
		Status:        domain.InvoiceUnpaid,
		Notes:         strings.TrimSpace(req.Notes),
		CreatedBy:     actor.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, actor, created.BranchID, "invoice_create", "supplier_invoice", created.ID,
		fmt.Sprintf("supplier=%s,total=%s", created.SupplierID, created.Total.StringFixed(2)))
	s.publish(events.InvoiceCreated, created.ID, created.BranchID, actor, map[string]string{
		"supplier_id": created.SupplierID,
		"total":       created.Total.StringFixed(2),
	})
	return created, nil
}

func parseInvoiceDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(invoiceDateLayout, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: date %q must be YYYY-MM-DD", store.ErrInvalidRequest, raw)
	}
	return &t, nil
}

// RecordPayment appends a payment to an invoice. Paying more than the
// outstanding balance fails with store.ErrOverPayment.
func (s *Service) RecordPayment(ctx context.Context, actor domain.Actor, invoiceID string, req domain.PaymentRequest) (*domain.PaymentResult, error) {
	if err := requirePermission(actor, domain.PermSupplierManage); err != nil {
		return nil, err
	}
	if req.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: payment amount must be positive", store.ErrInvalidRequest)
	}

	payment := domain.Payment{
		ID:         xid.New("pay"),
		InvoiceID:  invoiceID,
		Amount:     req.Amount,
		Method:     strings.TrimSpace(req.Method),
		Reference:  strings.TrimSpace(req.Reference),
		Note:       strings.TrimSpace(req.Note),
		RecordedBy: actor.ID,
		CreatedAt:  s.now(),
	}

	var invoice *domain.SupplierInvoice
	err := s.withLock(ctx, "invoice", lock.InvoiceKey(invoiceID), func() error {
		var err error
		invoice, err = s.repo.RecordPayment(ctx, payment)
		return err
	})
	s.metrics.ObserveSupplierPayment(err)
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, actor, invoice.BranchID, "invoice_payment", "supplier_invoice", invoice.ID,
		fmt.Sprintf("amount=%s,balance=%s,status=%s", payment.Amount.StringFixed(2), invoice.Balance.StringFixed(2), invoice.Status))
	s.publish(events.InvoicePaymentRecorded, invoice.ID, invoice.BranchID, actor, map[string]string{
		"amount":  payment.Amount.StringFixed(2),
		"balance": invoice.Balance.StringFixed(2),
		"status":  string(invoice.Status),
	})
	return &domain.PaymentResult{Invoice: *invoice, Payment: payment}, nil
}

func (s *Service) GetInvoice(ctx context.Context, id string) (*domain.SupplierInvoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

func (s *Service) ListInvoices(ctx context.Context, filter domain.InvoiceFilter) ([]domain.SupplierInvoice, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown invoice status %q", store.ErrInvalidRequest, filter.Status)
	}
	return s.repo.ListInvoices(ctx, filter)
}

func (s *Service) ListPayments(ctx context.Context, invoiceID string) ([]domain.Payment, error) {
	return s.repo.ListPayments(ctx, invoiceID)
}
