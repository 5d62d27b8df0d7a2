package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmastock/backend/internal/domain"
	"pharmastock/backend/internal/store"
)

func createInvoice(t *testing.T, f *fixture, total int64) *domain.SupplierInvoice {
	t.Helper()
	inv, err := f.svc.CreateInvoice(context.Background(), manager, domain.InvoiceCreateRequest{
		SupplierID:   "sup-emzor",
		BranchID:     ikeja,
		DateSupplied: "2026-03-02",
		DueDate:      "2026-04-01",
		Lines:        []domain.InvoiceLine{{ProductID: "prod-paracetamol", Quantity: 10, UnitCost: dec(total / 10)}},
	})
	require.NoError(t, err)
	return inv
}

func pay(f *fixture, invoiceID string, amount int64) (*domain.PaymentResult, error) {
	return f.svc.RecordPayment(context.Background(), manager, invoiceID, domain.PaymentRequest{
		Amount: dec(amount),
		Method: "transfer",
	})
}

func TestSupplierPaymentsSettleInvoice(t *testing.T) {
	f := newTestService(t)
	inv := createInvoice(t, f, 10_000)
	assert.Equal(t, domain.InvoiceUnpaid, inv.Status)
	assert.Equal(t, "10000", inv.Balance.String())
	require.NotNil(t, inv.DueDate)

	res, err := pay(f, inv.ID, 4_000)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoicePartiallyPaid, res.Invoice.Status)
	assert.Equal(t, "6000", res.Invoice.Balance.String())

	res, err = pay(f, inv.ID, 6_000)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoicePaid, res.Invoice.Status)
	assert.True(t, res.Invoice.Balance.IsZero())

	_, err = pay(f, inv.ID, 1)
	require.ErrorIs(t, err, store.ErrOverPayment)

	payments, err := f.svc.ListPayments(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 2)
}

func TestInvoiceTotalIncludesTax(t *testing.T) {
	f := newTestService(t)
	inv, err := f.svc.CreateInvoice(context.Background(), manager, domain.InvoiceCreateRequest{
		SupplierID: "sup-fidson",
		Lines: []domain.InvoiceLine{
			{ProductID: "prod-ors", Quantity: 20, UnitCost: decimal.RequireFromString("350.50")},
			{ProductID: "prod-vitc", Quantity: 2, UnitCost: dec(2800)},
		},
		Tax: decimal.RequireFromString("125.25"),
	})
	require.NoError(t, err)
	assert.Equal(t, "12735.25", inv.Total.StringFixed(2))
	assert.NotEmpty(t, inv.InvoiceNumber)
}

func TestCreateInvoiceValidation(t *testing.T) {
	f := newTestService(t)
	ctx := context.Background()
	valid := []domain.InvoiceLine{{ProductID: "prod-ors", Quantity: 1, UnitCost: dec(350)}}

	_, err := f.svc.CreateInvoice(ctx, manager, domain.InvoiceCreateRequest{SupplierID: "sup-emzor"})
	assert.ErrorIs(t, err, store.ErrInvalidRequest)

	_, err = f.svc.CreateInvoice(ctx, manager, domain.InvoiceCreateRequest{SupplierID: "sup-emzor", Lines: valid, Tax: dec(-1)})
	assert.ErrorIs(t, err, store.ErrInvalidRequest)

	free := []domain.InvoiceLine{{ProductID: "prod-ors", Quantity: 5, UnitCost: decimal.Zero}}
	_, err = f.svc.CreateInvoice(ctx, manager, domain.InvoiceCreateRequest{SupplierID: "sup-emzor", Lines: free})
	assert.ErrorIs(t, err, store.ErrInvalidRequest, "a zero-total invoice has nothing to pay")

	_, err = f.svc.CreateInvoice(ctx, manager, domain.InvoiceCreateRequest{SupplierID: "sup-emzor", Lines: valid, DueDate: "01/04/2026"})
	assert.ErrorIs(t, err, store.ErrInvalidRequest)

	_, err = f.svc.CreateInvoice(ctx, manager, domain.InvoiceCreateRequest{SupplierID: "sup-nobody", Lines: valid})
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.svc.CreateInvoice(ctx, staff, domain.InvoiceCreateRequest{SupplierID: "sup-emzor", Lines: valid})
	assert.ErrorIs(t, err, store.ErrForbidden)
}

func TestConcurrentPaymentsNeverOverpay(t *testing.T) {
	f := newTestService(t)
	inv := createInvoice(t, f, 1_000)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		ok   int
		over int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := pay(f, inv.ID, 150)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, store.ErrOverPayment):
				over++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 6, ok)
	assert.Equal(t, 4, over)

	stored, err := f.svc.GetInvoice(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, "900", stored.AmountPaid.String())
	assert.Equal(t, "100", stored.Balance.String())
	assert.Equal(t, domain.InvoicePartiallyPaid, stored.Status)
}

func TestPaymentMustBePositive(t *testing.T) {
	f := newTestService(t)
	inv := createInvoice(t, f, 1_000)

	_, err := pay(f, inv.ID, 0)
	assert.ErrorIs(t, err, store.ErrInvalidRequest)
	_, err = pay(f, "inv-missing", 10)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateSupplierRequiresName(t *testing.T) {
	f := newTestService(t)
	ctx := context.Background()

	_, err := f.svc.CreateSupplier(ctx, manager, domain.SupplierCreateRequest{Name: " "})
	assert.ErrorIs(t, err, store.ErrInvalidRequest)

	sup, err := f.svc.CreateSupplier(ctx, manager, domain.SupplierCreateRequest{Name: "May & Baker", Email: "orders@maybaker.ng"})
	require.NoError(t, err)
	got, err := f.svc.GetSupplier(ctx, sup.ID)
	require.NoError(t, err)
	assert.Equal(t, "May & Baker", got.Name)
}
