package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"pharmastock/backend/internal/domain"
	"pharmastock/backend/internal/store"
)

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	if supplier.ID == "" || supplier.Name == "" {
		return nil, store.ErrInvalidRequest
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppliers (id, name, phone, email, address, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, supplier.ID, supplier.Name, nullIfEmpty(supplier.Phone), nullIfEmpty(supplier.Email), nullIfEmpty(supplier.Address), supplier.CreatedAt)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return nil, store.ErrInvalidRequest
		}
		return nil, mapErr(err)
	}

	created := supplier
	return &created, nil
}

func scanSupplier(row rowScanner) (domain.Supplier, error) {
	var sup domain.Supplier
	var phone, email, address sql.NullString
	if err := row.Scan(&sup.ID, &sup.Name, &phone, &email, &address, &sup.CreatedAt); err != nil {
		return sup, err
	}
	sup.Phone = phone.String
	sup.Email = email.String
	sup.Address = address.String
	sup.CreatedAt = sup.CreatedAt.UTC()
	return sup, nil
}

func (s *Store) GetSupplier(ctx context.Context, id string) (*domain.Supplier, error) {
	sup, err := scanSupplier(s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, email, address, created_at
		FROM suppliers
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &sup, nil
}

func (s *Store) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, phone, email, address, created_at
		FROM suppliers
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	suppliers := make([]domain.Supplier, 0, 16)
	for rows.Next() {
		sup, err := scanSupplier(rows)
		if err != nil {
			return nil, err
		}
		suppliers = append(suppliers, sup)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return suppliers, nil
}

const invoiceColumns = `id, invoice_number, supplier_id, branch_id, reference, date_supplied, due_date,
	tax, total, amount_paid, balance, status, notes, created_by, created_at, updated_at`

func (s *Store) CreateInvoice(ctx context.Context, invoice domain.SupplierInvoice) (*domain.SupplierInvoice, error) {
	if invoice.ID == "" || invoice.SupplierID == "" || len(invoice.Lines) == 0 {
		return nil, store.ErrInvalidRequest
	}
	if invoice.CreatedAt.IsZero() {
		invoice.CreatedAt = time.Now().UTC()
	}
	invoice.UpdatedAt = invoice.CreatedAt

	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO supplier_invoices (id, invoice_number, supplier_id, branch_id, reference, date_supplied, due_date,
			tax, total, amount_paid, balance, status, notes, created_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, invoice.ID, invoice.InvoiceNumber, invoice.SupplierID, nullIfEmpty(invoice.BranchID), nullIfEmpty(invoice.Reference),
		nullTime(invoice.DateSupplied), nullTime(invoice.DueDate), invoice.Tax, invoice.Total, invoice.AmountPaid,
		invoice.Balance, string(invoice.Status), nullIfEmpty(invoice.Notes), invoice.CreatedBy, invoice.CreatedAt, invoice.UpdatedAt)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return nil, store.ErrInvalidRequest
		}
		return nil, mapErr(err)
	}

	for _, line := range invoice.Lines {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO supplier_invoice_lines (invoice_id, product_id, quantity, unit_cost)
			VALUES ($1,$2,$3,$4)
		`, invoice.ID, line.ProductID, line.Quantity, line.UnitCost); err != nil {
			return nil, mapErr(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, mapErr(err)
	}
	created := invoice
	return &created, nil
}

func scanInvoice(row rowScanner) (domain.SupplierInvoice, error) {
	var inv domain.SupplierInvoice
	var branch, reference, notes sql.NullString
	var dateSupplied, dueDate sql.NullTime
	err := row.Scan(
		&inv.ID,
		&inv.InvoiceNumber,
		&inv.SupplierID,
		&branch,
		&reference,
		&dateSupplied,
		&dueDate,
		&inv.Tax,
		&inv.Total,
		&inv.AmountPaid,
		&inv.Balance,
		&inv.Status,
		&notes,
		&inv.CreatedBy,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	)
	if err != nil {
		return inv, err
	}
	inv.BranchID = branch.String
	inv.Reference = reference.String
	inv.Notes = notes.String
	inv.DateSupplied = utcPtr(dateSupplied)
	inv.DueDate = utcPtr(dueDate)
	inv.CreatedAt = inv.CreatedAt.UTC()
	inv.UpdatedAt = inv.UpdatedAt.UTC()
	return inv, nil
}

func loadInvoiceLines(ctx context.Context, q queryer, invoiceIDs []string) (map[string][]domain.InvoiceLine, error) {
	result := make(map[string][]domain.InvoiceLine, len(invoiceIDs))
	if len(invoiceIDs) == 0 {
		return result, nil
	}

	rows, err := q.QueryContext(ctx, `
		SELECT invoice_id, product_id, quantity, unit_cost
		FROM supplier_invoice_lines
		WHERE invoice_id = ANY($1)
		ORDER BY id ASC
	`, invoiceIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var invoiceID string
		var line domain.InvoiceLine
		if err := rows.Scan(&invoiceID, &line.ProductID, &line.Quantity, &line.UnitCost); err != nil {
			return nil, err
		}
		result[invoiceID] = append(result[invoiceID], line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func getInvoice(ctx context.Context, q queryer, id string) (*domain.SupplierInvoice, error) {
	inv, err := scanInvoice(q.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM supplier_invoices WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	lines, err := loadInvoiceLines(ctx, q, []string{id})
	if err != nil {
		return nil, err
	}
	inv.Lines = lines[id]
	return &inv, nil
}

func (s *Store) GetInvoice(ctx context.Context, id string) (*domain.SupplierInvoice, error) {
	return getInvoice(ctx, s.db, id)
}

func (s *Store) ListInvoices(ctx context.Context, filter domain.InvoiceFilter) ([]domain.SupplierInvoice, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM supplier_invoices
		WHERE ($1::text = '' OR supplier_id = $1)
		  AND ($2::text = '' OR branch_id = $2)
		  AND ($3::text = '' OR status = $3)
		ORDER BY created_at DESC, id DESC
		LIMIT NULLIF($4::int, 0)
	`, filter.SupplierID, filter.BranchID, string(filter.Status), filter.Limit)
	if err != nil {
		return nil, err
	}

	invoices := make([]domain.SupplierInvoice, 0, 16)
	ids := make([]string, 0, 16)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		invoices = append(invoices, inv)
		ids = append(ids, inv.ID)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	lines, err := loadInvoiceLines(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range invoices {
		invoices[i].Lines = lines[invoices[i].ID]
	}
	return invoices, nil
}

// RecordPayment appends the payment and moves the invoice balance in one
// transaction. The invoice row lock serializes concurrent payments.
func (s *Store) RecordPayment(ctx context.Context, payment domain.Payment) (*domain.SupplierInvoice, error) {
	if payment.ID == "" || payment.InvoiceID == "" || payment.Amount.Sign() <= 0 {
		return nil, store.ErrInvalidRequest
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}

	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var paid, balance decimal.Decimal
	err = tx.QueryRowContext(ctx, `
		SELECT amount_paid, balance
		FROM supplier_invoices
		WHERE id = $1
		FOR UPDATE
	`, payment.InvoiceID).Scan(&paid, &balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, mapErr(err)
	}
	if payment.Amount.GreaterThan(balance) {
		return nil, store.ErrOverPayment
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO supplier_payments (id, invoice_id, amount, method, reference, note, recorded_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, payment.ID, payment.InvoiceID, payment.Amount, payment.Method, nullIfEmpty(payment.Reference),
		nullIfEmpty(payment.Note), payment.RecordedBy, payment.CreatedAt); err != nil {
		return nil, mapErr(err)
	}

	paid = paid.Add(payment.Amount)
	balance = balance.Sub(payment.Amount)
	if _, err := tx.ExecContext(ctx, `
		UPDATE supplier_invoices
		SET amount_paid = $2, balance = $3, status = $4, updated_at = $5
		WHERE id = $1
	`, payment.InvoiceID, paid, balance, string(domain.InvoiceStatusFor(paid, balance)), payment.CreatedAt); err != nil {
		return nil, mapErr(err)
	}

	invoice, err := getInvoice(ctx, tx, payment.InvoiceID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, mapErr(err)
	}
	return invoice, nil
}

func (s *Store) ListPayments(ctx context.Context, invoiceID string) ([]domain.Payment, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM supplier_invoices WHERE id = $1)`, invoiceID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, store.ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, invoice_id, amount, method, reference, note, recorded_by, created_at
		FROM supplier_payments
		WHERE invoice_id = $1
		ORDER BY created_at ASC, id ASC
	`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0, 8)
	for rows.Next() {
		var p domain.Payment
		var reference, note sql.NullString
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.Amount, &p.Method, &reference, &note, &p.RecordedBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Reference = reference.String
		p.Note = note.String
		p.CreatedAt = p.CreatedAt.UTC()
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return payments, nil
}
