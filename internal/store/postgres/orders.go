package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pharmastock/backend/internal/domain"
	"pharmastock/backend/internal/store"
)

const orderColumns = `id, channel, branch_id, customer_id, shipping_address, payment_method, status, total_price,
	claimed_branch_id, claimed_by, claimed_at, return_reason, created_by, created_at, updated_at`

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if order.ID == "" || order.BranchID == "" || len(order.Lines) == 0 {
		return nil, store.ErrInvalidRequest
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	order.UpdatedAt = order.CreatedAt

	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, channel, branch_id, customer_id, shipping_address, payment_method, status, total_price, created_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, order.ID, order.Channel, order.BranchID, order.CustomerID, order.ShippingAddress, order.PaymentMethod,
		string(order.Status), order.TotalPrice, order.CreatedBy, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return nil, store.ErrInvalidRequest
		}
		return nil, mapErr(err)
	}

	for _, line := range order.Lines {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_lines (order_id, product_id, quantity, unit_price_snapshot)
			VALUES ($1,$2,$3,$4)
		`, order.ID, line.ProductID, line.Quantity, line.UnitPriceSnapshot); err != nil {
			return nil, mapErr(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, mapErr(err)
	}
	created := order
	return &created, nil
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var o domain.Order
	var claimedBranch, claimedBy, returnReason sql.NullString
	var claimedAt sql.NullTime
	err := row.Scan(
		&o.ID,
		&o.Channel,
		&o.BranchID,
		&o.CustomerID,
		&o.ShippingAddress,
		&o.PaymentMethod,
		&o.Status,
		&o.TotalPrice,
		&claimedBranch,
		&claimedBy,
		&claimedAt,
		&returnReason,
		&o.CreatedBy,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}
	o.ClaimedBranchID = claimedBranch.String
	o.ClaimedBy = claimedBy.String
	o.ClaimedAt = utcPtr(claimedAt)
	o.ReturnReason = returnReason.String
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return o, nil
}

func getOrder(ctx context.Context, q queryer, id string) (*domain.Order, error) {
	order, err := scanOrder(q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	lines, err := loadOrderLines(ctx, q, []string{id})
	if err != nil {
		return nil, err
	}
	order.Lines = lines[id]
	return &order, nil
}

func loadOrderLines(ctx context.Context, q queryer, orderIDs []string) (map[string][]domain.OrderLine, error) {
	result := make(map[string][]domain.OrderLine, len(orderIDs))
	if len(orderIDs) == 0 {
		return result, nil
	}

	rows, err := q.QueryContext(ctx, `
		SELECT order_id, product_id, quantity, unit_price_snapshot
		FROM order_lines
		WHERE order_id = ANY($1)
		ORDER BY id ASC
	`, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var orderID string
		var line domain.OrderLine
		if err := rows.Scan(&orderID, &line.ProductID, &line.Quantity, &line.UnitPriceSnapshot); err != nil {
			return nil, err
		}
		result[orderID] = append(result[orderID], line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return getOrder(ctx, s.db, id)
}

func (s *Store) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE ($1::text = '' OR branch_id = $1)
		  AND ($2::text = '' OR status = $2)
		  AND ($3::text = '' OR channel = $3)
		  AND (NOT $4::boolean OR (channel = 'online' AND claimed_branch_id IS NULL))
		  AND ($5::timestamptz IS NULL OR created_at >= $5)
		  AND ($6::timestamptz IS NULL OR created_at < $6)
		ORDER BY created_at DESC, id DESC
		LIMIT NULLIF($7::int, 0)
	`, filter.BranchID, string(filter.Status), filter.Channel, filter.UnclaimedOnly,
		nullZeroTime(filter.From), nullZeroTime(filter.To), filter.Limit)
	if err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, 32)
	ids := make([]string, 0, 32)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		orders = append(orders, order)
		ids = append(ids, order.ID)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	lines, err := loadOrderLines(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Lines = lines[orders[i].ID]
	}
	return orders, nil
}

func (s *Store) ClaimOrder(ctx context.Context, id string, fromBranchID string, toBranchID string, claimedBy string, at time.Time) (*domain.Order, error) {
	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var branchID string
	var claimedBranch sql.NullString
	var status domain.OrderStatus
	err = tx.QueryRowContext(ctx, `
		SELECT branch_id, claimed_branch_id, status
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&branchID, &claimedBranch, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, mapErr(err)
	}
	if claimedBranch.Valid || branchID != fromBranchID {
		return nil, store.ErrAlreadyClaimed
	}
	if status != domain.OrderProcessing {
		return nil, store.ErrInvalidTransition
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET branch_id = $2, claimed_branch_id = $2, claimed_by = $3, claimed_at = $4, updated_at = $4
		WHERE id = $1
	`, id, toBranchID, claimedBy, at); err != nil {
		return nil, mapErr(err)
	}

	order, err := getOrder(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, mapErr(err)
	}
	return order, nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, id string, from domain.OrderStatus, to domain.OrderStatus, returnReason string, at time.Time) (*domain.Order, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $3, return_reason = COALESCE($4, return_reason), updated_at = $5
		WHERE id = $1 AND status = $2
	`, id, string(from), string(to), nullIfEmpty(returnReason), at)
	if err != nil {
		return nil, mapErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}

	order, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrInvalidTransition
	}
	return order, nil
}

const approvalColumns = `id, type, branch_id, requested_by, payload, value, status, reason,
	resolved_by, resolution_note, resolved_at, created_at`

func (s *Store) CreateApproval(ctx context.Context, req domain.ApprovalRequest) (*domain.ApprovalRequest, error) {
	if req.ID == "" || req.Type == "" || req.RequestedBy == "" {
		return nil, store.ErrInvalidRequest
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode approval payload: %w", err)
	}
	var orderID string
	if req.Payload.Return != nil {
		orderID = req.Payload.Return.OrderID
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO approval_requests (id, type, branch_id, order_id, requested_by, payload, value, status, reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, req.ID, string(req.Type), req.BranchID, nullIfEmpty(orderID), req.RequestedBy, payload, req.Value,
		string(req.Status), req.Reason, req.CreatedAt)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return nil, store.ErrInvalidRequest
		}
		return nil, mapErr(err)
	}

	created := req
	return &created, nil
}

func scanApproval(row rowScanner) (domain.ApprovalRequest, error) {
	var req domain.ApprovalRequest
	var payload []byte
	var resolvedBy, note sql.NullString
	var resolvedAt sql.NullTime
	err := row.Scan(
		&req.ID,
		&req.Type,
		&req.BranchID,
		&req.RequestedBy,
		&payload,
		&req.Value,
		&req.Status,
		&req.Reason,
		&resolvedBy,
		&note,
		&resolvedAt,
		&req.CreatedAt,
	)
	if err != nil {
		return req, err
	}
	if err := json.Unmarshal(payload, &req.Payload); err != nil {
		return req, fmt.Errorf("decode approval payload %s: %w", req.ID, err)
	}
	req.ResolvedBy = resolvedBy.String
	req.ResolutionNote = note.String
	req.ResolvedAt = utcPtr(resolvedAt)
	req.CreatedAt = req.CreatedAt.UTC()
	return req, nil
}

func (s *Store) GetApproval(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	req, err := scanApproval(s.db.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approval_requests WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &req, nil
}

func (s *Store) ListApprovals(ctx context.Context, filter domain.ApprovalFilter) ([]domain.ApprovalRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+approvalColumns+`
		FROM approval_requests
		WHERE ($1::text = '' OR status = $1)
		  AND ($2::text = '' OR branch_id = $2)
		  AND ($3::text = '' OR order_id = $3)
		ORDER BY created_at ASC, id ASC
		LIMIT NULLIF($4::int, 0)
	`, string(filter.Status), filter.BranchID, filter.OrderID, filter.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	requests := make([]domain.ApprovalRequest, 0, 16)
	for rows.Next() {
		req, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return requests, nil
}

func (s *Store) ResolveApproval(ctx context.Context, id string, status domain.ApprovalStatus, resolvedBy string, note string, at time.Time) (*domain.ApprovalRequest, error) {
	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	req, err := scanApproval(tx.QueryRowContext(ctx, `
		SELECT `+approvalColumns+`
		FROM approval_requests
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, mapErr(err)
	}
	if !req.Status.CanTransitionTo(status) {
		return &req, store.ErrInvalidTransition
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE approval_requests
		SET status = $2, resolved_by = $3, resolution_note = $4, resolved_at = $5
		WHERE id = $1
	`, id, string(status), resolvedBy, nullIfEmpty(note), at); err != nil {
		return nil, mapErr(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, mapErr(err)
	}

	req.Status = status
	req.ResolvedBy = resolvedBy
	req.ResolutionNote = note
	resolved := at.UTC()
	req.ResolvedAt = &resolved
	return &req, nil
}
