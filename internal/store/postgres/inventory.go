package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"pharmastock/backend/internal/domain"
	"pharmastock/backend/internal/store"
	"pharmastock/backend/internal/xid"
)

func (s *Store) GetQuantity(ctx context.Context, branchID string, productID string) (int, error) {
	var exists bool
	var qty int
	err := s.db.QueryRowContext(ctx, `
		SELECT
			EXISTS (SELECT 1 FROM branches WHERE id = $1),
			COALESCE((SELECT quantity FROM inventory_records WHERE branch_id = $1 AND product_id = $2), 0)
	`, branchID, productID).Scan(&exists, &qty)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, store.ErrNotFound
	}
	return qty, nil
}

func (s *Store) ListInventory(ctx context.Context, branchID string) ([]domain.InventoryRecord, error) {
	if _, err := s.GetBranch(ctx, branchID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT branch_id, product_id, quantity, updated_at
		FROM inventory_records
		WHERE branch_id = $1
		ORDER BY product_id ASC
	`, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.InventoryRecord, 0, 64)
	for rows.Next() {
		var rec domain.InventoryRecord
		if err := rows.Scan(&rec.BranchID, &rec.ProductID, &rec.Quantity, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.UpdatedAt = rec.UpdatedAt.UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) ChangeQuantity(ctx context.Context, mv domain.InventoryMovement) (int, error) {
	if mv.BranchID == "" || mv.ProductID == "" || mv.ReasonCode == "" {
		return 0, store.ErrInvalidRequest
	}
	stampMovement(&mv)

	tx, err := s.beginTx(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	current, err := lockRecord(ctx, tx, mv.BranchID, mv.ProductID, mv.CreatedAt)
	if err != nil {
		return 0, err
	}
	next := current + mv.QuantityChange
	if next < 0 {
		return current, store.ErrInsufficientStock
	}

	if err := writeRecord(ctx, tx, mv, next); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, mapErr(err)
	}
	return next, nil
}

func (s *Store) SetQuantity(ctx context.Context, mv domain.InventoryMovement, target int, expected int) (*domain.InventoryMovement, error) {
	if mv.BranchID == "" || mv.ProductID == "" || mv.ReasonCode == "" || target < 0 {
		return nil, store.ErrInvalidRequest
	}
	stampMovement(&mv)

	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	current, err := lockRecord(ctx, tx, mv.BranchID, mv.ProductID, mv.CreatedAt)
	if err != nil {
		return nil, err
	}
	if expected != store.AnyQuantity && current != expected {
		return nil, store.ErrStockConflict
	}
	if current == target {
		return nil, nil
	}

	mv.QuantityChange = target - current
	if err := writeRecord(ctx, tx, mv, target); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, mapErr(err)
	}
	return &mv, nil
}

func (s *Store) AppendMovement(ctx context.Context, mv domain.InventoryMovement) error {
	if mv.BranchID == "" || mv.ProductID == "" || mv.ReasonCode == "" {
		return store.ErrInvalidRequest
	}
	stampMovement(&mv)
	return insertMovement(ctx, s.db, mv)
}

func (s *Store) ListMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.InventoryMovement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, branch_id, product_id, quantity_change, reason_code, reference, note, actor_id, created_at
		FROM inventory_movements
		WHERE ($1::text = '' OR branch_id = $1)
		  AND ($2::text = '' OR product_id = $2)
		  AND ($3::timestamptz IS NULL OR created_at >= $3)
		  AND ($4::timestamptz IS NULL OR created_at < $4)
		ORDER BY created_at ASC, id ASC
		LIMIT NULLIF($5::int, 0)
	`, filter.BranchID, filter.ProductID, nullZeroTime(filter.From), nullZeroTime(filter.To), filter.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	moves := make([]domain.InventoryMovement, 0, 64)
	for rows.Next() {
		var mv domain.InventoryMovement
		var reference, note sql.NullString
		if err := rows.Scan(&mv.ID, &mv.BranchID, &mv.ProductID, &mv.QuantityChange, &mv.ReasonCode, &reference, &note, &mv.ActorID, &mv.CreatedAt); err != nil {
			return nil, err
		}
		mv.Reference = reference.String
		mv.Note = note.String
		mv.CreatedAt = mv.CreatedAt.UTC()
		moves = append(moves, mv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return moves, nil
}

// lockRecord materializes the record if missing and takes its row lock.
func lockRecord(ctx context.Context, tx *sql.Tx, branchID string, productID string, at time.Time) (int, error) {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO inventory_records (branch_id, product_id, quantity, updated_at)
		VALUES ($1,$2,0,$3)
		ON CONFLICT (branch_id, product_id) DO NOTHING
	`, branchID, productID, at); err != nil {
		return 0, mapErr(err)
	}

	var qty int
	err := tx.QueryRowContext(ctx, `
		SELECT quantity
		FROM inventory_records
		WHERE branch_id = $1 AND product_id = $2
		FOR UPDATE
	`, branchID, productID).Scan(&qty)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, mapErr(err)
	}
	return qty, nil
}

func writeRecord(ctx context.Context, tx *sql.Tx, mv domain.InventoryMovement, qty int) error {
	if _, err := tx.ExecContext(ctx, `
		UPDATE inventory_records
		SET quantity = $3, updated_at = $4
		WHERE branch_id = $1 AND product_id = $2
	`, mv.BranchID, mv.ProductID, qty, mv.CreatedAt); err != nil {
		return mapErr(err)
	}
	return insertMovement(ctx, tx, mv)
}

func insertMovement(ctx context.Context, q queryer, mv domain.InventoryMovement) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO inventory_movements (id, branch_id, product_id, quantity_change, reason_code, reference, note, actor_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, mv.ID, mv.BranchID, mv.ProductID, mv.QuantityChange, mv.ReasonCode, nullIfEmpty(mv.Reference), nullIfEmpty(mv.Note), mv.ActorID, mv.CreatedAt)
	return mapErr(err)
}

func stampMovement(mv *domain.InventoryMovement) {
	if mv.ID == "" {
		mv.ID = xid.New("mv")
	}
	if mv.CreatedAt.IsZero() {
		mv.CreatedAt = time.Now().UTC()
	}
}
