package store

import (
	"context"
	"errors"
	"time"

	"pharmastock/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrOverPayment        = errors.New("payment exceeds outstanding balance")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrStockConflict      = errors.New("stock changed concurrently")
	ErrLockTimeout        = errors.New("lock wait timed out, retry")
	ErrForbidden          = errors.New("forbidden")
	ErrSelfApproval       = errors.New("requester cannot approve their own request")
	ErrOnlineBranchExists = errors.New("an online branch already exists")
	ErrAlreadyClaimed     = errors.New("order already claimed")
)

// AnyQuantity disables the expected-quantity check of SetQuantity.
const AnyQuantity = -1

type BranchStore interface {
	// CreateBranch fails with ErrOnlineBranchExists when branch.IsOnline and
	// another live online branch is registered.
	CreateBranch(ctx context.Context, branch domain.Branch) (*domain.Branch, error)
	GetBranch(ctx context.Context, id string) (*domain.Branch, error)
	ListBranches(ctx context.Context, includeDeleted bool) ([]domain.Branch, error)
	GetOnlineBranch(ctx context.Context) (*domain.Branch, error)
	SoftDeleteBranch(ctx context.Context, id string, at time.Time) error
}

type ProductStore interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
}

// InventoryStore owns InventoryRecords and the movement log. Every mutation is
// atomic with the movement it appends.
type InventoryStore interface {
	GetQuantity(ctx context.Context, branchID string, productID string) (int, error)
	ListInventory(ctx context.Context, branchID string) ([]domain.InventoryRecord, error)
	// ChangeQuantity adds mv.QuantityChange to the record and appends mv. A
	// result below zero fails with ErrInsufficientStock and changes nothing.
	ChangeQuantity(ctx context.Context, mv domain.InventoryMovement) (int, error)
	// SetQuantity sets the record to target when its current quantity equals
	// expected (AnyQuantity skips the check, a mismatch is ErrStockConflict).
	// The appended movement carries the computed delta; nil is returned when
	// the quantity was already target.
	SetQuantity(ctx context.Context, mv domain.InventoryMovement, target int, expected int) (*domain.InventoryMovement, error)
	// AppendMovement records a movement without touching quantities. Used for
	// bookkeeping on the online branch.
	AppendMovement(ctx context.Context, mv domain.InventoryMovement) error
	ListMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.InventoryMovement, error)
}

type OrderStore interface {
	CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error)
	// ClaimOrder moves a Processing, unclaimed order from fromBranchID to
	// toBranchID. A claimed order fails with ErrAlreadyClaimed, a non
	// Processing one with ErrInvalidTransition.
	ClaimOrder(ctx context.Context, id string, fromBranchID string, toBranchID string, claimedBy string, at time.Time) (*domain.Order, error)
	// UpdateOrderStatus changes status only when the order is still in from,
	// otherwise ErrInvalidTransition.
	UpdateOrderStatus(ctx context.Context, id string, from domain.OrderStatus, to domain.OrderStatus, returnReason string, at time.Time) (*domain.Order, error)
}

type ApprovalStore interface {
	CreateApproval(ctx context.Context, req domain.ApprovalRequest) (*domain.ApprovalRequest, error)
	GetApproval(ctx context.Context, id string) (*domain.ApprovalRequest, error)
	ListApprovals(ctx context.Context, filter domain.ApprovalFilter) ([]domain.ApprovalRequest, error)
	// ResolveApproval moves a pending request to status. An already resolved
	// request is returned unchanged together with ErrInvalidTransition.
	ResolveApproval(ctx context.Context, id string, status domain.ApprovalStatus, resolvedBy string, note string, at time.Time) (*domain.ApprovalRequest, error)
}

type SupplierStore interface {
	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	GetSupplier(ctx context.Context, id string) (*domain.Supplier, error)
	ListSuppliers(ctx context.Context) ([]domain.Supplier, error)
	CreateInvoice(ctx context.Context, invoice domain.SupplierInvoice) (*domain.SupplierInvoice, error)
	GetInvoice(ctx context.Context, id string) (*domain.SupplierInvoice, error)
	ListInvoices(ctx context.Context, filter domain.InvoiceFilter) ([]domain.SupplierInvoice, error)
	// RecordPayment appends payment and recomputes the invoice balance and
	// status atomically. An amount above the balance fails with ErrOverPayment.
	RecordPayment(ctx context.Context, payment domain.Payment) (*domain.SupplierInvoice, error)
	ListPayments(ctx context.Context, invoiceID string) ([]domain.Payment, error)
}

type AuditStore interface {
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type Repository interface {
	BranchStore
	ProductStore
	InventoryStore
	OrderStore
	ApprovalStore
	SupplierStore
	AuditStore
	UserStore
}
