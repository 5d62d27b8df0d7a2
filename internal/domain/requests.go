package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type BranchCreateRequest struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	Phone    string `json:"phone"`
	Region   string `json:"region"`
	IsOnline bool   `json:"is_online"`
}

// AdjustRequest sets a product's quantity at a branch to TargetQuantity.
// ReasonCode is manual_adjustment (default) or stock_taking; Note carries the
// free-text reason such as "theft".
type AdjustRequest struct {
	BranchID       string
	ProductID      string
	TargetQuantity int
	ReasonCode     string
	Note           string
}

type AdjustResult struct {
	Outcome          Outcome            `json:"outcome"`
	ApprovalID       string             `json:"approval_id,omitempty"`
	ProductID        string             `json:"product_id"`
	PreviousQuantity int                `json:"previous_quantity"`
	TargetQuantity   int                `json:"target_quantity"`
	Delta            int                `json:"delta"`
	Movement         *InventoryMovement `json:"movement,omitempty"`
}

type StockItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type InventoryUpdateRequest struct {
	Items  []StockItem `json:"items"`
	Reason string      `json:"reason"`
}

type InventoryUpdateResponse struct {
	BranchID    string         `json:"branch_id"`
	Results     []AdjustResult `json:"results"`
	ApprovalIDs []string       `json:"approval_ids"`
}

type OrderLineRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type OrderCreateRequest struct {
	CustomerID      string             `json:"customer_id"`
	BranchID        string             `json:"branch_id,omitempty"`
	Lines           []OrderLineRequest `json:"lines"`
	ShippingAddress string             `json:"shipping_address"`
	PaymentMethod   string             `json:"payment_method"`
}

type OrderClaimRequest struct {
	BranchID string `json:"branch_id"`
}

type OrderStatusRequest struct {
	Status OrderStatus `json:"status"`
	Reason string      `json:"reason,omitempty"`
}

type OrderStatusResult struct {
	Outcome    Outcome `json:"outcome"`
	ApprovalID string  `json:"approval_id,omitempty"`
	Order      Order   `json:"order"`
}

type StockCountRequest struct {
	Counts map[string]int `json:"counts"`
	Reason string         `json:"reason"`
}

type StockCountLine struct {
	ProductID   string          `json:"product_id"`
	SystemQty   int             `json:"system_qty"`
	CountedQty  int             `json:"counted_qty"`
	Delta       int             `json:"delta"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	ValueImpact decimal.Decimal `json:"value_impact"`
	Outcome     Outcome         `json:"outcome"`
	ApprovalID  string          `json:"approval_id,omitempty"`
}

type StockCountSummary struct {
	BranchID           string           `json:"branch_id"`
	TotalItems         int              `json:"totalItems"`
	ExcessCount        int              `json:"excessCount"`
	ExcessValue        decimal.Decimal  `json:"excessValue"`
	ShortageCount      int              `json:"shortageCount"`
	ShortageValue      decimal.Decimal  `json:"shortageValue"`
	PendingApprovalIDs []string         `json:"pendingApprovalIds"`
	Lines              []StockCountLine `json:"lines"`
	CountedAt          time.Time        `json:"counted_at"`
}

type ApprovalResolveRequest struct {
	Note string `json:"note,omitempty"`
}

type SupplierCreateRequest struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
	Address string `json:"address"`
}

type InvoiceCreateRequest struct {
	SupplierID    string          `json:"supplier_id"`
	BranchID      string          `json:"branch_id"`
	InvoiceNumber string          `json:"invoice_number"`
	Reference     string          `json:"reference"`
	DateSupplied  string          `json:"date_supplied"`
	DueDate       string          `json:"due_date"`
	Lines         []InvoiceLine   `json:"lines"`
	Tax           decimal.Decimal `json:"tax"`
	Notes         string          `json:"notes"`
}

type PaymentRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method"`
	Reference string          `json:"reference"`
	Note      string          `json:"note"`
}

type PaymentResult struct {
	Invoice SupplierInvoice `json:"invoice"`
	Payment Payment         `json:"payment"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
	BranchID string `json:"branch_id,omitempty"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        Role   `json:"role"`
	BranchID    string `json:"branch_id,omitempty"`
	ExpiresAt   string `json:"expires_at"`
}

type MovementReportRow struct {
	CreatedAt      time.Time `json:"createdAt"`
	BranchID       string    `json:"branch_id"`
	ProductID      string    `json:"product_id"`
	ProductName    string    `json:"product_name"`
	Type           string    `json:"type"`
	QuantityChange int       `json:"quantityChange"`
	Reason         string    `json:"reason"`
	ActorID        string    `json:"actor_id"`
}

type ReturnReportRow struct {
	OrderID      string          `json:"order_id"`
	BranchID     string          `json:"branch_id"`
	OrderStatus  OrderStatus     `json:"orderStatus"`
	TotalPrice   decimal.Decimal `json:"totalPrice"`
	ReturnReason string          `json:"return_reason"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type SupplierBalanceRow struct {
	SupplierID   string          `json:"supplier_id"`
	Name         string          `json:"name"`
	InvoiceCount int             `json:"invoice_count"`
	Balance      decimal.Decimal `json:"balance"`
}

type SalesSummaryRow struct {
	Period      string          `json:"period"`
	TotalOrders int             `json:"totalOrders"`
	TotalSales  decimal.Decimal `json:"totalSales"`
}
