package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// UnlimitedQuantity is reported for products held by the online branch,
// whose stock is not tracked.
const UnlimitedQuantity = -1

type Branch struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Address   string     `json:"address"`
	Phone     string     `json:"phone"`
	Region    string     `json:"region"`
	IsOnline  bool       `json:"is_online"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

func (b Branch) Deleted() bool {
	return b.DeletedAt != nil
}

type Product struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	UnitCost decimal.Decimal `json:"unit_cost"`
	Active   bool            `json:"active"`
}

type InventoryRecord struct {
	BranchID  string    `json:"branch_id"`
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	Unlimited bool      `json:"unlimited,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InventoryMovement is an append-only record of one stock mutation.
type InventoryMovement struct {
	ID             string    `json:"id"`
	BranchID       string    `json:"branch_id"`
	ProductID      string    `json:"product_id"`
	QuantityChange int       `json:"quantity_change"`
	ReasonCode     string    `json:"reason_code"`
	Reference      string    `json:"reference,omitempty"`
	Note           string    `json:"note,omitempty"`
	ActorID        string    `json:"actor_id"`
	CreatedAt      time.Time `json:"created_at"`
}

const (
	ReasonOrderReserve     = "order_reserve"
	ReasonOrderRelease     = "order_release"
	ReasonManualAdjustment = "manual_adjustment"
	ReasonStockTaking      = "stock_taking"
)

func IsAdjustmentReason(code string) bool {
	return code == ReasonManualAdjustment || code == ReasonStockTaking
}

type MovementFilter struct {
	BranchID  string
	ProductID string
	From      time.Time
	To        time.Time
	Limit     int
}

type OrderLine struct {
	ProductID         string          `json:"product_id"`
	Quantity          int             `json:"quantity"`
	UnitPriceSnapshot decimal.Decimal `json:"unit_price_snapshot"`
}

func (l OrderLine) Subtotal() decimal.Decimal {
	return l.UnitPriceSnapshot.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Order struct {
	ID              string          `json:"id"`
	Channel         string          `json:"channel"`
	BranchID        string          `json:"branch_id"`
	CustomerID      string          `json:"customer_id"`
	Lines           []OrderLine     `json:"lines"`
	ShippingAddress string          `json:"shipping_address"`
	PaymentMethod   string          `json:"payment_method"`
	Status          OrderStatus     `json:"orderStatus"`
	TotalPrice      decimal.Decimal `json:"total_price"`
	ClaimedBranchID string          `json:"claimed_branch_id,omitempty"`
	ClaimedBy       string          `json:"claimed_by,omitempty"`
	ClaimedAt       *time.Time      `json:"claimed_at,omitempty"`
	ReturnReason    string          `json:"return_reason,omitempty"`
	CreatedBy       string          `json:"created_by"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

const (
	ChannelOnline = "online"
	ChannelBranch = "branch"
)

// Unclaimed reports whether an online order is still waiting for a physical branch.
func (o Order) Unclaimed() bool {
	return o.Channel == ChannelOnline && o.ClaimedBranchID == ""
}

type OrderFilter struct {
	BranchID      string
	Status        OrderStatus
	Channel       string
	UnclaimedOnly bool
	From          time.Time
	To            time.Time
	Limit         int
}

type ApprovalType string

const (
	ApprovalInventoryAdjustment ApprovalType = "inventory_adjustment"
	ApprovalReturn              ApprovalType = "return"
)

// AdjustmentPayload is the stock change an inventory_adjustment request applies once approved.
type AdjustmentPayload struct {
	ProductID        string `json:"product_id"`
	TargetQuantity   int    `json:"target_quantity"`
	PreviousQuantity int    `json:"previous_quantity"`
	Delta            int    `json:"delta"`
	ReasonCode       string `json:"reason_code"`
	Note             string `json:"note,omitempty"`
}

type ReturnPayload struct {
	OrderID        string      `json:"order_id"`
	PreviousStatus OrderStatus `json:"previous_status"`
	Reason         string      `json:"reason"`
}

type ApprovalPayload struct {
	Adjustment *AdjustmentPayload `json:"adjustment,omitempty"`
	Return     *ReturnPayload     `json:"return,omitempty"`
}

type ApprovalRequest struct {
	ID             string          `json:"id"`
	Type           ApprovalType    `json:"type"`
	BranchID       string          `json:"branch_id"`
	RequestedBy    string          `json:"requested_by"`
	Payload        ApprovalPayload `json:"payload"`
	Value          decimal.Decimal `json:"value"`
	Status         ApprovalStatus  `json:"status"`
	Reason         string          `json:"reason"`
	ResolvedBy     string          `json:"resolved_by,omitempty"`
	ResolutionNote string          `json:"resolution_note,omitempty"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

type ApprovalFilter struct {
	Status   ApprovalStatus
	BranchID string
	OrderID  string
	Limit    int
}

type Supplier struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type InvoiceLine struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
}

func (l InvoiceLine) Cost() decimal.Decimal {
	return l.UnitCost.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type SupplierInvoice struct {
	ID            string          `json:"id"`
	InvoiceNumber string          `json:"invoice_number"`
	SupplierID    string          `json:"supplier_id"`
	BranchID      string          `json:"branch_id"`
	Reference     string          `json:"reference,omitempty"`
	DateSupplied  *time.Time      `json:"date_supplied,omitempty"`
	DueDate       *time.Time      `json:"due_date,omitempty"`
	Lines         []InvoiceLine   `json:"lines"`
	Tax           decimal.Decimal `json:"tax"`
	Total         decimal.Decimal `json:"total"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	Balance       decimal.Decimal `json:"balance"`
	Status        InvoiceStatus   `json:"status"`
	Notes         string          `json:"notes,omitempty"`
	CreatedBy     string          `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Payment is append-only; it is never edited or deleted once recorded.
type Payment struct {
	ID         string          `json:"id"`
	InvoiceID  string          `json:"invoice_id"`
	Amount     decimal.Decimal `json:"amount"`
	Method     string          `json:"method"`
	Reference  string          `json:"reference,omitempty"`
	Note       string          `json:"note,omitempty"`
	RecordedBy string          `json:"recorded_by"`
	CreatedAt  time.Time       `json:"created_at"`
}

type InvoiceFilter struct {
	SupplierID string
	BranchID   string
	Status     InvoiceStatus
	Limit      int
}

type AuditLog struct {
	ID         string    `json:"id"`
	BranchID   string    `json:"branch_id,omitempty"`
	ActorID    string    `json:"actor_id"`
	ActorRole  Role      `json:"actor_role"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}

type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      Role      `json:"role"`
	BranchID  string    `json:"branch_id,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
