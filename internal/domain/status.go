package domain

import "github.com/shopspring/decimal"

type OrderStatus string

const (
	OrderProcessing OrderStatus = "Processing"
	OrderShipped    OrderStatus = "Shipped"
	OrderDelivered  OrderStatus = "Delivered"
	OrderCancelled  OrderStatus = "Cancelled"
	OrderReturned   OrderStatus = "Returned"
)

func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderProcessing, OrderShipped, OrderDelivered, OrderCancelled, OrderReturned:
		return true
	}
	return false
}

// IsTerminal reports whether no further fulfillment transition applies.
// Delivered is terminal for normal transitions but still accepts Returned.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderDelivered || s == OrderCancelled || s == OrderReturned
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	switch s {
	case OrderProcessing:
		return next == OrderShipped || next == OrderCancelled || next == OrderReturned
	case OrderShipped:
		return next == OrderDelivered || next == OrderReturned
	case OrderDelivered:
		return next == OrderReturned
	}
	return false
}

// ReleasesStock reports whether entering this status gives reserved stock back.
func (s OrderStatus) ReleasesStock() bool {
	return s == OrderCancelled || s == OrderReturned
}

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

func (s ApprovalStatus) IsValid() bool {
	return s == ApprovalPending || s == ApprovalApproved || s == ApprovalRejected
}

func (s ApprovalStatus) IsResolved() bool {
	return s == ApprovalApproved || s == ApprovalRejected
}

func (s ApprovalStatus) CanTransitionTo(next ApprovalStatus) bool {
	return s == ApprovalPending && next.IsResolved()
}

type InvoiceStatus string

const (
	InvoiceUnpaid        InvoiceStatus = "unpaid"
	InvoicePartiallyPaid InvoiceStatus = "partially_paid"
	InvoicePaid          InvoiceStatus = "paid"
)

func (s InvoiceStatus) IsValid() bool {
	return s == InvoiceUnpaid || s == InvoicePartiallyPaid || s == InvoicePaid
}

// InvoiceStatusFor derives the payment status from what has been paid so far.
func InvoiceStatusFor(amountPaid, balance decimal.Decimal) InvoiceStatus {
	switch {
	case balance.Sign() <= 0:
		return InvoicePaid
	case amountPaid.Sign() > 0:
		return InvoicePartiallyPaid
	default:
		return InvoiceUnpaid
	}
}

// Outcome tags the result of a mutation that may be deferred to an approver.
type Outcome string

const (
	OutcomeApplied         Outcome = "applied"
	OutcomePendingApproval Outcome = "pending_approval"
)
