package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"pharmastock/backend/internal/store"
)

const (
	ResultOK                = "ok"
	ResultInsufficientStock = "insufficient_stock"
	ResultOverPayment       = "over_payment"
	ResultLockTimeout       = "lock_timeout"
	ResultError             = "error"
)

type Metrics struct {
	reservations     *prometheus.CounterVec
	adjustments      *prometheus.CounterVec
	approvals        *prometheus.CounterVec
	orders           *prometheus.CounterVec
	supplierPayments *prometheus.CounterVec
	lockTimeouts     *prometheus.CounterVec
	lockWait         *prometheus.HistogramVec
}

// New registers the collectors on registerer; nil means the default registry.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pharmastock_stock_reservations_total",
			Help: "Stock reservations by result.",
		}, []string{"result"}),
		adjustments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pharmastock_stock_adjustments_total",
			Help: "Direct stock adjustments by outcome (applied, pending_approval).",
		}, []string{"outcome"}),
		approvals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pharmastock_approvals_resolved_total",
			Help: "Approval requests resolved by type and terminal status.",
		}, []string{"type", "status"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pharmastock_orders_total",
			Help: "Order lifecycle events.",
		}, []string{"event"}),
		supplierPayments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pharmastock_supplier_payments_total",
			Help: "Supplier payments by result.",
		}, []string{"result"}),
		lockTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pharmastock_lock_timeouts_total",
			Help: "Keyed lock acquisitions that gave up waiting.",
		}, []string{"scope"}),
		lockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pharmastock_lock_wait_seconds",
			Help:    "Time spent waiting for a keyed lock.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"scope"}),
	}
	registerer.MustRegister(m.reservations, m.adjustments, m.approvals, m.orders, m.supplierPayments, m.lockTimeouts, m.lockWait)
	return m
}

// NewUnregistered builds collectors on a private registry, for tests and
// callers that do not expose /metrics.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}

func classify(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, store.ErrInsufficientStock):
		return ResultInsufficientStock
	case errors.Is(err, store.ErrOverPayment):
		return ResultOverPayment
	case errors.Is(err, store.ErrLockTimeout):
		return ResultLockTimeout
	default:
		return ResultError
	}
}

func (m *Metrics) ObserveReservation(err error) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(classify(err)).Inc()
}

func (m *Metrics) IncAdjustment(outcome string) {
	if m == nil {
		return
	}
	m.adjustments.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncApprovalResolved(approvalType string, status string) {
	if m == nil {
		return
	}
	m.approvals.WithLabelValues(approvalType, status).Inc()
}

func (m *Metrics) IncOrderEvent(event string) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveSupplierPayment(err error) {
	if m == nil {
		return
	}
	m.supplierPayments.WithLabelValues(classify(err)).Inc()
}

func (m *Metrics) ObserveLockWait(scope string, waited time.Duration, err error) {
	if m == nil {
		return
	}
	m.lockWait.WithLabelValues(scope).Observe(waited.Seconds())
	if errors.Is(err, store.ErrLockTimeout) {
		m.lockTimeouts.WithLabelValues(scope).Inc()
	}
}
