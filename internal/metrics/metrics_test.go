package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"pharmastock/backend/internal/store"
)

func TestObserveReservationClassifiesErrors(t *testing.T) {
	m := NewUnregistered()

	m.ObserveReservation(nil)
	m.ObserveReservation(fmt.Errorf("reserve p1: %w", store.ErrInsufficientStock))
	m.ObserveReservation(errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.reservations.WithLabelValues(ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reservations.WithLabelValues(ResultInsufficientStock)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reservations.WithLabelValues(ResultError)))
}

func TestObserveLockWaitCountsTimeouts(t *testing.T) {
	m := NewUnregistered()

	m.ObserveLockWait("stock", 5*time.Millisecond, nil)
	m.ObserveLockWait("stock", 2*time.Second, store.ErrLockTimeout)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.lockTimeouts.WithLabelValues("stock")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveReservation(nil)
	m.IncAdjustment("applied")
	m.IncApprovalResolved("return", "approved")
	m.IncOrderEvent("created")
	m.ObserveSupplierPayment(nil)
	m.ObserveLockWait("order", time.Millisecond, nil)
}
