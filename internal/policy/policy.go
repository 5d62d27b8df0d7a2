// Package policy decides when a stock change or return must wait for an approver.
package policy

import "github.com/shopspring/decimal"

// Thresholds come from configuration. A zero Units or Value disables that check.
// FourEyes is the request value above which requester and approver must differ;
// zero means every request needs a second person, whatever its value.
type Thresholds struct {
	Units    int
	Value    decimal.Decimal
	FourEyes decimal.Decimal
}

type Policy struct {
	thresholds Thresholds
}

func New(t Thresholds) *Policy {
	return &Policy{thresholds: t}
}

func (p *Policy) Thresholds() Thresholds {
	return p.thresholds
}

// AdjustmentValue is the currency impact of moving delta units at unitCost.
func AdjustmentValue(delta int, unitCost decimal.Decimal) decimal.Decimal {
	if delta < 0 {
		delta = -delta
	}
	return unitCost.Mul(decimal.NewFromInt(int64(delta)))
}

// RequiresApproval reports whether a direct quantity change of delta units
// exceeds either configured threshold.
func (p *Policy) RequiresApproval(delta int, unitCost decimal.Decimal) bool {
	if delta < 0 {
		delta = -delta
	}
	if delta == 0 {
		return false
	}
	if p.thresholds.Units > 0 && delta > p.thresholds.Units {
		return true
	}
	if p.thresholds.Value.Sign() > 0 && AdjustmentValue(delta, unitCost).GreaterThan(p.thresholds.Value) {
		return true
	}
	return false
}

// RequiresSecondApprover reports whether a request of the given value may not
// be resolved by the identity that raised it.
func (p *Policy) RequiresSecondApprover(value decimal.Decimal) bool {
	if p.thresholds.FourEyes.Sign() <= 0 {
		return true
	}
	return value.GreaterThan(p.thresholds.FourEyes)
}
