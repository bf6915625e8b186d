// Package risk computes position sizes, derives stop and target prices
// per strategy family, trails stops by R multiples, and owns the
// process-wide drawdown supervisor.
package risk

import (
	"errors"

	"github.com/shopspring/decimal"

	"forex-trading-bot/internal/broker"
)

// Side is the trade direction. Values match the direction strings stored
// on signals and trade rows.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Sizing veto conditions. Callers surface err.Error() as the veto reason.
var (
	ErrStopTooTight     = errors.New("stop too tight")
	ErrSizeBelowMinimum = errors.New("size below minimum")
)

// SizeRequest carries the inputs for one sizing computation.
type SizeRequest struct {
	Equity      decimal.Decimal
	RiskPercent float64
	Entry       float64
	Stop        float64
	Instrument  string
}

// CalculateUnits returns the unsigned position size for the request. The
// cash at risk is equity times risk percent; units are that cash divided
// by the stop distance in pips times the per-unit pip value, rounded
// toward zero to the broker-supported granularity. The arithmetic runs in
// decimal so five-digit FX and two-digit bullion quotes size exactly.
func CalculateUnits(req SizeRequest) (float64, error) {
	pip := decimal.NewFromFloat(broker.PipSize(req.Instrument))
	entry := decimal.NewFromFloat(req.Entry)
	stop := decimal.NewFromFloat(req.Stop)

	stopPips := entry.Sub(stop).Abs().Div(pip)
	if stopPips.IsZero() {
		return 0, ErrStopTooTight
	}

	riskCash := req.Equity.
		Mul(decimal.NewFromFloat(req.RiskPercent)).
		Div(decimal.NewFromInt(100))

	pipValue := decimal.NewFromFloat(broker.PipValue(req.Instrument, req.Entry))
	units := riskCash.Div(stopPips.Mul(pipValue))

	if broker.IsMetal(req.Instrument) {
		units = units.Truncate(2)
	} else {
		units = units.Truncate(0)
	}

	min := decimal.NewFromFloat(broker.MinUnits(req.Instrument))
	if units.LessThan(min) {
		return 0, ErrSizeBelowMinimum
	}
	return units.InexactFloat64(), nil
}
