package broker

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Granularity identifies a candle timeframe.
type Granularity string

const (
	M1  Granularity = "M1"
	M5  Granularity = "M5"
	M15 Granularity = "M15"
	H1  Granularity = "H1"
	H4  Granularity = "H4"
	D   Granularity = "D"
)

// Duration returns the bar length for a granularity.
func (g Granularity) Duration() time.Duration {
	switch g {
	case M1:
		return time.Minute
	case M5:
		return 5 * time.Minute
	case M15:
		return 15 * time.Minute
	case H1:
		return time.Hour
	case H4:
		return 4 * time.Hour
	case D:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// Candle is a single OHLCV bar. Immutable; identity is
// (Instrument, Granularity, Time).
type Candle struct {
	Instrument  string      `json:"instrument"`
	Granularity Granularity `json:"granularity"`
	Time        time.Time   `json:"time"`
	Open        float64     `json:"open"`
	High        float64     `json:"high"`
	Low         float64     `json:"low"`
	Close       float64     `json:"close"`
	Volume      int64       `json:"volume"`
	Complete    bool        `json:"complete"`
}

// Range returns the high-low span of the candle.
func (c Candle) Range() float64 {
	return c.High - c.Low
}

// Body returns the magnitude of the open-close move.
func (c Candle) Body() float64 {
	if c.Close >= c.Open {
		return c.Close - c.Open
	}
	return c.Open - c.Close
}

// Bullish reports whether the candle closed above its open.
func (c Candle) Bullish() bool { return c.Close > c.Open }

// Bearish reports whether the candle closed below its open.
func (c Candle) Bearish() bool { return c.Close < c.Open }

// UpperShadow returns the wick above the body.
func (c Candle) UpperShadow() float64 {
	if c.Close >= c.Open {
		return c.High - c.Close
	}
	return c.High - c.Open
}

// LowerShadow returns the wick below the body.
func (c Candle) LowerShadow() float64 {
	if c.Close >= c.Open {
		return c.Open - c.Low
	}
	return c.Close - c.Low
}

// Account is the broker's view of the trading account. Money fields are
// decimal so equity arithmetic does not drift.
type Account struct {
	Equity        decimal.Decimal `json:"equity"`
	Balance       decimal.Decimal `json:"balance"`
	UnrealizedPL  decimal.Decimal `json:"unrealized_pnl"`
	OpenPositions int             `json:"open_position_count"`
}

// Position is an open trade as the broker reports it.
type Position struct {
	OrderID      string          `json:"order_id"`
	Instrument   string          `json:"instrument"`
	Direction    string          `json:"direction"` // "buy" or "sell"
	Units        float64         `json:"units"`     // signed
	AvgPrice     float64         `json:"avg_price"`
	StopLoss     float64         `json:"stop_loss"`
	TakeProfit   float64         `json:"take_profit"`
	OpenTime     time.Time       `json:"open_time"`
	UnrealizedPL decimal.Decimal `json:"unrealized_pnl"`
}

// OrderRequest asks the broker to open a market position with attached
// stop and target. The sign of Units selects the direction.
type OrderRequest struct {
	Instrument string
	Units      float64
	StopLoss   float64
	TakeProfit float64
	ClientID   string
}

// OrderFill is the broker's acknowledgement of a filled order.
type OrderFill struct {
	OrderID   string    `json:"order_id"`
	FillPrice float64   `json:"fill_price"`
	OpenTime  time.Time `json:"open_time"`
}

// CloseResult reports the outcome of an explicit close.
type CloseResult struct {
	ExitPrice float64   `json:"exit_price"`
	CloseTime time.Time `json:"close_time"`
}

// Broker is the contract the engine core consumes. Candles come back
// oldest first; the most recent candle may still be forming and callers
// drop it before evaluation.
type Broker interface {
	FetchCandles(ctx context.Context, instrument string, granularity Granularity, count int) ([]Candle, error)
	GetAccount(ctx context.Context) (*Account, error)
	GetPositions(ctx context.Context) ([]Position, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderFill, error)
	CloseOrder(ctx context.Context, orderID string) (*CloseResult, error)
	ModifyStop(ctx context.Context, orderID string, newStop float64) error
}
