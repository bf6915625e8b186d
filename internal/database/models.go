package database

import "time"

// Trade status values.
const (
	StatusOpen      = "open"
	StatusClosed    = "closed"
	StatusCancelled = "cancelled"
)

// Execution modes.
const (
	ModeBacktest = "backtest"
	ModePaper    = "paper"
	ModeLive     = "live"
)

// Exit reason values recorded when a trade closes.
const (
	ExitStopLoss      = "stop_loss"
	ExitTakeProfit    = "take_profit"
	ExitTrailingStop  = "trailing_stop"
	ExitManual        = "manual"
	ExitEmergencyStop = "emergency_stop"
)

// Trade is one round trip from entry to exit. Exit fields stay nil
// while the trade is open.
type Trade struct {
	ID          int64      `json:"id"`
	OrderID     string     `json:"order_id,omitempty"`
	StreamName  string     `json:"stream_name"`
	Mode        string     `json:"mode"`
	Direction   string     `json:"direction"`
	Pair        string     `json:"pair"`
	EntryPrice  float64    `json:"entry_price"`
	ExitPrice   *float64   `json:"exit_price,omitempty"`
	StopLoss    float64    `json:"stop_loss"`
	TakeProfit  float64    `json:"take_profit"`
	Units       float64    `json:"units"`
	SRZonePrice *float64   `json:"sr_zone_price,omitempty"`
	SRZoneType  *string    `json:"sr_zone_type,omitempty"`
	EntryReason string     `json:"entry_reason"`
	ExitReason  *string    `json:"exit_reason,omitempty"`
	PnL         *float64   `json:"pnl,omitempty"`
	Status      string     `json:"status"`
	OpenedAt    time.Time  `json:"opened_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// EquitySnapshot is a point-in-time account reading used for drawdown
// tracking and the equity curve.
type EquitySnapshot struct {
	ID            int64     `json:"id"`
	Mode          string    `json:"mode"`
	Equity        float64   `json:"equity"`
	Balance       float64   `json:"balance"`
	PeakEquity    float64   `json:"peak_equity"`
	DrawdownPct   float64   `json:"drawdown_pct"`
	OpenPositions int       `json:"open_positions"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// SRZone is a detected support or resistance level. InvalidatedAt is
// set once price closes decisively through the level.
type SRZone struct {
	ID            int64      `json:"id"`
	Pair          string     `json:"pair"`
	ZoneType      string     `json:"zone_type"`
	PriceLevel    float64    `json:"price_level"`
	Strength      int        `json:"strength"`
	DetectedAt    time.Time  `json:"detected_at"`
	InvalidatedAt *time.Time `json:"invalidated_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// BacktestRun stores the summary statistics of one historical run.
type BacktestRun struct {
	ID            int64     `json:"id"`
	Pair          string    `json:"pair"`
	StartDate     time.Time `json:"start_date"`
	EndDate       time.Time `json:"end_date"`
	TotalTrades   int       `json:"total_trades"`
	WinningTrades int       `json:"winning_trades"`
	LosingTrades  int       `json:"losing_trades"`
	WinRate       float64   `json:"win_rate"`
	ProfitFactor  float64   `json:"profit_factor"`
	SharpeRatio   float64   `json:"sharpe_ratio"`
	MaxDrawdown   float64   `json:"max_drawdown"`
	NetPnL        float64   `json:"net_pnl"`
	CreatedAt     time.Time `json:"created_at"`
}
