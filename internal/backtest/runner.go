// Package backtest replays a strategy over historical candles with the
// same evaluation pipeline the live engine runs. Entries fill at the
// next bar's open; when a bar spans both the stop and the target, the
// stop fills first.
package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"forex-trading-bot/internal/broker"
	"forex-trading-bot/internal/database"
	"forex-trading-bot/internal/risk"
	"forex-trading-bot/internal/strategy"
)

const exitEndOfData = "end_of_data"

// Config controls one backtest run.
type Config struct {
	Stream         string
	Granularity    broker.Granularity // execution timeframe the run steps through
	Start          time.Time
	End            time.Time
	InitialBalance float64
	RiskPercent    float64
	MaxDrawdownPct float64              // 0 disables the breaker
	Trailing       *risk.TrailingConfig // nil disables trailing
}

// ClosedTrade is one simulated round trip.
type ClosedTrade struct {
	Direction   string    `json:"direction"`
	Units       float64   `json:"units"`
	EntryTime   time.Time `json:"entry_time"`
	ExitTime    time.Time `json:"exit_time"`
	EntryPrice  float64   `json:"entry_price"`
	ExitPrice   float64   `json:"exit_price"`
	StopLoss    float64   `json:"stop_loss"`
	TakeProfit  float64   `json:"take_profit"`
	PnL         float64   `json:"pnl"`
	PnLPercent  float64   `json:"pnl_percent"`
	ExitReason  string    `json:"exit_reason"`
	EntryReason string    `json:"entry_reason"`
}

// EquityPoint is one point on the simulated equity curve.
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

// Result aggregates a completed run.
type Result struct {
	Stream         string         `json:"stream"`
	Strategy       string         `json:"strategy"`
	Instrument     string         `json:"instrument"`
	Start          time.Time      `json:"start"`
	End            time.Time      `json:"end"`
	InitialBalance float64        `json:"initial_balance"`
	FinalEquity    float64        `json:"final_equity"`
	Stats          Stats          `json:"stats"`
	Trades         []ClosedTrade  `json:"trades"`
	EquityCurve    []EquityPoint  `json:"equity_curve"`
	Vetoes         map[string]int `json:"vetoes"`
	Evaluations    int            `json:"evaluations"`
	BreakerTripped bool           `json:"breaker_tripped"`
}

// ToRun maps the result onto the persistence row.
func (r *Result) ToRun() *database.BacktestRun {
	return &database.BacktestRun{
		Pair:          r.Instrument,
		StartDate:     r.Start,
		EndDate:       r.End,
		TotalTrades:   r.Stats.TotalTrades,
		WinningTrades: r.Stats.WinningTrades,
		LosingTrades:  r.Stats.LosingTrades,
		WinRate:       r.Stats.WinRate,
		ProfitFactor:  r.Stats.ProfitFactor,
		SharpeRatio:   r.Stats.SharpeRatio,
		MaxDrawdown:   r.Stats.MaxDrawdownPct,
		NetPnL:        r.Stats.NetPnL,
	}
}

// position is the simulator's single open trade.
type position struct {
	id          string
	direction   strategy.Direction
	units       float64
	fillPrice   float64
	stop        float64
	stopMoved   bool
	target      float64
	openedAt    time.Time
	entryReason string
	sigEntry    float64
}

// pendingEntry is a signal waiting for the next bar's open.
type pendingEntry struct {
	signal *strategy.EntrySignal
	units  float64
}

// seriesCursor walks one granularity's candles in step with the clock.
type seriesCursor struct {
	candles []broker.Candle
	next    int
}

// closedBefore returns the window of candles fully closed at t, capped
// to the most recent need candles.
func (c *seriesCursor) closedBefore(t time.Time, need int, g broker.Granularity) []broker.Candle {
	dur := g.Duration()
	for c.next < len(c.candles) && !c.candles[c.next].Time.Add(dur).After(t) {
		c.next++
	}
	lo := c.next - need
	if lo < 0 {
		lo = 0
	}
	return c.candles[lo:c.next]
}

// Runner replays one strategy over pre-loaded data.
type Runner struct {
	strat strategy.Strategy
	cfg   Config
	data  strategy.MarketData
}

// NewRunner builds a runner. Data must hold full series per required
// granularity, oldest first, covering warmup before cfg.Start.
func NewRunner(strat strategy.Strategy, cfg Config, data strategy.MarketData) *Runner {
	return &Runner{strat: strat, cfg: cfg, data: data}
}

// Run walks the execution timeframe bar by bar and returns the
// aggregated result.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	execSeries := r.data[r.cfg.Granularity]
	if len(execSeries) == 0 {
		return nil, fmt.Errorf("no candles for execution granularity %s", r.cfg.Granularity)
	}

	requirements := r.strat.Requirements()
	cursors := make(map[broker.Granularity]*seriesCursor, len(r.data))
	for g, series := range r.data {
		cursors[g] = &seriesCursor{candles: series}
	}

	result := &Result{
		Stream:         r.cfg.Stream,
		Strategy:       r.strat.Name(),
		Instrument:     r.strat.Instrument(),
		Start:          r.cfg.Start,
		End:            r.cfg.End,
		InitialBalance: r.cfg.InitialBalance,
		Vetoes:         make(map[string]int),
	}

	equity := decimal.NewFromFloat(r.cfg.InitialBalance)
	var supervisor *risk.Supervisor
	if r.cfg.MaxDrawdownPct > 0 {
		supervisor = risk.NewSupervisor(r.cfg.MaxDrawdownPct)
		supervisor.UpdateEquity(equity)
	}

	var tracker *risk.TrailingTracker
	if r.cfg.Trailing != nil {
		tracker = risk.NewTrailingTracker(*r.cfg.Trailing)
	}

	execDur := r.cfg.Granularity.Duration()
	var open *position
	var pending *pendingEntry
	nextID := 1

	for i, bar := range execSeries {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		barClose := bar.Time.Add(execDur)

		// Pending signal from the previous bar fills at this open.
		if pending != nil && open == nil {
			sig := pending.signal
			open = &position{
				id:          fmt.Sprintf("bt-%d", nextID),
				direction:   sig.Direction,
				units:       pending.units,
				fillPrice:   bar.Open,
				stop:        sig.StopLoss,
				target:      sig.TakeProfit,
				openedAt:    bar.Time,
				entryReason: sig.Reason,
				sigEntry:    sig.Entry,
			}
			nextID++
			if tracker != nil {
				tracker.Track(open.id, risk.Side(sig.Direction), bar.Open, sig.StopLoss)
			}
		}
		pending = nil

		if open != nil {
			if trade, closed := r.manageBar(open, bar, barClose, tracker); closed {
				result.Trades = append(result.Trades, *trade)
				equity = equity.Add(decimal.NewFromFloat(trade.PnL))
				result.EquityCurve = append(result.EquityCurve, EquityPoint{
					Timestamp: trade.ExitTime,
					Equity:    equity.InexactFloat64(),
				})
				if tracker != nil {
					tracker.Drop(open.id)
				}
				open = nil

				if supervisor != nil {
					state := supervisor.UpdateEquity(equity)
					if state.BreakerActive && !result.BreakerTripped {
						result.BreakerTripped = true
						log.Warn().
							Str("stream", r.cfg.Stream).
							Float64("drawdown_pct", state.DrawdownPct).
							Time("at", trade.ExitTime).
							Msg("backtest breaker tripped, entries suppressed")
					}
				}
			}
		}

		// Evaluate inside the configured window only, and only while
		// flat with the breaker quiet.
		if bar.Time.Before(r.cfg.Start) || !barClose.Before(r.cfg.End) {
			continue
		}
		if open != nil || pending != nil || result.BreakerTripped {
			continue
		}
		if i == len(execSeries)-1 {
			continue // no next bar to fill on
		}

		data := make(strategy.MarketData, len(requirements))
		short := false
		for g, need := range requirements {
			cursor, ok := cursors[g]
			if !ok {
				short = true
				break
			}
			window := cursor.closedBefore(barClose, need, g)
			if len(window) < need {
				short = true
				break
			}
			data[g] = window
		}
		if short {
			continue // still inside warmup
		}

		result.Evaluations++
		res := r.strat.Evaluate(data, barClose)
		if !res.IsSignal() {
			if res.VetoReason != "" {
				result.Vetoes[res.VetoReason]++
			}
			continue
		}

		units, err := risk.CalculateUnits(risk.SizeRequest{
			Equity:      equity,
			RiskPercent: r.cfg.RiskPercent,
			Entry:       res.Signal.Entry,
			Stop:        res.Signal.StopLoss,
			Instrument:  r.strat.Instrument(),
		})
		if err != nil {
			result.Vetoes[err.Error()]++
			continue
		}
		pending = &pendingEntry{signal: res.Signal, units: units}
	}

	// Liquidate anything still open at the last close.
	if open != nil {
		last := execSeries[len(execSeries)-1]
		trade := r.close(open, last.Close, last.Time.Add(execDur), exitEndOfData)
		result.Trades = append(result.Trades, *trade)
		equity = equity.Add(decimal.NewFromFloat(trade.PnL))
		result.EquityCurve = append(result.EquityCurve, EquityPoint{
			Timestamp: trade.ExitTime,
			Equity:    equity.InexactFloat64(),
		})
	}

	result.FinalEquity = equity.InexactFloat64()
	result.Stats = computeStats(result.Trades, result.EquityCurve, r.cfg.InitialBalance, result.FinalEquity)
	return result, nil
}

// manageBar applies one bar to the open position: stop first, then
// target, then a trailing update at the close.
func (r *Runner) manageBar(pos *position, bar broker.Candle, barClose time.Time, tracker *risk.TrailingTracker) (*ClosedTrade, bool) {
	if pos.direction == strategy.Buy {
		if bar.Low <= pos.stop {
			return r.close(pos, pos.stop, barClose, stopReason(pos)), true
		}
		if bar.High >= pos.target {
			return r.close(pos, pos.target, barClose, database.ExitTakeProfit), true
		}
	} else {
		if bar.High >= pos.stop {
			return r.close(pos, pos.stop, barClose, stopReason(pos)), true
		}
		if bar.Low <= pos.target {
			return r.close(pos, pos.target, barClose, database.ExitTakeProfit), true
		}
	}

	if tracker != nil {
		if newStop, moved := tracker.Update(pos.id, bar.Close); moved {
			pos.stop = newStop
			pos.stopMoved = true
		}
	}
	return nil, false
}

func stopReason(pos *position) string {
	if pos.stopMoved {
		return database.ExitTrailingStop
	}
	return database.ExitStopLoss
}

func (r *Runner) close(pos *position, exitPrice float64, at time.Time, reason string) *ClosedTrade {
	entry := decimal.NewFromFloat(pos.fillPrice)
	exit := decimal.NewFromFloat(exitPrice)
	units := decimal.NewFromFloat(pos.units)

	diff := exit.Sub(entry)
	if pos.direction == strategy.Sell {
		diff = entry.Sub(exit)
	}
	pnl := diff.Mul(units)

	pnlPercent := 0.0
	if pos.fillPrice != 0 {
		pnlPercent = diff.Div(entry).Mul(decimal.NewFromInt(100)).InexactFloat64()
	}

	return &ClosedTrade{
		Direction:   string(pos.direction),
		Units:       pos.units,
		EntryTime:   pos.openedAt,
		ExitTime:    at,
		EntryPrice:  pos.fillPrice,
		ExitPrice:   exitPrice,
		StopLoss:    pos.stop,
		TakeProfit:  pos.target,
		PnL:         pnl.InexactFloat64(),
		PnLPercent:  pnlPercent,
		ExitReason:  reason,
		EntryReason: pos.entryReason,
	}
}
