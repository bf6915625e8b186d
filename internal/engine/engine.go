// Package engine runs the trading workers. Each enabled stream gets one
// Engine: an outer loop of {wait poll interval, do cycle} selecting on
// the ticker and the stop channel. A cycle fetches candles, evaluates
// the strategy, applies the engine-level gates (circuit breaker,
// position caps, sizing), places and persists orders, reconciles open
// rows against the broker and records an equity snapshot. Cycle errors
// never kill a worker; invariant violations halt only the offending
// stream.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"forex-trading-bot/config"
	"forex-trading-bot/internal/broker"
	"forex-trading-bot/internal/database"
	"forex-trading-bot/internal/events"
	"forex-trading-bot/internal/logging"
	"forex-trading-bot/internal/metrics"
	"forex-trading-bot/internal/risk"
	"forex-trading-bot/internal/strategy"
	"forex-trading-bot/internal/zones"
)

// Engine states.
const (
	StateIdle    = "idle"
	StatePolling = "polling"
	StatePaused  = "paused"
	StateStopped = "stopped"
)

// Store is the persistence surface the engine writes through.
// *database.Repository satisfies it.
type Store interface {
	CreateTrade(ctx context.Context, trade *database.Trade) error
	CloseTrade(ctx context.Context, id int64, exitPrice float64, exitReason string, pnl float64, closedAt time.Time) error
	CancelTrade(ctx context.Context, id int64, closedAt time.Time) error
	UpdateTradeStop(ctx context.Context, id int64, stopLoss float64) error
	GetOpenTrades(ctx context.Context, mode string) ([]*database.Trade, error)
	GetOpenTradesByStream(ctx context.Context, mode, stream string) ([]*database.Trade, error)
	RecordEquitySnapshot(ctx context.Context, snap *database.EquitySnapshot) error
	ReplaceZones(ctx context.Context, pair string, zones []*database.SRZone) error
}

// Deps carries the singletons every engine shares.
type Deps struct {
	Broker     broker.Broker
	Store      Store
	Bus        *events.Bus
	Supervisor *risk.Supervisor
	Trailing   *risk.TrailingTracker // nil disables stop trailing
	Mode       string
	GlobalMax  int // max open positions across all streams, 0 = no cap
}

// Engine is one stream's trading worker.
type Engine struct {
	name       string
	broker     broker.Broker
	store      Store
	bus        *events.Bus
	supervisor *risk.Supervisor
	trailing   *risk.TrailingTracker
	mode       string
	globalMax  int
	log        zerolog.Logger

	mu      sync.Mutex
	cfg     config.StreamConfig
	strat   strategy.Strategy
	pending *config.StreamConfig
	state   string

	// zoneMark fingerprints the last persisted zone set. Touched only
	// from the worker goroutine, so it needs no lock.
	zoneMark string

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds an engine for one stream. The strategy identifier must be
// registered.
func New(cfg config.StreamConfig, deps Deps) (*Engine, error) {
	strat, err := strategy.New(cfg.Strategy, cfg.Params())
	if err != nil {
		return nil, fmt.Errorf("stream %q: %w", cfg.Name, err)
	}
	return &Engine{
		name:       cfg.Name,
		broker:     deps.Broker,
		store:      deps.Store,
		bus:        deps.Bus,
		supervisor: deps.Supervisor,
		trailing:   deps.Trailing,
		mode:       deps.Mode,
		globalMax:  deps.GlobalMax,
		log:        logging.Stream(cfg.Name),
		cfg:        cfg,
		strat:      strat,
		state:      StateIdle,
		stopCh:     make(chan struct{}),
	}, nil
}

// Name returns the stream identifier.
func (e *Engine) Name() string { return e.name }

// State returns the worker state.
func (e *Engine) State() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Run drives the worker until the context is cancelled or Stop is
// called. It blocks; the manager runs it on its own goroutine.
func (e *Engine) Run(ctx context.Context) {
	e.setState(StatePolling)
	e.publishLifecycle(events.EventEngineStarted)
	metrics.StreamUp.WithLabelValues(e.name).Set(1)
	e.log.Info().
		Str("strategy", e.snapshotCfg().Strategy).
		Str("instrument", e.snapshotCfg().Instrument).
		Dur("interval", e.snapshotCfg().PollInterval()).
		Msg("stream started")

	if err := e.rehydrate(ctx); err != nil {
		e.log.Warn().Err(err).Msg("trailing rehydrate failed")
	}

	ticker := time.NewTicker(e.snapshotCfg().PollInterval())
	defer ticker.Stop()

	e.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return
		case <-e.stopCh:
			e.shutdown()
			return
		case <-ticker.C:
			if next := e.takePending(); next != nil {
				e.applyConfig(*next, ticker)
			}
			if e.State() != StatePolling {
				continue
			}
			e.runCycle(ctx)
		}
	}
}

// Stop signals the worker to stop after its current cycle. Terminal;
// a stopped engine is never restarted.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// Pause suspends cycles without stopping the worker. Open positions
// stay protected by their broker-side stops.
func (e *Engine) Pause() {
	e.mu.Lock()
	if e.state != StatePolling {
		e.mu.Unlock()
		return
	}
	e.state = StatePaused
	e.mu.Unlock()

	metrics.StreamUp.WithLabelValues(e.name).Set(0)
	e.publishLifecycle(events.EventEnginePaused)
	e.log.Info().Msg("stream paused")
}

// Resume restarts cycles on a paused worker.
func (e *Engine) Resume() {
	e.mu.Lock()
	if e.state != StatePaused {
		e.mu.Unlock()
		return
	}
	e.state = StatePolling
	e.mu.Unlock()

	metrics.StreamUp.WithLabelValues(e.name).Set(1)
	e.publishLifecycle(events.EventEngineResumed)
	e.log.Info().Msg("stream resumed")
}

// UpdateConfig stages new settings; they apply at the next cycle
// boundary. The stream name never changes.
func (e *Engine) UpdateConfig(cfg config.StreamConfig) {
	cfg.Name = e.name
	e.mu.Lock()
	e.pending = &cfg
	e.mu.Unlock()
}

// Config returns the settings currently in effect.
func (e *Engine) Config() config.StreamConfig {
	return e.snapshotCfg()
}

func (e *Engine) snapshotCfg() config.StreamConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

func (e *Engine) currentStrategy() strategy.Strategy {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.strat
}

func (e *Engine) setState(s string) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Engine) takePending() *config.StreamConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.pending
	e.pending = nil
	return p
}

func (e *Engine) applyConfig(cfg config.StreamConfig, ticker *time.Ticker) {
	strat, err := strategy.New(cfg.Strategy, cfg.Params())
	if err != nil {
		e.log.Error().Err(err).Msg("settings rejected, keeping previous")
		return
	}

	e.mu.Lock()
	old := e.cfg
	e.cfg = cfg
	e.strat = strat
	e.mu.Unlock()

	if cfg.PollInterval() != old.PollInterval() {
		ticker.Reset(cfg.PollInterval())
	}
	if cfg.Enabled != old.Enabled {
		if cfg.Enabled {
			e.Resume()
		} else {
			e.Pause()
		}
	}
	e.log.Info().
		Float64("risk_percent", cfg.RiskPercent).
		Dur("interval", cfg.PollInterval()).
		Msg("settings applied")
}

func (e *Engine) shutdown() {
	e.setState(StateStopped)
	metrics.StreamUp.WithLabelValues(e.name).Set(0)
	e.publishLifecycle(events.EventEngineStopped)
	e.log.Info().Msg("stream stopped")
}

func (e *Engine) publishLifecycle(t events.EventType) {
	e.bus.Publish(events.Event{Type: t, Stream: e.name})
}

// halt records an invariant violation and stops this engine. Other
// streams keep running.
func (e *Engine) halt(err error) {
	e.log.Error().Err(err).Msg("invariant violation, halting stream")
	e.bus.PublishError(e.name, "invariant violation, stream halted", err)
	e.Stop()
}

func (e *Engine) runCycle(ctx context.Context) {
	cfg := e.snapshotCfg()
	metrics.CyclesTotal.WithLabelValues(cfg.Name).Inc()

	if err := e.cycle(ctx, cfg); err != nil {
		metrics.CycleErrors.WithLabelValues(cfg.Name).Inc()
		// Transient broker and network failures self-heal on the next
		// poll; only permanent ones need operator attention.
		if broker.Permanent(err) {
			e.log.Error().Err(err).Msg("cycle failed")
		} else {
			e.log.Warn().Err(err).Msg("cycle failed")
		}
		e.bus.PublishError(cfg.Name, "cycle failed", err)
	}
}

// cycle runs one full evaluation pass: fetch, evaluate, gate, size,
// place, persist, reconcile, snapshot.
func (e *Engine) cycle(ctx context.Context, cfg config.StreamConfig) error {
	now := time.Now().UTC()

	data, err := e.fetchData(ctx, cfg)
	if err != nil {
		return fmt.Errorf("fetch candles: %w", err)
	}

	res := e.currentStrategy().Evaluate(data, now)
	res, units := e.applyEntryGates(ctx, cfg, res)
	e.publishResult(res)
	e.persistZones(ctx, cfg, res)

	if res.IsSignal() {
		if err := e.placeAndPersist(ctx, cfg, res.Signal, units); err != nil {
			return err
		}
	}

	if err := e.reconcile(ctx, cfg, data); err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	if err := e.recordEquity(ctx, cfg); err != nil {
		return fmt.Errorf("record equity: %w", err)
	}
	return nil
}

// fetchData pulls each granularity the strategy declares and drops
// still-forming candles.
func (e *Engine) fetchData(ctx context.Context, cfg config.StreamConfig) (strategy.MarketData, error) {
	reqs := e.currentStrategy().Requirements()
	data := make(strategy.MarketData, len(reqs))
	for g, need := range reqs {
		candles, err := e.broker.FetchCandles(ctx, cfg.Instrument, g, need+1)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", cfg.Instrument, g, err)
		}
		data[g] = dropIncomplete(candles)
	}
	return data, nil
}

func dropIncomplete(candles []broker.Candle) []broker.Candle {
	complete := make([]broker.Candle, 0, len(candles))
	for _, c := range candles {
		if c.Complete {
			complete = append(complete, c)
		}
	}
	return complete
}

// applyEntryGates runs the engine-level checks a signal must clear
// before placement: circuit breaker, per-stream and global position
// caps, and sizing. A failed check converts the signal into a veto so
// the diagnostics land in the signal history like any strategy gate.
func (e *Engine) applyEntryGates(ctx context.Context, cfg config.StreamConfig, res strategy.Result) (strategy.Result, float64) {
	if !res.IsSignal() {
		return res, 0
	}

	if e.supervisor != nil && e.supervisor.BreakerActive() {
		st := e.supervisor.State()
		return vetoed(res, "circuit_breaker", "circuit breaker active",
			fmt.Sprintf("drawdown %.2f%%", st.DrawdownPct)), 0
	}

	streamOpen, err := e.store.GetOpenTradesByStream(ctx, e.mode, cfg.Name)
	if err != nil {
		return vetoed(res, "positions", fmt.Sprintf("open position lookup failed: %v", err), ""), 0
	}
	if len(streamOpen) >= cfg.MaxConcurrent {
		return vetoed(res, "max_concurrent", "max concurrent positions reached",
			fmt.Sprintf("%d open on this stream", len(streamOpen))), 0
	}
	if e.globalMax > 0 {
		allOpen, err := e.store.GetOpenTrades(ctx, e.mode)
		if err != nil {
			return vetoed(res, "positions", fmt.Sprintf("open position lookup failed: %v", err), ""), 0
		}
		if len(allOpen) >= e.globalMax {
			return vetoed(res, "max_concurrent", "global position cap reached",
				fmt.Sprintf("%d open across streams", len(allOpen))), 0
		}
	}

	account, err := e.broker.GetAccount(ctx)
	if err != nil {
		return vetoed(res, "sizing", fmt.Sprintf("account fetch failed: %v", err), ""), 0
	}
	units, err := risk.CalculateUnits(risk.SizeRequest{
		Equity:      account.Equity,
		RiskPercent: cfg.RiskPercent,
		Entry:       res.Signal.Entry,
		Stop:        res.Signal.StopLoss,
		Instrument:  cfg.Instrument,
	})
	if err != nil {
		return vetoed(res, "sizing", err.Error(), ""), 0
	}

	res.Gates = append(res.Gates, strategy.GateCheck{
		Name:   "sizing",
		Passed: true,
		Detail: fmt.Sprintf("%.2f units", units),
	})
	return res, units
}

func vetoed(res strategy.Result, gate, reason, detail string) strategy.Result {
	res.Signal = nil
	res.VetoReason = reason
	res.Gates = append(res.Gates, strategy.GateCheck{Name: gate, Passed: false, Detail: detail})
	return res
}

func (e *Engine) publishResult(res strategy.Result) {
	res.ID = uuid.NewString()
	e.bus.Publish(events.Event{Type: events.EventSignalEvaluated, Stream: res.Stream, Payload: res})
	if res.IsSignal() {
		metrics.SignalsGenerated.WithLabelValues(res.Stream, string(res.Signal.Direction)).Inc()
	} else {
		metrics.VetoesTotal.WithLabelValues(res.Stream, failedGate(res)).Inc()
	}
}

func failedGate(res strategy.Result) string {
	for i := len(res.Gates) - 1; i >= 0; i-- {
		if !res.Gates[i].Passed {
			return res.Gates[i].Name
		}
	}
	return "unknown"
}

// persistZones records the evaluation's detected zone set when it
// differs from the last persisted one. Zone history is best-effort: a
// failed write logs and the cycle continues.
func (e *Engine) persistZones(ctx context.Context, cfg config.StreamConfig, res strategy.Result) {
	if len(res.Zones) == 0 {
		return
	}
	mark := zoneFingerprint(res.Zones)
	if mark == e.zoneMark {
		return
	}

	rows := make([]*database.SRZone, 0, len(res.Zones))
	for _, z := range res.Zones {
		rows = append(rows, &database.SRZone{
			Pair:       cfg.Instrument,
			ZoneType:   string(z.Role),
			PriceLevel: z.Level,
			Strength:   z.Strength,
			DetectedAt: z.DetectedAt,
		})
	}
	if err := e.store.ReplaceZones(ctx, cfg.Instrument, rows); err != nil {
		e.log.Warn().Err(err).Msg("zone history write failed")
		return
	}
	e.zoneMark = mark
}

// zoneFingerprint summarises a zone set at fixed precision so float
// noise between cycles does not churn the history.
func zoneFingerprint(zs []zones.Zone) string {
	var b strings.Builder
	for _, z := range zs {
		fmt.Fprintf(&b, "%s:%.5f:%d;", z.Role, z.Level, z.Strength)
	}
	return b.String()
}

// placeAndPersist submits the market order and records the trade row.
// A persistence failure after the broker accepted the order is an
// invariant violation: retried once, then the stream halts.
func (e *Engine) placeAndPersist(ctx context.Context, cfg config.StreamConfig, sig *strategy.EntrySignal, units float64) error {
	signed := units
	if sig.Direction == strategy.Sell {
		signed = -units
	}

	// Strategy arithmetic leaves sub-pip tails; the broker only accepts
	// prices at the instrument's quote precision.
	stop := broker.RoundPrice(cfg.Instrument, sig.StopLoss)
	target := broker.RoundPrice(cfg.Instrument, sig.TakeProfit)

	fill, err := e.broker.PlaceOrder(ctx, broker.OrderRequest{
		Instrument: cfg.Instrument,
		Units:      signed,
		StopLoss:   stop,
		TakeProfit: target,
		ClientID:   uuid.NewString(),
	})
	if err != nil {
		return fmt.Errorf("place order: %w", err)
	}
	metrics.OrdersSubmitted.WithLabelValues(cfg.Name).Inc()

	trade := &database.Trade{
		OrderID:     fill.OrderID,
		StreamName:  cfg.Name,
		Mode:        e.mode,
		Direction:   string(sig.Direction),
		Pair:        cfg.Instrument,
		EntryPrice:  fill.FillPrice,
		StopLoss:    stop,
		TakeProfit:  target,
		Units:       signed,
		EntryReason: sig.Reason,
		OpenedAt:    fill.OpenTime,
	}
	if sig.Zone != nil {
		level := sig.Zone.Level
		role := string(sig.Zone.Role)
		trade.SRZonePrice = &level
		trade.SRZoneType = &role
	}

	if err := e.store.CreateTrade(ctx, trade); err != nil {
		if retryErr := e.store.CreateTrade(ctx, trade); retryErr != nil {
			e.halt(fmt.Errorf("trade for order %s not persisted: %w", fill.OrderID, retryErr))
			return retryErr
		}
	}

	if e.trailing != nil {
		e.trailing.Track(fill.OrderID, risk.Side(sig.Direction), fill.FillPrice, stop)
	}

	e.log.Info().
		Str("order_id", fill.OrderID).
		Str("direction", string(sig.Direction)).
		Float64("units", signed).
		Float64("entry", fill.FillPrice).
		Float64("stop", stop).
		Float64("target", target).
		Msg("trade opened")
	e.bus.Publish(events.Event{Type: events.EventTradeOpened, Stream: cfg.Name, Payload: trade})
	return nil
}

// reconcile diffs local open rows against broker positions. The broker
// is the source of truth: rows without a matching position are closed
// with the exit attributed to the nearest protective level; surviving
// positions get their trailing stop updated. A row with no order ID
// cannot be matched at all and is cancelled instead.
func (e *Engine) reconcile(ctx context.Context, cfg config.StreamConfig, data strategy.MarketData) error {
	open, err := e.store.GetOpenTradesByStream(ctx, e.mode, cfg.Name)
	if err != nil {
		return fmt.Errorf("open trades: %w", err)
	}
	if len(open) == 0 {
		return nil
	}

	positions, err := e.broker.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("positions: %w", err)
	}
	remote := make(map[string]broker.Position, len(positions))
	for _, p := range positions {
		remote[p.OrderID] = p
	}

	last, haveCandle := latestCandle(data)

	for _, trade := range open {
		if trade.OrderID == "" {
			e.cancelLocal(ctx, trade)
			continue
		}
		if _, still := remote[trade.OrderID]; still {
			e.trail(ctx, trade, last, haveCandle)
			continue
		}
		e.closeLocal(ctx, trade, last, haveCandle)
	}
	return nil
}

// cancelLocal retires an open row that carries no broker order ID. Such
// a row never had an acknowledged fill, so it is cancelled rather than
// closed with an invented exit.
func (e *Engine) cancelLocal(ctx context.Context, trade *database.Trade) {
	closedAt := time.Now().UTC()
	if err := e.store.CancelTrade(ctx, trade.ID, closedAt); err != nil {
		if errors.Is(err, database.ErrTradeNotOpen) {
			return
		}
		e.log.Warn().Err(err).Int64("trade_id", trade.ID).Msg("orphan row cancel failed")
		return
	}
	e.log.Warn().Int64("trade_id", trade.ID).Msg("cancelled open row without an order id")
}

// latestCandle returns the newest complete candle of the finest
// granularity fetched this cycle.
func latestCandle(data strategy.MarketData) (broker.Candle, bool) {
	var (
		best     broker.Candle
		bestDur  time.Duration
		haveBest bool
	)
	for g, series := range data {
		if len(series) == 0 {
			continue
		}
		if !haveBest || g.Duration() < bestDur {
			best = series[len(series)-1]
			bestDur = g.Duration()
			haveBest = true
		}
	}
	return best, haveBest
}

func (e *Engine) trail(ctx context.Context, trade *database.Trade, last broker.Candle, haveCandle bool) {
	if e.trailing == nil || !haveCandle {
		return
	}
	newStop, advanced := e.trailing.Update(trade.OrderID, last.Close)
	if !advanced {
		return
	}
	newStop = broker.RoundPrice(trade.Pair, newStop)
	if err := e.broker.ModifyStop(ctx, trade.OrderID, newStop); err != nil {
		e.log.Warn().Err(err).Str("order_id", trade.OrderID).Msg("stop modify failed")
		return
	}
	if err := e.store.UpdateTradeStop(ctx, trade.ID, newStop); err != nil {
		e.log.Warn().Err(err).Int64("trade_id", trade.ID).Msg("stop persist failed")
		return
	}
	e.log.Info().
		Str("order_id", trade.OrderID).
		Float64("stop", newStop).
		Msg("trailing stop advanced")
}

// closeLocal mutates a trade row whose broker position has gone away.
func (e *Engine) closeLocal(ctx context.Context, trade *database.Trade, last broker.Candle, haveCandle bool) {
	exitPrice, reason := e.attributeExit(trade, last, haveCandle)
	pnl := tradePnL(trade, exitPrice)
	closedAt := time.Now().UTC()

	if err := e.store.CloseTrade(ctx, trade.ID, exitPrice, reason, pnl, closedAt); err != nil {
		if errors.Is(err, database.ErrTradeNotOpen) {
			return
		}
		if retryErr := e.store.CloseTrade(ctx, trade.ID, exitPrice, reason, pnl, closedAt); retryErr != nil && !errors.Is(retryErr, database.ErrTradeNotOpen) {
			e.halt(fmt.Errorf("trade %d close not persisted: %w", trade.ID, retryErr))
			return
		}
	}

	if e.trailing != nil {
		e.trailing.Drop(trade.OrderID)
	}

	trade.ExitPrice = &exitPrice
	trade.ExitReason = &reason
	trade.PnL = &pnl
	trade.ClosedAt = &closedAt
	trade.Status = database.StatusClosed

	metrics.TradesClosed.WithLabelValues(trade.StreamName, reason).Inc()
	e.log.Info().
		Int64("trade_id", trade.ID).
		Str("order_id", trade.OrderID).
		Str("reason", reason).
		Float64("exit", exitPrice).
		Float64("pnl", pnl).
		Msg("trade closed")
	e.bus.Publish(events.Event{Type: events.EventTradeClosed, Stream: trade.StreamName, Payload: trade})
}

// attributeExit decides which protective level took the position out.
// The hit level is matched against the latest candle's range with one
// pip of tolerance; when both levels fall inside the range the stop
// wins. A range touching neither level means someone closed the
// position by hand.
func (e *Engine) attributeExit(trade *database.Trade, last broker.Candle, haveCandle bool) (float64, string) {
	stop := trade.StopLoss
	stopMoved := false
	if e.trailing != nil {
		if s, moved, ok := e.trailing.CurrentStop(trade.OrderID); ok {
			stop, stopMoved = s, moved
		}
	}

	stopReason := database.ExitStopLoss
	if stopMoved {
		stopReason = database.ExitTrailingStop
	}

	if !haveCandle {
		return stop, stopReason
	}

	tol := broker.PipSize(trade.Pair)
	var stopHit, targetHit bool
	if trade.Direction == string(strategy.Buy) {
		stopHit = last.Low <= stop+tol
		targetHit = last.High >= trade.TakeProfit-tol
	} else {
		stopHit = last.High >= stop-tol
		targetHit = last.Low <= trade.TakeProfit+tol
	}

	switch {
	case stopHit:
		return stop, stopReason
	case targetHit:
		return trade.TakeProfit, database.ExitTakeProfit
	default:
		return last.Close, database.ExitManual
	}
}

// tradePnL computes realised P&L in account currency terms. Units are
// signed, so (exit-entry)*units carries the correct sign for both
// directions.
func tradePnL(trade *database.Trade, exit float64) float64 {
	entry := decimal.NewFromFloat(trade.EntryPrice)
	exitD := decimal.NewFromFloat(exit)
	units := decimal.NewFromFloat(trade.Units)
	return exitD.Sub(entry).Mul(units).InexactFloat64()
}

// recordEquity folds the account reading into the supervisor and
// appends an equity snapshot.
func (e *Engine) recordEquity(ctx context.Context, cfg config.StreamConfig) error {
	account, err := e.broker.GetAccount(ctx)
	if err != nil {
		return fmt.Errorf("account: %w", err)
	}

	state := e.supervisor.UpdateEquity(account.Equity)
	snap := &database.EquitySnapshot{
		Mode:          e.mode,
		Equity:        account.Equity.InexactFloat64(),
		Balance:       account.Balance.InexactFloat64(),
		PeakEquity:    state.PeakEquity.InexactFloat64(),
		DrawdownPct:   state.DrawdownPct,
		OpenPositions: account.OpenPositions,
		RecordedAt:    time.Now().UTC(),
	}
	if err := e.store.RecordEquitySnapshot(ctx, snap); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	metrics.EquityGauge.Set(snap.Equity)
	metrics.DrawdownGauge.Set(state.DrawdownPct)
	metrics.OpenPositions.Set(float64(account.OpenPositions))

	e.bus.Publish(events.Event{Type: events.EventEquitySnapshot, Stream: cfg.Name, Payload: snap})
	if state.JustTripped {
		e.bus.Publish(events.Event{Type: events.EventBreakerTripped, Stream: cfg.Name, Payload: state})
	}
	return nil
}

// rehydrate re-registers open trades with the trailing tracker after a
// restart. Trades whose stop already crossed entry are left alone; the
// broker-side stop protects them and the original risk distance is no
// longer recoverable.
func (e *Engine) rehydrate(ctx context.Context) error {
	if e.trailing == nil {
		return nil
	}
	open, err := e.store.GetOpenTradesByStream(ctx, e.mode, e.name)
	if err != nil {
		return err
	}
	for _, t := range open {
		if t.OrderID == "" {
			continue
		}
		buy := t.Direction == string(strategy.Buy)
		if (buy && t.StopLoss >= t.EntryPrice) || (!buy && t.StopLoss <= t.EntryPrice) {
			continue
		}
		e.trailing.Track(t.OrderID, risk.Side(t.Direction), t.EntryPrice, t.StopLoss)
	}
	return nil
}
