// Package status maintains the read model served by the HTTP API. It
// subscribes to the event bus and folds engine happenings into an
// in-memory snapshot: per-stream tallies, per-stream evaluation history
// rings, pending signals and the latest equity and breaker readings.
// The engines never block on it and never read from it.
package status

import (
	"sort"
	"sync"
	"time"

	"forex-trading-bot/internal/database"
	"forex-trading-bot/internal/events"
	"forex-trading-bot/internal/risk"
	"forex-trading-bot/internal/strategy"
)

// Engine-level states.
const (
	EngineIdle    = "idle"
	EngineRunning = "running"
	EnginePaused  = "paused"
	EngineStopped = "stopped"
)

// Per-stream states.
const (
	StreamIdle    = "idle"
	StreamPolling = "polling"
	StreamPaused  = "paused"
	StreamStopped = "stopped"
)

// StreamStatus is the public view of one stream.
type StreamStatus struct {
	Name          string     `json:"name"`
	Strategy      string     `json:"strategy"`
	Instrument    string     `json:"instrument"`
	State         string     `json:"state"`
	Evaluations   int64      `json:"evaluations"`
	Signals       int64      `json:"signals"`
	TradesOpened  int64      `json:"trades_opened"`
	TradesClosed  int64      `json:"trades_closed"`
	LastVeto      string     `json:"last_veto,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	LastErrorAt   *time.Time `json:"last_error_at,omitempty"`
	LastEvaluated *time.Time `json:"last_evaluated,omitempty"`
	LastSignalAt  *time.Time `json:"last_signal_at,omitempty"`
}

// BreakerStatus is the public view of the drawdown circuit breaker.
type BreakerStatus struct {
	Active      bool       `json:"active"`
	Equity      float64    `json:"equity"`
	PeakEquity  float64    `json:"peak_equity"`
	DrawdownPct float64    `json:"drawdown_pct"`
	TrippedAt   *time.Time `json:"tripped_at,omitempty"`
}

// Snapshot is the /status response body.
type Snapshot struct {
	Mode           string                   `json:"mode"`
	State          string                   `json:"state"`
	StartedAt      time.Time                `json:"started_at"`
	UptimeSeconds  int64                    `json:"uptime_seconds"`
	Streams        []StreamStatus           `json:"streams"`
	PendingSignals int                      `json:"pending_signals"`
	Equity         *database.EquitySnapshot `json:"equity,omitempty"`
	Breaker        *BreakerStatus           `json:"breaker,omitempty"`
	SettingsAt     *time.Time               `json:"settings_applied_at,omitempty"`
}

// GateTally counts pass/fail outcomes for one gate of a stream's
// pipeline.
type GateTally struct {
	Name   string `json:"name"`
	Passed int64  `json:"passed"`
	Failed int64  `json:"failed"`
}

// StreamInsight aggregates why a stream has or has not been trading:
// veto counts by reason and gate outcome tallies in pipeline order.
type StreamInsight struct {
	Stream      string           `json:"stream"`
	Strategy    string           `json:"strategy"`
	Evaluations int64            `json:"evaluations"`
	Signals     int64            `json:"signals"`
	VetoReasons map[string]int64 `json:"veto_reasons"`
	Gates       []GateTally      `json:"gates"`
	LastResult  *strategy.Result `json:"last_result,omitempty"`
}

type streamState struct {
	info        StreamStatus
	vetoReasons map[string]int64
	gateOrder   []string
	gates       map[string]*GateTally
	history     *ring
	lastResult  *strategy.Result
}

// Projection is the bus-fed read model. All methods are safe for
// concurrent use.
type Projection struct {
	mu         sync.RWMutex
	mode       string
	state      string
	startedAt  time.Time
	historyCap int
	order      []string
	streams    map[string]*streamState
	pending    map[string]strategy.EntrySignal
	equity     *database.EquitySnapshot
	breaker    *BreakerStatus
	settingsAt *time.Time
}

// New builds an empty projection. historyCap bounds each stream's signal
// history ring; zero or negative selects the default of 256 entries.
func New(mode string, historyCap int) *Projection {
	return &Projection{
		mode:       mode,
		state:      EngineIdle,
		startedAt:  time.Now().UTC(),
		historyCap: historyCap,
		streams:    make(map[string]*streamState),
		pending:    make(map[string]strategy.EntrySignal),
	}
}

// RegisterStream pre-seeds a stream so /status lists it before its
// first evaluation.
func (p *Projection) RegisterStream(name, strategyName, instrument string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensureLocked(name, strategyName)
	st := p.streams[name]
	st.info.Instrument = instrument
}

// Attach subscribes the projection to every event it folds.
func (p *Projection) Attach(bus *events.Bus) {
	bus.Subscribe(events.EventSignalEvaluated, p.onSignalEvaluated)
	bus.Subscribe(events.EventTradeOpened, p.onTradeOpened)
	bus.Subscribe(events.EventTradeClosed, p.onTradeClosed)
	bus.Subscribe(events.EventEquitySnapshot, p.onEquity)
	bus.Subscribe(events.EventBreakerTripped, p.onBreaker)
	bus.Subscribe(events.EventEngineError, p.onEngineError)
	bus.Subscribe(events.EventEngineStarted, p.onLifecycle)
	bus.Subscribe(events.EventEngineStopped, p.onLifecycle)
	bus.Subscribe(events.EventEnginePaused, p.onLifecycle)
	bus.Subscribe(events.EventEngineResumed, p.onLifecycle)
	bus.Subscribe(events.EventSettingsApplied, p.onSettings)
}

// Snapshot returns the current engine view.
func (p *Projection) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	snap := Snapshot{
		Mode:           p.mode,
		State:          p.state,
		StartedAt:      p.startedAt,
		UptimeSeconds:  int64(time.Since(p.startedAt).Seconds()),
		Streams:        make([]StreamStatus, 0, len(p.order)),
		PendingSignals: len(p.pending),
	}
	for _, name := range p.order {
		snap.Streams = append(snap.Streams, p.streams[name].info)
	}
	if p.equity != nil {
		eq := *p.equity
		snap.Equity = &eq
	}
	if p.breaker != nil {
		br := *p.breaker
		snap.Breaker = &br
	}
	if p.settingsAt != nil {
		ts := *p.settingsAt
		snap.SettingsAt = &ts
	}
	return snap
}

// Pending returns signals generated but not yet confirmed as open
// trades, oldest first.
func (p *Projection) Pending() []strategy.EntrySignal {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]strategy.EntrySignal, 0, len(p.pending))
	for _, sig := range p.pending {
		out = append(out, sig)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].EvaluatedAt.Before(out[j].EvaluatedAt)
	})
	return out
}

// History returns up to limit evaluations merged across all streams,
// most recent first. Each stream keeps its own ring, so a fast scalp
// stream cannot evict a slow swing stream's entries.
func (p *Projection) History(limit int) []strategy.Result {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []strategy.Result
	for _, name := range p.order {
		out = append(out, p.streams[name].history.newestFirst(0)...)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].EvaluatedAt.After(out[j].EvaluatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// StreamHistory returns up to limit evaluations for one stream, most
// recent first, or nil for an unknown stream.
func (p *Projection) StreamHistory(stream string, limit int) []strategy.Result {
	p.mu.RLock()
	defer p.mu.RUnlock()

	st, ok := p.streams[stream]
	if !ok {
		return nil
	}
	return st.history.newestFirst(limit)
}

// Insight returns the per-stream evaluation aggregates.
func (p *Projection) Insight() []StreamInsight {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]StreamInsight, 0, len(p.order))
	for _, name := range p.order {
		st := p.streams[name]
		ins := StreamInsight{
			Stream:      name,
			Strategy:    st.info.Strategy,
			Evaluations: st.info.Evaluations,
			Signals:     st.info.Signals,
			VetoReasons: make(map[string]int64, len(st.vetoReasons)),
			Gates:       make([]GateTally, 0, len(st.gateOrder)),
		}
		for reason, n := range st.vetoReasons {
			ins.VetoReasons[reason] = n
		}
		for _, gate := range st.gateOrder {
			ins.Gates = append(ins.Gates, *st.gates[gate])
		}
		if st.lastResult != nil {
			res := *st.lastResult
			ins.LastResult = &res
		}
		out = append(out, ins)
	}
	return out
}

func (p *Projection) onSignalEvaluated(e events.Event) {
	res, ok := e.Payload.(strategy.Result)
	if !ok {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.ensureLocked(res.Stream, res.Strategy)
	st.info.Evaluations++
	at := res.EvaluatedAt
	st.info.LastEvaluated = &at
	// A completed evaluation clears any earlier cycle error.
	st.info.LastError = ""
	st.info.LastErrorAt = nil

	if res.IsSignal() {
		st.info.Signals++
		st.info.LastSignalAt = &at
		st.info.LastVeto = ""
		p.pending[res.Stream] = *res.Signal
	} else {
		st.info.LastVeto = res.VetoReason
		st.vetoReasons[res.VetoReason]++
		// A veto supersedes any stale unfilled signal for the stream.
		delete(p.pending, res.Stream)
	}
	st.history.add(res)

	for _, g := range res.Gates {
		tally, seen := st.gates[g.Name]
		if !seen {
			tally = &GateTally{Name: g.Name}
			st.gates[g.Name] = tally
			st.gateOrder = append(st.gateOrder, g.Name)
		}
		if g.Passed {
			tally.Passed++
		} else {
			tally.Failed++
		}
	}

	last := res
	st.lastResult = &last
}

func (p *Projection) onTradeOpened(e events.Event) {
	trade, ok := e.Payload.(*database.Trade)
	if !ok {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.ensureLocked(trade.StreamName, "")
	st.info.TradesOpened++
	delete(p.pending, trade.StreamName)
}

func (p *Projection) onTradeClosed(e events.Event) {
	trade, ok := e.Payload.(*database.Trade)
	if !ok {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.ensureLocked(trade.StreamName, "")
	st.info.TradesClosed++
}

func (p *Projection) onEquity(e events.Event) {
	snap, ok := e.Payload.(*database.EquitySnapshot)
	if !ok {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	copied := *snap
	p.equity = &copied
}

func (p *Projection) onBreaker(e events.Event) {
	state, ok := e.Payload.(risk.SupervisorState)
	if !ok {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	br := &BreakerStatus{
		Active:      state.BreakerActive,
		Equity:      state.Equity.InexactFloat64(),
		PeakEquity:  state.PeakEquity.InexactFloat64(),
		DrawdownPct: state.DrawdownPct,
	}
	if !state.TrippedAt.IsZero() {
		ts := state.TrippedAt
		br.TrippedAt = &ts
	}
	p.breaker = br
}

func (p *Projection) onEngineError(e events.Event) {
	payload, ok := e.Payload.(map[string]string)
	if !ok || e.Stream == "" {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.ensureLocked(e.Stream, "")
	msg := payload["message"]
	if detail := payload["error"]; detail != "" {
		msg += ": " + detail
	}
	st.info.LastError = msg
	ts := e.Timestamp
	st.info.LastErrorAt = &ts
}

func (p *Projection) onLifecycle(e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e.Stream == "" {
		switch e.Type {
		case events.EventEngineStarted, events.EventEngineResumed:
			p.state = EngineRunning
		case events.EventEnginePaused:
			p.state = EnginePaused
		case events.EventEngineStopped:
			p.state = EngineStopped
		}
		return
	}

	st := p.ensureLocked(e.Stream, "")
	switch e.Type {
	case events.EventEngineStarted, events.EventEngineResumed:
		st.info.State = StreamPolling
	case events.EventEnginePaused:
		st.info.State = StreamPaused
	case events.EventEngineStopped:
		st.info.State = StreamStopped
		delete(p.pending, e.Stream)
	}
}

func (p *Projection) onSettings(e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ts := e.Timestamp
	p.settingsAt = &ts
}

// ensureLocked returns the stream's state, creating it on first sight.
// Caller holds the write lock.
func (p *Projection) ensureLocked(name, strategyName string) *streamState {
	st, ok := p.streams[name]
	if !ok {
		st = &streamState{
			info:        StreamStatus{Name: name, State: StreamIdle},
			vetoReasons: make(map[string]int64),
			gates:       make(map[string]*GateTally),
			history:     newRing(p.historyCap),
		}
		p.streams[name] = st
		p.order = append(p.order, name)
	}
	if strategyName != "" && st.info.Strategy == "" {
		st.info.Strategy = strategyName
	}
	return st
}
