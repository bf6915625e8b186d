package status

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"forex-trading-bot/internal/database"
	"forex-trading-bot/internal/events"
	"forex-trading-bot/internal/risk"
	"forex-trading-bot/internal/strategy"
)

func vetoResult(stream, reason string, at time.Time) strategy.Result {
	return strategy.Result{
		VetoReason: reason,
		Gates: []strategy.GateCheck{
			{Name: "market_open", Passed: true},
			{Name: "zone_proximity", Passed: false, Detail: reason},
		},
		Strategy:    "sr_rejection",
		Stream:      stream,
		EvaluatedAt: at,
	}
}

func signalResult(stream string, at time.Time) strategy.Result {
	return strategy.Result{
		Signal: &strategy.EntrySignal{
			Direction:   strategy.Buy,
			Entry:       1.1000,
			StopLoss:    1.0950,
			TakeProfit:  1.1100,
			Reason:      "bullish rejection at support",
			Stream:      stream,
			EvaluatedAt: at,
		},
		Gates: []strategy.GateCheck{
			{Name: "market_open", Passed: true},
			{Name: "zone_proximity", Passed: true},
		},
		Strategy:    "sr_rejection",
		Stream:      stream,
		EvaluatedAt: at,
	}
}

func TestRingOverwritesOldest(t *testing.T) {
	r := newRing(3)
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		r.add(signalResult("eur-swing", base.Add(time.Duration(i)*time.Hour)))
	}

	if r.len() != 3 {
		t.Fatalf("Expected ring length 3, got %d", r.len())
	}
	got := r.newestFirst(0)
	if len(got) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(got))
	}
	for i, wantHour := range []int{13, 12, 11} {
		if got[i].EvaluatedAt.Hour() != wantHour {
			t.Errorf("Expected result %d at hour %d, got %d", i, wantHour, got[i].EvaluatedAt.Hour())
		}
	}
}

func TestRingNewestFirstLimit(t *testing.T) {
	r := newRing(10)
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		r.add(signalResult("eur-swing", base.Add(time.Duration(i)*time.Hour)))
	}

	got := r.newestFirst(2)
	if len(got) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(got))
	}
	if got[0].EvaluatedAt.Hour() != 12 {
		t.Errorf("Expected newest result first (hour 12), got hour %d", got[0].EvaluatedAt.Hour())
	}
}

func TestProjectionTracksEvaluations(t *testing.T) {
	p := New(database.ModePaper, 0)
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	p.onSignalEvaluated(events.Event{Payload: vetoResult("eur-swing", "no active zone within reach", at)})
	p.onSignalEvaluated(events.Event{Payload: vetoResult("eur-swing", "no active zone within reach", at.Add(time.Hour))})
	p.onSignalEvaluated(events.Event{Payload: signalResult("eur-swing", at.Add(2*time.Hour))})

	snap := p.Snapshot()
	if snap.Mode != database.ModePaper {
		t.Errorf("Expected mode paper, got %s", snap.Mode)
	}
	if len(snap.Streams) != 1 {
		t.Fatalf("Expected 1 stream, got %d", len(snap.Streams))
	}
	st := snap.Streams[0]
	if st.Evaluations != 3 {
		t.Errorf("Expected 3 evaluations, got %d", st.Evaluations)
	}
	if st.Signals != 1 {
		t.Errorf("Expected 1 signal, got %d", st.Signals)
	}
	if st.LastVeto != "" {
		t.Errorf("Expected last veto cleared after signal, got %q", st.LastVeto)
	}
	if st.LastSignalAt == nil || !st.LastSignalAt.Equal(at.Add(2*time.Hour)) {
		t.Errorf("Expected last signal at %v, got %v", at.Add(2*time.Hour), st.LastSignalAt)
	}
	if snap.PendingSignals != 1 {
		t.Errorf("Expected 1 pending signal, got %d", snap.PendingSignals)
	}

	history := p.History(0)
	if len(history) != 3 {
		t.Fatalf("Expected 3 history entries (vetoes included), got %d", len(history))
	}
	if !history[0].IsSignal() {
		t.Error("Expected newest history entry to carry the signal")
	}
	if history[2].VetoReason != "no active zone within reach" {
		t.Errorf("Expected oldest history entry to carry the first veto, got %+v", history[2])
	}

	insights := p.Insight()
	if len(insights) != 1 {
		t.Fatalf("Expected 1 stream insight, got %d", len(insights))
	}
	ins := insights[0]
	if ins.VetoReasons["no active zone within reach"] != 2 {
		t.Errorf("Expected 2 vetoes for reason, got %d", ins.VetoReasons["no active zone within reach"])
	}
	if len(ins.Gates) != 2 {
		t.Fatalf("Expected 2 gate tallies, got %d", len(ins.Gates))
	}
	if ins.Gates[0].Name != "market_open" || ins.Gates[0].Passed != 3 {
		t.Errorf("Expected market_open passed 3 times, got %+v", ins.Gates[0])
	}
	if ins.Gates[1].Name != "zone_proximity" || ins.Gates[1].Failed != 2 || ins.Gates[1].Passed != 1 {
		t.Errorf("Expected zone_proximity 1 pass 2 fails, got %+v", ins.Gates[1])
	}
	if ins.LastResult == nil || !ins.LastResult.IsSignal() {
		t.Error("Expected last result to be the signal evaluation")
	}
}

func TestHistoryKeepsQuietStreamEntries(t *testing.T) {
	p := New(database.ModePaper, 2)
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	p.onSignalEvaluated(events.Event{Payload: signalResult("eur-swing", at)})
	for i := 1; i <= 5; i++ {
		p.onSignalEvaluated(events.Event{Payload: vetoResult("gold-scalp", "outside trading window", at.Add(time.Duration(i)*time.Minute))})
	}

	history := p.History(0)
	if len(history) != 3 {
		t.Fatalf("Expected 2 capped scalp entries plus the swing entry, got %d", len(history))
	}
	if history[0].Stream != "gold-scalp" {
		t.Errorf("Expected newest entry from gold-scalp, got %s", history[0].Stream)
	}
	if history[len(history)-1].Stream != "eur-swing" {
		t.Errorf("Expected the quiet stream's entry to survive, got %s", history[len(history)-1].Stream)
	}

	if got := p.History(2); len(got) != 2 {
		t.Errorf("Expected merged history to honour the limit, got %d", len(got))
	}
	if got := p.StreamHistory("gold-scalp", 0); len(got) != 2 {
		t.Errorf("Expected scalp ring capped at 2, got %d", len(got))
	}
	if got := p.StreamHistory("unknown", 0); got != nil {
		t.Errorf("Expected nil history for an unknown stream, got %v", got)
	}
}

func TestPendingClearedOnTradeOpen(t *testing.T) {
	p := New(database.ModePaper, 0)
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	p.onSignalEvaluated(events.Event{Payload: signalResult("eur-swing", at)})
	if got := len(p.Pending()); got != 1 {
		t.Fatalf("Expected 1 pending signal, got %d", got)
	}

	p.onTradeOpened(events.Event{Payload: &database.Trade{StreamName: "eur-swing"}})

	if got := len(p.Pending()); got != 0 {
		t.Errorf("Expected pending cleared after trade open, got %d", got)
	}
	if got := p.Snapshot().Streams[0].TradesOpened; got != 1 {
		t.Errorf("Expected 1 trade opened, got %d", got)
	}
}

func TestPendingSupersededByVeto(t *testing.T) {
	p := New(database.ModePaper, 0)
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	p.onSignalEvaluated(events.Event{Payload: signalResult("eur-swing", at)})
	p.onSignalEvaluated(events.Event{Payload: vetoResult("eur-swing", "outside trading window", at.Add(time.Hour))})

	if got := len(p.Pending()); got != 0 {
		t.Errorf("Expected stale signal superseded by veto, got %d pending", got)
	}
}

func TestPendingSortedOldestFirst(t *testing.T) {
	p := New(database.ModePaper, 0)
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	p.onSignalEvaluated(events.Event{Payload: signalResult("gold-scalp", at.Add(time.Hour))})
	p.onSignalEvaluated(events.Event{Payload: signalResult("eur-swing", at)})

	pending := p.Pending()
	if len(pending) != 2 {
		t.Fatalf("Expected 2 pending signals, got %d", len(pending))
	}
	if pending[0].Stream != "eur-swing" {
		t.Errorf("Expected oldest signal first, got %s", pending[0].Stream)
	}
}

func TestLifecycleStates(t *testing.T) {
	p := New(database.ModeLive, 0)
	p.RegisterStream("eur-swing", "sr_rejection", "EUR_USD")

	p.onLifecycle(events.Event{Type: events.EventEngineStarted})
	p.onLifecycle(events.Event{Type: events.EventEngineStarted, Stream: "eur-swing"})

	snap := p.Snapshot()
	if snap.State != EngineRunning {
		t.Errorf("Expected engine running, got %s", snap.State)
	}
	if snap.Streams[0].State != StreamPolling {
		t.Errorf("Expected stream polling, got %s", snap.Streams[0].State)
	}

	p.onLifecycle(events.Event{Type: events.EventEnginePaused, Stream: "eur-swing"})
	if got := p.Snapshot().Streams[0].State; got != StreamPaused {
		t.Errorf("Expected stream paused, got %s", got)
	}

	p.onLifecycle(events.Event{Type: events.EventEngineResumed, Stream: "eur-swing"})
	if got := p.Snapshot().Streams[0].State; got != StreamPolling {
		t.Errorf("Expected stream polling after resume, got %s", got)
	}

	p.onLifecycle(events.Event{Type: events.EventEngineStopped})
	if got := p.Snapshot().State; got != EngineStopped {
		t.Errorf("Expected engine stopped, got %s", got)
	}
}

func TestStopClearsPending(t *testing.T) {
	p := New(database.ModePaper, 0)
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	p.onSignalEvaluated(events.Event{Payload: signalResult("eur-swing", at)})
	p.onLifecycle(events.Event{Type: events.EventEngineStopped, Stream: "eur-swing"})

	if got := len(p.Pending()); got != 0 {
		t.Errorf("Expected pending cleared on stream stop, got %d", got)
	}
}

func TestBreakerStatus(t *testing.T) {
	p := New(database.ModeLive, 0)
	tripped := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)

	p.onBreaker(events.Event{Payload: risk.SupervisorState{
		Equity:        decimal.NewFromFloat(9400),
		PeakEquity:    decimal.NewFromFloat(10000),
		DrawdownPct:   6.0,
		BreakerActive: true,
		TrippedAt:     tripped,
	}})

	snap := p.Snapshot()
	if snap.Breaker == nil {
		t.Fatal("Expected breaker status to be set")
	}
	if !snap.Breaker.Active {
		t.Error("Expected breaker active")
	}
	if snap.Breaker.DrawdownPct != 6.0 {
		t.Errorf("Expected drawdown 6.0, got %f", snap.Breaker.DrawdownPct)
	}
	if snap.Breaker.TrippedAt == nil || !snap.Breaker.TrippedAt.Equal(tripped) {
		t.Errorf("Expected tripped at %v, got %v", tripped, snap.Breaker.TrippedAt)
	}
}

func TestEngineErrorFlagsStream(t *testing.T) {
	p := New(database.ModeLive, 0)
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	p.onEngineError(events.Event{
		Stream:    "eur-swing",
		Timestamp: at,
		Payload:   map[string]string{"message": "cycle failed", "error": "candles: status 503"},
	})

	st := p.Snapshot().Streams[0]
	if st.LastError != "cycle failed: candles: status 503" {
		t.Errorf("Expected cycle error recorded, got %q", st.LastError)
	}
	if st.LastErrorAt == nil || !st.LastErrorAt.Equal(at) {
		t.Errorf("Expected error timestamp %v, got %v", at, st.LastErrorAt)
	}

	p.onSignalEvaluated(events.Event{Payload: vetoResult("eur-swing", "outside trading window", at.Add(time.Minute))})

	st = p.Snapshot().Streams[0]
	if st.LastError != "" || st.LastErrorAt != nil {
		t.Errorf("Expected error cleared by the next evaluation, got %q", st.LastError)
	}
}

func TestEquitySnapshotStored(t *testing.T) {
	p := New(database.ModePaper, 0)

	p.onEquity(events.Event{Payload: &database.EquitySnapshot{
		Mode:          database.ModePaper,
		Equity:        10250.50,
		Balance:       10000,
		PeakEquity:    10300,
		DrawdownPct:   0.48,
		OpenPositions: 2,
	}})

	snap := p.Snapshot()
	if snap.Equity == nil {
		t.Fatal("Expected equity snapshot to be set")
	}
	if snap.Equity.Equity != 10250.50 {
		t.Errorf("Expected equity 10250.50, got %f", snap.Equity.Equity)
	}
	if snap.Equity.OpenPositions != 2 {
		t.Errorf("Expected 2 open positions, got %d", snap.Equity.OpenPositions)
	}
}

func TestRegisterStreamSeedsStatus(t *testing.T) {
	p := New(database.ModePaper, 0)
	p.RegisterStream("gold-scalp", "momentum_scalp", "XAU_USD")

	snap := p.Snapshot()
	if len(snap.Streams) != 1 {
		t.Fatalf("Expected 1 stream, got %d", len(snap.Streams))
	}
	st := snap.Streams[0]
	if st.Strategy != "momentum_scalp" || st.Instrument != "XAU_USD" {
		t.Errorf("Expected seeded strategy and instrument, got %+v", st)
	}
	if st.State != StreamIdle {
		t.Errorf("Expected idle state before start, got %s", st.State)
	}
}

func TestAttachDeliversEvents(t *testing.T) {
	p := New(database.ModePaper, 0)
	bus := events.NewBus()
	p.Attach(bus)

	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	bus.Publish(events.Event{Type: events.EventSignalEvaluated, Stream: "eur-swing", Payload: signalResult("eur-swing", at)})

	deadline := time.Now().Add(time.Second)
	for {
		if len(p.History(0)) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Expected published evaluation to reach the projection")
		}
		time.Sleep(5 * time.Millisecond)
	}

	snap := p.Snapshot()
	if snap.Streams[0].Signals != 1 {
		t.Errorf("Expected 1 signal recorded via bus, got %d", snap.Streams[0].Signals)
	}
}
