package strategy

import (
	"math"
	"strings"
	"testing"
	"time"

	"forex-trading-bot/internal/broker"
	"forex-trading-bot/internal/indicators"
	"forex-trading-bot/internal/session"
)

func closeTo(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// sawtoothDaily builds a daily series whose swing lows sit exactly on
// troughLevel (troughs at indexes 5, 15, 25, ...) and swing highs exactly
// on peakLevel (peaks at 10, 20, ...), so zone detection yields one
// support and one resistance cluster.
func sawtoothDaily(troughLevel, peakLevel float64, n int) []broker.Candle {
	minDist := func(i, start int) float64 {
		best := math.MaxFloat64
		for c := start; c < n; c += 10 {
			if d := math.Abs(float64(i - c)); d < best {
				best = d
			}
		}
		return best
	}

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]broker.Candle, n)
	for i := range candles {
		low := troughLevel + 0.0004*math.Min(3.5, minDist(i, 5))
		high := peakLevel - 0.0004*math.Min(3.5, minDist(i, 10))
		mid := (low + high) / 2
		candles[i] = broker.Candle{
			Instrument:  "EUR_USD",
			Granularity: broker.D,
			Time:        base.AddDate(0, 0, i),
			Open:        mid,
			High:        high,
			Low:         low,
			Close:       mid,
			Complete:    true,
		}
	}
	return candles
}

// h4FromCloses builds an H4 series from closes with small symmetric
// shadows; the caller usually replaces the final candle.
func h4FromCloses(closes []float64) []broker.Candle {
	base := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]broker.Candle, len(closes))
	for i, c := range closes {
		open := c
		if i > 0 {
			open = closes[i-1]
		}
		candles[i] = broker.Candle{
			Instrument:  "EUR_USD",
			Granularity: broker.H4,
			Time:        base.Add(time.Duration(i) * 4 * time.Hour),
			Open:        open,
			High:        math.Max(open, c) + 0.0002,
			Low:         math.Min(open, c) - 0.0002,
			Close:       c,
			Complete:    true,
		}
	}
	return candles
}

// flatTrendCloses produces an H4 close sequence whose fast EMA sits above
// the slow EMA while the last close sits below the fast EMA, which the
// trend filter reads as flat.
func flatTrendCloses(last float64) []float64 {
	closes := make([]float64, 0, 60)
	for i := 0; i < 40; i++ {
		closes = append(closes, 1.10000)
	}
	for i := 0; i < 19; i++ {
		closes = append(closes, 1.10400)
	}
	return append(closes, last)
}

func swingParams() Params {
	return Params{
		Stream:     "eur-swing",
		Instrument: "EUR_USD",
		Session:    session.Window{Start: 0, End: 24},
		TargetRR:   2,
	}
}

func TestSRRejectionBullishSignalAtSupport(t *testing.T) {
	daily := sawtoothDaily(1.10000, 1.10500, 60)

	if atr, ok := indicators.CalculateATR(daily, 14); !ok || atr < 0.0015 || atr > 0.0040 {
		t.Fatalf("fixture daily ATR out of expected band: %v (ok=%v)", atr, ok)
	}

	h4 := h4FromCloses(flatTrendCloses(1.10090))
	h4[len(h4)-1] = broker.Candle{
		Instrument:  "EUR_USD",
		Granularity: broker.H4,
		Time:        h4[len(h4)-1].Time,
		Open:        1.10100,
		High:        1.10110,
		Low:         1.09950,
		Close:       1.10090,
		Complete:    true,
	}

	s := NewSRRejection(swingParams(), DefaultSRRejectionConfig())
	res := s.Evaluate(MarketData{broker.D: daily, broker.H4: h4}, time.Date(2024, 2, 10, 14, 0, 0, 0, time.UTC))

	if !res.IsSignal() {
		t.Fatalf("Expected signal, got veto %q (gates %+v)", res.VetoReason, res.Gates)
	}
	sig := res.Signal
	if sig.Direction != Buy {
		t.Errorf("Expected buy, got %s", sig.Direction)
	}
	if !closeTo(sig.Entry, 1.10090) {
		t.Errorf("Expected entry 1.10090, got %v", sig.Entry)
	}
	if !closeTo(sig.TakeProfit, 1.10500) {
		t.Errorf("Expected target 1.10500, got %v", sig.TakeProfit)
	}
	if !closeTo(sig.StopLoss, 1.09885) {
		t.Errorf("Expected stop 1.09885, got %v", sig.StopLoss)
	}
	if sig.Zone == nil || !closeTo(sig.Zone.Level, 1.10000) {
		t.Errorf("Expected trigger zone 1.10000, got %+v", sig.Zone)
	}
	if !strings.Contains(sig.Reason, "original support") {
		t.Errorf("Expected reason to note the original role, got %q", sig.Reason)
	}
	if rr := sig.RiskReward(); !closeTo(rr, 2) {
		t.Errorf("Expected realised R:R 2, got %v", rr)
	}
	stops := res.Gates[len(res.Gates)-1]
	if stops.Name != "stops" || !strings.Contains(stops.Detail, "rr=") {
		t.Errorf("Expected the stops gate to record the realised ratio, got %+v", stops)
	}
	if err := sig.Validate(); err != nil {
		t.Errorf("Expected valid bracket: %v", err)
	}
}

func TestSRRejectionVetoes(t *testing.T) {
	daily := sawtoothDaily(1.10000, 1.10500, 60)
	flatDaily := make([]broker.Candle, 60)
	for i := range flatDaily {
		flatDaily[i] = broker.Candle{
			Instrument: "EUR_USD", Granularity: broker.D,
			Time: time.Date(2024, 1, 1+i, 0, 0, 0, 0, time.UTC),
			Open: 1.10100, High: 1.10120, Low: 1.10080, Close: 1.10100,
			Complete: true,
		}
	}

	bigBodyFinal := broker.Candle{
		Instrument: "EUR_USD", Granularity: broker.H4,
		Open: 1.09920, High: 1.10110, Low: 1.09900, Close: 1.10100,
		Complete: true,
	}

	risingCloses := make([]float64, 59)
	for i := range risingCloses {
		risingCloses[i] = 1.0920 + 0.0002*float64(i)
	}
	risingH4 := h4FromCloses(append(risingCloses, 1.10460))
	risingH4[len(risingH4)-1] = broker.Candle{
		Instrument: "EUR_USD", Granularity: broker.H4,
		Open: 1.10480, High: 1.10520, Low: 1.10450, Close: 1.10460,
		Complete: true,
	}

	noWickH4 := h4FromCloses(flatTrendCloses(1.10100))
	noWickH4[len(noWickH4)-1] = bigBodyFinal

	noon := time.Date(2024, 2, 10, 14, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		params     Params
		data       MarketData
		now        time.Time
		wantReason string
		wantGate   string
	}{
		{
			name:       "missing series",
			params:     swingParams(),
			data:       MarketData{},
			now:        noon,
			wantReason: "insufficient data",
			wantGate:   "data",
		},
		{
			name: "outside session",
			params: Params{
				Stream: "eur-swing", Instrument: "EUR_USD",
				Session: session.Window{Start: 8, End: 12}, TargetRR: 2,
			},
			data:       MarketData{broker.D: daily, broker.H4: h4FromCloses(flatTrendCloses(1.10090))},
			now:        noon,
			wantReason: "outside session window",
			wantGate:   "session",
		},
		{
			name:       "no zones in flat series",
			params:     swingParams(),
			data:       MarketData{broker.D: flatDaily, broker.H4: h4FromCloses(flatTrendCloses(1.10090))},
			now:        noon,
			wantReason: "no zones detected",
			wantGate:   "zones",
		},
		{
			name:       "body without rejection wick",
			params:     swingParams(),
			data:       MarketData{broker.D: daily, broker.H4: noWickH4},
			now:        noon,
			wantReason: "no rejection wick",
			wantGate:   "rejection",
		},
		{
			name:       "sell against bullish trend",
			params:     swingParams(),
			data:       MarketData{broker.D: daily, broker.H4: risingH4},
			now:        noon,
			wantReason: "counter-trend entry",
			wantGate:   "rejection",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSRRejection(tt.params, DefaultSRRejectionConfig())
			res := s.Evaluate(tt.data, tt.now)
			if res.IsSignal() {
				t.Fatalf("Expected veto, got signal %+v", res.Signal)
			}
			if res.VetoReason != tt.wantReason {
				t.Errorf("Expected veto %q, got %q", tt.wantReason, res.VetoReason)
			}
			last := res.Gates[len(res.Gates)-1]
			if last.Name != tt.wantGate || last.Passed {
				t.Errorf("Expected failing gate %q, got %+v", tt.wantGate, last)
			}
		})
	}
}

// A resistance zone that price has closed above acts as support and only
// ever produces buy-side candidates.
func TestSRRejectionFlippedZoneYieldsBuy(t *testing.T) {
	daily := sawtoothDaily(1.09800, 1.10300, 60)

	h4 := h4FromCloses(flatTrendCloses(1.10380))
	h4[len(h4)-1] = broker.Candle{
		Instrument: "EUR_USD", Granularity: broker.H4,
		Time: h4[len(h4)-1].Time,
		Open: 1.10360, High: 1.10390, Low: 1.10290, Close: 1.10380,
		Complete: true,
	}

	s := NewSRRejection(swingParams(), DefaultSRRejectionConfig())
	res := s.Evaluate(MarketData{broker.D: daily, broker.H4: h4}, time.Date(2024, 2, 10, 14, 0, 0, 0, time.UTC))

	if !res.IsSignal() {
		t.Fatalf("Expected signal, got veto %q (gates %+v)", res.VetoReason, res.Gates)
	}
	sig := res.Signal
	if sig.Direction != Buy {
		t.Fatalf("Expected buy off the flipped zone, got %s", sig.Direction)
	}
	if !strings.Contains(sig.Reason, "flipped to support") {
		t.Errorf("Expected reason to note the flip, got %q", sig.Reason)
	}
	if !(sig.StopLoss < sig.Entry && sig.Entry < sig.TakeProfit) {
		t.Errorf("Expected buy bracket, got stop %v entry %v target %v", sig.StopLoss, sig.Entry, sig.TakeProfit)
	}
}
