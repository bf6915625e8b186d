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

// scalpM5 builds 45 flat candles followed by 15 rising hammers. Every
// candle carries the same true range of 0.10+depth, so the Wilder ATR is
// exact and the fixture's volatility is set by depth alone.
func scalpM5(depth float64) []broker.Candle {
	base := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	rng := 0.10 + depth

	candles := make([]broker.Candle, 60)
	prevClose := 2000.0
	for i := range candles {
		c := broker.Candle{
			Instrument:  "XAU_USD",
			Granularity: broker.M5,
			Time:        base.Add(time.Duration(i) * 5 * time.Minute),
			Complete:    true,
		}
		if i < 45 {
			c.Open, c.Close = 2000, 2000
			c.High, c.Low = 2000+rng/2, 2000-rng/2
		} else {
			c.Open = prevClose
			c.Close = c.Open + 0.05
			c.High = c.Close + 0.05
			c.Low = c.Open - depth
		}
		prevClose = c.Close
		candles[i] = c
	}
	return candles
}

func flatM1(half float64) []broker.Candle {
	base := time.Date(2024, 3, 5, 13, 30, 0, 0, time.UTC)
	candles := make([]broker.Candle, 30)
	for i := range candles {
		candles[i] = broker.Candle{
			Instrument:  "XAU_USD",
			Granularity: broker.M1,
			Time:        base.Add(time.Duration(i) * time.Minute),
			Open:        2000.70,
			High:        2000.70 + half,
			Low:         2000.70 - half,
			Close:       2000.70,
			Complete:    true,
		}
	}
	return candles
}

func scalpParams(w session.Window) Params {
	return Params{Stream: "xau-scalp", Instrument: "XAU_USD", Session: w}
}

func TestMomentumScalpSignal(t *testing.T) {
	m5 := scalpM5(0.90)
	data := MarketData{broker.M5: m5, broker.M1: flatM1(0.05)}

	s := NewMomentumScalp(scalpParams(session.Window{Start: 0, End: 24}), DefaultScalpConfig())
	res := s.Evaluate(data, time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC))

	if !res.IsSignal() {
		t.Fatalf("Expected signal, got veto %q (gates %+v)", res.VetoReason, res.Gates)
	}
	if len(res.Gates) != 8 {
		t.Errorf("Expected 8 gate checks, got %d", len(res.Gates))
	}
	for _, g := range res.Gates {
		if !g.Passed {
			t.Errorf("Expected gate %q to pass", g.Name)
		}
	}

	sig := res.Signal
	if sig.Direction != Buy {
		t.Errorf("Expected buy, got %s", sig.Direction)
	}
	if !closeTo(sig.Entry, 2000.75) {
		t.Errorf("Expected entry 2000.75, got %v", sig.Entry)
	}
	if !closeTo(sig.StopLoss, 1998.75) {
		t.Errorf("Expected stop clamped to 1998.75, got %v", sig.StopLoss)
	}
	if !closeTo(sig.TakeProfit, 2003.75) {
		t.Errorf("Expected target 2003.75, got %v", sig.TakeProfit)
	}
	if !strings.Contains(sig.Reason, "hammer") {
		t.Errorf("Expected hammer confirmation in reason, got %q", sig.Reason)
	}
	if sig.Stream != "xau-scalp" {
		t.Errorf("Expected stream stamp, got %q", sig.Stream)
	}
}

func TestMomentumScalpVetoLowVolatility(t *testing.T) {
	m5 := scalpM5(0.40)
	if atr, ok := indicators.CalculateATR(m5, 14); !ok || math.Abs(atr-0.50) > 1e-6 {
		t.Fatalf("fixture ATR should be 0.50, got %v (ok=%v)", atr, ok)
	}

	data := MarketData{broker.M5: m5, broker.M1: flatM1(0.05)}
	s := NewMomentumScalp(scalpParams(session.Window{Start: 0, End: 24}), DefaultScalpConfig())
	res := s.Evaluate(data, time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC))

	if res.IsSignal() {
		t.Fatalf("Expected veto, got signal %+v", res.Signal)
	}
	if res.VetoReason != "volatility below floor" {
		t.Errorf("Expected volatility veto, got %q", res.VetoReason)
	}
	if len(res.Gates) != 4 {
		t.Fatalf("Expected evaluation to stop at the fourth gate, got %d checks", len(res.Gates))
	}
	for _, g := range res.Gates[:3] {
		if !g.Passed {
			t.Errorf("Expected gate %q to pass before the veto", g.Name)
		}
	}
	last := res.Gates[3]
	if last.Name != "volatility" || last.Passed {
		t.Errorf("Expected failing volatility gate, got %+v", last)
	}
	if !strings.Contains(last.Detail, "atr=") || !strings.Contains(last.Detail, "floor=") {
		t.Errorf("Expected atr and floor in gate detail, got %q", last.Detail)
	}
}

func TestMomentumScalpVetoes(t *testing.T) {
	alternating := make([]broker.Candle, 60)
	prevClose := 2000.0
	for i := range alternating {
		c := broker.Candle{
			Instrument: "XAU_USD", Granularity: broker.M5,
			Time:     time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC).Add(time.Duration(i) * 5 * time.Minute),
			Open:     prevClose,
			Complete: true,
		}
		if i%2 == 0 {
			c.Close = 2000.05
		} else {
			c.Close = 1999.95
		}
		c.High = math.Max(c.Open, c.Close) + 0.20
		c.Low = math.Min(c.Open, c.Close) - 0.20
		prevClose = c.Close
		alternating[i] = c
	}

	noConfirm := scalpM5(0.90)
	last := &noConfirm[len(noConfirm)-1]
	last.Close = last.Open - 0.05
	last.High = last.Open + 0.05
	last.Low = last.Close - 0.05

	noon := time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		m5, m1     []broker.Candle
		window     session.Window
		now        time.Time
		wantReason string
		wantGate   string
		wantGates  int
	}{
		{
			name: "session ending soon",
			m5:   scalpM5(0.90), m1: flatM1(0.05),
			window: session.Window{Start: 0, End: 20},
			now:    time.Date(2024, 3, 5, 19, 40, 0, 0, time.UTC),
			wantReason: "session ending soon", wantGate: "session", wantGates: 2,
		},
		{
			name: "no directional bias",
			m5:   alternating, m1: flatM1(0.05),
			window: session.Window{Start: 0, End: 24}, now: noon,
			wantReason: "no directional bias", wantGate: "bias", wantGates: 3,
		},
		{
			name: "spread too wide",
			m5:   scalpM5(0.90), m1: flatM1(0.30),
			window: session.Window{Start: 0, End: 24}, now: noon,
			wantReason: "spread too wide", wantGate: "spread", wantGates: 5,
		},
		{
			name: "no confirmation pattern",
			m5:   noConfirm, m1: flatM1(0.05),
			window: session.Window{Start: 0, End: 24}, now: noon,
			wantReason: "no confirmation pattern", wantGate: "confirmation", wantGates: 7,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewMomentumScalp(scalpParams(tt.window), DefaultScalpConfig())
			res := s.Evaluate(MarketData{broker.M5: tt.m5, broker.M1: tt.m1}, tt.now)
			if res.IsSignal() {
				t.Fatalf("Expected veto, got signal %+v", res.Signal)
			}
			if res.VetoReason != tt.wantReason {
				t.Errorf("Expected veto %q, got %q", tt.wantReason, res.VetoReason)
			}
			if len(res.Gates) != tt.wantGates {
				t.Errorf("Expected %d gate checks, got %d", tt.wantGates, len(res.Gates))
			}
			lastGate := res.Gates[len(res.Gates)-1]
			if lastGate.Name != tt.wantGate || lastGate.Passed {
				t.Errorf("Expected failing gate %q, got %+v", tt.wantGate, lastGate)
			}
		})
	}
}
