package indicators

import (
	"math"
	"testing"
	"time"

	"forex-trading-bot/internal/broker"
)

func candlesFromCloses(closes ...float64) []broker.Candle {
	candles := make([]broker.Candle, len(closes))
	base := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		candles[i] = broker.Candle{
			Instrument:  "EUR_USD",
			Granularity: broker.H1,
			Time:        base.Add(time.Duration(i) * time.Hour),
			Open:        c,
			High:        c,
			Low:         c,
			Close:       c,
			Complete:    true,
		}
	}
	return candles
}

func trendingCandles(n int, start, step float64) []broker.Candle {
	candles := make([]broker.Candle, n)
	base := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	for i := range candles {
		c := start + float64(i)*step
		candles[i] = broker.Candle{
			Instrument:  "EUR_USD",
			Granularity: broker.H1,
			Time:        base.Add(time.Duration(i) * time.Hour),
			Open:        c - step/2,
			High:        c + step/2,
			Low:         c - step,
			Close:       c,
			Complete:    true,
		}
	}
	return candles
}

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestInsufficientDataReturnsAbsent(t *testing.T) {
	short := candlesFromCloses(1, 2, 3) // 3 candles

	if _, ok := CalculateEMA(short, 3); ok {
		t.Error("EMA(3) over 3 candles should be absent")
	}
	if _, ok := CalculateRSI(short, 3); ok {
		t.Error("RSI(3) over 3 candles should be absent")
	}
	if _, ok := CalculateATR(short, 3); ok {
		t.Error("ATR(3) over 3 candles should be absent")
	}
	if _, ok := CalculateADX(short, 3); ok {
		t.Error("ADX(3) over 3 candles should be absent")
	}
	if _, ok := CalculateBollinger(short, 3, 2); ok {
		t.Error("Bollinger(3) over 3 candles should be absent")
	}

	// The minimum priming window of period+1 must produce a value.
	exact := candlesFromCloses(1, 2, 3, 4)
	if _, ok := CalculateEMA(exact, 3); !ok {
		t.Error("EMA(3) over 4 candles should be present")
	}
	if _, ok := CalculateRSI(exact, 3); !ok {
		t.Error("RSI(3) over 4 candles should be present")
	}
	if _, ok := CalculateATR(exact, 3); !ok {
		t.Error("ATR(3) over 4 candles should be present")
	}
	if _, ok := CalculateADX(exact, 3); !ok {
		t.Error("ADX(3) over 4 candles should be present")
	}
	if _, ok := CalculateBollinger(exact, 3, 2); !ok {
		t.Error("Bollinger(3) over 4 candles should be present")
	}
}

func TestCalculateEMAConstantSeries(t *testing.T) {
	candles := candlesFromCloses(5, 5, 5, 5, 5, 5, 5, 5)
	ema, ok := CalculateEMA(candles, 4)
	if !ok {
		t.Fatal("Expected EMA value")
	}
	if !almostEqual(ema, 5, 1e-12) {
		t.Errorf("EMA of constant series = %v, want 5", ema)
	}
}

func TestCalculateEMAFollowsPrice(t *testing.T) {
	rising := candlesFromCloses(1, 2, 3, 4, 5, 6, 7, 8, 9, 10)
	fast, _ := CalculateEMA(rising, 3)
	slow, _ := CalculateEMA(rising, 8)
	if fast <= slow {
		t.Errorf("Fast EMA (%v) should sit above slow EMA (%v) in an uptrend", fast, slow)
	}
	last := rising[len(rising)-1].Close
	if fast >= last {
		t.Errorf("EMA (%v) should lag below the last close (%v) in an uptrend", fast, last)
	}
}

func TestCalculateRSIExtremes(t *testing.T) {
	tests := []struct {
		name   string
		closes []float64
		want   float64
	}{
		{name: "all gains", closes: []float64{1, 2, 3, 4}, want: 100},
		{name: "all losses", closes: []float64{4, 3, 2, 1}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rsi, ok := CalculateRSI(candlesFromCloses(tt.closes...), 3)
			if !ok {
				t.Fatal("Expected RSI value")
			}
			if !almostEqual(rsi, tt.want, 1e-9) {
				t.Errorf("RSI = %v, want %v", rsi, tt.want)
			}
		})
	}
}

func TestCalculateRSIMixedSeries(t *testing.T) {
	// Deltas over period 3: +1, -1, +1 → avgGain 2/3, avgLoss 1/3 → RSI 66.67.
	rsi, ok := CalculateRSI(candlesFromCloses(1, 2, 1, 2), 3)
	if !ok {
		t.Fatal("Expected RSI value")
	}
	if !almostEqual(rsi, 200.0/3.0, 1e-9) {
		t.Errorf("RSI = %v, want %v", rsi, 200.0/3.0)
	}
}

func TestCalculateATRConstantRange(t *testing.T) {
	// Every candle spans exactly 10 with gaps never exceeding the range.
	candles := make([]broker.Candle, 16)
	base := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	for i := range candles {
		candles[i] = broker.Candle{
			Time: base.Add(time.Duration(i) * time.Hour),
			Open: 100, High: 105, Low: 95, Close: 100,
			Complete: true,
		}
	}

	atr, ok := CalculateATR(candles, 14)
	if !ok {
		t.Fatal("Expected ATR value")
	}
	if !almostEqual(atr, 10, 1e-9) {
		t.Errorf("ATR = %v, want 10", atr)
	}
}

func TestCalculateADXTrendingVsFlat(t *testing.T) {
	trending := trendingCandles(40, 100, 1)
	adx, ok := CalculateADX(trending, 14)
	if !ok {
		t.Fatal("Expected ADX value for trending series")
	}
	if !almostEqual(adx, 100, 1e-6) {
		t.Errorf("ADX of a clean uptrend = %v, want 100", adx)
	}

	flat := candlesFromCloses(make([]float64, 40)...)
	for i := range flat {
		flat[i].Open, flat[i].High, flat[i].Low, flat[i].Close = 100, 100, 100, 100
	}
	adx, ok = CalculateADX(flat, 14)
	if !ok {
		t.Fatal("Expected ADX value for flat series")
	}
	if adx != 0 {
		t.Errorf("ADX of a flat series = %v, want 0", adx)
	}
}

func TestCalculateBollinger(t *testing.T) {
	// Last 3 closes 1, 2, 3: mean 2, population std sqrt(2/3).
	candles := candlesFromCloses(2, 1, 2, 3)
	bands, ok := CalculateBollinger(candles, 3, 2)
	if !ok {
		t.Fatal("Expected bands")
	}

	std := math.Sqrt(2.0 / 3.0)
	if !almostEqual(bands.Middle, 2, 1e-9) {
		t.Errorf("Middle = %v, want 2", bands.Middle)
	}
	if !almostEqual(bands.Upper, 2+2*std, 1e-9) {
		t.Errorf("Upper = %v, want %v", bands.Upper, 2+2*std)
	}
	if !almostEqual(bands.Lower, 2-2*std, 1e-9) {
		t.Errorf("Lower = %v, want %v", bands.Lower, 2-2*std)
	}
	if bands.Upper <= bands.Middle || bands.Middle <= bands.Lower {
		t.Error("Bands out of order")
	}
}

func TestBollingerConstantSeriesCollapses(t *testing.T) {
	bands, ok := CalculateBollinger(candlesFromCloses(5, 5, 5, 5, 5), 4, 2)
	if !ok {
		t.Fatal("Expected bands")
	}
	if bands.Upper != 5 || bands.Middle != 5 || bands.Lower != 5 {
		t.Errorf("Constant series should collapse bands to the mean, got %+v", bands)
	}
}
