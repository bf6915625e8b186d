package indicators

import (
	"testing"
	"time"

	"forex-trading-bot/internal/broker"
)

func candlesFromHighsLows(highs, lows []float64) []broker.Candle {
	candles := make([]broker.Candle, len(highs))
	base := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	for i := range highs {
		mid := (highs[i] + lows[i]) / 2
		candles[i] = broker.Candle{
			Time: base.Add(time.Duration(i) * time.Hour),
			Open: mid, High: highs[i], Low: lows[i], Close: mid,
			Complete: true,
		}
	}
	return candles
}

func TestFindSwings(t *testing.T) {
	// A single peak at index 4 and a single trough at index 10, window 3.
	highs := []float64{10, 11, 12, 13, 20, 13, 12, 11, 10, 9, 8, 9, 10, 11, 12}
	lows := []float64{9, 10, 11, 12, 19, 12, 11, 10, 9, 8, 1, 8, 9, 10, 11}

	swings := FindSwings(candlesFromHighsLows(highs, lows), 3)

	var foundHigh, foundLow bool
	for _, s := range swings {
		if s.High && s.Index == 4 && s.Price == 20 {
			foundHigh = true
		}
		if !s.High && s.Index == 10 && s.Price == 1 {
			foundLow = true
		}
	}
	if !foundHigh {
		t.Errorf("Expected swing high at index 4, got %+v", swings)
	}
	if !foundLow {
		t.Errorf("Expected swing low at index 10, got %+v", swings)
	}
}

func TestSwingRequiresStrictDominance(t *testing.T) {
	// Equal neighboring highs do not qualify as a swing high.
	highs := []float64{10, 11, 15, 15, 11, 10, 9}
	lows := []float64{9, 10, 14, 14, 10, 9, 8}
	candles := candlesFromHighsLows(highs, lows)

	if IsSwingHigh(candles, 2, 2) {
		t.Error("Candle with an equal neighbor should not be a swing high")
	}
	if IsSwingHigh(candles, 3, 2) {
		t.Error("Candle with an equal neighbor should not be a swing high")
	}
}

func TestSwingWindowBounds(t *testing.T) {
	candles := candlesFromHighsLows(
		[]float64{10, 20, 10, 10, 10, 10, 30},
		[]float64{9, 19, 9, 9, 9, 9, 29},
	)

	// Index 1 has only one candle to its left; window 3 cannot confirm it.
	if IsSwingHigh(candles, 1, 3) {
		t.Error("Swing high cannot be confirmed near the series edge")
	}
	// The last candle has no right-side confirmation at all.
	if IsSwingHigh(candles, len(candles)-1, 3) {
		t.Error("Last candle can never be a confirmed swing high")
	}
}

func TestRecentSwingLow(t *testing.T) {
	highs := []float64{10, 10, 10, 10, 10, 10, 10, 10, 10}
	lows := []float64{5, 4, 5, 2, 5, 6, 5, 6, 7}

	low, ok := RecentSwingLow(candlesFromHighsLows(highs, lows), 2)
	if !ok {
		t.Fatal("Expected a swing low")
	}
	if low != 2 {
		t.Errorf("RecentSwingLow = %v, want 2", low)
	}
}

func TestDetectTrend(t *testing.T) {
	tests := []struct {
		name   string
		closes []float64
		want   TrendDirection
	}{
		{
			name:   "uptrend",
			closes: []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12},
			want:   TrendBullish,
		},
		{
			name:   "downtrend",
			closes: []float64{12, 11, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1},
			want:   TrendBearish,
		},
		{
			name:   "flat",
			closes: []float64{5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5},
			want:   TrendFlat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trend, ok := DetectTrend(candlesFromCloses(tt.closes...), 3, 8)
			if !ok {
				t.Fatal("Expected a trend classification")
			}
			if trend != tt.want {
				t.Errorf("DetectTrend = %v, want %v", trend, tt.want)
			}
		})
	}
}
