package indicators

import "forex-trading-bot/internal/broker"

// SwingPoint marks a local extreme in a candle series.
type SwingPoint struct {
	Index int
	Price float64
	High  bool // swing high when true, swing low otherwise
}

// IsSwingHigh reports whether candle i is a local high: its high strictly
// exceeds the highs of the k candles on each side.
func IsSwingHigh(candles []broker.Candle, i, k int) bool {
	if i < k || i+k >= len(candles) {
		return false
	}
	h := candles[i].High
	for j := i - k; j <= i+k; j++ {
		if j == i {
			continue
		}
		if candles[j].High >= h {
			return false
		}
	}
	return true
}

// IsSwingLow reports whether candle i is a local low.
func IsSwingLow(candles []broker.Candle, i, k int) bool {
	if i < k || i+k >= len(candles) {
		return false
	}
	l := candles[i].Low
	for j := i - k; j <= i+k; j++ {
		if j == i {
			continue
		}
		if candles[j].Low <= l {
			return false
		}
	}
	return true
}

// FindSwings scans a series with window k (default 3 when k <= 0) and
// returns all swing highs and lows in index order.
func FindSwings(candles []broker.Candle, k int) []SwingPoint {
	if k <= 0 {
		k = 3
	}
	var swings []SwingPoint
	for i := k; i+k < len(candles); i++ {
		if IsSwingHigh(candles, i, k) {
			swings = append(swings, SwingPoint{Index: i, Price: candles[i].High, High: true})
		}
		if IsSwingLow(candles, i, k) {
			swings = append(swings, SwingPoint{Index: i, Price: candles[i].Low, High: false})
		}
	}
	return swings
}

// RecentSwingLow returns the most recent swing low with window k, falling
// back to the lowest low of the last 2k+1 candles when no pivot exists.
func RecentSwingLow(candles []broker.Candle, k int) (float64, bool) {
	if len(candles) < 2*k+1 {
		return 0, false
	}
	for i := len(candles) - k - 1; i >= k; i-- {
		if IsSwingLow(candles, i, k) {
			return candles[i].Low, true
		}
	}
	low := candles[len(candles)-1].Low
	for _, c := range candles[len(candles)-2*k-1:] {
		if c.Low < low {
			low = c.Low
		}
	}
	return low, true
}

// RecentSwingHigh is the mirror of RecentSwingLow.
func RecentSwingHigh(candles []broker.Candle, k int) (float64, bool) {
	if len(candles) < 2*k+1 {
		return 0, false
	}
	for i := len(candles) - k - 1; i >= k; i-- {
		if IsSwingHigh(candles, i, k) {
			return candles[i].High, true
		}
	}
	high := candles[len(candles)-1].High
	for _, c := range candles[len(candles)-2*k-1:] {
		if c.High > high {
			high = c.High
		}
	}
	return high, true
}

// TrendDirection classifies the prevailing trend of a series.
type TrendDirection string

const (
	TrendBullish TrendDirection = "bullish"
	TrendBearish TrendDirection = "bearish"
	TrendFlat    TrendDirection = "flat"
)

// DetectTrend classifies the trend from a fast/slow EMA crossover combined
// with the latest close's position against the fast EMA. Disagreement
// between the two reads as flat.
func DetectTrend(candles []broker.Candle, fastPeriod, slowPeriod int) (TrendDirection, bool) {
	fast, ok := CalculateEMA(candles, fastPeriod)
	if !ok {
		return TrendFlat, false
	}
	slow, ok := CalculateEMA(candles, slowPeriod)
	if !ok {
		return TrendFlat, false
	}

	last := candles[len(candles)-1].Close
	switch {
	case fast > slow && last > fast:
		return TrendBullish, true
	case fast < slow && last < fast:
		return TrendBearish, true
	default:
		return TrendFlat, true
	}
}
