// Package indicators provides pure numeric primitives over ordered candle
// series. Every function returns its latest value plus an ok flag; ok is
// false whenever the series is shorter than the minimum priming window of
// period+1 candles, and callers treat that as a veto.
package indicators

import (
	"math"

	"forex-trading-bot/internal/broker"
)

// CalculateSMA returns the simple moving average of the last period closes.
func CalculateSMA(candles []broker.Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period+1 {
		return 0, false
	}
	sum := 0.0
	for _, c := range candles[len(candles)-period:] {
		sum += c.Close
	}
	return sum / float64(period), true
}

// CalculateEMA returns the latest exponential moving average: seeded with
// the SMA of the first period closes, then smoothed with k = 2/(period+1).
func CalculateEMA(candles []broker.Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period+1 {
		return 0, false
	}

	seed := 0.0
	for _, c := range candles[:period] {
		seed += c.Close
	}
	ema := seed / float64(period)

	k := 2.0 / float64(period+1)
	for _, c := range candles[period:] {
		ema = c.Close*k + ema*(1-k)
	}
	return ema, true
}

// CalculateATR returns the latest Wilder-smoothed average true range.
// The first ATR is the mean of the first period true ranges; later values
// use ATR = (prev·(period−1) + TR) / period.
func CalculateATR(candles []broker.Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period+1 {
		return 0, false
	}

	trs := trueRanges(candles)

	atr := 0.0
	for _, tr := range trs[:period] {
		atr += tr
	}
	atr /= float64(period)

	for _, tr := range trs[period:] {
		atr = (atr*float64(period-1) + tr) / float64(period)
	}
	return atr, true
}

// CalculateRSI returns the latest Wilder relative strength index. Average
// gain and loss are seeded over the first period deltas and then smoothed
// the same way as ATR. A series with no losses reads 100; no gains reads 0.
func CalculateRSI(candles []broker.Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period+1 {
		return 0, false
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		delta := candles[i].Close - candles[i-1].Close
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(candles); i++ {
		delta := candles[i].Close - candles[i-1].Close
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

// CalculateADX returns the latest average directional index from the full
// (+DI, −DI, DX) chain. Smoothed TR and directional movement seed as sums
// over the first period bars; the ADX itself seeds as the first DX and is
// Wilder-smoothed over subsequent DX values.
func CalculateADX(candles []broker.Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period+1 {
		return 0, false
	}

	n := len(candles) - 1 // bars with a predecessor
	trs := make([]float64, n)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)

	for i := 1; i < len(candles); i++ {
		cur, prev := candles[i], candles[i-1]
		trs[i-1] = trueRange(cur, prev)

		upMove := cur.High - prev.High
		downMove := prev.Low - cur.Low
		if upMove > downMove && upMove > 0 {
			plusDM[i-1] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i-1] = downMove
		}
	}

	// Seed the smoothed sums over the first period bars.
	var smTR, smPlus, smMinus float64
	for i := 0; i < period; i++ {
		smTR += trs[i]
		smPlus += plusDM[i]
		smMinus += minusDM[i]
	}

	adx, primed := dx(smTR, smPlus, smMinus), 1

	for i := period; i < n; i++ {
		smTR = smTR - smTR/float64(period) + trs[i]
		smPlus = smPlus - smPlus/float64(period) + plusDM[i]
		smMinus = smMinus - smMinus/float64(period) + minusDM[i]

		adx = (adx*float64(primed) + dx(smTR, smPlus, smMinus)) / float64(primed+1)
		if primed < period-1 {
			primed++
		}
	}

	return adx, true
}

func dx(smTR, smPlus, smMinus float64) float64 {
	if smTR == 0 {
		return 0
	}
	plusDI := 100 * smPlus / smTR
	minusDI := 100 * smMinus / smTR
	sum := plusDI + minusDI
	if sum == 0 {
		return 0
	}
	return 100 * math.Abs(plusDI-minusDI) / sum
}

// BollingerBands holds the three band values for the latest candle.
type BollingerBands struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// CalculateBollinger returns bands over the last period closes: middle is
// the SMA, upper/lower are stdDevs population standard deviations away.
func CalculateBollinger(candles []broker.Candle, period int, stdDevs float64) (BollingerBands, bool) {
	mean, ok := CalculateSMA(candles, period)
	if !ok {
		return BollingerBands{}, false
	}

	window := candles[len(candles)-period:]
	variance := 0.0
	for _, c := range window {
		d := c.Close - mean
		variance += d * d
	}
	std := math.Sqrt(variance / float64(period))

	return BollingerBands{
		Upper:  mean + stdDevs*std,
		Middle: mean,
		Lower:  mean - stdDevs*std,
	}, true
}

func trueRange(cur, prev broker.Candle) float64 {
	tr := cur.High - cur.Low
	if hc := math.Abs(cur.High - prev.Close); hc > tr {
		tr = hc
	}
	if lc := math.Abs(cur.Low - prev.Close); lc > tr {
		tr = lc
	}
	return tr
}

func trueRanges(candles []broker.Candle) []float64 {
	trs := make([]float64, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		trs[i-1] = trueRange(candles[i], candles[i-1])
	}
	return trs
}
