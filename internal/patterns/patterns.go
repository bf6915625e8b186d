// Package patterns recognises the candlestick formations the scalp
// strategy accepts as entry confirmation.
package patterns

import "forex-trading-bot/internal/broker"

// Pattern names a recognised confirmation formation.
type Pattern string

const (
	Engulfing    Pattern = "engulfing"
	Hammer       Pattern = "hammer"
	ShootingStar Pattern = "shooting_star"
	PinBar       Pattern = "pin_bar"
	TwoCloses    Pattern = "two_closes"
	StrongBody   Pattern = "strong_body"
)

// strongBodyRatio is the minimum body share of the full range for a
// strong-body confirmation.
const strongBodyRatio = 0.6

// BullishConfirmation scans the last two candles for a bullish formation
// and returns the first match. Bearish formations on the same candles are
// ignored.
func BullishConfirmation(candles []broker.Candle) (Pattern, bool) {
	if len(candles) < 2 {
		return "", false
	}
	prev, cur := candles[len(candles)-2], candles[len(candles)-1]

	switch {
	case isBullishEngulfing(prev, cur):
		return Engulfing, true
	case isHammer(cur):
		return Hammer, true
	case isBullishPinBar(cur):
		return PinBar, true
	case prev.Bullish() && cur.Bullish():
		return TwoCloses, true
	case isStrongBody(cur) && cur.Bullish():
		return StrongBody, true
	}
	return "", false
}

// BearishConfirmation is the mirror of BullishConfirmation.
func BearishConfirmation(candles []broker.Candle) (Pattern, bool) {
	if len(candles) < 2 {
		return "", false
	}
	prev, cur := candles[len(candles)-2], candles[len(candles)-1]

	switch {
	case isBearishEngulfing(prev, cur):
		return Engulfing, true
	case isShootingStar(cur):
		return ShootingStar, true
	case isBearishPinBar(cur):
		return PinBar, true
	case prev.Bearish() && cur.Bearish():
		return TwoCloses, true
	case isStrongBody(cur) && cur.Bearish():
		return StrongBody, true
	}
	return "", false
}

// isBullishEngulfing: a bearish candle followed by a bullish candle whose
// body covers the previous body entirely.
func isBullishEngulfing(prev, cur broker.Candle) bool {
	if !prev.Bearish() || !cur.Bullish() {
		return false
	}
	return cur.Open <= prev.Close && cur.Close >= prev.Open && cur.Body() > prev.Body()
}

func isBearishEngulfing(prev, cur broker.Candle) bool {
	if !prev.Bullish() || !cur.Bearish() {
		return false
	}
	return cur.Open >= prev.Close && cur.Close <= prev.Open && cur.Body() > prev.Body()
}

// isHammer: small body near the top with a lower wick at least twice the
// body and little above.
func isHammer(c broker.Candle) bool {
	body := c.Body()
	if body == 0 || c.Range() == 0 {
		return false
	}
	return c.LowerShadow() >= 2*body && c.UpperShadow() <= body
}

func isShootingStar(c broker.Candle) bool {
	body := c.Body()
	if body == 0 || c.Range() == 0 {
		return false
	}
	return c.UpperShadow() >= 2*body && c.LowerShadow() <= body
}

// isBullishPinBar: the lower wick dominates the whole range, close in the
// upper half. Dojis qualify when the wick share is large enough.
func isBullishPinBar(c broker.Candle) bool {
	r := c.Range()
	if r == 0 {
		return false
	}
	return c.LowerShadow() >= 0.6*r && c.Close >= c.Low+r/2
}

func isBearishPinBar(c broker.Candle) bool {
	r := c.Range()
	if r == 0 {
		return false
	}
	return c.UpperShadow() >= 0.6*r && c.Close <= c.High-r/2
}

func isStrongBody(c broker.Candle) bool {
	r := c.Range()
	if r == 0 {
		return false
	}
	return c.Body() >= strongBodyRatio*r
}
