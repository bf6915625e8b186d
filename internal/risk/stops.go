package risk

import (
	"errors"

	"forex-trading-bot/internal/broker"
	"forex-trading-bot/internal/indicators"
	"forex-trading-bot/internal/zones"
)

// Stop derivation veto conditions.
var (
	ErrNoVolatility   = errors.New("volatility unavailable")
	ErrTargetTooClose = errors.New("target closer than one ATR")
	ErrRiskRewardLow  = errors.New("risk reward below minimum")
	ErrBracketInvalid = errors.New("stop and target do not bracket entry")
	ErrNoSwingAnchor  = errors.New("no swing to anchor stop")
)

const floatTol = 1e-9

// StopTarget is a derived stop and target price pair.
type StopTarget struct {
	Stop   float64
	Target float64
}

// ZoneAnchoredRequest carries the inputs for the swing-family derivation.
type ZoneAnchoredRequest struct {
	Side     Side
	Entry    float64
	DailyATR float64
	Trigger  zones.Zone
	Zones    []zones.Zone
	TargetRR float64
}

// ZoneAnchoredStopTarget derives the stop and target for a zone rejection
// entry. The target is the nearest zone in the profit direction excluding
// the trigger, falling back to two ATRs per unit of target R:R when no
// such zone exists. The stop distance is the target distance divided by
// the target R:R, clamped to half and two ATRs; a clamp that drags the
// realised R:R below the target vetoes the trade.
func ZoneAnchoredStopTarget(req ZoneAnchoredRequest) (StopTarget, error) {
	if req.DailyATR <= 0 {
		return StopTarget{}, ErrNoVolatility
	}

	var target float64
	if req.Side == Buy {
		if z, ok := zones.NearestAbove(req.Zones, req.Entry, req.Trigger.Level, 0); ok {
			target = z.Level
		} else {
			target = req.Entry + 2*req.DailyATR*req.TargetRR
		}
	} else {
		if z, ok := zones.NearestBelow(req.Zones, req.Entry, req.Trigger.Level, 0); ok {
			target = z.Level
		} else {
			target = req.Entry - 2*req.DailyATR*req.TargetRR
		}
	}

	targetDist := abs(target - req.Entry)
	if targetDist < req.DailyATR-floatTol {
		return StopTarget{}, ErrTargetTooClose
	}

	stopDist := targetDist / req.TargetRR
	if min := 0.5 * req.DailyATR; stopDist < min {
		stopDist = min
	}
	if max := 2 * req.DailyATR; stopDist > max {
		stopDist = max
	}
	if targetDist/stopDist < req.TargetRR-floatTol {
		return StopTarget{}, ErrRiskRewardLow
	}

	if req.Side == Buy {
		return StopTarget{Stop: req.Entry - stopDist, Target: target}, nil
	}
	return StopTarget{Stop: req.Entry + stopDist, Target: target}, nil
}

// ScalpRequest carries the inputs for the scalp-family derivation. Candles
// are the M5 series, oldest first. Pip quantities are interpreted through
// the instrument's pip size.
type ScalpRequest struct {
	Side        Side
	Entry       float64
	Candles     []broker.Candle
	Instrument  string
	OffsetPips  float64
	MinStopPips float64
	MaxStopPips float64
	TargetMult  float64
}

// ScalpStopTarget anchors the stop on the most recent two-bar swing
// extreme offset away from the entry, clamps the stop distance to the
// configured pip band, and places the target at a fixed multiple of the
// stop distance.
func ScalpStopTarget(req ScalpRequest) (StopTarget, error) {
	pip := broker.PipSize(req.Instrument)
	offset := req.OffsetPips * pip

	var stopDist float64
	if req.Side == Buy {
		swing, ok := indicators.RecentSwingLow(req.Candles, 2)
		if !ok {
			return StopTarget{}, ErrNoSwingAnchor
		}
		stopDist = req.Entry - (swing - offset)
	} else {
		swing, ok := indicators.RecentSwingHigh(req.Candles, 2)
		if !ok {
			return StopTarget{}, ErrNoSwingAnchor
		}
		stopDist = (swing + offset) - req.Entry
	}

	if min := req.MinStopPips * pip; stopDist < min {
		stopDist = min
	}
	if max := req.MaxStopPips * pip; stopDist > max {
		stopDist = max
	}

	if req.Side == Buy {
		return StopTarget{
			Stop:   req.Entry - stopDist,
			Target: req.Entry + req.TargetMult*stopDist,
		}, nil
	}
	return StopTarget{
		Stop:   req.Entry + stopDist,
		Target: req.Entry - req.TargetMult*stopDist,
	}, nil
}

// MeanReversionRequest carries the inputs for the range-family derivation.
type MeanReversionRequest struct {
	Side       Side
	Entry      float64
	Zone       zones.Zone
	RangeATR   float64
	BandMiddle float64
	Instrument string
	MinRR      float64
}

// MeanReversionStopTarget places the stop beyond the range boundary,
// buffered by the hourly ATR clamped to ten and fifty pips, and targets
// the Bollinger middle line. Entries whose bracket is inverted or whose
// realised R:R falls below the configured minimum are vetoed.
func MeanReversionStopTarget(req MeanReversionRequest) (StopTarget, error) {
	pip := broker.PipSize(req.Instrument)
	buffer := req.RangeATR
	if min := 10 * pip; buffer < min {
		buffer = min
	}
	if max := 50 * pip; buffer > max {
		buffer = max
	}

	var st StopTarget
	if req.Side == Buy {
		st = StopTarget{Stop: req.Zone.Level - buffer, Target: req.BandMiddle}
		if !(st.Stop < req.Entry && req.Entry < st.Target) {
			return StopTarget{}, ErrBracketInvalid
		}
	} else {
		st = StopTarget{Stop: req.Zone.Level + buffer, Target: req.BandMiddle}
		if !(st.Stop > req.Entry && req.Entry > st.Target) {
			return StopTarget{}, ErrBracketInvalid
		}
	}

	rr := abs(st.Target-req.Entry) / abs(req.Entry-st.Stop)
	if rr < req.MinRR-floatTol {
		return StopTarget{}, ErrRiskRewardLow
	}
	return st, nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
