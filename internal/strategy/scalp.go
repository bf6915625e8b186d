package strategy

import (
	"fmt"
	"time"

	"forex-trading-bot/internal/broker"
	"forex-trading-bot/internal/indicators"
	"forex-trading-bot/internal/patterns"
	"forex-trading-bot/internal/risk"
)

// ScalpConfig tunes the momentum scalp. Pip quantities are interpreted
// through the stream instrument's pip size, so the defaults are stated in
// bullion pips.
type ScalpConfig struct {
	M5Candles           int           `json:"m5_candles"`
	M1Candles           int           `json:"m1_candles"`
	BiasWindow          int           `json:"bias_window"`
	BiasRatio           float64       `json:"bias_ratio"`
	MinNetPips          float64       `json:"min_net_pips"`
	ATRPeriod           int           `json:"atr_period"`
	VolatilityFloorPips float64       `json:"volatility_floor_pips"`
	SpreadWindow        int           `json:"spread_window"`
	SpreadCeilingPips   float64       `json:"spread_ceiling_pips"`
	EMAPeriod           int           `json:"ema_period"`
	PullbackPips        float64       `json:"pullback_pips"`
	OffsetPips          float64       `json:"offset_pips"`
	MinStopPips         float64       `json:"min_stop_pips"`
	MaxStopPips         float64       `json:"max_stop_pips"`
	TargetMult          float64       `json:"target_mult"`
	EndBuffer           time.Duration `json:"-"`
}

// DefaultScalpConfig returns the bullion production defaults.
func DefaultScalpConfig() ScalpConfig {
	return ScalpConfig{
		M5Candles:           60,
		M1Candles:           30,
		BiasWindow:          15,
		BiasRatio:           0.6,
		MinNetPips:          1,
		ATRPeriod:           14,
		VolatilityFloorPips: 80,
		SpreadWindow:        20,
		SpreadCeilingPips:   50,
		EMAPeriod:           9,
		PullbackPips:        100,
		OffsetPips:          30,
		MinStopPips:         200,
		MaxStopPips:         800,
		TargetMult:          1.5,
		EndBuffer:           30 * time.Minute,
	}
}

// MomentumScalp trades short bursts in the direction of the recent M5
// close bias, entering on pullbacks to the fast average once a candle
// pattern confirms.
type MomentumScalp struct {
	params Params
	cfg    ScalpConfig
}

var _ Strategy = (*MomentumScalp)(nil)

// NewMomentumScalp builds the strategy for one stream.
func NewMomentumScalp(p Params, cfg ScalpConfig) *MomentumScalp {
	return &MomentumScalp{params: p, cfg: cfg}
}

func (s *MomentumScalp) Name() string       { return "momentum_scalp" }
func (s *MomentumScalp) Instrument() string { return s.params.Instrument }

func (s *MomentumScalp) Requirements() map[broker.Granularity]int {
	return map[broker.Granularity]int{
		broker.M5: s.cfg.M5Candles,
		broker.M1: s.cfg.M1Candles,
	}
}

func (s *MomentumScalp) Gates() []string {
	return []string{"data", "session", "bias", "volatility", "spread", "pullback", "confirmation", "stops"}
}

// Evaluate runs the gate sequence and returns the first veto or a signal.
func (s *MomentumScalp) Evaluate(data MarketData, now time.Time) Result {
	tr := newTrace(s.Name(), s.params.Stream, now)

	detail, ok := sufficient(data, s.Requirements())
	if !ok {
		return tr.veto("data", "insufficient data", detail)
	}
	tr.pass("data", detail)

	if !s.params.Session.Admits(now) {
		return tr.veto("session", "outside session window", "")
	}
	if !s.params.Session.AdmitsWithBuffer(now, s.cfg.EndBuffer) {
		return tr.veto("session", "session ending soon", fmt.Sprintf("within %s of close", s.cfg.EndBuffer))
	}
	tr.pass("session", "")

	pip := broker.PipSize(s.params.Instrument)
	m5 := data[broker.M5]

	direction, biasDetail, biased := s.closeBias(m5, pip)
	if !biased {
		return tr.veto("bias", "no directional bias", biasDetail)
	}
	tr.pass("bias", biasDetail)

	atr, ok := indicators.CalculateATR(m5, s.cfg.ATRPeriod)
	if !ok {
		return tr.veto("volatility", "volatility unavailable", "")
	}
	floor := s.cfg.VolatilityFloorPips * pip
	if atr < floor {
		return tr.veto("volatility", "volatility below floor", fmt.Sprintf("atr=%v floor=%v", atr, floor))
	}
	tr.pass("volatility", fmt.Sprintf("atr=%v", atr))

	spread := minRange(data[broker.M1], s.cfg.SpreadWindow)
	ceiling := s.cfg.SpreadCeilingPips * pip
	if spread > ceiling {
		return tr.veto("spread", "spread too wide", fmt.Sprintf("proxy=%v ceiling=%v", spread, ceiling))
	}
	tr.pass("spread", fmt.Sprintf("proxy=%v", spread))

	ema, ok := indicators.CalculateEMA(m5, s.cfg.EMAPeriod)
	if !ok {
		return tr.veto("pullback", "average unavailable", "")
	}
	entry := m5[len(m5)-1].Close
	if dist := abs(entry - ema); dist > s.cfg.PullbackPips*pip {
		return tr.veto("pullback", "no pullback to average", fmt.Sprintf("distance=%v", dist))
	}
	tr.pass("pullback", "")

	pattern, confirmed := s.confirmation(m5, direction)
	if !confirmed {
		return tr.veto("confirmation", "no confirmation pattern", "")
	}
	tr.pass("confirmation", string(pattern))

	side := risk.Buy
	if direction == Sell {
		side = risk.Sell
	}
	st, err := risk.ScalpStopTarget(risk.ScalpRequest{
		Side:        side,
		Entry:       entry,
		Candles:     m5,
		Instrument:  s.params.Instrument,
		OffsetPips:  s.cfg.OffsetPips,
		MinStopPips: s.cfg.MinStopPips,
		MaxStopPips: s.cfg.MaxStopPips,
		TargetMult:  s.cfg.TargetMult,
	})
	if err != nil {
		return tr.veto("stops", err.Error(), "")
	}

	sig := &EntrySignal{
		Direction:  direction,
		Entry:      entry,
		StopLoss:   st.Stop,
		TakeProfit: st.Target,
		Reason:     fmt.Sprintf("%s momentum scalp confirmed by %s", direction, pattern),
	}
	if err := sig.Validate(); err != nil {
		return tr.veto("stops", err.Error(), "")
	}
	tr.pass("stops", fmt.Sprintf("rr=%.2f", sig.RiskReward()))
	return tr.signal(sig)
}

// closeBias counts bullish against bearish closes over the bias window and
// requires the net move to clear the minimum pip threshold.
func (s *MomentumScalp) closeBias(m5 []broker.Candle, pip float64) (Direction, string, bool) {
	window := m5[len(m5)-s.cfg.BiasWindow:]

	bullish := 0
	for _, c := range window {
		if c.Bullish() {
			bullish++
		}
	}
	bearish := len(window) - bullish

	net := window[len(window)-1].Close - window[0].Close
	need := s.cfg.BiasRatio * float64(s.cfg.BiasWindow)
	minNet := s.cfg.MinNetPips * pip

	detail := fmt.Sprintf("%d bullish, %d bearish, net %v", bullish, bearish, net)
	switch {
	case float64(bullish) >= need && net >= minNet:
		return Buy, detail, true
	case float64(bearish) >= need && net <= -minNet:
		return Sell, detail, true
	default:
		return "", detail, false
	}
}

// confirmation looks for a bias-aligned candle pattern on the last two M5
// bars. Counter-bias patterns are ignored.
func (s *MomentumScalp) confirmation(m5 []broker.Candle, direction Direction) (patterns.Pattern, bool) {
	if direction == Buy {
		return patterns.BullishConfirmation(m5)
	}
	return patterns.BearishConfirmation(m5)
}

// minRange returns the smallest high-low range over the last n candles,
// used as a spread proxy.
func minRange(candles []broker.Candle, n int) float64 {
	if len(candles) == 0 {
		return 0
	}
	if len(candles) > n {
		candles = candles[len(candles)-n:]
	}
	min := candles[0].Range()
	for _, c := range candles[1:] {
		if r := c.Range(); r < min {
			min = r
		}
	}
	return min
}
