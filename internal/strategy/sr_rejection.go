package strategy

import (
	"fmt"
	"time"

	"forex-trading-bot/internal/broker"
	"forex-trading-bot/internal/indicators"
	"forex-trading-bot/internal/risk"
	"forex-trading-bot/internal/zones"
)

// SRRejectionConfig tunes the swing-family strategy.
type SRRejectionConfig struct {
	DailyCandles int                  `json:"daily_candles"`
	H4Candles    int                  `json:"h4_candles"`
	ATRPeriod    int                  `json:"atr_period"`
	FastEMA      int                  `json:"fast_ema"`
	SlowEMA      int                  `json:"slow_ema"`
	WickRatio    float64              `json:"wick_ratio"`
	Zones        zones.DetectorConfig `json:"zones"`
}

// DefaultSRRejectionConfig returns the production defaults.
func DefaultSRRejectionConfig() SRRejectionConfig {
	return SRRejectionConfig{
		DailyCandles: 60,
		H4Candles:    60,
		ATRPeriod:    14,
		FastEMA:      21,
		SlowEMA:      50,
		WickRatio:    1.0,
	}
}

// SRRejection trades rejections of daily support and resistance zones,
// confirmed by an H4 wick against the level and filtered by the H4 trend.
type SRRejection struct {
	params   Params
	cfg      SRRejectionConfig
	detector *zones.Detector
}

var _ Strategy = (*SRRejection)(nil)

// NewSRRejection builds the strategy for one stream.
func NewSRRejection(p Params, cfg SRRejectionConfig) *SRRejection {
	if p.TargetRR <= 0 {
		p.TargetRR = 2
	}
	return &SRRejection{
		params:   p,
		cfg:      cfg,
		detector: zones.NewDetector(cfg.Zones),
	}
}

func (s *SRRejection) Name() string       { return "sr_rejection" }
func (s *SRRejection) Instrument() string { return s.params.Instrument }

func (s *SRRejection) Requirements() map[broker.Granularity]int {
	return map[broker.Granularity]int{
		broker.D:  s.cfg.DailyCandles,
		broker.H4: s.cfg.H4Candles,
	}
}

func (s *SRRejection) Gates() []string {
	return []string{"data", "session", "zones", "trend", "proximity", "rejection", "stops"}
}

// Evaluate runs the gate sequence and returns the first veto or a signal.
func (s *SRRejection) Evaluate(data MarketData, now time.Time) Result {
	tr := newTrace(s.Name(), s.params.Stream, now)

	detail, ok := sufficient(data, s.Requirements())
	if !ok {
		return tr.veto("data", "insufficient data", detail)
	}
	tr.pass("data", detail)

	if !s.params.Session.Admits(now) {
		return tr.veto("session", "outside session window", fmt.Sprintf("hour %d not in [%d,%d)", now.UTC().Hour(), s.params.Session.Start, s.params.Session.End))
	}
	tr.pass("session", "")

	daily := data[broker.D]
	zoneList := s.detector.Detect(daily)
	tr.detected(zoneList)
	if len(zoneList) == 0 {
		return tr.veto("zones", "no zones detected", "")
	}
	tr.pass("zones", fmt.Sprintf("%d zones", len(zoneList)))

	h4 := data[broker.H4]
	trend, trendOK := indicators.DetectTrend(h4, s.cfg.FastEMA, s.cfg.SlowEMA)
	if !trendOK {
		return tr.veto("trend", "trend unavailable", "")
	}
	tr.pass("trend", string(trend))

	latest := h4[len(h4)-1]
	zone, ok := zones.Touching(zoneList, latest)
	if !ok {
		return tr.veto("proximity", "no zone in reach", "")
	}
	tr.pass("proximity", fmt.Sprintf("zone %.5f", zone.Level))

	acting, flipped := zones.ActingRole(zone, latest.Close)
	direction := Buy
	if acting == zones.Resistance {
		direction = Sell
	}

	if !rejectionWick(latest, direction, s.cfg.WickRatio) {
		return tr.veto("rejection", "no rejection wick", fmt.Sprintf("body %.5f", latest.Body()))
	}
	if (trend == indicators.TrendBullish && direction == Sell) ||
		(trend == indicators.TrendBearish && direction == Buy) {
		return tr.veto("rejection", "counter-trend entry", fmt.Sprintf("%s entry against %s trend", direction, trend))
	}
	tr.pass("rejection", roleDetail(acting, flipped))

	atr, ok := indicators.CalculateATR(daily, s.cfg.ATRPeriod)
	if !ok {
		return tr.veto("stops", "volatility unavailable", "")
	}

	side := risk.Buy
	if direction == Sell {
		side = risk.Sell
	}
	st, err := risk.ZoneAnchoredStopTarget(risk.ZoneAnchoredRequest{
		Side:     side,
		Entry:    latest.Close,
		DailyATR: atr,
		Trigger:  zone,
		Zones:    zoneList,
		TargetRR: s.params.TargetRR,
	})
	if err != nil {
		return tr.veto("stops", err.Error(), "")
	}

	sig := &EntrySignal{
		Direction:  direction,
		Entry:      latest.Close,
		StopLoss:   st.Stop,
		TakeProfit: st.Target,
		Zone:       &zone,
		Reason:     fmt.Sprintf("%s rejection at zone %.5f (%s)", direction, zone.Level, roleDetail(acting, flipped)),
	}
	if err := sig.Validate(); err != nil {
		return tr.veto("stops", err.Error(), "")
	}
	tr.pass("stops", fmt.Sprintf("rr=%.2f", sig.RiskReward()))
	return tr.signal(sig)
}

// rejectionWick checks the shadow opposite the trade direction against the
// body. A doji counts as pure wick as long as the shadow exists at all.
func rejectionWick(c broker.Candle, direction Direction, ratio float64) bool {
	body := c.Body()
	shadow := c.LowerShadow()
	if direction == Sell {
		shadow = c.UpperShadow()
	}
	if body == 0 {
		return shadow > 0
	}
	return shadow >= ratio*body
}

func roleDetail(acting zones.Role, flipped bool) string {
	if flipped {
		return fmt.Sprintf("flipped to %s", acting)
	}
	return fmt.Sprintf("original %s", acting)
}
