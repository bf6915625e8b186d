package strategy

import (
	"fmt"
	"time"

	"forex-trading-bot/internal/broker"
	"forex-trading-bot/internal/indicators"
	"forex-trading-bot/internal/risk"
	"forex-trading-bot/internal/zones"
)

// MeanReversionConfig tunes the range-family strategy.
type MeanReversionConfig struct {
	H1Candles     int                  `json:"h1_candles"`
	M15Candles    int                  `json:"m15_candles"`
	H4Candles     int                  `json:"h4_candles"`
	ADXPeriod     int                  `json:"adx_period"`
	ADXThreshold  float64              `json:"adx_threshold"`
	BBPeriod      int                  `json:"bb_period"`
	BBStdDevs     float64              `json:"bb_std_devs"`
	RSIPeriod     int                  `json:"rsi_period"`
	RSIOversold   float64              `json:"rsi_oversold"`
	RSIOverbought float64              `json:"rsi_overbought"`
	ProximityPips float64              `json:"proximity_pips"`
	ATRPeriod     int                  `json:"atr_period"`
	MinRR         float64              `json:"min_rr"`
	FastEMA       int                  `json:"fast_ema"`
	SlowEMA       int                  `json:"slow_ema"`
	Zones         zones.DetectorConfig `json:"zones"`
}

// DefaultMeanReversionConfig returns the production defaults.
func DefaultMeanReversionConfig() MeanReversionConfig {
	return MeanReversionConfig{
		H1Candles:     60,
		M15Candles:    30,
		H4Candles:     60,
		ADXPeriod:     14,
		ADXThreshold:  25,
		BBPeriod:      20,
		BBStdDevs:     2,
		RSIPeriod:     14,
		RSIOversold:   30,
		RSIOverbought: 70,
		ProximityPips: 15,
		ATRPeriod:     14,
		MinRR:         1,
		FastEMA:       21,
		SlowEMA:       50,
	}
}

// MeanReversion fades band extremes inside ranging markets, buying lower
// band touches near structural support and selling upper band touches near
// resistance, always targeting the band middle.
type MeanReversion struct {
	params   Params
	cfg      MeanReversionConfig
	detector *zones.Detector
}

var _ Strategy = (*MeanReversion)(nil)

// NewMeanReversion builds the strategy for one stream.
func NewMeanReversion(p Params, cfg MeanReversionConfig) *MeanReversion {
	return &MeanReversion{
		params:   p,
		cfg:      cfg,
		detector: zones.NewDetector(cfg.Zones),
	}
}

func (s *MeanReversion) Name() string       { return "mean_reversion" }
func (s *MeanReversion) Instrument() string { return s.params.Instrument }

func (s *MeanReversion) Requirements() map[broker.Granularity]int {
	return map[broker.Granularity]int{
		broker.H1:  s.cfg.H1Candles,
		broker.M15: s.cfg.M15Candles,
		broker.H4:  s.cfg.H4Candles,
	}
}

func (s *MeanReversion) Gates() []string {
	return []string{"data", "session", "range", "band", "oscillator", "zone", "trend", "stops"}
}

// Evaluate runs the gate sequence and returns the first veto or a signal.
// A trending market vetoes immediately; no later gate runs.
func (s *MeanReversion) Evaluate(data MarketData, now time.Time) Result {
	tr := newTrace(s.Name(), s.params.Stream, now)

	detail, ok := sufficient(data, s.Requirements())
	if !ok {
		return tr.veto("data", "insufficient data", detail)
	}
	tr.pass("data", detail)

	if !s.params.Session.Admits(now) {
		return tr.veto("session", "outside session window", "")
	}
	tr.pass("session", "")

	h1 := data[broker.H1]
	adx, ok := indicators.CalculateADX(h1, s.cfg.ADXPeriod)
	if !ok {
		return tr.veto("range", "trend strength unavailable", "")
	}
	if adx >= s.cfg.ADXThreshold {
		return tr.veto("range", "market is trending", fmt.Sprintf("adx=%.1f", adx))
	}
	tr.pass("range", fmt.Sprintf("adx=%.1f", adx))

	m15 := data[broker.M15]
	bands, ok := indicators.CalculateBollinger(m15, s.cfg.BBPeriod, s.cfg.BBStdDevs)
	if !ok {
		return tr.veto("band", "bands unavailable", "")
	}
	entry := m15[len(m15)-1].Close

	var direction Direction
	switch {
	case entry <= bands.Lower:
		direction = Buy
	case entry >= bands.Upper:
		direction = Sell
	default:
		return tr.veto("band", "price inside bands", fmt.Sprintf("close=%v lower=%v upper=%v", entry, bands.Lower, bands.Upper))
	}
	tr.pass("band", fmt.Sprintf("%s extreme", direction))

	rsi, ok := indicators.CalculateRSI(m15, s.cfg.RSIPeriod)
	if !ok {
		return tr.veto("oscillator", "oscillator unavailable", "")
	}
	if (direction == Buy && rsi >= s.cfg.RSIOversold) ||
		(direction == Sell && rsi <= s.cfg.RSIOverbought) {
		return tr.veto("oscillator", "oscillator disagrees", fmt.Sprintf("rsi=%.1f", rsi))
	}
	tr.pass("oscillator", fmt.Sprintf("rsi=%.1f", rsi))

	wantRole := zones.Support
	if direction == Sell {
		wantRole = zones.Resistance
	}
	zoneList := s.detector.Detect(h1)
	tr.detected(zoneList)
	zone, found := zones.NearestWithRole(zoneList, entry, wantRole)
	pip := broker.PipSize(s.params.Instrument)
	if !found || abs(zone.Level-entry) > s.cfg.ProximityPips*pip {
		return tr.veto("zone", "no structural level nearby", "")
	}
	tr.pass("zone", fmt.Sprintf("%s %.5f", wantRole, zone.Level))

	trend, ok := indicators.DetectTrend(data[broker.H4], s.cfg.FastEMA, s.cfg.SlowEMA)
	if !ok {
		return tr.veto("trend", "trend unavailable", "")
	}
	if (trend == indicators.TrendBullish && direction == Sell) ||
		(trend == indicators.TrendBearish && direction == Buy) {
		return tr.veto("trend", "counter-trend entry", string(trend))
	}
	tr.pass("trend", string(trend))

	atr, ok := indicators.CalculateATR(h1, s.cfg.ATRPeriod)
	if !ok {
		return tr.veto("stops", "volatility unavailable", "")
	}

	side := risk.Buy
	if direction == Sell {
		side = risk.Sell
	}
	st, err := risk.MeanReversionStopTarget(risk.MeanReversionRequest{
		Side:       side,
		Entry:      entry,
		Zone:       zone,
		RangeATR:   atr,
		BandMiddle: bands.Middle,
		Instrument: s.params.Instrument,
		MinRR:      s.cfg.MinRR,
	})
	if err != nil {
		return tr.veto("stops", err.Error(), "")
	}

	sig := &EntrySignal{
		Direction:  direction,
		Entry:      entry,
		StopLoss:   st.Stop,
		TakeProfit: st.Target,
		Zone:       &zone,
		Reason:     fmt.Sprintf("%s reversion from band extreme toward %.5f", direction, bands.Middle),
	}
	if err := sig.Validate(); err != nil {
		return tr.veto("stops", err.Error(), "")
	}
	tr.pass("stops", fmt.Sprintf("rr=%.2f", sig.RiskReward()))
	return tr.signal(sig)
}
