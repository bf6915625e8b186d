// Package zones identifies horizontal support/resistance levels by
// clustering historical swing extremes.
package zones

import (
	"sort"
	"time"

	"forex-trading-bot/internal/broker"
	"forex-trading-bot/internal/indicators"
)

// Role classifies a zone.
type Role string

const (
	Support    Role = "support"
	Resistance Role = "resistance"
)

// Zone is a clustered price level. Regenerated every evaluation cycle;
// never mutated in place.
type Zone struct {
	Level      float64   `json:"level"`
	Role       Role      `json:"role"`
	Strength   int       `json:"strength"`
	DetectedAt time.Time `json:"detected_at"`
}

// DetectorConfig tunes the clustering pass.
type DetectorConfig struct {
	TolerancePips float64 // cluster width, default 20
	MinStrength   int     // minimum members per zone, default 2
	SwingWindow   int     // candles on each side of a pivot, default 3
}

func (c DetectorConfig) withDefaults() DetectorConfig {
	if c.TolerancePips <= 0 {
		c.TolerancePips = 20
	}
	if c.MinStrength <= 0 {
		c.MinStrength = 2
	}
	if c.SwingWindow <= 0 {
		c.SwingWindow = 3
	}
	return c
}

// Detector clusters swing points into zones.
type Detector struct {
	cfg DetectorConfig
}

// NewDetector builds a detector, filling zeroed config fields with defaults.
func NewDetector(cfg DetectorConfig) *Detector {
	return &Detector{cfg: cfg.withDefaults()}
}

// Detect returns the zones present in a candle series, ordered by level
// ascending. The tolerance is interpreted in pips of the series instrument.
func (d *Detector) Detect(candles []broker.Candle) []Zone {
	if len(candles) == 0 {
		return nil
	}

	swings := indicators.FindSwings(candles, d.cfg.SwingWindow)
	if len(swings) == 0 {
		return nil
	}

	tolerance := d.cfg.TolerancePips * broker.PipSize(candles[0].Instrument)
	now := candles[len(candles)-1].Time

	sort.Slice(swings, func(i, j int) bool { return swings[i].Price < swings[j].Price })

	var zones []Zone
	cluster := []indicators.SwingPoint{swings[0]}

	flush := func() {
		if z, ok := buildZone(cluster, d.cfg.MinStrength, now); ok {
			zones = append(zones, z)
		}
	}

	for _, sp := range swings[1:] {
		if sp.Price-clusterMean(cluster) <= tolerance {
			cluster = append(cluster, sp)
			continue
		}
		flush()
		cluster = []indicators.SwingPoint{sp}
	}
	flush()

	return zones
}

func clusterMean(points []indicators.SwingPoint) float64 {
	sum := 0.0
	for _, p := range points {
		sum += p.Price
	}
	return sum / float64(len(points))
}

// buildZone folds a cluster into a zone: level is the member mean, role is
// the majority vote with ties going to resistance, strength is the member
// count.
func buildZone(points []indicators.SwingPoint, minStrength int, at time.Time) (Zone, bool) {
	if len(points) < minStrength {
		return Zone{}, false
	}

	highs := 0
	for _, p := range points {
		if p.High {
			highs++
		}
	}

	role := Support
	if highs*2 >= len(points) {
		role = Resistance
	}

	return Zone{
		Level:      clusterMean(points),
		Role:       role,
		Strength:   len(points),
		DetectedAt: at,
	}, true
}

// ActingRole resolves the role a zone plays against the given close. A
// close strictly above the level makes the zone acting-support, strictly
// below acting-resistance; sitting exactly on the level keeps the original
// role. The second result reports whether the role was flipped.
func ActingRole(z Zone, closePrice float64) (Role, bool) {
	switch {
	case closePrice > z.Level:
		return Support, z.Role != Support
	case closePrice < z.Level:
		return Resistance, z.Role != Resistance
	default:
		return z.Role, false
	}
}

// Touching returns the first zone whose level lies inside the candle's
// high-low range.
func Touching(zs []Zone, c broker.Candle) (Zone, bool) {
	for _, z := range zs {
		if z.Level >= c.Low && z.Level <= c.High {
			return z, true
		}
	}
	return Zone{}, false
}

// NearestAbove returns the closest zone strictly above price, skipping any
// zone within exclusionDist of exclude.
func NearestAbove(zs []Zone, price float64, exclude float64, exclusionDist float64) (Zone, bool) {
	var best Zone
	found := false
	for _, z := range zs {
		if z.Level <= price {
			continue
		}
		if abs(z.Level-exclude) <= exclusionDist {
			continue
		}
		if !found || z.Level < best.Level {
			best = z
			found = true
		}
	}
	return best, found
}

// NearestBelow returns the closest zone strictly below price, skipping any
// zone within exclusionDist of exclude.
func NearestBelow(zs []Zone, price float64, exclude float64, exclusionDist float64) (Zone, bool) {
	var best Zone
	found := false
	for _, z := range zs {
		if z.Level >= price {
			continue
		}
		if abs(z.Level-exclude) <= exclusionDist {
			continue
		}
		if !found || z.Level > best.Level {
			best = z
			found = true
		}
	}
	return best, found
}

// NearestWithRole returns the zone of the wanted role closest to price.
func NearestWithRole(zs []Zone, price float64, role Role) (Zone, bool) {
	var best Zone
	found := false
	for _, z := range zs {
		if z.Role != role {
			continue
		}
		if !found || abs(z.Level-price) < abs(best.Level-price) {
			best = z
			found = true
		}
	}
	return best, found
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
