package zones

import (
	"testing"
	"time"

	"forex-trading-bot/internal/broker"
	"forex-trading-bot/internal/indicators"
)

// mixedCluster returns two swing highs and two swing lows near a level.
func mixedCluster(level float64, _ time.Time) []indicators.SwingPoint {
	return []indicators.SwingPoint{
		{Index: 1, Price: level - 0.0002, High: false},
		{Index: 5, Price: level - 0.0001, High: true},
		{Index: 9, Price: level + 0.0001, High: false},
		{Index: 13, Price: level + 0.0002, High: true},
	}
}

// seriesWithSupportAt builds a daily series that bounces off the given
// level three times, producing three swing lows inside one cluster.
func seriesWithSupportAt(level float64) []broker.Candle {
	base := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	var candles []broker.Candle

	add := func(high, low float64) {
		mid := (high + low) / 2
		candles = append(candles, broker.Candle{
			Instrument:  "EUR_USD",
			Granularity: broker.D,
			Time:        base.Add(time.Duration(len(candles)) * 24 * time.Hour),
			Open:        mid, High: high, Low: low, Close: mid,
			Complete: true,
		})
	}

	up := level + 0.0100
	// Three descents to the level with rallies between, window 3 clear.
	for bounce := 0; bounce < 3; bounce++ {
		add(up, up-0.0010)
		add(up-0.0010, up-0.0030)
		add(up-0.0030, up-0.0050)
		add(up-0.0048, level) // swing low at the level
		add(up-0.0030, up-0.0052)
		add(up-0.0010, up-0.0032)
		add(up, up-0.0012)
	}
	return candles
}

func TestDetectClustersBounces(t *testing.T) {
	detector := NewDetector(DetectorConfig{TolerancePips: 20, MinStrength: 2, SwingWindow: 3})

	zs := detector.Detect(seriesWithSupportAt(1.1000))

	var supportZone *Zone
	for i := range zs {
		if zs[i].Role == Support && zs[i].Level > 1.0950 && zs[i].Level < 1.1050 {
			supportZone = &zs[i]
		}
	}

	if supportZone == nil {
		t.Fatalf("Expected a support zone near 1.1000, got %+v", zs)
	}
	if supportZone.Strength < 2 {
		t.Errorf("Expected strength >= 2, got %d", supportZone.Strength)
	}
}

func TestDetectDropsWeakClusters(t *testing.T) {
	detector := NewDetector(DetectorConfig{TolerancePips: 20, MinStrength: 3, SwingWindow: 3})

	// Only one bounce: a single swing low cannot reach strength 3.
	base := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	var candles []broker.Candle
	lows := []float64{1.1080, 1.1060, 1.1040, 1.1000, 1.1045, 1.1065, 1.1085}
	for i, low := range lows {
		candles = append(candles, broker.Candle{
			Instrument: "EUR_USD", Granularity: broker.D,
			Time: base.Add(time.Duration(i) * 24 * time.Hour),
			Open: low + 0.001, High: low + 0.002, Low: low, Close: low + 0.001,
			Complete: true,
		})
	}

	if zs := detector.Detect(candles); len(zs) != 0 {
		t.Errorf("Expected no zones below min strength, got %+v", zs)
	}
}

func TestClusterTieBreaksToResistance(t *testing.T) {
	now := time.Now()
	points := mixedCluster(1.2000, now)

	z, ok := buildZone(points, 2, now)
	if !ok {
		t.Fatal("Expected a zone from the cluster")
	}
	if z.Role != Resistance {
		t.Errorf("Tied cluster should resolve to resistance, got %s", z.Role)
	}
}

func TestActingRoleFlip(t *testing.T) {
	zone := Zone{Level: 1.2000, Role: Resistance, Strength: 3}

	tests := []struct {
		name        string
		close       float64
		wantRole    Role
		wantFlipped bool
	}{
		{name: "close above resistance flips to support", close: 1.2010, wantRole: Support, wantFlipped: true},
		{name: "close below keeps resistance", close: 1.1990, wantRole: Resistance, wantFlipped: false},
		{name: "close on the level keeps original", close: 1.2000, wantRole: Resistance, wantFlipped: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			role, flipped := ActingRole(zone, tt.close)
			if role != tt.wantRole {
				t.Errorf("ActingRole = %s, want %s", role, tt.wantRole)
			}
			if flipped != tt.wantFlipped {
				t.Errorf("flipped = %v, want %v", flipped, tt.wantFlipped)
			}
		})
	}
}

func TestNearestAboveExcludesTrigger(t *testing.T) {
	zs := []Zone{
		{Level: 1.1000, Role: Support},
		{Level: 1.1050, Role: Resistance},
		{Level: 1.1200, Role: Resistance},
	}

	// The trigger zone at 1.1050 must be skipped.
	z, ok := NearestAbove(zs, 1.1009, 1.1050, 0.0001)
	if !ok {
		t.Fatal("Expected a zone above")
	}
	if z.Level != 1.1200 {
		t.Errorf("Expected 1.1200, got %v", z.Level)
	}

	if _, ok := NearestAbove(zs, 1.1300, 0, 0); ok {
		t.Error("Expected no zone above the top level")
	}
}

func TestTouching(t *testing.T) {
	zs := []Zone{{Level: 1.1000, Role: Support}}

	touching := broker.Candle{High: 1.1011, Low: 1.0995}
	if _, ok := Touching(zs, touching); !ok {
		t.Error("Candle range spanning the level should touch")
	}

	missing := broker.Candle{High: 1.1050, Low: 1.1020}
	if _, ok := Touching(zs, missing); ok {
		t.Error("Candle above the level should not touch")
	}
}
