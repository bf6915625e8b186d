package cache

import (
	"testing"
	"time"

	"forex-trading-bot/internal/broker"
)

func TestRangeKey(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)

	key := RangeKey("XAU_USD", broker.M5, start, end)
	want := "candles:XAU_USD:M5:1709251200-1711843200"
	if key != want {
		t.Errorf("Expected key %q, got %q", want, key)
	}
}

func TestRangeKeyDistinguishesRanges(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	a := RangeKey("EUR_USD", broker.H1, start, start.Add(24*time.Hour))
	b := RangeKey("EUR_USD", broker.H1, start, start.Add(48*time.Hour))
	if a == b {
		t.Errorf("Expected distinct keys for distinct ranges, got %q twice", a)
	}
}

func TestNewRequiresEnabled(t *testing.T) {
	_, err := New(Config{Enabled: false})
	if err == nil {
		t.Fatal("Expected error when redis is disabled, got nil")
	}
}
