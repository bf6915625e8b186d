package patterns

import (
	"testing"

	"forex-trading-bot/internal/broker"
)

func pair(prev, cur broker.Candle) []broker.Candle {
	return []broker.Candle{prev, cur}
}

func TestBullishEngulfing(t *testing.T) {
	prev := broker.Candle{Open: 1.1020, High: 1.1025, Low: 1.1000, Close: 1.1005}
	cur := broker.Candle{Open: 1.1002, High: 1.1040, Low: 1.1000, Close: 1.1035}

	pattern, ok := BullishConfirmation(pair(prev, cur))
	if !ok {
		t.Fatal("Expected a bullish confirmation")
	}
	if pattern != Engulfing {
		t.Errorf("Expected engulfing, got %s", pattern)
	}
}

func TestBearishEngulfing(t *testing.T) {
	prev := broker.Candle{Open: 1.1005, High: 1.1025, Low: 1.1000, Close: 1.1020}
	cur := broker.Candle{Open: 1.1022, High: 1.1024, Low: 1.0995, Close: 1.1000}

	pattern, ok := BearishConfirmation(pair(prev, cur))
	if !ok {
		t.Fatal("Expected a bearish confirmation")
	}
	if pattern != Engulfing {
		t.Errorf("Expected engulfing, got %s", pattern)
	}
}

func TestHammer(t *testing.T) {
	// Small body at the top, lower wick three times the body.
	prev := broker.Candle{Open: 1.1010, High: 1.1015, Low: 1.1005, Close: 1.1008}
	cur := broker.Candle{Open: 1.1008, High: 1.1011, Low: 1.0995, Close: 1.1010}

	pattern, ok := BullishConfirmation(pair(prev, cur))
	if !ok {
		t.Fatal("Expected a bullish confirmation")
	}
	if pattern != Hammer {
		t.Errorf("Expected hammer, got %s", pattern)
	}
}

func TestShootingStar(t *testing.T) {
	prev := broker.Candle{Open: 1.1008, High: 1.1012, Low: 1.1005, Close: 1.1010}
	cur := broker.Candle{Open: 1.1010, High: 1.1025, Low: 1.1007, Close: 1.1008}

	pattern, ok := BearishConfirmation(pair(prev, cur))
	if !ok {
		t.Fatal("Expected a bearish confirmation")
	}
	if pattern != ShootingStar {
		t.Errorf("Expected shooting star, got %s", pattern)
	}
}

func TestTwoConsecutiveCloses(t *testing.T) {
	prev := broker.Candle{Open: 1.1000, High: 1.1010, Low: 1.0998, Close: 1.1008}
	cur := broker.Candle{Open: 1.1008, High: 1.1018, Low: 1.1006, Close: 1.1012}

	pattern, ok := BullishConfirmation(pair(prev, cur))
	if !ok {
		t.Fatal("Expected a bullish confirmation")
	}
	// Both candles have modest wicks, so the two-closes rule fires first
	// unless a stronger formation matched.
	if pattern != TwoCloses && pattern != StrongBody {
		t.Errorf("Expected two_closes or strong_body, got %s", pattern)
	}
}

func TestCounterBiasPatternIgnored(t *testing.T) {
	// A textbook hammer must not confirm a bearish bias.
	prev := broker.Candle{Open: 1.1012, High: 1.1016, Low: 1.1008, Close: 1.1010}
	cur := broker.Candle{Open: 1.1008, High: 1.1011, Low: 1.0995, Close: 1.1010}

	if pattern, ok := BearishConfirmation(pair(prev, cur)); ok {
		t.Errorf("Hammer should not confirm bearish bias, got %s", pattern)
	}
}

func TestNoConfirmationOnIndecision(t *testing.T) {
	// Perfect doji with symmetric wicks confirms neither side as a hammer
	// or star, and is not engulfing or consecutive closes.
	prev := broker.Candle{Open: 1.1010, High: 1.1020, Low: 1.1000, Close: 1.1005}
	cur := broker.Candle{Open: 1.1005, High: 1.1010, Low: 1.1000, Close: 1.1005}

	if pattern, ok := BullishConfirmation(pair(prev, cur)); ok {
		t.Errorf("Expected no bullish confirmation, got %s", pattern)
	}
}

func TestStrongBody(t *testing.T) {
	// Previous candle is bearish but sits above the current body, so the
	// engulfing and two-closes rules cannot fire.
	prev := broker.Candle{Open: 1.1030, High: 1.1032, Low: 1.1019, Close: 1.1020}
	// Body 16 of range 20: 80% > 60% threshold, bullish direction.
	cur := broker.Candle{Open: 1.1002, High: 1.1020, Low: 1.1000, Close: 1.1018}

	pattern, ok := BullishConfirmation(pair(prev, cur))
	if !ok {
		t.Fatal("Expected a bullish confirmation")
	}
	if pattern != StrongBody {
		t.Errorf("Expected strong_body, got %s", pattern)
	}
}

func TestInsufficientCandles(t *testing.T) {
	if _, ok := BullishConfirmation([]broker.Candle{{Open: 1, Close: 2, High: 2, Low: 1}}); ok {
		t.Error("One candle cannot confirm anything")
	}
}
