package risk

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// TrailingConfig holds the R-multiple thresholds for stop trailing.
type TrailingConfig struct {
	BreakevenR float64 `json:"breakeven_r"` // unrealised R that moves the stop to entry
	TrailR     float64 `json:"trail_r"`     // unrealised R that starts trailing
	TrailGapR  float64 `json:"trail_gap_r"` // distance kept behind price once trailing, in R
}

// DefaultTrailingConfig returns the scalp-family thresholds.
func DefaultTrailingConfig() TrailingConfig {
	return TrailingConfig{BreakevenR: 1.0, TrailR: 1.5, TrailGapR: 0.5}
}

// TrailedPosition tracks one open order's stop progression.
type TrailedPosition struct {
	OrderID     string
	Side        Side
	Entry       float64
	InitialStop float64
	CurrentStop float64
	riskDist    float64
	LastUpdate  time.Time
}

// Moved reports whether the stop has advanced from its initial level.
func (p *TrailedPosition) Moved() bool {
	return p.CurrentStop != p.InitialStop
}

// TrailingTracker maintains trailing stops for open orders keyed by order
// ID. Stops only ever move in the trade's favour.
type TrailingTracker struct {
	mu        sync.Mutex
	cfg       TrailingConfig
	positions map[string]*TrailedPosition
}

// NewTrailingTracker builds a tracker with the given thresholds.
func NewTrailingTracker(cfg TrailingConfig) *TrailingTracker {
	return &TrailingTracker{
		cfg:       cfg,
		positions: make(map[string]*TrailedPosition),
	}
}

// Track starts trailing an order from its entry and initial stop.
func (t *TrailingTracker) Track(orderID string, side Side, entry, stop float64) {
	risk := abs(entry - stop)
	if risk == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.positions[orderID] = &TrailedPosition{
		OrderID:     orderID,
		Side:        side,
		Entry:       entry,
		InitialStop: stop,
		CurrentStop: stop,
		riskDist:    risk,
		LastUpdate:  time.Now(),
	}
}

// Drop stops tracking an order.
func (t *TrailingTracker) Drop(orderID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.positions, orderID)
}

// Update recomputes the stop for the order at the given price. It returns
// the new stop and true only when the stop actually advanced.
func (t *TrailingTracker) Update(orderID string, price float64) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pos, ok := t.positions[orderID]
	if !ok {
		return 0, false
	}

	var unrealisedR, candidate float64
	if pos.Side == Buy {
		unrealisedR = (price - pos.Entry) / pos.riskDist
	} else {
		unrealisedR = (pos.Entry - price) / pos.riskDist
	}

	switch {
	case unrealisedR >= t.cfg.TrailR:
		gap := t.cfg.TrailGapR * pos.riskDist
		if pos.Side == Buy {
			candidate = price - gap
		} else {
			candidate = price + gap
		}
	case unrealisedR >= t.cfg.BreakevenR:
		candidate = pos.Entry
	default:
		return 0, false
	}

	improved := (pos.Side == Buy && candidate > pos.CurrentStop) ||
		(pos.Side == Sell && candidate < pos.CurrentStop)
	if !improved {
		return 0, false
	}

	old := pos.CurrentStop
	pos.CurrentStop = candidate
	pos.LastUpdate = time.Now()
	log.Debug().
		Str("order_id", orderID).
		Str("side", string(pos.Side)).
		Float64("old_stop", old).
		Float64("new_stop", candidate).
		Float64("unrealised_r", unrealisedR).
		Msg("trailing stop advanced")
	return candidate, true
}

// CurrentStop returns the tracked stop for an order and whether it has
// moved from its initial level.
func (t *TrailingTracker) CurrentStop(orderID string) (stop float64, moved, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, exists := t.positions[orderID]
	if !exists {
		return 0, false, false
	}
	return pos.CurrentStop, pos.Moved(), true
}

// Positions returns a snapshot of every tracked position.
func (t *TrailingTracker) Positions() []TrailedPosition {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TrailedPosition, 0, len(t.positions))
	for _, pos := range t.positions {
		out = append(out, *pos)
	}
	return out
}
