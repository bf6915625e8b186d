package risk

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Supervisor tracks peak equity and drawdown for the whole process and
// owns the circuit breaker. Once the drawdown crosses the configured
// threshold the breaker latches and stays active until process restart.
// Single writer, many readers.
type Supervisor struct {
	mu             sync.RWMutex
	maxDrawdownPct decimal.Decimal
	peak           decimal.Decimal
	equity         decimal.Decimal
	breakerActive  bool
	trippedAt      time.Time
}

// SupervisorState is a consistent read of the supervisor's scalars.
// JustTripped is true only on the update that latched the breaker, so
// exactly one caller observes the transition.
type SupervisorState struct {
	Equity        decimal.Decimal `json:"equity"`
	PeakEquity    decimal.Decimal `json:"peak_equity"`
	DrawdownPct   float64         `json:"drawdown_pct"`
	BreakerActive bool            `json:"breaker_active"`
	TrippedAt     time.Time       `json:"tripped_at,omitempty"`
	JustTripped   bool            `json:"-"`
}

// NewSupervisor builds a supervisor that latches the breaker when the
// drawdown from peak equity reaches maxDrawdownPct.
func NewSupervisor(maxDrawdownPct float64) *Supervisor {
	return &Supervisor{maxDrawdownPct: decimal.NewFromFloat(maxDrawdownPct)}
}

// UpdateEquity folds a fresh equity reading into the peak and drawdown
// tracking, latching the breaker when the threshold is crossed. It
// returns the state after the update.
func (s *Supervisor) UpdateEquity(equity decimal.Decimal) SupervisorState {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.equity = equity
	if equity.GreaterThan(s.peak) {
		s.peak = equity
	}

	dd := s.drawdownLocked()
	justTripped := false
	if !s.breakerActive && s.peak.IsPositive() && dd.GreaterThanOrEqual(s.maxDrawdownPct) {
		s.breakerActive = true
		s.trippedAt = time.Now().UTC()
		justTripped = true
		log.Error().
			Str("equity", equity.String()).
			Str("peak_equity", s.peak.String()).
			Str("drawdown_pct", dd.String()).
			Str("max_drawdown_pct", s.maxDrawdownPct.String()).
			Msg("circuit breaker tripped, new orders suppressed until restart")
	}
	state := s.stateLocked(dd)
	state.JustTripped = justTripped
	return state
}

// BreakerActive reports whether the circuit breaker has latched.
func (s *Supervisor) BreakerActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.breakerActive
}

// State returns a snapshot of the supervisor's scalars.
func (s *Supervisor) State() SupervisorState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stateLocked(s.drawdownLocked())
}

func (s *Supervisor) drawdownLocked() decimal.Decimal {
	if !s.peak.IsPositive() {
		return decimal.Zero
	}
	return s.peak.Sub(s.equity).Div(s.peak).Mul(decimal.NewFromInt(100))
}

func (s *Supervisor) stateLocked(dd decimal.Decimal) SupervisorState {
	return SupervisorState{
		Equity:        s.equity,
		PeakEquity:    s.peak,
		DrawdownPct:   dd.InexactFloat64(),
		BreakerActive: s.breakerActive,
		TrippedAt:     s.trippedAt,
	}
}
