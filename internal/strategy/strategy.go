// Package strategy defines the pipeline contract and the three built-in
// strategies. A strategy consumes pre-fetched candle series keyed by
// granularity and returns either an entry signal or a reasoned veto with
// per-gate diagnostics.
package strategy

import (
	"fmt"
	"time"

	"forex-trading-bot/internal/broker"
	"forex-trading-bot/internal/session"
	"forex-trading-bot/internal/zones"
)

// Direction of a prospective trade.
type Direction string

const (
	Buy  Direction = "buy"
	Sell Direction = "sell"
)

// MarketData is the per-cycle candle snapshot, keyed by granularity.
// Series are oldest first and contain only complete candles.
type MarketData map[broker.Granularity][]broker.Candle

// EntrySignal is a fully derived trade proposal. Stop and target always
// bracket the entry in the trade direction.
type EntrySignal struct {
	Direction   Direction   `json:"direction"`
	Entry       float64     `json:"entry"`
	StopLoss    float64     `json:"stop_loss"`
	TakeProfit  float64     `json:"take_profit"`
	Zone        *zones.Zone `json:"zone,omitempty"`
	Reason      string      `json:"reason"`
	Stream      string      `json:"stream"`
	EvaluatedAt time.Time   `json:"evaluated_at"`
}

// Validate enforces the directional invariant: buys stop below and target
// above the entry, sells the reverse.
func (s *EntrySignal) Validate() error {
	switch s.Direction {
	case Buy:
		if !(s.StopLoss < s.Entry && s.Entry < s.TakeProfit) {
			return fmt.Errorf("buy signal violates stop < entry < target: stop=%v entry=%v target=%v",
				s.StopLoss, s.Entry, s.TakeProfit)
		}
	case Sell:
		if !(s.StopLoss > s.Entry && s.Entry > s.TakeProfit) {
			return fmt.Errorf("sell signal violates stop > entry > target: stop=%v entry=%v target=%v",
				s.StopLoss, s.Entry, s.TakeProfit)
		}
	default:
		return fmt.Errorf("unknown direction %q", s.Direction)
	}
	return nil
}

// RiskReward returns the realised target-to-stop ratio.
func (s *EntrySignal) RiskReward() float64 {
	stopDist := abs(s.Entry - s.StopLoss)
	if stopDist == 0 {
		return 0
	}
	return abs(s.TakeProfit-s.Entry) / stopDist
}

// GateCheck records one pipeline gate's outcome for the status projection.
type GateCheck struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// Result is the tagged outcome of one evaluation: a Signal, or a Veto
// carrying the reason and the gate diagnostics accumulated so far. ID is
// assigned by the engine when the evaluation is published. Zones holds
// the structural levels detected during the evaluation, empty when the
// pipeline vetoed before detection.
type Result struct {
	ID          string       `json:"id,omitempty"`
	Signal      *EntrySignal `json:"signal,omitempty"`
	VetoReason  string       `json:"veto_reason,omitempty"`
	Gates       []GateCheck  `json:"gates"`
	Zones       []zones.Zone `json:"zones,omitempty"`
	Strategy    string       `json:"strategy"`
	Stream      string       `json:"stream"`
	EvaluatedAt time.Time    `json:"evaluated_at"`
}

// IsSignal reports whether the evaluation produced a trade proposal.
func (r Result) IsSignal() bool { return r.Signal != nil }

// Strategy is the pipeline contract. Requirements declares how many
// candles of each granularity Evaluate needs; Gates lists the recognised
// gate names in evaluation order.
type Strategy interface {
	Name() string
	Instrument() string
	Requirements() map[broker.Granularity]int
	Gates() []string
	Evaluate(data MarketData, now time.Time) Result
}

// Params carries the stream-level settings every strategy shares. The
// per-strategy knobs live in each strategy's own config struct.
type Params struct {
	Stream     string
	Instrument string
	Session    session.Window
	TargetRR   float64
}

// trace accumulates gate outcomes during one evaluation.
type trace struct {
	strategy string
	stream   string
	at       time.Time
	checks   []GateCheck
	zones    []zones.Zone
}

func newTrace(strategy, stream string, at time.Time) *trace {
	return &trace{strategy: strategy, stream: stream, at: at}
}

func (t *trace) pass(name, detail string) {
	t.checks = append(t.checks, GateCheck{Name: name, Passed: true, Detail: detail})
}

// detected records the zone set so results carry it even on a later veto.
func (t *trace) detected(zs []zones.Zone) {
	t.zones = zs
}

// veto records the failing gate and finalises the result.
func (t *trace) veto(name, reason, detail string) Result {
	t.checks = append(t.checks, GateCheck{Name: name, Passed: false, Detail: detail})
	return Result{
		VetoReason:  reason,
		Gates:       t.checks,
		Zones:       t.zones,
		Strategy:    t.strategy,
		Stream:      t.stream,
		EvaluatedAt: t.at,
	}
}

func (t *trace) signal(sig *EntrySignal) Result {
	sig.Stream = t.stream
	sig.EvaluatedAt = t.at
	return Result{
		Signal:      sig,
		Gates:       t.checks,
		Zones:       t.zones,
		Strategy:    t.strategy,
		Stream:      t.stream,
		EvaluatedAt: t.at,
	}
}

// sufficient checks the data gate shared by all strategies.
func sufficient(data MarketData, requirements map[broker.Granularity]int) (string, bool) {
	for g, min := range requirements {
		if len(data[g]) < min {
			return fmt.Sprintf("%s has %d of %d candles", g, len(data[g]), min), false
		}
	}
	return "all series present", true
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
