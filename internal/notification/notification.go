// Package notification fans out engine events to configured messaging
// channels. Send failures are logged, never propagated into the
// trading path.
package notification

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"forex-trading-bot/internal/database"
	"forex-trading-bot/internal/events"
	"forex-trading-bot/internal/risk"
)

// Type classifies a notification.
type Type string

const (
	TypeTradeOpen  Type = "trade_open"
	TypeTradeClose Type = "trade_close"
	TypeBreaker    Type = "breaker"
	TypeError      Type = "error"
	TypeInfo       Type = "info"
)

// Notification is one message to deliver.
type Notification struct {
	Type      Type
	Title     string
	Message   string
	Pair      string
	Price     float64
	PnL       float64
	Timestamp time.Time
}

// Notifier delivers notifications over one channel.
type Notifier interface {
	Send(n *Notification) error
	Name() string
	IsEnabled() bool
}

// Manager fans a notification out to every enabled notifier.
type Manager struct {
	notifiers []Notifier
	enabled   bool
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{enabled: true}
}

// AddNotifier registers a delivery channel.
func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// Send delivers to all enabled notifiers, returning the last error.
func (m *Manager) Send(n *Notification) error {
	if !m.enabled {
		return nil
	}

	var lastErr error
	for _, notifier := range m.notifiers {
		if !notifier.IsEnabled() {
			continue
		}
		if err := notifier.Send(n); err != nil {
			log.Warn().Err(err).Str("notifier", notifier.Name()).Msg("notification send failed")
			lastErr = err
		}
	}
	return lastErr
}

// Attach subscribes the manager to the event bus so trade, breaker and
// error events are delivered without the engine calling it directly.
func (m *Manager) Attach(bus *events.Bus) {
	bus.Subscribe(events.EventTradeOpened, func(e events.Event) {
		if t, ok := e.Payload.(*database.Trade); ok {
			m.TradeOpened(t)
		}
	})
	bus.Subscribe(events.EventTradeClosed, func(e events.Event) {
		if t, ok := e.Payload.(*database.Trade); ok {
			m.TradeClosed(t)
		}
	})
	bus.Subscribe(events.EventBreakerTripped, func(e events.Event) {
		if s, ok := e.Payload.(risk.SupervisorState); ok {
			m.BreakerTripped(s)
		}
	})
	bus.Subscribe(events.EventEngineError, func(e events.Event) {
		if detail, ok := e.Payload.(map[string]string); ok {
			m.EngineError(e.Stream, detail["message"], detail["error"])
		}
	})
}

// TradeOpened announces a new position.
func (m *Manager) TradeOpened(t *database.Trade) {
	m.Send(&Notification{
		Type:  TypeTradeOpen,
		Title: fmt.Sprintf("Trade opened: %s", t.Pair),
		Message: fmt.Sprintf("%s %s %.0f units @ %.5f\nSL %.5f | TP %.5f\n%s",
			t.StreamName, t.Direction, t.Units, t.EntryPrice, t.StopLoss, t.TakeProfit, t.EntryReason),
		Pair:      t.Pair,
		Price:     t.EntryPrice,
		Timestamp: time.Now().UTC(),
	})
}

// TradeClosed announces an exit with its result.
func (m *Manager) TradeClosed(t *database.Trade) {
	var exitPrice, pnl float64
	if t.ExitPrice != nil {
		exitPrice = *t.ExitPrice
	}
	if t.PnL != nil {
		pnl = *t.PnL
	}
	reason := ""
	if t.ExitReason != nil {
		reason = *t.ExitReason
	}

	m.Send(&Notification{
		Type:  TypeTradeClose,
		Title: fmt.Sprintf("Trade closed: %s", t.Pair),
		Message: fmt.Sprintf("%s entry %.5f exit %.5f\nP&L %.2f\nReason: %s",
			t.StreamName, t.EntryPrice, exitPrice, pnl, reason),
		Pair:      t.Pair,
		Price:     exitPrice,
		PnL:       pnl,
		Timestamp: time.Now().UTC(),
	})
}

// BreakerTripped announces that the drawdown breaker latched.
func (m *Manager) BreakerTripped(s risk.SupervisorState) {
	m.Send(&Notification{
		Type:  TypeBreaker,
		Title: "Circuit breaker tripped",
		Message: fmt.Sprintf("Drawdown %.2f%% from peak %s, equity %s.\nNew orders suppressed until restart.",
			s.DrawdownPct, s.PeakEquity.StringFixed(2), s.Equity.StringFixed(2)),
		Timestamp: time.Now().UTC(),
	})
}

// EngineError announces a cycle failure.
func (m *Manager) EngineError(stream, message, detail string) {
	m.Send(&Notification{
		Type:      TypeError,
		Title:     fmt.Sprintf("Engine error: %s", stream),
		Message:   fmt.Sprintf("%s\n%s", message, detail),
		Timestamp: time.Now().UTC(),
	})
}

// Info sends a plain informational message.
func (m *Manager) Info(title, message string) {
	m.Send(&Notification{
		Type:      TypeInfo,
		Title:     title,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}
