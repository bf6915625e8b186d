package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"forex-trading-bot/config"
	"forex-trading-bot/internal/database"
	"forex-trading-bot/internal/events"
)

// StreamState is one engine's settings plus its worker state, as the
// control API reports it.
type StreamState struct {
	config.StreamConfig
	State string `json:"state"`
}

// Manager owns the per-stream engines and their shared lifecycle.
// Engines are keyed by stream name; a stopped manager is terminal.
type Manager struct {
	mu      sync.Mutex
	engines map[string]*Engine
	order   []string
	deps    Deps
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	stopped bool
}

// NewManager builds one engine per stream config. Unknown strategy
// identifiers fail construction; callers treat that as a boot error.
func NewManager(streams []config.StreamConfig, deps Deps) (*Manager, error) {
	m := &Manager{
		engines: make(map[string]*Engine, len(streams)),
		deps:    deps,
	}
	for _, sc := range streams {
		eng, err := New(sc, deps)
		if err != nil {
			return nil, err
		}
		m.engines[eng.Name()] = eng
		m.order = append(m.order, eng.Name())
	}
	return m, nil
}

// StartAll launches every engine on its own goroutine. Idempotent; a
// stopped manager never restarts.
func (m *Manager) StartAll(ctx context.Context) {
	m.mu.Lock()
	if m.running || m.stopped {
		m.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	engines := m.enginesLocked()
	m.mu.Unlock()

	for _, eng := range engines {
		m.wg.Add(1)
		go func(e *Engine) {
			defer m.wg.Done()
			e.Run(runCtx)
		}(eng)
	}

	m.deps.Bus.Publish(events.Event{Type: events.EventEngineStarted})
	log.Info().Int("streams", len(engines)).Str("mode", m.deps.Mode).Msg("engine manager started")
}

// StopAll cancels every worker and waits for them to finish their
// current I/O. Terminal.
func (m *Manager) StopAll() {
	m.mu.Lock()
	if !m.running {
		m.stopped = true
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.stopped = true
	m.mu.Unlock()

	cancel()
	m.wg.Wait()

	m.deps.Bus.Publish(events.Event{Type: events.EventEngineStopped})
	log.Info().Msg("engine manager stopped")
}

// PauseAll suspends every stream.
func (m *Manager) PauseAll() {
	for _, eng := range m.snapshotEngines() {
		eng.Pause()
	}
	m.deps.Bus.Publish(events.Event{Type: events.EventEnginePaused})
}

// ResumeAll resumes every paused stream.
func (m *Manager) ResumeAll() {
	for _, eng := range m.snapshotEngines() {
		eng.Resume()
	}
	m.deps.Bus.Publish(events.Event{Type: events.EventEngineResumed})
}

// Pause suspends one stream by name.
func (m *Manager) Pause(name string) error {
	eng, err := m.engine(name)
	if err != nil {
		return err
	}
	eng.Pause()
	return nil
}

// Resume resumes one stream by name.
func (m *Manager) Resume(name string) error {
	eng, err := m.engine(name)
	if err != nil {
		return err
	}
	eng.Resume()
	return nil
}

// ApplySettings stages new settings for existing streams; each engine
// picks them up at its next cycle boundary. The whole batch is
// validated before any engine sees a change. Streams cannot be added
// or removed at runtime.
func (m *Manager) ApplySettings(streams []config.StreamConfig) error {
	targets := make([]*Engine, 0, len(streams))
	for i := range streams {
		sc := &streams[i]
		eng, err := m.engine(sc.Name)
		if err != nil {
			return err
		}
		if err := sc.Validate(); err != nil {
			return err
		}
		targets = append(targets, eng)
	}

	for i, eng := range targets {
		eng.UpdateConfig(streams[i])
	}

	m.deps.Bus.Publish(events.Event{Type: events.EventSettingsApplied, Payload: streams})
	log.Info().Int("streams", len(streams)).Msg("stream settings staged")
	return nil
}

// Snapshot returns every stream's settings and worker state.
func (m *Manager) Snapshot() []StreamState {
	engines := m.snapshotEngines()
	out := make([]StreamState, 0, len(engines))
	for _, eng := range engines {
		out = append(out, StreamState{
			StreamConfig: eng.Config(),
			State:        eng.State(),
		})
	}
	return out
}

// EmergencyStop halts every worker, then flattens the account: every
// broker position is closed and the matching trade rows are mutated
// with exit_reason emergency_stop. Best effort; the first error is
// returned after all positions have been attempted.
func (m *Manager) EmergencyStop(ctx context.Context) error {
	log.Warn().Msg("emergency stop requested")
	m.StopAll()

	positions, err := m.deps.Broker.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("emergency stop: positions: %w", err)
	}

	exits := make(map[string]float64, len(positions))
	var firstErr error
	for _, p := range positions {
		res, err := m.deps.Broker.CloseOrder(ctx, p.OrderID)
		if err != nil {
			log.Error().Err(err).Str("order_id", p.OrderID).Msg("emergency close failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		exits[p.OrderID] = res.ExitPrice
	}

	open, err := m.deps.Store.GetOpenTrades(ctx, m.deps.Mode)
	if err != nil {
		if firstErr == nil {
			firstErr = err
		}
		return firstErr
	}

	closedAt := time.Now().UTC()
	for _, trade := range open {
		exitPrice, ok := exits[trade.OrderID]
		if !ok {
			// Position already gone at the broker; the protective stop
			// is the best available exit estimate.
			exitPrice = trade.StopLoss
		}
		pnl := tradePnL(trade, exitPrice)
		if err := m.deps.Store.CloseTrade(ctx, trade.ID, exitPrice, database.ExitEmergencyStop, pnl, closedAt); err != nil {
			log.Error().Err(err).Int64("trade_id", trade.ID).Msg("emergency close not persisted")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		reason := database.ExitEmergencyStop
		trade.ExitPrice = &exitPrice
		trade.ExitReason = &reason
		trade.PnL = &pnl
		trade.ClosedAt = &closedAt
		trade.Status = database.StatusClosed
		m.deps.Bus.Publish(events.Event{Type: events.EventTradeClosed, Stream: trade.StreamName, Payload: trade})
	}

	// The broker side is flat now, so no tracked stop may survive, not
	// even one whose row was closed through another path.
	if m.deps.Trailing != nil {
		for _, pos := range m.deps.Trailing.Positions() {
			m.deps.Trailing.Drop(pos.OrderID)
		}
	}

	log.Warn().Int("positions_closed", len(exits)).Msg("emergency stop complete")
	return firstErr
}

func (m *Manager) engine(name string) (*Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	eng, ok := m.engines[name]
	if !ok {
		return nil, fmt.Errorf("unknown stream %q", name)
	}
	return eng, nil
}

func (m *Manager) snapshotEngines() []*Engine {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enginesLocked()
}

func (m *Manager) enginesLocked() []*Engine {
	out := make([]*Engine, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.engines[name])
	}
	return out
}
