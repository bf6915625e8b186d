package broker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Compile-time check that the mock satisfies the broker contract.
var _ Broker = (*MockBroker)(nil)

// MockBroker is an in-memory broker for tests. Candle series are scripted
// per (instrument, granularity); orders fill at the scripted fill price or
// the last close. Errors can be injected per call name.
type MockBroker struct {
	mu sync.Mutex

	candles   map[string][]Candle
	account   Account
	positions []Position
	nextID    int

	FillPrice float64 // overrides fill at last close when non-zero
	Placed    []OrderRequest
	Closed    []string
	Modified  map[string]float64

	failures map[string]error
}

// NewMockBroker returns an empty mock with a funded account.
func NewMockBroker() *MockBroker {
	return &MockBroker{
		candles:  make(map[string][]Candle),
		Modified: make(map[string]float64),
		failures: make(map[string]error),
		account: Account{
			Equity:  decimal.NewFromInt(10000),
			Balance: decimal.NewFromInt(10000),
		},
		nextID: 1,
	}
}

func seriesKey(instrument string, g Granularity) string {
	return instrument + "/" + string(g)
}

// SetCandles scripts the series returned for an instrument and granularity.
func (m *MockBroker) SetCandles(instrument string, g Granularity, candles []Candle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candles[seriesKey(instrument, g)] = candles
}

// SetAccount replaces the account snapshot.
func (m *MockBroker) SetAccount(account Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.account = account
}

// SetPositions replaces the open position set.
func (m *MockBroker) SetPositions(positions []Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions = positions
}

// FailWith makes the named call ("FetchCandles", "PlaceOrder", ...) return
// err until cleared with a nil err.
func (m *MockBroker) FailWith(call string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, call)
		return
	}
	m.failures[call] = err
}

func (m *MockBroker) failure(call string) error {
	return m.failures[call]
}

func (m *MockBroker) FetchCandles(ctx context.Context, instrument string, g Granularity, count int) ([]Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("FetchCandles"); err != nil {
		return nil, err
	}

	series, ok := m.candles[seriesKey(instrument, g)]
	if !ok {
		return nil, fmt.Errorf("no scripted candles for %s %s", instrument, g)
	}
	if count < len(series) {
		series = series[len(series)-count:]
	}
	out := make([]Candle, len(series))
	copy(out, series)
	return out, nil
}

// FetchCandlesRange filters the scripted series to [from, to).
func (m *MockBroker) FetchCandlesRange(ctx context.Context, instrument string, g Granularity, from, to time.Time) ([]Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("FetchCandlesRange"); err != nil {
		return nil, err
	}

	series, ok := m.candles[seriesKey(instrument, g)]
	if !ok {
		return nil, fmt.Errorf("no scripted candles for %s %s", instrument, g)
	}
	var out []Candle
	for _, candle := range series {
		if !candle.Time.Before(from) && candle.Time.Before(to) {
			out = append(out, candle)
		}
	}
	return out, nil
}

func (m *MockBroker) GetAccount(ctx context.Context) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("GetAccount"); err != nil {
		return nil, err
	}
	account := m.account
	account.OpenPositions = len(m.positions)
	return &account, nil
}

func (m *MockBroker) GetPositions(ctx context.Context) ([]Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("GetPositions"); err != nil {
		return nil, err
	}
	out := make([]Position, len(m.positions))
	copy(out, m.positions)
	return out, nil
}

func (m *MockBroker) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderFill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("PlaceOrder"); err != nil {
		return nil, err
	}

	m.Placed = append(m.Placed, req)

	fillPrice := m.FillPrice
	if fillPrice == 0 {
		if series, ok := m.candles[seriesKey(req.Instrument, M5)]; ok && len(series) > 0 {
			fillPrice = series[len(series)-1].Close
		}
	}

	id := strconv.Itoa(m.nextID)
	m.nextID++

	direction := "buy"
	if req.Units < 0 {
		direction = "sell"
	}
	m.positions = append(m.positions, Position{
		OrderID:    id,
		Instrument: req.Instrument,
		Direction:  direction,
		Units:      req.Units,
		AvgPrice:   fillPrice,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		OpenTime:   time.Now().UTC(),
	})

	return &OrderFill{OrderID: id, FillPrice: fillPrice, OpenTime: time.Now().UTC()}, nil
}

func (m *MockBroker) CloseOrder(ctx context.Context, orderID string) (*CloseResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("CloseOrder"); err != nil {
		return nil, err
	}

	m.Closed = append(m.Closed, orderID)

	exitPrice := m.FillPrice
	for i, pos := range m.positions {
		if pos.OrderID == orderID {
			if exitPrice == 0 {
				exitPrice = pos.AvgPrice
			}
			m.positions = append(m.positions[:i], m.positions[i+1:]...)
			break
		}
	}

	return &CloseResult{ExitPrice: exitPrice, CloseTime: time.Now().UTC()}, nil
}

func (m *MockBroker) ModifyStop(ctx context.Context, orderID string, newStop float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("ModifyStop"); err != nil {
		return err
	}

	m.Modified[orderID] = newStop
	for i := range m.positions {
		if m.positions[i].OrderID == orderID {
			m.positions[i].StopLoss = newStop
		}
	}
	return nil
}

// RemovePosition drops a position without recording a close. Used to
// simulate the broker closing a trade server-side (stop or target hit).
func (m *MockBroker) RemovePosition(orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, pos := range m.positions {
		if pos.OrderID == orderID {
			m.positions = append(m.positions[:i], m.positions[i+1:]...)
			return
		}
	}
}
