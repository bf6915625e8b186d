package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrTradeNotOpen is returned when a close or cancel targets a trade
// that has already left the open state.
var ErrTradeNotOpen = errors.New("trade is not open")

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Repository provides data access for trades, equity snapshots,
// zones and backtest runs.
type Repository struct {
	db *DB
}

// NewRepository creates a repository backed by the given database.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck pings the underlying pool.
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

// CreateTrade inserts a new open trade and fills in its ID.
func (r *Repository) CreateTrade(ctx context.Context, trade *Trade) error {
	query := `
		INSERT INTO trades (
			order_id, stream_name, mode, direction, pair, entry_price,
			stop_loss, take_profit, units, sr_zone_price, sr_zone_type,
			entry_reason, status, opened_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, created_at`

	trade.Status = StatusOpen
	err := r.db.Pool.QueryRow(ctx, query,
		trade.OrderID, trade.StreamName, trade.Mode, trade.Direction,
		trade.Pair, trade.EntryPrice, trade.StopLoss, trade.TakeProfit,
		trade.Units, trade.SRZonePrice, trade.SRZoneType, trade.EntryReason,
		trade.Status, trade.OpenedAt,
	).Scan(&trade.ID, &trade.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create trade: %w", err)
	}
	return nil
}

// CloseTrade records the exit of an open trade. Closing a trade that
// is not open returns ErrTradeNotOpen.
func (r *Repository) CloseTrade(ctx context.Context, id int64, exitPrice float64, exitReason string, pnl float64, closedAt time.Time) error {
	query := `
		UPDATE trades
		SET exit_price = $2, exit_reason = $3, pnl = $4, status = $5, closed_at = $6
		WHERE id = $1 AND status = $7`

	tag, err := r.db.Pool.Exec(ctx, query, id, exitPrice, exitReason, pnl, StatusClosed, closedAt, StatusOpen)
	if err != nil {
		return fmt.Errorf("failed to close trade %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("close trade %d: %w", id, ErrTradeNotOpen)
	}
	return nil
}

// CancelTrade marks an open trade cancelled without recording an exit
// fill, used to retire open rows that cannot be matched to any broker
// order.
func (r *Repository) CancelTrade(ctx context.Context, id int64, closedAt time.Time) error {
	query := `
		UPDATE trades
		SET status = $2, closed_at = $3
		WHERE id = $1 AND status = $4`

	tag, err := r.db.Pool.Exec(ctx, query, id, StatusCancelled, closedAt, StatusOpen)
	if err != nil {
		return fmt.Errorf("failed to cancel trade %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("cancel trade %d: %w", id, ErrTradeNotOpen)
	}
	return nil
}

// UpdateTradeStop adjusts the stored stop loss of an open trade after
// the trailing stop moves it.
func (r *Repository) UpdateTradeStop(ctx context.Context, id int64, stopLoss float64) error {
	query := `UPDATE trades SET stop_loss = $2 WHERE id = $1 AND status = $3`

	tag, err := r.db.Pool.Exec(ctx, query, id, stopLoss, StatusOpen)
	if err != nil {
		return fmt.Errorf("failed to update stop for trade %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update stop for trade %d: %w", id, ErrTradeNotOpen)
	}
	return nil
}

// GetTradeByID fetches a single trade.
func (r *Repository) GetTradeByID(ctx context.Context, id int64) (*Trade, error) {
	query := selectTrades + ` WHERE id = $1`

	trade, err := scanTrade(r.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("trade %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get trade %d: %w", id, err)
	}
	return trade, nil
}

// GetOpenTrades returns all open trades for a mode, oldest first.
func (r *Repository) GetOpenTrades(ctx context.Context, mode string) ([]*Trade, error) {
	query := selectTrades + ` WHERE status = $1 AND mode = $2 ORDER BY opened_at ASC`
	return r.queryTrades(ctx, query, StatusOpen, mode)
}

// GetOpenTradesByStream returns open trades belonging to one stream.
func (r *Repository) GetOpenTradesByStream(ctx context.Context, mode, stream string) ([]*Trade, error) {
	query := selectTrades + ` WHERE status = $1 AND mode = $2 AND stream_name = $3 ORDER BY opened_at ASC`
	return r.queryTrades(ctx, query, StatusOpen, mode, stream)
}

// GetClosedTrades returns the most recently closed trades for a mode.
func (r *Repository) GetClosedTrades(ctx context.Context, mode string, limit int) ([]*Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	query := selectTrades + ` WHERE status = $1 AND mode = $2 ORDER BY closed_at DESC LIMIT $3`
	return r.queryTrades(ctx, query, StatusClosed, mode, limit)
}

const selectTrades = `
	SELECT id, order_id, stream_name, mode, direction, pair, entry_price,
		exit_price, stop_loss, take_profit, units, sr_zone_price, sr_zone_type,
		entry_reason, exit_reason, pnl, status, opened_at, closed_at, created_at
	FROM trades`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(row rowScanner) (*Trade, error) {
	var t Trade
	err := row.Scan(
		&t.ID, &t.OrderID, &t.StreamName, &t.Mode, &t.Direction, &t.Pair,
		&t.EntryPrice, &t.ExitPrice, &t.StopLoss, &t.TakeProfit, &t.Units,
		&t.SRZonePrice, &t.SRZoneType, &t.EntryReason, &t.ExitReason, &t.PnL,
		&t.Status, &t.OpenedAt, &t.ClosedAt, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *Repository) queryTrades(ctx context.Context, query string, args ...interface{}) ([]*Trade, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []*Trade
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, trade)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trades: %w", err)
	}
	return trades, nil
}

// RecordEquitySnapshot appends one equity curve point.
func (r *Repository) RecordEquitySnapshot(ctx context.Context, snap *EquitySnapshot) error {
	query := `
		INSERT INTO equity_snapshots (
			mode, equity, balance, peak_equity, drawdown_pct,
			open_positions, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	err := r.db.Pool.QueryRow(ctx, query,
		snap.Mode, snap.Equity, snap.Balance, snap.PeakEquity,
		snap.DrawdownPct, snap.OpenPositions, snap.RecordedAt,
	).Scan(&snap.ID)
	if err != nil {
		return fmt.Errorf("failed to record equity snapshot: %w", err)
	}
	return nil
}

// GetRecentEquity returns the latest equity snapshots, newest first.
func (r *Repository) GetRecentEquity(ctx context.Context, mode string, limit int) ([]*EquitySnapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, mode, equity, balance, peak_equity, drawdown_pct,
			open_positions, recorded_at
		FROM equity_snapshots
		WHERE mode = $1
		ORDER BY recorded_at DESC
		LIMIT $2`

	rows, err := r.db.Pool.Query(ctx, query, mode, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query equity snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []*EquitySnapshot
	for rows.Next() {
		var s EquitySnapshot
		err := rows.Scan(&s.ID, &s.Mode, &s.Equity, &s.Balance, &s.PeakEquity,
			&s.DrawdownPct, &s.OpenPositions, &s.RecordedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan equity snapshot: %w", err)
		}
		snaps = append(snaps, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read equity snapshots: %w", err)
	}
	return snaps, nil
}

// ReplaceZones invalidates the active zones for a pair and inserts the
// freshly detected set in one transaction.
func (r *Repository) ReplaceZones(ctx context.Context, pair string, zones []*SRZone) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin zone transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	_, err = tx.Exec(ctx,
		`UPDATE sr_zones SET invalidated_at = $1 WHERE pair = $2 AND invalidated_at IS NULL`,
		now, pair)
	if err != nil {
		return fmt.Errorf("failed to invalidate zones for %s: %w", pair, err)
	}

	insert := `
		INSERT INTO sr_zones (pair, zone_type, price_level, strength, detected_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`
	for _, z := range zones {
		err := tx.QueryRow(ctx, insert, pair, z.ZoneType, z.PriceLevel, z.Strength, z.DetectedAt).
			Scan(&z.ID, &z.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert zone for %s: %w", pair, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit zones for %s: %w", pair, err)
	}
	return nil
}

// GetActiveZones returns the zones for a pair that have not been
// invalidated, strongest first.
func (r *Repository) GetActiveZones(ctx context.Context, pair string) ([]*SRZone, error) {
	query := `
		SELECT id, pair, zone_type, price_level, strength, detected_at,
			invalidated_at, created_at
		FROM sr_zones
		WHERE pair = $1 AND invalidated_at IS NULL
		ORDER BY strength DESC, price_level ASC`

	rows, err := r.db.Pool.Query(ctx, query, pair)
	if err != nil {
		return nil, fmt.Errorf("failed to query zones: %w", err)
	}
	defer rows.Close()

	var zones []*SRZone
	for rows.Next() {
		var z SRZone
		err := rows.Scan(&z.ID, &z.Pair, &z.ZoneType, &z.PriceLevel, &z.Strength,
			&z.DetectedAt, &z.InvalidatedAt, &z.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan zone: %w", err)
		}
		zones = append(zones, &z)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read zones: %w", err)
	}
	return zones, nil
}

// CreateBacktestRun stores a backtest summary and fills in its ID.
func (r *Repository) CreateBacktestRun(ctx context.Context, run *BacktestRun) error {
	query := `
		INSERT INTO backtest_runs (
			pair, start_date, end_date, total_trades, winning_trades,
			losing_trades, win_rate, profit_factor, sharpe_ratio,
			max_drawdown, net_pnl
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at`

	err := r.db.Pool.QueryRow(ctx, query,
		run.Pair, run.StartDate, run.EndDate, run.TotalTrades,
		run.WinningTrades, run.LosingTrades, run.WinRate, run.ProfitFactor,
		run.SharpeRatio, run.MaxDrawdown, run.NetPnL,
	).Scan(&run.ID, &run.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create backtest run: %w", err)
	}
	return nil
}

// GetBacktestRuns returns recent backtest summaries, newest first.
func (r *Repository) GetBacktestRuns(ctx context.Context, limit int) ([]*BacktestRun, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, pair, start_date, end_date, total_trades, winning_trades,
			losing_trades, win_rate, profit_factor, sharpe_ratio,
			max_drawdown, net_pnl, created_at
		FROM backtest_runs
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query backtest runs: %w", err)
	}
	defer rows.Close()

	var runs []*BacktestRun
	for rows.Next() {
		var b BacktestRun
		err := rows.Scan(&b.ID, &b.Pair, &b.StartDate, &b.EndDate,
			&b.TotalTrades, &b.WinningTrades, &b.LosingTrades, &b.WinRate,
			&b.ProfitFactor, &b.SharpeRatio, &b.MaxDrawdown, &b.NetPnL,
			&b.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan backtest run: %w", err)
		}
		runs = append(runs, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read backtest runs: %w", err)
	}
	return runs, nil
}
