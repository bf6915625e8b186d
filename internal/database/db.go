package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Config holds PostgreSQL connection settings.
type Config struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// DB wraps the pgx connection pool.
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB creates a connection pool and verifies connectivity.
func NewDB(cfg Config) (*DB, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().
		Str("host", cfg.Host).
		Str("database", cfg.Database).
		Msg("connected to postgres")

	return &DB{Pool: pool}, nil
}

// Close releases the connection pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// HealthCheck pings the database.
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// RunMigrations applies the schema. Statements are idempotent so the
// engine can run them on every startup.
func (db *DB) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id BIGSERIAL PRIMARY KEY,
			order_id VARCHAR(64) NOT NULL DEFAULT '',
			stream_name VARCHAR(100) NOT NULL,
			mode VARCHAR(10) NOT NULL,
			direction VARCHAR(4) NOT NULL,
			pair VARCHAR(20) NOT NULL,
			entry_price DECIMAL(20, 8) NOT NULL,
			exit_price DECIMAL(20, 8),
			stop_loss DECIMAL(20, 8) NOT NULL,
			take_profit DECIMAL(20, 8) NOT NULL,
			units DECIMAL(20, 2) NOT NULL,
			sr_zone_price DECIMAL(20, 8),
			sr_zone_type VARCHAR(10),
			entry_reason TEXT,
			exit_reason VARCHAR(30),
			pnl DECIMAL(20, 8),
			status VARCHAR(10) NOT NULL DEFAULT 'open',
			opened_at TIMESTAMP NOT NULL,
			closed_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_opened_at ON trades(opened_at)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_mode ON trades(mode)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_stream_name ON trades(stream_name)`,
		`CREATE TABLE IF NOT EXISTS equity_snapshots (
			id BIGSERIAL PRIMARY KEY,
			mode VARCHAR(10) NOT NULL,
			equity DECIMAL(20, 8) NOT NULL,
			balance DECIMAL(20, 8) NOT NULL,
			peak_equity DECIMAL(20, 8) NOT NULL,
			drawdown_pct DECIMAL(10, 4) NOT NULL,
			open_positions INT NOT NULL DEFAULT 0,
			recorded_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_equity_snapshots_recorded_at ON equity_snapshots(recorded_at)`,
		`CREATE TABLE IF NOT EXISTS sr_zones (
			id BIGSERIAL PRIMARY KEY,
			pair VARCHAR(20) NOT NULL,
			zone_type VARCHAR(10) NOT NULL,
			price_level DECIMAL(20, 8) NOT NULL,
			strength INT NOT NULL,
			detected_at TIMESTAMP NOT NULL,
			invalidated_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sr_zones_pair_type ON sr_zones(pair, zone_type)`,
		`CREATE INDEX IF NOT EXISTS idx_sr_zones_active ON sr_zones(pair) WHERE invalidated_at IS NULL`,
		`CREATE TABLE IF NOT EXISTS backtest_runs (
			id BIGSERIAL PRIMARY KEY,
			pair VARCHAR(20) NOT NULL,
			start_date TIMESTAMP NOT NULL,
			end_date TIMESTAMP NOT NULL,
			total_trades INT NOT NULL,
			winning_trades INT NOT NULL,
			losing_trades INT NOT NULL,
			win_rate DECIMAL(5, 2) NOT NULL,
			profit_factor DECIMAL(10, 4) NOT NULL,
			sharpe_ratio DECIMAL(10, 4) NOT NULL,
			max_drawdown DECIMAL(10, 4) NOT NULL,
			net_pnl DECIMAL(20, 8) NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	log.Info().Int("statements", len(migrations)).Msg("database migrations applied")
	return nil
}
