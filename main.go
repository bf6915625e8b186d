// Command forex-trading-bot runs the multi-stream FX and bullion
// trading engine: paper or live trading with the status API, or a
// historical backtest over a fixed date range.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"forex-trading-bot/config"
	"forex-trading-bot/internal/api"
	"forex-trading-bot/internal/backtest"
	"forex-trading-bot/internal/broker"
	"forex-trading-bot/internal/cache"
	"forex-trading-bot/internal/database"
	"forex-trading-bot/internal/engine"
	"forex-trading-bot/internal/events"
	"forex-trading-bot/internal/logging"
	"forex-trading-bot/internal/notification"
	"forex-trading-bot/internal/risk"
	"forex-trading-bot/internal/secrets"
	"forex-trading-bot/internal/status"
	"forex-trading-bot/internal/strategy"
)

// signalHistoryCap bounds each stream's in-memory evaluation history
// served by the status API.
const signalHistoryCap = 256

func main() {
	var (
		configPath   = flag.String("config", "", "path to the JSON config file (./config.json is used when present)")
		modeOverride = flag.String("mode", "", "run mode override: paper, live or backtest")
		startFlag    = flag.String("start", "", "backtest range start (YYYY-MM-DD)")
		endFlag      = flag.String("end", "", "backtest range end (YYYY-MM-DD, default today)")
		balanceFlag  = flag.Float64("balance", 10000, "backtest starting balance")
		streamFlag   = flag.String("stream", "", "backtest a single named stream instead of every enabled one")
		sampleFlag   = flag.String("sample-config", "", "write a sample config file to the given path and exit")
		hashFlag     = flag.String("hash-password", "", "print the bcrypt hash for an admin password and exit")
	)
	flag.Parse()

	if *sampleFlag != "" {
		if err := config.GenerateSampleConfig(*sampleFlag); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write sample config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("sample config written to %s\n", *sampleFlag)
		return
	}
	if *hashFlag != "" {
		hash, err := api.HashPassword(*hashFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	// A .env file is optional; deployments usually set the environment
	// directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *modeOverride != "" {
		cfg.Mode = *modeOverride
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging)
	log.Info().Str("mode", cfg.Mode).Int("streams", len(cfg.EnabledStreams())).Msg("forex trading bot starting")

	if cfg.Mode == config.ModeBacktest {
		if err := runBacktest(cfg, *streamFlag, *startFlag, *endFlag, *balanceFlag); err != nil {
			log.Fatal().Err(err).Msg("backtest failed")
		}
		return
	}

	if err := runEngine(cfg); err != nil {
		log.Fatal().Err(err).Msg("engine terminated")
	}
}

// runEngine wires and runs the paper/live trading process until an
// interrupt arrives.
func runEngine(cfg *config.Config) error {
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()

	secretsClient, err := secrets.NewClient(cfg.Vault)
	if err != nil {
		return fmt.Errorf("vault client: %w", err)
	}
	if err := secretsClient.Health(rootCtx); err != nil {
		return fmt.Errorf("vault health: %w", err)
	}
	if secretsClient.IsEnabled() {
		log.Info().Str("address", cfg.Vault.Address).Msg("vault secrets enabled")
	}
	creds, err := secretsClient.Broker(rootCtx)
	if err != nil {
		return fmt.Errorf("broker credentials: %w", err)
	}

	brokerClient := broker.NewClient(broker.ClientConfig{
		Token:     creds.APIToken,
		AccountID: creds.AccountID,
		BaseURL:   brokerBaseURL(cfg),
	})

	notifier := buildNotifications(rootCtx, cfg, secretsClient)
	if notifier != nil {
		notifier.Attach(bus)
	}

	db, err := database.NewDB(cfg.Database)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()
	if err := db.RunMigrations(rootCtx); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	repo := database.NewRepository(db)

	supervisor := risk.NewSupervisor(cfg.Risk.MaxDrawdownPct)
	var trailing *risk.TrailingTracker
	if cfg.Risk.UseTrailingStop {
		trailing = risk.NewTrailingTracker(cfg.Risk.Trailing)
	}

	manager, err := engine.NewManager(cfg.EnabledStreams(), engine.Deps{
		Broker:     brokerClient,
		Store:      repo,
		Bus:        bus,
		Supervisor: supervisor,
		Trailing:   trailing,
		Mode:       cfg.Mode,
		GlobalMax:  cfg.Risk.MaxOpenPositions,
	})
	if err != nil {
		return fmt.Errorf("building engines: %w", err)
	}

	projection := status.New(cfg.Mode, signalHistoryCap)
	for _, sc := range cfg.EnabledStreams() {
		projection.RegisterStream(sc.Name, sc.Strategy, sc.Instrument)
	}
	projection.Attach(bus)

	var server *api.Server
	if cfg.Server.Enabled {
		hub := api.NewHub()
		go hub.Run(rootCtx)
		hub.Attach(bus)

		server = api.NewServer(cfg.Server, api.Deps{
			Mode:       cfg.Mode,
			Risk:       cfg.Risk,
			Controller: manager,
			Projection: projection,
			Store:      repo,
			Broker:     brokerClient,
			Hub:        hub,
		})
		go func() {
			if err := server.Start(); err != nil {
				log.Fatal().Err(err).Msg("status API failed")
			}
		}()
	}

	manager.StartAll(rootCtx)
	log.Info().Str("mode", cfg.Mode).Msg("all streams started")
	if notifier != nil {
		notifier.Info("Trading engine started",
			fmt.Sprintf("mode %s, %d streams", cfg.Mode, len(cfg.EnabledStreams())))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutdown signal received")

	timeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), timeout)
	defer cancelShutdown()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("status API shutdown error")
		}
	}
	manager.StopAll()

	log.Info().Msg("shutdown complete")
	return nil
}

// runBacktest replays each enabled stream over the given range and
// persists the run summaries and simulated trades. A stream name limits
// the run to that stream, enabled or not.
func runBacktest(cfg *config.Config, streamName, startFlag, endFlag string, balance float64) error {
	start, end, err := backtestRange(startFlag, endFlag)
	if err != nil {
		return err
	}

	streams := cfg.EnabledStreams()
	if streamName != "" {
		sc, ok := cfg.Stream(streamName)
		if !ok {
			return fmt.Errorf("unknown stream %q", streamName)
		}
		streams = []config.StreamConfig{sc}
	}

	ctx := context.Background()

	secretsClient, err := secrets.NewClient(cfg.Vault)
	if err != nil {
		return fmt.Errorf("vault client: %w", err)
	}
	creds, err := secretsClient.Broker(ctx)
	if err != nil {
		return fmt.Errorf("broker credentials: %w", err)
	}
	brokerClient := broker.NewClient(broker.ClientConfig{
		Token:     creds.APIToken,
		AccountID: creds.AccountID,
		BaseURL:   brokerBaseURL(cfg),
	})

	db, err := database.NewDB(cfg.Database)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()
	if err := db.RunMigrations(ctx); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	repo := database.NewRepository(db)

	var candleCache *cache.Cache
	if cfg.Redis.Enabled {
		c, err := cache.New(cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, fetching candles uncached")
		} else {
			candleCache = c
			defer candleCache.Close()
		}
	}
	loader := backtest.NewLoader(brokerClient, candleCache)

	for _, sc := range streams {
		strat, err := strategy.New(sc.Strategy, sc.Params())
		if err != nil {
			return fmt.Errorf("stream %s: %w", sc.Name, err)
		}

		log.Info().Str("stream", sc.Name).Str("instrument", sc.Instrument).
			Time("start", start).Time("end", end).Msg("loading history")
		data, err := loader.LoadAll(ctx, sc.Instrument, strat.Requirements(), start, end)
		if err != nil {
			return fmt.Errorf("stream %s: loading candles: %w", sc.Name, err)
		}

		var trailingCfg *risk.TrailingConfig
		if cfg.Risk.UseTrailingStop {
			tc := cfg.Risk.Trailing
			trailingCfg = &tc
		}

		runner := backtest.NewRunner(strat, backtest.Config{
			Stream:         sc.Name,
			Granularity:    finestGranularity(strat),
			Start:          start,
			End:            end,
			InitialBalance: balance,
			RiskPercent:    sc.RiskPercent,
			MaxDrawdownPct: cfg.Risk.MaxDrawdownPct,
			Trailing:       trailingCfg,
		}, data)

		result, err := runner.Run(ctx)
		if err != nil {
			return fmt.Errorf("stream %s: %w", sc.Name, err)
		}

		if err := repo.CreateBacktestRun(ctx, result.ToRun()); err != nil {
			log.Error().Err(err).Str("stream", sc.Name).Msg("failed to persist backtest run")
		}
		if err := persistBacktestTrades(ctx, repo, sc, result); err != nil {
			log.Error().Err(err).Str("stream", sc.Name).Msg("failed to persist backtest trades")
		}

		printBacktestResult(result)
	}
	return nil
}

// backtestRange parses the -start/-end flags. End defaults to now;
// start is required.
func backtestRange(startFlag, endFlag string) (time.Time, time.Time, error) {
	if startFlag == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("backtest mode requires -start YYYY-MM-DD")
	}
	start, err := time.Parse("2006-01-02", startFlag)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid -start: %w", err)
	}

	end := time.Now().UTC().Truncate(24 * time.Hour)
	if endFlag != "" {
		end, err = time.Parse("2006-01-02", endFlag)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid -end: %w", err)
		}
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("backtest end %s is not after start %s",
			end.Format("2006-01-02"), start.Format("2006-01-02"))
	}
	return start, end, nil
}

// brokerBaseURL picks the REST host: explicit override first, then the
// real-money host for live mode, the practice host otherwise.
func brokerBaseURL(cfg *config.Config) string {
	if cfg.Broker.BaseURL != "" {
		return cfg.Broker.BaseURL
	}
	if cfg.Mode == config.ModeLive {
		return broker.LiveHost
	}
	return broker.PracticeHost
}

// buildNotifications assembles the notifier fan-out from config. The
// Discord webhook falls back to the secrets client when not set inline.
func buildNotifications(ctx context.Context, cfg *config.Config, sec *secrets.Client) *notification.Manager {
	if !cfg.Notifications.Enabled {
		return nil
	}

	manager := notification.NewManager()

	if tg := cfg.Notifications.Telegram; tg.Enabled {
		manager.AddNotifier(notification.NewTelegramNotifier(notification.TelegramConfig{
			BotToken: tg.BotToken,
			ChatID:   tg.ChatID,
			Enabled:  tg.Enabled,
		}))
		log.Info().Msg("telegram notifications enabled")
	}

	if dc := cfg.Notifications.Discord; dc.Enabled {
		webhook := dc.WebhookURL
		if webhook == "" {
			webhook = sec.WebhookURL(ctx, "discord")
		}
		manager.AddNotifier(notification.NewDiscordNotifier(notification.DiscordConfig{
			WebhookURL: webhook,
			Enabled:    dc.Enabled,
		}))
		log.Info().Msg("discord notifications enabled")
	}

	return manager
}

// finestGranularity picks the shortest timeframe the strategy consumes;
// the backtest clock steps bar by bar on it.
func finestGranularity(strat strategy.Strategy) broker.Granularity {
	finest := broker.D
	for g := range strat.Requirements() {
		if g.Duration() < finest.Duration() {
			finest = g
		}
	}
	return finest
}

// persistBacktestTrades writes the simulated round trips as closed
// trade rows so the dashboard can browse them alongside live history.
func persistBacktestTrades(ctx context.Context, repo *database.Repository, sc config.StreamConfig, result *backtest.Result) error {
	for i := range result.Trades {
		ct := &result.Trades[i]

		row := &database.Trade{
			StreamName:  sc.Name,
			Mode:        config.ModeBacktest,
			Direction:   ct.Direction,
			Pair:        sc.Instrument,
			EntryPrice:  ct.EntryPrice,
			StopLoss:    ct.StopLoss,
			TakeProfit:  ct.TakeProfit,
			Units:       ct.Units,
			EntryReason: ct.EntryReason,
			OpenedAt:    ct.EntryTime,
		}
		if err := repo.CreateTrade(ctx, row); err != nil {
			return err
		}
		if err := repo.CloseTrade(ctx, row.ID, ct.ExitPrice, ct.ExitReason, ct.PnL, ct.ExitTime); err != nil {
			return err
		}
	}
	return nil
}

func printBacktestResult(r *backtest.Result) {
	fmt.Printf("\n=== %s (%s on %s) ===\n", r.Stream, r.Strategy, r.Instrument)
	fmt.Printf("Period:        %s to %s\n", r.Start.Format("2006-01-02"), r.End.Format("2006-01-02"))
	fmt.Printf("Evaluations:   %d\n", r.Evaluations)
	fmt.Printf("Trades:        %d (%d wins, %d losses)\n",
		r.Stats.TotalTrades, r.Stats.WinningTrades, r.Stats.LosingTrades)
	fmt.Printf("Win rate:      %.1f%%\n", r.Stats.WinRate)
	fmt.Printf("Net P&L:       %.2f (%.2f -> %.2f)\n", r.Stats.NetPnL, r.InitialBalance, r.FinalEquity)
	fmt.Printf("Profit factor: %.2f\n", r.Stats.ProfitFactor)
	fmt.Printf("Sharpe:        %.2f\n", r.Stats.SharpeRatio)
	fmt.Printf("Max drawdown:  %.2f%%\n", r.Stats.MaxDrawdownPct)
	if r.BreakerTripped {
		fmt.Println("Breaker:       TRIPPED during run")
	}
	if len(r.Vetoes) > 0 {
		fmt.Println("Top vetoes:")
		for reason, count := range r.Vetoes {
			fmt.Printf("  %-40s %d\n", reason, count)
		}
	}
}
