// Command analyze_trades prints a per-stream performance breakdown of
// the closed trades recorded in the database. It reads the same config
// file as the bot; only the database section is used.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/joho/godotenv"

	"forex-trading-bot/config"
	"forex-trading-bot/internal/broker"
	"forex-trading-bot/internal/database"
)

type streamStats struct {
	Stream      string
	Trades      int
	Wins        int
	Losses      int
	NetPnL      float64
	GrossProfit float64
	GrossLoss   float64
	RiskPips    float64
}

func (s *streamStats) winRate() float64 {
	if s.Trades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Trades) * 100
}

func (s *streamStats) avgPnL() float64 {
	if s.Trades == 0 {
		return 0
	}
	return s.NetPnL / float64(s.Trades)
}

func (s *streamStats) avgRiskPips() float64 {
	if s.Trades == 0 {
		return 0
	}
	return s.RiskPips / float64(s.Trades)
}

func main() {
	var (
		configPath = flag.String("config", "", "path to the JSON config file (./config.json is used when present)")
		mode       = flag.String("mode", database.ModePaper, "trade mode to report on: paper, live or backtest")
		limit      = flag.Int("limit", 1000, "maximum closed trades to load")
	)
	flag.Parse()

	switch *mode {
	case database.ModePaper, database.ModeLive, database.ModeBacktest:
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q: want paper, live or backtest\n", *mode)
		os.Exit(1)
	}

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.NewDB(cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()
	repo := database.NewRepository(db)

	trades, err := repo.GetClosedTrades(ctx, *mode, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load trades: %v\n", err)
		os.Exit(1)
	}
	if len(trades) == 0 {
		fmt.Printf("no closed %s trades found\n", *mode)
		return
	}

	byStream := make(map[string]*streamStats)
	exitReasons := make(map[string]int)

	for _, t := range trades {
		s, ok := byStream[t.StreamName]
		if !ok {
			s = &streamStats{Stream: t.StreamName}
			byStream[t.StreamName] = s
		}

		var pnl float64
		if t.PnL != nil {
			pnl = *t.PnL
		}

		s.Trades++
		s.NetPnL += pnl
		s.RiskPips += broker.UnitsToPips(t.Pair, t.EntryPrice-t.StopLoss)
		if pnl > 0 {
			s.Wins++
			s.GrossProfit += pnl
		} else {
			s.Losses++
			s.GrossLoss += -pnl
		}

		if t.ExitReason != nil {
			exitReasons[*t.ExitReason]++
		}
	}

	sorted := make([]*streamStats, 0, len(byStream))
	for _, s := range byStream {
		sorted = append(sorted, s)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].NetPnL > sorted[j].NetPnL
	})

	// Rows come back newest first.
	newest := trades[0]
	oldest := trades[len(trades)-1]
	fmt.Printf("Closed %s trades: %d (%s to %s)\n\n",
		*mode, len(trades),
		oldest.OpenedAt.Format("2006-01-02"),
		closedDate(newest))

	fmt.Printf("%-20s %7s %6s %7s %9s %12s %12s %9s\n",
		"STREAM", "TRADES", "WINS", "LOSSES", "WIN RATE", "NET PNL", "AVG PNL", "AVG RISK")
	var total streamStats
	for _, s := range sorted {
		fmt.Printf("%-20s %7d %6d %7d %8.1f%% %+12.2f %+12.2f %7.1fp\n",
			s.Stream, s.Trades, s.Wins, s.Losses, s.winRate(), s.NetPnL, s.avgPnL(), s.avgRiskPips())
		total.Trades += s.Trades
		total.Wins += s.Wins
		total.Losses += s.Losses
		total.NetPnL += s.NetPnL
		total.GrossProfit += s.GrossProfit
		total.GrossLoss += s.GrossLoss
		total.RiskPips += s.RiskPips
	}
	fmt.Printf("%-20s %7d %6d %7d %8.1f%% %+12.2f %+12.2f %7.1fp\n",
		"TOTAL", total.Trades, total.Wins, total.Losses,
		total.winRate(), total.NetPnL, total.avgPnL(), total.avgRiskPips())

	if total.GrossLoss > 0 {
		fmt.Printf("\nProfit factor: %.2f\n", total.GrossProfit/total.GrossLoss)
	}

	fmt.Println("\nExits by reason:")
	for _, reason := range sortedKeys(exitReasons) {
		fmt.Printf("  %-16s %d\n", reason, exitReasons[reason])
	}
}

func closedDate(t *database.Trade) string {
	if t.ClosedAt == nil {
		return "?"
	}
	return t.ClosedAt.Format("2006-01-02")
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if m[keys[i]] != m[keys[j]] {
			return m[keys[i]] > m[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}
