package backtest

import "math"

// Stats summarises a run's closed trades.
type Stats struct {
	TotalTrades    int     `json:"total_trades"`
	WinningTrades  int     `json:"winning_trades"`
	LosingTrades   int     `json:"losing_trades"`
	WinRate        float64 `json:"win_rate"`
	GrossProfit    float64 `json:"gross_profit"`
	GrossLoss      float64 `json:"gross_loss"`
	NetPnL         float64 `json:"net_pnl"`
	ProfitFactor   float64 `json:"profit_factor"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	AverageWin     float64 `json:"average_win"`
	AverageLoss    float64 `json:"average_loss"`
}

func computeStats(trades []ClosedTrade, curve []EquityPoint, initial, final float64) Stats {
	s := Stats{TotalTrades: len(trades)}

	for _, t := range trades {
		if t.PnL > 0 {
			s.WinningTrades++
			s.GrossProfit += t.PnL
		} else {
			s.LosingTrades++
			s.GrossLoss += -t.PnL
		}
	}

	if s.TotalTrades > 0 {
		s.WinRate = float64(s.WinningTrades) / float64(s.TotalTrades) * 100
	}
	if s.WinningTrades > 0 {
		s.AverageWin = s.GrossProfit / float64(s.WinningTrades)
	}
	if s.LosingTrades > 0 {
		s.AverageLoss = s.GrossLoss / float64(s.LosingTrades)
	}

	s.NetPnL = final - initial
	if s.GrossLoss > 0 {
		s.ProfitFactor = s.GrossProfit / s.GrossLoss
	}

	s.MaxDrawdownPct = maxDrawdown(curve, initial)
	s.SharpeRatio = sharpeRatio(trades)
	return s
}

// maxDrawdown is the largest peak-to-trough decline on the equity
// curve, in percent. The initial balance seeds the peak so a run that
// only loses still reports a drawdown.
func maxDrawdown(curve []EquityPoint, initial float64) float64 {
	peak := initial
	maxDD := 0.0

	for _, point := range curve {
		if point.Equity > peak {
			peak = point.Equity
		}
		if peak <= 0 {
			continue
		}
		dd := (peak - point.Equity) / peak * 100
		if dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// sharpeRatio is the per-trade mean return over its standard deviation,
// with a zero risk-free rate.
func sharpeRatio(trades []ClosedTrade) float64 {
	if len(trades) < 2 {
		return 0
	}

	mean := 0.0
	for _, t := range trades {
		mean += t.PnLPercent
	}
	mean /= float64(len(trades))

	variance := 0.0
	for _, t := range trades {
		diff := t.PnLPercent - mean
		variance += diff * diff
	}
	stdDev := math.Sqrt(variance / float64(len(trades)))
	if stdDev == 0 {
		return 0
	}
	return mean / stdDev
}
