package backtest

// Summary aggregates the completed ledger into headline run metrics.
type Summary struct {
	TotalTrades    int                `json:"total_trades"`
	WinningTrades  int                `json:"winning_trades"`
	LosingTrades   int                `json:"losing_trades"`
	WinRate        float64            `json:"win_rate"` // 0..1
	TotalPnL       float64            `json:"total_pnl"`
	AvgPnL         float64            `json:"avg_pnl"`
	MaxDrawdown    float64            `json:"max_drawdown"`
	RegimeWinRates map[string]float64 `json:"regime_win_rates"`
	SignalEff      float64            `json:"signal_efficiency"`
	EstimatedCount int                `json:"estimated_trades"` // trades marked via degraded pricing at least once
}

// ComputeSummary derives the summary metrics from a run result.
func ComputeSummary(res *Result) Summary {
	s := Summary{
		MaxDrawdown:    res.MaxDrawdown,
		RegimeWinRates: RegimeWinRates(res.Trades),
		SignalEff:      SignalEfficiency(res.Trades, res.TotalSignals),
	}
	for _, t := range res.Trades {
		s.TotalTrades++
		s.TotalPnL += t.RealizedPnL
		if t.RealizedPnL > 0 {
			s.WinningTrades++
		} else {
			s.LosingTrades++
		}
		if t.Estimated {
			s.EstimatedCount++
		}
	}
	if s.TotalTrades > 0 {
		s.WinRate = float64(s.WinningTrades) / float64(s.TotalTrades)
		s.AvgPnL = s.TotalPnL / float64(s.TotalTrades)
	}
	return s
}

// RegimeWinRates segments win rate by the volatility regime labeled at
// entry. Regimes with no trades are absent from the map.
func RegimeWinRates(trades []Trade) map[string]float64 {
	wins := map[string]int{}
	counts := map[string]int{}
	for _, t := range trades {
		regime := t.Regime
		if regime == "" {
			regime = "UNKNOWN"
		}
		counts[regime]++
		if t.RealizedPnL > 0 {
			wins[regime]++
		}
	}
	out := make(map[string]float64, len(counts))
	for regime, n := range counts {
		out[regime] = float64(wins[regime]) / float64(n)
	}
	return out
}

// SignalEfficiency is the ratio of signals that became profitable trades to
// total qualifying signals. Zero when no signals qualified.
func SignalEfficiency(trades []Trade, totalSignals int) float64 {
	if totalSignals <= 0 {
		return 0
	}
	profitable := 0
	for _, t := range trades {
		if t.RealizedPnL > 0 {
			profitable++
		}
	}
	return float64(profitable) / float64(totalSignals)
}
