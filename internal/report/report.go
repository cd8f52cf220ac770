// Package report writes run output: a per-trade CSV ledger, a JSON result
// dump, and a human-readable summary.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/quantfold/optionbt/internal/backtest"
)

// WriteJSON dumps the full result as indented JSON.
func WriteJSON(res *backtest.Result, outdir string) error {
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(outdir, "trades.json"), b, 0644)
}

// WriteCSV writes the trade ledger, one record per line.
func WriteCSV(trades []backtest.Trade, outdir string) error {
	f, err := os.Create(filepath.Join(outdir, "trades.csv"))
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	defer w.Flush()

	headers := []string{"id", "entry_time", "exit_time", "entry_cost", "exit_value", "realized_pnl", "holding_minutes", "exit_reason", "regime", "high_value", "low_value", "estimated"}
	if err := w.Write(headers); err != nil {
		return err
	}
	for _, t := range trades {
		row := []string{
			fmt.Sprintf("%d", t.ID),
			t.EntryTime.Format("2006-01-02 15:04"),
			t.ExitTime.Format("2006-01-02 15:04"),
			fmt.Sprintf("%.2f", t.EntryCost),
			fmt.Sprintf("%.2f", t.ExitValue),
			fmt.Sprintf("%.2f", t.RealizedPnL),
			fmt.Sprintf("%d", t.HoldingMinutes),
			string(t.ExitReason),
			t.Regime,
			fmt.Sprintf("%.2f", t.HighValue),
			fmt.Sprintf("%.2f", t.LowValue),
			fmt.Sprintf("%t", t.Estimated),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

// WriteSummary renders the headline metrics plus the regime win-rate table.
func WriteSummary(res *backtest.Result, strategyMetrics map[string]float64, outdir string) error {
	s := backtest.ComputeSummary(res)

	out := fmt.Sprintf(`backtest summary
================
trades:            %d (%d wins / %d losses)
win rate:          %.1f%%
total pnl:         %.2f
avg pnl per trade: %.2f
max drawdown:      %.2f
final cash:        %.2f (from %.2f)
signals:           %d (efficiency %.1f%%)
estimated trades:  %d
`,
		s.TotalTrades, s.WinningTrades, s.LosingTrades,
		s.WinRate*100,
		s.TotalPnL,
		s.AvgPnL,
		s.MaxDrawdown,
		res.FinalCash, res.InitialCash,
		res.TotalSignals, s.SignalEff*100,
		s.EstimatedCount,
	)

	out += "\nregime win rates\n----------------\n"
	regimes := make([]string, 0, len(s.RegimeWinRates))
	for r := range s.RegimeWinRates {
		regimes = append(regimes, r)
	}
	sort.Strings(regimes)
	for _, r := range regimes {
		out += fmt.Sprintf("%-12s %.1f%%\n", r, s.RegimeWinRates[r]*100)
	}

	if len(strategyMetrics) > 0 {
		out += "\nstrategy metrics\n----------------\n"
		names := make([]string, 0, len(strategyMetrics))
		for n := range strategyMetrics {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			out += fmt.Sprintf("%-24s %.4f\n", n, strategyMetrics[n])
		}
	}

	return os.WriteFile(filepath.Join(outdir, "summary.txt"), []byte(out), 0644)
}
