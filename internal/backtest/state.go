package backtest

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfold/optionbt/internal/position"
)

// Trade is one closed position in the ledger. Immutable once appended.
type Trade struct {
	ID             int        `json:"id"`
	EntryTime      time.Time  `json:"entry_time"`
	ExitTime       time.Time  `json:"exit_time"`
	EntryCost      float64    `json:"entry_cost"`
	ExitValue      float64    `json:"exit_value"`
	RealizedPnL    float64    `json:"realized_pnl"`
	HoldingMinutes int        `json:"holding_minutes"`
	ExitReason     ExitReason `json:"exit_reason"`
	Regime         string     `json:"regime"`
	HighValue      float64    `json:"high_value"`
	LowValue       float64    `json:"low_value"`
	Estimated      bool       `json:"estimated"`
}

// State is the capital account and ledger of a run. It has exactly one
// writer — the engine's sequential bar loop — so no locking is needed.
//
// Cash is decimal so the equity-conservation identity
// finalCash == initialCash + Σ realizedPnL holds exactly, with no float
// accumulation drift over thousands of trades.
type State struct {
	Cash          decimal.Decimal
	OpenPositions []*position.Position
	Ledger        []Trade
	EquityPeak    decimal.Decimal
	MaxDrawdown   decimal.Decimal
}

func newState(initialCash float64) *State {
	cash := decimal.NewFromFloat(initialCash)
	return &State{
		Cash:       cash,
		EquityPeak: cash,
	}
}

// equity is cash plus the marked value of all open positions.
func (s *State) equity() decimal.Decimal {
	eq := s.Cash
	for _, p := range s.OpenPositions {
		eq = eq.Add(decimal.NewFromFloat(p.CurrentValue))
	}
	return eq
}

// updateDrawdown advances the equity peak and max drawdown after a bar.
func (s *State) updateDrawdown() {
	eq := s.equity()
	if eq.GreaterThan(s.EquityPeak) {
		s.EquityPeak = eq
	}
	if dd := s.EquityPeak.Sub(eq); dd.GreaterThan(s.MaxDrawdown) {
		s.MaxDrawdown = dd
	}
}

// open debits cash by the position's entry cost and tracks the position.
func (s *State) open(p *position.Position) {
	s.Cash = s.Cash.Sub(decimal.NewFromFloat(p.EntryCost))
	s.OpenPositions = append(s.OpenPositions, p)
}

// close credits cash with the position's final value and appends exactly one
// ledger trade for it.
func (s *State) close(p *position.Position, at time.Time, reason ExitReason) Trade {
	s.Cash = s.Cash.Add(decimal.NewFromFloat(p.CurrentValue))

	tr := Trade{
		ID:             p.ID,
		EntryTime:      p.EntryTime,
		ExitTime:       at,
		EntryCost:      p.EntryCost,
		ExitValue:      p.CurrentValue,
		RealizedPnL:    p.CurrentValue - p.EntryCost,
		HoldingMinutes: p.HoldingMinutes(at),
		ExitReason:     reason,
		Regime:         p.Meta.Regime,
		HighValue:      p.HighValue,
		LowValue:       p.LowValue,
		Estimated:      p.Estimated,
	}
	s.Ledger = append(s.Ledger, tr)

	for i, open := range s.OpenPositions {
		if open.ID == p.ID {
			s.OpenPositions = append(s.OpenPositions[:i], s.OpenPositions[i+1:]...)
			break
		}
	}
	return tr
}
