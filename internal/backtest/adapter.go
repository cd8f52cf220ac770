package backtest

import (
	"time"

	"github.com/quantfold/optionbt/internal/data"
	"github.com/quantfold/optionbt/internal/position"
)

// Adapter encapsulates everything strategy-specific so the engine stays
// strategy-agnostic: which contracts to request, how to turn a signal into a
// position, how to mark it, and when to close it.
//
// Exactly one adapter is active per run. Implementations live in
// internal/strategy.
type Adapter interface {
	// Name identifies the strategy in logs and reports.
	Name() string

	// RequiredContracts lists the contract specs the strategy would need to
	// open a position at this bar. The engine includes them in the bar's
	// quote fetch alongside the open positions' contracts.
	RequiredContracts(spot float64, at time.Time) []data.ContractSpec

	// BuildPosition converts an accepted signal into a position. It fails
	// with ErrDataGap when any required leg's quote is absent from quotes —
	// a position is never opened on partial legs.
	BuildPosition(id int, sig Signal, quotes []data.OptionQuote, spot float64, at time.Time) (*position.Position, error)

	// UpdatePosition marks the position to market for this bar, applying any
	// strategy-specific valuation adjustments. Returns the new value.
	UpdatePosition(pos *position.Position, bar data.Bar, quotes []data.OptionQuote) float64

	// ShouldExit runs the exit state machine with the strategy's thresholds.
	ShouldExit(pos *position.Position, bar data.Bar, quotes []data.OptionQuote, holdingMinutes int) (ExitReason, bool)

	// Metrics derives named strategy metrics from the completed ledger,
	// always including regime-segmented win rates and signal efficiency.
	Metrics(trades []Trade, totalSignals int) map[string]float64
}
