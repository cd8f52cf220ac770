package backtest

import (
	"time"

	"github.com/quantfold/optionbt/internal/data"
)

// SignalAction is what the upstream strategy logic wants done.
type SignalAction string

const (
	ActionEnter SignalAction = "enter"
	ActionHold  SignalAction = "hold"
)

// Signal is produced by an external signal-generation collaborator
// (indicator pipeline, ML model, scheduler). The core only consumes it.
type Signal struct {
	Action          SignalAction
	Confidence      float64 // 0-100
	TargetContracts []data.ContractSpec
	StopLoss        float64
	TakeProfit      float64
	Timestamp       time.Time
}

// SignalSource supplies at most one signal per bar. history contains all bars
// up to and including the current one, so sources can compute indicators
// without future leakage. A nil signal means nothing to do this bar.
type SignalSource interface {
	Next(bar data.Bar, history []data.Bar) (*Signal, error)
}
