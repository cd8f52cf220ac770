package backtest

import "fmt"

// ExitReason records why a position left the OPEN state. The transition is
// terminal: nothing returns a closed position to OPEN.
type ExitReason string

const (
	ExitProfitTarget ExitReason = "PROFIT_TARGET"
	ExitStopLoss     ExitReason = "STOP_LOSS"
	ExitTargetHold   ExitReason = "TARGET_HOLD_REACHED"
	ExitMaxHold      ExitReason = "MAX_HOLD_REACHED"
	ExitEndOfPeriod  ExitReason = "END_OF_PERIOD"
)

// ExitRules are the strategy-configured exit thresholds. They are constants
// for the life of a position, never recomputed per bar.
//
// ProfitTarget and MaxLoss are dollar P&L magnitudes; hold durations are in
// minutes so intraday bar streams work unchanged. TargetHoldMinutes is
// optional: zero disables the soft hold rule and only the hard cap applies.
type ExitRules struct {
	ProfitTarget      float64 `json:"profit_target"`
	MaxLoss           float64 `json:"max_loss"`
	TargetHoldMinutes int     `json:"target_hold_minutes,omitempty"`
	MaxHoldMinutes    int     `json:"max_hold_minutes"`
}

// Validate rejects inconsistent thresholds at construction time, before a
// run starts. Both P&L thresholds must be positive magnitudes and the target
// hold, when set, cannot exceed the hard cap.
func (r ExitRules) Validate() error {
	if r.ProfitTarget <= 0 {
		return fmt.Errorf("exit rules: profit target must be positive, got %.2f", r.ProfitTarget)
	}
	if r.MaxLoss <= 0 {
		return fmt.Errorf("exit rules: max loss must be a positive magnitude, got %.2f", r.MaxLoss)
	}
	if r.TargetHoldMinutes < 0 {
		return fmt.Errorf("exit rules: negative target hold %d", r.TargetHoldMinutes)
	}
	if r.MaxHoldMinutes <= 0 {
		return fmt.Errorf("exit rules: max hold must be positive, got %d", r.MaxHoldMinutes)
	}
	if r.TargetHoldMinutes > 0 && r.MaxHoldMinutes < r.TargetHoldMinutes {
		return fmt.Errorf("exit rules: max hold %d is below target hold %d", r.MaxHoldMinutes, r.TargetHoldMinutes)
	}
	return nil
}

// Evaluate runs the exit decision in strict priority order; the first match
// wins. An exact hit on the profit target exits as PROFIT_TARGET even when a
// hold-based rule would also fire this bar.
func (r ExitRules) Evaluate(unrealizedPnL float64, holdingMinutes int) (ExitReason, bool) {
	switch {
	case unrealizedPnL >= r.ProfitTarget:
		return ExitProfitTarget, true
	case unrealizedPnL <= -r.MaxLoss:
		return ExitStopLoss, true
	case r.TargetHoldMinutes > 0 && holdingMinutes >= r.TargetHoldMinutes:
		return ExitTargetHold, true
	case holdingMinutes >= r.MaxHoldMinutes:
		return ExitMaxHold, true
	}
	return "", false
}
