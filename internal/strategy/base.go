package strategy

import (
	"fmt"
	"time"

	"github.com/quantfold/optionbt/internal/backtest"
	"github.com/quantfold/optionbt/internal/data"
	"github.com/quantfold/optionbt/internal/position"
)

// Volatility regime labels attached to positions at entry. Buckets are by
// average implied volatility of the entry legs.
const (
	RegimeLow    = "LOW_VOL"
	RegimeMedium = "MEDIUM_VOL"
	RegimeHigh   = "HIGH_VOL"
)

// RegimeLabel buckets an implied volatility into a regime.
func RegimeLabel(iv float64) string {
	switch {
	case iv <= 0:
		return "UNKNOWN"
	case iv < 0.15:
		return RegimeLow
	case iv < 0.25:
		return RegimeMedium
	default:
		return RegimeHigh
	}
}

// Params are the construction-time settings shared by all adapters.
type Params struct {
	Underlying   string             `json:"underlying"`
	DaysToExpiry int                `json:"dte"`                       // target DTE for new positions
	MatchType    data.DateMatchType `json:"date_match_type,omitempty"` // expiry matching rule
	Contracts    int                `json:"contracts,omitempty"`       // per-leg unit quantity, default 1
	Exit         backtest.ExitRules `json:"exit"`
}

func (p *Params) validate() error {
	if p.Underlying == "" {
		return fmt.Errorf("strategy params: underlying is required")
	}
	if p.DaysToExpiry <= 0 {
		return fmt.Errorf("strategy params: dte must be positive, got %d", p.DaysToExpiry)
	}
	if p.Contracts == 0 {
		p.Contracts = 1
	}
	if p.Contracts < 0 {
		return fmt.Errorf("strategy params: negative contract count")
	}
	return p.Exit.Validate()
}

// base carries the state and behavior shared by the concrete adapters:
// expiry resolution, default marking, the exit state machine, and the
// common metrics set.
type base struct {
	params      Params
	expiries    []time.Time
	prov        data.Provider
	fallbackVol float64
}

func newBase(params Params, expiries []time.Time, prov data.Provider) (base, error) {
	if err := params.validate(); err != nil {
		return base{}, err
	}
	if len(expiries) == 0 {
		return base{}, fmt.Errorf("strategy: no expiries available for %s", params.Underlying)
	}
	return base{
		params:      params,
		expiries:    expiries,
		prov:        prov,
		fallbackVol: 0.30,
	}, nil
}

// SetFallbackVol installs the engine's historical volatility estimate for
// degraded marks.
func (b *base) SetFallbackVol(v float64) {
	if v > 0 {
		b.fallbackVol = v
	}
}

// expiryFor picks the listed expiration closest to the target DTE.
func (b *base) expiryFor(at time.Time) time.Time {
	candidate := at.AddDate(0, 0, b.params.DaysToExpiry)
	return data.MatchBarDate(candidate, b.expiries, b.params.MatchType)
}

// UpdatePosition delegates to the position's mark-to-market with the
// strategy's fallback volatility for quote gaps.
func (b *base) UpdatePosition(pos *position.Position, bar data.Bar, quotes []data.OptionQuote) float64 {
	return pos.MarkToMarket(quotes, bar.Close, bar.Date, b.fallbackVol)
}

// ShouldExit runs the shared exit state machine against the thresholds
// recorded on the position at entry.
func (b *base) ShouldExit(pos *position.Position, bar data.Bar, quotes []data.OptionQuote, holdingMinutes int) (backtest.ExitReason, bool) {
	rules := backtest.ExitRules{
		ProfitTarget:      pos.Meta.ProfitTarget,
		MaxLoss:           pos.Meta.MaxLoss,
		TargetHoldMinutes: pos.Meta.TargetHoldMinutes,
		MaxHoldMinutes:    pos.Meta.MaxHoldMinutes,
	}
	return rules.Evaluate(pos.UnrealizedPnL, holdingMinutes)
}

// Metrics produces the common named-metric set: win rate, signal efficiency,
// and per-regime win rates flattened into the map.
func (b *base) Metrics(trades []backtest.Trade, totalSignals int) map[string]float64 {
	out := map[string]float64{
		"signal_efficiency": backtest.SignalEfficiency(trades, totalSignals),
	}
	wins := 0
	for _, t := range trades {
		if t.RealizedPnL > 0 {
			wins++
		}
	}
	if len(trades) > 0 {
		out["win_rate"] = float64(wins) / float64(len(trades))
	}
	for regime, rate := range backtest.RegimeWinRates(trades) {
		out["win_rate_"+regime] = rate
	}
	return out
}

// metaFor builds the fixed position metadata from the adapter thresholds,
// letting a signal tighten (but not loosen) the P&L bounds.
func (b *base) metaFor(sig backtest.Signal, regime string) position.Metadata {
	meta := position.Metadata{
		Regime:            regime,
		ProfitTarget:      b.params.Exit.ProfitTarget,
		MaxLoss:           b.params.Exit.MaxLoss,
		TargetHoldMinutes: b.params.Exit.TargetHoldMinutes,
		MaxHoldMinutes:    b.params.Exit.MaxHoldMinutes,
	}
	if sig.TakeProfit > 0 && sig.TakeProfit < meta.ProfitTarget {
		meta.ProfitTarget = sig.TakeProfit
	}
	if sig.StopLoss > 0 && sig.StopLoss < meta.MaxLoss {
		meta.MaxLoss = sig.StopLoss
	}
	return meta
}

// legsFromSpecs matches every spec against the quote universe and produces
// the legs, or ErrDataGap when any quote is missing or unusable.
func (b *base) legsFromSpecs(specs []data.ContractSpec, sides []position.Side, qtys []int, quotes []data.OptionQuote) ([]position.Leg, float64, error) {
	legs := make([]position.Leg, 0, len(specs))
	ivSum, ivN := 0.0, 0
	for i, spec := range specs {
		q, ok := data.FindQuote(quotes, spec)
		if !ok || q.Mid() <= 0 {
			return nil, 0, fmt.Errorf("%w: %s K=%.2f exp=%s",
				backtest.ErrDataGap, spec.Type, spec.Strike, spec.Expiration.Format("2006-01-02"))
		}
		legs = append(legs, position.Leg{
			Contract:   spec,
			Side:       sides[i],
			Qty:        qtys[i],
			EntryPrice: q.Mid(),
		})
		if q.ImpliedVol > 0 {
			ivSum += q.ImpliedVol
			ivN++
		}
	}
	avgIV := 0.0
	if ivN > 0 {
		avgIV = ivSum / float64(ivN)
	}
	return legs, avgIV, nil
}
