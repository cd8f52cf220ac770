// Package position models a multi-leg option position and its valuation.
//
// A Position owns its legs exclusively. It is created by a strategy adapter
// from an accepted signal, re-marked every bar, and finally converted into an
// immutable ledger trade by the backtest engine.
package position

import (
	"fmt"
	"time"

	"github.com/quantfold/optionbt/internal/data"
	"github.com/quantfold/optionbt/internal/logger"
	"github.com/quantfold/optionbt/internal/pricing"
)

// Multiplier is the contract multiplier: one option contract controls 100
// shares, so premiums scale by 100 in dollar terms.
const Multiplier = 100.0

// Side is the direction of a leg.
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// Sign returns +1 for long legs and -1 for short legs.
func (s Side) Sign() float64 {
	if s == Short {
		return -1
	}
	return 1
}

// Leg is one option contract within a position.
type Leg struct {
	Contract   data.ContractSpec
	Side       Side
	Qty        int     // positive contract count
	EntryPrice float64 // per-share premium at entry
}

// Metadata carries the fixed per-position context set at entry. Fields are
// enumerated deliberately; there is no open-ended key-value bag.
type Metadata struct {
	Regime            string  // volatility regime label at entry
	ProfitTarget      float64 // dollar P&L at which to take profit
	MaxLoss           float64 // dollar loss at which to stop out
	TargetHoldMinutes int     // intended holding duration
	MaxHoldMinutes    int     // hard holding cap
}

// Position is an open multi-leg option position.
//
// EntryCost is the signed net premium paid at entry: positive for net debits,
// negative for net credits. CurrentValue uses the same sign convention, so
// UnrealizedPnL = CurrentValue - EntryCost holds for both debit and credit
// structures.
type Position struct {
	ID         int
	Underlying string
	Legs       []Leg
	EntryTime  time.Time

	EntryCost     float64
	CurrentValue  float64
	UnrealizedPnL float64

	// High/Low water marks of CurrentValue over the position's life,
	// feeding per-position drawdown analysis.
	HighValue float64
	LowValue  float64

	// Estimated is set when any mark used the degraded pricing fallback
	// instead of a real quote. It propagates to the closing trade record.
	Estimated bool

	Meta Metadata
}

// New assembles a position from resolved legs, computing the signed entry
// cost. It returns an error on an empty leg set or non-positive quantity —
// both indicate a broken adapter, not a market condition.
func New(id int, underlying string, legs []Leg, entryTime time.Time, meta Metadata) (*Position, error) {
	if len(legs) == 0 {
		return nil, fmt.Errorf("position %d: no legs", id)
	}
	cost := 0.0
	for i, leg := range legs {
		if leg.Qty <= 0 {
			return nil, fmt.Errorf("position %d leg %d: non-positive quantity %d", id, i, leg.Qty)
		}
		cost += leg.Side.Sign() * leg.EntryPrice * float64(leg.Qty) * Multiplier
	}

	p := &Position{
		ID:         id,
		Underlying: underlying,
		Legs:       legs,
		EntryTime:  entryTime,
		EntryCost:  cost,
		Meta:       meta,
	}
	p.CurrentValue = cost
	p.HighValue = cost
	p.LowValue = cost
	return p, nil
}

// NetDebit reports whether opening the position cost cash.
func (p *Position) NetDebit() bool { return p.EntryCost > 0 }

// MarkToMarket revalues the position from the given quote universe.
//
// Per leg:
//   - expired legs settle at intrinsic value against the spot price
//   - a matching quote (type+strike, expiration ±1 day) is priced at its
//     last trade when positive, else the bid/ask midpoint
//   - a missing quote is estimated through the degraded pricing fallback
//     using spot, remaining time and the supplied volatility; the position
//     is flagged Estimated and the substitution logged
//
// The mark never aborts: partial information still yields a best-effort
// valuation. Returns the updated CurrentValue.
func (p *Position) MarkToMarket(quotes []data.OptionQuote, spot float64, asOf time.Time, vol float64) float64 {
	total := 0.0
	for _, leg := range p.Legs {
		perShare := p.legPrice(leg, quotes, spot, asOf, vol)
		total += leg.Side.Sign() * perShare * float64(leg.Qty) * Multiplier
	}

	p.CurrentValue = total
	p.UnrealizedPnL = total - p.EntryCost
	if total > p.HighValue {
		p.HighValue = total
	}
	if total < p.LowValue {
		p.LowValue = total
	}
	return total
}

func (p *Position) legPrice(leg Leg, quotes []data.OptionQuote, spot float64, asOf time.Time, vol float64) float64 {
	isCall := leg.Contract.Type.IsCall()

	// At or past expiration the contract settles at intrinsic.
	if !asOf.Before(leg.Contract.Expiration) {
		return pricing.Intrinsic(isCall, spot, leg.Contract.Strike)
	}

	if q, ok := data.FindQuote(quotes, leg.Contract); ok {
		if mid := q.Mid(); mid > 0 {
			return mid
		}
	}

	// Quote gap: estimate through the degraded pricing path.
	T := leg.Contract.Expiration.Sub(asOf).Hours() / (24 * 365)
	est := pricing.Approximate(isCall, spot, leg.Contract.Strike, T, vol)
	p.Estimated = true
	logger.Debugf(
		"event=degraded_mark position=%d %s K=%.2f exp=%s est=%.2f",
		p.ID,
		leg.Contract.Type,
		leg.Contract.Strike,
		leg.Contract.Expiration.Format("2006-01-02"),
		est,
	)
	return est
}

// HoldingMinutes returns whole minutes elapsed between entry and asOf.
func (p *Position) HoldingMinutes(asOf time.Time) int {
	if asOf.Before(p.EntryTime) {
		return 0
	}
	return int(asOf.Sub(p.EntryTime).Minutes())
}

// Contracts lists the contract specs of all legs, in leg order.
func (p *Position) Contracts() []data.ContractSpec {
	out := make([]data.ContractSpec, len(p.Legs))
	for i, leg := range p.Legs {
		out[i] = leg.Contract
	}
	return out
}
