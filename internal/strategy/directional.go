package strategy

import (
	"time"

	"github.com/quantfold/optionbt/internal/backtest"
	"github.com/quantfold/optionbt/internal/data"
	"github.com/quantfold/optionbt/internal/logger"
	"github.com/quantfold/optionbt/internal/position"
)

// Directional is the single-leg adapter: it buys one call (or put) at a
// rule-selected strike when a signal fires.
type Directional struct {
	base
	optType    data.OptionType
	strikeRule string
}

// NewDirectional constructs the single-leg directional adapter.
//
// strikeRule accepts the full strike expression language ("ATM", "ATM:+2%",
// "DELTA:0.3"); an empty rule defaults to ATM. Configuration errors are
// fatal here, before the run starts.
func NewDirectional(params Params, optType data.OptionType, strikeRule string, expiries []time.Time, prov data.Provider) (*Directional, error) {
	b, err := newBase(params, expiries, prov)
	if err != nil {
		return nil, err
	}
	if strikeRule == "" {
		strikeRule = "ATM"
	}
	return &Directional{base: b, optType: optType, strikeRule: strikeRule}, nil
}

func (d *Directional) Name() string { return "directional" }

// RequiredContracts resolves the single contract the strategy would trade at
// this bar. An unresolvable strike or expiry yields an empty set; the entry
// simply cannot happen this bar.
func (d *Directional) RequiredContracts(spot float64, at time.Time) []data.ContractSpec {
	expiry := d.expiryFor(at)
	if expiry.IsZero() {
		return nil
	}
	strike, err := ResolveStrike(d.strikeRule, d.params.Underlying, spot, at, expiry, nil, d.prov)
	if err != nil {
		logger.Debugf("directional: strike rule %q failed: %v", d.strikeRule, err)
		return nil
	}
	return []data.ContractSpec{{Type: d.optType, Strike: strike, Expiration: expiry}}
}

// BuildPosition opens a long single-leg position from the signal. The
// signal's own target contracts take precedence over the adapter's rule when
// supplied. Fails with ErrDataGap when the leg has no usable quote.
func (d *Directional) BuildPosition(id int, sig backtest.Signal, quotes []data.OptionQuote, spot float64, at time.Time) (*position.Position, error) {
	specs := sig.TargetContracts
	if len(specs) == 0 {
		specs = d.RequiredContracts(spot, at)
	}
	if len(specs) == 0 {
		return nil, backtest.ErrDataGap
	}
	specs = specs[:1]

	legs, avgIV, err := d.legsFromSpecs(
		specs,
		[]position.Side{position.Long},
		[]int{d.params.Contracts},
		quotes,
	)
	if err != nil {
		return nil, err
	}

	return position.New(id, d.params.Underlying, legs, at, d.metaFor(sig, RegimeLabel(avgIV)))
}
