package strategy

import (
	"fmt"
	"time"

	"github.com/quantfold/optionbt/internal/backtest"
	"github.com/quantfold/optionbt/internal/data"
	"github.com/quantfold/optionbt/internal/position"
)

// Butterfly is the multi-leg combination adapter: a long call butterfly with
// the body at the money and wings a fixed width away. Net debit, defined
// risk on both sides.
type Butterfly struct {
	base
	width float64
}

// NewButterfly constructs the butterfly adapter. width is the dollar
// distance between the body and each wing and must be positive.
func NewButterfly(params Params, width float64, expiries []time.Time, prov data.Provider) (*Butterfly, error) {
	b, err := newBase(params, expiries, prov)
	if err != nil {
		return nil, err
	}
	if width <= 0 {
		return nil, fmt.Errorf("butterfly: wing width must be positive, got %.2f", width)
	}
	return &Butterfly{base: b, width: width}, nil
}

func (bf *Butterfly) Name() string { return "butterfly" }

// RequiredContracts lists the three call strikes of the structure: lower
// wing, body, upper wing, all on the same expiry.
func (bf *Butterfly) RequiredContracts(spot float64, at time.Time) []data.ContractSpec {
	expiry := bf.expiryFor(at)
	if expiry.IsZero() {
		return nil
	}
	body := bf.prov.RoundToNearestStrike(bf.params.Underlying, spot)
	return []data.ContractSpec{
		{Type: data.Call, Strike: body - bf.width, Expiration: expiry},
		{Type: data.Call, Strike: body, Expiration: expiry},
		{Type: data.Call, Strike: body + bf.width, Expiration: expiry},
	}
}

// BuildPosition assembles the 1/-2/1 call butterfly. All three legs must
// have usable quotes; a single gap fails the whole build with ErrDataGap so
// the structure is never opened partially.
func (bf *Butterfly) BuildPosition(id int, sig backtest.Signal, quotes []data.OptionQuote, spot float64, at time.Time) (*position.Position, error) {
	specs := bf.RequiredContracts(spot, at)
	if len(specs) != 3 {
		return nil, backtest.ErrDataGap
	}

	unit := bf.params.Contracts
	legs, avgIV, err := bf.legsFromSpecs(
		specs,
		[]position.Side{position.Long, position.Short, position.Long},
		[]int{unit, 2 * unit, unit},
		quotes,
	)
	if err != nil {
		return nil, err
	}

	return position.New(id, bf.params.Underlying, legs, at, bf.metaFor(sig, RegimeLabel(avgIV)))
}
