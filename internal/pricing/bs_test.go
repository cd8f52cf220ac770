package pricing_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/optionbt/internal/pricing"
)

func TestPriceATMCallBasic(t *testing.T) {
	call := pricing.Price(true, 100, 100, 30.0/365, 0.05, 0.20)
	assert.Greater(t, call, pricing.MinPrice)
	assert.Less(t, call, 100.0)
}

// Put-call parity: call - put = S - K·e^(-rT), both legs priced well above
// the floor so the clamp does not interfere.
func TestPutCallParity(t *testing.T) {
	S, K, T, r, iv := 100.0, 100.0, 45.0/365, 0.03, 0.25

	call := pricing.Price(true, S, K, T, r, iv)
	put := pricing.Price(false, S, K, T, r, iv)

	lhs := call - put
	rhs := S - K*math.Exp(-r*T)
	assert.InDelta(t, rhs, lhs, 1e-6)
}

func TestPriceFloor(t *testing.T) {
	// Deep OTM, almost no time: analytic value is far below one cent.
	p := pricing.Price(true, 100, 500, 1.0/365, 0.02, 0.10)
	assert.Equal(t, pricing.MinPrice, p)
}

func TestPriceZeroExpiryIsIntrinsic(t *testing.T) {
	assert.InDelta(t, 10.0, pricing.Price(true, 110, 100, 0, 0.02, 0.20), 1e-12)
	assert.InDelta(t, 10.0, pricing.Price(false, 90, 100, 0, 0.02, 0.20), 1e-12)
	// OTM at expiry still floors at a cent.
	assert.Equal(t, pricing.MinPrice, pricing.Price(true, 90, 100, 0, 0.02, 0.20))
}

func TestPriceDegenerateInputsDoNotPanic(t *testing.T) {
	for _, tc := range []struct{ T, sigma float64 }{
		{math.NaN(), 0.2},
		{math.Inf(1), 0.2},
		{-1, 0.2},
		{0.1, math.NaN()},
		{0.1, -0.5},
		{0.1, 0},
	} {
		p := pricing.Price(true, 100, 100, tc.T, 0.02, tc.sigma)
		assert.False(t, math.IsNaN(p) || math.IsInf(p, 0))
		assert.GreaterOrEqual(t, p, pricing.MinPrice)
	}
}

func TestDeltaBoundsAndMonotonicity(t *testing.T) {
	T, r, iv := 30.0/365, 0.02, 0.20

	prev := -1.0
	for S := 60.0; S <= 140.0; S += 5 {
		g := pricing.Greeks(true, S, 100, T, r, iv)
		assert.GreaterOrEqual(t, g.Delta, -1.0)
		assert.LessOrEqual(t, g.Delta, 1.0)
		assert.Greater(t, g.Delta, prev, "call delta must increase with spot")
		prev = g.Delta
	}

	put := pricing.Greeks(false, 100, 100, T, r, iv)
	assert.Less(t, put.Delta, 0.0)
	assert.Greater(t, put.Delta, -1.0)
}

func TestGammaVegaNonNegative(t *testing.T) {
	for _, S := range []float64{70, 100, 130} {
		g := pricing.Greeks(true, S, 100, 0.25, 0.02, 0.20)
		assert.GreaterOrEqual(t, g.Gamma, 0.0)
		assert.GreaterOrEqual(t, g.Vega, 0.0)
	}
}

func TestGreeksZeroExpiry(t *testing.T) {
	itm := pricing.Greeks(true, 110, 100, 0, 0.02, 0.20)
	assert.Equal(t, 1.0, itm.Delta)
	assert.Zero(t, itm.Gamma)

	otm := pricing.Greeks(true, 90, 100, 0, 0.02, 0.20)
	assert.Zero(t, otm.Delta)

	put := pricing.Greeks(false, 90, 100, 0, 0.02, 0.20)
	assert.Equal(t, -1.0, put.Delta)
}

func TestLongOptionThetaNegative(t *testing.T) {
	g := pricing.Greeks(true, 100, 100, 0.25, 0.02, 0.20)
	assert.Less(t, g.Theta, 0.0)
}

func TestApproximateAtLeastIntrinsic(t *testing.T) {
	for _, tc := range []struct {
		isCall  bool
		S, K, T float64
	}{
		{true, 110, 100, 0.1},
		{false, 90, 100, 0.1},
		{true, 100, 100, 0.5},
		{true, 100, 300, 0.5},
	} {
		got := pricing.Approximate(tc.isCall, tc.S, tc.K, tc.T, 0.20)
		assert.GreaterOrEqual(t, got, pricing.Intrinsic(tc.isCall, tc.S, tc.K))
		assert.GreaterOrEqual(t, got, pricing.MinPrice)
	}
}

func TestApproximateDeterministic(t *testing.T) {
	a := pricing.Approximate(true, 100, 105, 0.1, 0.25)
	b := pricing.Approximate(true, 100, 105, 0.1, 0.25)
	assert.Equal(t, a, b)
}

func TestImpliedVolATMRecoversInput(t *testing.T) {
	S, K, T := 100.0, 100.0, 30.0/365
	trueVol := 0.25

	// Zero rate keeps call == put so the average is the exact call price.
	call := pricing.Price(true, S, K, T, 0, trueVol)
	put := pricing.Price(false, S, K, T, 0, trueVol)

	iv, err := pricing.ImpliedVolATM(S, K, T, 0, call, put)
	require.NoError(t, err)
	assert.InDelta(t, trueVol, iv, 1e-3)
}

func TestImpliedVolATMRejectsZeroExpiry(t *testing.T) {
	_, err := pricing.ImpliedVolATM(100, 100, 0, 0.02, 5, 5)
	assert.Error(t, err)
}

func TestStrikeFromDeltaRoundTrip(t *testing.T) {
	S, r, iv, T := 100.0, 0.02, 0.20, 30.0/365

	for _, target := range []float64{0.25, 0.50, 0.75} {
		K := pricing.StrikeFromDelta(S, target, r, 0, iv, T, true)
		got := pricing.Greeks(true, S, K, T, r, iv).Delta
		assert.InDelta(t, target, got, 1e-4, "call delta %v", target)
	}

	K := pricing.StrikeFromDelta(S, -0.30, r, 0, iv, T, false)
	got := pricing.Greeks(false, S, K, T, r, iv).Delta
	assert.InDelta(t, -0.30, got, 1e-4)
}

func TestNormInvRoundTrip(t *testing.T) {
	cdf := func(x float64) float64 { return 0.5 * (1 + math.Erf(x/math.Sqrt2)) }
	for _, p := range []float64{0.001, 0.02425, 0.3, 0.5, 0.7, 0.97575, 0.999} {
		assert.InDelta(t, p, cdf(pricing.NormInv(p)), 1e-6, "p=%v", p)
	}
}

func TestNormInvPanicsOutOfRange(t *testing.T) {
	assert.Panics(t, func() { pricing.NormInv(0) })
	assert.Panics(t, func() { pricing.NormInv(1) })
	assert.Panics(t, func() { pricing.NormInv(-0.5) })
}
