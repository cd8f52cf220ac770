// Package pricing implements analytic European option valuation.
//
// All valuation is closed-form Black-Scholes (risk-neutral, continuous
// compounding, no dividend). Degenerate inputs never panic: non-finite or
// negative time/volatility are clamped to a small positive epsilon so a
// simulation replaying thousands of bars cannot stall on one bad quote.
//
// The package also provides the analytic sensitivities (Greeks), an ATM
// implied-volatility solver, and a degraded approximation path used when the
// analytic result is unusable (see Approximate).
package pricing

import (
	"fmt"
	"math"

	"github.com/quantfold/optionbt/internal/logger"
)

const (
	sqrt2Pi = 2.5066282746310002

	// MinPrice is the valuation floor. No option is ever worth less than one
	// cent in this model, which keeps downstream premium ratios well defined.
	MinPrice = 0.01

	// epsilon replaces negative or non-finite time/volatility inputs.
	epsilon = 1e-8
)

// Sensitivities holds the analytic partial derivatives of the option price.
//
// Invariants (violations indicate a defect, not a market state):
//   - Delta is in [-1, 1]
//   - Gamma and Vega are non-negative
type Sensitivities struct {
	Delta float64 // ∂V/∂S, per $1 of underlying
	Gamma float64 // ∂²V/∂S², per $1 of underlying
	Theta float64 // ∂V/∂T, per year (negative for long options)
	Vega  float64 // ∂V/∂σ, per 1.0 of volatility
	Rho   float64 // ∂V/∂r, per 1.0 of rate
}

// sanitize clamps degenerate time/volatility inputs.
//
// A strictly zero time-to-expiry is preserved (the caller collapses to
// intrinsic value); anything negative or non-finite becomes epsilon.
func sanitize(T, sigma float64) (float64, float64) {
	if math.IsNaN(T) || math.IsInf(T, 0) || T < 0 {
		T = epsilon
	}
	if math.IsNaN(sigma) || math.IsInf(sigma, 0) || sigma <= 0 {
		sigma = epsilon
	}
	return T, sigma
}

// Intrinsic returns the immediate-exercise payoff.
func Intrinsic(isCall bool, S, K float64) float64 {
	if isCall {
		return math.Max(0, S-K)
	}
	return math.Max(0, K-S)
}

// Price calculates the value of a European option using the Black-Scholes model.
//
// Parameters:
//   - isCall: true for call option, false for put option
//   - S: spot price of the underlying asset
//   - K: strike price of the option
//   - T: time to expiry in years
//   - r: risk-free interest rate (annual)
//   - sigma: volatility of the underlying asset (annual, as a decimal)
//
// Returns:
//
//	The theoretical price, floored at MinPrice. A zero time to expiry
//	collapses to intrinsic value (also floored). Negative or non-finite
//	time/volatility inputs are clamped rather than rejected.
func Price(isCall bool, S, K, T, r, sigma float64) float64 {
	T, sigma = sanitize(T, sigma)
	if T == 0 {
		return math.Max(MinPrice, Intrinsic(isCall, S, K))
	}

	d1 := (math.Log(S/K) + (r+0.5*sigma*sigma)*T) / (sigma * math.Sqrt(T))
	d2 := d1 - sigma*math.Sqrt(T)

	var v float64
	if isCall {
		v = S*normCDF(d1) - K*math.Exp(-r*T)*normCDF(d2)
	} else {
		v = K*math.Exp(-r*T)*normCDF(-d2) - S*normCDF(-d1)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		// Analytic path blew up (e.g. extreme log-moneyness).
		est := Approximate(isCall, S, K, T, sigma)
		logger.Debugf("event=degraded_price S=%.2f K=%.2f T=%.4f sigma=%.4f est=%.2f", S, K, T, sigma, est)
		return est
	}
	return math.Max(MinPrice, v)
}

// Greeks calculates the analytic sensitivities of a European option.
//
// Parameters mirror Price. At zero time to expiry the Greeks degenerate:
// delta snaps to 0/±1 by moneyness and the second-order Greeks are zero.
func Greeks(isCall bool, S, K, T, r, sigma float64) Sensitivities {
	T, sigma = sanitize(T, sigma)
	if T == 0 {
		var delta float64
		if isCall && S > K {
			delta = 1
		} else if !isCall && S < K {
			delta = -1
		}
		return Sensitivities{Delta: delta}
	}

	sqrtT := math.Sqrt(T)
	d1 := (math.Log(S/K) + (r+0.5*sigma*sigma)*T) / (sigma * sqrtT)
	d2 := d1 - sigma*sqrtT
	disc := math.Exp(-r * T)

	g := Sensitivities{
		Gamma: normPDF(d1) / (S * sigma * sqrtT),
		Vega:  S * normPDF(d1) * sqrtT,
	}
	if isCall {
		g.Delta = normCDF(d1)
		g.Theta = -S*normPDF(d1)*sigma/(2*sqrtT) - r*K*disc*normCDF(d2)
		g.Rho = K * T * disc * normCDF(d2)
	} else {
		g.Delta = normCDF(d1) - 1
		g.Theta = -S*normPDF(d1)*sigma/(2*sqrtT) + r*K*disc*normCDF(-d2)
		g.Rho = -K * T * disc * normCDF(-d2)
	}

	// Bound delta against rounding at extreme moneyness.
	g.Delta = math.Max(-1, math.Min(1, g.Delta))
	return g
}

// Approximate returns a degraded valuation used when the analytic path is
// unavailable: intrinsic value plus a crude time-value term that scales with
// S·σ·√T, damped by a moneyness factor that decays away from the strike.
//
// The result is deterministic and floored at MinPrice. Callers must treat it
// as lower quality than Price and log the substitution.
func Approximate(isCall bool, S, K, T, sigma float64) float64 {
	T, sigma = sanitize(T, sigma)

	intr := Intrinsic(isCall, S, K)
	if S <= 0 {
		return math.Max(MinPrice, intr)
	}

	// 1.0 at the money, decaying toward 0.05 for deep ITM/OTM strikes.
	moneyness := math.Max(0.05, 1.0-math.Min(1.0, math.Abs(S-K)/S))

	// 0.4 ≈ φ(0), the ATM density that drives Black-Scholes time value.
	timeValue := 0.4 * S * sigma * math.Sqrt(T) * moneyness

	return math.Max(MinPrice, intr+timeValue)
}

// Vega calculates the sensitivity of the option price to volatility.
// Returns 0 if T or sigma is non-positive.
func Vega(S, K, T, r, sigma float64) float64 {
	if T <= 0 || sigma <= 0 {
		return 0
	}
	d1 := (math.Log(S/K) + (r+0.5*sigma*sigma)*T) / (sigma * math.Sqrt(T))
	return S * normPDF(d1) * math.Sqrt(T)
}

// ImpliedVolATM calculates the implied volatility at-the-money using the
// Newton-Raphson method. It takes the underlying price S, strike price K,
// time to expiry T (in years), risk-free rate r, and both call and put prices
// at the strike. The function iteratively solves for the volatility that makes
// the Black-Scholes price match the market price (average of call and put).
// Returns the implied volatility or an error if convergence fails.
func ImpliedVolATM(S, K, T, r, callPrice, putPrice float64) (float64, error) {
	if T <= 0 {
		return 0, fmt.Errorf("invalid expiry")
	}

	marketPrice := (callPrice + putPrice) / 2

	// Initial guess: 20%
	sigma := 0.20

	const (
		maxIter = 100
		tol     = 1e-6
	)

	for i := 0; i < maxIter; i++ {
		price := Price(true, S, K, T, r, sigma)
		diff := price - marketPrice

		if math.Abs(diff) < tol {
			return sigma, nil
		}

		vega := Vega(S, K, T, r, sigma)
		if vega < 1e-8 {
			break
		}

		sigma -= diff / vega

		// Guardrails
		if sigma <= 0 {
			sigma = 1e-4
		}
		if sigma > 5 {
			sigma = 5
		}
	}

	return 0, fmt.Errorf("implied vol did not converge")
}

// StrikeFromDelta inverts the Black-Scholes delta to find the strike whose
// option carries the target delta.
//
// For calls delta = N(d1), so K = S·exp(-(N⁻¹(delta)·σ√T - (r-q+σ²/2)T)).
// For puts the relation is delta = N(d1) - 1.
//
// Parameters:
//   - S: spot price
//   - targetDelta: desired delta (0..1 for calls, -1..0 for puts)
//   - r: risk-free rate
//   - q: dividend yield (0 for no dividend)
//   - sigma: volatility
//   - T: time to expiry in years
//   - isCall: option type
func StrikeFromDelta(S, targetDelta, r, q, sigma, T float64, isCall bool) float64 {
	T, sigma = sanitize(T, sigma)
	if T == 0 {
		return S
	}

	p := targetDelta
	if !isCall {
		p = 1 + targetDelta // N(d1) implied by the put's delta
	}
	// Clamp away from the NormInv poles.
	p = math.Max(1e-6, math.Min(1-1e-6, p*math.Exp(q*T)))

	d1 := NormInv(p)
	return S * math.Exp(-(d1*sigma*math.Sqrt(T) - (r-q+0.5*sigma*sigma)*T))
}

// normPDF calculates the probability density function of the standard normal
// distribution at x: exp(-0.5 * x^2) / sqrt(2π).
func normPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / sqrt2Pi
}

// normCDF computes the cumulative distribution function of the standard
// normal distribution for a given value x using the error function.
func normCDF(x float64) float64 {
	return 0.5 * (1.0 + math.Erf(x/math.Sqrt2))
}

// NormInv computes the inverse of the standard normal cumulative distribution
// function (quantile function). It returns the value x such that the
// cumulative probability at x equals p.
//
// The implementation is a rational approximation based on Wichura's method,
// accurate across the full range of valid probabilities.
//
// Panics if p is not strictly between 0 and 1.
func NormInv(p float64) float64 {
	if p <= 0 || p >= 1 {
		panic("NormInv: p must be in (0,1)")
	}

	// Coefficients
	a := []float64{
		-3.969683028665376e+01,
		2.209460984245205e+02,
		-2.759285104469687e+02,
		1.383577518672690e+02,
		-3.066479806614716e+01,
		2.506628277459239e+00,
	}

	b := []float64{
		-5.447609879822406e+01,
		1.615858368580409e+02,
		-1.556989798598866e+02,
		6.680131188771972e+01,
		-1.328068155288572e+01,
	}

	c := []float64{
		-7.784894002430293e-03,
		-3.223964580411365e-01,
		-2.400758277161838e+00,
		-2.549732539343734e+00,
		4.374664141464968e+00,
		2.938163982698783e+00,
	}

	d := []float64{
		7.784695709041462e-03,
		3.224671290700398e-01,
		2.445134137142996e+00,
		3.754408661907416e+00,
	}

	plow := 0.02425
	phigh := 1 - plow

	var q, r float64

	if p < plow {
		q = math.Sqrt(-2 * math.Log(p))
		return (((((c[0]*q+c[1])*q+c[2])*q+c[3])*q+c[4])*q + c[5]) /
			((((d[0]*q+d[1])*q+d[2])*q+d[3])*q + 1)
	}

	if p > phigh {
		q = math.Sqrt(-2 * math.Log(1-p))
		return -(((((c[0]*q+c[1])*q+c[2])*q+c[3])*q+c[4])*q + c[5]) /
			((((d[0]*q+d[1])*q+d[2])*q+d[3])*q + 1)
	}

	q = p - 0.5
	r = q * q
	return (((((a[0]*r+a[1])*r+a[2])*r+a[3])*r+a[4])*r + a[5]) * q /
		(((((b[0]*r+b[1])*r+b[2])*r+b[3])*r+b[4])*r + 1)
}
