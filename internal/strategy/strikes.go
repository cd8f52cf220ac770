// Package strategy contains the concrete backtest adapters and the logic for
// resolving strike rules into listed strikes.
//
// Responsibilities:
//   - Resolve expiration dates against the listed expiry calendar
//   - Resolve strikes using rules such as ATM, DELTA, or leg expressions
//   - Convert accepted signals into fully-specified positions
//   - Run the exit state machine with strategy-configured thresholds
package strategy

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Knetic/govaluate"

	"github.com/quantfold/optionbt/internal/data"
	"github.com/quantfold/optionbt/internal/logger"
	"github.com/quantfold/optionbt/internal/pricing"
)

// Typed errors allow callers and tests to detect failure categories
// without string matching.
var (
	ErrInvalidStrikeExpression = errors.New("invalid strike expression")
	ErrLegIndexOutOfRange      = errors.New("leg index out of range")
)

// ResolvedLeg carries the already-resolved values a later leg's strike
// expression may reference.
type ResolvedLeg struct {
	Strike  float64
	Premium float64
}

// ResolveStrike converts a strike expression into a concrete strike price.
//
// Supported formats:
//   - ATM
//   - ATM:+10, ATM:-5%
//   - DELTA:0.3
//   - {LEG1.STRIKE}+{LEG1.PREMIUM}
//
// Parameters:
//   - strikeExpr: strike expression
//   - underlying: underlying symbol
//   - spot: spot price at evaluation time
//   - at: evaluation timestamp
//   - expiry: option expiration date
//   - legs: previously resolved legs, for expression references
//   - prov: market data provider (strike grid, ATM prices for DELTA rules)
func ResolveStrike(
	strikeExpr string,
	underlying string,
	spot float64,
	at time.Time,
	expiry time.Time,
	legs []ResolvedLeg,
	prov data.Provider,
) (float64, error) {

	strikeExpr = strings.TrimSpace(strings.ToUpper(strikeExpr))
	logger.Debugf("event=resolve_strike expr=%s", strikeExpr)

	if strikeExpr == "ATM" {
		return prov.RoundToNearestStrike(underlying, spot), nil
	}

	if strings.HasPrefix(strikeExpr, "ATM:") {
		target, err := resolveATMOffset(strikeExpr[len("ATM:"):], spot)
		if err != nil {
			return 0, err
		}
		return prov.RoundToNearestStrike(underlying, target), nil
	}

	if strings.HasPrefix(strikeExpr, "DELTA:") {
		deltaStr := strings.TrimPrefix(strikeExpr, "DELTA:")
		targetDelta, err := strconv.ParseFloat(deltaStr, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid DELTA value: %w", err)
		}
		target, err := resolveDeltaStrike(underlying, expiry, at, spot, targetDelta, prov)
		if err != nil {
			logger.Errorf("event=delta_strike_failed expr=%s err=%v", deltaStr, err)
			return 0, err
		}
		return prov.RoundToNearestStrike(underlying, target), nil
	}

	// Expression referencing previously resolved legs.
	if strings.Contains(strikeExpr, "{LEG") {
		target, err := evaluateLegExpression(strikeExpr, legs)
		if err != nil {
			return 0, err
		}
		return prov.RoundToNearestStrike(underlying, target), nil
	}

	return 0, fmt.Errorf("%w: %s", ErrInvalidStrikeExpression, strikeExpr)
}

// resolveDeltaStrike computes the strike whose option has the target delta,
// bootstrapping implied volatility from ATM call/put prices.
func resolveDeltaStrike(
	underlying string,
	expiry time.Time,
	at time.Time,
	spot float64,
	targetDelta float64,
	prov data.Provider,
) (float64, error) {

	strike, callPrice, putPrice, err := prov.GetATMOptionPrices(underlying, expiry, at, spot)
	if err != nil {
		return 0, err
	}

	T := expiry.Sub(at).Hours() / 24 / 365.25
	iv, err := pricing.ImpliedVolATM(spot, strike, T, 0.02, callPrice, putPrice)
	if err != nil {
		return 0, err
	}

	logger.Tracef("event=iv_estimated iv=%.4f dte=%.3f", iv, T)

	return pricing.StrikeFromDelta(spot, targetDelta, 0.02, 0.0, iv, T, targetDelta > 0), nil
}

// resolveATMOffset applies an absolute or percentage offset to the spot.
func resolveATMOffset(offset string, spot float64) (float64, error) {
	if strings.HasSuffix(offset, "%") {
		pct, err := strconv.ParseFloat(strings.TrimSuffix(offset, "%"), 64)
		if err != nil {
			return 0, err
		}
		return math.Round((spot+spot*pct/100)*100) / 100, nil
	}

	abs, err := strconv.ParseFloat(offset, 64)
	if err != nil {
		return 0, err
	}
	return math.Round((spot+abs)*100) / 100, nil
}

// evaluateLegExpression evaluates expressions referencing prior legs, e.g.
// "{LEG1.STRIKE}+{LEG1.PREMIUM}".
func evaluateLegExpression(expr string, legs []ResolvedLeg) (float64, error) {
	re := regexp.MustCompile(`\{LEG(\d)\.(STRIKE|PREMIUM)\}`)
	matches := re.FindAllStringSubmatch(expr, -1)
	if matches == nil {
		return 0, ErrInvalidStrikeExpression
	}

	evalStr := expr

	for _, match := range matches {
		idx, _ := strconv.Atoi(match[1])
		idx-- // LEG1 is index 0

		if idx < 0 || idx >= len(legs) {
			return 0, ErrLegIndexOutOfRange
		}

		var value float64
		if match[2] == "STRIKE" {
			value = legs[idx].Strike
		} else {
			value = legs[idx].Premium
		}

		evalStr = strings.Replace(evalStr, match[0], fmt.Sprintf("%f", value), 1)
	}

	evalExpr, err := govaluate.NewEvaluableExpression(evalStr)
	if err != nil {
		return 0, err
	}

	result, err := evalExpr.Evaluate(nil)
	if err != nil {
		return 0, err
	}

	f, ok := result.(float64)
	if !ok {
		return 0, ErrInvalidStrikeExpression
	}

	return f, nil
}
