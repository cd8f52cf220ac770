// Package data defines the market-data model consumed by the backtest core
// and the Provider implementations that supply it.
//
// The core treats every provider call as a blocking request-response: a call
// returns either usable data or an explicit error. Retry, pagination and
// rate-limit policy live inside the provider, never in the simulation loop.
package data

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// OptionType distinguishes calls from puts.
type OptionType string

const (
	Call OptionType = "call"
	Put  OptionType = "put"
)

// IsCall reports whether the type is a call. Any unknown value is treated
// as a call, matching the permissive parsing used by strategy configs.
func (t OptionType) IsCall() bool {
	return strings.ToLower(string(t)) != string(Put)
}

// Bar is a single OHLCV bar of the underlying.
type Bar struct {
	Date  time.Time
	Open  float64
	High  float64
	Low   float64
	Close float64
	Vol   float64
}

// ContractSpec identifies one option contract: type, strike and expiration.
// It is what a strategy requests from the quote universe.
type ContractSpec struct {
	Type       OptionType
	Strike     float64
	Expiration time.Time
}

// OptionQuote is an immutable snapshot of one contract at one timestamp.
type OptionQuote struct {
	Type         OptionType
	Strike       float64
	Expiration   time.Time
	Bid          float64
	Ask          float64
	Last         float64
	Volume       int64
	OpenInterest int64
	ImpliedVol   float64
}

// Mid returns the usable per-share price of the quote: Last when positive,
// otherwise the bid/ask midpoint.
func (q OptionQuote) Mid() float64 {
	if q.Last > 0 {
		return q.Last
	}
	return (q.Bid + q.Ask) / 2
}

// Matches reports whether the quote covers the given contract spec.
// Expirations are matched with a ±1 day tolerance because some feeds stamp
// the listing date and some the settlement date.
func (q OptionQuote) Matches(spec ContractSpec) bool {
	if q.Type.IsCall() != spec.Type.IsCall() {
		return false
	}
	if math.Abs(q.Strike-spec.Strike) > 1e-9 {
		return false
	}
	diff := q.Expiration.Sub(spec.Expiration)
	if diff < 0 {
		diff = -diff
	}
	return diff <= 24*time.Hour
}

// FindQuote returns the first quote in the universe matching spec.
func FindQuote(quotes []OptionQuote, spec ContractSpec) (OptionQuote, bool) {
	for _, q := range quotes {
		if q.Matches(spec) {
			return q, true
		}
	}
	return OptionQuote{}, false
}

// ValidateBars rejects a malformed bar stream: timestamps must be strictly
// increasing and every price finite and positive. A failure here is fatal to
// the run, unlike per-bar quote gaps which the loop absorbs.
func ValidateBars(bars []Bar) error {
	for i, b := range bars {
		for _, v := range []float64{b.Open, b.High, b.Low, b.Close} {
			if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
				return fmt.Errorf("bar %d (%s): non-finite or non-positive price", i, b.Date.Format("2006-01-02"))
			}
		}
		if i > 0 && !bars[i-1].Date.Before(b.Date) {
			return fmt.Errorf("bar %d (%s): non-monotonic timestamp", i, b.Date.Format("2006-01-02"))
		}
	}
	return nil
}

// DateMatchType selects how a target date is matched against an available
// date list (expiries, bar dates).
type DateMatchType string

const (
	MatchExact   DateMatchType = "exact"   // must match exactly
	MatchHigher  DateMatchType = "higher"  // next available date after target
	MatchLower   DateMatchType = "lower"   // last available date before target
	MatchNearest DateMatchType = "nearest" // closest available date (default)
)

// MatchBarDate matches d against dates using the given mode. The returned
// time is zero when nothing qualifies; callers skip those.
func MatchBarDate(d time.Time, dates []time.Time, mode DateMatchType) time.Time {
	var (
		exact  time.Time
		lower  time.Time
		higher time.Time
	)

	// default to MatchNearest
	switch mode {
	case MatchExact, MatchHigher, MatchLower, MatchNearest:
		// ok
	default:
		mode = MatchNearest
	}

	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	for _, dt := range dates {
		if dt.Equal(d) {
			exact = dt
		}
		if dt.Before(d) {
			lower = dt // keeps last date <= d
		}
		if dt.After(d) && higher.IsZero() {
			higher = dt
		}
	}

	switch mode {
	case MatchExact:
		return exact

	case MatchLower:
		return lower

	case MatchHigher:
		return higher

	case MatchNearest:
		if !exact.IsZero() {
			return exact
		}
		switch {
		case !lower.IsZero() && !higher.IsZero():
			if d.Sub(lower) <= higher.Sub(d) {
				return lower
			}
			return higher
		case !lower.IsZero():
			return lower
		case !higher.IsZero():
			return higher
		}
	}

	return time.Time{}
}

// Closest finds the closest float64 in a sorted slice to the target value
// using binary search.
func Closest(numList []float64, target float64) float64 {
	n := len(numList)
	if n == 0 {
		panic("empty list")
	}

	i := sort.Search(n, func(i int) bool {
		return numList[i] >= target
	})

	if i == 0 {
		return numList[0]
	}
	if i == n {
		return numList[n-1]
	}

	before := numList[i-1]
	after := numList[i]

	if math.Abs(before-target) < math.Abs(after-target) {
		return before
	}
	return after
}

// OptionSymbolFromParts formats an OCC-style option ticker:
// <root><YYMMDD><C|P><strike*1000 padded to 8 digits>.
func OptionSymbolFromParts(underlying string, expiry time.Time, optType OptionType, strike float64) string {
	expDt := expiry.UTC().Format("060102")
	cp := "C"
	if !optType.IsCall() {
		cp = "P"
	}
	strikeInt := int(math.Round(strike * 1000))
	return fmt.Sprintf("O:%s%s%s%08d", strings.ToUpper(underlying), expDt, cp, strikeInt)
}
