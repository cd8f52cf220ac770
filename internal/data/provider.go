package data

import "time"

// Provider supplies market data to the backtest.
//
// Implementations may chain to a secondary provider: when a call cannot be
// served locally it is delegated down the chain. The chain order is fixed at
// construction; there is no global provider registry.
type Provider interface {
	// Secondary returns the fallback provider, or nil.
	Secondary() Provider

	// GetBars returns daily OHLCV bars for the underlying, ascending by date.
	GetBars(underlying string, from, to time.Time) ([]Bar, error)

	// QuotesAt returns the quote universe for the requested contracts at the
	// given time. Contracts without data are simply absent from the result;
	// the caller decides whether that is recoverable.
	QuotesAt(underlying string, at time.Time, spot float64, specs []ContractSpec) ([]OptionQuote, error)

	// GetRelevantExpiries lists option expirations for the underlying that
	// fall inside or shortly after the given window.
	GetRelevantExpiries(underlying string, from, to time.Time) ([]time.Time, error)

	// RoundToNearestStrike snaps a price to the listed strike grid.
	RoundToNearestStrike(underlying string, price float64) float64

	// GetATMOptionPrices returns the at-the-money strike with its call and
	// put prices, used to bootstrap implied volatility.
	GetATMOptionPrices(underlying string, expiry, at time.Time, spot float64) (strike, callPrice, putPrice float64, err error)
}
