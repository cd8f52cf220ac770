package data_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/optionbt/internal/data"
)

func d(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestQuoteMid(t *testing.T) {
	assert.Equal(t, 5.0, data.OptionQuote{Bid: 4, Ask: 6, Last: 5}.Mid())
	// No trade yet: midpoint.
	assert.Equal(t, 5.0, data.OptionQuote{Bid: 4, Ask: 6}.Mid())
}

func TestQuoteMatchesExpiryTolerance(t *testing.T) {
	spec := data.ContractSpec{Type: data.Call, Strike: 100, Expiration: d("2023-06-16")}

	q := data.OptionQuote{Type: data.Call, Strike: 100, Expiration: d("2023-06-17")}
	assert.True(t, q.Matches(spec), "one day off is within tolerance")

	q.Expiration = d("2023-06-19")
	assert.False(t, q.Matches(spec))

	q.Expiration = d("2023-06-16")
	q.Type = data.Put
	assert.False(t, q.Matches(spec))

	q.Type = data.Call
	q.Strike = 105
	assert.False(t, q.Matches(spec))
}

func TestFindQuote(t *testing.T) {
	quotes := []data.OptionQuote{
		{Type: data.Put, Strike: 95, Expiration: d("2023-06-16")},
		{Type: data.Call, Strike: 100, Expiration: d("2023-06-16")},
	}
	q, ok := data.FindQuote(quotes, data.ContractSpec{Type: data.Call, Strike: 100, Expiration: d("2023-06-16")})
	require.True(t, ok)
	assert.Equal(t, 100.0, q.Strike)

	_, ok = data.FindQuote(quotes, data.ContractSpec{Type: data.Call, Strike: 110, Expiration: d("2023-06-16")})
	assert.False(t, ok)
}

func TestValidateBars(t *testing.T) {
	good := []data.Bar{
		{Date: d("2023-01-02"), Open: 100, High: 101, Low: 99, Close: 100.5},
		{Date: d("2023-01-03"), Open: 100.5, High: 102, Low: 100, Close: 101},
	}
	assert.NoError(t, data.ValidateBars(good))

	dup := []data.Bar{good[0], good[0]}
	assert.Error(t, data.ValidateBars(dup))

	backwards := []data.Bar{good[1], good[0]}
	assert.Error(t, data.ValidateBars(backwards))

	negative := []data.Bar{{Date: d("2023-01-02"), Open: 100, High: 101, Low: -1, Close: 100}}
	assert.Error(t, data.ValidateBars(negative))
}

func TestMatchBarDate(t *testing.T) {
	dates := []time.Time{d("2023-06-02"), d("2023-06-09"), d("2023-06-16")}

	assert.Equal(t, d("2023-06-09"), data.MatchBarDate(d("2023-06-09"), dates, data.MatchExact))
	assert.True(t, data.MatchBarDate(d("2023-06-08"), dates, data.MatchExact).IsZero())

	assert.Equal(t, d("2023-06-09"), data.MatchBarDate(d("2023-06-08"), dates, data.MatchHigher))
	assert.Equal(t, d("2023-06-02"), data.MatchBarDate(d("2023-06-08"), dates, data.MatchLower))

	// Nearest: 2023-06-08 is one day from 06-09, six from 06-02.
	assert.Equal(t, d("2023-06-09"), data.MatchBarDate(d("2023-06-08"), dates, data.MatchNearest))
	// Unknown mode falls back to nearest.
	assert.Equal(t, d("2023-06-09"), data.MatchBarDate(d("2023-06-08"), dates, "bogus"))

	// Outside the list on either end.
	assert.Equal(t, d("2023-06-02"), data.MatchBarDate(d("2023-05-01"), dates, data.MatchNearest))
	assert.Equal(t, d("2023-06-16"), data.MatchBarDate(d("2023-07-01"), dates, data.MatchNearest))
	assert.True(t, data.MatchBarDate(d("2023-07-01"), dates, data.MatchHigher).IsZero())
	assert.True(t, data.MatchBarDate(d("2023-05-01"), dates, data.MatchLower).IsZero())
}

func TestClosest(t *testing.T) {
	list := []float64{90, 95, 100, 105, 110}
	assert.Equal(t, 100.0, data.Closest(list, 101))
	assert.Equal(t, 105.0, data.Closest(list, 103))
	assert.Equal(t, 90.0, data.Closest(list, 10))
	assert.Equal(t, 110.0, data.Closest(list, 500))
}

func TestOptionSymbolFromParts(t *testing.T) {
	sym := data.OptionSymbolFromParts("spy", d("2023-01-20"), data.Call, 450)
	assert.Equal(t, "O:SPY230120C00450000", sym)

	sym = data.OptionSymbolFromParts("SPX", d("2024-12-20"), data.Put, 4725.5)
	assert.Equal(t, "O:SPX241220P04725500", sym)
}

func TestSyntheticDeterminism(t *testing.T) {
	from, to := d("2023-01-02"), d("2023-03-31")

	a, err := data.NewSyntheticProvider(7).GetBars("SPY", from, to)
	require.NoError(t, err)
	b, err := data.NewSyntheticProvider(7).GetBars("SPY", from, to)
	require.NoError(t, err)
	assert.Equal(t, a, b, "same seed must replay the same series")

	c, err := data.NewSyntheticProvider(8).GetBars("SPY", from, to)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	assert.NoError(t, data.ValidateBars(a))
	for _, bar := range a {
		wd := bar.Date.Weekday()
		assert.NotEqual(t, time.Saturday, wd)
		assert.NotEqual(t, time.Sunday, wd)
	}
}

func TestSyntheticQuotes(t *testing.T) {
	prov := data.NewSyntheticProvider(7)
	at := d("2023-02-01")
	specs := []data.ContractSpec{
		{Type: data.Call, Strike: 100, Expiration: d("2023-03-17")},
		{Type: data.Put, Strike: 100, Expiration: d("2023-03-17")},
		{Type: data.Call, Strike: 100, Expiration: d("2023-01-20")}, // already expired
	}

	quotes, err := prov.QuotesAt("SPY", at, 102, specs)
	require.NoError(t, err)
	require.Len(t, quotes, 2, "expired contract is dropped")

	for _, q := range quotes {
		assert.Greater(t, q.Last, 0.0)
		assert.Less(t, q.Bid, q.Ask)
		assert.Greater(t, q.ImpliedVol, 0.0)
	}
}

func TestSyntheticExpiriesAreFridays(t *testing.T) {
	prov := data.NewSyntheticProvider(7)
	expiries, err := prov.GetRelevantExpiries("SPY", d("2023-01-02"), d("2023-02-01"))
	require.NoError(t, err)
	require.NotEmpty(t, expiries)
	for _, e := range expiries {
		assert.Equal(t, time.Friday, e.Weekday())
	}
	// 60-day tail past the window end.
	assert.True(t, expiries[len(expiries)-1].After(d("2023-02-01")))
}

func TestRoundToNearestStrike(t *testing.T) {
	prov := data.NewSyntheticProvider(7)
	assert.Equal(t, 100.0, prov.RoundToNearestStrike("SPY", 102.3))
	assert.Equal(t, 105.0, prov.RoundToNearestStrike("SPY", 103.2))
	// Coarser grid above 1000.
	assert.Equal(t, 4730.0, prov.RoundToNearestStrike("SPX", 4726))
}
