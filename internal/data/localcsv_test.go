package data_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/optionbt/internal/data"
)

const barsCSV = `date,open,high,low,close,volume
2023-01-03,380.0,383.5,379.2,382.1,5000
2023-01-04,382.1,384.0,380.5,383.7,4800
2023-01-05,383.7,385.2,381.0,381.9,5100
`

const quotesCSV = `date,type,strike,expiration,bid,ask,last,volume,open_interest,iv
2023-01-04,call,380,2023-02-17,8.1,8.5,8.3,120,900,0.21
2023-01-04,put,380,2023-02-17,6.2,6.6,6.4,95,700,0.22
2023-01-05,call,380,2023-02-17,7.0,7.4,0,80,910,0.20
`

func writeDataDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "SPY.csv"), []byte(barsCSV), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "SPY_options.csv"), []byte(quotesCSV), 0644))
	return dir
}

func TestLocalCSVBars(t *testing.T) {
	prov := data.NewLocalCSVProvider(writeDataDir(t), nil)

	bars, err := prov.GetBars("SPY", d("2023-01-04"), d("2023-01-05"))
	require.NoError(t, err)
	require.Len(t, bars, 2, "window filter applied")
	assert.Equal(t, 383.7, bars[0].Close)
	assert.NoError(t, data.ValidateBars(bars))
}

func TestLocalCSVQuotes(t *testing.T) {
	prov := data.NewLocalCSVProvider(writeDataDir(t), nil)
	spec := data.ContractSpec{Type: data.Call, Strike: 380, Expiration: d("2023-02-17")}

	quotes, err := prov.QuotesAt("SPY", d("2023-01-04"), 382, []data.ContractSpec{spec})
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, 8.3, quotes[0].Last)
	assert.Equal(t, 0.21, quotes[0].ImpliedVol)

	// Zero last falls back to the midpoint.
	quotes, err = prov.QuotesAt("SPY", d("2023-01-05"), 381, []data.ContractSpec{spec})
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.InDelta(t, 7.2, quotes[0].Mid(), 1e-9)

	// Unknown contract on a known date: absent, not an error.
	missing := data.ContractSpec{Type: data.Call, Strike: 400, Expiration: d("2023-02-17")}
	quotes, err = prov.QuotesAt("SPY", d("2023-01-04"), 382, []data.ContractSpec{missing})
	require.NoError(t, err)
	assert.Empty(t, quotes)
}

func TestLocalCSVExpiries(t *testing.T) {
	prov := data.NewLocalCSVProvider(writeDataDir(t), nil)
	expiries, err := prov.GetRelevantExpiries("SPY", d("2023-01-01"), d("2023-03-01"))
	require.NoError(t, err)
	require.Len(t, expiries, 1)
	assert.Equal(t, d("2023-02-17"), expiries[0])
}

func TestLocalCSVFallsBackToSecondary(t *testing.T) {
	secondary := data.NewSyntheticProvider(7)
	prov := data.NewLocalCSVProvider(t.TempDir(), secondary)

	bars, err := prov.GetBars("QQQ", d("2023-01-02"), d("2023-01-31"))
	require.NoError(t, err)
	assert.NotEmpty(t, bars, "miss delegates to synthetic")
	assert.Equal(t, secondary, prov.Secondary())
}

func TestLocalCSVNoSecondaryErrors(t *testing.T) {
	prov := data.NewLocalCSVProvider(t.TempDir(), nil)
	_, err := prov.GetBars("QQQ", d("2023-01-02"), d("2023-01-31"))
	assert.Error(t, err)
}
