package data

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/quantfold/optionbt/internal/logger"
)

// localCSVProvider serves bars and option quotes from flat CSV files in a
// directory. Missing files or columns delegate to the secondary provider.
//
// Expected files:
//
//	<UNDERLYING>.csv           date,open,high,low,close,volume
//	<UNDERLYING>_options.csv   date,type,strike,expiration,bid,ask,last,volume,open_interest,iv
type localCSVProvider struct {
	dir       string
	secondary Provider

	mu        sync.Mutex
	barCache  map[string][]Bar
	quoteRows map[string][]OptionQuote // keyed by "<underlying>|<date>"
}

// NewLocalCSVProvider constructs a CSV-backed provider rooted at dir with an
// optional secondary fallback.
func NewLocalCSVProvider(dir string, secondary Provider) Provider {
	return &localCSVProvider{
		dir:       dir,
		secondary: secondary,
		barCache:  make(map[string][]Bar),
		quoteRows: make(map[string][]OptionQuote),
	}
}

func (csvProv *localCSVProvider) Secondary() Provider {
	return csvProv.secondary
}

func (csvProv *localCSVProvider) GetBars(underlying string, from, to time.Time) ([]Bar, error) {
	all, err := csvProv.loadBars(underlying)
	if err != nil {
		if csvProv.secondary != nil {
			logger.Debugf("local bars miss for %s, falling back: %v", underlying, err)
			return csvProv.secondary.GetBars(underlying, from, to)
		}
		return nil, err
	}
	var out []Bar
	for _, b := range all {
		if !b.Date.Before(from) && !b.Date.After(to) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (csvProv *localCSVProvider) QuotesAt(underlying string, at time.Time, spot float64, specs []ContractSpec) ([]OptionQuote, error) {
	if err := csvProv.loadQuotes(underlying); err != nil {
		if csvProv.secondary != nil {
			return csvProv.secondary.QuotesAt(underlying, at, spot, specs)
		}
		return nil, err
	}
	key := underlying + "|" + at.Format("2006-01-02")
	csvProv.mu.Lock()
	universe := csvProv.quoteRows[key]
	csvProv.mu.Unlock()

	var out []OptionQuote
	for _, spec := range specs {
		if q, ok := FindQuote(universe, spec); ok {
			out = append(out, q)
		}
	}
	return out, nil
}

func (csvProv *localCSVProvider) GetRelevantExpiries(underlying string, from, to time.Time) ([]time.Time, error) {
	if err := csvProv.loadQuotes(underlying); err != nil {
		if csvProv.secondary != nil {
			return csvProv.secondary.GetRelevantExpiries(underlying, from, to)
		}
		return nil, err
	}
	seen := map[string]time.Time{}
	csvProv.mu.Lock()
	for _, rows := range csvProv.quoteRows {
		for _, q := range rows {
			if q.Expiration.Before(from) || q.Expiration.After(to.AddDate(0, 0, 90)) {
				continue
			}
			seen[q.Expiration.Format("2006-01-02")] = q.Expiration
		}
	}
	csvProv.mu.Unlock()
	var out []time.Time
	for _, t := range seen {
		out = append(out, t)
	}
	return out, nil
}

func (csvProv *localCSVProvider) RoundToNearestStrike(underlying string, price float64) float64 {
	if csvProv.secondary != nil {
		return csvProv.secondary.RoundToNearestStrike(underlying, price)
	}
	return price
}

func (csvProv *localCSVProvider) GetATMOptionPrices(underlying string, expiry, at time.Time, spot float64) (strike, callPrice, putPrice float64, err error) {
	strike = csvProv.RoundToNearestStrike(underlying, spot)
	quotes, err := csvProv.QuotesAt(underlying, at, spot, []ContractSpec{
		{Type: Call, Strike: strike, Expiration: expiry},
		{Type: Put, Strike: strike, Expiration: expiry},
	})
	if err != nil {
		return 0, 0, 0, err
	}
	for _, q := range quotes {
		if q.Type.IsCall() {
			callPrice = q.Mid()
		} else {
			putPrice = q.Mid()
		}
	}
	if callPrice <= 0 || putPrice <= 0 {
		if csvProv.secondary != nil {
			return csvProv.secondary.GetATMOptionPrices(underlying, expiry, at, spot)
		}
		return 0, 0, 0, fmt.Errorf("no ATM quotes for %s on %s", underlying, at.Format("2006-01-02"))
	}
	return strike, callPrice, putPrice, nil
}

func (csvProv *localCSVProvider) loadBars(underlying string) ([]Bar, error) {
	csvProv.mu.Lock()
	defer csvProv.mu.Unlock()
	if bars, ok := csvProv.barCache[underlying]; ok {
		return bars, nil
	}

	path := filepath.Join(csvProv.dir, strings.ToUpper(underlying)+".csv")
	rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}

	var bars []Bar
	for i, row := range rows {
		if i == 0 && strings.EqualFold(row[0], "date") {
			continue // header
		}
		if len(row) < 6 {
			return nil, fmt.Errorf("%s: row %d: expected 6 columns, got %d", path, i, len(row))
		}
		d, err := time.Parse("2006-01-02", row[0])
		if err != nil {
			return nil, fmt.Errorf("%s: row %d: bad date: %w", path, i, err)
		}
		vals, err := parseFloats(row[1:6])
		if err != nil {
			return nil, fmt.Errorf("%s: row %d: %w", path, i, err)
		}
		bars = append(bars, Bar{Date: d, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Vol: vals[4]})
	}
	csvProv.barCache[underlying] = bars
	return bars, nil
}

func (csvProv *localCSVProvider) loadQuotes(underlying string) error {
	csvProv.mu.Lock()
	defer csvProv.mu.Unlock()

	marker := underlying + "|loaded"
	if _, ok := csvProv.quoteRows[marker]; ok {
		return nil
	}

	path := filepath.Join(csvProv.dir, strings.ToUpper(underlying)+"_options.csv")
	rows, err := readCSV(path)
	if err != nil {
		return err
	}

	for i, row := range rows {
		if i == 0 && strings.EqualFold(row[0], "date") {
			continue
		}
		if len(row) < 10 {
			return fmt.Errorf("%s: row %d: expected 10 columns, got %d", path, i, len(row))
		}
		d, err := time.Parse("2006-01-02", row[0])
		if err != nil {
			return fmt.Errorf("%s: row %d: bad date: %w", path, i, err)
		}
		exp, err := time.Parse("2006-01-02", row[3])
		if err != nil {
			return fmt.Errorf("%s: row %d: bad expiration: %w", path, i, err)
		}
		strike, err := strconv.ParseFloat(row[2], 64)
		if err != nil {
			return fmt.Errorf("%s: row %d: bad strike: %w", path, i, err)
		}
		nums, err := parseFloats(row[4:7])
		if err != nil {
			return fmt.Errorf("%s: row %d: %w", path, i, err)
		}
		vol, _ := strconv.ParseInt(row[7], 10, 64)
		oi, _ := strconv.ParseInt(row[8], 10, 64)
		iv, _ := strconv.ParseFloat(row[9], 64)

		q := OptionQuote{
			Type:         OptionType(strings.ToLower(row[1])),
			Strike:       strike,
			Expiration:   exp,
			Bid:          nums[0],
			Ask:          nums[1],
			Last:         nums[2],
			Volume:       vol,
			OpenInterest: oi,
			ImpliedVol:   iv,
		}
		key := underlying + "|" + d.Format("2006-01-02")
		csvProv.quoteRows[key] = append(csvProv.quoteRows[key], q)
	}
	csvProv.quoteRows[marker] = nil
	return nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	return r.ReadAll()
}

func parseFloats(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, s := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q: %w", s, err)
		}
		out[i] = v
	}
	return out, nil
}
