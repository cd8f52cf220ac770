// Massive-backed Provider implementation.
//
// Talks to the Massive HTTP APIs directly with net/http: the surface we need
// (aggregates, contract reference data) is small enough that the official SDK
// buys nothing. Pagination and per-minute rate limiting are handled here, per
// provider instance; nothing about rate-limit state is process-global.
package data

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/quantfold/optionbt/internal/logger"
)

// massiveProvider implements Provider using Massive APIs.
type massiveProvider struct {
	apiKey  string
	client  *http.Client
	baseURL string

	// maxRateLimitWaits bounds how many 429 backoffs a single request will
	// tolerate before giving up and letting the secondary take over.
	maxRateLimitWaits int

	secondary Provider
}

// massiveContract is one option contract from the contracts reference endpoint.
type massiveContract struct {
	ContractType     string  `json:"contract_type"`
	ExpiryDate       string  `json:"expiration_date"`
	StrikePrice      float64 `json:"strike_price"`
	Ticker           string  `json:"ticker"`
	UnderlyingTicker string  `json:"underlying_ticker"`
}

// massiveContractsResp models the paginated contracts response.
type massiveContractsResp struct {
	Results []massiveContract `json:"results"`
	Status  string            `json:"status"`
	NextURL string            `json:"next_url"`
}

// NewMassiveProvider constructs a Massive-backed data provider with an
// optional secondary fallback.
func NewMassiveProvider(apiKey string, secondary Provider) Provider {
	logger.Infof("initializing Massive data provider")

	return &massiveProvider{
		apiKey: apiKey,
		client: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 30 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
				DisableCompression:    false, // must stay false for gzip auto-decompression
				ForceAttemptHTTP2:     true,
				MaxIdleConns:          100,
				IdleConnTimeout:       90 * time.Second,
			},
		},
		baseURL:           "https://api.massive.com",
		maxRateLimitWaits: 5,
		secondary:         secondary,
	}
}

func (massiveProv *massiveProvider) Secondary() Provider {
	return massiveProv.secondary
}

// GetBars retrieves daily OHLCV bars for the given symbol and date range.
func (massiveProv *massiveProvider) GetBars(underlying string, from, to time.Time) ([]Bar, error) {
	bars, err := massiveProv.getAggs(underlying, from, to, 1, "day")
	if err != nil && massiveProv.secondary != nil {
		logger.Infof("massive bars failed, delegating to secondary: %v", err)
		return massiveProv.secondary.GetBars(underlying, from, to)
	}
	return bars, err
}

func (massiveProv *massiveProvider) getAggs(symbol string, from, to time.Time, timespan int, multiplier string) ([]Bar, error) {
	maxLimit := 50000

	logger.Debugf(
		"fetching bars: %s from=%s to=%s span=%d%s",
		symbol,
		from.Format("2006-01-02"),
		to.Format("2006-01-02"),
		timespan,
		multiplier,
	)

	reqURL := fmt.Sprintf(
		"%s/v2/aggs/ticker/%s/range/%d/%s/%s/%s?adjusted=true&sort=asc&limit=%d&apiKey=%s",
		massiveProv.baseURL,
		symbol,
		timespan,
		multiplier,
		from.Format("2006-01-02"),
		to.Format("2006-01-02"),
		maxLimit,
		massiveProv.apiKey,
	)

	req, err := http.NewRequest("GET", reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("x-api-key", massiveProv.apiKey)

	resp, err := massiveProv.processGetRequest(req)
	if err != nil {
		return nil, fmt.Errorf("massive api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("massive bars status=%d body=%s", resp.StatusCode, string(bodyBytes))
	}

	var body struct {
		Ticker  string `json:"ticker"`
		Results []struct {
			Open      float64 `json:"o"`
			Close     float64 `json:"c"`
			High      float64 `json:"h"`
			Low       float64 `json:"l"`
			Volume    float64 `json:"v"`
			Timestamp int64   `json:"t"` // epoch millis
		} `json:"results"`
		Status string `json:"status"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("parsing massive response: %w", err)
	}

	logger.Tracef("bars received: %d records", len(body.Results))

	out := make([]Bar, 0, len(body.Results))
	for _, r := range body.Results {
		out = append(out, Bar{
			Date:  time.UnixMilli(r.Timestamp).UTC(),
			Open:  r.Open,
			High:  r.High,
			Low:   r.Low,
			Close: r.Close,
			Vol:   r.Volume,
		})
	}
	return out, nil
}

// QuotesAt resolves each requested contract to its OCC symbol and reads that
// day's aggregate close as the last traded price. Contracts with no bar are
// absent from the result; the caller falls back to estimated valuation.
func (massiveProv *massiveProvider) QuotesAt(underlying string, at time.Time, spot float64, specs []ContractSpec) ([]OptionQuote, error) {
	out := make([]OptionQuote, 0, len(specs))
	for _, spec := range specs {
		symbol := OptionSymbolFromParts(underlying, spec.Expiration, spec.Type, spec.Strike)
		bars, err := massiveProv.getAggs(symbol, at, at, 1, "day")
		if err != nil || len(bars) == 0 {
			logger.Debugf("no option bar for %s on %s: %v", symbol, at.Format("2006-01-02"), err)
			continue
		}
		b := bars[len(bars)-1]
		out = append(out, OptionQuote{
			Type:       spec.Type,
			Strike:     spec.Strike,
			Expiration: spec.Expiration,
			Last:       b.Close,
			Volume:     int64(b.Vol),
		})
	}
	if len(out) == 0 && massiveProv.secondary != nil {
		return massiveProv.secondary.QuotesAt(underlying, at, spot, specs)
	}
	return out, nil
}

// getContracts retrieves option contracts matching the supplied filters,
// following pagination until NextURL is exhausted.
func (massiveProv *massiveProvider) getContracts(underlying string, strike float64, expiry, from, to time.Time) ([]massiveContract, error) {
	out := []massiveContract{}

	u, err := url.Parse(massiveProv.baseURL + "/v3/reference/options/contracts")
	if err != nil {
		return nil, err
	}

	query := u.Query()
	query.Set("underlying_ticker", underlying)
	if strike > 0.0 {
		query.Set("strike_price", fmt.Sprintf("%.8g", strike))
	}
	if expiry.IsZero() {
		query.Set("expiration_date.gte", from.Format("2006-01-02"))
		query.Set("expiration_date.lte", to.Format("2006-01-02"))
	} else {
		query.Set("expiration_date", expiry.Format("2006-01-02"))
	}
	query.Set("expired", "true")
	query.Set("limit", "1000")
	query.Set("apiKey", massiveProv.apiKey)
	u.RawQuery = query.Encode()

	reqURL := u.String()
	for reqURL != "" {
		logger.Debugf("contracts request URL: %s", reqURL)

		req, err := http.NewRequest("GET", reqURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+massiveProv.apiKey)
		req.Header.Set("Accept", "application/json")

		resp, err := massiveProv.processGetRequest(req)
		if err != nil {
			return nil, err
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}

		if resp.StatusCode != http.StatusOK {
			var dbg struct {
				Message string `json:"message"`
			}
			_ = json.Unmarshal(body, &dbg)
			return nil, fmt.Errorf("massive returned status %d: %s", resp.StatusCode, dbg.Message)
		}

		var contractsResp massiveContractsResp
		if err := json.Unmarshal(body, &contractsResp); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}

		logger.Tracef("received %d contracts", len(contractsResp.Results))
		out = append(out, contractsResp.Results...)
		reqURL = contractsResp.NextURL
	}

	return out, nil
}

// GetRelevantExpiries returns sorted unique option expirations for the
// underlying inside the window. It samples contracts at two mid-range strike
// levels derived from the spot range, which is enough to enumerate the
// listed expiration calendar without paging the whole chain.
func (massiveProv *massiveProvider) GetRelevantExpiries(underlying string, from, to time.Time) ([]time.Time, error) {
	logger.Infof(
		"resolving relevant expiries for %s [%s - %s]",
		underlying,
		from.Format("2006-01-02"),
		to.Format("2006-01-02"),
	)

	bars, err := massiveProv.GetBars(underlying, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch spot data: %w", err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("no spot data found")
	}

	low := bars[0].Low
	high := bars[0].High
	for _, b := range bars {
		if b.Low < low {
			low = b.Low
		}
		if b.High > high {
			high = b.High
		}
	}
	logger.Debugf("spot range low=%.2f high=%.2f", low, high)

	multiplier := 1.0
	switch {
	case low >= 100 && low < 1000:
		multiplier = 10
	case low >= 1000 && low < 10000:
		multiplier = 100
	case low >= 10000:
		multiplier = 1000
	}

	step := (high - low) / 5
	levels := []float64{low + step, low + 3*step}

	expiryMap := map[string]time.Time{}
	for _, level := range levels {
		strike := math.Round(level/multiplier) * multiplier
		logger.Tracef("fetching contracts for strike %.2f", strike)
		contracts, err := massiveProv.getContracts(underlying, strike, time.Time{}, from, to.AddDate(0, 0, 90))
		if err != nil {
			return nil, fmt.Errorf("fetch contracts strike %.2f: %w", strike, err)
		}
		for _, c := range contracts {
			t, err := time.Parse("2006-01-02", c.ExpiryDate)
			if err != nil {
				continue // skip malformed expiry dates
			}
			expiryMap[c.ExpiryDate] = t
		}
	}

	expiries := make([]time.Time, 0, len(expiryMap))
	for _, dt := range expiryMap {
		expiries = append(expiries, dt)
	}
	sort.Slice(expiries, func(i, j int) bool { return expiries[i].Before(expiries[j]) })

	logger.Infof("resolved %d unique expiries", len(expiries))
	return expiries, nil
}

// RoundToNearestStrike snaps a price to a conventional strike grid by
// magnitude. A listed-strike lookup would be more precise but costs a
// contracts request per call; the grid matches US equity/index conventions.
func (massiveProv *massiveProvider) RoundToNearestStrike(underlying string, price float64) float64 {
	interval := 1.0
	switch {
	case price >= 200 && price < 1000:
		interval = 5
	case price >= 1000:
		interval = 10
	}
	return math.Round(price/interval) * interval
}

func (massiveProv *massiveProvider) GetATMOptionPrices(underlying string, expiry, at time.Time, spot float64) (strike, callPrice, putPrice float64, err error) {
	strike = massiveProv.RoundToNearestStrike(underlying, spot)
	quotes, err := massiveProv.QuotesAt(underlying, at, spot, []ContractSpec{
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
		if massiveProv.secondary != nil {
			return massiveProv.secondary.GetATMOptionPrices(underlying, expiry, at, spot)
		}
		return 0, 0, 0, fmt.Errorf("no ATM prices for %s expiry %s", underlying, expiry.Format("2006-01-02"))
	}
	return strike, callPrice, putPrice, nil
}

// processGetRequest executes an HTTP GET request with rate-limit handling.
//
// On HTTP 429 it sleeps until the next minute boundary and retries, up to
// maxRateLimitWaits times. Any other status >= 400 drains into an error with
// the body closed; callers never see a response they must not use.
func (massiveProv *massiveProvider) processGetRequest(req *http.Request) (*http.Response, error) {
	waits := 0
	for {
		resp, err := massiveProv.client.Do(req)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode < 400 {
			return resp, nil
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			waits++
			if waits > massiveProv.maxRateLimitWaits {
				return nil, fmt.Errorf("rate limited %d times, giving up", waits-1)
			}

			// Per-minute quota: sleep until the next minute boundary.
			now := time.Now()
			sleepDuration := time.Until(now.Truncate(time.Minute).Add(time.Minute))
			logger.Infof("rate limit hit, sleeping for %s", sleepDuration)
			time.Sleep(sleepDuration)
			continue
		}

		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
}
