package backtest

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/quantfold/optionbt/internal/data"
	"github.com/quantfold/optionbt/internal/logger"
	"github.com/quantfold/optionbt/internal/position"
)

// Config holds the run parameters of a backtest.
type Config struct {
	Underlying    string    `json:"underlying"`               // e.g. "SPY"
	Start         time.Time `json:"start"`                    // first bar date, inclusive
	End           time.Time `json:"end"`                      // last bar date, inclusive
	InitialCash   float64   `json:"initial_cash"`             // starting capital
	MaxConcurrent int       `json:"max_concurrent,omitempty"` // open position cap, default 1
	EntryGapBars  int       `json:"entry_gap_bars,omitempty"` // min bars between entries, default 1
	WarmupBars    int       `json:"warmup_bars,omitempty"`    // bars skipped for indicator stability
	RiskFreeRate  float64   `json:"risk_free_rate,omitempty"` // annual, default 0.02
	Verbosity     int       `json:"verbosity,omitempty"`      // 0=errors,1=info,2=debug,3=trace
}

// Validate rejects a config that cannot produce a meaningful run. Fatal at
// construction: the run never starts.
func (c *Config) Validate() error {
	if c.Underlying == "" {
		return fmt.Errorf("config: underlying is required")
	}
	if c.InitialCash <= 0 {
		return fmt.Errorf("config: initial cash must be positive, got %.2f", c.InitialCash)
	}
	if c.Start.IsZero() || c.End.IsZero() || c.Start.After(c.End) {
		return fmt.Errorf("config: invalid date window %s..%s", c.Start, c.End)
	}
	if c.MaxConcurrent < 0 || c.EntryGapBars < 0 || c.WarmupBars < 0 {
		return fmt.Errorf("config: negative limits are not allowed")
	}
	return nil
}

func (c *Config) fillDefaults() {
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = 1
	}
	if c.EntryGapBars == 0 {
		c.EntryGapBars = 1
	}
	if c.RiskFreeRate == 0 {
		c.RiskFreeRate = 0.02
	}
}

// Result is the output of a completed (or aborted) run. On abort the partial
// ledger is preserved for diagnosis.
type Result struct {
	Trades       []Trade `json:"trades"`
	InitialCash  float64 `json:"initial_cash"`
	FinalCash    float64 `json:"final_cash"`
	EquityPeak   float64 `json:"equity_peak"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	TotalSignals int     `json:"total_signals"`

	// State keeps the exact decimal account for callers that need the
	// conservation identity without float rounding.
	State *State `json:"-"`
}

// volAware is implemented by adapters that want the historical volatility
// estimate for degraded-mark fallbacks.
type volAware interface {
	SetFallbackVol(v float64)
}

// Engine drives the simulation bar by bar. Processing is strictly
// sequential and single-threaded: State has one writer, and identical inputs
// produce an identical ledger.
type Engine struct {
	cfg     *Config
	adapter Adapter
	prov    data.Provider
	signals SignalSource
}

// NewEngine wires a validated config with the active adapter, data provider
// and signal source.
func NewEngine(cfg *Config, adapter Adapter, prov data.Provider, signals SignalSource) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.fillDefaults()
	return &Engine{cfg: cfg, adapter: adapter, prov: prov, signals: signals}, nil
}

// Run executes the backtest.
//
// Per bar, in order: fetch the bar's quote universe (one blocking call),
// mark open positions, sweep exits, attempt a gated entry, then update the
// equity peak and drawdown. Remaining positions are force-closed at the last
// bar with reason END_OF_PERIOD.
//
// Recoverable per-bar issues (missing quotes, degraded pricing) are absorbed;
// a malformed bar stream or failed quote fetch aborts with the partial ledger
// attached to the returned Result.
func (e *Engine) Run() (*Result, error) {
	cfg := e.cfg
	logger.SetVerbosity(cfg.Verbosity)

	bars, err := e.prov.GetBars(cfg.Underlying, cfg.Start, cfg.End)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching bars: %v", ErrUnrecoverableData, err)
	}
	if err := data.ValidateBars(bars); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrecoverableData, err)
	}
	if len(bars) <= cfg.WarmupBars {
		return nil, fmt.Errorf("%w: %d bars, need more than warm-up %d", ErrUnrecoverableData, len(bars), cfg.WarmupBars)
	}

	hv := AnnualizedVolatility(extractCloses(bars))
	logger.Infof("strategy=%s bars=%d hist vol=%.2f%%", e.adapter.Name(), len(bars), hv*100)
	if va, ok := e.adapter.(volAware); ok {
		va.SetFallbackVol(hv)
	}

	state := newState(cfg.InitialCash)
	res := &Result{InitialCash: cfg.InitialCash, State: state}

	nextID := 1
	lastEntryBar := -cfg.EntryGapBars // first eligible bar can enter

	for i := cfg.WarmupBars; i < len(bars); i++ {
		bar := bars[i]

		// One quote fetch per bar covering open legs plus, when a gap-eligible
		// entry could happen this bar, the adapter's candidate contracts. The
		// capacity check waits until after the exit sweep, so the candidates
		// are fetched even at capacity: an exit this bar may free the slot.
		// The loop blocks here; it never marks positions against partial data
		// for a bar.
		gapOK := i-lastEntryBar >= cfg.EntryGapBars
		var specs []data.ContractSpec
		for _, p := range state.OpenPositions {
			specs = append(specs, p.Contracts()...)
		}
		if gapOK {
			specs = append(specs, e.adapter.RequiredContracts(bar.Close, bar.Date)...)
		}

		quotes, err := e.prov.QuotesAt(cfg.Underlying, bar.Date, bar.Close, specs)
		if err != nil {
			e.finishResult(res, state)
			return res, fmt.Errorf("%w: quote fetch on %s: %v", ErrUnrecoverableData, bar.Date.Format("2006-01-02"), err)
		}

		// 1. Mark all open positions.
		for _, p := range state.OpenPositions {
			e.adapter.UpdatePosition(p, bar, quotes)
		}

		// 2. Exit sweep over a snapshot; close mutates the open set.
		open := append([]*position.Position(nil), state.OpenPositions...)
		for _, p := range open {
			holding := p.HoldingMinutes(bar.Date)
			if reason, exit := e.adapter.ShouldExit(p, bar, quotes, holding); exit {
				tr := state.close(p, bar.Date, reason)
				logger.Infof("trade %d closed_by=%s exit=%.2f pnl=%.2f", tr.ID, tr.ExitReason, tr.ExitValue, tr.RealizedPnL)
			}
		}

		// 3. Gated entry. Capacity is evaluated now, after the sweep, so a
		// slot freed by this bar's exit can be refilled on the same bar.
		if gapOK && len(state.OpenPositions) < cfg.MaxConcurrent && e.signals != nil {
			sig, err := e.signals.Next(bar, bars[:i+1])
			if err != nil {
				logger.Debugf("signal source error on %s: %v", bar.Date.Format("2006-01-02"), err)
			} else if sig != nil && sig.Action == ActionEnter {
				res.TotalSignals++
				pos, err := e.adapter.BuildPosition(nextID, *sig, quotes, bar.Close, bar.Date)
				switch {
				case errors.Is(err, ErrDataGap):
					logger.Debugf("entry skipped on %s: %v", bar.Date.Format("2006-01-02"), err)
				case err != nil:
					e.finishResult(res, state)
					return res, fmt.Errorf("build position: %w", err)
				default:
					state.open(pos)
					nextID++
					lastEntryBar = i
					logger.Infof("trade %d opened %s underlying=%.2f cost=%.2f regime=%s",
						pos.ID, bar.Date.Format("2006-01-02"), bar.Close, pos.EntryCost, pos.Meta.Regime)
				}
			}
		}

		// 4. Equity peak and max drawdown.
		state.updateDrawdown()
	}

	// Force-close whatever is still open at the final bar's valuation.
	last := bars[len(bars)-1]
	for _, p := range append([]*position.Position(nil), state.OpenPositions...) {
		tr := state.close(p, last.Date, ExitEndOfPeriod)
		logger.Infof("trade %d closed_by=%s exit=%.2f pnl=%.2f", tr.ID, tr.ExitReason, tr.ExitValue, tr.RealizedPnL)
	}
	state.updateDrawdown()

	e.finishResult(res, state)
	return res, nil
}

// StrategyMetrics asks the adapter for its named metrics over a finished run.
func (e *Engine) StrategyMetrics(res *Result) map[string]float64 {
	if res == nil {
		return nil
	}
	return e.adapter.Metrics(res.Trades, res.TotalSignals)
}

func (e *Engine) finishResult(res *Result, state *State) {
	res.Trades = state.Ledger
	res.FinalCash, _ = state.Cash.Float64()
	res.EquityPeak, _ = state.EquityPeak.Float64()
	res.MaxDrawdown, _ = state.MaxDrawdown.Float64()
}

// AnnualizedVolatility estimates annual volatility from daily log returns of
// the close series. Falls back to 30% when the series is too short.
func AnnualizedVolatility(closes []float64) float64 {
	if len(closes) < 2 {
		return 0.30
	}
	var rets []float64
	for i := 1; i < len(closes); i++ {
		rets = append(rets, math.Log(closes[i]/closes[i-1]))
	}
	mean := 0.0
	for _, v := range rets {
		mean += v
	}
	mean /= float64(len(rets))
	sd := 0.0
	for _, v := range rets {
		sd += (v - mean) * (v - mean)
	}
	sd = math.Sqrt(sd / float64(len(rets)-1))
	return sd * math.Sqrt(252.0)
}

func extractCloses(bars []data.Bar) []float64 {
	out := make([]float64, 0, len(bars))
	for _, b := range bars {
		out = append(out, b.Close)
	}
	return out
}
