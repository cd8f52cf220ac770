package main

import (
	"encoding/json"
	"flag"
	"log"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/quantfold/optionbt/internal/backtest"
	"github.com/quantfold/optionbt/internal/config"
	"github.com/quantfold/optionbt/internal/data"
	"github.com/quantfold/optionbt/internal/logger"
	"github.com/quantfold/optionbt/internal/report"
	"github.com/quantfold/optionbt/internal/strategy"
)

func main() {
	runPath := flag.String("run", "runs/directional.json", "path to JSON run definition")
	rest := flag.Bool("rest", false, "run as REST server (accept backtest jobs)")
	port := flag.String("port", ":8080", "REST server listen address")
	flag.Parse()

	env, err := config.LoadEnv()
	if err != nil {
		log.Fatalf("loading environment: %v", err)
	}
	logger.SetVerbosity(env.Verbosity)

	run, err := config.LoadRun(*runPath)
	if err != nil {
		log.Fatalf("loading run definition: %v", err)
	}
	run.Backtest.Verbosity = env.Verbosity

	prov := buildProvider(env)

	eng, err := buildEngine(run, prov)
	if err != nil {
		log.Fatalf("building engine: %v", err)
	}

	if *rest {
		serve(eng, *port)
		return
	}

	start := time.Now()
	res, err := eng.Run()
	if err != nil {
		log.Fatalf("backtest failed: %v", err)
	}

	if err := os.MkdirAll(env.ReportDir, 0755); err != nil {
		log.Printf("[warn] could not create report dir %s: %v", env.ReportDir, err)
	}
	if err := report.WriteJSON(res, env.ReportDir); err != nil {
		log.Printf("[warn] writing trades.json: %v", err)
	}
	if err := report.WriteCSV(res.Trades, env.ReportDir); err != nil {
		log.Printf("[warn] writing trades.csv: %v", err)
	}
	if err := report.WriteSummary(res, eng.StrategyMetrics(res), env.ReportDir); err != nil {
		log.Printf("[warn] writing summary.txt: %v", err)
	}
	log.Printf("[done] finished in %v, wrote %d trades to %s", time.Since(start), len(res.Trades), env.ReportDir)
}

// buildProvider chains the configured sources: live API first, then local
// CSV files, then deterministic synthetic data as the final fallback.
func buildProvider(env config.Env) data.Provider {
	prov := data.NewSyntheticProvider(env.SyntheticSeed)
	log.Printf("[info] synthetic provider enabled (seed=%d)", env.SyntheticSeed)

	if env.DataDir != "" {
		prov = data.NewLocalCSVProvider(env.DataDir, prov)
		log.Printf("[info] local CSV provider enabled (dir=%s)", env.DataDir)
	}
	if env.MassiveAPIKey != "" {
		prov = data.NewMassiveProvider(env.MassiveAPIKey, prov)
		log.Printf("[info] massive provider enabled")
	}
	return prov
}

func buildEngine(run config.Run, prov data.Provider) (*backtest.Engine, error) {
	// Expiries past the backtest window are still tradable inside it.
	horizon := run.Backtest.End.AddDate(0, 0, run.Strategy.Params.DaysToExpiry+30)
	expiries, err := prov.GetRelevantExpiries(run.Backtest.Underlying, run.Backtest.Start, horizon)
	if err != nil {
		return nil, err
	}

	var adapter backtest.Adapter
	switch run.Strategy.Adapter {
	case "directional":
		optType := data.Call
		if run.Strategy.OptionType == "put" {
			optType = data.Put
		}
		adapter, err = strategy.NewDirectional(run.Strategy.Params, optType, run.Strategy.StrikeRule, expiries, prov)
	case "butterfly":
		adapter, err = strategy.NewButterfly(run.Strategy.Params, run.Strategy.Width, expiries, prov)
	}
	if err != nil {
		return nil, err
	}

	return backtest.NewEngine(&run.Backtest, adapter, prov, &momentumSignals{lookback: 5})
}

func serve(eng *backtest.Engine, port string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/run", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[info] received /run request")
		res, err := eng.Run()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(res)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
	log.Printf("[info] starting REST server on %s", port)
	log.Fatal(http.ListenAndServe(port, mux))
}

// momentumSignals is a minimal built-in signal source: enter when the close
// is above its trailing average.
type momentumSignals struct {
	lookback int
}

func (m *momentumSignals) Next(bar data.Bar, history []data.Bar) (*backtest.Signal, error) {
	if len(history) < m.lookback {
		return &backtest.Signal{Action: backtest.ActionHold, Timestamp: bar.Date}, nil
	}
	sum := 0.0
	for _, b := range history[len(history)-m.lookback:] {
		sum += b.Close
	}
	avg := sum / float64(m.lookback)
	if bar.Close > avg {
		conf := math.Min(100, (bar.Close-avg)/avg*100)
		return &backtest.Signal{Action: backtest.ActionEnter, Confidence: conf, Timestamp: bar.Date}, nil
	}
	return &backtest.Signal{Action: backtest.ActionHold, Timestamp: bar.Date}, nil
}
