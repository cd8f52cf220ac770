// Package config loads process settings from the environment and run
// definitions from JSON files.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/quantfold/optionbt/internal/backtest"
	"github.com/quantfold/optionbt/internal/strategy"
)

// Env holds process-level settings sourced from the environment. A .env file
// in the working directory is honored when present.
type Env struct {
	MassiveAPIKey string `envconfig:"MASSIVE_API_KEY"`
	DataDir       string `envconfig:"DATA_DIR"`
	ReportDir     string `envconfig:"REPORT_DIR" default:"reports"`
	Verbosity     int    `envconfig:"VERBOSITY" default:"1"`
	SyntheticSeed int64  `envconfig:"SYNTHETIC_SEED" default:"42"`
}

// LoadEnv reads .env (if any) and then the process environment.
func LoadEnv() (Env, error) {
	_ = godotenv.Load()

	var e Env
	if err := envconfig.Process("", &e); err != nil {
		return Env{}, fmt.Errorf("config: %w", err)
	}
	return e, nil
}

// Run is a complete backtest definition: engine settings plus the strategy
// to drive it.
type Run struct {
	Backtest backtest.Config `json:"backtest"`
	Strategy Strategy        `json:"strategy"`
}

// Strategy selects and parameterizes an adapter.
type Strategy struct {
	Adapter    string          `json:"adapter"`               // "directional" or "butterfly"
	Params     strategy.Params `json:"params"`
	OptionType string          `json:"option_type,omitempty"` // directional: "call" or "put"
	StrikeRule string          `json:"strike_rule,omitempty"` // directional: strike expression
	Width      float64         `json:"width,omitempty"`       // butterfly: wing width
}

// LoadRun parses and validates a run definition file. Any validation
// failure is fatal before the run starts.
func LoadRun(path string) (Run, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Run{}, fmt.Errorf("config: read run file: %w", err)
	}

	var r Run
	if err := json.Unmarshal(b, &r); err != nil {
		return Run{}, fmt.Errorf("config: parse run file %s: %w", path, err)
	}
	if err := r.Validate(); err != nil {
		return Run{}, err
	}
	return r, nil
}

// Validate checks the run definition top to bottom.
func (r *Run) Validate() error {
	if err := r.Backtest.Validate(); err != nil {
		return err
	}
	switch r.Strategy.Adapter {
	case "directional":
		if t := r.Strategy.OptionType; t != "" && t != "call" && t != "put" {
			return fmt.Errorf("config: option_type must be call or put, got %q", t)
		}
	case "butterfly":
		if r.Strategy.Width <= 0 {
			return fmt.Errorf("config: butterfly requires a positive width")
		}
	case "":
		return fmt.Errorf("config: strategy.adapter is required")
	default:
		return fmt.Errorf("config: unknown adapter %q", r.Strategy.Adapter)
	}
	if r.Strategy.Params.Underlying == "" {
		r.Strategy.Params.Underlying = r.Backtest.Underlying
	}
	if r.Strategy.Params.Underlying != r.Backtest.Underlying {
		return fmt.Errorf("config: strategy underlying %q does not match backtest underlying %q",
			r.Strategy.Params.Underlying, r.Backtest.Underlying)
	}
	return nil
}
