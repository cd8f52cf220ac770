package backtest

import "errors"

// Typed errors allow callers and tests to detect failure categories
// without string matching.
var (
	// ErrDataGap marks a recoverable per-bar failure: a required leg's quote
	// is absent when building a position. The entry is skipped for that bar
	// and the loop continues.
	ErrDataGap = errors.New("required quote missing")

	// ErrUnrecoverableData marks a structurally broken input stream
	// (non-monotonic timestamps, non-finite prices, a failed quote fetch).
	// The run aborts; whatever ledger exists is preserved for diagnosis.
	ErrUnrecoverableData = errors.New("unrecoverable data error")
)
