package decision

import "fmt"

// Outcome is the result of one engine evaluation. Everything except
// OutcomeOpened and OutcomeClosed is a benign skip.
type Outcome string

const (
	OutcomeOpened            Outcome = "opened"
	OutcomeClosed            Outcome = "closed"
	OutcomeHeld              Outcome = "held"
	OutcomeLocked            Outcome = "lock_busy"
	OutcomeGateBusy          Outcome = "gate_busy"
	OutcomeSymbolInUse       Outcome = "symbol_in_use"
	OutcomeNoFreeSymbol      Outcome = "no_free_symbol"
	OutcomeSeeded            Outcome = "seeded"
	OutcomeStale             Outcome = "stale_candle"
	OutcomeNoBudget          Outcome = "insufficient_allocation"
	OutcomeInsufficientFunds Outcome = "insufficient_funds"
	OutcomeNoPattern         Outcome = "no_pattern"
	OutcomeZeroQuantity      Outcome = "zero_quantity"
	OutcomeBelowMinNotional  Outcome = "below_min_notional"
	OutcomeAlreadyOpen       Outcome = "already_open"
	OutcomeNoPosition        Outcome = "no_position"
	OutcomeFailed            Outcome = "failed"
)

// Recorder receives evaluation outcomes.
type Recorder interface {
	RecordOutcome(engine, strategyType string, o Outcome)
}

type nopRecorder struct{}

func (nopRecorder) RecordOutcome(string, string, Outcome) {}

// InvariantError reports engine state that should be impossible, such as
// releasing a lock that was not held.
type InvariantError struct {
	Op          string
	StrategyKey string
	Detail      string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violated in %s for %s: %s", e.Op, e.StrategyKey, e.Detail)
}
