package strategy

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"hammer-trader/internal/domain"
	"hammer-trader/internal/pattern"
)

// Status is the lifecycle state of a strategy spec.
type Status string

const (
	StatusService Status = "SERVICE"
	StatusStopped Status = "STOPPED"
)

// Parameter names understood by the hammer strategies.
const (
	ParamHammerRatio      = "hammerRatio"
	ParamStopLossFactor   = "stopLossFactor"
	ParamTakeProfitFactor = "takeProfitFactor"
	ParamScale            = "scale"
	ParamBodyRatioFloor   = "bodyRatioFloor"
)

var (
	ErrNotFound     = errors.New("strategy not found")
	ErrInvalidSpec  = errors.New("invalid strategy spec")
	ErrAlreadyExist = errors.New("strategy already registered")
)

// Spec is a configured strategy instance.
type Spec struct {
	Key            string                     `json:"key"`
	Type           string                     `json:"type"`
	Symbols        []string                   `json:"symbols"`
	Asset          string                     `json:"asset"`
	AllocatedRatio decimal.Decimal            `json:"allocated_ratio"`
	Interval       domain.Interval            `json:"interval"`
	MaxPositions   int                        `json:"max_positions"`
	Parameters     map[string]decimal.Decimal `json:"parameters"`
	Status         Status                     `json:"status"`
	UpdatedAt      time.Time                  `json:"updated_at"`
}

// Validate checks the spec's invariants.
func (s Spec) Validate() error {
	switch {
	case s.Key == "":
		return fmt.Errorf("%w: empty key", ErrInvalidSpec)
	case s.Type == "":
		return fmt.Errorf("%w: %s: empty type", ErrInvalidSpec, s.Key)
	case len(s.Symbols) == 0:
		return fmt.Errorf("%w: %s: no symbols", ErrInvalidSpec, s.Key)
	case s.Asset == "":
		return fmt.Errorf("%w: %s: empty asset", ErrInvalidSpec, s.Key)
	case !s.AllocatedRatio.IsPositive() || s.AllocatedRatio.GreaterThan(decimal.NewFromInt(1)):
		return fmt.Errorf("%w: %s: allocated ratio %s not in (0,1]", ErrInvalidSpec, s.Key, s.AllocatedRatio)
	case s.MaxPositions < 0:
		return fmt.Errorf("%w: %s: max positions %d", ErrInvalidSpec, s.Key, s.MaxPositions)
	}
	if _, err := s.Interval.Duration(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidSpec, s.Key, err)
	}
	for _, name := range []string{ParamHammerRatio, ParamStopLossFactor, ParamTakeProfitFactor, ParamScale} {
		if v, ok := s.Parameters[name]; ok && !v.IsPositive() {
			return fmt.Errorf("%w: %s: %s must be > 0", ErrInvalidSpec, s.Key, name)
		}
	}
	if v, ok := s.Parameters[ParamBodyRatioFloor]; ok && v.IsNegative() {
		return fmt.Errorf("%w: %s: %s must be >= 0", ErrInvalidSpec, s.Key, ParamBodyRatioFloor)
	}
	return nil
}

// Param returns a named parameter or def when unset.
func (s Spec) Param(name string, def decimal.Decimal) decimal.Decimal {
	if v, ok := s.Parameters[name]; ok {
		return v
	}
	return def
}

// HasSymbol reports whether sym is traded by the spec.
func (s Spec) HasSymbol(sym string) bool {
	return slices.Contains(s.Symbols, sym)
}

// SingleSymbol reports whether the strategy may hold only one position at
// a time across all its symbols.
func (s Spec) SingleSymbol() bool {
	return s.MaxPositions <= 1
}

// StopLossFactor returns the stop-loss multiplier (default 1).
func (s Spec) StopLossFactor() decimal.Decimal {
	return s.Param(ParamStopLossFactor, decimal.NewFromInt(1))
}

// TakeProfitFactor returns the take-profit multiplier (default 1).
func (s Spec) TakeProfitFactor() decimal.Decimal {
	return s.Param(ParamTakeProfitFactor, pattern.DefaultTakeProfitFactor)
}

// PatternParams builds analyzer thresholds from the spec.
func (s Spec) PatternParams(takerFeeRate decimal.Decimal) pattern.Params {
	return pattern.Params{
		HammerRatio:      s.Param(ParamHammerRatio, pattern.DefaultHammerRatio),
		BodyRatioFloor:   s.Param(ParamBodyRatioFloor, pattern.DefaultBodyRatioFloor),
		TakeProfitFactor: s.TakeProfitFactor(),
		Scale:            s.Param(ParamScale, pattern.DefaultScale),
		TakerFeeRate:     takerFeeRate,
	}
}

// Clone returns a deep copy.
func (s Spec) Clone() Spec {
	out := s
	out.Symbols = slices.Clone(s.Symbols)
	out.Parameters = make(map[string]decimal.Decimal, len(s.Parameters))
	for k, v := range s.Parameters {
		out.Parameters[k] = v
	}
	return out
}
