package common

import (
	"errors"
	"fmt"
)

// ExchangeError reports a failed venue call. Code and Msg come from the
// venue's error body when present.
type ExchangeError struct {
	Op     string
	Status int
	Code   int
	Msg    string
	Err    error
}

func (e *ExchangeError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("exchange %s: %v", e.Op, e.Err)
	case e.Code != 0:
		return fmt.Sprintf("exchange %s: status %d code %d: %s", e.Op, e.Status, e.Code, e.Msg)
	default:
		return fmt.Sprintf("exchange %s: status %d: %s", e.Op, e.Status, e.Msg)
	}
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// IsExchangeError reports whether err wraps an ExchangeError.
func IsExchangeError(err error) bool {
	var ee *ExchangeError
	return errors.As(err, &ee)
}

// Wrap turns any error into an ExchangeError for op. Nil stays nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsExchangeError(err) {
		return err
	}
	return &ExchangeError{Op: op, Err: err}
}
