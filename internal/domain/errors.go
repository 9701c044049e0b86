package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrTransient marks network, timeout and rate-limit failures. The unit is
	// skipped and retried on the next cycle.
	ErrTransient = errors.New("transient exchange error")
	// ErrValidation marks rejected inputs (insufficient balance, bad symbol, ...).
	ErrValidation = errors.New("validation error")
	// ErrNotFound is returned by stores for absent keys.
	ErrNotFound = errors.New("not found")
)

type ErrorKind string

const (
	KindTransient  ErrorKind = "transient"
	KindValidation ErrorKind = "validation"
)

// ExchangeError is returned by exchange adapters.
type ExchangeError struct {
	Exchange string
	Op       string
	Kind     ErrorKind
	Code     int
	Err      error
}

func (e *ExchangeError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s %s (%s, code %d): %v", e.Exchange, e.Op, e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("%s %s (%s): %v", e.Exchange, e.Op, e.Kind, e.Err)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

func (e *ExchangeError) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.Kind == KindTransient
	case ErrValidation:
		return e.Kind == KindValidation
	}
	return false
}

func NewTransientError(exchange, op string, err error) *ExchangeError {
	return &ExchangeError{Exchange: exchange, Op: op, Kind: KindTransient, Err: err}
}

func NewValidationError(exchange, op string, code int, err error) *ExchangeError {
	return &ExchangeError{Exchange: exchange, Op: op, Kind: KindValidation, Code: code, Err: err}
}

// ErrorKindOf reports the kind used for logs and metrics. Unclassified errors
// count as transient: the next cycle retries them.
func ErrorKindOf(err error) ErrorKind {
	if errors.Is(err, ErrValidation) {
		return KindValidation
	}
	return KindTransient
}
