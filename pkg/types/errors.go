package types

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the engine, adapters, store, and scheduler.
// The scheduler never sees a raw error escape a decision step; each kind
// maps to a fixed handling rule:
//
//	PolicyDenied         silent skip, DEBUG log
//	InsufficientBalance  skip, DEBUG log
//	ExchangeError        skip step, WARN log with the exchange message
//	MissingCredentials   skip order this tick, throttled WARN log
//	StoreError           abort step, ERROR log, retried next tick
//	Invariant            ERROR log, order deactivated
//	ValidationError      abort step, WARN log

var (
	// ErrPolicyDenied marks a gate or budget policy declining this tick's
	// action. Not a fault; the next tick re-evaluates from scratch.
	ErrPolicyDenied = errors.New("policy denied")

	// ErrInsufficientBalance marks a wallet balance too small for the
	// computed transaction value.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrMissingCredentials is returned by signed endpoints when neither the
	// user settings nor the environment provide an API key pair.
	ErrMissingCredentials = errors.New("missing API credentials")

	// ErrInvariant marks a state/positions mismatch the reconciler could not
	// repair. The affected order is deactivated to prevent runaway.
	ErrInvariant = errors.New("state invariant violated")
)

// ExchangeError carries a non-2xx exchange response or transport failure.
type ExchangeError struct {
	Exchange Exchange
	Status   int    // HTTP status, 0 for transport errors
	Code     int    // exchange-provided error code
	Msg      string // exchange-provided message
}

func (e *ExchangeError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: %s (code %d)", e.Exchange, e.Msg, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Exchange, e.Msg)
}

// StoreError wraps a persistence failure. The decision step that hit it is
// aborted without partial writes.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

// ValidationError marks a malformed settings row or symbol discovered by the
// engine's pre-checks.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg) }
