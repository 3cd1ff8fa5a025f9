package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInvalidSignal     = errors.New("invalid signal")
	ErrNoPositionToAct   = errors.New("no position to act on")
	ErrLedgerConflict    = errors.New("ledger version conflict")
	ErrTerminalState     = errors.New("execution record is terminal")
	ErrVenueRejected     = errors.New("venue rejected order")
	ErrVenueTimeout      = errors.New("venue timed out")
	ErrExecutionInFlight = errors.New("conflicting execution in flight")
	ErrRateLimited       = errors.New("rate limited")
	ErrLockHeld          = errors.New("lock already held")
)

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

