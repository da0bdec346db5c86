package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConflict signals a stale optimistic-concurrency write. Retryable.
	ErrConflict = errors.New("batch was modified concurrently, retry with fresh state")

	// ErrBatchNotFound signals an unknown batch id or code.
	ErrBatchNotFound = errors.New("batch not found")

	// ErrHashNotFound signals the ledger holds no hash for a batch code.
	ErrHashNotFound = errors.New("no authoritative hash recorded for batch code")

	// ErrLedgerUnavailable signals a ledger timeout or transport failure.
	// Verification degrades to UNKNOWN on this, never to AUTHENTIC.
	ErrLedgerUnavailable = errors.New("ledger unavailable")

	// ErrDataHashAlreadySet guards the write-once data hash.
	ErrDataHashAlreadySet = errors.New("data hash already assigned and cannot be overwritten")
)

// InvalidTransitionError rejects a custody change not present in the allowed
// transition table. The batch and its history are left unmodified.
type InvalidTransitionError struct {
	From BatchStatus
	To   BatchStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

// IsInvalidTransition reports whether err is an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var target *InvalidTransitionError
	return errors.As(err, &target)
}
