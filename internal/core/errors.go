package core

import "errors"

// Error kinds exposed to callers. Every error leaving the core wraps exactly
// one of these, so the transport can map to a stable classification without
// seeing raw storage errors.
var (
	// ErrValidation: malformed input, rejected before any mutation.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound: referenced transaction, rule or month absent.
	ErrNotFound = errors.New("not found")
	// ErrConflict: lock contention; safe to retry, no partial effect.
	ErrConflict = errors.New("conflict")
	// ErrStorage: persistence layer unavailable; retryable, the failed unit
	// of work has not partially applied.
	ErrStorage = errors.New("storage unavailable")
)

func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }
func IsNotFound(err error) bool   { return errors.Is(err, ErrNotFound) }
func IsConflict(err error) bool   { return errors.Is(err, ErrConflict) }
func IsStorage(err error) bool    { return errors.Is(err, ErrStorage) }
