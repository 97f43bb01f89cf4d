package types

import (
	"errors"
	"strings"
)

// Entry and queue errors.
var (
	ErrValidation       = errors.New("entry validation failed")
	ErrSchemaMismatch   = errors.New("schema mismatch")
	ErrUnknownEntryType = errors.New("unknown entry type")
	ErrCorruptQueue     = errors.New("queue file is corrupt")
)

// StoreError is a failure reported by the primary store. Transient marks
// resource contention (busy, locked) that is expected to clear on retry.
type StoreError struct {
	Op        string
	Err       error
	Transient bool
}

func (e *StoreError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsTransient reports whether err is store contention. Classified store
// errors are trusted; other errors fall back to matching "locked" or "busy"
// in the message. Validation and schema errors are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrSchemaMismatch) || errors.Is(err, ErrUnknownEntryType) {
		return false
	}
	var se *StoreError
	if errors.As(err, &se) {
		return se.Transient
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "locked") || strings.Contains(msg, "busy")
}
