package service

import (
	"errors"
	"fmt"

	"github.com/smartward/backend/internal/db"
)

var ErrNotFound = db.ErrNotFound

// ValidationError rejects a request before any pipeline step runs.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// ConflictError means the request is well-formed but the current state does
// not allow it. Nothing was mutated.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return e.Reason
}

// DegradedError wraps a failed best-effort call. It is logged, never returned
// from the pipeline entry points.
type DegradedError struct {
	Op  string
	Err error
}

func (e *DegradedError) Error() string {
	return fmt.Sprintf("%s degraded: %v", e.Op, e.Err)
}

func (e *DegradedError) Unwrap() error {
	return e.Err
}

func conflictf(format string, args ...any) error {
	return &ConflictError{Reason: fmt.Sprintf(format, args...)}
}

// storeError maps store sentinels that describe a state conflict.
func storeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, db.ErrStatusChanged):
		return &ConflictError{Reason: "issue status changed by another request; reload and retry"}
	case errors.Is(err, db.ErrStaffInactive):
		return &ConflictError{Reason: "cannot assign an inactive staff member"}
	case errors.Is(err, db.ErrAlreadyLinked):
		return &ConflictError{Reason: "issue is already linked as a duplicate"}
	}
	return err
}
