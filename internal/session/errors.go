package session

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is matching across the error taxonomy.
var (
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")
	ErrNotFound   = errors.New("not found")
	ErrFatal      = errors.New("orchestration failed")
)

// ValidationError reports bad caller input. No state was mutated.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ConflictError reports an operation that needs an idle session.
type ConflictError struct {
	SessionID string
	Reason    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("session %s: %s", e.SessionID, e.Reason)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// NotFoundError reports an unknown session or document id.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// FatalOrchestrationError reports a turn that could not be completed because
// the moderator synthesis could not be produced.
type FatalOrchestrationError struct {
	SessionID string
	Err       error
}

func (e *FatalOrchestrationError) Error() string {
	return fmt.Sprintf("session %s: turn failed: %v", e.SessionID, e.Err)
}

func (e *FatalOrchestrationError) Unwrap() error { return e.Err }

func (e *FatalOrchestrationError) Is(target error) bool { return target == ErrFatal }
