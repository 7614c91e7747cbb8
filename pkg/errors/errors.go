package errors

import (
	"errors"
	"fmt"
)

// Standard errors
var (
	// ErrNotFound is returned when a requested memory store, model or tool is unknown
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput is returned when configuration or request input is malformed
	ErrInvalidInput = errors.New("invalid input")

	// ErrValidation marks caller-fixable errors on memory operations
	ErrValidation = errors.New("validation failed")

	// ErrConflict is returned when registering a memory store id twice
	ErrConflict = errors.New("already exists")

	// ErrEmbeddingBackend is returned when an embedding backend fails to produce a vector
	ErrEmbeddingBackend = errors.New("embedding backend error")

	// ErrRemoteUnavailable is returned when the remote embedding service cannot be reached
	ErrRemoteUnavailable = fmt.Errorf("remote embedding service unavailable: %w", ErrEmbeddingBackend)

	// ErrBackendInitialization is returned when neither the requested backend nor the fallback initialize
	ErrBackendInitialization = errors.New("embedding backend initialization failed")

	// ErrPersistence is returned when the record store rejects a read or write
	ErrPersistence = errors.New("memory persistence error")

	// ErrLuaExecution is returned when there's an error executing a Lua script
	ErrLuaExecution = errors.New("lua script execution error")
)

// ValidationError describes a rejected memory operation.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError creates a ValidationError for field.
func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is makes every ValidationError match ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Wrap wraps an error with additional context
func Wrap(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Mark wraps err so that it also matches sentinel.
func Mark(err, sentinel error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// New is errors.New, re-exported so callers only import this package.
func New(text string) error {
	return errors.New(text)
}

// Join is errors.Join.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// Is reports whether any error in err's tree matches target.
// This is a convenience function that wraps errors.Is
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target, and if so, sets
// target to that error value and returns true. Otherwise, it returns false.
// This is a convenience function that wraps errors.As
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
