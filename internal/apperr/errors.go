package apperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type ErrorType int

const (
	ErrUnknown ErrorType = iota
	ErrValidation
	ErrNotFound
	ErrInvalidState
	ErrProvider
	ErrPersistence
)

func (t ErrorType) String() string {
	switch t {
	case ErrValidation:
		return "Validation"
	case ErrNotFound:
		return "NotFound"
	case ErrInvalidState:
		return "InvalidState"
	case ErrProvider:
		return "Provider"
	case ErrPersistence:
		return "Persistence"
	default:
		return "Unknown"
	}
}

// Code is the stable machine readable identifier sent to API clients.
func (t ErrorType) Code() string {
	switch t {
	case ErrValidation:
		return "validation_error"
	case ErrNotFound:
		return "not_found"
	case ErrInvalidState:
		return "invalid_state"
	case ErrProvider:
		return "provider_error"
	case ErrPersistence:
		return "persistence_error"
	default:
		return "internal_error"
	}
}

type Error struct {
	Type    ErrorType
	Message string
	Context map[string]any
	Cause   error
}

func New(errorType ErrorType, format string, args ...any) *Error {
	return &Error{
		Type:    errorType,
		Message: fmt.Sprintf(format, args...),
		Context: make(map[string]any),
	}
}

func Wrap(err error, errorType ErrorType, message string) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
		Cause:   err,
	}
}

func Validation(format string, args ...any) *Error {
	return New(ErrValidation, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(ErrNotFound, format, args...)
}

func InvalidState(format string, args ...any) *Error {
	return New(ErrInvalidState, format, args...)
}

func Provider(err error, message string) *Error {
	return Wrap(err, ErrProvider, message)
}

func Persistence(err error, message string) *Error {
	return Wrap(err, ErrPersistence, message)
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Type.String(), e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ctxParts := make([]string, 0, len(keys))
		for _, k := range keys {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(ctxParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Describe is the short human readable form without context and cause details.
func (e *Error) Describe() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

// TypeOf returns the type of the first *Error in the chain, or ErrUnknown.
func TypeOf(err error) ErrorType {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrUnknown
}

func IsType(err error, errorType ErrorType) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// Message returns the user facing message for err.
func Message(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Describe()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
