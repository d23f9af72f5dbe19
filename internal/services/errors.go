package services

import (
	"errors"
	"sort"
	"strings"
)

type ErrorCode string

const (
	ErrorNotFound          ErrorCode = "not_found"
	ErrorInvalidTransition ErrorCode = "invalid_transition"
	ErrorExpired           ErrorCode = "expired"
	ErrorValidation        ErrorCode = "validation"
	ErrorPersistence       ErrorCode = "persistence"
	ErrorInsufficientData  ErrorCode = "insufficient_data"
	ErrorSessionConflict   ErrorCode = "session_conflict"
	ErrorUnauthorized      ErrorCode = "unauthorized"
	ErrorInvalid           ErrorCode = "invalid"
	ErrorTooManyRequests   ErrorCode = "too_many_requests"
)

// ServiceError carries a stable code for the routing layer. Fields holds
// per-field messages for validation failures; CurrentStep is set on
// invalid transitions so the participant can be sent back to it.
type ServiceError struct {
	Code        ErrorCode
	Message     string
	Fields      map[string]string
	CurrentStep Step
	Err         error
}

func (e *ServiceError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return e.Message + " (" + strings.Join(parts, "; ") + ")"
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Is matches any ServiceError with the same code, so callers can write
// errors.Is(err, ErrExpired).
func (e *ServiceError) Is(target error) bool {
	var se *ServiceError
	if errors.As(target, &se) {
		return se.Code == e.Code
	}
	return false
}

var (
	ErrNotFound          = &ServiceError{Code: ErrorNotFound, Message: "session not found"}
	ErrInvalidTransition = &ServiceError{Code: ErrorInvalidTransition, Message: "step is not the current step"}
	ErrExpired           = &ServiceError{Code: ErrorExpired, Message: "session expired"}
	ErrValidation        = &ServiceError{Code: ErrorValidation, Message: "invalid answers"}
	ErrPersistence       = &ServiceError{Code: ErrorPersistence, Message: "could not save progress"}
	ErrInsufficientData  = &ServiceError{Code: ErrorInsufficientData, Message: "catalog has too few recipes"}
	ErrSessionConflict   = &ServiceError{Code: ErrorSessionConflict, Message: "survey already finished for this participant"}
	ErrUnauthorized      = &ServiceError{Code: ErrorUnauthorized, Message: "invalid credentials"}
)

func NewInvalidError(msg string) error { return &ServiceError{Code: ErrorInvalid, Message: msg} }

func NewNotFoundError(msg string) error { return &ServiceError{Code: ErrorNotFound, Message: msg} }

func NewTooManyRequestsError(msg string) error {
	return &ServiceError{Code: ErrorTooManyRequests, Message: msg}
}

func newValidationError(fields map[string]string) error {
	return &ServiceError{Code: ErrorValidation, Message: ErrValidation.Message, Fields: fields}
}

func newInvalidTransition(current Step) error {
	return &ServiceError{Code: ErrorInvalidTransition, Message: ErrInvalidTransition.Message, CurrentStep: current}
}

func newPersistenceError(err error) error {
	return &ServiceError{Code: ErrorPersistence, Message: ErrPersistence.Message, Err: err}
}

func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
