package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors sharing the same code so clones compare equal to their template.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) || e == nil || other == nil {
		return false
	}
	return e.Code == other.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
)

// Scheduling errors.
var (
	ErrEmptySubjectList         = New("EMPTY_SUBJECT_LIST", http.StatusUnprocessableEntity, "class has no subjects")
	ErrNoQualifiedTeacher       = New("NO_QUALIFIED_TEACHER", http.StatusUnprocessableEntity, "subject has no qualified teacher")
	ErrUnsatisfiableConstraints = New("UNSATISFIABLE_CONSTRAINTS", http.StatusUnprocessableEntity, "no clash-free timetable exists for the requested window")
	ErrInvalidWindow            = New("INVALID_WINDOW", http.StatusBadRequest, "invalid timetable window")
	ErrClassNotFound            = New("CLASS_NOT_FOUND", http.StatusNotFound, "class not found")
)

// Content generation errors.
var (
	ErrConfiguration        = New("CONFIGURATION_ERROR", http.StatusServiceUnavailable, "content generator is not configured")
	ErrMalformedResponse    = New("MALFORMED_RESPONSE", http.StatusBadGateway, "content generator returned malformed output")
	ErrGeneratorTimeout     = New("GENERATOR_TIMEOUT", http.StatusGatewayTimeout, "content generator timed out")
	ErrGeneratorUnavailable = New("GENERATOR_UNAVAILABLE", http.StatusBadGateway, "content generator temporarily unavailable")
)

// Workflow and grading errors.
var (
	ErrTargetDeleted    = New("TARGET_DELETED", http.StatusGone, "job target no longer exists")
	ErrJobLocked        = New("JOB_LOCKED", http.StatusLocked, "job is being processed by another worker")
	ErrUnknownJobKind   = New("UNKNOWN_JOB_KIND", http.StatusBadRequest, "unknown generation job kind")
	ErrExamNotFound     = New("EXAM_NOT_FOUND", http.StatusNotFound, "exam not found")
	ErrAlreadySubmitted = New("ALREADY_SUBMITTED", http.StatusConflict, "exam already submitted")
	ErrScheduleConflict = New("SCHEDULE_CONFLICT", http.StatusConflict, "schedule clashes with a committed timetable")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// CloneWrap returns a copy of the template wrapping the provided cause.
func CloneWrap(template *Error, err error, message string) *Error {
	clone := Clone(template, message)
	if clone != nil {
		clone.Err = err
	}
	return clone
}
