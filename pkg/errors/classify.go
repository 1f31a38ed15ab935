package errors

import (
	"context"
	"errors"
	"fmt"
)

// Kind tells the workflow runner whether a failure may be retried.
type Kind string

const (
	KindRetriable Kind = "RETRIABLE"
	KindFatal     Kind = "FATAL"
)

// fatalCodes are server-side codes that must still stop a job immediately.
var fatalCodes = map[string]bool{
	ErrConfiguration.Code:  true,
	ErrUnknownJobKind.Code: true,
}

// retriableCodes are client-side codes that describe a transient condition.
var retriableCodes = map[string]bool{
	ErrJobLocked.Code:        true,
	ErrScheduleConflict.Code: true,
}

// StepError tags an error with an explicit retry classification.
type StepError struct {
	Kind   Kind
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
	if e.Reason == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
}

// Unwrap returns the underlying error.
func (e *StepError) Unwrap() error {
	return e.Err
}

// Retriable marks err as safe to retry.
func Retriable(err error, reason string) *StepError {
	return &StepError{Kind: KindRetriable, Reason: reason, Err: err}
}

// Fatal marks err as terminal.
func Fatal(err error, reason string) *StepError {
	return &StepError{Kind: KindFatal, Reason: reason, Err: err}
}

// KindOf classifies err. Explicit StepError tags win; typed domain errors with a
// client-side status (4xx) or a fatal code are terminal; timeouts and untyped
// errors, such as store outages, are retriable.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindRetriable
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		if fatalCodes[appErr.Code] {
			return KindFatal
		}
		if retriableCodes[appErr.Code] {
			return KindRetriable
		}
		if appErr.Status >= 400 && appErr.Status < 500 {
			return KindFatal
		}
	}
	return KindRetriable
}

// IsRetriable reports whether err may be retried.
func IsRetriable(err error) bool {
	return err != nil && KindOf(err) == KindRetriable
}

// CodeOf returns the domain code carried by err, if any.
func CodeOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
