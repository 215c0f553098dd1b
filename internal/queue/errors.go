// Metricus - Asynchronous Bulk Event Processing Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package queue

import (
	"errors"
	"strings"
)

// ErrorCategory classifies processing failures for metrics and triage.
type ErrorCategory string

const (
	CategoryConnection ErrorCategory = "connection"
	CategoryTimeout    ErrorCategory = "timeout"
	CategoryValidation ErrorCategory = "validation"
	CategoryDatabase   ErrorCategory = "database"
	CategoryCapacity   ErrorCategory = "capacity"
	CategoryUnknown    ErrorCategory = "unknown"
)

// RetryableError marks a transient failure. The router retries these with
// exponential backoff before dead-lettering.
type RetryableError struct {
	Message  string
	Cause    error
	Category ErrorCategory
}

func (e *RetryableError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *RetryableError) Unwrap() error { return e.Cause }

// PermanentError marks a failure that no retry can fix. The router sends
// these straight to the dead-letter queue without burning retry attempts.
type PermanentError struct {
	Message  string
	Cause    error
	Category ErrorCategory
}

func (e *PermanentError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *PermanentError) Unwrap() error { return e.Cause }

// NewRetryableError builds a RetryableError, inferring the category from
// the message and cause text.
func NewRetryableError(message string, cause error) *RetryableError {
	return &RetryableError{
		Message:  message,
		Cause:    cause,
		Category: categorizeError(message, cause),
	}
}

// NewPermanentError builds a PermanentError, inferring the category from
// the message and cause text.
func NewPermanentError(message string, cause error) *PermanentError {
	return &PermanentError{
		Message:  message,
		Cause:    cause,
		Category: categorizeError(message, cause),
	}
}

// IsRetryableError reports whether err is, or wraps, a RetryableError.
func IsRetryableError(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// IsPermanentError reports whether err is, or wraps, a PermanentError.
func IsPermanentError(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// CategoryOf extracts the category from a classified error, or
// CategoryUnknown for anything else.
func CategoryOf(err error) ErrorCategory {
	var re *RetryableError
	if errors.As(err, &re) {
		return re.Category
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return CategoryUnknown
}

// transientSignatures are substrings that identify failures worth
// retrying: infrastructure hiccups rather than bad input.
var transientSignatures = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection reset",
	"connection refused",
	"connection closed",
	"broken pipe",
	"unreachable",
	"network",
	"i/o timeout",
	"too many connections",
	"temporarily unavailable",
	"try again",
}

// ClassifyError wraps an unclassified error from a downstream dependency.
// Errors already marked retryable or permanent pass through unchanged;
// otherwise transient infrastructure signatures become retryable and
// everything else is treated as permanent.
func ClassifyError(message string, err error) error {
	if err == nil {
		return nil
	}
	if IsRetryableError(err) || IsPermanentError(err) {
		return err
	}
	if containsAnyIgnoreCase(err.Error(), transientSignatures) {
		return NewRetryableError(message, err)
	}
	return NewPermanentError(message, err)
}

func categorizeError(message string, cause error) ErrorCategory {
	text := message
	if cause != nil {
		text += " " + cause.Error()
	}

	switch {
	case containsAnyIgnoreCase(text, []string{"connection", "connect", "refused", "reset", "network", "broken pipe"}):
		return CategoryConnection
	case containsAnyIgnoreCase(text, []string{"timeout", "deadline", "timed out"}):
		return CategoryTimeout
	case containsAnyIgnoreCase(text, []string{"invalid", "validation", "malformed", "parse", "unmarshal"}):
		return CategoryValidation
	case containsAnyIgnoreCase(text, []string{"database", "duckdb", "sql", "query", "constraint"}):
		return CategoryDatabase
	case containsAnyIgnoreCase(text, []string{"capacity", "full", "limit", "exceeded", "too many"}):
		return CategoryCapacity
	default:
		return CategoryUnknown
	}
}

func containsAnyIgnoreCase(s string, subs []string) bool {
	lower := strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}
