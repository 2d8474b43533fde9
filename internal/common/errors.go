package common

import (
	"errors"
	"net/http"
)

// Error codes returned in the "code" field of error bodies.
const (
	CodeBadRequest            = "BAD_REQUEST"
	CodeValidationFailed      = "VALIDATION_FAILED"
	CodeNotFound              = "NOT_FOUND"
	CodeInvalidTransition     = "INVALID_TRANSITION"
	CodeQuoteLocked           = "QUOTE_LOCKED"
	CodeQuoteNotDraft         = "QUOTE_NOT_DRAFT"
	CodeQuoteExpired          = "QUOTE_EXPIRED"
	CodeQuoteBusy             = "QUOTE_BUSY"
	CodeInvalidToken          = "INVALID_TOKEN"
	CodeRateLimited           = "RATE_LIMITED"
	CodePayloadTooLarge       = "PAYLOAD_TOO_LARGE"
	CodeIdempotencyInProgress = "IDEMPOTENCY_IN_PROGRESS"
	CodeIdempotencyMismatch   = "IDEMPOTENCY_KEY_REUSED"
	CodeNotImplemented        = "NOT_IMPLEMENTED"
	CodeInternal              = "INTERNAL"
)

// AppError is an error that knows how it is rendered over HTTP.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError. err may be nil.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// StatusOf returns the HTTP status err renders with; plain errors are 500.
func StatusOf(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.HTTPStatus != 0 {
		return appErr.HTTPStatus
	}
	if err == nil {
		return http.StatusOK
	}
	return http.StatusInternalServerError
}

// IsAppError reports whether err wraps an AppError.
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}
