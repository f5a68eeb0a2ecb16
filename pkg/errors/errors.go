// Package errors defines the coded error type shared by billing services and
// the HTTP layer. Each Code maps to a status, a public message, and whether
// its details may be shown to callers.
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation          Code = "VALIDATION_ERROR"
	CodeUnauthorized        Code = "UNAUTHORIZED"
	CodeNotFound            Code = "NOT_FOUND"
	CodeConflict            Code = "CONFLICT"
	CodeInsufficientCredits Code = "INSUFFICIENT_CREDITS"
	CodeIdempotency         Code = "IDEMPOTENCY_KEY_REUSED"
	CodeInternal            Code = "INTERNAL_ERROR"
	CodeDependency          Code = "DEPENDENCY_ERROR"
)

// Metadata describes how a Code is rendered to API callers.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

const (
	showDetails = true
	hideDetails = false
	retryable   = true
	permanent   = false
)

var metadataByCode = map[Code]Metadata{
	CodeValidation:          {http.StatusBadRequest, permanent, "validation failed", showDetails},
	CodeUnauthorized:        {http.StatusUnauthorized, permanent, "authentication required", hideDetails},
	CodeNotFound:            {http.StatusNotFound, permanent, "resource not found", hideDetails},
	CodeConflict:            {http.StatusConflict, permanent, "conflict detected", hideDetails},
	CodeInsufficientCredits: {http.StatusPaymentRequired, permanent, "insufficient credits", showDetails},
	CodeIdempotency:         {http.StatusConflict, permanent, "idempotency key reused", showDetails},
	CodeInternal:            {http.StatusInternalServerError, retryable, "internal server error", hideDetails},
	CodeDependency:          {http.StatusServiceUnavailable, retryable, "dependency unavailable", showDetails},
}

// MetadataFor returns the rendering rules for code; unknown codes render as internal errors.
func MetadataFor(code Code) Metadata {
	meta, ok := metadataByCode[code]
	if !ok {
		return metadataByCode[CodeInternal]
	}
	return meta
}

// Error is a coded error with an optional cause and caller-visible details.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Newf formats message before building the error.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches code and message to err. A nil err behaves like New.
func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

// WithDetails sets the payload rendered under error.details and returns e.
func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.message == "" && e.cause != nil:
		return fmt.Sprintf("%s: %v", e.code, e.cause)
	default:
		return fmt.Sprintf("%s: %s", e.code, e.message)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches another *Error by code so sentinel comparisons work through errors.Is.
func (e *Error) Is(target error) bool {
	var other *Error
	if e == nil || !stdErrors.As(target, &other) || other == nil {
		return false
	}
	return other.code == e.code && (other.message == "" || other.message == e.message)
}

// As returns the outermost *Error in err's chain, or nil.
func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code Code) bool {
	for err != nil {
		typed := As(err)
		if typed == nil {
			return false
		}
		if typed.code == code {
			return true
		}
		err = typed.cause
	}
	return false
}

// InsufficientCreditsDetails is attached to CodeInsufficientCredits errors.
type InsufficientCreditsDetails struct {
	Balance  int64 `json:"balance"`
	Required int64 `json:"required"`
}

// InsufficientCredits builds the error returned when a deduction exceeds the balance.
func InsufficientCredits(balance, required int64) *Error {
	return Newf(CodeInsufficientCredits, "insufficient credits: balance %d, required %d", balance, required).
		WithDetails(InsufficientCreditsDetails{Balance: balance, Required: required})
}
