package errors

import (
	stderrors "errors"
	"fmt"
)

// FundragError is the structured error type used across fundrag.
// It carries enough context for logging, retry decisions and CLI output.
type FundragError struct {
	// Code is the unique error code (e.g., "ERR_304_ORACLE_UNAVAILABLE").
	Code string

	// Message is the human-readable error message.
	Message string

	Category Category
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error.
	Cause error

	// Retryable is derived from the code; network-class failures are retryable.
	Retryable bool

	// Suggestion is an actionable hint for the user.
	Suggestion string
}

// Sentinels for errors.Is checks. Matching is by code, so any FundragError
// created with the same code satisfies errors.Is against these.
var (
	ErrOracleUnavailable = &FundragError{Code: ErrCodeOracleUnavailable, Message: "oracle unavailable"}
	ErrOracleParse       = &FundragError{Code: ErrCodeOracleParse, Message: "oracle output could not be parsed"}
	ErrBackendTimeout    = &FundragError{Code: ErrCodeBackendTimeout, Message: "backend timed out"}
	ErrDocumentNotFound  = &FundragError{Code: ErrCodeDocumentNotFound, Message: "document not found"}
	ErrQueryEmpty        = &FundragError{Code: ErrCodeQueryEmpty, Message: "query is empty"}
)

// Error implements the error interface.
func (e *FundragError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *FundragError) Unwrap() error {
	return e.Cause
}

// Is matches by code so errors.Is works against the sentinels.
func (e *FundragError) Is(target error) bool {
	if t, ok := target.(*FundragError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *FundragError) WithDetail(key, value string) *FundragError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *FundragError) WithSuggestion(suggestion string) *FundragError {
	e.Suggestion = suggestion
	return e
}

// New creates a FundragError. Category, severity and the retryable flag
// are derived from the code.
func New(code string, message string, cause error) *FundragError {
	return &FundragError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a FundragError from an existing error, reusing its message.
func Wrap(code string, err error) *FundragError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration error.
func ConfigError(message string, cause error) *FundragError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ValidationError creates an input validation error.
func ValidationError(message string, cause error) *FundragError {
	return New(ErrCodeInvalidInput, message, cause)
}

// OracleUnavailable wraps a transport or model failure of an LLM oracle.
func OracleUnavailable(oracle string, cause error) *FundragError {
	return New(ErrCodeOracleUnavailable, oracle+" oracle unavailable", cause).
		WithDetail("oracle", oracle)
}

// OracleParse reports oracle output that no parser accepted.
func OracleParse(oracle string, raw string) *FundragError {
	if len(raw) > 200 {
		raw = raw[:200]
	}
	return New(ErrCodeOracleParse, oracle+" oracle returned unparsable output", nil).
		WithDetail("oracle", oracle).
		WithDetail("raw", raw)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *FundragError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable reports whether any FundragError in the chain is retryable.
func IsRetryable(err error) bool {
	var fe *FundragError
	if stderrors.As(err, &fe) {
		return fe.Retryable
	}
	return false
}

// IsFatal reports whether the error has fatal severity.
func IsFatal(err error) bool {
	var fe *FundragError
	if stderrors.As(err, &fe) {
		return fe.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the code of the first FundragError in the chain.
func GetCode(err error) string {
	var fe *FundragError
	if stderrors.As(err, &fe) {
		return fe.Code
	}
	return ""
}
