package common

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType classifies an error for retry and exit-code decisions
type ErrorType string

const (
	// ErrorTypeSelection for an empty or unusable selection result
	ErrorTypeSelection ErrorType = "selection"
	// ErrorTypeValidation for input preconditions (project naming, flags)
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeAuth for authentication/authorization failures (fatal)
	ErrorTypeAuth ErrorType = "auth"
	// ErrorTypeTransient for retryable remote failures (timeout, 5xx)
	ErrorTypeTransient ErrorType = "transient"
	// ErrorTypeRateLimit for remote rate limiting (retryable)
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeNotFound for missing remote entities
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeArchive for archive integrity/format failures
	ErrorTypeArchive ErrorType = "archive"
	// ErrorTypeConflict for reconciliation conflicts (warning level)
	ErrorTypeConflict ErrorType = "conflict"
	// ErrorTypeStorage for identity-map/ledger persistence errors
	ErrorTypeStorage ErrorType = "storage"
	// ErrorTypeUnknown for unclassified remote errors
	ErrorTypeUnknown ErrorType = "unknown"
)

// VaultError represents a structured error with context
type VaultError struct {
	Type      ErrorType              `json:"type"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"-"`
}

// Error implements the error interface
func (e *VaultError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s:%s] %s: %s", e.Type, e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
}

// Unwrap implements the errors.Unwrap interface
func (e *VaultError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *VaultError) WithContext(key string, value interface{}) *VaultError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCause sets the underlying cause
func (e *VaultError) WithCause(cause error) *VaultError {
	e.Cause = cause
	return e
}

// WithDetails sets the details string
func (e *VaultError) WithDetails(details string) *VaultError {
	e.Details = details
	return e
}

// NewError creates a new VaultError
func NewError(errorType ErrorType, code, message string) *VaultError {
	return &VaultError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewSelectionError reports that the selection produced no usable work
func NewSelectionError(message string) *VaultError {
	return NewError(ErrorTypeSelection, "empty_selection", message)
}

// NewInvalidProjectNameError reports a project name that collides with the
// bundle naming scheme
func NewInvalidProjectNameError(project string) *VaultError {
	return NewError(ErrorTypeValidation, "invalid_project_name",
		fmt.Sprintf("project name %q ends in '-<digits>.zip' and would collide with bundle names", project))
}

// NewAuthError creates a fatal authentication error
func NewAuthError(message string) *VaultError {
	return NewError(ErrorTypeAuth, "unauthorized", message)
}

// NewTransientError creates a retryable remote error
func NewTransientError(code, message string) *VaultError {
	return NewError(ErrorTypeTransient, code, message)
}

// NewRateLimitError creates a retryable rate-limit error
func NewRateLimitError(message string) *VaultError {
	return NewError(ErrorTypeRateLimit, "rate_limited", message)
}

// NewNotFoundError creates a not-found remote error
func NewNotFoundError(message string) *VaultError {
	return NewError(ErrorTypeNotFound, "not_found", message)
}

// NewArchiveCorruptError reports an archive integrity failure
func NewArchiveCorruptError(message string) *VaultError {
	return NewError(ErrorTypeArchive, "archive_corrupt", message)
}

// NewConflictError reports a reconciliation conflict (warning level,
// resolved by last-write tie-break)
func NewConflictError(message string) *VaultError {
	return NewError(ErrorTypeConflict, "reconciliation_conflict", message)
}

// NewStorageError creates a persistence error
func NewStorageError(code, message string) *VaultError {
	return NewError(ErrorTypeStorage, code, message)
}

// NewUnknownRemoteError creates an unclassified remote error
func NewUnknownRemoteError(message string) *VaultError {
	return NewError(ErrorTypeUnknown, "remote_error", message)
}

// WrapError wraps an existing error with VaultError context
func WrapError(err error, errorType ErrorType, code, message string) *VaultError {
	return &VaultError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     err,
	}
}

// TypeOf returns the ErrorType of err, or ErrorTypeUnknown when err carries
// no classification
func TypeOf(err error) ErrorType {
	var ve *VaultError
	if errors.As(err, &ve) {
		return ve.Type
	}
	return ErrorTypeUnknown
}

// IsTransient reports whether err should be retried
func IsTransient(err error) bool {
	t := TypeOf(err)
	return t == ErrorTypeTransient || t == ErrorTypeRateLimit
}

// IsAuth reports whether err is a fatal authentication failure
func IsAuth(err error) bool {
	return TypeOf(err) == ErrorTypeAuth
}

// IsNotFound reports whether err is a missing-entity remote error
func IsNotFound(err error) bool {
	return TypeOf(err) == ErrorTypeNotFound
}

// IsArchiveCorrupt reports whether err is an archive integrity failure
func IsArchiveCorrupt(err error) bool {
	return TypeOf(err) == ErrorTypeArchive
}
