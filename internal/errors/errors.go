package errors

import (
	"errors"
	"fmt"
	"time"
)

var (
	Is     = errors.Is
	As     = errors.As
	New    = errors.New
	Unwrap = errors.Unwrap
	Join   = errors.Join
)

type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "CONFIGURATION" // No provider for a scheme, bad options
	CategoryNetwork       ErrorCategory = "NETWORK"       // Connection issues
	CategoryProtocol      ErrorCategory = "PROTOCOL"      // Protocol-specific errors
	CategoryIO            ErrorCategory = "IO"            // File system issues
	CategoryResource      ErrorCategory = "RESOURCE"      // Resource not found, etc.
	CategorySecurity      ErrorCategory = "SECURITY"      // Auth, permissions, etc.
	CategoryContext       ErrorCategory = "CONTEXT"       // Context cancellation
	CategoryUnknown       ErrorCategory = "UNKNOWN"       // Unclassified errors
)

// DownloadError represents an error that occurred during download operations
type DownloadError struct {
	Err        error         // Original error
	Category   ErrorCategory // General category
	Retryable  bool          // Whether retry is recommended
	Timestamp  time.Time     // When the error occurred
	Resource   string        // What resource was being accessed
	StatusCode int           // HTTP status code or protocol equivalent
}

// Error implements the error interface
func (e *DownloadError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("[%s] %s: %v", e.Category, e.Resource, e.Err)
	}
	return fmt.Sprintf("[%s] %s (status: %d): %v", e.Category, e.Resource, e.StatusCode, e.Err)
}

// Unwrap provides the underlying cause for error unwrapping (compatible with errors.As)
func (e *DownloadError) Unwrap() error {
	return e.Err
}

// Common sentinel errors
var (
	ErrUnsupportedScheme = New("no protocol provider registered for scheme")
	ErrInvalidURL        = New("invalid URL")
	ErrTimeout           = New("operation timed out")
	ErrResourceNotFound  = New("resource not found")
	ErrAccessDenied      = New("access denied")
	ErrAuthentication    = New("authentication required")
)

// NewConfigurationError creates a fatal configuration error. These are never retried.
func NewConfigurationError(err error, resource string) *DownloadError {
	return &DownloadError{
		Err:       err,
		Category:  CategoryConfiguration,
		Retryable: false,
		Timestamp: time.Now(),
		Resource:  resource,
	}
}

// NewNetworkError creates a network-related error
func NewNetworkError(err error, resource string, retryable bool) *DownloadError {
	return &DownloadError{
		Err:       err,
		Category:  CategoryNetwork,
		Retryable: retryable,
		Timestamp: time.Now(),
		Resource:  resource,
	}
}

// NewIOError creates an I/O related error
func NewIOError(err error, resource string) *DownloadError {
	return &DownloadError{
		Err:       err,
		Category:  CategoryIO,
		Retryable: false,
		Timestamp: time.Now(),
		Resource:  resource,
	}
}

// NewContextError creates a context cancellation error
func NewContextError(err error, resource string) *DownloadError {
	return &DownloadError{
		Err:       err,
		Category:  CategoryContext,
		Retryable: false,
		Timestamp: time.Now(),
		Resource:  resource,
	}
}

// NewProtocolError creates an error for a failed protocol exchange, classified by status code.
func NewProtocolError(err error, resource string, statusCode int) *DownloadError {
	retryable := false
	category := CategoryProtocol

	switch {
	case statusCode == 401 || statusCode == 403:
		category = CategorySecurity
	case statusCode >= 500 && statusCode != 501:
		retryable = true
	case statusCode == 429:
		retryable = true
	case statusCode >= 400:
		category = CategoryResource
	}

	return &DownloadError{
		Err:        err,
		Category:   category,
		Retryable:  retryable,
		Timestamp:  time.Now(),
		Resource:   resource,
		StatusCode: statusCode,
	}
}

// IsRetryable determines if an error should be retried
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var downloadErr *DownloadError
	if As(err, &downloadErr) {
		return downloadErr.Retryable
	}

	return false
}

// IsConfigurationError reports whether err is a fatal configuration error.
func IsConfigurationError(err error) bool {
	var downloadErr *DownloadError
	return As(err, &downloadErr) && downloadErr.Category == CategoryConfiguration
}

// IsNetworkError determines if the error is network-related
func IsNetworkError(err error) bool {
	var downloadErr *DownloadError
	return As(err, &downloadErr) && downloadErr.Category == CategoryNetwork
}

// IsIOError determines if the error is I/O related
func IsIOError(err error) bool {
	var downloadErr *DownloadError
	return As(err, &downloadErr) && downloadErr.Category == CategoryIO
}

// GetStatusCode extracts the status code from an error if available
func GetStatusCode(err error) (int, bool) {
	var downloadErr *DownloadError
	if As(err, &downloadErr) {
		return downloadErr.StatusCode, true
	}
	return 0, false
}
