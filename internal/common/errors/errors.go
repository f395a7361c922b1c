package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/xuecangming/drivefetch/internal/common/types"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	// 400 errors
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrConfig         ErrorCode = "CONFIG_ERROR"

	// 401 errors
	ErrAuthentication ErrorCode = "AUTHENTICATION_ERROR"

	// 404 errors
	ErrNotFound ErrorCode = "NOT_FOUND"

	// 409 errors
	ErrConflict ErrorCode = "CONFLICT"

	// 500 errors
	ErrInternal     ErrorCode = "INTERNAL_ERROR"
	ErrDownload     ErrorCode = "DOWNLOAD_ERROR"
	ErrSizeMismatch ErrorCode = "SIZE_MISMATCH"

	// 502, 503 errors
	ErrConnection ErrorCode = "CONNECTION_ERROR"
	ErrResponse   ErrorCode = "RESPONSE_ERROR"
)

// AppError represents an application error
type AppError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	HTTPStatus int                    `json:"-"`
	Cause      error                  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Details:    make(map[string]interface{}),
	}
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(key string, value interface{}) *AppError {
	e.Details[key] = value
	return e
}

// WithCause attaches the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// Common error constructors
func InvalidRequest(message string) *AppError {
	return NewAppError(ErrInvalidRequest, message, http.StatusBadRequest)
}

func ConfigError(field, message string) *AppError {
	return NewAppError(ErrConfig, message, http.StatusBadRequest).
		WithDetails("field", field)
}

func AuthenticationError(message string, cause error) *AppError {
	return NewAppError(ErrAuthentication, message, http.StatusUnauthorized).WithCause(cause)
}

func ConnectionError(message string, cause error) *AppError {
	return NewAppError(ErrConnection, message, http.StatusServiceUnavailable).WithCause(cause)
}

// SessionExpired turns a request the server rejected as unauthorized into a
// connection failure: the credentials are refreshed and the request retried.
// The authentication error itself is not kept in the chain.
func SessionExpired(rejected error) *AppError {
	message := "session rejected"
	var cause error = rejected
	var appErr *AppError
	if stderrors.As(rejected, &appErr) {
		message = "session rejected: " + appErr.Message
		cause = appErr.Cause
	}
	return ConnectionError(message, cause).WithDetails("session_expired", true)
}

// IsSessionExpired reports whether err comes from a rejected session
func IsSessionExpired(err error) bool {
	var appErr *AppError
	if !stderrors.As(err, &appErr) || appErr.Code != ErrConnection {
		return false
	}
	expired, _ := appErr.Details["session_expired"].(bool)
	return expired
}

func ResponseError(status int, message string) *AppError {
	return NewAppError(ErrResponse, message, http.StatusBadGateway).
		WithDetails("status", status)
}

func SizeMismatch(expected, actual int64) *AppError {
	return NewAppError(ErrSizeMismatch, "Downloaded size does not match expected size", http.StatusInternalServerError).
		WithDetails("expected", expected).
		WithDetails("actual", actual)
}

func NotFoundError(resource, id string) *AppError {
	return NewAppError(ErrNotFound, resource+" not found", http.StatusNotFound).
		WithDetails("id", id)
}

func ConflictError(resource, id string) *AppError {
	return NewAppError(ErrConflict, resource+" already exists", http.StatusConflict).
		WithDetails("id", id)
}

func InternalError(message string) *AppError {
	return NewAppError(ErrInternal, message, http.StatusInternalServerError)
}

// DownloadError is returned when a transfer exhausts its retry budgets
type DownloadError struct {
	Result *types.TransferResult
	Cause  error
}

func (e *DownloadError) Error() string {
	name := ""
	if e.Result != nil {
		name = e.Result.Name
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] download of %q failed: %v", ErrDownload, name, e.Cause)
	}
	return fmt.Sprintf("[%s] download of %q failed", ErrDownload, name)
}

func (e *DownloadError) Unwrap() error {
	return e.Cause
}

// NewDownloadError wraps a failed transfer result
func NewDownloadError(result *types.TransferResult, cause error) *DownloadError {
	if result != nil {
		result.Success = false
		if cause != nil && result.Error == "" {
			result.Error = cause.Error()
		}
	}
	return &DownloadError{Result: result, Cause: cause}
}

// Code returns the error code carried by err, or ErrInternal
func Code(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	var dlErr *DownloadError
	if stderrors.As(err, &dlErr) {
		return ErrDownload
	}
	return ErrInternal
}

// Is reports whether err carries the given code anywhere in its chain
func Is(err error, code ErrorCode) bool {
	for err != nil {
		switch e := err.(type) {
		case *AppError:
			if e.Code == code {
				return true
			}
		case *DownloadError:
			if code == ErrDownload {
				return true
			}
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// IsRetryable reports whether a job that failed with err may be run again
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if Is(err, ErrAuthentication) || Is(err, ErrConfig) {
		return false
	}
	return Is(err, ErrConnection)
}

// WriteError writes an error response in JSON form
func WriteError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		appErr = InternalError(err.Error())
	}
	status := appErr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": appErr,
	})
}
