package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/xuecangming/drivefetch/internal/common/types"
)

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrConfig, "test message", http.StatusBadRequest)

	expected := "[CONFIG_ERROR] test message"
	if err.Error() != expected {
		t.Errorf("AppError.Error() = %q, want %q", err.Error(), expected)
	}
}

func TestAppError_ErrorWithCause(t *testing.T) {
	err := ConnectionError("request failed", fmt.Errorf("connection reset"))

	expected := "[CONNECTION_ERROR] request failed: connection reset"
	if err.Error() != expected {
		t.Errorf("AppError.Error() = %q, want %q", err.Error(), expected)
	}
}

func TestAppError_WithDetails(t *testing.T) {
	err := NewAppError(ErrNotFound, "not found", http.StatusNotFound).
		WithDetails("id", "abc").
		WithDetails("path", "/abc")

	if err.Details["id"] != "abc" {
		t.Errorf("Details[id] = %v, want 'abc'", err.Details["id"])
	}
	if err.Details["path"] != "/abc" {
		t.Errorf("Details[path] = %v, want '/abc'", err.Details["path"])
	}
}

func TestConfigError(t *testing.T) {
	err := ConfigError("transfer.chunk_size", "must be positive")

	if err.Code != ErrConfig {
		t.Errorf("Code = %v, want %v", err.Code, ErrConfig)
	}
	if err.Details["field"] != "transfer.chunk_size" {
		t.Errorf("Details[field] = %v, want 'transfer.chunk_size'", err.Details["field"])
	}
}

func TestSizeMismatch(t *testing.T) {
	err := SizeMismatch(1000, 500)

	if err.Code != ErrSizeMismatch {
		t.Errorf("Code = %v, want %v", err.Code, ErrSizeMismatch)
	}
	if err.Details["expected"] != int64(1000) {
		t.Errorf("Details[expected] = %v, want 1000", err.Details["expected"])
	}
	if err.Details["actual"] != int64(500) {
		t.Errorf("Details[actual] = %v, want 500", err.Details["actual"])
	}
}

func TestIs_WrappedChain(t *testing.T) {
	inner := AuthenticationError("bad cookies", nil)
	wrapped := fmt.Errorf("listing /: %w", inner)

	if !Is(wrapped, ErrAuthentication) {
		t.Errorf("Is(wrapped, ErrAuthentication) = false, want true")
	}
	if Is(wrapped, ErrConnection) {
		t.Errorf("Is(wrapped, ErrConnection) = true, want false")
	}
	if Code(wrapped) != ErrAuthentication {
		t.Errorf("Code(wrapped) = %v, want %v", Code(wrapped), ErrAuthentication)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection", ConnectionError("reset", nil), true},
		{"wrapped connection", fmt.Errorf("job: %w", ConnectionError("reset", nil)), true},
		{"authentication", AuthenticationError("denied", nil), false},
		{"session expired", SessionExpired(AuthenticationError("unauthorized", nil)), true},
		{"download exhausted", NewDownloadError(&types.TransferResult{Name: "a"}, nil), false},
		{"plain", stderrors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSessionExpired(t *testing.T) {
	rejected := fmt.Errorf("GET /folders: %w", AuthenticationError("unauthorized", stderrors.New("status 401")))
	err := SessionExpired(rejected)

	if !IsSessionExpired(err) {
		t.Errorf("IsSessionExpired() = false, want true")
	}
	if !IsSessionExpired(fmt.Errorf("list: %w", err)) {
		t.Errorf("IsSessionExpired(wrapped) = false, want true")
	}
	if Is(err, ErrAuthentication) {
		t.Errorf("Is(err, ErrAuthentication) = true, want false")
	}
	if err.Message != "session rejected: unauthorized" {
		t.Errorf("Message = %q", err.Message)
	}
	if err.Unwrap() == nil || err.Unwrap().Error() != "status 401" {
		t.Errorf("Unwrap() = %v, want status 401", err.Unwrap())
	}
	if IsSessionExpired(ConnectionError("reset", nil)) {
		t.Errorf("IsSessionExpired(plain connection) = true, want false")
	}
}

func TestNewDownloadError(t *testing.T) {
	result := &types.TransferResult{Name: "movie.mkv", Success: true}
	err := NewDownloadError(result, ConnectionError("reset", nil))

	if result.Success {
		t.Errorf("Result.Success = true, want false")
	}
	if result.Error == "" {
		t.Errorf("Result.Error is empty, want cause message")
	}
	var dl *DownloadError
	if !stderrors.As(fmt.Errorf("wrap: %w", err), &dl) {
		t.Fatalf("errors.As did not find *DownloadError")
	}
	if dl.Result != result {
		t.Errorf("Result pointer not preserved")
	}
	if Code(err) != ErrDownload {
		t.Errorf("Code() = %v, want %v", Code(err), ErrDownload)
	}
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedCode   string
	}{
		{
			name:           "AppError",
			err:            NotFoundError("download", "abc"),
			expectedStatus: http.StatusNotFound,
			expectedCode:   "NOT_FOUND",
		},
		{
			name:           "generic error",
			err:            &testError{msg: "generic error"},
			expectedStatus: http.StatusInternalServerError,
			expectedCode:   "INTERNAL_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.err)

			if w.Code != tt.expectedStatus {
				t.Errorf("status code = %v, want %v", w.Code, tt.expectedStatus)
			}

			body := w.Body.String()
			if !strings.Contains(body, tt.expectedCode) {
				t.Errorf("body = %v, should contain %v", body, tt.expectedCode)
			}

			contentType := w.Header().Get("Content-Type")
			if contentType != "application/json" {
				t.Errorf("Content-Type = %v, want application/json", contentType)
			}
		})
	}
}

// testError is a simple error type for testing
type testError struct {
	msg string
}

func (e *testError) Error() string {
	return e.msg
}
