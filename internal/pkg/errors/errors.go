// Package errors provides custom error types and error handling utilities.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error codes.
const (
	// Input errors.
	CodeMalformedRecord = "MALFORMED_RECORD"
	CodeInvalidInput    = "INVALID_INPUT"
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeRateLimited     = "RATE_LIMITED"
	CodeNotFound        = "NOT_FOUND"

	// Pipeline errors.
	CodeCacheShapeMismatch  = "CACHE_SHAPE_MISMATCH"
	CodeDegenerateScore     = "DEGENERATE_SCORE"
	CodeEmbedderUnavailable = "EMBEDDER_UNAVAILABLE"
	CodeModelNotLoaded      = "MODEL_NOT_LOADED"
	CodeInternal            = "INTERNAL_ERROR"
)

// AppError represents an application error with code and details.
type AppError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	Err     error             `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code for this error.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case CodeMalformedRecord, CodeInvalidInput, CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeEmbedderUnavailable, CodeModelNotLoaded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// New creates a new AppError.
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with an AppError.
func Wrap(code, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails adds details to the error.
func (e *AppError) WithDetails(details map[string]string) *AppError {
	e.Details = details
	return e
}

// WithDetail adds a single detail to the error.
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Convenience constructors.

// MalformedRecordError reports a record that failed validation on the given
// 1-based input line.
func MalformedRecordError(line int, reason string) *AppError {
	return New(CodeMalformedRecord, fmt.Sprintf("line %d: %s", line, reason)).
		WithDetail("line", fmt.Sprintf("%d", line))
}

// InvalidInputError creates an invalid input error.
func InvalidInputError(message string) *AppError {
	return New(CodeInvalidInput, message)
}

// CacheShapeMismatchError reports cached artifacts that no longer match the
// records they were built from.
func CacheShapeMismatchError(split, reason string) *AppError {
	return New(CodeCacheShapeMismatch, fmt.Sprintf("feature cache for %q is stale: %s", split, reason)).
		WithDetail("split", split)
}

// DegenerateScoreError reports option scores that cannot be normalised.
func DegenerateScoreError(message string) *AppError {
	return New(CodeDegenerateScore, message)
}

// EmbedderUnavailableError creates an embedder failure error.
func EmbedderUnavailableError(message string, err error) *AppError {
	return Wrap(CodeEmbedderUnavailable, message, err)
}

// ModelNotLoadedError reports an inference call made before a scorer was
// trained or loaded.
func ModelNotLoadedError() *AppError {
	return New(CodeModelNotLoaded, "no scorer has been trained or loaded")
}

// InternalError creates an internal error.
func InternalError(message string, err error) *AppError {
	return Wrap(CodeInternal, message, err)
}

// InvalidRequestError creates an invalid request error.
func InvalidRequestError(message string) *AppError {
	return New(CodeInvalidRequest, message)
}

// RateLimitedError creates a rate limited error with retry information.
func RateLimitedError(retryAfterSeconds int) *AppError {
	err := New(CodeRateLimited, "rate limit exceeded")
	if retryAfterSeconds > 0 {
		err = err.WithDetail("retry_after", fmt.Sprintf("%d", retryAfterSeconds))
	}
	return err
}

// IsCode reports whether any error in err's chain is an AppError with code.
func IsCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsMalformedRecord checks if error is a malformed record error.
func IsMalformedRecord(err error) bool {
	return IsCode(err, CodeMalformedRecord)
}

// IsCacheShapeMismatch checks if error is a cache shape mismatch.
func IsCacheShapeMismatch(err error) bool {
	return IsCode(err, CodeCacheShapeMismatch)
}

// IsDegenerateScore checks if error is a degenerate score error.
func IsDegenerateScore(err error) bool {
	return IsCode(err, CodeDegenerateScore)
}

// ErrorResponse is the standard JSON error response structure.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// WriteJSON writes a JSON error response to the ResponseWriter.
func WriteJSON(w http.ResponseWriter, status int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Ignore encoding errors - headers already sent
	_ = json.NewEncoder(w).Encode(resp)
}

// WriteError writes an error response with proper sanitization.
// If err is an *AppError, it uses the code and status from the error.
// For other errors, it sanitizes the message to prevent leaking internal details.
func WriteError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		WriteJSON(w, appErr.HTTPStatus(), ErrorResponse{
			Error:   appErr.Message,
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: appErr.Details,
		})
		return
	}

	WriteJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal server error",
		Code:    CodeInternal,
		Message: "An unexpected error occurred",
	})
}

// WriteErrorWithStatus writes an error with a specific HTTP status code.
// 4xx messages are shown to the client, 5xx messages are sanitized.
func WriteErrorWithStatus(w http.ResponseWriter, status int, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		WriteJSON(w, status, ErrorResponse{
			Error:   appErr.Message,
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: appErr.Details,
		})
		return
	}

	if status >= 400 && status < 500 {
		WriteJSON(w, status, ErrorResponse{
			Error:   err.Error(),
			Code:    codeForStatus(status),
			Message: err.Error(),
		})
		return
	}

	WriteJSON(w, status, ErrorResponse{
		Error:   "internal server error",
		Code:    CodeInternal,
		Message: "An unexpected error occurred",
	})
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return CodeInvalidRequest
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusTooManyRequests:
		return CodeRateLimited
	case http.StatusServiceUnavailable:
		return CodeModelNotLoaded
	default:
		return CodeInternal
	}
}
