package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "without wrapped error",
			err:  New(CodeInvalidInput, "invalid input"),
			want: "INVALID_INPUT: invalid input",
		},
		{
			name: "with wrapped error",
			err:  Wrap(CodeInternal, "something failed", errors.New("underlying")),
			want: "INTERNAL_ERROR: something failed: underlying",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := Wrap(CodeInternal, "wrapped", underlying)

	if unwrapped := err.Unwrap(); unwrapped != underlying {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, underlying)
	}
}

func TestAppError_HTTPStatus(t *testing.T) {
	tests := []struct {
		code   string
		status int
	}{
		{CodeMalformedRecord, http.StatusBadRequest},
		{CodeInvalidInput, http.StatusBadRequest},
		{CodeInvalidRequest, http.StatusBadRequest},
		{CodeNotFound, http.StatusNotFound},
		{CodeRateLimited, http.StatusTooManyRequests},
		{CodeEmbedderUnavailable, http.StatusServiceUnavailable},
		{CodeModelNotLoaded, http.StatusServiceUnavailable},
		{CodeDegenerateScore, http.StatusInternalServerError},
		{CodeCacheShapeMismatch, http.StatusInternalServerError},
		{CodeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test")
			if status := err.HTTPStatus(); status != tt.status {
				t.Errorf("HTTPStatus() = %d, want %d", status, tt.status)
			}
		})
	}
}

func TestAppError_WithDetail(t *testing.T) {
	err := New(CodeInvalidInput, "invalid").
		WithDetail("field", "context").
		WithDetail("reason", "required")

	if err.Details["field"] != "context" {
		t.Errorf("Details[field] = %s, want context", err.Details["field"])
	}
	if err.Details["reason"] != "required" {
		t.Errorf("Details[reason] = %s, want required", err.Details["reason"])
	}
}

func TestMalformedRecordError(t *testing.T) {
	err := MalformedRecordError(7, "missing field \"question\"")

	if err.Code != CodeMalformedRecord {
		t.Errorf("Code = %s, want %s", err.Code, CodeMalformedRecord)
	}
	if err.Details["line"] != "7" {
		t.Errorf("Details[line] = %s, want 7", err.Details["line"])
	}
	if err.Message != "line 7: missing field \"question\"" {
		t.Errorf("Message = %q", err.Message)
	}
}

func TestIsCode_WrappedChain(t *testing.T) {
	base := CacheShapeMismatchError("train", "row count 3 != 4")
	wrapped := fmt.Errorf("loading features: %w", base)

	if !IsCacheShapeMismatch(wrapped) {
		t.Error("IsCacheShapeMismatch(wrapped) = false, want true")
	}
	if IsMalformedRecord(wrapped) {
		t.Error("IsMalformedRecord(wrapped) = true, want false")
	}
	if IsDegenerateScore(errors.New("plain")) {
		t.Error("IsDegenerateScore(plain) = true, want false")
	}
	if !IsDegenerateScore(DegenerateScoreError("zero sum")) {
		t.Error("IsDegenerateScore(DegenerateScoreError) = false, want true")
	}
}

func TestEmbedderUnavailableError(t *testing.T) {
	underlying := errors.New("connection refused")
	err := EmbedderUnavailableError("ping failed", underlying)

	if err.Code != CodeEmbedderUnavailable {
		t.Errorf("Code = %s, want %s", err.Code, CodeEmbedderUnavailable)
	}
	if !errors.Is(err, underlying) {
		t.Error("errors.Is(err, underlying) = false, want true")
	}
}

func TestRateLimitedError(t *testing.T) {
	err := RateLimitedError(3)
	if err.Details["retry_after"] != "3" {
		t.Errorf("Details[retry_after] = %s, want 3", err.Details["retry_after"])
	}

	if err := RateLimitedError(0); err.Details != nil {
		t.Errorf("Details = %v, want nil", err.Details)
	}
}

func TestWriteError(t *testing.T) {
	t.Run("app error", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteError(rec, MalformedRecordError(1, "bad"))

		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}

		var resp ErrorResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Code != CodeMalformedRecord {
			t.Errorf("Code = %s, want %s", resp.Code, CodeMalformedRecord)
		}
	})

	t.Run("plain error is sanitized", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteError(rec, errors.New("secret path /var/lib"))

		if rec.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
		}

		var resp ErrorResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Error != "internal server error" {
			t.Errorf("Error = %q, want sanitized message", resp.Error)
		}
	})
}

func TestWriteErrorWithStatus_ClientError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteErrorWithStatus(rec, http.StatusBadRequest, errors.New("record body required"))

	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Code != CodeInvalidRequest {
		t.Errorf("Code = %s, want %s", resp.Code, CodeInvalidRequest)
	}
	if resp.Message != "record body required" {
		t.Errorf("Message = %q", resp.Message)
	}
}
