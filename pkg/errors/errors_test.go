package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", http.StatusBadRequest)
	expected := "INVALID_INPUT: test error"
	if err.Error() != expected {
		t.Errorf("Error() = %v, want %v", err.Error(), expected)
	}
}

func TestAppError_WithCause(t *testing.T) {
	originalErr := errors.New("original error")
	err := WrapError(originalErr, ErrCodeInternal, "wrapped error", http.StatusInternalServerError)

	if err.Cause != originalErr {
		t.Errorf("Cause = %v, want %v", err.Cause, originalErr)
	}
	if !strings.Contains(err.Error(), "original error") {
		t.Errorf("Error() should contain cause, got: %v", err.Error())
	}
	if !errors.Is(err, originalErr) {
		t.Error("errors.Is should see through the wrapper")
	}
}

func TestAppError_WithContext(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", http.StatusBadRequest)
	err.WithContext("field", "value").WithContext("count", 42)

	if err.Context["field"] != "value" {
		t.Errorf("Context[field] = %v, want 'value'", err.Context["field"])
	}
	if err.Context["count"] != 42 {
		t.Errorf("Context[count] = %v, want 42", err.Context["count"])
	}
}

func TestConstructors(t *testing.T) {
	cases := []struct {
		name       string
		err        *AppError
		code       ErrorCode
		httpStatus int
	}{
		{"invalid input", NewInvalidInputError("bad"), ErrCodeInvalidInput, http.StatusBadRequest},
		{"not found", NewNotFoundError("participant"), ErrCodeNotFound, http.StatusNotFound},
		{"unauthorized", NewUnauthorizedError("no token"), ErrCodeUnauthorized, http.StatusUnauthorized},
		{"forbidden", NewForbiddenError("host only"), ErrCodeForbidden, http.StatusForbidden},
		{"conflict", NewConflictError("already live"), ErrCodeConflict, http.StatusConflict},
		{"invalid transition", NewInvalidTransitionError("banned is terminal"), ErrCodeInvalidTransition, http.StatusConflict},
		{"session full", NewSessionFullError(), ErrCodeSessionFull, http.StatusConflict},
		{"destination failed", NewDestinationFailedError("negotiation failed"), ErrCodeDestinationFailed, http.StatusBadGateway},
		{"internal", NewInternalError("boom"), ErrCodeInternal, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.err.Code != tc.code {
				t.Errorf("Code = %v, want %v", tc.err.Code, tc.code)
			}
			if tc.err.HTTPStatus != tc.httpStatus {
				t.Errorf("HTTPStatus = %v, want %v", tc.err.HTTPStatus, tc.httpStatus)
			}
		})
	}
}

func TestNewNotFoundError_Message(t *testing.T) {
	err := NewNotFoundError("destination")
	if !strings.Contains(err.Message, "destination not found") {
		t.Errorf("Message = %q, want it to mention the resource", err.Message)
	}
}

func TestIsAppError(t *testing.T) {
	appErr := NewAppError(ErrCodeInvalidInput, "test", http.StatusBadRequest)
	regularErr := errors.New("regular error")

	if !IsAppError(appErr) {
		t.Error("IsAppError() should return true for AppError")
	}
	if IsAppError(regularErr) {
		t.Error("IsAppError() should return false for regular error")
	}
}

func TestGetAppError(t *testing.T) {
	appErr := NewAppError(ErrCodeInvalidInput, "test", http.StatusBadRequest)

	if got := GetAppError(appErr); got != appErr {
		t.Errorf("GetAppError() = %v, want %v", got, appErr)
	}

	wrapped := fmt.Errorf("outer: %w", appErr)
	if got := GetAppError(wrapped); got != appErr {
		t.Error("GetAppError() should extract AppError from a wrapped chain")
	}

	if got := GetAppError(errors.New("regular error")); got != nil {
		t.Error("GetAppError() should return nil for regular error")
	}

	if got := GetAppError(nil); got != nil {
		t.Error("GetAppError() should return nil for nil")
	}
}
