package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAppErrorImplementsError(t *testing.T) {
	var _ error = (*AppError)(nil)
}

func TestAppErrorErrorFormat(t *testing.T) {
	appErr := &AppError{
		Code:    ErrCodeValidationInvalidType,
		Message: "type must be email or push",
	}

	expected := "validation_invalid_type: type must be email or push"
	if appErr.Error() != expected {
		t.Errorf("Error() = %q, want %q", appErr.Error(), expected)
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	underlying := errors.New("redis: connection refused")
	appErr := NewAppError(ErrCodeInternalStore, "failed to read status", underlying)

	if !errors.Is(appErr, underlying) {
		t.Errorf("errors.Is should find the underlying error")
	}

	wrapped := fmt.Errorf("handler failed: %w", appErr)
	var target *AppError
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As should extract *AppError from a wrapped chain")
	}
	if target.Code != ErrCodeInternalStore {
		t.Errorf("Code = %q, want %q", target.Code, ErrCodeInternalStore)
	}
}

func TestErrorCodeHTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeValidationInvalidType, http.StatusBadRequest},
		{ErrCodeValidationInvalidPriority, http.StatusBadRequest},
		{ErrCodeValidationInvalidJSON, http.StatusBadRequest},
		{ErrCodeAuthTokenMissing, http.StatusUnauthorized},
		{ErrCodeAuthTokenExpired, http.StatusUnauthorized},
		{ErrCodeRateLimit, http.StatusTooManyRequests},
		{ErrCodeNotFoundNotification, http.StatusNotFound},
		{ErrCodeUpstreamBroker, http.StatusInternalServerError},
		{ErrCodeUpstreamUserService, http.StatusBadGateway},
		{ErrCodeInternalStore, http.StatusInternalServerError},
		{ErrorCode("something_else"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAppErrorWithDetailsDoesNotMutate(t *testing.T) {
	orig := NewAppErrorWithDetails(ErrCodeValidationMissingField, "missing", nil, map[string]any{"field": "user_id"})
	next := orig.WithDetails(map[string]any{"hint": "set user_id"})

	if len(orig.Details) != 1 {
		t.Errorf("original details mutated: %v", orig.Details)
	}
	if next.Details["field"] != "user_id" || next.Details["hint"] != "set user_id" {
		t.Errorf("merged details = %v", next.Details)
	}
}

func TestPermanent(t *testing.T) {
	base := errors.New("push token missing")
	err := Permanent(base)

	if !IsPermanent(err) {
		t.Error("IsPermanent should report true for a Permanent error")
	}
	if !errors.Is(err, base) {
		t.Error("Permanent should keep the original error in the chain")
	}
	if err.Error() != base.Error() {
		t.Errorf("Error() = %q, want %q", err.Error(), base.Error())
	}
	if IsPermanent(fmt.Errorf("wrapped: %w", err)) != true {
		t.Error("IsPermanent should see through fmt.Errorf wrapping")
	}
	if IsPermanent(base) {
		t.Error("a plain error must not be permanent")
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}
