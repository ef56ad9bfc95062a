package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	err := &Error{
		Kind:    KindTool,
		Message: "missing id",
	}

	expected := "tool_error: missing id"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestError_WithOpAndCause(t *testing.T) {
	err := NewConnectivityError("open transport", errors.New("dial refused"))

	expected := "connectivity_error: open transport: connection failed: dial refused"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewMediaError_Unwrap(t *testing.T) {
	cause := errors.New("permission denied")
	err := NewMediaError("open microphone", cause)
	if err.Kind != KindMedia {
		t.Errorf("Kind = %v, want %v", err.Kind, KindMedia)
	}
	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(err, cause) = false, want true")
	}
}

func TestKindOf_Wrapped(t *testing.T) {
	err := fmt.Errorf("save: %w", NewPersistenceError("save", errors.New("disk full")))
	if got := KindOf(err); got != KindPersistence {
		t.Errorf("KindOf() = %q, want %q", got, KindPersistence)
	}
	if got := KindOf(errors.New("plain")); got != "" {
		t.Errorf("KindOf(plain) = %q, want empty", got)
	}
}

func TestIsRecoverable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{ErrNoCredential, false},
		{NewConnectivityError("open", errors.New("x")), false},
		{NewMediaError("mic", errors.New("x")), true},
		{NewToolError("manageWorkspace", "missing id"), true},
		{NewPersistenceError("save", errors.New("x")), true},
		{&Error{Kind: KindTeardown, Message: "closed"}, true},
		{errors.New("plain"), true},
	}

	for _, tt := range tests {
		if got := IsRecoverable(tt.err); got != tt.want {
			t.Errorf("IsRecoverable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
