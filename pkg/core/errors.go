package core

import (
	"errors"
	"fmt"
)

// Error is a categorized failure surfaced by the session core.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Op      string    `json:"op,omitempty"`
	Err     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %s: %v", e.Kind, e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorKind categorizes errors.
type ErrorKind string

const (
	// KindConnectivity covers missing credentials, transport open failures and
	// unexpected closes.
	KindConnectivity ErrorKind = "connectivity_error"
	// KindMedia covers microphone, speaker and screen-capture acquisition.
	KindMedia ErrorKind = "media_error"
	// KindTool covers bad tool arguments and downstream capability failures.
	KindTool ErrorKind = "tool_error"
	// KindPersistence covers snapshot store failures.
	KindPersistence ErrorKind = "persistence_error"
	// KindTeardown covers sends racing an intentional close.
	KindTeardown ErrorKind = "teardown_error"
)

var (
	// ErrNoCredential is returned by Connect when no API key is configured.
	ErrNoCredential = &Error{Kind: KindConnectivity, Message: "no API key configured"}

	// ErrNotConnected is returned by operations that need an open session.
	ErrNotConnected = &Error{Kind: KindConnectivity, Message: "session is not connected"}
)

// NewConnectivityError creates a connectivity error.
func NewConnectivityError(op string, err error) *Error {
	return &Error{
		Kind:    KindConnectivity,
		Op:      op,
		Message: "connection failed",
		Err:     err,
	}
}

// NewMediaError creates a media acquisition error.
func NewMediaError(op string, err error) *Error {
	return &Error{
		Kind:    KindMedia,
		Op:      op,
		Message: "media unavailable",
		Err:     err,
	}
}

// NewToolError creates a tool handler error.
func NewToolError(tool, message string) *Error {
	return &Error{
		Kind:    KindTool,
		Op:      tool,
		Message: message,
	}
}

// NewPersistenceError creates a persistence error.
func NewPersistenceError(op string, err error) *Error {
	return &Error{
		Kind:    KindPersistence,
		Op:      op,
		Message: "snapshot store failed",
		Err:     err,
	}
}

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsRecoverable reports whether the session can keep running after err.
// Only connectivity errors change the connection state.
func IsRecoverable(err error) bool {
	switch KindOf(err) {
	case KindConnectivity:
		return false
	default:
		return true
	}
}
