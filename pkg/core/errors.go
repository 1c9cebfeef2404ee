// Package core holds the error taxonomy shared by the assay SDK and its
// subpackages.
package core

import (
	"fmt"
)

// Error is the canonical error carried through the SDK.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    string    `json:"code,omitempty"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Code != "":
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	default:
		return fmt.Sprintf("%s: %s", e.Type, e.Message)
	}
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	return e.Cause
}

// ErrorType categorizes errors.
type ErrorType string

const (
	// ErrProbe covers failures reaching the capability endpoint. Fatal to a
	// connect attempt; there is no silent fallback because mode selection
	// gates everything downstream.
	ErrProbe ErrorType = "probe_error"

	// ErrMedia covers camera access failures. Fatal and reason-coded so the
	// consumer can show actionable text.
	ErrMedia ErrorType = "media_error"

	// ErrSignaling covers HTTP signaling failures and rejected negotiations.
	// Fatal; all partially-created resources are released before it surfaces.
	ErrSignaling ErrorType = "signaling_error"

	// ErrTransportRuntime covers failures after a session is established
	// (ICE failure, unexpected socket close). Reported only through the
	// connection-state callback, never raised to a caller.
	ErrTransportRuntime ErrorType = "transport_runtime_error"

	// ErrControl covers malformed incoming control messages. Logged and
	// dropped, never propagated.
	ErrControl ErrorType = "control_error"
)

// NewProbeError creates a probe error.
func NewProbeError(message string, cause error) *Error {
	return &Error{Type: ErrProbe, Message: message, Cause: cause}
}

// NewMediaError creates a media access error with a reason code.
func NewMediaError(message, reason string, cause error) *Error {
	return &Error{Type: ErrMedia, Message: message, Code: reason, Cause: cause}
}

// NewSignalingError creates a signaling error.
func NewSignalingError(message string, cause error) *Error {
	return &Error{Type: ErrSignaling, Message: message, Cause: cause}
}

// NewTransportRuntimeError creates a transport runtime error.
func NewTransportRuntimeError(message string, cause error) *Error {
	return &Error{Type: ErrTransportRuntime, Message: message, Cause: cause}
}

// NewControlError creates a control error.
func NewControlError(message string, cause error) *Error {
	return &Error{Type: ErrControl, Message: message, Cause: cause}
}

// FatalToConnect reports whether the error category aborts a connect attempt.
// Runtime and control errors never do; they are delivered out of band.
func (e *Error) FatalToConnect() bool {
	switch e.Type {
	case ErrProbe, ErrMedia, ErrSignaling:
		return true
	default:
		return false
	}
}
