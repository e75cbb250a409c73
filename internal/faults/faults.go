// Package faults defines the error taxonomy shared across the arivox
// runtime.
//
// An [*Error] carries a [Kind] plus optional code, session, and channel
// identifiers so that internal observers (logs, metrics, error listeners) see
// a uniform structured shape regardless of which component produced the
// failure. Plain wrapped errors remain the norm inside packages; faults are
// minted at the boundaries where errors become events.
package faults

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure for policy decisions (retry, terminate, ignore).
type Kind string

const (
	ConfigInvalid      Kind = "config_invalid"
	NetworkUnavailable Kind = "network_unavailable"
	ProtocolViolation  Kind = "protocol_violation"
	AudioFormatInvalid Kind = "audio_format_invalid"
	LiveAPIRateLimit   Kind = "live_api_rate_limit"
	LiveAPIQuota       Kind = "live_api_quota"
	LiveAPIModel       Kind = "live_api_model"
	SessionNotFound    Kind = "session_not_found"
	TimeoutExceeded    Kind = "timeout_exceeded"
	Cancelled          Kind = "cancelled"
	Internal           Kind = "internal"
)

// Error is a classified failure with optional identifiers for correlation.
type Error struct {
	Kind      Kind
	Code      string
	Message   string
	SessionID string
	ChannelID string

	// Err is the wrapped cause, if any.
	Err error
}

// New creates an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind around err. Returns nil when err is
// nil. Context cancellation and deadline errors are reclassified as
// [Cancelled] and [TimeoutExceeded] respectively, overriding kind.
func Wrap(kind Kind, err error, message string) *Error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.Canceled):
		kind = Cancelled
	case errors.Is(err, context.DeadlineExceeded):
		kind = TimeoutExceeded
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithSession returns a copy of e annotated with session and channel ids.
func (e *Error) WithSession(sessionID, channelID string) *Error {
	cp := *e
	cp.SessionID = sessionID
	cp.ChannelID = channelID
	return &cp
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Code != "" {
		msg += "[" + e.Code + "]"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the Kind from err, descending through wrapped errors.
// Plain context errors map to Cancelled / TimeoutExceeded; everything else is
// Internal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	switch {
	case errors.Is(err, context.Canceled):
		return Cancelled
	case errors.Is(err, context.DeadlineExceeded):
		return TimeoutExceeded
	}
	return Internal
}

// IsFailure reports whether err represents a real failure. Cancellation is
// expected during teardown and never counts.
func IsFailure(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err) != Cancelled
}
