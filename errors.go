package rist

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig reports a configuration rejected before any native call.
	ErrInvalidConfig = errors.New("rist: invalid configuration")
	// ErrBind reports a native failure while setting up a receiver.
	ErrBind = errors.New("rist: bind failed")
	// ErrConnect reports a native failure while setting up a sender.
	ErrConnect = errors.New("rist: connect failed")
	// ErrTimeout reports that nothing arrived before the caller's deadline.
	// It is not fatal; the caller may retry.
	ErrTimeout = errors.New("rist: timeout")
	// ErrClosed reports that the handle or the peer is gone. Terminal.
	ErrClosed = errors.New("rist: closed")
	// ErrBusy reports a conflicting operation pending on the same facade.
	ErrBusy = errors.New("rist: operation already pending")
	// ErrNative reports an uncategorised native failure.
	ErrNative = errors.New("rist: native error")
	// ErrInvalidHandle reports use of a handle after destruction began.
	ErrInvalidHandle = errors.New("rist: invalid handle")
)

// ConfigError describes a rejected configuration field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("rist: invalid configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

func configErrorf(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NativeError carries the raw code returned by the engine.
// Kind is one of ErrBind, ErrConnect, ErrClosed, ErrTimeout or ErrNative.
type NativeError struct {
	Op   string
	Code int
	Kind error

	name    string
	unknown bool
}

func (e *NativeError) Error() string {
	if e.name != "" {
		return fmt.Sprintf("%v: %s: %s (code %d)", e.Kind, e.Op, e.name, e.Code)
	}
	return fmt.Sprintf("%v: %s: code %d", e.Kind, e.Op, e.Code)
}

func (e *NativeError) Unwrap() error { return e.Kind }

// Unknown reports whether Code fell outside the recognised taxonomy.
func (e *NativeError) Unknown() bool { return e.unknown }

// newNativeError classifies code and builds the matching error. fallback is
// used as Kind for codes that do not belong to the timeout or closed classes,
// so setup failures surface as ErrBind or ErrConnect.
func newNativeError(op string, code int, fallback error) *NativeError {
	kind, name, ok := classifyCode(code)
	e := &NativeError{Op: op, Code: code, Kind: fallback, name: name, unknown: !ok}
	if ok && (kind == ErrClosed || kind == ErrTimeout) {
		e.Kind = kind
	}
	return e
}

// codeKind maps a native code to its error class. Unrecognised codes are
// ErrNative.
func codeKind(code int) error {
	kind, _, ok := classifyCode(code)
	if !ok {
		return ErrNative
	}
	return kind
}
