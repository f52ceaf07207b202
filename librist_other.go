//go:build !(darwin || linux)

package rist

import (
	"errors"
	"runtime"
)

var errLibRISTUnsupported = errors.New("librist binding is not supported on " + runtime.GOOS)

// LibRIST reports that no native engine exists on this platform. Use
// NewLoopback instead.
func LibRIST() (Engine, error) { return nil, errLibRISTUnsupported }

// IsLibRISTAvailable always reports false on this platform.
func IsLibRISTAvailable() bool { return false }

// Version returns "" on this platform.
func Version() string { return "" }

// SetNativeLogLevel is unsupported on this platform.
func SetNativeLogLevel(LogLevel) error { return errLibRISTUnsupported }
