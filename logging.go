package rist

import (
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var pkgLogger atomic.Pointer[zap.Logger]

func init() {
	pkgLogger.Store(zap.NewNop())
}

// SetLogger sets the logger used by handles created without WithLogger and
// by the native log forwarder. A nil logger disables logging.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	pkgLogger.Store(l)
}

// Logger returns the package logger.
func Logger() *zap.Logger {
	return pkgLogger.Load()
}

// LogLevel is the verbosity of the native library.
type LogLevel int

const (
	LogDisable  LogLevel = -1
	LogError    LogLevel = 3
	LogWarn     LogLevel = 4
	LogNotice   LogLevel = 5
	LogInfo     LogLevel = 6
	LogDebug    LogLevel = 7
	LogSimulate LogLevel = 100
)

func (l LogLevel) String() string {
	switch l {
	case LogDisable:
		return "disable"
	case LogError:
		return "error"
	case LogWarn:
		return "warn"
	case LogNotice:
		return "notice"
	case LogInfo:
		return "info"
	case LogDebug:
		return "debug"
	case LogSimulate:
		return "simulate"
	default:
		return "unknown"
	}
}

// zapLevel maps a native level onto the closest zap level.
func (l LogLevel) zapLevel() zapcore.Level {
	switch {
	case l <= LogError:
		return zapcore.ErrorLevel
	case l == LogWarn:
		return zapcore.WarnLevel
	case l == LogNotice, l == LogInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// logNative forwards one native log line to the package logger.
func logNative(level LogLevel, msg string) {
	l := Logger()
	if ce := l.Check(level.zapLevel(), msg); ce != nil {
		ce.Write(zap.String("source", "librist"), zap.Stringer("native_level", level))
	}
}
