package rist

import "time"

// outcomeKind is the semantic result of one blocking native call.
type outcomeKind int

const (
	outcomeReady   outcomeKind = iota // payload received or accepted
	outcomeTimeout                    // nothing ready within the timeout
	outcomeClosed                     // context or peer torn down, terminal
	outcomeFault                      // native error, surfaced once
)

func (k outcomeKind) String() string {
	switch k {
	case outcomeReady:
		return "ready"
	case outcomeTimeout:
		return "timeout"
	case outcomeClosed:
		return "closed"
	case outcomeFault:
		return "fault"
	default:
		return "unknown"
	}
}

type outcome struct {
	kind    outcomeKind
	payload *Payload // receive only
	n       int      // send only: bytes accepted
	err     error
}

// tryReceive performs exactly one blocking read of at most timeout.
func tryReceive(h *Handle, timeout time.Duration) outcome {
	p, code, err := h.read(timeout)
	if err != nil {
		return outcome{kind: outcomeClosed, err: err}
	}
	switch {
	case code > 0 && p != nil:
		return outcome{kind: outcomeReady, payload: p}
	case code >= 0:
		return outcome{kind: outcomeTimeout}
	}
	return classifyOutcome("read", code)
}

// trySend performs exactly one blocking write of at most timeout.
func trySend(h *Handle, p *Payload, timeout time.Duration) outcome {
	code, err := h.write(p, timeout)
	if err != nil {
		return outcome{kind: outcomeClosed, err: err}
	}
	if code >= 0 {
		return outcome{kind: outcomeReady, n: code}
	}
	return classifyOutcome("write", code)
}

func classifyOutcome(op string, code int) outcome {
	err := newNativeError(op, code, ErrNative)
	switch codeKind(code) {
	case ErrTimeout:
		return outcome{kind: outcomeTimeout}
	case ErrClosed:
		return outcome{kind: outcomeClosed, err: err}
	default:
		return outcome{kind: outcomeFault, err: err}
	}
}
