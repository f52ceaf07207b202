package rist

import (
	"fmt"
	"sync"
	"time"
)

// Payload is one logical unit of data carried by the transport. Data is owned
// by whoever holds the Payload; engines never retain it after a call returns.
type Payload struct {
	Data         []byte
	FlowID       uint32
	Seq          uint64
	NTPTimestamp uint64
}

// OptionKey names a context-level native option.
type OptionKey int

const (
	OptionFIFOSize      OptionKey = iota // receiver output queue, power of two
	OptionStatsInterval                  // milliseconds between stats updates
)

func (k OptionKey) String() string {
	switch k {
	case OptionFIFOSize:
		return "fifo-size"
	case OptionStatsInterval:
		return "stats-interval"
	default:
		return "unknown"
	}
}

// Engine is the set of native entry points a Handle drives. Every method
// returns a native code: zero (or a positive count) on success, a negative
// errno on failure.
//
// Contexts are only ever used by one goroutine at a time for Read and Write.
// Stats must not block and may be called concurrently with Read or Write.
// No method is called with a context after Destroy has been called for it.
type Engine interface {
	// Create allocates a native context. flowID is only used by senders.
	Create(role Role, profile Profile, flowID uint32) (ctx uintptr, code int)

	// SetOption applies a context-level option before Start.
	SetOption(ctx uintptr, key OptionKey, value uint32) int

	// AddPeer parses the peer URL, applies the typed recovery fields and
	// registers the peer with the context.
	AddPeer(ctx uintptr, peer PeerConfig) int

	// Start starts the context's worker threads.
	Start(ctx uintptr) int

	// Read blocks for at most timeout waiting for one payload. It returns
	// (nil, 0) on timeout. A zero timeout polls once.
	Read(ctx uintptr, timeout time.Duration) (*Payload, int)

	// Write hands one payload to the context and returns the number of bytes
	// accepted, or codeTimeout when the queue stayed full for timeout.
	Write(ctx uintptr, p *Payload, timeout time.Duration) int

	// Stats copies the latest snapshot. ok is false when none is available.
	Stats(ctx uintptr) (s Stats, ok bool)

	// Destroy releases the context.
	Destroy(ctx uintptr) int
}

var (
	defaultEngineOnce sync.Once
	defaultEngine     Engine
	defaultEngineErr  error
)

// DefaultEngine returns the librist engine, loading it on first use.
func DefaultEngine() (Engine, error) {
	defaultEngineOnce.Do(func() {
		defaultEngine, defaultEngineErr = LibRIST()
		if defaultEngineErr != nil {
			defaultEngineErr = fmt.Errorf("rist engine not available: %w", defaultEngineErr)
		}
	})
	return defaultEngine, defaultEngineErr
}
