package rist

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// BridgeCounters are cumulative counters kept by a facade's bridge.
type BridgeCounters struct {
	Delivered uint64 // results handed to a caller
	Discarded uint64 // results of abandoned requests
	Faults    uint64 // native errors surfaced to callers
}

// stream holds what Receiver and Sender share: the handle, the bridge
// driving it, and teardown ordering.
type stream struct {
	h   *Handle
	cfg *Config
	b   *bridge
	log *zap.Logger

	deadline  atomic.Int64 // unix nanos, 0 = none
	closeOnce sync.Once
	closeErr  error
}

func newStream(h *Handle, cfg *Config, o options, op func(*request, time.Duration) outcome) stream {
	return stream{
		h:   h,
		cfg: cfg,
		b:   newBridge(h, o.poll, h.log, op),
		log: h.log,
	}
}

// ID returns the handle identifier.
func (s *stream) ID() string { return s.h.ID() }

// Config returns the configuration the facade was created with.
func (s *stream) Config() *Config { return s.cfg }

// State returns the bridge state (StateIdle, StatePolling, ...).
func (s *stream) State() string { return s.b.State() }

// Closed reports whether the bridge reached its terminal state.
func (s *stream) Closed() bool { return s.b.closed() }

// Counters returns the bridge counters.
func (s *stream) Counters() BridgeCounters {
	return BridgeCounters{
		Delivered: s.b.delivered.Load(),
		Discarded: s.b.discarded.Load(),
		Faults:    s.b.faults.Load(),
	}
}

// Stats returns a fresh snapshot copied from the engine. It never waits on
// the bridge. ok is false once the facade is closed or when no snapshot is
// available yet.
func (s *stream) Stats() (Stats, bool) {
	if s.b.closed() {
		return Stats{}, false
	}
	st, ok, err := s.h.Stats()
	if err != nil || !ok {
		return Stats{}, false
	}
	return st, true
}

func (s *stream) setDeadline(t time.Time) {
	if t.IsZero() {
		s.deadline.Store(0)
		return
	}
	s.deadline.Store(t.UnixNano())
}

// ioContext derives the context used by the io adapters.
func (s *stream) ioContext() (context.Context, context.CancelFunc) {
	if ns := s.deadline.Load(); ns != 0 {
		return context.WithDeadline(context.Background(), time.Unix(0, ns))
	}
	return context.WithCancel(context.Background())
}

// shutdown stops the bridge, waits for the in-flight call and only then
// destroys the native context.
func (s *stream) shutdown() error {
	s.closeOnce.Do(func() {
		s.b.close()
		s.closeErr = s.h.Destroy()
		s.log.Debug("stream closed", zap.Uint64("delivered", s.b.delivered.Load()),
			zap.Uint64("discarded", s.b.discarded.Load()))
	})
	return s.closeErr
}
