package rist

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Receiver is the async receive facade. It listens on one address and
// yields payloads in arrival order.
//
// At most one Receive or Read may be outstanding; a concurrent call fails
// with ErrBusy. Once the receiver is closed, or the peer tears the session
// down, every receive returns io.EOF.
type Receiver struct {
	stream

	slot *semaphore.Weighted
	eof  atomic.Bool
	rest []byte  // unread tail of the last payload, guarded by slot
	head Payload // metadata of the payload rest belongs to, Data unset
}

var _ io.ReadCloser = (*Receiver)(nil)

// Bind creates a receiver listening on addr with default configuration, for
// example "rist://@:5000".
func Bind(profile Profile, addr string, opts ...Option) (*Receiver, error) {
	cfg, err := NewReceiverConfig().Address(addr).Build()
	if err != nil {
		return nil, err
	}
	return BindConfig(profile, cfg, opts...)
}

// BindConfig creates a receiver from a built configuration.
func BindConfig(profile Profile, cfg *Config, opts ...Option) (*Receiver, error) {
	if cfg == nil {
		return nil, configErrorf("config", "nil config")
	}
	if cfg.Role() != RoleReceiver {
		return nil, configErrorf("role", "bind needs a receiver config, got %s", cfg.Role())
	}
	o, err := newOptions(opts)
	if err != nil {
		return nil, err
	}
	h, err := newHandle(o.engine, profile, cfg, o.statsInterval, o.log)
	if err != nil {
		return nil, err
	}

	r := &Receiver{slot: semaphore.NewWeighted(1)}
	r.stream = newStream(h, cfg, o, func(_ *request, timeout time.Duration) outcome {
		return tryReceive(h, timeout)
	})
	return r, nil
}

// Receive waits for the next payload. Cancelling ctx abandons the wait; a
// payload that arrives afterwards is dropped, never handed to a later call.
// A ctx deadline surfaces as an error matching both ErrTimeout and
// context.DeadlineExceeded.
func (r *Receiver) Receive(ctx context.Context) (*Payload, error) {
	if !r.slot.TryAcquire(1) {
		return nil, ErrBusy
	}
	defer r.slot.Release(1)

	if len(r.rest) > 0 {
		p := r.head
		p.Data = r.rest
		r.rest = nil
		return &p, nil
	}
	return r.receive(ctx)
}

func (r *Receiver) receive(ctx context.Context) (*Payload, error) {
	if r.eof.Load() {
		return nil, io.EOF
	}
	out := r.b.submit(ctx, nil)
	switch out.kind {
	case outcomeReady:
		return out.payload, nil
	case outcomeClosed:
		r.eof.Store(true)
		return nil, io.EOF
	default:
		return nil, out.err
	}
}

// Read implements io.Reader. A payload larger than p is returned across
// several calls; message boundaries are not preserved.
func (r *Receiver) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if !r.slot.TryAcquire(1) {
		return 0, ErrBusy
	}
	defer r.slot.Release(1)

	if len(r.rest) == 0 {
		ctx, cancel := r.ioContext()
		defer cancel()
		for len(r.rest) == 0 {
			pl, err := r.receive(ctx)
			if err != nil {
				return 0, err
			}
			r.rest = pl.Data
			r.head = Payload{FlowID: pl.FlowID, Seq: pl.Seq, NTPTimestamp: pl.NTPTimestamp}
		}
	}
	n := copy(p, r.rest)
	r.rest = r.rest[n:]
	return n, nil
}

// SetReadDeadline bounds subsequent Read calls. A zero value clears it.
func (r *Receiver) SetReadDeadline(t time.Time) error {
	r.setDeadline(t)
	return nil
}

// Close stops the bridge, waits for any in-flight read and destroys the
// native context. Pending receives return io.EOF. Close is idempotent.
func (r *Receiver) Close() error {
	r.eof.Store(true)
	return r.shutdown()
}
