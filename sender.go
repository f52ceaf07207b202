package rist

import (
	"bytes"
	"context"
	"io"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// closeFlushTimeout bounds the final flush in Close when no write deadline
// is set.
const closeFlushTimeout = time.Second

// Sender is the async send facade. It connects to one address and writes
// payloads in call order.
//
// At most one Send, SendPayload, Write or Flush may be outstanding; a
// concurrent call fails with ErrBusy. After Close, or once the peer tears
// the session down, sends fail with ErrClosed.
type Sender struct {
	stream

	slot   *semaphore.Weighted
	closed atomic.Bool
	buf    []byte // pending Write bytes, guarded by slot
}

var _ io.WriteCloser = (*Sender)(nil)

// Connect creates a sender for addr with default configuration, for example
// "rist://127.0.0.1:5000". It returns once the session has started or ctx
// is done, whichever comes first.
func Connect(ctx context.Context, profile Profile, addr string, opts ...Option) (*Sender, error) {
	cfg, err := NewSenderConfig().Address(addr).Build()
	if err != nil {
		return nil, err
	}
	return ConnectConfig(ctx, profile, cfg, opts...)
}

// ConnectConfig creates a sender from a built configuration.
func ConnectConfig(ctx context.Context, profile Profile, cfg *Config, opts ...Option) (*Sender, error) {
	if cfg == nil {
		return nil, configErrorf("config", "nil config")
	}
	if cfg.Role() != RoleSender {
		return nil, configErrorf("role", "connect needs a sender config, got %s", cfg.Role())
	}
	o, err := newOptions(opts)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, ctxOutcome(err).err
	}

	type result struct {
		h   *Handle
		err error
	}
	ch := make(chan result, 1)
	go func() {
		h, err := newHandle(o.engine, profile, cfg, o.statsInterval, o.log)
		ch <- result{h, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		s := &Sender{slot: semaphore.NewWeighted(1)}
		s.stream = newStream(res.h, cfg, o, func(req *request, timeout time.Duration) outcome {
			return trySend(res.h, req.payload, timeout)
		})
		return s, nil
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.h != nil {
				if err := res.h.Destroy(); err != nil {
					o.log.Debug("destroy after cancelled connect", zap.Error(err))
				}
			}
		}()
		return nil, ctxOutcome(ctx.Err()).err
	}
}

// Send writes data as one payload and returns the number of bytes the
// native layer accepted. data is copied before Send returns, so the caller
// may reuse it. Cancelling ctx before the write is issued means nothing is
// written; once issued, the write cannot be recalled.
func (s *Sender) Send(ctx context.Context, data []byte) (int, error) {
	return s.SendPayload(ctx, &Payload{Data: data})
}

// SendPayload is Send with explicit metadata. A zero FlowID uses the
// configured flow.
func (s *Sender) SendPayload(ctx context.Context, p *Payload) (int, error) {
	if p == nil || len(p.Data) == 0 {
		return 0, nil
	}
	if len(p.Data) > s.cfg.MaxPayloadSize() {
		return 0, newNativeError("write", codeTooLarge, ErrNative)
	}
	if !s.slot.TryAcquire(1) {
		return 0, ErrBusy
	}
	defer s.slot.Release(1)
	return s.send(ctx, p)
}

func (s *Sender) send(ctx context.Context, p *Payload) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	cp := &Payload{
		Data:         bytes.Clone(p.Data),
		FlowID:       p.FlowID,
		Seq:          p.Seq,
		NTPTimestamp: p.NTPTimestamp,
	}
	if cp.FlowID == 0 {
		cp.FlowID = s.cfg.FlowID()
	}

	out := s.b.submit(ctx, cp)
	switch out.kind {
	case outcomeReady:
		return out.n, nil
	case outcomeClosed:
		s.closed.Store(true)
		return 0, ErrClosed
	default:
		return 0, out.err
	}
}

// Write implements io.Writer. Bytes are packed into payloads of the
// configured maximum size; a trailing partial payload is held until the
// next Write, Flush or Close.
func (s *Sender) Write(p []byte) (int, error) {
	if !s.slot.TryAcquire(1) {
		return 0, ErrBusy
	}
	defer s.slot.Release(1)
	if s.closed.Load() {
		return 0, ErrClosed
	}

	ctx, cancel := s.ioContext()
	defer cancel()

	limit := s.cfg.MaxPayloadSize()
	written := 0
	for len(p) > 0 {
		n := min(limit-len(s.buf), len(p))
		s.buf = append(s.buf, p[:n]...)
		p = p[n:]
		written += n
		if len(s.buf) == limit {
			if err := s.flush(ctx); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

// Flush sends any bytes buffered by Write.
func (s *Sender) Flush() error {
	if !s.slot.TryAcquire(1) {
		return ErrBusy
	}
	defer s.slot.Release(1)
	ctx, cancel := s.ioContext()
	defer cancel()
	return s.flush(ctx)
}

func (s *Sender) flush(ctx context.Context) error {
	if len(s.buf) == 0 {
		return nil
	}
	if _, err := s.send(ctx, &Payload{Data: s.buf}); err != nil {
		return err
	}
	s.buf = s.buf[:0]
	return nil
}

// SetWriteDeadline bounds subsequent Write and Flush calls. A zero value
// clears it.
func (s *Sender) SetWriteDeadline(t time.Time) error {
	s.setDeadline(t)
	return nil
}

// Close flushes buffered bytes, stops the bridge, waits for any in-flight
// write and destroys the native context. Close is idempotent.
func (s *Sender) Close() error {
	var flushErr error
	if !s.closed.Load() && !s.b.closed() {
		ctx, cancel := s.ioContext()
		if _, ok := ctx.Deadline(); !ok {
			cancel()
			ctx, cancel = context.WithTimeout(context.Background(), closeFlushTimeout)
		}
		// A busy slot means a write is in flight; shutdown will end it.
		if s.slot.TryAcquire(1) {
			flushErr = s.flush(ctx)
			s.slot.Release(1)
		}
		cancel()
	}
	s.closed.Store(true)
	return multierr.Combine(flushErr, s.shutdown())
}
