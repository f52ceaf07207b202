package rist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

// DefaultPollInterval bounds each blocking native call made by a bridge, and
// with it the latency of noticing cancellation or Close.
const DefaultPollInterval = 20 * time.Millisecond

// Bridge states.
const (
	StateIdle       = "idle"
	StatePolling    = "polling"
	StateDelivering = "delivering"
	StateTimedOut   = "timed_out"
	StateFaulted    = "faulted"
	StateClosed     = "closed"
)

const (
	evPoll    = "poll"
	evRetry   = "retry"
	evTimeout = "timeout"
	evDeliver = "deliver"
	evFault   = "fault"
	evDone    = "done"
	evAbandon = "abandon"
	evClose   = "close"
)

func newBridgeFSM(log *zap.Logger) *fsm.FSM {
	return fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: evPoll, Src: []string{StateIdle}, Dst: StatePolling},
			{Name: evTimeout, Src: []string{StatePolling}, Dst: StateTimedOut},
			{Name: evRetry, Src: []string{StateTimedOut}, Dst: StatePolling},
			{Name: evDeliver, Src: []string{StatePolling}, Dst: StateDelivering},
			{Name: evFault, Src: []string{StatePolling}, Dst: StateFaulted},
			{Name: evDone, Src: []string{StateDelivering, StateFaulted}, Dst: StateIdle},
			{Name: evAbandon, Src: []string{StatePolling, StateTimedOut}, Dst: StateIdle},
			{Name: evClose, Src: []string{StateIdle, StatePolling, StateDelivering, StateTimedOut, StateFaulted}, Dst: StateClosed},
		},
		fsm.Callbacks{
			"enter_" + StateClosed: func(_ context.Context, e *fsm.Event) {
				log.Debug("bridge closed", zap.String("from", e.Src))
			},
		},
	)
}

// Request states. A result is either delivered to the caller or discarded,
// decided by whoever moves the request out of reqPending first.
const (
	reqPending int32 = iota
	reqDelivered
	reqAbandoned
)

type request struct {
	ctx     context.Context
	payload *Payload
	reply   chan outcome
	state   atomic.Int32
}

// bridge owns the single goroutine that performs blocking native calls for a
// handle and relays each result to at most one waiting caller.
type bridge struct {
	h    *Handle
	op   func(req *request, timeout time.Duration) outcome
	poll time.Duration
	log  *zap.Logger
	fsm  *fsm.FSM

	requests chan *request
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	delivered atomic.Uint64
	discarded atomic.Uint64
	faults    atomic.Uint64
}

func newBridge(h *Handle, poll time.Duration, log *zap.Logger, op func(*request, time.Duration) outcome) *bridge {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	b := &bridge{
		h:        h,
		op:       op,
		poll:     poll,
		log:      log,
		fsm:      newBridgeFSM(log),
		requests: make(chan *request),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go b.run()
	return b
}

// State returns the current state machine state.
func (b *bridge) State() string {
	return b.fsm.Current()
}

func (b *bridge) closed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

func (b *bridge) run() {
	defer close(b.done)
	for {
		select {
		case <-b.stop:
			b.fire(evClose)
			return
		case req := <-b.requests:
			if !b.serve(req) {
				return
			}
		}
	}
}

// serve drives one request to delivery, abandonment or close. It returns
// false once the bridge has reached the closed state.
func (b *bridge) serve(req *request) bool {
	b.fire(evPoll)
	for {
		if req.ctx.Err() != nil {
			b.fire(evAbandon)
			return true
		}
		select {
		case <-b.stop:
			b.fire(evClose)
			b.deliver(req, outcome{kind: outcomeClosed, err: ErrClosed})
			return false
		default:
		}

		out := b.op(req, b.poll)
		switch out.kind {
		case outcomeTimeout:
			b.fire(evTimeout)
			if req.ctx.Err() != nil {
				b.fire(evAbandon)
				return true
			}
			b.fire(evRetry)
		case outcomeReady:
			b.fire(evDeliver)
			b.deliver(req, out)
			b.fire(evDone)
			return true
		case outcomeFault:
			b.fire(evFault)
			b.faults.Add(1)
			b.log.Warn("native call failed", zap.Error(out.err))
			b.deliver(req, out)
			b.fire(evDone)
			return true
		case outcomeClosed:
			b.fire(evClose)
			if out.err == nil {
				out.err = ErrClosed
			}
			b.deliver(req, out)
			return false
		}
	}
}

func (b *bridge) deliver(req *request, out outcome) {
	if !req.state.CompareAndSwap(reqPending, reqDelivered) {
		b.discarded.Add(1)
		b.log.Debug("discarded result of abandoned request", zap.Stringer("outcome", out.kind))
		return
	}
	if out.kind == outcomeReady {
		b.delivered.Add(1)
	}
	req.reply <- out
}

func (b *bridge) fire(event string) {
	err := b.fsm.Event(context.Background(), event)
	if err == nil {
		return
	}
	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return
	}
	b.log.Debug("bridge transition rejected", zap.String("event", event), zap.Error(err))
}

// submit hands one request to the bridge and waits for its outcome, the
// caller's context, or the bridge closing.
func (b *bridge) submit(ctx context.Context, p *Payload) outcome {
	if b.closed() {
		return outcome{kind: outcomeClosed, err: ErrClosed}
	}
	if err := ctx.Err(); err != nil {
		return ctxOutcome(err)
	}

	req := &request{ctx: ctx, payload: p, reply: make(chan outcome, 1)}
	select {
	case b.requests <- req:
	case <-b.done:
		return outcome{kind: outcomeClosed, err: ErrClosed}
	case <-ctx.Done():
		return ctxOutcome(ctx.Err())
	}

	select {
	case out := <-req.reply:
		return out
	case <-ctx.Done():
		if req.state.CompareAndSwap(reqPending, reqAbandoned) {
			return ctxOutcome(ctx.Err())
		}
		return <-req.reply
	case <-b.done:
		if req.state.CompareAndSwap(reqPending, reqAbandoned) {
			return outcome{kind: outcomeClosed, err: ErrClosed}
		}
		return <-req.reply
	}
}

// close stops the goroutine and waits for the call in flight to return.
func (b *bridge) close() {
	b.stopOnce.Do(func() { close(b.stop) })
	<-b.done
}

// ctxOutcome converts a context error: deadlines become ErrTimeout, explicit
// cancellation is passed through.
func ctxOutcome(err error) outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return outcome{kind: outcomeTimeout, err: fmt.Errorf("%w: %w", ErrTimeout, err)}
	}
	return outcome{kind: outcomeFault, err: err}
}
