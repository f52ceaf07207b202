package rist

import (
	"context"
	"testing"
	"time"

	"github.com/looplab/fsm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBridgeStateMachine(t *testing.T) {
	ctx := context.Background()
	m := newBridgeFSM(zap.NewNop())
	assert.Equal(t, StateIdle, m.Current())

	steps := []struct {
		event string
		want  string
	}{
		{evPoll, StatePolling},
		{evTimeout, StateTimedOut},
		{evRetry, StatePolling},
		{evDeliver, StateDelivering},
		{evDone, StateIdle},
		{evPoll, StatePolling},
		{evFault, StateFaulted},
		{evDone, StateIdle},
		{evPoll, StatePolling},
		{evAbandon, StateIdle},
		{evClose, StateClosed},
	}
	for _, s := range steps {
		require.NoError(t, m.Event(ctx, s.event), s.event)
		assert.Equal(t, s.want, m.Current())
	}

	// Closed is terminal.
	for _, ev := range []string{evPoll, evRetry, evDone, evAbandon} {
		err := m.Event(ctx, ev)
		var invalid fsm.InvalidEventError
		assert.ErrorAs(t, err, &invalid, ev)
		assert.Equal(t, StateClosed, m.Current())
	}
}

func TestBridgeRejectsIllegalTransitions(t *testing.T) {
	m := newBridgeFSM(zap.NewNop())
	var invalid fsm.InvalidEventError
	assert.ErrorAs(t, m.Event(context.Background(), evDeliver), &invalid)
	assert.ErrorAs(t, m.Event(context.Background(), evRetry), &invalid)
	assert.Equal(t, StateIdle, m.Current())
}

// scriptedOp returns queued outcomes in order, then timeouts.
func scriptedOp(outs ...outcome) func(*request, time.Duration) outcome {
	ch := make(chan outcome, len(outs))
	for _, o := range outs {
		ch <- o
	}
	return func(_ *request, poll time.Duration) outcome {
		select {
		case o := <-ch:
			return o
		default:
			time.Sleep(poll)
			return outcome{kind: outcomeTimeout}
		}
	}
}

func TestBridgeRetriesTimeoutsUntilReady(t *testing.T) {
	ready := outcome{kind: outcomeReady, payload: &Payload{Data: []byte("x")}}
	b := newBridge(nil, time.Millisecond, zap.NewNop(), scriptedOp(
		outcome{kind: outcomeTimeout},
		outcome{kind: outcomeTimeout},
		ready,
	))
	defer b.close()

	out := b.submit(context.Background(), nil)
	assert.Equal(t, outcomeReady, out.kind)
	assert.Equal(t, []byte("x"), out.payload.Data)
	assert.Equal(t, uint64(1), b.delivered.Load())
}

func TestBridgeClosedOutcomeIsTerminal(t *testing.T) {
	b := newBridge(nil, time.Millisecond, zap.NewNop(), scriptedOp(outcome{kind: outcomeClosed}))
	defer b.close()

	out := b.submit(context.Background(), nil)
	assert.Equal(t, outcomeClosed, out.kind)
	assert.ErrorIs(t, out.err, ErrClosed)

	require.Eventually(t, b.closed, time.Second, time.Millisecond)
	assert.Equal(t, StateClosed, b.State())

	out = b.submit(context.Background(), nil)
	assert.Equal(t, outcomeClosed, out.kind)
}

func TestBridgeCloseUnblocksWaiter(t *testing.T) {
	b := newBridge(nil, time.Millisecond, zap.NewNop(), scriptedOp())

	done := make(chan outcome, 1)
	go func() { done <- b.submit(context.Background(), nil) }()
	require.Eventually(t, func() bool { return b.State() != StateIdle }, time.Second, time.Millisecond)

	b.close()
	b.close()
	select {
	case out := <-done:
		assert.Equal(t, outcomeClosed, out.kind)
	case <-time.After(time.Second):
		t.Fatal("waiter not released by close")
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBridgeExpiredContextNeverReachesOp(t *testing.T) {
	called := false
	b := newBridge(nil, time.Millisecond, zap.NewNop(), func(*request, time.Duration) outcome {
		called = true
		return outcome{kind: outcomeReady}
	})
	defer b.close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := b.submit(ctx, nil)
	assert.Equal(t, outcomeFault, out.kind)
	assert.ErrorIs(t, out.err, context.Canceled)

	b.close()
	assert.False(t, called)
}
