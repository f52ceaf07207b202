package rist

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// countingEngine records every call and flags any call made with a context
// that was already destroyed.
type countingEngine struct {
	Engine

	mu        sync.Mutex
	calls     map[string]int
	destroyed map[uintptr]bool
	misuse    atomic.Int32
}

func newCountingEngine(inner Engine) *countingEngine {
	return &countingEngine{
		Engine:    inner,
		calls:     make(map[string]int),
		destroyed: make(map[uintptr]bool),
	}
}

func (e *countingEngine) record(op string, ctx uintptr) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls[op]++
	if ctx != 0 && e.destroyed[ctx] {
		e.misuse.Add(1)
	}
}

func (e *countingEngine) count(op string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[op]
}

func (e *countingEngine) total() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.calls {
		n += c
	}
	return n
}

func (e *countingEngine) Create(role Role, profile Profile, flowID uint32) (uintptr, int) {
	e.record("create", 0)
	return e.Engine.Create(role, profile, flowID)
}

func (e *countingEngine) SetOption(ctx uintptr, key OptionKey, value uint32) int {
	e.record("set_option", ctx)
	return e.Engine.SetOption(ctx, key, value)
}

func (e *countingEngine) AddPeer(ctx uintptr, peer PeerConfig) int {
	e.record("add_peer", ctx)
	return e.Engine.AddPeer(ctx, peer)
}

func (e *countingEngine) Start(ctx uintptr) int {
	e.record("start", ctx)
	return e.Engine.Start(ctx)
}

func (e *countingEngine) Read(ctx uintptr, timeout time.Duration) (*Payload, int) {
	e.record("read", ctx)
	return e.Engine.Read(ctx, timeout)
}

func (e *countingEngine) Write(ctx uintptr, p *Payload, timeout time.Duration) int {
	e.record("write", ctx)
	return e.Engine.Write(ctx, p, timeout)
}

func (e *countingEngine) Stats(ctx uintptr) (Stats, bool) {
	e.record("stats", ctx)
	return e.Engine.Stats(ctx)
}

func (e *countingEngine) Destroy(ctx uintptr) int {
	e.record("destroy", ctx)
	e.mu.Lock()
	e.destroyed[ctx] = true
	e.mu.Unlock()
	return e.Engine.Destroy(ctx)
}

// faultEngine fails the named setup step with a fixed code.
type faultEngine struct {
	Engine
	failOp   string
	failCode int
}

func (e *faultEngine) SetOption(ctx uintptr, key OptionKey, value uint32) int {
	if e.failOp == "set_option" {
		return e.failCode
	}
	return e.Engine.SetOption(ctx, key, value)
}

func (e *faultEngine) AddPeer(ctx uintptr, peer PeerConfig) int {
	if e.failOp == "add_peer" {
		return e.failCode
	}
	return e.Engine.AddPeer(ctx, peer)
}

func (e *faultEngine) Start(ctx uintptr) int {
	if e.failOp == "start" {
		return e.failCode
	}
	return e.Engine.Start(ctx)
}

func (e *faultEngine) Read(ctx uintptr, timeout time.Duration) (*Payload, int) {
	if e.failOp == "read" {
		return nil, e.failCode
	}
	return e.Engine.Read(ctx, timeout)
}

// gatedEngine holds every Read until the gate is opened.
type gatedEngine struct {
	Engine
	entered chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func newGatedEngine(inner Engine) *gatedEngine {
	return &gatedEngine{
		Engine:  inner,
		entered: make(chan struct{}, 1),
		gate:    make(chan struct{}),
	}
}

func (e *gatedEngine) Read(ctx uintptr, timeout time.Duration) (*Payload, int) {
	select {
	case e.entered <- struct{}{}:
	default:
	}
	<-e.gate
	return e.Engine.Read(ctx, timeout)
}

func (e *gatedEngine) open() { e.once.Do(func() { close(e.gate) }) }

// testPair binds a receiver and connects a sender on the same engine.
func testPair(t *testing.T, engine Engine, port string, opts ...Option) (*Receiver, *Sender) {
	t.Helper()
	opts = append([]Option{WithEngine(engine), WithLogger(testLogger(t))}, opts...)

	r, err := Bind(ProfileMain, "rist://@:"+port, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := Connect(ctx, ProfileMain, "rist://127.0.0.1:"+port, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return r, s
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func testLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel))
}
