package rist

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handle exclusively owns one native context. It is the only place the
// context value is stored. Destroy runs at most once, waits for any call in
// flight and makes every later call fail with ErrInvalidHandle.
type Handle struct {
	id      string
	role    Role
	profile Profile
	engine  Engine
	log     *zap.Logger

	// mu is held shared for the duration of every native call and exclusively
	// by Destroy, so teardown never overlaps a call.
	mu      sync.RWMutex
	ctx     uintptr
	closing atomic.Bool
	once    sync.Once
	code    int
}

// newHandle creates, configures and starts a native context. On failure the
// context, if one was created, is destroyed before returning.
func newHandle(engine Engine, profile Profile, cfg *Config, statsInterval time.Duration, log *zap.Logger) (*Handle, error) {
	role := cfg.Role()
	setupErr := ErrBind
	if role == RoleSender {
		setupErr = ErrConnect
	}
	if !profile.valid() {
		return nil, configErrorf("profile", "unknown profile %d", int(profile))
	}

	id := uuid.NewString()
	log = log.With(zap.String("handle", id), zap.Stringer("role", role), zap.Stringer("profile", profile))

	ctx, code := engine.Create(role, profile, cfg.FlowID())
	if code != 0 || ctx == 0 {
		if code == 0 {
			code = codeInvalid
		}
		log.Debug("create failed", zap.Int("code", code))
		return nil, newNativeError("create", code, setupErr)
	}

	h := &Handle{id: id, role: role, profile: profile, engine: engine, log: log, ctx: ctx}
	fail := func(op string, code int) (*Handle, error) {
		log.Debug("setup failed", zap.String("op", op), zap.Int("code", code))
		h.Destroy()
		return nil, newNativeError(op, code, setupErr)
	}

	if role == RoleReceiver {
		if code := engine.SetOption(ctx, OptionFIFOSize, cfg.FIFOSize()); code != 0 {
			return fail("set fifo size", code)
		}
	}
	if statsInterval > 0 {
		if code := engine.SetOption(ctx, OptionStatsInterval, uint32(statsInterval.Milliseconds())); code != 0 {
			return fail("set stats interval", code)
		}
	}
	if code := engine.AddPeer(ctx, cfg.PeerConfig()); code != 0 {
		return fail("add peer", code)
	}
	if code := engine.Start(ctx); code != 0 {
		return fail("start", code)
	}

	log.Debug("handle started", zap.String("url", cfg.URL()))
	return h, nil
}

// ID returns the identifier used in logs and metric labels.
func (h *Handle) ID() string { return h.id }

// Role returns whether the handle sends or receives.
func (h *Handle) Role() Role { return h.role }

// Profile returns the profile the context was created with.
func (h *Handle) Profile() Profile { return h.profile }

// Destroyed reports whether destruction has begun.
func (h *Handle) Destroyed() bool { return h.closing.Load() }

// borrow runs fn with the native context unless destruction has begun.
func (h *Handle) borrow(fn func(ctx uintptr)) error {
	if h.closing.Load() {
		return ErrInvalidHandle
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.ctx == 0 {
		return ErrInvalidHandle
	}
	fn(h.ctx)
	return nil
}

// read performs one blocking engine read.
func (h *Handle) read(timeout time.Duration) (p *Payload, code int, err error) {
	err = h.borrow(func(ctx uintptr) {
		p, code = h.engine.Read(ctx, timeout)
	})
	return p, code, err
}

// write performs one blocking engine write.
func (h *Handle) write(p *Payload, timeout time.Duration) (code int, err error) {
	err = h.borrow(func(ctx uintptr) {
		code = h.engine.Write(ctx, p, timeout)
	})
	return code, err
}

// Stats copies the latest native snapshot. It fails with ErrInvalidHandle
// once destruction has begun.
func (h *Handle) Stats() (s Stats, ok bool, err error) {
	err = h.borrow(func(ctx uintptr) {
		s, ok = h.engine.Stats(ctx)
	})
	return s, ok, err
}

// Destroy tears the native context down. It is safe to call more than once;
// only the first call reaches the engine.
func (h *Handle) Destroy() error {
	h.once.Do(func() {
		h.closing.Store(true)
		h.mu.Lock()
		defer h.mu.Unlock()
		ctx := h.ctx
		h.ctx = 0
		h.code = h.engine.Destroy(ctx)
		h.log.Debug("handle destroyed", zap.Int("code", h.code))
	})
	if h.code != 0 {
		return newNativeError("destroy", h.code, ErrNative)
	}
	return nil
}
