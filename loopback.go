package rist

import (
	"sync"
	"sync/atomic"
	"time"
)

// Loopback is an in-process Engine. Receivers bind a port and own a bounded
// queue; senders connected to that port write into it. It follows the same
// code conventions as librist, so facades behave identically on top of it.
//
// A receiver reports end of stream once every sender that attached to it has
// been destroyed and its queue is drained. A sender reports closed once its
// receiver is destroyed. Payloads written while no receiver is bound are
// dropped and counted as lost, as they would be on the wire.
type Loopback struct {
	mu    sync.Mutex
	next  uintptr
	ctxs  map[uintptr]*lbContext
	ports map[int]*lbContext
}

type lbContext struct {
	id       uintptr
	role     Role
	profile  Profile
	flowID   uint32
	fifo     uint32
	interval time.Duration
	port     int
	hasPeer  bool
	started  bool

	// receiver side
	queue   chan *Payload
	gone    chan struct{} // receiver destroyed
	eos     chan struct{} // last attached sender destroyed
	eosOnce sync.Once
	senders int // guarded by Loopback.mu

	// sender side
	target *lbContext // guarded by Loopback.mu
	wmu    sync.Mutex // serialises writes
	seq    uint64     // last sequence handed out, guarded by wmu

	startedAt time.Time
	packets   atomic.Uint64
	bytes     atomic.Uint64
	lost      atomic.Uint64
}

var _ Engine = (*Loopback)(nil)

// NewLoopback returns an empty in-process engine.
func NewLoopback() *Loopback {
	return &Loopback{
		ctxs:  make(map[uintptr]*lbContext),
		ports: make(map[int]*lbContext),
	}
}

func (l *Loopback) lookup(ctx uintptr) *lbContext {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ctxs[ctx]
}

func (l *Loopback) Create(role Role, profile Profile, flowID uint32) (uintptr, int) {
	if !profile.valid() || (role != RoleReceiver && role != RoleSender) {
		return 0, codeInvalid
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next++
	c := &lbContext{
		id:      l.next,
		role:    role,
		profile: profile,
		flowID:  flowID,
		fifo:    DefaultFIFOSize,
	}
	if role == RoleSender && flowID == 0 {
		c.flowID = uint32(l.next) << 1
	}
	l.ctxs[c.id] = c
	return c.id, 0
}

func (l *Loopback) SetOption(ctx uintptr, key OptionKey, value uint32) int {
	c := l.lookup(ctx)
	if c == nil {
		return codeBadFD
	}
	if c.started {
		return codeInvalid
	}
	switch key {
	case OptionFIFOSize:
		if c.role != RoleReceiver || value == 0 || value&(value-1) != 0 {
			return codeInvalid
		}
		c.fifo = value
	case OptionStatsInterval:
		c.interval = time.Duration(value) * time.Millisecond
	default:
		return codeInvalid
	}
	return 0
}

func (l *Loopback) AddPeer(ctx uintptr, peer PeerConfig) int {
	c := l.lookup(ctx)
	if c == nil {
		return codeBadFD
	}
	if c.started || c.hasPeer || peer.Endpoint.Port == 0 {
		return codeInvalid
	}
	c.port = peer.Endpoint.Port
	c.hasPeer = true
	return 0
}

func (l *Loopback) Start(ctx uintptr) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := l.ctxs[ctx]
	if c == nil {
		return codeBadFD
	}
	if c.started || !c.hasPeer {
		return codeInvalid
	}
	if c.role == RoleReceiver {
		if _, taken := l.ports[c.port]; taken {
			return codeInUse
		}
		c.queue = make(chan *Payload, c.fifo)
		c.gone = make(chan struct{})
		c.eos = make(chan struct{})
		l.ports[c.port] = c
	} else {
		l.attachLocked(c)
	}
	c.started = true
	c.startedAt = time.Now()
	return 0
}

// attachLocked connects a sender to the receiver bound on its port, if any.
func (l *Loopback) attachLocked(c *lbContext) *lbContext {
	if c.target != nil {
		return c.target
	}
	if r := l.ports[c.port]; r != nil {
		c.target = r
		r.senders++
	}
	return c.target
}

func (l *Loopback) Read(ctx uintptr, timeout time.Duration) (*Payload, int) {
	c := l.lookup(ctx)
	if c == nil {
		return nil, codeBadFD
	}
	if c.role != RoleReceiver || !c.started {
		return nil, codeInvalid
	}
	select {
	case p := <-c.queue:
		return c.delivered(p)
	default:
	}
	if timeout <= 0 {
		return c.pollEOS()
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case p := <-c.queue:
		return c.delivered(p)
	case <-c.eos:
		select {
		case p := <-c.queue:
			return c.delivered(p)
		default:
			return nil, codeClosed
		}
	case <-t.C:
		return nil, 0
	}
}

func (c *lbContext) delivered(p *Payload) (*Payload, int) {
	c.packets.Add(1)
	c.bytes.Add(uint64(len(p.Data)))
	return p, max(len(p.Data), 1)
}

func (c *lbContext) pollEOS() (*Payload, int) {
	select {
	case <-c.eos:
		return nil, codeClosed
	default:
		return nil, 0
	}
}

func (l *Loopback) Write(ctx uintptr, p *Payload, timeout time.Duration) int {
	if p == nil {
		return codeInvalid
	}
	if len(p.Data) > MaxPayloadSize {
		return codeTooLarge
	}
	l.mu.Lock()
	c := l.ctxs[ctx]
	if c == nil {
		l.mu.Unlock()
		return codeBadFD
	}
	if c.role != RoleSender || !c.started {
		l.mu.Unlock()
		return codeInvalid
	}
	r := l.attachLocked(c)
	l.mu.Unlock()

	flow := p.FlowID
	if flow == 0 {
		flow = c.flowID
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	// Seq advances only when the payload leaves the sender.
	out := &Payload{
		Data:         append([]byte(nil), p.Data...),
		FlowID:       flow,
		Seq:          c.seq + 1,
		NTPTimestamp: ntpNow(),
	}
	if r == nil {
		c.seq++
		c.lost.Add(1)
		return len(p.Data)
	}

	select {
	case <-r.gone:
		return codeClosed
	default:
	}
	select {
	case r.queue <- out:
		return c.sent(len(p.Data))
	default:
	}
	if timeout <= 0 {
		return codeTimeout
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case r.queue <- out:
		return c.sent(len(p.Data))
	case <-r.gone:
		return codeClosed
	case <-t.C:
		return codeTimeout
	}
}

// sent records an enqueued payload. The caller holds wmu.
func (c *lbContext) sent(n int) int {
	c.seq++
	c.packets.Add(1)
	c.bytes.Add(uint64(n))
	return n
}

func (l *Loopback) Stats(ctx uintptr) (Stats, bool) {
	l.mu.Lock()
	c := l.ctxs[ctx]
	var peers uint32
	var attached, started bool
	if c != nil {
		peers = uint32(c.senders)
		attached = c.target != nil
		started = c.started
	}
	l.mu.Unlock()
	if !started {
		return Stats{}, false
	}

	now := time.Now()
	s := Stats{Role: c.role, Taken: now, Quality: 100}
	packets, lost := c.packets.Load(), c.lost.Load()
	if elapsed := now.Sub(c.startedAt).Seconds(); elapsed > 0 {
		s.Bandwidth = uint64(float64(c.bytes.Load()*8) / elapsed)
	}
	if total := packets + lost; total > 0 {
		s.Quality = 100 * float64(packets) / float64(total)
	}
	switch c.role {
	case RoleReceiver:
		s.Received = packets
		s.PeerCount = peers
	case RoleSender:
		s.Sent = packets
		s.Lost = lost
		if attached {
			s.PeerID = 1
		}
	}
	return s, true
}

func (l *Loopback) Destroy(ctx uintptr) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := l.ctxs[ctx]
	if c == nil {
		return codeBadFD
	}
	delete(l.ctxs, ctx)

	switch c.role {
	case RoleReceiver:
		if c.started {
			delete(l.ports, c.port)
			close(c.gone)
		}
	case RoleSender:
		if r := c.target; r != nil {
			r.senders--
			if r.senders == 0 {
				r.eosOnce.Do(func() { close(r.eos) })
			}
		}
	}
	return 0
}

// ntpEpochOffset is the number of seconds between 1900 and 1970.
const ntpEpochOffset = 2208988800

// ntpNow returns the current time as a 64-bit NTP timestamp.
func ntpNow() uint64 {
	now := time.Now()
	secs := uint64(now.Unix()) + ntpEpochOffset
	frac := uint64(now.Nanosecond()) << 32 / 1e9
	return secs<<32 | frac
}
