package rist

import (
	"math"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Defaults documented by librist.
const (
	DefaultRecoveryLengthMin  = 1000 * time.Millisecond
	DefaultRecoveryLengthMax  = 1000 * time.Millisecond
	DefaultRecoveryRTTMin     = 50 * time.Millisecond
	DefaultRecoveryRTTMax     = 500 * time.Millisecond
	DefaultReorderBuffer      = 25 * time.Millisecond
	DefaultRecoveryMaxBitrate = 100000 // kbps
	DefaultFIFOSize           = 1024   // payloads
	DefaultMaxPayloadSize     = 1316   // 7 MPEG-TS packets
	MaxPayloadSize            = 10000  // RIST_MAX_PACKET_SIZE
	maxCNAMELength            = 127
)

// Endpoint is the parsed form of a peer address such as rist://@:5000 or
// rist://10.0.0.1:5000?cname=cam1.
type Endpoint struct {
	Scheme string
	Host   string
	Port   int
	Listen bool // "@" prefix: wait for the remote side
	Params url.Values
}

// HostPort returns host:port suitable for net.Dial style APIs.
func (e Endpoint) HostPort() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// ParseAddress validates a RIST peer URL without touching the native layer.
func ParseAddress(addr string) (Endpoint, error) {
	if strings.TrimSpace(addr) == "" {
		return Endpoint{}, configErrorf("address", "empty")
	}
	u, err := url.Parse(addr)
	if err != nil {
		return Endpoint{}, configErrorf("address", "%v", err)
	}
	switch u.Scheme {
	case "rist", "udp", "rtp":
	case "":
		return Endpoint{}, configErrorf("address", "missing scheme in %q", addr)
	default:
		return Endpoint{}, configErrorf("address", "unsupported scheme %q", u.Scheme)
	}
	if u.Opaque != "" || (u.Path != "" && u.Path != "/") {
		return Endpoint{}, configErrorf("address", "unexpected path in %q", addr)
	}

	ep := Endpoint{Scheme: u.Scheme, Params: u.Query()}
	if u.User != nil {
		if u.User.Username() != "" {
			return Endpoint{}, configErrorf("address", "credentials are not allowed in %q", addr)
		}
		ep.Listen = true
	}

	portStr := u.Port()
	if portStr == "" {
		return Endpoint{}, configErrorf("address", "missing port in %q", addr)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return Endpoint{}, configErrorf("address", "invalid port %q", portStr)
	}
	ep.Port = port
	ep.Host = u.Hostname()
	if ep.Host == "" && !ep.Listen {
		return Endpoint{}, configErrorf("address", "missing host in %q (use @ to listen)", addr)
	}
	return ep, nil
}

// PeerConfig is the peer description handed to Engine.AddPeer.
type PeerConfig struct {
	URL                string // address with pass-through parameters merged
	Endpoint           Endpoint
	RecoveryMode       RecoveryMode
	RecoveryMaxBitrate uint32 // kbps
	RecoveryLengthMin  time.Duration
	RecoveryLengthMax  time.Duration
	ReorderBuffer      time.Duration
	RTTMin             time.Duration
	RTTMax             time.Duration
	CNAME              string
}

// Config is an immutable, validated configuration for one native context.
type Config struct {
	role       Role
	address    string
	params     url.Values
	peer       PeerConfig
	fifoSize   uint32
	flowID     uint32
	maxPayload int
}

func (c *Config) Role() Role                       { return c.role }
func (c *Config) Address() string                  { return c.address }
func (c *Config) URL() string                      { return c.peer.URL }
func (c *Config) RecoveryMode() RecoveryMode       { return c.peer.RecoveryMode }
func (c *Config) RecoveryMaxBitrate() uint32       { return c.peer.RecoveryMaxBitrate }
func (c *Config) RecoveryLengthMin() time.Duration { return c.peer.RecoveryLengthMin }
func (c *Config) RecoveryLengthMax() time.Duration { return c.peer.RecoveryLengthMax }
func (c *Config) ReorderBuffer() time.Duration     { return c.peer.ReorderBuffer }
func (c *Config) RecoveryRTTMin() time.Duration    { return c.peer.RTTMin }
func (c *Config) RecoveryRTTMax() time.Duration    { return c.peer.RTTMax }
func (c *Config) CNAME() string                    { return c.peer.CNAME }

// FIFOSize is the receiver output queue capacity in payloads.
func (c *Config) FIFOSize() uint32 { return c.fifoSize }

// FlowID is the sender flow identifier given to the native context.
func (c *Config) FlowID() uint32 { return c.flowID }

// MaxPayloadSize bounds the units Sender.Write batches bytes into.
func (c *Config) MaxPayloadSize() int { return c.maxPayload }

// Params returns a copy of the pass-through URL parameters.
func (c *Config) Params() url.Values { return cloneValues(c.params) }

// Endpoint returns a copy of the parsed peer address.
func (c *Config) Endpoint() Endpoint {
	ep := c.peer.Endpoint
	ep.Params = cloneValues(ep.Params)
	return ep
}

// PeerConfig returns a copy of the peer description.
func (c *Config) PeerConfig() PeerConfig {
	p := c.peer
	p.Endpoint.Params = cloneValues(p.Endpoint.Params)
	return p
}

// ConfigBuilder accumulates configuration fields. Setters validate their own
// argument and remember the first rejection; cross-field checks run in Build.
// A builder is not safe for concurrent use.
type ConfigBuilder struct {
	draft Config
	err   error
}

// NewReceiverConfig starts a receiver configuration with librist defaults.
func NewReceiverConfig() *ConfigBuilder {
	b := newConfigBuilder(RoleReceiver)
	b.draft.fifoSize = DefaultFIFOSize
	return b
}

// NewSenderConfig starts a sender configuration with librist defaults.
func NewSenderConfig() *ConfigBuilder {
	b := newConfigBuilder(RoleSender)
	b.draft.maxPayload = DefaultMaxPayloadSize
	return b
}

func newConfigBuilder(role Role) *ConfigBuilder {
	return &ConfigBuilder{draft: Config{
		role:   role,
		params: url.Values{},
		peer: PeerConfig{
			RecoveryMode:       RecoveryTime,
			RecoveryMaxBitrate: DefaultRecoveryMaxBitrate,
			RecoveryLengthMin:  DefaultRecoveryLengthMin,
			RecoveryLengthMax:  DefaultRecoveryLengthMax,
			ReorderBuffer:      DefaultReorderBuffer,
			RTTMin:             DefaultRecoveryRTTMin,
			RTTMax:             DefaultRecoveryRTTMax,
		},
	}}
}

func (b *ConfigBuilder) reject(err *ConfigError) *ConfigBuilder {
	if b.err == nil {
		b.err = err
	}
	return b
}

// Address sets the bind address (receiver) or peer address (sender).
func (b *ConfigBuilder) Address(addr string) *ConfigBuilder {
	if strings.TrimSpace(addr) == "" {
		return b.reject(configErrorf("address", "empty"))
	}
	b.draft.address = addr
	return b
}

// RecoveryMode sets the retransmission buffering strategy.
func (b *ConfigBuilder) RecoveryMode(m RecoveryMode) *ConfigBuilder {
	if m < RecoveryTime || m > RecoveryBytes {
		return b.reject(configErrorf("recovery_mode", "unknown mode %d", int(m)))
	}
	b.draft.peer.RecoveryMode = m
	return b
}

// RecoveryMaxBitrate sets the retransmission bandwidth cap in kbps.
func (b *ConfigBuilder) RecoveryMaxBitrate(kbps uint32) *ConfigBuilder {
	if kbps == 0 {
		return b.reject(configErrorf("recovery_maxbitrate", "must be > 0"))
	}
	b.draft.peer.RecoveryMaxBitrate = kbps
	return b
}

// RecoveryLengthMin sets the lower bound of the recovery window.
func (b *ConfigBuilder) RecoveryLengthMin(d time.Duration) *ConfigBuilder {
	if err := checkDuration("recovery_length_min", d); err != nil {
		return b.reject(err)
	}
	b.draft.peer.RecoveryLengthMin = d
	return b
}

// RecoveryLengthMax sets the upper bound of the recovery window.
func (b *ConfigBuilder) RecoveryLengthMax(d time.Duration) *ConfigBuilder {
	if err := checkDuration("recovery_length_max", d); err != nil {
		return b.reject(err)
	}
	b.draft.peer.RecoveryLengthMax = d
	return b
}

// ReorderBuffer sets how long out-of-order packets are held.
func (b *ConfigBuilder) ReorderBuffer(d time.Duration) *ConfigBuilder {
	if err := checkDuration("recovery_reorder_buffer", d); err != nil {
		return b.reject(err)
	}
	b.draft.peer.ReorderBuffer = d
	return b
}

// RecoveryRTTMin sets the minimum RTT assumed by the recovery logic.
func (b *ConfigBuilder) RecoveryRTTMin(d time.Duration) *ConfigBuilder {
	if err := checkDuration("recovery_rtt_min", d); err != nil {
		return b.reject(err)
	}
	b.draft.peer.RTTMin = d
	return b
}

// RecoveryRTTMax sets the maximum RTT assumed by the recovery logic.
func (b *ConfigBuilder) RecoveryRTTMax(d time.Duration) *ConfigBuilder {
	if err := checkDuration("recovery_rtt_max", d); err != nil {
		return b.reject(err)
	}
	b.draft.peer.RTTMax = d
	return b
}

// CNAME sets the canonical name announced in RTCP.
func (b *ConfigBuilder) CNAME(name string) *ConfigBuilder {
	if len(name) > maxCNAMELength {
		return b.reject(configErrorf("cname", "longer than %d bytes", maxCNAMELength))
	}
	b.draft.peer.CNAME = name
	return b
}

// Param adds a URL query parameter recognised by the native layer, such as
// "secret" or "aes-type". Parameters are merged into the address at Build.
func (b *ConfigBuilder) Param(key, value string) *ConfigBuilder {
	if key == "" || strings.ContainsAny(key, "&=?# ") {
		return b.reject(configErrorf("param", "invalid key %q", key))
	}
	b.draft.params.Set(key, value)
	return b
}

// FIFOSize sets the receiver output queue capacity. It must be a power of two.
func (b *ConfigBuilder) FIFOSize(n uint32) *ConfigBuilder {
	if b.draft.role != RoleReceiver {
		return b.reject(configErrorf("fifo_size", "only valid for receivers"))
	}
	if n == 0 {
		return b.reject(configErrorf("fifo_size", "must be > 0"))
	}
	b.draft.fifoSize = n
	return b
}

// FlowID sets the sender flow identifier (0 lets librist pick one).
func (b *ConfigBuilder) FlowID(id uint32) *ConfigBuilder {
	if b.draft.role != RoleSender {
		return b.reject(configErrorf("flow_id", "only valid for senders"))
	}
	b.draft.flowID = id
	return b
}

// MaxPayloadSize sets the unit size Sender.Write batches bytes into.
func (b *ConfigBuilder) MaxPayloadSize(n int) *ConfigBuilder {
	if b.draft.role != RoleSender {
		return b.reject(configErrorf("max_payload_size", "only valid for senders"))
	}
	if n <= 0 || n > MaxPayloadSize {
		return b.reject(configErrorf("max_payload_size", "must be in 1..%d, got %d", MaxPayloadSize, n))
	}
	b.draft.maxPayload = n
	return b
}

// Build validates the draft and returns an immutable Config. Build makes no
// native calls. The builder may be reused afterwards.
func (b *ConfigBuilder) Build() (*Config, error) {
	if b.err != nil {
		return nil, b.err
	}
	d := b.draft
	if d.address == "" {
		return nil, configErrorf("address", "required")
	}
	p := d.peer
	if p.RecoveryLengthMin > p.RecoveryLengthMax {
		return nil, configErrorf("recovery_length", "min %v > max %v", p.RecoveryLengthMin, p.RecoveryLengthMax)
	}
	if p.RTTMin > p.RTTMax {
		return nil, configErrorf("recovery_rtt", "min %v > max %v", p.RTTMin, p.RTTMax)
	}
	if d.role == RoleReceiver && d.fifoSize&(d.fifoSize-1) != 0 {
		return nil, configErrorf("fifo_size", "%d is not a power of two", d.fifoSize)
	}

	ep, err := ParseAddress(d.address)
	if err != nil {
		return nil, err
	}
	merged := cloneValues(ep.Params)
	for k, vs := range d.params {
		merged[k] = append([]string(nil), vs...)
	}
	ep.Params = merged

	cfg := &Config{
		role:       d.role,
		address:    d.address,
		params:     cloneValues(d.params),
		fifoSize:   d.fifoSize,
		flowID:     d.flowID,
		maxPayload: d.maxPayload,
		peer:       p,
	}
	cfg.peer.Endpoint = ep
	cfg.peer.URL = mergeQuery(d.address, d.params)
	return cfg, nil
}

func checkDuration(field string, d time.Duration) *ConfigError {
	if d < 0 {
		return configErrorf(field, "must be non-negative, got %v", d)
	}
	if d.Milliseconds() > math.MaxUint32 {
		return configErrorf(field, "%v does not fit in 32-bit milliseconds", d)
	}
	return nil
}

// mergeQuery appends params to addr, overriding keys already present.
// addr has already been accepted by ParseAddress.
func mergeQuery(addr string, params url.Values) string {
	if len(params) == 0 {
		return addr
	}
	base, query, _ := strings.Cut(addr, "?")
	q, err := url.ParseQuery(query)
	if err != nil {
		q = url.Values{}
	}
	for k, vs := range params {
		q[k] = append([]string(nil), vs...)
	}
	return base + "?" + q.Encode()
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
