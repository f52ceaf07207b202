//go:build darwin || linux

// librist binding via purego.
//
// librist is loaded at runtime with purego, so no C toolchain is needed to
// build this package. Blocking reads use rist_receiver_data_read2 with a
// millisecond timeout; statistics arrive on a librist thread through a
// single registered callback and are parked in per-context slots.

package rist

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/ebitengine/purego"
	"go.uber.org/zap"
)

var (
	libristOnce    sync.Once
	libristHandle  uintptr
	libristInitErr error
	libristLoaded  bool
)

// librist function pointers
var (
	ristSenderCreate              func(ctx *uintptr, profile int32, flowID uint32, logging uintptr) int32
	ristReceiverCreate            func(ctx *uintptr, profile int32, logging uintptr) int32
	ristReceiverSetOutputFIFOSize func(ctx uintptr, size uint32) int32
	ristParseAddress2             func(url string, cfg *uintptr) int32
	ristPeerConfigFree2           func(cfg *uintptr) int32
	ristPeerCreate                func(ctx uintptr, peer *uintptr, cfg uintptr) int32
	ristStart                     func(ctx uintptr) int32
	ristDestroy                   func(ctx uintptr) int32
	ristReceiverDataRead2         func(ctx uintptr, block *uintptr, timeoutMs int32) int32
	ristReceiverDataBlockFree2    func(block *uintptr)
	ristSenderDataWrite           func(ctx uintptr, block *ristDataBlock) int32
	ristStatsCallbackSet          func(ctx uintptr, intervalMs int32, cb uintptr, arg uintptr) int32
	ristStatsFree                 func(stats uintptr) int32
	ristLoggingSet                func(settings *uintptr, level int32, cb uintptr, arg uintptr, address uintptr, logfp uintptr) int32
	libristVersion                func() uintptr

	// optional, absent before librist 0.2.7
	ristLoggingSetGlobal func(settings uintptr) int32
)

// ristSOName is the versioned library name on Linux.
const ristSOName = "librist.so.4"

// Constants from librist/librist.h
const (
	ristRecoveryModeDisabled = 1
	ristRecoveryModeBytes    = 2
	ristRecoveryModeTime     = 3

	ristMaxStringShort = 128
	ristMaxStringLong  = 256
)

// ristDataBlock mirrors struct rist_data_block.
type ristDataBlock struct {
	payload     uintptr
	payloadLen  uintptr
	tsNTP       uint64
	virtSrcPort uint16
	virtDstPort uint16
	peer        uintptr
	flowID      uint32
	seq         uint64
	flags       uint32
	ref         uintptr
}

// ristPeerConfig mirrors the leading fields of struct rist_peer_config up to
// and including the recovery settings. Later fields are never touched.
type ristPeerConfig struct {
	version                  int32
	addressFamily            int32
	initiateConn             int32
	address                  [ristMaxStringLong]byte
	miface                   [ristMaxStringShort]byte
	physicalPort             uint16
	cname                    [ristMaxStringShort]byte
	virtDstPort              uint16
	recoveryMode             int32
	recoveryMaxBitrate       uint32
	recoveryMaxBitrateReturn uint32
	recoveryLengthMin        uint32
	recoveryLengthMax        uint32
	recoveryReorderBuffer    uint32
	recoveryRTTMin           uint32
	recoveryRTTMax           uint32
}

// ristStatsHead mirrors the leading fields of struct rist_stats.
type ristStatsHead struct {
	jsonSize  uint32
	statsJSON uintptr
	version   uint16
	statsType int32
}

func loadLibRIST() error {
	libristOnce.Do(func() {
		libristInitErr = loadLibRISTLib()
		if libristInitErr == nil {
			libristLoaded = true
		}
	})
	return libristInitErr
}

func loadLibRISTLib() error {
	var lastErr error
	for _, path := range getLibRISTPaths() {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			lastErr = err
			continue
		}
		libristHandle = handle
		if err := loadLibRISTSymbols(); err != nil {
			purego.Dlclose(handle)
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr != nil {
		return fmt.Errorf("failed to load librist: %w", lastErr)
	}
	return errors.New("librist not found in any standard location")
}

func getLibRISTPaths() []string {
	if runtime.GOOS == "darwin" {
		return libraryPaths("librist.dylib", "RIST_LIB_PATH", "RIST_SDK_LIB_PATH",
			"/usr/local/lib", "/opt/homebrew/lib")
	}
	paths := libraryPaths("librist.so", "RIST_LIB_PATH", "RIST_SDK_LIB_PATH",
		"/usr/local/lib", "/usr/lib")
	// Runtime-only installs ship the versioned name without the dev symlink.
	for _, dir := range []string{"", "/usr/lib/x86_64-linux-gnu", "/usr/lib/aarch64-linux-gnu"} {
		paths = append(paths, filepath.Join(dir, ristSOName))
	}
	return paths
}

func loadLibRISTSymbols() (err error) {
	// RegisterLibFunc panics on a missing symbol; an old or foreign library
	// should fail the load instead.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("librist symbol lookup: %v", r)
		}
	}()

	purego.RegisterLibFunc(&ristSenderCreate, libristHandle, "rist_sender_create")
	purego.RegisterLibFunc(&ristReceiverCreate, libristHandle, "rist_receiver_create")
	purego.RegisterLibFunc(&ristReceiverSetOutputFIFOSize, libristHandle, "rist_receiver_set_output_fifo_size")
	purego.RegisterLibFunc(&ristParseAddress2, libristHandle, "rist_parse_address2")
	purego.RegisterLibFunc(&ristPeerConfigFree2, libristHandle, "rist_peer_config_free2")
	purego.RegisterLibFunc(&ristPeerCreate, libristHandle, "rist_peer_create")
	purego.RegisterLibFunc(&ristStart, libristHandle, "rist_start")
	purego.RegisterLibFunc(&ristDestroy, libristHandle, "rist_destroy")
	purego.RegisterLibFunc(&ristReceiverDataRead2, libristHandle, "rist_receiver_data_read2")
	purego.RegisterLibFunc(&ristReceiverDataBlockFree2, libristHandle, "rist_receiver_data_block_free2")
	purego.RegisterLibFunc(&ristSenderDataWrite, libristHandle, "rist_sender_data_write")
	purego.RegisterLibFunc(&ristStatsCallbackSet, libristHandle, "rist_stats_callback_set")
	purego.RegisterLibFunc(&ristStatsFree, libristHandle, "rist_stats_free")
	purego.RegisterLibFunc(&ristLoggingSet, libristHandle, "rist_logging_set")
	purego.RegisterLibFunc(&libristVersion, libristHandle, "librist_version")

	if _, err := purego.Dlsym(libristHandle, "rist_logging_set_global"); err == nil {
		purego.RegisterLibFunc(&ristLoggingSetGlobal, libristHandle, "rist_logging_set_global")
	}
	return nil
}

// IsLibRISTAvailable reports whether librist could be loaded.
func IsLibRISTAvailable() bool {
	if err := loadLibRIST(); err != nil {
		return false
	}
	return libristLoaded
}

// Version returns the librist version string, or "" when unavailable.
func Version() string {
	if !IsLibRISTAvailable() {
		return ""
	}
	return goStringFromPtr(libristVersion())
}

// Native logging. The settings pointer is handed to every context created
// afterwards; the callback is registered once.
var (
	nativeLogMu       sync.Mutex
	nativeLogSettings uintptr
	logCallback       uintptr
	logCallbackOnce   sync.Once
)

func nativeLogHandler(arg uintptr, level int32, msg uintptr) int32 {
	logNative(LogLevel(level), strings.TrimRight(goStringFromPtr(msg), "\r\n"))
	return 0
}

// SetNativeLogLevel routes librist log output at or above level into the
// package logger. LogDisable silences it. Contexts created before the call
// keep their previous settings.
func SetNativeLogLevel(level LogLevel) error {
	if err := loadLibRIST(); err != nil {
		return err
	}
	logCallbackOnce.Do(func() {
		logCallback = purego.NewCallback(nativeLogHandler)
	})

	nativeLogMu.Lock()
	defer nativeLogMu.Unlock()
	if ret := ristLoggingSet(&nativeLogSettings, int32(level), logCallback, 0, 0, 0); ret != 0 {
		return newNativeError("logging set", int(ret), ErrNative)
	}
	if ristLoggingSetGlobal != nil {
		ristLoggingSetGlobal(nativeLogSettings)
	}
	Logger().Debug("native log level set", zap.Stringer("level", level))
	return nil
}

func currentLogSettings() uintptr {
	nativeLogMu.Lock()
	defer nativeLogMu.Unlock()
	return nativeLogSettings
}

// Stats callback state for purego.
var (
	statsSlotsMu   sync.RWMutex
	statsSlots     = make(map[uintptr]*statsSlot)
	statsSlotCount uintptr
	statsCallback  uintptr
	statsCbOnce    sync.Once
)

type statsSlot struct {
	latest atomic.Pointer[Stats]
}

func initStatsCallback() {
	statsCbOnce.Do(func() {
		statsCallback = purego.NewCallback(statsCallbackHandler)
	})
}

// statsCallbackHandler runs on a librist thread. It owns stats and must free
// it.
func statsCallbackHandler(arg uintptr, stats uintptr) int32 {
	if stats == 0 {
		return 0
	}
	defer ristStatsFree(stats)

	statsSlotsMu.RLock()
	slot, ok := statsSlots[arg]
	statsSlotsMu.RUnlock()
	if !ok {
		return 0
	}

	head := (*ristStatsHead)(unsafe.Pointer(stats))
	if head.statsJSON == 0 || head.jsonSize == 0 {
		return 0
	}
	doc := goBytesN(head.statsJSON, int(head.jsonSize))
	s, err := parseStatsJSON(doc, time.Now())
	if err != nil {
		Logger().Debug("dropping stats snapshot", zap.Error(err))
		return 0
	}
	slot.latest.Store(&s)
	return 0
}

// libristEngine drives librist contexts.
type libristEngine struct {
	mu    sync.Mutex
	slots map[uintptr]uintptr // context -> stats slot key
}

var (
	libristEngineOnce sync.Once
	libristEngineInst *libristEngine
)

// LibRIST returns the engine backed by the system librist, loading it on
// first use.
func LibRIST() (Engine, error) {
	if err := loadLibRIST(); err != nil {
		return nil, err
	}
	libristEngineOnce.Do(func() {
		initStatsCallback()
		libristEngineInst = &libristEngine{
			slots: make(map[uintptr]uintptr),
		}
	})
	return libristEngineInst, nil
}

func (e *libristEngine) Create(role Role, profile Profile, flowID uint32) (uintptr, int) {
	var ctx uintptr
	var ret int32
	switch role {
	case RoleReceiver:
		ret = ristReceiverCreate(&ctx, int32(profile), currentLogSettings())
	case RoleSender:
		ret = ristSenderCreate(&ctx, int32(profile), flowID, currentLogSettings())
	default:
		return 0, codeInvalid
	}
	if ret != 0 {
		return 0, int(ret)
	}

	statsSlotsMu.Lock()
	statsSlotCount++
	key := statsSlotCount
	slot := &statsSlot{}
	slot.latest.Store(&Stats{Role: role})
	statsSlots[key] = slot
	statsSlotsMu.Unlock()

	e.mu.Lock()
	e.slots[ctx] = key
	e.mu.Unlock()
	return ctx, 0
}

func (e *libristEngine) slotKey(ctx uintptr) uintptr {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.slots[ctx]
}

func (e *libristEngine) SetOption(ctx uintptr, key OptionKey, value uint32) int {
	switch key {
	case OptionFIFOSize:
		return int(ristReceiverSetOutputFIFOSize(ctx, value))
	case OptionStatsInterval:
		return int(ristStatsCallbackSet(ctx, int32(value), statsCallback, e.slotKey(ctx)))
	default:
		return codeInvalid
	}
}

func (e *libristEngine) AddPeer(ctx uintptr, peer PeerConfig) int {
	var cfg uintptr
	if ret := ristParseAddress2(peer.URL, &cfg); ret != 0 || cfg == 0 {
		return codeInvalid
	}
	defer ristPeerConfigFree2(&cfg)

	applyPeerConfig((*ristPeerConfig)(unsafe.Pointer(cfg)), peer)

	var p uintptr
	return int(ristPeerCreate(ctx, &p, cfg))
}

// applyPeerConfig writes the typed recovery fields over what the URL parser
// produced. Fields left at their defaults keep the parsed value, so URL
// parameters such as buffer-min still apply.
func applyPeerConfig(c *ristPeerConfig, peer PeerConfig) {
	switch peer.RecoveryMode {
	case RecoveryDisabled:
		c.recoveryMode = ristRecoveryModeDisabled
	case RecoveryBytes:
		c.recoveryMode = ristRecoveryModeBytes
	}
	if peer.RecoveryMaxBitrate != DefaultRecoveryMaxBitrate {
		c.recoveryMaxBitrate = peer.RecoveryMaxBitrate
	}
	if peer.RecoveryLengthMin != DefaultRecoveryLengthMin {
		c.recoveryLengthMin = uint32(peer.RecoveryLengthMin.Milliseconds())
	}
	if peer.RecoveryLengthMax != DefaultRecoveryLengthMax {
		c.recoveryLengthMax = uint32(peer.RecoveryLengthMax.Milliseconds())
	}
	if peer.ReorderBuffer != DefaultReorderBuffer {
		c.recoveryReorderBuffer = uint32(peer.ReorderBuffer.Milliseconds())
	}
	if peer.RTTMin != DefaultRecoveryRTTMin {
		c.recoveryRTTMin = uint32(peer.RTTMin.Milliseconds())
	}
	if peer.RTTMax != DefaultRecoveryRTTMax {
		c.recoveryRTTMax = uint32(peer.RTTMax.Milliseconds())
	}
	if peer.CNAME != "" {
		putCString(c.cname[:], peer.CNAME)
	}
}

func (e *libristEngine) Start(ctx uintptr) int {
	return int(ristStart(ctx))
}

func (e *libristEngine) Read(ctx uintptr, timeout time.Duration) (*Payload, int) {
	var block uintptr
	ret := ristReceiverDataRead2(ctx, &block, int32(timeout.Milliseconds()))
	if ret <= 0 || block == 0 {
		return nil, int(ret)
	}
	defer ristReceiverDataBlockFree2(&block)

	b := (*ristDataBlock)(unsafe.Pointer(block))
	return &Payload{
		Data:         goBytesN(b.payload, int(b.payloadLen)),
		FlowID:       b.flowID,
		Seq:          b.seq,
		NTPTimestamp: b.tsNTP,
	}, int(ret)
}

// Write hands p to librist. rist_sender_data_write never blocks, so timeout
// is not used.
func (e *libristEngine) Write(ctx uintptr, p *Payload, _ time.Duration) int {
	if p == nil || len(p.Data) == 0 {
		return codeInvalid
	}
	var pin runtime.Pinner
	pin.Pin(&p.Data[0])
	defer pin.Unpin()

	block := ristDataBlock{
		payload:    uintptr(unsafe.Pointer(&p.Data[0])),
		payloadLen: uintptr(len(p.Data)),
		tsNTP:      p.NTPTimestamp,
		flowID:     p.FlowID,
		seq:        p.Seq,
	}
	return int(ristSenderDataWrite(ctx, &block))
}

func (e *libristEngine) Stats(ctx uintptr) (Stats, bool) {
	key := e.slotKey(ctx)
	statsSlotsMu.RLock()
	slot, ok := statsSlots[key]
	statsSlotsMu.RUnlock()
	if !ok {
		return Stats{}, false
	}
	s := slot.latest.Load()
	if s == nil {
		return Stats{}, false
	}
	return *s, true
}

func (e *libristEngine) Destroy(ctx uintptr) int {
	e.mu.Lock()
	key := e.slots[ctx]
	delete(e.slots, ctx)
	e.mu.Unlock()

	// rist_destroy joins the stats thread, so no callback can race the
	// slot removal below.
	ret := ristDestroy(ctx)

	statsSlotsMu.Lock()
	delete(statsSlots, key)
	statsSlotsMu.Unlock()
	return int(ret)
}
