// Package rist provides an asynchronous Go API over RIST (Reliable Internet
// Stream Transport), backed by the native librist engine.
//
// Key pieces include:
//   - Receiver and Sender stream facades (Receive/Send plus io.Reader and
//     io.Writer adapters)
//   - ConfigBuilder producing immutable, validated Config values
//   - Handle, the exclusive owner of one native context
//   - Engine, the set of native entry points (LibRIST or the in-process
//     Loopback engine)
//   - StatsCollector exporting snapshots to Prometheus
//   - RTP framing helpers on top of payloads
//
// # Architecture
//
//	ConfigBuilder -> Handle (create, add peer, start) -> bridge goroutine -> Receiver/Sender
//
// Every handle is driven by exactly one bridge goroutine. The goroutine is
// the only caller of blocking engine reads and writes; callers suspend on
// channels and may abandon a wait through their context at any time.
// Closing a facade stops the bridge, waits for the in-flight native call and
// only then destroys the native context.
//
// # Native Library
//
// LibRIST loads librist with purego (no cgo). Set RIST_LIB_PATH to the
// library file, or RIST_SDK_LIB_PATH to the directory containing it.
// Hosts without librist can use NewLoopback, which implements the same
// engine contract in process.
//
// # Build Tags
//
// The librist binding is only built on darwin and linux. On other
// platforms LibRIST reports the engine as unavailable.
package rist
