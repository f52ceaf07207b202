package rist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// Re-export pion/rtp types for convenience
type (
	// RTPPacket is an alias to pion's rtp.Packet
	RTPPacket = rtp.Packet

	// RTPHeader is an alias to pion's rtp.Header
	RTPHeader = rtp.Header
)

// RTPPacketWriter accepts parsed RTP packets.
type RTPPacketWriter interface {
	WriteRTP(p *rtp.Packet) error
}

// A WebRTC local track can be fed straight from a RIST receiver.
var _ RTPPacketWriter = (*webrtc.TrackLocalStaticRTP)(nil)

// RTPWriter carries one RTP packet per RIST payload over a Sender.
type RTPWriter struct {
	s   *Sender
	mu  sync.Mutex
	buf []byte
}

var _ RTPPacketWriter = (*RTPWriter)(nil)

// NewRTPWriter wraps s.
func NewRTPWriter(s *Sender) *RTPWriter {
	return &RTPWriter{s: s}
}

// WriteRTP sends p, waiting as long as it takes.
func (w *RTPWriter) WriteRTP(p *rtp.Packet) error {
	return w.WriteRTPContext(context.Background(), p)
}

// WriteRTPContext sends p unless ctx ends first.
func (w *RTPWriter) WriteRTPContext(ctx context.Context, p *rtp.Packet) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	size := p.MarshalSize()
	if size > w.s.cfg.MaxPayloadSize() {
		return fmt.Errorf("rtp packet of %d bytes exceeds max payload %d: %w",
			size, w.s.cfg.MaxPayloadSize(), ErrInvalidConfig)
	}
	if cap(w.buf) < size {
		w.buf = make([]byte, size)
	}
	n, err := p.MarshalTo(w.buf[:size])
	if err != nil {
		return fmt.Errorf("marshal rtp: %w", err)
	}
	_, err = w.s.Send(ctx, w.buf[:n])
	return err
}

// RTPReader parses each RIST payload as one RTP packet.
type RTPReader struct {
	r *Receiver
}

// NewRTPReader wraps r.
func NewRTPReader(r *Receiver) *RTPReader {
	return &RTPReader{r: r}
}

// ReadRTP returns the next packet. Payloads that do not parse as RTP are
// returned as an error wrapping the parse failure; the stream stays usable.
func (rr *RTPReader) ReadRTP(ctx context.Context) (*rtp.Packet, error) {
	p, err := rr.r.Receive(ctx)
	if err != nil {
		return nil, err
	}
	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(p.Data); err != nil {
		return nil, &RTPParseError{Seq: p.Seq, Err: err}
	}
	return pkt, nil
}

// RTPParseError reports a payload that is not a valid RTP packet.
type RTPParseError struct {
	Seq uint64 // RIST sequence of the payload
	Err error
}

func (e *RTPParseError) Error() string {
	return fmt.Sprintf("payload %d is not rtp: %v", e.Seq, e.Err)
}

func (e *RTPParseError) Unwrap() error { return e.Err }

// ForwardRTP relays packets from r to dst until r reaches end of stream,
// ctx ends, or dst fails. Payloads that are not RTP are skipped. It returns
// the number of packets forwarded; end of stream is not an error.
func ForwardRTP(ctx context.Context, r *Receiver, dst RTPPacketWriter) (int, error) {
	rr := NewRTPReader(r)
	log := r.log.With(zap.String("relay", "rtp"))
	forwarded := 0
	for {
		pkt, err := rr.ReadRTP(ctx)
		if err != nil {
			var parseErr *RTPParseError
			switch {
			case errors.Is(err, io.EOF):
				return forwarded, nil
			case errors.As(err, &parseErr):
				log.Debug("skipping non-rtp payload", zap.Error(err))
				continue
			default:
				return forwarded, err
			}
		}
		if err := dst.WriteRTP(pkt); err != nil {
			return forwarded, fmt.Errorf("forward rtp: %w", err)
		}
		forwarded++
	}
}
