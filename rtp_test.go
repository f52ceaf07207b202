package rist

import (
	"bytes"
	"sync"
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRTPPacket(seq uint16, payload []byte) *rtp.Packet {
	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    33,
			SequenceNumber: seq,
			Timestamp:      uint32(seq) * 3000,
			SSRC:           0x1234abcd,
		},
		Payload: payload,
	}
}

func TestRTPRoundTrip(t *testing.T) {
	r, s := testPair(t, NewLoopback(), "6100")
	ctx := testContext(t)

	w := NewRTPWriter(s)
	rr := NewRTPReader(r)
	for i := uint16(0); i < 5; i++ {
		require.NoError(t, w.WriteRTP(testRTPPacket(i, bytes.Repeat([]byte{byte(i)}, 188))))
	}
	for i := uint16(0); i < 5; i++ {
		pkt, err := rr.ReadRTP(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, pkt.SequenceNumber)
		assert.Equal(t, uint32(0x1234abcd), pkt.SSRC)
		assert.Len(t, pkt.Payload, 188)
	}
}

func TestRTPWriterRejectsOversizedPacket(t *testing.T) {
	_, s := testPair(t, NewLoopback(), "6101")
	err := NewRTPWriter(s).WriteRTP(testRTPPacket(1, make([]byte, DefaultMaxPayloadSize)))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRTPReaderReportsNonRTP(t *testing.T) {
	r, s := testPair(t, NewLoopback(), "6102")
	ctx := testContext(t)

	_, err := s.Send(ctx, []byte{0x01})
	require.NoError(t, err)

	_, err = NewRTPReader(r).ReadRTP(ctx)
	var perr *RTPParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, uint64(1), perr.Seq)
}

type recordingRTPWriter struct {
	mu   sync.Mutex
	seqs []uint16
}

func (w *recordingRTPWriter) WriteRTP(p *rtp.Packet) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seqs = append(w.seqs, p.SequenceNumber)
	return nil
}

func TestForwardRTPUntilEndOfStream(t *testing.T) {
	r, s := testPair(t, NewLoopback(), "6103")
	ctx := testContext(t)

	w := NewRTPWriter(s)
	require.NoError(t, w.WriteRTP(testRTPPacket(10, []byte("a"))))
	_, err := s.Send(ctx, []byte("not rtp"))
	require.NoError(t, err)
	require.NoError(t, w.WriteRTP(testRTPPacket(11, []byte("b"))))
	require.NoError(t, s.Close())

	dst := &recordingRTPWriter{}
	n, err := ForwardRTP(ctx, r, dst)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []uint16{10, 11}, dst.seqs)
}
