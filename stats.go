package rist

import "time"

// Stats is a point-in-time copy of connection quality metrics. A snapshot is
// never mutated after it is produced and has no relation to earlier ones.
//
// Receiver snapshots describe a flow; sender snapshots describe a peer.
// Fields that do not apply to the role are zero.
type Stats struct {
	Role  Role
	Taken time.Time

	Quality        float64       // 0-100
	RTT            time.Duration // round-trip time
	Bandwidth      uint64        // bps
	RetryBandwidth uint64        // bps

	Sent          uint64 // sender: packets, receiver: NACKs
	Received      uint64 // sender: ACKs, receiver: packets
	Retransmitted uint64
	Lost          uint64 // unrecoverable

	// Receiver flow
	FlowID    uint32
	PeerCount uint32
	Missing   uint64
	Reordered uint64
	Recovered uint64

	// Sender peer
	PeerID uint32
}

// LossRatio returns lost/(received+lost), or 0 when nothing was counted.
func (s Stats) LossRatio() float64 {
	total := s.Received + s.Lost
	if total == 0 {
		return 0
	}
	return float64(s.Lost) / float64(total)
}
