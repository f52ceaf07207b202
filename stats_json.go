package rist

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// librist publishes every snapshot as a JSON document next to the typed
// union. The document is stable across librist releases while the C struct
// layout is not, so snapshots are decoded from it.

type nativeStatsDoc struct {
	Sender   *nativeSenderDoc   `json:"sender-stats"`
	Receiver *nativeReceiverDoc `json:"receiver-stats"`
}

type nativeSenderDoc struct {
	Peer struct {
		ID    uint32 `json:"id"`
		Stats struct {
			Quality        float64 `json:"quality"`
			Sent           uint64  `json:"sent"`
			Received       uint64  `json:"received"`
			Retransmitted  uint64  `json:"retransmitted"`
			Bandwidth      uint64  `json:"bandwidth"`
			RetryBandwidth uint64  `json:"retry_bandwidth"`
			RTT            float64 `json:"rtt"` // ms
		} `json:"stats"`
	} `json:"peer"`
}

type nativeReceiverDoc struct {
	Flow struct {
		FlowID uint32            `json:"flow_id"`
		Peers  []json.RawMessage `json:"peers"`
		Stats  struct {
			Quality        float64 `json:"quality"`
			Received       uint64  `json:"received"`
			Missing        uint64  `json:"missing"`
			Reordered      uint64  `json:"reordered"`
			Recovered      uint64  `json:"recovered_total"`
			Retries        uint64  `json:"retries"`
			Lost           uint64  `json:"lost"`
			Bitrate        uint64  `json:"bitrate"`
			RetryBandwidth uint64  `json:"retry_bandwidth"`
			RTT            float64 `json:"rtt"` // ms
		} `json:"stats"`
	} `json:"flowinstant"`
}

var errUnknownStats = errors.New("stats document has neither sender nor receiver section")

// parseStatsJSON converts one native stats document into a snapshot.
func parseStatsJSON(data []byte, taken time.Time) (Stats, error) {
	var doc nativeStatsDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return Stats{}, fmt.Errorf("decode stats: %w", err)
	}
	switch {
	case doc.Sender != nil:
		p := doc.Sender.Peer
		return Stats{
			Role:           RoleSender,
			Taken:          taken,
			Quality:        p.Stats.Quality,
			RTT:            msToDuration(p.Stats.RTT),
			Bandwidth:      p.Stats.Bandwidth,
			RetryBandwidth: p.Stats.RetryBandwidth,
			Sent:           p.Stats.Sent,
			Received:       p.Stats.Received,
			Retransmitted:  p.Stats.Retransmitted,
			PeerID:         p.ID,
		}, nil
	case doc.Receiver != nil:
		f := doc.Receiver.Flow
		return Stats{
			Role:           RoleReceiver,
			Taken:          taken,
			Quality:        f.Stats.Quality,
			RTT:            msToDuration(f.Stats.RTT),
			Bandwidth:      f.Stats.Bitrate,
			RetryBandwidth: f.Stats.RetryBandwidth,
			Sent:           f.Stats.Retries,
			Received:       f.Stats.Received,
			Lost:           f.Stats.Lost,
			FlowID:         f.FlowID,
			PeerCount:      uint32(len(f.Peers)),
			Missing:        f.Stats.Missing,
			Reordered:      f.Stats.Reordered,
			Recovered:      f.Stats.Recovered,
		}, nil
	default:
		return Stats{}, errUnknownStats
	}
}

func msToDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
