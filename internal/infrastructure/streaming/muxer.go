package streaming

import (
	"lancast/internal/core/domain"
	"lancast/internal/protocol"
)

// Muxer splits frames into MTU-sized packets and appends parity
// packets when forward error correction is enabled. It is not safe
// for concurrent use; the sender pump owns it.
type Muxer struct {
	maxPayload int
	fec        int
	sequence   [2]uint32
}

func NewMuxer(cfg domain.TransportConfig) *Muxer {
	return &Muxer{
		maxPayload: int(cfg.MTU) - protocol.HeaderSize,
		fec:        int(cfg.FEC),
	}
}

// Mux fragments one frame into data packets, each assigned the next
// per-stream sequence number, plus up to fec parity packets. Key
// frames are flagged on every fragment so the receiver can resync on
// any of them.
func (m *Muxer) Mux(streamID uint8, payload []byte, keyFrame bool, timestamp uint64) []*protocol.Packet {
	seq := m.sequence[streamID&1]
	m.sequence[streamID&1]++

	count := (len(payload) + m.maxPayload - 1) / m.maxPayload
	if count == 0 {
		count = 1
	}

	var flags uint8
	if keyFrame {
		flags |= protocol.FlagKeyFrame
	}

	packets := make([]*protocol.Packet, 0, count+m.fec)
	for i := 0; i < count; i++ {
		lo := i * m.maxPayload
		hi := lo + m.maxPayload
		if hi > len(payload) {
			hi = len(payload)
		}
		f := flags
		if i == count-1 {
			f |= protocol.FlagLast
		}
		packets = append(packets, &protocol.Packet{
			StreamID:      streamID,
			Flags:         f,
			Sequence:      seq,
			FragmentIndex: uint16(i),
			FragmentCount: uint16(count),
			Timestamp:     timestamp,
			Payload:       payload[lo:hi],
		})
	}

	for class := 0; class < m.fec && class < count; class++ {
		var members [][]byte
		for i := class; i < count; i += m.fec {
			members = append(members, packets[i].Payload)
		}
		packets = append(packets, &protocol.Packet{
			StreamID:      streamID,
			Flags:         flags | protocol.FlagFEC,
			Sequence:      seq,
			FragmentIndex: uint16(class),
			FragmentCount: uint16(count),
			Timestamp:     timestamp,
			Payload:       buildParity(members),
		})
	}
	return packets
}
