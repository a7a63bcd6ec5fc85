// Package protocol holds the wire codec for the media transport packet
// header and the control-channel envelope. Everything here is pure and
// stateless; sockets and buffering live in the transport layer.
package protocol

import (
	"encoding/binary"
	"errors"
)

// Stream identifiers carried in the packet header.
const (
	StreamVideo uint8 = 0
	StreamAudio uint8 = 1
)

// Packet flag bits.
const (
	FlagKeyFrame uint8 = 1 << 0
	FlagFEC      uint8 = 1 << 1
	FlagLast     uint8 = 1 << 2
)

// HeaderSize is the fixed packet header length:
// StreamID(1) + Flags(1) + Sequence(4) + FragmentIndex(2) +
// FragmentCount(2) + Timestamp(8).
const HeaderSize = 18

var ErrShortPacket = errors.New("packet shorter than header")

// Packet is one transport unit of an elementary stream. Sequence is
// per-stream and wraps at the uint32 boundary; FragmentIndex and
// FragmentCount describe the packet's position within its frame.
type Packet struct {
	StreamID      uint8
	Flags         uint8
	Sequence      uint32
	FragmentIndex uint16
	FragmentCount uint16
	Timestamp     uint64
	Payload       []byte
}

// Size returns the marshaled length of the packet.
func (p *Packet) Size() int {
	return HeaderSize + len(p.Payload)
}

// IsFEC reports whether the packet carries parity rather than data.
func (p *Packet) IsFEC() bool {
	return p.Flags&FlagFEC != 0
}

// Marshal appends the wire form of the packet to dst and returns the
// extended slice.
func (p *Packet) Marshal(dst []byte) []byte {
	dst = append(dst, p.StreamID, p.Flags)
	dst = binary.BigEndian.AppendUint32(dst, p.Sequence)
	dst = binary.BigEndian.AppendUint16(dst, p.FragmentIndex)
	dst = binary.BigEndian.AppendUint16(dst, p.FragmentCount)
	dst = binary.BigEndian.AppendUint64(dst, p.Timestamp)
	return append(dst, p.Payload...)
}

// UnmarshalPacket decodes one packet from b. The payload aliases b;
// callers that retain the packet past the buffer's reuse must copy.
func UnmarshalPacket(b []byte) (*Packet, error) {
	if len(b) < HeaderSize {
		return nil, ErrShortPacket
	}
	return &Packet{
		StreamID:      b[0],
		Flags:         b[1],
		Sequence:      binary.BigEndian.Uint32(b[2:6]),
		FragmentIndex: binary.BigEndian.Uint16(b[6:8]),
		FragmentCount: binary.BigEndian.Uint16(b[8:10]),
		Timestamp:     binary.BigEndian.Uint64(b[10:18]),
		Payload:       b[HeaderSize:],
	}, nil
}
