// Package transport implements the three strategy drivers (Direct,
// Relay, Multicast) behind the common Connection contract. Direct and
// Relay run length-prefixed frames over TCP with an application-level
// ack window; Multicast maps one packet to one UDP datagram.
package transport

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// Frame types on connection-oriented strategies.
const (
	FrameData      byte = 0
	FrameAck       byte = 1
	FrameHandshake byte = 2
)

// AckEvery is how many data frames a receiver consumes before sending
// a cumulative ack back to the sender.
const AckEvery = 16

// minWindow is the smallest usable fc window. Anything below twice the
// ack cadence would stall the sender between acks.
const minWindow = 2 * AckEvery

// MaxFrameSize bounds a single frame body; anything larger than the
// biggest plausible MTU plus header is a protocol violation.
const MaxFrameSize = 1 << 16

// WriteFrame writes one length-prefixed frame: u32 body length, u8
// frame type, body. The caller serializes access to w.
func WriteFrame(w *bufio.Writer, ftype byte, body []byte) error {
	var head [5]byte
	binary.BigEndian.PutUint32(head[:4], uint32(len(body)+1))
	head[4] = ftype
	if _, err := w.Write(head[:]); err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	return w.Flush()
}

// ReadFrame reads one frame, returning its type and body. The body is
// freshly allocated and safe to retain.
func ReadFrame(r *bufio.Reader) (byte, []byte, error) {
	var head [4]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return 0, nil, err
	}
	size := binary.BigEndian.Uint32(head[:])
	if size == 0 || size > MaxFrameSize {
		return 0, nil, fmt.Errorf("invalid frame size %d", size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	return body[0], body[1:], nil
}

// AckBody encodes the cumulative count of data frames being acked.
func AckBody(count uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], count)
	return b[:]
}

func ParseAck(body []byte) (uint32, error) {
	if len(body) != 4 {
		return 0, fmt.Errorf("invalid ack body length %d", len(body))
	}
	return binary.BigEndian.Uint32(body), nil
}
