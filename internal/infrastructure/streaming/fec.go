// Package streaming turns media frames into wire packets and back:
// fragmentation against the MTU, XOR parity for loss repair, and an
// ordered reassembly window on the receiving side.
package streaming

import "encoding/binary"

// Parity packets are built per class: parity class i is the XOR of
// every data fragment whose index is congruent to i modulo the fec
// parameter. Each fragment contributes its payload prefixed with a
// u16 length, so fragments of different sizes XOR cleanly and the
// repaired fragment's true length survives the padding.

// parityContribution XORs one length-prefixed fragment payload into
// buf, which must be at least parityLen(payload) bytes.
func parityContribution(buf, payload []byte) {
	var head [2]byte
	binary.BigEndian.PutUint16(head[:], uint16(len(payload)))
	buf[0] ^= head[0]
	buf[1] ^= head[1]
	for i, b := range payload {
		buf[2+i] ^= b
	}
}

func parityLen(payload []byte) int {
	return 2 + len(payload)
}

// buildParity XORs the given fragment payloads into a single parity
// payload sized for the largest member.
func buildParity(payloads [][]byte) []byte {
	max := 0
	for _, p := range payloads {
		if n := parityLen(p); n > max {
			max = n
		}
	}
	buf := make([]byte, max)
	for _, p := range payloads {
		parityContribution(buf, p)
	}
	return buf
}

// recoverFragment repairs the single missing member of a parity class
// by XORing the present members back out of the parity payload. It
// returns nil if the result is inconsistent.
func recoverFragment(parity []byte, present [][]byte) []byte {
	buf := make([]byte, len(parity))
	copy(buf, parity)
	for _, p := range present {
		if parityLen(p) > len(buf) {
			return nil
		}
		parityContribution(buf, p)
	}
	if len(buf) < 2 {
		return nil
	}
	size := int(binary.BigEndian.Uint16(buf[:2]))
	if 2+size > len(buf) {
		return nil
	}
	return buf[2 : 2+size]
}
