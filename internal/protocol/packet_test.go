package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketRoundTrip(t *testing.T) {
	p := &Packet{
		StreamID:      StreamVideo,
		Flags:         FlagKeyFrame | FlagLast,
		Sequence:      4294967290,
		FragmentIndex: 3,
		FragmentCount: 7,
		Timestamp:     1234567890123,
		Payload:       []byte("encoded frame fragment"),
	}

	buf := p.Marshal(nil)
	require.Equal(t, p.Size(), len(buf))

	got, err := UnmarshalPacket(buf)
	require.NoError(t, err)
	assert.Equal(t, p.StreamID, got.StreamID)
	assert.Equal(t, p.Flags, got.Flags)
	assert.Equal(t, p.Sequence, got.Sequence)
	assert.Equal(t, p.FragmentIndex, got.FragmentIndex)
	assert.Equal(t, p.FragmentCount, got.FragmentCount)
	assert.Equal(t, p.Timestamp, got.Timestamp)
	assert.Equal(t, p.Payload, got.Payload)
}

func TestPacketEmptyPayload(t *testing.T) {
	p := &Packet{StreamID: StreamAudio, Sequence: 1}
	got, err := UnmarshalPacket(p.Marshal(nil))
	require.NoError(t, err)
	assert.Empty(t, got.Payload)
}

func TestUnmarshalShortBuffer(t *testing.T) {
	_, err := UnmarshalPacket(make([]byte, HeaderSize-1))
	assert.ErrorIs(t, err, ErrShortPacket)
}

func TestFECFlag(t *testing.T) {
	p := &Packet{Flags: FlagFEC}
	assert.True(t, p.IsFEC())
	p.Flags = FlagKeyFrame
	assert.False(t, p.IsFEC())
}
