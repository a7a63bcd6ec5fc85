package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamInfoRoundTrip(t *testing.T) {
	cases := []StreamInfo{
		{ID: "living-room", Publisher: true},
		{ID: "living-room", Publisher: false},
		{ID: "abc123", Publisher: true, Token: "eyJhbGciOiJIUzI1NiJ9.x.y"},
	}
	for _, in := range cases {
		out, err := ParseStreamInfo(in.String())
		require.NoError(t, err)
		assert.Equal(t, in, out)
	}
}

func TestParseStreamInfoRejectsGarbage(t *testing.T) {
	for _, raw := range []string{
		"",
		"i=abc,k=1",
		"#!::",
		"#!::i=abc,k=x",
		"#!::k=1",
		"#!::i",
	} {
		_, err := ParseStreamInfo(raw)
		assert.Error(t, err, "input %q", raw)
	}
}

func TestParseStreamInfoIgnoresUnknownKeys(t *testing.T) {
	info, err := ParseStreamInfo("#!::i=abc,k=0,z=9")
	require.NoError(t, err)
	assert.Equal(t, "abc", info.ID)
	assert.False(t, info.Publisher)
}
