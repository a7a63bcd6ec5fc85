package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestRoundTrip(t *testing.T) {
	e := Envelope{Request: &Request{
		Method:   "GetStatus",
		Sequence: 42,
		Content:  json.RawMessage("null"),
	}}

	line, err := EncodeEnvelope(e)
	require.NoError(t, err)

	got, err := DecodeEnvelope(line)
	require.NoError(t, err)
	require.NotNil(t, got.Request)
	assert.Equal(t, "GetStatus", got.Request.Method)
	assert.Equal(t, uint16(42), got.Request.Sequence)
	assert.JSONEq(t, "null", string(got.Request.Content))
}

func TestResponseOkRoundTrip(t *testing.T) {
	e := Envelope{Response: &Response{
		Sequence: 65535,
		Content:  Result{Ok: json.RawMessage(`{"status":"Idle"}`)},
	}}

	line, err := EncodeEnvelope(e)
	require.NoError(t, err)

	got, err := DecodeEnvelope(line)
	require.NoError(t, err)
	require.NotNil(t, got.Response)
	assert.Equal(t, uint16(65535), got.Response.Sequence)
	assert.Empty(t, got.Response.Content.Err)
	assert.JSONEq(t, `{"status":"Idle"}`, string(got.Response.Content.Ok))
}

func TestResponseErrRoundTrip(t *testing.T) {
	e := Envelope{Response: &Response{
		Sequence: 7,
		Content:  Result{Err: "a session is already active"},
	}}

	line, err := EncodeEnvelope(e)
	require.NoError(t, err)
	assert.Contains(t, string(line), `"ty":"Err"`)

	got, err := DecodeEnvelope(line)
	require.NoError(t, err)
	assert.Equal(t, "a session is already active", got.Response.Content.Err)
}

func TestEventRoundTrip(t *testing.T) {
	line, err := EncodeEnvelope(Envelope{Event: &Event{Method: "ReadyNotify"}})
	require.NoError(t, err)
	assert.Contains(t, string(line), `"ty":"Events"`)

	got, err := DecodeEnvelope(line)
	require.NoError(t, err)
	require.NotNil(t, got.Event)
	assert.Equal(t, "ReadyNotify", got.Event.Method)
}

func TestDecodeMalformed(t *testing.T) {
	for _, line := range []string{
		"not json at all",
		`{"ty":"Unknown","content":{}}`,
		`{"ty":"Response","content":{"sequence":1,"content":{"ty":"Maybe","content":null}}}`,
	} {
		_, err := DecodeEnvelope([]byte(line))
		assert.ErrorIs(t, err, ErrMalformedEnvelope, line)
	}
}
