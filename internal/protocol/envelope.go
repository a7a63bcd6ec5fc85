package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Envelope type tags on the control channel.
const (
	TypeRequest  = "Request"
	TypeResponse = "Response"
	TypeEvents   = "Events"
)

var ErrMalformedEnvelope = errors.New("malformed control envelope")

// Request is a correlated call from one side of the control channel to
// the other. Sequence wraps 65535 -> 0 and is scoped to the channel.
type Request struct {
	Method   string          `json:"method"`
	Sequence uint16          `json:"sequence"`
	Content  json.RawMessage `json:"content"`
}

// Response resolves the pending request with the matching sequence.
type Response struct {
	Sequence uint16 `json:"sequence"`
	Content  Result `json:"content"`
}

// Event is an uncorrelated notification.
type Event struct {
	Method string `json:"method"`
}

// Result is the tagged Ok/Err union used on the wire. Exactly one of
// Ok or Err is meaningful depending on the tag.
type Result struct {
	Ok  json.RawMessage
	Err string
}

type resultWire struct {
	Ty      string          `json:"ty"`
	Content json.RawMessage `json:"content"`
}

func (r Result) MarshalJSON() ([]byte, error) {
	if r.Err != "" {
		content, err := json.Marshal(r.Err)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resultWire{Ty: "Err", Content: content})
	}
	content := r.Ok
	if content == nil {
		content = json.RawMessage("null")
	}
	return json.Marshal(resultWire{Ty: "Ok", Content: content})
}

func (r *Result) UnmarshalJSON(b []byte) error {
	var wire resultWire
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	switch wire.Ty {
	case "Ok":
		r.Ok = wire.Content
	case "Err":
		if err := json.Unmarshal(wire.Content, &r.Err); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: result tag %q", ErrMalformedEnvelope, wire.Ty)
	}
	return nil
}

// Envelope is one newline-delimited control line. Exactly one of the
// three bodies is set, per the Ty tag.
type Envelope struct {
	Request  *Request
	Response *Response
	Event    *Event
}

type envelopeWire struct {
	Ty      string          `json:"ty"`
	Content json.RawMessage `json:"content"`
}

// EncodeEnvelope serializes e without the trailing newline.
func EncodeEnvelope(e Envelope) ([]byte, error) {
	var (
		ty   string
		body any
	)
	switch {
	case e.Request != nil:
		ty, body = TypeRequest, e.Request
	case e.Response != nil:
		ty, body = TypeResponse, e.Response
	case e.Event != nil:
		ty, body = TypeEvents, e.Event
	default:
		return nil, ErrMalformedEnvelope
	}
	content, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelopeWire{Ty: ty, Content: content})
}

// DecodeEnvelope parses one control line.
func DecodeEnvelope(line []byte) (Envelope, error) {
	var wire envelopeWire
	if err := json.Unmarshal(line, &wire); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	var e Envelope
	switch wire.Ty {
	case TypeRequest:
		e.Request = new(Request)
		if err := json.Unmarshal(wire.Content, e.Request); err != nil {
			return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
		}
	case TypeResponse:
		e.Response = new(Response)
		if err := json.Unmarshal(wire.Content, e.Response); err != nil {
			return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
		}
	case TypeEvents:
		e.Event = new(Event)
		if err := json.Unmarshal(wire.Content, e.Event); err != nil {
			return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
		}
	default:
		return Envelope{}, fmt.Errorf("%w: envelope tag %q", ErrMalformedEnvelope, wire.Ty)
	}
	return e, nil
}
