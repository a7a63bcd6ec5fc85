package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// StreamInfo is the textual handshake a client presents to a relay
// server when attaching to a stream, in the form
// "#!::i=<id>,k=<0|1>[,t=<token>]". k=1 marks the publisher.
type StreamInfo struct {
	ID        string
	Publisher bool
	Token     string
}

const streamInfoPrefix = "#!::"

// ErrMalformedStreamInfo reports a handshake string that does not
// follow the expected key=value layout.
var ErrMalformedStreamInfo = fmt.Errorf("malformed stream info")

func (s StreamInfo) String() string {
	var b strings.Builder
	b.WriteString(streamInfoPrefix)
	b.WriteString("i=")
	b.WriteString(s.ID)
	b.WriteString(",k=")
	if s.Publisher {
		b.WriteString("1")
	} else {
		b.WriteString("0")
	}
	if s.Token != "" {
		b.WriteString(",t=")
		b.WriteString(s.Token)
	}
	return b.String()
}

// ParseStreamInfo decodes a handshake string. Unknown keys are
// ignored so the format can grow without breaking older relays.
func ParseStreamInfo(raw string) (StreamInfo, error) {
	if !strings.HasPrefix(raw, streamInfoPrefix) {
		return StreamInfo{}, ErrMalformedStreamInfo
	}
	info := StreamInfo{}
	for _, part := range strings.Split(raw[len(streamInfoPrefix):], ",") {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return StreamInfo{}, ErrMalformedStreamInfo
		}
		switch key {
		case "i":
			info.ID = value
		case "k":
			k, err := strconv.Atoi(value)
			if err != nil {
				return StreamInfo{}, ErrMalformedStreamInfo
			}
			info.Publisher = k == 1
		case "t":
			info.Token = value
		}
	}
	if info.ID == "" {
		return StreamInfo{}, ErrMalformedStreamInfo
	}
	return info, nil
}
