package domain

import (
	"fmt"
	"net"
	"strconv"
)

type StreamID string

// StrategyKind is the closed set of delivery topologies. The strategy
// is selected once at connect time; packets are never re-dispatched on
// it afterwards.
type StrategyKind string

const (
	// StrategyDirect has the sender listen at its bind address and the
	// receiver dial the sender's published address.
	StrategyDirect StrategyKind = "Direct"
	// StrategyRelay routes both sides through a forwarding server.
	StrategyRelay StrategyKind = "Relay"
	// StrategyMulticast delivers over a shared multicast group:port,
	// identical on sender and receiver.
	StrategyMulticast StrategyKind = "Multicast"
)

// TransportStrategy pairs the topology with its address. The address
// meaning depends on the kind: a bind address for a Direct sender, the
// sender's address for a Direct receiver, the relay server for Relay,
// and the multicast group for Multicast.
type TransportStrategy struct {
	Kind    StrategyKind `json:"kind" yaml:"kind"`
	Address string       `json:"address" yaml:"address"`
}

// TransportConfig carries the tuning knobs shared by every strategy
// driver and the multiplexer.
type TransportConfig struct {
	Strategy     TransportStrategy `json:"strategy" yaml:"strategy"`
	MTU          uint32            `json:"mtu" yaml:"mtu"`
	MaxBandwidth uint64            `json:"max_bandwidth" yaml:"max_bandwidth"`
	TimeoutMS    uint32            `json:"timeout_ms" yaml:"timeout_ms"`
	// FEC is the number of recovery packets appended per fragment group.
	FEC uint32 `json:"fec" yaml:"fec"`
	// FC bounds the in-flight unacknowledged packets on
	// connection-oriented strategies. Ignored for Multicast.
	FC uint32 `json:"fc" yaml:"fc"`
	// LatencyMS bounds the receive reorder buffer depth.
	LatencyMS uint32 `json:"latency_ms" yaml:"latency_ms"`
}

// Validate rejects configurations the drivers cannot honor.
func (c TransportConfig) Validate(headerSize uint32) error {
	if c.MTU <= headerSize {
		return fmt.Errorf("%w: mtu %d must exceed packet header size %d", ErrInvalidConfig, c.MTU, headerSize)
	}
	switch c.Strategy.Kind {
	case StrategyDirect, StrategyRelay, StrategyMulticast:
	default:
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, c.Strategy.Kind)
	}
	host, port, err := net.SplitHostPort(c.Strategy.Address)
	if err != nil {
		return fmt.Errorf("%w: strategy address %q: %v", ErrInvalidConfig, c.Strategy.Address, err)
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return fmt.Errorf("%w: strategy port %q", ErrInvalidConfig, port)
	}
	if c.Strategy.Kind == StrategyMulticast {
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsMulticast() {
			return fmt.Errorf("%w: %q is not a multicast group", ErrInvalidConfig, host)
		}
	}
	return nil
}

// VideoDescription describes the encoded video elementary stream.
type VideoDescription struct {
	Format  string `json:"format"`
	Width   uint32 `json:"width"`
	Height  uint32 `json:"height"`
	FPS     uint8  `json:"fps"`
	Bitrate uint64 `json:"bitrate"`
}

// AudioDescription describes the encoded audio elementary stream.
type AudioDescription struct {
	SampleRate uint64 `json:"sample_rate"`
	Channels   uint8  `json:"channels"`
	Bitrate    uint64 `json:"bitrate"`
}

// MediaStreamDescription is the immutable descriptor of an active
// stream, produced by a sender session and consumed by receivers to
// configure transport and decode.
type MediaStreamDescription struct {
	ID        StreamID          `json:"id"`
	Transport TransportConfig   `json:"transport"`
	Video     *VideoDescription `json:"video,omitempty"`
	Audio     *AudioDescription `json:"audio,omitempty"`
}
