package transport

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"lancast/internal/core/domain"
	"lancast/internal/core/ports"
	"lancast/internal/protocol"
)

// Role selects which end of a strategy a connection plays.
type Role int

const (
	RoleSender Role = iota
	RoleReceiver
)

func (r Role) String() string {
	if r == RoleSender {
		return "sender"
	}
	return "receiver"
}

// Options carries per-connection parameters that sit outside the
// transport config proper.
type Options struct {
	// StreamID names the stream on the Relay strategy.
	StreamID string
	// Token optionally authenticates a relay publisher.
	Token string
}

// Connect opens a connection for the given role using the strategy
// named in the config. The context bounds the connection's lifetime:
// cancelling it closes the underlying sockets and unblocks any pending
// Send or Recv.
func Connect(ctx context.Context, cfg domain.TransportConfig, role Role, opts Options, log *zap.SugaredLogger) (ports.Connection, error) {
	if err := cfg.Validate(protocol.HeaderSize); err != nil {
		return nil, err
	}
	log = log.With("strategy", cfg.Strategy.Kind, "role", role.String())
	switch cfg.Strategy.Kind {
	case domain.StrategyDirect:
		if err := checkWindow(cfg); err != nil {
			return nil, err
		}
		if role == RoleSender {
			return listenDirect(ctx, cfg, log)
		}
		return dialDirect(ctx, cfg, log)
	case domain.StrategyRelay:
		if err := checkWindow(cfg); err != nil {
			return nil, err
		}
		info := protocol.StreamInfo{
			ID:        opts.StreamID,
			Publisher: role == RoleSender,
			Token:     opts.Token,
		}
		return dialRelay(ctx, cfg, info, log)
	case domain.StrategyMulticast:
		return openMulticast(ctx, cfg, role, log)
	default:
		return nil, domain.ErrInvalidConfig
	}
}

// checkWindow rejects flow-control windows the ack cadence could
// stall. Multicast carries no acks, so the fc knob never reaches here.
func checkWindow(cfg domain.TransportConfig) error {
	if cfg.FC > 0 && cfg.FC < minWindow {
		return fmt.Errorf("%w: fc %d is below the minimum window %d", domain.ErrInvalidConfig, cfg.FC, minWindow)
	}
	return nil
}
