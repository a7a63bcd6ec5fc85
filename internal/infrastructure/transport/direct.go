package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"lancast/internal/core/domain"
	"lancast/internal/protocol"
	"lancast/pkg/retry"
)

// fanoutConn is the sender side of the Direct strategy: a TCP listener
// that replicates every outbound packet to all connected receivers. A
// receiver that stalls or disconnects is dropped without affecting the
// rest.
type fanoutConn struct {
	listener net.Listener
	cfg      domain.TransportConfig
	log      *zap.SugaredLogger

	mu    sync.Mutex
	peers []*streamConn

	closeOnce sync.Once
	done      chan struct{}
}

func listenDirect(ctx context.Context, cfg domain.TransportConfig, log *zap.SugaredLogger) (*fanoutConn, error) {
	ln, err := net.Listen("tcp", cfg.Strategy.Address)
	if err != nil {
		return nil, err
	}
	fc := &fanoutConn{
		listener: ln,
		cfg:      cfg,
		log:      log,
		done:     make(chan struct{}),
	}
	go fc.acceptLoop(ctx)
	go func() {
		select {
		case <-ctx.Done():
			fc.Close()
		case <-fc.done:
		}
	}()
	log.Infow("direct sender listening", "address", ln.Addr().String())
	return fc, nil
}

func (fc *fanoutConn) acceptLoop(ctx context.Context) {
	for {
		conn, err := fc.listener.Accept()
		if err != nil {
			select {
			case <-fc.done:
			default:
				fc.log.Warnw("accept failed", "error", err)
			}
			return
		}
		sc := newStreamConn(ctx, conn, fc.cfg, fc.log)
		fc.mu.Lock()
		fc.peers = append(fc.peers, sc)
		fc.mu.Unlock()
		fc.log.Infow("receiver connected", "remote", conn.RemoteAddr().String())
	}
}

// Send replicates the packet to every connected receiver. With no
// receivers connected the packet is dropped, matching multicast
// semantics on an empty group.
func (fc *fanoutConn) Send(ctx context.Context, p *protocol.Packet) error {
	select {
	case <-fc.done:
		return net.ErrClosed
	default:
	}
	if p.Size() > int(fc.cfg.MTU) {
		return domain.ErrPacketTooLarge
	}
	fc.mu.Lock()
	peers := make([]*streamConn, len(fc.peers))
	copy(peers, fc.peers)
	fc.mu.Unlock()

	var dead []*streamConn
	for _, sc := range peers {
		if err := sc.Send(ctx, p); err != nil {
			if errors.Is(err, domain.ErrPacketTooLarge) {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fc.log.Warnw("dropping receiver", "remote", sc.conn.RemoteAddr().String(), "error", err)
			sc.Close()
			dead = append(dead, sc)
		}
	}
	if len(dead) > 0 {
		fc.mu.Lock()
		kept := fc.peers[:0]
		for _, sc := range fc.peers {
			alive := true
			for _, d := range dead {
				if sc == d {
					alive = false
					break
				}
			}
			if alive {
				kept = append(kept, sc)
			}
		}
		fc.peers = kept
		fc.mu.Unlock()
	}
	return nil
}

// Recv blocks until the connection is closed; the Direct sender side
// carries no inbound media.
func (fc *fanoutConn) Recv(ctx context.Context) (*protocol.Packet, error) {
	select {
	case <-fc.done:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (fc *fanoutConn) Close() error {
	fc.closeOnce.Do(func() {
		close(fc.done)
		fc.listener.Close()
		fc.mu.Lock()
		for _, sc := range fc.peers {
			sc.Close()
		}
		fc.peers = nil
		fc.mu.Unlock()
	})
	return nil
}

// dialDirect connects a receiver to a Direct sender, retrying within
// the configured timeout before giving up with ErrConnectionRefused.
func dialDirect(ctx context.Context, cfg domain.TransportConfig, log *zap.SugaredLogger) (*streamConn, error) {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var conn net.Conn
	err := retry.Retry(dialCtx, retry.Config{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     timeout / 2,
		Multiplier:   2.0,
	}, func() error {
		d := net.Dialer{Timeout: timeout}
		c, err := d.DialContext(dialCtx, "tcp", cfg.Strategy.Address)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warnw("direct dial failed", "address", cfg.Strategy.Address, "error", err)
		return nil, domain.ErrConnectionRefused
	}
	return newStreamConn(ctx, conn, cfg, log), nil
}
