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
)

// multicastConn maps one packet to one UDP datagram on a multicast
// group. There is no ack path and no in-flight window; loss recovery
// is left to the FEC layer above.
type multicastConn struct {
	conn   *net.UDPConn
	pacer  *pacer
	mtu    int
	log    *zap.SugaredLogger
	sender bool

	closeOnce sync.Once
	done      chan struct{}
}

func openMulticast(ctx context.Context, cfg domain.TransportConfig, role Role, log *zap.SugaredLogger) (*multicastConn, error) {
	group, err := net.ResolveUDPAddr("udp4", cfg.Strategy.Address)
	if err != nil {
		return nil, err
	}
	var conn *net.UDPConn
	if role == RoleSender {
		conn, err = net.DialUDP("udp4", nil, group)
	} else {
		conn, err = net.ListenMulticastUDP("udp4", nil, group)
	}
	if err != nil {
		return nil, err
	}
	if role == RoleReceiver {
		conn.SetReadBuffer(4 << 20)
	}
	mc := &multicastConn{
		conn:   conn,
		pacer:  newPacer(cfg.MaxBandwidth),
		mtu:    int(cfg.MTU),
		log:    log,
		sender: role == RoleSender,
		done:   make(chan struct{}),
	}
	go func() {
		select {
		case <-ctx.Done():
			mc.Close()
		case <-mc.done:
		}
	}()
	log.Infow("multicast group open", "group", group.String(), "sender", mc.sender)
	return mc, nil
}

func (mc *multicastConn) Send(ctx context.Context, p *protocol.Packet) error {
	if p.Size() > mc.mtu {
		return domain.ErrPacketTooLarge
	}
	buf := p.Marshal(make([]byte, 0, p.Size()))
	if err := mc.pacer.wait(ctx, len(buf)); err != nil {
		return err
	}
	select {
	case <-mc.done:
		return net.ErrClosed
	default:
	}
	_, err := mc.conn.Write(buf)
	return err
}

func (mc *multicastConn) Recv(ctx context.Context) (*protocol.Packet, error) {
	buf := make([]byte, mc.mtu)
	for {
		select {
		case <-mc.done:
			return nil, net.ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		// Short read deadline so context cancellation is noticed while
		// the group is quiet.
		mc.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, _, err := mc.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-mc.done:
				return nil, net.ErrClosed
			default:
			}
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			return nil, err
		}
		pkt, err := protocol.UnmarshalPacket(buf[:n])
		if err != nil {
			mc.log.Warnw("dropping malformed datagram", "error", err)
			continue
		}
		// The payload aliases the read buffer; detach it before reuse.
		payload := make([]byte, len(pkt.Payload))
		copy(payload, pkt.Payload)
		pkt.Payload = payload
		return pkt, nil
	}
}

func (mc *multicastConn) Close() error {
	mc.closeOnce.Do(func() {
		close(mc.done)
		mc.conn.Close()
	})
	return nil
}
