package transport

import (
	"bufio"
	"context"
	"net"
	"sync"

	"go.uber.org/zap"

	"lancast/internal/core/domain"
	"lancast/internal/protocol"
)

const recvBuffer = 512

// streamConn frames packets over a single TCP connection. The sender
// side keeps a window of in-flight frames sized by the fc option and
// releases slots as acks come back; the receiver side acks every
// AckEvery data frames it consumes.
type streamConn struct {
	conn  net.Conn
	br    *bufio.Reader
	bw    *bufio.Writer
	wmu   sync.Mutex
	pacer *pacer
	mtu   int
	log   *zap.SugaredLogger

	window chan struct{}
	recvCh chan *protocol.Packet

	closeOnce sync.Once
	done      chan struct{}
	errMu     sync.Mutex
	readErr   error
}

func newStreamConn(ctx context.Context, conn net.Conn, cfg domain.TransportConfig, log *zap.SugaredLogger) *streamConn {
	sc := &streamConn{
		conn:   conn,
		br:     bufio.NewReaderSize(conn, 64*1024),
		bw:     bufio.NewWriterSize(conn, 64*1024),
		pacer:  newPacer(cfg.MaxBandwidth),
		mtu:    int(cfg.MTU),
		log:    log,
		recvCh: make(chan *protocol.Packet, recvBuffer),
		done:   make(chan struct{}),
	}
	if cfg.FC > 0 {
		sc.window = make(chan struct{}, cfg.FC)
	}
	go sc.readLoop()
	go func() {
		select {
		case <-ctx.Done():
			sc.Close()
		case <-sc.done:
		}
	}()
	return sc
}

// readLoop dispatches inbound frames: data frames feed Recv, ack
// frames release sender window slots.
func (sc *streamConn) readLoop() {
	var pending uint32
	for {
		ftype, body, err := ReadFrame(sc.br)
		if err != nil {
			sc.fail(err)
			return
		}
		switch ftype {
		case FrameData:
			pkt, err := protocol.UnmarshalPacket(body)
			if err != nil {
				sc.log.Warnw("dropping malformed packet", "error", err)
				continue
			}
			select {
			case sc.recvCh <- pkt:
			case <-sc.done:
				return
			}
			pending++
			if pending >= AckEvery {
				if err := sc.writeAck(pending); err != nil {
					sc.fail(err)
					return
				}
				pending = 0
			}
		case FrameAck:
			count, err := ParseAck(body)
			if err != nil {
				sc.log.Warnw("dropping malformed ack", "error", err)
				continue
			}
			sc.release(count)
		default:
			sc.log.Warnw("dropping frame of unknown type", "type", ftype)
		}
	}
}

func (sc *streamConn) writeAck(count uint32) error {
	sc.wmu.Lock()
	defer sc.wmu.Unlock()
	return WriteFrame(sc.bw, FrameAck, AckBody(count))
}

func (sc *streamConn) release(count uint32) {
	if sc.window == nil {
		return
	}
	for i := uint32(0); i < count; i++ {
		select {
		case <-sc.window:
		default:
			return
		}
	}
}

// Send frames one packet, respecting the mtu, the bandwidth pacer and
// the in-flight window.
func (sc *streamConn) Send(ctx context.Context, p *protocol.Packet) error {
	if p.Size() > sc.mtu {
		return domain.ErrPacketTooLarge
	}
	if sc.window != nil {
		select {
		case sc.window <- struct{}{}:
		case <-sc.done:
			return net.ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	body := p.Marshal(make([]byte, 0, p.Size()))
	if err := sc.pacer.wait(ctx, len(body)); err != nil {
		return err
	}
	sc.wmu.Lock()
	defer sc.wmu.Unlock()
	select {
	case <-sc.done:
		return net.ErrClosed
	default:
	}
	return WriteFrame(sc.bw, FrameData, body)
}

// Recv returns the next data packet in arrival order.
func (sc *streamConn) Recv(ctx context.Context) (*protocol.Packet, error) {
	select {
	case pkt := <-sc.recvCh:
		return pkt, nil
	case <-sc.done:
		// Drain anything buffered before reporting the close.
		select {
		case pkt := <-sc.recvCh:
			return pkt, nil
		default:
		}
		sc.errMu.Lock()
		err := sc.readErr
		sc.errMu.Unlock()
		if err != nil {
			return nil, err
		}
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fail records the read loop's terminal error and closes the
// connection. The error is stored before done closes so Recv never
// observes a half-written close.
func (sc *streamConn) fail(err error) {
	sc.errMu.Lock()
	if sc.readErr == nil {
		sc.readErr = err
	}
	sc.errMu.Unlock()
	sc.Close()
}

func (sc *streamConn) Close() error {
	sc.closeOnce.Do(func() {
		close(sc.done)
		sc.conn.Close()
	})
	return nil
}
