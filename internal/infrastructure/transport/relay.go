package transport

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"

	"lancast/internal/core/domain"
	"lancast/internal/protocol"
)

// dialRelay attaches to a relay server and presents the stream
// handshake before any media flows. The publisher side may carry an
// auth token; subscribers attach anonymously.
func dialRelay(ctx context.Context, cfg domain.TransportConfig, info protocol.StreamInfo, log *zap.SugaredLogger) (*streamConn, error) {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", cfg.Strategy.Address)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warnw("relay dial failed", "address", cfg.Strategy.Address, "error", err)
		return nil, domain.ErrConnectionRefused
	}
	sc := newStreamConn(ctx, conn, cfg, log)
	sc.wmu.Lock()
	err = WriteFrame(sc.bw, FrameHandshake, []byte(info.String()))
	sc.wmu.Unlock()
	if err != nil {
		sc.Close()
		return nil, err
	}
	log.Infow("attached to relay",
		"address", cfg.Strategy.Address,
		"stream", info.ID,
		"publisher", info.Publisher)
	return sc, nil
}
