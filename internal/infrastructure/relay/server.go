// Package relay implements the forwarding server for the Relay
// strategy: publishers attach with a stream handshake, subscribers
// attach to the same stream id, and the server fans every data frame
// out to all attached subscribers.
package relay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"lancast/internal/core/domain"
	"lancast/internal/core/ports"
	"lancast/internal/infrastructure/monitoring"
	"lancast/internal/infrastructure/transport"
	"lancast/internal/protocol"
	"lancast/pkg/tracing"
)

const (
	handshakeTimeout = 5 * time.Second
	// subscriberBuffer is the per-subscriber frame queue; one that
	// falls this far behind is detached rather than stalling the
	// publisher.
	subscriberBuffer = 256
)

// Config carries the relay's own settings, separate from the shared
// transport tuning.
type Config struct {
	Address  string
	Instance string
	ClaimTTL time.Duration
}

type subscriber struct {
	conn   net.Conn
	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// relayStream holds the subscribers of one stream id. The entry exists
// as soon as anyone names the id: subscribers that arrive before the
// publisher park here and receive frames once a publisher claims it.
type relayStream struct {
	id        domain.StreamID
	mu        sync.Mutex
	published bool
	subs      map[*subscriber]struct{}
}

// Server accepts publisher and subscriber connections and routes
// frames between them. Stream ownership is coordinated through the
// registry so several relay instances can share one Redis.
type Server struct {
	cfg      Config
	registry ports.RelayRegistry
	auth     *Authenticator
	metrics  *monitoring.PrometheusCollector
	log      *zap.SugaredLogger

	listener net.Listener
	mu       sync.Mutex
	streams  map[domain.StreamID]*relayStream

	wg sync.WaitGroup
}

func NewServer(cfg Config, registry ports.RelayRegistry, auth *Authenticator, metrics *monitoring.PrometheusCollector, log *zap.SugaredLogger) *Server {
	return &Server{
		cfg:      cfg,
		registry: registry,
		auth:     auth,
		metrics:  metrics,
		log:      log,
		streams:  make(map[domain.StreamID]*relayStream),
	}
}

// Listen binds the relay address without accepting yet, so callers
// can learn the bound port before Serve.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("bind relay address: %w", err)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound listener address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	ln := s.listener
	s.log.Infow("relay listening", "address", ln.Addr().String(), "instance", s.cfg.Instance)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			s.log.Warnw("accept failed", "error", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
	s.wg.Wait()
	return nil
}

// Healthy reports whether the listener is accepting connections.
func (s *Server) Healthy(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("relay not listening")
	}
	return nil
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	br := bufio.NewReaderSize(conn, 64*1024)
	bw := bufio.NewWriterSize(conn, 64*1024)

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	ftype, body, err := transport.ReadFrame(br)
	if err != nil || ftype != transport.FrameHandshake {
		s.log.Warnw("connection without handshake", "remote", conn.RemoteAddr().String())
		return
	}
	conn.SetReadDeadline(time.Time{})

	info, err := protocol.ParseStreamInfo(string(body))
	if err != nil {
		s.metrics.RecordHandshake(false, "malformed")
		s.log.Warnw("malformed handshake", "remote", conn.RemoteAddr().String(), "error", err)
		return
	}

	if info.Publisher {
		s.servePublisher(ctx, conn, br, info)
	} else {
		s.serveSubscriber(conn, bw, info)
	}
}

func (s *Server) servePublisher(ctx context.Context, conn net.Conn, br *bufio.Reader, info protocol.StreamInfo) {
	id := domain.StreamID(info.ID)
	if err := s.auth.Verify(info.Token, id); err != nil {
		s.metrics.RecordAuthFailure()
		s.metrics.RecordHandshake(true, "unauthorized")
		s.log.Warnw("publisher rejected", "stream", id, "remote", conn.RemoteAddr().String())
		return
	}
	st := s.stream(id)
	st.mu.Lock()
	if st.published {
		st.mu.Unlock()
		s.metrics.RecordHandshake(true, "busy")
		s.log.Warnw("stream already published here", "stream", id)
		return
	}
	st.published = true
	st.mu.Unlock()

	if err := s.registry.Register(ctx, id, s.cfg.Instance); err != nil {
		st.mu.Lock()
		st.published = false
		st.mu.Unlock()
		s.metrics.RecordHandshake(true, "busy")
		s.log.Warnw("stream claim refused", "stream", id, "error", err)
		return
	}
	defer func() {
		unregCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		s.registry.Unregister(unregCtx, id)
		cancel()
	}()

	s.metrics.RecordHandshake(true, "ok")
	s.metrics.RecordStreamPublished(id)
	streamCtx, span := tracing.TraceStream(ctx, "publisher", string(id))
	defer span.End()
	s.log.Infow("stream published", "stream", id, "remote", conn.RemoteAddr().String())

	defer func() {
		s.mu.Lock()
		if s.streams[id] == st {
			delete(s.streams, id)
		}
		s.mu.Unlock()
		st.mu.Lock()
		for sub := range st.subs {
			sub.close()
		}
		st.mu.Unlock()
		s.metrics.RecordStreamEnded(id)
		s.log.Infow("stream ended", "stream", id)
	}()

	heartbeatCtx, stopHeartbeat := context.WithCancel(streamCtx)
	defer stopHeartbeat()
	go s.heartbeat(heartbeatCtx, id)

	bw := bufio.NewWriterSize(conn, 4096)
	pending := 0
	for {
		ftype, body, err := transport.ReadFrame(br)
		if err != nil {
			if streamCtx.Err() == nil {
				tracing.RecordError(streamCtx, err)
			}
			return
		}
		if ftype != transport.FrameData {
			continue
		}
		s.broadcast(st, body)
		pending++
		if pending >= transport.AckEvery {
			if err := transport.WriteFrame(bw, transport.FrameAck, transport.AckBody(uint32(pending))); err != nil {
				return
			}
			pending = 0
		}
	}
}

// broadcast queues one frame body on every subscriber, detaching any
// whose queue is full.
func (s *Server) broadcast(st *relayStream, body []byte) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for sub := range st.subs {
		select {
		case sub.frames <- body:
		default:
			s.log.Warnw("detaching slow subscriber",
				"stream", st.id,
				"remote", sub.conn.RemoteAddr().String())
			sub.close()
			delete(st.subs, sub)
			s.metrics.RecordSubscriberDetached(st.id)
		}
	}
	s.metrics.RecordForwardedBytes(st.id, len(body))
}

// stream returns the entry for id, creating it on first use.
func (s *Server) stream(id domain.StreamID) *relayStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[id]
	if !ok {
		st = &relayStream{id: id, subs: make(map[*subscriber]struct{})}
		s.streams[id] = st
	}
	return st
}

func (s *Server) serveSubscriber(conn net.Conn, bw *bufio.Writer, info protocol.StreamInfo) {
	id := domain.StreamID(info.ID)
	st := s.stream(id)

	sub := &subscriber{
		conn:   conn,
		frames: make(chan []byte, subscriberBuffer),
		done:   make(chan struct{}),
	}
	st.mu.Lock()
	st.subs[sub] = struct{}{}
	st.mu.Unlock()

	s.metrics.RecordHandshake(false, "ok")
	s.metrics.RecordSubscriberAttached(id)
	s.log.Infow("subscriber attached", "stream", id, "remote", conn.RemoteAddr().String())

	defer func() {
		s.mu.Lock()
		st.mu.Lock()
		if _, still := st.subs[sub]; still {
			delete(st.subs, sub)
			s.metrics.RecordSubscriberDetached(id)
		}
		if !st.published && len(st.subs) == 0 && s.streams[id] == st {
			delete(s.streams, id)
		}
		st.mu.Unlock()
		s.mu.Unlock()
		sub.close()
		s.log.Infow("subscriber detached", "stream", id)
	}()

	// Drain inbound acks so the subscriber's flow control machinery
	// can run unchanged against a relay.
	go func() {
		br := bufio.NewReader(conn)
		for {
			if _, _, err := transport.ReadFrame(br); err != nil {
				sub.close()
				return
			}
		}
	}()

	for {
		select {
		case body := <-sub.frames:
			if err := transport.WriteFrame(bw, transport.FrameData, body); err != nil {
				return
			}
		case <-sub.done:
			return
		}
	}
}

func (s *Server) heartbeat(ctx context.Context, id domain.StreamID) {
	interval := s.cfg.ClaimTTL / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := s.registry.Heartbeat(hbCtx, id, s.cfg.Instance); err != nil {
				s.log.Warnw("claim heartbeat failed", "stream", id, "error", err)
			}
			cancel()
		}
	}
}
