package services

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lancast/internal/core/domain"
	"lancast/internal/core/ports"
	"lancast/internal/infrastructure/monitoring"
	"lancast/internal/infrastructure/streaming"
	"lancast/internal/infrastructure/transport"
	"lancast/internal/protocol"
)

// session bundles everything torn down together when a sender or
// receiver ends.
type session struct {
	cancel context.CancelFunc
	conn   ports.Connection
	wg     sync.WaitGroup
}

type sessionService struct {
	discovery ports.DiscoveryService
	pipelines ports.PipelineFactory
	metrics   *monitoring.PrometheusCollector
	log       *zap.SugaredLogger

	mu        sync.Mutex
	status    domain.Status
	current   *session
	callbacks []func(domain.Status)
}

func NewSessionService(
	discovery ports.DiscoveryService,
	pipelines ports.PipelineFactory,
	metrics *monitoring.PrometheusCollector,
	log *zap.SugaredLogger,
) ports.SessionService {
	return &sessionService{
		discovery: discovery,
		pipelines: pipelines,
		metrics:   metrics,
		log:       log,
		status:    domain.StatusIdle,
	}
}

func (s *sessionService) Status() domain.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *sessionService) OnStatusChange(fn func(domain.Status)) {
	s.mu.Lock()
	s.callbacks = append(s.callbacks, fn)
	s.mu.Unlock()
}

// begin moves Idle to the target state, refusing when any session is
// already active.
func (s *sessionService) begin(target domain.Status) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != domain.StatusIdle {
		return nil, domain.ErrSessionActive
	}
	sess := &session{}
	s.status = target
	s.current = sess
	return sess, nil
}

// abort backs out of a failed session setup.
func (s *sessionService) abort(sess *session) {
	s.mu.Lock()
	if s.current == sess {
		s.current = nil
		s.status = domain.StatusIdle
	}
	s.mu.Unlock()
}

func (s *sessionService) notify(status domain.Status) {
	s.mu.Lock()
	fns := make([]func(domain.Status), len(s.callbacks))
	copy(fns, s.callbacks)
	s.mu.Unlock()
	s.metrics.RecordSessionStatus(status)
	for _, fn := range fns {
		fn(status)
	}
}

// end tears sess down if it is still the active session. Pumps call
// this on fatal errors; the public Close methods go through here too.
func (s *sessionService) end(sess *session, wait bool) {
	s.mu.Lock()
	if s.current != sess {
		s.mu.Unlock()
		return
	}
	wasSending := s.status == domain.StatusSending
	s.current = nil
	s.status = domain.StatusIdle
	s.mu.Unlock()

	if sess.cancel != nil {
		sess.cancel()
	}
	if sess.conn != nil {
		sess.conn.Close()
	}
	if wait {
		sess.wg.Wait()
	}
	if wasSending {
		s.discovery.SetMetadata(nil)
	}
	s.notify(domain.StatusIdle)
}

func (s *sessionService) CreateSender(ctx context.Context, opts domain.SenderOptions) (*domain.MediaStreamDescription, error) {
	sess, err := s.begin(domain.StatusSending)
	if err != nil {
		return nil, err
	}

	pipeline, err := s.pipelines.SenderPipeline(opts)
	if err != nil {
		s.abort(sess)
		return nil, err
	}

	desc := &domain.MediaStreamDescription{
		ID:        domain.StreamID(uuid.NewString()),
		Transport: opts.Transport,
		Video:     opts.Video,
		Audio:     opts.Audio,
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	sess.cancel = cancel

	conn, err := transport.Connect(sessCtx, opts.Transport, transport.RoleSender,
		transport.Options{StreamID: string(desc.ID)}, s.log)
	if err != nil {
		cancel()
		s.abort(sess)
		return nil, err
	}
	sess.conn = conn

	if pipeline.VideoSource != nil {
		s.startSendPump(sessCtx, sess, conn, opts.Transport,
			protocol.StreamVideo, pipeline.VideoSource, pipeline.VideoEncoder)
	}
	if pipeline.AudioSource != nil {
		s.startSendPump(sessCtx, sess, conn, opts.Transport,
			protocol.StreamAudio, pipeline.AudioSource, pipeline.AudioEncoder)
	}

	s.discovery.SetMetadata(&domain.DeviceMetadata{
		Port:        advertisedPort(opts.Transport),
		Description: desc,
	})
	s.notify(domain.StatusSending)
	s.log.Infow("sender session started",
		"stream", desc.ID,
		"strategy", opts.Transport.Strategy.Kind)
	return desc, nil
}

func (s *sessionService) startSendPump(
	ctx context.Context,
	sess *session,
	conn ports.Connection,
	cfg domain.TransportConfig,
	streamID uint8,
	source ports.FrameSource,
	encoder ports.Encoder,
) {
	muxer := streaming.NewMuxer(cfg)
	sess.wg.Add(1)
	go func() {
		defer sess.wg.Done()
		for {
			payload, keyFrame, timestamp, err := source.Next(ctx)
			if err != nil {
				if !errors.Is(err, io.EOF) && ctx.Err() == nil {
					s.log.Warnw("frame source failed", "stream", streamID, "error", err)
				}
				s.end(sess, false)
				return
			}
			if encoder != nil {
				if payload, err = encoder.Encode(payload); err != nil {
					s.log.Warnw("encode failed", "stream", streamID, "error", err)
					s.end(sess, false)
					return
				}
			}
			for _, pkt := range muxer.Mux(streamID, payload, keyFrame, timestamp) {
				if err := conn.Send(ctx, pkt); err != nil {
					if ctx.Err() == nil {
						s.log.Warnw("send failed", "stream", streamID, "error", err)
					}
					s.end(sess, false)
					return
				}
				s.metrics.RecordPacketSent(pkt.StreamID, len(pkt.Payload))
			}
		}
	}()
}

func (s *sessionService) CloseSender() {
	s.mu.Lock()
	if s.status != domain.StatusSending {
		s.mu.Unlock()
		return
	}
	sess := s.current
	s.mu.Unlock()
	s.end(sess, true)
	s.log.Infow("sender session closed")
}

func (s *sessionService) CreateReceiver(ctx context.Context, opts domain.ReceiverOptions, desc *domain.MediaStreamDescription) error {
	if desc == nil {
		return domain.ErrStreamNotFound
	}
	sess, err := s.begin(domain.StatusReceiving)
	if err != nil {
		return err
	}

	pipeline, err := s.pipelines.ReceiverPipeline(desc)
	if err != nil {
		s.abort(sess)
		return err
	}

	cfg := desc.Transport
	if opts.Address != "" {
		// The sender publishes its bind address; for Direct the
		// receiver dials the sender as seen from its own network.
		cfg.Strategy.Address = opts.Address
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	sess.cancel = cancel

	conn, err := transport.Connect(sessCtx, cfg, transport.RoleReceiver,
		transport.Options{StreamID: string(desc.ID)}, s.log)
	if err != nil {
		cancel()
		s.abort(sess)
		return err
	}
	sess.conn = conn

	demuxer := streaming.NewDemuxer(cfg, s.log)
	sess.wg.Add(1)
	go func() {
		defer sess.wg.Done()
		s.receivePump(sessCtx, sess, conn, demuxer, pipeline)
	}()

	s.notify(domain.StatusReceiving)
	s.log.Infow("receiver session started",
		"stream", desc.ID,
		"strategy", cfg.Strategy.Kind)
	return nil
}

func (s *sessionService) receivePump(
	ctx context.Context,
	sess *session,
	conn ports.Connection,
	demuxer *streaming.Demuxer,
	pipeline *ports.ReceiverPipeline,
) {
	var lostSeen, recoveredSeen uint64
	for {
		pkt, err := conn.Recv(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.log.Warnw("receive failed", "error", err)
			}
			s.end(sess, false)
			return
		}
		s.metrics.RecordPacketReceived(pkt.StreamID, len(pkt.Payload))
		for _, frame := range demuxer.Push(pkt) {
			if err := s.deliver(frame, pipeline); err != nil {
				s.log.Warnw("frame delivery failed", "stream", frame.StreamID, "error", err)
				s.end(sess, false)
				return
			}
		}
		if lost := demuxer.Lost(); lost > lostSeen {
			s.metrics.RecordFramesLost(lost - lostSeen)
			lostSeen = lost
		}
		if recovered := demuxer.Recovered(); recovered > recoveredSeen {
			s.metrics.RecordFragmentsRecovered(recovered - recoveredSeen)
			recoveredSeen = recovered
		}
	}
}

func (s *sessionService) deliver(frame streaming.Frame, pipeline *ports.ReceiverPipeline) error {
	payload := frame.Payload
	switch frame.StreamID {
	case protocol.StreamVideo:
		if pipeline.VideoDecoder != nil {
			decoded, err := pipeline.VideoDecoder.Decode(payload)
			if err != nil {
				return err
			}
			payload = decoded
		}
		return pipeline.Sink.Video(payload)
	default:
		if pipeline.AudioDecoder != nil {
			decoded, err := pipeline.AudioDecoder.Decode(payload)
			if err != nil {
				return err
			}
			payload = decoded
		}
		return pipeline.Sink.Audio(payload)
	}
}

func (s *sessionService) CloseReceiver() {
	s.mu.Lock()
	if s.status != domain.StatusReceiving {
		s.mu.Unlock()
		return
	}
	sess := s.current
	s.mu.Unlock()
	s.end(sess, true)
	s.log.Infow("receiver session closed")
}

// advertisedPort extracts the listen port a sender publishes through
// discovery metadata.
func advertisedPort(cfg domain.TransportConfig) uint16 {
	_, portStr, err := net.SplitHostPort(cfg.Strategy.Address)
	if err != nil {
		return 0
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return 0
	}
	return uint16(port)
}
