package services

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"lancast/internal/core/domain"
	"lancast/internal/core/ports"
	"lancast/internal/infrastructure/monitoring"
)

// fakeDiscovery records metadata advertisements.
type fakeDiscovery struct {
	mu       sync.Mutex
	metadata []*domain.DeviceMetadata
	names    []string
}

func (f *fakeDiscovery) Start() error            { return nil }
func (f *fakeDiscovery) Stop()                   {}
func (f *fakeDiscovery) Devices() []domain.Device { return nil }
func (f *fakeDiscovery) OnChange(func())         {}

func (f *fakeDiscovery) SetMetadata(md *domain.DeviceMetadata) {
	f.mu.Lock()
	f.metadata = append(f.metadata, md)
	f.mu.Unlock()
}

func (f *fakeDiscovery) SetName(name string) {
	f.mu.Lock()
	f.names = append(f.names, name)
	f.mu.Unlock()
}

func (f *fakeDiscovery) lastMetadata() *domain.DeviceMetadata {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.metadata) == 0 {
		return nil
	}
	return f.metadata[len(f.metadata)-1]
}

// steadySource emits a key frame every few milliseconds until its
// context ends.
type steadySource struct {
	payload []byte
	seq     uint64
}

func (s *steadySource) Next(ctx context.Context) ([]byte, bool, uint64, error) {
	select {
	case <-ctx.Done():
		return nil, false, 0, ctx.Err()
	case <-time.After(5 * time.Millisecond):
	}
	s.seq++
	return s.payload, true, s.seq, nil
}

// finiteSource emits its frames then reports io.EOF.
type finiteSource struct {
	frames [][]byte
	i      int
}

func (s *finiteSource) Next(ctx context.Context) ([]byte, bool, uint64, error) {
	if s.i >= len(s.frames) {
		return nil, false, 0, io.EOF
	}
	frame := s.frames[s.i]
	s.i++
	return frame, true, uint64(s.i), nil
}

// collectSink gathers delivered frames.
type collectSink struct {
	mu    sync.Mutex
	video [][]byte
	audio [][]byte
}

func (c *collectSink) Video(frame []byte) error {
	c.mu.Lock()
	c.video = append(c.video, frame)
	c.mu.Unlock()
	return nil
}

func (c *collectSink) Audio(frame []byte) error {
	c.mu.Lock()
	c.audio = append(c.audio, frame)
	c.mu.Unlock()
	return nil
}

func (c *collectSink) videoCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.video)
}

type stubFactory struct {
	source ports.FrameSource
	sink   ports.FrameSink
}

func (f *stubFactory) SenderPipeline(opts domain.SenderOptions) (*ports.SenderPipeline, error) {
	return &ports.SenderPipeline{VideoSource: f.source}, nil
}

func (f *stubFactory) ReceiverPipeline(desc *domain.MediaStreamDescription) (*ports.ReceiverPipeline, error) {
	return &ports.ReceiverPipeline{Sink: f.sink}, nil
}

func newService(t *testing.T, factory ports.PipelineFactory) (*fakeDiscovery, ports.SessionService) {
	t.Helper()
	disc := &fakeDiscovery{}
	svc := NewSessionService(
		disc,
		factory,
		monitoring.NewPrometheusCollectorWith(prometheus.NewRegistry()),
		zap.NewNop().Sugar(),
	)
	return disc, svc
}

// freePort reserves an ephemeral port and releases it for reuse.
func freePort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func directOptions(address string) domain.SenderOptions {
	return domain.SenderOptions{
		Transport: domain.TransportConfig{
			Strategy:  domain.TransportStrategy{Kind: domain.StrategyDirect, Address: address},
			MTU:       1500,
			TimeoutMS: 500,
			FC:        64,
			LatencyMS: 120,
		},
		Video: &domain.VideoDescription{Format: "h264", Width: 1280, Height: 720, FPS: 30},
	}
}

func TestSecondSessionRefused(t *testing.T) {
	_, svc := newService(t, &stubFactory{source: &steadySource{payload: []byte("frame")}})
	ctx := context.Background()

	desc, err := svc.CreateSender(ctx, directOptions(freePort(t)))
	require.NoError(t, err)
	require.NotNil(t, desc)
	assert.Equal(t, domain.StatusSending, svc.Status())

	_, err = svc.CreateSender(ctx, directOptions(freePort(t)))
	assert.ErrorIs(t, err, domain.ErrSessionActive)

	err = svc.CreateReceiver(ctx, domain.ReceiverOptions{}, desc)
	assert.ErrorIs(t, err, domain.ErrSessionActive)

	svc.CloseSender()
	assert.Equal(t, domain.StatusIdle, svc.Status())
}

func TestCloseIsIdempotent(t *testing.T) {
	_, svc := newService(t, &stubFactory{source: &steadySource{payload: []byte("frame")}})
	svc.CloseSender()
	svc.CloseReceiver()
	assert.Equal(t, domain.StatusIdle, svc.Status())

	_, err := svc.CreateSender(context.Background(), directOptions(freePort(t)))
	require.NoError(t, err)
	svc.CloseReceiver() // wrong-direction close is a no-op
	assert.Equal(t, domain.StatusSending, svc.Status())
	svc.CloseSender()
	svc.CloseSender()
	assert.Equal(t, domain.StatusIdle, svc.Status())
}

func TestSenderAdvertisesAndWithdrawsMetadata(t *testing.T) {
	disc, svc := newService(t, &stubFactory{source: &steadySource{payload: []byte("frame")}})

	desc, err := svc.CreateSender(context.Background(), directOptions(freePort(t)))
	require.NoError(t, err)

	md := disc.lastMetadata()
	require.NotNil(t, md)
	require.NotNil(t, md.Description)
	assert.Equal(t, desc.ID, md.Description.ID)
	assert.NotZero(t, md.Port)

	svc.CloseSender()
	assert.Nil(t, disc.lastMetadata())
}

func TestSenderToReceiverEndToEnd(t *testing.T) {
	addr := freePort(t)
	_, sender := newService(t, &stubFactory{source: &steadySource{payload: []byte("end to end frame")}})
	sink := &collectSink{}
	_, receiver := newService(t, &stubFactory{sink: sink})

	desc, err := sender.CreateSender(context.Background(), directOptions(addr))
	require.NoError(t, err)
	defer sender.CloseSender()

	var statuses []domain.Status
	var statusMu sync.Mutex
	receiver.OnStatusChange(func(st domain.Status) {
		statusMu.Lock()
		statuses = append(statuses, st)
		statusMu.Unlock()
	})

	require.NoError(t, receiver.CreateReceiver(context.Background(), domain.ReceiverOptions{Address: addr}, desc))
	assert.Equal(t, domain.StatusReceiving, receiver.Status())

	require.Eventually(t, func() bool { return sink.videoCount() >= 3 },
		5*time.Second, 20*time.Millisecond)
	sink.mu.Lock()
	assert.Equal(t, []byte("end to end frame"), sink.video[0])
	sink.mu.Unlock()

	// Closing the sender drops the connection; the receiver returns to
	// Idle on its own.
	sender.CloseSender()
	require.Eventually(t, func() bool { return receiver.Status() == domain.StatusIdle },
		5*time.Second, 20*time.Millisecond)

	statusMu.Lock()
	assert.Contains(t, statuses, domain.StatusReceiving)
	assert.Contains(t, statuses, domain.StatusIdle)
	statusMu.Unlock()
}

func TestReceiverConnectionRefused(t *testing.T) {
	_, svc := newService(t, &stubFactory{sink: &collectSink{}})

	desc := &domain.MediaStreamDescription{
		ID: "missing",
		Transport: domain.TransportConfig{
			Strategy:  domain.TransportStrategy{Kind: domain.StrategyDirect, Address: "127.0.0.1:1"},
			MTU:       1500,
			TimeoutMS: 300,
			FC:        64,
			LatencyMS: 120,
		},
	}
	err := svc.CreateReceiver(context.Background(), domain.ReceiverOptions{}, desc)
	require.ErrorIs(t, err, domain.ErrConnectionRefused)
	assert.Equal(t, domain.StatusIdle, svc.Status())
}

func TestSourceExhaustionEndsSession(t *testing.T) {
	frames := [][]byte{[]byte("one"), []byte("two")}
	disc, svc := newService(t, &stubFactory{source: &finiteSource{frames: frames}})

	_, err := svc.CreateSender(context.Background(), directOptions(freePort(t)))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return svc.Status() == domain.StatusIdle },
		5*time.Second, 20*time.Millisecond)
	assert.Nil(t, disc.lastMetadata())
}
