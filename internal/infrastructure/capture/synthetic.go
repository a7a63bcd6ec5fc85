// Package capture hosts the built-in synthetic pipeline. Real capture
// and codecs live in the host process; the synthetic pipeline generates
// pattern frames so the engine can be exercised end to end without a
// host, from the command line or in loopback smoke tests.
package capture

import (
	"context"
	"encoding/binary"
	"time"

	"lancast/internal/core/domain"
	"lancast/internal/core/ports"
)

// Provider enumerates the synthetic sources.
type Provider struct{}

func NewProvider() *Provider { return &Provider{} }

func (p *Provider) Sources(kind domain.SourceKind) ([]domain.CaptureSource, error) {
	switch kind {
	case domain.SourceScreen:
		return []domain.CaptureSource{
			{ID: "synthetic:screen", Name: "Synthetic pattern", Kind: domain.SourceScreen, Default: true},
		}, nil
	case domain.SourceAudio:
		return []domain.CaptureSource{
			{ID: "synthetic:audio", Name: "Synthetic tone", Kind: domain.SourceAudio, Default: true},
		}, nil
	default:
		return nil, nil
	}
}

// patternSource emits fixed-size frames at the configured rate. Every
// keyInterval-th frame is a keyframe; the first always is.
type patternSource struct {
	frameSize   int
	interval    time.Duration
	keyInterval uint64
	count       uint64
	start       time.Time
}

func newPatternSource(frameSize int, fps uint8, keyInterval uint64) *patternSource {
	if fps == 0 {
		fps = 30
	}
	return &patternSource{
		frameSize:   frameSize,
		interval:    time.Second / time.Duration(fps),
		keyInterval: keyInterval,
		start:       time.Now(),
	}
}

func (s *patternSource) Next(ctx context.Context) ([]byte, bool, uint64, error) {
	select {
	case <-ctx.Done():
		return nil, false, 0, ctx.Err()
	case <-time.After(s.interval):
	}

	frame := make([]byte, s.frameSize)
	binary.BigEndian.PutUint64(frame, s.count)
	for i := 8; i < len(frame); i++ {
		frame[i] = byte(s.count)
	}

	key := s.keyInterval > 0 && s.count%s.keyInterval == 0
	ts := uint64(time.Since(s.start).Microseconds())
	s.count++
	return frame, key, ts, nil
}

// passthroughCodec is the identity Encoder and Decoder.
type passthroughCodec struct{}

func (passthroughCodec) Encode(frame []byte) ([]byte, error)  { return frame, nil }
func (passthroughCodec) Decode(packet []byte) ([]byte, error) { return packet, nil }

// discardSink drops decoded frames.
type discardSink struct{}

func (discardSink) Video([]byte) error { return nil }
func (discardSink) Audio([]byte) error { return nil }

// SyntheticFactory builds pattern pipelines. Video frames are sized to
// span several fragments at common MTUs so the FEC path is exercised.
type SyntheticFactory struct{}

func NewSyntheticFactory() *SyntheticFactory { return &SyntheticFactory{} }

func (f *SyntheticFactory) SenderPipeline(opts domain.SenderOptions) (*ports.SenderPipeline, error) {
	p := &ports.SenderPipeline{}
	if opts.Video != nil {
		p.VideoSource = newPatternSource(16*1024, opts.Video.FPS, 30)
		p.VideoEncoder = passthroughCodec{}
	}
	if opts.Audio != nil {
		p.AudioSource = newPatternSource(960, 50, 1)
		p.AudioEncoder = passthroughCodec{}
	}
	if p.VideoSource == nil && p.AudioSource == nil {
		p.VideoSource = newPatternSource(16*1024, 30, 30)
		p.VideoEncoder = passthroughCodec{}
	}
	return p, nil
}

func (f *SyntheticFactory) ReceiverPipeline(desc *domain.MediaStreamDescription) (*ports.ReceiverPipeline, error) {
	return &ports.ReceiverPipeline{
		VideoDecoder: passthroughCodec{},
		AudioDecoder: passthroughCodec{},
		Sink:         discardSink{},
	}, nil
}

var (
	_ ports.PipelineFactory = (*SyntheticFactory)(nil)
	_ ports.CaptureProvider = (*Provider)(nil)
)
