package ports

import (
	"context"

	"lancast/internal/core/domain"
)

// RelayRegistry tracks which relay instance owns each published stream
// so a multi-instance deployment can answer lookups deterministically.
type RelayRegistry interface {
	// Register claims the stream for the given instance. Returns
	// domain.ErrStreamBusy when another live publisher holds it.
	Register(ctx context.Context, id domain.StreamID, instance string) error
	// Heartbeat extends the claim's TTL.
	Heartbeat(ctx context.Context, id domain.StreamID, instance string) error
	// Lookup returns the owning instance, or domain.ErrStreamNotFound.
	Lookup(ctx context.Context, id domain.StreamID) (string, error)
	Unregister(ctx context.Context, id domain.StreamID) error
}

// SenderPipeline bundles the external capture and encode stages wired
// into a sender session. Nil stages disable that stream.
type SenderPipeline struct {
	VideoSource  FrameSource
	VideoEncoder Encoder
	AudioSource  FrameSource
	AudioEncoder Encoder
}

// ReceiverPipeline bundles the external decode stages and the frame
// sink wired into a receiver session.
type ReceiverPipeline struct {
	VideoDecoder Decoder
	AudioDecoder Decoder
	Sink         FrameSink
}

// PipelineFactory builds collaborator pipelines per session. The
// engine never implements capture or codecs itself; failures from the
// returned stages are session-fatal.
type PipelineFactory interface {
	SenderPipeline(opts domain.SenderOptions) (*SenderPipeline, error)
	ReceiverPipeline(desc *domain.MediaStreamDescription) (*ReceiverPipeline, error)
}
