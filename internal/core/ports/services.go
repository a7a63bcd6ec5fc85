package ports

import (
	"context"

	"lancast/internal/core/domain"
	"lancast/internal/protocol"
)

// Connection is the common contract every transport strategy driver
// satisfies after connect. Send refuses packets larger than the MTU;
// Recv returns the driver's error once the peer or relay is lost.
type Connection interface {
	Send(ctx context.Context, p *protocol.Packet) error
	Recv(ctx context.Context) (*protocol.Packet, error)
	Close() error
}

// DiscoveryService maintains the live table of peer devices.
type DiscoveryService interface {
	Start() error
	Stop()
	Devices() []domain.Device
	OnChange(fn func())
	SetMetadata(md *domain.DeviceMetadata)
	SetName(name string)
}

// SessionService owns the Idle/Sending/Receiving state machine.
type SessionService interface {
	CreateSender(ctx context.Context, opts domain.SenderOptions) (*domain.MediaStreamDescription, error)
	CloseSender()
	CreateReceiver(ctx context.Context, opts domain.ReceiverOptions, desc *domain.MediaStreamDescription) error
	CloseReceiver()
	Status() domain.Status
	OnStatusChange(fn func(domain.Status))
}

// FrameSource yields raw frames from a capture collaborator. Next
// returns io.EOF when the source is exhausted; sources are finite per
// session and restartable on the next CreateSender call.
type FrameSource interface {
	Next(ctx context.Context) (payload []byte, keyFrame bool, timestamp uint64, err error)
}

// Encoder turns a raw frame into an encoded packet. Failures are
// session-fatal.
type Encoder interface {
	Encode(frame []byte) ([]byte, error)
}

// Decoder turns an encoded packet back into a raw frame. Failures are
// session-fatal.
type Decoder interface {
	Decode(packet []byte) ([]byte, error)
}

// FrameSink consumes decoded frames on the receive side.
type FrameSink interface {
	Video(frame []byte) error
	Audio(frame []byte) error
}

// CaptureProvider enumerates capturable sources on the local device.
type CaptureProvider interface {
	Sources(kind domain.SourceKind) ([]domain.CaptureSource, error)
}
