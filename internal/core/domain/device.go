package domain

import (
	"net"
	"time"
)

type DeviceID string

// DeviceKind identifies the platform of a discovered peer.
type DeviceKind string

const (
	DeviceWindows DeviceKind = "Windows"
	DeviceAndroid DeviceKind = "Android"
	DeviceApple   DeviceKind = "Apple"
	DeviceLinux   DeviceKind = "Linux"
)

// Device is a peer seen on the network through discovery announcements.
// Metadata is non-nil only while the peer has an active sender session
// exposing a receivable stream.
type Device struct {
	ID       DeviceID
	Name     string
	Kind     DeviceKind
	Address  net.IP
	Metadata *DeviceMetadata
	LastSeen time.Time
}

// DeviceMetadata describes the stream a sender device is currently
// advertising: the port its transport listens on and the full stream
// descriptor a receiver needs to connect and decode.
type DeviceMetadata struct {
	Port        uint16                  `json:"port"`
	Description *MediaStreamDescription `json:"description"`
}

// SourceKind selects the class of capture source to enumerate.
type SourceKind string

const (
	SourceScreen SourceKind = "screen"
	SourceAudio  SourceKind = "audio"
)

// CaptureSource is one capturable screen or audio endpoint reported by
// the capture collaborator.
type CaptureSource struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	Kind    SourceKind `json:"kind"`
	Default bool       `json:"default"`
}
