package domain

import "errors"

var (
	ErrSessionActive     = errors.New("a session is already active")
	ErrSessionNotFound   = errors.New("no active session")
	ErrConnectionRefused = errors.New("peer connection refused")
	ErrTimeout           = errors.New("transport timeout")
	ErrPacketTooLarge    = errors.New("packet exceeds mtu")
	ErrInvalidConfig     = errors.New("invalid transport config")
	ErrStreamNotFound    = errors.New("stream not found")
	ErrStreamBusy        = errors.New("stream already has a publisher")
)
