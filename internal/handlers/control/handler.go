// Package control exposes the engine's operations to the host process
// over the control channel.
package control

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"lancast/internal/core/domain"
	"lancast/internal/core/ports"
	ctrl "lancast/internal/infrastructure/control"
)

// Notification methods pushed to the host.
const (
	EventReady         = "ReadyNotify"
	EventDevicesChange = "DevicesChangeNotify"
	EventStatusChange  = "StatusChangeNotify"
)

// Handler wires the engine services to control channel methods.
type Handler struct {
	sessions  ports.SessionService
	discovery ports.DiscoveryService
	capture   ports.CaptureProvider
	settings  SettingsStore
	log       *zap.SugaredLogger
}

// SettingsStore is the slice of the settings service the handler
// needs.
type SettingsStore interface {
	Get() domain.Settings
	Update(domain.Settings) error
	SetName(name string)
}

func NewHandler(
	sessions ports.SessionService,
	discovery ports.DiscoveryService,
	capture ports.CaptureProvider,
	settings SettingsStore,
	log *zap.SugaredLogger,
) *Handler {
	return &Handler{
		sessions:  sessions,
		discovery: discovery,
		capture:   capture,
		settings:  settings,
		log:       log,
	}
}

type deviceDTO struct {
	ID       string                 `json:"id"`
	Name     string                 `json:"name"`
	Kind     domain.DeviceKind      `json:"kind"`
	Address  string                 `json:"address"`
	Metadata *domain.DeviceMetadata `json:"metadata,omitempty"`
}

type getCaptureSourcesParams struct {
	Kind domain.SourceKind `json:"kind"`
}

type createReceiverParams struct {
	Options     domain.ReceiverOptions         `json:"options"`
	Description *domain.MediaStreamDescription `json:"description"`
}

type setNameParams struct {
	Name string `json:"name"`
}

type statusDTO struct {
	Status domain.Status `json:"status"`
}

// Register installs every method and forwards engine notifications as
// events. Call before the channel starts reading.
func (h *Handler) Register(ch *ctrl.Channel) {
	ch.Handle("GetDevices", h.getDevices)
	ch.Handle("GetCaptureSources", h.getCaptureSources)
	ch.Handle("CreateSender", h.createSender)
	ch.Handle("CloseSender", h.closeSender)
	ch.Handle("CreateReceiver", h.createReceiver)
	ch.Handle("CloseReceiver", h.closeReceiver)
	ch.Handle("GetStatus", h.getStatus)
	ch.Handle("SetName", h.setName)
	ch.Handle("GetSettings", h.getSettings)
	ch.Handle("SetSettings", h.setSettings)

	h.discovery.OnChange(func() {
		if err := ch.Emit(EventDevicesChange); err != nil {
			h.log.Debugw("devices change notify failed", "error", err)
		}
	})
	h.sessions.OnStatusChange(func(domain.Status) {
		if err := ch.Emit(EventStatusChange); err != nil {
			h.log.Debugw("status change notify failed", "error", err)
		}
	})
}

// Announce tells the host the engine is ready to take requests. The
// host customarily answers with SetName.
func (h *Handler) Announce(ch *ctrl.Channel) {
	if err := ch.Emit(EventReady); err != nil {
		h.log.Warnw("ready notify failed", "error", err)
	}
}

func (h *Handler) getDevices(json.RawMessage) (any, error) {
	devices := h.discovery.Devices()
	out := make([]deviceDTO, 0, len(devices))
	for _, d := range devices {
		address := ""
		if d.Address != nil {
			address = d.Address.String()
		}
		out = append(out, deviceDTO{
			ID:       string(d.ID),
			Name:     d.Name,
			Kind:     d.Kind,
			Address:  address,
			Metadata: d.Metadata,
		})
	}
	return out, nil
}

func (h *Handler) getCaptureSources(params json.RawMessage) (any, error) {
	var p getCaptureSourcesParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	return h.capture.Sources(p.Kind)
}

func (h *Handler) createSender(params json.RawMessage) (any, error) {
	var opts domain.SenderOptions
	if err := json.Unmarshal(params, &opts); err != nil {
		return nil, err
	}
	return h.sessions.CreateSender(context.Background(), opts)
}

func (h *Handler) closeSender(json.RawMessage) (any, error) {
	h.sessions.CloseSender()
	return nil, nil
}

func (h *Handler) createReceiver(params json.RawMessage) (any, error) {
	var p createReceiverParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	return nil, h.sessions.CreateReceiver(context.Background(), p.Options, p.Description)
}

func (h *Handler) closeReceiver(json.RawMessage) (any, error) {
	h.sessions.CloseReceiver()
	return nil, nil
}

func (h *Handler) getStatus(json.RawMessage) (any, error) {
	return statusDTO{Status: h.sessions.Status()}, nil
}

func (h *Handler) setName(params json.RawMessage) (any, error) {
	var p setNameParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	h.settings.SetName(p.Name)
	return nil, nil
}

func (h *Handler) getSettings(json.RawMessage) (any, error) {
	return h.settings.Get(), nil
}

func (h *Handler) setSettings(params json.RawMessage) (any, error) {
	var settings domain.Settings
	if err := json.Unmarshal(params, &settings); err != nil {
		return nil, err
	}
	return nil, h.settings.Update(settings)
}
