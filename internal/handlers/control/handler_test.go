package control

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"lancast/internal/core/domain"
	ctrl "lancast/internal/infrastructure/control"
)

type fakeSessions struct {
	mu       sync.Mutex
	status   domain.Status
	desc     *domain.MediaStreamDescription
	onStatus []func(domain.Status)
	senders  int
	closes   int
}

func (f *fakeSessions) CreateSender(ctx context.Context, opts domain.SenderOptions) (*domain.MediaStreamDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.senders++
	f.status = domain.StatusSending
	return f.desc, nil
}

func (f *fakeSessions) CloseSender() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.status = domain.StatusIdle
}

func (f *fakeSessions) CreateReceiver(ctx context.Context, opts domain.ReceiverOptions, desc *domain.MediaStreamDescription) error {
	if desc == nil {
		return domain.ErrStreamNotFound
	}
	return nil
}

func (f *fakeSessions) CloseReceiver() {}

func (f *fakeSessions) Status() domain.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status == "" {
		return domain.StatusIdle
	}
	return f.status
}

func (f *fakeSessions) OnStatusChange(fn func(domain.Status)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onStatus = append(f.onStatus, fn)
}

func (f *fakeSessions) fireStatus(status domain.Status) {
	f.mu.Lock()
	callbacks := append([]func(domain.Status){}, f.onStatus...)
	f.mu.Unlock()
	for _, fn := range callbacks {
		fn(status)
	}
}

type fakeDiscovery struct {
	mu       sync.Mutex
	devices  []domain.Device
	onChange []func()
	names    []string
}

func (f *fakeDiscovery) Start() error { return nil }
func (f *fakeDiscovery) Stop()        {}

func (f *fakeDiscovery) Devices() []domain.Device {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.devices
}

func (f *fakeDiscovery) OnChange(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onChange = append(f.onChange, fn)
}

func (f *fakeDiscovery) SetMetadata(md *domain.DeviceMetadata) {}

func (f *fakeDiscovery) SetName(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = append(f.names, name)
}

func (f *fakeDiscovery) fireChange() {
	f.mu.Lock()
	callbacks := append([]func(){}, f.onChange...)
	f.mu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
}

type fakeCapture struct {
	sources []domain.CaptureSource
}

func (f *fakeCapture) Sources(kind domain.SourceKind) ([]domain.CaptureSource, error) {
	out := make([]domain.CaptureSource, 0, len(f.sources))
	for _, s := range f.sources {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeSettings struct {
	mu        sync.Mutex
	settings  domain.Settings
	updateErr error
}

func (f *fakeSettings) Get() domain.Settings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings
}

func (f *fakeSettings) Update(settings domain.Settings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.settings = settings
	return nil
}

func (f *fakeSettings) SetName(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings.Name = name
}

type fixture struct {
	sessions  *fakeSessions
	discovery *fakeDiscovery
	capture   *fakeCapture
	settings  *fakeSettings
	handler   *Handler
	engine    *ctrl.Channel
	host      *ctrl.Channel
}

// startFixture joins an engine channel with a registered handler to a
// host channel over crossed pipes, the way the host process talks to
// the engine over stdio.
func startFixture(t *testing.T) *fixture {
	t.Helper()

	hostToEngineR, hostToEngineW := io.Pipe()
	engineToHostR, engineToHostW := io.Pipe()

	log := zap.NewNop().Sugar()
	engine := ctrl.NewChannel(ctrl.NewStdioTransport(hostToEngineR, engineToHostW), log)
	host := ctrl.NewChannel(ctrl.NewStdioTransport(engineToHostR, hostToEngineW), log)

	f := &fixture{
		sessions:  &fakeSessions{},
		discovery: &fakeDiscovery{},
		capture:   &fakeCapture{},
		settings:  &fakeSettings{},
		engine:    engine,
		host:      host,
	}

	f.handler = NewHandler(f.sessions, f.discovery, f.capture, f.settings, log)
	f.handler.Register(engine)

	engine.Start()
	host.Start()
	t.Cleanup(func() {
		engine.Close()
		host.Close()
		hostToEngineR.Close()
		engineToHostR.Close()
	})
	return f
}

func awaitEvent(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("event not received")
	}
}

func TestReadyThenSetName(t *testing.T) {
	f := startFixture(t)

	ready := make(chan struct{}, 1)
	f.host.OnEvent(EventReady, func() {
		select {
		case ready <- struct{}{}:
		default:
		}
	})

	f.handler.Announce(f.engine)
	awaitEvent(t, ready)

	err := f.host.Request(context.Background(), "SetName", setNameParams{Name: "living room"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "living room", f.settings.Get().Name)
}

func TestGetDevicesReturnsTable(t *testing.T) {
	f := startFixture(t)
	f.discovery.devices = []domain.Device{
		{
			ID:      "dev-1",
			Name:    "workstation",
			Kind:    domain.DeviceLinux,
			Address: net.IPv4(192, 168, 1, 20),
			Metadata: &domain.DeviceMetadata{
				Port: 9000,
				Description: &domain.MediaStreamDescription{
					ID: "s1",
				},
			},
		},
		{ID: "dev-2", Name: "phone", Kind: domain.DeviceAndroid},
	}

	var devices []deviceDTO
	err := f.host.Request(context.Background(), "GetDevices", nil, &devices)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "dev-1", devices[0].ID)
	assert.Equal(t, "192.168.1.20", devices[0].Address)
	require.NotNil(t, devices[0].Metadata)
	assert.Equal(t, uint16(9000), devices[0].Metadata.Port)
	assert.Equal(t, "", devices[1].Address)
	assert.Nil(t, devices[1].Metadata)
}

func TestGetCaptureSourcesFiltersByKind(t *testing.T) {
	f := startFixture(t)
	f.capture.sources = []domain.CaptureSource{
		{ID: "screen:0", Name: "Display 1", Kind: domain.SourceScreen, Default: true},
		{ID: "audio:0", Name: "Speakers", Kind: domain.SourceAudio},
	}

	var sources []domain.CaptureSource
	err := f.host.Request(context.Background(), "GetCaptureSources",
		getCaptureSourcesParams{Kind: domain.SourceAudio}, &sources)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "audio:0", sources[0].ID)
}

func TestSenderLifecycleOverChannel(t *testing.T) {
	f := startFixture(t)
	f.sessions.desc = &domain.MediaStreamDescription{ID: "s1"}

	var desc domain.MediaStreamDescription
	err := f.host.Request(context.Background(), "CreateSender", domain.SenderOptions{}, &desc)
	require.NoError(t, err)
	assert.Equal(t, domain.StreamID("s1"), desc.ID)

	var status statusDTO
	require.NoError(t, f.host.Request(context.Background(), "GetStatus", nil, &status))
	assert.Equal(t, domain.StatusSending, status.Status)

	require.NoError(t, f.host.Request(context.Background(), "CloseSender", nil, nil))
	assert.Equal(t, 1, f.sessions.closes)
}

func TestCreateReceiverWithoutDescriptionFails(t *testing.T) {
	f := startFixture(t)

	err := f.host.Request(context.Background(), "CreateReceiver",
		createReceiverParams{Options: domain.ReceiverOptions{}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), domain.ErrStreamNotFound.Error())
}

func TestNotificationsForwarded(t *testing.T) {
	f := startFixture(t)

	devicesChanged := make(chan struct{}, 4)
	statusChanged := make(chan struct{}, 4)
	f.host.OnEvent(EventDevicesChange, func() { devicesChanged <- struct{}{} })
	f.host.OnEvent(EventStatusChange, func() { statusChanged <- struct{}{} })

	f.discovery.fireChange()
	awaitEvent(t, devicesChanged)

	f.sessions.fireStatus(domain.StatusReceiving)
	awaitEvent(t, statusChanged)
}

func TestSetSettingsErrorSurfacesToHost(t *testing.T) {
	f := startFixture(t)
	f.settings.updateErr = errors.New("mtu too small")

	err := f.host.Request(context.Background(), "SetSettings", domain.Settings{Name: "x"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mtu too small")

	var got domain.Settings
	f.settings.updateErr = nil
	require.NoError(t, f.host.Request(context.Background(), "GetSettings", nil, &got))
	assert.Equal(t, "", got.Name)
}
