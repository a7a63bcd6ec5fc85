// Package discovery announces this device on the local network and
// tracks the peers announcing back. Announcements are small UDP pings
// carrying the device id and a metadata sequence number; the full
// metadata document is served over HTTP and refetched only when a
// peer's sequence moves.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"lancast/internal/core/domain"
)

// Config carries the discovery tunables.
type Config struct {
	// Port is the shared UDP port every device announces on.
	Port uint16
	// Interval is the announce cadence.
	Interval time.Duration
	// TTL is how long a silent peer stays in the table. Must exceed
	// Interval.
	TTL time.Duration
}

// ping is the announcement datagram. Port is where the announcing
// device serves its metadata document.
type ping struct {
	ID       string `json:"id"`
	Sequence uint32 `json:"seq"`
	Port     uint16 `json:"port"`
}

// metadataDocument is the HTTP metadata payload.
type metadataDocument struct {
	ID       string                 `json:"id"`
	Name     string                 `json:"name"`
	Kind     domain.DeviceKind      `json:"kind"`
	Metadata *domain.DeviceMetadata `json:"metadata,omitempty"`
}

// Service implements peer discovery over UDP announce plus HTTP
// metadata exchange.
type Service struct {
	cfg Config
	id  domain.DeviceID
	log *zap.SugaredLogger

	mu       sync.Mutex
	name     string
	metadata *domain.DeviceMetadata

	sequence atomic.Uint32

	table     *deviceTable
	callbacks []func()
	cbMu      sync.Mutex

	udp        *net.UDPConn
	httpServer *http.Server
	httpPort   uint16
	announceTo *net.UDPAddr
	client     *http.Client

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func NewService(cfg Config, name string, log *zap.SugaredLogger) *Service {
	return &Service{
		cfg:   cfg,
		id:    domain.DeviceID(uuid.NewString()),
		name:  name,
		log:   log,
		table: newDeviceTable(),
		announceTo: &net.UDPAddr{
			IP:   net.IPv4bcast,
			Port: int(cfg.Port),
		},
		client: &http.Client{Timeout: 2 * time.Second},
	}
}

// ID returns this device's discovery identity.
func (s *Service) ID() domain.DeviceID { return s.id }

// Start binds the announce socket and metadata endpoint and launches
// the announce, listen and sweep loops.
func (s *Service) Start() error {
	if s.started {
		return errors.New("discovery already started")
	}

	udp, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: int(s.cfg.Port)})
	if err != nil {
		return fmt.Errorf("bind discovery port: %w", err)
	}
	s.udp = udp

	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		udp.Close()
		return fmt.Errorf("bind metadata endpoint: %w", err)
	}
	s.httpPort = uint16(ln.Addr().(*net.TCPAddr).Port)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.GET("/metadata", s.handleMetadata)
	s.httpServer = &http.Server{Handler: router}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.started = true

	s.wg.Add(4)
	go func() {
		defer s.wg.Done()
		s.httpServer.Serve(ln)
	}()
	go s.announceLoop(ctx)
	go s.readLoop(ctx)
	go s.sweepLoop(ctx)

	s.log.Infow("discovery started",
		"id", s.id,
		"udp_port", s.cfg.Port,
		"metadata_port", s.httpPort)
	return nil
}

// Stop tears down the sockets and waits for the loops to exit.
func (s *Service) Stop() {
	if !s.started {
		return
	}
	s.cancel()
	s.udp.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	s.httpServer.Shutdown(shutdownCtx)
	cancel()
	s.wg.Wait()
	s.started = false
	s.log.Infow("discovery stopped")
}

func (s *Service) Devices() []domain.Device {
	return s.table.Snapshot()
}

func (s *Service) OnChange(fn func()) {
	s.cbMu.Lock()
	s.callbacks = append(s.callbacks, fn)
	s.cbMu.Unlock()
}

// SetMetadata publishes or withdraws the local stream advertisement.
// Peers pick the change up on the next announce.
func (s *Service) SetMetadata(md *domain.DeviceMetadata) {
	s.mu.Lock()
	s.metadata = md
	s.mu.Unlock()
	s.sequence.Add(1)
}

func (s *Service) SetName(name string) {
	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
	s.sequence.Add(1)
}

func (s *Service) notify() {
	s.cbMu.Lock()
	callbacks := make([]func(), len(s.callbacks))
	copy(callbacks, s.callbacks)
	s.cbMu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
}

func (s *Service) handleMetadata(c *gin.Context) {
	s.mu.Lock()
	doc := metadataDocument{
		ID:       string(s.id),
		Name:     s.name,
		Kind:     localDeviceKind(),
		Metadata: s.metadata,
	}
	s.mu.Unlock()
	c.JSON(http.StatusOK, doc)
}

func (s *Service) announceLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		s.announce()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Service) announce() {
	body, err := json.Marshal(ping{
		ID:       string(s.id),
		Sequence: s.sequence.Load(),
		Port:     s.httpPort,
	})
	if err != nil {
		return
	}
	if _, err := s.udp.WriteToUDP(body, s.announceTo); err != nil {
		s.log.Debugw("announce failed", "error", err)
	}
}

func (s *Service) readLoop(ctx context.Context) {
	defer s.wg.Done()
	buf := make([]byte, 1024)
	for {
		n, src, err := s.udp.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				s.log.Warnw("discovery read failed", "error", err)
				return
			}
		}
		var p ping
		if err := json.Unmarshal(buf[:n], &p); err != nil {
			continue
		}
		if p.ID == "" || domain.DeviceID(p.ID) == s.id {
			continue
		}
		s.handlePing(p, src)
	}
}

func (s *Service) handlePing(p ping, src *net.UDPAddr) {
	stale, known := s.table.Touch(domain.DeviceID(p.ID), p.Sequence)
	if known && !stale {
		return
	}
	device, err := s.fetchMetadata(p, src.IP)
	if err != nil {
		s.log.Debugw("metadata fetch failed", "peer", p.ID, "error", err)
		if !known {
			// Keep an address-only entry so the peer is at least
			// visible; the next sequence bump retries the fetch.
			s.table.Put(domain.Device{
				ID:      domain.DeviceID(p.ID),
				Address: src.IP,
			}, p.Sequence)
			s.notify()
		}
		return
	}
	s.table.Put(device, p.Sequence)
	s.notify()
}

func (s *Service) fetchMetadata(p ping, ip net.IP) (domain.Device, error) {
	url := fmt.Sprintf("http://%s/metadata", net.JoinHostPort(ip.String(), fmt.Sprint(p.Port)))
	resp, err := s.client.Get(url)
	if err != nil {
		return domain.Device{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.Device{}, fmt.Errorf("metadata endpoint returned %s", resp.Status)
	}
	var doc metadataDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return domain.Device{}, err
	}
	return domain.Device{
		ID:       domain.DeviceID(p.ID),
		Name:     doc.Name,
		Kind:     doc.Kind,
		Address:  ip,
		Metadata: doc.Metadata,
	}, nil
}

func (s *Service) sweepLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.table.Sweep(s.cfg.TTL) {
				s.notify()
			}
		}
	}
}

func localDeviceKind() domain.DeviceKind {
	switch runtime.GOOS {
	case "windows":
		return domain.DeviceWindows
	case "android":
		return domain.DeviceAndroid
	case "darwin", "ios":
		return domain.DeviceApple
	default:
		return domain.DeviceLinux
	}
}
