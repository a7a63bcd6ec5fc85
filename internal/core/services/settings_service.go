package services

import (
	"sync"

	"go.uber.org/zap"

	"lancast/internal/core/domain"
	"lancast/internal/core/ports"
	"lancast/internal/protocol"
)

// SettingsService keeps the live engine settings. Persistence belongs
// to the host; the engine only validates and applies.
type SettingsService struct {
	discovery ports.DiscoveryService
	log       *zap.SugaredLogger

	mu       sync.Mutex
	settings domain.Settings
}

func NewSettingsService(initial domain.Settings, discovery ports.DiscoveryService, log *zap.SugaredLogger) *SettingsService {
	return &SettingsService{
		discovery: discovery,
		log:       log,
		settings:  initial,
	}
}

func (s *SettingsService) Get() domain.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// Update replaces the settings after validating the transport section.
// A name change propagates to discovery immediately.
func (s *SettingsService) Update(settings domain.Settings) error {
	if err := settings.Transport.Validate(protocol.HeaderSize); err != nil {
		return err
	}
	s.mu.Lock()
	nameChanged := settings.Name != s.settings.Name
	s.settings = settings
	s.mu.Unlock()

	if nameChanged {
		s.discovery.SetName(settings.Name)
	}
	s.log.Infow("settings updated", "name", settings.Name)
	return nil
}

// SetName changes only the device name.
func (s *SettingsService) SetName(name string) {
	s.mu.Lock()
	changed := name != s.settings.Name
	s.settings.Name = name
	s.mu.Unlock()
	if changed {
		s.discovery.SetName(name)
	}
}
