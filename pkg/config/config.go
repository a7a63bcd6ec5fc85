package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"lancast/internal/core/domain"
	"lancast/internal/protocol"
)

type Config struct {
	Device struct {
		Name string `yaml:"name"`
	} `yaml:"device"`

	Discovery struct {
		Port     uint16        `yaml:"port"`
		Interval time.Duration `yaml:"interval"`
		TTL      time.Duration `yaml:"ttl"`
	} `yaml:"discovery"`

	Transport domain.TransportConfig `yaml:"transport"`

	Control struct {
		// WebSocketAddress exposes the control channel over WebSocket in
		// addition to stdio when non-empty, e.g. ":8391".
		WebSocketAddress string `yaml:"websocket_address"`
	} `yaml:"control"`

	Relay struct {
		Address         string        `yaml:"address"`
		Instance        string        `yaml:"instance"`
		AuthSecret      string        `yaml:"auth_secret"`
		ClaimTTL        time.Duration `yaml:"claim_ttl"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"relay"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Discovery.Port == 0 {
		return fmt.Errorf("discovery.port must not be 0")
	}
	if c.Discovery.Interval <= 0 {
		return fmt.Errorf("discovery.interval must be > 0")
	}
	if c.Discovery.TTL <= c.Discovery.Interval {
		return fmt.Errorf("discovery.ttl must exceed discovery.interval")
	}
	if err := c.Transport.Validate(protocol.HeaderSize); err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	if c.Relay.ClaimTTL <= 0 {
		return fmt.Errorf("relay.claim_ttl must be > 0")
	}
	if c.Redis.Enabled && c.Redis.Address == "" {
		return fmt.Errorf("redis.address must not be empty when redis is enabled")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console")
	}
	return nil
}

// Load reads configuration from a YAML file, applies defaults and env
// overrides. A missing file yields defaults.
func Load(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "lancast"
	}
	cfg.Device.Name = hostname

	cfg.Discovery.Port = 43165
	cfg.Discovery.Interval = 1 * time.Second
	cfg.Discovery.TTL = 3 * time.Second

	cfg.Transport = domain.TransportConfig{
		Strategy: domain.TransportStrategy{
			Kind:    domain.StrategyDirect,
			Address: "0.0.0.0:8080",
		},
		MTU:          1500,
		MaxBandwidth: 0, // unlimited
		TimeoutMS:    2000,
		FEC:          1,
		FC:           256,
		LatencyMS:    120,
	}

	cfg.Relay.Address = ":8088"
	cfg.Relay.Instance = hostname
	cfg.Relay.ClaimTTL = 10 * time.Second
	cfg.Relay.ShutdownTimeout = 10 * time.Second

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.PrometheusPort = 9090

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if name := os.Getenv("LANCAST_DEVICE_NAME"); name != "" {
		c.Device.Name = name
	}
	if addr := os.Getenv("LANCAST_RELAY_ADDRESS"); addr != "" {
		c.Relay.Address = addr
	}
	if level := os.Getenv("LANCAST_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("LANCAST_RELAY_AUTH_SECRET"); secret != "" {
		c.Relay.AuthSecret = secret
	}
}
