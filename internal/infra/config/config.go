// Package config loads and validates the daemon configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Runtime   RuntimeConfig   `yaml:"runtime"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
	Journal   JournalConfig   `yaml:"journal"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Agents    []AgentConfig   `yaml:"agents"`
}

// RuntimeConfig holds instance-wide defaults.
type RuntimeConfig struct {
	MaxQueueSize    int  `yaml:"max_queue_size"` // default 10000
	Debug           bool `yaml:"debug"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default 10s
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
	Output string `yaml:"output"` // stdout, stderr, or a file path
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "stdout" or "noop"
}

// JournalConfig declares the named buses available to the bus adapter.
type JournalConfig struct {
	Buses []BusConfig `yaml:"buses"`
}

// BusConfig declares one named bus. An empty path means in-memory.
type BusConfig struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// BroadcastConfig declares the named broadcast domains.
type BroadcastConfig struct {
	Domains []string `yaml:"domains"`
}

// GatewayConfig holds the debug inspection gateway settings.
type GatewayConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Addr         string  `yaml:"addr"`           // default 127.0.0.1:7077
	EventsPerSec float64 `yaml:"events_per_sec"` // per-client rate limit, default 50
	Burst        int     `yaml:"burst"`          // default 100
}

// AgentConfig declares one top-level agent instance.
type AgentConfig struct {
	ID            string           `yaml:"id"`
	Type          string           `yaml:"type"`
	Debug         bool             `yaml:"debug"`
	MaxQueueSize  int              `yaml:"max_queue_size,omitempty"`
	OnParentDeath string           `yaml:"on_parent_death,omitempty"`
	Dispatch      []DispatchConfig `yaml:"dispatch,omitempty"`
}

// DispatchConfig is the wire shape of one dispatch target.
type DispatchConfig struct {
	Adapter string         `yaml:"adapter"`
	Opts    map[string]any `yaml:"opts,omitempty"`
}

// Load reads, parses, defaults, and validates the config at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Runtime.MaxQueueSize == 0 {
		c.Runtime.MaxQueueSize = 10000
	}
	if c.Runtime.ShutdownTimeout == 0 {
		c.Runtime.ShutdownTimeout = 10 * time.Second
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Format == "" {
		c.Logger.Format = "text"
	}
	if c.Gateway.Addr == "" {
		c.Gateway.Addr = "127.0.0.1:7077"
	}
	if c.Gateway.EventsPerSec == 0 {
		c.Gateway.EventsPerSec = 50
	}
	if c.Gateway.Burst == 0 {
		c.Gateway.Burst = 100
	}
}

// Validate rejects malformed configuration before any component starts.
func (c *Config) Validate() error {
	if c.Runtime.MaxQueueSize < 1 {
		return fmt.Errorf("config: runtime.max_queue_size must be positive")
	}
	seen := make(map[string]bool)
	for _, a := range c.Agents {
		if a.ID == "" {
			return fmt.Errorf("config: agent with empty id")
		}
		if a.Type == "" {
			return fmt.Errorf("config: agent %q: type is required", a.ID)
		}
		if seen[a.ID] {
			return fmt.Errorf("config: duplicate agent id %q", a.ID)
		}
		seen[a.ID] = true
		switch a.OnParentDeath {
		case "", "stop", "ignore":
		default:
			return fmt.Errorf("config: agent %q: invalid on_parent_death %q", a.ID, a.OnParentDeath)
		}
	}
	busNames := make(map[string]bool)
	for _, b := range c.Journal.Buses {
		if b.Name == "" {
			return fmt.Errorf("config: bus with empty name")
		}
		if busNames[b.Name] {
			return fmt.Errorf("config: duplicate bus %q", b.Name)
		}
		busNames[b.Name] = true
	}
	return nil
}
