// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Serial    SerialConfig    `yaml:"serial"`
	Poll      PollConfig      `yaml:"poll"`
	Simulator SimulatorConfig `yaml:"simulator"`
	API       APIConfig       `yaml:"api"`
	Journal   JournalConfig   `yaml:"journal"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Mirror    MirrorConfig    `yaml:"mirror"`
}

// ---- SERIAL ----

type SerialConfig struct {
	Port      string `yaml:"port"` // empty => connect on demand only
	BaudRate  int    `yaml:"baud_rate"`
	SlaveID   int    `yaml:"slave_id"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

func (s SerialConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// ---- POLL ----

type PollConfig struct {
	Enabled    bool `yaml:"enabled"`
	IntervalMs int  `yaml:"interval_ms"`
}

func (p PollConfig) Interval() time.Duration {
	return time.Duration(p.IntervalMs) * time.Millisecond
}

// ---- SIMULATOR ----

type SimulatorConfig struct {
	PortName  string `yaml:"port_name"`
	LatencyMs int    `yaml:"latency_ms"`
}

// ---- API ----

type APIConfig struct {
	Listen string `yaml:"listen"`
}

// ---- JOURNAL ----

type JournalConfig struct {
	MaxRows int    `yaml:"max_rows"`
	CSVPath string `yaml:"csv_path"`
}

// ---- MQTT (optional) ----

type MQTTConfig struct {
	Broker   string `yaml:"broker"` // empty => disabled
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	QoS      int    `yaml:"qos"`
}

// ---- MIRROR (optional) ----

type MirrorConfig struct {
	Endpoint  string         `yaml:"endpoint"` // empty => disabled
	UnitID    int            `yaml:"unit_id"`
	TimeoutMs int            `yaml:"timeout_ms"`
	Offsets   map[int]uint16 `yaml:"offsets"` // per-FC offset deltas; missing FC => 0

	// Device status block (optional, opt-in)
	StatusSlot *uint16 `yaml:"status_slot"`
	DeviceName string  `yaml:"device_name"`
}

// Load reads, validates and normalizes a config file.
// An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	Normalize(cfg)
	return cfg, nil
}
