// internal/config/validate.go
package config

import (
	"fmt"
)

const (
	minIntervalMs = 100
	maxIntervalMs = 5000
	maxSlaveID    = 247
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
// Zero values are accepted and mean "use the default".
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil config")
	}

	// ------------------------------------------------------------
	// SERIAL LINE
	// ------------------------------------------------------------

	s := cfg.Serial
	if s.BaudRate < 0 {
		return fmt.Errorf("serial: baud_rate must be > 0, got %d", s.BaudRate)
	}
	if s.SlaveID != 0 && (s.SlaveID < 1 || s.SlaveID > maxSlaveID) {
		return fmt.Errorf("serial: slave_id must be 1-%d, got %d", maxSlaveID, s.SlaveID)
	}
	if s.TimeoutMs < 0 {
		return fmt.Errorf("serial: timeout_ms must be > 0, got %d", s.TimeoutMs)
	}

	// ------------------------------------------------------------
	// POLLING
	// ------------------------------------------------------------

	if ms := cfg.Poll.IntervalMs; ms != 0 && (ms < minIntervalMs || ms > maxIntervalMs) {
		return fmt.Errorf("poll: interval_ms must be %d-%d, got %d", minIntervalMs, maxIntervalMs, ms)
	}

	if cfg.Simulator.LatencyMs < 0 {
		return fmt.Errorf("simulator: latency_ms must be >= 0, got %d", cfg.Simulator.LatencyMs)
	}
	if cfg.Journal.MaxRows < 0 {
		return fmt.Errorf("journal: max_rows must be >= 0, got %d", cfg.Journal.MaxRows)
	}

	// ------------------------------------------------------------
	// MQTT (opt-in)
	// ------------------------------------------------------------

	if q := cfg.MQTT.QoS; q < 0 || q > 2 {
		return fmt.Errorf("mqtt: qos must be 0-2, got %d", q)
	}

	// ------------------------------------------------------------
	// MIRROR (opt-in)
	// ------------------------------------------------------------

	m := cfg.Mirror
	if m.UnitID < 0 || m.UnitID > maxSlaveID {
		return fmt.Errorf("mirror: unit_id must be 0-%d, got %d", maxSlaveID, m.UnitID)
	}
	if m.TimeoutMs < 0 {
		return fmt.Errorf("mirror: timeout_ms must be > 0, got %d", m.TimeoutMs)
	}
	for fc := range m.Offsets {
		switch fc {
		case 1, 2, 3:
		default:
			return fmt.Errorf("mirror: offsets: unsupported fc %d", fc)
		}
	}

	// device_name sanity (ASCII only)
	for i := 0; i < len(m.DeviceName); i++ {
		if m.DeviceName[i] > 0x7F {
			return fmt.Errorf("mirror: device_name must contain ASCII characters only")
		}
	}
	if m.StatusSlot != nil && m.Endpoint == "" {
		return fmt.Errorf("mirror: status_slot is set but no endpoint is defined")
	}

	return nil
}
