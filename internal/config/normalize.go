// internal/config/normalize.go
package config

// Defaults applied by Normalize.
const (
	DefaultBaudRate        = 9600
	DefaultSlaveID         = 1
	DefaultTimeoutMs       = 500
	DefaultIntervalMs      = 500
	DefaultSimulatorPort   = "SIM"
	DefaultListen          = ":32210"
	DefaultJournalRows     = 10000
	DefaultMQTTTopic       = "hsc-probe/events"
	DefaultMirrorUnitID    = 1
	DefaultMirrorTimeoutMs = 1000
	DefaultDeviceName      = "MAIN"
)

// Normalize applies post-validation normalization.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Serial.BaudRate == 0 {
		cfg.Serial.BaudRate = DefaultBaudRate
	}
	if cfg.Serial.SlaveID == 0 {
		cfg.Serial.SlaveID = DefaultSlaveID
	}
	if cfg.Serial.TimeoutMs == 0 {
		cfg.Serial.TimeoutMs = DefaultTimeoutMs
	}

	if cfg.Poll.IntervalMs == 0 {
		cfg.Poll.IntervalMs = DefaultIntervalMs
	}

	if cfg.Simulator.PortName == "" {
		cfg.Simulator.PortName = DefaultSimulatorPort
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = DefaultListen
	}
	if cfg.Journal.MaxRows == 0 {
		cfg.Journal.MaxRows = DefaultJournalRows
	}

	if cfg.MQTT.Topic == "" {
		cfg.MQTT.Topic = DefaultMQTTTopic
	}

	if cfg.Mirror.UnitID == 0 {
		cfg.Mirror.UnitID = DefaultMirrorUnitID
	}
	if cfg.Mirror.TimeoutMs == 0 {
		cfg.Mirror.TimeoutMs = DefaultMirrorTimeoutMs
	}
	if cfg.Mirror.Offsets == nil {
		cfg.Mirror.Offsets = map[int]uint16{}
	}

	// device_name is already validated as ASCII; truncate to the name slots
	if cfg.Mirror.StatusSlot != nil {
		if cfg.Mirror.DeviceName == "" {
			cfg.Mirror.DeviceName = DefaultDeviceName
		}
		if len(cfg.Mirror.DeviceName) > 16 {
			cfg.Mirror.DeviceName = cfg.Mirror.DeviceName[:16]
		}
	}
}
