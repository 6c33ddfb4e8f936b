// internal/writer/builder.go
package writer

import (
	"errors"
	"time"

	cfg "github.com/tamzrod/hsc-probe/internal/config"
	wmodbus "github.com/tamzrod/hsc-probe/internal/writer/modbus"
)

// BuildPlan converts the mirror config into a Plan.
// Assumes config has already passed validation.
func BuildPlan(m cfg.MirrorConfig) (Plan, error) {
	if m.Endpoint == "" {
		return Plan{}, errors.New("writer: mirror.endpoint required")
	}

	plan := Plan{
		Endpoint: m.Endpoint,
		UnitID:   uint8(m.UnitID),
		Offsets:  m.Offsets, // map[int]uint16 (delta map)
	}

	if m.StatusSlot != nil {
		plan.Status = &StatusPlan{
			BaseSlot:   *m.StatusSlot,
			DeviceName: m.DeviceName,
		}
	}

	return plan, nil
}

// BuildEndpointClient opens the TCP client for the mirror endpoint.
func BuildEndpointClient(m cfg.MirrorConfig) (*wmodbus.EndpointClient, error) {
	return wmodbus.NewEndpointClient(wmodbus.Config{
		Endpoint: m.Endpoint,
		Timeout:  time.Duration(m.TimeoutMs) * time.Millisecond,
	})
}
