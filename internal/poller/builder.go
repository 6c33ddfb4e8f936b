// internal/poller/builder.go
package poller

import (
	"errors"

	"github.com/tamzrod/hsc-probe/internal/addrmap"
	cfg "github.com/tamzrod/hsc-probe/internal/config"
	pmodbus "github.com/tamzrod/hsc-probe/internal/poller/modbus"
)

// Build constructs the transaction client and the scheduler from config.
// The line is not opened here; Connect does that from the I/O context.
// Extra options route port names (e.g. the simulator) to custom dialers.
func Build(c *cfg.Config, m *addrmap.Map, pub Publisher, opts ...pmodbus.Option) (*Scheduler, error) {
	if c == nil {
		return nil, errors.New("poller: config required")
	}

	client := pmodbus.New(append(
		[]pmodbus.Option{pmodbus.WithTimeout(c.Serial.Timeout())},
		opts...,
	)...)

	return New(
		Config{
			Map:      m,
			Interval: c.Poll.Interval(),
			Polling:  c.Poll.Enabled,
		},
		client,
		pub,
	)
}

// DefaultParams returns the connection parameters configured for the line.
func DefaultParams(c *cfg.Config) pmodbus.Params {
	return pmodbus.Params{
		Port:     c.Serial.Port,
		BaudRate: c.Serial.BaudRate,
		SlaveID:  byte(c.Serial.SlaveID),
	}
}
