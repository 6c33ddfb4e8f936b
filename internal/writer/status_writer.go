// internal/writer/status_writer.go
package writer

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/tamzrod/hsc-probe/internal/status"
)

// StatusWriter is the delivery-only contract for device status.
// It receives a snapshot and writes it verbatim.
type StatusWriter interface {
	WriteStatus(s status.Snapshot) error
}

// deviceStatusWriter writes the probe's status block on the mirror endpoint.
type deviceStatusWriter struct {
	mu sync.Mutex

	plan   *StatusPlan
	unitID uint8
	cli    endpointClient

	needFull bool
	last     status.Snapshot
}

// NewDeviceStatusWriter builds a status writer if the plan enables one.
func NewDeviceStatusWriter(plan Plan, cli endpointClient) (*deviceStatusWriter, bool) {
	if plan.Status == nil {
		return nil, false
	}

	return &deviceStatusWriter{
		plan:     plan.Status,
		unitID:   plan.UnitID,
		cli:      cli,
		needFull: true, // full re-assert on first write
		last:     status.Snapshot{Health: status.HealthUnknown},
	}, true
}

// WriteStatus delivers a snapshot into status memory. Only changed slots are
// written; after any failure the next call re-asserts the full block.
func (sw *deviceStatusWriter) WriteStatus(s status.Snapshot) error {
	if sw == nil || sw.plan == nil {
		return errors.New("status writer: disabled")
	}
	if sw.cli == nil {
		return errors.New("status writer: missing client")
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()

	baseAddr := sw.baseAddr()

	if sw.needFull {
		if err := sw.cli.WriteRegisters(sw.unitID, baseAddr, status.Encode(s, sw.plan.DeviceName)); err != nil {
			return fmt.Errorf("status writer: full block write failed: %w", err)
		}
		sw.needFull = false
		sw.last = s
		return nil
	}

	var errs []string

	write := func(slot uint16, name string, v uint16) bool {
		if err := sw.cli.WriteRegisters(sw.unitID, baseAddr+slot, []uint16{v}); err != nil {
			errs = append(errs, fmt.Sprintf("slot%d %s write failed: %v", slot, name, err))
			return false
		}
		return true
	}

	if sw.last.Health != s.Health && write(status.SlotHealthCode, "health", s.Health) {
		sw.last.Health = s.Health
	}
	if sw.last.LastErrorCode != s.LastErrorCode && write(status.SlotLastErrorCode, "last_error", s.LastErrorCode) {
		sw.last.LastErrorCode = s.LastErrorCode
	}
	if sw.last.SecondsInError != s.SecondsInError && write(status.SlotSecondsInError, "seconds", s.SecondsInError) {
		sw.last.SecondsInError = s.SecondsInError
	}

	if len(errs) > 0 {
		sw.needFull = true
		return errors.New("status writer: " + strings.Join(errs, " | "))
	}
	return nil
}

func (sw *deviceStatusWriter) baseAddr() uint16 {
	// Each device owns a fixed SlotsPerDevice block.
	return sw.plan.BaseSlot * status.SlotsPerDevice
}
