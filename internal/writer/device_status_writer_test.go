// internal/writer/device_status_writer_test.go
package writer

import (
	"errors"
	"testing"

	"github.com/tamzrod/hsc-probe/internal/status"
)

func statusPlan() Plan {
	return Plan{
		Endpoint: "status-endpoint",
		UnitID:   1,
		Status: &StatusPlan{
			BaseSlot:   2,
			DeviceName: "MAIN-01",
		},
	}
}

func TestDeviceStatusWriter_DisabledWithoutPlan(t *testing.T) {
	if _, enabled := NewDeviceStatusWriter(Plan{Endpoint: "ep"}, &fakeEndpointClient{}); enabled {
		t.Fatalf("status writer should be disabled")
	}
}

func TestDeviceNameWrittenOnFullAssertOnly(t *testing.T) {
	cli := &fakeEndpointClient{}
	plan := statusPlan()

	sw, enabled := NewDeviceStatusWriter(plan, cli)
	if !enabled {
		t.Fatalf("status writer should be enabled")
	}

	// ---- first write: FULL ASSERT ----
	if err := sw.WriteStatus(status.Snapshot{Health: status.HealthOK}); err != nil {
		t.Fatalf("initial full assert failed: %v", err)
	}

	if len(cli.lastRegs) != status.SlotsPerDevice {
		t.Fatalf("expected full block write (%d regs), got %d", status.SlotsPerDevice, len(cli.lastRegs))
	}
	if cli.lastRegsAddr != 2*status.SlotsPerDevice {
		t.Fatalf("unexpected base addr %d", cli.lastRegsAddr)
	}

	expectedNameRegs := status.EncodeDeviceName(plan.Status.DeviceName)
	for i := 0; i < status.SlotDeviceNameSlots; i++ {
		slot := status.SlotDeviceNameStart + i
		if cli.lastRegs[slot] != expectedNameRegs[i] {
			t.Fatalf("device name slot %d mismatch: got=%d want=%d", slot, cli.lastRegs[slot], expectedNameRegs[i])
		}
	}

	// ---- second write: INCREMENTAL ONLY ----
	cli.writes = nil
	if err := sw.WriteStatus(status.Snapshot{Health: status.HealthError, LastErrorCode: 7, SecondsInError: 1}); err != nil {
		t.Fatalf("incremental write failed: %v", err)
	}
	if len(cli.writes) != 3 {
		t.Fatalf("expected 3 single-slot writes, got %+v", cli.writes)
	}
	for _, w := range cli.writes {
		if w.qty != 1 {
			t.Fatalf("device name should not be rewritten on incremental update: %+v", w)
		}
	}

	// ---- unchanged snapshot: nothing written ----
	cli.writes = nil
	if err := sw.WriteStatus(status.Snapshot{Health: status.HealthError, LastErrorCode: 7, SecondsInError: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cli.writes) != 0 {
		t.Fatalf("expected no writes, got %+v", cli.writes)
	}
}

func TestSecondsInErrorResetOnRecovery(t *testing.T) {
	cli := &fakeEndpointClient{}
	plan := statusPlan()

	sw, _ := NewDeviceStatusWriter(plan, cli)

	if err := sw.WriteStatus(status.Snapshot{Health: status.HealthError, LastErrorCode: 42, SecondsInError: 3}); err != nil {
		t.Fatalf("error snapshot write failed: %v", err)
	}
	if err := sw.WriteStatus(status.Snapshot{Health: status.HealthOK}); err != nil {
		t.Fatalf("recovery snapshot write failed: %v", err)
	}

	expectedAddr := plan.Status.BaseSlot*status.SlotsPerDevice + status.SlotSecondsInError
	if cli.lastRegsAddr != expectedAddr {
		t.Fatalf("unexpected write addr: got=%d want=%d", cli.lastRegsAddr, expectedAddr)
	}
	if len(cli.lastRegs) != 1 || cli.lastRegs[0] != 0 {
		t.Fatalf("seconds_in_error not reset: %v", cli.lastRegs)
	}
}

func TestFailureForcesFullReassert(t *testing.T) {
	cli := &fakeEndpointClient{}
	sw, _ := NewDeviceStatusWriter(statusPlan(), cli)

	if err := sw.WriteStatus(status.Snapshot{Health: status.HealthOK}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cli.fail = errors.New("broken pipe")
	if err := sw.WriteStatus(status.Snapshot{Health: status.HealthError, LastErrorCode: 1}); err == nil {
		t.Fatalf("expected error")
	}

	cli.fail = nil
	if err := sw.WriteStatus(status.Snapshot{Health: status.HealthError, LastErrorCode: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cli.lastRegs) != status.SlotsPerDevice {
		t.Fatalf("expected full re-assert after failure, got %d regs", len(cli.lastRegs))
	}
}
