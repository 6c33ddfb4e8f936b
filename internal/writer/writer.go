// internal/writer/writer.go
package writer

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/tamzrod/hsc-probe/internal/addrmap"
	"github.com/tamzrod/hsc-probe/internal/poller"
)

// endpointClient is the exact contract the mirror uses.
type endpointClient interface {
	WriteBits(unitID uint8, addr uint16, bits []bool) error
	WriteRegisters(unitID uint8, addr uint16, regs []uint16) error
}

// Mirror copies every successful poll read into the register space of a
// Modbus TCP endpoint, at the read address plus the per-FC offset.
type Mirror struct {
	plan Plan
	cli  endpointClient
}

func New(plan Plan, cli endpointClient) *Mirror {
	return &Mirror{
		plan: plan,
		cli:  cli,
	}
}

// Write mirrors one event. Only successful poll reads are copied; failed
// transactions, command reads, writes and control events are skipped.
func (m *Mirror) Write(ev poller.Event) error {
	if ev.Err != nil || ev.Op != "" || ev.Source != poller.SourcePoll {
		return nil
	}
	if m.cli == nil {
		return fmt.Errorf("writer: missing client for endpoint %s", m.plan.Endpoint)
	}

	dstAddr := offsetForFC(m.plan.Offsets, ev.Function) + ev.Address

	var err error
	switch ev.Function {
	case addrmap.ReadCoils, addrmap.ReadDiscreteInputs:
		err = m.cli.WriteBits(m.plan.UnitID, dstAddr, ev.Bits)
	case addrmap.ReadHoldingRegisters:
		err = m.cli.WriteRegisters(m.plan.UnitID, dstAddr, ev.Registers)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf(
			"writer: ep=%s unit=%d fc=%d addr=%d err=%w",
			m.plan.Endpoint, m.plan.UnitID, ev.Function, dstAddr, err,
		)
	}
	return nil
}

// Run mirrors events until ctx is done or the stream closes.
// Mirror failures are logged and never stop the loop.
func (m *Mirror) Run(ctx context.Context, events <-chan poller.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := m.Write(ev); err != nil {
				klog.V(2).InfoS("mirror write failed", "block", ev.Block, "err", err)
			}
		}
	}
}

func offsetForFC(offsets map[int]uint16, fc addrmap.Function) uint16 {
	if offsets == nil {
		return 0
	}
	if v, ok := offsets[int(fc)]; ok {
		return v
	}
	return 0
}
