// internal/metrics/metrics_test.go
package metrics

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/tamzrod/hsc-probe/internal/addrmap"
	"github.com/tamzrod/hsc-probe/internal/poller"
	pmodbus "github.com/tamzrod/hsc-probe/internal/poller/modbus"
)

func TestCollector_Transactions(t *testing.T) {
	c := New(addrmap.Default())

	c.Observe(poller.Event{Block: addrmap.BlockOnOff, Function: addrmap.ReadDiscreteInputs})
	c.Observe(poller.Event{Block: addrmap.BlockOnOff, Function: addrmap.ReadDiscreteInputs})
	c.Observe(poller.Event{
		Block:    addrmap.BlockDoor,
		Function: addrmap.ReadDiscreteInputs,
		Err:      &pmodbus.ModbusError{FunctionCode: 2, ExceptionCode: 2},
	})
	c.Observe(poller.Event{
		Block: addrmap.BlockDoor,
		Err:   &pmodbus.TransportError{Op: "FC02", Err: errors.New("serial: timeout")},
	})

	assert.Equal(t, 2.0, testutil.ToFloat64(c.transactions.WithLabelValues("onoff", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transactions.WithLabelValues("door", "exception")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transactions.WithLabelValues("door", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.exceptions.WithLabelValues("door", "0x02")))
}

func TestCollector_CurrentsAndConnection(t *testing.T) {
	c := New(addrmap.Default())

	c.Observe(poller.Event{Op: poller.OpConnect, Port: "SIM"})
	assert.Equal(t, 1.0, testutil.ToFloat64(c.connected))

	c.Observe(poller.Event{
		Block:     addrmap.BlockCurrents,
		Function:  addrmap.ReadHoldingRegisters,
		Registers: []uint16{120, 0, 355},
	})
	assert.Equal(t, 355.0, testutil.ToFloat64(c.currents.WithLabelValues("2")))

	// failed reads keep the last value
	c.Observe(poller.Event{Block: addrmap.BlockCurrents, Err: errors.New("x")})
	assert.Equal(t, 120.0, testutil.ToFloat64(c.currents.WithLabelValues("0")))

	c.Observe(poller.Event{Op: poller.OpDisconnect})
	assert.Equal(t, 0.0, testutil.ToFloat64(c.connected))
	assert.Equal(t, 2, testutil.CollectAndCount(c.transactions, "hsc_probe_transactions_total"))
}

func TestCollector_UnmappedCoilsShareOneLabel(t *testing.T) {
	c := New(addrmap.Default())

	for addr := uint16(3000); addr < 3010; addr++ {
		c.Observe(poller.Event{
			Source:   poller.SourceCommand,
			Block:    strconv.Itoa(int(addr)),
			Function: addrmap.WriteSingleCoil,
			Address:  addr,
			Err:      &pmodbus.ModbusError{FunctionCode: 5, ExceptionCode: 2},
		})
	}
	c.Observe(poller.Event{Source: poller.SourceCommand, Block: addrmap.CoilDoorOpen1, Function: addrmap.WriteSingleCoil, Address: 896})

	assert.Equal(t, 10.0, testutil.ToFloat64(c.transactions.WithLabelValues(UnmappedLabel, "exception")))
	assert.Equal(t, 10.0, testutil.ToFloat64(c.exceptions.WithLabelValues(UnmappedLabel, "0x02")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transactions.WithLabelValues(addrmap.CoilDoorOpen1, "ok")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.transactions, "hsc_probe_transactions_total"))
}

func TestCollector_Run(t *testing.T) {
	c := New(addrmap.Default())
	events := make(chan poller.Event, 1)
	events <- poller.Event{Block: addrmap.BlockAlarms}
	close(events)

	done := make(chan struct{})
	go func() {
		c.Run(context.Background(), events)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transactions.WithLabelValues("alarms", "ok")))
}
