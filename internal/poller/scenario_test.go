// internal/poller/scenario_test.go
package poller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/hsc-probe/internal/addrmap"
	pmodbus "github.com/tamzrod/hsc-probe/internal/poller/modbus"
	"github.com/tamzrod/hsc-probe/internal/simulator"
)

// End-to-end runs through the goburrow RTU client against the simulator.

func startSim(t *testing.T) (*Scheduler, *simulator.Device, *recorder) {
	t.Helper()
	dev := simulator.New(1, addrmap.Default())
	client := pmodbus.New(
		pmodbus.WithTimeout(50*time.Millisecond),
		pmodbus.WithDialer(simulator.PortName, dev.Dial),
	)
	rec := &recorder{}
	s := startScheduler(t, client, rec)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	conn, err := s.Connect(ctx, pmodbus.Params{Port: simulator.PortName, BaudRate: 9600, SlaveID: 1})
	require.NoError(t, err)
	assert.Equal(t, simulator.PortName, conn.Port)

	return s, dev, rec
}

func TestScenarioA_ReadOnOffKeepsOrder(t *testing.T) {
	s, dev, rec := startSim(t)

	pattern := make([]bool, 16)
	for i := range pattern {
		pattern[i] = i%2 == 0
	}
	dev.SetDiscrete(820, pattern...)

	_, err := s.ReadBlock(addrmap.BlockOnOff)
	require.NoError(t, err)

	ev := rec.waitFor(t, 1, isCommand)[0]
	require.NoError(t, ev.Err)
	assert.Equal(t, addrmap.BlockOnOff, ev.Block)
	assert.Equal(t, pattern, ev.Bits)

	reqs := dev.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, uint16(820), reqs[0].Address)
	assert.Equal(t, uint16(16), reqs[0].Value)
}

func TestScenarioB_DoorOpenAck(t *testing.T) {
	s, dev, rec := startSim(t)

	_, err := s.WriteCoil(addrmap.CoilDoorOpen1, true)
	require.NoError(t, err)

	ev := rec.waitFor(t, 1, isCommand)[0]
	require.NoError(t, ev.Err)
	assert.Equal(t, uint16(896), ev.Address)
	assert.Nil(t, ev.Bits)
	assert.Nil(t, ev.Registers)

	v, _ := dev.Pulsed(896)
	assert.True(t, v)
}

func TestScenarioC_InvalidCoilThenRead(t *testing.T) {
	s, _, rec := startSim(t)

	for _, name := range []string{addrmap.CoilInvalid899, addrmap.CoilInvalid900} {
		_, err := s.WriteCoil(name, true)
		require.NoError(t, err)
	}
	_, err := s.ReadBlock(addrmap.BlockCurrents)
	require.NoError(t, err)

	events := rec.waitFor(t, 3, isCommand)
	for _, ev := range events[:2] {
		var me *pmodbus.ModbusError
		require.ErrorAs(t, ev.Err, &me)
		assert.Equal(t, byte(0x02), me.ExceptionCode)
	}
	require.NoError(t, events[2].Err)
	assert.Len(t, events[2].Registers, 14)
}

func TestScenarioD_PollCadence(t *testing.T) {
	s, _, rec := startSim(t)

	require.NoError(t, s.SetPolling(true, 200*time.Millisecond))
	events := rec.waitFor(t, 15, isPoll)
	require.NoError(t, s.SetPolling(false, 0))

	want := []string{addrmap.BlockOnOff, addrmap.BlockDoor, addrmap.BlockAlarms, addrmap.BlockCmdOnOff, addrmap.BlockCurrents}
	var starts []time.Time
	for i, ev := range events[:15] {
		require.NoError(t, ev.Err)
		assert.Equal(t, want[i%5], ev.Block)
		if i%5 == 0 {
			starts = append(starts, ev.At)
		}
	}
	for i := 1; i < len(starts); i++ {
		gap := starts[i].Sub(starts[i-1])
		assert.InDelta(t, float64(200*time.Millisecond), float64(gap), float64(80*time.Millisecond), "gap %v", gap)
	}
}

func TestToggleOutputReadModifyWrite(t *testing.T) {
	s, dev, rec := startSim(t)
	dev.SetCoils(0, true, false, false, false, false, false, false, false)

	_, err := s.ToggleOutput(3)
	require.NoError(t, err)

	events := rec.waitFor(t, 2, isCommand)
	assert.Equal(t, addrmap.ReadCoils, events[0].Function)
	assert.Equal(t, addrmap.WriteMultipleCoils, events[1].Function)
	assert.Equal(t, events[0].ID, events[1].ID)
	require.NoError(t, events[1].Err)

	assert.Equal(t, []bool{true, false, false, true, false, false, false, false}, dev.Coils(0, 8))
}

func TestSimulatorSeesSerializedFrames(t *testing.T) {
	s, dev, rec := startSim(t)
	dev.SetLatency(time.Millisecond)
	require.NoError(t, s.SetPolling(true, 100*time.Millisecond))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.ReadBlock(addrmap.BlockDoor)
			_, _ = s.WriteCoil(addrmap.CoilInvalid899, true)
		}()
	}
	wg.Wait()

	rec.waitFor(t, 40, isCommand)
	rec.waitFor(t, 5, isPoll)
	require.NoError(t, s.SetPolling(false, 0))

	assert.Equal(t, 1, dev.MaxInFlight())
}

func TestTimeoutIsTransportError(t *testing.T) {
	s, dev, rec := startSim(t)
	dev.SetOffline(true)

	_, err := s.ReadBlock(addrmap.BlockAlarms)
	require.NoError(t, err)

	ev := rec.waitFor(t, 1, isCommand)[0]
	var te *pmodbus.TransportError
	require.ErrorAs(t, ev.Err, &te)

	// the line stays open
	_, ok := s.Connection()
	assert.True(t, ok)
}
