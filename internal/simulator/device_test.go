// internal/simulator/device_test.go
package simulator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tbrandon/mbserver"

	"github.com/tamzrod/hsc-probe/internal/addrmap"
	pmodbus "github.com/tamzrod/hsc-probe/internal/poller/modbus"
)

func connect(t *testing.T, d *Device, slave byte) *pmodbus.Client {
	t.Helper()
	c := pmodbus.New(
		pmodbus.WithTimeout(30*time.Millisecond),
		pmodbus.WithDialer(PortName, d.Dial),
	)
	_, err := c.Connect(pmodbus.Params{Port: PortName, BaudRate: 9600, SlaveID: slave})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Disconnect() })
	return c
}

func TestServesDiscreteBlocksInOrder(t *testing.T) {
	d := New(1, addrmap.Default())
	c := connect(t, d, 1)

	pattern := make([]bool, 16)
	for i := range pattern {
		pattern[i] = i%2 == 0
	}
	d.SetDiscrete(820, pattern...)

	got, err := c.ReadDiscreteInputs(820, 16)
	require.NoError(t, err)
	assert.Equal(t, pattern, got)

	reqs := d.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, byte(0x02), reqs[0].Function)
	assert.Equal(t, uint16(820), reqs[0].Address)
	assert.Equal(t, uint16(16), reqs[0].Value)
}

func TestServesCurrents(t *testing.T) {
	d := New(1, addrmap.Default())
	c := connect(t, d, 1)

	d.SetHolding(2000, 100, 200, 300)
	got, err := c.ReadHoldingRegisters(2000, 14)
	require.NoError(t, err)
	require.Len(t, got, 14)
	assert.Equal(t, []uint16{100, 200, 300}, got[:3])
}

func TestUndefinedRangeIsIllegalAddress(t *testing.T) {
	d := New(1, addrmap.Default())
	c := connect(t, d, 1)

	// one address past the ON/OFF block
	_, err := c.ReadDiscreteInputs(820, 17)
	code, ok := pmodbus.ExceptionCode(err)
	require.True(t, ok, "err=%v", err)
	assert.Equal(t, byte(0x02), code)

	_, err = c.ReadHoldingRegisters(1999, 2)
	code, _ = pmodbus.ExceptionCode(err)
	assert.Equal(t, byte(0x02), code)
}

func TestInvalidCoilsAnswerIllegalAddress(t *testing.T) {
	d := New(1, addrmap.Default())
	c := connect(t, d, 1)

	for _, addr := range []uint16{898, 899} {
		err := c.WriteSingleCoil(addr, true)
		var me *pmodbus.ModbusError
		require.ErrorAs(t, err, &me)
		assert.Equal(t, byte(0x02), me.ExceptionCode)
		assert.Equal(t, byte(0x05), me.FunctionCode)
	}
}

func TestDoorOpenCoilAcks(t *testing.T) {
	d := New(1, addrmap.Default())
	c := connect(t, d, 1)

	require.NoError(t, c.WriteSingleCoil(896, true))
	v, ok := d.Pulsed(896)
	assert.True(t, ok)
	assert.True(t, v)
}

func TestMainCoilsReadWrite(t *testing.T) {
	d := New(1, addrmap.Default())
	c := connect(t, d, 1)

	d.SetCoils(0, true, false, true)
	got, err := c.ReadCoils(0, 8)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, true, false, false, false, false, false}, got)

	require.NoError(t, c.WriteMultipleCoils(0, []bool{false, true, true, false, false, false, false, true}))
	assert.Equal(t, []bool{false, true, true, false, false, false, false, true}, d.Coils(0, 8))
}

func TestWrongSlaveTimesOut(t *testing.T) {
	d := New(1, addrmap.Default())
	c := connect(t, d, 7)

	_, err := c.ReadDiscreteInputs(820, 16)
	var te *pmodbus.TransportError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, ErrNoResponse)
}

func TestOffline(t *testing.T) {
	d := New(1, addrmap.Default())
	c := connect(t, d, 1)

	d.SetOffline(true)
	_, err := c.ReadHoldingRegisters(2000, 14)
	assert.ErrorIs(t, err, ErrNoResponse)

	d.SetOffline(false)
	_, err = c.ReadHoldingRegisters(2000, 14)
	assert.NoError(t, err)
}

func TestClosedLinkRefuses(t *testing.T) {
	d := New(1, addrmap.Default())
	line, err := d.Dial(pmodbus.Params{Port: PortName, BaudRate: 9600, SlaveID: 1}, time.Second)
	require.NoError(t, err)
	require.NoError(t, line.Closer.Close())

	_, err = line.Client.ReadDiscreteInputs(820, 16)
	assert.ErrorIs(t, err, ErrPortClosed)
}

func TestRawFrames(t *testing.T) {
	d := New(1, addrmap.Default())
	l := &link{dev: d, timeout: 10 * time.Millisecond}

	send := func(fc byte, data ...byte) *mbserver.RTUFrame {
		t.Helper()
		req := &mbserver.RTUFrame{Address: 1, Function: fc, Data: data}
		raw, err := l.Send(req.Bytes())
		require.NoError(t, err)
		resp, err := mbserver.NewRTUFrame(raw)
		require.NoError(t, err)
		return resp
	}

	// zero quantity
	resp := send(0x02, 0x03, 0x34, 0x00, 0x00)
	assert.Equal(t, byte(0x82), resp.Function)
	assert.Equal(t, []byte{0x03}, resp.Data)

	// FC06 is not served
	resp = send(0x06, 0x07, 0xD0, 0x00, 0x01)
	assert.Equal(t, byte(0x86), resp.Function)
	assert.Equal(t, []byte{0x01}, resp.Data)

	// FC05 only takes FF00 or 0000
	resp = send(0x05, 0x03, 0x80, 0x12, 0x34)
	assert.Equal(t, byte(0x85), resp.Function)
	assert.Equal(t, []byte{0x03}, resp.Data)

	resp = send(0x05, 0x03, 0x80, 0xFF, 0x00)
	assert.Equal(t, byte(0x05), resp.Function)
	assert.Equal(t, []byte{0x03, 0x80, 0xFF, 0x00}, resp.Data)
	v, ok := d.Pulsed(896)
	assert.True(t, ok)
	assert.True(t, v)
}

func TestCorruptFrameIsRejected(t *testing.T) {
	d := New(1, addrmap.Default())
	l := &link{dev: d, timeout: 10 * time.Millisecond}

	raw := (&mbserver.RTUFrame{Address: 1, Function: 0x03, Data: []byte{0x07, 0xD0, 0x00, 0x0E}}).Bytes()
	raw[len(raw)-1] ^= 0xFF

	_, err := l.Send(raw)
	assert.Error(t, err)
	assert.Empty(t, d.Requests())
}
