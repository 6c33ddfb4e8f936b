// internal/simulator/device.go
package simulator

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tbrandon/mbserver"
	"go.uber.org/atomic"
	"k8s.io/klog/v2"

	"github.com/tamzrod/hsc-probe/internal/addrmap"
	pmodbus "github.com/tamzrod/hsc-probe/internal/poller/modbus"
)

// PortName is the port identifier routed to the simulator by default.
const PortName = "SIM"

var (
	ErrNoResponse = errors.New("simulator: timeout waiting for response")
	ErrPortClosed = errors.New("simulator: port closed")
)

const (
	maxReadBits      = 2000
	maxReadRegisters = 125
	maxWriteBits     = 1968
)

// Request is one frame the device received.
type Request struct {
	SlaveID  byte
	Function byte
	Address  uint16
	Value    uint16 // quantity for reads and FC15, coil value for FC05
	At       time.Time
}

type handlerFunc func(*mbserver.Server, mbserver.Framer) ([]byte, *mbserver.Exception)

// Device is an in-process MAIN board on top of an mbserver slave. Defined
// ranges of the address table are served from the server's images; any
// other address is answered with exception 0x02.
type Device struct {
	slaveID byte

	mu       sync.Mutex
	srv      *mbserver.Server
	handlers map[uint8]handlerFunc
	latency  time.Duration
	offline  bool
	requests []Request

	// defined addresses per image
	discrete map[uint16]bool
	coils    map[uint16]bool
	holding  map[uint16]bool
	pulses   map[uint16]bool

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

// New builds a device answering on slaveID with the MAIN board image.
func New(slaveID byte, m *addrmap.Map) *Device {
	d := &Device{
		slaveID:  slaveID,
		srv:      mbserver.NewServer(),
		discrete: make(map[uint16]bool),
		coils:    make(map[uint16]bool),
		holding:  make(map[uint16]bool),
		pulses:   make(map[uint16]bool),
	}

	for _, b := range m.Blocks() {
		for i := uint16(0); i < b.Count; i++ {
			switch b.Function {
			case addrmap.ReadDiscreteInputs:
				d.discrete[b.Start+i] = true
			case addrmap.ReadCoils:
				d.coils[b.Start+i] = true
			case addrmap.ReadHoldingRegisters:
				d.holding[b.Start+i] = true
			}
		}
	}
	for _, c := range m.Coils() {
		if c.ExpectException != 0 {
			continue
		}
		d.pulses[c.Address] = true
	}

	d.handlers = map[uint8]handlerFunc{
		0x01: guard(d.coils, maxReadBits, mbserver.ReadCoils),
		0x02: guard(d.discrete, maxReadBits, mbserver.ReadDiscreteInputs),
		0x03: guard(d.holding, maxReadRegisters, mbserver.ReadHoldingRegisters),
		0x05: d.writeSingleCoil,
		0x0F: guard(d.coils, maxWriteBits, writeMultipleCoils),
	}
	for fc, fn := range d.handlers {
		d.srv.RegisterFunctionHandler(fc, fn)
	}
	return d
}

// ---- test hooks ----

// SetDiscrete sets discrete inputs starting at addr. Undefined addresses are ignored.
func (d *Device) SetDiscrete(addr uint16, bits ...bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	setBits(d.srv.DiscreteInputs, d.discrete, addr, bits)
}

// SetCoils sets readable coils starting at addr.
func (d *Device) SetCoils(addr uint16, bits ...bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	setBits(d.srv.Coils, d.coils, addr, bits)
}

// Coils returns readable coils starting at addr.
func (d *Device) Coils(addr, qty uint16) []bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]bool, qty)
	for i := range out {
		out[i] = d.srv.Coils[int(addr)+i] != 0
	}
	return out
}

// SetHolding sets holding registers starting at addr.
func (d *Device) SetHolding(addr uint16, regs ...uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, v := range regs {
		a := addr + uint16(i)
		if d.holding[a] {
			d.srv.HoldingRegisters[a] = v
		}
	}
}

// Pulsed reports the last value written to a pulse coil.
func (d *Device) Pulsed(addr uint16) (bool, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.pulses[addr] {
		return false, false
	}
	return d.srv.Coils[addr] != 0, true
}

// SetLatency delays every answer.
func (d *Device) SetLatency(l time.Duration) {
	d.mu.Lock()
	d.latency = l
	d.mu.Unlock()
}

// SetOffline makes the device stop answering.
func (d *Device) SetOffline(off bool) {
	d.mu.Lock()
	d.offline = off
	d.mu.Unlock()
}

// Requests returns every frame received so far, in arrival order.
func (d *Device) Requests() []Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Request, len(d.requests))
	copy(out, d.requests)
	return out
}

// MaxInFlight is the highest number of frames ever handled concurrently.
func (d *Device) MaxInFlight() int {
	return int(d.maxInFlight.Load())
}

// Dial opens a line to the device. It matches pmodbus.DialFunc.
func (d *Device) Dial(p pmodbus.Params, timeout time.Duration) (pmodbus.Line, error) {
	l := &link{dev: d, timeout: timeout}
	return pmodbus.TransporterLine(l, l, p.SlaveID), nil
}

// link is one open port on the device.
type link struct {
	dev     *Device
	timeout time.Duration
	closed  atomic.Bool
}

func (l *link) Close() error {
	l.closed.Store(true)
	return nil
}

// Send implements modbus.Transporter.
func (l *link) Send(aduRequest []byte) ([]byte, error) {
	if l.closed.Load() {
		return nil, ErrPortClosed
	}
	return l.dev.serve(aduRequest, l.timeout)
}

func (d *Device) serve(adu []byte, timeout time.Duration) ([]byte, error) {
	n := d.inFlight.Inc()
	defer d.inFlight.Dec()
	for {
		max := d.maxInFlight.Load()
		if n <= max || d.maxInFlight.CAS(max, n) {
			break
		}
	}

	frame, err := mbserver.NewRTUFrame(adu)
	if err != nil {
		return nil, fmt.Errorf("simulator: %w", err)
	}

	d.mu.Lock()
	latency, offline := d.latency, d.offline
	d.mu.Unlock()

	if offline || frame.Address != d.slaveID {
		time.Sleep(timeout)
		return nil, ErrNoResponse
	}
	if latency > 0 {
		time.Sleep(latency)
	}

	resp := d.handle(frame)
	klog.V(5).InfoS("Simulator frame", "fc", frame.Function, "req", fmt.Sprintf("% X", frame.Data), "resp", fmt.Sprintf("% X", resp.Bytes()))
	return resp.Bytes(), nil
}

// handle dispatches one frame to the registered function handler, the same
// way mbserver does for its serial and TCP listeners.
func (d *Device) handle(frame *mbserver.RTUFrame) mbserver.Framer {
	d.mu.Lock()
	defer d.mu.Unlock()

	r := Request{SlaveID: frame.Address, Function: frame.Function, At: time.Now()}
	if len(frame.Data) >= 4 {
		hdr := mbserver.BytesToUint16(frame.Data[0:4])
		r.Address, r.Value = hdr[0], hdr[1]
	}
	d.requests = append(d.requests, r)

	resp := frame.Copy()

	fn, ok := d.handlers[frame.Function]
	if !ok {
		resp.SetException(&mbserver.IllegalFunction)
		return resp
	}
	if len(frame.Data) < 4 {
		resp.SetException(&mbserver.IllegalDataValue)
		return resp
	}

	data, exc := fn(d.srv, frame)
	if exc != nil && *exc != mbserver.Success {
		resp.SetException(exc)
		return resp
	}
	resp.SetData(data)
	return resp
}

// guard serves fn only when the whole requested range is defined.
func guard(defined map[uint16]bool, maxQty uint16, fn handlerFunc) handlerFunc {
	return func(s *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
		hdr := mbserver.BytesToUint16(frame.GetData()[0:4])
		addr, qty := hdr[0], hdr[1]
		if qty == 0 || qty > maxQty {
			return []byte{}, &mbserver.IllegalDataValue
		}
		for i := uint16(0); i < qty; i++ {
			if !defined[addr+i] {
				return []byte{}, &mbserver.IllegalDataAddress
			}
		}
		return fn(s, frame)
	}
}

// writeSingleCoil accepts the readable coils and the pulse (button) coils.
func (d *Device) writeSingleCoil(s *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	hdr := mbserver.BytesToUint16(frame.GetData()[0:4])
	addr, value := hdr[0], hdr[1]
	if value != 0xFF00 && value != 0x0000 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	if !d.coils[addr] && !d.pulses[addr] {
		return []byte{}, &mbserver.IllegalDataAddress
	}
	return mbserver.WriteSingleCoil(s, frame)
}

// writeMultipleCoils checks the byte count before handing the frame over.
func writeMultipleCoils(s *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	qty := int(mbserver.BytesToUint16(data[2:4])[0])
	if len(data) < 5 || int(data[4]) != (qty+7)/8 || len(data) < 5+int(data[4]) {
		return []byte{}, &mbserver.IllegalDataValue
	}
	return mbserver.WriteMultipleCoils(s, frame)
}

func setBits(image []byte, defined map[uint16]bool, addr uint16, bits []bool) {
	for i, v := range bits {
		a := addr + uint16(i)
		if !defined[a] {
			continue
		}
		image[a] = 0
		if v {
			image[a] = 1
		}
	}
}
