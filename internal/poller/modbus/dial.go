// internal/poller/modbus/dial.go
package modbus

import (
	"io"
	"time"

	"github.com/goburrow/modbus"
	"github.com/goburrow/serial"
	"k8s.io/klog/v2"
)

// Line is an open Modbus line: the protocol client and whatever must be
// closed to release the port.
type Line struct {
	Client modbus.Client
	Closer io.Closer
}

// DialFunc opens a line. One attempt per call.
type DialFunc func(p Params, timeout time.Duration) (Line, error)

// frameLogLevel enables raw ADU logging on the RTU handler.
const frameLogLevel = 6

// DialSerial opens a Modbus RTU line on a local serial port, 8N1.
func DialSerial(p Params, timeout time.Duration) (Line, error) {
	h := modbus.NewRTUClientHandler(p.Port)
	h.Config = serial.Config{
		Address:  p.Port,
		BaudRate: p.BaudRate,
		DataBits: 8,
		Parity:   "N",
		StopBits: 1,
		Timeout:  timeout,
	}
	h.SlaveId = p.SlaveID
	// the port stays owned until Disconnect
	h.IdleTimeout = 0

	if klog.V(frameLogLevel).Enabled() {
		h.Logger = klog.NewStandardLogger("INFO")
	}

	if err := h.Connect(); err != nil {
		return Line{}, err
	}
	return Line{Client: modbus.NewClient(h), Closer: h}, nil
}

// TransporterLine builds an RTU line over an in-process transporter.
// Framing and CRC are still done by the RTU packager.
func TransporterLine(tr modbus.Transporter, closer io.Closer, slaveID byte) Line {
	packager := modbus.NewRTUClientHandler("")
	packager.SlaveId = slaveID
	return Line{Client: modbus.NewClient2(packager, tr), Closer: closer}
}
