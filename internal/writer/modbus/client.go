// internal/writer/modbus/client.go
package modbus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"k8s.io/klog/v2"

	pmodbus "github.com/tamzrod/hsc-probe/internal/poller/modbus"
)

// Request size limits for FC15 and FC16.
const (
	MaxWriteBits      = 1968
	MaxWriteRegisters = 123
)

// EndpointError is a failed write to the mirror endpoint. Err is a
// *pmodbus.ModbusError when the endpoint answered with an exception and a
// *pmodbus.TransportError otherwise.
type EndpointError struct {
	Endpoint string
	UnitID   uint8
	Addr     uint16
	Err      error
}

func (e *EndpointError) Error() string {
	return fmt.Sprintf("mirror %s unit=%d addr=%d: %v", e.Endpoint, e.UnitID, e.Addr, e.Err)
}

func (e *EndpointError) Unwrap() error { return e.Err }

// EndpointClient is a single TCP connection to the mirror endpoint.
// It serializes requests because it mutates SlaveId per write.
type EndpointClient struct {
	endpoint string

	mu      sync.Mutex
	handler *modbus.TCPClientHandler
	client  modbus.Client
}

type Config struct {
	Endpoint string
	Timeout  time.Duration
}

func NewEndpointClient(cfg Config) (*EndpointClient, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("writer modbus: endpoint required")
	}

	h := modbus.NewTCPClientHandler(cfg.Endpoint)
	h.Timeout = cfg.Timeout

	if err := h.Connect(); err != nil {
		return nil, &EndpointError{Endpoint: cfg.Endpoint, Err: pmodbus.Classify("connect", err)}
	}

	return &EndpointClient{
		endpoint: cfg.Endpoint,
		handler:  h,
		client:   modbus.NewClient(h),
	}, nil
}

func (c *EndpointClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler.Close()
}

// WriteBits stores bits as coils (FC15), split into requests the endpoint
// accepts.
func (c *EndpointClient) WriteBits(unitID uint8, addr uint16, bits []bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for off := 0; off < len(bits); off += MaxWriteBits {
		chunk := bits[off:min(off+MaxWriteBits, len(bits))]
		at := addr + uint16(off)
		c.handler.SlaveId = unitID
		if _, err := c.client.WriteMultipleCoils(at, uint16(len(chunk)), packBits(chunk)); err != nil {
			return c.fail(unitID, at, "write multiple coils", err)
		}
	}
	return nil
}

// WriteRegisters stores holding registers (FC16).
func (c *EndpointClient) WriteRegisters(unitID uint8, addr uint16, regs []uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for off := 0; off < len(regs); off += MaxWriteRegisters {
		chunk := regs[off:min(off+MaxWriteRegisters, len(regs))]
		at := addr + uint16(off)
		c.handler.SlaveId = unitID
		if _, err := c.client.WriteMultipleRegisters(at, uint16(len(chunk)), packRegisters(chunk)); err != nil {
			return c.fail(unitID, at, "write multiple registers", err)
		}
	}
	return nil
}

// fail classifies err. A broken connection is dropped so the next write
// dials again.
func (c *EndpointClient) fail(unitID uint8, addr uint16, op string, err error) error {
	err = pmodbus.Classify(op, err)
	var te *pmodbus.TransportError
	if errors.As(err, &te) {
		klog.V(2).InfoS("Mirror connection dropped", "endpoint", c.endpoint, "err", err)
		_ = c.handler.Close()
	}
	return &EndpointError{Endpoint: c.endpoint, UnitID: unitID, Addr: addr, Err: err}
}

func packBits(bits []bool) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, v := range bits {
		if v {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out
}

func packRegisters(regs []uint16) []byte {
	out := make([]byte, len(regs)*2)
	for i, r := range regs {
		out[2*i] = byte(r >> 8)
		out[2*i+1] = byte(r)
	}
	return out
}
