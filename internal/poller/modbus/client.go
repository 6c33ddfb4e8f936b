// internal/poller/modbus/client.go
package modbus

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

const (
	DefaultTimeout = 500 * time.Millisecond

	MinSlaveID = 1
	MaxSlaveID = 247
)

// Params selects the line to open.
type Params struct {
	Port     string
	BaudRate int
	SlaveID  byte
}

func (p Params) validate() error {
	if p.Port == "" {
		return fmt.Errorf("%w: port required", ErrInvalidParams)
	}
	if p.BaudRate <= 0 {
		return fmt.Errorf("%w: baud rate must be > 0", ErrInvalidParams)
	}
	if p.SlaveID < MinSlaveID || p.SlaveID > MaxSlaveID {
		return fmt.Errorf("%w: slave id %d out of range %d-%d", ErrInvalidParams, p.SlaveID, MinSlaveID, MaxSlaveID)
	}
	return nil
}

// Connection describes the open line.
type Connection struct {
	ID       string
	Port     string
	BaudRate int
	SlaveID  byte
	OpenedAt time.Time
}

// Client owns the single serial connection.
// The lock is held across the whole request/response exchange: RTU has
// no multiplexing, so exactly one transaction is on the wire at a time.
// The client never retries.
type Client struct {
	mu sync.Mutex

	timeout time.Duration
	dial    DialFunc
	dialers map[string]DialFunc

	conn *Connection
	line Line
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-transaction response timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithDialer routes one port name to a custom dialer.
func WithDialer(port string, dial DialFunc) Option {
	return func(c *Client) {
		c.dialers[port] = dial
	}
}

// WithDefaultDialer replaces the serial dialer used for every other port.
func WithDefaultDialer(dial DialFunc) Option {
	return func(c *Client) {
		c.dial = dial
	}
}

// New creates a disconnected client.
func New(opts ...Option) *Client {
	c := &Client{
		timeout: DefaultTimeout,
		dial:    DialSerial,
		dialers: make(map[string]DialFunc),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect opens the line. It fails if a connection is already open or the
// port cannot be opened, and never retries.
func (c *Client) Connect(p Params) (Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return Connection{}, &ConnectError{Port: p.Port, Err: ErrAlreadyConnected}
	}
	if err := p.validate(); err != nil {
		return Connection{}, &ConnectError{Port: p.Port, Err: err}
	}

	dial := c.dial
	if d, ok := c.dialers[p.Port]; ok {
		dial = d
	}

	line, err := dial(p, c.timeout)
	if err != nil {
		return Connection{}, &ConnectError{Port: p.Port, Err: err}
	}

	conn := Connection{
		ID:       uuid.NewString(),
		Port:     p.Port,
		BaudRate: p.BaudRate,
		SlaveID:  p.SlaveID,
		OpenedAt: time.Now(),
	}
	c.conn = &conn
	c.line = line

	klog.V(1).InfoS("Serial line opened", "port", p.Port, "baud", p.BaudRate, "slave", p.SlaveID, "conn", conn.ID)
	return conn, nil
}

// Disconnect releases the line. Safe to call when already disconnected.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	var err error
	if c.line.Closer != nil {
		err = c.line.Closer.Close()
	}
	klog.V(1).InfoS("Serial line closed", "port", c.conn.Port, "conn", c.conn.ID, "err", err)

	c.conn = nil
	c.line = Line{}
	if err != nil {
		return &TransportError{Op: "close", Err: err}
	}
	return nil
}

// Connected reports whether a line is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Connection returns the open connection, if any.
func (c *Client) Connection() (Connection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return Connection{}, false
	}
	return *c.conn, true
}

// ---- transactions ----

// ReadDiscreteInputs issues FC02. Index i of the result is address addr+i.
func (c *Client) ReadDiscreteInputs(addr, qty uint16) ([]bool, error) {
	if qty == 0 || qty > 2000 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQuantity, qty)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, ErrNotConnected
	}
	data, err := c.line.Client.ReadDiscreteInputs(addr, qty)
	if err != nil {
		return nil, Classify("read discrete inputs", err)
	}
	if len(data) != (int(qty)+7)/8 {
		return nil, &TransportError{Op: "read discrete inputs", Err: fmt.Errorf("byte count %d for %d bits", len(data), qty)}
	}
	return unpackBits(data, int(qty)), nil
}

// ReadCoils issues FC01. Index i of the result is address addr+i.
func (c *Client) ReadCoils(addr, qty uint16) ([]bool, error) {
	if qty == 0 || qty > 2000 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQuantity, qty)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, ErrNotConnected
	}
	data, err := c.line.Client.ReadCoils(addr, qty)
	if err != nil {
		return nil, Classify("read coils", err)
	}
	if len(data) != (int(qty)+7)/8 {
		return nil, &TransportError{Op: "read coils", Err: fmt.Errorf("byte count %d for %d bits", len(data), qty)}
	}
	return unpackBits(data, int(qty)), nil
}

// ReadHoldingRegisters issues FC03. Index i of the result is address addr+i.
func (c *Client) ReadHoldingRegisters(addr, qty uint16) ([]uint16, error) {
	if qty == 0 || qty > 125 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQuantity, qty)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, ErrNotConnected
	}
	data, err := c.line.Client.ReadHoldingRegisters(addr, qty)
	if err != nil {
		return nil, Classify("read holding registers", err)
	}
	if len(data) != int(qty)*2 {
		return nil, &TransportError{Op: "read holding registers", Err: fmt.Errorf("byte count %d for %d registers", len(data), qty)}
	}
	return unpackRegisters(data), nil
}

// WriteSingleCoil issues FC05 with 0xFF00 (on) or 0x0000 (off).
func (c *Client) WriteSingleCoil(addr uint16, value bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}
	var v uint16
	if value {
		v = 0xFF00
	}
	_, err := c.line.Client.WriteSingleCoil(addr, v)
	return Classify("write single coil", err)
}

// WriteMultipleCoils issues FC15 with the bitmap packed LSB-first.
func (c *Client) WriteMultipleCoils(addr uint16, bits []bool) error {
	if len(bits) == 0 || len(bits) > 1968 {
		return fmt.Errorf("%w: %d", ErrInvalidQuantity, len(bits))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}
	_, err := c.line.Client.WriteMultipleCoils(addr, uint16(len(bits)), packBits(bits))
	return Classify("write multiple coils", err)
}

// ---- helpers (pure geometry) ----

func unpackBits(data []byte, count int) []bool {
	out := make([]bool, count)
	for i := 0; i < count; i++ {
		byteIdx := i / 8
		if byteIdx >= len(data) {
			break
		}
		out[i] = data[byteIdx]&(1<<uint(i%8)) != 0
	}
	return out
}

func unpackRegisters(data []byte) []uint16 {
	n := len(data) / 2
	out := make([]uint16, n)
	for i := 0; i < n; i++ {
		out[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
	}
	return out
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
