// internal/addrmap/addrmap.go
package addrmap

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Function is the Modbus function code a block or coil is accessed with.
type Function uint8

const (
	ReadCoils            Function = 0x01
	ReadDiscreteInputs   Function = 0x02
	ReadHoldingRegisters Function = 0x03
	WriteSingleCoil      Function = 0x05
	WriteMultipleCoils   Function = 0x0F
)

// String returns the FCxx notation used in the transaction log.
func (f Function) String() string {
	return fmt.Sprintf("FC%02X", uint8(f))
}

// Bits reports whether the function carries a bit payload.
func (f Function) Bits() bool {
	switch f {
	case ReadCoils, ReadDiscreteInputs, WriteSingleCoil, WriteMultipleCoils:
		return true
	}
	return false
}

var (
	ErrUnknownBlock = errors.New("addrmap: unknown block")
	ErrUnknownCoil  = errors.New("addrmap: unknown coil")
)

// Block is one fixed read geometry.
// Payload index i always maps to wire address Start+i.
type Block struct {
	Name     string
	Title    string
	Function Function
	Start    uint16
	Count    uint16

	// Labels[i] names wire address Start+i. May be shorter than Count.
	Labels []string
}

// Label returns the label of payload index i, or a generated one.
func (b Block) Label(i int) string {
	if i >= 0 && i < len(b.Labels) && b.Labels[i] != "" {
		return b.Labels[i]
	}
	return fmt.Sprintf("%s[%d]", b.Name, i)
}

// Contains reports whether wire address addr falls inside the block.
func (b Block) Contains(addr uint16) bool {
	return addr >= b.Start && uint32(addr) < uint32(b.Start)+uint32(b.Count)
}

// Coil is one single-coil write target.
type Coil struct {
	Name    string
	Title   string
	Address uint16

	// ExpectException is the exception code the device is documented to
	// answer with. 0 means a plain acknowledge is expected.
	ExpectException byte
}

// Map is the immutable device address table.
type Map struct {
	blocks []Block
	coils  []Coil
	cycle  []string
}

// Blocks returns every block, poll-cycle blocks first.
func (m *Map) Blocks() []Block {
	out := make([]Block, len(m.blocks))
	for i, b := range m.blocks {
		out[i] = copyBlock(b)
	}
	return out
}

// Coils returns every coil in table order.
func (m *Map) Coils() []Coil {
	out := make([]Coil, len(m.coils))
	copy(out, m.coils)
	return out
}

// Block looks up a block by name.
func (m *Map) Block(name string) (Block, error) {
	for _, b := range m.blocks {
		if b.Name == name {
			return copyBlock(b), nil
		}
	}
	return Block{}, fmt.Errorf("%w: %q", ErrUnknownBlock, name)
}

// Coil looks up a coil by name.
func (m *Map) Coil(name string) (Coil, error) {
	for _, c := range m.coils {
		if c.Name == name {
			return c, nil
		}
	}
	return Coil{}, fmt.Errorf("%w: %q", ErrUnknownCoil, name)
}

// CoilAt returns the named coil at a wire address, if the table has one.
func (m *Map) CoilAt(addr uint16) (Coil, bool) {
	for _, c := range m.coils {
		if c.Address == addr {
			return c, true
		}
	}
	return Coil{}, false
}

// PollCycle returns the blocks of one poll cycle in their fixed order.
func (m *Map) PollCycle() []Block {
	out := make([]Block, 0, len(m.cycle))
	for _, name := range m.cycle {
		b, err := m.Block(name)
		if err != nil {
			// table construction guarantees every cycle name exists
			panic(err)
		}
		out = append(out, b)
	}
	return out
}

// ResolveCoil accepts a coil name, a decimal wire address ("896") or
// device notation ("1x0897"). Addresses outside the table resolve to an
// unnamed coil so that unmapped addresses can still be exercised.
func (m *Map) ResolveCoil(s string) (Coil, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Coil{}, fmt.Errorf("%w: empty", ErrUnknownCoil)
	}

	if c, err := m.Coil(s); err == nil {
		return c, nil
	}

	var addr uint16
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "1x") {
		n, err := strconv.ParseUint(lower[2:], 10, 16)
		if err != nil || n == 0 {
			return Coil{}, fmt.Errorf("%w: %q", ErrUnknownCoil, s)
		}
		addr = FromDevice(uint16(n))
	} else {
		n, err := strconv.ParseUint(s, 10, 16)
		if err != nil {
			return Coil{}, fmt.Errorf("%w: %q", ErrUnknownCoil, s)
		}
		addr = uint16(n)
	}

	if c, ok := m.CoilAt(addr); ok {
		return c, nil
	}
	return Coil{Name: strconv.Itoa(int(addr)), Title: DeviceNotation(addr), Address: addr}, nil
}

// FromDevice converts the datasheet's 1xNNNN number to a zero-based wire address.
func FromDevice(n uint16) uint16 {
	return n - 1
}

// ToDevice converts a zero-based wire address back to the datasheet number.
func ToDevice(addr uint16) uint16 {
	return addr + 1
}

// DeviceNotation renders a wire address as "1xNNNN".
func DeviceNotation(addr uint16) string {
	return fmt.Sprintf("1x%04d", ToDevice(addr))
}

func copyBlock(b Block) Block {
	if b.Labels != nil {
		labels := make([]string, len(b.Labels))
		copy(labels, b.Labels)
		b.Labels = labels
	}
	return b
}
