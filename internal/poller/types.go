// internal/poller/types.go
package poller

import (
	"errors"
	"time"

	"github.com/tamzrod/hsc-probe/internal/addrmap"
)

var (
	ErrClosed              = errors.New("poller: scheduler closed")
	ErrCancelled           = errors.New("poller: request cancelled")
	ErrUnknownBlock        = addrmap.ErrUnknownBlock
	ErrUnknownCoil         = addrmap.ErrUnknownCoil
	ErrIntervalRange       = errors.New("poller: poll interval out of range")
	ErrOutputRange         = errors.New("poller: output index out of range")
	ErrUnsupportedFunction = errors.New("poller: unsupported function code")
)

const (
	MinInterval     = 100 * time.Millisecond
	MaxInterval     = 5000 * time.Millisecond
	DefaultInterval = 500 * time.Millisecond
)

// Source tells observers what issued an event.
type Source string

const (
	SourcePoll    Source = "poll"
	SourceCommand Source = "command"
	SourceControl Source = "control"
)

// Control operations reported on the sink.
const (
	OpConnect    = "Connect"
	OpDisconnect = "Disconnect"
)

// Transaction is one request on the wire.
// Geometry only: no semantics.
type Transaction struct {
	Block    string
	Function addrmap.Function
	Address  uint16
	Count    uint16

	Value bool   // FC05
	Bits  []bool // FC15

	// Expect is the exception code the address table documents for this
	// target. Carried through for observers; the scheduler does not act on it.
	Expect byte
}

// Event is the outcome of one transaction, or of a connect/disconnect.
type Event struct {
	ID     string
	Block  string
	Source Source
	Cycle  uint64 // poll cycle sequence, 0 for one-shots

	Function addrmap.Function
	Address  uint16
	Count    uint16
	Value    bool
	Expect   byte

	// Exactly one of these is used depending on Function.
	Bits      []bool   // FC 1,2,15
	Registers []uint16 // FC 3

	// Control events only.
	Op       string
	Port     string
	BaudRate int
	SlaveID  byte

	Err error // nil means the transaction succeeded
	At  time.Time
}

// OK reports success.
func (e Event) OK() bool { return e.Err == nil }

// Operation is the log name of the event: the function code or the control op.
func (e Event) Operation() string {
	if e.Op != "" {
		return e.Op
	}
	return e.Function.String()
}

// CountOrValue is the quantity for reads and FC15, the coil value for FC05.
func (e Event) CountOrValue() uint16 {
	if e.Function == addrmap.WriteSingleCoil {
		if e.Value {
			return 1
		}
		return 0
	}
	return e.Count
}

func (tx Transaction) event(id string, src Source, cycle uint64) Event {
	return Event{
		ID:       id,
		Block:    tx.Block,
		Source:   src,
		Cycle:    cycle,
		Function: tx.Function,
		Address:  tx.Address,
		Count:    tx.Count,
		Value:    tx.Value,
		Expect:   tx.Expect,
	}
}

func readTransaction(b addrmap.Block) Transaction {
	return Transaction{
		Block:    b.Name,
		Function: b.Function,
		Address:  b.Start,
		Count:    b.Count,
	}
}

// Publisher receives every event. It must not block.
type Publisher interface {
	Publish(ev Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(Event) {}
