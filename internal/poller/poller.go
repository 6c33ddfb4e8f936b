// internal/poller/poller.go
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"k8s.io/klog/v2"

	"github.com/tamzrod/hsc-probe/internal/addrmap"
	pmodbus "github.com/tamzrod/hsc-probe/internal/poller/modbus"
)

// Client abstracts the Modbus operations the scheduler needs.
// Only the I/O context calls it.
type Client interface {
	Connect(p pmodbus.Params) (pmodbus.Connection, error)
	Disconnect() error
	Connected() bool
	Connection() (pmodbus.Connection, bool)

	ReadCoils(addr, qty uint16) ([]bool, error)              // FC 1
	ReadDiscreteInputs(addr, qty uint16) ([]bool, error)     // FC 2
	ReadHoldingRegisters(addr, qty uint16) ([]uint16, error) // FC 3
	WriteSingleCoil(addr uint16, value bool) error           // FC 5
	WriteMultipleCoils(addr uint16, bits []bool) error       // FC 15
}

// Config is the minimal runtime config the scheduler needs.
type Config struct {
	Map      *addrmap.Map
	Interval time.Duration
	Polling  bool
}

// Scheduler serializes every device transaction through one I/O context.
// Control methods only enqueue; outcomes arrive on the Publisher.
type Scheduler struct {
	m      *addrmap.Map
	client Client
	pub    Publisher

	polling  atomic.Bool
	interval atomic.Duration
	cycles   atomic.Uint64
	reset    chan time.Duration

	mu         sync.Mutex
	queue      []*request
	tickQueued bool
	closed     bool
	wake       chan struct{}
}

// New creates a scheduler. Run must be started for anything to happen.
func New(cfg Config, client Client, pub Publisher) (*Scheduler, error) {
	if cfg.Map == nil {
		return nil, errors.New("poller: address map required")
	}
	if client == nil {
		return nil, errors.New("poller: client required")
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	if err := checkInterval(cfg.Interval); err != nil {
		return nil, err
	}
	if pub == nil {
		pub = nopPublisher{}
	}

	s := &Scheduler{
		m:      cfg.Map,
		client: client,
		pub:    pub,
		reset:  make(chan time.Duration, 1),
		wake:   make(chan struct{}, 1),
	}
	s.interval.Store(cfg.Interval)
	s.polling.Store(cfg.Polling)
	return s, nil
}

func checkInterval(d time.Duration) error {
	if d < MinInterval || d > MaxInterval {
		return fmt.Errorf("%w: %v not in %v-%v", ErrIntervalRange, d, MinInterval, MaxInterval)
	}
	return nil
}

// Map returns the address table the scheduler resolves names against.
func (s *Scheduler) Map() *addrmap.Map { return s.m }

// Connection returns the open connection, if any.
func (s *Scheduler) Connection() (pmodbus.Connection, bool) {
	return s.client.Connection()
}

// Polling returns the current polling state.
func (s *Scheduler) Polling() (bool, time.Duration) {
	return s.polling.Load(), s.interval.Load()
}

// Cycles returns the number of poll cycles started so far.
func (s *Scheduler) Cycles() uint64 {
	return s.cycles.Load()
}

// SetPolling enables or disables polling. A zero interval keeps the current
// one. Disabling drops a queued tick but never aborts the in-flight
// transaction.
func (s *Scheduler) SetPolling(enabled bool, interval time.Duration) error {
	if interval != 0 {
		if err := checkInterval(interval); err != nil {
			return err
		}
		if s.interval.Swap(interval) != interval {
			s.resetTicker(interval)
		}
	}

	s.polling.Store(enabled)
	if !enabled {
		s.mu.Lock()
		s.dropTickLocked()
		s.mu.Unlock()
	}

	klog.V(1).InfoS("Polling updated", "enabled", enabled, "interval", s.interval.Load())
	return nil
}

func (s *Scheduler) resetTicker(d time.Duration) {
	for {
		select {
		case s.reset <- d:
			return
		default:
		}
		select {
		case <-s.reset:
		default:
		}
	}
}

// ---- one-shots ----

// ReadBlock queues a single read of a named block and returns its
// transaction ID. The result arrives on the Publisher.
func (s *Scheduler) ReadBlock(name string) (string, error) {
	b, err := s.m.Block(name)
	if err != nil {
		return "", err
	}
	tx := readTransaction(b)
	return s.enqueueJob(tx, func(id string) {
		s.publish(s.execute(id, SourceCommand, 0, tx))
	})
}

// WriteCoil queues a single-coil write. nameOrAddr is a coil name, a wire
// address or 1xNNNN notation.
func (s *Scheduler) WriteCoil(nameOrAddr string, value bool) (string, error) {
	c, err := s.m.ResolveCoil(nameOrAddr)
	if err != nil {
		return "", err
	}
	tx := Transaction{
		Block:    c.Name,
		Function: addrmap.WriteSingleCoil,
		Address:  c.Address,
		Count:    1,
		Value:    value,
		Expect:   c.ExpectException,
	}
	return s.enqueueJob(tx, func(id string) {
		s.publish(s.execute(id, SourceCommand, 0, tx))
	})
}

// ToggleOutput flips one MAIN board output. The read of the coil bitmap and
// the write-back run as one job, so nothing interleaves between them.
func (s *Scheduler) ToggleOutput(index int) (string, error) {
	b, err := s.m.Block(addrmap.BlockMainCoils)
	if err != nil {
		return "", err
	}
	if index < 0 || index >= int(b.Count) {
		return "", fmt.Errorf("%w: %d not in 0-%d", ErrOutputRange, index, b.Count-1)
	}

	read := readTransaction(b)
	return s.enqueueJob(read, func(id string) {
		ev := s.execute(id, SourceCommand, 0, read)
		s.publish(ev)
		if ev.Err != nil {
			return
		}

		bits := append([]bool(nil), ev.Bits...)
		bits[index] = !bits[index]
		s.publish(s.execute(id, SourceCommand, 0, Transaction{
			Block:    b.Name,
			Function: addrmap.WriteMultipleCoils,
			Address:  b.Start,
			Count:    b.Count,
			Bits:     bits,
		}))
	})
}

// ---- connection control ----

// Connect opens the line from the I/O context and waits for the outcome.
func (s *Scheduler) Connect(ctx context.Context, p pmodbus.Params) (pmodbus.Connection, error) {
	r := &request{kind: kindConnect, params: p, done: make(chan controlResult, 1)}
	if err := s.enqueue(r); err != nil {
		return pmodbus.Connection{}, err
	}
	select {
	case res := <-r.done:
		return res.conn, res.err
	case <-ctx.Done():
		if r.settled.CAS(false, true) {
			return pmodbus.Connection{}, ctx.Err()
		}
		// the I/O context got there first; its answer is on the way
		res := <-r.done
		return res.conn, res.err
	}
}

// Disconnect stops polling, cancels everything queued and waits, bounded by
// ctx, for the in-flight transaction to finish before the line is released.
func (s *Scheduler) Disconnect(ctx context.Context) error {
	s.polling.Store(false)

	r := &request{kind: kindDisconnect, done: make(chan controlResult, 1)}

	// one-shots are reported from the I/O context, waiters are released now
	var waiters []chan controlResult

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	for _, d := range s.queue {
		switch d.kind {
		case kindJob:
			r.dropped = append(r.dropped, d)
		case kindDisconnect:
			r.dropped = append(r.dropped, d.dropped...)
			waiters = append(waiters, d.done)
		case kindConnect:
			waiters = append(waiters, d.done)
		}
	}
	s.queue = []*request{r}
	s.tickQueued = false
	s.mu.Unlock()

	for _, w := range waiters {
		w <- controlResult{err: ErrCancelled}
	}
	s.signal()

	select {
	case res := <-r.done:
		return res.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ---- queue ----

type kind int

const (
	kindTick kind = iota
	kindJob
	kindConnect
	kindDisconnect
)

type controlResult struct {
	conn pmodbus.Connection
	err  error
}

type request struct {
	kind kind

	// kindJob
	id  string
	tx  Transaction
	run func(id string)

	// kindConnect / kindDisconnect
	params pmodbus.Params
	done   chan controlResult
	// set once by whichever side finishes first: the caller giving up
	// or the I/O context delivering the result
	settled atomic.Bool

	// kindDisconnect: one-shots cancelled by it
	dropped []*request
}

func (s *Scheduler) enqueueJob(tx Transaction, run func(id string)) (string, error) {
	r := &request{kind: kindJob, id: uuid.NewString(), tx: tx, run: run}
	if err := s.enqueue(r); err != nil {
		return "", err
	}
	return r.id, nil
}

func (s *Scheduler) enqueue(r *request) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.queue = append(s.queue, r)
	s.mu.Unlock()
	s.signal()
	return nil
}

// enqueueTick queues a poll tick unless one is already waiting.
func (s *Scheduler) enqueueTick() {
	s.mu.Lock()
	if s.closed || s.tickQueued {
		s.mu.Unlock()
		return
	}
	s.tickQueued = true
	s.queue = append(s.queue, &request{kind: kindTick})
	s.mu.Unlock()
	s.signal()
}

func (s *Scheduler) dropTickLocked() {
	if !s.tickQueued {
		return
	}
	for i, r := range s.queue {
		if r.kind == kindTick {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			break
		}
	}
	s.tickQueued = false
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) pop() (*request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, false
	}
	r := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	if r.kind == kindTick {
		s.tickQueued = false
	}
	return r, true
}

// popJobs removes the one-shots at the head of the queue, stopping at the
// first request of any other kind.
func (s *Scheduler) popJobs() []*request {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for n < len(s.queue) && s.queue[n].kind == kindJob {
		n++
	}
	if n == 0 {
		return nil
	}
	jobs := make([]*request, n)
	copy(jobs, s.queue[:n])
	s.queue = s.queue[n:]
	return jobs
}

func (s *Scheduler) controlPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.queue {
		if r.kind == kindConnect || r.kind == kindDisconnect {
			return true
		}
	}
	return false
}
