// internal/poller/runner.go
package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/tamzrod/hsc-probe/internal/addrmap"
)

// Run is the I/O context: the only goroutine that performs transactions.
// It processes one request at a time to completion. On return the line is
// closed and every queued request is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval.Load())
	defer ticker.Stop()

	klog.V(1).InfoS("Scheduler started", "interval", s.interval.Load(), "polling", s.polling.Load())

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return
		case d := <-s.reset:
			ticker.Reset(d)
		case <-ticker.C:
			if s.polling.Load() {
				s.enqueueTick()
			}
		case <-s.wake:
			s.drain(ctx)
		}
	}
}

func (s *Scheduler) drain(ctx context.Context) {
	for ctx.Err() == nil {
		r, ok := s.pop()
		if !ok {
			return
		}
		s.process(r)
	}
}

func (s *Scheduler) process(r *request) {
	switch r.kind {
	case kindTick:
		if !s.polling.Load() {
			return
		}
		if !s.client.Connected() {
			klog.V(4).InfoS("Poll tick skipped, not connected")
			return
		}
		s.runCycle()

	case kindJob:
		r.run(r.id)

	case kindConnect:
		if r.settled.Load() {
			return
		}
		conn, err := s.client.Connect(r.params)
		s.publish(Event{
			ID:       uuid.NewString(),
			Source:   SourceControl,
			Op:       OpConnect,
			Port:     r.params.Port,
			BaudRate: r.params.BaudRate,
			SlaveID:  r.params.SlaveID,
			Err:      err,
			At:       time.Now(),
		})
		if err != nil {
			klog.V(2).InfoS("Connect failed", "port", r.params.Port, "err", err)
		}
		if !r.settled.CAS(false, true) {
			// nobody is waiting for this line
			if err == nil {
				klog.V(2).InfoS("Connect abandoned by caller, closing line", "port", r.params.Port)
				_ = s.teardown()
			}
			return
		}
		r.done <- controlResult{conn: conn, err: err}

	case kindDisconnect:
		for _, d := range r.dropped {
			s.cancel(d, ErrCancelled)
		}
		r.done <- controlResult{err: s.teardown()}
	}
}

// runCycle reads every poll block in the fixed order. Queued one-shots are
// serviced at each transaction boundary; the cycle is abandoned there if
// polling was disabled or a connect/disconnect is waiting.
func (s *Scheduler) runCycle() {
	cycle := s.cycles.Inc()
	blocks := s.m.PollCycle()

	for i, b := range blocks {
		if i > 0 {
			for _, j := range s.popJobs() {
				j.run(j.id)
			}
			if !s.polling.Load() || s.controlPending() {
				klog.V(4).InfoS("Poll cycle abandoned", "cycle", cycle, "done", i, "total", len(blocks))
				return
			}
		}
		s.publish(s.execute(uuid.NewString(), SourcePoll, cycle, readTransaction(b)))
	}
}

// execute performs exactly one transaction. It never retries.
func (s *Scheduler) execute(id string, src Source, cycle uint64, tx Transaction) Event {
	ev := tx.event(id, src, cycle)

	switch tx.Function {
	case addrmap.ReadDiscreteInputs:
		ev.Bits, ev.Err = s.client.ReadDiscreteInputs(tx.Address, tx.Count)
	case addrmap.ReadCoils:
		ev.Bits, ev.Err = s.client.ReadCoils(tx.Address, tx.Count)
	case addrmap.ReadHoldingRegisters:
		ev.Registers, ev.Err = s.client.ReadHoldingRegisters(tx.Address, tx.Count)
	case addrmap.WriteSingleCoil:
		ev.Err = s.client.WriteSingleCoil(tx.Address, tx.Value)
	case addrmap.WriteMultipleCoils:
		ev.Bits = tx.Bits
		ev.Err = s.client.WriteMultipleCoils(tx.Address, tx.Bits)
	default:
		ev.Err = fmt.Errorf("%w: %s", ErrUnsupportedFunction, tx.Function)
	}
	ev.At = time.Now()

	if ev.Err != nil {
		klog.V(2).InfoS("Transaction failed", "id", id, "block", tx.Block, "fc", tx.Function, "addr", tx.Address, "source", src, "err", ev.Err)
	} else {
		klog.V(4).InfoS("Transaction done", "id", id, "block", tx.Block, "fc", tx.Function, "addr", tx.Address, "source", src)
	}
	return ev
}

func (s *Scheduler) cancel(r *request, err error) {
	ev := r.tx.event(r.id, SourceCommand, 0)
	ev.Err = err
	ev.At = time.Now()
	s.publish(ev)
}

func (s *Scheduler) teardown() error {
	conn, ok := s.client.Connection()
	if !ok {
		return nil
	}
	err := s.client.Disconnect()
	s.publish(Event{
		ID:       uuid.NewString(),
		Source:   SourceControl,
		Op:       OpDisconnect,
		Port:     conn.Port,
		BaudRate: conn.BaudRate,
		SlaveID:  conn.SlaveID,
		Err:      err,
		At:       time.Now(),
	})
	return err
}

func (s *Scheduler) shutdown() {
	s.polling.Store(false)

	s.mu.Lock()
	s.closed = true
	dropped := s.queue
	s.queue = nil
	s.tickQueued = false
	s.mu.Unlock()

	for _, r := range dropped {
		switch r.kind {
		case kindJob:
			s.cancel(r, ErrClosed)
		case kindDisconnect:
			for _, d := range r.dropped {
				s.cancel(d, ErrClosed)
			}
			r.done <- controlResult{err: ErrClosed}
		case kindConnect:
			r.done <- controlResult{err: ErrClosed}
		}
	}
	if err := s.teardown(); err != nil {
		klog.V(2).InfoS("Teardown failed", "err", err)
	}
	klog.V(1).InfoS("Scheduler stopped", "cycles", s.cycles.Load())
}

func (s *Scheduler) publish(ev Event) {
	s.pub.Publish(ev)
}
