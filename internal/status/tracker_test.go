// internal/status/tracker_test.go
package status

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/hsc-probe/internal/poller"
	pmodbus "github.com/tamzrod/hsc-probe/internal/poller/modbus"
)

func connected(t *testing.T, tr *Tracker) {
	t.Helper()
	_, changed := tr.Observe(poller.Event{Op: poller.OpConnect, Source: poller.SourceControl, At: time.Now()})
	require.False(t, changed, "connect from boot keeps Unknown")
	require.True(t, tr.Connected())
}

func TestTracker_OKAndError(t *testing.T) {
	tr := NewTracker(0)
	connected(t, tr)

	s, changed := tr.Observe(poller.Event{Block: "onoff", At: time.Now()})
	assert.True(t, changed)
	assert.Equal(t, HealthOK, s.Health)

	s, changed = tr.Observe(poller.Event{
		Block: "door",
		Err:   &pmodbus.ModbusError{FunctionCode: 2, ExceptionCode: 4},
		At:    time.Now(),
	})
	assert.True(t, changed)
	assert.Equal(t, HealthError, s.Health)
	assert.Equal(t, uint16(4), s.LastErrorCode)

	latest := tr.Latest()
	assert.Len(t, latest, 2)
	assert.Error(t, latest["door"].Err)
}

func TestTracker_ExpectedExceptionIsOK(t *testing.T) {
	tr := NewTracker(0)
	connected(t, tr)

	ev := poller.Event{
		Block:  "invalid_899",
		Expect: 0x02,
		Err:    &pmodbus.ModbusError{FunctionCode: 5, ExceptionCode: 2},
		At:     time.Now(),
	}
	assert.True(t, Expected(ev))

	s, _ := tr.Observe(ev)
	assert.Equal(t, HealthOK, s.Health)

	ev.Err = &pmodbus.ModbusError{FunctionCode: 5, ExceptionCode: 3}
	assert.False(t, Expected(ev))
}

func TestTracker_IgnoresLocalErrors(t *testing.T) {
	tr := NewTracker(0)

	for _, err := range []error{poller.ErrCancelled, poller.ErrClosed, pmodbus.ErrNotConnected} {
		_, changed := tr.Observe(poller.Event{Block: "onoff", Err: err})
		assert.False(t, changed)
	}
	assert.Empty(t, tr.Latest())
	assert.Equal(t, HealthUnknown, tr.Snapshot().Health)
}

func TestTracker_SecondsInErrorCapped(t *testing.T) {
	tr := NewTracker(0)
	tr.Observe(poller.Event{Block: "onoff", Err: errors.New("serial: timeout")})
	assert.Equal(t, uint16(1), tr.Snapshot().LastErrorCode)

	tr.mu.Lock()
	tr.snap.SecondsInError = MaxSecondsInError - 1
	tr.mu.Unlock()

	s, changed := tr.Tick()
	assert.True(t, changed)
	assert.Equal(t, uint16(MaxSecondsInError), s.SecondsInError)

	_, changed = tr.Tick()
	assert.False(t, changed)

	// recovery resets the counter
	s, _ = tr.Observe(poller.Event{Block: "onoff"})
	assert.Equal(t, Snapshot{Health: HealthOK}, s)
}

func TestTracker_Stale(t *testing.T) {
	tr := NewTracker(2 * time.Second)
	now := time.Now()
	tr.now = func() time.Time { return now }

	connected(t, tr)
	tr.Observe(poller.Event{Block: "onoff", At: now})

	_, changed := tr.Tick()
	assert.False(t, changed)

	now = now.Add(3 * time.Second)
	s, changed := tr.Tick()
	assert.True(t, changed)
	assert.Equal(t, HealthStale, s.Health)
	assert.Equal(t, uint16(1), s.SecondsInError)
}

func TestTracker_StaleWithoutAnyResult(t *testing.T) {
	tr := NewTracker(2 * time.Second)
	now := time.Now()
	tr.now = func() time.Time { return now }

	_, changed := tr.Observe(poller.Event{Op: poller.OpConnect, Source: poller.SourceControl, At: now})
	require.False(t, changed)

	now = now.Add(time.Second)
	s, _ := tr.Tick()
	assert.Equal(t, HealthUnknown, s.Health)

	now = now.Add(2 * time.Second)
	s, changed = tr.Tick()
	assert.True(t, changed)
	assert.Equal(t, HealthStale, s.Health)
	assert.Equal(t, uint16(1), s.SecondsInError)
}

func TestTracker_StaleFollowsPolling(t *testing.T) {
	tr := NewTracker(0)
	now := time.Now()
	tr.now = func() time.Time { return now }

	on := false
	tr.WatchPolling(func() (bool, time.Duration) { return on, 500 * time.Millisecond })

	connected(t, tr)
	tr.Observe(poller.Event{Block: "onoff", At: now})

	// idle line with polling off never goes stale
	now = now.Add(10 * time.Second)
	s, _ := tr.Tick()
	assert.Equal(t, HealthOK, s.Health)

	on = true
	s, changed := tr.Tick()
	assert.True(t, changed)
	assert.Equal(t, HealthStale, s.Health)

	// a fresh result recovers
	s, _ = tr.Observe(poller.Event{Block: "door", At: now})
	assert.Equal(t, HealthOK, s.Health)
	_, changed = tr.Tick()
	assert.False(t, changed)
}

func TestTracker_RefusedConnectKeepsHealth(t *testing.T) {
	tr := NewTracker(0)
	connected(t, tr)
	tr.Observe(poller.Event{Block: "onoff", At: time.Now()})

	s, changed := tr.Observe(poller.Event{
		Op:     poller.OpConnect,
		Source: poller.SourceControl,
		Err:    &pmodbus.ConnectError{Port: "COM1", Err: pmodbus.ErrAlreadyConnected},
		At:     time.Now(),
	})
	assert.False(t, changed)
	assert.Equal(t, HealthOK, s.Health)
	assert.Equal(t, uint16(0), s.LastErrorCode)
	assert.True(t, tr.Connected())
}

func TestTracker_FailedFirstConnectIsError(t *testing.T) {
	tr := NewTracker(0)

	s, changed := tr.Observe(poller.Event{
		Op:     poller.OpConnect,
		Source: poller.SourceControl,
		Err:    &pmodbus.ConnectError{Port: "COM9", Err: errors.New("no such port")},
		At:     time.Now(),
	})
	assert.True(t, changed)
	assert.Equal(t, HealthError, s.Health)
	assert.False(t, tr.Connected())
}

func TestTracker_Disconnect(t *testing.T) {
	tr := NewTracker(0)
	connected(t, tr)
	tr.Observe(poller.Event{Block: "onoff", Err: errors.New("boom")})

	s, changed := tr.Observe(poller.Event{Op: poller.OpDisconnect, Source: poller.SourceControl})
	assert.True(t, changed)
	assert.Equal(t, Snapshot{Health: HealthDisabled}, s)
	assert.False(t, tr.Connected())

	s, _ = tr.Tick()
	assert.Equal(t, uint16(0), s.SecondsInError)
}

func TestTracker_RunNotifiesChanges(t *testing.T) {
	tr := NewTracker(0)
	events := make(chan poller.Event, 4)
	got := make(chan Snapshot, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Run(ctx, events, func(s Snapshot) { got <- s })

	events <- poller.Event{Block: "onoff"}
	events <- poller.Event{Block: "door"}

	select {
	case s := <-got:
		assert.Equal(t, HealthOK, s.Health)
	case <-time.After(time.Second):
		t.Fatal("no notification")
	}

	// second OK changes nothing
	select {
	case s := <-got:
		t.Fatalf("unexpected notification %+v", s)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, uint16(0), ErrorCode(nil))
	assert.Equal(t, uint16(1), ErrorCode(errors.New("x")))
	assert.Equal(t, uint16(2), ErrorCode(&pmodbus.ModbusError{ExceptionCode: 2}))
}

func TestEncode(t *testing.T) {
	regs := Encode(Snapshot{Health: HealthError, LastErrorCode: 2, SecondsInError: 9}, "MAIN")
	require.Len(t, regs, SlotsPerDevice)
	assert.Equal(t, HealthError, regs[SlotHealthCode])
	assert.Equal(t, uint16(2), regs[SlotLastErrorCode])
	assert.Equal(t, uint16(9), regs[SlotSecondsInError])
	assert.Equal(t, uint16('M')<<8|uint16('A'), regs[SlotDeviceNameStart])
	assert.Equal(t, uint16('I')<<8|uint16('N'), regs[SlotDeviceNameStart+1])
	assert.Equal(t, uint16(0), regs[SlotDeviceNameStart+2])

	name := EncodeDeviceName("A\x01")
	assert.Equal(t, uint16('A')<<8|uint16('?'), name[0])
}
