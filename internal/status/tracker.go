// internal/status/tracker.go
package status

import (
	"context"
	"errors"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/tamzrod/hsc-probe/internal/poller"
	pmodbus "github.com/tamzrod/hsc-probe/internal/poller/modbus"
)

// Tracker folds the event stream into device health and the latest result
// per block. Seconds in error tick at 1 Hz while Error or Stale.
type Tracker struct {
	mu         sync.RWMutex
	snap       Snapshot
	latest     map[string]poller.Event
	connected  bool
	lastResult time.Time
	staleAfter time.Duration
	polling    func() (bool, time.Duration)
	now        func() time.Time
}

// StaleIntervals is the number of missed poll intervals after which a
// watched tracker reports Stale.
const StaleIntervals = 3

// NewTracker creates a tracker. staleAfter <= 0 disables stale detection.
func NewTracker(staleAfter time.Duration) *Tracker {
	return &Tracker{
		snap:       Snapshot{Health: HealthUnknown},
		latest:     make(map[string]poller.Event),
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// WatchPolling makes stale detection follow the live polling state: a
// tracker goes Stale only while polling is on, after StaleIntervals missed
// intervals. It replaces the fixed window given to NewTracker.
func (t *Tracker) WatchPolling(fn func() (bool, time.Duration)) {
	t.mu.Lock()
	t.polling = fn
	t.mu.Unlock()
}

// Snapshot returns the current health.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap
}

// Connected reports the line state seen on the stream.
func (t *Tracker) Connected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// Latest returns the most recent event per block.
func (t *Tracker) Latest() map[string]poller.Event {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]poller.Event, len(t.latest))
	for k, v := range t.latest {
		out[k] = v
	}
	return out
}

// Observe applies one event and reports whether the snapshot changed.
func (t *Tracker) Observe(ev poller.Event) (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.snap

	switch {
	case ev.Op == poller.OpConnect:
		if ev.Err != nil {
			// a refused second connect says nothing about the open line
			if t.connected || errors.Is(ev.Err, pmodbus.ErrAlreadyConnected) {
				break
			}
			t.setError(ErrorCode(ev.Err))
			break
		}
		t.connected = true
		t.lastResult = ev.At
		t.snap = Snapshot{Health: HealthUnknown}

	case ev.Op == poller.OpDisconnect:
		t.connected = false
		t.snap = Snapshot{Health: HealthDisabled}

	case errors.Is(ev.Err, poller.ErrCancelled), errors.Is(ev.Err, poller.ErrClosed):
		// never reached the line

	case errors.Is(ev.Err, pmodbus.ErrNotConnected):
		// local, not a device fault

	default:
		t.latest[ev.Block] = ev
		t.lastResult = ev.At
		if ev.Err == nil || Expected(ev) {
			t.setOK()
		} else {
			t.setError(ErrorCode(ev.Err))
		}
	}

	return t.snap, t.snap != prev
}

func (t *Tracker) setOK() {
	t.snap.Health = HealthOK
	t.snap.LastErrorCode = 0
	t.snap.SecondsInError = 0
}

func (t *Tracker) setError(code uint16) {
	t.snap.Health = HealthError
	t.snap.LastErrorCode = code
}

// Tick advances the 1 Hz counters and reports whether the snapshot changed.
func (t *Tracker) Tick() (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.snap

	// a fresh line that never answered goes stale as well
	if window := t.staleWindow(); window > 0 && t.connected &&
		(t.snap.Health == HealthOK || t.snap.Health == HealthUnknown) &&
		t.now().Sub(t.lastResult) > window {
		t.snap.Health = HealthStale
	}

	if t.snap.Health == HealthError || t.snap.Health == HealthStale {
		if t.snap.SecondsInError < MaxSecondsInError {
			t.snap.SecondsInError++
		}
	}

	return t.snap, t.snap != prev
}

func (t *Tracker) staleWindow() time.Duration {
	if t.polling == nil {
		return t.staleAfter
	}
	on, interval := t.polling()
	if !on {
		return 0
	}
	return StaleIntervals * interval
}

// Run consumes events until ctx is done or the stream closes.
// onChange, if set, receives every changed snapshot.
func (t *Tracker) Run(ctx context.Context, events <-chan poller.Event, onChange func(Snapshot)) {
	secTicker := time.NewTicker(time.Second)
	defer secTicker.Stop()

	notify := func(s Snapshot, changed bool) {
		if changed && onChange != nil {
			onChange(s)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s, changed := t.Observe(ev)
			if changed {
				klog.V(3).InfoS("Device health changed", "health", HealthText(s.Health), "code", s.LastErrorCode)
			}
			notify(s, changed)
		case <-secTicker.C:
			notify(t.Tick())
		}
	}
}

// Expected reports whether a failed event carries exactly the exception the
// address table documents for its target.
func Expected(ev poller.Event) bool {
	if ev.Expect == 0 {
		return false
	}
	code, ok := pmodbus.ExceptionCode(ev.Err)
	return ok && code == ev.Expect
}
