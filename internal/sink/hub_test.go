// internal/sink/hub_test.go
package sink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/hsc-probe/internal/poller"
)

func TestPublishWithoutSubscribersDrops(t *testing.T) {
	h := NewHub()
	h.Publish(poller.Event{Block: "onoff"})

	assert.Equal(t, uint64(1), h.Published())
	assert.Equal(t, uint64(0), h.Dropped())
	assert.Equal(t, 0, h.Subscribers())
}

func TestFanOut(t *testing.T) {
	h := NewHub()
	a := h.Subscribe(4)
	b := h.Subscribe(4)
	defer a.Close()
	defer b.Close()

	h.Publish(poller.Event{Block: "door"})

	evA := <-a.C()
	evB := <-b.C()
	assert.Equal(t, "door", evA.Block)
	assert.Equal(t, "door", evB.Block)
}

func TestFullSubscriberNeverBlocks(t *testing.T) {
	h := NewHub()
	slow := h.Subscribe(1)
	fast := h.Subscribe(8)
	defer slow.Close()
	defer fast.Close()

	for i := 0; i < 3; i++ {
		h.Publish(poller.Event{Cycle: uint64(i)})
	}

	assert.Equal(t, uint64(2), h.Dropped())
	assert.Len(t, fast.C(), 3)

	ev := <-slow.C()
	assert.Equal(t, uint64(0), ev.Cycle)
}

func TestCloseDetaches(t *testing.T) {
	h := NewHub()
	s := h.Subscribe(1)
	s.Close()
	s.Close()

	_, ok := <-s.C()
	require.False(t, ok)
	assert.Equal(t, 0, h.Subscribers())

	h.Publish(poller.Event{})
	assert.Equal(t, uint64(0), h.Dropped())
}

func TestConsume(t *testing.T) {
	h := NewHub()
	s := h.Subscribe(4)

	h.Publish(poller.Event{Block: "a"})
	h.Publish(poller.Event{Block: "b"})
	s.Close()

	var got []string
	Consume(s, func(ev poller.Event) { got = append(got, ev.Block) })
	assert.Equal(t, []string{"a", "b"}, got)
}
