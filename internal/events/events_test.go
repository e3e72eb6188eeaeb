package events

import (
	"log"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelEventListenNotify(t *testing.T) {
	event := NewChannelEvent[string](false)

	ch := make(chan string, 10)
	unregister := event.Listen(ch)
	assert.Equal(t, 1, event.ListenerCount())

	event.Notify("one")
	event.Notify("two")

	received := make([]string, 0, 2)
	for len(received) < 2 {
		select {
		case v := <-ch:
			received = append(received, v)
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for events")
		}
	}
	assert.Equal(t, []string{"one", "two"}, received)

	unregister()
	assert.Equal(t, 0, event.ListenerCount())

	event.Notify("three")
	select {
	case v := <-ch:
		t.Errorf("unexpected value after unregister: %s", v)
	default:
	}
}

func TestChannelEventNonBlockingSend(t *testing.T) {
	event := NewChannelEvent[int](false)

	full := make(chan int) // no buffer, nobody reading
	event.Listen(full)

	done := make(chan struct{})
	go func() {
		event.Notify(1)
		event.Notify(2)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a full listener channel")
	}
}

func TestChannelEventReplayLast(t *testing.T) {
	event := NewChannelEvent[int](true)
	event.Notify(42)

	ch := make(chan int, 1)
	event.Listen(ch)

	select {
	case v := <-ch:
		assert.Equal(t, 42, v)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("late listener never received the replayed value")
	}
}

func TestChannelEventNoReplayWithoutFlag(t *testing.T) {
	event := NewChannelEvent[int](false)
	event.Notify(42)

	ch := make(chan int, 1)
	event.Listen(ch)

	select {
	case v := <-ch:
		t.Errorf("unexpected replay %d on non-replaying event", v)
	default:
	}
}

func TestChannelEventNilChannelPanics(t *testing.T) {
	event := NewChannelEvent[int](false)
	assert.Panics(t, func() { event.Listen(nil) })
}

func TestCallbackEventListenNotify(t *testing.T) {
	event := NewCallbackEvent[int](false)

	var sum atomic.Int64
	unregister := event.Listen(func(v int) { sum.Add(int64(v)) })
	require.Equal(t, 1, event.ListenerCount())

	event.Notify(1)
	event.Notify(2)
	assert.Equal(t, int64(3), sum.Load())

	unregister()
	event.Notify(10)
	assert.Equal(t, int64(3), sum.Load())
}

func TestCallbackEventReplayLast(t *testing.T) {
	event := NewCallbackEvent[string](true)
	event.Notify("latest")

	var got string
	event.Listen(func(v string) { got = v })
	assert.Equal(t, "latest", got)
}

func TestSafeGoRunsFunction(t *testing.T) {
	logger := log.New(os.Stderr, "", 0)

	done := make(chan struct{})
	SafeGo(logger, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SafeGo never ran the function")
	}
}
