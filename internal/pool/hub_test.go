package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T) (*Hub, *mockLink, *Recorder, *memWorkoutStore) {
	t.Helper()
	link := newMockLink()
	store := &memWorkoutStore{}
	rec := NewRecorder(store, testLogger())
	hub := NewHub(link, rec, testLogger())
	t.Cleanup(hub.Shutdown)
	return hub, link, rec, store
}

func TestHubFansOutStatus(t *testing.T) {
	hub, link, _, _ := newTestHub(t)

	sess1, cancel1 := hub.Subscribe()
	defer cancel1()
	sess2, cancel2 := hub.Subscribe()
	defer cancel2()
	assert.Equal(t, 2, hub.SessionCount())

	link.push(deviceStatus(true, 120, 120, 480))

	for _, sess := range []*Session{sess1, sess2} {
		select {
		case update := <-sess.Updates():
			assert.Equal(t, StateRunning, update.Status.State)
			assert.False(t, update.Recording)
		case <-time.After(time.Second):
			t.Fatal("session never received the update")
		}
	}
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	hub, link, _, _ := newTestHub(t)

	sess, cancel := hub.Subscribe()
	cancel()
	assert.Equal(t, 0, hub.SessionCount())

	link.push(deviceStatus(true, 120, 120, 480))
	time.Sleep(50 * time.Millisecond)

	select {
	case <-sess.Updates():
		t.Fatal("unsubscribed session still received an update")
	default:
	}
}

func TestHubSlowObserverDoesNotBlock(t *testing.T) {
	hub, link, _, _ := newTestHub(t)

	slow, cancelSlow := hub.Subscribe()
	defer cancelSlow()
	fast, cancelFast := hub.Subscribe()
	defer cancelFast()

	// More updates than the session buffer holds; the slow session
	// drops the overflow, the draining session sees everything.
	received := 0
	for i := 0; i < 10; i++ {
		link.push(deviceStatus(true, 120, 120, 480-i))
	drain:
		for {
			select {
			case <-fast.Updates():
				received++
			case <-time.After(50 * time.Millisecond):
				break drain
			}
		}
	}

	assert.Equal(t, 10, received)
	assert.LessOrEqual(t, len(slow.Updates()), 4)
}

func TestHubCommandRoutedToLink(t *testing.T) {
	hub, link, _, _ := newTestHub(t)

	sess, cancel := hub.Subscribe()
	defer cancel()

	cmd, err := NewCommand(CmdSpeed, 130)
	require.NoError(t, err)
	require.NoError(t, hub.HandleCommand(sess, cmd))

	sent := link.sentCommands()
	require.Len(t, sent, 1)
	assert.Equal(t, CmdSpeed, sent[0].Op())
	assert.Equal(t, 130, sent[0].Value())
}

func TestHubCommandTagsRecorderWithSessionUser(t *testing.T) {
	hub, link, rec, store := newTestHub(t)

	sess, cancel := hub.Subscribe()
	defer cancel()
	sess.SetUser("u1")

	clock := &recorderClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	rec.now = func() time.Time { return clock.now }

	start, err := NewCommand(CmdStart, 0)
	require.NoError(t, err)
	require.NoError(t, hub.HandleCommand(sess, start))

	// The pool starts, swims a minute, stops; the workout that results
	// belongs to u1.
	link.push(recorderStatus(true, 120, 0))
	waitUpdate(t, sess)
	require.True(t, rec.Recording())

	clock.advance(time.Minute)
	link.push(recorderStatus(false, 0, 50))
	waitUpdate(t, sess)

	done := rec.Finalize()
	require.NotNil(t, done)
	assert.Equal(t, "u1", done.UserID)
	require.Len(t, store.all(), 1)
}

func waitUpdate(t *testing.T, sess *Session) {
	t.Helper()
	select {
	case <-sess.Updates():
	case <-time.After(time.Second):
		t.Fatal("session never received the update")
	}
}

func TestHubReportsRecordingFlag(t *testing.T) {
	hub, link, rec, _ := newTestHub(t)

	rec.SetUser("u1")
	sess, cancel := hub.Subscribe()
	defer cancel()

	link.push(deviceStatus(true, 120, 120, 480))

	select {
	case update := <-sess.Updates():
		assert.True(t, update.Recording, "recorder update must precede fan-out")
	case <-time.After(time.Second):
		t.Fatal("session never received the update")
	}
}

func TestHubLatest(t *testing.T) {
	hub, link, _, _ := newTestHub(t)

	_, ok := hub.Latest()
	assert.False(t, ok)

	link.push(deviceStatus(true, 120, 120, 480))
	update, ok := hub.Latest()
	require.True(t, ok)
	assert.Equal(t, StateRunning, update.Status.State)
}
