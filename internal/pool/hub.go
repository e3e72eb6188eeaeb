package pool

import (
	"context"
	"log"
	"sync"

	"github.com/smash0190/endlesspool/internal/events"
)

// StatusUpdate is what observers receive on every accepted broadcast:
// the derived status plus whether a workout is currently being recorded.
type StatusUpdate struct {
	Status    DerivedStatus `json:"status"`
	Recording bool          `json:"recording"`
}

// Session is one connected observer. It carries the id of the user who
// last asserted control over it; the hub keeps no other cross-session
// state. The tag exists purely so the workout recorder can attribute
// sessions, the hub performs no authorization.
type Session struct {
	id uint64
	ch chan StatusUpdate

	mu     sync.RWMutex
	userID string
}

// Updates is the channel status updates are delivered on. Delivery is
// best-effort: a session that does not drain its channel misses
// updates instead of delaying anyone else.
func (s *Session) Updates() <-chan StatusUpdate {
	return s.ch
}

// SetUser tags the session with the acting user.
func (s *Session) SetUser(userID string) {
	s.mu.Lock()
	s.userID = userID
	s.mu.Unlock()
}

// User returns the session's user tag, or "" when none was set.
func (s *Session) User() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// Hub fans the latest derived status out to any number of observer
// sessions and routes their commands back to the device link.
type Hub struct {
	link     DeviceLink
	recorder *Recorder
	logger   *log.Logger

	mu       sync.RWMutex
	sessions map[uint64]*Session
	nextID   uint64

	statusChan chan DerivedStatus
	unlisten   func()
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	once       sync.Once
}

// NewHub creates a Hub and starts its fan-out goroutine.
func NewHub(link DeviceLink, recorder *Recorder, logger *log.Logger) *Hub {
	if link == nil {
		panic("Hub: link cannot be nil")
	}
	if recorder == nil {
		panic("Hub: recorder cannot be nil")
	}
	if logger == nil {
		panic("Hub: logger cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		link:       link,
		recorder:   recorder,
		logger:     logger,
		sessions:   make(map[uint64]*Session),
		statusChan: make(chan DerivedStatus, 8),
		cancel:     cancel,
	}
	h.unlisten = link.ListenToStatus(h.statusChan)

	h.wg.Add(1)
	events.SafeGo(logger, func() { h.fanOutLoop(ctx) })

	return h
}

// Subscribe registers a new observer session. The returned function
// unsubscribes it; after unsubscribing the session's channel is never
// sent to again.
func (h *Hub) Subscribe() (*Session, func()) {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	sess := &Session{id: id, ch: make(chan StatusUpdate, 4)}
	h.sessions[id] = sess
	count := len(h.sessions)
	h.mu.Unlock()

	h.logger.Printf("Hub: session %d subscribed (%d active)", id, count)

	return sess, func() {
		h.mu.Lock()
		delete(h.sessions, id)
		count := len(h.sessions)
		h.mu.Unlock()
		h.logger.Printf("Hub: session %d unsubscribed (%d active)", id, count)
	}
}

// Latest returns the most recent status snapshot paired with the
// current recording flag; ok is false before the first broadcast.
func (h *Hub) Latest() (StatusUpdate, bool) {
	status, ok := h.link.Latest()
	if !ok {
		return StatusUpdate{}, false
	}
	return StatusUpdate{Status: status, Recording: h.recorder.Recording()}, true
}

// SessionCount reports the number of subscribed sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// HandleCommand forwards an observer's command to the device link,
// tagging the recorder with the session's user so recorded workouts are
// attributed correctly.
func (h *Hub) HandleCommand(sess *Session, cmd Command) error {
	if user := sess.User(); user != "" {
		h.recorder.SetUser(user)
	}
	h.logger.Printf("Hub: session %d issued %s", sess.id, cmd)
	return h.link.SendCommand(cmd)
}

// Publish pushes an update to every session without blocking on any of
// them. Invoked once per accepted status snapshot by the fan-out loop;
// exported so tests can drive the hub directly.
func (h *Hub) Publish(update StatusUpdate) {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for _, sess := range h.sessions {
		targets = append(targets, sess)
	}
	h.mu.RUnlock()

	for _, sess := range targets {
		select {
		case sess.ch <- update:
		default:
			// Slow observer, skip. The next update supersedes this one.
		}
	}
}

// Shutdown stops the fan-out loop. Safe to call multiple times.
func (h *Hub) Shutdown() {
	h.once.Do(func() {
		h.logger.Printf("Hub: shutting down")
		h.unlisten()
		h.cancel()
		h.wg.Wait()
		h.logger.Printf("Hub: shutdown complete")
	})
}

// fanOutLoop feeds the recorder and publishes every accepted snapshot.
// Recorder update happens first so the recording flag observers see is
// already consistent with the frame that produced it.
func (h *Hub) fanOutLoop(ctx context.Context) {
	defer h.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case status := <-h.statusChan:
			h.recorder.Update(status)
			h.Publish(StatusUpdate{Status: status, Recording: h.recorder.Recording()})
		}
	}
}
