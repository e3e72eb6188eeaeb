package pool

import (
	"errors"
	"sync"
	"time"

	"github.com/smash0190/endlesspool/internal/events"
	"github.com/smash0190/endlesspool/internal/protocol"
)

// mockLink stands in for the UDP link: it records sent commands and
// lets tests inject status snapshots.
type mockLink struct {
	mu     sync.Mutex
	sent   []Command
	latest DerivedStatus
	has    bool

	statusEvent *events.ChannelEvent[DerivedStatus]
	sendErr     error
}

var _ DeviceLink = (*mockLink)(nil)

func newMockLink() *mockLink {
	return &mockLink{statusEvent: events.NewChannelEvent[DerivedStatus](false)}
}

func (m *mockLink) SendCommand(cmd Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, cmd)
	return nil
}

func (m *mockLink) Latest() (DerivedStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest, m.has
}

func (m *mockLink) ListenToStatus(ch chan<- DerivedStatus) func() {
	return m.statusEvent.Listen(ch)
}

// push injects a status snapshot as if a broadcast had arrived.
func (m *mockLink) push(status DerivedStatus) {
	m.mu.Lock()
	m.latest = status
	m.has = true
	m.mu.Unlock()
	m.statusEvent.Notify(status)
}

func (m *mockLink) sentCommands() []Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Command, len(m.sent))
	copy(out, m.sent)
	return out
}

// deviceStatus builds a DerivedStatus the way the link would from a
// broadcast with the given run flag, speeds, and remaining timer.
func deviceStatus(running bool, current, target, remaining int) DerivedStatus {
	frame := protocol.StatusFrame{
		IsRunning:      running,
		CurrentSpeed:   current,
		TargetSpeed:    target,
		SpeedParam:     target,
		RemainingTimer: remaining,
	}
	return NewDerivedStatus(&frame, StateIdle, time.Now())
}

// memWorkoutStore is an in-memory WorkoutStore for recorder and hub
// tests.
type memWorkoutStore struct {
	mu       sync.Mutex
	workouts []Workout
}

var _ WorkoutStore = (*memWorkoutStore)(nil)

var errNotFound = errors.New("not found")

func (s *memWorkoutStore) Append(w Workout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workouts = append(s.workouts, w)
	return nil
}

func (s *memWorkoutStore) List(userID string) ([]Workout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Workout
	for _, w := range s.workouts {
		if w.UserID == userID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (s *memWorkoutStore) Get(userID, workoutID string) (Workout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.workouts {
		if w.UserID == userID && w.ID == workoutID {
			return w, nil
		}
	}
	return Workout{}, errNotFound
}

func (s *memWorkoutStore) Delete(userID, workoutID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range s.workouts {
		if w.UserID == userID && w.ID == workoutID {
			s.workouts = append(s.workouts[:i], s.workouts[i+1:]...)
			return nil
		}
	}
	return errNotFound
}

func (s *memWorkoutStore) all() []Workout {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Workout, len(s.workouts))
	copy(out, s.workouts)
	return out
}
