package pool

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"math"
	"sync"
	"time"
)

// autoFinalizeAfter is how long the pool must stay stopped before a
// recording is finalized automatically. Speed changes briefly stop the
// pool for ~2s, so the threshold has to be comfortably above that to
// tell a real stop (timer expiry, stop from another app) from a
// transient speed-change pause.
const autoFinalizeAfter = 5 * time.Second

// Recorder builds workout records from the status stream. Whenever the
// pool starts running with an active user set, recording begins; a
// mid-swim speed change splits the current interval; a sustained stop
// finalizes the workout into the store.
type Recorder struct {
	store  WorkoutStore
	logger *log.Logger
	now    func() time.Time

	mu                sync.Mutex
	userID            string
	recording         bool
	workout           *Workout
	intervalStart     time.Time
	intervalDistStart float64
	lastSpeedParam    int
	wasRunning        bool
	stoppedAt         time.Time
}

// NewRecorder creates a Recorder appending finished workouts to store.
func NewRecorder(store WorkoutStore, logger *log.Logger) *Recorder {
	if store == nil {
		panic("Recorder: store cannot be nil")
	}
	if logger == nil {
		panic("Recorder: logger cannot be nil")
	}
	return &Recorder{store: store, logger: logger, now: time.Now}
}

// SetUser sets the user the next recorded workout is attributed to.
func (rec *Recorder) SetUser(userID string) {
	rec.mu.Lock()
	rec.userID = userID
	rec.mu.Unlock()
	rec.logger.Printf("Recorder: active user set to %s", userID)
}

// Recording reports whether a workout is currently being recorded.
func (rec *Recorder) Recording() bool {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.recording
}

// Update consumes one accepted status snapshot. It manages the
// recording lifecycle, including auto-finalizing after the pool has
// been stopped long enough.
func (rec *Recorder) Update(status DerivedStatus) {
	frame := status.Frame
	now := rec.now()

	rec.mu.Lock()

	switch {
	case frame.IsRunning && !rec.wasRunning:
		rec.onStart(frame.TotalDistance, frame.SpeedParam, now)
		rec.stoppedAt = time.Time{}
	case !frame.IsRunning && rec.wasRunning:
		if rec.recording {
			rec.finishInterval(frame.TotalDistance, now)
		}
		rec.stoppedAt = now
	case frame.IsRunning && rec.recording:
		rec.stoppedAt = time.Time{}
		// A mid-swim speed change closes the current interval and
		// opens a new one at the new pace.
		if frame.SpeedParam != rec.lastSpeedParam && rec.lastSpeedParam != 0 {
			rec.finishInterval(frame.TotalDistance, now)
			rec.startInterval(frame.TotalDistance, frame.SpeedParam, now)
		}
	}
	rec.wasRunning = frame.IsRunning

	var done *Workout
	if rec.recording && !rec.stoppedAt.IsZero() && now.Sub(rec.stoppedAt) > autoFinalizeAfter {
		done = rec.finalizeLocked()
	}
	rec.mu.Unlock()

	if done != nil {
		rec.save(done)
	}
}

// Finalize finishes the current recording immediately and stores it.
// Returns the finished workout, or nil when nothing was recorded.
func (rec *Recorder) Finalize() *Workout {
	rec.mu.Lock()
	done := rec.finalizeLocked()
	rec.mu.Unlock()

	if done != nil {
		rec.save(done)
	}
	return done
}

func (rec *Recorder) onStart(totalDist float64, speedParam int, now time.Time) {
	if rec.userID == "" {
		return
	}
	if !rec.recording {
		rec.workout = &Workout{
			ID:        newID(),
			UserID:    rec.userID,
			StartTime: now.UTC(),
		}
		rec.recording = true
		rec.logger.Printf("Recorder: started workout %s for user %s", rec.workout.ID, rec.userID)
	}
	rec.startInterval(totalDist, speedParam, now)
}

func (rec *Recorder) startInterval(totalDist float64, speedParam int, now time.Time) {
	rec.intervalStart = now
	rec.intervalDistStart = totalDist
	rec.lastSpeedParam = speedParam
}

func (rec *Recorder) finishInterval(totalDist float64, now time.Time) {
	if rec.intervalStart.IsZero() || rec.workout == nil {
		return
	}

	duration := int(now.Sub(rec.intervalStart).Seconds())
	distance := totalDist - rec.intervalDistStart
	if distance < 0 {
		distance = 0
	}

	if duration > 0 {
		interval := WorkoutInterval{
			StartTime:  rec.intervalStart.UTC(),
			Duration:   duration,
			Distance:   round1(distance),
			SpeedParam: rec.lastSpeedParam,
			Type:       "swim",
		}
		if distance > 0 {
			interval.AvgPace = round1(100 / (distance / float64(duration)))
		}
		rec.workout.Intervals = append(rec.workout.Intervals, interval)
		rec.workout.TotalDistance = round1(rec.workout.TotalDistance + distance)
		rec.workout.TotalTime += duration
	}

	rec.intervalStart = time.Time{}
}

// finalizeLocked ends the recording. MUST be called with mu held.
func (rec *Recorder) finalizeLocked() *Workout {
	if !rec.recording || rec.workout == nil {
		return nil
	}

	done := rec.workout
	rec.recording = false
	rec.workout = nil
	rec.intervalStart = time.Time{}
	rec.stoppedAt = time.Time{}

	if len(done.Intervals) == 0 {
		return nil
	}
	return done
}

func (rec *Recorder) save(w *Workout) {
	if err := rec.store.Append(*w); err != nil {
		rec.logger.Printf("Recorder: failed to store workout %s: %v", w.ID, err)
		return
	}
	rec.logger.Printf("Recorder: stored workout %s (%.0fm in %ds, %d intervals)",
		w.ID, w.TotalDistance, w.TotalTime, len(w.Intervals))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// newID returns a short random hex id, the same shape the stores use
// for users and programs.
func newID() string {
	buf := make([]byte, 4)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}
