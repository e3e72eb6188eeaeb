package store

import (
	"fmt"
	"sort"

	"github.com/smash0190/endlesspool/internal/pool"
)

var _ pool.WorkoutStore = (*Workouts)(nil)

// Workouts is the per-user workout history store.
type Workouts struct {
	s *Store
}

// Workouts returns the workout history store view.
func (s *Store) Workouts() *Workouts {
	return &Workouts{s: s}
}

// Append adds a finished workout to the history of the user it is
// attributed to.
func (w *Workouts) Append(workout pool.Workout) error {
	if workout.UserID == "" {
		return fmt.Errorf("workout has no user")
	}
	if workout.ID == "" {
		workout.ID = newID()
	}

	w.s.mu.Lock()
	defer w.s.mu.Unlock()

	workouts, err := w.load(workout.UserID)
	if err != nil {
		return err
	}
	workouts = append(workouts, workout)
	if err := writeJSON(w.s.userFile(workout.UserID, "workouts.json"), workouts); err != nil {
		return err
	}
	w.s.logger.Printf("Workouts: saved %s for user %s (%.0fm, %d intervals)",
		workout.ID, workout.UserID, workout.TotalDistance, len(workout.Intervals))
	return nil
}

// List returns a user's workouts, newest first.
func (w *Workouts) List(userID string) ([]pool.Workout, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()

	workouts, err := w.load(userID)
	if err != nil {
		return nil, err
	}
	sort.Slice(workouts, func(i, j int) bool {
		return workouts[i].StartTime.After(workouts[j].StartTime)
	})
	return workouts, nil
}

// Get returns a single workout by ID.
func (w *Workouts) Get(userID, workoutID string) (pool.Workout, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()

	workouts, err := w.load(userID)
	if err != nil {
		return pool.Workout{}, err
	}
	for _, workout := range workouts {
		if workout.ID == workoutID {
			return workout, nil
		}
	}
	return pool.Workout{}, fmt.Errorf("workout %s not found", workoutID)
}

// Delete removes a workout from a user's history.
func (w *Workouts) Delete(userID, workoutID string) error {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()

	workouts, err := w.load(userID)
	if err != nil {
		return err
	}
	kept := workouts[:0]
	for _, workout := range workouts {
		if workout.ID != workoutID {
			kept = append(kept, workout)
		}
	}
	if len(kept) == len(workouts) {
		return fmt.Errorf("workout %s not found", workoutID)
	}
	return writeJSON(w.s.userFile(userID, "workouts.json"), kept)
}

// load reads a user's workouts.json. MUST be called with s.mu held.
func (w *Workouts) load(userID string) ([]pool.Workout, error) {
	var workouts []pool.Workout
	if err := readJSON(w.s.userFile(userID, "workouts.json"), &workouts); err != nil {
		return nil, err
	}
	return workouts, nil
}
