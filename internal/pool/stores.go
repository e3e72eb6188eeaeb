package pool

import "time"

// Collaborator store interfaces. The core emits state and accepts
// commands; it neither authenticates users nor persists anything
// itself. Implementations live outside this package.

// User is an account as the core sees it: an id to attribute workouts
// to. PIN verification is the account layer's concern.
type User struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Created time.Time `json:"created"`
}

// UserStore is the account collaborator.
type UserStore interface {
	List() ([]User, error)
	Create(name, pin string) (User, error)
	VerifyPIN(userID, pin string) (User, error)
	Delete(userID string) error
}

// ProgramStore supplies structured workout documents verbatim.
type ProgramStore interface {
	List(userID string) ([]Program, error)
	Save(userID string, p Program) (Program, error)
	Delete(userID, programID string) error
}

// WorkoutInterval is one recorded swim segment.
type WorkoutInterval struct {
	StartTime  time.Time `json:"start_time"`
	Duration   int       `json:"duration"` // seconds
	Distance   float64   `json:"distance"` // meters
	SpeedParam int       `json:"speed_param"`
	AvgPace    float64   `json:"avg_pace"` // seconds per 100m
	Type       string    `json:"type"`     // "swim"
}

// Workout is a finished recorded session.
type Workout struct {
	ID            string            `json:"id"`
	UserID        string            `json:"user_id"`
	StartTime     time.Time         `json:"start_time"`
	TotalDistance float64           `json:"total_distance"` // meters
	TotalTime     int               `json:"total_time"`     // seconds
	Intervals     []WorkoutInterval `json:"intervals"`
}

// WorkoutStore is the workout history collaborator.
type WorkoutStore interface {
	Append(w Workout) error
	List(userID string) ([]Workout, error)
	Get(userID, workoutID string) (Workout, error)
	Delete(userID, workoutID string) error
}
