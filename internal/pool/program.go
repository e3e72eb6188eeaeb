package pool

import (
	"github.com/smash0190/endlesspool/internal/protocol"
)

// ProgramSet is one repeated swim/rest block inside a section.
type ProgramSet struct {
	Repeats     int    `json:"repeats" yaml:"repeats"`
	Duration    int    `json:"duration" yaml:"duration"` // swim seconds per repeat
	Pace        int    `json:"pace" yaml:"pace"`         // seconds per 100m
	Rest        int    `json:"rest" yaml:"rest"`         // rest seconds after each repeat
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// ProgramSection is an ordered group of sets, optionally followed by a
// pause before the next section.
type ProgramSection struct {
	Name  string       `json:"name" yaml:"name"`
	Pause int          `json:"pause,omitempty" yaml:"pause,omitempty"` // seconds, after the section
	Sets  []ProgramSet `json:"sets" yaml:"sets"`
}

// Program is a structured workout: ordered sections of repeated
// swim/rest intervals. Program documents come from the program store
// verbatim; the runner only ever sees the flattened form.
type Program struct {
	ID          string           `json:"id" yaml:"id"`
	Name        string           `json:"name" yaml:"name"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Sections    []ProgramSection `json:"sections" yaml:"sections"`
}

// StepKind distinguishes swim steps from rest steps.
type StepKind string

const (
	StepSwim StepKind = "swim"
	StepRest StepKind = "rest"
)

// Step is one entry of a flattened program. Rest steps carry the
// slowest valid pace, never zero: the pool keeps running through rests
// because stop/start cycles between short intervals are unreliable and
// lose several seconds to ramp-up.
type Step struct {
	Kind     StepKind `json:"kind"`
	Duration int      `json:"duration"` // seconds
	Pace     int      `json:"pace"`     // seconds per 100m
	Section  string   `json:"section"`
}

// Flatten expands the program into the flat ordered step sequence the
// runner executes: every repeat becomes a swim step followed by a rest
// step when the set has rest, and a non-final section with a pause gets
// one extra rest step.
func (p *Program) Flatten() []Step {
	var steps []Step
	for si, section := range p.Sections {
		for _, set := range section.Sets {
			for r := 0; r < set.Repeats; r++ {
				steps = append(steps, Step{
					Kind:     StepSwim,
					Duration: set.Duration,
					Pace:     protocol.ClampPace(set.Pace),
					Section:  section.Name,
				})
				if set.Rest > 0 {
					steps = append(steps, Step{
						Kind:     StepRest,
						Duration: set.Rest,
						Pace:     protocol.PaceSlowest,
						Section:  section.Name,
					})
				}
			}
		}
		if section.Pause > 0 && si < len(p.Sections)-1 {
			steps = append(steps, Step{
				Kind:     StepRest,
				Duration: section.Pause,
				Pace:     protocol.PaceSlowest,
				Section:  section.Name,
			})
		}
	}
	return steps
}

// TotalDuration is the summed duration of the flattened program in
// seconds.
func (p *Program) TotalDuration() int {
	return stepsDuration(p.Flatten())
}

func stepsDuration(steps []Step) int {
	total := 0
	for _, s := range steps {
		total += s.Duration
	}
	return total
}

// stepIndexAt returns the index of the step whose cumulative-duration
// window contains elapsed, or len(steps) when elapsed is past the end.
func stepIndexAt(steps []Step, elapsed int) int {
	cum := 0
	for i, s := range steps {
		cum += s.Duration
		if elapsed < cum {
			return i
		}
	}
	return len(steps)
}
