package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smash0190/endlesspool/internal/protocol"
)

func intervalProgram() *Program {
	return &Program{
		ID:   "test",
		Name: "Test Intervals",
		Sections: []ProgramSection{
			{
				Name:  "Warm-up",
				Pause: 30,
				Sets:  []ProgramSet{{Repeats: 1, Duration: 300, Pace: 180}},
			},
			{
				Name: "Main Set",
				Sets: []ProgramSet{{Repeats: 2, Duration: 60, Pace: 90, Rest: 30}},
			},
		},
	}
}

func TestFlatten(t *testing.T) {
	steps := intervalProgram().Flatten()

	// warm-up swim, section pause, then 2x (swim + rest)
	require.Len(t, steps, 6)

	assert.Equal(t, Step{Kind: StepSwim, Duration: 300, Pace: 180, Section: "Warm-up"}, steps[0])
	assert.Equal(t, Step{Kind: StepRest, Duration: 30, Pace: protocol.PaceSlowest, Section: "Warm-up"}, steps[1])
	assert.Equal(t, Step{Kind: StepSwim, Duration: 60, Pace: 90, Section: "Main Set"}, steps[2])
	assert.Equal(t, Step{Kind: StepRest, Duration: 30, Pace: protocol.PaceSlowest, Section: "Main Set"}, steps[3])
	assert.Equal(t, steps[2], steps[4])
	assert.Equal(t, steps[3], steps[5])
}

func TestFlattenRestStepsNeverZeroPace(t *testing.T) {
	for _, step := range intervalProgram().Flatten() {
		assert.Greater(t, step.Pace, 0, "every step must carry a drivable pace")
		if step.Kind == StepRest {
			assert.Equal(t, protocol.PaceSlowest, step.Pace)
		}
	}
}

func TestFlattenClampsOutOfRangePaces(t *testing.T) {
	p := &Program{
		Sections: []ProgramSection{
			{Name: "Fast", Sets: []ProgramSet{{Repeats: 1, Duration: 60, Pace: 10}}},
			{Name: "Slow", Sets: []ProgramSet{{Repeats: 1, Duration: 60, Pace: 999}}},
		},
	}
	steps := p.Flatten()
	require.Len(t, steps, 2)
	assert.Equal(t, protocol.PaceFastest, steps[0].Pace)
	assert.Equal(t, protocol.PaceSlowest, steps[1].Pace)
}

func TestFlattenDropsTrailingPause(t *testing.T) {
	p := &Program{
		Sections: []ProgramSection{
			{Name: "Only", Pause: 60, Sets: []ProgramSet{{Repeats: 1, Duration: 120, Pace: 120}}},
		},
	}
	steps := p.Flatten()
	require.Len(t, steps, 1)
	assert.Equal(t, StepSwim, steps[0].Kind)
}

func TestTotalDuration(t *testing.T) {
	// 300 + 30 + 2*(60+30)
	assert.Equal(t, 510, intervalProgram().TotalDuration())
}

func TestStepIndexAt(t *testing.T) {
	steps := []Step{
		{Duration: 300},
		{Duration: 30},
		{Duration: 60},
	}

	assert.Equal(t, 0, stepIndexAt(steps, 0))
	assert.Equal(t, 0, stepIndexAt(steps, 299))
	assert.Equal(t, 1, stepIndexAt(steps, 300))
	assert.Equal(t, 1, stepIndexAt(steps, 329))
	assert.Equal(t, 2, stepIndexAt(steps, 330))
	assert.Equal(t, 2, stepIndexAt(steps, 389))
	assert.Equal(t, 3, stepIndexAt(steps, 390))
	assert.Equal(t, 3, stepIndexAt(steps, 9999))
}
