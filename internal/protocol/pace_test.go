package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClampPace(t *testing.T) {
	assert.Equal(t, PaceFastest, ClampPace(10))
	assert.Equal(t, PaceFastest, ClampPace(PaceFastest))
	assert.Equal(t, 120, ClampPace(120))
	assert.Equal(t, PaceSlowest, ClampPace(PaceSlowest))
	assert.Equal(t, PaceSlowest, ClampPace(999))
}

func TestPaceFromLevel(t *testing.T) {
	// Levels 0 and 1 mean the motor is off.
	assert.Equal(t, 0, PaceFromLevel(0))
	assert.Equal(t, 0, PaceFromLevel(1))

	assert.Equal(t, PaceFastest, PaceFromLevel(50))
	assert.Equal(t, 120, PaceFromLevel(120))
	assert.Equal(t, PaceSlowest, PaceFromLevel(250))
}

func TestFormatPace(t *testing.T) {
	assert.Equal(t, "--:--", FormatPace(0))
	assert.Equal(t, "--:--", FormatPace(-5))
	assert.Equal(t, "1:14", FormatPace(74))
	assert.Equal(t, "2:00", FormatPace(120))
	assert.Equal(t, "4:03", FormatPace(243))
}

func TestFormatTimer(t *testing.T) {
	assert.Equal(t, "00:00", FormatTimer(0))
	assert.Equal(t, "01:00", FormatTimer(60))
	assert.Equal(t, "07:00", FormatTimer(420))
	assert.Equal(t, "90:00", FormatTimer(5400))
	assert.Equal(t, "00:00", FormatTimer(-10))
}
