package protocol

import "fmt"

// ClampPace clamps a pace in seconds per 100m to the pool's valid
// speed-parameter range. The mapping from pace to speed parameter is the
// identity, so clamping is all the conversion there is.
func ClampPace(pace int) int {
	if pace < PaceFastest {
		return PaceFastest
	}
	if pace > PaceSlowest {
		return PaceSlowest
	}
	return pace
}

// PaceFromLevel maps a raw speed field to a display pace in seconds per
// 100m. Levels of 0 or 1 mean the motor is effectively off and carry no
// pace; everything else is the clamped identity mapping.
func PaceFromLevel(level int) int {
	if level <= 1 {
		return 0
	}
	return ClampPace(level)
}

// FormatPace renders a pace as M:SS per 100m, or "--:--" when unknown.
func FormatPace(pace int) string {
	if pace <= 0 {
		return "--:--"
	}
	return fmt.Sprintf("%d:%02d", pace/60, pace%60)
}

// FormatTimer renders a timer value as MM:SS.
func FormatTimer(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
