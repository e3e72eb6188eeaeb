package pool

import (
	"time"

	"github.com/smash0190/endlesspool/internal/protocol"
)

// DerivedStatus is the snapshot published for every accepted broadcast:
// the raw frame, the derived device state, display paces, and whether
// the data is stale because the pool has gone silent.
type DerivedStatus struct {
	Frame protocol.StatusFrame `json:"frame"`
	State DeviceState          `json:"state"`

	// Display paces in seconds per 100m; 0 when not meaningful.
	CommandedPace int `json:"commanded_pace"`
	CurrentPace   int `json:"current_pace"`
	TargetPace    int `json:"target_pace"`

	Stale      bool      `json:"stale"`
	ReceivedAt time.Time `json:"received_at"`
}

// Derive computes the semantic device state from the raw fields of an
// accepted frame plus the previous state. It is a pure Moore-style
// function: prev is only needed to tell the initial ramp (starting)
// apart from a mid-session speed change (changing).
//
// The mapping of the transient states is a best-effort classification
// inferred from device traces, not a published specification.
func Derive(frame *protocol.StatusFrame, prev DeviceState) DeviceState {
	if !frame.IsRunning {
		if frame.CurrentSpeed > 0 {
			return StateStopping
		}
		if frame.TargetSpeed > 0 {
			return StateReady
		}
		return StateIdle
	}

	if frame.CurrentSpeed == frame.TargetSpeed {
		return StateRunning
	}
	if prev == StateRunning || prev == StateChanging {
		return StateChanging
	}
	return StateStarting
}

// NewDerivedStatus builds the full published snapshot for a frame.
func NewDerivedStatus(frame *protocol.StatusFrame, prev DeviceState, receivedAt time.Time) DerivedStatus {
	return DerivedStatus{
		Frame:         *frame,
		State:         Derive(frame, prev),
		CommandedPace: protocol.PaceFromLevel(frame.SpeedParam),
		CurrentPace:   protocol.PaceFromLevel(frame.CurrentSpeed),
		TargetPace:    protocol.PaceFromLevel(frame.TargetSpeed),
		ReceivedAt:    receivedAt,
	}
}
