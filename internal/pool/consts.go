package pool

import (
	"fmt"
	"time"

	"github.com/smash0190/endlesspool/internal/protocol"
)

// DeviceState is the semantic pool phase derived from broadcast fields.
// The pool never transmits this directly.
type DeviceState string

const (
	StateIdle     DeviceState = "idle"     // motor off, no speed set
	StateReady    DeviceState = "ready"    // speed/timer set, start not yet issued
	StateStarting DeviceState = "starting" // initial ramp toward target speed
	StateRunning  DeviceState = "running"  // at target speed
	StateStopping DeviceState = "stopping" // decelerating after stop
	StateChanging DeviceState = "changing" // mid-session speed change
)

// CommandOp identifies a pool command at the observer boundary.
type CommandOp string

const (
	CmdStart CommandOp = "start"
	CmdStop  CommandOp = "stop"
	CmdSpeed CommandOp = "speed" // value is a pace in seconds per 100m
	CmdTimer CommandOp = "timer" // value is a duration in seconds
)

// Command is a validated pool command. Construct it with NewCommand so
// a malformed command can never reach the wire codec.
type Command struct {
	op    CommandOp
	value int
}

// NewCommand validates op and value and returns a Command. Speed values
// are clamped into the valid pace range (the domain mapping clamps
// rather than rejects); timer values outside the accepted range are an
// error.
func NewCommand(op CommandOp, value int) (Command, error) {
	switch op {
	case CmdStart, CmdStop:
		return Command{op: op}, nil
	case CmdSpeed:
		if value <= 0 {
			return Command{}, fmt.Errorf("speed command requires a positive pace, got %d", value)
		}
		return Command{op: op, value: protocol.ClampPace(value)}, nil
	case CmdTimer:
		if value < protocol.TimerMin || value > protocol.TimerMax {
			return Command{}, fmt.Errorf("timer %ds out of range %d-%d", value, protocol.TimerMin, protocol.TimerMax)
		}
		return Command{op: op, value: value}, nil
	default:
		return Command{}, fmt.Errorf("unknown command op %q", op)
	}
}

// Op returns the command operation.
func (c Command) Op() CommandOp { return c.op }

// Value returns the command parameter.
func (c Command) Value() int { return c.value }

// Wire returns the protocol opcode and parameter for this command.
func (c Command) Wire() (protocol.Opcode, int) {
	switch c.op {
	case CmdStart:
		return protocol.OpStart, 0
	case CmdStop:
		return protocol.OpStop, 0
	case CmdSpeed:
		return protocol.OpSetSpeed, c.value
	case CmdTimer:
		return protocol.OpSetTimer, c.value
	default:
		// NewCommand is the only constructor, so this is unreachable.
		panic(fmt.Sprintf("invalid command op %q", c.op))
	}
}

func (c Command) String() string {
	switch c.op {
	case CmdSpeed:
		return fmt.Sprintf("speed %d (%s/100m)", c.value, protocol.FormatPace(c.value))
	case CmdTimer:
		return fmt.Sprintf("timer %s", protocol.FormatTimer(c.value))
	default:
		return string(c.op)
	}
}

// Default tuning values.
const (
	DefaultSilenceWindow = 3 * time.Second  // broadcasts arrive every ~500ms
	DefaultAckTimeout    = 10 * time.Second // launch must be confirmed within this
)
