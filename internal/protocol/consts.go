package protocol

// Wire constants for the FS FORTH-SYSTEME endless pool controller.
// The pool broadcasts a UDP status packet every ~500ms and accepts UDP
// command packets. Both packet types start with the 0x0AF0 magic header
// and end with a CRC32 checksum.

// Network defaults (the pool address itself is configuration, not discovery)
const (
	DefaultPoolPort   = 9750  // pool listens for commands on this port
	DefaultClientPort = 45654 // client listens for broadcasts on this port
)

// Magic is the 2-byte header shared by broadcast and command packets.
var Magic = []byte{0x0A, 0xF0}

// Opcode identifies a pool command (byte 3 of a command packet).
type Opcode byte

const (
	OpStart    Opcode = 0x1F
	OpStop     Opcode = 0x21
	OpSetSpeed Opcode = 0x24
	OpSetTimer Opcode = 0x25
)

// Command packet layout (44 bytes total)
const (
	CommandPacketSize = 44
	cmdTxnIDOffset    = 2
	cmdOpcodeOffset   = 3
	cmdParamOffset    = 4
	cmdTimestampOffset = 32
	cmdConstantOffset  = 36
	cmdConstantValue   = 0x0000019C
	cmdCRCOffset       = 40
)

// Broadcast packet layout (111 bytes total)
const (
	BroadcastPacketSize = 111
	bcStateIDOffset     = 2
	bcStatusFlagsOffset = 3
	bcRunningFlagOffset = 4
	bcCurrentSpeedOffset = 5
	bcTargetSpeedOffset  = 6
	bcSpeedParamOffset   = 7
	bcSetTimerOffset     = 9  // LE uint16, seconds
	bcRemTimerOffset     = 11 // LE uint16, seconds
	bcSegmentDistOffset  = 23 // LE float32, meters
	bcTotalDistOffset    = 27 // LE float32, meters
	bcTimestampOffset    = 71 // LE uint32, unix epoch
	bcDeviceNameOffset   = 79 // 13 bytes ASCII, NUL padded
	bcDeviceNameLen      = 13
	bcCRCOffset          = 107 // LE uint32 over bytes 0..106
)

// runningFlagMask: bit 6 of byte 4 is clear while the motor runs.
const runningFlagMask = 0x40

// Pace / speed parameter bounds. The speed parameter of a set-speed
// command IS the pace in seconds per 100m, a direct identity mapping.
const (
	PaceFastest = 74  // 1:14 per 100m
	PaceSlowest = 243 // 4:03 per 100m
)

// Timer bounds accepted for a set-timer command, in seconds.
const (
	TimerMin = 60
	TimerMax = 5400
)

// CommandSpec describes one opcode and its valid parameter range.
type CommandSpec struct {
	Op          Opcode
	DisplayName string
	MinParam    int
	MaxParam    int
}

// AllCommands is the registry of supported pool commands.
var AllCommands = []CommandSpec{
	{Op: OpStart, DisplayName: "Start", MinParam: 0, MaxParam: 0},
	{Op: OpStop, DisplayName: "Stop", MinParam: 0, MaxParam: 0},
	{Op: OpSetSpeed, DisplayName: "Set Speed", MinParam: PaceFastest, MaxParam: PaceSlowest},
	{Op: OpSetTimer, DisplayName: "Set Timer", MinParam: TimerMin, MaxParam: TimerMax},
}

// GetCommandSpec returns the spec for an opcode.
func GetCommandSpec(op Opcode) (CommandSpec, bool) {
	for _, spec := range AllCommands {
		if spec.Op == op {
			return spec, true
		}
	}
	return CommandSpec{}, false
}
