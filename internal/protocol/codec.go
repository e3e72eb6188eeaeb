package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
	"math/rand"
	"time"
)

// StatusFrame is a decoded broadcast packet from the pool.
type StatusFrame struct {
	StateID      byte    // echoes the transaction id of the last command
	StatusFlags  byte    // raw flag bits, kept for debugging
	IsRunning    bool    // derived from the running flag byte
	CurrentSpeed int     // motor speed level, ramps toward target
	TargetSpeed  int     // motor speed level the pool is driving toward
	SpeedParam   int     // commanded pace in seconds per 100m (identity)
	SetTimer     int     // seconds
	RemainingTimer int   // seconds
	SegmentDistance float64 // meters
	TotalDistance   float64 // meters, monotonic within a session
	Timestamp    uint32  // unix epoch as reported by the pool
	DeviceName   string
	Raw          []byte
}

// DecodeError reports why a broadcast packet was rejected. Decoding is
// all-or-nothing: a rejected packet never produces a partial frame.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return "decode broadcast: " + e.Reason
}

// EncodeError reports a command parameter rejected before transmission.
type EncodeError struct {
	Op     Opcode
	Param  int
	Reason string
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode command 0x%02X param %d: %s", byte(e.Op), e.Param, e.Reason)
}

// ParseBroadcast decodes a 111-byte broadcast packet. It returns a
// *DecodeError for wrong length, wrong magic, or checksum mismatch.
func ParseBroadcast(data []byte) (*StatusFrame, error) {
	if len(data) != BroadcastPacketSize {
		return nil, &DecodeError{Reason: fmt.Sprintf("bad length %d, want %d", len(data), BroadcastPacketSize)}
	}
	if !bytes.Equal(data[0:2], Magic) {
		return nil, &DecodeError{Reason: fmt.Sprintf("bad magic 0x%02X%02X", data[0], data[1])}
	}

	wantCRC := binary.LittleEndian.Uint32(data[bcCRCOffset:])
	gotCRC := crc32.ChecksumIEEE(data[:bcCRCOffset])
	if gotCRC != wantCRC {
		return nil, &DecodeError{Reason: fmt.Sprintf("checksum mismatch: got 0x%08X, want 0x%08X", gotCRC, wantCRC)}
	}

	name := data[bcDeviceNameOffset : bcDeviceNameOffset+bcDeviceNameLen]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}

	raw := make([]byte, len(data))
	copy(raw, data)

	return &StatusFrame{
		StateID:         data[bcStateIDOffset],
		StatusFlags:     data[bcStatusFlagsOffset],
		IsRunning:       data[bcRunningFlagOffset]&runningFlagMask == 0,
		CurrentSpeed:    int(data[bcCurrentSpeedOffset]),
		TargetSpeed:     int(data[bcTargetSpeedOffset]),
		SpeedParam:      int(data[bcSpeedParamOffset]),
		SetTimer:        int(binary.LittleEndian.Uint16(data[bcSetTimerOffset:])),
		RemainingTimer:  int(binary.LittleEndian.Uint16(data[bcRemTimerOffset:])),
		SegmentDistance: roundMeters(math.Float32frombits(binary.LittleEndian.Uint32(data[bcSegmentDistOffset:]))),
		TotalDistance:   roundMeters(math.Float32frombits(binary.LittleEndian.Uint32(data[bcTotalDistOffset:]))),
		Timestamp:       binary.LittleEndian.Uint32(data[bcTimestampOffset:]),
		DeviceName:      string(name),
		Raw:             raw,
	}, nil
}

// BuildCommand encodes a 44-byte command packet. The parameter is
// range-checked against the opcode's registry entry; out-of-range
// parameters fail with *EncodeError before anything hits the wire.
func BuildCommand(op Opcode, param int) ([]byte, error) {
	spec, ok := GetCommandSpec(op)
	if !ok {
		return nil, &EncodeError{Op: op, Param: param, Reason: "unknown opcode"}
	}
	if param < spec.MinParam || param > spec.MaxParam {
		return nil, &EncodeError{
			Op: op, Param: param,
			Reason: fmt.Sprintf("out of range %d-%d", spec.MinParam, spec.MaxParam),
		}
	}

	buf := make([]byte, CommandPacketSize)
	copy(buf[0:2], Magic)

	// Random transaction id; the pool echoes it back as the broadcast
	// state id, which lets a sender correlate command and effect.
	buf[cmdTxnIDOffset] = byte(rand.Intn(256))
	buf[cmdOpcodeOffset] = byte(op)
	binary.LittleEndian.PutUint16(buf[cmdParamOffset:], uint16(param))
	binary.LittleEndian.PutUint32(buf[cmdTimestampOffset:], uint32(time.Now().Unix()))
	binary.LittleEndian.PutUint32(buf[cmdConstantOffset:], cmdConstantValue)
	binary.LittleEndian.PutUint32(buf[cmdCRCOffset:], crc32.ChecksumIEEE(buf[:cmdCRCOffset]))

	return buf, nil
}

// EncodeBroadcast builds a valid 111-byte broadcast packet from a
// status frame. The pool is the only real producer of these packets;
// this encoder exists for the device simulator and for tests.
func EncodeBroadcast(f *StatusFrame) []byte {
	buf := make([]byte, BroadcastPacketSize)
	copy(buf[0:2], Magic)
	buf[bcStateIDOffset] = f.StateID
	buf[bcStatusFlagsOffset] = f.StatusFlags
	if f.IsRunning {
		buf[bcRunningFlagOffset] = 0x21
	} else {
		buf[bcRunningFlagOffset] = 0x61
	}
	buf[bcCurrentSpeedOffset] = byte(f.CurrentSpeed)
	buf[bcTargetSpeedOffset] = byte(f.TargetSpeed)
	buf[bcSpeedParamOffset] = byte(f.SpeedParam)
	binary.LittleEndian.PutUint16(buf[bcSetTimerOffset:], uint16(f.SetTimer))
	binary.LittleEndian.PutUint16(buf[bcRemTimerOffset:], uint16(f.RemainingTimer))
	binary.LittleEndian.PutUint32(buf[bcSegmentDistOffset:], math.Float32bits(float32(f.SegmentDistance)))
	binary.LittleEndian.PutUint32(buf[bcTotalDistOffset:], math.Float32bits(float32(f.TotalDistance)))
	binary.LittleEndian.PutUint32(buf[bcTimestampOffset:], f.Timestamp)
	name := []byte(f.DeviceName)
	if len(name) > bcDeviceNameLen {
		name = name[:bcDeviceNameLen]
	}
	copy(buf[bcDeviceNameOffset:], name)
	binary.LittleEndian.PutUint32(buf[bcCRCOffset:], crc32.ChecksumIEEE(buf[:bcCRCOffset]))
	return buf
}

// DecodeCommand reads the opcode and parameter back out of a command
// packet, validating magic and checksum the same way the pool would.
func DecodeCommand(data []byte) (Opcode, int, error) {
	if len(data) != CommandPacketSize {
		return 0, 0, &DecodeError{Reason: fmt.Sprintf("bad length %d, want %d", len(data), CommandPacketSize)}
	}
	if !bytes.Equal(data[0:2], Magic) {
		return 0, 0, &DecodeError{Reason: "bad magic"}
	}
	wantCRC := binary.LittleEndian.Uint32(data[cmdCRCOffset:])
	if crc32.ChecksumIEEE(data[:cmdCRCOffset]) != wantCRC {
		return 0, 0, &DecodeError{Reason: "checksum mismatch"}
	}
	op := Opcode(data[cmdOpcodeOffset])
	param := int(binary.LittleEndian.Uint16(data[cmdParamOffset:]))
	return op, param, nil
}

func roundMeters(v float32) float64 {
	return math.Round(float64(v)*100) / 100
}
