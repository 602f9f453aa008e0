package merklize

import (
	"errors"
	"fmt"

	"github.com/gordian-engine/merklize/mzdevice"
)

var (
	// ErrNotPowerOfTwo is wrapped in an [*InvalidArgumentError]
	// when the leaf count or the group size is not a power of two.
	ErrNotPowerOfTwo = errors.New("not a power of two")

	// ErrTooFewLeaves is wrapped in an [*InvalidArgumentError]
	// when the leaf count is below the builder's minimum.
	ErrTooFewLeaves = errors.New("too few leaves")

	// ErrTooManyLeaves is wrapped in an [*InvalidArgumentError]
	// when node offsets would not fit in a 32-bit device word.
	ErrTooManyLeaves = errors.New("too many leaves")

	// ErrLeafDataLength is wrapped in an [*InvalidArgumentError]
	// when the leaf data is empty or not a whole number of 32-byte leaves.
	ErrLeafDataLength = errors.New("leaf data length is not a positive multiple of 32")

	// ErrInvalidGroupSize is wrapped in an [*InvalidArgumentError]
	// when the work group size cannot evenly partition the first round,
	// or exceeds the device's maximum.
	ErrInvalidGroupSize = errors.New("invalid work group size")

	// ErrRelease is wrapped in the error returned from [*Builder.Build]
	// when the build itself finished but releasing a device resource failed.
	ErrRelease = errors.New("failed to release device resources")
)

// InvalidArgumentError is returned when a build's inputs violate a precondition.
// No device work is done for such a build.
type InvalidArgumentError struct {
	Arg   string
	Value int
	Err   error
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid %s %d: %v", e.Arg, e.Value, e.Err)
}

func (e *InvalidArgumentError) Unwrap() error {
	return e.Err
}

// Phase identifies the part of a build that a device command belonged to.
type Phase uint8

const (
	PhaseAlloc Phase = iota
	PhaseLeafWrite
	PhaseOffsetWrite
	PhaseDispatch
	PhaseReadBack
)

func (p Phase) String() string {
	switch p {
	case PhaseAlloc:
		return "alloc"
	case PhaseLeafWrite:
		return "leaf write"
	case PhaseOffsetWrite:
		return "offset write"
	case PhaseDispatch:
		return "dispatch"
	case PhaseReadBack:
		return "read back"
	default:
		return fmt.Sprintf("Phase(%d)", uint8(p))
	}
}

// DeviceError is returned when the device rejects or fails a command.
//
// When a failure propagates along the dependency chain,
// Phase and Round identify the command that failed first,
// not the command the host happened to be waiting on.
type DeviceError struct {
	Phase Phase

	// The round the failing command belonged to,
	// or -1 for commands outside any round.
	Round int

	Err error
}

func (e *DeviceError) Error() string {
	if e.Round < 0 {
		return fmt.Sprintf("device %s failed: %v", e.Phase, e.Err)
	}
	return fmt.Sprintf("device %s failed in round %d: %v", e.Phase, e.Round, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Status is the device status code of the failure.
func (e *DeviceError) Status() mzdevice.Status {
	return mzdevice.StatusOf(e.Err)
}

// TimingError is returned when [TimingRequired] is in effect
// and the device could not report timing for one or more commands.
type TimingError struct {
	// Number of commands without timing.
	Missing int

	Err error
}

func (e *TimingError) Error() string {
	return fmt.Sprintf("timing unavailable for %d device commands: %v", e.Missing, e.Err)
}

func (e *TimingError) Unwrap() error {
	return e.Err
}
