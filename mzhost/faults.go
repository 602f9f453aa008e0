package mzhost

import "github.com/gordian-engine/merklize/mzdevice"

// CommandKind classifies device operations for fault matching.
type CommandKind uint8

const (
	CommandAlloc CommandKind = iota
	CommandWrite
	CommandRead
	CommandDispatch

	nCommandKinds
)

func (k CommandKind) String() string {
	switch k {
	case CommandAlloc:
		return "alloc"
	case CommandWrite:
		return "write"
	case CommandRead:
		return "read"
	case CommandDispatch:
		return "dispatch"
	default:
		return "unknown"
	}
}

// FaultStage is where an injected [Fault] takes effect.
type FaultStage uint8

const (
	// The command is rejected by the Alloc or Enqueue call itself.
	StageEnqueue FaultStage = iota

	// The command is accepted but fails when it would have executed.
	// Commands waiting on it fail as dependency failures.
	StageExecute

	// The command succeeds but its event reports no profiling information.
	StageProfile
)

// Fault describes one injected failure.
//
// Commands are counted per kind over the lifetime of the Device,
// starting at 1, so {Kind: CommandDispatch, Nth: 3}
// targets the third dispatch ever enqueued on the device.
type Fault struct {
	Kind  CommandKind
	Nth   int
	Stage FaultStage

	// Status reported by the failure.
	// Defaults to [mzdevice.StatusOutOfResources],
	// or [mzdevice.StatusProfilingInfoNotAvailable] for StageProfile.
	Status mzdevice.Status
}

func (f Fault) status() mzdevice.Status {
	if f.Status != mzdevice.StatusSuccess {
		return f.Status
	}
	if f.Stage == StageProfile {
		return mzdevice.StatusProfilingInfoNotAvailable
	}
	return mzdevice.StatusOutOfResources
}

// countCommand returns the 1-based ordinal of a new command of kind k.
// The caller must hold d.mu.
func (d *Device) countCommand(k CommandKind) int {
	d.counts[k]++
	return d.counts[k]
}

// faultFor returns the configured fault, if any,
// for the ord'th command of kind k at the given stage.
// The caller must hold d.mu.
func (d *Device) faultFor(k CommandKind, ord int, stage FaultStage) (Fault, bool) {
	for _, f := range d.faults {
		if f.Kind == k && f.Nth == ord && f.Stage == stage {
			return f, true
		}
	}
	return Fault{}, false
}
