package merklize

import (
	"fmt"
	"time"

	"github.com/gordian-engine/merklize/internal/mzround"
	"github.com/gordian-engine/merklize/mzword"
)

// OutputMode selects how much of the tree a build copies back to the host.
type OutputMode uint8

const (
	// OutputFullTree returns every node slot, 32*N bytes for N leaves.
	OutputFullTree OutputMode = iota

	// OutputRootOnly returns only the 32-byte root.
	OutputRootOnly
)

func (m OutputMode) String() string {
	switch m {
	case OutputFullTree:
		return "full tree"
	case OutputRootOnly:
		return "root only"
	default:
		return fmt.Sprintf("OutputMode(%d)", uint8(m))
	}
}

// TimingMode controls how device timing is collected.
type TimingMode uint8

const (
	// TimingRequired fails the build with a [*TimingError]
	// if any command's timing is unavailable.
	TimingRequired TimingMode = iota

	// TimingBestEffort reports whatever timing is available,
	// setting [Timing.Partial] if anything was missing.
	TimingBestEffort

	// TimingDisabled skips timing collection.
	TimingDisabled
)

func (m TimingMode) String() string {
	switch m {
	case TimingRequired:
		return "required"
	case TimingBestEffort:
		return "best effort"
	case TimingDisabled:
		return "disabled"
	default:
		return fmt.Sprintf("TimingMode(%d)", uint8(m))
	}
}

// DefaultGroupSize is the work group size used when [BuildOptions.GroupSize] is zero,
// clamped to the number of first-round work items.
const DefaultGroupSize = 32

// BuildOptions are the per-call options for [*Builder.Build].
type BuildOptions struct {
	// Work group size for each dispatch.
	// Must be a power of two no larger than half the leaf count
	// or the device's maximum group size.
	// Later rounds with fewer work items use a correspondingly smaller size.
	GroupSize int

	Output OutputMode
	Timing TimingMode
}

// Timing is the device time spent on a build,
// as reported by the device's own clock.
type Timing struct {
	// Sum over every dispatch.
	Compute time.Duration

	// Sum over the leaf upload and every offset upload.
	HostToDevice time.Duration

	// The final read back.
	DeviceToHost time.Duration

	// Compute time of each dispatch, starting with the leaf round.
	PerRound []time.Duration

	// Set when timing was requested on a best effort basis
	// and some commands did not report it.
	Partial bool
}

// Result is the output of a successful build.
type Result struct {
	// The node slots in heap order for [OutputFullTree],
	// or just the root for [OutputRootOnly].
	Nodes []byte

	Timing Timing

	// Number of dispatches after the leaf round, log2(N/2).
	Rounds int

	Output OutputMode
}

// Root returns the 32-byte root of the tree,
// or nil if r holds no nodes, as on every error return of Build.
// The returned slice aliases r.Nodes.
func (r Result) Root() []byte {
	if len(r.Nodes) == 0 {
		return nil
	}
	if r.Output == OutputRootOnly {
		return r.Nodes[:mzword.NodeSize]
	}
	start := mzround.RootIndex * mzword.NodeSize
	return r.Nodes[start : start+mzword.NodeSize]
}
