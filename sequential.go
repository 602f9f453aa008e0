package merklize

import (
	"github.com/gordian-engine/merklize/internal/mzround"
	"github.com/gordian-engine/merklize/mzhash"
	"github.com/gordian-engine/merklize/mzword"
)

// BuildSequential computes the same tree as [*Builder.Build]
// on the calling goroutine, for any power of two leaf count of at least 2.
//
// The returned bytes use the same layout as [Result.Nodes] for the given mode.
// Errors are always of type [*InvalidArgumentError].
func BuildSequential(c mzhash.Compressor, leaves []byte, mode OutputMode) ([]byte, error) {
	if len(leaves) == 0 || len(leaves)%mzword.NodeSize != 0 {
		return nil, &InvalidArgumentError{
			Arg: "leaf data length", Value: len(leaves), Err: ErrLeafDataLength,
		}
	}
	n := len(leaves) / mzword.NodeSize
	if !mzround.IsPowerOfTwo(n) {
		return nil, &InvalidArgumentError{Arg: "leaf count", Value: n, Err: ErrNotPowerOfTwo}
	}
	if n < 2 {
		return nil, &InvalidArgumentError{Arg: "leaf count", Value: n, Err: ErrTooFewLeaves}
	}

	leafNodes := make([]mzhash.Node, n)
	for i := range leafNodes {
		mzword.Encode(leafNodes[i][:], leaves[i*mzword.NodeSize:(i+1)*mzword.NodeSize])
	}

	nodes := make([]mzhash.Node, n)
	half := n / 2
	for i := range half {
		c.Compress(&nodes[half+i], &leafNodes[2*i], &leafNodes[2*i+1])
	}
	for j := half - 1; j >= mzround.RootIndex; j-- {
		c.Compress(&nodes[j], &nodes[2*j], &nodes[2*j+1])
	}

	if mode == OutputRootOnly {
		nodes = nodes[mzround.RootIndex : mzround.RootIndex+1]
	}

	out := make([]byte, len(nodes)*mzword.NodeSize)
	for i := range nodes {
		mzword.Decode(out[i*mzword.NodeSize:(i+1)*mzword.NodeSize], nodes[i][:])
	}
	return out, nil
}
