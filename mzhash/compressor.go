// Package mzhash defines the compression primitive
// that the merklize kernel applies to every pair of sibling nodes.
//
// The primitive itself is an external collaborator:
// the orchestrator never inspects node contents,
// it only arranges for the kernel to call a [Compressor]
// on the right pairs in the right order.
package mzhash

// Node is one 32-byte tree node in device word layout:
// eight little-endian 32-bit words.
type Node = [8]uint32

// Compressor turns two child nodes into their parent node.
//
// Implementations must be deterministic and safe to call concurrently,
// since a single dispatch calls Compress from many goroutines.
// The dst pointer may alias left or right,
// so implementations must read both inputs before writing dst.
type Compressor interface {
	Compress(dst, left, right *Node)
}

// CompressorFunc adapts an ordinary function to the [Compressor] interface.
type CompressorFunc func(dst, left, right *Node)

func (f CompressorFunc) Compress(dst, left, right *Node) {
	f(dst, left, right)
}
