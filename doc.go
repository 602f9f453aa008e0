// Package merklize builds binary Merkle trees over large,
// power-of-two sets of 32-byte leaves on a parallel accelerator.
//
// A [Builder] issues one dispatch per tree level,
// ordering the levels purely through device completion events,
// so the host blocks exactly once per tree:
// on the transfer of the finished tree (or just its root) back to host memory.
//
// Nodes are laid out in heap order.
// Slot 0 is unused, slot 1 is the root,
// and the children of slot j are slots 2j and 2j+1.
// A full-tree result for N leaves is therefore 32*N bytes,
// with the level directly above the leaves occupying slots [N/2, N).
// The leaves themselves are not part of the result.
//
// The device is abstracted by the mzdevice package,
// with an in-process implementation in mzhost.
// [BuildSequential] computes the identical layout on the calling goroutine,
// for trees below the parallel threshold.
package merklize
