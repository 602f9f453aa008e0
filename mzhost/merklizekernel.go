package mzhost

import (
	"errors"
	"fmt"

	"github.com/gordian-engine/merklize/mzdevice"
	"github.com/gordian-engine/merklize/mzhash"
	"github.com/gordian-engine/merklize/mzword"
)

const wordsPerNode = mzword.WordsPerNode

// NewMerklizeKernel returns the kernel that computes one tree level.
//
// Its arguments are, in order:
// the input node buffer, a single-word buffer holding the input node offset,
// the output node buffer, and a single-word buffer holding the output node offset.
// Offsets are counted in nodes, not words.
// Work item i compresses input nodes offset+2i and offset+2i+1
// into output node outOffset+i.
//
// The input and output may be the same buffer
// as long as the regions touched by one dispatch do not overlap.
func NewMerklizeKernel(c mzhash.Compressor) *Kernel {
	return NewKernel(
		"merklize",
		[]Param{
			{Name: "in", Access: AccessRead},
			{Name: "in_offset", Access: AccessRead},
			{Name: "out", Access: AccessWrite},
			{Name: "out_offset", Access: AccessRead},
		},
		func(item int, args [][]uint32) error {
			in, inOff, out, outOff := args[0], args[1], args[2], args[3]
			if len(inOff) == 0 || len(outOff) == 0 {
				return &mzdevice.StatusError{
					Op:     "merklize",
					Status: mzdevice.StatusInvalidKernelArgs,
					Cause:  errors.New("empty offset buffer"),
				}
			}

			src := (int(inOff[0]) + 2*item) * wordsPerNode
			dst := (int(outOff[0]) + item) * wordsPerNode
			if src+2*wordsPerNode > len(in) || dst+wordsPerNode > len(out) {
				return &mzdevice.StatusError{
					Op:     "merklize",
					Status: mzdevice.StatusInvalidValue,
					Cause: fmt.Errorf(
						"item %d reads words [%d, %d) of %d and writes [%d, %d) of %d",
						item, src, src+2*wordsPerNode, len(in), dst, dst+wordsPerNode, len(out),
					),
				}
			}

			c.Compress(
				(*mzhash.Node)(out[dst:dst+wordsPerNode]),
				(*mzhash.Node)(in[src:src+wordsPerNode]),
				(*mzhash.Node)(in[src+wordsPerNode:src+2*wordsPerNode]),
			)
			return nil
		},
	)
}
