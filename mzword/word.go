// Package mzword converts between the byte layout callers use for digests
// and the little-endian 32-bit word layout used on the device.
package mzword

import (
	"encoding/binary"
	"fmt"
)

// WordsPerNode is the number of 32-bit words in one 32-byte tree node.
const WordsPerNode = 8

// NodeSize is the size in bytes of one tree node.
const NodeSize = 4 * WordsPerNode

// Encode interprets each contiguous 4-byte little-endian group of src
// as one word of dst.
//
// Encode panics if len(src) != 4*len(dst).
func Encode(dst []uint32, src []byte) {
	if len(src) != 4*len(dst) {
		panic(fmt.Errorf(
			"BUG: cannot encode %d bytes into %d words (need exactly %d bytes)",
			len(src), len(dst), 4*len(dst),
		))
	}

	for i := range dst {
		dst[i] = binary.LittleEndian.Uint32(src[4*i:])
	}
}

// Decode is the inverse of [Encode],
// writing each word of src as 4 little-endian bytes into dst.
//
// Decode panics if len(dst) != 4*len(src).
func Decode(dst []byte, src []uint32) {
	if len(dst) != 4*len(src) {
		panic(fmt.Errorf(
			"BUG: cannot decode %d words into %d bytes (need exactly %d bytes)",
			len(src), len(dst), 4*len(src),
		))
	}

	for i, w := range src {
		binary.LittleEndian.PutUint32(dst[4*i:], w)
	}
}
