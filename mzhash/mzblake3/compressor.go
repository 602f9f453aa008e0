// Package mzblake3 provides a BLAKE3-backed [mzhash.Compressor].
//
// A parent node is the BLAKE3 hash of the 64-byte block
// formed by concatenating the left and right children.
// Since that input is exactly one block of one chunk,
// the hash reduces to a single invocation of the BLAKE3
// compression function with the CHUNK_START, CHUNK_END and ROOT flags,
// which is computed here directly on the word layout.
package mzblake3

import (
	"math/bits"

	"github.com/gordian-engine/merklize/mzhash"
)

// HashSize is the size in bytes of a parent node.
const HashSize = 32

const (
	flagChunkStart = 1 << 0
	flagChunkEnd   = 1 << 1
	flagRoot       = 1 << 3

	blockLen = 64
)

var iv = [8]uint32{
	0x6a09e667, 0xbb67ae85, 0x3c6ef372, 0xa54ff53a,
	0x510e527f, 0x9b05688c, 0x1f83d9ab, 0x5be0cd19,
}

var msgSchedule = [7][16]uint8{
	{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15},
	{2, 6, 3, 10, 7, 0, 4, 13, 1, 11, 12, 5, 9, 14, 15, 8},
	{3, 4, 10, 12, 13, 2, 7, 14, 6, 5, 9, 0, 11, 15, 8, 1},
	{10, 7, 12, 9, 14, 3, 13, 15, 4, 0, 11, 2, 5, 8, 1, 6},
	{12, 13, 9, 11, 15, 10, 14, 8, 7, 2, 5, 3, 0, 1, 6, 4},
	{9, 14, 11, 5, 8, 12, 15, 1, 13, 3, 0, 10, 2, 6, 4, 7},
	{11, 15, 5, 0, 1, 9, 8, 6, 14, 10, 2, 12, 3, 4, 7, 13},
}

// Compressor is a [mzhash.Compressor] backed by BLAKE3.
// The zero value is ready to use.
type Compressor struct{}

var _ mzhash.Compressor = Compressor{}

func (Compressor) Compress(dst, left, right *mzhash.Node) {
	var m [16]uint32
	copy(m[:8], left[:])
	copy(m[8:], right[:])

	v := [16]uint32{
		iv[0], iv[1], iv[2], iv[3],
		iv[4], iv[5], iv[6], iv[7],
		iv[0], iv[1], iv[2], iv[3],
		0, 0, // Block counter, always zero for a single chunk.
		blockLen,
		flagChunkStart | flagChunkEnd | flagRoot,
	}

	for r := range msgSchedule {
		s := &msgSchedule[r]

		// Columns.
		g(&v, 0, 4, 8, 12, m[s[0]], m[s[1]])
		g(&v, 1, 5, 9, 13, m[s[2]], m[s[3]])
		g(&v, 2, 6, 10, 14, m[s[4]], m[s[5]])
		g(&v, 3, 7, 11, 15, m[s[6]], m[s[7]])

		// Diagonals.
		g(&v, 0, 5, 10, 15, m[s[8]], m[s[9]])
		g(&v, 1, 6, 11, 12, m[s[10]], m[s[11]])
		g(&v, 2, 7, 8, 13, m[s[12]], m[s[13]])
		g(&v, 3, 4, 9, 14, m[s[14]], m[s[15]])
	}

	// The message was fully copied into m,
	// so dst aliasing either child is fine here.
	for i := range dst {
		dst[i] = v[i] ^ v[i+8]
	}
}

func g(v *[16]uint32, a, b, c, d int, mx, my uint32) {
	v[a] += v[b] + mx
	v[d] = bits.RotateLeft32(v[d]^v[a], -16)
	v[c] += v[d]
	v[b] = bits.RotateLeft32(v[b]^v[c], -12)
	v[a] += v[b] + my
	v[d] = bits.RotateLeft32(v[d]^v[a], -8)
	v[c] += v[d]
	v[b] = bits.RotateLeft32(v[b]^v[c], -7)
}
