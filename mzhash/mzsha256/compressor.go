// Package mzsha256 provides a [mzhash.Compressor] backed by SHA-256.
package mzsha256

import (
	"crypto/sha256"

	"github.com/gordian-engine/merklize/mzhash"
	"github.com/gordian-engine/merklize/mzword"
)

const HashSize = sha256.Size

// Compressor hashes the 64-byte little-endian encoding of left||right
// and stores the digest as little-endian words.
type Compressor struct{}

func (Compressor) Compress(dst, left, right *mzhash.Node) {
	var block [2 * mzword.NodeSize]byte
	mzword.Decode(block[:mzword.NodeSize], left[:])
	mzword.Decode(block[mzword.NodeSize:], right[:])

	sum := sha256.Sum256(block[:])
	mzword.Encode(dst[:], sum[:])
}
