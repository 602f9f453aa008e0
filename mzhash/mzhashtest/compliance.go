// Package mzhashtest contains a compliance suite for [mzhash.Compressor] implementations.
package mzhashtest

import (
	"sync"
	"testing"

	"github.com/gordian-engine/merklize/mzhash"
	"github.com/stretchr/testify/require"
)

type CompressorFactory func() mzhash.Compressor

// GoldenInput returns the two children formed by the bytes 0 through 63,
// in word layout.
func GoldenInput() (left, right mzhash.Node) {
	var words [16]uint32
	for i := range words {
		b := uint32(4 * i)
		words[i] = b | (b+1)<<8 | (b+2)<<16 | (b+3)<<24
	}
	copy(left[:], words[:8])
	copy(right[:], words[8:])
	return left, right
}

// GoldenBLAKE3 is the BLAKE3 digest of the bytes 0 through 63, in word layout.
// Hex encoded, it is 4eed7141ea4a5cd4b788606bd23f46e212af9cacebacdc7d1f4c6dc7f2511b98.
var GoldenBLAKE3 = mzhash.Node{
	1097985358, 3562818282, 1801488567, 3796254674,
	2895949586, 2111614187, 3345828895, 2551927282,
}

func TestCompressorCompliance(t *testing.T, f CompressorFactory) {
	t.Run("compress is deterministic", func(t *testing.T) {
		t.Parallel()

		c := f()
		left, right := GoldenInput()

		var dst01, dst02 mzhash.Node
		c.Compress(&dst01, &left, &right)
		c.Compress(&dst02, &left, &right)

		require.Equal(t, dst01, dst02)
	})

	t.Run("compress respects child order", func(t *testing.T) {
		t.Parallel()

		c := f()
		left, right := GoldenInput()

		var dst01, dst02 mzhash.Node
		c.Compress(&dst01, &left, &right)
		c.Compress(&dst02, &right, &left)

		require.NotEqual(t, dst01, dst02)
	})

	t.Run("compress does not modify inputs", func(t *testing.T) {
		t.Parallel()

		c := f()
		left, right := GoldenInput()
		origLeft, origRight := left, right

		var dst mzhash.Node
		c.Compress(&dst, &left, &right)

		require.Equal(t, origLeft, left)
		require.Equal(t, origRight, right)
	})

	t.Run("dst may alias an input", func(t *testing.T) {
		t.Parallel()

		c := f()
		left, right := GoldenInput()

		var want mzhash.Node
		c.Compress(&want, &left, &right)

		aliasLeft := left
		c.Compress(&aliasLeft, &aliasLeft, &right)
		require.Equal(t, want, aliasLeft)

		aliasRight := right
		c.Compress(&aliasRight, &left, &aliasRight)
		require.Equal(t, want, aliasRight)
	})

	t.Run("compress is safe for concurrent use", func(t *testing.T) {
		t.Parallel()

		c := f()
		left, right := GoldenInput()

		var want mzhash.Node
		c.Compress(&want, &left, &right)

		const n = 16
		got := make([]mzhash.Node, n)

		var wg sync.WaitGroup
		for i := range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.Compress(&got[i], &left, &right)
			}()
		}
		wg.Wait()

		for i := range n {
			require.Equal(t, want, got[i])
		}
	})
}
