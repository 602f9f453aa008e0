package mzround_test

import (
	"testing"

	"github.com/gordian-engine/merklize/internal/mzround"
	"github.com/stretchr/testify/require"
)

func TestPlan_Rounds(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		leaves int
		want   int
	}{
		{leaves: 2, want: 0},
		{leaves: 4, want: 1},
		{leaves: 8, want: 2},
		{leaves: 1 << 20, want: 19},
		{leaves: 1 << 22, want: 21},
	} {
		require.Equal(t, tc.want, mzround.NewPlan(tc.leaves, 1).Rounds(), "leaves=%d", tc.leaves)
	}
}

func TestPlan_leafRound(t *testing.T) {
	t.Parallel()

	d := mzround.NewPlan(16, 4).Leaf()
	require.Equal(t, mzround.Descriptor{
		Round:       0,
		ReadOffset:  0,
		WriteOffset: 8,
		Items:       8,
		GroupSize:   4,
	}, d)
	require.Equal(t, 2, d.Groups())
}

func TestPlan_Round(t *testing.T) {
	t.Parallel()

	p := mzround.NewPlan(16, 4)
	require.Equal(t, 3, p.Rounds())

	require.Equal(t, []mzround.Descriptor{
		{Round: 1, ReadOffset: 8, WriteOffset: 4, Items: 4, GroupSize: 4},
		{Round: 2, ReadOffset: 4, WriteOffset: 2, Items: 2, GroupSize: 2},
		{Round: 3, ReadOffset: 2, WriteOffset: 1, Items: 1, GroupSize: 1},
	}, []mzround.Descriptor{p.Round(1), p.Round(2), p.Round(3)})

	require.Panics(t, func() { p.Round(0) })
	require.Panics(t, func() { p.Round(4) })
}

func TestPlan_levelsTileTheTree(t *testing.T) {
	t.Parallel()

	// Every slot in [1, N) is written by exactly one round,
	// and every read of a later round was written by the round before it.
	const n = 1 << 10
	p := mzround.NewPlan(n, 32)

	written := make([]int, n)
	prev := p.Leaf()
	for i := range prev.Items {
		written[prev.WriteOffset+i]++
	}

	for r := 1; r <= p.Rounds(); r++ {
		d := p.Round(r)
		require.Equal(t, prev.WriteRegion(), d.ReadRegion(), "round %d", r)
		require.Zero(t, d.Items%d.GroupSize)
		d.MustNotOverlap()

		for i := range d.Items {
			written[d.WriteOffset+i]++
		}
		prev = d
	}

	require.Equal(t, mzround.RootIndex, prev.WriteOffset)
	require.Equal(t, 1, prev.Items)

	require.Zero(t, written[0])
	for i := 1; i < n; i++ {
		require.Equal(t, 1, written[i], "slot %d", i)
	}
}

func TestNewPlan_panics(t *testing.T) {
	t.Parallel()

	require.Panics(t, func() { mzround.NewPlan(1, 1) })
	require.Panics(t, func() { mzround.NewPlan(12, 2) })
	require.Panics(t, func() { mzround.NewPlan(16, 3) })
	require.Panics(t, func() { mzround.NewPlan(16, 16) })
	require.NotPanics(t, func() { mzround.NewPlan(16, 8) })
}

func TestRegion_Overlaps(t *testing.T) {
	t.Parallel()

	a := mzround.Region{Start: 4, Len: 4}

	require.True(t, a.Overlaps(mzround.Region{Start: 7, Len: 1}))
	require.True(t, a.Overlaps(mzround.Region{Start: 0, Len: 5}))
	require.False(t, a.Overlaps(mzround.Region{Start: 8, Len: 4}))
	require.False(t, a.Overlaps(mzround.Region{Start: 0, Len: 4}))
	require.False(t, a.Overlaps(mzround.Region{Start: 5, Len: 0}))

	require.Equal(t, "[4, 8)", a.String())
}

func TestDescriptor_MustNotOverlap(t *testing.T) {
	t.Parallel()

	bad := mzround.Descriptor{Round: 1, ReadOffset: 4, WriteOffset: 5, Items: 2, GroupSize: 1}
	require.Panics(t, bad.MustNotOverlap)
}
