// Package mzdevicetest contains a compliance suite for [mzdevice.Device] implementations.
package mzdevicetest

import (
	"context"
	"testing"
	"time"

	"github.com/gordian-engine/merklize/mzdevice"
	"github.com/gordian-engine/merklize/mzhash"
	"github.com/gordian-engine/merklize/mzhash/mzblake3"
	"github.com/stretchr/testify/require"
)

// DeviceFactory returns a fresh device,
// along with that device's merklize kernel built around c.
//
// The kernel must take the arguments (in, in_offset, out, out_offset)
// with offsets counted in 8-word nodes,
// and work item i must compress in[in_offset+2i] and in[in_offset+2i+1]
// into out[out_offset+i].
type DeviceFactory func(t *testing.T, c mzhash.Compressor) (mzdevice.Device, mzdevice.Kernel)

func TestDeviceCompliance(t *testing.T, f DeviceFactory) {
	t.Run("write then read round trips", func(t *testing.T) {
		t.Parallel()

		dev, _ := f(t, mzblake3.Compressor{})

		buf, err := dev.Alloc(mzdevice.MemReadWrite, 16)
		require.NoError(t, err)
		defer func() { require.NoError(t, buf.Release()) }()

		src := make([]uint32, 16)
		for i := range src {
			src[i] = uint32(i * 7)
		}

		wEv, err := dev.EnqueueWrite(buf, 0, src, nil)
		require.NoError(t, err)
		defer func() { require.NoError(t, wEv.Release()) }()

		dst := make([]uint32, 8)
		rEv, err := dev.EnqueueRead(buf, 8, dst, []mzdevice.Event{wEv})
		require.NoError(t, err)
		defer func() { require.NoError(t, rEv.Release()) }()

		require.NoError(t, wait(t, rEv))
		require.Equal(t, src[8:], dst)
	})

	t.Run("dispatch computes parents", func(t *testing.T) {
		t.Parallel()

		c := mzblake3.Compressor{}
		dev, k := f(t, c)

		const nLeaves = 8
		leaves := make([]uint32, 8*nLeaves)
		for i := range leaves {
			leaves[i] = uint32(i) * 0x9e3779b9
		}

		in := alloc(t, dev, mzdevice.MemReadOnly, len(leaves))
		out := alloc(t, dev, mzdevice.MemReadWrite, len(leaves))
		inOff := alloc(t, dev, mzdevice.MemReadOnly, 1)
		outOff := alloc(t, dev, mzdevice.MemReadOnly, 1)

		evs := []mzdevice.Event{
			write(t, dev, in, leaves, nil),
			write(t, dev, inOff, []uint32{0}, nil),
			write(t, dev, outOff, []uint32{nLeaves / 2}, nil),
		}

		dEv, err := dev.EnqueueDispatch(k, []mzdevice.Buffer{in, inOff, out, outOff}, nLeaves/2, 2, evs)
		require.NoError(t, err)
		release(t, dEv)

		got := make([]uint32, 8*nLeaves/2)
		rEv, err := dev.EnqueueRead(out, 8*nLeaves/2, got, []mzdevice.Event{dEv})
		require.NoError(t, err)
		release(t, rEv)

		require.NoError(t, wait(t, rEv))

		for i := range nLeaves / 2 {
			var want mzhash.Node
			c.Compress(
				&want,
				(*mzhash.Node)(leaves[16*i:16*i+8]),
				(*mzhash.Node)(leaves[16*i+8:16*i+16]),
			)
			require.Equal(t, want[:], got[8*i:8*i+8], "parent %d", i)
		}
	})

	t.Run("dispatch may read and write one buffer", func(t *testing.T) {
		t.Parallel()

		c := mzblake3.Compressor{}
		dev, k := f(t, c)

		// Nodes 2 and 3 hold children; node 1 receives the parent.
		nodes := make([]uint32, 8*4)
		for i := range nodes {
			nodes[i] = uint32(i + 1)
		}

		buf := alloc(t, dev, mzdevice.MemReadWrite, len(nodes))
		inOff := alloc(t, dev, mzdevice.MemReadOnly, 1)
		outOff := alloc(t, dev, mzdevice.MemReadOnly, 1)

		evs := []mzdevice.Event{
			write(t, dev, buf, nodes, nil),
			write(t, dev, inOff, []uint32{2}, nil),
			write(t, dev, outOff, []uint32{1}, nil),
		}

		dEv, err := dev.EnqueueDispatch(k, []mzdevice.Buffer{buf, inOff, buf, outOff}, 1, 1, evs)
		require.NoError(t, err)
		release(t, dEv)

		got := make([]uint32, 8)
		rEv, err := dev.EnqueueRead(buf, 8, got, []mzdevice.Event{dEv})
		require.NoError(t, err)
		release(t, rEv)

		require.NoError(t, wait(t, rEv))

		var want mzhash.Node
		c.Compress(&want, (*mzhash.Node)(nodes[16:24]), (*mzhash.Node)(nodes[24:32]))
		require.Equal(t, want[:], got)
	})

	t.Run("profile reports ordered timestamps", func(t *testing.T) {
		t.Parallel()

		dev, _ := f(t, mzblake3.Compressor{})

		buf := alloc(t, dev, mzdevice.MemReadWrite, 1024)
		first := write(t, dev, buf, make([]uint32, 1024), nil)
		second := write(t, dev, buf, make([]uint32, 1024), []mzdevice.Event{first})

		require.NoError(t, wait(t, second))

		p1, err := first.Profile()
		require.NoError(t, err)
		p2, err := second.Profile()
		require.NoError(t, err)

		require.LessOrEqual(t, p1.Start, p1.End)
		require.LessOrEqual(t, p2.Start, p2.End)

		// The second write waited for the first.
		require.LessOrEqual(t, p1.End, p2.Start)
	})

	t.Run("rejects out of range transfers", func(t *testing.T) {
		t.Parallel()

		dev, _ := f(t, mzblake3.Compressor{})
		buf := alloc(t, dev, mzdevice.MemReadWrite, 4)

		_, err := dev.EnqueueWrite(buf, 2, make([]uint32, 4), nil)
		require.Error(t, err)
		require.Equal(t, mzdevice.StatusInvalidValue, mzdevice.StatusOf(err))

		_, err = dev.EnqueueRead(buf, -1, make([]uint32, 1), nil)
		require.Error(t, err)
		require.Equal(t, mzdevice.StatusInvalidValue, mzdevice.StatusOf(err))
	})

	t.Run("rejects uneven work groups", func(t *testing.T) {
		t.Parallel()

		dev, k := f(t, mzblake3.Compressor{})
		in := alloc(t, dev, mzdevice.MemReadOnly, 8*8)
		out := alloc(t, dev, mzdevice.MemReadWrite, 8*8)
		inOff := alloc(t, dev, mzdevice.MemReadOnly, 1)
		outOff := alloc(t, dev, mzdevice.MemReadOnly, 1)

		_, err := dev.EnqueueDispatch(k, []mzdevice.Buffer{in, inOff, out, outOff}, 4, 3, nil)
		require.Error(t, err)
		require.Equal(t, mzdevice.StatusInvalidWorkGroupSize, mzdevice.StatusOf(err))
	})

	t.Run("double release fails", func(t *testing.T) {
		t.Parallel()

		dev, _ := f(t, mzblake3.Compressor{})

		buf, err := dev.Alloc(mzdevice.MemReadWrite, 1)
		require.NoError(t, err)

		ev, err := dev.EnqueueWrite(buf, 0, []uint32{1}, nil)
		require.NoError(t, err)
		require.NoError(t, wait(t, ev))

		require.NoError(t, ev.Release())
		require.Error(t, ev.Release())

		require.NoError(t, buf.Release())
		require.Error(t, buf.Release())
	})

	t.Run("released buffers are rejected", func(t *testing.T) {
		t.Parallel()

		dev, _ := f(t, mzblake3.Compressor{})

		buf, err := dev.Alloc(mzdevice.MemReadWrite, 1)
		require.NoError(t, err)
		require.NoError(t, buf.Release())

		_, err = dev.EnqueueWrite(buf, 0, []uint32{1}, nil)
		require.Error(t, err)
		require.Equal(t, mzdevice.StatusInvalidMemObject, mzdevice.StatusOf(err))
	})
}

func wait(t *testing.T, evs ...mzdevice.Event) error {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return mzdevice.Wait(ctx, evs...)
}

func alloc(t *testing.T, dev mzdevice.Device, flags mzdevice.MemFlags, words int) mzdevice.Buffer {
	t.Helper()

	b, err := dev.Alloc(flags, words)
	require.NoError(t, err)
	release(t, b)
	return b
}

func write(
	t *testing.T, dev mzdevice.Device, dst mzdevice.Buffer, src []uint32, deps []mzdevice.Event,
) mzdevice.Event {
	t.Helper()

	ev, err := dev.EnqueueWrite(dst, 0, src, deps)
	require.NoError(t, err)
	release(t, ev)
	return ev
}

type releaser interface {
	Release() error
}

// release schedules r to be released during test cleanup.
// Cleanups run in reverse order, after the test body has waited on its events.
func release(t *testing.T, r releaser) {
	t.Cleanup(func() {
		if err := r.Release(); err != nil {
			t.Errorf("release during cleanup: %v", err)
		}
	})
}
