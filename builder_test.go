package merklize_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gordian-engine/merklize"
	"github.com/gordian-engine/merklize/internal/mztest"
	"github.com/gordian-engine/merklize/mzdevice"
	"github.com/gordian-engine/merklize/mzhash"
	"github.com/gordian-engine/merklize/mzhash/mzblake3"
	"github.com/gordian-engine/merklize/mzhash/mzsha256"
	"github.com/gordian-engine/merklize/mzhost"
	"github.com/gordian-engine/merklize/mzmetrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// newFixture returns a builder on a fresh software device,
// and fails the test if any device resource outlives the test.
func newFixture(t *testing.T, devCfg mzhost.DeviceConfig) (*merklize.Builder, *mzhost.Device) {
	t.Helper()

	log := mztest.NewLogger(t)
	dev := mzhost.NewDevice(log.With("sys", "device"), devCfg)
	t.Cleanup(func() {
		dev.Wait()
		require.Zero(t, dev.LiveBuffers(), "leaked buffers")
		require.Zero(t, dev.LiveEvents(), "leaked events")
		require.Zero(t, dev.AllocatedWords())
	})

	b := merklize.NewBuilder(log.With("sys", "builder"), merklize.BuilderConfig{
		Device:    dev,
		Kernel:    mzhost.NewMerklizeKernel(mzblake3.Compressor{}),
		MinLeaves: 2,
	})
	return b, dev
}

func TestBuild_matchesSequential(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name      string
		leaves    int
		groupSize int
	}{
		{name: "4 leaves", leaves: 4, groupSize: 1},
		{name: "8 leaves", leaves: 8, groupSize: 2},
		{name: "64 leaves", leaves: 64, groupSize: 8},
		{name: "1024 leaves", leaves: 1024, groupSize: 32},
		{name: "4096 leaves default group", leaves: 4096},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			b, _ := newFixture(t, mzhost.DeviceConfig{})
			leaves := mztest.RandomLeavesForTest(t, tc.leaves)

			res, err := b.Build(context.Background(), leaves, merklize.BuildOptions{
				GroupSize: tc.groupSize,
			})
			require.NoError(t, err)

			want, err := merklize.BuildSequential(mzblake3.Compressor{}, leaves, merklize.OutputFullTree)
			require.NoError(t, err)

			require.Equal(t, want, res.Nodes)
			requireValidTree(t, mzblake3.Compressor{}, leaves, res.Nodes)
		})
	}
}

func TestBuild_otherCompressor(t *testing.T) {
	t.Parallel()

	log := mztest.NewLogger(t)
	dev := mzhost.NewDevice(log, mzhost.DeviceConfig{Workers: 3})
	b := merklize.NewBuilder(log, merklize.BuilderConfig{
		Device:    dev,
		Kernel:    mzhost.NewMerklizeKernel(mzsha256.Compressor{}),
		MinLeaves: 2,
	})

	leaves := mztest.RandomLeavesForTest(t, 128)
	res, err := b.Build(context.Background(), leaves, merklize.BuildOptions{GroupSize: 4})
	require.NoError(t, err)

	requireValidTree(t, mzsha256.Compressor{}, leaves, res.Nodes)

	blake, err := merklize.BuildSequential(mzblake3.Compressor{}, leaves, merklize.OutputRootOnly)
	require.NoError(t, err)
	require.NotEqual(t, blake, res.Root())
}

func TestBuild_twoLeaves(t *testing.T) {
	t.Parallel()

	b, _ := newFixture(t, mzhost.DeviceConfig{})

	leaves := make([]byte, 64)
	for i := range leaves {
		leaves[i] = byte(i)
	}

	res, err := b.Build(context.Background(), leaves, merklize.BuildOptions{GroupSize: 1})
	require.NoError(t, err)

	require.Zero(t, res.Rounds)
	require.Len(t, res.Nodes, 64)
	require.Equal(t, make([]byte, 32), res.Nodes[:32], "slot 0 must stay zero")
	require.Equal(t, goldenRoot(t), res.Root())
	require.Len(t, res.Timing.PerRound, 1)
}

// dirtyDevice fills every new buffer with a garbage pattern,
// as a device that does not zero its allocations would.
type dirtyDevice struct {
	*mzhost.Device
}

func (d dirtyDevice) Alloc(flags mzdevice.MemFlags, words int) (mzdevice.Buffer, error) {
	buf, err := d.Device.Alloc(flags, words)
	if err != nil {
		return nil, err
	}

	garbage := make([]uint32, words)
	for i := range garbage {
		garbage[i] = 0xdeadbeef
	}
	ev, err := d.Device.EnqueueWrite(buf, 0, garbage, nil)
	if err != nil {
		return nil, errors.Join(err, buf.Release())
	}
	werr := mzdevice.Wait(context.Background(), ev)
	return buf, errors.Join(werr, ev.Release())
}

func TestBuild_slotZeroIgnoresStaleDeviceMemory(t *testing.T) {
	t.Parallel()

	log := mztest.NewLogger(t)
	dev := mzhost.NewDevice(log.With("sys", "device"), mzhost.DeviceConfig{})
	t.Cleanup(func() {
		dev.Wait()
		require.Zero(t, dev.LiveBuffers(), "leaked buffers")
		require.Zero(t, dev.LiveEvents(), "leaked events")
	})

	b := merklize.NewBuilder(log.With("sys", "builder"), merklize.BuilderConfig{
		Device:    dirtyDevice{Device: dev},
		Kernel:    mzhost.NewMerklizeKernel(mzblake3.Compressor{}),
		MinLeaves: 2,
	})

	leaves := mztest.RandomLeavesForTest(t, 16)
	res, err := b.Build(context.Background(), leaves, merklize.BuildOptions{GroupSize: 2})
	require.NoError(t, err)

	want, err := merklize.BuildSequential(mzblake3.Compressor{}, leaves, merklize.OutputFullTree)
	require.NoError(t, err)

	require.Equal(t, make([]byte, 32), res.Nodes[:32])
	require.Equal(t, want, res.Nodes)
}

func TestResult_rootOfEmptyResult(t *testing.T) {
	t.Parallel()

	require.Nil(t, merklize.Result{}.Root())
	require.Nil(t, merklize.Result{Output: merklize.OutputRootOnly}.Root())

	b, _ := newFixture(t, mzhost.DeviceConfig{})
	res, err := b.Build(context.Background(), make([]byte, 3*32), merklize.BuildOptions{})
	require.Error(t, err)
	require.Nil(t, res.Root())
}

func TestBuild_rootOnlyMatchesFullTree(t *testing.T) {
	t.Parallel()

	b, _ := newFixture(t, mzhost.DeviceConfig{})
	leaves := mztest.RandomLeavesForTest(t, 512)

	full, err := b.Build(context.Background(), leaves, merklize.BuildOptions{GroupSize: 16})
	require.NoError(t, err)

	root, err := b.Build(context.Background(), leaves, merklize.BuildOptions{
		GroupSize: 16,
		Output:    merklize.OutputRootOnly,
	})
	require.NoError(t, err)

	require.Len(t, root.Nodes, 32)
	require.Equal(t, full.Root(), root.Root())
	require.Equal(t, full.Rounds, root.Rounds)
}

func TestBuild_idempotentAcrossGroupSizes(t *testing.T) {
	t.Parallel()

	b, _ := newFixture(t, mzhost.DeviceConfig{})
	leaves := mztest.RandomLeavesForTest(t, 256)

	var first []byte
	for _, g := range []int{1, 2, 4, 8, 16, 32, 64, 128} {
		res, err := b.Build(context.Background(), leaves, merklize.BuildOptions{
			GroupSize: g,
			Output:    merklize.OutputRootOnly,
		})
		require.NoError(t, err, "group size %d", g)

		if first == nil {
			first = res.Root()
			continue
		}
		require.Equal(t, first, res.Root(), "group size %d", g)
	}

	// Repeated calls with the same input agree too.
	again, err := b.Build(context.Background(), leaves, merklize.BuildOptions{Output: merklize.OutputRootOnly})
	require.NoError(t, err)
	require.Equal(t, first, again.Root())
}

func TestBuild_leavesAffectRoot(t *testing.T) {
	t.Parallel()

	b, _ := newFixture(t, mzhost.DeviceConfig{})
	leaves := mztest.RandomLeavesForTest(t, 64)

	orig, err := b.Build(context.Background(), leaves, merklize.BuildOptions{Output: merklize.OutputRootOnly})
	require.NoError(t, err)

	// Build must not modify the caller's leaves.
	require.Equal(t, mztest.RandomLeavesForTest(t, 64), leaves)

	leaves[17*32+5] ^= 1
	changed, err := b.Build(context.Background(), leaves, merklize.BuildOptions{Output: merklize.OutputRootOnly})
	require.NoError(t, err)

	require.NotEqual(t, orig.Root(), changed.Root())
}

func TestBuild_largeTree(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping 2^20 leaf build in short mode")
	}
	t.Parallel()

	log := mztest.NewLogger(t)
	dev := mzhost.NewDevice(log, mzhost.DeviceConfig{})
	b := merklize.NewBuilder(log, merklize.BuilderConfig{
		Device: dev,
		Kernel: mzhost.NewMerklizeKernel(mzblake3.Compressor{}),
	})

	leaves := mztest.RandomLeavesForTest(t, merklize.MinParallelLeaves)

	res, err := b.Build(context.Background(), leaves, merklize.BuildOptions{
		GroupSize: 32,
		Output:    merklize.OutputRootOnly,
	})
	require.NoError(t, err)
	require.Equal(t, 19, res.Rounds)
	require.Len(t, res.Timing.PerRound, 20)

	want, err := merklize.BuildSequential(mzblake3.Compressor{}, leaves, merklize.OutputRootOnly)
	require.NoError(t, err)
	require.Equal(t, want, res.Root())

	dev.Wait()
	require.Zero(t, dev.LiveBuffers())
	require.Zero(t, dev.LiveEvents())
}

func TestBuild_invalidArguments(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name      string
		leafBytes int
		groupSize int
		want      error
	}{
		{name: "empty", leafBytes: 0, want: merklize.ErrLeafDataLength},
		{name: "partial leaf", leafBytes: 8*32 + 1, want: merklize.ErrLeafDataLength},
		{name: "one leaf", leafBytes: 32, want: merklize.ErrTooFewLeaves},
		{name: "not power of two", leafBytes: 12 * 32, want: merklize.ErrNotPowerOfTwo},
		{name: "group not power of two", leafBytes: 16 * 32, groupSize: 3, want: merklize.ErrInvalidGroupSize},
		{name: "negative group", leafBytes: 16 * 32, groupSize: -4, want: merklize.ErrInvalidGroupSize},
		{name: "group above half", leafBytes: 16 * 32, groupSize: 16, want: merklize.ErrInvalidGroupSize},
		{name: "group above device max", leafBytes: 64 * 32, groupSize: 32, want: merklize.ErrInvalidGroupSize},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			b, dev := newFixture(t, mzhost.DeviceConfig{
				MaxGroupSize: 16,

				// Any device command at all fails the test.
				Faults: []mzhost.Fault{
					{Kind: mzhost.CommandAlloc, Nth: 1, Status: mzdevice.StatusInvalidValue},
				},
			})

			_, err := b.Build(context.Background(), make([]byte, tc.leafBytes), merklize.BuildOptions{
				GroupSize: tc.groupSize,
			})
			require.ErrorIs(t, err, tc.want)

			var iae *merklize.InvalidArgumentError
			require.ErrorAs(t, err, &iae)

			var de *merklize.DeviceError
			require.False(t, errors.As(err, &de), "no device command should have run")
			require.Zero(t, dev.LiveBuffers())
		})
	}
}

func TestBuild_minLeaves(t *testing.T) {
	t.Parallel()

	log := mztest.NewLogger(t)
	dev := mzhost.NewDevice(log, mzhost.DeviceConfig{})
	b := merklize.NewBuilder(log, merklize.BuilderConfig{
		Device: dev,
		Kernel: mzhost.NewMerklizeKernel(mzblake3.Compressor{}),
	})

	_, err := b.Build(context.Background(), make([]byte, 1024*32), merklize.BuildOptions{})
	require.ErrorIs(t, err, merklize.ErrTooFewLeaves)
	require.Zero(t, dev.LiveBuffers())
}

func TestBuild_allocationFailure(t *testing.T) {
	t.Parallel()

	const n = 64

	// Room for the leaf buffer but not the node buffer.
	b, _ := newFixture(t, mzhost.DeviceConfig{MaxAllocWords: n*8 + 4})

	_, err := b.Build(context.Background(), mztest.RandomLeavesForTest(t, n), merklize.BuildOptions{})

	var de *merklize.DeviceError
	require.ErrorAs(t, err, &de)
	require.Equal(t, merklize.PhaseAlloc, de.Phase)
	require.Equal(t, -1, de.Round)
	require.Equal(t, mzdevice.StatusMemObjectAllocationFailure, de.Status())
}

func TestBuild_offsetAllocationFailure(t *testing.T) {
	t.Parallel()

	// Allocs are leaf buffer, node buffer, then two offsets per round.
	// The fifth alloc is round 1's read offset.
	b, _ := newFixture(t, mzhost.DeviceConfig{
		Faults: []mzhost.Fault{{Kind: mzhost.CommandAlloc, Nth: 5}},
	})

	_, err := b.Build(context.Background(), mztest.RandomLeavesForTest(t, 32), merklize.BuildOptions{})

	var de *merklize.DeviceError
	require.ErrorAs(t, err, &de)
	require.Equal(t, merklize.PhaseAlloc, de.Phase)
	require.Equal(t, 1, de.Round)
	require.Equal(t, mzdevice.StatusOutOfResources, de.Status())
}

func TestBuild_enqueueFailures(t *testing.T) {
	t.Parallel()

	// Writes are numbered: 1 for the leaves, then 2r+2 and 2r+3 for round r's offsets.
	for _, tc := range []struct {
		name      string
		fault     mzhost.Fault
		wantPhase merklize.Phase
		wantRound int
	}{
		{
			name:      "leaf write",
			fault:     mzhost.Fault{Kind: mzhost.CommandWrite, Nth: 1},
			wantPhase: merklize.PhaseLeafWrite,
			wantRound: -1,
		},
		{
			name:      "offset write",
			fault:     mzhost.Fault{Kind: mzhost.CommandWrite, Nth: 5},
			wantPhase: merklize.PhaseOffsetWrite,
			wantRound: 1,
		},
		{
			name:      "first dispatch",
			fault:     mzhost.Fault{Kind: mzhost.CommandDispatch, Nth: 1},
			wantPhase: merklize.PhaseDispatch,
			wantRound: 0,
		},
		{
			name:      "later dispatch",
			fault:     mzhost.Fault{Kind: mzhost.CommandDispatch, Nth: 4},
			wantPhase: merklize.PhaseDispatch,
			wantRound: 3,
		},
		{
			name:      "read back",
			fault:     mzhost.Fault{Kind: mzhost.CommandRead, Nth: 1},
			wantPhase: merklize.PhaseReadBack,
			wantRound: -1,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			tc.fault.Stage = mzhost.StageEnqueue
			tc.fault.Status = mzdevice.StatusOutOfHostMemory
			b, _ := newFixture(t, mzhost.DeviceConfig{Faults: []mzhost.Fault{tc.fault}})

			_, err := b.Build(context.Background(), mztest.RandomLeavesForTest(t, 64), merklize.BuildOptions{})

			var de *merklize.DeviceError
			require.ErrorAs(t, err, &de)
			require.Equal(t, tc.wantPhase, de.Phase)
			require.Equal(t, tc.wantRound, de.Round)
			require.Equal(t, mzdevice.StatusOutOfHostMemory, de.Status())
		})
	}
}

func TestBuild_executionFailureReportsRootCause(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name      string
		fault     mzhost.Fault
		wantPhase merklize.Phase
		wantRound int
	}{
		{
			name:      "leaf write",
			fault:     mzhost.Fault{Kind: mzhost.CommandWrite, Nth: 1},
			wantPhase: merklize.PhaseLeafWrite,
			wantRound: -1,
		},
		{
			name:      "offset write",
			fault:     mzhost.Fault{Kind: mzhost.CommandWrite, Nth: 7},
			wantPhase: merklize.PhaseOffsetWrite,
			wantRound: 2,
		},
		{
			name:      "dispatch",
			fault:     mzhost.Fault{Kind: mzhost.CommandDispatch, Nth: 2},
			wantPhase: merklize.PhaseDispatch,
			wantRound: 1,
		},
		{
			name:      "read back",
			fault:     mzhost.Fault{Kind: mzhost.CommandRead, Nth: 1},
			wantPhase: merklize.PhaseReadBack,
			wantRound: -1,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			tc.fault.Stage = mzhost.StageExecute
			b, _ := newFixture(t, mzhost.DeviceConfig{Faults: []mzhost.Fault{tc.fault}})

			_, err := b.Build(context.Background(), mztest.RandomLeavesForTest(t, 64), merklize.BuildOptions{})

			var de *merklize.DeviceError
			require.ErrorAs(t, err, &de)
			require.Equal(t, tc.wantPhase, de.Phase)
			require.Equal(t, tc.wantRound, de.Round)
			require.Equal(t, mzdevice.StatusOutOfResources, de.Status())
			require.False(t, mzdevice.IsDependencyFailure(de.Err))
		})
	}
}

func TestBuild_kernelFailure(t *testing.T) {
	t.Parallel()

	log := mztest.NewLogger(t)
	dev := mzhost.NewDevice(log, mzhost.DeviceConfig{})
	t.Cleanup(func() {
		dev.Wait()
		require.Zero(t, dev.LiveBuffers())
		require.Zero(t, dev.LiveEvents())
	})

	errBoom := errors.New("boom")
	k := mzhost.NewKernel(
		"failing",
		[]mzhost.Param{
			{Name: "in", Access: mzhost.AccessRead},
			{Name: "in_offset", Access: mzhost.AccessRead},
			{Name: "out", Access: mzhost.AccessWrite},
			{Name: "out_offset", Access: mzhost.AccessRead},
		},
		func(int, [][]uint32) error { return errBoom },
	)
	b := merklize.NewBuilder(log, merklize.BuilderConfig{Device: dev, Kernel: k, MinLeaves: 2})

	_, err := b.Build(context.Background(), mztest.RandomLeavesForTest(t, 16), merklize.BuildOptions{})
	require.ErrorIs(t, err, errBoom)

	var de *merklize.DeviceError
	require.ErrorAs(t, err, &de)
	require.Equal(t, merklize.PhaseDispatch, de.Phase)
	require.Zero(t, de.Round)
}

func TestBuild_contextCanceledBeforeStart(t *testing.T) {
	t.Parallel()

	b, dev := newFixture(t, mzhost.DeviceConfig{
		Faults: []mzhost.Fault{{Kind: mzhost.CommandAlloc, Nth: 1, Status: mzdevice.StatusInvalidValue}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Build(ctx, mztest.RandomLeavesForTest(t, 16), merklize.BuildOptions{})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, dev.LiveBuffers())
}

func TestBuild_contextCanceledWhileWaiting(t *testing.T) {
	t.Parallel()

	log := mztest.NewLogger(t)
	dev := mzhost.NewDevice(log, mzhost.DeviceConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The first work item cancels the context and stalls until the cancellation is visible.
	unblock := make(chan struct{})
	var once sync.Once
	c := mzblake3.Compressor{}
	k := mzhost.NewKernel(
		"stalling",
		[]mzhost.Param{
			{Name: "in", Access: mzhost.AccessRead},
			{Name: "in_offset", Access: mzhost.AccessRead},
			{Name: "out", Access: mzhost.AccessWrite},
			{Name: "out_offset", Access: mzhost.AccessRead},
		},
		func(item int, args [][]uint32) error {
			once.Do(func() {
				cancel()
				<-unblock
			})
			in, out := args[0], args[2]
			src := (int(args[1][0]) + 2*item) * 8
			dst := (int(args[3][0]) + item) * 8
			c.Compress(
				(*mzhash.Node)(out[dst:dst+8]),
				(*mzhash.Node)(in[src:src+8]),
				(*mzhash.Node)(in[src+8:src+16]),
			)
			return nil
		},
	)
	b := merklize.NewBuilder(log, merklize.BuilderConfig{Device: dev, Kernel: k, MinLeaves: 2})

	go func() {
		<-ctx.Done()
		close(unblock)
	}()

	start := time.Now()
	_, err := b.Build(ctx, mztest.RandomLeavesForTest(t, 64), merklize.BuildOptions{GroupSize: 4})
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), 10*time.Second)

	// Build drained the device before returning.
	require.Zero(t, dev.LiveBuffers())
	require.Zero(t, dev.LiveEvents())
}

func TestBuild_timing(t *testing.T) {
	t.Parallel()

	b, _ := newFixture(t, mzhost.DeviceConfig{})
	leaves := mztest.RandomLeavesForTest(t, 4096)

	start := time.Now()
	res, err := b.Build(context.Background(), leaves, merklize.BuildOptions{})
	wall := time.Since(start)
	require.NoError(t, err)

	require.False(t, res.Timing.Partial)
	require.Len(t, res.Timing.PerRound, res.Rounds+1)

	var sum time.Duration
	for _, d := range res.Timing.PerRound {
		require.GreaterOrEqual(t, d, time.Duration(0))
		sum += d
	}
	require.Equal(t, res.Timing.Compute, sum)
	require.Positive(t, res.Timing.Compute)

	// Dispatches run one after another, so their sum fits in the call's wall time.
	require.LessOrEqual(t, res.Timing.Compute, wall)
	require.GreaterOrEqual(t, res.Timing.HostToDevice, time.Duration(0))
	require.GreaterOrEqual(t, res.Timing.DeviceToHost, time.Duration(0))
}

func TestBuild_timingModes(t *testing.T) {
	t.Parallel()

	profileFault := []mzhost.Fault{
		{Kind: mzhost.CommandDispatch, Nth: 2, Stage: mzhost.StageProfile},
	}

	t.Run("required", func(t *testing.T) {
		t.Parallel()

		b, _ := newFixture(t, mzhost.DeviceConfig{Faults: profileFault})
		_, err := b.Build(context.Background(), mztest.RandomLeavesForTest(t, 32), merklize.BuildOptions{})

		var te *merklize.TimingError
		require.ErrorAs(t, err, &te)
		require.Equal(t, 1, te.Missing)
		require.Equal(t, mzdevice.StatusProfilingInfoNotAvailable, mzdevice.StatusOf(err))
	})

	t.Run("best effort", func(t *testing.T) {
		t.Parallel()

		b, _ := newFixture(t, mzhost.DeviceConfig{Faults: profileFault})
		leaves := mztest.RandomLeavesForTest(t, 32)
		res, err := b.Build(context.Background(), leaves, merklize.BuildOptions{
			Timing: merklize.TimingBestEffort,
		})
		require.NoError(t, err)
		require.True(t, res.Timing.Partial)
		require.Zero(t, res.Timing.PerRound[1])

		want, err := merklize.BuildSequential(mzblake3.Compressor{}, leaves, merklize.OutputFullTree)
		require.NoError(t, err)
		require.Equal(t, want, res.Nodes)
	})

	t.Run("disabled", func(t *testing.T) {
		t.Parallel()

		b, _ := newFixture(t, mzhost.DeviceConfig{Faults: profileFault})
		res, err := b.Build(context.Background(), mztest.RandomLeavesForTest(t, 32), merklize.BuildOptions{
			Timing: merklize.TimingDisabled,
		})
		require.NoError(t, err)
		require.Zero(t, res.Timing)
	})
}

func TestBuild_concurrentCalls(t *testing.T) {
	t.Parallel()

	b, _ := newFixture(t, mzhost.DeviceConfig{})

	var eg errgroup.Group
	for i := range 8 {
		eg.Go(func() error {
			leaves := mztest.RandomDataForTest(t, (64<<(i%5))*32)
			res, err := b.Build(context.Background(), leaves, merklize.BuildOptions{})
			if err != nil {
				return err
			}

			want, err := merklize.BuildSequential(mzblake3.Compressor{}, leaves, merklize.OutputFullTree)
			if err != nil {
				return err
			}
			if string(want) != string(res.Nodes) {
				return errors.New("concurrent build produced a different tree")
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())
}

func TestBuild_metrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	m, err := mzmetrics.New(reg)
	require.NoError(t, err)

	log := mztest.NewLogger(t)
	dev := mzhost.NewDevice(log, mzhost.DeviceConfig{
		Faults: []mzhost.Fault{{Kind: mzhost.CommandDispatch, Nth: 3, Stage: mzhost.StageExecute}},
	})
	b := merklize.NewBuilder(log, merklize.BuilderConfig{
		Device:    dev,
		Kernel:    mzhost.NewMerklizeKernel(mzblake3.Compressor{}),
		MinLeaves: 2,
		Metrics:   m,
	})

	// Two dispatches: succeeds.
	_, err = b.Build(context.Background(), mztest.RandomLeavesForTest(t, 4), merklize.BuildOptions{})
	require.NoError(t, err)

	// Third dispatch fails.
	_, err = b.Build(context.Background(), mztest.RandomLeavesForTest(t, 4), merklize.BuildOptions{})
	require.Error(t, err)

	_, err = b.Build(context.Background(), make([]byte, 3*32), merklize.BuildOptions{})
	require.Error(t, err)

	const want = `
# HELP merklize_builds_total Number of tree builds, by outcome.
# TYPE merklize_builds_total counter
merklize_builds_total{outcome="canceled"} 0
merklize_builds_total{outcome="device_error"} 1
merklize_builds_total{outcome="invalid_argument"} 1
merklize_builds_total{outcome="ok"} 1
merklize_builds_total{outcome="release_error"} 0
merklize_builds_total{outcome="timing_error"} 0
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(want), "merklize_builds_total"))

	n, err := testutil.GatherAndCount(reg, "merklize_rounds")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestNewBuilder_panics(t *testing.T) {
	t.Parallel()

	log := mztest.NewLogger(t)
	dev := mzhost.NewDevice(log, mzhost.DeviceConfig{})
	k := mzhost.NewMerklizeKernel(mzblake3.Compressor{})

	require.Panics(t, func() {
		merklize.NewBuilder(log, merklize.BuilderConfig{Kernel: k})
	})
	require.Panics(t, func() {
		merklize.NewBuilder(log, merklize.BuilderConfig{Device: dev})
	})
	require.Panics(t, func() {
		merklize.NewBuilder(log, merklize.BuilderConfig{Device: dev, Kernel: k, MinLeaves: 1})
	})
}

func BenchmarkBuild(b *testing.B) {
	for _, n := range []int{1 << 20, 1 << 21, 1 << 22} {
		b.Run(benchName(n), func(b *testing.B) {
			log := mztest.NewLogger(b)
			dev := mzhost.NewDevice(log, mzhost.DeviceConfig{})
			builder := merklize.NewBuilder(log, merklize.BuilderConfig{
				Device: dev,
				Kernel: mzhost.NewMerklizeKernel(mzblake3.Compressor{}),
			})
			leaves := mztest.RandomLeavesForTest(b, n)

			b.SetBytes(int64(len(leaves)))

			var compute time.Duration
			for b.Loop() {
				res, err := builder.Build(context.Background(), leaves, merklize.BuildOptions{
					GroupSize: 32,
					Output:    merklize.OutputRootOnly,
				})
				if err != nil {
					b.Fatal(err)
				}
				compute += res.Timing.Compute
			}
			b.ReportMetric(float64(compute.Nanoseconds())/float64(b.N), "compute-ns/op")
		})
	}
}

func benchName(n int) string {
	switch n {
	case 1 << 20:
		return "2^20"
	case 1 << 21:
		return "2^21"
	case 1 << 22:
		return "2^22"
	default:
		panic("unreachable")
	}
}
