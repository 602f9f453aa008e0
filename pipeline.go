package merklize

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gordian-engine/merklize/internal/mzreclaim"
	"github.com/gordian-engine/merklize/internal/mzround"
	"github.com/gordian-engine/merklize/internal/mztiming"
	"github.com/gordian-engine/merklize/internal/mztrace"
	"github.com/gordian-engine/merklize/mzdevice"
	"github.com/gordian-engine/merklize/mzword"
)

// buildState is the state of one in-progress call to [*Builder.Build].
type buildState struct {
	b    *Builder
	log  *slog.Logger
	span mztrace.Span

	// Owns every buffer and event created for the build.
	scope *mzreclaim.Scope

	timing mztiming.Aggregator

	// Every enqueued command, in enqueue order,
	// for locating the first failure after the fact.
	cmds []command
}

type command struct {
	phase Phase
	round int
	ev    mzdevice.Event
}

func (s *buildState) run(
	ctx context.Context, plan mzround.Plan, leaves []byte, opts BuildOptions,
) (Result, error) {
	nodeWords := plan.Leaves * mzword.WordsPerNode

	in, err := s.alloc("leaf buffer", -1, mzdevice.MemReadOnly, nodeWords)
	if err != nil {
		return Result{}, err
	}
	nodes, err := s.alloc("node buffer", -1, mzdevice.MemReadWrite, nodeWords)
	if err != nil {
		return Result{}, err
	}

	// The same host slice later receives a full-tree read back.
	// That read depends transitively on the leaf write,
	// so the two transfers never touch it concurrently.
	words := make([]uint32, nodeWords)
	mzword.Encode(words, leaves)

	leafEv, err := s.write(PhaseLeafWrite, -1, "leaf write", in, words, nil)
	if err != nil {
		return Result{}, err
	}

	prev, err := s.dispatch(plan.Leaf(), in, nodes, []mzdevice.Event{leafEv})
	if err != nil {
		return Result{}, err
	}

	for r := 1; r <= plan.Rounds(); r++ {
		d := plan.Round(r)

		// Input and output share the node buffer from here on.
		d.MustNotOverlap()

		prev, err = s.dispatch(d, nodes, nodes, []mzdevice.Event{prev})
		if err != nil {
			return Result{}, err
		}
	}

	var dst []uint32
	var srcOffset int
	switch opts.Output {
	case OutputFullTree:
		dst = words
	case OutputRootOnly:
		dst = make([]uint32, mzword.WordsPerNode)
		srcOffset = mzround.RootIndex * mzword.WordsPerNode
	}

	readEv, err := s.b.dev.EnqueueRead(nodes, srcOffset, dst, []mzdevice.Event{prev})
	if err != nil {
		return Result{}, &DeviceError{Phase: PhaseReadBack, Round: -1, Err: err}
	}
	s.track(PhaseReadBack, -1, "read back", readEv)
	s.timing.Add(mztiming.DeviceToHost, "read back", readEv)

	// The only blocking point of the build.
	if err := mzdevice.Wait(ctx, readEv); err != nil {
		if ctx.Err() != nil {
			s.log.Info("Build canceled while waiting for device", "err", err)
			return Result{}, err
		}
		return Result{}, s.firstFailure(err)
	}

	if opts.Output == OutputFullTree {
		// Nothing writes slot 0, and device buffers are not zeroed on allocation.
		clear(dst[:mzword.WordsPerNode])
	}

	res := Result{
		Nodes:  make([]byte, len(dst)*4),
		Rounds: plan.Rounds(),
		Output: opts.Output,
	}
	mzword.Decode(res.Nodes, dst)

	if opts.Timing != TimingDisabled {
		t, err := s.aggregateTiming(opts.Timing)
		if err != nil {
			return Result{}, err
		}
		res.Timing = t
	}

	return res, nil
}

// alloc allocates a device buffer owned by the build's scope.
func (s *buildState) alloc(
	label string, round int, flags mzdevice.MemFlags, words int,
) (mzdevice.Buffer, error) {
	buf, err := s.b.dev.Alloc(flags, words)
	if err != nil {
		s.log.Warn("Device allocation failed", "label", label, "words", words, "err", err)
		return nil, &DeviceError{Phase: PhaseAlloc, Round: round, Err: err}
	}
	s.scope.Add(label, buf)
	return buf, nil
}

// write enqueues a host to device transfer at offset 0 of dst.
func (s *buildState) write(
	phase Phase, round int, label string, dst mzdevice.Buffer, src []uint32, wait []mzdevice.Event,
) (mzdevice.Event, error) {
	ev, err := s.b.dev.EnqueueWrite(dst, 0, src, wait)
	if err != nil {
		return nil, &DeviceError{Phase: phase, Round: round, Err: err}
	}
	s.track(phase, round, label, ev)
	s.timing.Add(mztiming.HostToDevice, label, ev)
	return ev, nil
}

// dispatch uploads the offsets of d into fresh single-word buffers
// and enqueues the round's kernel,
// waiting on the offset uploads and on deps.
//
// Each round gets its own offset buffers
// so their uploads need not wait for the previous round's dispatch.
func (s *buildState) dispatch(
	d mzround.Descriptor, in, out mzdevice.Buffer, deps []mzdevice.Event,
) (mzdevice.Event, error) {
	inOff, err := s.alloc(fmt.Sprintf("round %d read offset", d.Round), d.Round, mzdevice.MemReadOnly, 1)
	if err != nil {
		return nil, err
	}
	outOff, err := s.alloc(fmt.Sprintf("round %d write offset", d.Round), d.Round, mzdevice.MemReadOnly, 1)
	if err != nil {
		return nil, err
	}

	inEv, err := s.write(
		PhaseOffsetWrite, d.Round, fmt.Sprintf("round %d read offset write", d.Round),
		inOff, []uint32{uint32(d.ReadOffset)}, nil,
	)
	if err != nil {
		return nil, err
	}
	outEv, err := s.write(
		PhaseOffsetWrite, d.Round, fmt.Sprintf("round %d write offset write", d.Round),
		outOff, []uint32{uint32(d.WriteOffset)}, nil,
	)
	if err != nil {
		return nil, err
	}

	wait := append([]mzdevice.Event{inEv, outEv}, deps...)
	ev, err := s.b.dev.EnqueueDispatch(
		s.b.kernel, []mzdevice.Buffer{in, inOff, out, outOff}, d.Items, d.GroupSize, wait,
	)
	if err != nil {
		s.log.Warn("Dispatch rejected", "round", d.Round, "err", err)
		return nil, &DeviceError{Phase: PhaseDispatch, Round: d.Round, Err: err}
	}

	label := fmt.Sprintf("round %d dispatch", d.Round)
	s.track(PhaseDispatch, d.Round, label, ev)
	s.timing.Add(mztiming.Compute, label, ev)

	s.log.Debug(
		"Enqueued round",
		"round", d.Round,
		"read_offset", d.ReadOffset,
		"write_offset", d.WriteOffset,
		"items", d.Items,
		"group_size", d.GroupSize,
	)
	s.span.AddEvent("round enqueued", mztrace.WithAttributes(
		mztrace.RoundAttr(d.Round),
		mztrace.ItemsAttr(d.Items),
	))

	return ev, nil
}

// track hands ev to the scope and remembers it for failure reporting.
func (s *buildState) track(phase Phase, round int, label string, ev mzdevice.Event) {
	s.scope.AddEvent(label, ev)
	s.cmds = append(s.cmds, command{phase: phase, round: round, ev: ev})
}

// firstFailure returns a [*DeviceError] for the command
// whose own failure caused the build to fail,
// skipping commands that only failed because a dependency did.
// waitErr is used if no such command is found.
func (s *buildState) firstFailure(waitErr error) error {
	// Drain first; a failed read back does not guarantee
	// that every other command has finished.
	for _, c := range s.cmds {
		<-c.ev.Done()
	}

	for _, c := range s.cmds {
		err := c.ev.Err()
		if err == nil || mzdevice.IsDependencyFailure(err) {
			continue
		}

		s.log.Warn(
			"Device command failed",
			"phase", c.phase, "round", c.round, "status", mzdevice.StatusOf(err), "err", err,
		)
		return &DeviceError{Phase: c.phase, Round: c.round, Err: err}
	}

	return &DeviceError{Phase: PhaseReadBack, Round: -1, Err: waitErr}
}

func (s *buildState) aggregateTiming(mode TimingMode) (Timing, error) {
	totals, err := s.timing.Sum()
	t := Timing{
		Compute:      totals.Compute,
		HostToDevice: totals.HostToDevice,
		DeviceToHost: totals.DeviceToHost,
		PerRound:     totals.Rounds,
	}
	if err == nil {
		return t, nil
	}

	if mode == TimingRequired {
		return Timing{}, &TimingError{Missing: totals.Missing, Err: err}
	}

	s.log.Warn("Device timing incomplete", "missing", totals.Missing, "err", err)
	t.Partial = true
	return t, nil
}
