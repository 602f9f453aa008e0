package merklize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/gordian-engine/merklize/internal/mzreclaim"
	"github.com/gordian-engine/merklize/internal/mzround"
	"github.com/gordian-engine/merklize/internal/mztrace"
	"github.com/gordian-engine/merklize/mzdevice"
	"github.com/gordian-engine/merklize/mzmetrics"
	"github.com/gordian-engine/merklize/mzword"
)

// MinParallelLeaves is the default minimum leaf count accepted by [*Builder.Build].
// Smaller trees are better served by [BuildSequential].
const MinParallelLeaves = 1 << 20

// BuilderConfig is the configuration passed to [NewBuilder].
type BuilderConfig struct {
	// Device to run on. Required.
	Device mzdevice.Device

	// Merklize kernel compiled for Device. Required.
	//
	// The kernel takes the arguments (in, in_offset, out, out_offset),
	// where each offset is a single-word buffer counted in nodes,
	// and work item i compresses in[in_offset+2i] and in[in_offset+2i+1]
	// into out[out_offset+i].
	Kernel mzdevice.Kernel

	// Minimum leaf count accepted by Build.
	// Defaults to [MinParallelLeaves].
	// May be lowered, to no less than 2, when small trees are acceptable.
	MinLeaves int

	// Optional tracer provider.
	// When nil, a no-op provider is used.
	TracerProvider mztrace.TracerProvider

	// Optional metrics.
	Metrics *mzmetrics.Metrics
}

// Builder builds Merkle trees on a device.
// Create instances with [NewBuilder].
//
// A Builder is safe for concurrent use;
// every call to Build owns all the device resources it creates.
type Builder struct {
	log *slog.Logger

	dev    mzdevice.Device
	kernel mzdevice.Kernel

	minLeaves int

	tracer  mztrace.Tracer
	metrics *mzmetrics.Metrics
}

// NewBuilder returns a new Builder.
// It panics if cfg is missing a required field.
func NewBuilder(log *slog.Logger, cfg BuilderConfig) *Builder {
	if cfg.Device == nil {
		panic(errors.New("BUG: BuilderConfig.Device must not be nil"))
	}
	if cfg.Kernel == nil {
		panic(errors.New("BUG: BuilderConfig.Kernel must not be nil"))
	}

	minLeaves := cfg.MinLeaves
	if minLeaves == 0 {
		minLeaves = MinParallelLeaves
	} else if minLeaves < 2 {
		panic(fmt.Errorf("BUG: BuilderConfig.MinLeaves must be at least 2 (got %d)", minLeaves))
	}

	tp := cfg.TracerProvider
	if tp == nil {
		tp = mztrace.NopTracerProvider()
	}

	return &Builder{
		log: log,

		dev:    cfg.Device,
		kernel: cfg.Kernel,

		minLeaves: minLeaves,

		tracer:  tp.Tracer(mztrace.TracerName),
		metrics: cfg.Metrics,
	}
}

// Build computes the Merkle tree over leaves,
// which must hold N 32-byte leaves for a power of two N.
//
// Arguments violating a precondition are reported
// as an [*InvalidArgumentError] before any device work.
// Device failures are reported as a [*DeviceError].
//
// ctx is consulted before any device work begins
// and while waiting for the finished tree.
// Once device work has begun, Build does not return
// until every command it enqueued has completed,
// even if ctx is canceled.
//
// If the only error is an [ErrRelease] failure,
// the returned Result is still complete.
func (b *Builder) Build(ctx context.Context, leaves []byte, opts BuildOptions) (res Result, err error) {
	ctx, span := b.tracer.Start(ctx, "Build", mztrace.WithAttributes(
		mztrace.DeviceAttr(b.dev.Info().Name),
		mztrace.OutputAttr(opts.Output),
	))
	defer func() {
		if err != nil {
			mztrace.SpanError(span, err)
		}
		b.metrics.ObserveBuild(outcome(err))
		span.End()
	}()

	plan, err := b.plan(leaves, opts)
	if err != nil {
		return Result{}, err
	}
	span.SetAttributes(
		mztrace.LeavesAttr(plan.Leaves),
		mztrace.GroupSizeAttr(plan.GroupSize),
		mztrace.RoundsAttr(plan.Rounds()),
	)

	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("build canceled before start: %w", context.Cause(ctx))
	}

	bs := &buildState{
		b:     b,
		log:   b.log.With("leaves", plan.Leaves),
		span:  span,
		scope: mzreclaim.New(b.log),
	}
	defer func() {
		if cerr := bs.scope.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("%w: %w", ErrRelease, cerr))
		}
	}()

	start := time.Now()
	res, err = bs.run(ctx, plan, leaves, opts)
	if err != nil {
		return Result{}, err
	}

	b.log.Info(
		"Built tree",
		"leaves", plan.Leaves,
		"rounds", res.Rounds,
		"output", opts.Output,
		"compute", res.Timing.Compute,
		"host_to_device", res.Timing.HostToDevice,
		"device_to_host", res.Timing.DeviceToHost,
		"wall", time.Since(start),
	)
	if span.IsRecording() {
		span.SetAttributes(mztrace.LazyHexAttr("merklize.root", res.Root()))
		if opts.Timing != TimingDisabled {
			span.SetAttributes(
				mztrace.DurationAttr("merklize.compute_ns", res.Timing.Compute),
				mztrace.DurationAttr("merklize.host_to_device_ns", res.Timing.HostToDevice),
				mztrace.DurationAttr("merklize.device_to_host_ns", res.Timing.DeviceToHost),
			)
		}
	}
	if opts.Timing != TimingDisabled && !res.Timing.Partial {
		b.metrics.ObserveTiming(
			res.Timing.Compute, res.Timing.HostToDevice, res.Timing.DeviceToHost, res.Rounds,
		)
	}

	return res, nil
}

// plan validates the build arguments without touching the device.
func (b *Builder) plan(leaves []byte, opts BuildOptions) (mzround.Plan, error) {
	if opts.Output > OutputRootOnly {
		panic(fmt.Errorf("BUG: unknown output mode %d", opts.Output))
	}
	if opts.Timing > TimingDisabled {
		panic(fmt.Errorf("BUG: unknown timing mode %d", opts.Timing))
	}

	if len(leaves) == 0 || len(leaves)%mzword.NodeSize != 0 {
		return mzround.Plan{}, &InvalidArgumentError{
			Arg: "leaf data length", Value: len(leaves), Err: ErrLeafDataLength,
		}
	}

	n := len(leaves) / mzword.NodeSize
	if err := checkLeafCount(n, b.minLeaves); err != nil {
		return mzround.Plan{}, err
	}

	maxGroup := b.dev.Info().MaxGroupSize

	g := opts.GroupSize
	if g == 0 {
		g = min(DefaultGroupSize, n/2)
		if maxGroup > 0 {
			g = min(g, maxGroup)
		}
	}
	if g < 0 || !mzround.IsPowerOfTwo(g) {
		return mzround.Plan{}, &InvalidArgumentError{
			Arg: "group size", Value: g, Err: fmt.Errorf("%w: %w", ErrInvalidGroupSize, ErrNotPowerOfTwo),
		}
	}
	if g > n/2 {
		return mzround.Plan{}, &InvalidArgumentError{
			Arg:   "group size",
			Value: g,
			Err:   fmt.Errorf("%w: exceeds first round work items (%d)", ErrInvalidGroupSize, n/2),
		}
	}
	if maxGroup > 0 && g > maxGroup {
		return mzround.Plan{}, &InvalidArgumentError{
			Arg:   "group size",
			Value: g,
			Err:   fmt.Errorf("%w: exceeds device maximum (%d)", ErrInvalidGroupSize, maxGroup),
		}
	}

	return mzround.NewPlan(n, g), nil
}

func checkLeafCount(n, minLeaves int) error {
	if !mzround.IsPowerOfTwo(n) {
		return &InvalidArgumentError{
			Arg: "leaf count", Value: n, Err: ErrNotPowerOfTwo,
		}
	}
	// Node offsets are uploaded as single 32-bit words.
	if uint64(n) > math.MaxUint32 {
		return &InvalidArgumentError{
			Arg: "leaf count", Value: n, Err: ErrTooManyLeaves,
		}
	}
	if n < minLeaves {
		return &InvalidArgumentError{
			Arg:   "leaf count",
			Value: n,
			Err:   fmt.Errorf("%w: minimum is %d", ErrTooFewLeaves, minLeaves),
		}
	}
	return nil
}

func outcome(err error) string {
	if err == nil {
		return mzmetrics.OutcomeOK
	}

	var iae *InvalidArgumentError
	var de *DeviceError
	var te *TimingError
	switch {
	case errors.As(err, &iae):
		return mzmetrics.OutcomeInvalid
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return mzmetrics.OutcomeCanceled
	case errors.As(err, &de):
		return mzmetrics.OutcomeDeviceError
	case errors.As(err, &te):
		return mzmetrics.OutcomeTimingError
	case errors.Is(err, ErrRelease):
		return mzmetrics.OutcomeReleaseError
	default:
		return mzmetrics.OutcomeDeviceError
	}
}
