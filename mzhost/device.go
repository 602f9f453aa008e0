package mzhost

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/gordian-engine/merklize/mzdevice"
)

// DeviceConfig is the configuration passed to [NewDevice].
type DeviceConfig struct {
	// Name reported through Info.
	// Defaults to "mzhost".
	Name string

	// Maximum number of work groups executing concurrently
	// across one dispatch.
	// Defaults to GOMAXPROCS.
	Workers int

	// Largest accepted work group size.
	// Defaults to 1024.
	MaxGroupSize int

	// If positive, the total number of words
	// that may be allocated at any one time.
	// Allocations beyond the budget fail with
	// [mzdevice.StatusMemObjectAllocationFailure].
	MaxAllocWords int

	// Faults to inject; see [Fault].
	Faults []Fault
}

// Device is an in-process accelerator.
// Create instances with [NewDevice].
type Device struct {
	log *slog.Logger

	info          mzdevice.Info
	workers       int
	maxAllocWords int

	// Origin of the device clock used for event profiling.
	epoch time.Time

	mu sync.Mutex

	allocatedWords int

	// Handle identifiers are never reused,
	// so a stale handle can never release a newer object.
	nextBufID, nextEventID uint
	liveBufs, liveEvents   *bitset.BitSet

	// Number of commands seen so far, per kind, for matching faults.
	counts [nCommandKinds]int
	faults []Fault

	// Tracks the goroutines of in-flight commands.
	wg sync.WaitGroup
}

// NewDevice returns a new Device with the given configuration.
func NewDevice(log *slog.Logger, cfg DeviceConfig) *Device {
	name := cfg.Name
	if name == "" {
		name = "mzhost"
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	maxGroup := cfg.MaxGroupSize
	if maxGroup <= 0 {
		maxGroup = 1024
	}

	for i, f := range cfg.Faults {
		if f.Nth <= 0 {
			panic(fmt.Errorf(
				"BUG: fault %d must target a positive command ordinal (got %d)", i, f.Nth,
			))
		}
	}

	return &Device{
		log: log,

		info: mzdevice.Info{
			Name:         name,
			MaxGroupSize: maxGroup,
		},
		workers:       workers,
		maxAllocWords: cfg.MaxAllocWords,

		epoch: time.Now(),

		liveBufs:   bitset.New(64),
		liveEvents: bitset.New(64),

		faults: append([]Fault(nil), cfg.Faults...),
	}
}

var _ mzdevice.Device = (*Device)(nil)

func (d *Device) Info() mzdevice.Info {
	return d.info
}

// LiveBuffers reports how many buffers have been allocated and not yet released.
func (d *Device) LiveBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int(d.liveBufs.Count())
}

// LiveEvents reports how many events have been created and not yet released.
func (d *Device) LiveEvents() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int(d.liveEvents.Count())
}

// AllocatedWords reports the total size of all live buffers.
func (d *Device) AllocatedWords() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.allocatedWords
}

// Wait blocks until every command enqueued so far has finished executing.
func (d *Device) Wait() {
	d.wg.Wait()
}

// now reads the device clock.
func (d *Device) now() uint64 {
	return uint64(time.Since(d.epoch).Nanoseconds())
}

func (d *Device) Alloc(flags mzdevice.MemFlags, words int) (mzdevice.Buffer, error) {
	if flags > mzdevice.MemWriteOnly {
		return nil, &mzdevice.StatusError{Op: "alloc", Status: mzdevice.StatusInvalidValue}
	}
	if words <= 0 {
		return nil, &mzdevice.StatusError{
			Op:     "alloc",
			Status: mzdevice.StatusInvalidValue,
			Cause:  fmt.Errorf("buffer size must be positive (got %d words)", words),
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	ord := d.countCommand(CommandAlloc)
	if f, ok := d.faultFor(CommandAlloc, ord, StageEnqueue); ok {
		d.log.Debug("Injecting allocation fault", "status", f.status())
		return nil, &mzdevice.StatusError{Op: "alloc", Status: f.status()}
	}

	if d.maxAllocWords > 0 && d.allocatedWords+words > d.maxAllocWords {
		return nil, &mzdevice.StatusError{
			Op:     "alloc",
			Status: mzdevice.StatusMemObjectAllocationFailure,
			Cause: fmt.Errorf(
				"requested %d words with %d of %d already allocated",
				words, d.allocatedWords, d.maxAllocWords,
			),
		}
	}

	id := d.nextBufID
	d.nextBufID++
	d.liveBufs.Set(id)
	d.allocatedWords += words

	return &buffer{
		dev:   d,
		id:    id,
		flags: flags,
		words: make([]uint32, words),
	}, nil
}

func (d *Device) EnqueueWrite(
	dst mzdevice.Buffer, offset int, src []uint32, wait []mzdevice.Event,
) (mzdevice.Event, error) {
	b, err := d.checkBuffer("write", dst)
	if err != nil {
		return nil, err
	}
	if err := checkRange("write", b, offset, len(src)); err != nil {
		return nil, err
	}

	return d.enqueue(CommandWrite, "write", wait, func() error {
		copy(b.words[offset:], src)
		return nil
	})
}

func (d *Device) EnqueueRead(
	src mzdevice.Buffer, offset int, dst []uint32, wait []mzdevice.Event,
) (mzdevice.Event, error) {
	b, err := d.checkBuffer("read", src)
	if err != nil {
		return nil, err
	}
	if err := checkRange("read", b, offset, len(dst)); err != nil {
		return nil, err
	}

	return d.enqueue(CommandRead, "read", wait, func() error {
		copy(dst, b.words[offset:offset+len(dst)])
		return nil
	})
}

func (d *Device) EnqueueDispatch(
	k mzdevice.Kernel, args []mzdevice.Buffer, items, groupSize int, wait []mzdevice.Event,
) (mzdevice.Event, error) {
	kern, ok := k.(*Kernel)
	if !ok || kern == nil {
		return nil, &mzdevice.StatusError{
			Op:     "dispatch",
			Status: mzdevice.StatusInvalidKernel,
			Cause:  fmt.Errorf("kernel %T was not created by mzhost", k),
		}
	}

	if len(args) != len(kern.params) {
		return nil, &mzdevice.StatusError{
			Op:     "dispatch",
			Status: mzdevice.StatusInvalidKernelArgs,
			Cause: fmt.Errorf(
				"kernel %q takes %d arguments, got %d", kern.name, len(kern.params), len(args),
			),
		}
	}

	views := make([][]uint32, len(args))
	for i, a := range args {
		b, err := d.checkBuffer("dispatch", a)
		if err != nil {
			return nil, err
		}
		if err := kern.params[i].check(b.flags); err != nil {
			return nil, &mzdevice.StatusError{
				Op:     "dispatch",
				Status: mzdevice.StatusInvalidKernelArgs,
				Cause:  fmt.Errorf("kernel %q argument %d: %w", kern.name, i, err),
			}
		}
		views[i] = b.words
	}

	if items <= 0 {
		return nil, &mzdevice.StatusError{
			Op:     "dispatch",
			Status: mzdevice.StatusInvalidValue,
			Cause:  fmt.Errorf("work item count must be positive (got %d)", items),
		}
	}
	if groupSize <= 0 || groupSize > d.info.MaxGroupSize || items%groupSize != 0 {
		return nil, &mzdevice.StatusError{
			Op:     "dispatch",
			Status: mzdevice.StatusInvalidWorkGroupSize,
			Cause: fmt.Errorf(
				"group size %d invalid for %d items (max group size %d)",
				groupSize, items, d.info.MaxGroupSize,
			),
		}
	}

	return d.enqueue(CommandDispatch, "dispatch", wait, func() error {
		if err := kern.run(views, items, groupSize, d.workers); err != nil {
			return &mzdevice.StatusError{
				Op:     "dispatch",
				Status: mzdevice.StatusOf(err),
				Cause:  err,
			}
		}
		return nil
	})
}

// enqueue validates the wait list, creates the event for a new command,
// and starts the goroutine that runs the command once its dependencies complete.
func (d *Device) enqueue(
	kind CommandKind, op string, wait []mzdevice.Event, run func() error,
) (mzdevice.Event, error) {
	deps := make([]*event, len(wait))

	d.mu.Lock()
	for i, w := range wait {
		e, ok := w.(*event)
		if !ok || e == nil || e.dev != d || !d.liveEvents.Test(e.id) {
			d.mu.Unlock()
			return nil, &mzdevice.StatusError{
				Op:     op,
				Status: mzdevice.StatusInvalidEventWaitList,
				Cause:  fmt.Errorf("wait list entry %d is not a live event of this device", i),
			}
		}
		deps[i] = e
	}

	ord := d.countCommand(kind)
	if f, ok := d.faultFor(kind, ord, StageEnqueue); ok {
		d.mu.Unlock()
		d.log.Debug("Injecting enqueue fault", "kind", kind, "status", f.status())
		return nil, &mzdevice.StatusError{Op: op, Status: f.status()}
	}

	execFault, hasExecFault := d.faultFor(kind, ord, StageExecute)
	profileFault, hasProfileFault := d.faultFor(kind, ord, StageProfile)

	id := d.nextEventID
	d.nextEventID++
	d.liveEvents.Set(id)

	e := &event{
		dev:  d,
		id:   id,
		kind: kind,
		done: make(chan struct{}),
	}
	if hasProfileFault {
		e.profileStatus = profileFault.status()
	}

	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()

		for _, dep := range deps {
			<-dep.done
		}
		for _, dep := range deps {
			if dep.err != nil {
				e.profileStatus = mzdevice.StatusProfilingInfoNotAvailable
				e.finish(&mzdevice.StatusError{
					Op:     op,
					Status: mzdevice.StatusExecStatusErrorForEventsInWaitList,
					Cause:  dep.err,
				})
				return
			}
		}

		e.start = d.now()
		var err error
		if hasExecFault {
			d.log.Debug("Injecting execution fault", "kind", kind, "status", execFault.status())
			err = &mzdevice.StatusError{Op: op, Status: execFault.status()}
		} else {
			err = run()
		}
		e.end = d.now()

		e.finish(err)
	}()

	return e, nil
}

// checkBuffer confirms that b is a live buffer belonging to d.
func (d *Device) checkBuffer(op string, b mzdevice.Buffer) (*buffer, error) {
	hb, ok := b.(*buffer)
	if !ok || hb == nil || hb.dev != d {
		return nil, &mzdevice.StatusError{
			Op:     op,
			Status: mzdevice.StatusInvalidMemObject,
			Cause:  fmt.Errorf("buffer %T does not belong to this device", b),
		}
	}

	d.mu.Lock()
	live := d.liveBufs.Test(hb.id)
	d.mu.Unlock()

	if !live {
		return nil, &mzdevice.StatusError{
			Op:     op,
			Status: mzdevice.StatusInvalidMemObject,
			Cause:  fmt.Errorf("buffer %d already released", hb.id),
		}
	}
	return hb, nil
}

func checkRange(op string, b *buffer, offset, n int) error {
	if offset < 0 || n < 0 || offset+n > len(b.words) {
		return &mzdevice.StatusError{
			Op:     op,
			Status: mzdevice.StatusInvalidValue,
			Cause: fmt.Errorf(
				"range [%d, %d) outside buffer of %d words", offset, offset+n, len(b.words),
			),
		}
	}
	return nil
}
