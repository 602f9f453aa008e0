// Package mzdevice declares the accelerator runtime that the merklize
// orchestrator drives.
//
// The interfaces model an out-of-order command queue with profiling enabled:
// every enqueue call returns immediately with an [Event],
// and ordering between commands exists only where a command
// names earlier events in its wait list.
// Device discovery and kernel compilation are left to implementations;
// the orchestrator receives a ready [Device] and [Kernel].
package mzdevice

import "time"

// MemFlags describe how kernels may access a [Buffer].
// Host-side writes and reads are always allowed.
type MemFlags uint8

const (
	MemReadWrite MemFlags = iota
	MemReadOnly
	MemWriteOnly
)

func (f MemFlags) String() string {
	switch f {
	case MemReadWrite:
		return "read-write"
	case MemReadOnly:
		return "read-only"
	case MemWriteOnly:
		return "write-only"
	default:
		return "invalid"
	}
}

// Info describes static properties of a [Device].
type Info struct {
	Name string

	// Largest work group size accepted by EnqueueDispatch.
	MaxGroupSize int
}

// Device is an accelerator with device-resident memory and a command queue.
//
// All Enqueue methods are non-blocking.
// An error returned directly from an Enqueue method means
// the command was rejected and no event was created;
// failures during execution are instead reported through [Event.Err].
// A command whose wait list contains a failed event does not execute,
// and its own event fails with [StatusExecStatusErrorForEventsInWaitList].
type Device interface {
	Info() Info

	// Alloc reserves a device buffer holding words 32-bit words.
	// Its initial contents are unspecified.
	Alloc(flags MemFlags, words int) (Buffer, error)

	// EnqueueWrite copies src into dst starting at word offset.
	// The caller must not modify src until the returned event completes.
	EnqueueWrite(dst Buffer, offset int, src []uint32, wait []Event) (Event, error)

	// EnqueueRead copies len(dst) words from src, starting at word offset, into dst.
	// The caller must not read dst until the returned event completes.
	EnqueueRead(src Buffer, offset int, dst []uint32, wait []Event) (Event, error)

	// EnqueueDispatch runs items instances of k, batched into work groups of groupSize.
	// items must be a multiple of groupSize.
	EnqueueDispatch(k Kernel, args []Buffer, items, groupSize int, wait []Event) (Event, error)
}

// Buffer is a device-resident allocation.
type Buffer interface {
	Words() int
	Flags() MemFlags

	// Release frees the buffer.
	// Commands already enqueued against the buffer still complete normally.
	// Releasing a buffer twice is an error.
	Release() error
}

// Kernel is a compiled device function that can be dispatched.
type Kernel interface {
	Name() string
}

// Event is the completion token for one enqueued command.
type Event interface {
	// Done is closed once the command has completed, successfully or not.
	Done() <-chan struct{}

	// Err reports the command's failure, if any.
	// Err must only be called after Done is closed.
	Err() error

	// Profile reports the device-clock timestamps of the command.
	// Calling Profile before Done is closed is a programming error
	// and implementations panic.
	// An error indicates the device could not provide timing for the command.
	Profile() (Profile, error)

	// Release frees the event.
	// Releasing an event twice is an error.
	Release() error
}

// Profile holds the device-clock start and end of a command, in nanoseconds.
type Profile struct {
	Start, End uint64
}

// Elapsed returns End - Start,
// or zero if the device reported an end before the start.
func (p Profile) Elapsed() time.Duration {
	if p.End < p.Start {
		return 0
	}
	return time.Duration(p.End - p.Start)
}

// IsDone reports whether e has completed, without blocking.
func IsDone(e Event) bool {
	select {
	case <-e.Done():
		return true
	default:
		return false
	}
}
