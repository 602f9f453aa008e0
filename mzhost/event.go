package mzhost

import (
	"fmt"

	"github.com/gordian-engine/merklize/mzdevice"
)

type event struct {
	dev  *Device
	id   uint
	kind CommandKind

	// Closed by finish.
	// Every field below is written before done is closed
	// and only read after.
	done chan struct{}

	err        error
	start, end uint64

	// When not StatusSuccess, Profile fails with this status.
	profileStatus mzdevice.Status
}

func (e *event) finish(err error) {
	e.err = err
	close(e.done)
}

func (e *event) Done() <-chan struct{} {
	return e.done
}

func (e *event) Err() error {
	if !mzdevice.IsDone(e) {
		panic(fmt.Errorf(
			"BUG: error requested for %s event %d before completion", e.kind, e.id,
		))
	}
	return e.err
}

func (e *event) Profile() (mzdevice.Profile, error) {
	if !mzdevice.IsDone(e) {
		panic(fmt.Errorf(
			"BUG: profile requested for %s event %d before completion", e.kind, e.id,
		))
	}

	if e.profileStatus != mzdevice.StatusSuccess {
		return mzdevice.Profile{}, &mzdevice.StatusError{
			Op:     "profile " + e.kind.String(),
			Status: e.profileStatus,
		}
	}

	return mzdevice.Profile{Start: e.start, End: e.end}, nil
}

func (e *event) Release() error {
	d := e.dev

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.liveEvents.Test(e.id) {
		return &mzdevice.StatusError{
			Op:     "release event",
			Status: mzdevice.StatusInvalidEvent,
			Cause:  fmt.Errorf("event %d already released", e.id),
		}
	}

	d.liveEvents.Clear(e.id)
	return nil
}
