package mzhost

import (
	"fmt"

	"github.com/gordian-engine/merklize/mzdevice"
)

type buffer struct {
	dev   *Device
	id    uint
	flags mzdevice.MemFlags

	// Backing memory.
	// Commands hold their own reference to this slice,
	// so releasing the buffer never invalidates an in-flight command.
	words []uint32
}

func (b *buffer) Words() int {
	return len(b.words)
}

func (b *buffer) Flags() mzdevice.MemFlags {
	return b.flags
}

func (b *buffer) Release() error {
	d := b.dev

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.liveBufs.Test(b.id) {
		return &mzdevice.StatusError{
			Op:     "release buffer",
			Status: mzdevice.StatusInvalidMemObject,
			Cause:  fmt.Errorf("buffer %d already released", b.id),
		}
	}

	d.liveBufs.Clear(b.id)
	d.allocatedWords -= len(b.words)
	return nil
}
