// Package mztiming sums device-reported command durations by category.
package mztiming

import (
	"errors"
	"fmt"
	"time"

	"github.com/gordian-engine/merklize/mzdevice"
)

// Category is the bucket a command's duration is added to.
type Category uint8

const (
	Compute Category = iota
	HostToDevice
	DeviceToHost
)

func (c Category) String() string {
	switch c {
	case Compute:
		return "compute"
	case HostToDevice:
		return "host_to_device"
	case DeviceToHost:
		return "device_to_host"
	default:
		return fmt.Sprintf("Category(%d)", uint8(c))
	}
}

// Aggregator collects events whose timing will be summed after they complete.
// The zero value is ready to use.
type Aggregator struct {
	entries []entry
}

type entry struct {
	cat   Category
	label string
	ev    mzdevice.Event
}

// Add records ev under cat.
// The aggregator does not take ownership of ev;
// ev must remain unreleased until [Aggregator.Sum] returns.
func (a *Aggregator) Add(cat Category, label string, ev mzdevice.Event) {
	if cat > DeviceToHost {
		panic(fmt.Errorf("BUG: unknown timing category %d for %q", cat, label))
	}
	a.entries = append(a.entries, entry{cat: cat, label: label, ev: ev})
}

// Totals is the aggregated timing of one build.
type Totals struct {
	Compute      time.Duration
	HostToDevice time.Duration
	DeviceToHost time.Duration

	// Duration of each Compute event, in the order added.
	// An event whose profile could not be read contributes zero.
	Rounds []time.Duration

	// Number of events whose profile could not be read.
	Missing int
}

// Sum returns the totals of every added event.
//
// Every event must be done; Sum panics otherwise.
// Events whose profile cannot be read are skipped,
// and their errors are joined in the returned error
// alongside the totals of the remaining events.
func (a *Aggregator) Sum() (Totals, error) {
	var t Totals
	var errs []error

	for _, e := range a.entries {
		if !mzdevice.IsDone(e.ev) {
			panic(fmt.Errorf("BUG: timing requested for %s before it completed", e.label))
		}

		p, err := e.ev.Profile()
		var d time.Duration
		if err != nil {
			t.Missing++
			errs = append(errs, fmt.Errorf("profiling %s: %w", e.label, err))
		} else {
			d = p.Elapsed()
		}

		switch e.cat {
		case Compute:
			t.Compute += d
			t.Rounds = append(t.Rounds, d)
		case HostToDevice:
			t.HostToDevice += d
		case DeviceToHost:
			t.DeviceToHost += d
		}
	}

	return t, errors.Join(errs...)
}

// Total is the sum of all three categories.
func (t Totals) Total() time.Duration {
	return t.Compute + t.HostToDevice + t.DeviceToHost
}
