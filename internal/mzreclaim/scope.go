// Package mzreclaim tracks device resources acquired during one build
// so they can all be released on every exit path.
package mzreclaim

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/bits-and-blooms/bitset"
	"github.com/gordian-engine/merklize/mzdevice"
)

// Releaser is any device resource that must be released exactly once.
type Releaser interface {
	Release() error
}

// Scope is an ordered collection of owned resources.
//
// A Scope is not safe for concurrent use.
// The zero value is not usable; create instances with [New].
type Scope struct {
	log *slog.Logger

	entries []entry

	// Indices of entries that have been released.
	released *bitset.BitSet

	closed bool
}

type entry struct {
	label string
	r     Releaser

	// Set for entries added with AddEvent.
	ev mzdevice.Event
}

func New(log *slog.Logger) *Scope {
	return &Scope{
		log:      log,
		released: bitset.New(32),
	}
}

// Add takes ownership of r.
func (s *Scope) Add(label string, r Releaser) {
	s.add(entry{label: label, r: r})
}

// AddEvent takes ownership of ev.
// Close waits for ev to complete before releasing anything.
func (s *Scope) AddEvent(label string, ev mzdevice.Event) {
	s.add(entry{label: label, r: ev, ev: ev})
}

func (s *Scope) add(e entry) {
	if s.closed {
		panic(fmt.Errorf("BUG: %q added to closed reclaim scope", e.label))
	}
	if e.r == nil {
		panic(fmt.Errorf("BUG: %q added to reclaim scope with nil resource", e.label))
	}

	s.entries = append(s.entries, e)
}

// Len reports the number of resources added so far.
func (s *Scope) Len() int {
	return len(s.entries)
}

// Close blocks until every tracked event has completed,
// then releases every resource in reverse order of addition.
//
// Release failures do not stop the remaining releases;
// they are joined in the returned error.
// Calling Close more than once is a no-op returning nil.
func (s *Scope) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	// In-flight commands may still reference the buffers,
	// so nothing is released until they are all finished.
	for _, e := range s.entries {
		if e.ev != nil {
			<-e.ev.Done()
		}
	}

	var errs []error
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.released.Test(uint(i)) {
			continue
		}
		s.released.Set(uint(i))

		e := s.entries[i]
		if err := e.r.Release(); err != nil {
			s.log.Warn("Failed to release device resource", "label", e.label, "err", err)
			errs = append(errs, fmt.Errorf("releasing %s: %w", e.label, err))
		}
	}

	if n := s.released.Count(); n != uint(len(s.entries)) {
		panic(fmt.Errorf("BUG: released %d of %d reclaim entries", n, len(s.entries)))
	}

	return errors.Join(errs...)
}
