package mzhost

import (
	"fmt"

	"github.com/gordian-engine/merklize/mzdevice"
	"golang.org/x/sync/errgroup"
)

// Access is how a kernel uses one of its buffer arguments.
type Access uint8

const (
	AccessRead Access = iota
	AccessWrite
	AccessReadWrite
)

// Param declares one buffer argument of a [Kernel].
type Param struct {
	Name   string
	Access Access
}

func (p Param) check(flags mzdevice.MemFlags) error {
	reads := p.Access == AccessRead || p.Access == AccessReadWrite
	writes := p.Access == AccessWrite || p.Access == AccessReadWrite

	if reads && flags == mzdevice.MemWriteOnly {
		return fmt.Errorf("parameter %q reads from a %s buffer", p.Name, flags)
	}
	if writes && flags == mzdevice.MemReadOnly {
		return fmt.Errorf("parameter %q writes to a %s buffer", p.Name, flags)
	}
	return nil
}

// KernelFunc is the body of a [Kernel], run once per work item.
//
// args holds the backing memory of each buffer argument, in parameter order.
// The same backing slice may appear more than once
// when a buffer is bound to several parameters;
// the function is responsible for only touching disjoint words
// across concurrently running items.
type KernelFunc func(item int, args [][]uint32) error

// Kernel is a [mzdevice.Kernel] that runs Go code on a [Device].
type Kernel struct {
	name   string
	params []Param
	fn     KernelFunc
}

// NewKernel returns a kernel with the given name, parameters, and body.
func NewKernel(name string, params []Param, fn KernelFunc) *Kernel {
	if fn == nil {
		panic(fmt.Errorf("BUG: kernel %q needs a non-nil body", name))
	}

	return &Kernel{
		name:   name,
		params: append([]Param(nil), params...),
		fn:     fn,
	}
}

func (k *Kernel) Name() string {
	return k.name
}

// run executes items work items in work groups of groupSize,
// with at most workers groups in flight.
// The first item error stops scheduling further groups.
func (k *Kernel) run(args [][]uint32, items, groupSize, workers int) error {
	var eg errgroup.Group
	eg.SetLimit(workers)

	for first := 0; first < items; first += groupSize {
		eg.Go(func() error {
			for i := first; i < first+groupSize; i++ {
				if err := k.fn(i, args); err != nil {
					return fmt.Errorf("kernel %q work item %d: %w", k.name, i, err)
				}
			}
			return nil
		})
	}

	return eg.Wait()
}
