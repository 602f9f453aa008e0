package mzdevice

import (
	"context"
	"fmt"
)

// Wait blocks until every event in evs is done or ctx is canceled.
//
// If ctx is canceled before Wait returns, Wait returns the context's cause,
// even if every event has also completed.
// Otherwise it returns the first non-nil [Event.Err] in argument order.
func Wait(ctx context.Context, evs ...Event) error {
	for _, e := range evs {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for device events: %w", context.Cause(ctx))
		case <-e.Done():
		}
	}

	if ctx.Err() != nil {
		return fmt.Errorf("waiting for device events: %w", context.Cause(ctx))
	}

	for _, e := range evs {
		if err := e.Err(); err != nil {
			return err
		}
	}
	return nil
}
