package common

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrWaitTimeout is returned when a Wait exceeds its time ceiling.
var ErrWaitTimeout = errors.New("wait: condition not met before deadline")

// WaitOptions parameterize a polling wait. Zero values take the defaults
// used by project start/stop readiness probing.
type WaitOptions struct {
	// Start is the initial probe interval.
	Start time.Duration
	// Factor multiplies the interval after each probe.
	Factor float64
	// MaxTime is the elapsed-time ceiling.
	MaxTime time.Duration
}

const (
	defaultWaitStart  = 250 * time.Millisecond
	defaultWaitFactor = 1.2
)

// Wait polls until the condition returns true, sleeping between probes with
// a geometrically growing interval. It returns nil as soon as until reports
// true, the condition's error if it fails, ErrWaitTimeout once elapsed time
// exceeds MaxTime, and the context error on cancellation.
func Wait(ctx context.Context, until func() (bool, error), opts WaitOptions) error {
	if opts.Start <= 0 {
		opts.Start = defaultWaitStart
	}
	if opts.Factor <= 1 {
		opts.Factor = defaultWaitFactor
	}
	if opts.MaxTime <= 0 {
		return fmt.Errorf("wait: MaxTime must be positive")
	}

	deadline := time.Now().Add(opts.MaxTime)
	interval := opts.Start

	for {
		ok, err := until()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		if time.Now().After(deadline) {
			return ErrWaitTimeout
		}

		sleep := interval
		if remaining := time.Until(deadline); sleep > remaining {
			// One last probe right at the deadline, not after it.
			sleep = remaining
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}

		interval = time.Duration(float64(interval) * opts.Factor)
	}
}
