package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/cjeanneret/oscsync/internal/debug"
	"github.com/cjeanneret/oscsync/internal/history"
)

// SeriesParams defines an interval series: Count pictures, Interval apart
// (measured from the start of one capture to the start of the next).
type SeriesParams struct {
	Count    int
	Interval time.Duration
	// StopOnError ends the series at the first failed capture.
	StopOnError bool
}

// Validate checks the series parameters.
func (p SeriesParams) Validate() error {
	if p.Count < 1 || p.Count > 1000 {
		return fmt.Errorf("count must be between 1 and 1000, got %d", p.Count)
	}
	if p.Interval < 0 {
		return fmt.Errorf("interval must be >= 0, got %v", p.Interval)
	}
	return nil
}

// RunSeries takes a series of pictures under a single run lock.
// It returns every attempted capture; the error is the last failure,
// or ctx.Err() when cancelled between shots.
func (r *Runner) RunSeries(ctx context.Context, p SeriesParams) ([]*history.Capture, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if !r.acquire() {
		return nil, ErrRunning
	}
	defer r.release()

	if r.Indicator != nil {
		r.Indicator.SetBusy(true)
		defer r.Indicator.SetBusy(false)
	}

	debug.Section("Series")
	debug.Value("Count", p.Count)
	debug.Value("Interval", p.Interval)

	var (
		captures []*history.Capture
		lastErr  error
	)
	for i := 0; i < p.Count; i++ {
		select {
		case <-ctx.Done():
			return captures, ctx.Err()
		default:
		}

		start := time.Now()
		debug.Step(i+1, fmt.Sprintf("Picture %d/%d", i+1, p.Count))
		rec, err := r.shoot(ctx)
		captures = append(captures, rec)
		if err != nil {
			lastErr = err
			if p.StopOnError {
				return captures, err
			}
		}

		if i == p.Count-1 {
			break
		}
		wait := p.Interval - time.Since(start)
		if wait <= 0 {
			continue
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return captures, ctx.Err()
		case <-t.C:
		}
	}
	return captures, lastErr
}
