package realtime

import (
	"context"
	"sync"
	"time"
)

// Debouncer collapses a burst of triggers into one trailing call of fn.
// Every Trigger restarts the window; fn runs once the window passes quietly.
type Debouncer struct {
	window time.Duration
	fn     func()

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	stopped bool
	running sync.WaitGroup
}

func NewDebouncer(window time.Duration, fn func()) *Debouncer {
	return &Debouncer{window: window, fn: fn}
}

func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(d.window, func() { d.fire(gen) })
}

// fire runs fn only for the latest trigger. A timer that already fired but
// lost the lock to a newer Trigger carries a stale generation.
func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if d.stopped || gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.running.Add(1)
	d.mu.Unlock()

	defer d.running.Done()
	d.fn()
}

// Stop cancels any pending call and waits for a call already running.
// Later triggers are ignored. It must not be called from fn.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	d.running.Wait()
}

// Run feeds watched events into the debouncer until ctx is done or the
// stream closes. Events for other families or tables are ignored.
func (d *Debouncer) Run(ctx context.Context, familyID string, events <-chan ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			d.Stop()
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.FamilyID != familyID || !ev.Table.Watched() {
				continue
			}
			d.Trigger()
		}
	}
}
