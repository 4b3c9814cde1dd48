package storage

import (
	"sync"
	"time"
)

// Debouncer coalesces a burst of triggers into a single deferred action: a
// write is scheduled on a timer that resets on every subsequent trigger
// within the window, so N edits inside the window produce exactly one save
// after the burst settles. Cancel and Flush give explicit control over the
// pending task instead of ad hoc timer-id bookkeeping; the latest
// triggered action always supersedes an earlier pending one.
type Debouncer struct {
	mu      sync.Mutex
	window  time.Duration
	timer   *time.Timer
	pending func()
}

// NewDebouncer creates a debouncer with the given quiet window.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{window: window}
}

// Trigger schedules fn to run after the quiet window, replacing and
// cancelling any previously scheduled action.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = fn
	d.timer = time.AfterFunc(d.window, func() {
		d.mu.Lock()
		run := d.pending
		d.pending = nil
		d.timer = nil
		d.mu.Unlock()
		if run != nil {
			run()
		}
	})
}

// Cancel drops the pending action, if any, and reports whether one was
// pending. An action already started is not interrupted.
func (d *Debouncer) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	had := d.pending != nil
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = nil
	return had
}

// Flush runs the pending action immediately instead of waiting out the
// window, and reports whether there was one.
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	run := d.pending
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = nil
	d.mu.Unlock()
	if run == nil {
		return false
	}
	run()
	return true
}

// Pending reports whether an action is currently scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}
