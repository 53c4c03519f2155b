package persistence

import (
	"sync"
	"time"
)

const DefaultDebounce = 300 * time.Millisecond

// Debouncer runs the most recently scheduled function once no new schedule has
// arrived for the configured wait.
type Debouncer struct {
	mu      sync.Mutex
	wait    time.Duration
	gen     uint64
	timer   *time.Timer
	running int
}

func NewDebouncer(wait time.Duration) *Debouncer {
	if wait <= 0 {
		wait = DefaultDebounce
	}
	return &Debouncer{wait: wait}
}

// Schedule replaces any pending function with fn and restarts the wait.
func (d *Debouncer) Schedule(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.gen++
	gen := d.gen
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.wait, func() {
		d.mu.Lock()
		// A timer that already fired can still lose the race to a later Schedule or Cancel.
		if gen != d.gen {
			d.mu.Unlock()
			return
		}
		d.timer = nil
		d.running++
		d.mu.Unlock()

		defer func() {
			d.mu.Lock()
			d.running--
			d.mu.Unlock()
		}()
		fn()
	})
}

// Cancel drops the pending function, if any. It reports whether one was pending.
func (d *Debouncer) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.gen++
	if d.timer == nil {
		return false
	}
	d.timer.Stop()
	d.timer = nil
	return true
}

// Pending reports whether a scheduled function is waiting or still running.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil || d.running > 0
}
