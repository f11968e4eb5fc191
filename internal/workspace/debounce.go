package workspace

import (
	"sync"
	"time"
)

// saveScheduler coalesces rapid save requests into one deferred write.
// Every Schedule within the window resets the timer; the flush runs once
// after the window closes.
type saveScheduler struct {
	mu      sync.Mutex
	timer   *time.Timer
	stopped bool

	delay time.Duration
	flush func() error
}

func newSaveScheduler(delay time.Duration, flush func() error) *saveScheduler {
	return &saveScheduler{delay: delay, flush: flush}
}

// Schedule arms (or re-arms) the deferred flush.
func (d *saveScheduler) Schedule() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || d.delay <= 0 {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fire)
}

func (d *saveScheduler) fire() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.mu.Unlock()

	// Errors surface through the synchronous save path; here there is no
	// caller to return to.
	_ = d.flush()
}

// Cancel drops any pending flush without running it. The caller is about
// to save synchronously.
func (d *saveScheduler) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Stop cancels any pending flush and rejects further scheduling.
func (d *saveScheduler) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
