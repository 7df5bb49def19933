package interact

import (
	"math"
	"sync"
	"time"

	"github.com/songzhibin97/workflow-canvas/types"
)

// Task is a cancellable scheduled call.
type Task struct {
	mu       sync.Mutex
	timer    *time.Timer
	done     bool
	canceled bool
}

// Schedule runs fn once after delay unless the task is cancelled first.
func Schedule(delay time.Duration, fn func()) *Task {
	t := &Task{}
	t.timer = time.AfterFunc(delay, func() {
		t.mu.Lock()
		if t.canceled {
			t.mu.Unlock()
			return
		}
		t.done = true
		t.mu.Unlock()
		fn()
	})
	return t
}

// Cancel stops the task. It returns false if the task already ran.
func (t *Task) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return false
	}
	t.canceled = true
	t.timer.Stop()
	return true
}

// Done reports whether the task has fired.
func (t *Task) Done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// Debouncer runs fn once a quiet period of delay follows the last Trigger.
type Debouncer struct {
	mu    sync.Mutex
	delay time.Duration
	fn    func()
	task  *Task
}

func NewDebouncer(delay time.Duration, fn func()) *Debouncer {
	return &Debouncer{delay: delay, fn: fn}
}

// Trigger (re)starts the quiet period.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.task != nil {
		d.task.Cancel()
	}
	var task *Task
	task = Schedule(d.delay, func() {
		d.mu.Lock()
		if d.task == task {
			d.task = nil
		}
		d.mu.Unlock()
		d.fn()
	})
	d.task = task
}

// Pending reports whether a call is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.task != nil && !d.task.Done()
}

// Restart re-triggers only when a call is already pending.
func (d *Debouncer) Restart() {
	if d.Pending() {
		d.Trigger()
	}
}

// Cancel drops the pending call, if any.
func (d *Debouncer) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.task == nil {
		return false
	}
	ok := d.task.Cancel()
	d.task = nil
	return ok
}

// Flush runs the pending call now instead of waiting.
func (d *Debouncer) Flush() bool {
	if !d.Cancel() {
		return false
	}
	d.fn()
	return true
}

// ClickDetector tells a click from the start of a drag. A press released
// within the window without travelling more than the threshold is a click.
type ClickDetector struct {
	window    time.Duration
	threshold float64
	now       func() time.Time

	pressed bool
	at      time.Time
	origin  types.Point
	dragged bool
}

// NewClickDetector returns a detector; threshold is in screen pixels.
func NewClickDetector(window time.Duration, threshold float64) *ClickDetector {
	return &ClickDetector{window: window, threshold: threshold, now: time.Now}
}

func (c *ClickDetector) Press(screen types.Point) {
	c.pressed = true
	c.at = c.now()
	c.origin = screen
	c.dragged = false
}

// Move returns true once the press has turned into a drag.
func (c *ClickDetector) Move(screen types.Point) bool {
	if !c.pressed || c.dragged {
		return c.dragged
	}
	d := screen.Sub(c.origin)
	if math.Hypot(d.X, d.Y) > c.threshold {
		c.dragged = true
	}
	return c.dragged
}

// Release ends the press and reports whether it was a click.
func (c *ClickDetector) Release(screen types.Point) bool {
	if !c.pressed {
		return false
	}
	c.Move(screen)
	c.pressed = false
	return !c.dragged && c.now().Sub(c.at) < c.window
}
