package events

import (
	"sync"
	"time"
)

type DebounceState int

const (
	DebounceIdle DebounceState = iota
	DebouncePending
	DebounceExecuting
)

func (s DebounceState) String() string {
	switch s {
	case DebounceIdle:
		return "idle"
	case DebouncePending:
		return "pending"
	case DebounceExecuting:
		return "executing"
	}
	return "unknown"
}

// Debouncer collapses bursts of Trigger calls into a single run of fn with
// the most recent arguments, once delay has passed without a new trigger.
// A trigger that arrives while fn is running schedules exactly one follow-up
// run after the current one finishes.
type Debouncer[T any] struct {
	delay time.Duration
	fn    func(T)

	mu      sync.Mutex
	state   DebounceState
	timer   *time.Timer
	seq     uint64
	args    T
	rerun   bool
	stopped bool
}

func NewDebouncer[T any](delay time.Duration, fn func(T)) *Debouncer[T] {
	return &Debouncer[T]{delay: delay, fn: fn}
}

func (d *Debouncer[T]) Trigger(args T) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.args = args

	switch d.state {
	case DebounceIdle:
		d.arm()
	case DebouncePending:
		d.timer.Stop()
		d.arm()
	case DebounceExecuting:
		d.rerun = true
	}
}

func (d *Debouncer[T]) State() DebounceState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Stop cancels a pending run and ignores all later triggers. A run already
// executing is allowed to finish but is not followed up.
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	d.rerun = false
	if d.state == DebouncePending {
		d.timer.Stop()
		d.state = DebounceIdle
	}
}

// arm must be called with mu held.
func (d *Debouncer[T]) arm() {
	d.state = DebouncePending
	d.seq++
	seq := d.seq
	d.timer = time.AfterFunc(d.delay, func() { d.fire(seq) })
}

func (d *Debouncer[T]) fire(seq uint64) {
	d.mu.Lock()
	// A timer that was replaced or stopped after it had already fired.
	if d.state != DebouncePending || d.seq != seq {
		d.mu.Unlock()
		return
	}
	d.state = DebounceExecuting
	args := d.args
	d.mu.Unlock()

	d.fn(args)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rerun && !d.stopped {
		d.rerun = false
		d.arm()
		return
	}
	d.state = DebounceIdle
}
