// Package scheduler runs delayed callbacks for the deliberation engine.
//
// Real executes due callbacks one at a time on a single loop goroutine, so timed
// steps never run in parallel with each other. Virtual does the same against a
// manually advanced clock and is what tests use.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Timer is a handle to a scheduled callback.
type Timer interface {
	// Stop prevents the callback from firing. It reports whether the call stopped it.
	Stop() bool
}

// Scheduler schedules fire-and-forget callbacks and reports the current time.
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// Real schedules callbacks on wall-clock timers and serialises their execution
// through Run. Callbacks that fall due after Run returns are dropped.
type Real struct {
	queue chan func()
	done  chan struct{}
	once  sync.Once
}

// NewReal returns a Real scheduler with the given queue capacity.
func NewReal(buffer int) *Real {
	if buffer <= 0 {
		buffer = 64
	}
	return &Real{queue: make(chan func(), buffer), done: make(chan struct{})}
}

func (r *Real) Now() time.Time {
	return time.Now().UTC()
}

func (r *Real) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, func() {
		r.enqueue(fn)
	})
}

// enqueue hands fn to the run loop. It reports false once the loop has stopped.
func (r *Real) enqueue(fn func()) bool {
	select {
	case <-r.done:
		return false
	default:
	}
	select {
	case r.queue <- fn:
		return true
	case <-r.done:
		return false
	}
}

// Run executes queued callbacks until ctx is cancelled.
func (r *Real) Run(ctx context.Context) error {
	defer r.once.Do(func() { close(r.done) })
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-r.queue:
			fn()
		}
	}
}

// Virtual is a deterministic scheduler driven by Advance.
type Virtual struct {
	mu      sync.Mutex
	now     time.Time
	seq     int
	pending []*virtualTimer
}

type virtualTimer struct {
	v   *Virtual
	due time.Time
	seq int
	fn  func()
}

func (t *virtualTimer) Stop() bool {
	t.v.mu.Lock()
	defer t.v.mu.Unlock()
	for i, p := range t.v.pending {
		if p == t {
			t.v.pending = append(t.v.pending[:i], t.v.pending[i+1:]...)
			return true
		}
	}
	return false
}

// NewVirtual returns a virtual clock starting at start.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start}
}

func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

func (v *Virtual) AfterFunc(d time.Duration, fn func()) Timer {
	v.mu.Lock()
	defer v.mu.Unlock()
	if d < 0 {
		d = 0
	}
	v.seq++
	t := &virtualTimer{v: v, due: v.now.Add(d), seq: v.seq, fn: fn}
	v.pending = append(v.pending, t)
	return t
}

// Pending returns the number of callbacks not yet fired.
func (v *Virtual) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.pending)
}

// Advance moves the clock forward by d, firing every callback that falls due in
// due-time order (ties broken by scheduling order). Callbacks scheduled while
// advancing fire too if they fall inside the window.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	target := v.now.Add(d)
	v.mu.Unlock()

	for {
		t := v.popDue(target)
		if t == nil {
			break
		}
		t.fn()
	}

	v.mu.Lock()
	if v.now.Before(target) {
		v.now = target
	}
	v.mu.Unlock()
}

// RunUntilIdle fires callbacks until none remain, advancing the clock to each due time.
func (v *Virtual) RunUntilIdle() {
	for {
		v.mu.Lock()
		if len(v.pending) == 0 {
			v.mu.Unlock()
			return
		}
		v.sortLocked()
		due := v.pending[0].due
		v.mu.Unlock()
		v.Advance(due.Sub(v.Now()))
	}
}

func (v *Virtual) popDue(target time.Time) *virtualTimer {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.pending) == 0 {
		return nil
	}
	v.sortLocked()
	next := v.pending[0]
	if next.due.After(target) {
		return nil
	}
	v.pending = v.pending[1:]
	if next.due.After(v.now) {
		v.now = next.due
	}
	return next
}

func (v *Virtual) sortLocked() {
	sort.SliceStable(v.pending, func(i, j int) bool {
		if v.pending[i].due.Equal(v.pending[j].due) {
			return v.pending[i].seq < v.pending[j].seq
		}
		return v.pending[i].due.Before(v.pending[j].due)
	})
}
