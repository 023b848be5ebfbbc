package guard

import (
	"sync"
	"time"
)

// Debouncer implements spec.md §4.3's debounce(fn) combinator: repeated
// calls within the window resolve earlier invocations with a sentinel nil
// result (no hanging promises/goroutines) and only the last call actually
// runs fn. Errors from fn reject only the survivor.
type Debouncer struct {
	window time.Duration

	mu      sync.Mutex
	pending chan struct{} // closed when the current generation resolves
	gen     uint64
}

// NewDebouncer constructs a Debouncer with the given window. A zero or
// negative window disables debouncing (every call runs immediately).
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{window: window}
}

// call is the result handed back to a superseded invocation.
type call struct {
	val any
	err error
}

// Wrap returns a function with the same (any, error) shape as fn, but that
// implements the supersede contract: if Wrap's returned function is invoked
// again before window elapses, the earlier invocation's goroutine resolves
// immediately with (nil, nil) instead of blocking, and only the newest call
// actually executes fn after the window.
func (d *Debouncer) Wrap(fn func() (any, error)) func() (any, error) {
	return func() (any, error) {
		if d.window <= 0 {
			return fn()
		}

		d.mu.Lock()
		if d.pending != nil {
			close(d.pending) // supersede: wake any waiter with the null sentinel
		}
		myGen := d.gen + 1
		d.gen = myGen
		done := make(chan struct{})
		d.pending = done
		d.mu.Unlock()

		timer := time.NewTimer(d.window)
		defer timer.Stop()

		select {
		case <-done:
			// Superseded before the window elapsed: resolve with the null sentinel.
			return nil, nil
		case <-timer.C:
		}

		d.mu.Lock()
		isSurvivor := d.gen == myGen
		if isSurvivor {
			d.pending = nil
		}
		d.mu.Unlock()

		if !isSurvivor {
			// A newer call arrived exactly as our timer fired; let it run.
			return nil, nil
		}

		val, err := fn()

		d.mu.Lock()
		if d.pending == done {
			close(done)
			d.pending = nil
		}
		d.mu.Unlock()

		return val, err
	}
}
