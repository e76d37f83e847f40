// Package waiter implements the tri-state sleep_on/wake_up/wait_exit
// synchronization primitive blocking socket operations (accept, connect,
// read) rely on. See spec §5 "Suspension points".
package waiter

import "sync"

// Waiter lets one or more goroutines block until another signals success
// (WakeUp) or terminal failure (Exit). Once Exit is called, every
// subsequent SleepOn call returns false immediately — Exit is terminal.
// WakeUp is idempotent: a pending notification is consumed by the next
// SleepOn call even if WakeUp happened before SleepOn was entered.
type Waiter struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending bool
	exited  bool
}

// New returns a ready-to-use Waiter.
func New() *Waiter {
	w := &Waiter{}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// SleepOn blocks until WakeUp or Exit is called, or until ready already
// holds true. Returns true on normal wake-up, false if the waiter has
// exited ("reset by peer").
//
// ready, if non-nil, is polled under the waiter's lock before and after
// each wake-up; it lets callers block on "wake me when X becomes true"
// without losing a WakeUp that raced ahead of SleepOn.
func (w *Waiter) SleepOn(ready func() bool) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for {
		if w.exited {
			return false
		}
		if w.pending || (ready != nil && ready()) {
			w.pending = false
			return true
		}
		w.cond.Wait()
	}
}

// WakeUp signals a single waiting (or future) SleepOn call to resume
// normally. Safe to call without a corresponding waiter present.
func (w *Waiter) WakeUp() {
	w.mu.Lock()
	if !w.exited {
		w.pending = true
	}
	w.mu.Unlock()
	w.cond.Broadcast()
}

// Exit puts the waiter into its terminal state: every blocked SleepOn
// returns false immediately, as does every future call.
func (w *Waiter) Exit() {
	w.mu.Lock()
	w.exited = true
	w.mu.Unlock()
	w.cond.Broadcast()
}

// Reset clears exited/pending state, allowing the Waiter to be reused.
// Must only be called when no goroutine is blocked in SleepOn.
func (w *Waiter) Reset() {
	w.mu.Lock()
	w.exited = false
	w.pending = false
	w.mu.Unlock()
}

// Exited reports whether Exit has been called.
func (w *Waiter) Exited() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.exited
}
