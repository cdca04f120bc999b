package sched

import "sync/atomic"

// Flag is a cancellation request shared between a trigger (a bumper press,
// an API call) and the loop that observes it. A raise is consumed by at most
// one loop. A nil *Flag is never raised.
type Flag struct {
	raised atomic.Bool
	raises atomic.Uint64
}

// Raise requests cancellation. Raising an already raised flag is a no-op.
func (f *Flag) Raise() {
	if f == nil {
		return
	}
	if f.raised.CompareAndSwap(false, true) {
		f.raises.Add(1)
	}
}

// Raised reports whether a raise is pending without consuming it.
func (f *Flag) Raised() bool {
	return f != nil && f.raised.Load()
}

// Consume clears a pending raise and reports whether there was one.
func (f *Flag) Consume() bool {
	if f == nil {
		return false
	}
	return f.raised.CompareAndSwap(true, false)
}

// Clear drops any pending raise.
func (f *Flag) Clear() {
	if f == nil {
		return
	}
	f.raised.Store(false)
}

// Raises returns how many distinct raises the flag has seen.
func (f *Flag) Raises() uint64 {
	if f == nil {
		return 0
	}
	return f.raises.Load()
}
