// Package sync provides the spinlock used to protect kernel singletons.
package sync

import "sync/atomic"

var (
	// yieldFn is invoked between acquisition attempts. There is only one
	// hart and threads switch only on explicit traps, so by default a
	// contended lock can only be released by a trap handler returning;
	// tests substitute runtime.Gosched.
	yieldFn func()

	// heldLocks counts the spinlocks currently held on this hart.
	heldLocks int32
)

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available.
//
// A Spinlock must never be held across a trap-driven context switch: the
// next thread that needs it would spin forever. The trap layer enforces this
// by checking HeldLocks before restoring a context.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	for !l.TryToAcquire() {
		if yieldFn != nil {
			yieldFn()
		}
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	if atomic.SwapUint32(&l.state, 1) != 0 {
		return false
	}

	atomic.AddInt32(&heldLocks, 1)
	return true
}

// Release relinquishes a held lock allowing other tasks to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	if atomic.SwapUint32(&l.state, 0) == 1 {
		atomic.AddInt32(&heldLocks, -1)
	}
}

// Held returns true if the lock is currently acquired.
func (l *Spinlock) Held() bool {
	return atomic.LoadUint32(&l.state) == 1
}

// HeldLocks returns the number of spinlocks that are currently held.
func HeldLocks() int {
	return int(atomic.LoadInt32(&heldLocks))
}
