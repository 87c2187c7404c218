//go:build !riscv64

package cpu

import "sync/atomic"

// Hosted builds keep the CSRs the kernel writes in memory. Reads of the
// trap CSRs return whatever was last stored through SetTrapState.
var (
	satp, stvec, scause, stval uintptr
	tlbFlushes                 uint64
)

// Halt stops instruction execution. There is no hart to stop on a hosted
// build so reaching it is treated as a programming error.
func Halt() {
	panic("cpu: halt")
}

// ActiveSATP returns the current value of the emulated satp register.
func ActiveSATP() uintptr { return satp }

// SwitchSATP installs a new satp value and flushes the whole TLB.
func SwitchSATP(v uintptr) {
	satp = v
	atomic.AddUint64(&tlbFlushes, 1)
}

// FlushTLBEntry flushes the TLB entry for a particular virtual address.
func FlushTLBEntry(_ uintptr) {
	atomic.AddUint64(&tlbFlushes, 1)
}

// SetTrapVector points stvec to the supplied trap entry address.
func SetTrapVector(entry uintptr) { stvec = entry }

// TrapVector returns the emulated stvec value.
func TrapVector() uintptr { return stvec }

// ReadScause returns the value of the emulated scause register.
func ReadScause() uintptr { return scause }

// ReadStval returns the value of the emulated stval register.
func ReadStval() uintptr { return stval }

// SetTrapState loads the emulated scause and stval registers.
func SetTrapState(cause, val uintptr) {
	scause, stval = cause, val
}

// TLBFlushes returns the number of TLB flushes issued so far.
func TLBFlushes() uint64 { return atomic.LoadUint64(&tlbFlushes) }
