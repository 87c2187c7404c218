// Package cpu exposes the privileged riscv64 supervisor-mode primitives used
// by the rest of the kernel. On any other architecture the package compiles
// against hosted stand-ins that emulate the relevant CSRs so that the code
// calling into it can be exercised by tests.
package cpu

const (
	// SatpModeSv39 selects the Sv39 translation scheme when written into
	// the mode field of the satp register.
	SatpModeSv39 = uintptr(8) << 60

	// InterruptBit is set in scause when the trap was caused by an
	// interrupt rather than a synchronous exception.
	InterruptBit = uintptr(1) << 63

	// SstatusSPP records the privilege level the hart was running at
	// before entering the trap (1 = supervisor).
	SstatusSPP = uintptr(1) << 8

	// SstatusSPIE holds the value of SIE before the trap was taken; sret
	// copies it back into SIE.
	SstatusSPIE = uintptr(1) << 5
)
