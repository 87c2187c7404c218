//go:build !riscv64

package gate

import "unsafe"

// trapEntry stands in for the assembly trap entry on hosted builds.
func trapEntry() {}

// trapEntryAddr returns the address of trapEntry.
func trapEntryAddr() uintptr {
	fn := trapEntry
	return **(**uintptr)(unsafe.Pointer(&fn))
}

// restore cannot load a register file on a hosted build; reaching it is a
// programming error.
func restore(_ *Registers) {
	panic("gate: restore")
}

// CurrentG returns 0 on hosted builds.
func CurrentG() uintptr { return 0 }

// Yield is a no-op on hosted builds; there is no trap to raise.
func Yield() {}
