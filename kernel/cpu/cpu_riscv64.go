package cpu

// Halt stops instruction execution. The hart keeps waiting for interrupts
// that, with all sources masked, never arrive.
func Halt()

// ActiveSATP returns the current value of the satp register.
func ActiveSATP() uintptr

// SwitchSATP installs a new satp value and flushes the whole TLB. The write is
// a single csrw instruction so translation never observes a half-installed
// root.
func SwitchSATP(satp uintptr)

// FlushTLBEntry flushes the TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// SetTrapVector points stvec to the supplied trap entry address using direct
// mode.
func SetTrapVector(entry uintptr)

// ReadScause returns the value of the scause register.
func ReadScause() uintptr

// ReadStval returns the value of the stval register.
func ReadStval() uintptr
