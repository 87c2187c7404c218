package gate

import "rvkernel/kernel/cpu"

// Cause is the value of the scause register. The top bit is set for
// interrupts; the remaining bits hold the exception or interrupt code.
type Cause uintptr

// Exception causes.
const (
	InstructionMisaligned  = Cause(0)
	InstructionAccessFault = Cause(1)
	IllegalInstruction     = Cause(2)
	Breakpoint             = Cause(3)
	LoadMisaligned         = Cause(4)
	LoadAccessFault        = Cause(5)
	StoreMisaligned        = Cause(6)
	StoreAccessFault       = Cause(7)
	UserEnvCall            = Cause(8)
	SupervisorEnvCall      = Cause(9)
	InstructionPageFault   = Cause(12)
	LoadPageFault          = Cause(13)
	StorePageFault         = Cause(15)
)

// Interrupt causes.
const (
	SupervisorSoftwareInterrupt = Cause(cpu.InterruptBit | 1)
	SupervisorTimerInterrupt    = Cause(cpu.InterruptBit | 5)
	SupervisorExternalInterrupt = Cause(cpu.InterruptBit | 9)
)

// numCauseCodes bounds the exception and interrupt codes that can have a
// registered handler.
const numCauseCodes = 16

var (
	exceptionNames = [numCauseCodes]string{
		"instruction address misaligned",
		"instruction access fault",
		"illegal instruction",
		"breakpoint",
		"load address misaligned",
		"load access fault",
		"store address misaligned",
		"store access fault",
		"environment call from U-mode",
		"environment call from S-mode",
		"",
		"",
		"instruction page fault",
		"load page fault",
		"",
		"store page fault",
	}

	interruptNames = [numCauseCodes]string{
		1: "supervisor software interrupt",
		5: "supervisor timer interrupt",
		9: "supervisor external interrupt",
	}
)

// IsInterrupt returns true if the cause describes an asynchronous interrupt.
func (c Cause) IsInterrupt() bool {
	return uintptr(c)&cpu.InterruptBit != 0
}

// Code returns the cause with the interrupt bit cleared.
func (c Cause) Code() uintptr {
	return uintptr(c) &^ cpu.InterruptBit
}

// String implements fmt.Stringer for Cause.
func (c Cause) String() string {
	names := &exceptionNames
	if c.IsInterrupt() {
		names = &interruptNames
	}

	if code := c.Code(); code < numCauseCodes && names[code] != "" {
		return names[code]
	}
	return "unknown"
}
