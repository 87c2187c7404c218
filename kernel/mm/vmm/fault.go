package vmm

import (
	"rvkernel/kernel"
	"rvkernel/kernel/gate"
	"rvkernel/kernel/kfmt"
)

var (
	// panicFn is mocked by tests and is automatically inlined by the
	// compiler.
	panicFn = kfmt.Panic

	errUnrecoverableFault = &kernel.Error{Module: "vmm", Message: "page/access fault"}
)

// faultHandler resumes write faults that the shared window can resolve and
// reports every other page or access fault as fatal.
func faultHandler(regs *gate.Registers, cause gate.Cause, faultAddress uintptr) gate.Outcome {
	if resolveWindowFault(cause, faultAddress) {
		return gate.ResumeWith(regs)
	}

	kfmt.Printf("\n%s while accessing address: 0x%16x\nReason: ", cause.String(), faultAddress)

	switch flags, err := faultFlags(faultAddress); {
	case err != nil:
		kfmt.Printf("access to unmapped page (%s)", accessKind(cause))
	case !flags.HasFlags(requiredFlag(cause)):
		kfmt.Printf("page protection violation (%s)", accessKind(cause))
	default:
		kfmt.Printf("spurious fault (%s)", accessKind(cause))
	}

	kfmt.Printf("\n\nRegisters:\n")
	regs.DumpTo(kfmt.ActiveSink)

	panicFn(errUnrecoverableFault)
	return gate.HaltOutcome()
}

// faultFlags looks up the mapping for faultAddress in the active address
// space, or in the shared window before any address space is active.
func faultFlags(faultAddress uintptr) (pageTableEntry, *kernel.Error) {
	if activeSpace == nil {
		if sharedWindow == nil || !sharedWindow.Contains(faultAddress) {
			return 0, ErrInvalidMapping
		}

		_, flags, err := sharedWindow.Lookup(faultAddress)
		return pageTableEntry(flags), err
	}

	flags, err := activeSpace.pageTable.Flags(faultAddress)
	return pageTableEntry(flags), err
}

func accessKind(cause gate.Cause) string {
	switch cause {
	case gate.InstructionPageFault, gate.InstructionAccessFault:
		return "instruction fetch"
	case gate.StorePageFault, gate.StoreAccessFault:
		return "write"
	default:
		return "read"
	}
}

func requiredFlag(cause gate.Cause) PageTableEntryFlag {
	switch cause {
	case gate.InstructionPageFault, gate.InstructionAccessFault:
		return FlagExec
	case gate.StorePageFault, gate.StoreAccessFault:
		return FlagWrite
	default:
		return FlagRead
	}
}
