// Package vmm builds Sv39 address spaces out of segments backed by physical
// frames and installs the page fault reporters.
package vmm

import (
	"rvkernel/kernel"
	"rvkernel/kernel/gate"
	"rvkernel/kernel/kfmt"
	"rvkernel/kernel/mm/pmm"
)

var (
	// kernelSpace is the address space built by Init.
	kernelSpace *AddressSpace

	// kernelLayout is the layout passed to Init.
	kernelLayout KernelLayout

	// activeSpace is the address space most recently activated.
	activeSpace *AddressSpace

	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	handleExceptionFn = gate.HandleException
	frameAllocatorFn  = func() FrameAllocator { return pmm.Allocator() }

	logWriter = &kfmt.PrefixWriter{Sink: kfmt.ActiveSink, Prefix: []byte("[vmm] ")}
)

// Init builds the kernel address space for the supplied layout, activates it
// and installs the page and access fault handlers.
func Init(layout KernelLayout) *kernel.Error {
	as, err := NewKernelAddressSpace(frameAllocatorFn(), layout)
	if err != nil {
		return err
	}

	as.Activate()
	kernelSpace, kernelLayout = as, layout

	for _, seg := range as.segments {
		kfmt.Fprintf(logWriter, "0x%16x - 0x%16x %s %s\n", seg.Start, seg.End, seg.Type.String(), permString(seg.Flags))
	}

	installFaultHandlers()
	return nil
}

// installFaultHandlers routes page and access faults to faultHandler.
func installFaultHandlers() {
	for _, cause := range [...]gate.Cause{
		gate.InstructionPageFault,
		gate.LoadPageFault,
		gate.StorePageFault,
		gate.InstructionAccessFault,
		gate.LoadAccessFault,
		gate.StoreAccessFault,
	} {
		handleExceptionFn(cause, faultHandler)
	}
}

// KernelSpace returns the address space built by Init.
func KernelSpace() *AddressSpace {
	return kernelSpace
}

// Layout returns the kernel layout passed to Init.
func Layout() KernelLayout {
	return kernelLayout
}

// permString renders the permission bits of flags.
func permString(flags PageTableEntryFlag) string {
	perms := [...]string{"---", "r--", "-w-", "rw-", "--x", "r-x", "-wx", "rwx"}
	return perms[(flags>>1)&7]
}
