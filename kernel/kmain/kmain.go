// Package kmain contains the boot sequence that brings up every kernel
// subsystem and starts the first thread.
package kmain

import (
	"rvkernel/kernel"
	"rvkernel/kernel/config"
	"rvkernel/kernel/gate"
	"rvkernel/kernel/goruntime"
	"rvkernel/kernel/kfmt"
	"rvkernel/kernel/mm/pmm"
	"rvkernel/kernel/mm/vmm"
	"rvkernel/kernel/proc"
	"rvkernel/kernel/sbi"
)

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	setOutputSinkFn   = kfmt.SetOutputSink
	gateInitFn        = gate.Init
	goruntimeInitFn   = goruntime.Init
	pmmInitFn         = pmm.Init
	vmmInitFn         = vmm.Init
	procInitFn        = proc.Init
	selfTestFn        = runSelfTests
	spawnDemoThreadFn = spawnDemoThreads
	launchFn          = proc.Launch
	resumeFn          = gate.Resume
	panicFn           = kfmt.Panic

	logWriter = &kfmt.PrefixWriter{Sink: kfmt.ActiveSink, Prefix: []byte("[kmain] ")}
)

// Kmain is the only Go symbol that is visible (exported) from the rt0
// initialization code. The rt0 code runs with paging disabled, sets up a
// stack and a minimal g0 for the boot hart and then passes the physical
// addresses of the kernel image sections as produced by the linker script.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the CPU.
//
//go:noinline
func Kmain(textStart, rodataStart, dataStart, bssStart, kernelEnd uintptr) {
	setOutputSinkFn(sbi.Console)
	kfmt.Printf("rvkernel: booting\n")

	gateInitFn()

	layout := vmm.KernelLayout{
		TextStart:   textStart,
		RodataStart: rodataStart,
		DataStart:   dataStart,
		BssStart:    bssStart,
		KernelEnd:   kernelEnd,
		MemoryEnd:   config.MemoryEnd,
	}

	var err *kernel.Error
	if err = goruntimeInitFn(); err != nil {
		panicFn(err)
	} else if err = pmmInitFn(kernelEnd, config.MemoryEnd); err != nil {
		panicFn(err)
	} else if err = vmmInitFn(layout); err != nil {
		panicFn(err)
	} else if err = selfTestFn(); err != nil {
		panicFn(err)
	} else if err = spawnDemoThreadFn(); err != nil {
		panicFn(err)
	} else {
		procInitFn()
		resumeFn(launchFn())
	}

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating kfmt.Panic as dead-code and eliminating it.
	panicFn(errKmainReturned)
}
